// Package events persists rule evaluation events asynchronously.
//
// Publish never blocks the evaluation path: events go to a bounded channel
// and are dropped (and counted) when it is full. A single writer goroutine
// drains the channel in batches into the evaluation_events table and,
// best-effort, into daily JSONL files. The database is the source of truth;
// JSONL is a debugging aid and may contain events whose insert failed.
package events

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/solatis/crawlgate/internal/core/db"
	"github.com/solatis/crawlgate/internal/core/metrics"
	"github.com/solatis/crawlgate/internal/types"
)

const (
	batchSize     = 100
	batchInterval = time.Second
	writeTimeout  = 5 * time.Second
)

// Config selects the sink's destinations.
type Config struct {
	// BufferSize is the channel capacity; events beyond it are dropped.
	BufferSize int
	// Queries enables database persistence when non-nil.
	Queries *db.Queries
	// JSONLDir enables daily JSONL files under JSONLDir when non-empty.
	JSONLDir string
}

// Sink is the asynchronous event writer.
type Sink struct {
	queries *db.Queries
	jsonl   *jsonlWriter
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	ch     chan types.RuleEvaluationEvent
	closed bool
	done   chan struct{}
}

// NewSink creates the sink and starts its writer goroutine.
func NewSink(cfg Config, logger zerolog.Logger, m *metrics.Metrics) (*Sink, error) {
	if cfg.BufferSize <= 0 {
		return nil, errors.Newf("event buffer size must be positive, got %d", cfg.BufferSize)
	}

	s := &Sink{
		queries: cfg.Queries,
		logger:  logger,
		metrics: m,
		ch:      make(chan types.RuleEvaluationEvent, cfg.BufferSize),
		done:    make(chan struct{}),
	}
	if cfg.JSONLDir != "" {
		if err := os.MkdirAll(cfg.JSONLDir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create events directory")
		}
		s.jsonl = &jsonlWriter{dir: cfg.JSONLDir}
	}

	go s.run()
	return s, nil
}

// Publish enqueues ev without blocking. Dropped when the buffer is full or
// the sink is closed.
func (s *Sink) Publish(ev types.RuleEvaluationEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.metrics.EventDropped()
		return
	}
	select {
	case s.ch <- ev:
	default:
		s.metrics.EventDropped()
		s.logger.Warn().Str("event_id", string(ev.EventID)).Msg("event buffer full; dropping event")
	}
}

// Close stops accepting events, flushes what is buffered and waits for the
// writer to finish. Idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	<-s.done
	if s.jsonl != nil {
		return s.jsonl.Close()
	}
	return nil
}

func (s *Sink) run() {
	defer close(s.done)

	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	batch := make([]types.RuleEvaluationEvent, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.write(batch)
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-s.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *Sink) write(batch []types.RuleEvaluationEvent) {
	rows := make([]eventRow, 0, len(batch))
	for i := range batch {
		row, err := newEventRow(&batch[i])
		if err != nil {
			s.logger.Error().Err(err).Str("event_id", string(batch[i].EventID)).Msg("encode event")
			continue
		}
		rows = append(rows, row)
	}

	if s.jsonl != nil {
		if err := s.jsonl.Write(rows); err != nil {
			s.logger.Warn().Err(err).Msg("jsonl write failed")
		}
	}

	if s.queries == nil {
		for range rows {
			s.metrics.EventWritten()
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.insert(ctx, rows); err != nil {
		s.logger.Error().Err(err).Int("events", len(rows)).Msg("persist evaluation events")
		return
	}
	for range rows {
		s.metrics.EventWritten()
	}
}

func (s *Sink) insert(ctx context.Context, rows []eventRow) error {
	tx, err := s.queries.DB().BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range rows {
		if _, err := s.queries.ExecTx(ctx, tx, "insert-evaluation-event",
			r.EventID, r.PublisherID, r.EvaluatedAt, r.Matched, r.Degraded, r.RuleCount, r.Price, r.Currency, string(r.Payload),
		); err != nil {
			return errors.Wrapf(err, "insert event %s", r.EventID)
		}
	}
	return tx.Commit()
}

// jsonlWriter appends events to <dir>/YYYY-MM-DD.jsonl, keyed by evaluation date.
// Only the writer goroutine calls Write.
type jsonlWriter struct {
	dir  string
	day  string
	file *os.File
}

func (w *jsonlWriter) Write(rows []eventRow) error {
	for _, r := range rows {
		day := r.EvaluatedAt.UTC().Format("2006-01-02")
		if err := w.rotate(day); err != nil {
			return err
		}
		line := append(r.Payload, '\n')
		if _, err := w.file.Write(line); err != nil {
			return errors.Wrap(err, "append event")
		}
	}
	return nil
}

func (w *jsonlWriter) rotate(day string) error {
	if w.file != nil && w.day == day {
		return nil
	}
	if err := w.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(w.dir, day+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "open jsonl file")
	}
	w.file, w.day = f, day
	return nil
}

func (w *jsonlWriter) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// eventRow mirrors the evaluation_events table.
type eventRow struct {
	EventID     string
	PublisherID string
	EvaluatedAt time.Time
	Matched     bool
	Degraded    bool
	RuleCount   int
	Price       *float64
	Currency    *string
	Payload     json.RawMessage
}

// newEventRow rejects events whose id is not a UUID. A zero timestamp falls
// back to the time embedded in the UUIDv7 id.
func newEventRow(ev *types.RuleEvaluationEvent) (eventRow, error) {
	id, err := types.ParseEventID(string(ev.EventID))
	if err != nil {
		return eventRow{}, errors.Wrapf(err, "event id %q", ev.EventID)
	}
	evaluatedAt := ev.Timestamp
	if evaluatedAt.IsZero() {
		evaluatedAt = types.EventIDTime(id)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return eventRow{}, err
	}
	row := eventRow{
		EventID:     string(id),
		PublisherID: string(ev.PublisherID),
		EvaluatedAt: evaluatedAt.UTC(),
		Payload:     payload,
	}
	if r := ev.Result; r != nil {
		row.Matched = r.Matched
		row.Degraded = r.Degraded()
		row.RuleCount = len(r.MatchedRules)
		if r.Pricing != nil {
			price, currency := r.Pricing.Price, r.Pricing.Currency
			row.Price, row.Currency = &price, &currency
		}
	}
	return row, nil
}
