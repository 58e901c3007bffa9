package events

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/crawlgate/internal/core/db"
	"github.com/solatis/crawlgate/internal/core/metrics"
	"github.com/solatis/crawlgate/internal/types"
)

var evalTime = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

func testEvent(publisher string, priced bool) types.RuleEvaluationEvent {
	result := types.NoMatch()
	if priced {
		result.Matched = true
		result.MatchedRules = []types.PricingRule{{ID: "gpt", PublisherID: types.PublisherID(publisher)}}
		result.Pricing = &types.PricingDecision{Price: 0.05, BasePrice: 0.05, Currency: "USD", PriceType: types.PricePerRequest, RuleID: "gpt"}
	}
	return types.RuleEvaluationEvent{
		EventID:     types.NewEventID(),
		Timestamp:   evalTime,
		PublisherID: types.PublisherID(publisher),
		Request:     types.CrawlerRequest{Domain: "example.com", BotID: "GPTBot"},
		Result:      result,
	}
}

func openQueries(t *testing.T) *db.Queries {
	t.Helper()
	ctx := context.Background()
	database, err := db.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	_, err = db.MigrateUp(ctx, database, zerolog.Nop())
	require.NoError(t, err)
	q, err := db.LoadQueries(database)
	require.NoError(t, err)
	return q
}

func TestSink_PersistsToDatabaseAndJSONL(t *testing.T) {
	q := openQueries(t)
	dir := filepath.Join(t.TempDir(), "events")

	sink, err := NewSink(Config{BufferSize: 16, Queries: q, JSONLDir: dir}, zerolog.Nop(), nil)
	require.NoError(t, err)

	sink.Publish(testEvent("pub-1", true))
	sink.Publish(testEvent("pub-1", false))
	sink.Publish(testEvent("pub-2", false))
	require.NoError(t, sink.Close())

	var n int
	require.NoError(t, q.Get(context.Background(), "count-evaluation-events", &n, "pub-1"))
	assert.Equal(t, 2, n)

	var row struct {
		Matched  bool     `db:"matched"`
		Price    *float64 `db:"price"`
		Currency *string  `db:"currency"`
	}
	require.NoError(t, q.DB().Get(&row, "SELECT matched, price, currency FROM evaluation_events WHERE publisher_id = 'pub-1' AND matched = 1"))
	require.NotNil(t, row.Price)
	assert.Equal(t, 0.05, *row.Price)
	assert.Equal(t, "USD", *row.Currency)

	f, err := os.Open(filepath.Join(dir, "2026-03-02.jsonl"))
	require.NoError(t, err)
	defer f.Close()
	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		assert.Contains(t, ev, "eventId")
		lines++
	}
	assert.Equal(t, 3, lines)
}

func TestSink_CountsEveryEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewSink(Config{BufferSize: 1}, zerolog.Nop(), metrics.NewMetrics(reg))
	require.NoError(t, err)

	// The writer may drain concurrently; publish far more than it can take.
	for i := 0; i < 10000; i++ {
		sink.Publish(testEvent("pub-1", false))
	}
	require.NoError(t, sink.Close())

	sink.Publish(testEvent("pub-1", false))

	dropped := counterValue(t, reg, "crawlgate_events_dropped_total")
	written := counterValue(t, reg, "crawlgate_events_written_total")
	assert.Equal(t, 10001.0, dropped+written)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestSink_CloseIdempotent(t *testing.T) {
	sink, err := NewSink(Config{BufferSize: 4}, zerolog.Nop(), nil)
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
}

func TestNewSink_RejectsZeroBuffer(t *testing.T) {
	_, err := NewSink(Config{}, zerolog.Nop(), nil)
	assert.Error(t, err)
}

func TestNewEventRow(t *testing.T) {
	degraded := testEvent("pub-1", false)
	degraded.Result.Metadata.Set(types.MetaDegraded, types.BoolValue(true))

	row, err := newEventRow(&degraded)
	require.NoError(t, err)
	assert.True(t, row.Degraded)
	assert.False(t, row.Matched)
	assert.Nil(t, row.Price)

	priced := testEvent("pub-1", true)
	row, err = newEventRow(&priced)
	require.NoError(t, err)
	assert.Equal(t, 1, row.RuleCount)
	require.NotNil(t, row.Currency)
	assert.Equal(t, "USD", *row.Currency)
}

func TestNewEventRow_EventID(t *testing.T) {
	undated := testEvent("pub-1", false)
	undated.Timestamp = time.Time{}

	row, err := newEventRow(&undated)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), row.EvaluatedAt, time.Minute)

	bad := testEvent("pub-1", false)
	bad.EventID = "not-a-uuid"
	_, err = newEventRow(&bad)
	assert.Error(t, err)
}
