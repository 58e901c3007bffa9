// Package counter tracks rolling request counts per identity key.
package counter

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by a counter after Close.
var ErrClosed = errors.New("counter closed")

const (
	defaultCapacity        = 100000
	defaultCleanupInterval = time.Minute
)

// bucket counts the requests of one wall-clock second.
type bucket struct {
	sec int64
	n   int64
}

// Memory is an in-process rolling counter. Each key keeps one bucket per
// second that saw traffic, in ascending order, so counts are exact at
// one-second resolution and a key holds at most retention/1s buckets.
// A background loop drops buckets older than the retention period and
// removes empty keys.
type Memory struct {
	mu        sync.RWMutex
	hits      map[string][]bucket
	retention time.Duration
	capacity  int
	now       func() time.Time
	logger    zerolog.Logger

	stop   chan struct{}
	done   chan struct{}
	closed bool
}

// Option configures a Memory counter.
type Option func(*Memory)

// WithCapacity bounds the number of tracked keys. New keys beyond it are not recorded.
func WithCapacity(n int) Option { return func(m *Memory) { m.capacity = n } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(m *Memory) { m.now = now } }

// NewMemory creates a counter retaining hits for retention and starts its
// cleanup loop. Call Close to stop it.
func NewMemory(retention time.Duration, logger zerolog.Logger, opts ...Option) *Memory {
	m := &Memory{
		hits:      make(map[string][]bucket),
		retention: retention,
		capacity:  defaultCapacity,
		now:       time.Now,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.cleanupLoop(defaultCleanupInterval)
	return m
}

// Record counts one request for key at the current time.
func (m *Memory) Record(key string) {
	if key == "" {
		return
	}
	sec := m.now().Unix()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	bs, ok := m.hits[key]
	if !ok && len(m.hits) >= m.capacity {
		m.logger.Debug().Str("key", key).Int("capacity", m.capacity).Msg("counter full; request not recorded")
		return
	}
	// Clock skew can hand us an earlier second; fold it into the newest bucket.
	if n := len(bs); n > 0 && sec <= bs[n-1].sec {
		bs[n-1].n++
		return
	}
	m.hits[key] = append(bs, bucket{sec: sec, n: 1})
}

// GetCount returns the number of requests recorded for key within window of
// now, at one-second resolution.
func (m *Memory) GetCount(ctx context.Context, key string, window time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	since := m.now().Add(-window).Unix()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}

	bs := m.hits[key]
	var total int64
	for i := sort.Search(len(bs), func(i int) bool { return bs[i].sec > since }); i < len(bs); i++ {
		total += bs[i].n
	}
	return total, nil
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hits)
}

// Close stops the cleanup loop and drops all counts. Idempotent.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.hits = nil
	m.mu.Unlock()

	close(m.stop)
	<-m.done
	return nil
}

func (m *Memory) cleanupLoop(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.prune()
		case <-m.stop:
			return
		}
	}
}

// prune drops buckets older than the retention period.
func (m *Memory) prune() {
	cutoff := m.now().Add(-m.retention).Unix()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, bs := range m.hits {
		i := sort.Search(len(bs), func(i int) bool { return bs[i].sec > cutoff })
		switch {
		case i == len(bs):
			delete(m.hits, key)
			removed++
		case i > 0:
			m.hits[key] = append(bs[:0:0], bs[i:]...)
		}
	}

	if removed > 0 {
		m.logger.Debug().Int("removed", removed).Int("keys", len(m.hits)).Msg("pruned idle counter keys")
	}
}
