package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/solatis/crawlgate/internal/types"
)

// MemoryBackend is an in-process expirable LRU.
type MemoryBackend struct {
	size int
	ttl  time.Duration

	mu        sync.RWMutex
	lru       *expirable.LRU[string, *types.RuleEvaluationResult]
	connected bool
}

// NewMemoryBackend creates a backend holding up to size entries for ttl each.
func NewMemoryBackend(size int, ttl time.Duration) *MemoryBackend {
	return &MemoryBackend{size: size, ttl: ttl}
}

func (b *MemoryBackend) Connect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	// One LRU per backend: its expiry goroutine cannot be stopped, so
	// reconnects reuse it.
	if b.lru == nil {
		b.lru = expirable.NewLRU[string, *types.RuleEvaluationResult](b.size, nil, b.ttl)
	}
	b.connected = true
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, key string) (*types.RuleEvaluationResult, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.connected {
		return nil, false, types.ErrCacheUnavailable
	}
	result, ok := b.lru.Get(key)
	return result, ok, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, result *types.RuleEvaluationResult) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.connected {
		return types.ErrCacheUnavailable
	}
	b.lru.Add(key, result)
	return nil
}

// Close drops all entries. Close is idempotent; Connect may be called again.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		b.lru.Purge()
		b.connected = false
	}
	return nil
}

// Len reports the number of live entries.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.connected {
		return 0
	}
	return b.lru.Len()
}
