// Package cache memoises evaluation results per request fingerprint.
//
// The cache is a performance optimisation only: backend failures degrade to
// direct computation and degraded results are never stored.
package cache

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/solatis/crawlgate/internal/core/metrics"
	"github.com/solatis/crawlgate/internal/types"
)

// Backend is a key/value store with TTL expiry.
type Backend interface {
	Connect(ctx context.Context) error
	Get(ctx context.Context, key string) (*types.RuleEvaluationResult, bool, error)
	Set(ctx context.Context, key string, result *types.RuleEvaluationResult) error
	Close() error
}

// EvaluationCache guarantees at most one in-flight computation per key.
// Results are shared between callers and must be treated as immutable.
type EvaluationCache struct {
	backend Backend
	group   singleflight.Group
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New wraps a backend.
func New(backend Backend, logger zerolog.Logger, m *metrics.Metrics) *EvaluationCache {
	return &EvaluationCache{backend: backend, logger: logger, metrics: m}
}

// Connect establishes the backend connection.
func (c *EvaluationCache) Connect(ctx context.Context) error {
	return c.backend.Connect(ctx)
}

// Close releases the backend connection.
func (c *EvaluationCache) Close() error {
	return c.backend.Close()
}

// GetOrCompute returns the cached result for key or runs compute once for
// all concurrent callers sharing that key.
func (c *EvaluationCache) GetOrCompute(ctx context.Context, key string, compute func() *types.RuleEvaluationResult) *types.RuleEvaluationResult {
	if result, ok := c.lookup(ctx, key); ok {
		c.metrics.CacheResult(metrics.CacheHit)
		return result
	}

	v, _, shared := c.group.Do(key, func() (any, error) {
		// A flight that finished between our lookup and Do may have stored it.
		if result, ok := c.lookup(ctx, key); ok {
			return result, nil
		}

		result := compute()
		if result == nil || result.Degraded() {
			return result, nil
		}
		if err := c.backend.Set(ctx, key, result); err != nil {
			c.metrics.CacheResult(metrics.CacheError)
			c.logger.Warn().Err(err).Str("key", key).Msg("cache store failed")
		}
		return result, nil
	})

	if shared {
		c.logger.Debug().Str("key", key).Msg("joined in-flight evaluation")
	}
	c.metrics.CacheResult(metrics.CacheMiss)
	return v.(*types.RuleEvaluationResult)
}

func (c *EvaluationCache) lookup(ctx context.Context, key string) (*types.RuleEvaluationResult, bool) {
	result, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.metrics.CacheResult(metrics.CacheError)
		c.logger.Warn().Err(err).Str("key", key).Msg("cache lookup failed; computing directly")
		return nil, false
	}
	return result, ok
}
