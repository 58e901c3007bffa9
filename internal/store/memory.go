package store

import (
	"context"
	"slices"
	"sync"

	"github.com/solatis/crawlgate/internal/types"
)

// MemoryStore holds rules in memory, grouped by publisher. Used by the CLI
// for YAML rule files and by tests.
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[types.PublisherID][]types.PricingRule
}

// NewMemoryStore creates a store seeded with rules.
func NewMemoryStore(rules ...types.PricingRule) *MemoryStore {
	s := &MemoryStore{rules: make(map[types.PublisherID][]types.PricingRule)}
	s.Replace(rules)
	return s
}

// Replace swaps the whole rule set.
func (s *MemoryStore) Replace(rules []types.PricingRule) {
	byPublisher := make(map[types.PublisherID][]types.PricingRule)
	for _, r := range rules {
		byPublisher[r.PublisherID] = append(byPublisher[r.PublisherID], r)
	}

	s.mu.Lock()
	s.rules = byPublisher
	s.mu.Unlock()
}

// ListActiveRules returns a copy of the publisher's active rules.
func (s *MemoryStore) ListActiveRules(_ context.Context, publisherID types.PublisherID) ([]types.PricingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.PricingRule, 0, len(s.rules[publisherID]))
	for _, r := range s.rules[publisherID] {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

// Publishers lists the publishers with at least one rule, sorted.
func (s *MemoryStore) Publishers() []types.PublisherID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.PublisherID, 0, len(s.rules))
	for p := range s.rules {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
