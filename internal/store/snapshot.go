package store

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/solatis/crawlgate/internal/types"
)

// Source is any store the snapshot cache can front.
type Source interface {
	ListActiveRules(ctx context.Context, publisherID types.PublisherID) ([]types.PricingRule, error)
}

// SnapshotStore caches each publisher's active rule set for a short TTL and
// collapses concurrent fetches for the same publisher into one. Errors are
// never cached. Returned slices are shared and must not be modified.
type SnapshotStore struct {
	source Source
	lru    *expirable.LRU[types.PublisherID, []types.PricingRule]
	group  singleflight.Group
}

// NewSnapshotStore wraps source. size bounds the number of publishers held.
func NewSnapshotStore(source Source, size int, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{
		source: source,
		lru:    expirable.NewLRU[types.PublisherID, []types.PricingRule](size, nil, ttl),
	}
}

// ListActiveRules serves from the snapshot or fetches from the source.
func (s *SnapshotStore) ListActiveRules(ctx context.Context, publisherID types.PublisherID) ([]types.PricingRule, error) {
	if rules, ok := s.lru.Get(publisherID); ok {
		return rules, nil
	}

	v, err, _ := s.group.Do(string(publisherID), func() (any, error) {
		if rules, ok := s.lru.Get(publisherID); ok {
			return rules, nil
		}
		rules, err := s.source.ListActiveRules(ctx, publisherID)
		if err != nil {
			return nil, err
		}
		s.lru.Add(publisherID, rules)
		return rules, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]types.PricingRule), nil
}

// Invalidate drops the publisher's snapshot so the next call refetches.
func (s *SnapshotStore) Invalidate(publisherID types.PublisherID) {
	s.lru.Remove(publisherID)
}
