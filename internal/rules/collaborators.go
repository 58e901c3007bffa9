// internal/rules/collaborators.go
package rules

import (
	"context"
	"time"

	"github.com/solatis/crawlgate/internal/types"
)

/*
 * Collaborator boundaries consumed by the engine.
 *
 * Implementations live outside this package (internal/store, internal/counter,
 * internal/geo, internal/events). Every call that may block takes a context;
 * the engine wraps each one in its own timeout.
 */

// RuleStore returns a publisher's active rules. Read-only to the engine.
type RuleStore interface {
	ListActiveRules(ctx context.Context, publisherID types.PublisherID) ([]types.PricingRule, error)
}

// FrequencyCounter returns the rolling request count for an identity key.
type FrequencyCounter interface {
	GetCount(ctx context.Context, key string, window time.Duration) (int64, error)
}

// GeoLocator maps an IP address to an alpha-2 country code.
type GeoLocator interface {
	Country(ip string) (string, error)
}

// EventSink receives evaluation events. Publish must not block.
type EventSink interface {
	Publish(event types.RuleEvaluationEvent)
	Close() error
}

// IdentityKey returns the counter key for a request: the bot id when present,
// otherwise the client IP. Returns "" when neither is set.
func IdentityKey(req *types.CrawlerRequest) string {
	switch {
	case req.BotID != "":
		return "bot:" + req.BotID
	case req.IPAddress != "":
		return "ip:" + req.IPAddress
	default:
		return ""
	}
}
