package rules

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/solatis/crawlgate/internal/types"
)

var testNow = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC) // Monday

func cond(ct types.ConditionType, op types.ConditionOperator, v types.Scalar) types.RuleCondition {
	return types.RuleCondition{Type: ct, Operator: op, Value: v}
}

func setPrice(price float64) types.RuleAction {
	return types.RuleAction{Type: types.ActionSetPrice, Value: types.NumberValue(price)}
}

func discount(kind string, value float64) types.RuleAction {
	return types.RuleAction{
		Type:       types.ActionApplyDiscount,
		Value:      types.NumberValue(value),
		Parameters: types.NewMetadata().Set(types.ParamDiscountType, types.StringValue(kind)),
	}
}

func newRule(id string, priority int, conds []types.RuleCondition, actions ...types.RuleAction) types.PricingRule {
	return types.PricingRule{
		ID:          types.RuleID(id),
		PublisherID: "pub-1",
		Name:        id,
		Conditions:  conds,
		Actions:     actions,
		Priority:    priority,
		IsActive:    true,
		UpdatedAt:   testNow.Add(-time.Hour),
	}
}

func execContext(req types.CrawlerRequest) *types.RuleExecutionContext {
	return &types.RuleExecutionContext{PublisherID: "pub-1", Request: req, Timestamp: testNow}
}

func newTestEvaluator(counter FrequencyCounter, locator GeoLocator) *ConditionEvaluator {
	return NewConditionEvaluator(DefaultConfig(), counter, locator, zerolog.Nop(), nil)
}

// staticStore serves a fixed rule set and counts calls.
type staticStore struct {
	mu    sync.Mutex
	rules []types.PricingRule
	err   error
	delay time.Duration
	calls int
}

func (s *staticStore) ListActiveRules(ctx context.Context, _ types.PublisherID) ([]types.PricingRule, error) {
	s.mu.Lock()
	s.calls++
	rules, err, delay := s.rules, s.err, s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	out := make([]types.PricingRule, len(rules))
	copy(out, rules)
	return out, nil
}

// fixedCounter returns n, or blocks for delay first.
type fixedCounter struct {
	n     int64
	err   error
	delay time.Duration
}

func (c fixedCounter) GetCount(ctx context.Context, _ string, _ time.Duration) (int64, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return c.n, c.err
}

type fixedLocator string

func (l fixedLocator) Country(string) (string, error) { return string(l), nil }

// recordingSink collects published events.
type recordingSink struct {
	mu     sync.Mutex
	events []types.RuleEvaluationEvent
	closed int
}

func (s *recordingSink) Publish(ev types.RuleEvaluationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
