// internal/rules/matcher.go
package rules

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/solatis/crawlgate/internal/core/metrics"
	"github.com/solatis/crawlgate/internal/types"
)

/*
 * Rule matching.
 *
 * Matching flow:
 *   1. Eligibility: active and timestamp within [validFrom, validUntil]
 *   2. Compile (cost-ordered conditions); compile errors are logged, counted
 *      and the rule is treated as non-matching
 *   3. Conjunction of all conditions with short-circuit
 *   4. Order survivors by priority descending, then rule id ascending
 *
 * A single rule's failure never propagates: a rule set with one malformed
 * rule still evaluates every other rule.
 */

// Matcher selects matching rules from a publisher's rule collection.
type Matcher struct {
	conditions *ConditionEvaluator
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// NewMatcher creates a matcher over the given condition evaluator.
func NewMatcher(conditions *ConditionEvaluator, logger zerolog.Logger, m *metrics.Metrics) *Matcher {
	return &Matcher{conditions: conditions, logger: logger, metrics: m}
}

// MatchOutcome is the matcher's result plus observability counts.
type MatchOutcome struct {
	Rules     []types.PricingRule // ordered by priority desc, id asc
	Evaluated int                 // eligible rules considered
	Errors    int                 // eligible rules skipped on compile error
}

// Match returns the eligible rules whose conditions all hold.
func (m *Matcher) Match(ctx context.Context, rules []types.PricingRule, execCtx *types.RuleExecutionContext) MatchOutcome {
	out := MatchOutcome{Rules: []types.PricingRule{}}

	for i := range rules {
		rule := &rules[i]
		if !rule.Eligible(execCtx.Timestamp) {
			continue
		}
		out.Evaluated++

		compiled, err := Compile(rule)
		if err != nil {
			if !errors.Is(err, types.ErrEmptyConditions) {
				out.Errors++
				m.metrics.RuleError(string(execCtx.PublisherID))
				m.logger.Warn().
					Err(err).
					Str("publisher_id", string(execCtx.PublisherID)).
					Str("rule_id", string(rule.ID)).
					Msg("rule skipped: compile failed")
			}
			continue
		}

		if m.conditions.MatchAll(ctx, compiled, execCtx) {
			out.Rules = append(out.Rules, *rule)
		}
	}

	SortRules(out.Rules)
	return out
}

// SortRules orders rules by priority descending, then id ascending.
func SortRules(rules []types.PricingRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}
