// internal/rules/condition.go
package rules

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/solatis/crawlgate/internal/core/metrics"
	"github.com/solatis/crawlgate/internal/types"
)

/*
 * Condition evaluation.
 *
 * Per condition: extract field by type -> compare with operator. Evaluation
 * never returns an error; anything that cannot be evaluated (unavailable
 * counter, unparseable number, failed compile) is false.
 *
 * AND semantics within a rule with short-circuit on the first false
 * condition. Cost ordering from compilation maximises the short-circuit
 * benefit: counter lookups run only when every cheaper condition held.
 */

// ConditionEvaluator evaluates conditions against an execution context.
// Safe for concurrent use; it holds only read-only collaborators.
type ConditionEvaluator struct {
	counter         FrequencyCounter
	geo             GeoLocator
	counterTimeout  time.Duration
	frequencyWindow time.Duration
	countWindow     time.Duration
	logger          zerolog.Logger
	metrics         *metrics.Metrics
}

// NewConditionEvaluator creates an evaluator. counter and locator may be nil.
func NewConditionEvaluator(cfg Config, counter FrequencyCounter, locator GeoLocator, logger zerolog.Logger, m *metrics.Metrics) *ConditionEvaluator {
	return &ConditionEvaluator{
		counter:         counter,
		geo:             locator,
		counterTimeout:  cfg.CounterTimeout,
		frequencyWindow: cfg.FrequencyWindow,
		countWindow:     cfg.CountWindow,
		logger:          logger,
		metrics:         m,
	}
}

// Evaluate checks one compiled condition.
func (e *ConditionEvaluator) Evaluate(ctx context.Context, cond *CompiledCondition, execCtx *types.RuleExecutionContext) bool {
	field, ok := e.extract(ctx, cond.Type, execCtx)
	if !ok {
		return false
	}
	return Compare(field, cond)
}

// EvaluateCondition compiles and checks a raw condition. Compile errors yield false.
func (e *ConditionEvaluator) EvaluateCondition(ctx context.Context, cond types.RuleCondition, execCtx *types.RuleExecutionContext) bool {
	cc, err := CompileCondition(cond)
	if err != nil {
		return false
	}
	return e.Evaluate(ctx, &cc, execCtx)
}

// MatchAll reports whether every condition of the rule holds.
// A rule without conditions never matches.
func (e *ConditionEvaluator) MatchAll(ctx context.Context, rule *CompiledRule, execCtx *types.RuleExecutionContext) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	for i := range rule.Conditions {
		if !e.Evaluate(ctx, &rule.Conditions[i], execCtx) {
			return false
		}
	}
	return true
}
