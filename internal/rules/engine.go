// internal/rules/engine.go
package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/solatis/crawlgate/internal/cache"
	"github.com/solatis/crawlgate/internal/core/metrics"
	"github.com/solatis/crawlgate/internal/types"
)

/*
 * Rule evaluation orchestration.
 *
 * Evaluation flow:
 *   1. Fetch the publisher's active rules (timeout per attempt, bounded retry)
 *   2. Filter to rules eligible at the context timestamp
 *   3. When every eligible condition reads a fingerprinted field, serve from
 *      the evaluation cache (single flight per fingerprint)
 *   4. Matcher -> Resolver -> Calculator, timed as EvaluationTime
 *   5. Publish the evaluation event (non-blocking) and record metrics
 *
 * Failure policy: only programming errors (not initialised, missing
 * publisher) are returned as errors. A rule-store failure yields a degraded
 * no-match result flagged in metadata; a panic in the pipeline yields the
 * same with reason internal_error. Degraded results are never cached.
 *
 * Concurrency: Evaluate is safe for concurrent use. The cache is the only
 * shared mutable state the engine touches.
 */

const retryDelay = 10 * time.Millisecond

type engineState int

const (
	stateNew engineState = iota
	stateReady
	stateClosed
)

// Engine evaluates crawler requests against publisher pricing rules.
type Engine struct {
	cfg        Config
	store      RuleStore
	cache      *cache.EvaluationCache
	counter    FrequencyCounter
	geo        GeoLocator
	sink       EventSink
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	conditions *ConditionEvaluator
	matcher    *Matcher
	calculator *Calculator

	mu    sync.RWMutex
	state engineState
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithCache enables result caching.
func WithCache(c *cache.EvaluationCache) Option { return func(e *Engine) { e.cache = c } }

// WithCounter supplies the frequency counter for request_frequency/request_count.
func WithCounter(c FrequencyCounter) Option { return func(e *Engine) { e.counter = c } }

// WithGeoLocator supplies IP-to-country lookup for geography conditions.
func WithGeoLocator(g GeoLocator) Option { return func(e *Engine) { e.geo = g } }

// WithEventSink supplies the evaluation event sink.
func WithEventSink(s EventSink) Option { return func(e *Engine) { e.sink = s } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithClock overrides the time source used when a context has no timestamp.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine creates an engine. Initialize must succeed before Evaluate.
func NewEngine(cfg Config, store RuleStore, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		store:  store,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.conditions = NewConditionEvaluator(cfg, e.counter, e.geo, e.logger, e.metrics)
	e.matcher = NewMatcher(e.conditions, e.logger, e.metrics)
	e.calculator = NewCalculator(cfg)
	return e
}

// Initialize validates configuration and connects the cache backend.
// Errors are fatal: the caller must not serve traffic.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case stateReady:
		return nil
	case stateClosed:
		return errors.Wrap(types.ErrNotInitialized, "engine was shut down")
	}

	if err := e.cfg.Validate(); err != nil {
		return err
	}
	if e.store == nil {
		return errors.New("rule store is required")
	}
	if e.cache != nil {
		if err := e.cache.Connect(ctx); err != nil {
			return errors.Wrap(err, "connect evaluation cache")
		}
	}

	e.state = stateReady
	e.logger.Info().
		Bool("cache", e.cache != nil).
		Bool("counter", e.counter != nil).
		Bool("geo", e.geo != nil).
		Bool("events", e.sink != nil).
		Msg("rule engine initialized")
	return nil
}

// Shutdown releases the cache backend and closes the event sink. Idempotent.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == stateClosed {
		return nil
	}
	wasReady := e.state == stateReady
	e.state = stateClosed

	var errs error
	if e.cache != nil && wasReady {
		if err := e.cache.Close(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "close evaluation cache"))
		}
	}
	if e.sink != nil {
		if err := e.sink.Close(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "close event sink"))
		}
	}
	e.logger.Info().Msg("rule engine shut down")
	return errs
}

func (e *Engine) ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == stateReady
}

// Evaluate runs the full pipeline for one request. The returned result is
// always well formed; the error is non-nil only for programming errors.
func (e *Engine) Evaluate(ctx context.Context, execCtx types.RuleExecutionContext) (*types.RuleEvaluationResult, error) {
	if !e.ready() {
		return nil, types.ErrNotInitialized
	}
	if execCtx.PublisherID == "" {
		return nil, types.ErrMissingPublisher
	}
	if execCtx.Timestamp.IsZero() {
		execCtx.Timestamp = e.now()
	}

	result := e.evaluate(ctx, &execCtx)

	e.metrics.ObserveEvaluation(outcome(result), result.EvaluationTime)
	e.publish(&execCtx, result)
	return result, nil
}

// evaluate turns a panic anywhere outside the pipeline (store, retry, cache,
// fingerprint) into a degraded result.
func (e *Engine) evaluate(ctx context.Context, execCtx *types.RuleExecutionContext) (result *types.RuleEvaluationResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("publisher_id", string(execCtx.PublisherID)).
				Str("panic", fmt.Sprint(r)).
				Msg("evaluation panicked; returning degraded result")
			result = degraded(types.ReasonInternalError)
		}
	}()

	rules, err := e.fetchRules(ctx, execCtx.PublisherID)
	if err != nil {
		e.metrics.StoreFailure()
		e.logger.Error().
			Err(err).
			Str("publisher_id", string(execCtx.PublisherID)).
			Msg("rule store unavailable; evaluating as degraded")
		return degraded(types.ReasonRuleStoreUnavailable)
	}

	eligible := make([]types.PricingRule, 0, len(rules))
	for i := range rules {
		if rules[i].Eligible(execCtx.Timestamp) {
			eligible = append(eligible, rules[i])
		}
	}

	compute := func() *types.RuleEvaluationResult { return e.run(ctx, eligible, execCtx) }

	if e.cache == nil || !e.cacheable(eligible) {
		e.metrics.CacheResult(metrics.CacheBypass)
		return compute()
	}

	key, err := cache.Fingerprint(execCtx.PublisherID, &execCtx.Request, execCtx.Timestamp, e.cfg.CacheTimeBucket, ruleSetVersion(eligible))
	if err != nil {
		e.logger.Warn().Err(err).Msg("fingerprint failed; bypassing cache")
		e.metrics.CacheResult(metrics.CacheBypass)
		return compute()
	}
	return e.cache.GetOrCompute(ctx, key, compute)
}

// run executes matcher -> resolver -> calculator. Panics become a degraded result.
func (e *Engine) run(ctx context.Context, rules []types.PricingRule, execCtx *types.RuleExecutionContext) (result *types.RuleEvaluationResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("publisher_id", string(execCtx.PublisherID)).
				Str("panic", fmt.Sprint(r)).
				Msg("evaluation panicked; returning degraded result")
			result = degraded(types.ReasonInternalError)
			result.EvaluationTime = time.Since(start)
		}
	}()

	matched := e.matcher.Match(ctx, rules, execCtx)
	actions := Resolve(matched.Rules)
	pricing := e.calculator.Calculate(actions)

	result = &types.RuleEvaluationResult{
		Matched:      len(matched.Rules) > 0,
		MatchedRules: matched.Rules,
		Actions:      actions,
		Pricing:      pricing,
		Metadata: types.NewMetadata().
			Set(types.MetaRulesEvaluated, types.NumberValue(float64(matched.Evaluated))),
	}
	if matched.Errors > 0 {
		result.Metadata.Set(types.MetaRuleErrors, types.NumberValue(float64(matched.Errors)))
	}
	result.EvaluationTime = time.Since(start)
	return result
}

// fetchRules calls the rule store with a per-attempt timeout and bounded retries.
func (e *Engine) fetchRules(ctx context.Context, publisherID types.PublisherID) ([]types.PricingRule, error) {
	var rules []types.PricingRule
	err := retry.Do(
		func() error {
			var err error
			rules, err = e.listActiveRules(ctx, publisherID)
			return err
		},
		retry.Attempts(uint(e.cfg.RuleStoreAttempts)),
		retry.Delay(retryDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, errors.Mark(err, types.ErrRuleStoreUnavailable)
	}
	return rules, nil
}

// listActiveRules bounds one store call by RuleStoreTimeout even when the
// store ignores its context. A store panic is reported as an error.
func (e *Engine) listActiveRules(ctx context.Context, publisherID types.PublisherID) ([]types.PricingRule, error) {
	actx, cancel := context.WithTimeout(ctx, e.cfg.RuleStoreTimeout)
	defer cancel()

	type reply struct {
		rules []types.PricingRule
		err   error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: errors.Newf("rule store panicked: %v", r)}
			}
		}()
		rules, err := e.store.ListActiveRules(actx, publisherID)
		done <- reply{rules, err}
	}()

	select {
	case r := <-done:
		return r.rules, r.err
	case <-actx.Done():
		return nil, errors.Wrap(actx.Err(), "rule store call")
	}
}

// cacheable reports whether every condition reads only fingerprinted fields.
// Time conditions are covered only when the bucket divides an hour.
func (e *Engine) cacheable(rules []types.PricingRule) bool {
	timeCovered := e.cfg.CacheTimeBucket > 0 && time.Hour%e.cfg.CacheTimeBucket == 0
	for i := range rules {
		for _, cond := range rules[i].Conditions {
			switch cond.Type {
			case types.ConditionBotID, types.ConditionDomain, types.ConditionContentType:
			case types.ConditionTimeOfDay, types.ConditionDayOfWeek:
				if !timeCovered {
					return false
				}
			default:
				return false
			}
		}
	}
	return true
}

func ruleSetVersion(rules []types.PricingRule) []string {
	out := make([]string, len(rules))
	for i := range rules {
		out[i] = string(rules[i].ID) + "@" + rules[i].UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func (e *Engine) publish(execCtx *types.RuleExecutionContext, result *types.RuleEvaluationResult) {
	if e.sink == nil {
		return
	}
	e.sink.Publish(types.RuleEvaluationEvent{
		EventID:     types.NewEventID(),
		Timestamp:   execCtx.Timestamp,
		PublisherID: execCtx.PublisherID,
		Request:     execCtx.Request,
		Result:      result,
	})
}

// Test evaluates one candidate rule against one request without the rule
// store or cache. The rule's active flag and validity window are ignored.
func (e *Engine) Test(ctx context.Context, rule types.PricingRule, req types.CrawlerRequest) types.TestResult {
	execCtx := &types.RuleExecutionContext{
		PublisherID: rule.PublisherID,
		Request:     req,
		Timestamp:   e.now(),
	}

	compiled, err := Compile(&rule)
	if err != nil {
		return types.TestResult{Actions: []types.ExecutableAction{}, Error: err.Error()}
	}
	if !e.conditions.MatchAll(ctx, compiled, execCtx) {
		return types.TestResult{Actions: []types.ExecutableAction{}}
	}

	actions := Resolve([]types.PricingRule{rule})
	return types.TestResult{
		Matched: true,
		Actions: actions,
		Pricing: e.calculator.Calculate(actions),
	}
}

// Validate runs static checks on a rule.
func (e *Engine) Validate(rule types.PricingRule) types.RuleValidationResult {
	return ValidateRule(&rule, e.cfg.MaxPrice, e.now())
}

func degraded(reason string) *types.RuleEvaluationResult {
	r := types.NoMatch()
	r.Metadata.
		Set(types.MetaDegraded, types.BoolValue(true)).
		Set(types.MetaDegradedReason, types.StringValue(reason))
	return r
}

func outcome(r *types.RuleEvaluationResult) string {
	switch {
	case r.Degraded():
		return metrics.OutcomeDegraded
	case r.Matched:
		return metrics.OutcomeMatched
	default:
		return metrics.OutcomeNoMatch
	}
}
