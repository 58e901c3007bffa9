package types

import "time"

// Result metadata keys.
const (
	MetaDegraded       = "degraded"
	MetaDegradedReason = "degradedReason"
	MetaRulesEvaluated = "rulesEvaluated"
	MetaRuleErrors     = "ruleErrors"
)

// Degraded reasons.
const (
	ReasonRuleStoreUnavailable = "rule_store_unavailable"
	ReasonInternalError        = "internal_error"
)

// ExecutableAction is a resolved action tagged with its originating rule.
type ExecutableAction struct {
	Action   RuleAction `json:"action"`
	RuleID   RuleID     `json:"ruleId"`
	RuleName string     `json:"ruleName"`
	Priority int        `json:"priority"`
	// Order is the position of the action in its rule's declaration.
	Order int `json:"order"`
}

// Discount is one price adjustment on a PricingDecision.
type Discount struct {
	Type   DiscountType `json:"type"`
	Value  float64      `json:"value"`
	Reason string       `json:"reason,omitempty"`
	RuleID RuleID       `json:"ruleId"`
}

// PricingDecision is the final monetary outcome of an evaluation.
type PricingDecision struct {
	Price     float64    `json:"price"`
	BasePrice float64    `json:"basePrice"`
	Currency  string     `json:"currency"`
	PriceType PriceType  `json:"priceType"`
	RuleID    RuleID     `json:"ruleId"`
	Discounts []Discount `json:"discounts"`
}

// RuleEvaluationResult is the outcome of one evaluation. Never mutated after
// it is returned; cached results are shared between callers.
type RuleEvaluationResult struct {
	Matched        bool               `json:"matched"`
	MatchedRules   []PricingRule      `json:"matchedRules"`
	Actions        []ExecutableAction `json:"actions"`
	Pricing        *PricingDecision   `json:"pricing,omitempty"`
	EvaluationTime time.Duration      `json:"evaluationTime"`
	Metadata       *Metadata          `json:"metadata,omitempty"`
}

// Degraded reports whether the result was produced without the full rule set.
func (r *RuleEvaluationResult) Degraded() bool {
	return r.Metadata.GetBool(MetaDegraded)
}

// NoMatch returns a well-formed empty result.
func NoMatch() *RuleEvaluationResult {
	return &RuleEvaluationResult{
		MatchedRules: []PricingRule{},
		Actions:      []ExecutableAction{},
		Metadata:     NewMetadata(),
	}
}

// TestResult is the outcome of evaluating one candidate rule against one request.
type TestResult struct {
	Matched bool               `json:"matched"`
	Actions []ExecutableAction `json:"actions"`
	Pricing *PricingDecision   `json:"pricing,omitempty"`
	// Error explains why the rule could not be compiled, when it could not.
	Error string `json:"error,omitempty"`
}

// RuleValidationResult reports static checks on a rule.
type RuleValidationResult struct {
	Valid       bool     `json:"valid"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
}

// RuleEvaluationEvent is published after each evaluation.
type RuleEvaluationEvent struct {
	EventID     EventID               `json:"eventId"`
	Timestamp   time.Time             `json:"timestamp"`
	PublisherID PublisherID           `json:"publisherId"`
	Request     CrawlerRequest        `json:"request"`
	Result      *RuleEvaluationResult `json:"result"`
}
