package types

import "time"

// RuleCondition is one predicate over a request field.
type RuleCondition struct {
	Type     ConditionType     `json:"type"`
	Operator ConditionOperator `json:"operator"`
	Value    Scalar            `json:"value"`
}

// RuleAction is one effect applied when its rule matches.
// Parameters carries action-specific options (currency, priceType,
// discountType, reason, statusCode, window).
type RuleAction struct {
	Type       ActionType `json:"type"`
	Value      Scalar     `json:"value"`
	Parameters *Metadata  `json:"parameters,omitempty"`
}

// Action parameter keys.
const (
	ParamCurrency     = "currency"
	ParamPriceType    = "priceType"
	ParamDiscountType = "discountType"
	ParamReason       = "reason"
	ParamStatusCode   = "statusCode"
	ParamWindow       = "window"
)

// PricingRule is a publisher-authored policy. The engine only reads rules.
type PricingRule struct {
	ID          RuleID          `json:"id"`
	PublisherID PublisherID     `json:"publisherId"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Conditions  []RuleCondition `json:"conditions"`
	Actions     []RuleAction    `json:"actions"`
	Priority    int             `json:"priority"`
	IsActive    bool            `json:"isActive"`
	ValidFrom   *time.Time      `json:"validFrom,omitempty"`
	ValidUntil  *time.Time      `json:"validUntil,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Eligible reports whether the rule is active and now falls inside its
// validity window. Absent bounds are unbounded; both bounds are inclusive.
func (r *PricingRule) Eligible(now time.Time) bool {
	if !r.IsActive {
		return false
	}
	return r.WithinWindow(now)
}

// WithinWindow checks only the validity window.
func (r *PricingRule) WithinWindow(now time.Time) bool {
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && now.After(*r.ValidUntil) {
		return false
	}
	return true
}
