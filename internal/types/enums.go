package types

import "strings"

/*
 * Closed enums serialised as lower_snake tokens.
 *
 * Every enum reserves its zero value for Unknown. Parsing is case-insensitive
 * ("BOT_ID" and "bot_id" decode to the same variant) and never fails: an
 * unrecognised token decodes to Unknown so a single bad condition or action
 * degrades only its own rule at compile time instead of failing the whole
 * rule set at decode time.
 */

// ConditionType selects which request field a condition reads.
type ConditionType int

const (
	ConditionUnknown ConditionType = iota
	ConditionBotID
	ConditionUserAgent
	ConditionContentType
	ConditionRequestFrequency
	ConditionIPAddress
	ConditionReferer
	ConditionDomain
	ConditionURLPattern
	ConditionTimeOfDay
	ConditionDayOfWeek
	ConditionGeography
	ConditionRequestCount
)

var conditionTypeTokens = []string{
	"unknown",
	"bot_id",
	"user_agent",
	"content_type",
	"request_frequency",
	"ip_address",
	"referer",
	"domain",
	"url_pattern",
	"time_of_day",
	"day_of_week",
	"geography",
	"request_count",
}

// ConditionOperator is the comparison applied to an extracted field.
type ConditionOperator int

const (
	OpUnknown ConditionOperator = iota
	OpEquals
	OpNotEquals
	OpContains
	OpNotContains
	OpStartsWith
	OpEndsWith
	OpGreaterThan
	OpLessThan
	OpGreaterThanOrEqual
	OpLessThanOrEqual
	OpIn
	OpNotIn
	OpRegex
	OpIsEmpty
	OpIsNotEmpty
)

var operatorTokens = []string{
	"unknown",
	"equals",
	"not_equals",
	"contains",
	"not_contains",
	"starts_with",
	"ends_with",
	"greater_than",
	"less_than",
	"greater_than_or_equal",
	"less_than_or_equal",
	"in",
	"not_in",
	"regex",
	"is_empty",
	"is_not_empty",
}

// ActionType is the effect a matched rule requests.
type ActionType int

const (
	ActionUnknown ActionType = iota
	ActionSetPrice
	ActionBlockAccess
	ActionRequirePayment
	ActionRedirect
	ActionRateLimit
	ActionLogRequest
	ActionSendNotification
	ActionApplyDiscount
	ActionRequireAuthentication
	ActionCustomResponse
)

var actionTypeTokens = []string{
	"unknown",
	"set_price",
	"block_access",
	"require_payment",
	"redirect",
	"rate_limit",
	"log_request",
	"send_notification",
	"apply_discount",
	"require_authentication",
	"custom_response",
}

// PriceType is the billing unit of a pricing decision.
type PriceType int

const (
	PriceUnknown PriceType = iota
	PricePerRequest
	PricePerMinute
	PricePerMB
	PriceFlatRate
)

var priceTypeTokens = []string{
	"unknown",
	"per_request",
	"per_minute",
	"per_mb",
	"flat_rate",
}

// DiscountType selects how a discount adjusts the base price.
type DiscountType int

const (
	DiscountUnknown DiscountType = iota
	DiscountPercentage
	DiscountFixedAmount
)

var discountTypeTokens = []string{
	"unknown",
	"percentage",
	"fixed_amount",
}

func tokenOf(tokens []string, i int) string {
	if i < 0 || i >= len(tokens) {
		return tokens[0]
	}
	return tokens[i]
}

func parseToken(tokens []string, s string) int {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, tok := range tokens[1:] {
		if tok == s {
			return i + 1
		}
	}
	return 0
}

// ParseConditionType decodes a token; unrecognised input yields ConditionUnknown.
func ParseConditionType(s string) ConditionType {
	return ConditionType(parseToken(conditionTypeTokens, s))
}

func (c ConditionType) String() string { return tokenOf(conditionTypeTokens, int(c)) }

// Known reports whether c is a recognised variant.
func (c ConditionType) Known() bool { return c > ConditionUnknown && int(c) < len(conditionTypeTokens) }

func (c ConditionType) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *ConditionType) UnmarshalText(b []byte) error {
	*c = ParseConditionType(string(b))
	return nil
}

// ParseOperator decodes a token; unrecognised input yields OpUnknown.
func ParseOperator(s string) ConditionOperator {
	return ConditionOperator(parseToken(operatorTokens, s))
}

func (o ConditionOperator) String() string { return tokenOf(operatorTokens, int(o)) }

// Known reports whether o is a recognised variant.
func (o ConditionOperator) Known() bool { return o > OpUnknown && int(o) < len(operatorTokens) }

func (o ConditionOperator) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *ConditionOperator) UnmarshalText(b []byte) error {
	*o = ParseOperator(string(b))
	return nil
}

// ParseActionType decodes a token; unrecognised input yields ActionUnknown.
func ParseActionType(s string) ActionType {
	return ActionType(parseToken(actionTypeTokens, s))
}

func (a ActionType) String() string { return tokenOf(actionTypeTokens, int(a)) }

// Known reports whether a is a recognised variant.
func (a ActionType) Known() bool { return a > ActionUnknown && int(a) < len(actionTypeTokens) }

// EstablishesPrice reports whether the action can set the base price.
func (a ActionType) EstablishesPrice() bool {
	return a == ActionSetPrice || a == ActionRequirePayment
}

// IsPricing reports whether the action participates in pricing.
func (a ActionType) IsPricing() bool {
	return a.EstablishesPrice() || a == ActionApplyDiscount
}

func (a ActionType) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *ActionType) UnmarshalText(b []byte) error {
	*a = ParseActionType(string(b))
	return nil
}

// ParsePriceType decodes a token; unrecognised input yields PriceUnknown.
func ParsePriceType(s string) PriceType {
	return PriceType(parseToken(priceTypeTokens, s))
}

func (p PriceType) String() string { return tokenOf(priceTypeTokens, int(p)) }

func (p PriceType) Known() bool { return p > PriceUnknown && int(p) < len(priceTypeTokens) }

func (p PriceType) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *PriceType) UnmarshalText(b []byte) error {
	*p = ParsePriceType(string(b))
	return nil
}

// ParseDiscountType decodes a token. "fixed" is accepted as shorthand for fixed_amount.
func ParseDiscountType(s string) DiscountType {
	if strings.EqualFold(strings.TrimSpace(s), "fixed") {
		return DiscountFixedAmount
	}
	return DiscountType(parseToken(discountTypeTokens, s))
}

func (d DiscountType) String() string { return tokenOf(discountTypeTokens, int(d)) }

func (d DiscountType) Known() bool { return d > DiscountUnknown && int(d) < len(discountTypeTokens) }

func (d DiscountType) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *DiscountType) UnmarshalText(b []byte) error {
	*d = ParseDiscountType(string(b))
	return nil
}
