// internal/rules/validate.go
package rules

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/solatis/crawlgate/internal/types"
)

/*
 * Static rule validation for authoring tools.
 *
 * Errors make a rule invalid; warnings and suggestions never do. Nothing here
 * returns a Go error: every finding is a message in RuleValidationResult.
 */

// Messages reported by ValidateRule. Tests and the CLI match on these.
const (
	MsgConditionRequired = "at least one condition required"
	MsgActionRequired    = "at least one action required"
)

// suggestConditionSplit is the condition count above which splitting is suggested.
const suggestConditionSplit = 8

type validation struct {
	result types.RuleValidationResult
}

func (v *validation) errorf(format string, args ...any) {
	v.result.Errors = append(v.result.Errors, fmt.Sprintf(format, args...))
}

func (v *validation) warnf(format string, args ...any) {
	v.result.Warnings = append(v.result.Warnings, fmt.Sprintf(format, args...))
}

func (v *validation) suggestf(format string, args ...any) {
	v.result.Suggestions = append(v.result.Suggestions, fmt.Sprintf(format, args...))
}

// ValidateRule runs static checks on rule. maxPrice bounds price actions; now
// is used for the expired-window warning.
func ValidateRule(rule *types.PricingRule, maxPrice float64, now time.Time) types.RuleValidationResult {
	v := &validation{result: types.RuleValidationResult{
		Errors:      []string{},
		Warnings:    []string{},
		Suggestions: []string{},
	}}

	if strings.TrimSpace(rule.Name) == "" {
		v.warnf("rule has no name")
	}

	v.conditions(rule)
	v.actions(rule, maxPrice)
	v.window(rule, now)

	if !rule.IsActive {
		v.warnf("rule is inactive and will not be evaluated")
	}

	v.result.Valid = len(v.result.Errors) == 0
	return v.result
}

func (v *validation) conditions(rule *types.PricingRule) {
	if len(rule.Conditions) == 0 {
		v.errorf(MsgConditionRequired)
		return
	}
	if len(rule.Conditions) > types.MaxConditionsPerRule {
		v.errorf("too many conditions: %d (max %d)", len(rule.Conditions), types.MaxConditionsPerRule)
	}
	if len(rule.Conditions) > suggestConditionSplit {
		v.suggestf("rule has %d conditions; consider splitting it into narrower rules", len(rule.Conditions))
	}

	type key struct {
		ct    types.ConditionType
		value string
	}
	equals := map[key]bool{}
	notEquals := map[key]bool{}

	for i, cond := range rule.Conditions {
		if !cond.Type.Known() {
			v.errorf("condition %d: unknown condition type", i)
			continue
		}
		if !cond.Operator.Known() {
			v.errorf("condition %d: unknown operator", i)
			continue
		}

		if _, err := CompileCondition(cond); err != nil {
			switch {
			case errors.Is(err, types.ErrInvalidPattern):
				v.errorf("condition %d: invalid regex pattern %q", i, cond.Value.Text())
			case errors.Is(err, types.ErrTooManyInValues):
				v.errorf("condition %d: too many values in set (max %d)", i, types.MaxSetValues)
			default:
				v.errorf("condition %d: %v", i, err)
			}
			continue
		}

		needsValue := cond.Operator != types.OpIsEmpty && cond.Operator != types.OpIsNotEmpty
		if needsValue && cond.Value.IsZero() {
			v.errorf("condition %d: %s requires a value", i, cond.Operator)
			continue
		}

		if operatorFieldType(cond.Operator) == FieldTypeNumeric {
			if _, ok := ToNumber(cond.Value); !ok {
				v.errorf("condition %d: %s requires a numeric value, got %q", i, cond.Operator, cond.Value.Text())
			}
			if !numericCondition(cond.Type) {
				v.warnf("condition %d: %s on %s compares numerically and is false for non-numeric fields", i, cond.Operator, cond.Type)
			}
		}

		if cond.Operator == types.OpIn || cond.Operator == types.OpNotIn {
			if set, _ := parseSet(cond.Type, cond.Value.Text()); len(set) == 0 {
				v.warnf("condition %d: %s set is empty", i, cond.Operator)
			}
		}

		if cond.Type == types.ConditionTimeOfDay && cond.Operator != types.OpIn && cond.Operator != types.OpNotIn {
			if n, ok := ToNumber(cond.Value); ok && (n < 0 || n > 23) {
				v.warnf("condition %d: time_of_day hour %v is outside 0-23", i, n)
			}
		}

		if cond.Type == types.ConditionBotID && cond.Operator == types.OpEquals {
			v.suggestf("condition %d: bot ids often carry version suffixes; consider contains instead of equals", i)
		}

		k := key{cond.Type, normalizeText(cond.Type, cond.Value.Text())}
		switch cond.Operator {
		case types.OpEquals:
			equals[k] = true
		case types.OpNotEquals:
			notEquals[k] = true
		}
	}

	for k := range equals {
		if notEquals[k] {
			v.warnf("contradictory conditions: %s both equals and not_equals %q; rule can never match", k.ct, k.value)
		}
	}
}

func numericCondition(ct types.ConditionType) bool {
	switch ct {
	case types.ConditionTimeOfDay, types.ConditionRequestFrequency, types.ConditionRequestCount:
		return true
	default:
		return false
	}
}

func (v *validation) actions(rule *types.PricingRule, maxPrice float64) {
	if len(rule.Actions) == 0 {
		v.errorf(MsgActionRequired)
		return
	}
	if len(rule.Actions) > types.MaxActionsPerRule {
		v.errorf("too many actions: %d (max %d)", len(rule.Actions), types.MaxActionsPerRule)
	}

	var pricing, blocking bool
	for i, action := range rule.Actions {
		if !action.Type.Known() {
			v.errorf("action %d: unknown action type", i)
			continue
		}
		if err := action.Parameters.Validate(); err != nil {
			v.errorf("action %d: parameters: %v", i, err)
		}

		switch action.Type {
		case types.ActionSetPrice, types.ActionRequirePayment:
			pricing = true
			price, ok := ToNumber(action.Value)
			switch {
			case !ok:
				v.errorf("action %d: %s requires a numeric price, got %q", i, action.Type, action.Value.Text())
			case price < 0 || price > maxPrice:
				v.errorf("action %d: price %v outside [0, %v]", i, price, maxPrice)
			}
			if raw := action.Parameters.GetString(types.ParamPriceType); raw != "" && !types.ParsePriceType(raw).Known() {
				v.errorf("action %d: unknown price type %q", i, raw)
			}
			if cur := action.Parameters.GetString(types.ParamCurrency); cur != "" && len(strings.TrimSpace(cur)) != 3 {
				v.errorf("action %d: currency %q is not a 3-letter code", i, cur)
			}

		case types.ActionApplyDiscount:
			pricing = true
			value, ok := ToNumber(action.Value)
			dt := types.DiscountPercentage
			if raw := action.Parameters.GetString(types.ParamDiscountType); raw != "" {
				dt = types.ParseDiscountType(raw)
			}
			switch {
			case !ok:
				v.errorf("action %d: apply_discount requires a numeric value, got %q", i, action.Value.Text())
			case dt == types.DiscountPercentage && (value < 0 || value > 100):
				v.errorf("action %d: percentage discount %v outside [0, 100]", i, value)
			case dt == types.DiscountFixedAmount && value < 0:
				v.errorf("action %d: fixed discount %v is negative", i, value)
			case !dt.Known():
				v.errorf("action %d: unknown discount type %q", i, action.Parameters.GetString(types.ParamDiscountType))
			}

		case types.ActionBlockAccess:
			blocking = true

		case types.ActionRateLimit:
			if n, ok := ToNumber(action.Value); !ok || n <= 0 {
				v.errorf("action %d: rate_limit requires a positive number, got %q", i, action.Value.Text())
			}

		case types.ActionRedirect:
			u, err := url.Parse(strings.TrimSpace(action.Value.Text()))
			if err != nil || !u.IsAbs() || u.Host == "" {
				v.errorf("action %d: redirect requires an absolute URL, got %q", i, action.Value.Text())
			}

		case types.ActionCustomResponse:
			if raw, ok := action.Parameters.Get(types.ParamStatusCode); ok {
				if code, ok := ToNumber(raw); !ok || code < 100 || code > 599 {
					v.errorf("action %d: statusCode %q is not an HTTP status", i, raw.Text())
				}
			}
		}
	}

	if pricing && blocking {
		v.warnf("rule both prices and blocks access; blocked requests are never charged")
	}
}

func (v *validation) window(rule *types.PricingRule, now time.Time) {
	if rule.ValidFrom != nil && rule.ValidUntil != nil && rule.ValidUntil.Before(*rule.ValidFrom) {
		v.errorf("validUntil %s is before validFrom %s", rule.ValidUntil.Format(time.RFC3339), rule.ValidFrom.Format(time.RFC3339))
		return
	}
	if rule.ValidUntil != nil && now.After(*rule.ValidUntil) {
		v.warnf("validity window ended at %s; rule will not be evaluated", rule.ValidUntil.Format(time.RFC3339))
	}
}
