// internal/rules/operators.go
package rules

import (
	"net/netip"
	"strings"

	"github.com/solatis/crawlgate/internal/types"
)

/*
 * Operator comparison logic.
 *
 * Implements 15 comparison operators. The condition side is pre-parsed by
 * CompileCondition; the field side is the raw extracted Scalar.
 *
 * Operators:
 *   - is_empty/is_not_empty: Presence checks (cost 1)
 *   - equals/not_equals: Numeric when both sides parse as numbers, otherwise
 *     case-insensitive text; CIDR prefix containment for ip_address (cost 5)
 *   - greater_than/less_than/*_or_equal: Numeric only (cost 7)
 *   - in/not_in: Membership with equals semantics (cost 8)
 *   - contains/not_contains/starts_with/ends_with: Case-insensitive substring
 *     matching (cost 10)
 *   - regex: Case-insensitive RE2 match (cost 40)
 *
 * Empty field: every operator except is_empty and the equality family is
 * false. not_equals and not_in still hold for an empty field because it is
 * not equal to any non-empty value.
 *
 * Non-numeric input to a numeric comparison evaluates false rather than
 * erroring, so a malformed field never fails a whole rule.
 */

// Compare applies the condition's operator to the extracted field value.
func Compare(field types.Scalar, cond *CompiledCondition) bool {
	raw := field.Text()
	empty := strings.TrimSpace(raw) == ""

	switch cond.Operator {
	case types.OpIsEmpty:
		return empty
	case types.OpIsNotEmpty:
		return !empty
	case types.OpEquals:
		return compareEqual(cond.Type, field, cond.value)
	case types.OpNotEquals:
		return !compareEqual(cond.Type, field, cond.value)
	case types.OpIn:
		return compareIn(cond.Type, field, cond.set)
	case types.OpNotIn:
		return !compareIn(cond.Type, field, cond.set)
	}

	if empty {
		return false
	}

	text := strings.ToLower(raw)
	switch cond.Operator {
	case types.OpContains:
		return strings.Contains(text, cond.value.text)
	case types.OpNotContains:
		return !strings.Contains(text, cond.value.text)
	case types.OpStartsWith:
		return strings.HasPrefix(text, cond.value.text)
	case types.OpEndsWith:
		return strings.HasSuffix(text, cond.value.text)
	case types.OpRegex:
		return cond.pattern != nil && cond.pattern.MatchString(raw)
	}

	c, ok := compareNumeric(field, cond.value)
	if !ok {
		return false
	}
	switch cond.Operator {
	case types.OpGreaterThan:
		return c > 0
	case types.OpLessThan:
		return c < 0
	case types.OpGreaterThanOrEqual:
		return c >= 0
	case types.OpLessThanOrEqual:
		return c <= 0
	default:
		return false
	}
}

// compareEqual performs equality with numeric and CIDR awareness.
func compareEqual(ct types.ConditionType, field types.Scalar, target setEntry) bool {
	if target.isCIDR {
		addr, err := netip.ParseAddr(strings.TrimSpace(field.Text()))
		return err == nil && target.prefix.Contains(addr.Unmap())
	}
	if target.numeric {
		if n, ok := ToNumber(field); ok {
			return n == target.number
		}
	}
	return normalizeText(ct, field.Text()) == target.text
}

// compareNumeric performs three-way numeric comparison (-1/0/1).
// ok is false when either side is not numeric.
func compareNumeric(field types.Scalar, target setEntry) (int, bool) {
	n, ok := ToNumber(field)
	if !ok || !target.numeric {
		return 0, false
	}
	switch {
	case n < target.number:
		return -1, true
	case n > target.number:
		return 1, true
	default:
		return 0, true
	}
}

// compareIn checks membership using equality semantics.
func compareIn(ct types.ConditionType, field types.Scalar, set []setEntry) bool {
	for _, entry := range set {
		if compareEqual(ct, field, entry) {
			return true
		}
	}
	return false
}
