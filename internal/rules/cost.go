// internal/rules/cost.go
package rules

import "github.com/solatis/crawlgate/internal/types"

/*
 * Cost model for condition evaluation.
 *
 * cost = lookup_cost(condition type) + operator_cost * field_type_multiplier
 *
 * Lookup cost reflects where the field comes from: request struct fields are
 * free, content type needs header/URL parsing, geography may hit the GeoIP
 * database, and frequency/count conditions call the counter collaborator.
 * Counter lookups dominate every in-process comparison, so conditions reading
 * them always sort last and short-circuit skips them whenever a cheaper
 * condition in the same rule already failed.
 */

const (
	// Operator base costs
	CostEmpty    = 1
	CostEquals   = 5
	CostNumeric  = 7
	CostSet      = 8
	CostSubstr   = 10
	CostRegex    = 40
	CostFallback = CostEquals

	// Field lookup costs
	CostLookupField   = 1
	CostLookupDerived = 4
	CostLookupGeo     = 512
	CostLookupCounter = 4096

	// Field type multipliers
	MultiplierNumeric = 4
	MultiplierText    = 48
)

// CalculateConditionCost computes the ordering cost of a single condition.
func CalculateConditionCost(ct types.ConditionType, op types.ConditionOperator) int {
	return lookupCost(ct) + operatorCost(op)*typeMultiplier(operatorFieldType(op))
}

func lookupCost(ct types.ConditionType) int {
	switch ct {
	case types.ConditionContentType:
		return CostLookupDerived
	case types.ConditionGeography:
		return CostLookupGeo
	case types.ConditionRequestFrequency, types.ConditionRequestCount:
		return CostLookupCounter
	default:
		return CostLookupField
	}
}

func operatorCost(op types.ConditionOperator) int {
	switch op {
	case types.OpIsEmpty, types.OpIsNotEmpty:
		return CostEmpty
	case types.OpEquals, types.OpNotEquals:
		return CostEquals
	case types.OpGreaterThan, types.OpLessThan, types.OpGreaterThanOrEqual, types.OpLessThanOrEqual:
		return CostNumeric
	case types.OpIn, types.OpNotIn:
		return CostSet
	case types.OpContains, types.OpNotContains, types.OpStartsWith, types.OpEndsWith:
		return CostSubstr
	case types.OpRegex:
		return CostRegex
	default:
		return CostFallback
	}
}

func typeMultiplier(ft FieldType) int {
	if ft == FieldTypeNumeric {
		return MultiplierNumeric
	}
	return MultiplierText
}

// operatorFieldType returns the comparison view an operator needs.
func operatorFieldType(op types.ConditionOperator) FieldType {
	switch op {
	case types.OpGreaterThan, types.OpLessThan, types.OpGreaterThanOrEqual, types.OpLessThanOrEqual:
		return FieldTypeNumeric
	default:
		return FieldTypeText
	}
}
