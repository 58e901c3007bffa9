// internal/rules/actions.go
package rules

import "github.com/solatis/crawlgate/internal/types"

// Resolve flattens matched rules into executable actions: rule order as given
// by the matcher, then declaration order within each rule. No deduplication;
// downstream executors decide how repeated actions compose. Actions with an
// unrecognised type are skipped; Order still reflects declaration position.
func Resolve(matched []types.PricingRule) []types.ExecutableAction {
	n := 0
	for i := range matched {
		n += len(matched[i].Actions)
	}

	actions := make([]types.ExecutableAction, 0, n)
	for i := range matched {
		rule := &matched[i]
		for order, action := range rule.Actions {
			if !action.Type.Known() {
				continue
			}
			actions = append(actions, types.ExecutableAction{
				Action:   action,
				RuleID:   rule.ID,
				RuleName: rule.Name,
				Priority: rule.Priority,
				Order:    order,
			})
		}
	}
	return actions
}
