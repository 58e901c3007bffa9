package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/solatis/crawlgate/internal/types"
)

func TestCompile_SimpleRule(t *testing.T) {
	rule := newRule("rule-001", 10, []types.RuleCondition{
		cond(types.ConditionBotID, types.OpContains, types.StringValue("GPT")),
	}, setPrice(0.05))

	compiled, err := Compile(&rule)
	if err != nil {
		t.Fatalf("Compile() error = %v, want nil", err)
	}
	if compiled.Rule.ID != "rule-001" {
		t.Errorf("Rule.ID = %v, want %v", compiled.Rule.ID, "rule-001")
	}
	if len(compiled.Conditions) != 1 {
		t.Fatalf("len(Conditions) = %v, want 1", len(compiled.Conditions))
	}
}

func TestCompile_CostOrdering(t *testing.T) {
	rule := newRule("rule-002", 10, []types.RuleCondition{
		cond(types.ConditionRequestFrequency, types.OpGreaterThan, types.NumberValue(10)),
		cond(types.ConditionUserAgent, types.OpRegex, types.StringValue("bot.*")),
		cond(types.ConditionGeography, types.OpEquals, types.StringValue("US")),
		cond(types.ConditionBotID, types.OpIsNotEmpty, types.Scalar{}),
	}, setPrice(1))

	compiled, err := Compile(&rule)
	if err != nil {
		t.Fatalf("Compile() error = %v, want nil", err)
	}

	want := []types.ConditionType{
		types.ConditionBotID,
		types.ConditionGeography,
		types.ConditionUserAgent,
		types.ConditionRequestFrequency,
	}
	for i, c := range compiled.Conditions {
		if c.Type != want[i] {
			t.Errorf("Conditions[%d].Type = %v, want %v", i, c.Type, want[i])
		}
		if i > 0 && c.Cost < compiled.Conditions[i-1].Cost {
			t.Errorf("Conditions[%d].Cost = %d < previous %d", i, c.Cost, compiled.Conditions[i-1].Cost)
		}
	}
}

func TestCompile_StableSortPreservesOrder(t *testing.T) {
	rule := newRule("rule-003", 10, []types.RuleCondition{
		cond(types.ConditionDomain, types.OpEquals, types.StringValue("a.com")),
		cond(types.ConditionBotID, types.OpEquals, types.StringValue("b")),
		cond(types.ConditionReferer, types.OpEquals, types.StringValue("c")),
	}, setPrice(1))

	compiled, err := Compile(&rule)
	if err != nil {
		t.Fatalf("Compile() error = %v, want nil", err)
	}
	for i, c := range compiled.Conditions {
		if c.Index != i {
			t.Errorf("Conditions[%d].Index = %d, want %d", i, c.Index, i)
		}
	}
}

func TestCompile_Errors(t *testing.T) {
	manyValues := strings.Repeat("x,", types.MaxSetValues+1)
	manyConds := make([]types.RuleCondition, types.MaxConditionsPerRule+1)
	for i := range manyConds {
		manyConds[i] = cond(types.ConditionBotID, types.OpIsNotEmpty, types.Scalar{})
	}

	tests := []struct {
		name    string
		conds   []types.RuleCondition
		wantErr error
	}{
		{"no conditions", nil, types.ErrEmptyConditions},
		{"too many conditions", manyConds, types.ErrTooManyConditions},
		{"unknown type", []types.RuleCondition{cond(types.ConditionUnknown, types.OpEquals, types.StringValue("x"))}, types.ErrUnknownConditionType},
		{"unknown operator", []types.RuleCondition{cond(types.ConditionBotID, types.OpUnknown, types.StringValue("x"))}, types.ErrInvalidOperator},
		{"too many set values", []types.RuleCondition{cond(types.ConditionBotID, types.OpIn, types.StringValue(manyValues))}, types.ErrTooManyInValues},
		{"invalid regex", []types.RuleCondition{cond(types.ConditionUserAgent, types.OpRegex, types.StringValue("(unclosed"))}, types.ErrInvalidPattern},
		{"pattern too long", []types.RuleCondition{cond(types.ConditionUserAgent, types.OpRegex, types.StringValue(strings.Repeat("a", types.MaxPatternLength+1)))}, types.ErrInvalidPattern},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := newRule("r", 1, tt.conds, setPrice(1))
			_, err := Compile(&rule)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Compile() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCompilePattern_Memoised(t *testing.T) {
	a, err := compilePattern("^gpt")
	if err != nil {
		t.Fatalf("compilePattern() error = %v, want nil", err)
	}
	b, err := compilePattern("^gpt")
	if err != nil {
		t.Fatalf("compilePattern() error = %v, want nil", err)
	}
	if a != b {
		t.Errorf("compilePattern() returned distinct regexps for the same source")
	}
}
