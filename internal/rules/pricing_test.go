package rules

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/crawlgate/internal/types"
)

func executable(ruleID string, priority int, actions ...types.RuleAction) []types.ExecutableAction {
	return Resolve([]types.PricingRule{newRule(ruleID, priority, nil, actions...)})
}

func TestResolve_Ordering(t *testing.T) {
	high := newRule("high", 100, nil, setPrice(0.10), types.RuleAction{Type: types.ActionLogRequest})
	low := newRule("low", 50, nil, types.RuleAction{Type: types.ActionBlockAccess}, types.RuleAction{Type: types.ActionBlockAccess})

	actions := Resolve([]types.PricingRule{high, low})

	require.Len(t, actions, 4)
	assert.Equal(t, types.RuleID("high"), actions[0].RuleID)
	assert.Equal(t, types.ActionSetPrice, actions[0].Action.Type)
	assert.Equal(t, 1, actions[1].Order)
	assert.Equal(t, types.RuleID("low"), actions[2].RuleID)
	assert.Equal(t, types.ActionBlockAccess, actions[3].Action.Type, "duplicates are kept")
	assert.Equal(t, 50, actions[3].Priority)
}

func TestResolve_SkipsUnknownActions(t *testing.T) {
	rule := newRule("r", 1, nil, types.RuleAction{Type: types.ParseActionType("teleport")}, setPrice(1))
	actions := Resolve([]types.PricingRule{rule})

	require.Len(t, actions, 1)
	assert.Equal(t, 1, actions[0].Order)
}

func TestCalculate(t *testing.T) {
	calc := NewCalculator(DefaultConfig())

	withParams := func(a types.RuleAction, kv ...string) types.RuleAction {
		a.Parameters = types.NewMetadata()
		for i := 0; i+1 < len(kv); i += 2 {
			a.Parameters.Set(kv[i], types.StringValue(kv[i+1]))
		}
		return a
	}

	tests := []struct {
		name      string
		actions   []types.ExecutableAction
		wantNil   bool
		wantPrice float64
		wantBase  float64
		wantCur   string
		wantType  types.PriceType
		wantRule  types.RuleID
		wantDisc  int
	}{
		{
			name:      "set price defaults",
			actions:   executable("a", 1, setPrice(0.05)),
			wantPrice: 0.05, wantBase: 0.05, wantCur: "USD", wantType: types.PricePerRequest, wantRule: "a",
		},
		{
			name: "require payment with params",
			actions: executable("a", 1, withParams(types.RuleAction{Type: types.ActionRequirePayment, Value: types.StringValue("2.5")},
				types.ParamCurrency, "eur", types.ParamPriceType, "PER_MB")),
			wantPrice: 2.5, wantBase: 2.5, wantCur: "EUR", wantType: types.PricePerMB, wantRule: "a",
		},
		{
			name:      "percentage discount",
			actions:   executable("a", 1, setPrice(0.10), discount("percentage", 50)),
			wantPrice: 0.05, wantBase: 0.10, wantCur: "USD", wantType: types.PricePerRequest, wantRule: "a", wantDisc: 1,
		},
		{
			name:      "percentage before fixed",
			actions:   executable("a", 1, setPrice(10), discount("fixed_amount", 2), discount("percentage", 50)),
			wantPrice: 3, wantBase: 10, wantCur: "USD", wantType: types.PricePerRequest, wantRule: "a", wantDisc: 2,
		},
		{
			name:      "floor at zero",
			actions:   executable("a", 1, setPrice(1), discount("fixed", 5)),
			wantPrice: 0, wantBase: 1, wantCur: "USD", wantType: types.PricePerRequest, wantRule: "a", wantDisc: 1,
		},
		{
			name:      "discount before base still counts",
			actions:   executable("a", 1, discount("percentage", 10), setPrice(1)),
			wantPrice: 0.9, wantBase: 1, wantCur: "USD", wantType: types.PricePerRequest, wantRule: "a", wantDisc: 1,
		},
		{
			name:      "malformed discount skipped",
			actions:   executable("a", 1, setPrice(1), discount("percentage", 150), discount("bogus", 10)),
			wantPrice: 1, wantBase: 1, wantCur: "USD", wantType: types.PricePerRequest, wantRule: "a",
		},
		{
			name:      "invalid base skipped",
			actions:   executable("a", 1, types.RuleAction{Type: types.ActionSetPrice, Value: types.StringValue("free")}, setPrice(-1), setPrice(5000), setPrice(0.2)),
			wantPrice: 0.2, wantBase: 0.2, wantCur: "USD", wantType: types.PricePerRequest, wantRule: "a",
		},
		{
			name:    "no base",
			actions: executable("a", 1, types.RuleAction{Type: types.ActionBlockAccess}, discount("percentage", 10)),
			wantNil: true,
		},
		{
			name:    "no actions",
			actions: nil,
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc.Calculate(tt.actions)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, tt.wantPrice, got.Price, 1e-9)
			assert.InDelta(t, tt.wantBase, got.BasePrice, 1e-9)
			assert.Equal(t, tt.wantCur, got.Currency)
			assert.Equal(t, tt.wantType, got.PriceType)
			assert.Equal(t, tt.wantRule, got.RuleID)
			assert.Len(t, got.Discounts, tt.wantDisc)
		})
	}
}

func TestCalculate_HighestPriorityBaseWins(t *testing.T) {
	high := newRule("high", 100, nil, setPrice(0.10))
	low := newRule("low", 50, nil, setPrice(0.02), discount("percentage", 50))

	got := NewCalculator(DefaultConfig()).Calculate(Resolve([]types.PricingRule{high, low}))

	require.NotNil(t, got)
	assert.Equal(t, types.RuleID("high"), got.RuleID)
	assert.InDelta(t, 0.05, got.Price, 1e-9)
	require.Len(t, got.Discounts, 1)
	assert.Equal(t, types.RuleID("low"), got.Discounts[0].RuleID)
}

// Property-based test: discounts never drive the price below zero or above base
func TestApplyDiscounts_PropertyBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("0 <= price <= base", prop.ForAll(
		func(base float64, percents []float64, fixed []float64) bool {
			var ds []types.Discount
			for _, p := range percents {
				ds = append(ds, types.Discount{Type: types.DiscountPercentage, Value: p})
			}
			for _, f := range fixed {
				ds = append(ds, types.Discount{Type: types.DiscountFixedAmount, Value: f})
			}
			price := ApplyDiscounts(base, ds)
			return price >= 0 && price <= base+1e-6
		},
		gen.Float64Range(0, 1000),
		gen.SliceOf(gen.Float64Range(0, 100)),
		gen.SliceOf(gen.Float64Range(0, 2000)),
	))

	properties.TestingRun(t)
}
