// internal/rules/pricing.go
package rules

import (
	"math"
	"strings"

	"github.com/solatis/crawlgate/internal/types"
)

/*
 * Pricing calculation.
 *
 * Scans executable actions in resolver order:
 *   - The first valid set_price or require_payment establishes base price,
 *     currency (parameter "currency", default configured) and price type
 *     (parameter "priceType", default configured). Later ones are ignored.
 *   - Every valid apply_discount from any matched rule becomes a Discount in
 *     encounter order, whether it precedes the base action or follows it.
 *
 * Discount stacking: all percentage discounts multiply first, then all fixed
 * amounts subtract. The result is floored at zero and rounded to 6 decimals.
 *
 * Malformed actions (non-numeric value, price outside [0, MaxPrice],
 * percentage outside [0, 100], negative fixed amount, unknown discount type)
 * are skipped. No base action -> no decision.
 */

const priceScale = 1e6

// Calculator derives a PricingDecision from executable actions.
type Calculator struct {
	DefaultCurrency  string
	DefaultPriceType types.PriceType
	MaxPrice         float64
}

// NewCalculator builds a calculator from engine config.
func NewCalculator(cfg Config) *Calculator {
	pt := types.ParsePriceType(cfg.DefaultPriceType)
	if !pt.Known() {
		pt = types.PricePerRequest
	}
	return &Calculator{
		DefaultCurrency:  strings.ToUpper(cfg.DefaultCurrency),
		DefaultPriceType: pt,
		MaxPrice:         cfg.MaxPrice,
	}
}

// Calculate returns the pricing decision, or nil when no action establishes a price.
func (c *Calculator) Calculate(actions []types.ExecutableAction) *types.PricingDecision {
	var decision *types.PricingDecision
	discounts := []types.Discount{}

	for i := range actions {
		ea := &actions[i]
		switch {
		case ea.Action.Type.EstablishesPrice():
			if decision != nil {
				continue
			}
			if d, ok := c.base(ea); ok {
				decision = d
			}
		case ea.Action.Type == types.ActionApplyDiscount:
			if d, ok := parseDiscount(ea); ok {
				discounts = append(discounts, d)
			}
		}
	}

	if decision == nil {
		return nil
	}
	decision.Discounts = discounts
	decision.Price = ApplyDiscounts(decision.BasePrice, discounts)
	return decision
}

// base parses a price-establishing action.
func (c *Calculator) base(ea *types.ExecutableAction) (*types.PricingDecision, bool) {
	price, ok := ToNumber(ea.Action.Value)
	if !ok || math.IsNaN(price) || price < 0 || (c.MaxPrice > 0 && price > c.MaxPrice) {
		return nil, false
	}

	currency := strings.ToUpper(strings.TrimSpace(ea.Action.Parameters.GetString(types.ParamCurrency)))
	if currency == "" {
		currency = c.DefaultCurrency
	}
	priceType := types.ParsePriceType(ea.Action.Parameters.GetString(types.ParamPriceType))
	if !priceType.Known() {
		priceType = c.DefaultPriceType
	}

	return &types.PricingDecision{
		BasePrice: price,
		Currency:  currency,
		PriceType: priceType,
		RuleID:    ea.RuleID,
	}, true
}

// parseDiscount reads an apply_discount action. discountType defaults to percentage.
func parseDiscount(ea *types.ExecutableAction) (types.Discount, bool) {
	value, ok := ToNumber(ea.Action.Value)
	if !ok || math.IsNaN(value) {
		return types.Discount{}, false
	}

	dt := types.DiscountPercentage
	if raw := ea.Action.Parameters.GetString(types.ParamDiscountType); raw != "" {
		dt = types.ParseDiscountType(raw)
	}

	switch dt {
	case types.DiscountPercentage:
		if value < 0 || value > 100 {
			return types.Discount{}, false
		}
	case types.DiscountFixedAmount:
		if value < 0 {
			return types.Discount{}, false
		}
	default:
		return types.Discount{}, false
	}

	return types.Discount{
		Type:   dt,
		Value:  value,
		Reason: ea.Action.Parameters.GetString(types.ParamReason),
		RuleID: ea.RuleID,
	}, true
}

// ApplyDiscounts applies percentages multiplicatively, then fixed amounts,
// floors at zero and rounds to 6 decimals.
func ApplyDiscounts(base float64, discounts []types.Discount) float64 {
	price := base
	for _, d := range discounts {
		if d.Type == types.DiscountPercentage {
			price *= 1 - d.Value/100
		}
	}
	for _, d := range discounts {
		if d.Type == types.DiscountFixedAmount {
			price -= d.Value
		}
	}
	if price < 0 {
		price = 0
	}
	return math.Round(price*priceScale) / priceScale
}
