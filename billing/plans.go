package billing

import "billing-backend/config"

// Plans is the static plan -> Stripe price mapping. The price ids come from
// the environment; plan ids are fixed.
type Plans struct {
	prices map[string]string
}

func NewPlans(cfg config.StripeConfig) *Plans {
	return &Plans{prices: map[string]string{
		"basic": cfg.PriceBasic,
		"pro":   cfg.PricePro,
	}}
}

func (p *Plans) PriceID(planID string) (string, bool) {
	priceID, ok := p.prices[planID]
	return priceID, ok
}

// NameByPriceID is the reverse lookup used by the subscription projection.
// Returns "" when the price id matches no known plan.
func (p *Plans) NameByPriceID(priceID string) string {
	for name, id := range p.prices {
		if id == priceID {
			return name
		}
	}
	return ""
}
