package billing

import (
	"strings"

	"github.com/sheetgenius/sheetgenius/internal/pkg/entitlements"
	"github.com/sheetgenius/sheetgenius/internal/pkg/env"
)

// PriceTable maps the two configured Stripe price ids to plan tiers. Anything
// else resolves to free.
type PriceTable struct {
	StarterPriceID string
	ProPriceID     string
}

// NewPriceTableFromEnv reads the two plan price ids from the environment.
func NewPriceTableFromEnv() PriceTable {
	return PriceTable{
		StarterPriceID: strings.TrimSpace(env.GetEnv("STRIPE_STARTER_PRICE_ID", "")),
		ProPriceID:     strings.TrimSpace(env.GetEnv("STRIPE_PRO_PRICE_ID", "")),
	}
}

// PlanForPrice resolves a Stripe price id to an internal plan tier.
// Unrecognized ids fall through to free.
func (t PriceTable) PlanForPrice(priceID string) entitlements.Plan {
	id := strings.TrimSpace(priceID)
	if id == "" {
		return entitlements.PlanFree
	}
	switch id {
	case t.StarterPriceID:
		return entitlements.PlanStarter
	case t.ProPriceID:
		return entitlements.PlanPro
	default:
		return entitlements.PlanFree
	}
}
