package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tier bundles a fixed unit count at a fixed price, e.g. "3 for $20".
type Tier struct {
	ID           string
	Label        string
	UnitsPerTier int64
	Price        decimal.Decimal
}

type Product struct {
	ID    string
	Name  string
	Tiers []Tier
}

func (p Product) Tier(id string) (Tier, bool) {
	for _, t := range p.Tiers {
		if t.ID == id {
			return t, true
		}
	}
	return Tier{}, false
}

func (p Product) Validate() error {
	if p.ID == "" {
		return NewValidationError("product.id", "must not be empty")
	}
	if len(p.Tiers) == 0 {
		return NewValidationError("product.tiers", fmt.Sprintf("product %s has no tiers", p.ID))
	}

	seen := make(map[string]struct{}, len(p.Tiers))
	for _, t := range p.Tiers {
		if t.ID == "" {
			return NewValidationError("tier.id", fmt.Sprintf("product %s has a tier without id", p.ID))
		}
		if _, dup := seen[t.ID]; dup {
			return NewValidationError("tier.id", fmt.Sprintf("product %s: duplicate tier %s", p.ID, t.ID))
		}
		seen[t.ID] = struct{}{}

		if t.UnitsPerTier < 1 {
			return NewValidationError("tier.units_per_tier", fmt.Sprintf("product %s tier %s: must be >= 1", p.ID, t.ID))
		}
		if t.Price.IsNegative() {
			return NewValidationError("tier.price", fmt.Sprintf("product %s tier %s: must not be negative", p.ID, t.ID))
		}
	}
	return nil
}
