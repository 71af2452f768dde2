package service

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
)

// TierResolver is the only place that turns a tier choice into units to
// deduct. Cart construction, tier changes and checkout all go through it.
type TierResolver struct{}

func NewTierResolver() *TierResolver {
	return &TierResolver{}
}

// Resolve returns tier.UnitsPerTier * multiplier for the given product tier.
func (r *TierResolver) Resolve(product domain.Product, tierID string, multiplier int) (int64, error) {
	tier, err := r.tier(product, tierID, multiplier)
	if err != nil {
		return 0, err
	}
	return deductionUnits(product.ID, tier, multiplier)
}

// NewCartLine builds a checkout-ready line with resolved units and price.
func (r *TierResolver) NewCartLine(product domain.Product, tierID string, multiplier int) (domain.CartLine, error) {
	tier, err := r.tier(product, tierID, multiplier)
	if err != nil {
		return domain.CartLine{}, err
	}

	units, err := deductionUnits(product.ID, tier, multiplier)
	if err != nil {
		return domain.CartLine{}, err
	}

	line := domain.CartLine{
		ProductID:      product.ID,
		TierID:         tier.ID,
		LineMultiplier: multiplier,
		DeductionUnits: units,
		LinePrice:      tier.Price.Mul(decimal.NewFromInt(int64(multiplier))),
	}
	if err := line.Validate(); err != nil {
		return domain.CartLine{}, err
	}
	return line, nil
}

// ChangeTier re-resolves an existing line against a different tier, keeping
// its multiplier.
func (r *TierResolver) ChangeTier(product domain.Product, line domain.CartLine, tierID string) (domain.CartLine, error) {
	if line.ProductID != product.ID {
		return domain.CartLine{}, domain.NewValidationError("product_id",
			fmt.Sprintf("line product %s does not match %s", line.ProductID, product.ID))
	}
	return r.NewCartLine(product, tierID, line.LineMultiplier)
}

// Verify re-resolves line and rejects it when its units or price disagree
// with the catalog.
func (r *TierResolver) Verify(product domain.Product, line domain.CartLine) error {
	if err := line.Validate(); err != nil {
		return err
	}

	want, err := r.NewCartLine(product, line.TierID, line.LineMultiplier)
	if err != nil {
		return err
	}
	if want.DeductionUnits != line.DeductionUnits {
		return domain.NewValidationError("deduction_units",
			fmt.Sprintf("product %s tier %s: line carries %d units, tier resolves to %d",
				line.ProductID, line.TierID, line.DeductionUnits, want.DeductionUnits))
	}
	if !want.LinePrice.Equal(line.LinePrice) {
		return domain.NewValidationError("line_price",
			fmt.Sprintf("product %s tier %s: line carries %s, tier resolves to %s",
				line.ProductID, line.TierID, line.LinePrice, want.LinePrice))
	}
	return nil
}

func (r *TierResolver) tier(product domain.Product, tierID string, multiplier int) (domain.Tier, error) {
	if multiplier <= 0 {
		return domain.Tier{}, &domain.ValidationError{
			Field:  "line_multiplier",
			Reason: fmt.Sprintf("product %s: must be positive, got %d", product.ID, multiplier),
			Err:    domain.ErrInvalidMultiplier,
		}
	}

	tier, ok := product.Tier(tierID)
	if !ok {
		return domain.Tier{}, &domain.ValidationError{
			Field:  "tier_id",
			Reason: fmt.Sprintf("product %s has no tier %q", product.ID, tierID),
			Err:    domain.ErrUnknownTier,
		}
	}
	if tier.UnitsPerTier < 1 {
		return domain.Tier{}, domain.NewValidationError("units_per_tier",
			fmt.Sprintf("product %s tier %s: must be >= 1", product.ID, tier.ID))
	}
	return tier, nil
}

func deductionUnits(productID string, tier domain.Tier, multiplier int) (int64, error) {
	m := int64(multiplier)
	if tier.UnitsPerTier > math.MaxInt64/m {
		return 0, domain.NewValidationError("line_multiplier",
			fmt.Sprintf("product %s tier %s: %d x %d overflows", productID, tier.ID, tier.UnitsPerTier, m))
	}
	units := tier.UnitsPerTier * m
	if units <= 0 {
		return 0, domain.NewValidationError("deduction_units",
			fmt.Sprintf("product %s tier %s: resolved to %d", productID, tier.ID, units))
	}
	return units, nil
}
