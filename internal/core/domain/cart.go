package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CartLine is one tier purchase inside a cart. DeductionUnits is always
// tier.UnitsPerTier * LineMultiplier and is filled in by the tier resolver.
type CartLine struct {
	ProductID      string          `json:"product_id"`
	TierID         string          `json:"tier_id"`
	LineMultiplier int             `json:"line_multiplier"`
	DeductionUnits int64           `json:"deduction_units"`
	LinePrice      decimal.Decimal `json:"line_price"`
}

func (l CartLine) Validate() error {
	if l.ProductID == "" {
		return NewValidationError("product_id", "must not be empty")
	}
	if l.TierID == "" {
		return NewValidationError("tier_id", fmt.Sprintf("product %s: must not be empty", l.ProductID))
	}
	if l.LineMultiplier <= 0 {
		return &ValidationError{
			Field:  "line_multiplier",
			Reason: fmt.Sprintf("product %s: must be positive, got %d", l.ProductID, l.LineMultiplier),
			Err:    ErrInvalidMultiplier,
		}
	}
	if l.DeductionUnits <= 0 {
		return NewValidationError("deduction_units", fmt.Sprintf("product %s tier %s: unresolved", l.ProductID, l.TierID))
	}
	return nil
}
