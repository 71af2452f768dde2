package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestProductValidate(t *testing.T) {
	tier := func(id string, units int64, price string) Tier {
		return Tier{ID: id, UnitsPerTier: units, Price: decimal.RequireFromString(price)}
	}

	tests := []struct {
		name    string
		product Product
		wantErr bool
	}{
		{"valid", Product{ID: "p", Tiers: []Tier{tier("single", 1, "7"), tier("three", 3, "20")}}, false},
		{"free tier", Product{ID: "p", Tiers: []Tier{tier("promo", 1, "0")}}, false},
		{"no id", Product{Tiers: []Tier{tier("single", 1, "7")}}, true},
		{"no tiers", Product{ID: "p"}, true},
		{"duplicate tier", Product{ID: "p", Tiers: []Tier{tier("a", 1, "7"), tier("a", 2, "12")}}, true},
		{"zero units", Product{ID: "p", Tiers: []Tier{tier("a", 0, "7")}}, true},
		{"negative price", Product{ID: "p", Tiers: []Tier{tier("a", 1, "-1")}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.product.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("wantErr %v, got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestCartLineValidate(t *testing.T) {
	line := CartLine{ProductID: "p", TierID: "single", LineMultiplier: 2, DeductionUnits: 2}
	if err := line.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	line.LineMultiplier = 0
	err := line.Validate()
	if !errors.Is(err, ErrValidation) || !errors.Is(err, ErrInvalidMultiplier) {
		t.Errorf("expected validation wrapping ErrInvalidMultiplier, got %v", err)
	}

	line.LineMultiplier = 1
	line.DeductionUnits = 0
	if err := line.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for unresolved line, got %v", err)
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("lines", "cart is empty")
	if err.Error() != "validation: lines: cart is empty" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if errors.Is(err, ErrConflict) {
		t.Error("validation error matched ErrConflict")
	}

	wrapped := &ValidationError{Reason: "bad tier", Err: ErrUnknownTier}
	if !errors.Is(wrapped, ErrUnknownTier) || !errors.Is(wrapped, ErrValidation) {
		t.Error("expected wrapped validation error to match both sentinels")
	}
	if wrapped.Error() != "validation: bad tier" {
		t.Errorf("unexpected message %q", wrapped.Error())
	}
}

func TestReconciliationDomainValid(t *testing.T) {
	for _, d := range ReconciliationDomains {
		if !d.Valid() {
			t.Errorf("%s should be valid", d)
		}
	}
	if ReconciliationDomain("shipping").Valid() {
		t.Error("unknown domain reported valid")
	}
}
