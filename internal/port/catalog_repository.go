package port

import (
	"context"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
)

type CatalogRepository interface {
	// GetProduct returns domain.ErrNotFound for unknown products
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
}
