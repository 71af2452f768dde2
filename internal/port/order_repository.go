package port

import (
	"context"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
)

type OrderRepository interface {
	// CreateOrder returns domain.ErrOrderExists when the id is taken
	CreateOrder(ctx context.Context, order domain.Order) error

	// GetOrder returns nil, nil when no order exists
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	UpdateOrder(ctx context.Context, order domain.Order) error
}
