package port

import (
	"context"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
)

type PaymentProcessor interface {
	// Authorize may block for seconds. It must be idempotent per order id.
	Authorize(ctx context.Context, req domain.PaymentRequest) (domain.PaymentResult, error)
}
