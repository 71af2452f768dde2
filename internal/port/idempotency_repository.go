package port

import (
	"context"
	"time"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
)

type IdempotencyRepository interface {
	// Claim stores op as pending unless the key already exists, in which case
	// the existing operation is returned and nothing is written
	Claim(ctx context.Context, op domain.IdempotentOperation, ttl time.Duration) (*domain.IdempotentOperation, error)

	// Complete stores the result of a pending operation
	Complete(ctx context.Context, key string, result []byte, at time.Time, ttl time.Duration) error

	// Abandon removes a pending operation so the key can be claimed again
	Abandon(ctx context.Context, key string) error
}
