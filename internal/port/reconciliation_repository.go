package port

import (
	"context"
	"time"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
)

type ReconciliationRepository interface {
	AppendEntry(ctx context.Context, entry domain.ReconciliationEntry) error

	// GetEntry returns nil, nil when no entry exists
	GetEntry(ctx context.Context, id string) (*domain.ReconciliationEntry, error)

	ListUnresolved(ctx context.Context, d domain.ReconciliationDomain) ([]domain.ReconciliationEntry, error)

	// ResolveEntry marks an unresolved entry resolved, returns domain.ErrConflict
	// when it was already resolved and domain.ErrNotFound when missing
	ResolveEntry(ctx context.Context, id, resolution, actor string, at time.Time) (*domain.ReconciliationEntry, error)

	CountUnresolved(ctx context.Context, locationID string) (map[domain.ReconciliationDomain]int, error)
}
