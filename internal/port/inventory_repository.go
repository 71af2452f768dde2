package port

import (
	"context"
	"time"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
)

// InventoryChange is persisted atomically: the record (checked against its
// previous Version), the hold when non-nil, and the audit records.
type InventoryChange struct {
	Record          domain.InventoryRecord
	ExpectedVersion int64
	Hold            *domain.Hold
	Audit           []domain.AuditRecord
}

type InventoryRepository interface {
	// GetInventory returns nil, nil when no record exists
	GetInventory(ctx context.Context, productID, locationID string) (*domain.InventoryRecord, error)

	// CreateInventory inserts a new record, returns domain.ErrConflict if it exists
	CreateInventory(ctx context.Context, record domain.InventoryRecord, audit []domain.AuditRecord) error

	// ApplyChange writes an InventoryChange in one transaction, returns
	// domain.ErrOptimisticLock when the stored version moved
	ApplyChange(ctx context.Context, change InventoryChange) error

	// GetHold returns nil, nil when no hold exists
	GetHold(ctx context.Context, holdID string) (*domain.Hold, error)

	// FindActiveHold returns the ACTIVE hold for an order and product, or nil
	FindActiveHold(ctx context.Context, orderID, productID string) (*domain.Hold, error)

	ListHoldsByOrder(ctx context.Context, orderID string) ([]domain.Hold, error)

	// ListExpiredHolds returns ACTIVE holds whose ExpiresAt is not after now
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error)
}
