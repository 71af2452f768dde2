package port

import (
	"context"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
)

type AuditRepository interface {
	AppendAudit(ctx context.Context, records ...domain.AuditRecord) error
	ListAudit(ctx context.Context, entity, entityID string) ([]domain.AuditRecord, error)
}

// AuditPublisher forwards already-persisted audit records to downstream sinks.
type AuditPublisher interface {
	Publish(ctx context.Context, records ...domain.AuditRecord) error
}
