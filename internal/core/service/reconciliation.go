package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
	"github.com/rl1809/tiered-checkout/internal/port"
)

// ReconciliationQueue is append-only. Entries leave the unresolved set only
// through MarkResolved, which is attributed and audited.
type ReconciliationQueue struct {
	repo   port.ReconciliationRepository
	audit  port.AuditRepository
	now    func() time.Time
	logger *zap.Logger
}

func NewReconciliationQueue(repo port.ReconciliationRepository, audit port.AuditRepository, now func() time.Time, logger *zap.Logger) *ReconciliationQueue {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationQueue{repo: repo, audit: audit, now: now, logger: logger}
}

func (q *ReconciliationQueue) Enqueue(ctx context.Context, d domain.ReconciliationDomain, locationID, operationRef string, payload any, reason string) (*domain.ReconciliationEntry, error) {
	if !d.Valid() {
		return nil, domain.NewValidationError("domain", fmt.Sprintf("unknown reconciliation domain %q", d))
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal reconciliation payload: %w", err)
	}

	entry := domain.ReconciliationEntry{
		ID:           uuid.New().String(),
		Domain:       d,
		LocationID:   locationID,
		OperationRef: operationRef,
		Reason:       reason,
		Payload:      raw,
		CreatedAt:    q.now(),
	}
	if err := q.repo.AppendEntry(ctx, entry); err != nil {
		q.logger.Error("CRITICAL failed to enqueue reconciliation entry",
			zap.String("domain", string(d)),
			zap.String("operation_ref", operationRef),
			zap.String("reason", reason),
			zap.ByteString("payload", raw),
			zap.Error(err),
		)
		return nil, fmt.Errorf("append reconciliation entry: %w", err)
	}

	q.logger.Warn("reconciliation entry enqueued",
		zap.String("id", entry.ID),
		zap.String("domain", string(d)),
		zap.String("location_id", locationID),
		zap.String("operation_ref", operationRef),
		zap.String("reason", reason),
	)
	return &entry, nil
}

func (q *ReconciliationQueue) ListUnresolved(ctx context.Context, d domain.ReconciliationDomain) ([]domain.ReconciliationEntry, error) {
	if !d.Valid() {
		return nil, domain.NewValidationError("domain", fmt.Sprintf("unknown reconciliation domain %q", d))
	}
	entries, err := q.repo.ListUnresolved(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("list unresolved %s: %w", d, err)
	}
	return entries, nil
}

func (q *ReconciliationQueue) MarkResolved(ctx context.Context, id, resolution, actor string) (*domain.ReconciliationEntry, error) {
	if resolution == "" {
		return nil, domain.NewValidationError("resolution", "must not be empty")
	}
	if actor == "" {
		return nil, domain.NewValidationError("actor", "must not be empty")
	}

	now := q.now()
	entry, err := q.repo.ResolveEntry(ctx, id, resolution, actor, now)
	if err != nil {
		return nil, fmt.Errorf("resolve entry %s: %w", id, err)
	}

	record := domain.AuditRecord{
		ID:       uuid.New().String(),
		Entity:   domain.AuditEntityReconciliation,
		EntityID: entry.ID,
		Field:    "resolved",
		OldValue: "false",
		NewValue: "true",
		Actor:    actor,
		Reason:   resolution,
		At:       now,
	}
	if err := q.audit.AppendAudit(ctx, record); err != nil {
		return entry, fmt.Errorf("audit resolution of %s: %w", id, err)
	}
	return entry, nil
}

// Summary counts unresolved entries per domain for a location. Every known
// domain is present, zero when empty.
func (q *ReconciliationQueue) Summary(ctx context.Context, locationID string) (map[domain.ReconciliationDomain]int, error) {
	counts, err := q.repo.CountUnresolved(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("count unresolved: %w", err)
	}

	summary := make(map[domain.ReconciliationDomain]int, len(domain.ReconciliationDomains))
	for _, d := range domain.ReconciliationDomains {
		summary[d] = counts[d]
	}
	return summary, nil
}
