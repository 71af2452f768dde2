package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
	"github.com/rl1809/tiered-checkout/internal/port"
)

const DefaultIdempotencyHorizon = 24 * time.Hour

type BeginStatus int

const (
	BeginFresh BeginStatus = iota
	BeginDuplicate
	BeginConflict
)

func (s BeginStatus) String() string {
	switch s {
	case BeginFresh:
		return "fresh"
	case BeginDuplicate:
		return "duplicate"
	case BeginConflict:
		return "conflict"
	default:
		return fmt.Sprintf("BeginStatus(%d)", int(s))
	}
}

type Begin struct {
	Status BeginStatus
	Result []byte
}

// Ledger guarantees that an idempotency key is applied at most once.
type Ledger struct {
	repo    port.IdempotencyRepository
	horizon time.Duration
	// lease bounds how long a pending claim blocks retries when its attempt
	// never completes or abandons it. Zero means the horizon.
	lease  time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func NewLedger(repo port.IdempotencyRepository, horizon time.Duration, now func() time.Time, logger *zap.Logger) *Ledger {
	if horizon <= 0 {
		horizon = DefaultIdempotencyHorizon
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{repo: repo, horizon: horizon, now: now, logger: logger}
}

// WithPendingLease limits the lifetime of pending claims. It must outlast the
// longest attempt, or a retry may run while the first is still applying.
func (l *Ledger) WithPendingLease(lease time.Duration) *Ledger {
	if lease > 0 && lease < l.horizon {
		l.lease = lease
	}
	return l
}

func (l *Ledger) pendingTTL() time.Duration {
	if l.lease > 0 {
		return l.lease
	}
	return l.horizon
}

// Begin claims key for operation. A FRESH caller must later call Complete or
// Abandon. A retry of a still-pending attempt returns ErrOperationInProgress.
func (l *Ledger) Begin(ctx context.Context, key, operation, fingerprint string) (Begin, error) {
	if key == "" {
		return Begin{}, domain.NewValidationError("idempotency_key", "must not be empty")
	}

	existing, err := l.repo.Claim(ctx, domain.IdempotentOperation{
		Key:         key,
		Operation:   operation,
		Fingerprint: fingerprint,
		State:       domain.OperationPending,
		CreatedAt:   l.now(),
	}, l.pendingTTL())
	if err != nil {
		return Begin{}, fmt.Errorf("claim idempotency key: %w", err)
	}

	if existing == nil {
		return Begin{Status: BeginFresh}, nil
	}

	if existing.Operation != operation || existing.Fingerprint != fingerprint {
		l.logger.Warn("idempotency key reused with different input",
			zap.String("key", key),
			zap.String("operation", operation),
			zap.String("stored_operation", existing.Operation),
		)
		return Begin{Status: BeginConflict}, nil
	}

	if existing.State != domain.OperationCompleted {
		return Begin{}, fmt.Errorf("key %s: %w", key, domain.ErrOperationInProgress)
	}

	return Begin{Status: BeginDuplicate, Result: existing.Result}, nil
}

func (l *Ledger) Complete(ctx context.Context, key string, result []byte) error {
	if err := l.repo.Complete(ctx, key, result, l.now(), l.horizon); err != nil {
		return fmt.Errorf("complete idempotency key %s: %w", key, err)
	}
	return nil
}

// Abandon frees a key whose attempt made no lasting change.
func (l *Ledger) Abandon(ctx context.Context, key string) {
	if err := l.repo.Abandon(ctx, key); err != nil {
		l.logger.Error("failed to abandon idempotency key", zap.String("key", key), zap.Error(err))
	}
}
