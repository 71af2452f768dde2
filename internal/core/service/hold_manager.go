package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
	"github.com/rl1809/tiered-checkout/internal/port"
)

const defaultSweepBatch = 500

// HoldManager drives hold expiry. Each expiry goes through the store's
// per-key compare-and-transition, so a sweep racing a commit or release only
// ever changes holds that are still ACTIVE.
type HoldManager struct {
	store  *InventoryStore
	repo   port.InventoryRepository
	batch  int
	now    func() time.Time
	logger *zap.Logger
}

func NewHoldManager(store *InventoryStore, repo port.InventoryRepository, logger *zap.Logger) *HoldManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HoldManager{
		store:  store,
		repo:   repo,
		batch:  defaultSweepBatch,
		now:    store.now,
		logger: logger,
	}
}

func (m *HoldManager) Get(ctx context.Context, holdID string) (*domain.Hold, error) {
	hold, err := m.repo.GetHold(ctx, holdID)
	if err != nil {
		return nil, fmt.Errorf("get hold: %w", err)
	}
	if hold == nil {
		return nil, fmt.Errorf("hold %s: %w", holdID, domain.ErrNotFound)
	}
	return hold, nil
}

func (m *HoldManager) HoldsForOrder(ctx context.Context, orderID string) ([]domain.Hold, error) {
	holds, err := m.repo.ListHoldsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list holds for order %s: %w", orderID, err)
	}
	return holds, nil
}

// Sweep expires every ACTIVE hold past its ExpiresAt and returns how many
// transitioned.
func (m *HoldManager) Sweep(ctx context.Context) (int, error) {
	expired := 0
	for {
		holds, err := m.repo.ListExpiredHolds(ctx, m.now(), m.batch)
		if err != nil {
			return expired, fmt.Errorf("list expired holds: %w", err)
		}

		progressed := 0
		for _, h := range holds {
			if err := ctx.Err(); err != nil {
				return expired, err
			}
			ok, err := m.store.Expire(ctx, h.ID, false)
			if err != nil {
				m.logger.Error("failed to expire hold",
					zap.String("hold_id", h.ID),
					zap.String("order_id", h.OrderID),
					zap.Error(err),
				)
				continue
			}
			if ok {
				progressed++
				m.logger.Info("hold expired",
					zap.String("hold_id", h.ID),
					zap.String("order_id", h.OrderID),
					zap.String("product_id", h.ProductID),
					zap.Int64("quantity", h.Quantity),
				)
			}
		}
		expired += progressed

		if len(holds) < m.batch || progressed == 0 {
			return expired, nil
		}
	}
}

// Run sweeps every interval until ctx is cancelled.
func (m *HoldManager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := m.Sweep(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("hold sweep failed", zap.Error(err))
			}
			if n > 0 {
				m.logger.Info("hold sweep finished", zap.Int("expired", n))
			}
		}
	}
}

// ExpireOrder force-expires every ACTIVE hold of an order.
func (m *HoldManager) ExpireOrder(ctx context.Context, orderID string) error {
	holds, err := m.HoldsForOrder(ctx, orderID)
	if err != nil {
		return err
	}

	var errs []error
	for _, h := range holds {
		if h.State != domain.HoldActive {
			continue
		}
		if _, err := m.store.Expire(ctx, h.ID, true); err != nil {
			errs = append(errs, fmt.Errorf("expire hold %s: %w", h.ID, err))
		}
	}
	return errors.Join(errs...)
}
