package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
	"github.com/rl1809/tiered-checkout/internal/port"
)

type AdjustRequest struct {
	IdempotencyKey string
	ProductID      string
	LocationID     string
	Delta          int64
	Reason         string
	Actor          string
}

type adjustFingerprint struct {
	ProductID  string `json:"product_id"`
	LocationID string `json:"location_id"`
	Delta      int64  `json:"delta"`
	Reason     string `json:"reason"`
}

// Engine is the operation surface offered to registers and back-office tools.
type Engine struct {
	catalog     port.CatalogRepository
	resolver    *TierResolver
	ledger      *Ledger
	store       *InventoryStore
	holds       *HoldManager
	coordinator *Coordinator
	queue       *ReconciliationQueue
	logger      *zap.Logger
}

type EngineDeps struct {
	Catalog     port.CatalogRepository
	Resolver    *TierResolver
	Ledger      *Ledger
	Store       *InventoryStore
	Holds       *HoldManager
	Coordinator *Coordinator
	Queue       *ReconciliationQueue
	Logger      *zap.Logger
}

func NewEngine(deps EngineDeps) *Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Resolver == nil {
		deps.Resolver = NewTierResolver()
	}
	return &Engine{
		catalog:     deps.Catalog,
		resolver:    deps.Resolver,
		ledger:      deps.Ledger,
		store:       deps.Store,
		holds:       deps.Holds,
		coordinator: deps.Coordinator,
		queue:       deps.Queue,
		logger:      deps.Logger,
	}
}

func (e *Engine) Holds() *HoldManager {
	return e.holds
}

// BuildCartLine resolves a register's tier selection into a checkout line.
func (e *Engine) BuildCartLine(ctx context.Context, productID, tierID string, multiplier int) (domain.CartLine, error) {
	product, err := e.catalog.GetProduct(ctx, productID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.CartLine{}, domain.NewValidationError("product_id", fmt.Sprintf("unknown product %s", productID))
	}
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("load product %s: %w", productID, err)
	}
	return e.resolver.NewCartLine(*product, tierID, multiplier)
}

// ChangeCartLineTier re-resolves a line after the register picks a different tier.
func (e *Engine) ChangeCartLineTier(ctx context.Context, line domain.CartLine, tierID string) (domain.CartLine, error) {
	product, err := e.catalog.GetProduct(ctx, line.ProductID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.CartLine{}, domain.NewValidationError("product_id", fmt.Sprintf("unknown product %s", line.ProductID))
	}
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("load product %s: %w", line.ProductID, err)
	}
	return e.resolver.ChangeTier(*product, line, tierID)
}

func (e *Engine) SubmitCheckout(ctx context.Context, req CheckoutRequest) (*domain.CheckoutResult, error) {
	return e.coordinator.SubmitCheckout(ctx, req)
}

func (e *Engine) CancelCheckout(ctx context.Context, orderID string) (*domain.Order, error) {
	return e.coordinator.Cancel(ctx, orderID)
}

func (e *Engine) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return e.coordinator.Order(ctx, orderID)
}

// AdjustInventory applies a non-sale correction at most once per key. A
// correction that would break the stock invariants is not applied; it is
// queued for reconciliation and reported as CONFLICT, and that outcome is
// what retries of the same key receive.
func (e *Engine) AdjustInventory(ctx context.Context, req AdjustRequest) (*domain.AdjustResult, error) {
	if req.ProductID == "" {
		return nil, domain.NewValidationError("product_id", "must not be empty")
	}
	if req.LocationID == "" {
		return nil, domain.NewValidationError("location_id", "must not be empty")
	}
	if req.Delta == 0 {
		return nil, domain.NewValidationError("delta", "must not be zero")
	}
	if req.Reason == "" {
		return nil, domain.NewValidationError("reason", "must not be empty")
	}

	fp, err := Fingerprint(domain.OperationAdjust, adjustFingerprint{
		ProductID:  req.ProductID,
		LocationID: req.LocationID,
		Delta:      req.Delta,
		Reason:     req.Reason,
	})
	if err != nil {
		return nil, err
	}

	begin, err := e.ledger.Begin(ctx, req.IdempotencyKey, domain.OperationAdjust, fp)
	if err != nil {
		return nil, err
	}
	switch begin.Status {
	case BeginDuplicate:
		var result domain.AdjustResult
		if err := json.Unmarshal(begin.Result, &result); err != nil {
			return nil, fmt.Errorf("decode stored adjust result: %w", err)
		}
		return &result, nil
	case BeginConflict:
		return nil, fmt.Errorf("idempotency key %s reused for a different adjustment: %w", req.IdempotencyKey, domain.ErrConflict)
	}

	result, err := e.adjust(ctx, req)
	if err != nil {
		e.ledger.Abandon(context.WithoutCancel(ctx), req.IdempotencyKey)
		return nil, err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode adjust result: %w", err)
	}
	if err := e.ledger.Complete(context.WithoutCancel(ctx), req.IdempotencyKey, data); err != nil {
		e.logger.Error("failed to record adjust result",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Error(err),
		)
	}
	return result, nil
}

func (e *Engine) adjust(ctx context.Context, req AdjustRequest) (*domain.AdjustResult, error) {
	level, err := e.store.Adjust(ctx, req.ProductID, req.LocationID, req.Delta, req.Reason, req.Actor)
	if err == nil {
		return &domain.AdjustResult{Status: domain.AdjustOK, Level: level}, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return nil, err
	}

	result := &domain.AdjustResult{
		Status:  domain.AdjustConflict,
		Level:   level,
		Message: err.Error(),
	}
	entry, qerr := e.queue.Enqueue(context.WithoutCancel(ctx), domain.ReconcileAdjustment, req.LocationID, req.IdempotencyKey, map[string]any{
		"product_id":  req.ProductID,
		"location_id": req.LocationID,
		"delta":       req.Delta,
		"reason":      req.Reason,
		"actor":       req.Actor,
		"on_hand":     level.OnHand,
		"held":        level.Held,
	}, err.Error())
	if qerr != nil {
		return nil, fmt.Errorf("adjust conflict not queued: %w", errors.Join(err, qerr))
	}
	result.ReconciliationID = entry.ID
	return result, nil
}

func (e *Engine) GetInventoryLevel(ctx context.Context, productID, locationID string) (domain.InventoryLevel, error) {
	return e.store.Level(ctx, productID, locationID)
}

func (e *Engine) GetReconciliationSummary(ctx context.Context, locationID string) (map[domain.ReconciliationDomain]int, error) {
	return e.queue.Summary(ctx, locationID)
}

func (e *Engine) ListReconciliation(ctx context.Context, d domain.ReconciliationDomain) ([]domain.ReconciliationEntry, error) {
	return e.queue.ListUnresolved(ctx, d)
}

func (e *Engine) ResolveReconciliation(ctx context.Context, id, resolution, actor string) (*domain.ReconciliationEntry, error) {
	return e.queue.MarkResolved(ctx, id, resolution, actor)
}

// StockInventory creates an initial record. Existing records are left alone
// and reported as ErrConflict.
func (e *Engine) StockInventory(ctx context.Context, productID, locationID string, qty int64, actor string) error {
	return e.store.Stock(ctx, productID, locationID, qty, actor)
}

func (e *Engine) SweepHolds(ctx context.Context) (int, error) {
	return e.holds.Sweep(ctx)
}
