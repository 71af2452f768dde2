package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
	"github.com/rl1809/tiered-checkout/internal/port"
)

const DefaultHoldTTL = 5 * time.Minute

type InventoryStoreConfig struct {
	HoldTTL   time.Duration
	Now       func() time.Time
	Publisher port.AuditPublisher
	Logger    *zap.Logger
}

// InventoryStore owns on-hand and held quantities. Every mutation for one
// (product, location) key runs inside that key's exclusive section.
type InventoryStore struct {
	repo      port.InventoryRepository
	locks     *keyedMutex
	holdTTL   time.Duration
	now       func() time.Time
	publisher port.AuditPublisher
	logger    *zap.Logger
}

func NewInventoryStore(repo port.InventoryRepository, cfg InventoryStoreConfig) *InventoryStore {
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = DefaultHoldTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &InventoryStore{
		repo:      repo,
		locks:     newKeyedMutex(),
		holdTTL:   cfg.HoldTTL,
		now:       cfg.Now,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
	}
}

func (s *InventoryStore) HoldTTL() time.Duration {
	return s.holdTTL
}

// Reserve places an ACTIVE hold for qty units. It fails with
// ErrInsufficientStock when available quantity is short and with
// ErrDuplicateHold when the order already holds this product.
func (s *InventoryStore) Reserve(ctx context.Context, orderID, productID, locationID string, qty int64) (*domain.Hold, error) {
	if qty <= 0 {
		return nil, domain.NewValidationError("quantity", fmt.Sprintf("must be positive, got %d", qty))
	}

	unlock := s.locks.Lock(inventoryKey(productID, locationID))
	defer unlock()

	existing, err := s.repo.FindActiveHold(ctx, orderID, productID)
	if err != nil {
		return nil, fmt.Errorf("find active hold: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("order %s product %s: %w", orderID, productID, domain.ErrDuplicateHold)
	}

	rec, err := s.repo.GetInventory(ctx, productID, locationID)
	if err != nil {
		return nil, fmt.Errorf("get inventory: %w", err)
	}
	if rec == nil || rec.Available() < qty {
		return nil, fmt.Errorf("product %s at %s: requested %d, available %d: %w",
			productID, locationID, qty, availableOf(rec), domain.ErrInsufficientStock)
	}

	now := s.now()
	hold := domain.Hold{
		ID:         uuid.New().String(),
		OrderID:    orderID,
		ProductID:  productID,
		LocationID: locationID,
		Quantity:   qty,
		State:      domain.HoldActive,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.holdTTL),
		UpdatedAt:  now,
	}

	next := *rec
	next.Held += qty
	next.UpdatedAt = now

	if err := s.apply(ctx, next, rec.Version, &hold, nil); err != nil {
		return nil, err
	}
	return &hold, nil
}

// Commit turns an ACTIVE hold into a permanent deduction. Committing an
// already committed hold is a no-op. A hold past its expiry is expired on the
// spot and ErrHoldExpired is returned.
func (s *InventoryStore) Commit(ctx context.Context, holdID, actor string) (*domain.Hold, error) {
	hold, unlock, err := s.lockHold(ctx, holdID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if hold.State == domain.HoldCommitted {
		return hold, nil
	}
	if hold.State != domain.HoldActive {
		return hold, fmt.Errorf("commit hold %s (%s): %w", hold.ID, hold.State, domain.ErrHoldNotActive)
	}

	now := s.now()
	if hold.ExpiredAt(now) {
		if err := s.transitionLocked(ctx, hold, domain.HoldExpired, now, ""); err != nil {
			return nil, err
		}
		return hold, fmt.Errorf("commit hold %s: %w", hold.ID, domain.ErrHoldExpired)
	}

	if err := s.transitionLocked(ctx, hold, domain.HoldCommitted, now, actor); err != nil {
		return nil, err
	}
	return hold, nil
}

// Release returns an ACTIVE hold's quantity to available stock. Releasing a
// hold that is already released or expired is a no-op.
func (s *InventoryStore) Release(ctx context.Context, holdID string) (*domain.Hold, error) {
	hold, unlock, err := s.lockHold(ctx, holdID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	switch hold.State {
	case domain.HoldReleased, domain.HoldExpired:
		return hold, nil
	case domain.HoldCommitted:
		return hold, fmt.Errorf("release hold %s: already committed: %w", hold.ID, domain.ErrHoldNotActive)
	}

	if err := s.transitionLocked(ctx, hold, domain.HoldReleased, s.now(), ""); err != nil {
		return nil, err
	}
	return hold, nil
}

// Expire moves an ACTIVE hold to EXPIRED if it is past ExpiresAt, or
// unconditionally when force is set. It reports whether a transition happened.
func (s *InventoryStore) Expire(ctx context.Context, holdID string, force bool) (bool, error) {
	hold, unlock, err := s.lockHold(ctx, holdID)
	if err != nil {
		return false, err
	}
	defer unlock()

	now := s.now()
	if hold.State != domain.HoldActive || (!force && !hold.ExpiredAt(now)) {
		return false, nil
	}
	if err := s.transitionLocked(ctx, hold, domain.HoldExpired, now, ""); err != nil {
		return false, err
	}
	return true, nil
}

// Adjust applies a non-sale correction. It never clamps: a delta that would
// take on-hand below zero, or below the currently held quantity, fails with
// ErrConflict.
func (s *InventoryStore) Adjust(ctx context.Context, productID, locationID string, delta int64, reason, actor string) (domain.InventoryLevel, error) {
	if delta == 0 {
		return domain.InventoryLevel{}, domain.NewValidationError("delta", "must not be zero")
	}
	if reason == "" {
		return domain.InventoryLevel{}, domain.NewValidationError("reason", "must not be empty")
	}

	unlock := s.locks.Lock(inventoryKey(productID, locationID))
	defer unlock()

	rec, err := s.repo.GetInventory(ctx, productID, locationID)
	if err != nil {
		return domain.InventoryLevel{}, fmt.Errorf("get inventory: %w", err)
	}

	now := s.now()
	if rec == nil {
		if delta < 0 {
			return domain.InventoryLevel{}, fmt.Errorf("adjust %s at %s by %d: no stock record: %w",
				productID, locationID, delta, domain.ErrConflict)
		}
		created := domain.InventoryRecord{
			ProductID:  productID,
			LocationID: locationID,
			OnHand:     delta,
			UpdatedAt:  now,
		}
		audit := s.onHandAudit(created, 0, actor, reason, now)
		if err := s.repo.CreateInventory(ctx, created, []domain.AuditRecord{audit}); err != nil {
			return domain.InventoryLevel{}, fmt.Errorf("create inventory: %w", err)
		}
		s.publish(ctx, audit)
		return created.Level(), nil
	}

	onHand := rec.OnHand + delta
	if onHand < 0 {
		return rec.Level(), fmt.Errorf("adjust %s at %s by %d: on hand would be %d: %w",
			productID, locationID, delta, onHand, domain.ErrConflict)
	}
	if onHand < rec.Held {
		return rec.Level(), fmt.Errorf("adjust %s at %s by %d: on hand %d below held %d: %w",
			productID, locationID, delta, onHand, rec.Held, domain.ErrConflict)
	}

	next := *rec
	next.OnHand = onHand
	next.UpdatedAt = now
	audit := s.onHandAudit(next, rec.OnHand, actor, reason, now)

	if err := s.apply(ctx, next, rec.Version, nil, []domain.AuditRecord{audit}); err != nil {
		return rec.Level(), err
	}
	s.publish(ctx, audit)
	return next.Level(), nil
}

// Stock creates the initial record for a product at a location.
func (s *InventoryStore) Stock(ctx context.Context, productID, locationID string, qty int64, actor string) error {
	if qty < 0 {
		return domain.NewValidationError("quantity", fmt.Sprintf("must not be negative, got %d", qty))
	}

	unlock := s.locks.Lock(inventoryKey(productID, locationID))
	defer unlock()

	now := s.now()
	rec := domain.InventoryRecord{
		ProductID:  productID,
		LocationID: locationID,
		OnHand:     qty,
		UpdatedAt:  now,
	}
	audit := s.onHandAudit(rec, 0, actor, "initial stock", now)
	if err := s.repo.CreateInventory(ctx, rec, []domain.AuditRecord{audit}); err != nil {
		return fmt.Errorf("stock %s at %s: %w", productID, locationID, err)
	}
	s.publish(ctx, audit)
	return nil
}

func (s *InventoryStore) Level(ctx context.Context, productID, locationID string) (domain.InventoryLevel, error) {
	rec, err := s.repo.GetInventory(ctx, productID, locationID)
	if err != nil {
		return domain.InventoryLevel{}, fmt.Errorf("get inventory: %w", err)
	}
	if rec == nil {
		return domain.InventoryLevel{}, fmt.Errorf("inventory %s at %s: %w", productID, locationID, domain.ErrNotFound)
	}
	return rec.Level(), nil
}

// lockHold loads a hold, takes its inventory key and reloads it so the state
// seen by the caller is the state under the lock.
func (s *InventoryStore) lockHold(ctx context.Context, holdID string) (*domain.Hold, func(), error) {
	hold, err := s.repo.GetHold(ctx, holdID)
	if err != nil {
		return nil, nil, fmt.Errorf("get hold: %w", err)
	}
	if hold == nil {
		return nil, nil, fmt.Errorf("hold %s: %w", holdID, domain.ErrNotFound)
	}

	unlock := s.locks.Lock(inventoryKey(hold.ProductID, hold.LocationID))

	hold, err = s.repo.GetHold(ctx, holdID)
	if err != nil {
		unlock()
		return nil, nil, fmt.Errorf("get hold: %w", err)
	}
	if hold == nil {
		unlock()
		return nil, nil, fmt.Errorf("hold %s: %w", holdID, domain.ErrNotFound)
	}
	return hold, unlock, nil
}

// transitionLocked moves an ACTIVE hold to a terminal state and adjusts the
// counters. The caller holds the inventory key.
func (s *InventoryStore) transitionLocked(ctx context.Context, hold *domain.Hold, to domain.HoldState, now time.Time, actor string) error {
	rec, err := s.repo.GetInventory(ctx, hold.ProductID, hold.LocationID)
	if err != nil {
		return fmt.Errorf("get inventory: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("hold %s references missing inventory %s at %s: %w",
			hold.ID, hold.ProductID, hold.LocationID, domain.ErrReconciliationRequired)
	}
	if rec.Held < hold.Quantity {
		return fmt.Errorf("hold %s: held %d below hold quantity %d: %w",
			hold.ID, rec.Held, hold.Quantity, domain.ErrReconciliationRequired)
	}

	next := *rec
	next.Held -= hold.Quantity
	next.UpdatedAt = now

	var audit []domain.AuditRecord
	if to == domain.HoldCommitted {
		if rec.OnHand < hold.Quantity {
			return fmt.Errorf("hold %s: on hand %d below hold quantity %d: %w",
				hold.ID, rec.OnHand, hold.Quantity, domain.ErrReconciliationRequired)
		}
		next.OnHand -= hold.Quantity
		audit = append(audit, s.onHandAudit(next, rec.OnHand, actor, "sale order "+hold.OrderID, now))
	}

	updated := *hold
	if err := updated.Transition(to, now); err != nil {
		return err
	}

	if err := s.apply(ctx, next, rec.Version, &updated, audit); err != nil {
		return err
	}
	*hold = updated

	s.publish(ctx, audit...)
	return nil
}

func (s *InventoryStore) apply(ctx context.Context, rec domain.InventoryRecord, version int64, hold *domain.Hold, audit []domain.AuditRecord) error {
	rec.Version = version + 1
	err := s.repo.ApplyChange(ctx, port.InventoryChange{
		Record:          rec,
		ExpectedVersion: version,
		Hold:            hold,
		Audit:           audit,
	})
	if errors.Is(err, domain.ErrOptimisticLock) {
		s.logger.Warn("inventory version moved under key lock",
			zap.String("product_id", rec.ProductID),
			zap.String("location_id", rec.LocationID),
			zap.Int64("expected_version", version),
		)
		return err
	}
	if err != nil {
		return fmt.Errorf("apply inventory change: %w", err)
	}
	return nil
}

func (s *InventoryStore) onHandAudit(rec domain.InventoryRecord, old int64, actor, reason string, at time.Time) domain.AuditRecord {
	if actor == "" {
		actor = "system"
	}
	return domain.AuditRecord{
		ID:       uuid.New().String(),
		Entity:   domain.AuditEntityInventory,
		EntityID: domain.InventoryEntityID(rec.ProductID, rec.LocationID),
		Field:    "on_hand_quantity",
		OldValue: strconv.FormatInt(old, 10),
		NewValue: strconv.FormatInt(rec.OnHand, 10),
		Actor:    actor,
		Reason:   reason,
		At:       at,
	}
}

// publish forwards persisted audit records. Failures are logged only, the
// records are already durable in the repository.
func (s *InventoryStore) publish(ctx context.Context, records ...domain.AuditRecord) {
	if s.publisher == nil || len(records) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, records...); err != nil {
		s.logger.Error("failed to publish audit records", zap.Int("count", len(records)), zap.Error(err))
	}
}

func availableOf(rec *domain.InventoryRecord) int64 {
	if rec == nil {
		return 0
	}
	return rec.Available()
}
