package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
	"github.com/rl1809/tiered-checkout/internal/port"
)

// MemoryStore keeps inventory, holds, orders, reconciliation entries and
// audit records in process memory. It backs single-register setups and tests.
type MemoryStore struct {
	mu             sync.RWMutex
	inventory      map[string]domain.InventoryRecord
	holds          map[string]domain.Hold
	orders         map[string]domain.Order
	reconciliation map[string]domain.ReconciliationEntry
	reconOrder     []string
	audit          []domain.AuditRecord
}

var (
	_ port.InventoryRepository      = (*MemoryStore)(nil)
	_ port.OrderRepository          = (*MemoryStore)(nil)
	_ port.ReconciliationRepository = (*MemoryStore)(nil)
	_ port.AuditRepository          = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		inventory:      make(map[string]domain.InventoryRecord),
		holds:          make(map[string]domain.Hold),
		orders:         make(map[string]domain.Order),
		reconciliation: make(map[string]domain.ReconciliationEntry),
	}
}

func inventoryKey(productID, locationID string) string {
	return productID + "\x00" + locationID
}

func (m *MemoryStore) GetInventory(ctx context.Context, productID, locationID string) (*domain.InventoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.inventory[inventoryKey(productID, locationID)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) CreateInventory(ctx context.Context, record domain.InventoryRecord, audit []domain.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := inventoryKey(record.ProductID, record.LocationID)
	if _, ok := m.inventory[key]; ok {
		return fmt.Errorf("inventory %s at %s exists: %w", record.ProductID, record.LocationID, domain.ErrConflict)
	}
	m.inventory[key] = record
	m.audit = append(m.audit, audit...)
	return nil
}

func (m *MemoryStore) ApplyChange(ctx context.Context, change port.InventoryChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := inventoryKey(change.Record.ProductID, change.Record.LocationID)
	current, ok := m.inventory[key]
	if !ok {
		return fmt.Errorf("inventory %s at %s: %w", change.Record.ProductID, change.Record.LocationID, domain.ErrNotFound)
	}
	if current.Version != change.ExpectedVersion {
		return domain.ErrOptimisticLock
	}

	m.inventory[key] = change.Record
	if change.Hold != nil {
		m.holds[change.Hold.ID] = *change.Hold
	}
	m.audit = append(m.audit, change.Audit...)
	return nil
}

func (m *MemoryStore) GetHold(ctx context.Context, holdID string) (*domain.Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.holds[holdID]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (m *MemoryStore) FindActiveHold(ctx context.Context, orderID, productID string) (*domain.Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, h := range m.holds {
		if h.OrderID == orderID && h.ProductID == productID && h.State == domain.HoldActive {
			return &h, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListHoldsByOrder(ctx context.Context, orderID string) ([]domain.Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Hold
	for _, h := range m.holds {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (m *MemoryStore) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Hold
	for _, h := range m.holds {
		if h.State == domain.HoldActive && h.ExpiredAt(now) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CreateOrder(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[order.ID]; ok {
		return fmt.Errorf("order %s: %w", order.ID, domain.ErrOrderExists)
	}
	m.orders[order.ID] = cloneOrder(order)
	return nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, nil
	}
	o = cloneOrder(o)
	return &o, nil
}

func (m *MemoryStore) UpdateOrder(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[order.ID]; !ok {
		return fmt.Errorf("order %s: %w", order.ID, domain.ErrNotFound)
	}
	m.orders[order.ID] = cloneOrder(order)
	return nil
}

func cloneOrder(o domain.Order) domain.Order {
	o.Lines = append([]domain.CartLine(nil), o.Lines...)
	o.HoldIDs = append([]string(nil), o.HoldIDs...)
	return o
}

func (m *MemoryStore) AppendEntry(ctx context.Context, entry domain.ReconciliationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reconciliation[entry.ID]; ok {
		return fmt.Errorf("reconciliation entry %s: %w", entry.ID, domain.ErrConflict)
	}
	m.reconciliation[entry.ID] = entry
	m.reconOrder = append(m.reconOrder, entry.ID)
	return nil
}

func (m *MemoryStore) GetEntry(ctx context.Context, id string) (*domain.ReconciliationEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.reconciliation[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *MemoryStore) ListUnresolved(ctx context.Context, d domain.ReconciliationDomain) ([]domain.ReconciliationEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.ReconciliationEntry
	for _, id := range m.reconOrder {
		e := m.reconciliation[id]
		if !e.Resolved && e.Domain == d {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) ResolveEntry(ctx context.Context, id, resolution, actor string, at time.Time) (*domain.ReconciliationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.reconciliation[id]
	if !ok {
		return nil, fmt.Errorf("reconciliation entry %s: %w", id, domain.ErrNotFound)
	}
	if e.Resolved {
		return nil, fmt.Errorf("reconciliation entry %s already resolved: %w", id, domain.ErrConflict)
	}

	e.Resolved = true
	e.Resolution = resolution
	e.ResolvedBy = actor
	e.ResolvedAt = &at
	m.reconciliation[id] = e
	return &e, nil
}

func (m *MemoryStore) CountUnresolved(ctx context.Context, locationID string) (map[domain.ReconciliationDomain]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[domain.ReconciliationDomain]int)
	for _, e := range m.reconciliation {
		if !e.Resolved && e.LocationID == locationID {
			counts[e.Domain]++
		}
	}
	return counts, nil
}

func (m *MemoryStore) AppendAudit(ctx context.Context, records ...domain.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.audit = append(m.audit, records...)
	return nil
}

func (m *MemoryStore) ListAudit(ctx context.Context, entity, entityID string) ([]domain.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.AuditRecord
	for _, r := range m.audit {
		if r.Entity == entity && r.EntityID == entityID {
			out = append(out, r)
		}
	}
	return out, nil
}
