package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
	"github.com/rl1809/tiered-checkout/internal/port"
)

type memoryOperation struct {
	op        domain.IdempotentOperation
	expiresAt time.Time
}

// MemoryIdempotency is an in-process IdempotencyRepository. Entries are
// dropped lazily once their TTL passes.
type MemoryIdempotency struct {
	mu  sync.Mutex
	ops map[string]memoryOperation
	now func() time.Time
}

var _ port.IdempotencyRepository = (*MemoryIdempotency)(nil)

func NewMemoryIdempotency(now func() time.Time) *MemoryIdempotency {
	if now == nil {
		now = time.Now
	}
	return &MemoryIdempotency{ops: make(map[string]memoryOperation), now: now}
}

func (m *MemoryIdempotency) Claim(ctx context.Context, op domain.IdempotentOperation, ttl time.Duration) (*domain.IdempotentOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.live(op.Key); ok {
		cp := existing.op
		return &cp, nil
	}

	op.State = domain.OperationPending
	m.ops[op.Key] = memoryOperation{op: op, expiresAt: m.now().Add(ttl)}
	return nil, nil
}

func (m *MemoryIdempotency) Complete(ctx context.Context, key string, result []byte, at time.Time, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.live(key)
	if !ok {
		return fmt.Errorf("idempotency key %s: %w", key, domain.ErrNotFound)
	}
	entry.op.State = domain.OperationCompleted
	entry.op.Result = append([]byte(nil), result...)
	entry.op.CompletedAt = at
	entry.expiresAt = at.Add(ttl)
	m.ops[key] = entry
	return nil
}

func (m *MemoryIdempotency) Abandon(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.ops[key]; ok && entry.op.State == domain.OperationPending {
		delete(m.ops, key)
	}
	return nil
}

func (m *MemoryIdempotency) live(key string) (memoryOperation, bool) {
	entry, ok := m.ops[key]
	if !ok {
		return memoryOperation{}, false
	}
	if !m.now().Before(entry.expiresAt) {
		delete(m.ops, key)
		return memoryOperation{}, false
	}
	return entry, true
}
