package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/tiered-checkout/internal/adapter/storage"
	"github.com/rl1809/tiered-checkout/internal/core/domain"
	"github.com/rl1809/tiered-checkout/internal/testutil"
)

const testLocation = "store-1"

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakePayments answers every authorization with the configured result.
// onAuthorize runs first and can move the clock or run the sweep to model
// a processor that answers late.
type fakePayments struct {
	mu          sync.Mutex
	calls       map[string]int
	result      domain.PaymentResult
	err         error
	onAuthorize func(req domain.PaymentRequest)
}

func newFakePayments() *fakePayments {
	return &fakePayments{
		calls:  make(map[string]int),
		result: domain.PaymentResult{Status: domain.PaymentAuthorized, AuthorizationID: "auth-1"},
	}
}

func (p *fakePayments) Authorize(ctx context.Context, req domain.PaymentRequest) (domain.PaymentResult, error) {
	p.mu.Lock()
	p.calls[req.OrderID]++
	hook, res, err := p.onAuthorize, p.result, p.err
	p.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	return res, err
}

func (p *fakePayments) callsFor(orderID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[orderID]
}

type harness struct {
	clock    *testutil.Clock
	repo     *storage.MemoryStore
	idem     *storage.MemoryIdempotency
	catalog  *storage.Catalog
	payments *fakePayments

	resolver    *TierResolver
	ledger      *Ledger
	store       *InventoryStore
	holds       *HoldManager
	queue       *ReconciliationQueue
	coordinator *Coordinator
	engine      *Engine
}

func testProducts() []domain.Product {
	return []domain.Product{
		{
			ID:   "gummies",
			Name: "Gummies",
			Tiers: []domain.Tier{
				{ID: "single", Label: "1 tin", UnitsPerTier: 1, Price: decimal.RequireFromString("18.50")},
				{ID: "two-pack", Label: "2 for $34", UnitsPerTier: 2, Price: decimal.RequireFromString("34.00")},
			},
		},
		{
			ID:   "preroll",
			Name: "Pre-Roll",
			Tiers: []domain.Tier{
				{ID: "single", Label: "1 for $7", UnitsPerTier: 1, Price: decimal.RequireFromString("7.00")},
				{ID: "three-pack", Label: "3 for $20", UnitsPerTier: 3, Price: decimal.RequireFromString("20.00")},
			},
		},
		{
			ID:   "vape",
			Name: "Vape Cart",
			Tiers: []domain.Tier{
				{ID: "single", Label: "1 cart", UnitsPerTier: 1, Price: decimal.RequireFromString("30.00")},
			},
		},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := zaptest.NewLogger(t)
	clock := testutil.NewClock(testEpoch)
	repo := storage.NewMemoryStore()
	idem := storage.NewMemoryIdempotency(clock.Now)
	catalog, err := storage.NewCatalog(testProducts()...)
	require.NoError(t, err)
	payments := newFakePayments()

	resolver := NewTierResolver()
	ledger := NewLedger(idem, time.Hour, clock.Now, logger)
	store := NewInventoryStore(repo, InventoryStoreConfig{HoldTTL: 5 * time.Minute, Now: clock.Now, Logger: logger})
	holds := NewHoldManager(store, repo, logger)
	queue := NewReconciliationQueue(repo, repo, clock.Now, logger)
	coordinator := NewCoordinator(CoordinatorDeps{
		Catalog:  catalog,
		Orders:   repo,
		Payments: payments,
		Resolver: resolver,
		Ledger:   ledger,
		Store:    store,
		Holds:    holds,
		Queue:    queue,
		Now:      clock.Now,
		Logger:   logger,
	})
	engine := NewEngine(EngineDeps{
		Catalog:     catalog,
		Resolver:    resolver,
		Ledger:      ledger,
		Store:       store,
		Holds:       holds,
		Coordinator: coordinator,
		Queue:       queue,
		Logger:      logger,
	})

	return &harness{
		clock:       clock,
		repo:        repo,
		idem:        idem,
		catalog:     catalog,
		payments:    payments,
		resolver:    resolver,
		ledger:      ledger,
		store:       store,
		holds:       holds,
		queue:       queue,
		coordinator: coordinator,
		engine:      engine,
	}
}

func (h *harness) stock(t *testing.T, productID string, qty int64) {
	t.Helper()
	require.NoError(t, h.store.Stock(context.Background(), productID, testLocation, qty, "tester"))
}

func (h *harness) level(t *testing.T, productID string) domain.InventoryLevel {
	t.Helper()
	lvl, err := h.store.Level(context.Background(), productID, testLocation)
	require.NoError(t, err)
	return lvl
}

func (h *harness) line(t *testing.T, productID, tierID string, multiplier int) domain.CartLine {
	t.Helper()
	line, err := h.engine.BuildCartLine(context.Background(), productID, tierID, multiplier)
	require.NoError(t, err)
	return line
}

func (h *harness) checkoutRequest(lines ...domain.CartLine) CheckoutRequest {
	return CheckoutRequest{
		IdempotencyKey: uuid.New().String(),
		OrderID:        "order-" + uuid.New().String(),
		LocationID:     testLocation,
		Lines:          lines,
		Actor:          "register-1",
	}
}
