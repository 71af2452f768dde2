package handler

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/tiered-checkout/internal/adapter/payment"
	"github.com/rl1809/tiered-checkout/internal/adapter/storage"
	"github.com/rl1809/tiered-checkout/internal/core/domain"
	"github.com/rl1809/tiered-checkout/internal/core/service"
)

const testLocation = "store-1"

type testEngine struct {
	engine   *service.Engine
	payments *payment.Simulator
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	logger := zaptest.NewLogger(t)
	repo := storage.NewMemoryStore()
	catalog, err := storage.NewCatalog(domain.Product{
		ID:   "preroll",
		Name: "Pre-Roll",
		Tiers: []domain.Tier{
			{ID: "single", UnitsPerTier: 1, Price: decimal.RequireFromString("7.00")},
			{ID: "three-pack", UnitsPerTier: 3, Price: decimal.RequireFromString("20.00")},
		},
	})
	require.NoError(t, err)

	payments := payment.NewSimulator(payment.SimulatorConfig{}, logger)
	ledger := service.NewLedger(storage.NewMemoryIdempotency(time.Now), time.Hour, time.Now, logger)
	store := service.NewInventoryStore(repo, service.InventoryStoreConfig{HoldTTL: time.Minute, Logger: logger})
	holds := service.NewHoldManager(store, repo, logger)
	queue := service.NewReconciliationQueue(repo, repo, time.Now, logger)
	coordinator := service.NewCoordinator(service.CoordinatorDeps{
		Catalog:  catalog,
		Orders:   repo,
		Payments: payments,
		Ledger:   ledger,
		Store:    store,
		Holds:    holds,
		Queue:    queue,
		Logger:   logger,
	})
	engine := service.NewEngine(service.EngineDeps{
		Catalog:     catalog,
		Ledger:      ledger,
		Store:       store,
		Holds:       holds,
		Coordinator: coordinator,
		Queue:       queue,
		Logger:      logger,
	})

	require.NoError(t, engine.StockInventory(context.Background(), "preroll", testLocation, 10, "tester"))
	return &testEngine{engine: engine, payments: payments}
}
