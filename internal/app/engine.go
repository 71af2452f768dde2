package app

import (
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/tiered-checkout/internal/core/service"
	"github.com/rl1809/tiered-checkout/internal/port"
)

const pendingLeaseMargin = time.Minute

type Deps struct {
	Catalog        port.CatalogRepository
	Inventory      port.InventoryRepository
	Orders         port.OrderRepository
	Idempotency    port.IdempotencyRepository
	Reconciliation port.ReconciliationRepository
	Audit          port.AuditRepository
	Payments       port.PaymentProcessor
	Publisher      port.AuditPublisher
	HoldTTL        time.Duration
	Horizon        time.Duration
	Now            func() time.Time
	Logger         *zap.Logger
}

// Build assembles the services over the given ports.
func Build(d Deps) *service.Engine {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	resolver := service.NewTierResolver()
	holdTTL := d.HoldTTL
	if holdTTL <= 0 {
		holdTTL = service.DefaultHoldTTL
	}
	// A checkout never outlives its holds, so a pending key older than that
	// belongs to an attempt that died.
	ledger := service.NewLedger(d.Idempotency, d.Horizon, d.Now, d.Logger.Named("ledger")).
		WithPendingLease(holdTTL + pendingLeaseMargin)
	store := service.NewInventoryStore(d.Inventory, service.InventoryStoreConfig{
		HoldTTL:   d.HoldTTL,
		Now:       d.Now,
		Publisher: d.Publisher,
		Logger:    d.Logger.Named("inventory"),
	})
	holds := service.NewHoldManager(store, d.Inventory, d.Logger.Named("holds"))
	queue := service.NewReconciliationQueue(d.Reconciliation, d.Audit, d.Now, d.Logger.Named("reconciliation"))
	coordinator := service.NewCoordinator(service.CoordinatorDeps{
		Catalog:  d.Catalog,
		Orders:   d.Orders,
		Payments: d.Payments,
		Resolver: resolver,
		Ledger:   ledger,
		Store:    store,
		Holds:    holds,
		Queue:    queue,
		Now:      d.Now,
		Logger:   d.Logger.Named("checkout"),
	})

	return service.NewEngine(service.EngineDeps{
		Catalog:     d.Catalog,
		Resolver:    resolver,
		Ledger:      ledger,
		Store:       store,
		Holds:       holds,
		Coordinator: coordinator,
		Queue:       queue,
		Logger:      d.Logger,
	})
}
