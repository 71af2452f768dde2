package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/tiered-checkout/internal/adapter/audit"
	"github.com/rl1809/tiered-checkout/internal/adapter/payment"
	"github.com/rl1809/tiered-checkout/internal/adapter/storage"
	"github.com/rl1809/tiered-checkout/internal/config"
	"github.com/rl1809/tiered-checkout/internal/core/domain"
	"github.com/rl1809/tiered-checkout/internal/core/service"
	"github.com/rl1809/tiered-checkout/internal/observability"
	"github.com/rl1809/tiered-checkout/internal/port"
)

// repositories groups the persistence ports one storage driver provides.
type repositories struct {
	inventory      port.InventoryRepository
	orders         port.OrderRepository
	idempotency    port.IdempotencyRepository
	reconciliation port.ReconciliationRepository
	audit          port.AuditRepository
}

// Container holds the long-lived resources of one process and the engine
// built on top of them.
type Container struct {
	Config   *config.Config
	Logger   *zap.Logger
	Engine   *service.Engine
	Payments *payment.Simulator

	closers []func(context.Context) error
}

// NewContainer connects every adapter selected by cfg and builds the engine.
// Close releases whatever was opened, also after a failed construction.
func NewContainer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (c *Container, err error) {
	c = &Container{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			c.Close(context.Background())
			c = nil
		}
	}()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Tracing)
	if err != nil {
		logger.Error("failed to set up tracing", zap.Error(err))
	}
	c.closers = append(c.closers, shutdownTracing)

	repos, err := c.setupStorage(ctx)
	if err != nil {
		return c, err
	}
	if cfg.Idempotency.Backend == config.IdempotencyRedis {
		if repos.idempotency, err = c.setupRedis(ctx); err != nil {
			return c, err
		}
	}

	catalog, stock, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return c, err
	}

	declineAbove := decimal.Zero
	if cfg.Payment.DeclineAbove != "" {
		if declineAbove, err = decimal.NewFromString(cfg.Payment.DeclineAbove); err != nil {
			return c, fmt.Errorf("payment.decline_above: %w", err)
		}
	}
	c.Payments = payment.NewSimulator(payment.SimulatorConfig{
		Latency:      cfg.Payment.Latency,
		DeclineAbove: declineAbove,
	}, logger.Named("payment"))

	var publisher port.AuditPublisher
	if len(cfg.Audit.KafkaBrokers) > 0 {
		publisher = c.setupKafka()
	}

	c.Engine = Build(Deps{
		Catalog:        catalog,
		Inventory:      repos.inventory,
		Orders:         repos.orders,
		Idempotency:    repos.idempotency,
		Reconciliation: repos.reconciliation,
		Audit:          repos.audit,
		Payments:       c.Payments,
		Publisher:      publisher,
		HoldTTL:        cfg.Holds.TTL,
		Horizon:        cfg.Idempotency.Horizon,
		Logger:         logger,
	})

	if err := Seed(ctx, c.Engine, stock, logger); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Container) setupStorage(ctx context.Context) (repositories, error) {
	if c.Config.Storage.Driver == config.StorageMemory {
		m := storage.NewMemoryStore()
		c.Logger.Warn("using in-memory storage, state is lost on restart")
		return repositories{
			inventory:      m,
			orders:         m,
			idempotency:    storage.NewMemoryIdempotency(time.Now),
			reconciliation: m,
			audit:          m,
		}, nil
	}

	s, err := storage.OpenSQL(ctx, c.Config.Storage.Driver, c.Config.Storage.DSN)
	if err != nil {
		return repositories{}, fmt.Errorf("connect storage: %w", err)
	}
	c.closers = append(c.closers, func(context.Context) error { return s.Close() })
	c.Logger.Info("connected to storage", zap.String("driver", c.Config.Storage.Driver))

	return repositories{
		inventory:      s,
		orders:         s,
		idempotency:    s,
		reconciliation: s,
		audit:          s,
	}, nil
}

func (c *Container) setupRedis(ctx context.Context) (port.IdempotencyRepository, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Config.Idempotency.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	c.closers = append(c.closers, func(context.Context) error { return rdb.Close() })
	c.Logger.Info("connected to redis", zap.String("addr", c.Config.Idempotency.RedisAddr))

	return storage.NewRedisAdapter(rdb), nil
}

func (c *Container) setupKafka() port.AuditPublisher {
	writer := audit.NewKafkaWriter(c.Config.Audit.KafkaBrokers, c.Config.Audit.Topic)
	forwarder := service.NewAuditForwarder(
		audit.NewKafkaPublisher(writer),
		c.Config.Audit.QueueSize,
		c.Config.Audit.Workers,
		c.Logger.Named("audit"),
	)

	// Drain the forwarder before the writer goes away.
	c.closers = append(c.closers, func(context.Context) error {
		forwarder.Close()
		return writer.Close()
	})
	c.Logger.Info("publishing audit records to kafka",
		zap.Strings("brokers", c.Config.Audit.KafkaBrokers),
		zap.String("topic", c.Config.Audit.Topic),
	)
	return forwarder
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close(ctx context.Context) error {
	var err error
	for i := len(c.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, c.closers[i](ctx))
	}
	c.closers = nil
	return err
}

func loadCatalog(path string) (*storage.Catalog, []storage.StockSpec, error) {
	if path == "" {
		catalog, err := storage.NewCatalog()
		return catalog, nil, err
	}

	f, err := storage.LoadCatalogFile(path)
	if err != nil {
		return nil, nil, err
	}
	catalog, err := storage.NewCatalogFromFile(f)
	if err != nil {
		return nil, nil, err
	}
	return catalog, f.Inventory, nil
}

// Seed creates the initial stock records listed in the catalog file. Records
// that already exist keep their current quantities.
func Seed(ctx context.Context, engine *service.Engine, stock []storage.StockSpec, logger *zap.Logger) error {
	for _, s := range stock {
		err := engine.StockInventory(ctx, s.ProductID, s.LocationID, s.OnHand, "catalog")
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed %s at %s: %w", s.ProductID, s.LocationID, err)
		}
		logger.Info("seeded inventory",
			zap.String("product_id", s.ProductID),
			zap.String("location_id", s.LocationID),
			zap.Int64("on_hand", s.OnHand),
		)
	}
	return nil
}
