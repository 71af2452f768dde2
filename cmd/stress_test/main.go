package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/tiered-checkout/internal/adapter/payment"
	"github.com/rl1809/tiered-checkout/internal/adapter/storage"
	"github.com/rl1809/tiered-checkout/internal/app"
	"github.com/rl1809/tiered-checkout/internal/core/domain"
	"github.com/rl1809/tiered-checkout/internal/core/service"
)

const (
	productID    = "preroll"
	locationID   = "store-1"
	initialStock = 60
	packSize     = 3
	registers    = 50
	authLatency  = 2 * time.Millisecond
)

func main() {
	ctx := context.Background()

	catalog, err := storage.NewCatalog(domain.Product{
		ID:   productID,
		Name: "Pre-Roll",
		Tiers: []domain.Tier{
			{ID: "three-pack", Label: "3 for $20", UnitsPerTier: packSize, Price: decimal.RequireFromString("20.00")},
		},
	})
	if err != nil {
		log.Fatalf("failed to build catalog: %v", err)
	}

	repo := storage.NewMemoryStore()
	engine := app.Build(app.Deps{
		Catalog:        catalog,
		Inventory:      repo,
		Orders:         repo,
		Idempotency:    storage.NewMemoryIdempotency(time.Now),
		Reconciliation: repo,
		Audit:          repo,
		Payments:       payment.NewSimulator(payment.SimulatorConfig{Latency: authLatency}, nil),
		HoldTTL:        time.Minute,
		Horizon:        time.Hour,
	})

	if err := engine.StockInventory(ctx, productID, locationID, initialStock, "stress"); err != nil {
		log.Fatalf("failed to set stock: %v", err)
	}

	keys := make([]string, registers)
	for i := range keys {
		keys[i] = uuid.New().String()
	}

	// Every register buys one three-pack; then every register retries its
	// own request with the same key.
	first := runRound(ctx, engine, keys)
	replay := runRound(ctx, engine, keys)

	level, err := engine.GetInventoryLevel(ctx, productID, locationID)
	if err != nil {
		log.Fatalf("failed to read level: %v", err)
	}

	expectedCommits := int32(initialStock / packSize)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d units\n", initialStock)
	fmt.Printf("Registers:        %d x %d units\n", registers, packSize)
	fmt.Printf("Committed:        %d\n", first.committed.Load())
	fmt.Printf("Rejected:         %d\n", first.rejected.Load())
	fmt.Printf("Other:            %d\n", first.other.Load())
	fmt.Printf("Duration:         %v\n", first.elapsed)
	fmt.Printf("Replay Committed: %d\n", replay.committed.Load())
	fmt.Printf("Final Level:      on hand %d, held %d\n", level.OnHand, level.Held)
	fmt.Println("==========================================")

	if first.committed.Load() == expectedCommits && first.rejected.Load() == registers-expectedCommits {
		fmt.Printf("PASS: Exactly %d checkouts committed\n", expectedCommits)
	} else {
		fmt.Printf("FAIL: Expected %d committed/%d rejected, got %d/%d\n",
			expectedCommits, registers-expectedCommits, first.committed.Load(), first.rejected.Load())
	}

	if replay.committed.Load() == first.committed.Load() {
		fmt.Println("PASS: Replays returned the stored outcome")
	} else {
		fmt.Printf("FAIL: Replays committed %d, first round %d\n", replay.committed.Load(), first.committed.Load())
	}

	if level.OnHand == 0 && level.Held == 0 {
		fmt.Println("PASS: Stock depleted to 0, no holds left")
	} else {
		fmt.Printf("FAIL: Expected stock 0/0, got %d/%d\n", level.OnHand, level.Held)
	}
}

type round struct {
	committed atomic.Int32
	rejected  atomic.Int32
	other     atomic.Int32
	elapsed   time.Duration
}

func runRound(ctx context.Context, engine *service.Engine, keys []string) *round {
	r := &round{}
	var wg sync.WaitGroup
	start := time.Now()

	for i, key := range keys {
		wg.Add(1)
		go func(register int, key string) {
			defer wg.Done()

			line, err := engine.BuildCartLine(ctx, productID, "three-pack", 1)
			if err != nil {
				r.other.Add(1)
				return
			}
			res, err := engine.SubmitCheckout(ctx, service.CheckoutRequest{
				IdempotencyKey: key,
				OrderID:        fmt.Sprintf("order-%d", register),
				LocationID:     locationID,
				Lines:          []domain.CartLine{line},
				Actor:          fmt.Sprintf("register-%d", register),
			})
			switch {
			case err != nil:
				r.other.Add(1)
			case res.Status == domain.CheckoutCommitted:
				r.committed.Add(1)
			case res.Status == domain.CheckoutRejected:
				r.rejected.Add(1)
			default:
				r.other.Add(1)
			}
		}(i, key)
	}

	wg.Wait()
	r.elapsed = time.Since(start)
	return r
}
