package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
)

func (h *harness) order(t *testing.T, orderID string) *domain.Order {
	t.Helper()
	order, err := h.coordinator.Order(context.Background(), orderID)
	require.NoError(t, err)
	return order
}

func TestSubmitCheckout_Commits(t *testing.T) {
	h := newHarness(t)
	h.stock(t, "preroll", 10)
	ctx := context.Background()

	req := h.checkoutRequest(h.line(t, "preroll", "three-pack", 2))
	res, err := h.coordinator.SubmitCheckout(ctx, req)
	require.NoError(t, err)

	require.Equal(t, domain.CheckoutCommitted, res.Status, res.Message)
	require.NotNil(t, res.Receipt)
	assert.True(t, res.Receipt.Total.Equal(decimal.RequireFromString("40.00")))
	assert.Equal(t, "auth-1", res.Receipt.AuthorizationID)
	assert.Equal(t, req.OrderID, res.Receipt.OrderID)

	lvl := h.level(t, "preroll")
	assert.Equal(t, int64(4), lvl.OnHand)
	assert.Equal(t, int64(0), lvl.Held)

	order := h.order(t, req.OrderID)
	assert.Equal(t, domain.OrderCommitted, order.State)
	assert.Equal(t, "auth-1", order.AuthorizationID)
	assert.Len(t, order.HoldIDs, 1)

	records, err := h.repo.ListAudit(ctx, domain.AuditEntityInventory, domain.InventoryEntityID("preroll", testLocation))
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, "register-1", records[len(records)-1].Actor)
}

func TestSubmitCheckout_AggregatesLinesPerProduct(t *testing.T) {
	h := newHarness(t)
	h.stock(t, "preroll", 6)
	ctx := context.Background()

	req := h.checkoutRequest(
		h.line(t, "preroll", "single", 3),
		h.line(t, "preroll", "three-pack", 1),
	)
	res, err := h.coordinator.SubmitCheckout(ctx, req)
	require.NoError(t, err)
	require.Equal(t, domain.CheckoutCommitted, res.Status, res.Message)

	holds, err := h.holds.HoldsForOrder(ctx, req.OrderID)
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, int64(6), holds[0].Quantity)
	assert.Equal(t, int64(0), h.level(t, "preroll").OnHand)
}

func TestSubmitCheckout_ReplayDeductsOnce(t *testing.T) {
	h := newHarness(t)
	h.stock(t, "preroll", 10)
	ctx := context.Background()

	req := h.checkoutRequest(h.line(t, "preroll", "three-pack", 1))
	first, err := h.coordinator.SubmitCheckout(ctx, req)
	require.NoError(t, err)
	require.Equal(t, domain.CheckoutCommitted, first.Status)

	second, err := h.coordinator.SubmitCheckout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	require.NotNil(t, second.Receipt)
	assert.Equal(t, first.Receipt.ID, second.Receipt.ID)

	assert.Equal(t, int64(7), h.level(t, "preroll").OnHand)
	assert.Equal(t, 1, h.payments.callsFor(req.OrderID))
}

func TestSubmitCheckout_KeyReusedForDifferentCart(t *testing.T) {
	h := newHarness(t)
	h.stock(t, "preroll", 10)
	ctx := context.Background()

	req := h.checkoutRequest(h.line(t, "preroll", "single", 1))
	_, err := h.coordinator.SubmitCheckout(ctx, req)
	require.NoError(t, err)

	req.Lines = []domain.CartLine{h.line(t, "preroll", "single", 2)}
	_, err = h.coordinator.SubmitCheckout(ctx, req)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, int64(9), h.level(t, "preroll").OnHand)
}

func TestSubmitCheckout_OrderIDReusedWithDifferentKey(t *testing.T) {
	h := newHarness(t)
	h.stock(t, "preroll", 10)
	ctx := context.Background()

	req := h.checkoutRequest(h.line(t, "preroll", "single", 1))
	_, err := h.coordinator.SubmitCheckout(ctx, req)
	require.NoError(t, err)

	req.IdempotencyKey = uuid.New().String()
	_, err = h.coordinator.SubmitCheckout(ctx, req)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, int64(9), h.level(t, "preroll").OnHand)

	// The losing key was released and can serve another order.
	other := h.checkoutRequest(h.line(t, "preroll", "single", 1))
	other.IdempotencyKey = req.IdempotencyKey
	res, err := h.coordinator.SubmitCheckout(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutCommitted, res.Status)
}

func TestSubmitCheckout_ValidationRejectsBeforeMutation(t *testing.T) {
	h := newHarness(t)
	h.stock(t, "preroll", 10)
	ctx := context.Background()

	tampered := h.line(t, "preroll", "three-pack", 1)
	tampered.LinePrice = decimal.RequireFromString("1.00")

	tests := []struct {
		name   string
		mutate func(*CheckoutRequest)
	}{
		{"empty cart", func(r *CheckoutRequest) { r.Lines = nil }},
		{"no order id", func(r *CheckoutRequest) { r.OrderID = "" }},
		{"no location", func(r *CheckoutRequest) { r.LocationID = "" }},
		{"unknown product", func(r *CheckoutRequest) {
			r.Lines[0].ProductID = "nope"
		}},
		{"tampered price", func(r *CheckoutRequest) { r.Lines = []domain.CartLine{tampered} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := h.checkoutRequest(h.line(t, "preroll", "single", 1))
			tt.mutate(&req)

			res, err := h.coordinator.SubmitCheckout(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, domain.CheckoutRejected, res.Status)
			assert.Equal(t, domain.ReasonValidation, res.Reason)

			if req.OrderID != "" {
				_, err = h.coordinator.Order(ctx, req.OrderID)
				assert.ErrorIs(t, err, domain.ErrNotFound)
			}
		})
	}

	assert.Equal(t, int64(10), h.level(t, "preroll").Available)
	assert.Zero(t, len(h.payments.calls))
}

func TestSubmitCheckout_RejectsUnitsOverflowingAcrossLines(t *testing.T) {
	h := newHarness(t)
	h.stock(t, "vape", 10)
	ctx := context.Background()

	// Each line resolves on its own; only their sum overflows.
	req := h.checkoutRequest(
		h.line(t, "vape", "single", math.MaxInt64),
		h.line(t, "vape", "single", math.MaxInt64),
		h.line(t, "vape", "single", 7),
	)
	res, err := h.coordinator.SubmitCheckout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutRejected, res.Status)
	assert.Equal(t, domain.ReasonValidation, res.Reason)

	lvl := h.level(t, "vape")
	assert.Equal(t, int64(10), lvl.OnHand)
	assert.Equal(t, int64(0), lvl.Held)
	assert.Zero(t, h.payments.callsFor(req.OrderID))

	_, err = h.coordinator.Order(ctx, req.OrderID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAggregate_Overflow(t *testing.T) {
	_, err := aggregate([]domain.CartLine{
		{ProductID: "a", DeductionUnits: math.MaxInt64 - 1},
		{ProductID: "b", DeductionUnits: 5},
		{ProductID: "a", DeductionUnits: 1},
	})
	require.NoError(t, err)

	_, err = aggregate([]domain.CartLine{
		{ProductID: "a", DeductionUnits: math.MaxInt64},
		{ProductID: "a", DeductionUnits: 1},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSubmitCheckout_RollsBackWhenLaterLineIsShort(t *testing.T) {
	h := newHarness(t)
	h.stock(t, "gummies", 10)
	h.stock(t, "preroll", 2)
	ctx := context.Background()

	req := h.checkoutRequest(
		h.line(t, "preroll", "three-pack", 1),
		h.line(t, "gummies", "two-pack", 1),
	)
	res, err := h.coordinator.SubmitCheckout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutRejected, res.Status)
	assert.Equal(t, domain.ReasonInsufficientStock, res.Reason)

	gummies := h.level(t, "gummies")
	assert.Equal(t, int64(0), gummies.Held)
	assert.Equal(t, int64(10), gummies.Available)
	assert.Equal(t, int64(2), h.level(t, "preroll").Available)

	holds, err := h.holds.HoldsForOrder(ctx, req.OrderID)
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, domain.HoldReleased, holds[0].State)

	assert.Equal(t, domain.OrderRejected, h.order(t, req.OrderID).State)
	assert.Equal(t, 0, h.payments.callsFor(req.OrderID))
}

func TestSubmitCheckout_Declined(t *testing.T) {
	h := newHarness(t)
	h.stock(t, "vape", 5)
	h.payments.result = domain.PaymentResult{Status: domain.PaymentDeclined, Reason: "insufficient funds"}
	ctx := context.Background()

	req := h.checkoutRequest(h.line(t, "vape", "single", 2))
	res, err := h.coordinator.SubmitCheckout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutDeclined, res.Status)
	assert.Equal(t, "insufficient funds", res.Message)

	lvl := h.level(t, "vape")
	assert.Equal(t, int64(5), lvl.OnHand)
	assert.Equal(t, int64(5), lvl.Available)

	order := h.order(t, req.OrderID)
	assert.Equal(t, domain.OrderReleased, order.State)
	assert.Equal(t, domain.ReasonPaymentDeclined, order.Reason)

	// Declines are final for the key.
	again, err := h.coordinator.SubmitCheckout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutDeclined, again.Status)
	assert.Equal(t, 1, h.payments.callsFor(req.OrderID))
}

func TestSubmitCheckout_PaymentTimeoutExpiresHolds(t *testing.T) {
	h := newHarness(t)
	h.stock(t, "vape", 5)
	h.payments.err = fmt.Errorf("processor: %w", context.DeadlineExceeded)
	ctx := context.Background()

	req := h.checkoutRequest(h.line(t, "vape", "single", 2))
	res, err := h.coordinator.SubmitCheckout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutExpired, res.Status)
	assert.Equal(t, domain.ReasonPaymentTimeout, res.Reason)
	require.NotEmpty(t, res.ReconciliationID)

	assert.Equal(t, int64(5), h.level(t, "vape").Available)
	assert.Equal(t, domain.OrderExpired, h.order(t, req.OrderID).State)

	holds, err := h.holds.HoldsForOrder(ctx, req.OrderID)
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, domain.HoldExpired, holds[0].State)

	entries, err := h.queue.ListUnresolved(ctx, domain.ReconcilePurchaseOrder)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, req.OrderID, entries[0].OperationRef)
}

func TestSubmitCheckout_PaymentAfterHoldExpiry(t *testing.T) {
	h := newHarness(t)
	h.stock(t, "vape", 5)
	ctx := context.Background()

	h.payments.onAuthorize = func(domain.PaymentRequest) {
		h.clock.Advance(6 * time.Minute)
		_, err := h.holds.Sweep(context.Background())
		require.NoError(t, err)
	}

	req := h.checkoutRequest(h.line(t, "vape", "single", 2))
	res, err := h.coordinator.SubmitCheckout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutReconciliationRequired, res.Status)
	assert.Equal(t, domain.ReasonHoldExpired, res.Reason)
	require.NotEmpty(t, res.ReconciliationID)

	lvl := h.level(t, "vape")
	assert.Equal(t, int64(5), lvl.OnHand)
	assert.Equal(t, int64(0), lvl.Held)

	order := h.order(t, req.OrderID)
	assert.Equal(t, domain.OrderReconciling, order.State)

	entries, err := h.queue.ListUnresolved(ctx, domain.ReconcilePurchaseOrder)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, res.ReconciliationID, entries[0].ID)
}

func TestSubmitCheckout_PartialCommitGoesToInventoryReconciliation(t *testing.T) {
	h := newHarness(t)
	h.stock(t, "gummies", 10)
	h.stock(t, "preroll", 10)
	ctx := context.Background()

	h.payments.onAuthorize = func(req domain.PaymentRequest) {
		holds, err := h.holds.HoldsForOrder(context.Background(), req.OrderID)
		require.NoError(t, err)
		for _, hold := range holds {
			if hold.ProductID == "preroll" {
				_, err := h.store.Expire(context.Background(), hold.ID, true)
				require.NoError(t, err)
			}
		}
	}

	req := h.checkoutRequest(
		h.line(t, "gummies", "single", 1),
		h.line(t, "preroll", "single", 1),
	)
	res, err := h.coordinator.SubmitCheckout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutReconciliationRequired, res.Status)

	assert.Equal(t, int64(9), h.level(t, "gummies").OnHand)
	assert.Equal(t, int64(10), h.level(t, "preroll").OnHand)

	entries, err := h.queue.ListUnresolved(ctx, domain.ReconcileInventory)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, string(entries[0].Payload), `"committed"`)
}

func TestSubmitCheckout_PaymentUnavailableIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.stock(t, "vape", 5)
	h.payments.err = errors.New("connection refused")
	ctx := context.Background()

	req := h.checkoutRequest(h.line(t, "vape", "single", 1))
	res, err := h.coordinator.SubmitCheckout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutFailed, res.Status)
	assert.Equal(t, domain.ReasonPaymentUnavailable, res.Reason)
	assert.NotEmpty(t, res.ReconciliationID)
	assert.Equal(t, int64(5), h.level(t, "vape").Available)
	assert.Equal(t, domain.OrderFailed, h.order(t, req.OrderID).State)

	entries, err := h.queue.ListUnresolved(ctx, domain.ReconcilePurchaseOrder)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, req.OrderID, entries[0].OperationRef)

	h.payments.mu.Lock()
	h.payments.err = nil
	h.payments.mu.Unlock()

	res, err = h.coordinator.SubmitCheckout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutCommitted, res.Status)
	assert.Equal(t, int64(4), h.level(t, "vape").OnHand)
	assert.Equal(t, domain.OrderCommitted, h.order(t, req.OrderID).State)
	assert.Equal(t, 2, h.payments.callsFor(req.OrderID))
}

func TestSubmitCheckout_CancelDuringPayment(t *testing.T) {
	h := newHarness(t)
	h.stock(t, "vape", 5)
	ctx := context.Background()

	h.payments.onAuthorize = func(req domain.PaymentRequest) {
		order, err := h.coordinator.Cancel(context.Background(), req.OrderID)
		require.NoError(t, err)
		require.Equal(t, domain.OrderReleased, order.State)
	}

	req := h.checkoutRequest(h.line(t, "vape", "single", 1))
	res, err := h.coordinator.SubmitCheckout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutReconciliationRequired, res.Status)
	assert.Equal(t, domain.ReasonCancelled, res.Reason)
	assert.Equal(t, int64(5), h.level(t, "vape").OnHand)
	assert.Equal(t, domain.OrderReleased, h.order(t, req.OrderID).State)

	summary, err := h.queue.Summary(ctx, testLocation)
	require.NoError(t, err)
	assert.Equal(t, 1, summary[domain.ReconcilePurchaseOrder])

	// Submitting the cancelled order again under a new key is rejected.
	h.payments.mu.Lock()
	h.payments.onAuthorize = nil
	h.payments.mu.Unlock()
	again := req
	again.IdempotencyKey = uuid.New().String()
	res, err = h.coordinator.SubmitCheckout(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutRejected, res.Status)
	assert.Equal(t, domain.ReasonCancelled, res.Reason)
	assert.Equal(t, 1, h.payments.callsFor(req.OrderID))
	assert.Equal(t, int64(5), h.level(t, "vape").OnHand)
}

func TestSubmitCheckout_CancelAfterFailureBlocksRetry(t *testing.T) {
	h := newHarness(t)
	h.stock(t, "vape", 5)
	h.payments.err = errors.New("connection reset")
	ctx := context.Background()

	req := h.checkoutRequest(h.line(t, "vape", "single", 1))
	res, err := h.coordinator.SubmitCheckout(ctx, req)
	require.NoError(t, err)
	require.Equal(t, domain.CheckoutFailed, res.Status)

	order, err := h.coordinator.Cancel(ctx, req.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderReleased, order.State)
	assert.Equal(t, domain.ReasonCancelled, order.Reason)

	// Cancelling again is a no-op.
	_, err = h.coordinator.Cancel(ctx, req.OrderID)
	require.NoError(t, err)

	h.payments.mu.Lock()
	h.payments.err = nil
	h.payments.mu.Unlock()

	res, err = h.coordinator.SubmitCheckout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutRejected, res.Status)
	assert.Equal(t, domain.ReasonCancelled, res.Reason)

	// The rejection is what the key now replays.
	res, err = h.coordinator.SubmitCheckout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutRejected, res.Status)

	assert.Equal(t, 1, h.payments.callsFor(req.OrderID))
	lvl := h.level(t, "vape")
	assert.Equal(t, int64(5), lvl.OnHand)
	assert.Equal(t, int64(0), lvl.Held)
	assert.Equal(t, domain.OrderReleased, h.order(t, req.OrderID).State)
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	h.stock(t, "vape", 5)
	ctx := context.Background()

	_, err := h.coordinator.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	committed := h.checkoutRequest(h.line(t, "vape", "single", 1))
	_, err = h.coordinator.SubmitCheckout(ctx, committed)
	require.NoError(t, err)
	_, err = h.coordinator.Cancel(ctx, committed.OrderID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	h.payments.result = domain.PaymentResult{Status: domain.PaymentDeclined}
	declined := h.checkoutRequest(h.line(t, "vape", "single", 1))
	_, err = h.coordinator.SubmitCheckout(ctx, declined)
	require.NoError(t, err)
	order, err := h.coordinator.Cancel(ctx, declined.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderReleased, order.State)
	assert.Equal(t, domain.ReasonPaymentDeclined, order.Reason)
}

func TestSubmitCheckout_ConcurrentNeverOversells(t *testing.T) {
	h := newHarness(t)
	h.stock(t, "preroll", 10)
	ctx := context.Background()

	const registers = 20
	results := make([]*domain.CheckoutResult, registers)
	var wg sync.WaitGroup
	for i := 0; i < registers; i++ {
		req := h.checkoutRequest(h.line(t, "preroll", "three-pack", 1))
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.coordinator.SubmitCheckout(ctx, req)
			if err != nil {
				t.Errorf("checkout %d: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	committed := 0
	for _, res := range results {
		require.NotNil(t, res)
		switch res.Status {
		case domain.CheckoutCommitted:
			committed++
		case domain.CheckoutRejected:
			assert.Equal(t, domain.ReasonInsufficientStock, res.Reason)
		default:
			t.Errorf("unexpected status %s", res.Status)
		}
	}

	assert.Equal(t, 3, committed)
	lvl := h.level(t, "preroll")
	assert.Equal(t, int64(1), lvl.OnHand)
	assert.Equal(t, int64(0), lvl.Held)
}

func TestSubmitCheckout_ConcurrentSameKeyDeductsOnce(t *testing.T) {
	h := newHarness(t)
	h.stock(t, "preroll", 10)
	ctx := context.Background()

	req := h.checkoutRequest(h.line(t, "preroll", "three-pack", 1))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.coordinator.SubmitCheckout(ctx, req)
			if err != nil {
				if !errors.Is(err, domain.ErrOperationInProgress) {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if res.Status != domain.CheckoutCommitted {
				t.Errorf("unexpected status %s", res.Status)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(7), h.level(t, "preroll").OnHand)
	assert.Equal(t, 1, h.payments.callsFor(req.OrderID))
}
