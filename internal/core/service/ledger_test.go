package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/tiered-checkout/internal/adapter/storage"
	"github.com/rl1809/tiered-checkout/internal/core/domain"
	"github.com/rl1809/tiered-checkout/internal/testutil"
)

func newTestLedger() (*Ledger, *testutil.Clock) {
	clock := testutil.NewClock(testEpoch)
	return NewLedger(storage.NewMemoryIdempotency(clock.Now), time.Hour, clock.Now, nil), clock
}

func TestLedger_FreshThenDuplicate(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	begin, err := ledger.Begin(ctx, "k-1", domain.OperationCheckout, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, BeginFresh, begin.Status)

	require.NoError(t, ledger.Complete(ctx, "k-1", []byte(`{"status":"COMMITTED"}`)))

	begin, err = ledger.Begin(ctx, "k-1", domain.OperationCheckout, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, BeginDuplicate, begin.Status)
	assert.JSONEq(t, `{"status":"COMMITTED"}`, string(begin.Result))
}

func TestLedger_Conflict(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	_, err := ledger.Begin(ctx, "k-1", domain.OperationCheckout, "fp-1")
	require.NoError(t, err)

	begin, err := ledger.Begin(ctx, "k-1", domain.OperationCheckout, "fp-2")
	require.NoError(t, err)
	assert.Equal(t, BeginConflict, begin.Status)

	begin, err = ledger.Begin(ctx, "k-1", domain.OperationAdjust, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, BeginConflict, begin.Status)
}

func TestLedger_InProgressAndAbandon(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	_, err := ledger.Begin(ctx, "k-1", domain.OperationCheckout, "fp-1")
	require.NoError(t, err)

	_, err = ledger.Begin(ctx, "k-1", domain.OperationCheckout, "fp-1")
	assert.ErrorIs(t, err, domain.ErrOperationInProgress)

	ledger.Abandon(ctx, "k-1")

	begin, err := ledger.Begin(ctx, "k-1", domain.OperationCheckout, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, BeginFresh, begin.Status)
}

func TestLedger_Horizon(t *testing.T) {
	ledger, clock := newTestLedger()
	ctx := context.Background()

	_, err := ledger.Begin(ctx, "k-1", domain.OperationCheckout, "fp-1")
	require.NoError(t, err)
	require.NoError(t, ledger.Complete(ctx, "k-1", []byte(`{}`)))

	clock.Advance(59 * time.Minute)
	begin, err := ledger.Begin(ctx, "k-1", domain.OperationCheckout, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, BeginDuplicate, begin.Status)

	clock.Advance(2 * time.Minute)
	begin, err = ledger.Begin(ctx, "k-1", domain.OperationCheckout, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, BeginFresh, begin.Status)
}

func TestLedger_PendingLease(t *testing.T) {
	ledger, clock := newTestLedger()
	ledger.WithPendingLease(10 * time.Minute)
	ctx := context.Background()

	// An attempt that died without completing or abandoning its key.
	_, err := ledger.Begin(ctx, "k-1", domain.OperationCheckout, "fp-1")
	require.NoError(t, err)

	clock.Advance(9 * time.Minute)
	_, err = ledger.Begin(ctx, "k-1", domain.OperationCheckout, "fp-1")
	assert.ErrorIs(t, err, domain.ErrOperationInProgress)

	clock.Advance(2 * time.Minute)
	begin, err := ledger.Begin(ctx, "k-1", domain.OperationCheckout, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, BeginFresh, begin.Status)

	// Completed results keep the full horizon.
	require.NoError(t, ledger.Complete(ctx, "k-1", []byte(`{}`)))
	clock.Advance(30 * time.Minute)
	begin, err = ledger.Begin(ctx, "k-1", domain.OperationCheckout, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, BeginDuplicate, begin.Status)
}

func TestLedger_PendingLeaseNotAboveHorizon(t *testing.T) {
	ledger, _ := newTestLedger()
	assert.Equal(t, time.Hour, ledger.WithPendingLease(2*time.Hour).pendingTTL())
	assert.Equal(t, time.Hour, ledger.WithPendingLease(0).pendingTTL())
	assert.Equal(t, time.Minute, ledger.WithPendingLease(time.Minute).pendingTTL())
}

func TestLedger_EmptyKey(t *testing.T) {
	ledger, _ := newTestLedger()
	_, err := ledger.Begin(context.Background(), "", domain.OperationCheckout, "fp")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLedger_ConcurrentBeginOneWinner(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		fresh  int
		others int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			begin, err := ledger.Begin(ctx, "k-1", domain.OperationCheckout, "fp")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && begin.Status == BeginFresh:
				fresh++
			case errors.Is(err, domain.ErrOperationInProgress):
				others++
			default:
				t.Errorf("unexpected outcome %v %v", begin.Status, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
	assert.Equal(t, 49, others)
}

func TestBeginStatus_String(t *testing.T) {
	assert.Equal(t, "fresh", BeginFresh.String())
	assert.Equal(t, "duplicate", BeginDuplicate.String())
	assert.Equal(t, "conflict", BeginConflict.String())
	assert.Equal(t, "BeginStatus(9)", BeginStatus(9).String())
}
