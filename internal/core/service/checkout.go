package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
	"github.com/rl1809/tiered-checkout/internal/port"
)

const tracerName = "github.com/rl1809/tiered-checkout/internal/core/service"

var errOrderCancelled = errors.New("order was cancelled")

type CheckoutRequest struct {
	IdempotencyKey string
	OrderID        string
	LocationID     string
	Lines          []domain.CartLine
	Actor          string
}

// checkoutFingerprint is the part of a request that identifies it for
// idempotent replay. Actor does not take part.
type checkoutFingerprint struct {
	OrderID    string            `json:"order_id"`
	LocationID string            `json:"location_id"`
	Lines      []domain.CartLine `json:"lines"`
}

type CoordinatorDeps struct {
	Catalog  port.CatalogRepository
	Orders   port.OrderRepository
	Payments port.PaymentProcessor
	Resolver *TierResolver
	Ledger   *Ledger
	Store    *InventoryStore
	Holds    *HoldManager
	Queue    *ReconciliationQueue
	Now      func() time.Time
	Logger   *zap.Logger
}

// Coordinator runs hold -> payment -> commit/release for one order as a
// single logical unit. It is the only writer of order state.
type Coordinator struct {
	catalog  port.CatalogRepository
	orders   port.OrderRepository
	payments port.PaymentProcessor
	resolver *TierResolver
	ledger   *Ledger
	store    *InventoryStore
	holds    *HoldManager
	queue    *ReconciliationQueue

	orderLocks *keyedMutex
	now        func() time.Time
	logger     *zap.Logger
	tracer     trace.Tracer
}

func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Resolver == nil {
		deps.Resolver = NewTierResolver()
	}
	return &Coordinator{
		catalog:    deps.Catalog,
		orders:     deps.Orders,
		payments:   deps.Payments,
		resolver:   deps.Resolver,
		ledger:     deps.Ledger,
		store:      deps.Store,
		holds:      deps.Holds,
		queue:      deps.Queue,
		orderLocks: newKeyedMutex(),
		now:        deps.Now,
		logger:     deps.Logger,
		tracer:     otel.Tracer(tracerName),
	}
}

// SubmitCheckout validates, reserves, authorizes and commits a cart. Returned
// errors mean nothing was applied: ErrConflict for a reused key or order id,
// ErrOperationInProgress while an earlier attempt with the same key runs, or
// an infrastructure failure. Every other outcome is a CheckoutResult, and all
// results except REJECTED/validation and FAILED are replayed for retries.
func (c *Coordinator) SubmitCheckout(ctx context.Context, req CheckoutRequest) (*domain.CheckoutResult, error) {
	ctx, span := c.tracer.Start(ctx, "checkout.submit", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("location.id", req.LocationID),
		attribute.Int("cart.lines", len(req.Lines)),
	))
	defer span.End()

	if err := c.validate(ctx, req); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			span.SetAttributes(attribute.String("checkout.status", string(domain.CheckoutRejected)))
			return &domain.CheckoutResult{
				Status:  domain.CheckoutRejected,
				OrderID: req.OrderID,
				Reason:  domain.ReasonValidation,
				Message: err.Error(),
			}, nil
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	fp, err := Fingerprint(domain.OperationCheckout, checkoutFingerprint{
		OrderID:    req.OrderID,
		LocationID: req.LocationID,
		Lines:      req.Lines,
	})
	if err != nil {
		return nil, err
	}

	begin, err := c.ledger.Begin(ctx, req.IdempotencyKey, domain.OperationCheckout, fp)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	switch begin.Status {
	case BeginDuplicate:
		var result domain.CheckoutResult
		if err := json.Unmarshal(begin.Result, &result); err != nil {
			return nil, fmt.Errorf("decode stored checkout result: %w", err)
		}
		span.SetAttributes(attribute.Bool("checkout.replayed", true))
		return &result, nil
	case BeginConflict:
		err := fmt.Errorf("idempotency key %s reused for a different checkout: %w", req.IdempotencyKey, domain.ErrConflict)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result, err := c.run(ctx, req)
	if err != nil {
		c.ledger.Abandon(context.WithoutCancel(ctx), req.IdempotencyKey)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("checkout.status", string(result.Status)),
		attribute.String("checkout.reason", result.Reason),
	)

	if result.Status == domain.CheckoutFailed {
		c.ledger.Abandon(context.WithoutCancel(ctx), req.IdempotencyKey)
		return result, nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode checkout result: %w", err)
	}
	if err := c.ledger.Complete(context.WithoutCancel(ctx), req.IdempotencyKey, data); err != nil {
		// The key stays pending, so a retry sees ErrOperationInProgress
		// rather than applying twice.
		c.logger.Error("failed to record checkout result",
			zap.String("order_id", req.OrderID),
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Error(err),
		)
	}
	return result, nil
}

// Cancel releases the holds of an order that has not been authorized yet.
// A FAILED order is closed as well, so a retry of its key cannot reopen it.
// Cancelling an order that is already released, expired or rejected is a
// no-op.
func (c *Coordinator) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	unlock := c.orderLocks.Lock(orderID)
	defer unlock()

	order, err := c.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}

	switch order.State {
	case domain.OrderReleased, domain.OrderExpired, domain.OrderRejected, domain.OrderDeclined:
		return order, nil
	case domain.OrderPending, domain.OrderHolding, domain.OrderFailed:
	default:
		return order, fmt.Errorf("cancel order %s in state %s: %w", orderID, order.State, domain.ErrConflict)
	}

	if err := c.releaseOrderHolds(ctx, orderID); err != nil {
		return order, err
	}
	if err := order.Transition(domain.OrderReleased, c.now()); err != nil {
		return order, err
	}
	order.Reason = domain.ReasonCancelled
	if err := c.orders.UpdateOrder(ctx, *order); err != nil {
		return order, fmt.Errorf("update order: %w", err)
	}

	c.logger.Info("order cancelled", zap.String("order_id", orderID))
	return order, nil
}

func (c *Coordinator) Order(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := c.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	return order, nil
}

func (c *Coordinator) validate(ctx context.Context, req CheckoutRequest) error {
	if req.IdempotencyKey == "" {
		return domain.NewValidationError("idempotency_key", "must not be empty")
	}
	if req.OrderID == "" {
		return domain.NewValidationError("order_id", "must not be empty")
	}
	if req.LocationID == "" {
		return domain.NewValidationError("location_id", "must not be empty")
	}
	if len(req.Lines) == 0 {
		return domain.NewValidationError("lines", "cart is empty")
	}

	for i, line := range req.Lines {
		if err := line.Validate(); err != nil {
			return fmt.Errorf("line %d: %w", i, err)
		}
		product, err := c.catalog.GetProduct(ctx, line.ProductID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewValidationError("product_id", fmt.Sprintf("line %d: unknown product %s", i, line.ProductID))
		}
		if err != nil {
			return fmt.Errorf("load product %s: %w", line.ProductID, err)
		}
		if err := c.resolver.Verify(*product, line); err != nil {
			return fmt.Errorf("line %d: %w", i, err)
		}
	}

	if _, err := aggregate(req.Lines); err != nil {
		return err
	}
	return nil
}

// run executes one fresh attempt. An error means the attempt left nothing
// behind and the key may be reused.
func (c *Coordinator) run(ctx context.Context, req CheckoutRequest) (*domain.CheckoutResult, error) {
	actor := req.Actor
	if actor == "" {
		actor = "register"
	}

	order, err := c.openOrder(ctx, req)
	if errors.Is(err, errOrderCancelled) {
		return &domain.CheckoutResult{
			Status:  domain.CheckoutRejected,
			OrderID: req.OrderID,
			Reason:  domain.ReasonCancelled,
			Message: err.Error(),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := c.updateOrder(ctx, order.ID, func(o *domain.Order) error {
		return o.Transition(domain.OrderHolding, c.now())
	}); err != nil {
		return nil, err
	}

	holds, result := c.reserve(ctx, order)
	if result != nil {
		return result, nil
	}

	// From here on stock is reserved. Finish even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	payment, err := c.authorize(ctx, order, holds)
	if err != nil {
		return c.paymentFailed(ctx, order, holds, err), nil
	}

	if payment.Status != domain.PaymentAuthorized {
		return c.declined(ctx, order, holds, payment), nil
	}

	return c.commit(ctx, order, holds, payment, actor), nil
}

func (c *Coordinator) openOrder(ctx context.Context, req CheckoutRequest) (*domain.Order, error) {
	now := c.now()
	total := decimal.Zero
	for _, l := range req.Lines {
		total = total.Add(l.LinePrice)
	}

	order := domain.Order{
		ID:             req.OrderID,
		LocationID:     req.LocationID,
		IdempotencyKey: req.IdempotencyKey,
		Lines:          req.Lines,
		Total:          total,
		State:          domain.OrderPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := c.orders.CreateOrder(ctx, order)
	if err == nil {
		return &order, nil
	}
	if !errors.Is(err, domain.ErrOrderExists) {
		return nil, fmt.Errorf("create order: %w", err)
	}

	// A previous attempt with the same key failed without lasting effect;
	// reopen it. Anything else is a different checkout using this order id.
	unlock := c.orderLocks.Lock(req.OrderID)
	defer unlock()

	existing, err := c.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if existing != nil && existing.State == domain.OrderReleased && existing.Reason == domain.ReasonCancelled {
		return nil, fmt.Errorf("order %s: %w", req.OrderID, errOrderCancelled)
	}
	if existing == nil || existing.IdempotencyKey != req.IdempotencyKey || existing.State != domain.OrderFailed {
		return nil, fmt.Errorf("order %s: %w", req.OrderID, domain.ErrConflict)
	}

	if err := c.releaseOrderHolds(ctx, req.OrderID); err != nil {
		return nil, err
	}
	if err := existing.Transition(domain.OrderPending, now); err != nil {
		return nil, err
	}
	existing.Lines = req.Lines
	existing.LocationID = req.LocationID
	existing.Total = total
	existing.HoldIDs = nil
	existing.Reason = ""
	if err := c.orders.UpdateOrder(ctx, *existing); err != nil {
		return nil, fmt.Errorf("reopen order: %w", err)
	}
	return existing, nil
}

type productUnits struct {
	productID string
	units     int64
}

// aggregate sums deduction units per product, sorted by product id so that
// two orders touching the same products take their keys in the same order.
func aggregate(lines []domain.CartLine) ([]productUnits, error) {
	sums := make(map[string]int64)
	for i, l := range lines {
		if sums[l.ProductID] > math.MaxInt64-l.DeductionUnits {
			return nil, domain.NewValidationError("quantity",
				fmt.Sprintf("line %d: total units of %s overflow", i, l.ProductID))
		}
		sums[l.ProductID] += l.DeductionUnits
	}

	out := make([]productUnits, 0, len(sums))
	for id, units := range sums {
		out = append(out, productUnits{productID: id, units: units})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].productID < out[j].productID })
	return out, nil
}

// reserve acquires one hold per product, all or nothing. A non-nil result
// ends the checkout.
func (c *Coordinator) reserve(ctx context.Context, order *domain.Order) ([]domain.Hold, *domain.CheckoutResult) {
	ctx, span := c.tracer.Start(ctx, "checkout.reserve")
	defer span.End()

	units, err := aggregate(order.Lines)
	if err != nil {
		c.finishOrder(context.WithoutCancel(ctx), order.ID, domain.OrderRejected, domain.ReasonValidation)
		return nil, &domain.CheckoutResult{
			Status:  domain.CheckoutRejected,
			OrderID: order.ID,
			Reason:  domain.ReasonValidation,
			Message: err.Error(),
		}
	}

	var holds []domain.Hold
	for _, pu := range units {
		hold, err := c.store.Reserve(ctx, order.ID, pu.productID, order.LocationID, pu.units)
		if err == nil {
			holds = append(holds, *hold)
			continue
		}

		span.SetStatus(codes.Error, err.Error())
		c.compensate(context.WithoutCancel(ctx), holds)

		if errors.Is(err, domain.ErrInsufficientStock) {
			c.finishOrder(context.WithoutCancel(ctx), order.ID, domain.OrderRejected, domain.ReasonInsufficientStock)
			return nil, &domain.CheckoutResult{
				Status:  domain.CheckoutRejected,
				OrderID: order.ID,
				Reason:  domain.ReasonInsufficientStock,
				Message: err.Error(),
			}
		}

		c.logger.Error("reservation failed",
			zap.String("order_id", order.ID),
			zap.String("product_id", pu.productID),
			zap.Error(err),
		)
		c.finishOrder(context.WithoutCancel(ctx), order.ID, domain.OrderFailed, domain.ReasonSystemError)
		return nil, &domain.CheckoutResult{
			Status:  domain.CheckoutFailed,
			OrderID: order.ID,
			Reason:  domain.ReasonSystemError,
			Message: err.Error(),
		}
	}

	holdIDs := make([]string, len(holds))
	for i, h := range holds {
		holdIDs[i] = h.ID
	}
	err = c.updateOrder(ctx, order.ID, func(o *domain.Order) error {
		if o.State != domain.OrderHolding {
			return fmt.Errorf("order %s is %s: %w", o.ID, o.State, domain.ErrConflict)
		}
		o.HoldIDs = holdIDs
		return nil
	})
	if err != nil {
		c.compensate(context.WithoutCancel(ctx), holds)
		if errors.Is(err, domain.ErrConflict) {
			// Cancelled while reserving.
			return nil, &domain.CheckoutResult{
				Status:  domain.CheckoutRejected,
				OrderID: order.ID,
				Reason:  domain.ReasonCancelled,
				Message: err.Error(),
			}
		}
		c.finishOrder(context.WithoutCancel(ctx), order.ID, domain.OrderFailed, domain.ReasonSystemError)
		return nil, &domain.CheckoutResult{
			Status:  domain.CheckoutFailed,
			OrderID: order.ID,
			Reason:  domain.ReasonSystemError,
			Message: err.Error(),
		}
	}
	return holds, nil
}

// authorize calls the payment processor with a deadline at the earliest hold
// expiry. No inventory lock is held here.
func (c *Coordinator) authorize(ctx context.Context, order *domain.Order, holds []domain.Hold) (domain.PaymentResult, error) {
	deadline := holds[0].ExpiresAt
	for _, h := range holds[1:] {
		if h.ExpiresAt.Before(deadline) {
			deadline = h.ExpiresAt
		}
	}

	payCtx, cancel := context.WithTimeout(ctx, deadline.Sub(c.now()))
	defer cancel()

	payCtx, span := c.tracer.Start(payCtx, "checkout.authorize", trace.WithAttributes(
		attribute.String("payment.amount", order.Total.StringFixed(2)),
	))
	defer span.End()

	res, err := c.payments.Authorize(payCtx, domain.PaymentRequest{
		OrderID:        order.ID,
		IdempotencyKey: order.IdempotencyKey,
		Amount:         order.Total,
	})
	if err == nil {
		span.SetAttributes(attribute.String("payment.status", string(res.Status)))
		return res, nil
	}

	span.SetStatus(codes.Error, err.Error())
	if payCtx.Err() != nil {
		return res, fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return res, err
}

func (c *Coordinator) paymentFailed(ctx context.Context, order *domain.Order, holds []domain.Hold, err error) *domain.CheckoutResult {
	if !errors.Is(err, context.DeadlineExceeded) {
		// The same key may retry; the processor answers per order id. The
		// request may still have been authorized, and the caller may never
		// retry, so the order is queued for a check either way.
		c.logger.Error("payment processor unavailable", zap.String("order_id", order.ID), zap.Error(err))
		c.compensate(ctx, holds)
		c.finishOrder(ctx, order.ID, domain.OrderFailed, domain.ReasonPaymentUnavailable)

		result := &domain.CheckoutResult{
			Status:  domain.CheckoutFailed,
			OrderID: order.ID,
			Reason:  domain.ReasonPaymentUnavailable,
			Message: err.Error(),
		}
		entry, qerr := c.queue.Enqueue(ctx, domain.ReconcilePurchaseOrder, order.LocationID, order.ID, map[string]any{
			"order_id":        order.ID,
			"idempotency_key": order.IdempotencyKey,
			"amount":          order.Total,
			"error":           err.Error(),
		}, "payment processor error; verify no authorization was captured")
		if qerr == nil {
			result.ReconciliationID = entry.ID
		}
		return result
	}

	c.logger.Warn("payment did not resolve before hold expiry", zap.String("order_id", order.ID), zap.Error(err))

	if err := c.updateOrder(ctx, order.ID, func(o *domain.Order) error {
		if err := o.Transition(domain.OrderTimeout, c.now()); err != nil {
			return err
		}
		o.Reason = domain.ReasonPaymentTimeout
		return nil
	}); err != nil {
		c.logger.Error("failed to mark order timed out", zap.String("order_id", order.ID), zap.Error(err))
	}

	if err := c.holds.ExpireOrder(ctx, order.ID); err != nil {
		c.logger.Error("failed to expire holds after payment timeout", zap.String("order_id", order.ID), zap.Error(err))
	}
	c.finishOrder(ctx, order.ID, domain.OrderExpired, domain.ReasonPaymentTimeout)

	result := &domain.CheckoutResult{
		Status:  domain.CheckoutExpired,
		OrderID: order.ID,
		Reason:  domain.ReasonPaymentTimeout,
		Message: "payment outcome unknown after hold expiry",
	}
	entry, qerr := c.queue.Enqueue(ctx, domain.ReconcilePurchaseOrder, order.LocationID, order.ID, map[string]any{
		"order_id":        order.ID,
		"idempotency_key": order.IdempotencyKey,
		"amount":          order.Total,
		"holds":           holdSnapshots(holds, nil),
		"error":           err.Error(),
	}, "payment outcome unknown after hold expiry; verify and void any authorization")
	if qerr == nil {
		result.ReconciliationID = entry.ID
	}
	return result
}

func (c *Coordinator) declined(ctx context.Context, order *domain.Order, holds []domain.Hold, payment domain.PaymentResult) *domain.CheckoutResult {
	if err := c.updateOrder(ctx, order.ID, func(o *domain.Order) error {
		if err := o.Transition(domain.OrderDeclined, c.now()); err != nil {
			return err
		}
		o.Reason = domain.ReasonPaymentDeclined
		return nil
	}); err != nil {
		c.logger.Error("failed to mark order declined", zap.String("order_id", order.ID), zap.Error(err))
	}

	c.compensate(ctx, holds)
	c.finishOrder(ctx, order.ID, domain.OrderReleased, domain.ReasonPaymentDeclined)

	return &domain.CheckoutResult{
		Status:  domain.CheckoutDeclined,
		OrderID: order.ID,
		Reason:  domain.ReasonPaymentDeclined,
		Message: payment.Reason,
	}
}

type holdOutcome struct {
	HoldID    string `json:"hold_id"`
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
}

func holdSnapshots(holds []domain.Hold, errs map[string]error) []holdOutcome {
	out := make([]holdOutcome, len(holds))
	for i, h := range holds {
		out[i] = holdOutcome{HoldID: h.ID, ProductID: h.ProductID, Quantity: h.Quantity, State: string(h.State)}
		if err := errs[h.ID]; err != nil {
			out[i].Error = err.Error()
		}
	}
	return out
}

// commit converts every hold into a deduction. Holds that can no longer be
// committed (expired by the sweep, released by a cancel) are never forced;
// the order goes to reconciliation with exactly which lines did and did not
// commit.
func (c *Coordinator) commit(ctx context.Context, order *domain.Order, holds []domain.Hold, payment domain.PaymentResult, actor string) *domain.CheckoutResult {
	ctx, span := c.tracer.Start(ctx, "checkout.commit")
	defer span.End()

	cancelled := false
	orderErr := c.updateOrder(ctx, order.ID, func(o *domain.Order) error {
		cancelled = o.State == domain.OrderReleased && o.Reason == domain.ReasonCancelled
		if err := o.Transition(domain.OrderAuthorized, c.now()); err != nil {
			return err
		}
		o.AuthorizationID = payment.AuthorizationID
		return nil
	})
	if orderErr != nil && !errors.Is(orderErr, domain.ErrConflict) {
		c.logger.Error("failed to mark order authorized", zap.String("order_id", order.ID), zap.Error(orderErr))
	}

	var committed, uncommitted []domain.Hold
	failures := make(map[string]error)
	expired := false

	if orderErr != nil && errors.Is(orderErr, domain.ErrConflict) {
		// Cancelled or timed out while payment was in flight.
		uncommitted = holds
		for _, h := range holds {
			failures[h.ID] = orderErr
		}
		expired = true
	} else {
		for _, h := range holds {
			updated, err := c.store.Commit(ctx, h.ID, actor)
			if err != nil {
				if updated != nil {
					h = *updated
				}
				failures[h.ID] = err
				uncommitted = append(uncommitted, h)
				if errors.Is(err, domain.ErrHoldExpired) || errors.Is(err, domain.ErrHoldNotActive) {
					expired = true
				}
				continue
			}
			committed = append(committed, *updated)
		}
	}

	if len(uncommitted) == 0 {
		c.finishOrder(ctx, order.ID, domain.OrderCommitted, "")
		c.logger.Info("order committed",
			zap.String("order_id", order.ID),
			zap.String("authorization_id", payment.AuthorizationID),
			zap.Int("holds", len(committed)),
		)
		return &domain.CheckoutResult{
			Status:  domain.CheckoutCommitted,
			OrderID: order.ID,
			Receipt: &domain.Receipt{
				ID:              uuid.New().String(),
				OrderID:         order.ID,
				LocationID:      order.LocationID,
				Lines:           order.Lines,
				Total:           order.Total,
				AuthorizationID: payment.AuthorizationID,
				CommittedAt:     c.now(),
			},
		}
	}

	span.SetStatus(codes.Error, "commit incomplete")

	reason := domain.ReasonPartialCommit
	switch {
	case cancelled:
		reason = domain.ReasonCancelled
	case expired:
		reason = domain.ReasonHoldExpired
	}
	recDomain := domain.ReconcilePurchaseOrder
	if len(committed) > 0 {
		recDomain = domain.ReconcileInventory
	}

	if orderErr == nil {
		c.finishOrder(ctx, order.ID, domain.OrderReconciling, reason)
	}

	result := &domain.CheckoutResult{
		Status:  domain.CheckoutReconciliationRequired,
		OrderID: order.ID,
		Reason:  reason,
		Message: fmt.Sprintf("payment authorized, %d of %d holds committed", len(committed), len(holds)),
	}
	entry, err := c.queue.Enqueue(ctx, recDomain, order.LocationID, order.ID, map[string]any{
		"order_id":         order.ID,
		"idempotency_key":  order.IdempotencyKey,
		"authorization_id": payment.AuthorizationID,
		"amount":           order.Total,
		"committed":        holdSnapshots(committed, nil),
		"uncommitted":      holdSnapshots(uncommitted, failures),
	}, fmt.Sprintf("%s: payment authorized but %d hold(s) not committed", reason, len(uncommitted)))
	if err == nil {
		result.ReconciliationID = entry.ID
	} else {
		result.Message = fmt.Sprintf("%s; %v", result.Message, domain.ErrReconciliationRequired)
	}
	return result
}

// compensate releases holds acquired by a failed attempt. Holds it cannot
// release stay ACTIVE and are returned to stock by the expiry sweep.
func (c *Coordinator) compensate(ctx context.Context, holds []domain.Hold) {
	for _, h := range holds {
		if _, err := c.store.Release(ctx, h.ID); err != nil {
			c.logger.Error("failed to release hold, leaving it to expire",
				zap.String("hold_id", h.ID),
				zap.String("order_id", h.OrderID),
				zap.Time("expires_at", h.ExpiresAt),
				zap.Error(err),
			)
		}
	}
}

func (c *Coordinator) releaseOrderHolds(ctx context.Context, orderID string) error {
	holds, err := c.holds.HoldsForOrder(ctx, orderID)
	if err != nil {
		return err
	}
	for _, h := range holds {
		if h.State != domain.HoldActive {
			continue
		}
		if _, err := c.store.Release(ctx, h.ID); err != nil {
			return fmt.Errorf("release hold %s: %w", h.ID, err)
		}
	}
	return nil
}

func (c *Coordinator) updateOrder(ctx context.Context, orderID string, mutate func(*domain.Order) error) error {
	unlock := c.orderLocks.Lock(orderID)
	defer unlock()

	order, err := c.orders.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	if err := mutate(order); err != nil {
		return err
	}
	if err := c.orders.UpdateOrder(ctx, *order); err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

// finishOrder moves an order to a terminal state, logging rather than
// failing: the checkout outcome is already decided.
func (c *Coordinator) finishOrder(ctx context.Context, orderID string, state domain.OrderState, reason string) {
	err := c.updateOrder(ctx, orderID, func(o *domain.Order) error {
		if err := o.Transition(state, c.now()); err != nil {
			return err
		}
		if reason != "" {
			o.Reason = reason
		}
		return nil
	})
	if err != nil {
		c.logger.Error("failed to record order outcome",
			zap.String("order_id", orderID),
			zap.String("state", string(state)),
			zap.Error(err),
		)
	}
}
