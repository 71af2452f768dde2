package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderState string

const (
	OrderPending     OrderState = "PENDING"
	OrderHolding     OrderState = "HOLDING"
	OrderAuthorized  OrderState = "AUTHORIZED"
	OrderCommitted   OrderState = "COMMITTED"
	OrderDeclined    OrderState = "DECLINED"
	OrderReleased    OrderState = "RELEASED"
	OrderTimeout     OrderState = "TIMEOUT"
	OrderExpired     OrderState = "EXPIRED"
	OrderRejected    OrderState = "REJECTED"
	OrderFailed      OrderState = "FAILED"
	OrderReconciling OrderState = "RECONCILING"
)

var orderTransitions = map[OrderState][]OrderState{
	OrderPending:    {OrderHolding, OrderRejected, OrderReleased},
	OrderHolding:    {OrderAuthorized, OrderDeclined, OrderTimeout, OrderRejected, OrderFailed, OrderReleased},
	OrderAuthorized: {OrderCommitted, OrderReconciling},
	OrderDeclined:   {OrderReleased},
	OrderTimeout:    {OrderExpired},
	OrderFailed:     {OrderPending, OrderReleased},
}

type Order struct {
	ID              string
	LocationID      string
	IdempotencyKey  string
	Lines           []CartLine
	Total           decimal.Decimal
	State           OrderState
	HoldIDs         []string
	AuthorizationID string
	Reason          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (o *Order) Transition(to OrderState, at time.Time) error {
	for _, allowed := range orderTransitions[o.State] {
		if allowed == to {
			o.State = to
			o.UpdatedAt = at
			return nil
		}
	}
	return fmt.Errorf("order %s: %s -> %s: %w", o.ID, o.State, to, ErrConflict)
}

type PaymentStatus string

const (
	PaymentAuthorized PaymentStatus = "AUTHORIZED"
	PaymentDeclined   PaymentStatus = "DECLINED"
)

type PaymentRequest struct {
	OrderID        string
	IdempotencyKey string
	Amount         decimal.Decimal
}

type PaymentResult struct {
	Status          PaymentStatus
	AuthorizationID string
	Reason          string
}

type CheckoutStatus string

const (
	CheckoutCommitted              CheckoutStatus = "COMMITTED"
	CheckoutDeclined               CheckoutStatus = "DECLINED"
	CheckoutRejected               CheckoutStatus = "REJECTED"
	CheckoutFailed                 CheckoutStatus = "FAILED"
	CheckoutExpired                CheckoutStatus = "EXPIRED"
	CheckoutReconciliationRequired CheckoutStatus = "RECONCILIATION_REQUIRED"
)

const (
	ReasonValidation         = "validation"
	ReasonInsufficientStock  = "insufficient_stock"
	ReasonPaymentDeclined    = "payment_declined"
	ReasonPaymentUnavailable = "payment_unavailable"
	ReasonPaymentTimeout     = "payment_timeout"
	ReasonHoldExpired        = "hold_expired"
	ReasonPartialCommit      = "partial_commit"
	ReasonSystemError        = "system_error"
	ReasonCancelled          = "cancelled"
)

type Receipt struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"order_id"`
	LocationID      string          `json:"location_id"`
	Lines           []CartLine      `json:"lines"`
	Total           decimal.Decimal `json:"total"`
	AuthorizationID string          `json:"authorization_id"`
	CommittedAt     time.Time       `json:"committed_at"`
}

type CheckoutResult struct {
	Status           CheckoutStatus `json:"status"`
	OrderID          string         `json:"order_id"`
	Reason           string         `json:"reason,omitempty"`
	Message          string         `json:"message,omitempty"`
	Receipt          *Receipt       `json:"receipt,omitempty"`
	ReconciliationID string         `json:"reconciliation_id,omitempty"`
}

type AdjustStatus string

const (
	AdjustOK       AdjustStatus = "OK"
	AdjustConflict AdjustStatus = "CONFLICT"
)

type AdjustResult struct {
	Status           AdjustStatus   `json:"status"`
	Level            InventoryLevel `json:"level"`
	ReconciliationID string         `json:"reconciliation_id,omitempty"`
	Message          string         `json:"message,omitempty"`
}
