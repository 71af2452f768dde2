package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
	"github.com/rl1809/tiered-checkout/internal/port"
)

var ErrProcessorUnavailable = errors.New("payment processor unavailable")

// Behavior forces the outcome for a single order.
type Behavior int

const (
	Approve Behavior = iota
	Decline
	Fail
	// Hang blocks until the caller's deadline passes.
	Hang
)

type SimulatorConfig struct {
	Latency time.Duration
	// DeclineAbove declines any amount strictly greater than it. Zero disables.
	DeclineAbove decimal.Decimal
}

// Simulator is an in-process payment processor for single-site setups,
// demos and tests. Approved results are remembered per order id, so a retry
// for the same order returns the same authorization.
type Simulator struct {
	cfg    SimulatorConfig
	logger *zap.Logger

	mu       sync.Mutex
	scripted map[string]Behavior
	results  map[string]domain.PaymentResult
	calls    map[string]int
}

var _ port.PaymentProcessor = (*Simulator)(nil)

func NewSimulator(cfg SimulatorConfig, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		cfg:      cfg,
		logger:   logger,
		scripted: make(map[string]Behavior),
		results:  make(map[string]domain.PaymentResult),
		calls:    make(map[string]int),
	}
}

// Script forces the outcome of the next authorizations for orderID.
func (s *Simulator) Script(orderID string, b Behavior) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripted[orderID] = b
}

// Calls reports how many times orderID was sent for authorization.
func (s *Simulator) Calls(orderID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[orderID]
}

func (s *Simulator) Authorize(ctx context.Context, req domain.PaymentRequest) (domain.PaymentResult, error) {
	s.mu.Lock()
	s.calls[req.OrderID]++
	behavior, scripted := s.scripted[req.OrderID]
	prev, seen := s.results[req.OrderID]
	s.mu.Unlock()

	if seen {
		return prev, nil
	}

	if !scripted {
		behavior = Approve
		if s.cfg.DeclineAbove.IsPositive() && req.Amount.GreaterThan(s.cfg.DeclineAbove) {
			behavior = Decline
		}
	}

	if behavior == Hang {
		<-ctx.Done()
		return domain.PaymentResult{}, fmt.Errorf("authorize %s: %w", req.OrderID, ctx.Err())
	}

	if s.cfg.Latency > 0 {
		timer := time.NewTimer(s.cfg.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return domain.PaymentResult{}, fmt.Errorf("authorize %s: %w", req.OrderID, ctx.Err())
		case <-timer.C:
		}
	}

	var result domain.PaymentResult
	switch behavior {
	case Fail:
		return domain.PaymentResult{}, fmt.Errorf("authorize %s: %w", req.OrderID, ErrProcessorUnavailable)
	case Decline:
		result = domain.PaymentResult{Status: domain.PaymentDeclined, Reason: "insufficient funds"}
	default:
		result = domain.PaymentResult{Status: domain.PaymentAuthorized, AuthorizationID: "auth_" + uuid.New().String()}
	}

	s.mu.Lock()
	s.results[req.OrderID] = result
	s.mu.Unlock()

	s.logger.Debug("payment simulated",
		zap.String("order_id", req.OrderID),
		zap.String("amount", req.Amount.String()),
		zap.String("status", string(result.Status)),
	)
	return result, nil
}
