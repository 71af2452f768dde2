package handler

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
	"github.com/rl1809/tiered-checkout/internal/core/service"
)

type GRPCHandler struct {
	engine *service.Engine
	logger *zap.Logger
}

var _ CheckoutServiceServer = (*GRPCHandler)(nil)

func NewGRPCHandler(engine *service.Engine, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{engine: engine, logger: logger}
}

// SubmitCheckout reports every checkout outcome in the response. Only
// requests that were not processed at all come back as status errors.
func (h *GRPCHandler) SubmitCheckout(ctx context.Context, req *SubmitCheckoutRequest) (*SubmitCheckoutResponse, error) {
	lines := make([]domain.CartLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		line, err := h.engine.BuildCartLine(ctx, l.ProductID, l.TierID, int(l.Quantity))
		if errors.Is(err, domain.ErrValidation) {
			return &SubmitCheckoutResponse{
				Status:  string(domain.CheckoutRejected),
				OrderID: req.OrderID,
				Reason:  domain.ReasonValidation,
				Message: err.Error(),
			}, nil
		}
		if err != nil {
			return nil, h.toStatus(err)
		}
		lines = append(lines, line)
	}

	result, err := h.engine.SubmitCheckout(ctx, service.CheckoutRequest{
		IdempotencyKey: req.IdempotencyKey,
		OrderID:        req.OrderID,
		LocationID:     req.LocationID,
		Lines:          lines,
		Actor:          req.Actor,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}

	resp := &SubmitCheckoutResponse{
		Status:           string(result.Status),
		OrderID:          result.OrderID,
		Reason:           result.Reason,
		Message:          result.Message,
		ReconciliationID: result.ReconciliationID,
	}
	if result.Receipt != nil {
		resp.ReceiptID = result.Receipt.ID
		resp.Total = result.Receipt.Total.StringFixed(2)
		resp.AuthorizationID = result.Receipt.AuthorizationID
	}
	return resp, nil
}

func (h *GRPCHandler) AdjustInventory(ctx context.Context, req *AdjustInventoryRequest) (*AdjustInventoryResponse, error) {
	result, err := h.engine.AdjustInventory(ctx, service.AdjustRequest{
		IdempotencyKey: req.IdempotencyKey,
		ProductID:      req.ProductID,
		LocationID:     req.LocationID,
		Delta:          req.Delta,
		Reason:         req.Reason,
		Actor:          req.Actor,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}

	return &AdjustInventoryResponse{
		Status:           string(result.Status),
		Level:            levelMessage(result.Level),
		ReconciliationID: result.ReconciliationID,
		Message:          result.Message,
	}, nil
}

func (h *GRPCHandler) GetInventoryLevel(ctx context.Context, req *GetInventoryLevelRequest) (*InventoryLevel, error) {
	level, err := h.engine.GetInventoryLevel(ctx, req.ProductID, req.LocationID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	msg := levelMessage(level)
	return &msg, nil
}

func (h *GRPCHandler) GetReconciliationSummary(ctx context.Context, req *GetReconciliationSummaryRequest) (*GetReconciliationSummaryResponse, error) {
	if req.LocationID == "" {
		return nil, status.Error(codes.InvalidArgument, "location_id is required")
	}

	summary, err := h.engine.GetReconciliationSummary(ctx, req.LocationID)
	if err != nil {
		return nil, h.toStatus(err)
	}

	resp := &GetReconciliationSummaryResponse{Unresolved: make(map[string]int32, len(summary))}
	for d, n := range summary {
		resp.Unresolved[string(d)] = int32(n)
	}
	return resp, nil
}

func levelMessage(l domain.InventoryLevel) InventoryLevel {
	return InventoryLevel{
		ProductID:  l.ProductID,
		LocationID: l.LocationID,
		OnHand:     l.OnHand,
		Held:       l.Held,
		Available:  l.Available,
	}
}

func (h *GRPCHandler) toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrOperationInProgress):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		h.logger.Error("grpc request failed", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}
