package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
	"github.com/rl1809/tiered-checkout/internal/core/service"
)

type HTTPHandler struct {
	engine *service.Engine
	logger *zap.Logger
}

type CheckoutLineHTTP struct {
	ProductID string `json:"product_id"`
	TierID    string `json:"tier_id"`
	Quantity  int    `json:"quantity"`
}

type CheckoutHTTPRequest struct {
	IdempotencyKey string             `json:"idempotency_key"`
	OrderID        string             `json:"order_id"`
	LocationID     string             `json:"location_id"`
	Actor          string             `json:"actor"`
	Lines          []CheckoutLineHTTP `json:"lines"`
}

type AdjustHTTPRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	ProductID      string `json:"product_id"`
	LocationID     string `json:"location_id"`
	Delta          int64  `json:"delta"`
	Reason         string `json:"reason"`
	Actor          string `json:"actor"`
}

type ResolveHTTPRequest struct {
	Resolution string `json:"resolution"`
	Actor      string `json:"actor"`
}

type OrderHTTPResponse struct {
	ID              string            `json:"id"`
	LocationID      string            `json:"location_id"`
	State           domain.OrderState `json:"state"`
	Reason          string            `json:"reason,omitempty"`
	Lines           []domain.CartLine `json:"lines"`
	Total           decimal.Decimal   `json:"total"`
	HoldIDs         []string          `json:"hold_ids,omitempty"`
	AuthorizationID string            `json:"authorization_id,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

type ErrorHTTPResponse struct {
	Error string `json:"error"`
}

func NewHTTPHandler(engine *service.Engine, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{engine: engine, logger: logger}
}

func (h *HTTPHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("POST /api/checkout", h.Checkout)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.CancelOrder)
	mux.HandleFunc("POST /api/inventory/adjust", h.AdjustInventory)
	mux.HandleFunc("GET /api/inventory/{product}/{location}", h.GetInventoryLevel)
	mux.HandleFunc("GET /api/reconciliation", h.ListReconciliation)
	mux.HandleFunc("GET /api/reconciliation/summary", h.ReconciliationSummary)
	mux.HandleFunc("POST /api/reconciliation/{id}/resolve", h.ResolveReconciliation)
	return h.logRequests(mux)
}

func (h *HTTPHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "invalid request body"})
		return
	}

	lines := make([]domain.CartLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		line, err := h.engine.BuildCartLine(r.Context(), l.ProductID, l.TierID, l.Quantity)
		if errors.Is(err, domain.ErrValidation) {
			writeJSON(w, http.StatusBadRequest, domain.CheckoutResult{
				Status:  domain.CheckoutRejected,
				OrderID: req.OrderID,
				Reason:  domain.ReasonValidation,
				Message: err.Error(),
			})
			return
		}
		if err != nil {
			h.writeError(w, err)
			return
		}
		lines = append(lines, line)
	}

	result, err := h.engine.SubmitCheckout(r.Context(), service.CheckoutRequest{
		IdempotencyKey: req.IdempotencyKey,
		OrderID:        req.OrderID,
		LocationID:     req.LocationID,
		Lines:          lines,
		Actor:          req.Actor,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, checkoutStatus(result), result)
}

// checkoutStatus maps a checkout outcome to the response code registers
// branch on. The body always carries the full result.
func checkoutStatus(res *domain.CheckoutResult) int {
	switch res.Status {
	case domain.CheckoutCommitted:
		return http.StatusOK
	case domain.CheckoutDeclined:
		return http.StatusPaymentRequired
	case domain.CheckoutRejected:
		switch res.Reason {
		case domain.ReasonInsufficientStock:
			return http.StatusGone
		case domain.ReasonCancelled:
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case domain.CheckoutExpired:
		return http.StatusGatewayTimeout
	case domain.CheckoutReconciliationRequired:
		return http.StatusAccepted
	default:
		return http.StatusServiceUnavailable
	}
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.engine.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse(order))
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.engine.CancelCheckout(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse(order))
}

func orderResponse(o *domain.Order) OrderHTTPResponse {
	return OrderHTTPResponse{
		ID:              o.ID,
		LocationID:      o.LocationID,
		State:           o.State,
		Reason:          o.Reason,
		Lines:           o.Lines,
		Total:           o.Total,
		HoldIDs:         o.HoldIDs,
		AuthorizationID: o.AuthorizationID,
		UpdatedAt:       o.UpdatedAt,
	}
}

func (h *HTTPHandler) AdjustInventory(w http.ResponseWriter, r *http.Request) {
	var req AdjustHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "invalid request body"})
		return
	}

	result, err := h.engine.AdjustInventory(r.Context(), service.AdjustRequest{
		IdempotencyKey: req.IdempotencyKey,
		ProductID:      req.ProductID,
		LocationID:     req.LocationID,
		Delta:          req.Delta,
		Reason:         req.Reason,
		Actor:          req.Actor,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	if result.Status == domain.AdjustConflict {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

func (h *HTTPHandler) GetInventoryLevel(w http.ResponseWriter, r *http.Request) {
	level, err := h.engine.GetInventoryLevel(r.Context(), r.PathValue("product"), r.PathValue("location"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, level)
}

func (h *HTTPHandler) ListReconciliation(w http.ResponseWriter, r *http.Request) {
	d := domain.ReconciliationDomain(r.URL.Query().Get("domain"))
	entries, err := h.engine.ListReconciliation(r.Context(), d)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.ReconciliationEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *HTTPHandler) ReconciliationSummary(w http.ResponseWriter, r *http.Request) {
	location := r.URL.Query().Get("location")
	if location == "" {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "location is required"})
		return
	}

	summary, err := h.engine.GetReconciliationSummary(r.Context(), location)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *HTTPHandler) ResolveReconciliation(w http.ResponseWriter, r *http.Request) {
	var req ResolveHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "invalid request body"})
		return
	}

	entry, err := h.engine.ResolveReconciliation(r.Context(), r.PathValue("id"), req.Resolution, req.Actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, domain.ErrValidation):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrOperationInProgress):
		w.Header().Set("Retry-After", "1")
		status, message = http.StatusConflict, "operation in progress"
	case errors.Is(err, domain.ErrConflict):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrInsufficientStock):
		status, message = http.StatusGone, "sold out"
	default:
		h.logger.Error("request failed", zap.Error(err))
	}

	writeJSON(w, status, ErrorHTTPResponse{Error: message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *HTTPHandler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		h.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
