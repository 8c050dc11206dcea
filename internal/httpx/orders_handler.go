package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/diecast-orders/internal/fees"
	"github.com/ariefcatur/diecast-orders/internal/logger"
	"github.com/ariefcatur/diecast-orders/internal/orders"
	"github.com/ariefcatur/diecast-orders/internal/redisx"
	"github.com/ariefcatur/diecast-orders/internal/stock"
	"github.com/ariefcatur/diecast-orders/internal/suggest"
)

type OrdersHandler struct {
	Orders  *orders.Service
	Suggest suggest.Suggester
	Redis   redis.Cmdable
	Log     *logger.Logger
}

type SubmitOrderReq struct {
	// IdempotencyKey makes a retried checkout return the order it already created.
	IdempotencyKey    string            `json:"idempotency_key"`
	CustomerID        string            `json:"customer_id"`
	Channel           orders.Channel    `json:"channel"`
	Lines             []orders.CartLine `json:"lines"`
	PaymentMethod     string            `json:"payment_method"`
	ShippingMethod    fees.Method       `json:"shipping_method"`
	ShippingRegion    fees.Region       `json:"shipping_region"`
	ShippingDetails   json.RawMessage   `json:"shipping_details"`
	PriorityRequested bool              `json:"priority_requested"`
	InsuranceSelected bool              `json:"insurance_selected"`
	InsuranceFee      *int64            `json:"insurance_fee,omitempty"`
}

type SubmitOrderResp struct {
	Order      *orders.Order `json:"order"`
	Idempotent bool          `json:"idempotent"`
}

type OrderResp struct {
	*orders.Order
	Stage orders.Stage `json:"stage"`
	// PaymentTimeLeftSeconds is set only while the countdown runs.
	PaymentTimeLeftSeconds *int64 `json:"payment_time_left_seconds,omitempty"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.submitOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Post("/orders/{id}/approve", h.approveOrder)
	r.Post("/orders/{id}/receipt", h.submitReceipt)
	r.Post("/orders/{id}/review", h.reviewPayment)
	r.Post("/orders/{id}/void", h.voidOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Post("/orders/{id}/ship", h.markShipped)
	r.Post("/orders/{id}/confirm-received", h.confirmReceived)
	r.Post("/orders/{id}/complete", h.markCompleted)
	r.Post("/orders/{id}/rush-fee", h.addRushFee)
	r.Post("/orders/{id}/hold", h.setPaymentHold)
	r.Post("/fees/quote", h.quote)
	r.Get("/variants/{id}/sellable", h.sellable)
	r.Get("/customers/{id}/cart", h.cart)
	r.Post("/suggestions", h.suggestions)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "INVALID_JSON"})
		return false
	}
	return true
}

// fail maps domain errors onto status codes. The error code is the sentinel
// text; wrapped detail goes to "detail".
func (h *OrdersHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case orders.IsValidation(err):
		code, _, _ := strings.Cut(err.Error(), ":")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": code, "detail": err.Error()})
	case errors.Is(err, stock.ErrUnknownVariant), errors.Is(err, stock.ErrInvalidQty):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "UNKNOWN_VARIANT", "detail": err.Error()})
	case errors.Is(err, orders.ErrInvalidState):
		writeJSON(w, http.StatusConflict, map[string]string{"error": orders.ErrInvalidState.Error()})
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": orders.ErrNotFound.Error()})
	default:
		h.Log.Error("request failed", "method", r.Method, "path", r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "INTERNAL"})
	}
}

func (h *OrdersHandler) submitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "INVALID_JSON"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Fast-path idempotency via Redis; a miss just creates the order.
	idemKey := fmt.Sprintf(redisx.KeyIdemOrderSubmit, req.IdempotencyKey)
	if req.IdempotencyKey != "" {
		if id, err := h.Redis.Get(ctx, idemKey).Result(); err == nil && id != "" {
			if o, err := h.Orders.Get(ctx, id); err == nil {
				writeJSON(w, http.StatusOK, SubmitOrderResp{Order: o, Idempotent: true})
				return
			}
		}
	}

	var shipping orders.ShippingDetails
	if len(req.ShippingDetails) > 0 || req.ShippingMethod != "" {
		d, err := orders.DecodeShipping(req.ShippingMethod, req.ShippingDetails)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		shipping = d
	}

	o, err := h.Orders.Submit(ctx, orders.SubmitRequest{
		CustomerID:        req.CustomerID,
		Channel:           req.Channel,
		Lines:             req.Lines,
		PaymentMethod:     req.PaymentMethod,
		Region:            req.ShippingRegion,
		Shipping:          shipping,
		PriorityRequested: req.PriorityRequested,
		InsuranceSelected: req.InsuranceSelected,
		InsuranceFee:      req.InsuranceFee,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if req.IdempotencyKey != "" {
		_ = h.Redis.Set(ctx, idemKey, o.ID, redisx.TTLIdempotency).Err()
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusCreated, SubmitOrderResp{Order: o})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := OrderResp{Order: o, Stage: o.Stage()}
	if left, ok := o.PaymentTimeLeft(time.Now()); ok {
		secs := int64(left / time.Second)
		resp.PaymentTimeLeftSeconds = &secs
	}
	writeJSON(w, http.StatusOK, resp)
}

// getOrderStatus serves the cached status view and falls back to the store.
func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	// 2) store
	o, err := h.Orders.Get(ctx, orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	b := h.cacheStatus(ctx, o)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

// cacheStatus writes through after every change so status reads stay fresh
// even before the projector catches up.
func (h *OrdersHandler) cacheStatus(ctx context.Context, o *orders.Order) []byte {
	b, _ := json.Marshal(orders.Snapshot(o))
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	if err := h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err(); err != nil {
		h.Log.Warn("status cache write", "order_id", o.ID, err)
	}
	return b
}

// mutate runs one order operation and answers with the updated order.
func (h *OrdersHandler) mutate(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) (*orders.Order, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := op(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) approveOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Orders.Approve(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.cacheStatus(ctx, res.Order)
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) submitReceipt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReceiptURL string `json:"receipt_url"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.mutate(w, r, func(ctx context.Context, id string) (*orders.Order, error) {
		return h.Orders.SubmitReceipt(ctx, id, req.ReceiptURL)
	})
}

func (h *OrdersHandler) reviewPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Approve bool   `json:"approve"`
		Note    string `json:"note"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.mutate(w, r, func(ctx context.Context, id string) (*orders.Order, error) {
		return h.Orders.ReviewPayment(ctx, id, req.Approve, req.Note)
	})
}

func (h *OrdersHandler) voidOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Note string `json:"note"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.mutate(w, r, func(ctx context.Context, id string) (*orders.Order, error) {
		return h.Orders.Void(ctx, id, req.Note)
	})
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.Orders.CancelPending)
}

func (h *OrdersHandler) markShipped(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Courier        string `json:"courier"`
		TrackingNumber string `json:"tracking_number"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.mutate(w, r, func(ctx context.Context, id string) (*orders.Order, error) {
		return h.Orders.MarkShipped(ctx, id, req.Courier, req.TrackingNumber)
	})
}

func (h *OrdersHandler) confirmReceived(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.Orders.ConfirmReceived)
}

func (h *OrdersHandler) markCompleted(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.Orders.MarkCompleted)
}

func (h *OrdersHandler) addRushFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int64 `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, applied, err := h.Orders.AddRushFee(ctx, chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, map[string]any{"applied": applied, "order": o})
}

func (h *OrdersHandler) setPaymentHold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hold bool `json:"hold"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.mutate(w, r, func(ctx context.Context, id string) (*orders.Order, error) {
		return h.Orders.SetPaymentHold(ctx, id, req.Hold)
	})
}

func (h *OrdersHandler) quote(w http.ResponseWriter, r *http.Request) {
	var req orders.QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "INVALID_JSON"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	b, err := h.Orders.Quote(ctx, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *OrdersHandler) sellable(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	n, err := h.Orders.Sellable(ctx, id)
	if errors.Is(err, stock.ErrUnknownVariant) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "UNKNOWN_VARIANT"})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"variant_id": id, "sellable": n})
}

func (h *OrdersHandler) cart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	items, err := h.Orders.Cart(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []orders.CartItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *OrdersHandler) suggestions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VariantIDs []string `json:"variant_ids"`
		Limit      int      `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "INVALID_JSON"})
		return
	}
	if len(req.VariantIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "MISSING_VARIANT_IDS"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	out, err := h.Suggest.SuggestSimilar(ctx, req.VariantIDs, req.Limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
