package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ariefcatur/diecast-orders/internal/stock"
)

const (
	EventOrderSubmitted     = "OrderSubmitted"
	EventOrderApproved      = "OrderApproved"
	EventOrderSoldOut       = "OrderSoldOut"
	EventReceiptSubmitted   = "ReceiptSubmitted"
	EventPaymentApproved    = "PaymentApproved"
	EventPaymentRejected    = "PaymentRejected"
	EventOrderCancelled     = "OrderCancelled"
	EventOrderVoided        = "OrderVoided"
	EventOrderShipped       = "OrderShipped"
	EventOrderCompleted     = "OrderCompleted"
	EventRushFeeAdded       = "RushFeeAdded"
	EventPaymentHoldChanged = "PaymentHoldChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// OrderChangedPayload is the common payload: a snapshot of the three statuses
// plus whatever the specific transition adds.
type OrderChangedPayload struct {
	OrderID         string         `json:"order_id"`
	CustomerID      string         `json:"customer_id"`
	Status          Status         `json:"status"`
	Stage           Stage          `json:"stage"`
	PaymentStatus   PaymentStatus  `json:"payment_status"`
	ShippingStatus  ShippingStatus `json:"shipping_status"`
	CancelledReason CancelReason   `json:"cancelled_reason,omitempty"`
	Total           int64          `json:"total"`
	PaymentDeadline *time.Time     `json:"payment_deadline,omitempty"`
	PaymentHold     bool           `json:"payment_hold"`
	TrackingNumber  string         `json:"tracking_number,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Actor           string         `json:"actor,omitempty"`
	Note            string         `json:"note,omitempty"`
}

type SoldOutPayload struct {
	OrderChangedPayload
	SoldOut  []stock.Shortfall `json:"sold_out"`
	Restored []CartItem        `json:"restored_to_cart,omitempty"`
}

// Snapshot is the status view of o that events carry and the status cache holds.
func Snapshot(o *Order) OrderChangedPayload {
	return OrderChangedPayload{
		OrderID:         o.ID,
		CustomerID:      o.CustomerID,
		Status:          o.Status,
		Stage:           o.Stage(),
		PaymentStatus:   o.PaymentStatus,
		ShippingStatus:  o.ShippingStatus,
		CancelledReason: o.CancelledReason,
		Total:           o.Total,
		PaymentDeadline: o.PaymentDeadline,
		PaymentHold:     o.PaymentHold,
		TrackingNumber:  o.TrackingNumber,
		UpdatedAt:       o.UpdatedAt,
	}
}

type traceKey struct{}

// WithTraceID attaches a request id that ends up in the envelopes of events the
// request causes.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	s, _ := ctx.Value(traceKey{}).(string)
	return s
}

// Publisher delivers envelopes to subscribers. Publishing happens after the
// transition committed; a failure is logged, never rolled back.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}
