package orders

import (
	"time"

	"github.com/ariefcatur/diecast-orders/internal/fees"
	"github.com/ariefcatur/diecast-orders/internal/stock"
)

// Order amounts are centavos.
type Order struct {
	ID             string          `json:"id"`
	CustomerID     string          `json:"customer_id"`
	Channel        Channel         `json:"channel"`
	Status         Status          `json:"status"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	PaymentMethod  string          `json:"payment_method"`
	ShippingMethod fees.Method     `json:"shipping_method"`
	ShippingRegion fees.Region     `json:"shipping_region"`
	Shipping       ShippingDetails `json:"shipping_details"`

	Subtotal     int64          `json:"subtotal"`
	ShippingFee  int64          `json:"shipping_fee"`
	COPFee       int64          `json:"cop_fee"`
	LalamoveFee  int64          `json:"lalamove_fee"`
	PriorityFee  int64          `json:"priority_fee"`
	InsuranceFee int64          `json:"insurance_fee"`
	RushFee      int64          `json:"rush_fee"`
	Total        int64          `json:"total"`
	FeeLines     []fees.FeeLine `json:"fee_lines"`
	Warnings     []string       `json:"warnings,omitempty"`

	PaymentDeadline *time.Time `json:"payment_deadline,omitempty"`
	PaymentHold     bool       `json:"payment_hold"`
	ReceiptURL      *string    `json:"receipt_url,omitempty"`
	PaymentNote     string     `json:"payment_note,omitempty"`
	ReservationID   string     `json:"-"`

	CancelledReason CancelReason `json:"cancelled_reason,omitempty"`
	VoidNote        string       `json:"void_note,omitempty"`

	ShippingStatus ShippingStatus `json:"shipping_status"`
	Courier        string         `json:"courier,omitempty"`
	TrackingNumber string         `json:"tracking_number,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	ShippedAt   *time.Time `json:"shipped_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Lines []Line `json:"lines"`
}

// Line is one (order, variant) pair. Price, condition and class are snapshots
// taken at submit time.
type Line struct {
	VariantID    string         `json:"variant_id"`
	Title        string         `json:"title"`
	Qty          int            `json:"qty_requested"`
	UnitPrice    int64          `json:"unit_price_snapshot"`
	Condition    string         `json:"condition_snapshot"`
	ShipClass    fees.ShipClass `json:"ship_class"`
	Cancelled    bool           `json:"is_cancelled"`
	CancelReason CancelReason   `json:"cancel_reason,omitempty"`
}

// CartItem is a cart entry handed back to a customer.
type CartItem struct {
	VariantID     string    `json:"variant_id"`
	Qty           int       `json:"qty"`
	SourceOrderID string    `json:"source_order_id,omitempty"`
	AddedAt       time.Time `json:"added_at"`
}

func (o *Order) activeItems() []stock.Item {
	out := make([]stock.Item, 0, len(o.Lines))
	for _, l := range o.Lines {
		if !l.Cancelled {
			out = append(out, stock.Item{VariantID: l.VariantID, Qty: l.Qty})
		}
	}
	return out
}

// moveTo applies a status change if the transition table allows it.
func (o *Order) moveTo(to Status) error {
	if !CanTransition(o.Status, to) {
		return ErrInvalidState
	}
	o.Status = to
	return nil
}

// setPayment refuses to move a PAID order anywhere else.
func (o *Order) setPayment(ps PaymentStatus) error {
	if o.PaymentStatus == PaymentPaid && ps != PaymentPaid {
		return ErrInvalidState
	}
	o.PaymentStatus = ps
	return nil
}

// cancelOpenLines flips every still-open line; lines already cancelled keep
// their original reason.
func (o *Order) cancelOpenLines(reason CancelReason) {
	for i := range o.Lines {
		if !o.Lines[i].Cancelled {
			o.Lines[i].Cancelled = true
			o.Lines[i].CancelReason = reason
		}
	}
}

// PaymentTimeLeft is the live countdown. It only runs in AWAITING_PAYMENT; once a
// receipt is submitted the countdown is frozen and ok is false.
func (o *Order) PaymentTimeLeft(now time.Time) (left time.Duration, ok bool) {
	if o.Status != StatusAwaitingPayment || o.PaymentDeadline == nil {
		return 0, false
	}
	left = o.PaymentDeadline.Sub(now)
	if left < 0 {
		left = 0
	}
	return left, true
}

// Stage derives the list bucket shown to customers and staff.
func (o *Order) Stage() Stage {
	switch o.Status {
	case StatusPendingApproval:
		return StageToApprove
	case StatusAwaitingPayment:
		return StageToPay
	case StatusPaymentSubmitted:
		return StageVerifying
	case StatusPaid:
		return StageToShip
	case StatusShipped:
		return StageToReceive
	case StatusCompleted:
		return StageCompleted
	default:
		return StageCancelled
	}
}

func (o *Order) clone() *Order {
	cp := *o
	cp.Lines = append([]Line(nil), o.Lines...)
	cp.FeeLines = append([]fees.FeeLine(nil), o.FeeLines...)
	cp.Warnings = append([]string(nil), o.Warnings...)
	return &cp
}

func ptr[T any](v T) *T { return &v }
