package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/diecast-orders/internal/fees"
	kafkax "github.com/ariefcatur/diecast-orders/internal/kafka"
	"github.com/ariefcatur/diecast-orders/internal/logger"
	"github.com/ariefcatur/diecast-orders/internal/metrics"
	"github.com/ariefcatur/diecast-orders/internal/stock"
)

const (
	ActorCustomer = "customer"
	ActorStaff    = "staff"
	ActorSystem   = "system"
)

// Service is the order state machine. It is the only writer of status,
// payment_status and shipping_status.
type Service struct {
	Store  Store
	Events Publisher
	Log    *logger.Logger
	// Now defaults to time.Now; tests pin it.
	Now func() time.Time

	PaymentWindow     time.Duration
	RejectGrace       time.Duration
	PriorityAvailable bool
	Pickup            fees.Schedule
	ServiceName       string
}

type CartLine struct {
	VariantID string `json:"variant_id"`
	Qty       int    `json:"qty"`
}

type SubmitRequest struct {
	CustomerID    string          `json:"customer_id"`
	Channel       Channel         `json:"channel"`
	Lines         []CartLine      `json:"lines"`
	PaymentMethod string          `json:"payment_method"`
	Region        fees.Region     `json:"region"`
	Shipping      ShippingDetails `json:"-"`

	PriorityRequested bool   `json:"priority_requested"`
	InsuranceSelected bool   `json:"insurance_selected"`
	InsuranceFee      *int64 `json:"insurance_fee,omitempty"`
}

type QuoteRequest struct {
	Lines             []CartLine  `json:"lines"`
	Method            fees.Method `json:"method"`
	Region            fees.Region `json:"region"`
	COP               bool        `json:"cop"`
	PriorityRequested bool        `json:"priority_requested"`
	InsuranceSelected bool        `json:"insurance_selected"`
	InsuranceFee      *int64      `json:"insurance_fee,omitempty"`
}

type ApproveResult struct {
	OK                bool          `json:"ok"`
	SoldOutVariantIDs []string      `json:"sold_out_variant_ids"`
	Order             *Order        `json:"order"`
	SoldOut           *SoldOutSplit `json:"sold_out,omitempty"`
}

// MaxLineQty bounds one cart line so line totals stay far from int64 overflow.
const MaxLineQty = 999

var (
	errNotDue         = errors.New("not due")
	errAlreadyApplied = errors.New("already applied")
)

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) log() *logger.Logger {
	if s.Log == nil {
		return logger.Nop()
	}
	return s.Log
}

// Quote prices a cart without touching anything.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (fees.Breakdown, error) {
	lines, _, err := s.priceLines(ctx, req.Lines)
	if err != nil {
		return fees.Breakdown{}, err
	}
	if err := checkMethod(lines, req.Method); err != nil {
		return fees.Breakdown{}, err
	}
	return s.compute(lines, req.Method, req.Region, fees.Options{
		COP:               req.COP,
		PriorityRequested: req.PriorityRequested,
		InsuranceSelected: req.InsuranceSelected,
		InsuranceFee:      req.InsuranceFee,
	})
}

// Submit validates a checkout and records it as PENDING_APPROVAL. Stock is only
// checked, not held; holding happens at approval.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Order, error) {
	o, err := s.submit(ctx, req)
	metrics.RecordOrderOperation("submit", err == nil)
	if err != nil {
		return nil, err
	}
	s.log().Info("order submitted", "order_id", o.ID, "customer_id", o.CustomerID, "total", o.Total)
	s.emit(ctx, EventOrderSubmitted, o, ActorCustomer, "", nil)
	return o, nil
}

func (s *Service) submit(ctx context.Context, req SubmitRequest) (*Order, error) {
	if req.CustomerID == "" {
		return nil, ErrMissingCustomer
	}
	channel := req.Channel
	if channel == "" {
		channel = ChannelWeb
	}
	if !channel.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, req.Channel)
	}
	if len(req.Lines) == 0 {
		return nil, ErrEmptyCart
	}
	if req.Shipping == nil {
		return nil, fmt.Errorf("%w: shipping_details", ErrMissingShippingField)
	}
	shipping, err := req.Shipping.normalize(s.Pickup)
	if err != nil {
		return nil, err
	}
	method := shipping.Method()

	lines, variants, err := s.priceLines(ctx, req.Lines)
	if err != nil {
		return nil, err
	}
	if err := checkMethod(lines, method); err != nil {
		return nil, err
	}
	for _, l := range lines {
		if v := variants[l.VariantID]; v.Sellable() < l.Qty {
			return nil, fmt.Errorf("%w: %s", ErrOutOfStock, l.VariantID)
		}
	}

	b, err := s.compute(lines, method, req.Region, fees.Options{
		COP:               cop(shipping),
		PriorityRequested: req.PriorityRequested,
		InsuranceSelected: req.InsuranceSelected,
		InsuranceFee:      req.InsuranceFee,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	o := &Order{
		ID:             uuid.NewString(),
		CustomerID:     req.CustomerID,
		Channel:        channel,
		Status:         StatusPendingApproval,
		PaymentStatus:  PaymentUnpaid,
		PaymentMethod:  req.PaymentMethod,
		ShippingMethod: method,
		ShippingRegion: regionFor(method, req.Region),
		Shipping:       shipping,
		Subtotal:       b.Subtotal,
		ShippingFee:    b.ShippingFee,
		COPFee:         b.COPFee,
		LalamoveFee:    b.LalamoveFee,
		PriorityFee:    b.PriorityFee,
		InsuranceFee:   b.InsuranceFee,
		Total:          b.Total,
		FeeLines:       b.Lines,
		Warnings:       b.Warnings,
		ShippingStatus: ShippingNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, l := range lines {
		v := variants[l.VariantID]
		o.Lines = append(o.Lines, Line{
			VariantID: l.VariantID,
			Title:     v.Title,
			Qty:       l.Qty,
			UnitPrice: v.PriceCents,
			Condition: v.Condition,
			ShipClass: v.ShipClass,
		})
	}

	if err := s.Store.Create(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// priceLines folds duplicate cart lines and snapshots price and class from the
// catalog. Client-sent prices never reach the calculator.
func (s *Service) priceLines(ctx context.Context, cart []CartLine) ([]fees.Line, map[string]stock.Variant, error) {
	if len(cart) == 0 {
		return nil, nil, ErrEmptyCart
	}
	qty := map[string]int{}
	for _, c := range cart {
		if c.Qty <= 0 || c.Qty > MaxLineQty {
			return nil, nil, fmt.Errorf("%w: %s", ErrInvalidQty, c.VariantID)
		}
		qty[c.VariantID] += c.Qty
		if qty[c.VariantID] > MaxLineQty {
			return nil, nil, fmt.Errorf("%w: %s over %d", ErrInvalidQty, c.VariantID, MaxLineQty)
		}
	}
	ids := make([]string, 0, len(qty))
	for id := range qty {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	variants, err := s.Store.Ledger().Variants(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	lines := make([]fees.Line, 0, len(ids))
	for _, id := range ids {
		v, ok := variants[id]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", stock.ErrUnknownVariant, id)
		}
		lines = append(lines, fees.Line{VariantID: id, Qty: qty[id], UnitPrice: v.PriceCents, ShipClass: v.ShipClass})
	}
	return lines, variants, nil
}

// checkMethod rejects carts holding an item the method cannot carry.
func checkMethod(lines []fees.Line, method fees.Method) error {
	for _, l := range lines {
		if l.ShipClass.LalamoveOnly() && method != fees.MethodLalamove {
			return fmt.Errorf("%w: %s ships by Lalamove only", ErrUnsupportedMethodForItem, l.VariantID)
		}
	}
	return nil
}

func (s *Service) compute(lines []fees.Line, method fees.Method, region fees.Region, opts fees.Options) (fees.Breakdown, error) {
	opts.PriorityAvailable = s.PriorityAvailable
	b, err := fees.Compute(lines, method, regionFor(method, region), opts)
	switch {
	case errors.Is(err, fees.ErrUnknownMethod), errors.Is(err, fees.ErrUnknownRegion):
		return fees.Breakdown{}, fmt.Errorf("%w: %v", ErrInvalidShipping, err)
	case errors.Is(err, fees.ErrNegativeInsurance):
		return fees.Breakdown{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return b, err
}

// regionFor fills the region for methods that only run inside Metro Manila.
func regionFor(m fees.Method, r fees.Region) fees.Region {
	if r == "" && (m == fees.MethodLalamove || m == fees.MethodPickup) {
		return fees.RegionMetroManila
	}
	return r
}

// Approve reserves every open line in one all-or-nothing call. On a shortfall
// the order is reconciled instead: sold-out lines are cancelled, the rest go
// back to the cart, and the order is cancelled SOLD_OUT.
func (s *Service) Approve(ctx context.Context, id string) (ApproveResult, error) {
	var split *SoldOutSplit
	o, err := s.Store.Transition(ctx, id, func(ctx context.Context, o *Order, tx Tx) error {
		if o.Status != StatusPendingApproval {
			return ErrInvalidState
		}
		if o.ReservationID == "" {
			o.ReservationID = uuid.NewString()
		}
		short, err := tx.Ledger().Reserve(ctx, o.ReservationID, o.activeItems())
		if err != nil {
			return err
		}
		now := s.now()
		o.UpdatedAt = now

		if len(short) > 0 {
			sp := splitSoldOut(o, short, now)
			if err := o.moveTo(StatusCancelled); err != nil {
				return err
			}
			o.CancelledReason = ReasonSoldOut
			if len(sp.Restored) > 0 {
				if err := tx.RestoreCart(ctx, o.CustomerID, sp.Restored); err != nil {
					return err
				}
			}
			split = &sp
			return nil
		}

		if err := o.moveTo(StatusAwaitingPayment); err != nil {
			return err
		}
		o.PaymentDeadline = ptr(now.Add(s.PaymentWindow))
		return nil
	})
	metrics.RecordOrderOperation("approve", err == nil)
	if err != nil {
		metrics.RecordReservation("error")
		return ApproveResult{}, err
	}

	if split != nil {
		metrics.RecordReservation("sold_out")
		s.log().Warn("order sold out at approval", "order_id", o.ID, "sold_out", split.SoldOutVariantIDs)
		p := Snapshot(o)
		p.Actor = ActorStaff
		s.emit(ctx, EventOrderSoldOut, o, ActorStaff, "", &SoldOutPayload{
			OrderChangedPayload: p,
			SoldOut:             split.SoldOut,
			Restored:            split.Restored,
		})
		return ApproveResult{OK: false, SoldOutVariantIDs: split.SoldOutVariantIDs, Order: o, SoldOut: split}, nil
	}

	metrics.RecordReservation("reserved")
	s.log().Info("order approved", "order_id", o.ID, "deadline", o.PaymentDeadline)
	s.emit(ctx, EventOrderApproved, o, ActorStaff, "", nil)
	return ApproveResult{OK: true, SoldOutVariantIDs: []string{}, Order: o}, nil
}

// SubmitReceipt freezes the payment countdown. The reservation stays held.
func (s *Service) SubmitReceipt(ctx context.Context, id, receiptURL string) (*Order, error) {
	receiptURL = strings.TrimSpace(receiptURL)
	if receiptURL == "" {
		metrics.RecordOrderOperation("submit_receipt", false)
		return nil, ErrMissingReceipt
	}
	o, err := s.transition(ctx, "submit_receipt", id, func(ctx context.Context, o *Order, tx Tx) error {
		if o.Status != StatusAwaitingPayment {
			return ErrInvalidState
		}
		if err := o.setPayment(PaymentSubmitted); err != nil {
			return err
		}
		if err := o.moveTo(StatusPaymentSubmitted); err != nil {
			return err
		}
		o.ReceiptURL = ptr(receiptURL)
		o.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, EventReceiptSubmitted, o, ActorCustomer, "", nil)
	return o, nil
}

// ReviewPayment settles a submitted receipt. Approving commits the reservation;
// rejecting sends the order back to AWAITING_PAYMENT with at least RejectGrace
// left on the clock.
func (s *Service) ReviewPayment(ctx context.Context, id string, approve bool, note string) (*Order, error) {
	op, event := "review_payment_reject", EventPaymentRejected
	if approve {
		op, event = "review_payment_approve", EventPaymentApproved
	}
	o, err := s.transition(ctx, op, id, func(ctx context.Context, o *Order, tx Tx) error {
		if o.Status != StatusPaymentSubmitted {
			return ErrInvalidState
		}
		now := s.now()
		o.PaymentNote = note
		o.UpdatedAt = now

		if !approve {
			if err := o.setPayment(PaymentRejected); err != nil {
				return err
			}
			if err := o.moveTo(StatusAwaitingPayment); err != nil {
				return err
			}
			floor := now.Add(s.RejectGrace)
			if o.PaymentDeadline == nil || o.PaymentDeadline.Before(floor) {
				o.PaymentDeadline = ptr(floor)
			}
			return nil
		}

		if err := o.setPayment(PaymentPaid); err != nil {
			return err
		}
		if err := o.moveTo(StatusPaid); err != nil {
			return err
		}
		o.PaidAt = ptr(now)
		o.ShippingStatus = ShippingPreparingToShip
		return tx.Ledger().Commit(ctx, o.ReservationID)
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, event, o, ActorStaff, note, nil)
	return o, nil
}

// CancelPending is the customer's cancel; it is refused once payment is approved.
func (s *Service) CancelPending(ctx context.Context, id string) (*Order, error) {
	o, err := s.transition(ctx, "cancel", id, func(ctx context.Context, o *Order, tx Tx) error {
		if o.PaymentStatus == PaymentPaid {
			return ErrInvalidState
		}
		switch o.Status {
		case StatusPendingApproval, StatusAwaitingPayment, StatusPaymentSubmitted:
		default:
			return ErrInvalidState
		}
		return s.cancel(ctx, o, tx, ReasonCustomer)
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, EventOrderCancelled, o, ActorCustomer, "", nil)
	return o, nil
}

// Void is the staff override from any open state. Stock already sold to a paid
// order is not put back.
func (s *Service) Void(ctx context.Context, id, note string) (*Order, error) {
	o, err := s.transition(ctx, "void", id, func(ctx context.Context, o *Order, tx Tx) error {
		if o.Status.Terminal() {
			return ErrInvalidState
		}
		held := o.Status != StatusPaid && o.Status != StatusShipped
		if err := o.moveTo(StatusVoided); err != nil {
			return err
		}
		o.CancelledReason = ReasonStaffVoid
		o.VoidNote = note
		o.UpdatedAt = s.now()
		o.cancelOpenLines(ReasonStaffVoid)
		if held && o.ReservationID != "" {
			return tx.Ledger().Release(ctx, o.ReservationID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, EventOrderVoided, o, ActorStaff, note, nil)
	return o, nil
}

// ExpireIfDue cancels an unpaid order whose window ran out. Everything is
// re-read under the order lock, so a receipt or hold that landed after the scan
// wins and the call reports false.
func (s *Service) ExpireIfDue(ctx context.Context, id string) (bool, error) {
	o, err := s.Store.Transition(ctx, id, func(ctx context.Context, o *Order, tx Tx) error {
		if o.Status != StatusAwaitingPayment || o.PaymentHold || o.PaymentDeadline == nil {
			return errNotDue
		}
		if !o.PaymentDeadline.Before(s.now()) {
			return errNotDue
		}
		return s.cancel(ctx, o, tx, ReasonPaymentTimeout)
	})
	if errors.Is(err, errNotDue) {
		return false, nil
	}
	metrics.RecordOrderOperation("expire", err == nil)
	if err != nil {
		return false, err
	}
	s.log().Info("order expired", "order_id", o.ID)
	s.emit(ctx, EventOrderCancelled, o, ActorSystem, "", nil)
	return true, nil
}

// cancel moves o to CANCELLED and returns any held stock. The release is the
// last step so nothing after it can fail.
func (s *Service) cancel(ctx context.Context, o *Order, tx Tx, reason CancelReason) error {
	if err := o.moveTo(StatusCancelled); err != nil {
		return err
	}
	o.CancelledReason = reason
	o.UpdatedAt = s.now()
	o.cancelOpenLines(reason)
	if o.ReservationID != "" {
		return tx.Ledger().Release(ctx, o.ReservationID)
	}
	return nil
}

func (s *Service) MarkShipped(ctx context.Context, id, courier, tracking string) (*Order, error) {
	tracking = strings.TrimSpace(tracking)
	if tracking == "" {
		metrics.RecordOrderOperation("ship", false)
		return nil, ErrMissingTracking
	}
	o, err := s.transition(ctx, "ship", id, func(ctx context.Context, o *Order, tx Tx) error {
		if o.Status != StatusPaid || o.ShippingStatus != ShippingPreparingToShip {
			return ErrInvalidState
		}
		if err := o.moveTo(StatusShipped); err != nil {
			return err
		}
		now := s.now()
		o.ShippingStatus = ShippingShipped
		o.Courier = courier
		o.TrackingNumber = tracking
		o.ShippedAt = ptr(now)
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, EventOrderShipped, o, ActorStaff, "", nil)
	return o, nil
}

func (s *Service) MarkCompleted(ctx context.Context, id string) (*Order, error) {
	return s.complete(ctx, "complete", id, ActorStaff)
}

func (s *Service) ConfirmReceived(ctx context.Context, id string) (*Order, error) {
	return s.complete(ctx, "confirm_received", id, ActorCustomer)
}

func (s *Service) complete(ctx context.Context, op, id, actor string) (*Order, error) {
	o, err := s.transition(ctx, op, id, func(ctx context.Context, o *Order, tx Tx) error {
		if o.Status != StatusShipped {
			return ErrInvalidState
		}
		if err := o.moveTo(StatusCompleted); err != nil {
			return err
		}
		now := s.now()
		o.ShippingStatus = ShippingCompleted
		o.CompletedAt = ptr(now)
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, EventOrderCompleted, o, actor, "", nil)
	return o, nil
}

// AddRushFee adds a one-off rush line before payment. A second call is a no-op
// whatever the state, so retries are safe; applied reports whether this call
// changed the order.
func (s *Service) AddRushFee(ctx context.Context, id string, amount int64) (o *Order, applied bool, err error) {
	if amount <= 0 {
		metrics.RecordOrderOperation("rush_fee", false)
		return nil, false, fmt.Errorf("%w: rush fee must be > 0", ErrInvalidAmount)
	}
	o, err = s.transition(ctx, "rush_fee", id, func(ctx context.Context, o *Order, tx Tx) error {
		if o.RushFee > 0 {
			return errAlreadyApplied
		}
		if o.Status != StatusPendingApproval && o.Status != StatusAwaitingPayment {
			return ErrInvalidState
		}
		o.RushFee = amount
		o.FeeLines = append(o.FeeLines, fees.FeeLine{Code: fees.LineRush, Label: "Rush fee", Amount: amount})
		o.Total += amount
		o.UpdatedAt = s.now()
		return nil
	})
	if errors.Is(err, errAlreadyApplied) {
		o, err = s.Store.Get(ctx, id)
		return o, false, err
	}
	if err != nil {
		return nil, false, err
	}
	s.emit(ctx, EventRushFeeAdded, o, ActorStaff, "", nil)
	return o, true, nil
}

// SetPaymentHold pauses or resumes the payment timer of an open order.
func (s *Service) SetPaymentHold(ctx context.Context, id string, hold bool) (*Order, error) {
	o, err := s.transition(ctx, "payment_hold", id, func(ctx context.Context, o *Order, tx Tx) error {
		if o.Status.Terminal() {
			return ErrInvalidState
		}
		if o.PaymentHold == hold {
			return errAlreadyApplied
		}
		o.PaymentHold = hold
		o.UpdatedAt = s.now()
		return nil
	})
	if errors.Is(err, errAlreadyApplied) {
		return s.Store.Get(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	s.emit(ctx, EventPaymentHoldChanged, o, ActorStaff, "", nil)
	return o, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.Store.Get(ctx, id)
}

func (s *Service) Cart(ctx context.Context, customerID string) ([]CartItem, error) {
	return s.Store.Cart(ctx, customerID)
}

func (s *Service) Sellable(ctx context.Context, variantID string) (int, error) {
	return s.Store.Ledger().Sellable(ctx, variantID)
}

// transition runs fn under the order lock and records the outcome. The
// internal no-op sentinels are not counted as failures.
func (s *Service) transition(ctx context.Context, op, id string, fn TxFunc) (*Order, error) {
	o, err := s.Store.Transition(ctx, id, fn)
	if errors.Is(err, errAlreadyApplied) {
		metrics.RecordOrderOperation(op, true)
		return nil, err
	}
	metrics.RecordOrderOperation(op, err == nil)
	if err != nil {
		if !IsValidation(err) && !errors.Is(err, ErrInvalidState) && !errors.Is(err, ErrNotFound) {
			s.log().Error("order transition failed", "op", op, "order_id", id, err)
		}
		return nil, err
	}
	s.log().Info("order transition", "op", op, "order_id", id, "status", o.Status)
	return o, nil
}

// emit publishes after the transition committed. A lost event is logged, the
// order change stands.
func (s *Service) emit(ctx context.Context, eventType string, o *Order, actor, note string, payload any) {
	if s.Events == nil {
		return
	}
	if payload == nil {
		p := Snapshot(o)
		p.Actor = actor
		p.Note = note
		payload = p
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    s.now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       traceID(ctx),
		CorrelationID: o.ID,
		Payload:       kafkax.MustMarshal(payload),
	}
	if err := s.Events.Publish(ctx, env); err != nil {
		s.log().Warn("publish event failed", "event", eventType, "order_id", o.ID, err)
	}
}
