package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/diecast-orders/internal/fees"
	"github.com/ariefcatur/diecast-orders/internal/logger"
	"github.com/ariefcatur/diecast-orders/internal/stock"
	"github.com/ariefcatur/diecast-orders/internal/suggest"
)

type recorder struct {
	mu     sync.Mutex
	events []Envelope
}

func (r *recorder) Publish(_ context.Context, env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, env)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType
	}
	return out
}

type fixture struct {
	svc    *Service
	ledger *stock.MemoryLedger
	store  *MemStore
	events *recorder
	now    time.Time
}

func newFixture(vs ...stock.Variant) *fixture {
	ledger := stock.NewMemoryLedger(vs...)
	f := &fixture{
		ledger: ledger,
		store:  NewMemStore(ledger),
		events: &recorder{},
		now:    time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC),
	}
	f.svc = &Service{
		Store:             f.store,
		Events:            f.events,
		Log:               logger.Nop(),
		Now:               func() time.Time { return f.now },
		PaymentWindow:     12 * time.Hour,
		RejectGrace:       6 * time.Hour,
		PriorityAvailable: true,
		Pickup:            fees.Schedule{"SAT": {"10:00-12:00"}},
		ServiceName:       "order-engine-test",
	}
	return f
}

func miniGT(id string, onHand int) stock.Variant {
	return stock.Variant{
		ID: id, ProductID: "p-" + id, Title: "Mini GT " + id, Brand: "Mini GT",
		Condition: "MINT", PriceCents: 50000, ShipClass: fees.ClassMiniGT, QtyOnHand: onHand,
	}
}

func jnt() JNTDetails {
	return JNTDetails{
		FirstName: "Juan", LastName: "Dela Cruz", Phone: "+63 917 123 4567",
		Street: "1 Rizal St", City: "Makati", Province: "Metro Manila",
	}
}

func (f *fixture) submit(t *testing.T, customer string, lines ...CartLine) *Order {
	t.Helper()
	o, err := f.svc.Submit(context.Background(), SubmitRequest{
		CustomerID: customer,
		Lines:      lines,
		Region:     fees.RegionMetroManila,
		Shipping:   jnt(),
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) approved(t *testing.T, customer string, lines ...CartLine) *Order {
	t.Helper()
	o := f.submit(t, customer, lines...)
	res, err := f.svc.Approve(context.Background(), o.ID)
	require.NoError(t, err)
	require.True(t, res.OK)
	return res.Order
}

func (f *fixture) paid(t *testing.T, customer string, lines ...CartLine) *Order {
	t.Helper()
	ctx := context.Background()
	o := f.approved(t, customer, lines...)
	_, err := f.svc.SubmitReceipt(ctx, o.ID, "https://receipts.example/r.jpg")
	require.NoError(t, err)
	o, err = f.svc.ReviewPayment(ctx, o.ID, true, "")
	require.NoError(t, err)
	return o
}

func (f *fixture) variant(t *testing.T, id string) stock.Variant {
	t.Helper()
	for _, v := range f.ledger.Snapshot() {
		if v.ID == id {
			return v
		}
	}
	t.Fatalf("variant %s not in ledger", id)
	return stock.Variant{}
}

func TestSubmitSingleMiniGTByJNT(t *testing.T) {
	f := newFixture(miniGT("v", 1))

	o := f.submit(t, "c1", CartLine{VariantID: "v", Qty: 1})

	assert.Equal(t, StatusPendingApproval, o.Status)
	assert.Equal(t, PaymentUnpaid, o.PaymentStatus)
	assert.Equal(t, ShippingNone, o.ShippingStatus)
	assert.Equal(t, int64(50000), o.Subtotal)
	assert.Equal(t, int64(8500), o.ShippingFee)
	assert.Equal(t, int64(58500), o.Total)
	assert.Equal(t, "09171234567", o.Shipping.(JNTDetails).Phone)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, "MINT", o.Lines[0].Condition)
	assert.Equal(t, []string{EventOrderSubmitted}, f.events.types())

	n, _ := f.ledger.Sellable(context.Background(), "v")
	assert.Equal(t, 1, n, "submit does not hold stock")
}

func TestSubmitFoldsDuplicateLines(t *testing.T) {
	f := newFixture(miniGT("v", 5))
	o := f.submit(t, "c1", CartLine{VariantID: "v", Qty: 1}, CartLine{VariantID: "v", Qty: 2})
	require.Len(t, o.Lines, 1)
	assert.Equal(t, 3, o.Lines[0].Qty)
}

func TestSubmitValidation(t *testing.T) {
	diorama := stock.Variant{ID: "d", ProductID: "pd", Title: "Garage diorama", PriceCents: 150000,
		ShipClass: fees.ClassDiorama, QtyOnHand: 2}
	one := []CartLine{{VariantID: "v", Qty: 1}}

	cases := []struct {
		name string
		req  SubmitRequest
		want error
	}{
		{"empty cart", SubmitRequest{CustomerID: "c", Shipping: jnt()}, ErrEmptyCart},
		{"no customer", SubmitRequest{Lines: one, Shipping: jnt()}, ErrMissingCustomer},
		{"no shipping", SubmitRequest{CustomerID: "c", Lines: one}, ErrMissingShippingField},
		{"unknown channel", SubmitRequest{CustomerID: "c", Channel: "BOGUS", Lines: one, Region: fees.RegionLuzon, Shipping: jnt()}, ErrInvalidChannel},
		{"qty over line cap", SubmitRequest{CustomerID: "c", Lines: []CartLine{{VariantID: "v", Qty: 1 << 50}}, Region: fees.RegionLuzon, Shipping: jnt()}, ErrInvalidQty},
		{"folded qty over line cap", SubmitRequest{CustomerID: "c", Lines: []CartLine{{VariantID: "v", Qty: 600}, {VariantID: "v", Qty: 600}},
			Region: fees.RegionLuzon, Shipping: jnt()}, ErrInvalidQty},
		{"zero qty", SubmitRequest{CustomerID: "c", Lines: []CartLine{{VariantID: "v"}}, Region: fees.RegionLuzon, Shipping: jnt()}, ErrInvalidQty},
		{"bad phone", SubmitRequest{CustomerID: "c", Lines: one, Region: fees.RegionLuzon,
			Shipping: JNTDetails{FirstName: "a", LastName: "b", Phone: "12345", Street: "s", City: "c", Province: "p"}}, ErrInvalidPhone},
		{"lbc without branch", SubmitRequest{CustomerID: "c", Lines: one, Region: fees.RegionLuzon,
			Shipping: LBCDetails{FirstName: "a", LastName: "b", Phone: "09171234567"}}, ErrMissingShippingField},
		{"lalamove without slot", SubmitRequest{CustomerID: "c", Lines: one,
			Shipping: LalamoveDetails{Name: "a", Phone: "09171234567", Address: "x"}}, ErrMissingShippingField},
		{"lalamove unknown slot", SubmitRequest{CustomerID: "c", Lines: one,
			Shipping: LalamoveDetails{Name: "a", Phone: "09171234567", Address: "x", Slots: []string{"01:00-02:00"}}}, ErrInvalidShipping},
		{"pickup off schedule", SubmitRequest{CustomerID: "c", Lines: one,
			Shipping: PickupDetails{Name: "a", Phone: "09171234567", Day: "MON", Slot: "10:00-12:00"}}, ErrInvalidShipping},
		{"diorama by jnt", SubmitRequest{CustomerID: "c", Lines: []CartLine{{VariantID: "d", Qty: 1}}, Region: fees.RegionLuzon, Shipping: jnt()}, ErrUnsupportedMethodForItem},
		{"diorama by pickup", SubmitRequest{CustomerID: "c", Lines: []CartLine{{VariantID: "d", Qty: 1}},
			Shipping: PickupDetails{Name: "a", Phone: "09171234567", Day: "sat", Slot: "10:00-12:00"}}, ErrUnsupportedMethodForItem},
		{"more than sellable", SubmitRequest{CustomerID: "c", Lines: []CartLine{{VariantID: "v", Qty: 3}}, Region: fees.RegionLuzon, Shipping: jnt()}, ErrOutOfStock},
		{"unknown variant", SubmitRequest{CustomerID: "c", Lines: []CartLine{{VariantID: "nope", Qty: 1}}, Region: fees.RegionLuzon, Shipping: jnt()}, stock.ErrUnknownVariant},
		{"missing region", SubmitRequest{CustomerID: "c", Lines: one, Shipping: jnt()}, ErrInvalidShipping},
		{"negative insurance", SubmitRequest{CustomerID: "c", Lines: one, Region: fees.RegionLuzon, Shipping: jnt(),
			InsuranceSelected: true, InsuranceFee: ptr(int64(-1))}, ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(miniGT("v", 2), diorama)
			_, err := f.svc.Submit(context.Background(), tc.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, f.events.types())
		})
	}
}

func TestSubmitDioramaByLalamove(t *testing.T) {
	f := newFixture(stock.Variant{ID: "d", ProductID: "pd", Title: "Garage diorama", PriceCents: 150000,
		ShipClass: fees.ClassDiorama, QtyOnHand: 1})

	o, err := f.svc.Submit(context.Background(), SubmitRequest{
		CustomerID: "c",
		Lines:      []CartLine{{VariantID: "d", Qty: 1}},
		Shipping:   LalamoveDetails{Name: "Ana", Phone: "9171234567", Address: "BGC", Slots: []string{"09:00-12:00"}},
	})
	require.NoError(t, err)
	assert.Equal(t, fees.MethodLalamove, o.ShippingMethod)
	assert.Equal(t, fees.RegionMetroManila, o.ShippingRegion)
	assert.Equal(t, int64(0), o.ShippingFee)
	assert.Equal(t, fees.LalamoveConvenienceFee, o.LalamoveFee)
	assert.Equal(t, int64(150000)+fees.LalamoveConvenienceFee, o.Total)
}

func TestSubmitAcceptsPOSChannel(t *testing.T) {
	f := newFixture(miniGT("v", 1))
	o, err := f.svc.Submit(context.Background(), SubmitRequest{
		CustomerID: "c", Channel: ChannelPOS, Lines: []CartLine{{VariantID: "v", Qty: 1}},
		Region: fees.RegionMetroManila, Shipping: jnt(),
	})
	require.NoError(t, err)
	assert.Equal(t, ChannelPOS, o.Channel)
}

func TestQuoteMatchesSubmitRules(t *testing.T) {
	f := newFixture(miniGT("v", 1), stock.Variant{ID: "d", ProductID: "pd", Title: "Garage diorama", PriceCents: 150000,
		ShipClass: fees.ClassDiorama, QtyOnHand: 1})
	ctx := context.Background()

	_, err := f.svc.Quote(ctx, QuoteRequest{
		Lines: []CartLine{{VariantID: "d", Qty: 1}}, Method: fees.MethodJNT, Region: fees.RegionLuzon,
	})
	assert.ErrorIs(t, err, ErrUnsupportedMethodForItem)

	b, err := f.svc.Quote(ctx, QuoteRequest{Lines: []CartLine{{VariantID: "d", Qty: 1}}, Method: fees.MethodLalamove})
	require.NoError(t, err)
	assert.Equal(t, int64(150000)+fees.LalamoveConvenienceFee, b.Total)

	// quotes skip the stock check, so the line cap is what keeps totals sane
	_, err = f.svc.Quote(ctx, QuoteRequest{
		Lines: []CartLine{{VariantID: "v", Qty: 1 << 50}}, Method: fees.MethodJNT, Region: fees.RegionLuzon,
	})
	assert.ErrorIs(t, err, ErrInvalidQty)

	b, err = f.svc.Quote(ctx, QuoteRequest{
		Lines: []CartLine{{VariantID: "v", Qty: MaxLineQty}}, Method: fees.MethodLalamove,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50000)*MaxLineQty, b.Subtotal)
	assert.Equal(t, b.Subtotal+fees.LalamoveConvenienceFee, b.Total)
}

func TestSubmitLBCCashOnPickup(t *testing.T) {
	f := newFixture(miniGT("v", 1))

	o, err := f.svc.Submit(context.Background(), SubmitRequest{
		CustomerID: "c",
		Lines:      []CartLine{{VariantID: "v", Qty: 1}},
		Region:     fees.RegionVisayas,
		Shipping:   LBCDetails{FirstName: "a", LastName: "b", Phone: "09171234567", Branch: "Cebu IT Park", COP: true},
	})
	require.NoError(t, err)
	assert.Positive(t, o.ShippingFee)
	assert.Equal(t, fees.COPConvenienceFee, o.COPFee)
	assert.Equal(t, int64(50000)+fees.COPConvenienceFee, o.Total)
}

func TestApproveReservesAndStartsCountdown(t *testing.T) {
	f := newFixture(miniGT("v", 2))
	o := f.approved(t, "c1", CartLine{VariantID: "v", Qty: 2})

	assert.Equal(t, StatusAwaitingPayment, o.Status)
	require.NotNil(t, o.PaymentDeadline)
	assert.Equal(t, f.now.Add(12*time.Hour), *o.PaymentDeadline)
	assert.NotEmpty(t, o.ReservationID)

	left, ok := o.PaymentTimeLeft(f.now.Add(2 * time.Hour))
	assert.True(t, ok)
	assert.Equal(t, 10*time.Hour, left)

	v := f.variant(t, "v")
	assert.Equal(t, 2, v.QtyReserved)
	assert.Equal(t, 0, v.Sellable())

	_, err := f.svc.Approve(context.Background(), o.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 2, f.variant(t, "v").QtyReserved, "second approval reserves nothing")
}

func TestConcurrentApprovalsSellLastUnitOnce(t *testing.T) {
	const n = 16
	f := newFixture(miniGT("v", 1), miniGT("alt", 3))

	ids := make([]string, n)
	for i := range ids {
		ids[i] = f.submit(t, "c", CartLine{VariantID: "v", Qty: 1}).ID
	}

	results := make([]ApproveResult, n)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Approve(context.Background(), ids[i])
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	won := 0
	for _, res := range results {
		if res.OK {
			won++
			assert.Equal(t, StatusAwaitingPayment, res.Order.Status)
			continue
		}
		assert.Equal(t, StatusCancelled, res.Order.Status)
		assert.Equal(t, ReasonSoldOut, res.Order.CancelledReason)
		assert.Equal(t, []string{"v"}, res.SoldOutVariantIDs)
	}
	assert.Equal(t, 1, won)

	v := f.variant(t, "v")
	assert.Equal(t, 1, v.QtyReserved)
	assert.LessOrEqual(t, v.QtyReserved, v.QtyOnHand)

	alts, err := (&suggest.LedgerSource{Ledger: f.ledger}).SuggestSimilar(context.Background(), []string{"v"}, 3)
	require.NoError(t, err)
	require.Len(t, alts, 1)
	assert.Equal(t, "alt", alts[0].VariantID)
}

func TestApproveSoldOutSplitRestoresCart(t *testing.T) {
	f := newFixture(miniGT("a", 1), miniGT("b", 2))
	ctx := context.Background()
	o := f.submit(t, "c1", CartLine{VariantID: "a", Qty: 1}, CartLine{VariantID: "b", Qty: 2})

	// someone else bought one b between checkout and review
	f.ledger.Put(miniGT("b", 1))

	res, err := f.svc.Approve(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, []string{"b"}, res.SoldOutVariantIDs)
	require.NotNil(t, res.SoldOut)
	assert.Equal(t, []stock.Shortfall{{VariantID: "b", Required: 2, Available: 1}}, res.SoldOut.SoldOut)

	got, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, ReasonSoldOut, got.CancelledReason)
	lines := map[string]Line{}
	for _, l := range got.Lines {
		lines[l.VariantID] = l
	}
	assert.True(t, lines["a"].Cancelled)
	assert.Equal(t, ReasonReturnedToCart, lines["a"].CancelReason)
	assert.Equal(t, ReasonSoldOut, lines["b"].CancelReason)

	cart, err := f.svc.Cart(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, cart, 1)
	assert.Equal(t, "a", cart[0].VariantID)
	assert.Equal(t, 1, cart[0].Qty)
	assert.Equal(t, o.ID, cart[0].SourceOrderID)

	assert.Equal(t, 0, f.variant(t, "a").QtyReserved, "nothing reserved on a split")
	assert.Equal(t, 0, f.variant(t, "b").QtyReserved)
	assert.Contains(t, f.events.types(), EventOrderSoldOut)
}

func TestPaymentApprovalCommitsStock(t *testing.T) {
	f := newFixture(miniGT("v", 3))
	o := f.paid(t, "c1", CartLine{VariantID: "v", Qty: 2})

	assert.Equal(t, StatusPaid, o.Status)
	assert.Equal(t, PaymentPaid, o.PaymentStatus)
	assert.Equal(t, ShippingPreparingToShip, o.ShippingStatus)
	assert.NotNil(t, o.PaidAt)
	assert.Equal(t, StageToShip, o.Stage())

	v := f.variant(t, "v")
	assert.Equal(t, 1, v.QtyOnHand)
	assert.Equal(t, 0, v.QtyReserved)
	assert.Equal(t, []string{
		EventOrderSubmitted, EventOrderApproved, EventReceiptSubmitted, EventPaymentApproved,
	}, f.events.types())
}

func TestReceiptFreezesCountdown(t *testing.T) {
	f := newFixture(miniGT("v", 1))
	ctx := context.Background()
	o := f.approved(t, "c1", CartLine{VariantID: "v", Qty: 1})

	_, err := f.svc.SubmitReceipt(ctx, o.ID, "")
	assert.ErrorIs(t, err, ErrMissingReceipt)

	o, err = f.svc.SubmitReceipt(ctx, o.ID, "https://receipts.example/1.jpg")
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentSubmitted, o.Status)
	assert.Equal(t, PaymentSubmitted, o.PaymentStatus)
	_, ticking := o.PaymentTimeLeft(f.now)
	assert.False(t, ticking)
	assert.Equal(t, 1, f.variant(t, "v").QtyReserved, "reservation stays held")
}

func TestRejectedPaymentGetsGraceWindow(t *testing.T) {
	f := newFixture(miniGT("v", 1))
	ctx := context.Background()
	start := f.now
	o := f.approved(t, "c1", CartLine{VariantID: "v", Qty: 1})

	f.now = start.Add(10 * time.Hour)
	_, err := f.svc.SubmitReceipt(ctx, o.ID, "https://receipts.example/blurry.jpg")
	require.NoError(t, err)
	o, err = f.svc.ReviewPayment(ctx, o.ID, false, "receipt unreadable")
	require.NoError(t, err)

	assert.Equal(t, StatusAwaitingPayment, o.Status)
	assert.Equal(t, PaymentRejected, o.PaymentStatus)
	assert.Equal(t, "receipt unreadable", o.PaymentNote)
	assert.Equal(t, start.Add(16*time.Hour), *o.PaymentDeadline)
	assert.Equal(t, 1, f.variant(t, "v").QtyReserved)

	o, err = f.svc.SubmitReceipt(ctx, o.ID, "https://receipts.example/clear.jpg")
	require.NoError(t, err)
	assert.Equal(t, PaymentSubmitted, o.PaymentStatus)
}

func TestRejectKeepsLaterDeadline(t *testing.T) {
	f := newFixture(miniGT("v", 1))
	ctx := context.Background()
	start := f.now
	o := f.approved(t, "c1", CartLine{VariantID: "v", Qty: 1})

	f.now = start.Add(time.Hour)
	_, err := f.svc.SubmitReceipt(ctx, o.ID, "https://receipts.example/r.jpg")
	require.NoError(t, err)
	o, err = f.svc.ReviewPayment(ctx, o.ID, false, "")
	require.NoError(t, err)
	assert.Equal(t, start.Add(12*time.Hour), *o.PaymentDeadline)
}

func TestCustomerCannotCancelPaidOrder(t *testing.T) {
	f := newFixture(miniGT("v", 1))
	o := f.paid(t, "c1", CartLine{VariantID: "v", Qty: 1})
	before := f.variant(t, "v")

	_, err := f.svc.CancelPending(context.Background(), o.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.Equal(t, before, f.variant(t, "v"))
	got, _ := f.svc.Get(context.Background(), o.ID)
	assert.Equal(t, StatusPaid, got.Status)
}

func TestCancelPendingReleasesStock(t *testing.T) {
	f := newFixture(miniGT("v", 1))
	ctx := context.Background()
	o := f.approved(t, "c1", CartLine{VariantID: "v", Qty: 1})

	o, err := f.svc.CancelPending(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, ReasonCustomer, o.CancelledReason)
	assert.True(t, o.Lines[0].Cancelled)
	assert.Equal(t, ReasonCustomer, o.Lines[0].CancelReason)
	assert.Equal(t, 1, f.variant(t, "v").Sellable())

	_, err = f.svc.CancelPending(ctx, o.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 0, f.variant(t, "v").QtyReserved)
}

func TestPaidIsMonotonic(t *testing.T) {
	f := newFixture(miniGT("v", 1))
	ctx := context.Background()
	o := f.paid(t, "c1", CartLine{VariantID: "v", Qty: 1})

	_, err := f.svc.ReviewPayment(ctx, o.ID, false, "")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.svc.SubmitReceipt(ctx, o.ID, "https://receipts.example/again.jpg")
	assert.ErrorIs(t, err, ErrInvalidState)

	o, err = f.svc.Void(ctx, o.ID, "customer changed mind, refunded")
	require.NoError(t, err)
	assert.Equal(t, StatusVoided, o.Status)
	assert.Equal(t, PaymentPaid, o.PaymentStatus)
	assert.Equal(t, ReasonStaffVoid, o.CancelledReason)

	v := f.variant(t, "v")
	assert.Equal(t, 0, v.QtyOnHand, "voiding a paid order does not restock")
	assert.Equal(t, 0, v.QtyReserved)
}

func TestVoidReleasesHeldStock(t *testing.T) {
	f := newFixture(miniGT("v", 1))
	ctx := context.Background()
	o := f.approved(t, "c1", CartLine{VariantID: "v", Qty: 1})

	o, err := f.svc.Void(ctx, o.ID, "duplicate")
	require.NoError(t, err)
	assert.Equal(t, "duplicate", o.VoidNote)
	assert.Equal(t, 1, f.variant(t, "v").Sellable())

	_, err = f.svc.Void(ctx, o.ID, "again")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestShippingLifecycle(t *testing.T) {
	f := newFixture(miniGT("v", 2))
	ctx := context.Background()

	pending := f.approved(t, "c1", CartLine{VariantID: "v", Qty: 1})
	_, err := f.svc.MarkShipped(ctx, pending.ID, "J&T", "JT123")
	assert.ErrorIs(t, err, ErrInvalidState)

	o := f.paid(t, "c2", CartLine{VariantID: "v", Qty: 1})
	_, err = f.svc.MarkShipped(ctx, o.ID, "J&T", "")
	assert.ErrorIs(t, err, ErrMissingTracking)
	_, err = f.svc.MarkShipped(ctx, o.ID, "J&T", "   ")
	assert.ErrorIs(t, err, ErrMissingTracking)
	_, err = f.svc.ConfirmReceived(ctx, o.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	o, err = f.svc.MarkShipped(ctx, o.ID, "J&T", " JT123 ")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, o.Status)
	assert.Equal(t, ShippingShipped, o.ShippingStatus)
	assert.Equal(t, "JT123", o.TrackingNumber)
	assert.Equal(t, StageToReceive, o.Stage())

	o, err = f.svc.ConfirmReceived(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, o.Status)
	assert.Equal(t, ShippingCompleted, o.ShippingStatus)
	assert.NotNil(t, o.CompletedAt)

	_, err = f.svc.MarkCompleted(ctx, o.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestExpireIfDue(t *testing.T) {
	f := newFixture(miniGT("v", 1))
	ctx := context.Background()
	start := f.now
	o := f.approved(t, "c1", CartLine{VariantID: "v", Qty: 1})

	ok, err := f.svc.ExpireIfDue(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, ok, "deadline not reached")

	f.now = start.Add(12*time.Hour + time.Second)
	_, err = f.svc.SetPaymentHold(ctx, o.ID, true)
	require.NoError(t, err)
	ok, err = f.svc.ExpireIfDue(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, ok, "held orders never expire")

	_, err = f.svc.SetPaymentHold(ctx, o.ID, false)
	require.NoError(t, err)
	ok, err = f.svc.ExpireIfDue(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, _ := f.svc.Get(ctx, o.ID)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, ReasonPaymentTimeout, got.CancelledReason)
	assert.Equal(t, 1, f.variant(t, "v").Sellable())

	ok, err = f.svc.ExpireIfDue(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLateReceiptBeatsTimer(t *testing.T) {
	f := newFixture(miniGT("v", 1))
	ctx := context.Background()
	o := f.approved(t, "c1", CartLine{VariantID: "v", Qty: 1})
	f.now = f.now.Add(12*time.Hour + time.Second)

	// the scan listed the order, but the receipt got the lock first
	ids, err := f.store.ListExpirable(ctx, f.now, 10)
	require.NoError(t, err)
	require.Equal(t, []string{o.ID}, ids)

	_, err = f.svc.SubmitReceipt(ctx, o.ID, "https://receipts.example/last-second.jpg")
	require.NoError(t, err)

	ok, err := f.svc.ExpireIfDue(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	got, _ := f.svc.Get(ctx, o.ID)
	assert.Equal(t, StatusPaymentSubmitted, got.Status)
	assert.Equal(t, 1, f.variant(t, "v").QtyReserved)
}

func TestRushFeeIsIdempotent(t *testing.T) {
	f := newFixture(miniGT("v", 2))
	ctx := context.Background()
	o := f.submit(t, "c1", CartLine{VariantID: "v", Qty: 1})
	total := o.Total

	_, _, err := f.svc.AddRushFee(ctx, o.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	o, applied, err := f.svc.AddRushFee(ctx, o.ID, 15000)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, total+15000, o.Total)
	assert.Equal(t, fees.LineRush, o.FeeLines[len(o.FeeLines)-1].Code)

	o, applied, err = f.svc.AddRushFee(ctx, o.ID, 15000)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, total+15000, o.Total)

	paid := f.paid(t, "c2", CartLine{VariantID: "v", Qty: 1})
	_, _, err = f.svc.AddRushFee(ctx, paid.ID, 15000)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestPaymentHoldOnTerminalOrder(t *testing.T) {
	f := newFixture(miniGT("v", 1))
	ctx := context.Background()
	o := f.submit(t, "c1", CartLine{VariantID: "v", Qty: 1})
	_, err := f.svc.CancelPending(ctx, o.ID)
	require.NoError(t, err)

	_, err = f.svc.SetPaymentHold(ctx, o.ID, true)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestIllegalTransitionLeavesOrderUntouched(t *testing.T) {
	f := newFixture(miniGT("v", 1))
	ctx := context.Background()
	o := f.submit(t, "c1", CartLine{VariantID: "v", Qty: 1})

	_, err := f.svc.SubmitReceipt(ctx, o.ID, "https://receipts.example/early.jpg")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.svc.ReviewPayment(ctx, o.ID, true, "")
	assert.ErrorIs(t, err, ErrInvalidState)

	got, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o, got)

	_, err = f.svc.Approve(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTransitionTable(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusVoided} {
		assert.True(t, s.Terminal())
		for to := range validNext {
			assert.False(t, CanTransition(s, to), "%s -> %s", s, to)
		}
	}
	for from := range validNext {
		if !from.Terminal() {
			assert.True(t, CanTransition(from, StatusVoided), "%s must be voidable", from)
		}
	}
	assert.False(t, CanTransition(StatusPaid, StatusCancelled))
	assert.False(t, CanTransition(StatusPendingApproval, StatusPaid))
}

func TestNormalizePhone(t *testing.T) {
	ok := map[string]string{
		"09171234567":      "09171234567",
		"0917-123-4567":    "09171234567",
		"+63 917 123 4567": "09171234567",
		"639171234567":     "09171234567",
		"9171234567":       "09171234567",
		"(0917) 123 4567":  "09171234567",
	}
	for in, want := range ok {
		got, err := NormalizePhone(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "12345", "0817123456", "08171234567", "091712345678", "0917abc4567"} {
		_, err := NormalizePhone(in)
		assert.ErrorIs(t, err, ErrInvalidPhone, in)
	}
}
