package orders

type Status string

const (
	StatusPendingApproval  Status = "PENDING_APPROVAL"
	StatusAwaitingPayment  Status = "AWAITING_PAYMENT"
	StatusPaymentSubmitted Status = "PAYMENT_SUBMITTED"
	StatusPaid             Status = "PAID"
	StatusShipped          Status = "SHIPPED"
	StatusCompleted        Status = "COMPLETED"
	StatusCancelled        Status = "CANCELLED"
	StatusVoided           Status = "VOIDED"
)

var validNext = map[Status]map[Status]bool{
	StatusPendingApproval:  {StatusAwaitingPayment: true, StatusCancelled: true, StatusVoided: true},
	StatusAwaitingPayment:  {StatusPaymentSubmitted: true, StatusCancelled: true, StatusVoided: true},
	StatusPaymentSubmitted: {StatusPaid: true, StatusAwaitingPayment: true, StatusCancelled: true, StatusVoided: true},
	StatusPaid:             {StatusShipped: true, StatusVoided: true},
	StatusShipped:          {StatusCompleted: true, StatusVoided: true},
	StatusCompleted:        {},
	StatusCancelled:        {},
	StatusVoided:           {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusVoided
}

type PaymentStatus string

const (
	PaymentUnpaid    PaymentStatus = "UNPAID"
	PaymentSubmitted PaymentStatus = "SUBMITTED"
	PaymentPaid      PaymentStatus = "PAID"
	PaymentRejected  PaymentStatus = "REJECTED"
)

type ShippingStatus string

const (
	ShippingNone            ShippingStatus = "NONE"
	ShippingPreparingToShip ShippingStatus = "PREPARING_TO_SHIP"
	ShippingShipped         ShippingStatus = "SHIPPED"
	ShippingCompleted       ShippingStatus = "COMPLETED"
)

type CancelReason string

const (
	ReasonSoldOut        CancelReason = "SOLD_OUT"
	ReasonPaymentTimeout CancelReason = "PAYMENT_TIMEOUT"
	ReasonCustomer       CancelReason = "CUSTOMER"
	ReasonStaffVoid      CancelReason = "STAFF_VOID"
	// ReasonReturnedToCart marks a fulfillable line handed back to the cart when
	// the rest of its order sold out.
	ReasonReturnedToCart CancelReason = "RETURNED_TO_CART"
)

type Channel string

const (
	ChannelWeb Channel = "WEB"
	ChannelPOS Channel = "POS"
)

func (c Channel) Valid() bool { return c == ChannelWeb || c == ChannelPOS }

// Stage is the customer-facing bucket an order is listed under.
type Stage string

const (
	StageToApprove Stage = "TO_APPROVE"
	StageToPay     Stage = "TO_PAY"
	StageVerifying Stage = "VERIFYING"
	StageToShip    Stage = "TO_SHIP"
	StageToReceive Stage = "TO_RECEIVE"
	StageCompleted Stage = "COMPLETED"
	StageCancelled Stage = "CANCELLED"
)
