package orders

import "errors"

// Validation errors: the caller can fix the request. No state changes.
var (
	ErrEmptyCart                = errors.New("EMPTY_CART")
	ErrMissingCustomer          = errors.New("MISSING_CUSTOMER")
	ErrInvalidChannel           = errors.New("INVALID_CHANNEL")
	ErrInvalidQty               = errors.New("INVALID_QTY")
	ErrInvalidPhone             = errors.New("INVALID_PHONE")
	ErrMissingShippingField     = errors.New("MISSING_SHIPPING_FIELD")
	ErrUnsupportedMethodForItem = errors.New("UNSUPPORTED_METHOD_FOR_ITEM")
	ErrInvalidShipping          = errors.New("INVALID_SHIPPING")
	ErrOutOfStock               = errors.New("OUT_OF_STOCK")
	ErrInvalidAmount            = errors.New("INVALID_AMOUNT")
	ErrMissingReceipt           = errors.New("MISSING_RECEIPT")
	ErrMissingTracking          = errors.New("MISSING_TRACKING")
)

var (
	// ErrInvalidState is returned when an operation is not legal from the
	// order's current state. The order is left untouched.
	ErrInvalidState = errors.New("INVALID_STATE")
	ErrNotFound     = errors.New("ORDER_NOT_FOUND")
)

var validationErrs = []error{
	ErrEmptyCart, ErrMissingCustomer, ErrInvalidChannel, ErrInvalidQty, ErrInvalidPhone, ErrMissingShippingField,
	ErrUnsupportedMethodForItem, ErrInvalidShipping, ErrOutOfStock, ErrInvalidAmount,
	ErrMissingReceipt, ErrMissingTracking,
}

// IsValidation reports whether err is a client-correctable validation failure.
func IsValidation(err error) bool {
	for _, v := range validationErrs {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}
