package orders

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/ariefcatur/diecast-orders/internal/fees"
)

// ShippingDetails is a tagged union keyed by shipping method. Each variant
// carries only the fields its method needs.
type ShippingDetails interface {
	Method() fees.Method
	// normalize validates the details and returns a cleaned copy.
	normalize(pickup fees.Schedule) (ShippingDetails, error)
}

type JNTDetails struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Phone      string `json:"phone"`
	Street     string `json:"street"`
	Barangay   string `json:"barangay,omitempty"`
	City       string `json:"city"`
	Province   string `json:"province"`
	PostalCode string `json:"postal_code,omitempty"`
}

type LBCDetails struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Branch    string `json:"branch"`
	COP       bool   `json:"cop"`
}

type LalamoveDetails struct {
	Name    string   `json:"name"`
	Phone   string   `json:"phone"`
	Address string   `json:"address"`
	Slots   []string `json:"slots"`
	Notes   string   `json:"notes,omitempty"`
}

type PickupDetails struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Day   string `json:"day"`
	Slot  string `json:"slot"`
}

func (JNTDetails) Method() fees.Method      { return fees.MethodJNT }
func (LBCDetails) Method() fees.Method      { return fees.MethodLBC }
func (LalamoveDetails) Method() fees.Method { return fees.MethodLalamove }
func (PickupDetails) Method() fees.Method   { return fees.MethodPickup }

func (d JNTDetails) normalize(fees.Schedule) (ShippingDetails, error) {
	if err := required(map[string]string{
		"first_name": d.FirstName, "last_name": d.LastName,
		"street": d.Street, "city": d.City, "province": d.Province,
	}); err != nil {
		return nil, err
	}
	p, err := NormalizePhone(d.Phone)
	if err != nil {
		return nil, err
	}
	d.Phone = p
	return d, nil
}

func (d LBCDetails) normalize(fees.Schedule) (ShippingDetails, error) {
	if err := required(map[string]string{
		"first_name": d.FirstName, "last_name": d.LastName, "branch": d.Branch,
	}); err != nil {
		return nil, err
	}
	p, err := NormalizePhone(d.Phone)
	if err != nil {
		return nil, err
	}
	d.Phone = p
	return d, nil
}

func (d LalamoveDetails) normalize(fees.Schedule) (ShippingDetails, error) {
	if err := required(map[string]string{"name": d.Name, "address": d.Address}); err != nil {
		return nil, err
	}
	if len(d.Slots) == 0 {
		return nil, fmt.Errorf("%w: slots", ErrMissingShippingField)
	}
	for _, s := range d.Slots {
		if !fees.ValidLalamoveSlot(s) {
			return nil, fmt.Errorf("%w: unknown lalamove slot %q", ErrInvalidShipping, s)
		}
	}
	p, err := NormalizePhone(d.Phone)
	if err != nil {
		return nil, err
	}
	d.Phone = p
	return d, nil
}

func (d PickupDetails) normalize(schedule fees.Schedule) (ShippingDetails, error) {
	if err := required(map[string]string{"name": d.Name, "day": d.Day, "slot": d.Slot}); err != nil {
		return nil, err
	}
	if !schedule.Valid(d.Day, d.Slot) {
		return nil, fmt.Errorf("%w: no pickup slot %s %s", ErrInvalidShipping, d.Day, d.Slot)
	}
	p, err := NormalizePhone(d.Phone)
	if err != nil {
		return nil, err
	}
	d.Phone = p
	d.Day = strings.ToUpper(d.Day)
	return d, nil
}

// cop reports whether the details select LBC cash-on-pickup.
func cop(d ShippingDetails) bool {
	l, ok := d.(LBCDetails)
	return ok && l.COP
}

func required(fields map[string]string) error {
	var missing []string
	for k, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s", ErrMissingShippingField, strings.Join(missing, ","))
}

// NormalizePhone folds the usual ways of writing a PH mobile number
// (+63 917..., 63917..., 917..., 0917-...) into 11-digit 09XXXXXXXXX form.
func NormalizePhone(s string) (string, error) {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		} else if !strings.ContainsRune(" -()+.", r) {
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, s)
		}
	}
	d := b.String()
	switch {
	case len(d) == 12 && strings.HasPrefix(d, "63"):
		d = "0" + d[2:]
	case len(d) == 10 && strings.HasPrefix(d, "9"):
		d = "0" + d
	}
	if len(d) != 11 || !strings.HasPrefix(d, "09") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, s)
	}
	return d, nil
}

// DecodeShipping turns a method tag plus raw JSON into the matching details type.
func DecodeShipping(method fees.Method, raw json.RawMessage) (ShippingDetails, error) {
	var (
		d   ShippingDetails
		err error
	)
	switch method {
	case fees.MethodJNT:
		var v JNTDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case fees.MethodLBC:
		var v LBCDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case fees.MethodLalamove:
		var v LalamoveDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case fees.MethodPickup:
		var v PickupDetails
		err = json.Unmarshal(raw, &v)
		d = v
	default:
		return nil, fmt.Errorf("%w: unknown method %q", ErrInvalidShipping, method)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShipping, err)
	}
	return d, nil
}
