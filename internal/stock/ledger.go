package stock

import (
	"context"
	"errors"
	"sort"

	"github.com/ariefcatur/diecast-orders/internal/fees"
)

var (
	ErrUnknownVariant     = errors.New("unknown variant")
	ErrInvalidQty         = errors.New("quantity must be > 0")
	ErrUnknownReservation = errors.New("unknown reservation")
	ErrReservationClosed  = errors.New("reservation already released or committed")
)

// Variant is a sellable SKU of a product together with its stock record.
type Variant struct {
	ID          string         `json:"id"`
	ProductID   string         `json:"product_id"`
	Title       string         `json:"title"`
	Brand       string         `json:"brand"`
	Condition   string         `json:"condition"`
	Image       string         `json:"image"`
	PriceCents  int64          `json:"price_cents"`
	ShipClass   fees.ShipClass `json:"ship_class"`
	QtyOnHand   int            `json:"qty_on_hand"`
	QtyReserved int            `json:"qty_reserved"`
}

func (v Variant) Sellable() int { return v.QtyOnHand - v.QtyReserved }

type Item struct {
	VariantID string `json:"variant_id"`
	Qty       int    `json:"qty"`
}

// Shortfall reports a variant that could not cover the requested quantity.
type Shortfall struct {
	VariantID string `json:"variant_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

// Reservation states.
const (
	Reserved  = "RESERVED"
	Released  = "RELEASED"
	Committed = "COMMITTED"
)

// Ledger is the only writer of qty_on_hand and qty_reserved.
type Ledger interface {
	// Reserve claims every item under reservationID, or nothing. When any item is
	// short, the shortfalls are returned with a nil error and no stock moves.
	// Repeating a call for an already held reservation is a no-op.
	Reserve(ctx context.Context, reservationID string, items []Item) ([]Shortfall, error)
	// Release returns held stock. Releasing twice, or releasing an unknown
	// reservation, is a no-op.
	Release(ctx context.Context, reservationID string) error
	// Commit turns a hold into a sale. Committing twice is a no-op.
	Commit(ctx context.Context, reservationID string) error
	Sellable(ctx context.Context, variantID string) (int, error)
	Variants(ctx context.Context, ids []string) (map[string]Variant, error)
}

// merge folds duplicate variants together and orders them by id so row locks are
// always taken in the same order.
func merge(items []Item) ([]Item, error) {
	byID := map[string]int{}
	for _, it := range items {
		if it.Qty <= 0 {
			return nil, ErrInvalidQty
		}
		byID[it.VariantID] += it.Qty
	}
	out := make([]Item, 0, len(byID))
	for id, q := range byID {
		out = append(out, Item{VariantID: id, Qty: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out, nil
}
