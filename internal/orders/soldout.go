package orders

import (
	"sort"
	"time"

	"github.com/ariefcatur/diecast-orders/internal/stock"
)

// SoldOutSplit is what approval reports when stock ran out between checkout and
// review.
type SoldOutSplit struct {
	SoldOut           []stock.Shortfall `json:"sold_out"`
	SoldOutVariantIDs []string          `json:"sold_out_variant_ids"`
	// Restored are the lines that could still be covered; they went back to the
	// customer's cart.
	Restored []CartItem `json:"restored_to_cart"`
}

// splitSoldOut partitions the open lines of o by the ledger's shortfall report.
// Short lines are cancelled SOLD_OUT, the rest RETURNED_TO_CART, and the order
// itself ends CANCELLED. Nothing was reserved: the ledger is all-or-nothing.
func splitSoldOut(o *Order, short []stock.Shortfall, now time.Time) SoldOutSplit {
	shortIDs := make(map[string]bool, len(short))
	for _, s := range short {
		shortIDs[s.VariantID] = true
	}

	split := SoldOutSplit{SoldOut: short}
	for i := range o.Lines {
		l := &o.Lines[i]
		if l.Cancelled {
			continue
		}
		l.Cancelled = true
		if shortIDs[l.VariantID] {
			l.CancelReason = ReasonSoldOut
			continue
		}
		l.CancelReason = ReasonReturnedToCart
		split.Restored = append(split.Restored, CartItem{
			VariantID:     l.VariantID,
			Qty:           l.Qty,
			SourceOrderID: o.ID,
			AddedAt:       now,
		})
	}

	for id := range shortIDs {
		split.SoldOutVariantIDs = append(split.SoldOutVariantIDs, id)
	}
	sort.Strings(split.SoldOutVariantIDs)
	return split
}
