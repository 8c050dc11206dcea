package orders

import (
	"context"
	"time"

	"github.com/ariefcatur/diecast-orders/internal/stock"
)

// TxFunc mutates a locked order. Returning an error discards the order changes.
// Repo also rolls back ledger writes made through tx; MemStore cannot, so a
// TxFunc makes its ledger call the last step that can fail.
type TxFunc func(ctx context.Context, o *Order, tx Tx) error

// Tx is the unit of work a transition runs in.
type Tx interface {
	Ledger() stock.Ledger
	RestoreCart(ctx context.Context, customerID string, items []CartItem) error
}

// Store persists orders. Transition serializes all changes to one order.
type Store interface {
	// Ledger is the non-transactional read path (catalog, submit checks).
	Ledger() stock.Ledger
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Transition(ctx context.Context, id string, fn TxFunc) (*Order, error)
	// ListExpirable returns ids of unpaid, unheld orders whose deadline is
	// before now, oldest deadline first.
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]string, error)
	Cart(ctx context.Context, customerID string) ([]CartItem, error)
}
