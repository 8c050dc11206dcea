package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/diecast-orders/internal/stock"
)

// MemStore keeps orders in process, with one mutex per order standing in for the
// row lock. Used by tests. A failed TxFunc leaves the order and cart untouched,
// but ledger calls already made stay applied.
type MemStore struct {
	ledger *stock.MemoryLedger

	mu     sync.Mutex
	orders map[string]*Order
	locks  map[string]*sync.Mutex
	carts  map[string][]CartItem
}

func NewMemStore(ledger *stock.MemoryLedger) *MemStore {
	return &MemStore{
		ledger: ledger,
		orders: map[string]*Order{},
		locks:  map[string]*sync.Mutex{},
		carts:  map[string][]CartItem{},
	}
}

func (s *MemStore) Ledger() stock.Ledger { return s.ledger }

func (s *MemStore) Create(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	s.orders[o.ID] = o.clone()
	s.locks[o.ID] = &sync.Mutex{}
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.clone(), nil
}

type memTx struct {
	ledger *stock.MemoryLedger
	cart   map[string][]CartItem
}

func (t *memTx) Ledger() stock.Ledger { return t.ledger }

func (t *memTx) RestoreCart(_ context.Context, customerID string, items []CartItem) error {
	t.cart[customerID] = append(t.cart[customerID], items...)
	return nil
}

func (s *MemStore) Transition(ctx context.Context, id string, fn TxFunc) (*Order, error) {
	s.mu.Lock()
	lock, ok := s.locks[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	work := s.orders[id].clone()
	s.mu.Unlock()

	tx := &memTx{ledger: s.ledger, cart: map[string][]CartItem{}}
	if err := fn(ctx, work, tx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[id] = work
	for c, items := range tx.cart {
		s.carts[c] = mergeCart(s.carts[c], items)
	}
	return work.clone(), nil
}

func (s *MemStore) ListExpirable(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Order
	for _, o := range s.orders {
		if o.Status == StatusAwaitingPayment && !o.PaymentHold &&
			o.PaymentDeadline != nil && o.PaymentDeadline.Before(now) {
			due = append(due, o)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].PaymentDeadline.Before(*due[j].PaymentDeadline) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, len(due))
	for i, o := range due {
		ids[i] = o.ID
	}
	return ids, nil
}

func (s *MemStore) Cart(_ context.Context, customerID string) ([]CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CartItem(nil), s.carts[customerID]...), nil
}

// mergeCart adds quantities for variants already in the cart, the same way the
// Postgres upsert does.
func mergeCart(cart, add []CartItem) []CartItem {
	out := append([]CartItem(nil), cart...)
	for _, it := range add {
		found := false
		for i := range out {
			if out[i].VariantID == it.VariantID {
				out[i].Qty += it.Qty
				out[i].SourceOrderID = it.SourceOrderID
				found = true
				break
			}
		}
		if !found {
			out = append(out, it)
		}
	}
	return out
}
