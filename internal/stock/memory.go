package stock

import (
	"context"
	"fmt"
	"sync"
)

type memReservation struct {
	items  []Item
	status string
}

// MemoryLedger keeps stock in process. A single mutex makes every operation
// linearizable, which is what the Postgres ledger gets from row locks.
type MemoryLedger struct {
	mu           sync.Mutex
	variants     map[string]*Variant
	reservations map[string]*memReservation
}

func NewMemoryLedger(vs ...Variant) *MemoryLedger {
	l := &MemoryLedger{
		variants:     map[string]*Variant{},
		reservations: map[string]*memReservation{},
	}
	for _, v := range vs {
		l.Put(v)
	}
	return l
}

// Put inserts or replaces a variant record.
func (l *MemoryLedger) Put(v Variant) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := v
	l.variants[v.ID] = &cp
}

func (l *MemoryLedger) Reserve(_ context.Context, reservationID string, items []Item) ([]Shortfall, error) {
	merged, err := merge(items)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if r, ok := l.reservations[reservationID]; ok {
		if r.status == Reserved {
			return nil, nil
		}
		return nil, ErrReservationClosed
	}

	var short []Shortfall
	for _, it := range merged {
		v, ok := l.variants[it.VariantID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVariant, it.VariantID)
		}
		if v.Sellable() < it.Qty {
			short = append(short, Shortfall{VariantID: it.VariantID, Required: it.Qty, Available: v.Sellable()})
		}
	}
	if len(short) > 0 {
		return short, nil
	}

	for _, it := range merged {
		l.variants[it.VariantID].QtyReserved += it.Qty
	}
	l.reservations[reservationID] = &memReservation{items: merged, status: Reserved}
	return nil, nil
}

func (l *MemoryLedger) Release(_ context.Context, reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[reservationID]
	if !ok || r.status != Reserved {
		return nil
	}
	for _, it := range r.items {
		l.variants[it.VariantID].QtyReserved -= it.Qty
	}
	r.status = Released
	return nil
}

func (l *MemoryLedger) Commit(_ context.Context, reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[reservationID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownReservation, reservationID)
	}
	switch r.status {
	case Committed:
		return nil
	case Released:
		return ErrReservationClosed
	}
	for _, it := range r.items {
		v := l.variants[it.VariantID]
		v.QtyOnHand -= it.Qty
		v.QtyReserved -= it.Qty
	}
	r.status = Committed
	return nil
}

func (l *MemoryLedger) Sellable(_ context.Context, variantID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.variants[variantID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownVariant, variantID)
	}
	return v.Sellable(), nil
}

func (l *MemoryLedger) Variants(_ context.Context, ids []string) (map[string]Variant, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Variant, len(ids))
	for _, id := range ids {
		if v, ok := l.variants[id]; ok {
			out[id] = *v
		}
	}
	return out, nil
}

// Snapshot returns a copy of every variant record.
func (l *MemoryLedger) Snapshot() []Variant {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Variant, 0, len(l.variants))
	for _, v := range l.variants {
		out = append(out, *v)
	}
	return out
}
