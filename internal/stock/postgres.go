package stock

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx. Begin on a pgx.Tx opens a
// savepoint, so ledger writes nest inside an order transaction.
type DBTX interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PGLedger struct{ DB DBTX }

func NewPGLedger(db DBTX) *PGLedger { return &PGLedger{DB: db} }

// Reserve locks every variant row (FOR UPDATE, id order), checks all of them and
// only then writes. A shortfall rolls the savepoint back untouched.
func (l *PGLedger) Reserve(ctx context.Context, reservationID string, items []Item) ([]Shortfall, error) {
	merged, err := merge(items)
	if err != nil {
		return nil, err
	}

	tx, err := l.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	status, err := reservationStatus(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	switch status {
	case Reserved:
		return nil, nil
	case Released, Committed:
		return nil, ErrReservationClosed
	}

	var short []Shortfall
	for _, it := range merged {
		var onHand, reserved int
		err := tx.QueryRow(ctx, `SELECT qty_on_hand, qty_reserved FROM variants WHERE id=$1 FOR UPDATE`, it.VariantID).
			Scan(&onHand, &reserved)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVariant, it.VariantID)
		}
		if err != nil {
			return nil, err
		}
		if avail := onHand - reserved; avail < it.Qty {
			short = append(short, Shortfall{VariantID: it.VariantID, Required: it.Qty, Available: avail})
		}
	}
	if len(short) > 0 {
		return short, nil
	}

	for _, it := range merged {
		if _, err := tx.Exec(ctx, `UPDATE variants SET qty_reserved = qty_reserved + $2 WHERE id=$1`, it.VariantID, it.Qty); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations(reservation_id, variant_id, qty, status)
			VALUES ($1,$2,$3,'RESERVED')`, reservationID, it.VariantID, it.Qty); err != nil {
			return nil, err
		}
	}
	return nil, tx.Commit(ctx)
}

func (l *PGLedger) Release(ctx context.Context, reservationID string) error {
	tx, err := l.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	held, err := closeReservation(ctx, tx, reservationID, Released)
	if err != nil {
		return err
	}
	for _, it := range held {
		if _, err := tx.Exec(ctx, `UPDATE variants SET qty_reserved = qty_reserved - $2 WHERE id=$1`, it.VariantID, it.Qty); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (l *PGLedger) Commit(ctx context.Context, reservationID string) error {
	tx, err := l.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	held, err := closeReservation(ctx, tx, reservationID, Committed)
	if err != nil {
		return err
	}
	if len(held) == 0 {
		status, err := reservationStatus(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		switch status {
		case Committed:
			return nil
		case "":
			return fmt.Errorf("%w: %s", ErrUnknownReservation, reservationID)
		default:
			return ErrReservationClosed
		}
	}
	for _, it := range held {
		if _, err := tx.Exec(ctx, `
			UPDATE variants SET qty_on_hand = qty_on_hand - $2, qty_reserved = qty_reserved - $2
			WHERE id=$1`, it.VariantID, it.Qty); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (l *PGLedger) Sellable(ctx context.Context, variantID string) (int, error) {
	var n int
	err := l.DB.QueryRow(ctx, `SELECT qty_on_hand - qty_reserved FROM variants WHERE id=$1`, variantID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownVariant, variantID)
	}
	return n, err
}

func (l *PGLedger) Variants(ctx context.Context, ids []string) (map[string]Variant, error) {
	rows, err := l.DB.Query(ctx, `
		SELECT id, product_id, title, brand, condition, image, price_cents, ship_class, qty_on_hand, qty_reserved
		FROM variants WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Variant, len(ids))
	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Title, &v.Brand, &v.Condition, &v.Image,
			&v.PriceCents, &v.ShipClass, &v.QtyOnHand, &v.QtyReserved); err != nil {
			return nil, err
		}
		out[v.ID] = v
	}
	return out, rows.Err()
}

func reservationStatus(ctx context.Context, tx pgx.Tx, reservationID string) (string, error) {
	var s string
	err := tx.QueryRow(ctx, `SELECT status FROM reservations WHERE reservation_id=$1 LIMIT 1`, reservationID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return s, err
}

// closeReservation flips RESERVED rows to the given state and returns what they
// held. Rows already closed are not returned, which is the double-release guard.
func closeReservation(ctx context.Context, tx pgx.Tx, reservationID, to string) ([]Item, error) {
	rows, err := tx.Query(ctx, `
		UPDATE reservations SET status=$2, updated_at=now()
		WHERE reservation_id=$1 AND status='RESERVED'
		RETURNING variant_id, qty`, reservationID, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var held []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.VariantID, &it.Qty); err != nil {
			return nil, err
		}
		held = append(held, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(held, func(i, j int) bool { return held[i].VariantID < held[j].VariantID })
	return held, nil
}
