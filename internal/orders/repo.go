package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/diecast-orders/internal/stock"
)

// Repo is the Postgres Store. Transitions run in one transaction holding the
// order row lock; ledger writes nest inside it as savepoints.
type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `
	id, customer_id, channel, status, payment_status, payment_method,
	shipping_method, shipping_region, shipping_details,
	subtotal, shipping_fee, cop_fee, lalamove_fee, priority_fee, insurance_fee, rush_fee, total,
	fee_lines, warnings,
	payment_deadline, payment_hold, receipt_url, payment_note, reservation_id,
	cancelled_reason, void_note, shipping_status, courier, tracking_number,
	created_at, updated_at, paid_at, shipped_at, completed_at`

func (r *Repo) Ledger() stock.Ledger { return stock.NewPGLedger(r.DB) }

func (r *Repo) Create(ctx context.Context, o *Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	args, err := orderArgs(o)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO orders(`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,
		        $20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34)`, args...); err != nil {
		return err
	}
	if err := writeLines(ctx, tx, o); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) Get(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}
	if o.Lines, err = loadLines(ctx, r.DB, id); err != nil {
		return nil, err
	}
	return o, nil
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) Ledger() stock.Ledger { return stock.NewPGLedger(t.tx) }

// RestoreCart adds to an existing cart row rather than replacing it.
func (t *pgTx) RestoreCart(ctx context.Context, customerID string, items []CartItem) error {
	for _, it := range items {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO cart_items(customer_id, variant_id, qty, source_order_id, added_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (customer_id, variant_id)
			DO UPDATE SET qty = cart_items.qty + EXCLUDED.qty,
			              source_order_id = EXCLUDED.source_order_id,
			              added_at = EXCLUDED.added_at`,
			customerID, it.VariantID, it.Qty, it.SourceOrderID, it.AddedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) Transition(ctx context.Context, id string, fn TxFunc) (*Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if o.Lines, err = loadLines(ctx, tx, id); err != nil {
		return nil, err
	}

	if err := fn(ctx, o, &pgTx{tx: tx}); err != nil {
		return nil, err
	}

	if err := updateOrder(ctx, tx, o); err != nil {
		return nil, err
	}
	if err := writeLines(ctx, tx, o); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repo) ListExpirable(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id FROM orders
		WHERE status='AWAITING_PAYMENT' AND NOT payment_hold AND payment_deadline < $1
		ORDER BY payment_deadline
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repo) Cart(ctx context.Context, customerID string) ([]CartItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT variant_id, qty, source_order_id, added_at
		FROM cart_items WHERE customer_id=$1 ORDER BY added_at, variant_id`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CartItem
	for rows.Next() {
		var it CartItem
		if err := rows.Scan(&it.VariantID, &it.Qty, &it.SourceOrderID, &it.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q querier, orderID string) ([]Line, error) {
	rows, err := q.Query(ctx, `
		SELECT variant_id, title, qty, unit_price, condition, ship_class, is_cancelled, cancel_reason
		FROM order_lines WHERE order_id=$1 ORDER BY variant_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.VariantID, &l.Title, &l.Qty, &l.UnitPrice, &l.Condition,
			&l.ShipClass, &l.Cancelled, &l.CancelReason); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func writeLines(ctx context.Context, tx pgx.Tx, o *Order) error {
	for _, l := range o.Lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_lines(order_id, variant_id, title, qty, unit_price, condition, ship_class, is_cancelled, cancel_reason)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (order_id, variant_id)
			DO UPDATE SET is_cancelled = EXCLUDED.is_cancelled, cancel_reason = EXCLUDED.cancel_reason`,
			o.ID, l.VariantID, l.Title, l.Qty, l.UnitPrice, l.Condition, l.ShipClass, l.Cancelled, l.CancelReason); err != nil {
			return err
		}
	}
	return nil
}

func updateOrder(ctx context.Context, tx pgx.Tx, o *Order) error {
	feeLines, err := json.Marshal(o.FeeLines)
	if err != nil {
		return err
	}
	warnings, err := json.Marshal(o.Warnings)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE orders SET
			status=$2, payment_status=$3, subtotal=$4, shipping_fee=$5, cop_fee=$6,
			lalamove_fee=$7, priority_fee=$8, insurance_fee=$9, rush_fee=$10, total=$11,
			fee_lines=$12, warnings=$13, payment_deadline=$14, payment_hold=$15,
			receipt_url=$16, payment_note=$17, reservation_id=$18, cancelled_reason=$19,
			void_note=$20, shipping_status=$21, courier=$22, tracking_number=$23,
			updated_at=$24, paid_at=$25, shipped_at=$26, completed_at=$27
		WHERE id=$1`,
		o.ID, o.Status, o.PaymentStatus, o.Subtotal, o.ShippingFee, o.COPFee,
		o.LalamoveFee, o.PriorityFee, o.InsuranceFee, o.RushFee, o.Total,
		feeLines, warnings, o.PaymentDeadline, o.PaymentHold,
		o.ReceiptURL, o.PaymentNote, o.ReservationID, o.CancelledReason,
		o.VoidNote, o.ShippingStatus, o.Courier, o.TrackingNumber,
		o.UpdatedAt, o.PaidAt, o.ShippedAt, o.CompletedAt)
	return err
}

func orderArgs(o *Order) ([]any, error) {
	shipping, err := json.Marshal(o.Shipping)
	if err != nil {
		return nil, err
	}
	feeLines, err := json.Marshal(o.FeeLines)
	if err != nil {
		return nil, err
	}
	warnings, err := json.Marshal(o.Warnings)
	if err != nil {
		return nil, err
	}
	return []any{
		o.ID, o.CustomerID, o.Channel, o.Status, o.PaymentStatus, o.PaymentMethod,
		o.ShippingMethod, o.ShippingRegion, shipping,
		o.Subtotal, o.ShippingFee, o.COPFee, o.LalamoveFee, o.PriorityFee, o.InsuranceFee, o.RushFee, o.Total,
		feeLines, warnings,
		o.PaymentDeadline, o.PaymentHold, o.ReceiptURL, o.PaymentNote, o.ReservationID,
		o.CancelledReason, o.VoidNote, o.ShippingStatus, o.Courier, o.TrackingNumber,
		o.CreatedAt, o.UpdatedAt, o.PaidAt, o.ShippedAt, o.CompletedAt,
	}, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o                         Order
		shipping, feeLines, warns []byte
	)
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.Channel, &o.Status, &o.PaymentStatus, &o.PaymentMethod,
		&o.ShippingMethod, &o.ShippingRegion, &shipping,
		&o.Subtotal, &o.ShippingFee, &o.COPFee, &o.LalamoveFee, &o.PriorityFee, &o.InsuranceFee, &o.RushFee, &o.Total,
		&feeLines, &warns,
		&o.PaymentDeadline, &o.PaymentHold, &o.ReceiptURL, &o.PaymentNote, &o.ReservationID,
		&o.CancelledReason, &o.VoidNote, &o.ShippingStatus, &o.Courier, &o.TrackingNumber,
		&o.CreatedAt, &o.UpdatedAt, &o.PaidAt, &o.ShippedAt, &o.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if o.Shipping, err = DecodeShipping(o.ShippingMethod, shipping); err != nil {
		return nil, fmt.Errorf("order %s: %w", o.ID, err)
	}
	if err := json.Unmarshal(feeLines, &o.FeeLines); err != nil {
		return nil, fmt.Errorf("order %s fee lines: %w", o.ID, err)
	}
	if err := json.Unmarshal(warns, &o.Warnings); err != nil {
		return nil, fmt.Errorf("order %s warnings: %w", o.ID, err)
	}
	return &o, nil
}
