package suggest

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PGSource struct{ DB *pgxpool.Pool }

func (s *PGSource) SuggestSimilar(ctx context.Context, variantIDs []string, limit int) ([]Suggestion, error) {
	rows, err := s.DB.Query(ctx, `
		WITH src AS (
			SELECT product_id, brand, price_cents FROM variants WHERE id = ANY($1)
		)
		SELECT v.product_id, v.id, v.title, v.brand, v.price_cents, v.image
		FROM variants v
		WHERE v.qty_on_hand - v.qty_reserved > 0
		  AND v.brand IN (SELECT brand FROM src)
		  AND v.product_id NOT IN (SELECT product_id FROM src)
		ORDER BY abs(v.price_cents - (SELECT avg(price_cents) FROM src)), v.id
		LIMIT $2`, variantIDs, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Suggestion{}
	for rows.Next() {
		var sg Suggestion
		if err := rows.Scan(&sg.ProductID, &sg.VariantID, &sg.Title, &sg.Brand, &sg.Price, &sg.Image); err != nil {
			return nil, err
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}
