package suggest

import (
	"context"
	"math"
	"sort"

	"github.com/ariefcatur/diecast-orders/internal/stock"
)

// Suggestion is a sellable alternative shown next to a sold-out line.
type Suggestion struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Title     string `json:"title"`
	Brand     string `json:"brand"`
	Price     int64  `json:"price"`
	Image     string `json:"image"`
}

type Suggester interface {
	// SuggestSimilar returns up to limit sellable variants of other products from
	// the same brands as variantIDs, closest in price first.
	SuggestSimilar(ctx context.Context, variantIDs []string, limit int) ([]Suggestion, error)
}

const DefaultLimit = 6

func clampLimit(n int) int {
	if n <= 0 || n > 50 {
		return DefaultLimit
	}
	return n
}

// LedgerSource ranks straight from an in-memory ledger.
type LedgerSource struct {
	Ledger *stock.MemoryLedger
}

func (s *LedgerSource) SuggestSimilar(_ context.Context, variantIDs []string, limit int) ([]Suggestion, error) {
	limit = clampLimit(limit)
	all := s.Ledger.Snapshot()

	exclude := map[string]bool{}
	products := map[string]bool{}
	brands := map[string]bool{}
	var priceSum int64
	for _, v := range all {
		for _, id := range variantIDs {
			if v.ID == id {
				exclude[v.ID] = true
				products[v.ProductID] = true
				brands[v.Brand] = true
				priceSum += v.PriceCents
			}
		}
	}
	if len(exclude) == 0 {
		return []Suggestion{}, nil
	}
	avg := float64(priceSum) / float64(len(exclude))

	var cands []stock.Variant
	for _, v := range all {
		if exclude[v.ID] || products[v.ProductID] || !brands[v.Brand] || v.Sellable() <= 0 {
			continue
		}
		cands = append(cands, v)
	}
	sort.Slice(cands, func(i, j int) bool {
		di := math.Abs(float64(cands[i].PriceCents) - avg)
		dj := math.Abs(float64(cands[j].PriceCents) - avg)
		if di != dj {
			return di < dj
		}
		return cands[i].ID < cands[j].ID
	})

	out := make([]Suggestion, 0, limit)
	for _, v := range cands {
		if len(out) == limit {
			break
		}
		out = append(out, fromVariant(v))
	}
	return out, nil
}

func fromVariant(v stock.Variant) Suggestion {
	return Suggestion{
		ProductID: v.ProductID,
		VariantID: v.ID,
		Title:     v.Title,
		Brand:     v.Brand,
		Price:     v.PriceCents,
		Image:     v.Image,
	}
}
