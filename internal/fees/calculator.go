package fees

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	LalamoveConvenienceFee int64 = 5000
	COPConvenienceFee      int64 = 2000
	PriorityFee            int64 = 10000
)

var (
	ErrUnknownMethod     = errors.New("unknown shipping method")
	ErrUnknownRegion     = errors.New("unknown shipping region")
	ErrNegativeInsurance = errors.New("insurance fee must not be negative")
)

// WarnLBCManualBox is attached when no LBC tier fits; checkout proceeds and staff
// quote the box during approval.
const WarnLBCManualBox = "LBC_MANUAL_MEDIUM_BOX"

// insurance tiers: subtotal ceiling (centavos, inclusive) -> rate. Last tier is open.
var insuranceTiers = []struct {
	upTo int64
	rate decimal.Decimal
}{
	{200000, decimal.RequireFromString("0.02")},
	{500000, decimal.RequireFromString("0.015")},
	{0, decimal.RequireFromString("0.01")},
}

// SuggestInsurance returns the pre-filled insurance amount: a tiered percentage of
// the subtotal rounded up to a whole peso.
func SuggestInsurance(subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	r := insuranceTiers[len(insuranceTiers)-1].rate
	for _, t := range insuranceTiers {
		if t.upTo > 0 && subtotal <= t.upTo {
			r = t.rate
			break
		}
	}
	pesos := decimal.NewFromInt(subtotal).Mul(r).Div(decimal.NewFromInt(100)).Ceil()
	return pesos.Mul(decimal.NewFromInt(100)).IntPart()
}

func Subtotal(lines []Line) int64 {
	var s int64
	for _, l := range lines {
		s += l.UnitPrice * int64(l.Qty)
	}
	return s
}

// Compute prices a cart for a shipping method and region. It has no side effects:
// identical inputs always give identical output.
func Compute(lines []Line, method Method, region Region, opts Options) (Breakdown, error) {
	if !method.Valid() {
		return Breakdown{}, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	if !region.Valid() {
		return Breakdown{}, fmt.Errorf("%w: %q", ErrUnknownRegion, region)
	}

	b := Breakdown{Subtotal: Subtotal(lines)}
	b.SuggestedInsurance = SuggestInsurance(b.Subtotal)
	load := LoadOf(lines)

	switch method {
	case MethodJNT:
		pkg := RecommendPouch(load)
		b.Package = &pkg
		b.ShippingFee = rate(jntPouches, pkg.Size, region) * int64(pkg.Count)
		b.Lines = append(b.Lines, FeeLine{Code: LineShipping, Label: "J&T " + pkg.Size, Amount: b.ShippingFee})

	case MethodLBC:
		pkg, ok := RecommendLBC(load)
		b.Package = &pkg
		if ok {
			b.ShippingFee = rate(lbcTiers, pkg.Size, region) * int64(pkg.Count)
		} else {
			b.Warnings = append(b.Warnings, WarnLBCManualBox)
		}
		b.Lines = append(b.Lines, FeeLine{Code: LineShipping, Label: "LBC " + pkg.Size, Amount: b.ShippingFee, Muted: opts.COP})
		if opts.COP {
			b.COPFee = COPConvenienceFee
			b.Lines = append(b.Lines, FeeLine{Code: LineCOP, Label: "COP convenience fee", Amount: b.COPFee})
		}

	case MethodLalamove:
		b.LalamoveFee = LalamoveConvenienceFee
		b.Lines = append(b.Lines,
			FeeLine{Code: LineShipping, Label: "Lalamove (paid to rider)", Amount: 0},
			FeeLine{Code: LineLalamove, Label: "Lalamove convenience fee", Amount: b.LalamoveFee},
		)

	case MethodPickup:
		b.Lines = append(b.Lines, FeeLine{Code: LineShipping, Label: "Store pickup", Amount: 0})
	}

	if opts.PriorityRequested && opts.PriorityAvailable {
		b.PriorityFee = PriorityFee
		b.Lines = append(b.Lines, FeeLine{Code: LinePriority, Label: "Priority handling", Amount: b.PriorityFee})
	}

	if opts.InsuranceSelected {
		amt := b.SuggestedInsurance
		if opts.InsuranceFee != nil {
			if *opts.InsuranceFee < 0 {
				return Breakdown{}, ErrNegativeInsurance
			}
			amt = *opts.InsuranceFee
		}
		b.InsuranceFee = amt
		b.Lines = append(b.Lines, FeeLine{Code: LineInsurance, Label: "Shipping insurance", Amount: amt})
	}

	b.Total = b.Subtotal + Charged(b.Lines)
	return b, nil
}

// Charged sums the non-muted fee lines.
func Charged(lines []FeeLine) int64 {
	var s int64
	for _, l := range lines {
		if !l.Muted {
			s += l.Amount
		}
	}
	return s
}
