// Package fill implements the matching arithmetic of the barter engine: how
// large a fraction of a proposal a payment satisfies, how non-fungible items
// are picked from a payment, and the precision rules tying them together.
//
// Ratios are carried at PreciseScale fractional digits. Amounts that leave
// the engine are brought back to Scale with ToScale. Item counts are rounded
// to whole units with RoundUnits.
//
// Every function is pure; callers move assets.
package fill

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/kaupa/barter-engine/internal/asset"
)

const (
	// Scale is the number of fractional digits of an amount.
	Scale int32 = 18
	// PreciseScale is the number of fractional digits of a ratio.
	PreciseScale int32 = 2 * Scale
)

var (
	Zero = decimal.Zero
	One  = decimal.NewFromInt(1)
)

// ToScale converts a precise value to an amount: round half away from zero
// at Scale digits, then truncate.
func ToScale(p decimal.Decimal) decimal.Decimal {
	return p.Round(Scale).Truncate(Scale)
}

// RoundUnits rounds to a whole number of items, half away from zero.
func RoundUnits(p decimal.Decimal) decimal.Decimal {
	return p.Round(0)
}

// Mul multiplies at precise scale.
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Round(PreciseScale)
}

// Div divides at precise scale.
func Div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, PreciseScale)
}

// Portion is the amount of price owed at ratio r, as an amount.
func Portion(r, price decimal.Decimal) decimal.Decimal {
	return ToScale(Mul(r, price))
}

// Input describes one proposal and a single payment container of the
// resource it asks for.
type Input struct {
	AllowPartial     bool
	Paying           decimal.Decimal // amount or item count supplied
	PayingFungible   bool
	Asking           decimal.Decimal // total asked of the paying resource
	Offering         decimal.Decimal // amount or item count on offer
	OfferingFungible bool
}

// PartialRatio returns the fraction in [0, 1] of the proposal the payment
// satisfies. Non-partial proposals always get 1; an underpayment surfaces
// when the payment is extracted.
func PartialRatio(in Input) decimal.Decimal {
	if !in.AllowPartial {
		return One
	}
	if in.Paying.GreaterThanOrEqual(in.Asking) {
		return One
	}
	switch {
	case !in.PayingFungible && !in.OfferingFungible:
		return WholeUnitRatio(units(in.Paying), units(in.Offering), units(in.Asking))
	case !in.OfferingFungible:
		if in.Offering.IsZero() {
			return Zero
		}
		items := Div(in.Offering.Mul(in.Paying), in.Asking).Floor()
		return Div(items, in.Offering)
	default:
		return Div(in.Paying, in.Asking)
	}
}

// WholeUnitRatio finds the largest k <= paying with (k*offering) mod asking
// == 0 and returns k/asking, or exactly zero when no such k > 0 exists.
// Such k are the multiples of asking/gcd(offering, asking).
func WholeUnitRatio(paying, offering, asking uint64) decimal.Decimal {
	if asking == 0 || paying == 0 {
		return Zero
	}
	step := asking / gcd(offering, asking)
	k := paying / step * step
	if k == 0 {
		return Zero
	}
	return Div(fromUint(k), fromUint(asking))
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func fromUint(u uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(u), 0)
}

func units(d decimal.Decimal) uint64 {
	if d.IsNegative() {
		return 0
	}
	return uint64(d.IntPart())
}

// Pick selects items from available (ascending order) to pay a non-fungible
// ask at ratio r. Named items present are taken first, missing ones are
// skipped; then arbitrary items fill up to min(target-taken, extra), capped
// by what is available. target is round(r * (len(named)+extra)).
func Pick(available []asset.LocalID, r decimal.Decimal, named []asset.LocalID, extra uint64) (picked []asset.LocalID, target int64) {
	total := decimal.NewFromInt(int64(len(named))).Add(fromUint(extra))
	target = RoundUnits(r.Mul(total)).IntPart()
	if target <= 0 {
		return nil, 0
	}

	have := make(map[asset.LocalID]bool, len(available))
	for _, id := range available {
		have[id] = true
	}

	for _, id := range named {
		if int64(len(picked)) >= target {
			break
		}
		if have[id] {
			picked = append(picked, id)
			delete(have, id)
		}
	}

	arbitrary := target - int64(len(picked))
	if extra < uint64(arbitrary) {
		arbitrary = int64(extra)
	}
	for _, id := range available {
		if arbitrary <= 0 {
			break
		}
		if have[id] {
			picked = append(picked, id)
			delete(have, id)
			arbitrary--
		}
	}
	return picked, target
}

// Reduce scales r down when only taken of target items could be collected.
func Reduce(r decimal.Decimal, taken, target int64) decimal.Decimal {
	if target <= 0 || taken >= target {
		return r
	}
	return Div(r.Mul(decimal.NewFromInt(taken)), decimal.NewFromInt(target))
}

// IsWholeUnits reports whether r*amount is a whole number once brought to
// amount scale.
func IsWholeUnits(r, amount decimal.Decimal) bool {
	v := r.Mul(amount).Round(Scale)
	return v.Equal(v.Truncate(0))
}
