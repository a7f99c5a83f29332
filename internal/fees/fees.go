// Package fees validates an engine's fee schedule and charges its rules:
// fixed per-transaction fees for makers and takers, a basis-point fee on
// fungible payments, and a flat fee per non-fungible item moved.
//
// Charges move funds from a payer bag into a collected bag. Callers run them
// inside an invocation, so a failed charge leaves no trace.
package fees

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kaupa/barter-engine/internal/asset"
	"github.com/kaupa/barter-engine/internal/fill"
	"github.com/kaupa/barter-engine/internal/model"
)

var (
	ErrInvalidFees      = errors.New("fees: invalid fee schedule")
	ErrAskingMismatch   = errors.New("fees: asking type does not match resource")
	ErrNegativeAsk      = errors.New("fees: negative asking amount")
	ErrInsufficientFees = errors.New("fees: insufficient fee payment")
)

// MaxBps is 100%.
var MaxBps = decimal.NewFromInt(10000)

// CheckAskingMap verifies every ask matches the kind of its resource and no
// fungible ask is negative.
func CheckAskingMap(m model.AskingMap, reg asset.Registry) error {
	var errs []error
	for _, res := range m.Resources() {
		ask := m[res]
		kind, err := reg.Kind(res)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if kind != ask.Kind {
			errs = append(errs, fmt.Errorf("%w: %s is %s but ask is %s", ErrAskingMismatch, res, kind, ask.Kind))
			continue
		}
		if ask.Kind == asset.Fungible && ask.Amount.IsNegative() {
			errs = append(errs, fmt.Errorf("%w: %s %s", ErrNegativeAsk, ask.Amount, res))
		}
	}
	return errors.Join(errs...)
}

// Validate checks a fee schedule before an engine is created. All problems
// are reported together.
func Validate(f *model.Fees, reg asset.Registry) error {
	if f == nil {
		return nil
	}
	var errs []error

	if bps := f.PerPaymentBps; bps != nil && (bps.IsNegative() || bps.GreaterThan(MaxBps)) {
		errs = append(errs, fmt.Errorf("%w: bps fee %s outside [0, 10000]", ErrInvalidFees, bps))
	}
	if err := CheckAskingMap(f.PerTxMakerFixed, reg); err != nil {
		errs = append(errs, fmt.Errorf("%w: maker fee: %w", ErrInvalidFees, err))
	}
	if err := CheckAskingMap(f.PerTxTakerFixed, reg); err != nil {
		errs = append(errs, fmt.Errorf("%w: taker fee: %w", ErrInvalidFees, err))
	}
	for res, rule := range f.PerNFTFlat {
		kind, err := reg.Kind(res)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%w: nft fee: %w", ErrInvalidFees, err))
		case kind != asset.NonFungible:
			errs = append(errs, fmt.Errorf("%w: nft fee on fungible resource %s", ErrInvalidFees, res))
		}
		if _, err := reg.Kind(rule.Resource); err != nil {
			errs = append(errs, fmt.Errorf("%w: nft fee payable in: %w", ErrInvalidFees, err))
		}
		if rule.Amount.IsNegative() {
			errs = append(errs, fmt.Errorf("%w: negative nft fee %s for %s", ErrInvalidFees, rule.Amount, res))
		}
	}
	return errors.Join(errs...)
}

// ChargePerTx takes a fixed maker or taker fee rule from payer. Non-fungible
// rules must be paid in full: the named items and the extra count.
func ChargePerTx(rule model.AskingMap, payer, collected asset.Bag) error {
	for _, res := range rule.Resources() {
		ask := rule[res]
		if ask.Kind == asset.Fungible {
			if !ask.Amount.IsPositive() {
				continue
			}
			if err := ChargeFixed(payer[res], ask.Amount, collected); err != nil {
				return err
			}
			continue
		}

		if len(ask.IDs) == 0 && ask.Extra == 0 {
			continue
		}
		b := payer[res]
		if b == nil {
			return fmt.Errorf("%w: missing %s", ErrInsufficientFees, res)
		}
		picked, target := fill.Pick(b.IDs(), fill.One, ask.IDs, ask.Extra)
		if int64(len(picked)) < target {
			return fmt.Errorf("%w: need %d items of %s, found %d", ErrInsufficientFees, target, res, len(picked))
		}
		taken, err := b.TakeNonFungibles(picked)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInsufficientFees, err)
		}
		if err := collected.Put(taken); err != nil {
			return err
		}
	}
	return nil
}

// ChargeFixed moves amount out of b. Non-fungible fee containers pay whole
// items, lowest ids first.
func ChargeFixed(b *asset.Bucket, amount decimal.Decimal, collected asset.Bag) error {
	if !amount.IsPositive() {
		return nil
	}
	if b == nil {
		return fmt.Errorf("%w: missing fee payment of %s", ErrInsufficientFees, amount)
	}
	taken, err := b.Take(amount)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInsufficientFees, err)
	}
	return collected.Put(taken)
}

// PaymentFee is the basis-point fee owed on a fungible payment of ratio*price.
func PaymentFee(price, ratio, bps decimal.Decimal) decimal.Decimal {
	return fill.ToScale(fill.Div(fill.Mul(ratio, price).Mul(bps), MaxBps))
}

// ChargePayment takes the basis-point fee for paying ratio*price of res from
// the separate fee container of the same resource.
func ChargePayment(f *model.Fees, res asset.ResourceAddress, price, ratio decimal.Decimal, feePayer, collected asset.Bag) (decimal.Decimal, error) {
	if f == nil || f.PerPaymentBps == nil || f.PerPaymentBps.IsZero() {
		return decimal.Zero, nil
	}
	amount := PaymentFee(price, ratio, *f.PerPaymentBps)
	if amount.IsZero() {
		return amount, nil
	}
	if feePayer[res] == nil {
		return decimal.Zero, fmt.Errorf("%w: missing bps fee payment in %s", ErrInsufficientFees, res)
	}
	if err := ChargeFixed(feePayer[res], amount, collected); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// ChargePerItem takes the flat fee for count items of a non-fungible resource.
func ChargePerItem(f *model.Fees, res asset.ResourceAddress, count int64, feePayer, collected asset.Bag) error {
	if f == nil || count <= 0 {
		return nil
	}
	rule, ok := f.PerNFTFlat[res]
	if !ok {
		return nil
	}
	amount := rule.Amount.Mul(decimal.NewFromInt(count))
	if !amount.IsPositive() {
		return nil
	}
	if feePayer[rule.Resource] == nil {
		return fmt.Errorf("%w: missing %s fee for %d items of %s", ErrInsufficientFees, rule.Resource, count, res)
	}
	return ChargeFixed(feePayer[rule.Resource], amount, collected)
}
