// Package model defines the domain types shared across the barter engine.
// All amounts use shopspring/decimal, never float64.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/kaupa/barter-engine/internal/asset"
)

var ErrInvalidAsking = errors.New("model: invalid asking type")

// AskingType is the payment requested for one resource: an exact fungible
// amount, or named items plus a count of arbitrary extra items.
type AskingType struct {
	Kind   asset.Kind
	Amount decimal.Decimal
	IDs    []asset.LocalID
	Extra  uint64
}

// FungibleAsk asks for an exact amount.
func FungibleAsk(amount decimal.Decimal) AskingType {
	return AskingType{Kind: asset.Fungible, Amount: amount}
}

// NonFungibleAsk asks for the named items plus extra arbitrary ones.
func NonFungibleAsk(extra uint64, ids ...asset.LocalID) AskingType {
	return AskingType{Kind: asset.NonFungible, IDs: append([]asset.LocalID(nil), ids...), Extra: extra}
}

// Total is the fungible amount or the total item count.
func (a AskingType) Total() decimal.Decimal {
	if a.Kind == asset.NonFungible {
		return decimal.NewFromInt(int64(len(a.IDs))).Add(decimal.NewFromInt(int64(a.Extra)))
	}
	return a.Amount
}

func (a AskingType) Clone() AskingType {
	a.IDs = append([]asset.LocalID(nil), a.IDs...)
	return a
}

type askingJSON struct {
	Type   asset.Kind       `json:"type"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
	IDs    []asset.LocalID  `json:"ids,omitempty"`
	Extra  uint64           `json:"extra,omitempty"`
}

func (a AskingType) MarshalJSON() ([]byte, error) {
	w := askingJSON{Type: a.Kind}
	if a.Kind == asset.Fungible {
		amt := a.Amount
		w.Amount = &amt
	} else {
		w.IDs = a.IDs
		w.Extra = a.Extra
	}
	return json.Marshal(w)
}

func (a *AskingType) UnmarshalJSON(data []byte) error {
	var w askingJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Type {
	case asset.Fungible:
		if w.Amount == nil {
			return fmt.Errorf("%w: fungible ask needs an amount", ErrInvalidAsking)
		}
		if len(w.IDs) > 0 || w.Extra > 0 {
			return fmt.Errorf("%w: fungible ask cannot name items", ErrInvalidAsking)
		}
		*a = FungibleAsk(*w.Amount)
	case asset.NonFungible:
		if w.Amount != nil {
			return fmt.Errorf("%w: non-fungible ask takes ids and extra, not amount", ErrInvalidAsking)
		}
		*a = NonFungibleAsk(w.Extra, w.IDs...)
	}
	return nil
}

// AskingMap is the asking side of a proposal or a fixed fee rule.
type AskingMap map[asset.ResourceAddress]AskingType

func (m AskingMap) Clone() AskingMap {
	if m == nil {
		return nil
	}
	out := make(AskingMap, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// Resources returns the asked resources in ascending order.
func (m AskingMap) Resources() []asset.ResourceAddress {
	out := make([]asset.ResourceAddress, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ProposalKind distinguishes plain barters from flash-loan offers.
type ProposalKind int

const (
	Barter ProposalKind = iota
	FlashLoan
)

func (k ProposalKind) String() string {
	if k == FlashLoan {
		return "flash_loan"
	}
	return "barter"
}

func (k ProposalKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *ProposalKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "barter", "":
		*k = Barter
	case "flash_loan", "flashloan":
		*k = FlashLoan
	default:
		return fmt.Errorf("model: unknown proposal kind %q", string(text))
	}
	return nil
}

// NFTFee is the flat fee charged per item of a non-fungible resource moved.
type NFTFee struct {
	Resource asset.ResourceAddress `json:"resource"`
	Amount   decimal.Decimal       `json:"amount"`
}

// Fees is an engine's fee schedule. Every rule is optional.
type Fees struct {
	PerTxMakerFixed AskingMap                        `json:"per_tx_maker_fixed_fee,omitempty"`
	PerTxTakerFixed AskingMap                        `json:"per_tx_taker_fixed_fee,omitempty"`
	PerPaymentBps   *decimal.Decimal                 `json:"per_payment_bps_fee,omitempty"`
	PerNFTFlat      map[asset.ResourceAddress]NFTFee `json:"per_nft_flat_fee,omitempty"`
}

// FlashLoanDebt records what a borrower owes a flash-loan proposal.
type FlashLoanDebt struct {
	ProposalID       string                                    `json:"proposal_id"`
	FungiblesOwed    map[asset.ResourceAddress]decimal.Decimal `json:"fungibles_owed"`
	NonFungiblesOwed map[asset.ResourceAddress][]asset.LocalID `json:"non_fungibles_owed"`
}
