package kaupa

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaupa/barter-engine/internal/asset"
	"github.com/kaupa/barter-engine/internal/fees"
	"github.com/kaupa/barter-engine/internal/model"
)

const (
	badge  asset.ResourceAddress = "badge"
	xrd    asset.ResourceAddress = "xrd"
	vkc    asset.ResourceAddress = "vkc"
	tokA   asset.ResourceAddress = "token_a"
	tokB   asset.ResourceAddress = "token_b"
	dragon asset.ResourceAddress = "radragon"
	gem    asset.ResourceAddress = "gem"
)

var ownerID = asset.GlobalID{Resource: badge, Local: "owner"}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func who(name string) asset.Proof { return asset.NewProof(badge, asset.LocalID(name)) }

func whoPtr(name string) *asset.Proof {
	p := who(name)
	return &p
}

func fungible(res asset.ResourceAddress, amount string) *asset.Bucket {
	return asset.NewFungible(res, d(amount))
}

func items(res asset.ResourceAddress, ids ...string) *asset.Bucket {
	local := make([]asset.LocalID, len(ids))
	for i, id := range ids {
		local[i] = asset.LocalID(id)
	}
	return asset.NewNonFungible(res, local...)
}

func newLedger(t *testing.T) *asset.Ledger {
	t.Helper()
	l := asset.NewLedger()
	for res, kind := range map[asset.ResourceAddress]asset.Kind{
		badge:  asset.NonFungible,
		xrd:    asset.Fungible,
		vkc:    asset.Fungible,
		tokA:   asset.Fungible,
		tokB:   asset.Fungible,
		dragon: asset.NonFungible,
		gem:    asset.NonFungible,
	} {
		require.NoError(t, l.Define(res, kind))
	}
	return l
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.Owner == (asset.GlobalID{}) {
		cfg.Owner = ownerID
	}
	e, err := New(cfg, newLedger(t))
	require.NoError(t, err)
	return e
}

// find returns the first container of res in out.
func find(out []*asset.Bucket, res asset.ResourceAddress) *asset.Bucket {
	for _, b := range out {
		if b.Resource() == res {
			return b
		}
	}
	return nil
}

func assertAmount(t *testing.T, want string, b *asset.Bucket) {
	t.Helper()
	require.NotNil(t, b)
	assert.True(t, d(want).Equal(b.Amount()), "want %s, got %s", want, b.Amount())
}

func makeProposal(t *testing.T, e *Engine, owner string, offering []*asset.Bucket, asking model.AskingMap, partial bool) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	_, err := e.Invoke(context.Background(), func(tx *Tx) error {
		var err error
		id, _, err = tx.MakeProposal(who(owner), nil, model.Barter, offering, asking, partial, nil)
		return err
	})
	require.NoError(t, err)
	return id
}

func accept(e *Engine, taker string, id uuid.UUID, partial bool, paying []*asset.Bucket, feePaying ...*asset.Bucket) ([]*asset.Bucket, error) {
	var out []*asset.Bucket
	_, err := e.Invoke(context.Background(), func(tx *Tx) error {
		var err error
		out, err = tx.AcceptProposal(whoPtr(taker), id, partial, paying, feePaying)
		return err
	})
	return out, err
}

func TestNewValidatesConfig(t *testing.T) {
	l := newLedger(t)
	bad := d("20000")

	tests := []struct {
		name string
		cfg  Config
		is   error
	}{
		{"missing owner", Config{}, ErrInvalidConfig},
		{"pair without force partial", Config{Owner: ownerID, TradingPair: true, Side1: []asset.ResourceAddress{xrd}, Side2: []asset.ResourceAddress{tokA}}, ErrInvalidTradingPair},
		{"pair with same sides", Config{Owner: ownerID, TradingPair: true, ForceAllowPartial: true, Side1: []asset.ResourceAddress{xrd}, Side2: []asset.ResourceAddress{xrd}}, ErrInvalidTradingPair},
		{"pair with two tokens", Config{Owner: ownerID, TradingPair: true, ForceAllowPartial: true, Side1: []asset.ResourceAddress{xrd, vkc}, Side2: []asset.ResourceAddress{tokA}}, ErrInvalidTradingPair},
		{"pair with flash loans", Config{Owner: ownerID, TradingPair: true, ForceAllowPartial: true, AllowFlashLoans: true, Side1: []asset.ResourceAddress{xrd}, Side2: []asset.ResourceAddress{tokA}}, ErrInvalidTradingPair},
		{"unknown side resource", Config{Owner: ownerID, Side1: []asset.ResourceAddress{"nope"}}, ErrInvalidConfig},
		{"bps above 100%", Config{Owner: ownerID, Fees: &model.Fees{PerPaymentBps: &bad}}, fees.ErrInvalidFees},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, l)
			require.ErrorIs(t, err, tt.is)
			assert.True(t, IsConfiguration(err))
		})
	}
}

func TestNewCreatesDebtResource(t *testing.T) {
	l := newLedger(t)
	e, err := New(Config{Owner: ownerID, AllowFlashLoans: true}, l)
	require.NoError(t, err)

	res, ok := e.FlashLoanResource()
	require.True(t, ok)
	kind, err := l.Kind(res)
	require.NoError(t, err)
	assert.Equal(t, asset.NonFungible, kind)

	plain := newEngine(t, Config{})
	_, ok = plain.FlashLoanResource()
	assert.False(t, ok)
}

func TestMakeAndRescind(t *testing.T) {
	e := newEngine(t, Config{})
	offer := fungible(vkc, "100")

	var id uuid.UUID
	_, err := e.Invoke(context.Background(), func(tx *Tx) error {
		var (
			left []*asset.Bucket
			err  error
		)
		id, left, err = tx.MakeProposal(who("alice"), nil, model.Barter,
			[]*asset.Bucket{offer}, model.AskingMap{xrd: model.FungibleAsk(d("20"))}, false, nil)
		assert.Empty(t, left)
		return err
	})
	require.NoError(t, err)
	assert.True(t, offer.IsEmpty())

	rec, err := e.Proposal(id)
	require.NoError(t, err)
	assert.Equal(t, "badge#alice", rec.Owner)
	require.Len(t, rec.Offering, 1)
	assert.True(t, d("100").Equal(rec.Offering[0].Amount))

	var back []*asset.Bucket
	_, err = e.Invoke(context.Background(), func(tx *Tx) error {
		_, err := tx.RescindProposal(who("bob"), id)
		return err
	})
	require.ErrorIs(t, err, ErrWrongOwner)

	receipt, err := e.Invoke(context.Background(), func(tx *Tx) error {
		var err error
		back, err = tx.RescindProposal(who("alice"), id)
		return err
	})
	require.NoError(t, err)
	require.Len(t, back, 1)
	assertAmount(t, "100", back[0])
	require.Len(t, receipt.Events, 1)
	assert.Equal(t, model.EventProposalRescinded, receipt.Events[0].Type)

	_, err = e.Proposal(id)
	assert.True(t, IsNotFound(err))
}

func TestMakeProposalValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		kind    model.ProposalKind
		offer   []*asset.Bucket
		ask     model.AskingMap
		partial bool
		is      error
	}{
		{
			name:    "partial with two offered resources",
			offer:   []*asset.Bucket{fungible(vkc, "1"), fungible(tokA, "1")},
			ask:     model.AskingMap{xrd: model.FungibleAsk(d("1"))},
			partial: true,
			is:      ErrPartialShape,
		},
		{
			name:  "fungible ask on non-fungible resource",
			offer: []*asset.Bucket{fungible(vkc, "1")},
			ask:   model.AskingMap{dragon: model.FungibleAsk(d("1"))},
			is:    ErrAskingMismatch,
		},
		{
			name:  "force partial",
			cfg:   Config{ForceAllowPartial: true},
			offer: []*asset.Bucket{fungible(vkc, "1")},
			ask:   model.AskingMap{xrd: model.FungibleAsk(d("1"))},
			is:    ErrPartialRequired,
		},
		{
			name:  "side restriction",
			cfg:   Config{Side1: []asset.ResourceAddress{vkc}, Side2: []asset.ResourceAddress{xrd}},
			offer: []*asset.Bucket{fungible(vkc, "1")},
			ask:   model.AskingMap{tokA: model.FungibleAsk(d("1"))},
			is:    ErrTokenMismatch,
		},
		{
			name:  "flash loans disabled",
			kind:  model.FlashLoan,
			offer: []*asset.Bucket{fungible(vkc, "1")},
			ask:   model.AskingMap{xrd: model.FungibleAsk(d("1"))},
			is:    ErrFlashLoansDisabled,
		},
		{
			name:    "partial flash loan",
			cfg:     Config{AllowFlashLoans: true},
			kind:    model.FlashLoan,
			offer:   []*asset.Bucket{fungible(vkc, "1")},
			ask:     model.AskingMap{xrd: model.FungibleAsk(d("1"))},
			partial: true,
			is:      ErrPartialFlashLoan,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, tt.cfg)
			_, err := e.Invoke(context.Background(), func(tx *Tx) error {
				_, _, err := tx.MakeProposal(who("alice"), nil, tt.kind, tt.offer, tt.ask, tt.partial, nil)
				return err
			})
			require.ErrorIs(t, err, tt.is)
			assert.True(t, IsValidation(err))
			assert.Empty(t, e.Proposals())
			for _, b := range tt.offer {
				assert.False(t, b.IsEmpty(), "offering restored on abort")
			}
		})
	}
}

func TestAcceptFullBarter(t *testing.T) {
	e := newEngine(t, Config{})
	id := makeProposal(t, e, "alice",
		[]*asset.Bucket{fungible(vkc, "10000"), items(dragon, "1", "2", "3", "4", "5")},
		model.AskingMap{xrd: model.FungibleAsk(d("2000"))}, false)

	pay := fungible(xrd, "2500")
	out, err := accept(e, "bob", id, false, []*asset.Bucket{pay})
	require.NoError(t, err)

	assertAmount(t, "10000", find(out, vkc))
	assertAmount(t, "5", find(out, dragon))
	assert.Same(t, pay, find(out, xrd), "change comes back in the caller's container")
	assertAmount(t, "500", pay)

	payouts := e.Payouts(asset.GlobalID{Resource: badge, Local: "alice"})
	require.Len(t, payouts, 1)
	assert.True(t, d("2000").Equal(payouts[0].Amount))

	_, err = accept(e, "bob", id, false, []*asset.Bucket{fungible(xrd, "2000")})
	assert.True(t, IsNotFound(err))
}

func TestAcceptUnderpaidFullAborts(t *testing.T) {
	e := newEngine(t, Config{})
	id := makeProposal(t, e, "alice",
		[]*asset.Bucket{fungible(vkc, "100")},
		model.AskingMap{xrd: model.FungibleAsk(d("50"))}, false)

	pay := fungible(xrd, "49")
	_, err := accept(e, "bob", id, false, []*asset.Bucket{pay})
	require.ErrorIs(t, err, ErrInsufficientPayment)
	assert.True(t, IsInsufficiency(err))
	assertAmount(t, "49", pay)

	rec, err := e.Proposal(id)
	require.NoError(t, err)
	assert.True(t, d("100").Equal(rec.Offering[0].Amount))
	assert.Empty(t, e.Payouts(asset.GlobalID{Resource: badge, Local: "alice"}))
}

func TestAcceptPartialFungible(t *testing.T) {
	e := newEngine(t, Config{})
	id := makeProposal(t, e, "alice",
		[]*asset.Bucket{fungible(tokA, "1000")},
		model.AskingMap{tokB: model.FungibleAsk(d("500"))}, true)

	_, err := accept(e, "bob", id, false, []*asset.Bucket{fungible(tokB, "100")})
	require.ErrorIs(t, err, ErrInsufficientFullFunding)

	out, err := accept(e, "bob", id, true, []*asset.Bucket{fungible(tokB, "100")})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assertAmount(t, "200", find(out, tokA))

	rec, err := e.Proposal(id)
	require.NoError(t, err)
	assert.True(t, d("800").Equal(rec.Offering[0].Amount))
	assert.True(t, d("400").Equal(rec.Asking[tokB].Amount))

	payouts := e.Payouts(asset.GlobalID{Resource: badge, Local: "alice"})
	require.Len(t, payouts, 1)
	assert.True(t, d("100").Equal(payouts[0].Amount))
}

func TestAcceptPartialDrainingOfferingFills(t *testing.T) {
	e := newEngine(t, Config{})
	id := makeProposal(t, e, "alice",
		[]*asset.Bucket{fungible(xrd, "1")},
		model.AskingMap{tokA: model.FungibleAsk(d("100000000000000000000"))}, true)

	var out []*asset.Bucket
	receipt, err := e.Invoke(context.Background(), func(tx *Tx) error {
		var err error
		out, err = tx.AcceptProposal(whoPtr("bob"), id, true,
			[]*asset.Bucket{fungible(tokA, "99999999999999999999")}, nil)
		return err
	})
	require.NoError(t, err)
	assertAmount(t, "1", find(out, xrd))

	require.Len(t, receipt.Events, 1)
	assert.Equal(t, model.EventProposalFilled, receipt.Events[0].Type)
	assert.True(t, receipt.Events[0].Settlement.Full)

	_, err = e.Proposal(id)
	require.ErrorIs(t, err, ErrProposalNotFound)
	assert.Empty(t, e.Proposals())
}

func TestAcceptPartialNonFungible(t *testing.T) {
	e := newEngine(t, Config{})
	id := makeProposal(t, e, "alice",
		[]*asset.Bucket{items(dragon, "d1", "d2", "d3")},
		model.AskingMap{gem: model.NonFungibleAsk(6)}, true)

	out, err := accept(e, "bob", id, true, []*asset.Bucket{items(gem, "g1", "g2")})
	require.NoError(t, err)
	got := find(out, dragon)
	require.NotNil(t, got)
	assert.Equal(t, []asset.LocalID{"d1"}, got.IDs())
	assert.Nil(t, find(out, gem), "both gems were spent")

	rec, err := e.Proposal(id)
	require.NoError(t, err)
	assert.True(t, d("2").Equal(rec.Offering[0].Amount))
	assert.Equal(t, uint64(4), rec.Asking[gem].Extra)
}

func TestAcceptPartialNoWholeUnitRatio(t *testing.T) {
	e := newEngine(t, Config{})
	id := makeProposal(t, e, "alice",
		[]*asset.Bucket{items(dragon, "d1", "d2", "d3")},
		model.AskingMap{gem: model.NonFungibleAsk(7)}, true)

	pay := items(gem, "g1", "g2", "g3", "g4", "g5", "g6")
	_, err := accept(e, "bob", id, true, []*asset.Bucket{pay})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Len(t, pay.IDs(), 6)
}

func TestCounterpartyRestriction(t *testing.T) {
	e := newEngine(t, Config{})
	bob := asset.GlobalID{Resource: badge, Local: "bob"}

	var id uuid.UUID
	_, err := e.Invoke(context.Background(), func(tx *Tx) error {
		var err error
		id, _, err = tx.MakeProposal(who("alice"), &bob, model.Barter,
			[]*asset.Bucket{fungible(vkc, "10")}, model.AskingMap{xrd: model.FungibleAsk(d("1"))}, false, nil)
		return err
	})
	require.NoError(t, err)

	rec, err := e.Proposal(id)
	require.NoError(t, err)
	assert.Equal(t, "badge#bob", rec.Counterparty)

	_, err = accept(e, "carol", id, false, []*asset.Bucket{fungible(xrd, "1")})
	require.ErrorIs(t, err, ErrNotCounterparty)

	out, err := accept(e, "bob", id, false, []*asset.Bucket{fungible(xrd, "1")})
	require.NoError(t, err)
	assertAmount(t, "10", find(out, vkc))
}

func TestFailedOperationPoisonsInvocation(t *testing.T) {
	e := newEngine(t, Config{})
	offer := fungible(vkc, "5")

	_, err := e.Invoke(context.Background(), func(tx *Tx) error {
		_, _, err := tx.MakeProposal(who("alice"), nil, model.Barter,
			[]*asset.Bucket{offer}, model.AskingMap{xrd: model.FungibleAsk(d("1"))}, false, nil)
		require.NoError(t, err)

		_, err = tx.RescindProposal(who("alice"), uuid.New())
		require.ErrorIs(t, err, ErrProposalNotFound)

		_, err = tx.CollectFunds(who("alice"), true, false, nil)
		require.ErrorIs(t, err, ErrAborted)
		return nil
	})
	require.ErrorIs(t, err, ErrProposalNotFound)
	assert.Empty(t, e.Proposals())
	assertAmount(t, "5", offer)
}

func TestFeesAndCollection(t *testing.T) {
	bps := d("100")
	e := newEngine(t, Config{Fees: &model.Fees{
		PerTxTakerFixed: model.AskingMap{xrd: model.FungibleAsk(d("1"))},
		PerPaymentBps:   &bps,
		PerNFTFlat:      map[asset.ResourceAddress]model.NFTFee{dragon: {Resource: xrd, Amount: d("2")}},
	}})
	id := makeProposal(t, e, "alice",
		[]*asset.Bucket{items(dragon, "d1", "d2")},
		model.AskingMap{xrd: model.FungibleAsk(d("100"))}, false)

	feePay := fungible(xrd, "3")
	_, err := accept(e, "bob", id, false, []*asset.Bucket{fungible(xrd, "100")}, feePay)
	require.ErrorIs(t, err, fees.ErrInsufficientFees)
	assertAmount(t, "3", feePay)

	feePay = fungible(xrd, "10")
	out, err := accept(e, "bob", id, false, []*asset.Bucket{fungible(xrd, "100")}, feePay)
	require.NoError(t, err)
	assertAmount(t, "2", find(out, dragon))
	// 1 fixed + 1 bps + 2 items at 2 each
	assertAmount(t, "4", feePay)

	collected := e.CollectedFees()
	require.Len(t, collected, 1)
	assert.True(t, d("6").Equal(collected[0].Amount))

	_, err = e.Invoke(context.Background(), func(tx *Tx) error {
		_, err := tx.CollectFunds(who("alice"), false, true, nil)
		return err
	})
	require.ErrorIs(t, err, ErrNotOwner)

	var owner, alice []*asset.Bucket
	receipt, err := e.Invoke(context.Background(), func(tx *Tx) error {
		var err error
		if owner, err = tx.CollectFunds(who("owner"), false, true, nil); err != nil {
			return err
		}
		alice, err = tx.CollectFunds(who("alice"), true, false, nil)
		return err
	})
	require.NoError(t, err)
	assertAmount(t, "6", find(owner, xrd))
	assertAmount(t, "100", find(alice, xrd))
	assert.Len(t, receipt.Events, 2)
	assert.Empty(t, e.CollectedFees())
	assert.Empty(t, e.Payouts(asset.GlobalID{Resource: badge, Local: "alice"}))
}

func TestMakerFixedFee(t *testing.T) {
	e := newEngine(t, Config{Fees: &model.Fees{
		PerTxMakerFixed: model.AskingMap{gem: model.NonFungibleAsk(1, "g1")},
	}})

	_, err := e.Invoke(context.Background(), func(tx *Tx) error {
		_, _, err := tx.MakeProposal(who("alice"), nil, model.Barter,
			[]*asset.Bucket{fungible(vkc, "1")}, model.AskingMap{xrd: model.FungibleAsk(d("1"))}, false,
			[]*asset.Bucket{items(gem, "g2")})
		return err
	})
	require.ErrorIs(t, err, fees.ErrInsufficientFees)

	var left []*asset.Bucket
	_, err = e.Invoke(context.Background(), func(tx *Tx) error {
		var err error
		_, left, err = tx.MakeProposal(who("alice"), nil, model.Barter,
			[]*asset.Bucket{fungible(vkc, "1")}, model.AskingMap{xrd: model.FungibleAsk(d("1"))}, false,
			[]*asset.Bucket{items(gem, "g1", "g2", "g3")})
		return err
	})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, []asset.LocalID{"g3"}, left[0].IDs())
}
