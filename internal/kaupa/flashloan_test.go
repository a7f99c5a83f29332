package kaupa

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaupa/barter-engine/internal/asset"
	"github.com/kaupa/barter-engine/internal/model"
)

func newLender(t *testing.T) (*Engine, uuid.UUID) {
	t.Helper()
	e := newEngine(t, Config{AllowFlashLoans: true})
	var id uuid.UUID
	_, err := e.Invoke(context.Background(), func(tx *Tx) error {
		var err error
		id, _, err = tx.MakeProposal(who("alice"), nil, model.FlashLoan,
			[]*asset.Bucket{fungible(xrd, "1000"), items(dragon, "d1")},
			model.AskingMap{xrd: model.FungibleAsk(d("5"))}, false, nil)
		return err
	})
	require.NoError(t, err)
	return e, id
}

func debtToken(t *testing.T, e *Engine, out []*asset.Bucket) *asset.Bucket {
	t.Helper()
	res, ok := e.FlashLoanResource()
	require.True(t, ok)
	token := find(out, res)
	require.NotNil(t, token)
	return token
}

func TestFlashLoanRepaidInSameInvocation(t *testing.T) {
	e, id := newLender(t)
	pay := fungible(xrd, "5")

	receipt, err := e.Invoke(context.Background(), func(tx *Tx) error {
		out, err := tx.AcceptProposal(whoPtr("bob"), id, false, []*asset.Bucket{pay}, nil)
		require.NoError(t, err)
		assertAmount(t, "1000", find(out, xrd))
		assert.Equal(t, []asset.LocalID{"d1"}, find(out, dragon).IDs())

		token := debtToken(t, e, out)
		debt, err := tx.Debt(token)
		require.NoError(t, err)
		assert.Equal(t, id.String(), debt.ProposalID)
		assert.True(t, d("1000").Equal(debt.FungiblesOwed[xrd]))

		left, err := tx.RepayFlashLoan(token, out)
		require.NoError(t, err)
		assert.Empty(t, left)
		assert.True(t, token.IsEmpty(), "debt token burned")
		return nil
	})
	require.NoError(t, err)
	require.Len(t, receipt.Events, 2)
	assert.Equal(t, model.EventFlashLoanIssued, receipt.Events[0].Type)
	assert.Equal(t, model.EventFlashLoanRepaid, receipt.Events[1].Type)

	rec, err := e.Proposal(id)
	require.NoError(t, err)
	assert.Len(t, rec.Offering, 2, "offering is back in place")

	payouts := e.Payouts(asset.GlobalID{Resource: badge, Local: "alice"})
	require.Len(t, payouts, 1)
	assert.True(t, d("5").Equal(payouts[0].Amount))
}

func TestFlashLoanUnrepaidAborts(t *testing.T) {
	e, id := newLender(t)
	pay := fungible(xrd, "5")

	var out []*asset.Bucket
	_, err := e.Invoke(context.Background(), func(tx *Tx) error {
		var err error
		out, err = tx.AcceptProposal(whoPtr("bob"), id, false, []*asset.Bucket{pay}, nil)
		return err
	})
	require.ErrorIs(t, err, ErrUnrepaidFlashLoan)
	assert.True(t, IsInsufficiency(err))

	assertAmount(t, "5", pay)
	for _, b := range out {
		assert.True(t, b.IsEmpty(), "%s handed out by an aborted invocation", b.Resource())
	}
	rec, err := e.Proposal(id)
	require.NoError(t, err)
	assert.Len(t, rec.Offering, 2)
	assert.Empty(t, e.Payouts(asset.GlobalID{Resource: badge, Local: "alice"}))
}

func TestFlashLoanShortRepayment(t *testing.T) {
	e, id := newLender(t)

	_, err := e.Invoke(context.Background(), func(tx *Tx) error {
		out, err := tx.AcceptProposal(whoPtr("bob"), id, false, []*asset.Bucket{fungible(xrd, "5")}, nil)
		if err != nil {
			return err
		}
		if _, err := find(out, xrd).Take(d("1")); err != nil {
			return err
		}
		_, err = tx.RepayFlashLoan(debtToken(t, e, out), out)
		return err
	})
	require.ErrorIs(t, err, ErrInsufficientRepayment)
}

func TestFlashLoanRepayWithSurplus(t *testing.T) {
	e, id := newLender(t)

	var left []*asset.Bucket
	_, err := e.Invoke(context.Background(), func(tx *Tx) error {
		out, err := tx.AcceptProposal(whoPtr("bob"), id, false, []*asset.Bucket{fungible(xrd, "5")}, nil)
		if err != nil {
			return err
		}
		funds := append(out, fungible(xrd, "7"))
		left, err = tx.RepayFlashLoan(debtToken(t, e, out), funds)
		return err
	})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assertAmount(t, "7", left[0])
}

func TestFlashLoanWrongToken(t *testing.T) {
	e, _ := newLender(t)

	_, err := e.Invoke(context.Background(), func(tx *Tx) error {
		_, err := tx.RepayFlashLoan(items(gem, "g1"), nil)
		return err
	})
	require.ErrorIs(t, err, ErrWrongDebtToken)
}

func TestFlashLoanRejectsPartialAccept(t *testing.T) {
	e, id := newLender(t)
	_, err := accept(e, "bob", id, true, []*asset.Bucket{fungible(xrd, "5")})
	require.ErrorIs(t, err, ErrPartialFlashLoan)
}

func TestDebtTokenCannotBeDeposited(t *testing.T) {
	l := newLedger(t)
	e, err := New(Config{Owner: ownerID, AllowFlashLoans: true}, l)
	require.NoError(t, err)
	res, _ := e.FlashLoanResource()

	err = l.Deposit("bob", items(res, "forged"))
	require.ErrorIs(t, err, asset.ErrRestricted)
}
