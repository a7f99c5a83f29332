package kaupa

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kaupa/barter-engine/internal/asset"
	"github.com/kaupa/barter-engine/internal/fill"
	"github.com/kaupa/barter-engine/internal/model"
)

// executeFlashLoan takes the full asking price, lends out the whole offering
// and mints a debt token recording what must come back.
func (e *Engine) executeFlashLoan(tx *Tx, p *proposal, taker *asset.Proof, payBag, feeBag, collected asset.Bag) ([]*asset.Bucket, *asset.Bucket, error) {
	if e.debtAuth == nil {
		return nil, nil, ErrFlashLoansDisabled
	}
	pay, err := e.takePayment(p, fill.One, payBag, feeBag, collected)
	if err != nil {
		return nil, nil, err
	}
	if !pay.ratio.Equal(fill.One) {
		return nil, nil, fmt.Errorf("%w: flash loans are paid in full", ErrInsufficientPayment)
	}

	debt := model.FlashLoanDebt{
		ProposalID:       p.id.String(),
		FungiblesOwed:    make(map[asset.ResourceAddress]decimal.Decimal),
		NonFungiblesOwed: make(map[asset.ResourceAddress][]asset.LocalID),
	}
	var lent []*asset.Bucket
	for _, vault := range p.offering.Buckets() {
		if vault.IsEmpty() {
			continue
		}
		b := vault.TakeAll()
		if b.Kind() == asset.Fungible {
			debt.FungiblesOwed[b.Resource()] = b.Amount()
		} else {
			debt.NonFungiblesOwed[b.Resource()] = b.IDs()
		}
		lent = append(lent, b)
	}

	token, err := e.debtAuth.MintUnique()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: minting debt token: %w", ErrInvariant, err)
	}
	e.st.debts[token.IDs()[0]] = debt
	p.updated = e.now()

	s := &model.Settlement{
		ID:         uuid.New().String(),
		EngineID:   e.id,
		ProposalID: p.id.String(),
		Owner:      p.owner.String(),
		Taker:      takerName(taker),
		Kind:       model.FlashLoan,
		Ratio:      fill.One,
		Paid:       pay.paid,
		Received:   model.AmountsOf(lent),
		Fees:       model.AmountsOf(collected.Buckets()),
		Timestamp:  e.now(),
	}
	tx.emit(model.Event{Type: model.EventFlashLoanIssued, ProposalID: s.ProposalID, Settlement: s})
	e.logger.Debug("flash loan issued", "proposal", p.id, "token", token.IDs()[0])
	return lent, token, nil
}

// Debt reads the record behind a debt token.
func (tx *Tx) Debt(token *asset.Bucket) (model.FlashLoanDebt, error) {
	if err := tx.begin(); err != nil {
		return model.FlashLoanDebt{}, err
	}
	id, err := tx.e.debtID(token)
	if err != nil {
		return model.FlashLoanDebt{}, err
	}
	return tx.e.st.debts[id], nil
}

func (e *Engine) debtID(token *asset.Bucket) (asset.LocalID, error) {
	if e.debtAuth == nil {
		return "", ErrFlashLoansDisabled
	}
	if token == nil || token.Resource() != e.debtAuth.Resource() {
		return "", ErrWrongDebtToken
	}
	ids := token.IDs()
	if len(ids) != 1 {
		return "", fmt.Errorf("%w: need exactly one debt token, got %d", ErrWrongDebtToken, len(ids))
	}
	if _, ok := e.st.debts[ids[0]]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownDebt, ids[0])
	}
	return ids[0], nil
}

// RepayFlashLoan returns borrowed assets to their proposal and burns the
// debt token. Every owed amount and item must be present in funds; whatever
// is left over is returned.
func (tx *Tx) RepayFlashLoan(debtToken *asset.Bucket, funds []*asset.Bucket) ([]*asset.Bucket, error) {
	if err := tx.begin([]*asset.Bucket{debtToken}, funds); err != nil {
		return nil, err
	}
	e := tx.e

	tokenID, err := e.debtID(debtToken)
	if err != nil {
		return nil, tx.fail(err)
	}
	debt := e.st.debts[tokenID]
	pid, err := uuid.Parse(debt.ProposalID)
	if err != nil {
		return nil, tx.fail(fmt.Errorf("%w: %w", ErrInvariant, err))
	}
	p, ok := e.st.proposals[pid]
	if !ok {
		return nil, tx.fail(fmt.Errorf("%w: %s", ErrProposalNotFound, pid))
	}

	fundBag, err := asset.Group(funds)
	if err != nil {
		return nil, tx.fail(err)
	}
	for res, amount := range debt.FungiblesOwed {
		b := fundBag[res]
		if b == nil {
			return nil, tx.fail(fmt.Errorf("%w: no %s supplied", ErrInsufficientRepayment, res))
		}
		taken, err := b.Take(amount)
		if err != nil {
			return nil, tx.fail(fmt.Errorf("%w: %w", ErrInsufficientRepayment, err))
		}
		if err := p.offering.Put(taken); err != nil {
			return nil, tx.fail(err)
		}
	}
	for res, ids := range debt.NonFungiblesOwed {
		b := fundBag[res]
		if b == nil {
			return nil, tx.fail(fmt.Errorf("%w: no %s supplied", ErrInsufficientRepayment, res))
		}
		taken, err := b.TakeNonFungibles(ids)
		if err != nil {
			return nil, tx.fail(fmt.Errorf("%w: %w", ErrInsufficientRepayment, err))
		}
		if err := p.offering.Put(taken); err != nil {
			return nil, tx.fail(err)
		}
	}

	if err := e.debtAuth.Burn(debtToken); err != nil {
		return nil, tx.fail(err)
	}
	delete(e.st.debts, tokenID)
	p.updated = e.now()

	tx.emit(model.Event{Type: model.EventFlashLoanRepaid, ProposalID: debt.ProposalID})
	e.logger.Debug("flash loan repaid", "proposal", pid, "token", tokenID)
	return tx.output(fundBag.Buckets()...), nil
}
