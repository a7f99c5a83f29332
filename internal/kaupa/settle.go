package kaupa

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kaupa/barter-engine/internal/asset"
	"github.com/kaupa/barter-engine/internal/fees"
	"github.com/kaupa/barter-engine/internal/fill"
	"github.com/kaupa/barter-engine/internal/model"
	"github.com/kaupa/barter-engine/internal/orderbook"
)

// AcceptProposal fills proposal id from paying. A barter settles in full or,
// when both the proposal and the taker allow it, in part. A flash loan hands
// out the offering plus a debt token that must be repaid in the same
// invocation. Fees come from feePaying; unused payment and fee funds are
// returned along with what the taker bought.
func (tx *Tx) AcceptProposal(
	taker *asset.Proof,
	id uuid.UUID,
	allowPartial bool,
	paying []*asset.Bucket,
	feePaying []*asset.Bucket,
) ([]*asset.Bucket, error) {
	if err := tx.begin(paying, feePaying); err != nil {
		return nil, err
	}
	e := tx.e

	p, ok := e.st.proposals[id]
	if !ok {
		return nil, tx.fail(fmt.Errorf("%w: %s", ErrProposalNotFound, id))
	}
	if !p.admits(taker) {
		return nil, tx.fail(ErrNotCounterparty)
	}
	if allowPartial && p.kind == model.FlashLoan {
		return nil, tx.fail(ErrPartialFlashLoan)
	}

	payBag, err := asset.Group(paying)
	if err != nil {
		return nil, tx.fail(err)
	}
	feeBag, err := asset.Group(feePaying)
	if err != nil {
		return nil, tx.fail(err)
	}
	collected := make(asset.Bag)
	if err := fees.ChargePerTx(e.takerFixed(), feeBag, collected); err != nil {
		return nil, tx.fail(err)
	}

	ratio, err := e.partialRatio(p, payBag)
	if err != nil {
		return nil, tx.fail(err)
	}
	if !allowPartial && !ratio.Equal(fill.One) {
		return nil, tx.fail(ErrInsufficientFullFunding)
	}
	if ratio.IsZero() {
		return nil, tx.fail(ErrInsufficientFunds)
	}

	var out []*asset.Bucket
	switch p.kind {
	case model.FlashLoan:
		lent, token, err := e.executeFlashLoan(tx, p, taker, payBag, feeBag, collected)
		if err != nil {
			return nil, tx.fail(err)
		}
		out = append(lent, token)

	default:
		res, err := e.executeBarter(p, ratio, payBag, feeBag, collected)
		if err != nil {
			return nil, tx.fail(err)
		}
		if res.ratio.IsZero() {
			return nil, tx.fail(ErrInsufficientFunds)
		}
		if !allowPartial && !res.ratio.Equal(fill.One) {
			return nil, tx.fail(ErrInsufficientFullFunding)
		}
		if err := e.chargeReceived(res.received, feeBag, collected); err != nil {
			return nil, tx.fail(err)
		}
		tx.settled(p, taker, res, collected)
		out = res.received
	}

	for _, b := range collected.Buckets() {
		if err := e.st.fees.Put(b); err != nil {
			return nil, tx.fail(err)
		}
	}

	out = append(out, payBag.Buckets()...)
	return tx.output(append(out, feeBag.Buckets()...)...), nil
}

// SweepProposals buys from a trading pair's book, cheapest first, until
// paying runs out, the book is exhausted or the next price exceeds
// priceLimit. Proposals restricted to another counterparty are skipped.
func (tx *Tx) SweepProposals(
	taker *asset.Proof,
	priceLimit *decimal.Decimal,
	paying *asset.Bucket,
	feePaying []*asset.Bucket,
) ([]*asset.Bucket, error) {
	if err := tx.begin([]*asset.Bucket{paying}, feePaying); err != nil {
		return nil, err
	}
	e := tx.e

	if !e.cfg.TradingPair {
		return nil, tx.fail(ErrNotTradingPair)
	}
	if paying == nil {
		return nil, tx.fail(fmt.Errorf("%w: no payment", ErrInsufficientPayment))
	}
	var side orderbook.Side
	switch paying.Resource() {
	case e.cfg.Side1[0]:
		side = orderbook.Buy
	case e.cfg.Side2[0]:
		side = orderbook.Sell
	default:
		return nil, tx.fail(fmt.Errorf("%w: cannot pay with %s", ErrTokenMismatch, paying.Resource()))
	}

	feeBag, err := asset.Group(feePaying)
	if err != nil {
		return nil, tx.fail(err)
	}
	collected := make(asset.Bag)
	if err := fees.ChargePerTx(e.takerFixed(), feeBag, collected); err != nil {
		return nil, tx.fail(err)
	}

	payBag := asset.Bag{paying.Resource(): paying}
	bought := make(asset.Bag)
	var cursor *orderbook.Entry

	for !paying.IsEmpty() {
		entry, ok := e.st.book.Next(side, cursor)
		if !ok {
			break
		}
		cursor = &entry
		if priceLimit != nil && entry.Price.GreaterThan(*priceLimit) {
			break
		}
		p := e.st.proposals[entry.ID]
		if p == nil {
			return nil, tx.fail(fmt.Errorf("%w: book entry %s has no proposal", ErrInvariant, entry.ID))
		}
		if !p.admits(taker) {
			continue
		}
		if vault, _, _ := p.single(); vault.Kind() == asset.NonFungible && paying.Amount().LessThan(entry.Price) {
			break
		}

		ratio, err := e.partialRatio(p, payBag)
		if err != nil {
			return nil, tx.fail(err)
		}
		if ratio.IsZero() {
			continue
		}
		res, err := e.executeBarter(p, ratio, payBag, feeBag, collected)
		if err != nil {
			return nil, tx.fail(err)
		}
		if res.ratio.IsZero() {
			continue
		}
		for _, b := range res.received {
			if err := bought.Put(b); err != nil {
				return nil, tx.fail(err)
			}
		}
		tx.settled(p, taker, res, nil)
	}

	received := bought.Buckets()
	if err := e.chargeReceived(received, feeBag, collected); err != nil {
		return nil, tx.fail(err)
	}
	for _, b := range collected.Buckets() {
		if err := e.st.fees.Put(b); err != nil {
			return nil, tx.fail(err)
		}
	}

	out := append(received, paying)
	return tx.output(append(out, feeBag.Buckets()...)...), nil
}

// partialRatio applies fill.PartialRatio to a proposal and the payment
// container of the resource it asks for.
func (e *Engine) partialRatio(p *proposal, payBag asset.Bag) (decimal.Decimal, error) {
	if !p.allowPartial {
		return fill.One, nil
	}
	vault, res, ask := p.single()
	pay := payBag[res]
	if pay == nil {
		return decimal.Zero, fmt.Errorf("%w: no %s supplied", ErrInsufficientPayment, res)
	}
	return fill.PartialRatio(fill.Input{
		AllowPartial:     true,
		Paying:           pay.Amount(),
		PayingFungible:   pay.Kind() == asset.Fungible,
		Asking:           ask.Total(),
		Offering:         vault.Amount(),
		OfferingFungible: vault.Kind() == asset.Fungible,
	}), nil
}

type fillResult struct {
	ratio    decimal.Decimal
	full     bool
	received []*asset.Bucket
	paid     []model.Amount
}

// executeBarter takes payment at ratio and hands over the matching part of
// the offering. The returned ratio may be lower than the one passed in when
// the payer lacked non-fungible items; zero means nothing moved.
func (e *Engine) executeBarter(p *proposal, ratio decimal.Decimal, payBag, feeBag, collected asset.Bag) (fillResult, error) {
	pay, err := e.takePayment(p, ratio, payBag, feeBag, collected)
	if err != nil {
		return fillResult{}, err
	}
	res := fillResult{ratio: pay.ratio, paid: pay.paid}
	if pay.ratio.IsZero() {
		return res, nil
	}

	if pay.ratio.Equal(fill.One) {
		res.full = true
		res.received = e.removeProposal(p)
		return res, nil
	}

	for _, vault := range p.offering.Buckets() {
		var amount decimal.Decimal
		if vault.Kind() == asset.Fungible {
			amount = fill.Portion(pay.ratio, vault.Amount())
		} else {
			amount = fill.RoundUnits(fill.Mul(pay.ratio, vault.Amount()))
		}
		taken, err := vault.Take(amount)
		if err != nil {
			return fillResult{}, fmt.Errorf("%w: draining offering: %w", ErrInvariant, err)
		}
		res.received = append(res.received, taken)
	}
	// Rounding can hand over the whole offering at a ratio just below one.
	if p.offering.IsEmpty() {
		res.full = true
		res.received = append(res.received, e.removeProposal(p)...)
		return res, nil
	}

	for r, ask := range p.asking {
		if ask.Kind == asset.Fungible {
			ask.Amount = ask.Amount.Sub(fill.Portion(pay.ratio, ask.Amount))
		} else {
			ask = shrinkItems(ask, pay.items[r])
		}
		p.asking[r] = ask
	}
	p.updated = e.now()
	return res, nil
}

// shrinkItems removes collected named items from a non-fungible ask and
// reduces the extra count by the arbitrary items collected.
func shrinkItems(ask model.AskingType, taken []asset.LocalID) model.AskingType {
	got := make(map[asset.LocalID]bool, len(taken))
	for _, id := range taken {
		got[id] = true
	}
	remaining := ask.IDs[:0:0]
	for _, id := range ask.IDs {
		if !got[id] {
			remaining = append(remaining, id)
		}
	}
	namedCollected := len(ask.IDs) - len(remaining)
	arbitrary := uint64(len(taken) - namedCollected)
	ask.IDs = remaining
	if arbitrary >= ask.Extra {
		ask.Extra = 0
	} else {
		ask.Extra -= arbitrary
	}
	return ask
}

type payment struct {
	ratio decimal.Decimal
	items map[asset.ResourceAddress][]asset.LocalID
	paid  []model.Amount
}

// takePayment moves ratio of every ask from payBag into the owner's payout.
// Non-fungible asks are picked first: if the payer holds fewer items than
// the ratio calls for, the ratio drops to match and the fungible asks are
// then charged at the lower ratio.
func (e *Engine) takePayment(p *proposal, ratio decimal.Decimal, payBag, feeBag, collected asset.Bag) (payment, error) {
	picks := make(map[asset.ResourceAddress][]asset.LocalID)
	resources := p.asking.Resources()

	for _, res := range resources {
		ask := p.asking[res]
		if ask.Kind != asset.NonFungible || (len(ask.IDs) == 0 && ask.Extra == 0) {
			continue
		}
		pay := payBag[res]
		if pay == nil || pay.Kind() != asset.NonFungible {
			return payment{}, fmt.Errorf("%w: no %s supplied", ErrInsufficientPayment, res)
		}
		picked, target := fill.Pick(pay.IDs(), ratio, ask.IDs, ask.Extra)
		ratio = fill.Reduce(ratio, int64(len(picked)), target)
		picks[res] = picked
	}

	if !p.allowPartial && !ratio.Equal(fill.One) {
		return payment{}, fmt.Errorf("%w: non-fungible items missing", ErrInsufficientPayment)
	}
	if p.allowPartial && !ratio.Equal(fill.One) && len(picks) > 0 {
		vault, _, _ := p.single()
		if vault.Kind() == asset.NonFungible && !fill.IsWholeUnits(ratio, vault.Amount()) {
			ratio = decimal.Zero
		}
	}
	if ratio.IsZero() {
		return payment{ratio: ratio}, nil
	}

	var proceeds []*asset.Bucket
	for _, res := range resources {
		ask := p.asking[res]
		if ask.Kind == asset.NonFungible {
			picked := picks[res]
			if len(picked) == 0 {
				continue
			}
			taken, err := payBag[res].TakeNonFungibles(picked)
			if err != nil {
				return payment{}, fmt.Errorf("%w: %w", ErrInvariant, err)
			}
			if err := fees.ChargePerItem(e.cfg.Fees, res, int64(len(picked)), feeBag, collected); err != nil {
				return payment{}, err
			}
			proceeds = append(proceeds, taken)
			continue
		}

		owed := fill.Portion(ratio, ask.Amount)
		if _, err := fees.ChargePayment(e.cfg.Fees, res, ask.Amount, ratio, feeBag, collected); err != nil {
			return payment{}, err
		}
		pay := payBag[res]
		if pay == nil {
			if owed.IsZero() {
				continue
			}
			return payment{}, fmt.Errorf("%w: no %s supplied", ErrInsufficientPayment, res)
		}
		taken, err := pay.Take(owed)
		if err != nil {
			return payment{}, fmt.Errorf("%w: %w", ErrInsufficientPayment, err)
		}
		proceeds = append(proceeds, taken)
	}

	result := payment{ratio: ratio, items: picks, paid: model.AmountsOf(proceeds)}
	if err := e.addPayout(p.owner, proceeds...); err != nil {
		return payment{}, err
	}
	return result, nil
}

// chargeReceived takes the flat per-item fee on non-fungibles the taker got.
func (e *Engine) chargeReceived(received []*asset.Bucket, feeBag, collected asset.Bag) error {
	for _, b := range received {
		if b.Kind() != asset.NonFungible {
			continue
		}
		if err := fees.ChargePerItem(e.cfg.Fees, b.Resource(), int64(len(b.IDs())), feeBag, collected); err != nil {
			return err
		}
	}
	return nil
}

// settled records a barter fill. fees may be nil when a sweep reports its
// fees in aggregate.
func (tx *Tx) settled(p *proposal, taker *asset.Proof, res fillResult, fees asset.Bag) {
	e := tx.e
	s := &model.Settlement{
		ID:         uuid.New().String(),
		EngineID:   e.id,
		ProposalID: p.id.String(),
		Owner:      p.owner.String(),
		Taker:      takerName(taker),
		Kind:       p.kind,
		Ratio:      res.ratio,
		Full:       res.full,
		Paid:       res.paid,
		Received:   model.AmountsOf(res.received),
		Timestamp:  e.now(),
	}
	if fees != nil {
		s.Fees = model.AmountsOf(fees.Buckets())
	}
	ev := model.Event{Type: model.EventProposalFilled, ProposalID: s.ProposalID, Settlement: s}
	if !res.full {
		ev.Type = model.EventProposalPartial
		rec := e.record(p)
		ev.Proposal = &rec
	}
	tx.emit(ev)
	e.logger.Debug("proposal settled", "id", p.id, "ratio", res.ratio.String(), "full", res.full)
}

func takerName(taker *asset.Proof) string {
	if taker == nil {
		return ""
	}
	if id, err := taker.Single(); err == nil {
		return id.String()
	}
	return string(taker.Resource)
}
