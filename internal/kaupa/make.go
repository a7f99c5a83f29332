package kaupa

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/kaupa/barter-engine/internal/asset"
	"github.com/kaupa/barter-engine/internal/fees"
	"github.com/kaupa/barter-engine/internal/fill"
	"github.com/kaupa/barter-engine/internal/model"
	"github.com/kaupa/barter-engine/internal/orderbook"
)

// MakeProposal offers the contents of offering in exchange for asking. The
// trader proof must hold exactly one item, which becomes the proposal's
// owner. The maker's fixed fee is taken from makerFees and the rest of
// makerFees is returned.
func (tx *Tx) MakeProposal(
	trader asset.Proof,
	counterparty *asset.GlobalID,
	kind model.ProposalKind,
	offering []*asset.Bucket,
	asking model.AskingMap,
	allowPartial bool,
	makerFees []*asset.Bucket,
) (uuid.UUID, []*asset.Bucket, error) {
	if err := tx.begin(offering, makerFees); err != nil {
		return uuid.Nil, nil, err
	}
	e := tx.e

	owner, err := trader.Single()
	if err != nil {
		return uuid.Nil, nil, tx.fail(fmt.Errorf("%w: %w", ErrProofShape, err))
	}
	offer, err := asset.Group(offering)
	if err != nil {
		return uuid.Nil, nil, tx.fail(err)
	}
	if err := e.checkProposal(kind, offer, asking, allowPartial); err != nil {
		return uuid.Nil, nil, tx.fail(err)
	}

	feeBag, err := asset.Group(makerFees)
	if err != nil {
		return uuid.Nil, nil, tx.fail(err)
	}
	if err := fees.ChargePerTx(e.makerFixed(), feeBag, e.st.fees); err != nil {
		return uuid.Nil, nil, tx.fail(err)
	}

	now := e.now()
	p := &proposal{
		id:           uuid.New(),
		owner:        owner,
		kind:         kind,
		offering:     make(asset.Bag, len(offer)),
		asking:       asking.Clone(),
		allowPartial: allowPartial,
		created:      now,
		updated:      now,
	}
	if counterparty != nil {
		c := *counterparty
		p.counterparty = &c
	}
	for _, b := range offer.Buckets() {
		if err := p.offering.Put(b); err != nil {
			return uuid.Nil, nil, tx.fail(err)
		}
	}

	if e.cfg.TradingPair {
		vault, _, ask := p.single()
		entry := orderbook.Entry{
			Price: fill.ToScale(fill.Div(ask.Total(), vault.Amount())),
			ID:    p.id,
		}
		p.side = orderbook.Buy
		if vault.Resource() == e.side1Token() {
			p.side = orderbook.Sell
		}
		if err := e.st.book.Insert(p.side, entry); err != nil {
			return uuid.Nil, nil, tx.fail(fmt.Errorf("%w: %w", ErrInvariant, err))
		}
		p.entry = &entry
	}
	e.st.proposals[p.id] = p

	rec := e.record(p)
	tx.emit(model.Event{Type: model.EventProposalMade, ProposalID: rec.ID, Proposal: &rec})
	e.logger.Debug("proposal made", "id", p.id, "owner", owner.String(), "kind", kind.String(), "partial", allowPartial)

	return p.id, tx.output(feeBag.Buckets()...), nil
}

// checkProposal validates a new proposal before anything moves.
func (e *Engine) checkProposal(kind model.ProposalKind, offer asset.Bag, asking model.AskingMap, allowPartial bool) error {
	switch kind {
	case model.FlashLoan:
		if !e.cfg.AllowFlashLoans {
			return ErrFlashLoansDisabled
		}
		if allowPartial {
			return ErrPartialFlashLoan
		}
	default:
		if e.cfg.ForceAllowPartial && !allowPartial {
			return ErrPartialRequired
		}
	}
	if allowPartial && (len(offer) != 1 || len(asking) != 1) {
		return fmt.Errorf("%w: offering %d, asking %d", ErrPartialShape, len(offer), len(asking))
	}
	if e.cfg.TradingPair {
		if len(offer) != 1 || len(asking) != 1 {
			return fmt.Errorf("%w: offering %d, asking %d", ErrPairShape, len(offer), len(asking))
		}
		for _, b := range offer {
			if !b.Amount().IsPositive() {
				return fmt.Errorf("%w: %s", ErrEmptyOffering, b.Resource())
			}
		}
	}
	if err := fees.CheckAskingMap(asking, e.reg); err != nil {
		return fmt.Errorf("%w: %w", ErrAskingMismatch, err)
	}
	if !e.tokensAllowed(offer, asking) {
		return ErrTokenMismatch
	}
	return nil
}

// tokensAllowed checks the side restrictions in either orientation.
func (e *Engine) tokensAllowed(offer asset.Bag, asking model.AskingMap) bool {
	within := func(set map[asset.ResourceAddress]bool, resources []asset.ResourceAddress) bool {
		if set == nil {
			return true
		}
		for _, res := range resources {
			if !set[res] {
				return false
			}
		}
		return true
	}
	offered := make([]asset.ResourceAddress, 0, len(offer))
	for res := range offer {
		offered = append(offered, res)
	}
	asked := asking.Resources()

	return (within(e.side1, offered) && within(e.side2, asked)) ||
		(within(e.side2, offered) && within(e.side1, asked))
}

// RescindProposal removes the trader's proposal and returns its offering.
func (tx *Tx) RescindProposal(trader asset.Proof, id uuid.UUID) ([]*asset.Bucket, error) {
	if err := tx.begin(); err != nil {
		return nil, err
	}
	e := tx.e

	p, ok := e.st.proposals[id]
	if !ok {
		return nil, tx.fail(fmt.Errorf("%w: %s", ErrProposalNotFound, id))
	}
	if trader.Resource != p.owner.Resource {
		return nil, tx.fail(fmt.Errorf("%w: wrong trader resource %s", ErrWrongOwner, trader.Resource))
	}
	if !trader.Covers(p.owner) {
		return nil, tx.fail(fmt.Errorf("%w: wrong trader id", ErrWrongOwner))
	}

	out := e.removeProposal(p)
	tx.emit(model.Event{Type: model.EventProposalRescinded, ProposalID: id.String(), Identity: p.owner.String()})
	e.logger.Debug("proposal rescinded", "id", id)
	return tx.output(out...), nil
}
