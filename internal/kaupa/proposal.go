package kaupa

import (
	"time"

	"github.com/google/uuid"

	"github.com/kaupa/barter-engine/internal/asset"
	"github.com/kaupa/barter-engine/internal/model"
	"github.com/kaupa/barter-engine/internal/orderbook"
)

type proposal struct {
	id           uuid.UUID
	owner        asset.GlobalID
	counterparty *asset.GlobalID
	kind         model.ProposalKind
	offering     asset.Bag
	asking       model.AskingMap
	allowPartial bool

	// set on trading pairs only
	entry *orderbook.Entry
	side  orderbook.Side

	created time.Time
	updated time.Time
}

func (p *proposal) clone() *proposal {
	out := *p
	out.offering = p.offering.Clone()
	out.asking = p.asking.Clone()
	if p.counterparty != nil {
		c := *p.counterparty
		out.counterparty = &c
	}
	if p.entry != nil {
		e := *p.entry
		out.entry = &e
	}
	return &out
}

// single returns the only offering container and the only ask. Callers use
// it on partial and trading-pair proposals, which hold one of each.
func (p *proposal) single() (*asset.Bucket, asset.ResourceAddress, model.AskingType) {
	var vault *asset.Bucket
	for _, b := range p.offering {
		vault = b
	}
	var res asset.ResourceAddress
	var ask model.AskingType
	for r, a := range p.asking {
		res, ask = r, a
	}
	return vault, res, ask
}

// admits reports whether the taker may fill a counterparty-restricted
// proposal.
func (p *proposal) admits(taker *asset.Proof) bool {
	if p.counterparty == nil {
		return true
	}
	return taker != nil && taker.Covers(*p.counterparty)
}

func (e *Engine) record(p *proposal) model.ProposalRecord {
	rec := model.ProposalRecord{
		ID:           p.id.String(),
		EngineID:     e.id,
		Owner:        p.owner.String(),
		Kind:         p.kind,
		Offering:     model.AmountsOf(p.offering.Buckets()),
		Asking:       p.asking.Clone(),
		AllowPartial: p.allowPartial,
		CreatedAt:    p.created,
		UpdatedAt:    p.updated,
	}
	if p.counterparty != nil {
		rec.Counterparty = p.counterparty.String()
	}
	if p.entry != nil {
		price := p.entry.Price
		rec.PricePer = &price
		rec.Side = p.side.String()
	}
	return rec
}

// removeProposal deletes p and drains its offering.
func (e *Engine) removeProposal(p *proposal) []*asset.Bucket {
	delete(e.st.proposals, p.id)
	if p.entry != nil && e.st.book != nil {
		e.st.book.Remove(p.side, *p.entry)
	}
	return p.offering.TakeAll()
}
