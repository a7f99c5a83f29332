// Package orderbook keeps the two sorted sides of a trading pair. Entries are
// ordered by unit price, then proposal id, so the cheapest proposal comes
// first.
package orderbook

import (
	"bytes"
	"fmt"

	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side of the book.
type Side int

const (
	// Buy holds proposals buying the pair's side-1 token.
	Buy Side = iota
	// Sell holds proposals selling the pair's side-1 token.
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

// Entry is one proposal in the book. Price is fixed when the proposal is
// made and never changes on partial fills.
type Entry struct {
	Price decimal.Decimal `json:"price_per"`
	ID    uuid.UUID       `json:"proposal_id"`
}

// Less orders by price, then by id bytes.
func (e Entry) Less(o Entry) bool {
	if c := e.Price.Cmp(o.Price); c != 0 {
		return c < 0
	}
	return bytes.Compare(e.ID[:], o.ID[:]) < 0
}

const degree = 16

// Book is a pair of B-trees. It is not safe for concurrent use; the engine
// serializes access.
type Book struct {
	sides [2]*btree.BTreeG[Entry]
	index map[uuid.UUID]Side
}

// New creates an empty book.
func New() *Book {
	less := func(a, b Entry) bool { return a.Less(b) }
	return &Book{
		sides: [2]*btree.BTreeG[Entry]{btree.NewG(degree, less), btree.NewG(degree, less)},
		index: make(map[uuid.UUID]Side),
	}
}

// Insert adds an entry. An id may live on one side only.
func (b *Book) Insert(side Side, e Entry) error {
	if existing, ok := b.index[e.ID]; ok {
		return fmt.Errorf("orderbook: proposal %s already on %s side", e.ID, existing)
	}
	b.sides[side].ReplaceOrInsert(e)
	b.index[e.ID] = side
	return nil
}

// Remove deletes an entry, reporting whether it was present.
func (b *Book) Remove(side Side, e Entry) bool {
	if _, ok := b.sides[side].Delete(e); !ok {
		return false
	}
	delete(b.index, e.ID)
	return true
}

// SideOf reports which side holds the proposal.
func (b *Book) SideOf(id uuid.UUID) (Side, bool) {
	s, ok := b.index[id]
	return s, ok
}

func (b *Book) Len(side Side) int { return b.sides[side].Len() }

// Next returns the first entry strictly after the cursor, or the first entry
// when after is nil. The cursor stays valid while entries behind it are
// removed.
func (b *Book) Next(side Side, after *Entry) (Entry, bool) {
	var (
		found Entry
		ok    bool
	)
	visit := func(e Entry) bool {
		if after != nil && !after.Less(e) {
			return true
		}
		found, ok = e, true
		return false
	}
	if after == nil {
		b.sides[side].Ascend(visit)
	} else {
		b.sides[side].AscendGreaterOrEqual(*after, visit)
	}
	return found, ok
}

// Entries lists a side in ascending order.
func (b *Book) Entries(side Side) []Entry {
	out := make([]Entry, 0, b.sides[side].Len())
	b.sides[side].Ascend(func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Clone returns an independent copy. The trees are copied lazily.
func (b *Book) Clone() *Book {
	out := &Book{
		sides: [2]*btree.BTreeG[Entry]{b.sides[Buy].Clone(), b.sides[Sell].Clone()},
		index: make(map[uuid.UUID]Side, len(b.index)),
	}
	for id, s := range b.index {
		out.index[id] = s
	}
	return out
}
