package asset

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Bucket is an exclusively owned container of one resource: an amount for a
// fungible resource, a set of items for a non-fungible one.
type Bucket struct {
	resource ResourceAddress
	kind     Kind
	amount   decimal.Decimal
	ids      map[LocalID]struct{}
}

// Empty returns an empty container for the resource.
func Empty(res ResourceAddress, kind Kind) *Bucket {
	b := &Bucket{resource: res, kind: kind}
	if kind == NonFungible {
		b.ids = make(map[LocalID]struct{})
	}
	return b
}

// NewFungible returns a container holding amount of a fungible resource.
// Negative amounts are clamped to zero.
func NewFungible(res ResourceAddress, amount decimal.Decimal) *Bucket {
	b := Empty(res, Fungible)
	if amount.IsPositive() {
		b.amount = amount
	}
	return b
}

// NewNonFungible returns a container holding the given items.
func NewNonFungible(res ResourceAddress, ids ...LocalID) *Bucket {
	b := Empty(res, NonFungible)
	for _, id := range ids {
		b.ids[id] = struct{}{}
	}
	return b
}

func (b *Bucket) Resource() ResourceAddress { return b.resource }
func (b *Bucket) Kind() Kind                { return b.kind }

// Amount is the fungible amount, or the item count for non-fungibles.
func (b *Bucket) Amount() decimal.Decimal {
	if b.kind == NonFungible {
		return decimal.NewFromInt(int64(len(b.ids)))
	}
	return b.amount
}

// IDs returns the held items in ascending order.
func (b *Bucket) IDs() []LocalID {
	out := make([]LocalID, 0, len(b.ids))
	for id := range b.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Contains reports whether the item is held.
func (b *Bucket) Contains(id LocalID) bool {
	_, ok := b.ids[id]
	return ok
}

func (b *Bucket) IsEmpty() bool {
	if b.kind == NonFungible {
		return len(b.ids) == 0
	}
	return b.amount.IsZero()
}

// Take splits amount off into a new container. For non-fungibles the amount
// must be whole and the lowest-sorted items are taken.
func (b *Bucket) Take(amount decimal.Decimal) (*Bucket, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}
	if amount.GreaterThan(b.Amount()) {
		return nil, fmt.Errorf("%w: want %s of %s, have %s", ErrInsufficientAmount, amount, b.resource, b.Amount())
	}
	if b.kind == Fungible {
		b.amount = b.amount.Sub(amount)
		return NewFungible(b.resource, amount), nil
	}
	if !amount.Equal(amount.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s", ErrNotWhole, amount)
	}
	return b.TakeNonFungibles(b.IDs()[:amount.IntPart()])
}

// TakeNonFungibles moves the named items into a new container.
func (b *Bucket) TakeNonFungibles(ids []LocalID) (*Bucket, error) {
	if b.kind != NonFungible {
		return nil, fmt.Errorf("%w: %s", ErrNotNonFungible, b.resource)
	}
	for _, id := range ids {
		if !b.Contains(id) {
			return nil, fmt.Errorf("%w: %s#%s", ErrMissingItem, b.resource, id)
		}
	}
	out := Empty(b.resource, NonFungible)
	for _, id := range ids {
		delete(b.ids, id)
		out.ids[id] = struct{}{}
	}
	return out, nil
}

// TakeAll drains the container into a new one.
func (b *Bucket) TakeAll() *Bucket {
	out := b.Clone()
	b.amount = decimal.Zero
	if b.kind == NonFungible {
		b.ids = make(map[LocalID]struct{})
	}
	return out
}

// Put drains other into b.
func (b *Bucket) Put(other *Bucket) error {
	if other == nil || other == b {
		return nil
	}
	if other.resource != b.resource {
		return fmt.Errorf("%w: cannot put %s into %s", ErrResourceMismatch, other.resource, b.resource)
	}
	if b.kind == Fungible {
		b.amount = b.amount.Add(other.amount)
		other.amount = decimal.Zero
		return nil
	}
	for id := range other.ids {
		b.ids[id] = struct{}{}
	}
	other.ids = make(map[LocalID]struct{})
	return nil
}

// Clone returns an independent copy.
func (b *Bucket) Clone() *Bucket {
	out := &Bucket{resource: b.resource, kind: b.kind, amount: b.amount}
	if b.kind == NonFungible {
		out.ids = make(map[LocalID]struct{}, len(b.ids))
		for id := range b.ids {
			out.ids[id] = struct{}{}
		}
	}
	return out
}

// Restore resets b to the contents of a snapshot taken with Clone.
func (b *Bucket) Restore(snapshot *Bucket) {
	c := snapshot.Clone()
	b.resource, b.kind, b.amount, b.ids = c.resource, c.kind, c.amount, c.ids
}

func (b *Bucket) String() string {
	if b.kind == NonFungible {
		return fmt.Sprintf("%d items of %s", len(b.ids), b.resource)
	}
	return fmt.Sprintf("%s %s", b.amount, b.resource)
}
