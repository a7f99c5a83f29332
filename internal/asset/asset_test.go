package asset

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestParseGlobalID(t *testing.T) {
	id, err := ParseGlobalID("badge#alice")
	require.NoError(t, err)
	assert.Equal(t, GlobalID{Resource: "badge", Local: "alice"}, id)
	assert.Equal(t, "badge#alice", id.String())

	for _, bad := range []string{"", "badge", "#alice", "badge#", "a#b#c", "bad ge#x"} {
		_, err := ParseGlobalID(bad)
		assert.ErrorIs(t, err, ErrInvalidGlobalID, bad)
	}
}

func TestProof(t *testing.T) {
	p := NewProof("badge", "bob", "alice")
	assert.Equal(t, []LocalID{"alice", "bob"}, p.IDs)
	assert.True(t, p.Covers(GlobalID{Resource: "badge", Local: "bob"}))
	assert.False(t, p.Covers(GlobalID{Resource: "other", Local: "bob"}))

	_, err := p.Single()
	assert.ErrorIs(t, err, ErrProofShape)

	one, err := NewProof("badge", "alice").Single()
	require.NoError(t, err)
	assert.Equal(t, "badge#alice", one.String())
	assert.Len(t, p.Identities(), 2)
}

func TestFungibleBucket(t *testing.T) {
	b := NewFungible("xrd", d("10"))
	part, err := b.Take(d("3.5"))
	require.NoError(t, err)
	assert.True(t, d("6.5").Equal(b.Amount()))
	assert.True(t, d("3.5").Equal(part.Amount()))

	_, err = b.Take(d("7"))
	assert.ErrorIs(t, err, ErrInsufficientAmount)
	_, err = b.Take(d("-1"))
	assert.ErrorIs(t, err, ErrNegativeAmount)

	require.NoError(t, b.Put(part))
	assert.True(t, d("10").Equal(b.Amount()))
	assert.True(t, part.IsEmpty())

	assert.ErrorIs(t, b.Put(NewFungible("other", d("1"))), ErrResourceMismatch)
}

func TestNonFungibleBucket(t *testing.T) {
	b := NewNonFungible("dragon", "c", "a", "b")
	assert.Equal(t, []LocalID{"a", "b", "c"}, b.IDs())

	low, err := b.Take(d("2"))
	require.NoError(t, err)
	assert.Equal(t, []LocalID{"a", "b"}, low.IDs())

	_, err = b.Take(d("0.5"))
	assert.ErrorIs(t, err, ErrNotWhole)

	_, err = b.TakeNonFungibles([]LocalID{"a"})
	assert.ErrorIs(t, err, ErrMissingItem)

	named, err := b.TakeNonFungibles([]LocalID{"c"})
	require.NoError(t, err)
	assert.True(t, b.IsEmpty())
	assert.True(t, named.Contains("c"))
}

func TestBucketRestore(t *testing.T) {
	b := NewNonFungible("dragon", "a", "b")
	snap := b.Clone()
	b.TakeAll()
	require.True(t, b.IsEmpty())

	b.Restore(snap)
	assert.Equal(t, []LocalID{"a", "b"}, b.IDs())

	b.TakeAll()
	assert.Equal(t, []LocalID{"a", "b"}, snap.IDs(), "snapshot unaffected")
}

func TestGroupKeepsCallerContainers(t *testing.T) {
	first := NewFungible("xrd", d("1"))
	second := NewFungible("xrd", d("2"))
	nft := NewNonFungible("dragon", "a")

	bag, err := Group([]*Bucket{first, nil, second, nft})
	require.NoError(t, err)
	assert.Same(t, first, bag["xrd"])
	assert.True(t, d("3").Equal(first.Amount()))
	assert.True(t, second.IsEmpty())

	out := bag.TakeAll()
	require.Len(t, out, 2)
	assert.Equal(t, ResourceAddress("dragon"), out[0].Resource())
	assert.True(t, bag.IsEmpty())
}

func TestLedger(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Define("xrd", Fungible))
	require.NoError(t, l.Define("dragon", NonFungible))
	assert.ErrorIs(t, l.Define("xrd", Fungible), ErrResourceExists)
	assert.ErrorIs(t, l.Define("bad#name", Fungible), ErrInvalidGlobalID)

	coins, err := l.Mint("xrd", d("100"))
	require.NoError(t, err)
	require.NoError(t, l.Deposit("alice", coins))

	dragons, err := l.MintItems("dragon", "1", "2")
	require.NoError(t, err)
	require.NoError(t, l.Deposit("alice", dragons))
	_, err = l.MintItems("dragon", "2")
	assert.ErrorIs(t, err, ErrDuplicateItem)

	_, err = l.Mint("dragon", d("1"))
	assert.ErrorIs(t, err, ErrResourceMismatch)

	snap := l.Snapshot("alice")
	out, err := l.Withdraw("alice", "xrd", d("40"))
	require.NoError(t, err)
	assert.True(t, d("40").Equal(out.Amount()))

	proof, err := l.Prove("alice", "dragon", []LocalID{"2"})
	require.NoError(t, err)
	assert.True(t, proof.Covers(GlobalID{Resource: "dragon", Local: "2"}))
	_, err = l.Prove("alice", "dragon", []LocalID{"3"})
	assert.ErrorIs(t, err, ErrMissingItem)

	bal, err := l.Balances("alice")
	require.NoError(t, err)
	require.Len(t, bal, 2)
	assert.True(t, d("60").Equal(bal[1].Amount))

	l.Restore("alice", snap)
	bal, err = l.Balances("alice")
	require.NoError(t, err)
	assert.True(t, d("100").Equal(bal[1].Amount))

	_, err = l.Balances("nobody")
	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestRestrictedResource(t *testing.T) {
	l := NewLedger()
	auth, err := l.NewRestricted("debt", NonFungible)
	require.NoError(t, err)

	_, err = l.MintItems(auth.Resource(), "x")
	assert.ErrorIs(t, err, ErrRestricted)

	token, err := auth.MintUnique()
	require.NoError(t, err)
	assert.Len(t, token.IDs(), 1)
	assert.ErrorIs(t, l.Deposit("bob", token), ErrRestricted)

	require.NoError(t, auth.Burn(token))
	assert.True(t, token.IsEmpty())
	assert.ErrorIs(t, auth.Burn(NewFungible("xrd", d("1"))), ErrResourceMismatch)
}
