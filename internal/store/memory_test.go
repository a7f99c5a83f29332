package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaupa/barter-engine/internal/model"
)

func record(id, engine string, created time.Time) *model.ProposalRecord {
	return &model.ProposalRecord{
		ID:        id,
		EngineID:  engine,
		Owner:     "badge#alice",
		Offering:  []model.Amount{{Resource: "xrd", Amount: decimal.NewFromInt(10)}},
		Asking:    model.AskingMap{"vkc": model.FungibleAsk(decimal.NewFromInt(5))},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestMemoryStoreProposals(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveProposal(ctx, record("p2", "e1", t0.Add(time.Second))))
	require.NoError(t, s.SaveProposal(ctx, record("p1", "e1", t0)))
	require.NoError(t, s.SaveProposal(ctx, record("p3", "e2", t0)))

	list, err := s.ListProposals(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "p1", list[0].ID)
	assert.Equal(t, "p2", list[1].ID)

	updated := record("p1", "e1", t0)
	updated.Offering[0].Amount = decimal.NewFromInt(4)
	require.NoError(t, s.SaveProposal(ctx, updated))
	updated.Offering[0].Amount = decimal.NewFromInt(99)

	got, err := s.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(4).Equal(got.Offering[0].Amount), "stored copy is independent")

	require.NoError(t, s.DeleteProposal(ctx, "p1"))
	_, err = s.GetProposal(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)

	empty, err := s.ListProposals(ctx, "nope")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestMemoryStoreSettlements(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	fill := &model.Settlement{ID: "s1", ProposalID: "p1", Owner: "badge#alice", Ratio: decimal.NewFromInt(1), Full: true}
	require.NoError(t, s.InsertSettlement(ctx, fill))
	require.Error(t, s.InsertSettlement(ctx, fill), "settlements are append-only")
	require.NoError(t, s.InsertSettlement(ctx, &model.Settlement{ID: "s2", ProposalID: "p2", Owner: "badge#bob"}))

	byProposal, err := s.GetSettlementsByProposal(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, byProposal, 1)
	assert.True(t, byProposal[0].Full)

	byOwner, err := s.GetSettlementsByOwner(ctx, "badge#bob")
	require.NoError(t, err)
	require.Len(t, byOwner, 1)
	assert.Equal(t, "s2", byOwner[0].ID)
}
