package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kaupa/barter-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SaveProposal(ctx context.Context, rec *model.ProposalRecord) error {
	if err := s.primary.SaveProposal(ctx, rec); err != nil {
		return err
	}
	s.cacheProposal(ctx, rec)
	s.rdb.Del(ctx, engineProposalsKey(rec.EngineID))
	return nil
}

func (s *CachedStore) DeleteProposal(ctx context.Context, id string) error {
	var engineID string
	if rec, err := s.GetProposal(ctx, id); err == nil {
		engineID = rec.EngineID
	}
	if err := s.primary.DeleteProposal(ctx, id); err != nil {
		return err
	}
	keys := []string{proposalKey(id)}
	if engineID != "" {
		keys = append(keys, engineProposalsKey(engineID))
	}
	s.rdb.Del(ctx, keys...)
	return nil
}

func (s *CachedStore) InsertSettlement(ctx context.Context, st *model.Settlement) error {
	if err := s.primary.InsertSettlement(ctx, st); err != nil {
		return err
	}
	s.rdb.Del(ctx, historyKey(st.ProposalID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetProposal(ctx context.Context, id string) (*model.ProposalRecord, error) {
	data, err := s.rdb.Get(ctx, proposalKey(id)).Bytes()
	if err == nil {
		var rec model.ProposalRecord
		if json.Unmarshal(data, &rec) == nil {
			return &rec, nil
		}
	}

	rec, err := s.primary.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheProposal(ctx, rec)
	return rec, nil
}

func (s *CachedStore) ListProposals(ctx context.Context, engineID string) ([]model.ProposalRecord, error) {
	data, err := s.rdb.Get(ctx, engineProposalsKey(engineID)).Bytes()
	if err == nil {
		var recs []model.ProposalRecord
		if json.Unmarshal(data, &recs) == nil {
			return recs, nil
		}
	}

	recs, err := s.primary.ListProposals(ctx, engineID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(recs); err == nil {
		s.rdb.Set(ctx, engineProposalsKey(engineID), data, s.ttl)
	}
	return recs, nil
}

func (s *CachedStore) GetSettlementsByProposal(ctx context.Context, proposalID string) ([]model.Settlement, error) {
	data, err := s.rdb.Get(ctx, historyKey(proposalID)).Bytes()
	if err == nil {
		var history []model.Settlement
		if json.Unmarshal(data, &history) == nil {
			return history, nil
		}
	}

	history, err := s.primary.GetSettlementsByProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(history); err == nil {
		s.rdb.Set(ctx, historyKey(proposalID), data, s.ttl)
	}
	return history, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetSettlementsByOwner(ctx context.Context, owner string) ([]model.Settlement, error) {
	return s.primary.GetSettlementsByOwner(ctx, owner)
}

// --- Cache helpers ---

func (s *CachedStore) cacheProposal(ctx context.Context, rec *model.ProposalRecord) {
	if data, err := json.Marshal(rec); err == nil {
		s.rdb.Set(ctx, proposalKey(rec.ID), data, s.ttl)
	}
}

func proposalKey(id string) string        { return fmt.Sprintf("proposal:%s", id) }
func engineProposalsKey(id string) string { return fmt.Sprintf("engine:%s:proposals", id) }
func historyKey(id string) string         { return fmt.Sprintf("history:%s", id) }
