package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kaupa/barter-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	proposals   map[string]*model.ProposalRecord
	settlements []model.Settlement
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		proposals: make(map[string]*model.ProposalRecord),
	}
}

func (s *MemoryStore) SaveProposal(_ context.Context, rec *model.ProposalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cloneRecord(rec)
	s.proposals[rec.ID] = &c
	return nil
}

func (s *MemoryStore) DeleteProposal(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.proposals, id)
	return nil
}

func (s *MemoryStore) GetProposal(_ context.Context, id string) (*model.ProposalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.proposals[id]
	if !ok {
		return nil, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	}
	c := cloneRecord(rec)
	return &c, nil
}

func (s *MemoryStore) ListProposals(_ context.Context, engineID string) ([]model.ProposalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ProposalRecord, 0)
	for _, rec := range s.proposals {
		if rec.EngineID == engineID {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) InsertSettlement(_ context.Context, st *model.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.settlements {
		if existing.ID == st.ID {
			return fmt.Errorf("settlement %s already recorded", st.ID)
		}
	}
	s.settlements = append(s.settlements, *st)
	return nil
}

func (s *MemoryStore) GetSettlementsByProposal(_ context.Context, proposalID string) ([]model.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Settlement
	for _, st := range s.settlements {
		if st.ProposalID == proposalID {
			result = append(result, st)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetSettlementsByOwner(_ context.Context, owner string) ([]model.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Settlement
	for _, st := range s.settlements {
		if st.Owner == owner {
			result = append(result, st)
		}
	}
	return result, nil
}

func cloneRecord(rec *model.ProposalRecord) model.ProposalRecord {
	c := *rec
	c.Offering = append([]model.Amount(nil), rec.Offering...)
	c.Asking = rec.Asking.Clone()
	if rec.PricePer != nil {
		p := *rec.PricePer
		c.PricePer = &p
	}
	return c
}
