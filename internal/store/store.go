// Package store defines the persistence interface for the barter service.
// The engines are authoritative in memory; the store keeps a read model of
// active proposals and an append-only settlement ledger. Implementations
// include PostgreSQL, a Redis read-through cache, and in-memory (for
// testing).
package store

import (
	"context"
	"errors"

	"github.com/kaupa/barter-engine/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface.
type Store interface {
	// --- Proposal read model ---

	// SaveProposal inserts or replaces a proposal's current view.
	SaveProposal(ctx context.Context, rec *model.ProposalRecord) error

	// DeleteProposal removes a filled or rescinded proposal.
	DeleteProposal(ctx context.Context, id string) error

	// GetProposal retrieves a proposal by its ID.
	GetProposal(ctx context.Context, id string) (*model.ProposalRecord, error)

	// ListProposals returns the active proposals of an engine, oldest first.
	ListProposals(ctx context.Context, engineID string) ([]model.ProposalRecord, error)

	// --- Immutable settlement ledger ---

	// InsertSettlement appends a fill or flash-loan record.
	InsertSettlement(ctx context.Context, s *model.Settlement) error

	// GetSettlementsByProposal returns the fills of one proposal.
	GetSettlementsByProposal(ctx context.Context, proposalID string) ([]model.Settlement, error)

	// GetSettlementsByOwner returns the fills of every proposal an identity made.
	GetSettlementsByOwner(ctx context.Context, owner string) ([]model.Settlement, error)
}
