package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kaupa/barter-engine/internal/asset"
)

// Amount describes the contents of a container in records and responses.
type Amount struct {
	Resource asset.ResourceAddress `json:"resource"`
	Amount   decimal.Decimal       `json:"amount"`
	IDs      []asset.LocalID       `json:"ids,omitempty"`
}

// AmountOf describes b.
func AmountOf(b *asset.Bucket) Amount {
	a := Amount{Resource: b.Resource(), Amount: b.Amount()}
	if b.Kind() == asset.NonFungible {
		a.IDs = b.IDs()
	}
	return a
}

// AmountsOf describes the non-empty containers.
func AmountsOf(buckets []*asset.Bucket) []Amount {
	out := []Amount{}
	for _, b := range buckets {
		if b == nil || b.IsEmpty() {
			continue
		}
		out = append(out, AmountOf(b))
	}
	return out
}

// ProposalRecord is the read-model view of an active proposal.
type ProposalRecord struct {
	ID           string           `json:"id" db:"id"`
	EngineID     string           `json:"engine_id" db:"engine_id"`
	Owner        string           `json:"owner" db:"owner"`
	Counterparty string           `json:"counterparty,omitempty" db:"counterparty"`
	Kind         ProposalKind     `json:"kind" db:"kind"`
	Offering     []Amount         `json:"offering" db:"offering"`
	Asking       AskingMap        `json:"asking" db:"asking"`
	AllowPartial bool             `json:"allow_partial" db:"allow_partial"`
	Side         string           `json:"side,omitempty" db:"side"` // "buy" or "sell" on trading pairs
	PricePer     *decimal.Decimal `json:"price_per,omitempty" db:"price_per"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
}

// Settlement is an immutable record of one fill or flash-loan issuance.
// Once created, these are never modified or deleted.
type Settlement struct {
	ID         string          `json:"id" db:"id"`
	EngineID   string          `json:"engine_id" db:"engine_id"`
	ProposalID string          `json:"proposal_id" db:"proposal_id"`
	Owner      string          `json:"owner" db:"owner"`
	Taker      string          `json:"taker,omitempty" db:"taker"`
	Kind       ProposalKind    `json:"kind" db:"kind"`
	Ratio      decimal.Decimal `json:"ratio" db:"ratio"`
	Full       bool            `json:"full" db:"full_fill"`
	Paid       []Amount        `json:"paid" db:"paid"`         // maker's proceeds
	Received   []Amount        `json:"received" db:"received"` // drained from the offering
	Fees       []Amount        `json:"fees,omitempty" db:"fees"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
}

// EventType names a committed state change.
type EventType string

const (
	EventProposalMade      EventType = "proposal_made"
	EventProposalRescinded EventType = "proposal_rescinded"
	EventProposalFilled    EventType = "proposal_filled"
	EventProposalPartial   EventType = "proposal_partially_filled"
	EventFlashLoanIssued   EventType = "flash_loan_issued"
	EventFlashLoanRepaid   EventType = "flash_loan_repaid"
	EventFundsCollected    EventType = "funds_collected"
)

// Event is emitted for every committed operation, in execution order.
type Event struct {
	Type       EventType       `json:"type"`
	EngineID   string          `json:"engine_id"`
	ProposalID string          `json:"proposal_id,omitempty"`
	Proposal   *ProposalRecord `json:"proposal,omitempty"`
	Settlement *Settlement     `json:"settlement,omitempty"`
	Identity   string          `json:"identity,omitempty"`
	Collected  []Amount        `json:"collected,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}
