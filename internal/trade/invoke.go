package trade

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kaupa/barter-engine/internal/asset"
	"github.com/kaupa/barter-engine/internal/kaupa"
	"github.com/kaupa/barter-engine/internal/metrics"
	"github.com/kaupa/barter-engine/internal/model"
)

// Step operations.
const (
	OpMake    = "make"
	OpRescind = "rescind"
	OpAccept  = "accept"
	OpSweep   = "sweep"
	OpRepay   = "repay"
	OpCollect = "collect"
)

// InvokeRequest is the JSON body for POST /engines/{engineID}/invoke. Steps
// run in order inside one invocation: either all of them commit or none do.
type InvokeRequest struct {
	Account string        `json:"account"`
	Proof   *ProofRequest `json:"proof,omitempty"`
	Steps   []Step        `json:"steps"`
}

// ProofRequest names items the account holds, presented as identity.
type ProofRequest struct {
	Resource asset.ResourceAddress `json:"resource"`
	IDs      []asset.LocalID       `json:"ids"`
}

// AmountRequest withdraws IDs when given, Amount otherwise.
type AmountRequest struct {
	Resource asset.ResourceAddress `json:"resource"`
	Amount   *decimal.Decimal      `json:"amount,omitempty"`
	IDs      []asset.LocalID       `json:"ids,omitempty"`
}

// Step is one engine operation. Which fields apply depends on Op.
type Step struct {
	Op string `json:"op"`

	// make
	Kind         model.ProposalKind `json:"kind,omitempty"`
	Offering     []AmountRequest    `json:"offering,omitempty"`
	Asking       model.AskingMap    `json:"asking,omitempty"`
	Counterparty string             `json:"counterparty,omitempty"`

	// make, accept
	AllowPartial bool `json:"allow_partial,omitempty"`

	// rescind, accept
	ProposalID string `json:"proposal_id,omitempty"`

	// accept, sweep
	Paying     []AmountRequest  `json:"paying,omitempty"`
	PriceLimit *decimal.Decimal `json:"price_limit,omitempty"`

	// make, accept, sweep
	Fees []AmountRequest `json:"fees,omitempty"`

	// repay
	DebtToken asset.LocalID   `json:"debt_token,omitempty"`
	Funds     []AmountRequest `json:"funds,omitempty"`

	// collect
	Payments    bool                   `json:"payments,omitempty"`
	CollectFees bool                   `json:"collect_fees,omitempty"`
	Resource    *asset.ResourceAddress `json:"resource,omitempty"`
}

// StepResult reports what a step handed back to the account.
type StepResult struct {
	Op         string         `json:"op"`
	ProposalID string         `json:"proposal_id,omitempty"`
	Returned   []model.Amount `json:"returned"`
}

// InvokeResponse is the JSON body returned from a committed invocation.
type InvokeResponse struct {
	EngineID string        `json:"engine_id"`
	Steps    []StepResult  `json:"steps"`
	Events   []model.Event `json:"events"`
	Duration string        `json:"duration"`
}

// Invoke handles POST /api/v1/engines/{engineID}/invoke
func (s *Service) Invoke(w http.ResponseWriter, r *http.Request) {
	eng, err := s.Engine(chi.URLParam(r, "engineID"))
	if err != nil {
		writeErr(w, err)
		return
	}

	var req InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	if len(req.Steps) == 0 {
		writeError(w, "at least one step is required", http.StatusBadRequest)
		return
	}

	resp, err := s.Run(r.Context(), eng, req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Run executes a manifest against eng on behalf of req.Account. Payments
// are withdrawn from the account and everything handed back is deposited
// into it, except debt tokens, which stay on the worktop until a repay step
// burns them. If the invocation aborts the account is restored.
func (s *Service) Run(ctx context.Context, eng *kaupa.Engine, req InvokeRequest) (*InvokeResponse, error) {
	unlock := s.lockAccount(req.Account)
	defer unlock()

	snapshot := s.ledger.Snapshot(req.Account)
	start := time.Now()

	var proof *asset.Proof
	if req.Proof != nil {
		p, err := s.ledger.Prove(req.Account, req.Proof.Resource, req.Proof.IDs)
		if err != nil {
			return nil, err
		}
		proof = &p
	}

	ex := &run{s: s, eng: eng, account: req.Account, proof: proof}
	receipt, err := eng.Invoke(ctx, func(tx *kaupa.Tx) error {
		for i, step := range req.Steps {
			res, err := ex.step(tx, step)
			if err != nil {
				return fmt.Errorf("step %d (%s): %w", i, step.Op, err)
			}
			ex.results = append(ex.results, res)
		}
		return nil
	})
	if err != nil {
		s.ledger.Restore(req.Account, snapshot)
		metrics.InvocationLatency.WithLabelValues("aborted").Observe(time.Since(start).Seconds())
		metrics.AbortedInvocations.WithLabelValues(errorClass(err)).Inc()
		s.logger.Info("invocation aborted", "engine", eng.ID(), "account", req.Account, "err", err)
		return nil, err
	}
	metrics.InvocationLatency.WithLabelValues("committed").Observe(time.Since(start).Seconds())

	s.publish(context.WithoutCancel(ctx), eng, receipt)

	return &InvokeResponse{
		EngineID: receipt.EngineID,
		Steps:    ex.results,
		Events:   receipt.Events,
		Duration: receipt.Duration.String(),
	}, nil
}

// run is the state of one manifest execution.
type run struct {
	s       *Service
	eng     *kaupa.Engine
	account string
	proof   *asset.Proof

	worktop []*asset.Bucket // outstanding debt tokens
	results []StepResult
}

func (r *run) step(tx *kaupa.Tx, step Step) (StepResult, error) {
	res := StepResult{Op: step.Op, ProposalID: step.ProposalID}

	var out []*asset.Bucket
	var err error
	switch step.Op {
	case OpMake:
		var id uuid.UUID
		id, out, err = r.make(tx, step)
		if err == nil {
			res.ProposalID = id.String()
		}
	case OpRescind:
		out, err = r.rescind(tx, step)
	case OpAccept:
		out, err = r.accept(tx, step)
	case OpSweep:
		out, err = r.sweep(tx, step)
	case OpRepay:
		out, err = r.repay(tx, step)
	case OpCollect:
		out, err = r.collect(tx, step)
	default:
		err = fmt.Errorf("%w: unknown op %q", ErrBadRequest, step.Op)
	}
	if err != nil {
		return res, err
	}

	res.Returned = model.AmountsOf(out)
	return res, r.deposit(out)
}

func (r *run) make(tx *kaupa.Tx, step Step) (uuid.UUID, []*asset.Bucket, error) {
	trader, err := r.requireProof()
	if err != nil {
		return uuid.Nil, nil, err
	}
	var counterparty *asset.GlobalID
	if step.Counterparty != "" {
		id, err := asset.ParseGlobalID(step.Counterparty)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("%w: counterparty: %w", ErrBadRequest, err)
		}
		counterparty = &id
	}
	offering, err := r.withdraw(step.Offering)
	if err != nil {
		return uuid.Nil, nil, err
	}
	fees, err := r.withdraw(step.Fees)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return tx.MakeProposal(trader, counterparty, step.Kind, offering, step.Asking, step.AllowPartial, fees)
}

func (r *run) rescind(tx *kaupa.Tx, step Step) ([]*asset.Bucket, error) {
	trader, err := r.requireProof()
	if err != nil {
		return nil, err
	}
	id, err := parseProposalID(step.ProposalID)
	if err != nil {
		return nil, err
	}
	return tx.RescindProposal(trader, id)
}

func (r *run) accept(tx *kaupa.Tx, step Step) ([]*asset.Bucket, error) {
	id, err := parseProposalID(step.ProposalID)
	if err != nil {
		return nil, err
	}
	paying, err := r.withdraw(step.Paying)
	if err != nil {
		return nil, err
	}
	fees, err := r.withdraw(step.Fees)
	if err != nil {
		return nil, err
	}
	return tx.AcceptProposal(r.proof, id, step.AllowPartial, paying, fees)
}

func (r *run) sweep(tx *kaupa.Tx, step Step) ([]*asset.Bucket, error) {
	if len(step.Paying) != 1 {
		return nil, fmt.Errorf("%w: sweep pays with exactly one resource", ErrBadRequest)
	}
	paying, err := r.withdraw(step.Paying)
	if err != nil {
		return nil, err
	}
	fees, err := r.withdraw(step.Fees)
	if err != nil {
		return nil, err
	}
	return tx.SweepProposals(r.proof, step.PriceLimit, paying[0], fees)
}

func (r *run) repay(tx *kaupa.Tx, step Step) ([]*asset.Bucket, error) {
	idx := -1
	for i, token := range r.worktop {
		if step.DebtToken == "" || token.Contains(step.DebtToken) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: no outstanding debt token %q", ErrBadRequest, step.DebtToken)
	}
	funds, err := r.withdraw(step.Funds)
	if err != nil {
		return nil, err
	}
	out, err := tx.RepayFlashLoan(r.worktop[idx], funds)
	if err != nil {
		return nil, err
	}
	r.worktop = append(r.worktop[:idx], r.worktop[idx+1:]...)
	return out, nil
}

func (r *run) collect(tx *kaupa.Tx, step Step) ([]*asset.Bucket, error) {
	trader, err := r.requireProof()
	if err != nil {
		return nil, err
	}
	return tx.CollectFunds(trader, step.Payments, step.CollectFees, step.Resource)
}

func (r *run) requireProof() (asset.Proof, error) {
	if r.proof == nil {
		return asset.Proof{}, fmt.Errorf("%w: proof is required", ErrBadRequest)
	}
	return *r.proof, nil
}

func (r *run) withdraw(reqs []AmountRequest) ([]*asset.Bucket, error) {
	out := make([]*asset.Bucket, 0, len(reqs))
	for _, req := range reqs {
		var b *asset.Bucket
		var err error
		switch {
		case len(req.IDs) > 0:
			b, err = r.s.ledger.WithdrawItems(r.account, req.Resource, req.IDs)
		case req.Amount != nil:
			b, err = r.s.ledger.Withdraw(r.account, req.Resource, *req.Amount)
		default:
			err = fmt.Errorf("%w: %s needs an amount or ids", ErrBadRequest, req.Resource)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// deposit credits the account with a step's outputs. Debt tokens cannot be
// deposited and are kept for a later repay step.
func (r *run) deposit(out []*asset.Bucket) error {
	debtRes, loans := r.eng.FlashLoanResource()
	for _, b := range out {
		if b.IsEmpty() {
			continue
		}
		if loans && b.Resource() == debtRes {
			r.worktop = append(r.worktop, b)
			continue
		}
		if err := r.s.ledger.Deposit(r.account, b); err != nil {
			return err
		}
	}
	return nil
}

func parseProposalID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: proposal_id: %w", ErrBadRequest, err)
	}
	return id, nil
}

// publish persists the committed events to the read model, counts them and
// broadcasts them. The engine has already committed, so store failures are
// logged rather than returned.
func (s *Service) publish(ctx context.Context, eng *kaupa.Engine, receipt *kaupa.Receipt) {
	for _, ev := range receipt.Events {
		if err := s.persist(ctx, ev); err != nil {
			s.logger.Error("failed to persist event", "type", ev.Type, "proposal", ev.ProposalID, "err", err)
		}
		if s.wsHub != nil {
			s.wsHub.Broadcast(WSMessage{
				Type:       string(ev.Type),
				EngineID:   receipt.EngineID,
				ProposalID: ev.ProposalID,
				Event:      ev,
			})
		}
	}
	metrics.RecordEvents(receipt.Events)
	metrics.ActiveProposals.WithLabelValues(eng.ID()).Set(float64(eng.Info().Proposals))
}

func (s *Service) persist(ctx context.Context, ev model.Event) error {
	switch ev.Type {
	case model.EventProposalMade:
		return s.store.SaveProposal(ctx, ev.Proposal)
	case model.EventProposalRescinded:
		return s.store.DeleteProposal(ctx, ev.ProposalID)
	case model.EventProposalFilled:
		if err := s.store.InsertSettlement(ctx, ev.Settlement); err != nil {
			return err
		}
		return s.store.DeleteProposal(ctx, ev.ProposalID)
	case model.EventProposalPartial:
		if err := s.store.InsertSettlement(ctx, ev.Settlement); err != nil {
			return err
		}
		return s.store.SaveProposal(ctx, ev.Proposal)
	case model.EventFlashLoanIssued:
		return s.store.InsertSettlement(ctx, ev.Settlement)
	}
	return nil
}
