// Package trade hosts barter engines over HTTP: it keeps the asset ledger,
// turns invocation manifests into engine calls, persists the committed
// events and broadcasts them to WebSocket clients.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kaupa/barter-engine/internal/asset"
	"github.com/kaupa/barter-engine/internal/config"
	"github.com/kaupa/barter-engine/internal/kaupa"
	"github.com/kaupa/barter-engine/internal/metrics"
	"github.com/kaupa/barter-engine/internal/model"
	"github.com/kaupa/barter-engine/internal/store"
)

var (
	ErrBadRequest     = errors.New("trade: bad request")
	ErrUnknownEngine  = errors.New("trade: unknown engine")
	ErrEngineExists   = errors.New("trade: engine already exists")
	ErrFaucetDisabled = errors.New("trade: faucet is disabled")
)

// Service owns the ledger and the engine instances. Engines serialize their
// own invocations; accounts are locked for the whole of an invocation so a
// rollback cannot clobber a concurrent deposit.
type Service struct {
	ledger *asset.Ledger
	store  store.Store
	wsHub  *WSHub // optional
	faucet bool
	logger *slog.Logger

	mu      sync.RWMutex
	engines map[string]*kaupa.Engine
	order   []string

	accountsMu sync.Mutex
	accounts   map[string]*sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithFaucet enables POST /accounts/{account}/mint.
func WithFaucet(enabled bool) Option {
	return func(s *Service) { s.faucet = enabled }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a service. Pass nil for hub if WebSocket broadcasting is
// not needed.
func NewService(ledger *asset.Ledger, st store.Store, hub *WSHub, opts ...Option) *Service {
	s := &Service{
		ledger:   ledger,
		store:    st,
		wsHub:    hub,
		logger:   slog.Default(),
		engines:  make(map[string]*kaupa.Engine),
		accounts: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bootstrap defines the configured resources and instantiates the
// configured engines, in order.
func (s *Service) Bootstrap(cfg config.BootstrapConfig) error {
	for _, rc := range cfg.Resources {
		if err := s.DefineResource(rc); err != nil {
			return fmt.Errorf("resource %s: %w", rc.Address, err)
		}
	}
	for _, ec := range cfg.Engines {
		if _, err := s.NewEngine(ec); err != nil {
			return fmt.Errorf("engine %q: %w", ec.Name, err)
		}
	}
	return nil
}

// DefineResource registers a resource with the ledger.
func (s *Service) DefineResource(rc config.ResourceConfig) error {
	kind, err := rc.Build()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if err := s.ledger.Define(asset.ResourceAddress(rc.Address), kind); err != nil {
		return err
	}
	s.logger.Info("resource defined", "address", rc.Address, "kind", kind.String())
	return nil
}

// NewEngine instantiates and registers an engine.
func (s *Service) NewEngine(ec config.EngineConfig) (*kaupa.Engine, error) {
	cfg, err := ec.Build()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	opts := []kaupa.Option{}
	if ec.ID != "" {
		if _, dup := s.engines[ec.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrEngineExists, ec.ID)
		}
		opts = append(opts, kaupa.WithID(ec.ID))
	}
	id := ec.ID
	if id == "" {
		id = uuid.New().String()
		opts = append(opts, kaupa.WithID(id))
	}
	opts = append(opts, kaupa.WithLogger(s.logger))

	eng, err := kaupa.New(cfg, s.ledger, opts...)
	if err != nil {
		return nil, err
	}
	s.engines[id] = eng
	s.order = append(s.order, id)
	metrics.Engines.Inc()
	metrics.ActiveProposals.WithLabelValues(id).Set(0)

	s.logger.Debug("engine registered", "id", id, "engines", len(s.order))
	return eng, nil
}

// Engine looks up a registered engine.
func (s *Service) Engine(id string) (*kaupa.Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	eng, ok := s.engines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, id)
	}
	return eng, nil
}

// lockAccount serializes work on one account and returns the unlock func.
func (s *Service) lockAccount(account string) func() {
	s.accountsMu.Lock()
	m, ok := s.accounts[account]
	if !ok {
		m = &sync.Mutex{}
		s.accounts[account] = m
	}
	s.accountsMu.Unlock()

	m.Lock()
	return m.Unlock
}

// Routes mounts the REST handlers on r, which is expected to sit under
// /api/v1.
func (s *Service) Routes(r chi.Router) {
	r.Post("/resources", s.CreateResource)

	r.Get("/accounts/{account}", s.GetAccount)
	r.Post("/accounts/{account}/mint", s.Mint)

	r.Get("/engines", s.ListEngines)
	r.Post("/engines", s.CreateEngine)
	r.Route("/engines/{engineID}", func(r chi.Router) {
		r.Get("/", s.GetEngine)
		r.Get("/proposals", s.ListProposals)
		r.Get("/proposals/{proposalID}", s.GetProposal)
		r.Get("/book", s.GetBook)
		r.Get("/payouts/{identity}", s.GetPayouts)
		r.Post("/invoke", s.Invoke)
	})

	r.Get("/proposals/{proposalID}/history", s.GetProposalHistory)
	r.Get("/settlements/{owner}", s.GetSettlements)
}

// --- Request types ---

// MintRequest is the JSON body for the faucet.
type MintRequest struct {
	Resource asset.ResourceAddress `json:"resource"`
	Amount   *decimal.Decimal      `json:"amount,omitempty"`
	IDs      []asset.LocalID       `json:"ids,omitempty"`
}

// AccountResponse lists an account's holdings.
type AccountResponse struct {
	Account  string          `json:"account"`
	Balances []asset.Balance `json:"balances"`
}

// --- HTTP Handlers ---

// CreateResource handles POST /api/v1/resources
func (s *Service) CreateResource(w http.ResponseWriter, r *http.Request) {
	var req config.ResourceConfig
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.DefineResource(req); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// Mint handles POST /api/v1/accounts/{account}/mint
func (s *Service) Mint(w http.ResponseWriter, r *http.Request) {
	if !s.faucet {
		writeErr(w, ErrFaucetDisabled)
		return
	}
	account := chi.URLParam(r, "account")

	var req MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var minted *asset.Bucket
	var err error
	switch {
	case len(req.IDs) > 0:
		minted, err = s.ledger.MintItems(req.Resource, req.IDs...)
	case req.Amount != nil:
		minted, err = s.ledger.Mint(req.Resource, *req.Amount)
	default:
		err = fmt.Errorf("%w: amount or ids required", ErrBadRequest)
	}
	if err != nil {
		writeErr(w, err)
		return
	}

	unlock := s.lockAccount(account)
	desc := model.AmountOf(minted)
	err = s.ledger.Deposit(account, minted)
	unlock()
	if err != nil {
		writeErr(w, err)
		return
	}

	slog.Info("minted", "account", account, "resource", desc.Resource, "amount", desc.Amount.String())
	writeJSON(w, http.StatusOK, desc)
}

// GetAccount handles GET /api/v1/accounts/{account}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	balances, err := s.ledger.Balances(account)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{Account: account, Balances: balances})
}

// CreateEngine handles POST /api/v1/engines
func (s *Service) CreateEngine(w http.ResponseWriter, r *http.Request) {
	var req config.EngineConfig
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	eng, err := s.NewEngine(req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, eng.Info())
}

// ListEngines handles GET /api/v1/engines
func (s *Service) ListEngines(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	engines := make([]*kaupa.Engine, 0, len(s.order))
	for _, id := range s.order {
		engines = append(engines, s.engines[id])
	}
	s.mu.RUnlock()

	infos := make([]kaupa.Info, len(engines))
	for i, eng := range engines {
		infos[i] = eng.Info()
	}
	writeJSON(w, http.StatusOK, infos)
}

// GetEngine handles GET /api/v1/engines/{engineID}
func (s *Service) GetEngine(w http.ResponseWriter, r *http.Request) {
	eng, err := s.Engine(chi.URLParam(r, "engineID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eng.Info())
}

// ListProposals handles GET /api/v1/engines/{engineID}/proposals, served from
// the store's read model.
func (s *Service) ListProposals(w http.ResponseWriter, r *http.Request) {
	eng, err := s.Engine(chi.URLParam(r, "engineID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	recs, err := s.store.ListProposals(r.Context(), eng.ID())
	if err != nil {
		writeError(w, "failed to list proposals", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// GetProposal handles GET /api/v1/engines/{engineID}/proposals/{proposalID}
// with the engine's live view.
func (s *Service) GetProposal(w http.ResponseWriter, r *http.Request) {
	eng, err := s.Engine(chi.URLParam(r, "engineID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "proposalID"))
	if err != nil {
		writeError(w, "invalid proposal id", http.StatusBadRequest)
		return
	}
	rec, err := eng.Proposal(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetBook handles GET /api/v1/engines/{engineID}/book
func (s *Service) GetBook(w http.ResponseWriter, r *http.Request) {
	eng, err := s.Engine(chi.URLParam(r, "engineID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	book, err := eng.OrderBook()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// GetPayouts handles GET /api/v1/engines/{engineID}/payouts/{identity}
func (s *Service) GetPayouts(w http.ResponseWriter, r *http.Request) {
	eng, err := s.Engine(chi.URLParam(r, "engineID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	id, err := asset.ParseGlobalID(chi.URLParam(r, "identity"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eng.Payouts(id))
}

// GetProposalHistory handles GET /api/v1/proposals/{proposalID}/history
func (s *Service) GetProposalHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.store.GetSettlementsByProposal(r.Context(), chi.URLParam(r, "proposalID"))
	if err != nil {
		writeError(w, "failed to get proposal history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// GetSettlements handles GET /api/v1/settlements/{owner}
func (s *Service) GetSettlements(w http.ResponseWriter, r *http.Request) {
	history, err := s.store.GetSettlementsByOwner(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, "failed to get settlements", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// statusFor maps an error class to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownEngine), kaupa.IsNotFound(err),
		errors.Is(err, store.ErrNotFound), errors.Is(err, asset.ErrUnknownAccount):
		return http.StatusNotFound
	case errors.Is(err, ErrFaucetDisabled):
		return http.StatusForbidden
	case errors.Is(err, ErrEngineExists), errors.Is(err, asset.ErrResourceExists),
		errors.Is(err, asset.ErrDuplicateItem), kaupa.IsInsufficiency(err):
		return http.StatusConflict
	case errors.Is(err, ErrBadRequest), kaupa.IsValidation(err), kaupa.IsConfiguration(err),
		errors.Is(err, model.ErrInvalidAsking), isAssetMisuse(err):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func isAssetMisuse(err error) bool {
	for _, target := range []error{
		asset.ErrInvalidKind, asset.ErrInvalidGlobalID, asset.ErrNegativeAmount,
		asset.ErrNotWhole, asset.ErrMissingItem, asset.ErrResourceMismatch,
		asset.ErrNotNonFungible, asset.ErrProofShape, asset.ErrUnknownResource,
		asset.ErrRestricted,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// errorClass labels aborted invocations in metrics.
func errorClass(err error) string {
	switch {
	case kaupa.IsInsufficiency(err):
		return "insufficiency"
	case kaupa.IsNotFound(err):
		return "not_found"
	case kaupa.IsValidation(err), errors.Is(err, ErrBadRequest), isAssetMisuse(err):
		return "validation"
	default:
		return "other"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeErr writes err with the status of its class. Internal errors are not
// echoed to the client.
func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
