// Package kaupa implements a generic barter engine. Makers offer bags of
// fungible and non-fungible assets in exchange for other bags; takers accept
// proposals in full or in part, or sweep a trading pair's order book. Flash
// loans lend a proposal's offering for the span of one invocation.
//
// An Engine mutates state only inside Invoke, which holds the engine's lock,
// and commits every operation of the invocation or none of them.
package kaupa

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kaupa/barter-engine/internal/asset"
	"github.com/kaupa/barter-engine/internal/fees"
	"github.com/kaupa/barter-engine/internal/model"
	"github.com/kaupa/barter-engine/internal/orderbook"
)

// Config describes an engine instance. Nil side lists accept any resource.
type Config struct {
	Owner             asset.GlobalID
	Name              string
	Blurb             string
	URL               string
	Fees              *model.Fees
	Side1             []asset.ResourceAddress
	Side2             []asset.ResourceAddress
	TradingPair       bool
	ForceAllowPartial bool
	AllowFlashLoans   bool
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithID fixes the engine id instead of generating one.
func WithID(id string) Option {
	return func(e *Engine) { e.id = id }
}

// Engine is one barter instance.
type Engine struct {
	id       string
	cfg      Config
	side1    map[asset.ResourceAddress]bool
	side2    map[asset.ResourceAddress]bool
	reg      asset.Registry
	debtAuth *asset.Authority
	logger   *slog.Logger
	now      func() time.Time

	mu sync.Mutex
	st *state
}

type state struct {
	proposals map[uuid.UUID]*proposal
	payouts   map[asset.GlobalID]asset.Bag
	fees      asset.Bag
	book      *orderbook.Book
	debts     map[asset.LocalID]model.FlashLoanDebt
}

func newState(tradingPair bool) *state {
	s := &state{
		proposals: make(map[uuid.UUID]*proposal),
		payouts:   make(map[asset.GlobalID]asset.Bag),
		fees:      make(asset.Bag),
		debts:     make(map[asset.LocalID]model.FlashLoanDebt),
	}
	if tradingPair {
		s.book = orderbook.New()
	}
	return s
}

func (s *state) clone() *state {
	out := &state{
		proposals: make(map[uuid.UUID]*proposal, len(s.proposals)),
		payouts:   make(map[asset.GlobalID]asset.Bag, len(s.payouts)),
		fees:      s.fees.Clone(),
		debts:     make(map[asset.LocalID]model.FlashLoanDebt, len(s.debts)),
	}
	for id, p := range s.proposals {
		out.proposals[id] = p.clone()
	}
	for id, bag := range s.payouts {
		out.payouts[id] = bag.Clone()
	}
	for id, debt := range s.debts {
		out.debts[id] = debt
	}
	if s.book != nil {
		out.book = s.book.Clone()
	}
	return out
}

// New validates cfg and creates an engine. When flash loans are allowed it
// also creates the restricted debt-token resource through reg.
func New(cfg Config, reg asset.Registry, opts ...Option) (*Engine, error) {
	if cfg.Owner.Resource == "" || cfg.Owner.Local == "" {
		return nil, fmt.Errorf("%w: owner identity is required", ErrInvalidConfig)
	}
	if cfg.TradingPair {
		if err := checkTradingPair(cfg); err != nil {
			return nil, err
		}
	}
	for _, res := range append(append([]asset.ResourceAddress(nil), cfg.Side1...), cfg.Side2...) {
		if _, err := reg.Kind(res); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if err := fees.Validate(cfg.Fees, reg); err != nil {
		return nil, err
	}

	e := &Engine{
		id:     uuid.New().String(),
		cfg:    cfg,
		side1:  resourceSet(cfg.Side1),
		side2:  resourceSet(cfg.Side2),
		reg:    reg,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
		st:     newState(cfg.TradingPair),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("engine", e.id)

	if cfg.AllowFlashLoans {
		auth, err := reg.NewRestricted("kaupa_flash_loan", asset.NonFungible)
		if err != nil {
			return nil, fmt.Errorf("%w: flash loan resource: %w", ErrInvalidConfig, err)
		}
		e.debtAuth = auth
	}

	e.logger.Info("engine instantiated",
		"name", cfg.Name,
		"owner", cfg.Owner.String(),
		"trading_pair", cfg.TradingPair,
		"flash_loans", cfg.AllowFlashLoans,
	)
	return e, nil
}

func checkTradingPair(cfg Config) error {
	var errs []error
	switch {
	case len(cfg.Side1) != 1 || len(cfg.Side2) != 1:
		errs = append(errs, fmt.Errorf("%w: need exactly one resource on each side", ErrInvalidTradingPair))
	case cfg.Side1[0] == cfg.Side2[0]:
		errs = append(errs, fmt.Errorf("%w: both sides are %s", ErrInvalidTradingPair, cfg.Side1[0]))
	}
	if !cfg.ForceAllowPartial {
		errs = append(errs, fmt.Errorf("%w: must force allow_partial", ErrInvalidTradingPair))
	}
	if cfg.AllowFlashLoans {
		errs = append(errs, fmt.Errorf("%w: flash loans not allowed", ErrInvalidTradingPair))
	}
	return errors.Join(errs...)
}

func resourceSet(list []asset.ResourceAddress) map[asset.ResourceAddress]bool {
	if len(list) == 0 {
		return nil
	}
	set := make(map[asset.ResourceAddress]bool, len(list))
	for _, res := range list {
		set[res] = true
	}
	return set
}

func (e *Engine) ID() string { return e.id }

// FlashLoanResource is the debt-token resource, if flash loans are enabled.
func (e *Engine) FlashLoanResource() (asset.ResourceAddress, bool) {
	if e.debtAuth == nil {
		return "", false
	}
	return e.debtAuth.Resource(), true
}

// Info describes an engine's configuration.
type Info struct {
	ID                string                  `json:"id"`
	Owner             string                  `json:"owner"`
	Name              string                  `json:"name"`
	Blurb             string                  `json:"blurb,omitempty"`
	URL               string                  `json:"url,omitempty"`
	Fees              *model.Fees             `json:"fees,omitempty"`
	Side1             []asset.ResourceAddress `json:"side1,omitempty"`
	Side2             []asset.ResourceAddress `json:"side2,omitempty"`
	TradingPair       bool                    `json:"trading_pair"`
	ForceAllowPartial bool                    `json:"force_allow_partial"`
	AllowFlashLoans   bool                    `json:"allow_flash_loans"`
	FlashLoanResource asset.ResourceAddress   `json:"flash_loan_resource,omitempty"`
	Proposals         int                     `json:"proposals"`
}

// The query methods below take the engine lock and must not be called from
// inside an Invoke callback.

func (e *Engine) Info() Info {
	e.mu.Lock()
	defer e.mu.Unlock()

	info := Info{
		ID:                e.id,
		Owner:             e.cfg.Owner.String(),
		Name:              e.cfg.Name,
		Blurb:             e.cfg.Blurb,
		URL:               e.cfg.URL,
		Fees:              e.cfg.Fees,
		Side1:             e.cfg.Side1,
		Side2:             e.cfg.Side2,
		TradingPair:       e.cfg.TradingPair,
		ForceAllowPartial: e.cfg.ForceAllowPartial,
		AllowFlashLoans:   e.cfg.AllowFlashLoans,
		Proposals:         len(e.st.proposals),
	}
	if res, ok := e.FlashLoanResource(); ok {
		info.FlashLoanResource = res
	}
	return info
}

// Proposal returns the current view of one proposal.
func (e *Engine) Proposal(id uuid.UUID) (model.ProposalRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.st.proposals[id]
	if !ok {
		return model.ProposalRecord{}, fmt.Errorf("%w: %s", ErrProposalNotFound, id)
	}
	return e.record(p), nil
}

// Proposals lists active proposals, oldest first.
func (e *Engine) Proposals() []model.ProposalRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]model.ProposalRecord, 0, len(e.st.proposals))
	for _, p := range e.st.proposals {
		out = append(out, e.record(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// BookView is a snapshot of a trading pair's order book.
type BookView struct {
	Buy  []orderbook.Entry `json:"buy"`
	Sell []orderbook.Entry `json:"sell"`
}

// OrderBook returns both sides in ascending price order.
func (e *Engine) OrderBook() (BookView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.st.book == nil {
		return BookView{}, ErrNotTradingPair
	}
	return BookView{Buy: e.st.book.Entries(orderbook.Buy), Sell: e.st.book.Entries(orderbook.Sell)}, nil
}

// Payouts lists the unclaimed proceeds of an identity.
func (e *Engine) Payouts(id asset.GlobalID) []model.Amount {
	e.mu.Lock()
	defer e.mu.Unlock()
	return model.AmountsOf(e.st.payouts[id].Buckets())
}

// CollectedFees lists the fees awaiting the owner.
func (e *Engine) CollectedFees() []model.Amount {
	e.mu.Lock()
	defer e.mu.Unlock()
	return model.AmountsOf(e.st.fees.Buckets())
}

func (e *Engine) addPayout(owner asset.GlobalID, buckets ...*asset.Bucket) error {
	bag := e.st.payouts[owner]
	if bag == nil {
		bag = make(asset.Bag)
		e.st.payouts[owner] = bag
	}
	for _, b := range buckets {
		if err := bag.Put(b); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) side1Token() asset.ResourceAddress { return e.cfg.Side1[0] }

func (e *Engine) takerFixed() model.AskingMap {
	if e.cfg.Fees == nil {
		return nil
	}
	return e.cfg.Fees.PerTxTakerFixed
}

func (e *Engine) makerFixed() model.AskingMap {
	if e.cfg.Fees == nil {
		return nil
	}
	return e.cfg.Fees.PerTxMakerFixed
}
