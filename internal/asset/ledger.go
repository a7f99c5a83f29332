package asset

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Registry is what the engine needs from the host: resource classification
// and a restricted resource whose mint/burn authority the caller alone holds.
type Registry interface {
	Kind(res ResourceAddress) (Kind, error)
	NewRestricted(name string, kind Kind) (*Authority, error)
}

// Authority is the only handle able to mint or burn a restricted resource.
type Authority struct {
	resource ResourceAddress
	kind     Kind
}

func (a *Authority) Resource() ResourceAddress { return a.resource }

// MintUnique mints one item with a fresh local id.
func (a *Authority) MintUnique() (*Bucket, error) {
	if a.kind != NonFungible {
		return nil, fmt.Errorf("%w: %s", ErrNotNonFungible, a.resource)
	}
	return NewNonFungible(a.resource, LocalID(uuid.New().String())), nil
}

// Burn destroys the contents of b.
func (a *Authority) Burn(b *Bucket) error {
	if b.Resource() != a.resource {
		return fmt.Errorf("%w: cannot burn %s with authority over %s", ErrResourceMismatch, b.Resource(), a.resource)
	}
	b.TakeAll()
	return nil
}

type resourceInfo struct {
	kind       Kind
	restricted bool
}

// Balance is one line of an account statement.
type Balance struct {
	Resource ResourceAddress `json:"resource"`
	Kind     Kind            `json:"kind"`
	Amount   decimal.Decimal `json:"amount"`
	IDs      []LocalID       `json:"ids,omitempty"`
}

// Ledger is an in-memory Registry with named accounts.
type Ledger struct {
	mu        sync.RWMutex
	resources map[ResourceAddress]resourceInfo
	minted    map[ResourceAddress]map[LocalID]struct{}
	accounts  map[string]Bag
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		resources: make(map[ResourceAddress]resourceInfo),
		minted:    make(map[ResourceAddress]map[LocalID]struct{}),
		accounts:  make(map[string]Bag),
	}
}

// Define registers a new resource.
func (l *Ledger) Define(res ResourceAddress, kind Kind) error {
	if res == "" || strings.ContainsAny(string(res), "# ") {
		return fmt.Errorf("%w: %q", ErrInvalidGlobalID, res)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.resources[res]; ok {
		return fmt.Errorf("%w: %s", ErrResourceExists, res)
	}
	l.resources[res] = resourceInfo{kind: kind}
	return nil
}

func (l *Ledger) Kind(res ResourceAddress) (Kind, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	info, ok := l.resources[res]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownResource, res)
	}
	return info.kind, nil
}

// NewRestricted creates a resource only the returned Authority can mint or
// burn. Restricted resources cannot be deposited into accounts.
func (l *Ledger) NewRestricted(name string, kind Kind) (*Authority, error) {
	res := ResourceAddress(fmt.Sprintf("resource_%s_%s", name, uuid.New().String()[:8]))

	l.mu.Lock()
	defer l.mu.Unlock()

	l.resources[res] = resourceInfo{kind: kind, restricted: true}
	return &Authority{resource: res, kind: kind}, nil
}

// Mint creates amount of a fungible resource.
func (l *Ledger) Mint(res ResourceAddress, amount decimal.Decimal) (*Bucket, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	info, ok := l.resources[res]
	switch {
	case !ok:
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, res)
	case info.restricted:
		return nil, fmt.Errorf("%w: %s", ErrRestricted, res)
	case info.kind != Fungible:
		return nil, fmt.Errorf("%w: %s is non-fungible", ErrResourceMismatch, res)
	}
	return NewFungible(res, amount), nil
}

// MintItems creates the named items of a non-fungible resource.
func (l *Ledger) MintItems(res ResourceAddress, ids ...LocalID) (*Bucket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.resources[res]
	switch {
	case !ok:
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, res)
	case info.restricted:
		return nil, fmt.Errorf("%w: %s", ErrRestricted, res)
	case info.kind != NonFungible:
		return nil, fmt.Errorf("%w: %s", ErrNotNonFungible, res)
	}

	issued := l.minted[res]
	if issued == nil {
		issued = make(map[LocalID]struct{})
		l.minted[res] = issued
	}
	for _, id := range ids {
		if _, dup := issued[id]; dup {
			return nil, fmt.Errorf("%w: %s#%s", ErrDuplicateItem, res, id)
		}
	}
	for _, id := range ids {
		issued[id] = struct{}{}
	}
	return NewNonFungible(res, ids...), nil
}

// Deposit moves b into the named account, opening it on first use.
func (l *Ledger) Deposit(account string, b *Bucket) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.resources[b.Resource()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownResource, b.Resource())
	}
	if info.restricted && !b.IsEmpty() {
		return fmt.Errorf("%w: %s cannot be deposited", ErrRestricted, b.Resource())
	}
	bag := l.accounts[account]
	if bag == nil {
		bag = make(Bag)
		l.accounts[account] = bag
	}
	return bag.Put(b)
}

// Withdraw takes amount of res out of the account.
func (l *Ledger) Withdraw(account string, res ResourceAddress, amount decimal.Decimal) (*Bucket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	vault, err := l.vault(account, res)
	if err != nil {
		return nil, err
	}
	return vault.Take(amount)
}

// WithdrawItems takes the named items of res out of the account.
func (l *Ledger) WithdrawItems(account string, res ResourceAddress, ids []LocalID) (*Bucket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	vault, err := l.vault(account, res)
	if err != nil {
		return nil, err
	}
	return vault.TakeNonFungibles(ids)
}

func (l *Ledger) vault(account string, res ResourceAddress) (*Bucket, error) {
	bag, ok := l.accounts[account]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	vault, ok := bag[res]
	if !ok {
		return nil, fmt.Errorf("%w: account %s holds no %s", ErrInsufficientAmount, account, res)
	}
	return vault, nil
}

// Prove issues a proof for items the account actually holds.
func (l *Ledger) Prove(account string, res ResourceAddress, ids []LocalID) (Proof, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	bag, ok := l.accounts[account]
	if !ok {
		return Proof{}, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	vault, ok := bag[res]
	if !ok {
		return Proof{}, fmt.Errorf("%w: account %s holds no %s", ErrMissingItem, account, res)
	}
	for _, id := range ids {
		if !vault.Contains(id) {
			return Proof{}, fmt.Errorf("%w: %s#%s", ErrMissingItem, res, id)
		}
	}
	return NewProof(res, ids...), nil
}

// Balances lists the non-empty holdings of an account.
func (l *Ledger) Balances(account string) ([]Balance, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	bag, ok := l.accounts[account]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	out := []Balance{}
	for _, b := range bag.Buckets() {
		if b.IsEmpty() {
			continue
		}
		bal := Balance{Resource: b.Resource(), Kind: b.Kind(), Amount: b.Amount()}
		if b.Kind() == NonFungible {
			bal.IDs = b.IDs()
		}
		out = append(out, bal)
	}
	return out, nil
}

// Snapshot copies an account's holdings; Restore puts them back.
func (l *Ledger) Snapshot(account string) Bag {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.accounts[account].Clone()
}

func (l *Ledger) Restore(account string, snap Bag) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if snap == nil {
		delete(l.accounts, account)
		return
	}
	l.accounts[account] = snap.Clone()
}
