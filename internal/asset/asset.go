// Package asset models the host ledger the barter engine runs on: resources,
// exclusively owned containers of one resource (buckets), identity proofs and
// a restricted mint/burn authority.
//
// The engine only consumes the Registry interface and the Bucket/Bag/Proof
// value types. Ledger is the in-memory implementation used by the HTTP host
// and by tests.
package asset

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
)

// ResourceAddress identifies a fungible or non-fungible resource.
type ResourceAddress string

// LocalID identifies one item of a non-fungible resource.
type LocalID string

// Kind is the closed two-variant classification of a resource.
type Kind int

const (
	Fungible Kind = iota
	NonFungible
)

func (k Kind) String() string {
	switch k {
	case Fungible:
		return "fungible"
	case NonFungible:
		return "non_fungible"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "fungible":
		*k = Fungible
	case "non_fungible", "nonfungible", "nft":
		*k = NonFungible
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, string(text))
	}
	return nil
}

var (
	ErrInvalidKind        = errors.New("asset: invalid resource kind")
	ErrInvalidGlobalID    = errors.New("asset: invalid global id")
	ErrInsufficientAmount = errors.New("asset: insufficient amount in container")
	ErrNegativeAmount     = errors.New("asset: negative amount")
	ErrNotWhole           = errors.New("asset: non-fungible amount must be a whole number")
	ErrMissingItem        = errors.New("asset: item not in container")
	ErrResourceMismatch   = errors.New("asset: resource mismatch")
	ErrNotNonFungible     = errors.New("asset: resource is not non-fungible")
	ErrProofShape         = errors.New("asset: proof must hold exactly one item")
	ErrUnknownResource    = errors.New("asset: unknown resource")
	ErrResourceExists     = errors.New("asset: resource already defined")
	ErrDuplicateItem      = errors.New("asset: item already minted")
	ErrRestricted         = errors.New("asset: resource is restricted")
	ErrUnknownAccount     = errors.New("asset: unknown account")
)

// GlobalID is the identity of one non-fungible item across all resources.
// The engine uses it only as a comparable map key.
type GlobalID struct {
	Resource ResourceAddress `json:"resource"`
	Local    LocalID         `json:"local_id"`
}

// globalIDRegex matches: {resource}#{localID}
// Example: resource_badge#7
var globalIDRegex = regexp.MustCompile(`^([A-Za-z0-9_.:\-]+)#([^#\s]+)$`)

// ParseGlobalID parses the text form produced by GlobalID.String.
func ParseGlobalID(s string) (GlobalID, error) {
	m := globalIDRegex.FindStringSubmatch(s)
	if m == nil {
		return GlobalID{}, fmt.Errorf("%w: %s (expected {resource}#{local_id})", ErrInvalidGlobalID, s)
	}
	return GlobalID{Resource: ResourceAddress(m[1]), Local: LocalID(m[2])}, nil
}

func (g GlobalID) String() string {
	return string(g.Resource) + "#" + string(g.Local)
}

// Proof asserts possession of specific items of one resource. Whoever builds
// a Proof vouches for it; the engine only inspects its contents.
type Proof struct {
	Resource ResourceAddress `json:"resource"`
	IDs      []LocalID       `json:"ids"`
}

// NewProof builds a proof over the given items.
func NewProof(res ResourceAddress, ids ...LocalID) Proof {
	return Proof{Resource: res, IDs: sortedIDs(ids)}
}

// Single returns the identity held by a proof of exactly one item.
func (p Proof) Single() (GlobalID, error) {
	if len(p.IDs) != 1 {
		return GlobalID{}, fmt.Errorf("%w: got %d", ErrProofShape, len(p.IDs))
	}
	return GlobalID{Resource: p.Resource, Local: p.IDs[0]}, nil
}

// Covers reports whether the proof includes the given identity.
func (p Proof) Covers(id GlobalID) bool {
	if p.Resource != id.Resource {
		return false
	}
	for _, local := range p.IDs {
		if local == id.Local {
			return true
		}
	}
	return false
}

// Identities lists every identity the proof holds.
func (p Proof) Identities() []GlobalID {
	out := make([]GlobalID, 0, len(p.IDs))
	for _, local := range p.IDs {
		out = append(out, GlobalID{Resource: p.Resource, Local: local})
	}
	return out
}

func sortedIDs(ids []LocalID) []LocalID {
	out := append([]LocalID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
