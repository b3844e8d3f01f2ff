// Package accountview implements the Account View (C1, spec.md §4.1): a
// single-threaded, per-transaction snapshot with staged-write semantics.
// It borrows immutably from the batch fetched at pipeline start and owns
// the staged post-images exclusively until the pipeline drains it.
package accountview

import (
	"github.com/gagliardetto/solana-go"

	"github.com/web3-fighter/svm-mock-engine/internal/domain"
)

// InstructionsSysvarAddress is synthesised from the current message and
// is never loaded from storage (spec.md §4.1).
var InstructionsSysvarAddress = solana.MustPublicKeyFromBase58("Sysvar1nstructions1111111111111111111111111")

// View is scoped to exactly one transaction.
type View struct {
	base    map[solana.PublicKey]*domain.Account // immutable snapshot fetched at pipeline start
	staged  map[solana.PublicKey]*domain.Account // post-images, present once touched
	touched []solana.PublicKey                   // insertion order, for deterministic Drain
}

// New constructs a View from a batch fetch. A nil map entry marks an
// account as loaded but absent (Get returns (nil, true)); an address not
// in the map has never been loaded (Get returns (nil, false)).
func New(base map[solana.PublicKey]*domain.Account) *View {
	if base == nil {
		base = make(map[solana.PublicKey]*domain.Account)
	}
	return &View{
		base:   base,
		staged: make(map[solana.PublicKey]*domain.Account),
	}
}

// Get returns the current view of an account: the staged post-image if
// one exists, otherwise the base snapshot. The second return value is
// false when the account has never been loaded into the view at all
// (distinct from "loaded but absent", which returns (nil, true)).
func (v *View) Get(address solana.PublicKey) (*domain.Account, bool) {
	if address.Equals(InstructionsSysvarAddress) {
		return nil, true
	}
	if acc, ok := v.staged[address]; ok {
		return acc, true
	}
	if acc, ok := v.base[address]; ok {
		return acc, true
	}
	return nil, false
}

// Materialize returns the account at address, or a fresh zero-lamport
// default if the VM is touching it for the first time (spec.md §4.1).
func (v *View) Materialize(address solana.PublicKey) *domain.Account {
	if acc, ok := v.Get(address); ok && acc != nil {
		return acc
	}
	return &domain.Account{Owner: solana.SystemProgramID}
}

// Stage records a post-image for address, overwriting any previous
// staged value for this transaction.
func (v *View) Stage(address solana.PublicKey, acc *domain.Account) {
	if _, already := v.staged[address]; !already {
		v.touched = append(v.touched, address)
	}
	v.staged[address] = acc
}

// LoadIntoBase adds an account fetched mid-pipeline (e.g. a program's
// loader, resolved lazily by C4) to the immutable base snapshot, so
// subsequent Get calls see it without requiring a Stage.
func (v *View) LoadIntoBase(address solana.PublicKey, acc *domain.Account) {
	if _, ok := v.base[address]; !ok {
		v.base[address] = acc
	}
}

// Drain returns the staged post-images in the order they were first
// touched, for the pipeline to hand to the rent checker and committer.
func (v *View) Drain() []AddressedAccount {
	out := make([]AddressedAccount, 0, len(v.touched))
	for _, addr := range v.touched {
		out = append(out, AddressedAccount{Address: addr, Account: v.staged[addr]})
	}
	return out
}

// Keys returns every address the view currently knows about, staged or
// base, excluding the synthetic instructions sysvar.
func (v *View) Keys() []solana.PublicKey {
	seen := make(map[solana.PublicKey]struct{}, len(v.base)+len(v.staged))
	keys := make([]solana.PublicKey, 0, len(v.base)+len(v.staged))
	for k := range v.base {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for k := range v.staged {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}

// AddressedAccount pairs an address with the account staged at it.
type AddressedAccount struct {
	Address solana.PublicKey
	Account *domain.Account
}
