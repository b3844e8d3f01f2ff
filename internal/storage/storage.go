// Package storage defines the persistence contract the engine consumes
// (spec.md §6 "Store schema (logical)"). The concrete backends
// (postgres, memory) are tagged variants dispatched directly rather than
// hidden behind an interface vtable everywhere (SPEC_FULL.md §9 "Dynamic
// dispatch over storage"); Store remains as an interface only at the
// boundary components need for testability (pipeline and blockproducer
// accept *Tagged, not an arbitrary Store; programcache and lookup take
// their own narrow Loader interfaces).
package storage

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"

	"github.com/web3-fighter/svm-mock-engine/internal/domain"
	"github.com/web3-fighter/svm-mock-engine/internal/tenant"
)

// ErrNotFound is returned by any single-entity lookup that misses.
var ErrNotFound = errors.New("storage: not found")

// ErrAlreadyProcessed is returned by InsertTransaction when a record for
// the signature already exists (spec.md §4.5 step 3, §4.6 replay
// protection). The store's upsert/insert atomicity unit is what makes
// this check race-free across concurrent tenants.
var ErrAlreadyProcessed = errors.New("storage: transaction already processed")

// StoreError wraps any failure from the relational store (spec.md §7):
// fatal to the transaction in flight, surfaced upstream as HTTP 500.
type StoreError struct{ Cause error }

func (e *StoreError) Error() string { return "store error: " + e.Cause.Error() }
func (e *StoreError) Unwrap() error { return e.Cause }

// CacheError wraps a cache failure: non-fatal, callers fall back to the
// store (spec.md §7).
type CacheError struct{ Cause error }

func (e *CacheError) Error() string { return "cache error: " + e.Cause.Error() }
func (e *CacheError) Unwrap() error { return e.Cause }

// Backend is a tag identifying which concrete store implementation a
// Tagged value dispatches to.
type Backend int

const (
	BackendMemory Backend = iota
	BackendPostgres
)

// Store is the persistence surface the engine needs: accounts, blocks,
// transaction records and tenants. Both backends implement it; Tagged
// (in tagged.go) is what production code actually holds.
type Store interface {
	// Accounts
	BatchGetAccounts(ctx context.Context, t tenant.ID, addresses []solana.PublicKey) (map[solana.PublicKey]*domain.Account, error)
	GetAccount(ctx context.Context, t tenant.ID, address solana.PublicKey) (*domain.Account, error)
	UpsertAccounts(ctx context.Context, t tenant.ID, accounts map[solana.PublicKey]*domain.Account) error
	UpsertAccountLamports(ctx context.Context, t tenant.ID, address solana.PublicKey, lamports uint64) error
	ProgramAccounts(ctx context.Context, t tenant.ID, owner solana.PublicKey) (map[solana.PublicKey]*domain.Account, error)

	// Blocks
	LatestBlock(ctx context.Context, t tenant.ID) (*domain.Block, error)
	GetBlockByHash(ctx context.Context, t tenant.ID, hash solana.Hash) (*domain.Block, error)
	GetBlockBySlot(ctx context.Context, t tenant.ID, slot uint64) (*domain.Block, error)
	InsertBlock(ctx context.Context, t tenant.ID, block *domain.Block) error
	AppendSignatureToBlock(ctx context.Context, t tenant.ID, blockhash solana.Hash, sig solana.Signature) error

	// Transactions
	GetTransaction(ctx context.Context, t tenant.ID, sig solana.Signature) (*domain.TransactionRecord, error)
	InsertTransaction(ctx context.Context, t tenant.ID, record *domain.TransactionRecord) error
	SignaturesForAddress(ctx context.Context, t tenant.ID, address solana.PublicKey, limit int) ([]solana.Signature, error)
	TransactionCount(ctx context.Context, t tenant.ID) (uint64, error)

	// CommitTransaction atomically persists a successful pipeline commit's
	// account writes, transaction record and block signature append in a
	// single store transaction (spec.md §7 atomicity requirement).
	CommitTransaction(ctx context.Context, t tenant.ID, accounts map[solana.PublicKey]*domain.Account, record *domain.TransactionRecord, blockhash solana.Hash, sig solana.Signature) error
	// CommitFailedTransaction atomically persists a chargeable failure's fee
	// debit and failed transaction record in a single store transaction
	// (spec.md §7 atomicity requirement).
	CommitFailedTransaction(ctx context.Context, t tenant.ID, payerKey solana.PublicKey, payer *domain.Account, record *domain.TransactionRecord) error

	// Tenants
	CreateTenant(ctx context.Context, rec *domain.TenantRecord) error
	DeleteTenant(ctx context.Context, t tenant.ID) error
	GetTenant(ctx context.Context, t tenant.ID) (*domain.TenantRecord, error)
	TenantsForTeam(ctx context.Context, team string) ([]*domain.TenantRecord, error)
}
