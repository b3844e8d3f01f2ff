package storage

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/web3-fighter/svm-mock-engine/internal/domain"
	"github.com/web3-fighter/svm-mock-engine/internal/tenant"
)

// Tagged dispatches to one of the two concrete backends by a Backend tag
// rather than through an interface vtable (package doc). Production code
// holds a *Tagged; Store stays around only for components that need to
// accept either a *Tagged or a test double.
type Tagged struct {
	backend  Backend
	memory   Store
	postgres Store
}

// NewMemory wraps an in-memory store as a Tagged value.
func NewMemory(store Store) *Tagged {
	return &Tagged{backend: BackendMemory, memory: store}
}

// NewPostgres wraps a postgres-backed store as a Tagged value.
func NewPostgres(store Store) *Tagged {
	return &Tagged{backend: BackendPostgres, postgres: store}
}

func (t *Tagged) Backend() Backend {
	return t.backend
}

func (t *Tagged) delegate() Store {
	switch t.backend {
	case BackendPostgres:
		return t.postgres
	default:
		return t.memory
	}
}

func (t *Tagged) BatchGetAccounts(ctx context.Context, tn tenant.ID, addresses []solana.PublicKey) (map[solana.PublicKey]*domain.Account, error) {
	return t.delegate().BatchGetAccounts(ctx, tn, addresses)
}

func (t *Tagged) GetAccount(ctx context.Context, tn tenant.ID, address solana.PublicKey) (*domain.Account, error) {
	return t.delegate().GetAccount(ctx, tn, address)
}

func (t *Tagged) UpsertAccounts(ctx context.Context, tn tenant.ID, accounts map[solana.PublicKey]*domain.Account) error {
	return t.delegate().UpsertAccounts(ctx, tn, accounts)
}

func (t *Tagged) UpsertAccountLamports(ctx context.Context, tn tenant.ID, address solana.PublicKey, lamports uint64) error {
	return t.delegate().UpsertAccountLamports(ctx, tn, address, lamports)
}

func (t *Tagged) ProgramAccounts(ctx context.Context, tn tenant.ID, owner solana.PublicKey) (map[solana.PublicKey]*domain.Account, error) {
	return t.delegate().ProgramAccounts(ctx, tn, owner)
}

func (t *Tagged) LatestBlock(ctx context.Context, tn tenant.ID) (*domain.Block, error) {
	return t.delegate().LatestBlock(ctx, tn)
}

func (t *Tagged) GetBlockByHash(ctx context.Context, tn tenant.ID, hash solana.Hash) (*domain.Block, error) {
	return t.delegate().GetBlockByHash(ctx, tn, hash)
}

func (t *Tagged) GetBlockBySlot(ctx context.Context, tn tenant.ID, slot uint64) (*domain.Block, error) {
	return t.delegate().GetBlockBySlot(ctx, tn, slot)
}

func (t *Tagged) InsertBlock(ctx context.Context, tn tenant.ID, block *domain.Block) error {
	return t.delegate().InsertBlock(ctx, tn, block)
}

func (t *Tagged) AppendSignatureToBlock(ctx context.Context, tn tenant.ID, blockhash solana.Hash, sig solana.Signature) error {
	return t.delegate().AppendSignatureToBlock(ctx, tn, blockhash, sig)
}

func (t *Tagged) GetTransaction(ctx context.Context, tn tenant.ID, sig solana.Signature) (*domain.TransactionRecord, error) {
	return t.delegate().GetTransaction(ctx, tn, sig)
}

func (t *Tagged) InsertTransaction(ctx context.Context, tn tenant.ID, record *domain.TransactionRecord) error {
	return t.delegate().InsertTransaction(ctx, tn, record)
}

func (t *Tagged) SignaturesForAddress(ctx context.Context, tn tenant.ID, address solana.PublicKey, limit int) ([]solana.Signature, error) {
	return t.delegate().SignaturesForAddress(ctx, tn, address, limit)
}

func (t *Tagged) TransactionCount(ctx context.Context, tn tenant.ID) (uint64, error) {
	return t.delegate().TransactionCount(ctx, tn)
}

func (t *Tagged) CommitTransaction(ctx context.Context, tn tenant.ID, accounts map[solana.PublicKey]*domain.Account, record *domain.TransactionRecord, blockhash solana.Hash, sig solana.Signature) error {
	return t.delegate().CommitTransaction(ctx, tn, accounts, record, blockhash, sig)
}

func (t *Tagged) CommitFailedTransaction(ctx context.Context, tn tenant.ID, payerKey solana.PublicKey, payer *domain.Account, record *domain.TransactionRecord) error {
	return t.delegate().CommitFailedTransaction(ctx, tn, payerKey, payer, record)
}

func (t *Tagged) CreateTenant(ctx context.Context, rec *domain.TenantRecord) error {
	return t.delegate().CreateTenant(ctx, rec)
}

func (t *Tagged) DeleteTenant(ctx context.Context, tn tenant.ID) error {
	return t.delegate().DeleteTenant(ctx, tn)
}

func (t *Tagged) GetTenant(ctx context.Context, tn tenant.ID) (*domain.TenantRecord, error) {
	return t.delegate().GetTenant(ctx, tn)
}

func (t *Tagged) TenantsForTeam(ctx context.Context, team string) ([]*domain.TenantRecord, error) {
	return t.delegate().TenantsForTeam(ctx, team)
}

var _ Store = (*Tagged)(nil)
