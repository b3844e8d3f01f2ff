// Package memory implements storage.Store entirely in process memory. It
// backs the pipeline unit tests (spec.md §8) without a live
// Postgres/Redis.
package memory

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/web3-fighter/svm-mock-engine/internal/domain"
	"github.com/web3-fighter/svm-mock-engine/internal/storage"
	"github.com/web3-fighter/svm-mock-engine/internal/tenant"
)

type tenantState struct {
	accounts     map[solana.PublicKey]*domain.Account
	blocksByHash map[solana.Hash]*domain.Block
	blocksBySlot map[uint64]*domain.Block
	blockOrder   []solana.Hash
	txBySig      map[solana.Signature]*domain.TransactionRecord
	txOrder      []solana.Signature
	record       *domain.TenantRecord
}

func newTenantState() *tenantState {
	return &tenantState{
		accounts:     make(map[solana.PublicKey]*domain.Account),
		blocksByHash: make(map[solana.Hash]*domain.Block),
		blocksBySlot: make(map[uint64]*domain.Block),
		txBySig:      make(map[solana.Signature]*domain.TransactionRecord),
	}
}

// Store is an in-memory storage.Store.
type Store struct {
	mu      sync.Mutex
	tenants map[tenant.ID]*tenantState
}

func New() *Store {
	return &Store{tenants: make(map[tenant.ID]*tenantState)}
}

func (s *Store) state(t tenant.ID) *tenantState {
	st, ok := s.tenants[t]
	if !ok {
		st = newTenantState()
		s.tenants[t] = st
	}
	return st
}

func (s *Store) BatchGetAccounts(ctx context.Context, t tenant.ID, addresses []solana.PublicKey) (map[solana.PublicKey]*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(t)
	out := make(map[solana.PublicKey]*domain.Account, len(addresses))
	for _, addr := range addresses {
		if acc, ok := st.accounts[addr]; ok {
			out[addr] = acc.Clone()
		} else {
			out[addr] = nil
		}
	}
	return out, nil
}

func (s *Store) GetAccount(ctx context.Context, t tenant.ID, address solana.PublicKey) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(t)
	acc, ok := st.accounts[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return acc.Clone(), nil
}

func (s *Store) UpsertAccounts(ctx context.Context, t tenant.ID, accounts map[solana.PublicKey]*domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(t)
	for addr, acc := range accounts {
		if acc == nil || acc.IsAbsent() {
			delete(st.accounts, addr)
			continue
		}
		st.accounts[addr] = acc.Clone()
	}
	return nil
}

func (s *Store) UpsertAccountLamports(ctx context.Context, t tenant.ID, address solana.PublicKey, lamports uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(t)
	acc, ok := st.accounts[address]
	if !ok {
		acc = &domain.Account{Owner: solana.SystemProgramID}
	} else {
		acc = acc.Clone()
	}
	acc.Lamports = lamports
	if acc.IsAbsent() {
		delete(st.accounts, address)
		return nil
	}
	st.accounts[address] = acc
	return nil
}

func (s *Store) ProgramAccounts(ctx context.Context, t tenant.ID, owner solana.PublicKey) (map[solana.PublicKey]*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(t)
	out := make(map[solana.PublicKey]*domain.Account)
	for addr, acc := range st.accounts {
		if acc.Owner.Equals(owner) {
			out[addr] = acc.Clone()
		}
	}
	return out, nil
}

func (s *Store) LatestBlock(ctx context.Context, t tenant.ID) (*domain.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(t)
	if len(st.blockOrder) == 0 {
		return nil, storage.ErrNotFound
	}
	return st.blocksByHash[st.blockOrder[len(st.blockOrder)-1]], nil
}

func (s *Store) GetBlockByHash(ctx context.Context, t tenant.ID, hash solana.Hash) (*domain.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(t)
	b, ok := st.blocksByHash[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return b, nil
}

func (s *Store) GetBlockBySlot(ctx context.Context, t tenant.ID, slot uint64) (*domain.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(t)
	b, ok := st.blocksBySlot[slot]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return b, nil
}

func (s *Store) InsertBlock(ctx context.Context, t tenant.ID, block *domain.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(t)
	st.blocksByHash[block.Blockhash] = block
	st.blocksBySlot[block.Slot] = block
	st.blockOrder = append(st.blockOrder, block.Blockhash)
	return nil
}

func (s *Store) AppendSignatureToBlock(ctx context.Context, t tenant.ID, blockhash solana.Hash, sig solana.Signature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(t)
	b, ok := st.blocksByHash[blockhash]
	if !ok {
		return storage.ErrNotFound
	}
	b.Signatures = append(b.Signatures, sig)
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, t tenant.ID, sig solana.Signature) (*domain.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(t)
	rec, ok := st.txBySig[sig]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) InsertTransaction(ctx context.Context, t tenant.ID, record *domain.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertTransactionLocked(s.state(t), record)
}

func insertTransactionLocked(st *tenantState, record *domain.TransactionRecord) error {
	if _, exists := st.txBySig[record.Signature]; exists {
		return storage.ErrAlreadyProcessed
	}
	st.txBySig[record.Signature] = record
	st.txOrder = append(st.txOrder, record.Signature)
	return nil
}

func upsertAccountsLocked(st *tenantState, accounts map[solana.PublicKey]*domain.Account) {
	for addr, acc := range accounts {
		if acc == nil || acc.IsAbsent() {
			delete(st.accounts, addr)
			continue
		}
		st.accounts[addr] = acc.Clone()
	}
}

// CommitTransaction is the in-memory counterpart of the postgres backend's
// single-transaction commit: the mutex held for its whole body is this
// store's atomicity unit for spec.md §7's requirement that account writes,
// the transaction record, and the block signature append land together.
func (s *Store) CommitTransaction(ctx context.Context, t tenant.ID, accounts map[solana.PublicKey]*domain.Account, record *domain.TransactionRecord, blockhash solana.Hash, sig solana.Signature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(t)

	b, ok := st.blocksByHash[blockhash]
	if !ok {
		return storage.ErrNotFound
	}
	if err := insertTransactionLocked(st, record); err != nil {
		return err
	}
	upsertAccountsLocked(st, accounts)
	b.Signatures = append(b.Signatures, sig)
	return nil
}

// CommitFailedTransaction is the in-memory counterpart of the postgres
// backend's failure-path commit: the payer's fee debit and the failed
// record land under the same lock (spec.md §7).
func (s *Store) CommitFailedTransaction(ctx context.Context, t tenant.ID, payerKey solana.PublicKey, payer *domain.Account, record *domain.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(t)

	if err := insertTransactionLocked(st, record); err != nil {
		return err
	}
	upsertAccountsLocked(st, map[solana.PublicKey]*domain.Account{payerKey: payer})
	return nil
}

func (s *Store) SignaturesForAddress(ctx context.Context, t tenant.ID, address solana.PublicKey, limit int) ([]solana.Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(t)
	var out []solana.Signature
	for i := len(st.txOrder) - 1; i >= 0 && len(out) < limit; i-- {
		rec := st.txBySig[st.txOrder[i]]
		for _, k := range rec.AccountKeys {
			if k.Pubkey.Equals(address) {
				out = append(out, rec.Signature)
				break
			}
		}
	}
	return out, nil
}

func (s *Store) TransactionCount(ctx context.Context, t tenant.ID) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(t)
	return uint64(len(st.txOrder)), nil
}

func (s *Store) CreateTenant(ctx context.Context, rec *domain.TenantRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(rec.ID)
	st.record = rec
	return nil
}

func (s *Store) DeleteTenant(ctx context.Context, t tenant.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tenants, t)
	return nil
}

func (s *Store) GetTenant(ctx context.Context, t tenant.ID) (*domain.TenantRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tenants[t]
	if !ok || st.record == nil {
		return nil, storage.ErrNotFound
	}
	return st.record, nil
}

func (s *Store) TenantsForTeam(ctx context.Context, team string) ([]*domain.TenantRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.TenantRecord
	for _, st := range s.tenants {
		if st.record != nil && st.record.Team == team {
			out = append(out, st.record)
		}
	}
	return out, nil
}

var _ storage.Store = (*Store)(nil)
