// Package postgres implements storage.Store against a relational schema
// (spec.md §6 "Store schema (logical)") using pgx's connection pool.
// CommitTransaction and CommitFailedTransaction are the methods that
// actually satisfy spec.md §7's atomicity requirement ("implementations
// must wrap account upsert + transaction record persistence in a single
// store transaction"): each opens one pgx.Tx spanning every write the
// pipeline's commit step makes, so a mid-commit failure can never leave
// accounts mutated without a matching transaction record. The standalone
// UpsertAccounts/InsertTransaction/AppendSignatureToBlock methods remain
// for callers outside the pipeline's commit path (management routes,
// airdrop crediting) that don't need that combined atomicity.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/web3-fighter/svm-mock-engine/internal/domain"
	"github.com/web3-fighter/svm-mock-engine/internal/storage"
	"github.com/web3-fighter/svm-mock-engine/internal/tenant"
)

// Store is a pgxpool-backed storage.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens the pool and verifies connectivity. databaseURL is the
// required DATABASE_URL environment variable (spec.md §6).
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	return &storage.StoreError{Cause: err}
}

func (s *Store) BatchGetAccounts(ctx context.Context, t tenant.ID, addresses []solana.PublicKey) (map[solana.PublicKey]*domain.Account, error) {
	out := make(map[solana.PublicKey]*domain.Account, len(addresses))
	if len(addresses) == 0 {
		return out, nil
	}
	keys := make([][]byte, len(addresses))
	for i, a := range addresses {
		keys[i] = a.Bytes()
	}
	rows, err := s.pool.Query(ctx, `
		SELECT address, lamports, data, owner, executable, rent_epoch, label
		FROM accounts WHERE blockchain = $1 AND address = ANY($2)`, t.String(), keys)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	found := make(map[solana.PublicKey]bool, len(addresses))
	for rows.Next() {
		var addrBytes, data, ownerBytes []byte
		var lamports, rentEpoch uint64
		var executable bool
		var label *string
		if err := rows.Scan(&addrBytes, &lamports, &data, &ownerBytes, &executable, &rentEpoch, &label); err != nil {
			return nil, wrapStoreErr(err)
		}
		addr := solana.PublicKeyFromBytes(addrBytes)
		acc := &domain.Account{
			Lamports:   lamports,
			Data:       data,
			Owner:      solana.PublicKeyFromBytes(ownerBytes),
			Executable: executable,
			RentEpoch:  rentEpoch,
		}
		if label != nil {
			acc.Label = *label
		}
		out[addr] = acc
		found[addr] = true
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr(err)
	}
	for _, a := range addresses {
		if !found[a] {
			out[a] = nil
		}
	}
	return out, nil
}

func (s *Store) GetAccount(ctx context.Context, t tenant.ID, address solana.PublicKey) (*domain.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT lamports, data, owner, executable, rent_epoch, label
		FROM accounts WHERE blockchain = $1 AND address = $2`, t.String(), address.Bytes())
	var data, ownerBytes []byte
	var lamports, rentEpoch uint64
	var executable bool
	var label *string
	if err := row.Scan(&lamports, &data, &ownerBytes, &executable, &rentEpoch, &label); err != nil {
		return nil, wrapStoreErr(err)
	}
	acc := &domain.Account{
		Lamports:   lamports,
		Data:       data,
		Owner:      solana.PublicKeyFromBytes(ownerBytes),
		Executable: executable,
		RentEpoch:  rentEpoch,
	}
	if label != nil {
		acc.Label = *label
	}
	return acc, nil
}

// execer is the common subset of *pgxpool.Pool and pgx.Tx the tx-scoped
// helpers below need, so the same SQL runs whether it's the only
// statement in its own transaction or one of several sharing a
// CommitTransaction/CommitFailedTransaction transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func upsertAccountsTx(ctx context.Context, ex execer, t tenant.ID, accounts map[solana.PublicKey]*domain.Account) error {
	for addr, acc := range accounts {
		if acc == nil || acc.IsAbsent() {
			if _, err := ex.Exec(ctx, `DELETE FROM accounts WHERE blockchain=$1 AND address=$2`, t.String(), addr.Bytes()); err != nil {
				return wrapStoreErr(err)
			}
			continue
		}
		if _, err := ex.Exec(ctx, `
			INSERT INTO accounts (blockchain, address, lamports, data, owner, executable, rent_epoch, label)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (address, blockchain) DO UPDATE SET
				lamports=EXCLUDED.lamports, data=EXCLUDED.data, owner=EXCLUDED.owner,
				executable=EXCLUDED.executable, rent_epoch=EXCLUDED.rent_epoch`,
			t.String(), addr.Bytes(), acc.Lamports, acc.Data, acc.Owner.Bytes(), acc.Executable, acc.RentEpoch, nullableLabel(acc.Label),
		); err != nil {
			return wrapStoreErr(err)
		}
	}
	return nil
}

func insertTransactionTx(ctx context.Context, ex execer, t tenant.ID, record *domain.TransactionRecord) error {
	var errMsg interface{}
	if record.Err != nil {
		errMsg = record.Err.Error()
	}
	_, err := ex.Exec(ctx, `
		INSERT INTO transactions (blockchain, signature, slot, recent_blockhash, compute_units, fee, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		t.String(), record.Signature.String(), record.Slot, record.RecentBlockhash.String(), record.ComputeUnits, record.Fee, errMsg)
	if err != nil {
		var pgErr interface {
			SQLState() string
		}
		if errors.As(err, &pgErr) && pgErr.SQLState() == "23505" {
			return storage.ErrAlreadyProcessed
		}
		return wrapStoreErr(err)
	}
	return nil
}

func appendSignatureToBlockTx(ctx context.Context, ex execer, blockhash solana.Hash, sig solana.Signature) error {
	_, err := ex.Exec(ctx, `
		INSERT INTO transaction_signatures (blockhash, idx, signature)
		VALUES ($1, (SELECT COUNT(*) FROM transaction_signatures WHERE blockhash=$1), $2)`,
		blockhash.String(), sig.String())
	return wrapStoreErr(err)
}

func (s *Store) UpsertAccounts(ctx context.Context, t tenant.ID, accounts map[solana.PublicKey]*domain.Account) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapStoreErr(err)
	}
	defer tx.Rollback(ctx)

	if err := upsertAccountsTx(ctx, tx, t, accounts); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreErr(err)
	}
	return nil
}

// CommitTransaction implements spec.md §7's atomicity requirement for the
// pipeline's success path: the writable accounts' post-images, the
// transaction record, and the signature's append to its block all happen
// inside one pgx transaction (spec.md §4.5 step 9). A failure at any point
// rolls every one of those writes back, so the store never ends up with
// mutated accounts and no matching record, or a recorded transaction whose
// signature never made it into its block.
func (s *Store) CommitTransaction(ctx context.Context, t tenant.ID, accounts map[solana.PublicKey]*domain.Account, record *domain.TransactionRecord, blockhash solana.Hash, sig solana.Signature) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapStoreErr(err)
	}
	defer tx.Rollback(ctx)

	if err := upsertAccountsTx(ctx, tx, t, accounts); err != nil {
		return err
	}
	if err := insertTransactionTx(ctx, tx, t, record); err != nil {
		return err
	}
	if err := appendSignatureToBlockTx(ctx, tx, blockhash, sig); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreErr(err)
	}
	return nil
}

// CommitFailedTransaction implements the same atomicity requirement for the
// pipeline's chargeable-failure path (spec.md §4.5 step 9 "on execution
// failure"): only the payer's fee-debited lamports and the failed
// transaction record are written, in one transaction, so a failure between
// the two never leaves a fee charged with no record of why.
func (s *Store) CommitFailedTransaction(ctx context.Context, t tenant.ID, payerKey solana.PublicKey, payer *domain.Account, record *domain.TransactionRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapStoreErr(err)
	}
	defer tx.Rollback(ctx)

	if err := upsertAccountsTx(ctx, tx, t, map[solana.PublicKey]*domain.Account{payerKey: payer}); err != nil {
		return err
	}
	if err := insertTransactionTx(ctx, tx, t, record); err != nil {
		// A failed statement aborts the rest of this transaction
		// server-side (including a later Commit), so ErrAlreadyProcessed
		// here rolls back the fee debit along with it rather than being
		// swallowed: a concurrent duplicate of this exact signature was
		// already recorded (and already charged) by whichever submission
		// won the race.
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreErr(err)
	}
	return nil
}

func nullableLabel(label string) interface{} {
	if label == "" {
		return nil
	}
	return label
}

func (s *Store) UpsertAccountLamports(ctx context.Context, t tenant.ID, address solana.PublicKey, lamports uint64) error {
	if lamports == 0 {
		_, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE blockchain=$1 AND address=$2`, t.String(), address.Bytes())
		return wrapStoreErr(err)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (blockchain, address, lamports, data, owner, executable, rent_epoch)
		VALUES ($1,$2,$3,'',$4,false,0)
		ON CONFLICT (address, blockchain) DO UPDATE SET lamports=EXCLUDED.lamports`,
		t.String(), address.Bytes(), lamports, solana.SystemProgramID.Bytes())
	return wrapStoreErr(err)
}

func (s *Store) ProgramAccounts(ctx context.Context, t tenant.ID, owner solana.PublicKey) (map[solana.PublicKey]*domain.Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address, lamports, data, owner, executable, rent_epoch, label
		FROM accounts WHERE blockchain=$1 AND owner=$2`, t.String(), owner.Bytes())
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()
	out := make(map[solana.PublicKey]*domain.Account)
	for rows.Next() {
		var addrBytes, data, ownerBytes []byte
		var lamports, rentEpoch uint64
		var executable bool
		var label *string
		if err := rows.Scan(&addrBytes, &lamports, &data, &ownerBytes, &executable, &rentEpoch, &label); err != nil {
			return nil, wrapStoreErr(err)
		}
		acc := &domain.Account{Lamports: lamports, Data: data, Owner: solana.PublicKeyFromBytes(ownerBytes), Executable: executable, RentEpoch: rentEpoch}
		if label != nil {
			acc.Label = *label
		}
		out[solana.PublicKeyFromBytes(addrBytes)] = acc
	}
	return out, rows.Err()
}

func (s *Store) LatestBlock(ctx context.Context, t tenant.ID) (*domain.Block, error) {
	return s.scanBlock(ctx, `
		SELECT blockhash, previous_blockhash, parent_slot, block_height, slot, block_time
		FROM blocks WHERE blockchain=$1 ORDER BY slot DESC LIMIT 1`, t.String())
}

func (s *Store) GetBlockByHash(ctx context.Context, t tenant.ID, hash solana.Hash) (*domain.Block, error) {
	return s.scanBlock(ctx, `
		SELECT blockhash, previous_blockhash, parent_slot, block_height, slot, block_time
		FROM blocks WHERE blockchain=$1 AND blockhash=$2`, t.String(), hash.String())
}

func (s *Store) GetBlockBySlot(ctx context.Context, t tenant.ID, slot uint64) (*domain.Block, error) {
	return s.scanBlock(ctx, `
		SELECT blockhash, previous_blockhash, parent_slot, block_height, slot, block_time
		FROM blocks WHERE blockchain=$1 AND slot=$2`, t.String(), slot)
}

func (s *Store) scanBlock(ctx context.Context, query string, args ...interface{}) (*domain.Block, error) {
	row := s.pool.QueryRow(ctx, query, args...)
	var blockhash, prevBlockhash string
	var parentSlot, blockHeight, slot uint64
	var blockTime int64
	if err := row.Scan(&blockhash, &prevBlockhash, &parentSlot, &blockHeight, &slot, &blockTime); err != nil {
		return nil, wrapStoreErr(err)
	}
	block := &domain.Block{
		Blockhash:         solana.MustHashFromBase58(blockhash),
		PreviousBlockhash: solana.MustHashFromBase58(prevBlockhash),
		ParentSlot:        parentSlot,
		BlockHeight:       blockHeight,
		Slot:              slot,
		BlockTime:         blockTime,
	}
	sigRows, err := s.pool.Query(ctx, `SELECT signature FROM transaction_signatures WHERE blockhash=$1 ORDER BY idx`, blockhash)
	if err == nil {
		defer sigRows.Close()
		for sigRows.Next() {
			var sig string
			if err := sigRows.Scan(&sig); err == nil {
				block.Signatures = append(block.Signatures, solana.MustSignatureFromBase58(sig))
			}
		}
	}
	return block, nil
}

func (s *Store) InsertBlock(ctx context.Context, t tenant.ID, block *domain.Block) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO blocks (blockchain, blockhash, previous_blockhash, parent_slot, block_height, slot, block_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		t.String(), block.Blockhash.String(), block.PreviousBlockhash.String(), block.ParentSlot, block.BlockHeight, block.Slot, block.BlockTime)
	return wrapStoreErr(err)
}

func (s *Store) AppendSignatureToBlock(ctx context.Context, t tenant.ID, blockhash solana.Hash, sig solana.Signature) error {
	return appendSignatureToBlockTx(ctx, s.pool, blockhash, sig)
}

func (s *Store) GetTransaction(ctx context.Context, t tenant.ID, sig solana.Signature) (*domain.TransactionRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT slot, recent_blockhash, compute_units, fee, error
		FROM transactions WHERE blockchain=$1 AND signature=$2`, t.String(), sig.String())
	var slot, computeUnits, fee uint64
	var recentBlockhash string
	var errMsg *string
	if err := row.Scan(&slot, &recentBlockhash, &computeUnits, &fee, &errMsg); err != nil {
		return nil, wrapStoreErr(err)
	}
	rec := &domain.TransactionRecord{
		Signature:       sig,
		Slot:            slot,
		RecentBlockhash: solana.MustHashFromBase58(recentBlockhash),
		ComputeUnits:    computeUnits,
		Fee:             fee,
	}
	return rec, nil
}

func (s *Store) InsertTransaction(ctx context.Context, t tenant.ID, record *domain.TransactionRecord) error {
	return insertTransactionTx(ctx, s.pool, t, record)
}

func (s *Store) SignaturesForAddress(ctx context.Context, t tenant.ID, address solana.PublicKey, limit int) ([]solana.Signature, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tx.signature FROM transactions tx
		JOIN transaction_account_keys k ON k.signature = tx.signature AND k.blockchain = tx.blockchain
		WHERE tx.blockchain=$1 AND k.pubkey=$2
		ORDER BY tx.slot DESC LIMIT $3`, t.String(), address.Bytes(), limit)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()
	var out []solana.Signature
	for rows.Next() {
		var sig string
		if err := rows.Scan(&sig); err != nil {
			return nil, wrapStoreErr(err)
		}
		out = append(out, solana.MustSignatureFromBase58(sig))
	}
	return out, rows.Err()
}

func (s *Store) TransactionCount(ctx context.Context, t tenant.ID) (uint64, error) {
	row := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE blockchain=$1`, t.String())
	var count uint64
	if err := row.Scan(&count); err != nil {
		return 0, wrapStoreErr(err)
	}
	return count, nil
}

func (s *Store) CreateTenant(ctx context.Context, rec *domain.TenantRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO blockchains (id, team, airdrop_pubkey, airdrop_private_key, genesis_hash, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		rec.ID.String(), rec.Team, rec.AirdropPubkey.String(), rec.AirdropPrivate.String(), rec.GenesisHash.String(), rec.CreatedAtUnix)
	return wrapStoreErr(err)
}

func (s *Store) DeleteTenant(ctx context.Context, t tenant.ID) error {
	// ON DELETE CASCADE (schema.sql) removes accounts/blocks/transactions/
	// api_keys rows owned by this tenant.
	_, err := s.pool.Exec(ctx, `DELETE FROM blockchains WHERE id=$1`, t.String())
	return wrapStoreErr(err)
}

func (s *Store) GetTenant(ctx context.Context, t tenant.ID) (*domain.TenantRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT team, airdrop_pubkey, airdrop_private_key, genesis_hash, created_at
		FROM blockchains WHERE id=$1`, t.String())
	var team, pubkey, privkey, genesisHash string
	var createdAt int64
	if err := row.Scan(&team, &pubkey, &privkey, &genesisHash, &createdAt); err != nil {
		return nil, wrapStoreErr(err)
	}
	priv, err := solana.PrivateKeyFromBase58(privkey)
	if err != nil {
		log.Error("postgres: malformed stored airdrop private key", "tenant", t, "err", err)
		return nil, wrapStoreErr(err)
	}
	return &domain.TenantRecord{
		ID:             t,
		Team:           team,
		AirdropPubkey:  solana.MustPublicKeyFromBase58(pubkey),
		AirdropPrivate: priv,
		GenesisHash:    solana.MustHashFromBase58(genesisHash),
		CreatedAtUnix:  createdAt,
	}, nil
}

func (s *Store) TenantsForTeam(ctx context.Context, team string) ([]*domain.TenantRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM blockchains WHERE team=$1`, team)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapStoreErr(err)
		}
		ids = append(ids, id)
	}
	out := make([]*domain.TenantRecord, 0, len(ids))
	for _, id := range ids {
		tid, err := tenant.Parse(id)
		if err != nil {
			continue
		}
		rec, err := s.GetTenant(ctx, tid)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

var _ storage.Store = (*Store)(nil)
