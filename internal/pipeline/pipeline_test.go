package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/web3-fighter/svm-mock-engine/internal/domain"
	"github.com/web3-fighter/svm-mock-engine/internal/engine"
	"github.com/web3-fighter/svm-mock-engine/internal/fee"
	"github.com/web3-fighter/svm-mock-engine/internal/rent"
	"github.com/web3-fighter/svm-mock-engine/internal/storage"
	"github.com/web3-fighter/svm-mock-engine/internal/storage/memory"
	"github.com/web3-fighter/svm-mock-engine/internal/sysvar"
	"github.com/web3-fighter/svm-mock-engine/internal/tenant"
	"github.com/web3-fighter/svm-mock-engine/internal/vm"
)

const lamportsPerSignature = 5000

// rentExemptTransfer is comfortably above the rent-exempt minimum balance
// for a zero-data account under the sysvar defaults used here (890_880
// lamports), so a brand-new recipient account clears the rent check.
const rentExemptTransfer = 1_000_000

func newTestPipeline() (*Pipeline, *storage.Tagged) {
	store := storage.NewMemory(memory.New())
	sysvars := sysvar.New()
	rentOracle := rent.New(sysvars.GetRent())
	feeCalc := fee.New(fee.Params{LamportsPerSignature: lamportsPerSignature}, rentOracle)
	host := vm.New(nil)
	return New(store, nil, sysvars, rentOracle, feeCalc, host), store
}

func genesisBlock(blockhash solana.Hash, blockTime int64) *domain.Block {
	return &domain.Block{Blockhash: blockhash, Slot: 0, BlockTime: blockTime}
}

func fundAccount(t *testing.T, store *storage.Tagged, tnt tenant.ID, key solana.PublicKey, lamports uint64) {
	t.Helper()
	err := store.UpsertAccounts(context.Background(), tnt, map[solana.PublicKey]*domain.Account{
		key: {Lamports: lamports, Owner: solana.SystemProgramID},
	})
	if err != nil {
		t.Fatalf("fundAccount: %v", err)
	}
}

func signedTransferTx(t *testing.T, payer *solana.Wallet, to solana.PublicKey, lamports uint64, blockhash solana.Hash) *solana.Transaction {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, payer.PublicKey(), to).Build(),
		},
		blockhash,
		solana.TransactionPayer(payer.PublicKey()),
	)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer.PublicKey()) {
			return &payer.PrivateKey
		}
		return nil
	}); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return tx
}

func TestExecuteTransferSuccess(t *testing.T) {
	pipe, store := newTestPipeline()
	tnt := tenant.New()
	ctx := context.Background()

	blockhash := solana.NewWallet().PublicKey()
	if err := store.InsertBlock(ctx, tnt, genesisBlock(solana.Hash(blockhash), time.Now().Unix())); err != nil {
		t.Fatalf("InsertBlock: %v", err)
	}

	payer := solana.NewWallet()
	recipient := solana.NewWallet().PublicKey()
	fundAccount(t, store, tnt, payer.PublicKey(), 2*rentExemptTransfer)

	tx := signedTransferTx(t, payer, recipient, rentExemptTransfer, solana.Hash(blockhash))

	record, err := pipe.Execute(ctx, tnt, tx)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if record.Err != nil {
		t.Fatalf("record.Err = %v, want nil", record.Err)
	}
	if record.Fee != lamportsPerSignature {
		t.Fatalf("record.Fee = %d, want %d", record.Fee, lamportsPerSignature)
	}

	payerAcc, err := store.GetAccount(ctx, tnt, payer.PublicKey())
	if err != nil {
		t.Fatalf("GetAccount(payer): %v", err)
	}
	wantPayer := uint64(2*rentExemptTransfer - lamportsPerSignature - rentExemptTransfer)
	if payerAcc.Lamports != wantPayer {
		t.Fatalf("payer lamports = %d, want %d", payerAcc.Lamports, wantPayer)
	}

	recipientAcc, err := store.GetAccount(ctx, tnt, recipient)
	if err != nil {
		t.Fatalf("GetAccount(recipient): %v", err)
	}
	if recipientAcc.Lamports != rentExemptTransfer {
		t.Fatalf("recipient lamports = %d, want %d", recipientAcc.Lamports, rentExemptTransfer)
	}

	if _, err := store.GetTransaction(ctx, tnt, tx.Signatures[0]); err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
}

func TestExecuteBlockhashNotFound(t *testing.T) {
	pipe, store := newTestPipeline()
	tnt := tenant.New()
	ctx := context.Background()

	knownHash := solana.NewWallet().PublicKey()
	if err := store.InsertBlock(ctx, tnt, genesisBlock(solana.Hash(knownHash), time.Now().Unix())); err != nil {
		t.Fatalf("InsertBlock: %v", err)
	}

	payer := solana.NewWallet()
	fundAccount(t, store, tnt, payer.PublicKey(), 1_000_000)

	unknownHash := solana.NewWallet().PublicKey()
	tx := signedTransferTx(t, payer, solana.NewWallet().PublicKey(), 10_000, solana.Hash(unknownHash))

	_, execErr := pipe.Execute(ctx, tnt, tx)
	if execErr == nil {
		t.Fatal("Execute() error = nil, want KindBlockhashNotFound")
	}
	if execErr.Kind != engine.KindBlockhashNotFound {
		t.Fatalf("Kind = %v, want BlockhashNotFound", execErr.Kind)
	}
}

func TestExecuteBlockhashTooOld(t *testing.T) {
	pipe, store := newTestPipeline()
	tnt := tenant.New()
	ctx := context.Background()

	blockhash := solana.NewWallet().PublicKey()
	stale := time.Now().Add(-(BlockhashFreshness + time.Minute)).Unix()
	if err := store.InsertBlock(ctx, tnt, genesisBlock(solana.Hash(blockhash), stale)); err != nil {
		t.Fatalf("InsertBlock: %v", err)
	}

	payer := solana.NewWallet()
	fundAccount(t, store, tnt, payer.PublicKey(), 1_000_000)

	tx := signedTransferTx(t, payer, solana.NewWallet().PublicKey(), 10_000, solana.Hash(blockhash))

	_, execErr := pipe.Execute(ctx, tnt, tx)
	if execErr == nil {
		t.Fatal("Execute() error = nil, want KindBlockhashTooOld")
	}
	if execErr.Kind != engine.KindBlockhashTooOld {
		t.Fatalf("Kind = %v, want BlockhashTooOld", execErr.Kind)
	}
}

func TestExecuteRejectsReplayedSignature(t *testing.T) {
	pipe, store := newTestPipeline()
	tnt := tenant.New()
	ctx := context.Background()

	blockhash := solana.NewWallet().PublicKey()
	if err := store.InsertBlock(ctx, tnt, genesisBlock(solana.Hash(blockhash), time.Now().Unix())); err != nil {
		t.Fatalf("InsertBlock: %v", err)
	}

	payer := solana.NewWallet()
	fundAccount(t, store, tnt, payer.PublicKey(), 2*rentExemptTransfer)
	tx := signedTransferTx(t, payer, solana.NewWallet().PublicKey(), rentExemptTransfer, solana.Hash(blockhash))

	if _, err := pipe.Execute(ctx, tnt, tx); err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}

	_, execErr := pipe.Execute(ctx, tnt, tx)
	if execErr == nil {
		t.Fatal("second Execute() error = nil, want KindAlreadyProcessed")
	}
	if execErr.Kind != engine.KindAlreadyProcessed {
		t.Fatalf("Kind = %v, want AlreadyProcessed", execErr.Kind)
	}
}

func TestExecuteInsufficientLamportsForTransferStillChargesFee(t *testing.T) {
	pipe, store := newTestPipeline()
	tnt := tenant.New()
	ctx := context.Background()

	blockhash := solana.NewWallet().PublicKey()
	if err := store.InsertBlock(ctx, tnt, genesisBlock(solana.Hash(blockhash), time.Now().Unix())); err != nil {
		t.Fatalf("InsertBlock: %v", err)
	}

	payer := solana.NewWallet()
	fundAccount(t, store, tnt, payer.PublicKey(), lamportsPerSignature+100)

	tx := signedTransferTx(t, payer, solana.NewWallet().PublicKey(), 10_000, solana.Hash(blockhash))

	record, execErr := pipe.Execute(ctx, tnt, tx)
	if execErr == nil {
		t.Fatal("Execute() error = nil, want an instruction error")
	}
	if record == nil {
		t.Fatal("record = nil, want a persisted failed record (error is chargeable)")
	}
	if !execErr.Chargeable() {
		t.Fatalf("Chargeable() = false, want true for a post-fee instruction error")
	}

	payerAcc, err := store.GetAccount(ctx, tnt, payer.PublicKey())
	if err != nil {
		t.Fatalf("GetAccount(payer): %v", err)
	}
	if payerAcc.Lamports != 100 {
		t.Fatalf("payer lamports = %d, want 100 (fee debited, transfer not applied)", payerAcc.Lamports)
	}

	if _, err := store.GetTransaction(ctx, tnt, tx.Signatures[0]); err != nil {
		t.Fatalf("failed transaction was not persisted: %v", err)
	}
}

func TestSimulateNeverPersists(t *testing.T) {
	pipe, store := newTestPipeline()
	tnt := tenant.New()
	ctx := context.Background()

	blockhash := solana.NewWallet().PublicKey()
	if err := store.InsertBlock(ctx, tnt, genesisBlock(solana.Hash(blockhash), time.Now().Unix())); err != nil {
		t.Fatalf("InsertBlock: %v", err)
	}

	payer := solana.NewWallet()
	fundAccount(t, store, tnt, payer.PublicKey(), 2*rentExemptTransfer)
	recipient := solana.NewWallet().PublicKey()
	tx := signedTransferTx(t, payer, recipient, rentExemptTransfer, solana.Hash(blockhash))

	sim, execErr := pipe.Simulate(ctx, tnt, tx)
	if execErr != nil {
		t.Fatalf("Simulate() error = %v", execErr)
	}
	if sim.Fee != lamportsPerSignature {
		t.Fatalf("sim.Fee = %d, want %d", sim.Fee, lamportsPerSignature)
	}

	if _, err := store.GetTransaction(ctx, tnt, tx.Signatures[0]); err != storage.ErrNotFound {
		t.Fatalf("GetTransaction() error = %v, want ErrNotFound (simulate must never persist)", err)
	}
	payerAcc, err := store.GetAccount(ctx, tnt, payer.PublicKey())
	if err != nil {
		t.Fatalf("GetAccount(payer): %v", err)
	}
	if payerAcc.Lamports != 2*rentExemptTransfer {
		t.Fatalf("payer lamports = %d, want unchanged %d (simulate must never mutate accounts)", payerAcc.Lamports, 2*rentExemptTransfer)
	}
}
