// Package airdrop implements requestAirdrop as a thin wrapper over the
// ordinary pipeline (SPEC_FULL.md §5): an airdrop is an ordinary committed
// transaction signed by the tenant's airdrop keypair and subject to the
// same fee, rent and serializer rules as anything else. It builds and
// signs a System-program transfer from the tenant's airdrop keypair.
package airdrop

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/web3-fighter/svm-mock-engine/internal/domain"
	"github.com/web3-fighter/svm-mock-engine/internal/engine"
	"github.com/web3-fighter/svm-mock-engine/internal/storage"
	"github.com/web3-fighter/svm-mock-engine/internal/tenant"
)

// Requester is the narrow pipeline/store surface airdrop needs.
type Requester interface {
	Execute(ctx context.Context, t tenant.ID, tx *solana.Transaction) (*domain.TransactionRecord, *engine.ExecError)
}

type tenantStore interface {
	GetTenant(ctx context.Context, t tenant.ID) (*domain.TenantRecord, error)
	LatestBlock(ctx context.Context, t tenant.ID) (*domain.Block, error)
}

// Request builds a signed System Transfer from the tenant's airdrop
// keypair to destination, and runs it through pipe exactly like any
// client-submitted transaction.
func Request(ctx context.Context, store tenantStore, pipe Requester, t tenant.ID, destination solana.PublicKey, lamports uint64) (*domain.TransactionRecord, *engine.ExecError) {
	rec, err := store.GetTenant(ctx, t)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, engine.NewPreFee(engine.KindAccountNotFound, "unknown tenant", err)
		}
		return nil, engine.NewPreFee(engine.KindStoreError, err.Error(), err)
	}
	block, err := store.LatestBlock(ctx, t)
	if err != nil {
		return nil, engine.NewPreFee(engine.KindBlockhashNotFound, "tenant has no blocks yet", err)
	}

	tx, err := buildTransfer(rec, block.Blockhash, destination, lamports)
	if err != nil {
		return nil, engine.NewPreFee(engine.KindSanitizeError, fmt.Sprintf("building airdrop transaction: %v", err), err)
	}

	return pipe.Execute(ctx, t, tx)
}

// buildTransfer constructs a minimal one-signer legacy message carrying a
// single System Transfer instruction, and signs it with the tenant's
// airdrop private key.
func buildTransfer(rec *domain.TenantRecord, recentBlockhash solana.Hash, destination solana.PublicKey, lamports uint64) (*solana.Transaction, error) {
	payer := rec.AirdropPubkey
	accountKeys := []solana.PublicKey{payer, destination, solana.SystemProgramID}
	if payer.Equals(destination) {
		accountKeys = []solana.PublicKey{payer, solana.SystemProgramID}
	}

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 2) // systemTransfer, see internal/vm/builtins
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	toIdx := uint16(1)
	programIdx := uint16(2)
	if payer.Equals(destination) {
		toIdx = 0
		programIdx = 1
	}

	msg := solana.Message{
		Header: solana.MessageHeader{
			NumRequiredSignatures:       1,
			NumReadonlySignedAccounts:   0,
			NumReadonlyUnsignedAccounts: 1,
		},
		AccountKeys:     accountKeys,
		RecentBlockhash: recentBlockhash,
		Instructions: []solana.CompiledInstruction{
			{
				ProgramIDIndex: programIdx,
				Accounts:       []uint16{0, toIdx},
				Data:           data,
			},
		},
	}

	msgBytes, err := msg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	sig, err := rec.AirdropPrivate.Sign(msgBytes)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}

	return &solana.Transaction{
		Signatures: []solana.Signature{sig},
		Message:    msg,
	}, nil
}
