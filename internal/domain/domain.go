// Package domain holds the persisted entities of spec.md §3: Account,
// Block and Transaction Record. These are plain data; the invariants that
// govern their mutation live in the components that touch them (rent,
// fee, pipeline).
package domain

import (
	"github.com/gagliardetto/solana-go"

	"github.com/web3-fighter/svm-mock-engine/internal/engine"
	"github.com/web3-fighter/svm-mock-engine/internal/tenant"
)

// Account is keyed by (tenant, address) in the store.
type Account struct {
	Lamports   uint64
	Data       []byte
	Owner      solana.PublicKey
	Executable bool
	RentEpoch  uint64
	Label      string
}

// IsAbsent implements the spec.md §3 invariant: lamports == 0 means the
// account is logically absent, regardless of what Data/Owner hold.
func (a *Account) IsAbsent() bool {
	return a == nil || a.Lamports == 0
}

// Clone returns a deep copy so staged mutations never alias a snapshot
// fetched from the store or cache.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Data != nil {
		clone.Data = append([]byte(nil), a.Data...)
	}
	return &clone
}

// Block is keyed by (tenant, blockhash), also indexed by (tenant, slot)
// and (tenant, height).
type Block struct {
	Blockhash         solana.Hash
	PreviousBlockhash solana.Hash
	ParentSlot        uint64
	BlockHeight       uint64
	Slot              uint64
	BlockTime         int64 // unix seconds
	Signatures        []solana.Signature
}

// AccountKeyMeta records one account key's role within a sanitized
// message, per spec.md §3 "Transaction Record".
type AccountKeyMeta struct {
	Pubkey   solana.PublicKey
	Signer   bool
	Writable bool
	Index    int
}

// InstructionMeta is the normalized, loggable shape of one instruction
// within a transaction record.
type InstructionMeta struct {
	ProgramIndex   int
	AccountIndices []int
	Data           []byte
	StackHeight    int
	Inner          bool
}

// TransactionRecord is keyed by (tenant, signature); replay of a signature
// already present is rejected (spec.md §4.6 "AlreadyProcessed").
type TransactionRecord struct {
	Signature       solana.Signature
	Slot            uint64
	RecentBlockhash solana.Hash
	AccountKeys     []AccountKeyMeta
	Instructions    []InstructionMeta
	LogMessages     []string
	ComputeUnits    uint64
	Fee             uint64
	PreBalances     []uint64
	PostBalances    []uint64
	Err             *engine.ExecError
}

// TenantRecord is the root entity: one airdrop keypair, created once.
type TenantRecord struct {
	ID              tenant.ID
	Team            string
	AirdropPubkey   solana.PublicKey
	AirdropPrivate  solana.PrivateKey
	GenesisHash     solana.Hash
	CreatedAtUnix   int64
}
