// Package fee implements the Fee Calculator (C3, spec.md §4.3): computes
// the lamport fee for a message, validates the payer, and debits it into
// the Account View.
package fee

import (
	"github.com/gagliardetto/solana-go"

	"github.com/web3-fighter/svm-mock-engine/internal/accountview"
	"github.com/web3-fighter/svm-mock-engine/internal/domain"
	"github.com/web3-fighter/svm-mock-engine/internal/engine"
	"github.com/web3-fighter/svm-mock-engine/internal/rent"
)

// NonceSize is the serialized size, in bytes, of a System program nonce
// account (version tag + state tag + authority + blockhash + fee
// calculator).
const NonceSize = 80

// PayerKind is the glossary's "System account kind".
type PayerKind int

const (
	KindSystem PayerKind = iota
	KindNonce
	KindInvalid
)

// Message is the minimal view of a sanitized message the calculator
// needs: its account keys in order, which ones are signers/writable, and
// which indices are invoked as a program by some instruction.
type Message struct {
	AccountKeys      []solana.PublicKey
	IsSigner         []bool
	IsWritable       []bool
	ProgramIndices   map[int]bool // indices invoked as a program by some instruction
	SignatureCount   int
	PriorityFeeMicroLamports uint64 // 0 if not requested
	PriorityFeeComputeUnits  uint64
}

// Params bundles the fee-rate inputs from spec.md §4.3.
type Params struct {
	LamportsPerSignature              uint64
	RemoveRoundingInFeeCalculation    bool
}

// Calculator computes and charges transaction fees.
type Calculator struct {
	params Params
	oracle *rent.Oracle
}

func New(params Params, oracle *rent.Oracle) *Calculator {
	return &Calculator{params: params, oracle: oracle}
}

// Compute returns the lamport fee for msg without touching any account.
// Used by getFeeForMessage and by simulateTransaction.
func (c *Calculator) Compute(msg Message) uint64 {
	base := uint64(msg.SignatureCount) * c.params.LamportsPerSignature
	priority := priorityFeeLamports(msg, c.params.RemoveRoundingInFeeCalculation)
	return base + priority
}

func priorityFeeLamports(msg Message, removeRounding bool) uint64 {
	if msg.PriorityFeeComputeUnits == 0 || msg.PriorityFeeMicroLamports == 0 {
		return 0
	}
	numerator := msg.PriorityFeeMicroLamports * msg.PriorityFeeComputeUnits
	if removeRounding {
		return numerator / 1_000_000
	}
	// Round up, matching the legacy (pre-flag) behavior.
	return (numerator + 999_999) / 1_000_000
}

// FindPayer locates the first writable-signer account key that is not
// invoked as a program (spec.md §4.3); a key invoked as a program is
// skipped even when it is also an explicit instruction account. Returns
// -1 if none qualifies, which a sane sanitize step should already have
// rejected.
func FindPayer(msg Message) int {
	for i, key := range msg.AccountKeys {
		if !msg.IsSigner[i] || !msg.IsWritable[i] {
			continue
		}
		if msg.ProgramIndices[i] {
			continue
		}
		return i
	}
	return -1
}

// ChargeResult carries the outcome of a successful Charge.
type ChargeResult struct {
	PayerIndex int
	PayerKey   solana.PublicKey
	Fee        uint64
	PreBalance uint64
}

// Charge validates and debits the payer per spec.md §4.3's four steps,
// staging the reduced-lamports account back into view. On any validation
// failure the view is left untouched and a pre-fee ExecError is returned,
// EXCEPT for the final rent-transition check, which (per spec.md §7) is
// still considered to have happened before a chargeable fee debit, so it
// too is reported pre-fee.
func (c *Calculator) Charge(view *accountview.View, msg Message) (ChargeResult, error) {
	payerIdx := FindPayer(msg)
	if payerIdx < 0 {
		return ChargeResult{}, engine.NewPreFee(engine.KindAccountNotFound, "no eligible fee payer in message", nil)
	}
	payerKey := msg.AccountKeys[payerIdx]

	payer, ok := view.Get(payerKey)
	if !ok || payer.IsAbsent() {
		return ChargeResult{}, engine.NewPreFee(engine.KindAccountNotFound, "payer account not found", nil)
	}

	kind, minBalance := classifyPayer(payer, c.oracle)
	if kind == KindInvalid {
		return ChargeResult{}, engine.NewPreFee(engine.KindInvalidAccountForFee, "payer is neither a system nor nonce account", nil)
	}

	fee := c.Compute(msg)
	if payer.Lamports < minBalance+fee {
		return ChargeResult{}, engine.NewPreFee(engine.KindInsufficientFundsForFee, "payer balance below min_balance + fee", nil)
	}

	preBalance := payer.Lamports
	post := payer.Clone()
	post.Lamports -= fee

	if !c.oracle.CheckTransition(payerKey, payer, post) {
		return ChargeResult{}, engine.NewRentError(engine.StagePreFee, payerIdx)
	}

	view.Stage(payerKey, post)

	return ChargeResult{
		PayerIndex: payerIdx,
		PayerKey:   payerKey,
		Fee:        fee,
		PreBalance: preBalance,
	}, nil
}

// classifyPayer implements spec.md §4.3 step 2: System accounts require
// min_balance = 0; Nonce accounts (system-owned, nonce-sized data) require
// min_balance = minimum_balance(NONCE_SIZE); anything else is invalid.
func classifyPayer(payer *domain.Account, oracle *rent.Oracle) (PayerKind, uint64) {
	if !payer.Owner.Equals(solana.SystemProgramID) {
		return KindInvalid, 0
	}
	switch len(payer.Data) {
	case 0:
		return KindSystem, 0
	case NonceSize:
		return KindNonce, oracle.MinimumBalance(NonceSize)
	default:
		return KindInvalid, 0
	}
}
