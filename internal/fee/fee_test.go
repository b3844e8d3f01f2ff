package fee

import (
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/web3-fighter/svm-mock-engine/internal/accountview"
	"github.com/web3-fighter/svm-mock-engine/internal/domain"
	"github.com/web3-fighter/svm-mock-engine/internal/engine"
	"github.com/web3-fighter/svm-mock-engine/internal/rent"
	"github.com/web3-fighter/svm-mock-engine/internal/sysvar"
)

func testOracle() *rent.Oracle {
	return rent.New(sysvar.Rent{LamportsPerByteYear: 3480, ExemptionThreshold: 2.0})
}

func oneSignerMessage(payer solana.PublicKey) Message {
	return Message{
		AccountKeys:    []solana.PublicKey{payer},
		IsSigner:       []bool{true},
		IsWritable:     []bool{true},
		ProgramIndices: map[int]bool{},
		SignatureCount: 1,
	}
}

func TestComputeBaseFee(t *testing.T) {
	calc := New(Params{LamportsPerSignature: 5000}, testOracle())
	msg := Message{SignatureCount: 2}
	if got := calc.Compute(msg); got != 10000 {
		t.Fatalf("Compute() = %d, want 10000", got)
	}
}

func TestComputePriorityFeeRoundsUp(t *testing.T) {
	calc := New(Params{LamportsPerSignature: 0}, testOracle())
	msg := Message{PriorityFeeMicroLamports: 1, PriorityFeeComputeUnits: 1}
	if got := calc.Compute(msg); got != 1 {
		t.Fatalf("Compute() = %d, want 1 (rounded up from 0.000001)", got)
	}
}

func TestComputePriorityFeeRemoveRounding(t *testing.T) {
	calc := New(Params{LamportsPerSignature: 0, RemoveRoundingInFeeCalculation: true}, testOracle())
	msg := Message{PriorityFeeMicroLamports: 1, PriorityFeeComputeUnits: 1}
	if got := calc.Compute(msg); got != 0 {
		t.Fatalf("Compute() = %d, want 0 (rounding removed)", got)
	}
}

func TestFindPayerSkipsReadonlyAndProgramIndices(t *testing.T) {
	readonly := solana.NewWallet().PublicKey()
	program := solana.NewWallet().PublicKey()
	payer := solana.NewWallet().PublicKey()
	msg := Message{
		AccountKeys:    []solana.PublicKey{readonly, program, payer},
		IsSigner:       []bool{true, true, true},
		IsWritable:     []bool{false, true, true},
		ProgramIndices: map[int]bool{1: true},
		SignatureCount: 3,
	}
	if got := FindPayer(msg); got != 2 {
		t.Fatalf("FindPayer() = %d, want 2", got)
	}
}

func TestFindPayerNoneEligible(t *testing.T) {
	if got := FindPayer(Message{}); got != -1 {
		t.Fatalf("FindPayer() = %d, want -1", got)
	}
}

func TestChargeSystemPayerSuccess(t *testing.T) {
	payerKey := solana.NewWallet().PublicKey()
	view := accountview.New(map[solana.PublicKey]*domain.Account{
		payerKey: {Lamports: 1_000_000, Owner: solana.SystemProgramID},
	})
	calc := New(Params{LamportsPerSignature: 5000}, testOracle())

	result, err := calc.Charge(view, oneSignerMessage(payerKey))
	if err != nil {
		t.Fatalf("Charge() error = %v", err)
	}
	if result.Fee != 5000 {
		t.Fatalf("Fee = %d, want 5000", result.Fee)
	}
	if result.PreBalance != 1_000_000 {
		t.Fatalf("PreBalance = %d, want 1000000", result.PreBalance)
	}

	post, ok := view.Get(payerKey)
	if !ok {
		t.Fatal("payer not staged into view")
	}
	if post.Lamports != 1_000_000-5000 {
		t.Fatalf("staged lamports = %d, want %d", post.Lamports, 1_000_000-5000)
	}
}

func TestChargeNonceAccountRequiresRentExemptMinimum(t *testing.T) {
	payerKey := solana.NewWallet().PublicKey()
	nonceData := make([]byte, NonceSize)
	oracle := testOracle()
	minBalance := oracle.MinimumBalance(NonceSize)

	view := accountview.New(map[solana.PublicKey]*domain.Account{
		payerKey: {Lamports: minBalance + 5000, Data: nonceData, Owner: solana.SystemProgramID},
	})
	calc := New(Params{LamportsPerSignature: 5000}, oracle)

	result, err := calc.Charge(view, oneSignerMessage(payerKey))
	if err != nil {
		t.Fatalf("Charge() error = %v", err)
	}
	if result.Fee != 5000 {
		t.Fatalf("Fee = %d, want 5000", result.Fee)
	}
}

func TestChargeInvalidOwnerRejected(t *testing.T) {
	payerKey := solana.NewWallet().PublicKey()
	view := accountview.New(map[solana.PublicKey]*domain.Account{
		payerKey: {Lamports: 1_000_000, Owner: solana.TokenProgramID},
	})
	calc := New(Params{LamportsPerSignature: 5000}, testOracle())

	_, err := calc.Charge(view, oneSignerMessage(payerKey))
	execErr, ok := err.(*engine.ExecError)
	if !ok {
		t.Fatalf("Charge() error type = %T, want *engine.ExecError", err)
	}
	if execErr.Kind != engine.KindInvalidAccountForFee {
		t.Fatalf("Kind = %v, want KindInvalidAccountForFee", execErr.Kind)
	}
	if execErr.Chargeable() {
		t.Fatal("pre-fee error must not be Chargeable")
	}
}

func TestChargeInvalidDataLengthRejected(t *testing.T) {
	payerKey := solana.NewWallet().PublicKey()
	view := accountview.New(map[solana.PublicKey]*domain.Account{
		payerKey: {Lamports: 1_000_000, Data: []byte{1, 2, 3}, Owner: solana.SystemProgramID},
	})
	calc := New(Params{LamportsPerSignature: 5000}, testOracle())

	_, err := calc.Charge(view, oneSignerMessage(payerKey))
	execErr, ok := err.(*engine.ExecError)
	if !ok || execErr.Kind != engine.KindInvalidAccountForFee {
		t.Fatalf("Charge() error = %v, want KindInvalidAccountForFee", err)
	}
}

func TestChargeInsufficientFundsForFee(t *testing.T) {
	payerKey := solana.NewWallet().PublicKey()
	view := accountview.New(map[solana.PublicKey]*domain.Account{
		payerKey: {Lamports: 100, Owner: solana.SystemProgramID},
	})
	calc := New(Params{LamportsPerSignature: 5000}, testOracle())

	_, err := calc.Charge(view, oneSignerMessage(payerKey))
	execErr, ok := err.(*engine.ExecError)
	if !ok || execErr.Kind != engine.KindInsufficientFundsForFee {
		t.Fatalf("Charge() error = %v, want KindInsufficientFundsForFee", err)
	}
	if execErr.Chargeable() {
		t.Fatal("insufficient-funds-for-fee must not be Chargeable")
	}
}

func TestChargeNoEligiblePayer(t *testing.T) {
	calc := New(Params{LamportsPerSignature: 5000}, testOracle())
	view := accountview.New(nil)

	_, err := calc.Charge(view, Message{})
	execErr, ok := err.(*engine.ExecError)
	if !ok || execErr.Kind != engine.KindAccountNotFound {
		t.Fatalf("Charge() error = %v, want KindAccountNotFound", err)
	}
}

func TestChargeRentTransitionBlocksDebit(t *testing.T) {
	payerKey := solana.NewWallet().PublicKey()
	oracle := testOracle()
	minBalance := oracle.MinimumBalance(0)

	// Rent-exempt pre-state; post-state (after the fee debit) drops below
	// the exemption minimum without becoming Uninitialized, which is a
	// disallowed RentExempt -> RentPaying style transition for a brand new
	// RentPaying state whose pre-state wasn't RentPaying.
	view := accountview.New(map[solana.PublicKey]*domain.Account{
		payerKey: {Lamports: minBalance + 1, Owner: solana.SystemProgramID},
	})
	calc := New(Params{LamportsPerSignature: 2}, oracle)

	_, err := calc.Charge(view, oneSignerMessage(payerKey))
	execErr, ok := err.(*engine.ExecError)
	if !ok || execErr.Kind != engine.KindInsufficientFundsForRent {
		t.Fatalf("Charge() error = %v, want KindInsufficientFundsForRent", err)
	}
	if execErr.Chargeable() {
		t.Fatal("fee-debit rent-transition error is raised at StagePreFee; Chargeable() should be false")
	}
}
