package rent

import (
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/web3-fighter/svm-mock-engine/internal/domain"
	"github.com/web3-fighter/svm-mock-engine/internal/sysvar"
)

func testOracle() *Oracle {
	return New(sysvar.Rent{LamportsPerByteYear: 3480, ExemptionThreshold: 2.0})
}

func TestClassifyUninitialized(t *testing.T) {
	o := testOracle()
	state := o.Classify(&domain.Account{})
	if state.Kind != Uninitialized {
		t.Fatalf("Kind = %v, want Uninitialized", state.Kind)
	}
}

func TestClassifyRentExempt(t *testing.T) {
	o := testOracle()
	min := o.MinimumBalance(0)
	state := o.Classify(&domain.Account{Lamports: min})
	if state.Kind != RentExempt {
		t.Fatalf("Kind = %v, want RentExempt", state.Kind)
	}
}

func TestClassifyRentPaying(t *testing.T) {
	o := testOracle()
	min := o.MinimumBalance(0)
	if min == 0 {
		t.Fatal("test setup invalid: MinimumBalance(0) must be > 0")
	}
	state := o.Classify(&domain.Account{Lamports: min - 1})
	if state.Kind != RentPaying {
		t.Fatalf("Kind = %v, want RentPaying", state.Kind)
	}
	if state.Lamports != min-1 || state.DataSize != 0 {
		t.Fatalf("state = %+v, want Lamports=%d DataSize=0", state, min-1)
	}
}

func TestTransitionAllowedToUninitializedOrExemptAlwaysOK(t *testing.T) {
	pre := State{Kind: RentPaying, Lamports: 10, DataSize: 5}
	if !TransitionAllowed(pre, State{Kind: Uninitialized}) {
		t.Error("transition to Uninitialized must always be allowed")
	}
	if !TransitionAllowed(pre, State{Kind: RentExempt}) {
		t.Error("transition to RentExempt must always be allowed")
	}
}

func TestTransitionRentPayingToRentPayingRequiresSameSizeAndNonIncreasingBalance(t *testing.T) {
	pre := State{Kind: RentPaying, Lamports: 100, DataSize: 10}

	if !TransitionAllowed(pre, State{Kind: RentPaying, Lamports: 100, DataSize: 10}) {
		t.Error("same balance, same size should be allowed")
	}
	if !TransitionAllowed(pre, State{Kind: RentPaying, Lamports: 50, DataSize: 10}) {
		t.Error("decreasing balance, same size should be allowed")
	}
	if TransitionAllowed(pre, State{Kind: RentPaying, Lamports: 150, DataSize: 10}) {
		t.Error("increasing balance while staying RentPaying must be rejected")
	}
	if TransitionAllowed(pre, State{Kind: RentPaying, Lamports: 100, DataSize: 11}) {
		t.Error("changing data size while staying RentPaying must be rejected")
	}
}

func TestTransitionFromNonRentPayingToRentPayingRejected(t *testing.T) {
	pre := State{Kind: Uninitialized}
	if TransitionAllowed(pre, State{Kind: RentPaying, Lamports: 1, DataSize: 0}) {
		t.Error("Uninitialized -> RentPaying must be rejected")
	}
	pre = State{Kind: RentExempt}
	if TransitionAllowed(pre, State{Kind: RentPaying, Lamports: 1, DataSize: 0}) {
		t.Error("RentExempt -> RentPaying must be rejected")
	}
}

func TestCheckTransitionIncineratorExempt(t *testing.T) {
	o := testOracle()
	pre := &domain.Account{Lamports: 1_000_000}
	post := &domain.Account{Lamports: 0}
	if !o.CheckTransition(Incinerator, pre, post) {
		t.Error("incinerator address must be exempt from the transition rule")
	}
}

func TestCheckTransitionOrdinaryAddressEnforced(t *testing.T) {
	o := testOracle()
	other := solana.NewWallet().PublicKey()
	min := o.MinimumBalance(0)
	pre := &domain.Account{Lamports: min} // RentExempt
	post := &domain.Account{Lamports: min - 1} // drops to RentPaying, pre wasn't RentPaying
	if o.CheckTransition(other, pre, post) {
		t.Error("non-incinerator address dropping out of rent exemption must be rejected")
	}
}
