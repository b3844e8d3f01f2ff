// Package rent implements the Rent Oracle (C2, spec.md §4.2): account
// state classification and the pre→post transition rule that the fee
// calculator and the pipeline's rent check both consult.
package rent

import (
	"github.com/gagliardetto/solana-go"

	"github.com/web3-fighter/svm-mock-engine/internal/domain"
	"github.com/web3-fighter/svm-mock-engine/internal/sysvar"
)

// State is the tagged rent classification of an account (spec.md §3
// "Rent State").
type State struct {
	Kind     Kind
	Lamports uint64
	DataSize int
}

type Kind int

const (
	Uninitialized Kind = iota
	RentPaying
	RentExempt
)

// Incinerator is the address exempt from the transition rule (spec.md
// §4.2). It matches the well-known burn address on the reference chain.
var Incinerator = solana.MustPublicKeyFromBase58("1nc1nerator11111111111111111111111111111111")

// Oracle classifies accounts using a fixed snapshot of the Rent sysvar.
type Oracle struct {
	params sysvar.Rent
}

func New(params sysvar.Rent) *Oracle {
	return &Oracle{params: params}
}

// MinimumBalance is exposed directly for getMinimumBalanceForRentExemption.
func (o *Oracle) MinimumBalance(dataLen int) uint64 {
	return o.params.MinimumBalance(dataLen)
}

// Classify implements spec.md §4.2's state classification.
func (o *Oracle) Classify(acc *domain.Account) State {
	if acc.IsAbsent() {
		return State{Kind: Uninitialized}
	}
	minBalance := o.params.MinimumBalance(len(acc.Data))
	if acc.Lamports >= minBalance {
		return State{Kind: RentExempt}
	}
	return State{Kind: RentPaying, Lamports: acc.Lamports, DataSize: len(acc.Data)}
}

// TransitionAllowed implements the transition rule of spec.md §4.2: given
// the pre-state and post-state of the same account (identified by
// address, checked by the caller against Incinerator first), report
// whether the transition is permitted.
func TransitionAllowed(pre, post State) bool {
	switch post.Kind {
	case Uninitialized, RentExempt:
		return true
	case RentPaying:
		if pre.Kind != RentPaying {
			return false
		}
		return post.DataSize == pre.DataSize && post.Lamports <= pre.Lamports
	default:
		return false
	}
}

// CheckTransition is the convenience most callers want: it classifies
// both snapshots and folds in the incinerator exemption.
func (o *Oracle) CheckTransition(address solana.PublicKey, pre, post *domain.Account) bool {
	if address.Equals(Incinerator) {
		return true
	}
	return TransitionAllowed(o.Classify(pre), o.Classify(post))
}
