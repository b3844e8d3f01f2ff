package builtins

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/web3-fighter/svm-mock-engine/internal/domain"
	"github.com/web3-fighter/svm-mock-engine/internal/vm"
)

// customError mirrors the reference chain's InstructionError::Custom(n):
// the caller (vm.Host) wraps whatever we return here as
// engine.KindInstructionError with this text as its Detail, so tests can
// match on "Custom(1)" etc per spec.md §8 S4.
func customError(code int, reason string) error {
	return fmt.Errorf("Custom(%d): %s", code, reason)
}

// resolveAccounts maps the requested positions in the instruction's
// account-index list to their pubkeys, failing if the instruction didn't
// supply enough accounts.
func resolveAccounts(call vm.Call, positions ...int) ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, len(positions))
	for i, pos := range positions {
		if pos >= len(call.Instruction.AccountIndices) {
			return nil, fmt.Errorf("instruction missing account at position %d", pos)
		}
		keyIdx := call.Instruction.AccountIndices[pos]
		if keyIdx < 0 || keyIdx >= len(call.AccountKeys) {
			return nil, fmt.Errorf("account index %d out of range", keyIdx)
		}
		out[i] = call.AccountKeys[keyIdx]
	}
	return out, nil
}

func newAccountWith(lamports uint64, data []byte, owner solana.PublicKey, executable bool) *domain.Account {
	return &domain.Account{
		Lamports:   lamports,
		Data:       data,
		Owner:      owner,
		Executable: executable,
	}
}
