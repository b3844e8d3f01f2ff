package builtins

import (
	"context"

	"github.com/web3-fighter/svm-mock-engine/internal/vm"
)

// Memo is the native entrypoint for the bundled Memo program: it performs
// no account mutation and simply logs its UTF-8 instruction data, matching
// the reference chain's memo program behavior.
func Memo(ctx context.Context, call vm.Call) error {
	call.Logs.Log("Program log: Memo (len %d): %q", len(call.Instruction.Data), string(call.Instruction.Data))
	return nil
}
