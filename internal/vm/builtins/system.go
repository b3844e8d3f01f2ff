// Package builtins implements the native entrypoints for the programs
// bundled at tenant creation (spec.md §1 "Bundled precompiled token/memo
// programs", §4.4): System, SPL Token, the Associated Token Account
// program, and Memo. Each is a BuiltinEntrypoint wired into the Program
// Cache Builder (C4) under its well-known address.
//
// Instruction layouts below mirror the reference chain's bincode wire
// format (u32 little-endian discriminant for System, u8 discriminant for
// Token) rather than going through solana-go's instruction decoders,
// matching the manual byte-parsing style the teacher uses in its own
// DecodeTransaction switch over instruction discriminants.
package builtins

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/web3-fighter/svm-mock-engine/internal/vm"
)

const (
	systemCreateAccount = uint32(0)
	systemAssign        = uint32(1)
	systemTransfer      = uint32(2)
	systemAllocate      = uint32(8)
)

// System is the native entrypoint for solana.SystemProgramID.
func System(ctx context.Context, call vm.Call) error {
	if len(call.Instruction.Data) < 4 {
		return fmt.Errorf("system: instruction data too short")
	}
	discriminant := binary.LittleEndian.Uint32(call.Instruction.Data[:4])
	body := call.Instruction.Data[4:]

	accounts, err := resolveAccounts(call, 0, 1)
	if err != nil {
		return err
	}

	switch discriminant {
	case systemTransfer:
		return systemTransferImpl(call, accounts, body)
	case systemCreateAccount:
		return systemCreateAccountImpl(call, accounts, body)
	case systemAssign:
		return systemAssignImpl(call, accounts, body)
	case systemAllocate:
		return systemAllocateImpl(call, accounts, body)
	default:
		return fmt.Errorf("system: unsupported instruction discriminant %d", discriminant)
	}
}

func systemTransferImpl(call vm.Call, accounts []solana.PublicKey, body []byte) error {
	if len(body) < 8 {
		return fmt.Errorf("system: transfer missing lamports field")
	}
	lamports := binary.LittleEndian.Uint64(body[:8])

	from := call.View.Materialize(accounts[0])
	to := call.View.Materialize(accounts[1])

	if from.Lamports < lamports {
		// Custom(1): matches spec.md §8 S4's expected InstructionError(0, Custom(1)).
		return customError(1, "insufficient lamports for transfer")
	}

	fromPost := from.Clone()
	fromPost.Lamports -= lamports
	toPost := to.Clone()
	toPost.Lamports += lamports

	call.View.Stage(accounts[0], fromPost)
	call.View.Stage(accounts[1], toPost)
	call.Logs.Log("Program log: Transfer %d lamports %s -> %s", lamports, accounts[0], accounts[1])
	return nil
}

func systemCreateAccountImpl(call vm.Call, accounts []solana.PublicKey, body []byte) error {
	if len(body) < 8+8+32 {
		return fmt.Errorf("system: create_account missing fields")
	}
	lamports := binary.LittleEndian.Uint64(body[0:8])
	space := binary.LittleEndian.Uint64(body[8:16])
	var owner solana.PublicKey
	copy(owner[:], body[16:48])

	funding := call.View.Materialize(accounts[0])
	if funding.Lamports < lamports {
		return customError(1, "insufficient lamports for create_account")
	}
	newAcc := call.View.Materialize(accounts[1])
	if !newAcc.IsAbsent() {
		return customError(0, "account already in use")
	}

	fundingPost := funding.Clone()
	fundingPost.Lamports -= lamports
	call.View.Stage(accounts[0], fundingPost)

	call.View.Stage(accounts[1], newAccountWith(lamports, make([]byte, space), owner, false))
	call.Logs.Log("Program log: CreateAccount %s owner=%s space=%d", accounts[1], owner, space)
	return nil
}

func systemAssignImpl(call vm.Call, accounts []solana.PublicKey, body []byte) error {
	if len(body) < 32 {
		return fmt.Errorf("system: assign missing owner field")
	}
	var owner solana.PublicKey
	copy(owner[:], body[:32])

	acc := call.View.Materialize(accounts[0])
	post := acc.Clone()
	post.Owner = owner
	call.View.Stage(accounts[0], post)
	call.Logs.Log("Program log: Assign %s owner=%s", accounts[0], owner)
	return nil
}

func systemAllocateImpl(call vm.Call, accounts []solana.PublicKey, body []byte) error {
	if len(body) < 8 {
		return fmt.Errorf("system: allocate missing space field")
	}
	space := binary.LittleEndian.Uint64(body[:8])

	acc := call.View.Materialize(accounts[0])
	if len(acc.Data) != 0 {
		return customError(2, "account already allocated")
	}
	post := acc.Clone()
	post.Data = make([]byte, space)
	call.View.Stage(accounts[0], post)
	call.Logs.Log("Program log: Allocate %s space=%d", accounts[0], space)
	return nil
}
