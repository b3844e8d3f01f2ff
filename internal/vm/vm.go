// Package vm implements the Message Processor / VM host (C5, spec.md
// §4.5 step 7, §5): it drives either a native built-in entrypoint or the
// BPF interpreter oracle over each instruction, accumulating compute-unit
// consumption and an inner-instruction trace.
//
// The BPF interpreter itself is out of scope (spec.md §1): it is named
// here only as the Interpreter interface, an oracle this host calls for
// any program that isn't one of the bundled built-ins.
package vm

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/web3-fighter/svm-mock-engine/internal/accountview"
	"github.com/web3-fighter/svm-mock-engine/internal/engine"
	"github.com/web3-fighter/svm-mock-engine/internal/rent"
	"github.com/web3-fighter/svm-mock-engine/internal/sysvar"
)

// Instruction is one compiled instruction from the sanitized message, with
// indices already resolved against the transaction's account key list.
type Instruction struct {
	ProgramIndex   int
	AccountIndices []int
	Data           []byte
	StackHeight    int
}

// InnerInstruction is a CPI trace entry (spec.md §3 "Transaction Record").
type InnerInstruction struct {
	Instruction
	ParentIndex int
}

// Environment bundles the inputs a single execution needs beyond the
// account view itself (spec.md §4.5 step 7).
type Environment struct {
	RecentBlockhash solana.Hash
	Sysvars         *sysvar.Cache
	RentOracle      *rent.Oracle
	ComputeBudget   uint64
}

// LogCollector is the single-owner resource acquired at pipeline entry
// (spec.md §5 "Resource acquisition"): messages accumulate here and are
// moved into the transaction record on exit. The source value must not be
// reachable afterwards; Drain enforces that by zeroing the collector.
type LogCollector struct {
	lines []string
}

func (l *LogCollector) Log(format string, args ...interface{}) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

// Drain moves the collected lines out and leaves the collector empty,
// modelling the "collector is not reachable after commit" invariant.
func (l *LogCollector) Drain() []string {
	out := l.lines
	l.lines = nil
	return out
}

// BuiltinEntrypoint is a native program implementation, keyed by address
// in the Program Cache (C4). AccountKeys is the full transaction account
// key list so an entrypoint can resolve AccountIndices itself.
type BuiltinEntrypoint func(ctx context.Context, call Call) error

// Call is what a BuiltinEntrypoint or Interpreter receives for one
// instruction.
type Call struct {
	View        *accountview.View
	AccountKeys []solana.PublicKey
	Instruction Instruction
	Env         Environment
	Logs        *LogCollector
	Emit        func(InnerInstruction) // records a CPI the entrypoint performs
}

// Interpreter is the external oracle for non-built-in (on-chain BPF)
// programs (spec.md §1, §5). A mock engine may wire in a trivial
// implementation that always fails with ComputationalBudgetExceeded, or a
// richer one that actually executes bytecode; the host does not care.
type Interpreter interface {
	Execute(ctx context.Context, call Call, artifact CompiledProgram) (computeUnitsUsed uint64, err error)
}

// CompiledProgram is the transient, per-transaction cache entry produced
// by the Program Cache Builder (C4). It is never persisted.
type CompiledProgram struct {
	ProgramID     solana.PublicKey
	LoaderVersion int
	Builtin       BuiltinEntrypoint // non-nil for built-in programs
	Size          int
}

// Host drives instructions for one transaction.
type Host struct {
	Interpreter Interpreter
}

func New(interp Interpreter) *Host {
	return &Host{Interpreter: interp}
}

// Result is what Execute hands back to the pipeline.
type Result struct {
	ComputeUnitsConsumed uint64
	InnerInstructions    []InnerInstruction
	ReturnData           []byte
	Logs                 []string
}

// Execute runs every instruction in order against cache, short-circuiting
// on the first instruction error (spec.md §4.5 step 7 / §7
// InstructionError). Compute budget exhaustion aborts with
// ComputationalBudgetExceeded instead of a per-instruction error.
func (h *Host) Execute(
	ctx context.Context,
	view *accountview.View,
	accountKeys []solana.PublicKey,
	instructions []Instruction,
	cache map[solana.PublicKey]CompiledProgram,
	env Environment,
) (Result, *engine.ExecError) {
	logs := &LogCollector{}
	var inner []InnerInstruction
	var computeUsed uint64

	emit := func(ii InnerInstruction) {
		inner = append(inner, ii)
	}

	for idx, instr := range instructions {
		if instr.ProgramIndex < 0 || instr.ProgramIndex >= len(accountKeys) {
			return Result{}, engine.NewInstructionError(idx, "program index out of range", nil)
		}
		programID := accountKeys[instr.ProgramIndex]
		entry, ok := cache[programID]
		if !ok {
			return Result{}, engine.NewPostFee(engine.KindProgramAccountNotFound, "program not resolved in cache", nil)
		}

		call := Call{
			View:        view,
			AccountKeys: accountKeys,
			Instruction: instr,
			Env:         env,
			Logs:        logs,
			Emit:        emit,
		}

		var used uint64
		var err error
		if entry.Builtin != nil {
			used = builtinComputeUnits
			err = entry.Builtin(ctx, call)
		} else if h.Interpreter != nil {
			used, err = h.Interpreter.Execute(ctx, call, entry)
		} else {
			err = fmt.Errorf("no interpreter configured for non-builtin program %s", programID)
		}

		computeUsed += used
		if computeUsed > env.ComputeBudget {
			return Result{ComputeUnitsConsumed: computeUsed, InnerInstructions: inner, Logs: logs.Drain()},
				engine.NewPostFee(engine.KindComputationalBudgetExceeded, "compute budget exceeded", nil)
		}
		if err != nil {
			return Result{ComputeUnitsConsumed: computeUsed, InnerInstructions: inner, Logs: logs.Drain()},
				engine.NewInstructionError(idx, err.Error(), err)
		}
	}

	return Result{
		ComputeUnitsConsumed: computeUsed,
		InnerInstructions:    inner,
		Logs:                 logs.Drain(),
	}, nil
}

// builtinComputeUnits is the flat cost charged for a native entrypoint
// call; built-ins are cheap relative to the BPF interpreter's metered
// cost, matching upstream's "builtin programs are effectively free"
// convention.
const builtinComputeUnits = 150
