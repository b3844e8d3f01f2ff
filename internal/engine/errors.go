// Package engine holds the error taxonomy shared by the transaction
// pipeline and every component it drives (spec.md §7). It is deliberately
// dependency-free so accountview, rent, fee, programcache, vm, pipeline and
// lookup can all import it without a cycle.
package engine

import "fmt"

// Kind enumerates the error taxonomy from spec.md §7. It is not a Go
// "type" in the error sense (Kind itself never satisfies error); ExecError
// wraps it with the context a caller needs.
type Kind int

const (
	KindUnknown Kind = iota
	KindSanitizeError
	KindBlockhashNotFound
	KindBlockhashTooOld
	KindAlreadyProcessed
	KindAccountNotFound
	KindInvalidAccountForFee
	KindInsufficientFundsForFee
	KindInsufficientFundsForRent
	KindInvalidProgramForExecution
	KindProgramAccountNotFound
	KindComputationalBudgetExceeded
	KindInstructionError
	KindAddressLookupTableNotFound
	KindInvalidAddressLookupTableData
	KindStoreError
	KindCacheError
)

func (k Kind) String() string {
	switch k {
	case KindSanitizeError:
		return "SanitizeError"
	case KindBlockhashNotFound:
		return "BlockhashNotFound"
	case KindBlockhashTooOld:
		return "BlockhashTooOld"
	case KindAlreadyProcessed:
		return "AlreadyProcessed"
	case KindAccountNotFound:
		return "AccountNotFound"
	case KindInvalidAccountForFee:
		return "InvalidAccountForFee"
	case KindInsufficientFundsForFee:
		return "InsufficientFundsForFee"
	case KindInsufficientFundsForRent:
		return "InsufficientFundsForRent"
	case KindInvalidProgramForExecution:
		return "InvalidProgramForExecution"
	case KindProgramAccountNotFound:
		return "ProgramAccountNotFound"
	case KindComputationalBudgetExceeded:
		return "ComputationalBudgetExceeded"
	case KindInstructionError:
		return "InstructionError"
	case KindAddressLookupTableNotFound:
		return "AddressLookupTableNotFound"
	case KindInvalidAddressLookupTableData:
		return "InvalidAddressLookupTableData"
	case KindStoreError:
		return "StoreError"
	case KindCacheError:
		return "CacheError"
	default:
		return "Unknown"
	}
}

// Stage marks where in the pipeline state machine (spec.md §4.5) an error
// originated, which in turn decides whether the fee has already been
// charged (spec.md §7 "Propagation policy").
type Stage int

const (
	StagePreFee  Stage = iota // sanitize, blockhash check, replay check, load
	StagePostFee              // program resolution, execute, rent check
)

// ExecError is the error value that flows out of the pipeline to the
// serializer worker (spec.md §7). InstructionIndex is -1 unless Kind is
// KindInsufficientFundsForRent or KindInstructionError.
type ExecError struct {
	Kind             Kind
	Stage            Stage
	InstructionIndex int
	Detail           string
	Cause            error
}

func (e *ExecError) Error() string {
	if e.InstructionIndex >= 0 {
		return fmt.Sprintf("%s(index=%d): %s", e.Kind, e.InstructionIndex, e.Detail)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return e.Kind.String()
}

func (e *ExecError) Unwrap() error {
	return e.Cause
}

// Chargeable reports whether this error's stage occurs at or after fee
// debit (spec.md §7), i.e. the commit path must still persist the payer's
// reduced lamports and a failed transaction record.
func (e *ExecError) Chargeable() bool {
	return e.Stage == StagePostFee
}

func newErr(kind Kind, stage Stage, detail string, cause error) *ExecError {
	return &ExecError{Kind: kind, Stage: stage, InstructionIndex: -1, Detail: detail, Cause: cause}
}

func NewPreFee(kind Kind, detail string, cause error) *ExecError {
	return newErr(kind, StagePreFee, detail, cause)
}

func NewPostFee(kind Kind, detail string, cause error) *ExecError {
	return newErr(kind, StagePostFee, detail, cause)
}

// NewRentError builds the one error kind that carries an account index
// (spec.md §4.2). stage is StagePostFee when raised from the C6 rent-check
// step and StagePreFee when raised from the fee calculator debiting the
// payer itself (spec.md §4.3 step 4).
func NewRentError(stage Stage, accountIndex int) *ExecError {
	return &ExecError{
		Kind:             KindInsufficientFundsForRent,
		Stage:            stage,
		InstructionIndex: accountIndex,
		Detail:           "account transitions to a disallowed rent state",
	}
}

func NewInstructionError(index int, detail string, cause error) *ExecError {
	return &ExecError{
		Kind:             KindInstructionError,
		Stage:            StagePostFee,
		InstructionIndex: index,
		Detail:           detail,
		Cause:            cause,
	}
}
