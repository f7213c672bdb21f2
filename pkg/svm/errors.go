// Package svm holds the execution primitives shared by the runtime and the
// builtin programs: instruction error kinds and compute metering.
package svm

import (
	"errors"
	"fmt"

	"github.com/fortiblox/stratus-vault/internal/types"
)

// InstructionErrorKind is a runtime-defined instruction failure. Kinds are
// comparable error values, so callers match them with errors.Is.
type InstructionErrorKind uint32

// Instruction error kinds.
const (
	ErrGeneric InstructionErrorKind = iota
	ErrInvalidArgument
	ErrInvalidInstructionData
	ErrInvalidAccountData
	ErrAccountDataTooSmall
	ErrInsufficientFunds
	ErrIncorrectProgramID
	ErrMissingRequiredSignature
	ErrAccountAlreadyInitialized
	ErrUninitializedAccount
	ErrUnbalancedInstruction
	ErrModifiedProgramID
	ErrExternalAccountLamportSpend
	ErrExternalAccountDataModified
	ErrReadonlyLamportChange
	ErrReadonlyDataModified
	ErrExecutableModified
	ErrNotEnoughAccountKeys
	ErrAccountDataSizeChanged
	ErrAccountNotExecutable
	ErrAccountBorrowFailed
	ErrUnsupportedProgramID
	ErrCallDepth
	ErrMissingAccount
	ErrPrivilegeEscalation
	ErrComputationalBudgetExceeded
	ErrIllegalOwner
	ErrNotWritable
	ErrInvalidSeeds
	ErrArithmeticOverflow
)

var kindNames = map[InstructionErrorKind]string{
	ErrGeneric:                     "generic instruction error",
	ErrInvalidArgument:             "invalid program argument",
	ErrInvalidInstructionData:      "invalid instruction data",
	ErrInvalidAccountData:          "invalid account data for instruction",
	ErrAccountDataTooSmall:         "account data too small for instruction",
	ErrInsufficientFunds:           "insufficient funds for instruction",
	ErrIncorrectProgramID:          "incorrect program id for instruction",
	ErrMissingRequiredSignature:    "missing required signature for instruction",
	ErrAccountAlreadyInitialized:   "instruction requires an uninitialized account",
	ErrUninitializedAccount:        "instruction requires an initialized account",
	ErrUnbalancedInstruction:       "sum of account balances before and after instruction do not match",
	ErrModifiedProgramID:           "instruction illegally modified the program id of an account",
	ErrExternalAccountLamportSpend: "instruction spent from the balance of an account it does not own",
	ErrExternalAccountDataModified: "instruction modified data of an account it does not own",
	ErrReadonlyLamportChange:       "instruction changed the balance of a read-only account",
	ErrReadonlyDataModified:        "instruction modified data of a read-only account",
	ErrExecutableModified:          "instruction changed executable bit of an account",
	ErrNotEnoughAccountKeys:        "insufficient account keys for instruction",
	ErrAccountDataSizeChanged:      "program other than the account's owner changed the size of the account data",
	ErrAccountNotExecutable:        "instruction expected an executable account",
	ErrAccountBorrowFailed:         "instruction tries to borrow reference for an account which is already borrowed",
	ErrUnsupportedProgramID:        "unsupported program id",
	ErrCallDepth:                   "cross-program invocation call depth too deep",
	ErrMissingAccount:              "an account required by the instruction is missing",
	ErrPrivilegeEscalation:         "cross-program invocation with unauthorized signer or writable account",
	ErrComputationalBudgetExceeded: "computational budget exceeded",
	ErrIllegalOwner:                "provided owner is not allowed",
	ErrNotWritable:                 "instruction requires a writable account",
	ErrInvalidSeeds:                "provided seeds do not result in a valid address",
	ErrArithmeticOverflow:          "program arithmetic overflowed",
}

func (k InstructionErrorKind) Error() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("instruction error kind %d", uint32(k))
}

// CustomError is a program-defined error code. Codes are scoped to the
// program that returned them; ProgramError records which program that was.
type CustomError uint32

func (e CustomError) Error() string {
	return fmt.Sprintf("custom program error: 0x%x", uint32(e))
}

// ProgramError attributes a failure to the program whose frame raised it.
// Nested calls propagate the innermost attribution unchanged.
type ProgramError struct {
	ProgramID types.Pubkey
	Err       error
}

func (e *ProgramError) Error() string {
	return e.Err.Error()
}

func (e *ProgramError) Unwrap() error {
	return e.Err
}

// InstructionError reports the failing top-level instruction of a
// transaction.
type InstructionError struct {
	Index int
	Err   error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("error processing instruction %d: %v", e.Index, e.Err)
}

func (e *InstructionError) Unwrap() error {
	return e.Err
}

// CustomCode extracts the custom error code from err, if any.
func CustomCode(err error) (uint32, bool) {
	var ce CustomError
	if errors.As(err, &ce) {
		return uint32(ce), true
	}
	return 0, false
}

// FailedProgram returns the program that raised err, if err came out of a
// program frame.
func FailedProgram(err error) (types.Pubkey, bool) {
	var pe *ProgramError
	if errors.As(err, &pe) {
		return pe.ProgramID, true
	}
	return types.Pubkey{}, false
}
