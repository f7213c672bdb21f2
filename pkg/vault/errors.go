package vault

import "github.com/fortiblox/stratus-vault/pkg/svm"

// Vault program errors, reported as custom codes.
const (
	ErrInvalidInstruction svm.CustomError = iota
	ErrNotRentExempt
	ErrExpectedAmountMismatch
	ErrAmountOverflow
	ErrTimeOverflow
	ErrDerivedKeyInvalid
	ErrIncorrectOwner
	ErrWaitPeriodBreach
)

var errorNames = map[svm.CustomError]string{
	ErrInvalidInstruction:     "InvalidInstruction",
	ErrNotRentExempt:          "NotRentExempt",
	ErrExpectedAmountMismatch: "ExpectedAmountMismatch",
	ErrAmountOverflow:         "AmountOverflow",
	ErrTimeOverflow:           "TimeOverflow",
	ErrDerivedKeyInvalid:      "DerivedKeyInvalid",
	ErrIncorrectOwner:         "IncorrectOwner",
	ErrWaitPeriodBreach:       "WaitPeriodBreach",
}

// ErrorName returns the name of a vault custom error code, or "" if code is
// not one.
func ErrorName(code uint32) string {
	return errorNames[svm.CustomError(code)]
}
