package rpc

import (
	"errors"
	"fmt"

	"github.com/fortiblox/stratus-vault/pkg/svm"
	"github.com/fortiblox/stratus-vault/pkg/svm/runtime"
)

// JSON-RPC 2.0 standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Ledger error codes. They reuse the numbers Solana clients already
// recognize.
const (
	// TransactionFailed reports a transaction that executed and failed in an
	// instruction. The error data is a TransactionFailure.
	TransactionFailed = -32002

	// SignatureVerificationFailure reports a transaction rejected before
	// execution because a signature did not verify.
	SignatureVerificationFailure = -32003

	// NodeUnhealthy reports a server marked unhealthy.
	NodeUnhealthy = -32005
)

var (
	ErrParseError     = NewRPCError(ParseError, "Parse error")
	ErrInvalidRequest = NewRPCError(InvalidRequest, "Invalid Request")
	ErrNodeUnhealthy  = NewRPCError(NodeUnhealthy, "Node is unhealthy")

	errHistoryDisabled = NewRPCError(InternalError, "transaction history is not enabled")
)

// NewRPCError creates an RPC error without data.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// InvalidParamsError creates an invalid params error.
func InvalidParamsError(msg string) *RPCError {
	return NewRPCError(InvalidParams, msg)
}

// InternalServerErrorf creates an internal error with a formatted message.
func InternalServerErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InternalError, fmt.Sprintf(format, args...))
}

// executionError converts an unsuccessful execution result to an RPC error.
// Signature failures carry no data; instruction failures carry the logs, the
// failing program and its error code, if it returned one.
func executionError(result *runtime.ExecutionResult) *RPCError {
	if errors.Is(result.Err, runtime.ErrSignatureFailure) {
		return NewRPCError(SignatureVerificationFailure, result.Err.Error())
	}
	failure := TransactionFailure{
		Err:           result.Err.Error(),
		Logs:          result.Logs,
		UnitsConsumed: result.ComputeUnitsUsed,
	}
	if code, ok := svm.CustomCode(result.Err); ok {
		failure.CustomCode = &code
	}
	if program, ok := svm.FailedProgram(result.Err); ok {
		failure.FailedProgram = program.String()
	}
	return &RPCError{
		Code:    TransactionFailed,
		Message: "Transaction failed: " + result.Err.Error(),
		Data:    failure,
	}
}
