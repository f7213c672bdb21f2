// Package runtime executes signed transactions against an accounts database.
//
// Each transaction loads its accounts into an arena, runs its instructions
// in order and commits the writable accounts it changed only if every
// instruction succeeds. Programs run as Go values implementing Program; they
// may invoke other programs through Context.Invoke, presenting derivation
// seeds in place of signatures for the addresses they control.
//
// After every program frame the runtime verifies the frame's account changes:
// read-only accounts are untouched, only an account's owner may debit it or
// change its data, owner reassignment follows the system rules, and the
// frame's lamport total is unchanged.
package runtime

import (
	"github.com/fortiblox/stratus-vault/internal/types"
)

// Program processes instructions addressed to it.
type Program interface {
	ProcessInstruction(ctx *Context, programID types.Pubkey, accounts []*AccountInfo, data []byte) error
}

// ProgramFunc adapts a function to Program.
type ProgramFunc func(ctx *Context, programID types.Pubkey, accounts []*AccountInfo, data []byte) error

// ProcessInstruction calls f.
func (f ProgramFunc) ProcessInstruction(ctx *Context, programID types.Pubkey, accounts []*AccountInfo, data []byte) error {
	return f(ctx, programID, accounts, data)
}
