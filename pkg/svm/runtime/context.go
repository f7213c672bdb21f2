package runtime

import (
	"bytes"
	"errors"
	"fmt"
	"math/bits"

	"go.uber.org/zap"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/svm"
	"github.com/fortiblox/stratus-vault/pkg/svm/address"
	"github.com/fortiblox/stratus-vault/pkg/svm/sysvar"
)

// ErrReentrancyNotAllowed is returned when a program is invoked while an
// earlier frame of the same program is still running below its caller.
var ErrReentrancyNotAllowed = errors.New("cross-program invocation reentrancy not allowed")

// txContext is the state shared by every frame of one transaction.
type txContext struct {
	arena    *arena
	meter    *svm.ComputeMeter
	programs map[types.Pubkey]Program
	rent     *sysvar.Rent
	logger   *zap.Logger

	logs  []string
	stack []*frame
}

func (tc *txContext) log(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	tc.logs = append(tc.logs, msg)
	tc.logger.Debug(msg)
}

// preState is an account as it was when a frame started, or when the frame
// last returned from a nested call.
type preState struct {
	lamports   uint64
	owner      types.Pubkey
	executable bool
	data       []byte
}

type privilege struct {
	signer   bool
	writable bool
}

// frame is one program invocation.
type frame struct {
	programID types.Pubkey

	keys    []types.Pubkey
	entries map[types.Pubkey]*entry
	privs   map[types.Pubkey]privilege
	pre     map[types.Pubkey]preState
}

func newFrame(programID types.Pubkey, infos []*AccountInfo) *frame {
	f := &frame{
		programID: programID,
		entries:   make(map[types.Pubkey]*entry, len(infos)),
		privs:     make(map[types.Pubkey]privilege, len(infos)),
	}
	for _, info := range infos {
		p, seen := f.privs[info.Key]
		if !seen {
			f.keys = append(f.keys, info.Key)
			f.entries[info.Key] = info.entry
		}
		p.signer = p.signer || info.IsSigner
		p.writable = p.writable || info.IsWritable
		f.privs[info.Key] = p
	}
	f.snapshot()
	return f
}

// snapshot records the current state of every frame account as the new
// baseline for verify.
func (f *frame) snapshot() {
	f.pre = make(map[types.Pubkey]preState, len(f.keys))
	for _, key := range f.keys {
		acc := f.entries[key].account
		data := make([]byte, len(acc.Data))
		copy(data, acc.Data)
		f.pre[key] = preState{
			lamports:   acc.Lamports,
			owner:      acc.Owner,
			executable: acc.Executable,
			data:       data,
		}
	}
}

// verify checks the changes the frame's program made since the last
// snapshot.
func (f *frame) verify() error {
	var preHi, preLo, postHi, postLo uint64
	for _, key := range f.keys {
		pre := f.pre[key]
		post := f.entries[key].account
		writable := f.privs[key].writable
		owned := pre.owner == f.programID

		if pre.owner != post.Owner {
			if !writable || pre.executable || !owned || !isZeroed(post.Data) {
				return svm.ErrModifiedProgramID
			}
		}
		if post.Lamports < pre.lamports && !owned {
			return svm.ErrExternalAccountLamportSpend
		}
		if post.Lamports != pre.lamports && !writable {
			return svm.ErrReadonlyLamportChange
		}
		if pre.executable != post.Executable {
			return svm.ErrExecutableModified
		}
		if !bytes.Equal(pre.data, post.Data) {
			switch {
			case !writable:
				return svm.ErrReadonlyDataModified
			case !owned && len(pre.data) != len(post.Data):
				return svm.ErrAccountDataSizeChanged
			case !owned:
				return svm.ErrExternalAccountDataModified
			}
		}

		var c uint64
		preLo, c = bits.Add64(preLo, pre.lamports, 0)
		preHi += c
		postLo, c = bits.Add64(postLo, post.Lamports, 0)
		postHi += c
	}
	if preHi != postHi || preLo != postLo {
		return svm.ErrUnbalancedInstruction
	}
	return nil
}

func isZeroed(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

// process runs one frame: the program, then verification of its changes.
func (tc *txContext) process(ix Instruction, infos []*AccountInfo) error {
	program, ok := tc.programs[ix.ProgramID]
	if !ok {
		return svm.ErrUnsupportedProgramID
	}
	if len(tc.stack) >= svm.MaxInvokeDepth {
		return svm.ErrCallDepth
	}
	for i, f := range tc.stack {
		if f.programID == ix.ProgramID && i != len(tc.stack)-1 {
			return ErrReentrancyNotAllowed
		}
	}

	f := newFrame(ix.ProgramID, infos)
	tc.stack = append(tc.stack, f)
	defer func() { tc.stack = tc.stack[:len(tc.stack)-1] }()

	tc.log("Program %s invoke [%d]", ix.ProgramID, len(tc.stack))
	err := program.ProcessInstruction(&Context{tx: tc, frame: f}, ix.ProgramID, infos, ix.Data)
	if err == nil {
		err = f.verify()
	}
	if err != nil {
		tc.log("Program %s failed: %v", ix.ProgramID, err)
		var pe *svm.ProgramError
		if !errors.As(err, &pe) {
			err = &svm.ProgramError{ProgramID: ix.ProgramID, Err: err}
		}
		return err
	}
	tc.log("Program %s success", ix.ProgramID)
	return nil
}

// Context is a program's handle to the runtime for one frame.
type Context struct {
	tx    *txContext
	frame *frame
}

// ProgramID returns the identity of the running program.
func (c *Context) ProgramID() types.Pubkey {
	return c.frame.programID
}

// StackHeight returns the current call depth; top-level instructions run at
// height 1.
func (c *Context) StackHeight() int {
	return len(c.tx.stack)
}

// Log appends a program log line to the transaction logs.
func (c *Context) Log(format string, args ...interface{}) {
	if c.tx.meter.Consume(svm.CUSyscallBase) != nil {
		return
	}
	c.tx.log("Program log: "+format, args...)
}

// ConsumeCU charges compute units to the transaction.
func (c *Context) ConsumeCU(units uint64) error {
	return c.tx.meter.Consume(units)
}

// Rent returns the runtime's rent parameters.
func (c *Context) Rent() *sysvar.Rent {
	return c.tx.rent
}

// Invoke runs ix as a nested call. Each SignerSeeds value must derive, under
// the calling program's identity, to an address the nested instruction marks
// as signer; that address is then treated as having signed.
//
// Every account in ix, and the program being called, must already be
// available to the caller, and no account may be granted signer or writable
// privileges the caller does not hold.
func (c *Context) Invoke(ix Instruction, signers ...address.SignerSeeds) error {
	tc := c.tx
	if err := tc.meter.Consume(svm.CUInvokeBase); err != nil {
		return err
	}

	signed := make(map[types.Pubkey]bool, len(signers))
	for _, seeds := range signers {
		if err := tc.meter.Consume(svm.CUCreateProgramAddress); err != nil {
			return err
		}
		addr, err := seeds.Derive(c.frame.programID)
		if err != nil {
			return fmt.Errorf("%w: %v", svm.ErrInvalidSeeds, err)
		}
		signed[addr] = true
	}

	prog, ok := c.frame.entries[ix.ProgramID]
	if !ok {
		return svm.ErrMissingAccount
	}
	if !prog.account.Executable {
		return svm.ErrAccountNotExecutable
	}

	infos := make([]*AccountInfo, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		e, ok := c.frame.entries[meta.Pubkey]
		if !ok {
			return svm.ErrMissingAccount
		}
		caller := c.frame.privs[meta.Pubkey]
		if meta.IsWritable && !caller.writable {
			return svm.ErrPrivilegeEscalation
		}
		if meta.IsSigner && !caller.signer && !signed[meta.Pubkey] {
			return svm.ErrPrivilegeEscalation
		}
		if e.borrowed() {
			return svm.ErrAccountBorrowFailed
		}
		infos[i] = &AccountInfo{
			Key:        meta.Pubkey,
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
			entry:      e,
		}
	}

	if err := c.frame.verify(); err != nil {
		return err
	}
	if err := tc.process(ix, infos); err != nil {
		return err
	}
	c.frame.snapshot()
	return nil
}
