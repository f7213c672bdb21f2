// Package system implements the storage-allocation program.
//
// The system program owns every fresh account. It is responsible for:
//   - Creating new accounts funded from a signer
//   - Transferring lamports between system accounts
//   - Assigning account ownership
//   - Allocating account space
//
// Derived addresses sign for themselves through the runtime's seed mechanism,
// so a program can create an account at an address it controls.
package system

import (
	"encoding/binary"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/svm"
	"github.com/fortiblox/stratus-vault/pkg/svm/runtime"
)

// ProgramID is the system program address (32 zero bytes).
var ProgramID = types.SystemProgramAddr

// Instruction discriminants.
const (
	InstructionCreateAccount uint32 = 0
	InstructionAssign        uint32 = 1
	InstructionTransfer      uint32 = 2
	InstructionAllocate      uint32 = 8
)

// System program errors, reported as custom codes.
const (
	ErrAccountAlreadyInUse        = svm.CustomError(0)
	ErrResultWithNegativeLamports = svm.CustomError(1)
	ErrInvalidProgramID           = svm.CustomError(2)
	ErrInvalidAccountDataLength   = svm.CustomError(3)
)

// MaxPermittedDataLength bounds the space an instruction may allocate.
const MaxPermittedDataLength = 10 * 1024 * 1024

// Processor executes system program instructions.
type Processor struct{}

// NewProcessor creates a new system program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// ProcessInstruction executes a system program instruction.
func (p *Processor) ProcessInstruction(ctx *runtime.Context, _ types.Pubkey, accounts []*runtime.AccountInfo, data []byte) error {
	if err := ctx.ConsumeCU(svm.CUSystemProgramDefault); err != nil {
		return err
	}
	if len(data) < 4 {
		return svm.ErrInvalidInstructionData
	}

	args := data[4:]
	switch binary.LittleEndian.Uint32(data[:4]) {
	case InstructionCreateAccount:
		return p.processCreateAccount(ctx, accounts, args)
	case InstructionAssign:
		return p.processAssign(ctx, accounts, args)
	case InstructionTransfer:
		return p.processTransfer(ctx, accounts, args)
	case InstructionAllocate:
		return p.processAllocate(ctx, accounts, args)
	default:
		return svm.ErrInvalidInstructionData
	}
}

// processCreateAccount: [0] funder (signer, writable), [1] new account
// (signer, writable). Args: lamports u64, space u64, owner [32]byte.
func (p *Processor) processCreateAccount(ctx *runtime.Context, accounts []*runtime.AccountInfo, args []byte) error {
	if len(args) != 48 {
		return svm.ErrInvalidInstructionData
	}
	if len(accounts) < 2 {
		return svm.ErrNotEnoughAccountKeys
	}
	lamports := binary.LittleEndian.Uint64(args[0:8])
	space := binary.LittleEndian.Uint64(args[8:16])
	var owner types.Pubkey
	copy(owner[:], args[16:48])

	funder, to := accounts[0], accounts[1]

	if to.Lamports() > 0 {
		ctx.Log("Create Account: account %s already in use", to.Key)
		return ErrAccountAlreadyInUse
	}
	if err := allocate(ctx, to, space); err != nil {
		return err
	}
	if err := assign(ctx, to, owner); err != nil {
		return err
	}
	return transfer(ctx, funder, to, lamports)
}

// processAssign: [0] account (signer, writable). Args: owner [32]byte.
func (p *Processor) processAssign(ctx *runtime.Context, accounts []*runtime.AccountInfo, args []byte) error {
	if len(args) != 32 {
		return svm.ErrInvalidInstructionData
	}
	if len(accounts) < 1 {
		return svm.ErrNotEnoughAccountKeys
	}
	var owner types.Pubkey
	copy(owner[:], args)
	return assign(ctx, accounts[0], owner)
}

// processTransfer: [0] from (signer, writable), [1] to (writable).
// Args: lamports u64.
func (p *Processor) processTransfer(ctx *runtime.Context, accounts []*runtime.AccountInfo, args []byte) error {
	if len(args) != 8 {
		return svm.ErrInvalidInstructionData
	}
	if len(accounts) < 2 {
		return svm.ErrNotEnoughAccountKeys
	}
	return transfer(ctx, accounts[0], accounts[1], binary.LittleEndian.Uint64(args))
}

// processAllocate: [0] account (signer, writable). Args: space u64.
func (p *Processor) processAllocate(ctx *runtime.Context, accounts []*runtime.AccountInfo, args []byte) error {
	if len(args) != 8 {
		return svm.ErrInvalidInstructionData
	}
	if len(accounts) < 1 {
		return svm.ErrNotEnoughAccountKeys
	}
	return allocate(ctx, accounts[0], binary.LittleEndian.Uint64(args))
}

func allocate(ctx *runtime.Context, acc *runtime.AccountInfo, space uint64) error {
	if !acc.IsSigner {
		ctx.Log("Allocate: 'to' account %s must sign", acc.Key)
		return svm.ErrMissingRequiredSignature
	}
	if !acc.DataIsEmpty() || acc.Owner() != ProgramID {
		ctx.Log("Allocate: account %s already in use", acc.Key)
		return ErrAccountAlreadyInUse
	}
	if space > MaxPermittedDataLength {
		ctx.Log("Allocate: requested %d, max allowed %d", space, MaxPermittedDataLength)
		return ErrInvalidAccountDataLength
	}
	return acc.Realloc(int(space))
}

func assign(ctx *runtime.Context, acc *runtime.AccountInfo, owner types.Pubkey) error {
	if acc.Owner() == owner {
		return nil
	}
	if !acc.IsSigner {
		ctx.Log("Assign: account %s must sign", acc.Key)
		return svm.ErrMissingRequiredSignature
	}
	acc.Assign(owner)
	return nil
}

func transfer(ctx *runtime.Context, from, to *runtime.AccountInfo, lamports uint64) error {
	if !from.IsSigner {
		ctx.Log("Transfer: `from` account %s must sign", from.Key)
		return svm.ErrMissingRequiredSignature
	}
	if !from.DataIsEmpty() {
		ctx.Log("Transfer: `from` must not carry data")
		return svm.ErrInvalidArgument
	}
	if from.Lamports() < lamports {
		ctx.Log("Transfer: insufficient lamports %d, need %d", from.Lamports(), lamports)
		return ErrResultWithNegativeLamports
	}
	return runtime.TransferLamports(from, to, lamports)
}

// CreateAccount builds a CreateAccount instruction.
func CreateAccount(from, to, owner types.Pubkey, lamports, space uint64) runtime.Instruction {
	data := make([]byte, 4+48)
	binary.LittleEndian.PutUint32(data, InstructionCreateAccount)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	binary.LittleEndian.PutUint64(data[12:], space)
	copy(data[20:], owner[:])
	return runtime.NewInstruction(ProgramID, data,
		runtime.NewAccountMeta(from, true),
		runtime.NewAccountMeta(to, true),
	)
}

// Assign builds an Assign instruction.
func Assign(account, owner types.Pubkey) runtime.Instruction {
	data := make([]byte, 4+32)
	binary.LittleEndian.PutUint32(data, InstructionAssign)
	copy(data[4:], owner[:])
	return runtime.NewInstruction(ProgramID, data, runtime.NewAccountMeta(account, true))
}

// Transfer builds a Transfer instruction.
func Transfer(from, to types.Pubkey, lamports uint64) runtime.Instruction {
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data, InstructionTransfer)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	return runtime.NewInstruction(ProgramID, data,
		runtime.NewAccountMeta(from, true),
		runtime.NewAccountMeta(to, false),
	)
}

// Allocate builds an Allocate instruction.
func Allocate(account types.Pubkey, space uint64) runtime.Instruction {
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data, InstructionAllocate)
	binary.LittleEndian.PutUint64(data[4:], space)
	return runtime.NewInstruction(ProgramID, data, runtime.NewAccountMeta(account, true))
}
