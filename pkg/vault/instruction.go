package vault

import (
	"encoding/binary"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/svm/address"
	"github.com/fortiblox/stratus-vault/pkg/svm/programs/system"
	"github.com/fortiblox/stratus-vault/pkg/svm/programs/token"
	"github.com/fortiblox/stratus-vault/pkg/svm/runtime"
)

// Opcodes.
const (
	OpInit     uint8 = 0
	OpClose    uint8 = 1
	OpDeposit  uint8 = 2
	OpWithdraw uint8 = 3
)

// Derivation labels.
var (
	custodySeed = []byte("owner")
	depositSeed = []byte("deposit")
)

// Instruction is one of Init, Close, Deposit or Withdraw.
type Instruction interface {
	Encode() []byte
	isInstruction()
}

// Init opens a vault.
type Init struct{}

// Close closes a vault and returns custody to its owner.
type Close struct{}

// Deposit locks Amount base tokens for LockDuration seconds.
type Deposit struct {
	Amount       uint64
	LockDuration uint64
}

// Withdraw redeems a matured deposit.
type Withdraw struct{}

func (Init) isInstruction()     {}
func (Close) isInstruction()    {}
func (Deposit) isInstruction()  {}
func (Withdraw) isInstruction() {}

// Encode serializes the instruction.
func (Init) Encode() []byte { return []byte{OpInit} }

// Encode serializes the instruction.
func (Close) Encode() []byte { return []byte{OpClose} }

// Encode serializes the instruction.
func (d Deposit) Encode() []byte {
	buf := make([]byte, 17)
	buf[0] = OpDeposit
	binary.LittleEndian.PutUint64(buf[1:], d.Amount)
	binary.LittleEndian.PutUint64(buf[9:], d.LockDuration)
	return buf
}

// Encode serializes the instruction.
func (Withdraw) Encode() []byte { return []byte{OpWithdraw} }

// DecodeInstruction parses an opcode and its payload. Unknown opcodes and
// payloads of the wrong length fail with ErrInvalidInstruction.
func DecodeInstruction(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return nil, ErrInvalidInstruction
	}
	payload := data[1:]
	switch data[0] {
	case OpInit:
		if len(payload) != 0 {
			return nil, ErrInvalidInstruction
		}
		return Init{}, nil
	case OpClose:
		if len(payload) != 0 {
			return nil, ErrInvalidInstruction
		}
		return Close{}, nil
	case OpDeposit:
		if len(payload) != 16 {
			return nil, ErrInvalidInstruction
		}
		return Deposit{
			Amount:       binary.LittleEndian.Uint64(payload[0:8]),
			LockDuration: binary.LittleEndian.Uint64(payload[8:16]),
		}, nil
	case OpWithdraw:
		if len(payload) != 0 {
			return nil, ErrInvalidInstruction
		}
		return Withdraw{}, nil
	default:
		return nil, ErrInvalidInstruction
	}
}

// CustodyAddress derives the custody authority of a vault.
func CustodyAddress(programID, config types.Pubkey) (types.Pubkey, uint8, error) {
	return address.FindProgramAddress([][]byte{config[:], custodySeed}, programID)
}

// DepositAddress derives the deposit record address of a depositor.
func DepositAddress(programID, config, depositor types.Pubkey) (types.Pubkey, uint8, error) {
	return address.FindProgramAddress([][]byte{config[:], depositor[:], depositSeed}, programID)
}

// InitAccounts lists the accounts an Init instruction references.
type InitAccounts struct {
	Initializer types.Pubkey
	Config      types.Pubkey
	BaseMint    types.Pubkey
	Escrow      types.Pubkey
	ReceiptMint types.Pubkey
}

// NewInitInstruction builds an Init instruction.
func NewInitInstruction(programID types.Pubkey, a InitAccounts) runtime.Instruction {
	return runtime.NewInstruction(programID, Init{}.Encode(),
		runtime.NewReadonlyAccountMeta(a.Initializer, true),
		runtime.NewAccountMeta(a.Config, false),
		runtime.NewReadonlyAccountMeta(a.BaseMint, false),
		runtime.NewAccountMeta(a.Escrow, false),
		runtime.NewAccountMeta(a.ReceiptMint, false),
		runtime.NewReadonlyAccountMeta(types.SysvarRentAddr, false),
		runtime.NewReadonlyAccountMeta(token.ProgramID, false),
	)
}

// CloseAccounts lists the accounts a Close instruction references. The
// custody authority is derived.
type CloseAccounts struct {
	Initializer types.Pubkey
	Config      types.Pubkey
	Escrow      types.Pubkey
	ReceiptMint types.Pubkey
}

// NewCloseInstruction builds a Close instruction.
func NewCloseInstruction(programID types.Pubkey, a CloseAccounts) (runtime.Instruction, error) {
	custody, _, err := CustodyAddress(programID, a.Config)
	if err != nil {
		return runtime.Instruction{}, err
	}
	return runtime.NewInstruction(programID, Close{}.Encode(),
		runtime.NewAccountMeta(a.Initializer, true),
		runtime.NewAccountMeta(a.Config, false),
		runtime.NewAccountMeta(a.Escrow, false),
		runtime.NewAccountMeta(a.ReceiptMint, false),
		runtime.NewReadonlyAccountMeta(token.ProgramID, false),
		runtime.NewReadonlyAccountMeta(custody, false),
	), nil
}

// DepositAccounts lists the accounts Deposit and Withdraw reference. The
// deposit record and custody authority are derived.
type DepositAccounts struct {
	Depositor        types.Pubkey
	Config           types.Pubkey
	BaseMint         types.Pubkey
	Escrow           types.Pubkey
	DepositorBase    types.Pubkey
	ReceiptMint      types.Pubkey
	DepositorReceipt types.Pubkey
}

func (a DepositAccounts) metas(programID types.Pubkey, withRent bool) ([]runtime.AccountMeta, error) {
	record, _, err := DepositAddress(programID, a.Config, a.Depositor)
	if err != nil {
		return nil, err
	}
	custody, _, err := CustodyAddress(programID, a.Config)
	if err != nil {
		return nil, err
	}
	metas := []runtime.AccountMeta{
		runtime.NewAccountMeta(a.Depositor, true),
		runtime.NewReadonlyAccountMeta(a.Config, false),
		runtime.NewReadonlyAccountMeta(a.BaseMint, false),
		runtime.NewAccountMeta(a.Escrow, false),
		runtime.NewAccountMeta(a.DepositorBase, false),
		runtime.NewAccountMeta(a.ReceiptMint, false),
		runtime.NewAccountMeta(a.DepositorReceipt, false),
		runtime.NewAccountMeta(record, false),
		runtime.NewReadonlyAccountMeta(custody, false),
		runtime.NewReadonlyAccountMeta(token.ProgramID, false),
	}
	if withRent {
		metas = append(metas, runtime.NewReadonlyAccountMeta(types.SysvarRentAddr, false))
	}
	return append(metas,
		runtime.NewReadonlyAccountMeta(system.ProgramID, false),
		runtime.NewReadonlyAccountMeta(types.SysvarClockAddr, false),
	), nil
}

// NewDepositInstruction builds a Deposit instruction.
func NewDepositInstruction(programID types.Pubkey, a DepositAccounts, amount, lockDuration uint64) (runtime.Instruction, error) {
	metas, err := a.metas(programID, true)
	if err != nil {
		return runtime.Instruction{}, err
	}
	data := Deposit{Amount: amount, LockDuration: lockDuration}.Encode()
	return runtime.NewInstruction(programID, data, metas...), nil
}

// NewWithdrawInstruction builds a Withdraw instruction.
func NewWithdrawInstruction(programID types.Pubkey, a DepositAccounts) (runtime.Instruction, error) {
	metas, err := a.metas(programID, false)
	if err != nil {
		return runtime.Instruction{}, err
	}
	return runtime.NewInstruction(programID, Withdraw{}.Encode(), metas...), nil
}
