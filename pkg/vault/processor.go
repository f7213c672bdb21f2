// Package vault implements the time-locked custody vault program.
//
// A vault operator opens a vault over a base mint and a receipt mint. Init
// hands the receipt mint's authorities and the escrow account's ownership to
// a custody authority derived from the vault config address; the program
// then signs for that authority with its derivation seeds. Depositors lock
// base tokens in the escrow and receive frozen receipt tokens 1:1, which
// they burn on Withdraw once the lock period has elapsed. Close returns
// custody to the operator.
package vault

import (
	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/svm"
	"github.com/fortiblox/stratus-vault/pkg/svm/runtime"
)

// DefaultProgramID is the address the vault program is deployed at unless
// configured otherwise.
var DefaultProgramID = types.MustPubkeyFromBase58("BU5qz9st149kNT5RJAUoUYPVW8iSUuH14GwsWr2tJoce")

// Processor executes vault instructions.
type Processor struct{}

// NewProcessor creates a new vault processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// ProcessInstruction decodes data and runs the matching handler.
func (p *Processor) ProcessInstruction(ctx *runtime.Context, programID types.Pubkey, accounts []*runtime.AccountInfo, data []byte) error {
	if err := ctx.ConsumeCU(svm.CUVaultProgramDefault); err != nil {
		return err
	}
	ix, err := DecodeInstruction(data)
	if err != nil {
		return err
	}

	it := &accountIter{accounts: accounts}
	switch ix := ix.(type) {
	case Init:
		ctx.Log("Instruction: Init")
		return p.processInit(ctx, programID, it)
	case Close:
		ctx.Log("Instruction: Close")
		return p.processClose(ctx, programID, it)
	case Deposit:
		ctx.Log("Instruction: Deposit %d %d", ix.Amount, ix.LockDuration)
		return p.processDeposit(ctx, programID, it, ix)
	case Withdraw:
		ctx.Log("Instruction: Withdraw")
		return p.processWithdraw(ctx, programID, it)
	default:
		return ErrInvalidInstruction
	}
}
