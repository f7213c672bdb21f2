package token

import (
	"encoding/binary"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/svm/runtime"
)

// InitializeMint builds an InitializeMint instruction. freezeAuthority may
// be nil.
func InitializeMint(mint, mintAuthority types.Pubkey, freezeAuthority *types.Pubkey, decimals uint8) runtime.Instruction {
	data := []byte{InstructionInitializeMint, decimals}
	data = append(data, mintAuthority[:]...)
	data = appendPubkeyOption(data, freezeAuthority)
	return runtime.NewInstruction(ProgramID, data,
		runtime.NewAccountMeta(mint, false),
		runtime.NewReadonlyAccountMeta(types.SysvarRentAddr, false),
	)
}

// InitializeAccount builds an InitializeAccount instruction.
func InitializeAccount(account, mint, owner types.Pubkey) runtime.Instruction {
	return runtime.NewInstruction(ProgramID, []byte{InstructionInitializeAccount},
		runtime.NewAccountMeta(account, false),
		runtime.NewReadonlyAccountMeta(mint, false),
		runtime.NewReadonlyAccountMeta(owner, false),
		runtime.NewReadonlyAccountMeta(types.SysvarRentAddr, false),
	)
}

// Transfer builds a Transfer instruction.
func Transfer(source, destination, owner types.Pubkey, amount uint64) runtime.Instruction {
	return runtime.NewInstruction(ProgramID, amountData(InstructionTransfer, amount),
		runtime.NewAccountMeta(source, false),
		runtime.NewAccountMeta(destination, false),
		runtime.NewReadonlyAccountMeta(owner, true),
	)
}

// SetAuthority builds a SetAuthority instruction. newAuthority may be nil to
// clear the authority.
func SetAuthority(target types.Pubkey, newAuthority *types.Pubkey, authorityType AuthorityType, current types.Pubkey) runtime.Instruction {
	data := appendPubkeyOption([]byte{InstructionSetAuthority, byte(authorityType)}, newAuthority)
	return runtime.NewInstruction(ProgramID, data,
		runtime.NewAccountMeta(target, false),
		runtime.NewReadonlyAccountMeta(current, true),
	)
}

// MintTo builds a MintTo instruction.
func MintTo(mint, destination, authority types.Pubkey, amount uint64) runtime.Instruction {
	return runtime.NewInstruction(ProgramID, amountData(InstructionMintTo, amount),
		runtime.NewAccountMeta(mint, false),
		runtime.NewAccountMeta(destination, false),
		runtime.NewReadonlyAccountMeta(authority, true),
	)
}

// Burn builds a Burn instruction.
func Burn(account, mint, owner types.Pubkey, amount uint64) runtime.Instruction {
	return runtime.NewInstruction(ProgramID, amountData(InstructionBurn, amount),
		runtime.NewAccountMeta(account, false),
		runtime.NewAccountMeta(mint, false),
		runtime.NewReadonlyAccountMeta(owner, true),
	)
}

// CloseAccount builds a CloseAccount instruction.
func CloseAccount(account, destination, owner types.Pubkey) runtime.Instruction {
	return runtime.NewInstruction(ProgramID, []byte{InstructionCloseAccount},
		runtime.NewAccountMeta(account, false),
		runtime.NewAccountMeta(destination, false),
		runtime.NewReadonlyAccountMeta(owner, true),
	)
}

// FreezeAccount builds a FreezeAccount instruction.
func FreezeAccount(account, mint, authority types.Pubkey) runtime.Instruction {
	return runtime.NewInstruction(ProgramID, []byte{InstructionFreezeAccount},
		runtime.NewAccountMeta(account, false),
		runtime.NewReadonlyAccountMeta(mint, false),
		runtime.NewReadonlyAccountMeta(authority, true),
	)
}

// ThawAccount builds a ThawAccount instruction.
func ThawAccount(account, mint, authority types.Pubkey) runtime.Instruction {
	return runtime.NewInstruction(ProgramID, []byte{InstructionThawAccount},
		runtime.NewAccountMeta(account, false),
		runtime.NewReadonlyAccountMeta(mint, false),
		runtime.NewReadonlyAccountMeta(authority, true),
	)
}

func amountData(tag uint8, amount uint64) []byte {
	data := make([]byte, 9)
	data[0] = tag
	binary.LittleEndian.PutUint64(data[1:], amount)
	return data
}

func appendPubkeyOption(data []byte, key *types.Pubkey) []byte {
	if key == nil {
		return append(data, 0)
	}
	return append(append(data, 1), key[:]...)
}
