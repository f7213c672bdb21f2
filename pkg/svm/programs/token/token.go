// Package token implements the asset-ledger program: fungible mints and
// token accounts using the SPL Token account layouts.
//
// Only the operations needed to open and run a custody vault are supported.
// Multisig authorities, delegates and native (wrapped lamport) accounts are
// not.
package token

import (
	"encoding/binary"
	"math/bits"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/svm"
	"github.com/fortiblox/stratus-vault/pkg/svm/runtime"
)

// ProgramID is the token program address.
var ProgramID = types.TokenProgramAddr

// Instruction discriminants.
const (
	InstructionInitializeMint    uint8 = 0
	InstructionInitializeAccount uint8 = 1
	InstructionTransfer          uint8 = 3
	InstructionSetAuthority      uint8 = 6
	InstructionMintTo            uint8 = 7
	InstructionBurn              uint8 = 8
	InstructionCloseAccount      uint8 = 9
	InstructionFreezeAccount     uint8 = 10
	InstructionThawAccount       uint8 = 11
)

// AuthorityType selects which authority SetAuthority replaces.
type AuthorityType uint8

// Authority types.
const (
	AuthorityMintTokens AuthorityType = iota
	AuthorityFreezeAccount
	AuthorityAccountOwner
	AuthorityCloseAccount
)

// Token program errors, reported as custom codes.
const (
	ErrNotRentExempt             = svm.CustomError(0)
	ErrInsufficientFunds         = svm.CustomError(1)
	ErrInvalidMint               = svm.CustomError(2)
	ErrMintMismatch              = svm.CustomError(3)
	ErrOwnerMismatch             = svm.CustomError(4)
	ErrFixedSupply               = svm.CustomError(5)
	ErrAlreadyInUse              = svm.CustomError(6)
	ErrUninitializedState        = svm.CustomError(9)
	ErrNativeNotSupported        = svm.CustomError(10)
	ErrNonNativeHasBalance       = svm.CustomError(11)
	ErrInvalidInstruction        = svm.CustomError(12)
	ErrInvalidState              = svm.CustomError(13)
	ErrOverflow                  = svm.CustomError(14)
	ErrAuthorityTypeNotSupported = svm.CustomError(15)
	ErrMintCannotFreeze          = svm.CustomError(16)
	ErrAccountFrozen             = svm.CustomError(17)
)

// Processor executes token program instructions.
type Processor struct{}

// NewProcessor creates a new token program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// ProcessInstruction executes a token program instruction.
func (p *Processor) ProcessInstruction(ctx *runtime.Context, _ types.Pubkey, accounts []*runtime.AccountInfo, data []byte) error {
	if err := ctx.ConsumeCU(svm.CUTokenProgramDefault); err != nil {
		return err
	}
	if len(data) == 0 {
		return ErrInvalidInstruction
	}

	args := data[1:]
	switch data[0] {
	case InstructionInitializeMint:
		ctx.Log("Instruction: InitializeMint")
		return p.processInitializeMint(accounts, args)
	case InstructionInitializeAccount:
		ctx.Log("Instruction: InitializeAccount")
		return p.processInitializeAccount(accounts, args)
	case InstructionTransfer:
		ctx.Log("Instruction: Transfer")
		return p.processTransfer(accounts, args)
	case InstructionSetAuthority:
		ctx.Log("Instruction: SetAuthority")
		return p.processSetAuthority(accounts, args)
	case InstructionMintTo:
		ctx.Log("Instruction: MintTo")
		return p.processMintTo(accounts, args)
	case InstructionBurn:
		ctx.Log("Instruction: Burn")
		return p.processBurn(accounts, args)
	case InstructionCloseAccount:
		ctx.Log("Instruction: CloseAccount")
		return p.processCloseAccount(accounts, args)
	case InstructionFreezeAccount:
		ctx.Log("Instruction: FreezeAccount")
		return p.processToggleFreeze(accounts, args, true)
	case InstructionThawAccount:
		ctx.Log("Instruction: ThawAccount")
		return p.processToggleFreeze(accounts, args, false)
	default:
		return ErrInvalidInstruction
	}
}

// processInitializeMint: [0] mint (writable), [1] rent sysvar.
// Args: decimals u8, mint authority [32]byte, freeze authority option.
func (p *Processor) processInitializeMint(accounts []*runtime.AccountInfo, args []byte) error {
	if len(args) < 1+32+1 {
		return ErrInvalidInstruction
	}
	if len(accounts) < 2 {
		return svm.ErrNotEnoughAccountKeys
	}
	decimals := args[0]
	var authority types.Pubkey
	copy(authority[:], args[1:33])
	freeze, err := instructionPubkeyOption(args[33:])
	if err != nil {
		return err
	}

	mintInfo := accounts[0]
	rent, err := runtime.RentFromInfo(accounts[1])
	if err != nil {
		return err
	}

	mint, err := loadRaw(mintInfo, UnpackMint)
	if err != nil {
		return err
	}
	if mint.IsInitialized {
		return ErrAlreadyInUse
	}
	if !rent.IsExempt(mintInfo.Lamports(), mintInfo.DataLen()) {
		return ErrNotRentExempt
	}

	mint.MintAuthority = &authority
	mint.Decimals = decimals
	mint.IsInitialized = true
	mint.FreezeAuthority = freeze
	return store(mintInfo, mint.Pack())
}

// processInitializeAccount: [0] account (writable), [1] mint, [2] owner,
// [3] rent sysvar.
func (p *Processor) processInitializeAccount(accounts []*runtime.AccountInfo, _ []byte) error {
	if len(accounts) < 4 {
		return svm.ErrNotEnoughAccountKeys
	}
	accInfo, mintInfo, ownerInfo := accounts[0], accounts[1], accounts[2]
	rent, err := runtime.RentFromInfo(accounts[3])
	if err != nil {
		return err
	}

	acc, err := loadRaw(accInfo, UnpackAccount)
	if err != nil {
		return err
	}
	if acc.State != AccountUninitialized {
		return ErrAlreadyInUse
	}
	if !rent.IsExempt(accInfo.Lamports(), accInfo.DataLen()) {
		return ErrNotRentExempt
	}
	if mintInfo.Key == types.NativeMintAddr {
		return ErrNativeNotSupported
	}
	if _, err := LoadMint(mintInfo); err != nil {
		return ErrInvalidMint
	}

	acc.Mint = mintInfo.Key
	acc.Owner = ownerInfo.Key
	acc.State = AccountInitialized
	return store(accInfo, acc.Pack())
}

// processTransfer: [0] source (writable), [1] destination (writable),
// [2] source owner (signer). Args: amount u64.
func (p *Processor) processTransfer(accounts []*runtime.AccountInfo, args []byte) error {
	amount, err := amountArg(args)
	if err != nil {
		return err
	}
	if len(accounts) < 3 {
		return svm.ErrNotEnoughAccountKeys
	}
	srcInfo, dstInfo, authority := accounts[0], accounts[1], accounts[2]

	src, err := LoadAccount(srcInfo)
	if err != nil {
		return err
	}
	dst, err := LoadAccount(dstInfo)
	if err != nil {
		return err
	}
	if src.IsFrozen() || dst.IsFrozen() {
		return ErrAccountFrozen
	}
	if src.Amount < amount {
		return ErrInsufficientFunds
	}
	if src.Mint != dst.Mint {
		return ErrMintMismatch
	}
	if err := validateOwner(src.Owner, authority); err != nil {
		return err
	}
	if srcInfo.Key == dstInfo.Key {
		return nil
	}

	src.Amount -= amount
	sum, carry := bits.Add64(dst.Amount, amount, 0)
	if carry != 0 {
		return ErrOverflow
	}
	dst.Amount = sum

	if err := store(srcInfo, src.Pack()); err != nil {
		return err
	}
	return store(dstInfo, dst.Pack())
}

// processSetAuthority: [0] mint or account (writable), [1] current authority
// (signer). Args: authority type u8, new authority option.
func (p *Processor) processSetAuthority(accounts []*runtime.AccountInfo, args []byte) error {
	if len(args) < 2 {
		return ErrInvalidInstruction
	}
	if len(accounts) < 2 {
		return svm.ErrNotEnoughAccountKeys
	}
	authorityType := AuthorityType(args[0])
	newAuthority, err := instructionPubkeyOption(args[1:])
	if err != nil {
		return err
	}
	target, authority := accounts[0], accounts[1]

	switch target.DataLen() {
	case AccountSize:
		acc, err := LoadAccount(target)
		if err != nil {
			return err
		}
		if acc.IsFrozen() {
			return ErrAccountFrozen
		}
		switch authorityType {
		case AuthorityAccountOwner:
			if err := validateOwner(acc.Owner, authority); err != nil {
				return err
			}
			if newAuthority == nil {
				return ErrInvalidInstruction
			}
			acc.Owner = *newAuthority
			acc.Delegate = nil
			acc.DelegatedAmount = 0
		case AuthorityCloseAccount:
			current := acc.Owner
			if acc.CloseAuthority != nil {
				current = *acc.CloseAuthority
			}
			if err := validateOwner(current, authority); err != nil {
				return err
			}
			acc.CloseAuthority = newAuthority
		default:
			return ErrAuthorityTypeNotSupported
		}
		return store(target, acc.Pack())

	case MintSize:
		mint, err := LoadMint(target)
		if err != nil {
			return err
		}
		switch authorityType {
		case AuthorityMintTokens:
			if mint.MintAuthority == nil {
				return ErrFixedSupply
			}
			if err := validateOwner(*mint.MintAuthority, authority); err != nil {
				return err
			}
			mint.MintAuthority = newAuthority
		case AuthorityFreezeAccount:
			if mint.FreezeAuthority == nil {
				return ErrMintCannotFreeze
			}
			if err := validateOwner(*mint.FreezeAuthority, authority); err != nil {
				return err
			}
			mint.FreezeAuthority = newAuthority
		default:
			return ErrAuthorityTypeNotSupported
		}
		return store(target, mint.Pack())

	default:
		return svm.ErrInvalidArgument
	}
}

// processMintTo: [0] mint (writable), [1] destination (writable),
// [2] mint authority (signer). Args: amount u64.
func (p *Processor) processMintTo(accounts []*runtime.AccountInfo, args []byte) error {
	amount, err := amountArg(args)
	if err != nil {
		return err
	}
	if len(accounts) < 3 {
		return svm.ErrNotEnoughAccountKeys
	}
	mintInfo, dstInfo, authority := accounts[0], accounts[1], accounts[2]

	dst, err := LoadAccount(dstInfo)
	if err != nil {
		return err
	}
	if dst.IsFrozen() {
		return ErrAccountFrozen
	}
	if dst.Mint != mintInfo.Key {
		return ErrMintMismatch
	}
	mint, err := LoadMint(mintInfo)
	if err != nil {
		return err
	}
	if mint.MintAuthority == nil {
		return ErrFixedSupply
	}
	if err := validateOwner(*mint.MintAuthority, authority); err != nil {
		return err
	}

	supply, carry := bits.Add64(mint.Supply, amount, 0)
	if carry != 0 {
		return ErrOverflow
	}
	balance, carry := bits.Add64(dst.Amount, amount, 0)
	if carry != 0 {
		return ErrOverflow
	}
	mint.Supply = supply
	dst.Amount = balance

	if err := store(mintInfo, mint.Pack()); err != nil {
		return err
	}
	return store(dstInfo, dst.Pack())
}

// processBurn: [0] account (writable), [1] mint (writable), [2] account
// owner (signer). Args: amount u64.
func (p *Processor) processBurn(accounts []*runtime.AccountInfo, args []byte) error {
	amount, err := amountArg(args)
	if err != nil {
		return err
	}
	if len(accounts) < 3 {
		return svm.ErrNotEnoughAccountKeys
	}
	accInfo, mintInfo, authority := accounts[0], accounts[1], accounts[2]

	acc, err := LoadAccount(accInfo)
	if err != nil {
		return err
	}
	if acc.IsFrozen() {
		return ErrAccountFrozen
	}
	if acc.Mint != mintInfo.Key {
		return ErrMintMismatch
	}
	mint, err := LoadMint(mintInfo)
	if err != nil {
		return err
	}
	if acc.Amount < amount {
		return ErrInsufficientFunds
	}
	if err := validateOwner(acc.Owner, authority); err != nil {
		return err
	}
	if mint.Supply < amount {
		return ErrOverflow
	}

	acc.Amount -= amount
	mint.Supply -= amount

	if err := store(accInfo, acc.Pack()); err != nil {
		return err
	}
	return store(mintInfo, mint.Pack())
}

// processCloseAccount: [0] account (writable), [1] destination (writable),
// [2] close authority (signer).
func (p *Processor) processCloseAccount(accounts []*runtime.AccountInfo, _ []byte) error {
	if len(accounts) < 3 {
		return svm.ErrNotEnoughAccountKeys
	}
	accInfo, dstInfo, authority := accounts[0], accounts[1], accounts[2]
	if accInfo.Key == dstInfo.Key {
		return svm.ErrInvalidAccountData
	}

	acc, err := LoadAccount(accInfo)
	if err != nil {
		return err
	}
	if acc.Amount != 0 {
		return ErrNonNativeHasBalance
	}
	current := acc.Owner
	if acc.CloseAuthority != nil {
		current = *acc.CloseAuthority
	}
	if err := validateOwner(current, authority); err != nil {
		return err
	}

	if err := runtime.TransferLamports(accInfo, dstInfo, accInfo.Lamports()); err != nil {
		return ErrOverflow
	}
	return accInfo.Realloc(0)
}

// processToggleFreeze: [0] account (writable), [1] mint, [2] freeze
// authority (signer).
func (p *Processor) processToggleFreeze(accounts []*runtime.AccountInfo, _ []byte, freeze bool) error {
	if len(accounts) < 3 {
		return svm.ErrNotEnoughAccountKeys
	}
	accInfo, mintInfo, authority := accounts[0], accounts[1], accounts[2]

	acc, err := LoadAccount(accInfo)
	if err != nil {
		return err
	}
	if freeze == acc.IsFrozen() {
		return ErrInvalidState
	}
	if acc.Mint != mintInfo.Key {
		return ErrMintMismatch
	}
	mint, err := LoadMint(mintInfo)
	if err != nil {
		return err
	}
	if mint.FreezeAuthority == nil {
		return ErrMintCannotFreeze
	}
	if err := validateOwner(*mint.FreezeAuthority, authority); err != nil {
		return err
	}

	if freeze {
		acc.State = AccountFrozen
	} else {
		acc.State = AccountInitialized
	}
	return store(accInfo, acc.Pack())
}

func validateOwner(expected types.Pubkey, authority *runtime.AccountInfo) error {
	if expected != authority.Key {
		return ErrOwnerMismatch
	}
	if !authority.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	return nil
}

func amountArg(args []byte) (uint64, error) {
	if len(args) != 8 {
		return 0, ErrInvalidInstruction
	}
	return binary.LittleEndian.Uint64(args), nil
}

// instructionPubkeyOption reads a 1-byte tag followed by an optional key.
func instructionPubkeyOption(src []byte) (*types.Pubkey, error) {
	switch {
	case len(src) >= 1 && src[0] == 0:
		return nil, nil
	case len(src) >= 33 && src[0] == 1:
		var key types.Pubkey
		copy(key[:], src[1:33])
		return &key, nil
	default:
		return nil, ErrInvalidInstruction
	}
}
