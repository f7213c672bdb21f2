package vault

import (
	"math/bits"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/svm"
	"github.com/fortiblox/stratus-vault/pkg/svm/address"
	"github.com/fortiblox/stratus-vault/pkg/svm/programs/token"
	"github.com/fortiblox/stratus-vault/pkg/svm/runtime"
)

func (p *Processor) processInit(ctx *runtime.Context, programID types.Pubkey, it *accountIter) error {
	initializer, err := it.nextChecked(requireSigner)
	if err != nil {
		return err
	}
	config, err := it.nextChecked(requireWritable, ownedBy(programID))
	if err != nil {
		return err
	}
	baseMint, err := it.nextChecked(ownedBy(token.ProgramID))
	if err != nil {
		return err
	}
	escrow, err := it.nextChecked(requireWritable, ownedBy(token.ProgramID))
	if err != nil {
		return err
	}
	receiptMint, err := it.nextChecked(requireWritable, ownedBy(token.ProgramID))
	if err != nil {
		return err
	}
	rentInfo, err := it.nextChecked(isSysvar(types.SysvarRentAddr))
	if err != nil {
		return err
	}
	if _, err := it.nextChecked(isProgram(token.ProgramID)); err != nil {
		return err
	}

	rent, err := runtime.RentFromInfo(rentInfo)
	if err != nil {
		return err
	}
	if !rent.IsExempt(config.Lamports(), config.DataLen()) {
		return ErrNotRentExempt
	}

	cfg, err := loadConfig(config)
	if err != nil {
		return err
	}
	if cfg.IsInitialized() {
		return svm.ErrAccountAlreadyInitialized
	}

	escrowAcc, err := token.LoadAccount(escrow)
	if err != nil {
		return err
	}
	if escrowAcc.Mint != baseMint.Key {
		return svm.ErrInvalidAccountData
	}

	receipt, err := token.LoadMint(receiptMint)
	if err != nil {
		return err
	}
	if !isKey(receipt.MintAuthority, initializer.Key) || !isKey(receipt.FreezeAuthority, initializer.Key) {
		ctx.Log("receipt mint authorities are not held by %s", initializer.Key)
		return ErrIncorrectOwner
	}

	custody, _, err := CustodyAddress(programID, config.Key)
	if err != nil {
		return err
	}

	cfg = &Config{
		Tag:         TagVaultV1,
		Owner:       initializer.Key,
		BaseMint:    baseMint.Key,
		ReceiptMint: receiptMint.Key,
		Escrow:      escrow.Key,
		Coefficient: 1,
	}
	if err := storeRecord(config, cfg.Encode()); err != nil {
		return err
	}

	ctx.Log("handing custody to %s", custody)
	handoff := []runtime.Instruction{
		token.SetAuthority(receiptMint.Key, &custody, token.AuthorityMintTokens, initializer.Key),
		token.SetAuthority(receiptMint.Key, &custody, token.AuthorityFreezeAccount, initializer.Key),
		token.SetAuthority(escrow.Key, &custody, token.AuthorityAccountOwner, initializer.Key),
	}
	for _, ix := range handoff {
		if err := ctx.Invoke(ix); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) processClose(ctx *runtime.Context, programID types.Pubkey, it *accountIter) error {
	initializer, err := it.nextChecked(requireSigner, requireWritable)
	if err != nil {
		return err
	}
	config, err := it.nextChecked(requireWritable, ownedBy(programID))
	if err != nil {
		return err
	}
	escrow, err := it.nextChecked(requireWritable, ownedBy(token.ProgramID))
	if err != nil {
		return err
	}
	receiptMint, err := it.nextChecked(requireWritable, ownedBy(token.ProgramID))
	if err != nil {
		return err
	}
	if _, err := it.nextChecked(isProgram(token.ProgramID)); err != nil {
		return err
	}
	custody, err := it.next()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(config)
	if err != nil {
		return err
	}
	if !cfg.IsInitialized() {
		return svm.ErrInvalidAccountData
	}
	if cfg.Owner != initializer.Key {
		return ErrIncorrectOwner
	}

	bump, err := verifyDerivation(ctx, programID, custody, config.Key[:], custodySeed)
	if err != nil {
		return err
	}

	escrowAcc, err := checkCustody(receiptMint, escrow, custody.Key)
	if err != nil {
		return err
	}
	if escrowAcc.Mint != cfg.BaseMint || receiptMint.Key != cfg.ReceiptMint || escrow.Key != cfg.Escrow {
		return svm.ErrInvalidAccountData
	}

	ctx.Log("returning custody to %s", initializer.Key)
	seeds := address.NewSignerSeeds(bump, config.Key[:], custodySeed)
	owner := initializer.Key
	handback := []runtime.Instruction{
		token.SetAuthority(receiptMint.Key, &owner, token.AuthorityMintTokens, custody.Key),
		token.SetAuthority(receiptMint.Key, &owner, token.AuthorityFreezeAccount, custody.Key),
		token.SetAuthority(escrow.Key, &owner, token.AuthorityAccountOwner, custody.Key),
	}
	for _, ix := range handback {
		if err := ctx.Invoke(ix, seeds); err != nil {
			return err
		}
	}

	return reclaim(config, initializer)
}

// checkCustody verifies that the custody authority holds the receipt mint's
// authorities and owns the escrow, and returns the decoded escrow.
func checkCustody(receiptMint, escrow *runtime.AccountInfo, custody types.Pubkey) (*token.Account, error) {
	receipt, err := token.LoadMint(receiptMint)
	if err != nil {
		return nil, err
	}
	if !isKey(receipt.MintAuthority, custody) || !isKey(receipt.FreezeAuthority, custody) {
		return nil, ErrIncorrectOwner
	}
	escrowAcc, err := token.LoadAccount(escrow)
	if err != nil {
		return nil, err
	}
	if escrowAcc.Owner != custody {
		return nil, ErrIncorrectOwner
	}
	return escrowAcc, nil
}

// reclaim moves every lamport of a program-owned record to dst and empties
// its data.
func reclaim(record, dst *runtime.AccountInfo) error {
	sum, carry := bits.Add64(dst.Lamports(), record.Lamports(), 0)
	if carry != 0 {
		return ErrAmountOverflow
	}
	dst.SetLamports(sum)
	record.SetLamports(0)
	return record.Realloc(0)
}
