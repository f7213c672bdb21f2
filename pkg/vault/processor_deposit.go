package vault

import (
	"math/bits"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/svm"
	"github.com/fortiblox/stratus-vault/pkg/svm/address"
	"github.com/fortiblox/stratus-vault/pkg/svm/programs/system"
	"github.com/fortiblox/stratus-vault/pkg/svm/programs/token"
	"github.com/fortiblox/stratus-vault/pkg/svm/runtime"
)

// positionAccounts are the accounts shared by Deposit and Withdraw, after
// role, cross-reference and derivation checks.
type positionAccounts struct {
	depositor        *runtime.AccountInfo
	config           *runtime.AccountInfo
	escrow           *runtime.AccountInfo
	depositorBase    *runtime.AccountInfo
	receiptMint      *runtime.AccountInfo
	depositorReceipt *runtime.AccountInfo
	record           *runtime.AccountInfo
	custody          *runtime.AccountInfo
	rent             *runtime.AccountInfo
	clock            *runtime.AccountInfo

	recordBump  uint8
	custodyBump uint8
}

func (a *positionAccounts) recordSeeds() address.SignerSeeds {
	return address.NewSignerSeeds(a.recordBump, a.config.Key[:], a.depositor.Key[:], depositSeed)
}

func (a *positionAccounts) custodySeeds() address.SignerSeeds {
	return address.NewSignerSeeds(a.custodyBump, a.config.Key[:], custodySeed)
}

func parsePositionAccounts(ctx *runtime.Context, programID types.Pubkey, it *accountIter, withRent bool) (*positionAccounts, error) {
	a := &positionAccounts{}
	var err error

	if a.depositor, err = it.nextChecked(requireSigner, requireWritable); err != nil {
		return nil, err
	}
	if a.config, err = it.nextChecked(ownedBy(programID)); err != nil {
		return nil, err
	}
	baseMint, err := it.nextChecked(ownedBy(token.ProgramID))
	if err != nil {
		return nil, err
	}
	if a.escrow, err = it.nextChecked(requireWritable, ownedBy(token.ProgramID)); err != nil {
		return nil, err
	}
	if a.depositorBase, err = it.nextChecked(requireWritable, ownedBy(token.ProgramID)); err != nil {
		return nil, err
	}
	if a.receiptMint, err = it.nextChecked(requireWritable, ownedBy(token.ProgramID)); err != nil {
		return nil, err
	}
	if a.depositorReceipt, err = it.nextChecked(requireWritable, ownedBy(token.ProgramID)); err != nil {
		return nil, err
	}
	if a.record, err = it.nextChecked(requireWritable); err != nil {
		return nil, err
	}
	if a.custody, err = it.next(); err != nil {
		return nil, err
	}
	if _, err = it.nextChecked(isProgram(token.ProgramID)); err != nil {
		return nil, err
	}
	if withRent {
		if a.rent, err = it.nextChecked(isSysvar(types.SysvarRentAddr)); err != nil {
			return nil, err
		}
	}
	if _, err = it.nextChecked(isProgram(system.ProgramID)); err != nil {
		return nil, err
	}
	if a.clock, err = it.nextChecked(isSysvar(types.SysvarClockAddr)); err != nil {
		return nil, err
	}

	cfg, err := loadConfig(a.config)
	if err != nil {
		return nil, err
	}
	if !cfg.IsInitialized() {
		return nil, svm.ErrInvalidAccountData
	}
	escrowAcc, err := token.LoadAccount(a.escrow)
	if err != nil {
		return nil, err
	}
	if cfg.BaseMint != baseMint.Key || escrowAcc.Mint != cfg.BaseMint ||
		cfg.ReceiptMint != a.receiptMint.Key || cfg.Escrow != a.escrow.Key {
		return nil, svm.ErrInvalidAccountData
	}

	if a.recordBump, err = verifyDerivation(ctx, programID, a.record, a.config.Key[:], a.depositor.Key[:], depositSeed); err != nil {
		return nil, err
	}
	if a.custodyBump, err = verifyDerivation(ctx, programID, a.custody, a.config.Key[:], custodySeed); err != nil {
		return nil, err
	}
	if _, err := checkCustody(a.receiptMint, a.escrow, a.custody.Key); err != nil {
		return nil, err
	}
	return a, nil
}

// now reads the ledger time. Times before the epoch cannot be recorded.
func now(clockInfo *runtime.AccountInfo) (uint64, error) {
	clock, err := runtime.ClockFromInfo(clockInfo)
	if err != nil {
		return 0, err
	}
	if clock.UnixTimestamp < 0 {
		return 0, ErrTimeOverflow
	}
	return uint64(clock.UnixTimestamp), nil
}

func (p *Processor) processDeposit(ctx *runtime.Context, programID types.Pubkey, it *accountIter, args Deposit) error {
	a, err := parsePositionAccounts(ctx, programID, it, true)
	if err != nil {
		return err
	}

	switch a.record.Owner() {
	case programID:
	case system.ProgramID:
		rent, err := runtime.RentFromInfo(a.rent)
		if err != nil {
			return err
		}
		lamports := rent.MinimumBalance(DepositRecordSize)
		if lamports == 0 {
			lamports = 1
		}
		create := system.CreateAccount(a.depositor.Key, a.record.Key, programID, lamports, DepositRecordSize)
		if err := ctx.Invoke(create, a.recordSeeds()); err != nil {
			return err
		}
	default:
		return svm.ErrIllegalOwner
	}

	record, err := loadDepositRecord(a.record)
	if err != nil {
		return err
	}
	if record.IsInitialized() {
		return svm.ErrAccountAlreadyInitialized
	}

	receiptAcc, err := token.LoadAccount(a.depositorReceipt)
	if err != nil {
		return err
	}
	if receiptAcc.Owner != a.depositor.Key {
		ctx.Log("receipt account %s is not owned by the depositor", a.depositorReceipt.Key)
		return ErrIncorrectOwner
	}
	if receiptAcc.Amount != 0 || receiptAcc.IsFrozen() {
		ctx.Log("receipt account %s must be empty and unfrozen", a.depositorReceipt.Key)
		return ErrExpectedAmountMismatch
	}

	start, err := now(a.clock)
	if err != nil {
		return err
	}
	end, carry := bits.Add64(start, args.LockDuration, 0)
	if carry != 0 {
		return ErrTimeOverflow
	}

	record = &DepositRecord{
		Tag:       TagDepositV1,
		Owner:     a.depositor.Key,
		Amount:    args.Amount,
		StartTime: start,
		EndTime:   end,
	}
	if err := storeRecord(a.record, record.Encode()); err != nil {
		return err
	}
	ctx.Log("locked %d until %d", record.Amount, record.EndTime)

	if err := ctx.Invoke(token.Transfer(a.depositorBase.Key, a.escrow.Key, a.depositor.Key, args.Amount)); err != nil {
		return err
	}
	custody := a.custodySeeds()
	if err := ctx.Invoke(token.MintTo(a.receiptMint.Key, a.depositorReceipt.Key, a.custody.Key, args.Amount), custody); err != nil {
		return err
	}
	return ctx.Invoke(token.FreezeAccount(a.depositorReceipt.Key, a.receiptMint.Key, a.custody.Key), custody)
}

func (p *Processor) processWithdraw(ctx *runtime.Context, programID types.Pubkey, it *accountIter) error {
	a, err := parsePositionAccounts(ctx, programID, it, false)
	if err != nil {
		return err
	}

	if a.record.Owner() != programID {
		return svm.ErrInvalidAccountData
	}
	record, err := loadDepositRecord(a.record)
	if err != nil {
		return err
	}
	if !record.IsInitialized() {
		return svm.ErrInvalidAccountData
	}
	if record.Owner != a.depositor.Key {
		return ErrIncorrectOwner
	}

	current, err := now(a.clock)
	if err != nil {
		return err
	}
	if current < record.EndTime {
		ctx.Log("deposit matures at %d, now %d", record.EndTime, current)
		return ErrWaitPeriodBreach
	}

	receiptAcc, err := token.LoadAccount(a.depositorReceipt)
	if err != nil {
		return err
	}
	if receiptAcc.Amount != record.Amount {
		ctx.Log("receipt balance %d does not match deposit %d", receiptAcc.Amount, record.Amount)
		return ErrExpectedAmountMismatch
	}

	custody := a.custodySeeds()
	if err := ctx.Invoke(token.Transfer(a.escrow.Key, a.depositorBase.Key, a.custody.Key, record.Amount), custody); err != nil {
		return err
	}
	if err := ctx.Invoke(token.ThawAccount(a.depositorReceipt.Key, a.receiptMint.Key, a.custody.Key), custody); err != nil {
		return err
	}
	if err := ctx.Invoke(token.Burn(a.depositorReceipt.Key, a.receiptMint.Key, a.depositor.Key, record.Amount)); err != nil {
		return err
	}
	if err := ctx.Invoke(token.CloseAccount(a.depositorReceipt.Key, a.depositor.Key, a.depositor.Key)); err != nil {
		return err
	}

	ctx.Log("released %d to %s", record.Amount, a.depositor.Key)
	return reclaim(a.record, a.depositor)
}
