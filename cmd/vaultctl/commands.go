package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/accounts"
	"github.com/fortiblox/stratus-vault/pkg/ledger"
	"github.com/fortiblox/stratus-vault/pkg/svm"
	"github.com/fortiblox/stratus-vault/pkg/svm/programs/token"
	"github.com/fortiblox/stratus-vault/pkg/svm/runtime"
	"github.com/fortiblox/stratus-vault/pkg/svm/sysvar"
	"github.com/fortiblox/stratus-vault/pkg/vault"
)

func cmdGenesis(e *env, args []string) error {
	fs := e.flagSet("genesis")
	ts := fs.Int64("time", e.cfg.GenesisUnixTimestamp, "Initial ledger unix timestamp (0 = now)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ts == 0 {
		*ts = time.Now().Unix()
	}

	db, err := e.openDB()
	if err != nil {
		return err
	}
	lc, err := e.ledgerConfig()
	if err != nil {
		return err
	}
	if _, err := ledger.Open(db, lc); err == nil {
		return errors.Errorf("ledger in %s already has genesis", e.cfg.DataDir)
	}
	if err := ledger.Genesis(db, lc, e.cfg.SysvarRent(), sysvar.Clock{UnixTimestamp: *ts}); err != nil {
		return errors.Wrap(err, "failed to write genesis")
	}

	e.logger.Info("genesis written",
		zap.String("data_dir", e.cfg.DataDir),
		zap.Stringer("vault_program", lc.VaultProgramID),
		zap.Int64("unix_timestamp", *ts),
	)
	return nil
}

func cmdKeygen(e *env, args []string) error {
	fs := e.flagSet("keygen")
	force := fs.Bool("force", false, "Overwrite an existing key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("keygen: expected a key name")
	}
	key, err := e.keys.create(fs.Arg(0), *force)
	if err != nil {
		return err
	}
	e.printf("%s %s\n", fs.Arg(0), ledger.PubkeyOf(key))
	return nil
}

func cmdAirdrop(e *env, args []string) error {
	if len(args) != 2 {
		return errors.New("airdrop: expected <account> <lamports>")
	}
	to, err := e.keys.resolve(args[0])
	if err != nil {
		return err
	}
	lamports, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return errors.Wrap(err, "airdrop: invalid lamports")
	}
	l, err := e.openLedger()
	if err != nil {
		return err
	}
	if err := l.Airdrop(to, lamports); err != nil {
		return err
	}
	e.printf("%s +%d lamports\n", to, lamports)
	return nil
}

func cmdCreateMint(e *env, args []string) error {
	fs := e.flagSet("create-mint")
	payer := fs.String("payer", "", "Fee payer and funder key")
	mint := fs.String("mint", "", "Key to create the mint at")
	authority := fs.String("authority", "", "Mint and freeze authority (default: payer)")
	decimals := fs.Uint("decimals", 6, "Decimal places")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "payer", "mint"); err != nil {
		return err
	}
	if *decimals > 255 {
		return errors.New("create-mint: decimals must fit in a byte")
	}
	if *authority == "" {
		*authority = *payer
	}

	payerKey, err := e.keys.load(*payer)
	if err != nil {
		return err
	}
	mintKey, err := e.keys.load(*mint)
	if err != nil {
		return err
	}
	auth, err := e.keys.resolve(*authority)
	if err != nil {
		return err
	}
	return e.submit(func(l *ledger.Ledger) (*runtime.ExecutionResult, error) {
		return l.CreateMint(payerKey, mintKey, auth, uint8(*decimals))
	})
}

func cmdCreateTokenAccount(e *env, args []string) error {
	fs := e.flagSet("create-token-account")
	payer := fs.String("payer", "", "Fee payer and funder key")
	account := fs.String("account", "", "Key to create the token account at")
	mint := fs.String("mint", "", "Mint of the account")
	owner := fs.String("owner", "", "Owner of the account")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "payer", "account", "mint", "owner"); err != nil {
		return err
	}

	payerKey, err := e.keys.load(*payer)
	if err != nil {
		return err
	}
	accountKey, err := e.keys.load(*account)
	if err != nil {
		return err
	}
	mintPk, err := e.keys.resolve(*mint)
	if err != nil {
		return err
	}
	ownerPk, err := e.keys.resolve(*owner)
	if err != nil {
		return err
	}
	return e.submit(func(l *ledger.Ledger) (*runtime.ExecutionResult, error) {
		return l.CreateTokenAccount(payerKey, accountKey, mintPk, ownerPk)
	})
}

func cmdMintTo(e *env, args []string) error {
	fs := e.flagSet("mint-to")
	payer := fs.String("payer", "", "Fee payer key")
	authority := fs.String("authority", "", "Mint authority key")
	mint := fs.String("mint", "", "Mint")
	to := fs.String("to", "", "Destination token account")
	amount := fs.Uint64("amount", 0, "Tokens to mint")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "payer", "authority", "mint", "to"); err != nil {
		return err
	}

	payerKey, err := e.keys.load(*payer)
	if err != nil {
		return err
	}
	authKey, err := e.keys.load(*authority)
	if err != nil {
		return err
	}
	mintPk, err := e.keys.resolve(*mint)
	if err != nil {
		return err
	}
	toPk, err := e.keys.resolve(*to)
	if err != nil {
		return err
	}
	return e.submit(func(l *ledger.Ledger) (*runtime.ExecutionResult, error) {
		return l.MintTo(payerKey, authKey, mintPk, toPk, *amount)
	})
}

func cmdInit(e *env, args []string) error {
	fs := e.flagSet("init")
	initializer := fs.String("initializer", "", "Vault operator key")
	cfgKey := fs.String("config", "", "Key to create the vault config at")
	baseMint := fs.String("base-mint", "", "Base asset mint")
	escrow := fs.String("escrow", "", "Escrow token account owned by the operator")
	receiptMint := fs.String("receipt-mint", "", "Receipt mint whose authorities the operator holds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "initializer", "config", "base-mint", "escrow", "receipt-mint"); err != nil {
		return err
	}

	initKey, err := e.keys.load(*initializer)
	if err != nil {
		return err
	}
	configKey, err := e.keys.load(*cfgKey)
	if err != nil {
		return err
	}
	pks, err := e.resolveAll(*baseMint, *escrow, *receiptMint)
	if err != nil {
		return err
	}
	return e.submit(func(l *ledger.Ledger) (*runtime.ExecutionResult, error) {
		return l.InitVault(initKey, configKey, pks[0], pks[1], pks[2])
	})
}

func cmdDeposit(e *env, args []string) error {
	fs := e.flagSet("deposit")
	depositor := fs.String("depositor", "", "Depositor key")
	cfg := fs.String("config", "", "Vault config")
	base := fs.String("base", "", "Depositor base asset token account")
	receipt := fs.String("receipt", "", "Depositor receipt token account (empty)")
	amount := fs.Uint64("amount", 0, "Base tokens to lock")
	lock := fs.Uint64("lock", 0, "Lock duration in seconds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "depositor", "config", "base", "receipt"); err != nil {
		return err
	}

	key, err := e.keys.load(*depositor)
	if err != nil {
		return err
	}
	pks, err := e.resolveAll(*cfg, *base, *receipt)
	if err != nil {
		return err
	}
	return e.submit(func(l *ledger.Ledger) (*runtime.ExecutionResult, error) {
		return l.Deposit(key, pks[0], pks[1], pks[2], *amount, *lock)
	})
}

func cmdWithdraw(e *env, args []string) error {
	fs := e.flagSet("withdraw")
	depositor := fs.String("depositor", "", "Depositor key")
	cfg := fs.String("config", "", "Vault config")
	base := fs.String("base", "", "Depositor base asset token account")
	receipt := fs.String("receipt", "", "Depositor receipt token account")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "depositor", "config", "base", "receipt"); err != nil {
		return err
	}

	key, err := e.keys.load(*depositor)
	if err != nil {
		return err
	}
	pks, err := e.resolveAll(*cfg, *base, *receipt)
	if err != nil {
		return err
	}
	return e.submit(func(l *ledger.Ledger) (*runtime.ExecutionResult, error) {
		return l.Withdraw(key, pks[0], pks[1], pks[2])
	})
}

func cmdClose(e *env, args []string) error {
	fs := e.flagSet("close")
	owner := fs.String("owner", "", "Vault operator key")
	cfg := fs.String("config", "", "Vault config")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "owner", "config"); err != nil {
		return err
	}

	key, err := e.keys.load(*owner)
	if err != nil {
		return err
	}
	configPk, err := e.keys.resolve(*cfg)
	if err != nil {
		return err
	}
	return e.submit(func(l *ledger.Ledger) (*runtime.ExecutionResult, error) {
		return l.CloseVault(key, configPk)
	})
}

func cmdDump(e *env, args []string) error {
	if len(args) != 1 {
		return errors.New("dump: expected <config>")
	}
	configPk, err := e.keys.resolve(args[0])
	if err != nil {
		return err
	}
	l, err := e.openLedger()
	if err != nil {
		return err
	}
	cfg, err := l.VaultConfig(configPk)
	if err != nil {
		return err
	}
	custody, _, err := vault.CustodyAddress(l.VaultProgramID(), configPk)
	if err != nil {
		return err
	}

	e.printf("vault:        %s\n", configPk)
	e.printf("tag:          %s\n", cfg.Tag)
	e.printf("owner:        %s\n", cfg.Owner)
	e.printf("base mint:    %s\n", cfg.BaseMint)
	e.printf("receipt mint: %s\n", cfg.ReceiptMint)
	e.printf("escrow:       %s\n", cfg.Escrow)
	e.printf("coefficient:  %d\n", cfg.Coefficient)
	e.printf("custody:      %s\n", custody)
	return nil
}

func cmdDumpUser(e *env, args []string) error {
	if len(args) != 2 {
		return errors.New("dumpuser: expected <config> <depositor>")
	}
	pks, err := e.resolveAll(args[0], args[1])
	if err != nil {
		return err
	}
	l, err := e.openLedger()
	if err != nil {
		return err
	}
	record, err := l.DepositRecord(pks[0], pks[1])
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return errors.Errorf("%s has no deposit in %s", pks[1], pks[0])
	}
	if err != nil {
		return err
	}
	clock, err := l.Clock()
	if err != nil {
		return err
	}

	e.printf("tag:        %s\n", record.Tag)
	e.printf("owner:      %s\n", record.Owner)
	e.printf("amount:     %d\n", record.Amount)
	e.printf("start time: %d\n", record.StartTime)
	e.printf("end time:   %d\n", record.EndTime)
	if now := clock.UnixTimestamp; now >= 0 && uint64(now) < record.EndTime {
		e.printf("locked:     %ds remaining\n", record.EndTime-uint64(now))
	} else {
		e.printf("locked:     no\n")
	}
	return nil
}

func cmdWarp(e *env, args []string) error {
	if len(args) != 1 {
		return errors.New("warp: expected <seconds>")
	}
	seconds, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return errors.Wrap(err, "warp: invalid seconds")
	}
	l, err := e.openLedger()
	if err != nil {
		return err
	}
	clock, err := l.Warp(seconds)
	if err != nil {
		return err
	}
	e.printf("slot %d, unix timestamp %d\n", clock.Slot, clock.UnixTimestamp)
	return nil
}

func cmdBalance(e *env, args []string) error {
	if len(args) != 1 {
		return errors.New("balance: expected <account>")
	}
	pk, err := e.keys.resolve(args[0])
	if err != nil {
		return err
	}
	l, err := e.openLedger()
	if err != nil {
		return err
	}
	acc, err := l.Account(pk)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		e.printf("%s: 0 lamports\n", pk)
		return nil
	}
	if err != nil {
		return err
	}

	e.printf("%s: %d lamports, owner %s\n", pk, acc.Lamports, acc.Owner)
	if acc.Owner != token.ProgramID {
		return nil
	}
	switch len(acc.Data) {
	case token.AccountSize:
		ta, err := l.TokenAccount(pk)
		if err != nil {
			return err
		}
		e.printf("  token account: %d of mint %s, owner %s, frozen %t\n", ta.Amount, ta.Mint, ta.Owner, ta.IsFrozen())
	case token.MintSize:
		m, err := l.Mint(pk)
		if err != nil {
			return err
		}
		e.printf("  mint: supply %d, decimals %d\n", m.Supply, m.Decimals)
	}
	return nil
}

func cmdHash(e *env, args []string) error {
	l, err := e.openLedger()
	if err != nil {
		return err
	}
	hash, err := l.AccountsHash()
	if err != nil {
		return err
	}
	e.printf("%s\n", hash)
	return nil
}

func cmdSnapshot(e *env, args []string) error {
	if len(args) != 1 {
		return errors.New("snapshot: expected <path>")
	}
	db, err := e.openDB()
	if err != nil {
		return err
	}
	header, err := accounts.SaveSnapshot(db, args[0])
	if err != nil {
		return errors.Wrap(err, "failed to write snapshot")
	}
	e.printf("wrote %d accounts, hash %s\n", header.AccountsCount, header.AccountsHash)
	return nil
}

func cmdRestore(e *env, args []string) error {
	if len(args) != 1 {
		return errors.New("restore: expected <path>")
	}
	db, err := e.openDB()
	if err != nil {
		return err
	}
	count, err := db.AccountsCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return errors.Errorf("account store in %s is not empty", e.cfg.DataDir)
	}
	header, err := accounts.LoadSnapshot(args[0], db)
	if err != nil {
		return errors.Wrap(err, "failed to restore snapshot")
	}
	e.printf("restored %d accounts, hash %s\n", header.AccountsCount, header.AccountsHash)
	return nil
}

func (e *env) resolveAll(args ...string) ([]types.Pubkey, error) {
	out := make([]types.Pubkey, len(args))
	for i, arg := range args {
		pk, err := e.keys.resolve(arg)
		if err != nil {
			return nil, err
		}
		out[i] = pk
	}
	return out, nil
}

// submit runs a transaction and reports its outcome. Custom codes raised by
// the vault program are reported by name.
func (e *env) submit(fn func(l *ledger.Ledger) (*runtime.ExecutionResult, error)) error {
	l, err := e.openLedger()
	if err != nil {
		return err
	}
	res, err := fn(l)
	if res == nil {
		return err
	}
	if err != nil {
		code, ok := svm.CustomCode(res.Err)
		if !ok {
			return err
		}
		var failed *types.Pubkey
		if program, ok := svm.FailedProgram(res.Err); ok {
			failed = &program
		}
		return errors.Wrap(err, describeCustomCode(code, failed, l.VaultProgramID()))
	}
	e.printf("%s ok, %d compute units\n", res.Signature, res.ComputeUnitsUsed)
	return nil
}

func (e *env) printLogs(res *runtime.ExecutionResult) {
	for _, line := range res.Logs {
		e.logger.Debug(line)
	}
	if !res.Success {
		e.logger.Warn("transaction failed", zap.Stringer("signature", res.Signature), zap.Error(res.Err))
	}
}

// describeCustomCode names a custom code and the program that raised it.
// Only codes raised by the vault program are given vault error names.
func describeCustomCode(code uint32, program *types.Pubkey, vaultProgram types.Pubkey) string {
	switch {
	case program == nil:
		return fmt.Sprintf("custom code %d", code)
	case *program == vaultProgram && vault.ErrorName(code) != "":
		return fmt.Sprintf("custom code %d (vault %s)", code, vault.ErrorName(code))
	default:
		return fmt.Sprintf("custom code %d (program %s)", code, *program)
	}
}
