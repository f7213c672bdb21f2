package ledger

import (
	"crypto/ed25519"
	"fmt"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/svm/programs/system"
	"github.com/fortiblox/stratus-vault/pkg/svm/programs/token"
	"github.com/fortiblox/stratus-vault/pkg/svm/runtime"
	"github.com/fortiblox/stratus-vault/pkg/vault"
)

// PubkeyOf returns the public key of an ed25519 private key.
func PubkeyOf(key ed25519.PrivateKey) types.Pubkey {
	return types.PubkeyFromPublicKey(key.Public().(ed25519.PublicKey))
}

// CreateMint allocates a mint at mint's address and initializes it with
// authority as both mint and freeze authority.
func (l *Ledger) CreateMint(payer, mint ed25519.PrivateKey, authority types.Pubkey, decimals uint8) (*runtime.ExecutionResult, error) {
	mintKey := PubkeyOf(mint)
	return l.Submit(payer, []ed25519.PrivateKey{mint},
		system.CreateAccount(PubkeyOf(payer), mintKey, token.ProgramID, l.rent.MinimumBalance(token.MintSize), token.MintSize),
		token.InitializeMint(mintKey, authority, &authority, decimals),
	)
}

// CreateTokenAccount allocates a token account at account's address for
// mint, owned by owner.
func (l *Ledger) CreateTokenAccount(payer, account ed25519.PrivateKey, mint, owner types.Pubkey) (*runtime.ExecutionResult, error) {
	accountKey := PubkeyOf(account)
	return l.Submit(payer, []ed25519.PrivateKey{account},
		system.CreateAccount(PubkeyOf(payer), accountKey, token.ProgramID, l.rent.MinimumBalance(token.AccountSize), token.AccountSize),
		token.InitializeAccount(accountKey, mint, owner),
	)
}

// MintTo mints amount tokens into destination.
func (l *Ledger) MintTo(payer, authority ed25519.PrivateKey, mint, destination types.Pubkey, amount uint64) (*runtime.ExecutionResult, error) {
	return l.Submit(payer, signersExcept(payer, authority),
		token.MintTo(mint, destination, PubkeyOf(authority), amount),
	)
}

// InitVault allocates a vault config at config's address and opens the
// vault. The initializer must hold the receipt mint's mint and freeze
// authorities and own the escrow account.
func (l *Ledger) InitVault(initializer, config ed25519.PrivateKey, baseMint, escrow, receiptMint types.Pubkey) (*runtime.ExecutionResult, error) {
	programID := l.config.VaultProgramID
	configKey := PubkeyOf(config)
	return l.Submit(initializer, []ed25519.PrivateKey{config},
		system.CreateAccount(PubkeyOf(initializer), configKey, programID, l.rent.MinimumBalance(vault.ConfigSize), vault.ConfigSize),
		vault.NewInitInstruction(programID, vault.InitAccounts{
			Initializer: PubkeyOf(initializer),
			Config:      configKey,
			BaseMint:    baseMint,
			Escrow:      escrow,
			ReceiptMint: receiptMint,
		}),
	)
}

// CloseVault closes a vault and returns custody to its owner.
func (l *Ledger) CloseVault(owner ed25519.PrivateKey, config types.Pubkey) (*runtime.ExecutionResult, error) {
	cfg, err := l.VaultConfig(config)
	if err != nil {
		return nil, err
	}
	ix, err := vault.NewCloseInstruction(l.config.VaultProgramID, vault.CloseAccounts{
		Initializer: PubkeyOf(owner),
		Config:      config,
		Escrow:      cfg.Escrow,
		ReceiptMint: cfg.ReceiptMint,
	})
	if err != nil {
		return nil, err
	}
	return l.Submit(owner, nil, ix)
}

// Deposit locks amount base tokens from depositorBase for lockDuration
// seconds and issues receipt tokens into depositorReceipt.
func (l *Ledger) Deposit(depositor ed25519.PrivateKey, config, depositorBase, depositorReceipt types.Pubkey, amount, lockDuration uint64) (*runtime.ExecutionResult, error) {
	accs, err := l.positionAccounts(depositor, config, depositorBase, depositorReceipt)
	if err != nil {
		return nil, err
	}
	ix, err := vault.NewDepositInstruction(l.config.VaultProgramID, accs, amount, lockDuration)
	if err != nil {
		return nil, err
	}
	return l.Submit(depositor, nil, ix)
}

// Withdraw redeems the depositor's matured deposit.
func (l *Ledger) Withdraw(depositor ed25519.PrivateKey, config, depositorBase, depositorReceipt types.Pubkey) (*runtime.ExecutionResult, error) {
	accs, err := l.positionAccounts(depositor, config, depositorBase, depositorReceipt)
	if err != nil {
		return nil, err
	}
	ix, err := vault.NewWithdrawInstruction(l.config.VaultProgramID, accs)
	if err != nil {
		return nil, err
	}
	return l.Submit(depositor, nil, ix)
}

func (l *Ledger) positionAccounts(depositor ed25519.PrivateKey, config, depositorBase, depositorReceipt types.Pubkey) (vault.DepositAccounts, error) {
	cfg, err := l.VaultConfig(config)
	if err != nil {
		return vault.DepositAccounts{}, err
	}
	return vault.DepositAccounts{
		Depositor:        PubkeyOf(depositor),
		Config:           config,
		BaseMint:         cfg.BaseMint,
		Escrow:           cfg.Escrow,
		DepositorBase:    depositorBase,
		ReceiptMint:      cfg.ReceiptMint,
		DepositorReceipt: depositorReceipt,
	}, nil
}

// Mint decodes the mint at key.
func (l *Ledger) Mint(key types.Pubkey) (*token.Mint, error) {
	acc, err := l.db.GetAccount(key)
	if err != nil {
		return nil, err
	}
	if acc.Owner != token.ProgramID {
		return nil, fmt.Errorf("%s is not a token program account", key)
	}
	return token.UnpackMint(acc.Data)
}

// TokenAccount decodes the token account at key.
func (l *Ledger) TokenAccount(key types.Pubkey) (*token.Account, error) {
	acc, err := l.db.GetAccount(key)
	if err != nil {
		return nil, err
	}
	if acc.Owner != token.ProgramID {
		return nil, fmt.Errorf("%s is not a token program account", key)
	}
	return token.UnpackAccount(acc.Data)
}

// VaultConfig decodes the vault config at key.
func (l *Ledger) VaultConfig(key types.Pubkey) (*vault.Config, error) {
	acc, err := l.db.GetAccount(key)
	if err != nil {
		return nil, err
	}
	if acc.Owner != l.config.VaultProgramID {
		return nil, fmt.Errorf("%s is not a vault account", key)
	}
	return vault.DecodeConfig(acc.Data)
}

// DepositRecord decodes the deposit record of depositor in the vault at
// config.
func (l *Ledger) DepositRecord(config, depositor types.Pubkey) (*vault.DepositRecord, error) {
	key, _, err := vault.DepositAddress(l.config.VaultProgramID, config, depositor)
	if err != nil {
		return nil, err
	}
	acc, err := l.db.GetAccount(key)
	if err != nil {
		return nil, err
	}
	if acc.Owner != l.config.VaultProgramID {
		return nil, fmt.Errorf("%s is not a vault account", key)
	}
	return vault.DecodeDepositRecord(acc.Data)
}

func signersExcept(payer ed25519.PrivateKey, keys ...ed25519.PrivateKey) []ed25519.PrivateKey {
	var out []ed25519.PrivateKey
	for _, k := range keys {
		if !k.Equal(payer) {
			out = append(out, k)
		}
	}
	return out
}
