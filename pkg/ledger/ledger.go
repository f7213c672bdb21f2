// Package ledger wires the runtime to the builtin programs and the vault
// program over an accounts database.
//
// The ledger is responsible for:
// - Writing genesis state (sysvars and program accounts)
// - Executing signed transactions atomically
// - Advancing the ledger clock
// - Computing the accounts hash that identifies the current state
package ledger

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/accounts"
	"github.com/fortiblox/stratus-vault/pkg/svm"
	"github.com/fortiblox/stratus-vault/pkg/svm/programs/system"
	"github.com/fortiblox/stratus-vault/pkg/svm/programs/token"
	"github.com/fortiblox/stratus-vault/pkg/svm/runtime"
	"github.com/fortiblox/stratus-vault/pkg/svm/sysvar"
	"github.com/fortiblox/stratus-vault/pkg/vault"
)

// Errors.
var (
	ErrNotInitialized    = errors.New("ledger has no genesis")
	ErrTransactionFailed = errors.New("transaction failed")
	ErrNegativeWarp      = errors.New("warp duration must not be negative")
	ErrClockOverflow     = errors.New("warp would overflow the ledger clock")
)

// Config holds ledger configuration.
type Config struct {
	// VaultProgramID is the address the vault program is registered at.
	VaultProgramID types.Pubkey

	// ComputeLimit is the per-transaction compute budget. Zero uses the
	// runtime default.
	ComputeLimit uint64

	// Logger receives execution logs. Defaults to a no-op logger.
	Logger *zap.Logger

	// OnTransactionComplete is called after each executed transaction.
	OnTransactionComplete func(result *runtime.ExecutionResult)

	// History records every transaction that reached execution. Optional.
	History Recorder
}

// Recorder persists executed transactions.
type Recorder interface {
	Record(tx *runtime.Transaction, result *runtime.ExecutionResult, clock *sysvar.Clock) error
}

// DefaultConfig returns the default ledger configuration.
func DefaultConfig() Config {
	return Config{
		VaultProgramID: vault.DefaultProgramID,
		ComputeLimit:   svm.CUDefault,
	}
}

// Ledger executes transactions against an accounts database.
type Ledger struct {
	mu sync.Mutex

	db     accounts.DB
	exec   *runtime.Executor
	rent   *sysvar.Rent
	config Config
	logger *zap.Logger
}

// Genesis writes the initial state for a new ledger: the clock and rent
// sysvars and the system, token and vault program accounts.
func Genesis(db accounts.DB, config Config, rent *sysvar.Rent, clock sysvar.Clock) error {
	if config.VaultProgramID.IsZero() {
		config.VaultProgramID = vault.DefaultProgramID
	}
	return runtime.WriteGenesis(db, runtime.GenesisConfig{
		Rent:  rent,
		Clock: clock,
		Programs: []types.Pubkey{
			system.ProgramID,
			token.ProgramID,
			config.VaultProgramID,
		},
	})
}

// Open opens a ledger over a database that already holds genesis state.
func Open(db accounts.DB, config Config) (*Ledger, error) {
	if config.VaultProgramID.IsZero() {
		config.VaultProgramID = vault.DefaultProgramID
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rent, err := runtime.ReadRent(db)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("read rent: %w", err)
	}

	exec := runtime.NewExecutor(db,
		runtime.WithLogger(logger),
		runtime.WithComputeLimit(config.ComputeLimit),
		runtime.WithRent(rent),
	)
	exec.RegisterProgram(system.ProgramID, system.NewProcessor())
	exec.RegisterProgram(token.ProgramID, token.NewProcessor())
	exec.RegisterProgram(config.VaultProgramID, vault.NewProcessor())

	return &Ledger{
		db:     db,
		exec:   exec,
		rent:   rent,
		config: config,
		logger: logger,
	}, nil
}

// DB returns the underlying accounts database.
func (l *Ledger) DB() accounts.DB {
	return l.db
}

// VaultProgramID returns the vault program address.
func (l *Ledger) VaultProgramID() types.Pubkey {
	return l.config.VaultProgramID
}

// Rent returns the rent parameters recorded at genesis.
func (l *Ledger) Rent() *sysvar.Rent {
	return l.rent
}

// Execute runs a signed transaction.
func (l *Ledger) Execute(tx *runtime.Transaction) (*runtime.ExecutionResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	result, err := l.exec.Execute(tx)
	if err != nil {
		return nil, err
	}
	l.logger.Info("transaction executed",
		zap.Stringer("signature", result.Signature),
		zap.Bool("success", result.Success),
		zap.Uint64("compute_units", result.ComputeUnitsUsed),
	)
	if l.config.History != nil && reachedExecution(result) {
		l.record(tx, result)
	}
	if l.config.OnTransactionComplete != nil {
		l.config.OnTransactionComplete(result)
	}
	return result, nil
}

// reachedExecution reports whether result comes from running instructions
// rather than from rejecting the transaction up front.
func reachedExecution(result *runtime.ExecutionResult) bool {
	var ie *svm.InstructionError
	return result.Success || errors.As(result.Err, &ie)
}

// record stores result in the history. A history failure never fails the
// transaction, which is already committed.
func (l *Ledger) record(tx *runtime.Transaction, result *runtime.ExecutionResult) {
	clock, err := runtime.ReadClock(l.db)
	if err == nil {
		err = l.config.History.Record(tx, result, clock)
	}
	if err != nil {
		l.logger.Error("failed to record transaction",
			zap.Stringer("signature", result.Signature),
			zap.Error(err),
		)
	}
}

// Submit compiles instructions into a transaction paid for by payer, signs
// it with payer and signers, and executes it. A transaction that runs but
// fails is returned as the result together with an error wrapping
// ErrTransactionFailed.
func (l *Ledger) Submit(payer ed25519.PrivateKey, signers []ed25519.PrivateKey, instructions ...runtime.Instruction) (*runtime.ExecutionResult, error) {
	payerKey := types.PubkeyFromPublicKey(payer.Public().(ed25519.PublicKey))
	tx := runtime.NewTransaction(payerKey, instructions...)

	hash, err := l.AccountsHash()
	if err != nil {
		return nil, err
	}
	tx.Message.RecentBlockhash = hash

	if err := tx.Sign(append([]ed25519.PrivateKey{payer}, signers...)...); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	result, err := l.Execute(tx)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return result, fmt.Errorf("%w: %w", ErrTransactionFailed, result.Err)
	}
	return result, nil
}

// Account returns a copy of the account at key.
func (l *Ledger) Account(key types.Pubkey) (*accounts.Account, error) {
	return l.db.GetAccount(key)
}

// AccountsHash returns the digest of the current state.
func (l *Ledger) AccountsHash() (types.Hash, error) {
	return accounts.ComputeAccountsHash(l.db)
}

// Airdrop credits lamports to an account outside of any transaction.
func (l *Ledger) Airdrop(to types.Pubkey, lamports uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return runtime.Airdrop(l.db, to, lamports)
}

// Clock returns the current ledger clock.
func (l *Ledger) Clock() (*sysvar.Clock, error) {
	return runtime.ReadClock(l.db)
}

// Warp advances the ledger clock by seconds and moves to the next slot.
func (l *Ledger) Warp(seconds int64) (*sysvar.Clock, error) {
	if seconds < 0 {
		return nil, ErrNegativeWarp
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	clock, err := runtime.ReadClock(l.db)
	if err != nil {
		return nil, err
	}
	if clock.UnixTimestamp > math.MaxInt64-seconds {
		return nil, ErrClockOverflow
	}
	clock.UnixTimestamp += seconds
	clock.Slot++
	if err := runtime.SetClock(l.db, clock); err != nil {
		return nil, err
	}
	l.logger.Debug("clock advanced",
		zap.Uint64("slot", clock.Slot),
		zap.Int64("unix_timestamp", clock.UnixTimestamp),
	)
	return clock, nil
}

// SetUnixTimestamp moves the ledger clock to ts.
func (l *Ledger) SetUnixTimestamp(ts int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	clock, err := runtime.ReadClock(l.db)
	if err != nil {
		return err
	}
	clock.UnixTimestamp = ts
	return runtime.SetClock(l.db, clock)
}
