package runtime

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/accounts"
	"github.com/fortiblox/stratus-vault/pkg/svm"
	"github.com/fortiblox/stratus-vault/pkg/svm/sysvar"
)

// Executor runs transactions against an accounts database one at a time.
type Executor struct {
	mu sync.Mutex

	db       accounts.DB
	programs map[types.Pubkey]Program

	computeLimit uint64
	rent         *sysvar.Rent
	logger       *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. Program logs are mirrored at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithComputeLimit sets the per-transaction compute unit limit. Zero keeps
// the default.
func WithComputeLimit(limit uint64) Option {
	return func(e *Executor) {
		if limit > 0 {
			e.computeLimit = limit
		}
	}
}

// WithRent sets the rent parameters used by builtin programs.
func WithRent(rent *sysvar.Rent) Option {
	return func(e *Executor) {
		e.rent = rent
	}
}

// NewExecutor creates an executor over db.
func NewExecutor(db accounts.DB, opts ...Option) *Executor {
	e := &Executor{
		db:           db,
		programs:     make(map[types.Pubkey]Program),
		computeLimit: svm.CUDefault,
		rent:         sysvar.DefaultRent(),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterProgram makes p callable at id. The program account itself must
// exist in the database and be executable; see WriteGenesis.
func (e *Executor) RegisterProgram(id types.Pubkey, p Program) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.programs[id] = p
}

// ExecutionResult contains the result of transaction execution.
type ExecutionResult struct {
	Signature        types.Signature
	Success          bool
	Err              error
	ComputeUnitsUsed uint64
	Logs             []string
	ModifiedAccounts []types.Pubkey
	DeltaHash        types.Hash
}

// Execute runs tx. Transaction failures are reported in the result and leave
// the database untouched; the returned error is reserved for storage
// failures.
func (e *Executor) Execute(tx *Transaction) (*ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := &ExecutionResult{Signature: tx.Signature()}
	msg := &tx.Message

	if err := msg.Sanitize(); err != nil {
		result.Err = err
		return result, nil
	}
	if len(tx.Marshal()) > MaxTransactionSize {
		result.Err = ErrTransactionTooLarge
		return result, nil
	}
	if err := tx.VerifySignatures(); err != nil {
		result.Err = err
		return result, nil
	}

	ar, err := loadArena(e.db, msg.AccountKeys)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}

	tc := &txContext{
		arena:    ar,
		meter:    svm.NewComputeMeter(e.computeLimit),
		programs: e.programs,
		rent:     e.rent,
		logger:   e.logger,
	}

	if err := tc.meter.Consume(svm.CUSignatureVerify * uint64(len(tx.Signatures))); err != nil {
		result.Err = err
	} else {
		for i, ci := range msg.Instructions {
			if err := e.executeInstruction(tc, msg, ci); err != nil {
				result.Err = &svm.InstructionError{Index: i, Err: err}
				break
			}
		}
	}

	result.ComputeUnitsUsed = tc.meter.Consumed()
	result.Logs = tc.logs

	if result.Err != nil {
		e.logger.Debug("transaction failed",
			zap.Stringer("signature", result.Signature),
			zap.Uint64("compute_units", result.ComputeUnitsUsed),
			zap.Error(result.Err),
		)
		return result, nil
	}

	var writable []types.Pubkey
	for i, key := range msg.AccountKeys {
		if msg.IsWritable(i) {
			writable = append(writable, key)
		}
	}
	changed := ar.changed(writable)
	if err := e.db.Apply(changed); err != nil {
		return nil, fmt.Errorf("commit accounts: %w", err)
	}

	result.Success = true
	result.DeltaHash = accounts.ComputeDeltaHash(changed)
	for _, c := range changed {
		result.ModifiedAccounts = append(result.ModifiedAccounts, c.Pubkey)
	}

	e.logger.Debug("transaction committed",
		zap.Stringer("signature", result.Signature),
		zap.Uint64("compute_units", result.ComputeUnitsUsed),
		zap.Int("modified_accounts", len(changed)),
		zap.Stringer("delta_hash", result.DeltaHash),
	)
	return result, nil
}

func (e *Executor) executeInstruction(tc *txContext, msg *Message, ci CompiledInstruction) error {
	programID := msg.AccountKeys[ci.ProgramIndex]
	prog := tc.arena.get(programID)
	if prog.account.IsZero() {
		return ErrProgramNotFound
	}
	if !prog.account.Executable {
		return svm.ErrAccountNotExecutable
	}

	ix := Instruction{ProgramID: programID, Data: ci.Data}
	infos := make([]*AccountInfo, len(ci.Accounts))
	for j, idx := range ci.Accounts {
		key := msg.AccountKeys[idx]
		infos[j] = &AccountInfo{
			Key:        key,
			IsSigner:   msg.IsSigner(int(idx)),
			IsWritable: msg.IsWritable(int(idx)),
			entry:      tc.arena.get(key),
		}
	}
	return tc.process(ix, infos)
}
