package system_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/accounts"
	"github.com/fortiblox/stratus-vault/pkg/svm"
	"github.com/fortiblox/stratus-vault/pkg/svm/programs/system"
	"github.com/fortiblox/stratus-vault/pkg/svm/runtime"
)

var ownerProgram = types.Pubkey{0x0e, 0x01}

type harness struct {
	db    *accounts.MemoryDB
	exec  *runtime.Executor
	payer ed25519.PrivateKey
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := accounts.NewMemoryDB()
	t.Cleanup(func() { db.Close() })

	require.NoError(t, runtime.WriteGenesis(db, runtime.GenesisConfig{
		Programs: []types.Pubkey{system.ProgramID},
	}))
	exec := runtime.NewExecutor(db)
	exec.RegisterProgram(system.ProgramID, system.NewProcessor())

	payer := newKey(t)
	require.NoError(t, runtime.Airdrop(db, pub(payer), 10_000_000))
	return &harness{db: db, exec: exec, payer: payer}
}

func newKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, key, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return key
}

func pub(key ed25519.PrivateKey) types.Pubkey {
	return types.PubkeyFromPublicKey(key.Public().(ed25519.PublicKey))
}

func (h *harness) run(t *testing.T, signers []ed25519.PrivateKey, ixs ...runtime.Instruction) *runtime.ExecutionResult {
	t.Helper()
	tx := runtime.NewTransaction(pub(h.payer), ixs...)
	require.NoError(t, tx.Sign(append([]ed25519.PrivateKey{h.payer}, signers...)...))
	res, err := h.exec.Execute(tx)
	require.NoError(t, err)
	return res
}

func (h *harness) account(t *testing.T, key types.Pubkey) *accounts.Account {
	t.Helper()
	acc, err := h.db.GetAccount(key)
	require.NoError(t, err)
	return acc
}

func TestCreateAccount(t *testing.T) {
	h := newHarness(t)
	newAcc := newKey(t)

	res := h.run(t, []ed25519.PrivateKey{newAcc},
		system.CreateAccount(pub(h.payer), pub(newAcc), ownerProgram, 500_000, 64))
	require.True(t, res.Success, "%v", res.Err)

	acc := h.account(t, pub(newAcc))
	assert.Equal(t, uint64(500_000), acc.Lamports)
	assert.Equal(t, ownerProgram, acc.Owner)
	assert.Len(t, acc.Data, 64)
	assert.Equal(t, uint64(9_500_000), h.account(t, pub(h.payer)).Lamports)
}

func TestCreateAccountAlreadyInUse(t *testing.T) {
	h := newHarness(t)
	newAcc := newKey(t)
	require.NoError(t, runtime.Airdrop(h.db, pub(newAcc), 1))

	res := h.run(t, []ed25519.PrivateKey{newAcc},
		system.CreateAccount(pub(h.payer), pub(newAcc), ownerProgram, 500_000, 64))
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, system.ErrAccountAlreadyInUse)
	assert.Equal(t, uint64(1), h.account(t, pub(newAcc)).Lamports)
}

func TestCreateAccountInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	newAcc := newKey(t)

	res := h.run(t, []ed25519.PrivateKey{newAcc},
		system.CreateAccount(pub(h.payer), pub(newAcc), ownerProgram, 20_000_000, 0))
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, system.ErrResultWithNegativeLamports)

	_, err := h.db.GetAccount(pub(newAcc))
	assert.ErrorIs(t, err, accounts.ErrAccountNotFound)
}

func TestCreateAccountTooLarge(t *testing.T) {
	h := newHarness(t)
	newAcc := newKey(t)

	res := h.run(t, []ed25519.PrivateKey{newAcc},
		system.CreateAccount(pub(h.payer), pub(newAcc), ownerProgram, 1, system.MaxPermittedDataLength+1))
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, system.ErrInvalidAccountDataLength)
}

func TestCreateAccountRequiresNewAccountSignature(t *testing.T) {
	h := newHarness(t)
	target := types.Pubkey{0x42}

	ix := system.CreateAccount(pub(h.payer), target, ownerProgram, 1000, 0)
	ix.Accounts[1].IsSigner = false
	res := h.run(t, nil, ix)
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, svm.ErrMissingRequiredSignature)
}

func TestTransfer(t *testing.T) {
	h := newHarness(t)
	to := types.Pubkey{0x77}

	res := h.run(t, nil, system.Transfer(pub(h.payer), to, 1234))
	require.True(t, res.Success, "%v", res.Err)
	assert.Equal(t, uint64(1234), h.account(t, to).Lamports)
	assert.Equal(t, types.SystemProgramAddr, h.account(t, to).Owner)

	res = h.run(t, nil, system.Transfer(pub(h.payer), to, 100_000_000))
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, system.ErrResultWithNegativeLamports)
}

func TestAllocateAndAssign(t *testing.T) {
	h := newHarness(t)
	acc := newKey(t)
	require.NoError(t, runtime.Airdrop(h.db, pub(acc), 1_000_000))

	res := h.run(t, []ed25519.PrivateKey{acc},
		system.Allocate(pub(acc), 16),
		system.Assign(pub(acc), ownerProgram),
	)
	require.True(t, res.Success, "%v", res.Err)

	got := h.account(t, pub(acc))
	assert.Len(t, got.Data, 16)
	assert.Equal(t, ownerProgram, got.Owner)

	res = h.run(t, []ed25519.PrivateKey{acc}, system.Allocate(pub(acc), 32))
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, system.ErrAccountAlreadyInUse)

	// Crediting a non-system account is allowed.
	res = h.run(t, nil, system.Transfer(pub(h.payer), pub(acc), 1))
	require.True(t, res.Success, "%v", res.Err)
}

func TestInvalidInstructionData(t *testing.T) {
	h := newHarness(t)

	for name, data := range map[string][]byte{
		"short tag":   {1, 0},
		"unknown tag": {99, 0, 0, 0},
		"short args":  {2, 0, 0, 0, 1},
	} {
		t.Run(name, func(t *testing.T) {
			ix := runtime.NewInstruction(system.ProgramID, data, runtime.NewAccountMeta(pub(h.payer), true))
			res := h.run(t, nil, ix)
			require.False(t, res.Success)
			assert.ErrorIs(t, res.Err, svm.ErrInvalidInstructionData)
		})
	}
}
