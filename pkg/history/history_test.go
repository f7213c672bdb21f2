package history_test

import (
	"crypto/ed25519"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/accounts"
	"github.com/fortiblox/stratus-vault/pkg/history"
	"github.com/fortiblox/stratus-vault/pkg/ledger"
	"github.com/fortiblox/stratus-vault/pkg/svm/programs/system"
	"github.com/fortiblox/stratus-vault/pkg/svm/runtime"
	"github.com/fortiblox/stratus-vault/pkg/svm/sysvar"
)

func openStore(t *testing.T, path string) *history.Store {
	t.Helper()
	cfg := history.DefaultConfig(path)
	cfg.NoSync = true
	cfg.PruneInterval = 0
	store, err := history.Open(cfg)
	require.NoError(t, err)
	return store
}

func newLedger(t *testing.T, store *history.Store) *ledger.Ledger {
	t.Helper()
	db := accounts.NewMemoryDB()
	t.Cleanup(func() { db.Close() })
	cfg := ledger.DefaultConfig()
	cfg.History = store
	require.NoError(t, ledger.Genesis(db, cfg, sysvar.DefaultRent(), sysvar.Clock{UnixTimestamp: 500}))
	l, err := ledger.Open(db, cfg)
	require.NoError(t, err)
	return l
}

func newKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, key, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return key
}

func TestRecordAndQuery(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "history.db"))
	defer store.Close()
	l := newLedger(t, store)

	payer, to := newKey(t), ledger.PubkeyOf(newKey(t))
	require.NoError(t, l.Airdrop(ledger.PubkeyOf(payer), 1_000))

	ok, err := l.Submit(payer, nil, system.Transfer(ledger.PubkeyOf(payer), to, 300))
	require.NoError(t, err)
	_, err = l.Warp(10)
	require.NoError(t, err)
	failed, err := l.Submit(payer, nil, system.Transfer(ledger.PubkeyOf(payer), to, 5_000))
	require.Error(t, err)

	rec, err := store.GetTransaction(ok.Signature)
	require.NoError(t, err)
	assert.True(t, rec.Success)
	assert.Empty(t, rec.Err)
	assert.Equal(t, int64(500), rec.BlockTime)
	assert.ElementsMatch(t, ok.ModifiedAccounts, rec.ModifiedAccounts)
	tx, err := runtime.UnmarshalTransaction(rec.Raw)
	require.NoError(t, err)
	assert.Equal(t, ok.Signature, tx.Signature())

	rec, err = store.GetTransaction(failed.Signature)
	require.NoError(t, err)
	assert.False(t, rec.Success)
	assert.NotEmpty(t, rec.Err)
	assert.Equal(t, uint64(1), rec.Slot)
	assert.Equal(t, int64(510), rec.BlockTime)
	require.NotNil(t, rec.CustomCode)
	assert.Equal(t, uint32(system.ErrResultWithNegativeLamports), *rec.CustomCode)
	require.NotNil(t, rec.FailedProgram)
	assert.Equal(t, system.ProgramID, *rec.FailedProgram)

	infos, err := store.GetSignaturesForAddress(to, nil)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, failed.Signature, infos[0].Signature)
	assert.Equal(t, ok.Signature, infos[1].Signature)

	infos, err = store.GetSignaturesForAddress(to, &history.SignatureQueryOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, failed.Signature, infos[0].Signature)

	infos, err = store.GetSignaturesForAddress(to, &history.SignatureQueryOptions{Before: &failed.Signature})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, ok.Signature, infos[0].Signature)

	infos, err = store.GetSignaturesForAddress(ledger.PubkeyOf(newKey(t)), nil)
	require.NoError(t, err)
	assert.Empty(t, infos)

	missing := types.Signature{9}
	_, err = store.GetSignaturesForAddress(to, &history.SignatureQueryOptions{Before: &missing})
	assert.ErrorIs(t, err, history.ErrTransactionNotFound)

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.TransactionCount)
}

func TestRejectedTransactionsAreNotRecorded(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "history.db"))
	defer store.Close()
	l := newLedger(t, store)

	payer := newKey(t)
	require.NoError(t, l.Airdrop(ledger.PubkeyOf(payer), 1_000))

	tx := runtime.NewTransaction(ledger.PubkeyOf(payer), system.Transfer(ledger.PubkeyOf(payer), ledger.PubkeyOf(newKey(t)), 1))
	require.NoError(t, tx.Sign(payer))
	tx.Signatures[0][0] ^= 0xff

	res, err := l.Execute(tx)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, runtime.ErrSignatureFailure)

	_, err = store.GetTransaction(tx.Signature())
	assert.ErrorIs(t, err, history.ErrTransactionNotFound)
}

func TestPruneAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store := openStore(t, path)
	l := newLedger(t, store)

	payer, to := newKey(t), ledger.PubkeyOf(newKey(t))
	require.NoError(t, l.Airdrop(ledger.PubkeyOf(payer), 1_000))

	var sigs []types.Signature
	for i := uint64(1); i <= 5; i++ {
		res, err := l.Submit(payer, nil, system.Transfer(ledger.PubkeyOf(payer), to, i))
		require.NoError(t, err)
		sigs = append(sigs, res.Signature)
	}

	pruned, err := store.Prune(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), pruned)

	pruned, err = store.Prune(2)
	require.NoError(t, err)
	assert.Zero(t, pruned)

	_, err = store.GetTransaction(sigs[0])
	assert.ErrorIs(t, err, history.ErrTransactionNotFound)
	infos, err := store.GetSignaturesForAddress(to, nil)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, sigs[4], infos[0].Signature)
	assert.Equal(t, sigs[3], infos[1].Signature)

	require.NoError(t, store.Close())
	_, err = store.GetTransaction(sigs[4])
	assert.ErrorIs(t, err, history.ErrClosed)

	reopened := openStore(t, path)
	defer reopened.Close()
	stats, err := reopened.GetStats()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.TransactionCount)
	assert.Equal(t, uint64(5), stats.LatestSeq)
}

func TestKeyEncoding(t *testing.T) {
	addr := types.Pubkey{1, 2, 3}
	gotAddr, seq := history.DecodeAddressSeqKey(history.EncodeAddressSeqKey(addr, 42))
	assert.Equal(t, addr, gotAddr)
	assert.Equal(t, uint64(42), seq)
	assert.Equal(t, uint64(7), history.DecodeSeqKey(history.EncodeSeqKey(7)))
	assert.Zero(t, history.DecodeSeqKey([]byte{1}))
}
