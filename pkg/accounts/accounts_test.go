package accounts

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-vault/internal/types"
)

func testKey(b byte) types.Pubkey {
	var p types.Pubkey
	p[0] = b
	p[31] = b
	return p
}

func testAccount(lamports uint64, data string) *Account {
	return &Account{
		Lamports: lamports,
		Data:     []byte(data),
		Owner:    types.TokenProgramAddr,
	}
}

func TestAccountSerialization(t *testing.T) {
	account := &Account{
		Lamports:   1_000_000_000,
		Data:       []byte("vault data"),
		Owner:      types.TokenProgramAddr,
		Executable: true,
	}

	restored, err := DeserializeAccount(account.Serialize())
	require.NoError(t, err)
	assert.Equal(t, account, restored)

	_, err = DeserializeAccount(account.Serialize()[:20])
	assert.ErrorIs(t, err, ErrInvalidData)

	bad := account.Serialize()
	bad[len(bad)-1] = 7
	_, err = DeserializeAccount(bad)
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestAccountClone(t *testing.T) {
	a := testAccount(5, "abc")
	c := a.Clone()
	c.Data[0] = 'z'
	c.Lamports = 9
	assert.Equal(t, "abc", string(a.Data))
	assert.Equal(t, uint64(5), a.Lamports)

	var nilAcc *Account
	assert.Nil(t, nilAcc.Clone())
}

func runDBTests(t *testing.T, db DB) {
	t.Helper()

	k1, k2, k3 := testKey(3), testKey(1), testKey(2)

	_, err := db.GetAccount(k1)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	require.NoError(t, db.SetAccount(k1, testAccount(100, "one")))
	require.NoError(t, db.Apply([]Entry{
		{Pubkey: k2, Account: testAccount(200, "two")},
		{Pubkey: k3, Account: testAccount(300, "")},
	}))

	got, err := db.GetAccount(k1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got.Lamports)
	assert.Equal(t, "one", string(got.Data))

	// Mutating a returned account must not leak into the store.
	got.Data[0] = 'X'
	again, err := db.GetAccount(k1)
	require.NoError(t, err)
	assert.Equal(t, "one", string(again.Data))

	count, err := db.AccountsCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	var order []types.Pubkey
	require.NoError(t, db.ForEach(func(pubkey types.Pubkey, _ *Account) error {
		order = append(order, pubkey)
		return nil
	}))
	assert.Equal(t, []types.Pubkey{k2, k3, k1}, order)

	stop := errors.New("stop")
	visited := 0
	err = db.ForEach(func(types.Pubkey, *Account) error {
		visited++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, visited)

	// Zero accounts are deleted on write.
	require.NoError(t, db.Apply([]Entry{{Pubkey: k3, Account: &Account{Owner: types.TokenProgramAddr}}}))
	exists, err := db.HasAccount(k3)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, db.DeleteAccount(k2))
	require.NoError(t, db.DeleteAccount(k2))
	count, err = db.AccountsCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestMemoryDB(t *testing.T) {
	db := NewMemoryDB()
	runDBTests(t, db)

	require.NoError(t, db.Close())
	_, err := db.GetAccount(testKey(1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBadgerDB(t *testing.T) {
	db, err := NewBadgerDB(BadgerDBConfig{InMemory: true})
	require.NoError(t, err)
	runDBTests(t, db)

	require.NoError(t, db.RunGC())
	require.NoError(t, db.Close())
	assert.ErrorIs(t, db.Close(), ErrClosed)
}

func TestBadgerDBPersists(t *testing.T) {
	dir := t.TempDir()

	db, err := NewBadgerDB(DefaultBadgerDBConfig(dir))
	require.NoError(t, err)
	require.NoError(t, db.SetAccount(testKey(9), testAccount(42, "persist")))
	require.NoError(t, db.Close())

	db, err = NewBadgerDB(DefaultBadgerDBConfig(dir))
	require.NoError(t, err)
	defer db.Close()

	got, err := db.GetAccount(testKey(9))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got.Lamports)
	assert.Equal(t, "persist", string(got.Data))
}

func TestAccountsHashMatchesAcrossStores(t *testing.T) {
	mem := NewMemoryDB()
	defer mem.Close()
	bdb, err := NewBadgerDB(BadgerDBConfig{InMemory: true})
	require.NoError(t, err)
	defer bdb.Close()

	entries := []Entry{
		{Pubkey: testKey(5), Account: testAccount(1, "a")},
		{Pubkey: testKey(2), Account: testAccount(2, "b")},
		{Pubkey: testKey(7), Account: testAccount(3, "c")},
	}
	require.NoError(t, mem.Apply(entries))
	require.NoError(t, bdb.Apply(entries))

	h1, err := ComputeAccountsHash(mem)
	require.NoError(t, err)
	h2, err := ComputeAccountsHash(bdb)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.False(t, h1.IsZero())

	require.NoError(t, mem.SetAccount(testKey(2), testAccount(3, "b")))
	h3, err := ComputeAccountsHash(mem)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestComputeDeltaHash(t *testing.T) {
	assert.True(t, ComputeDeltaHash(nil).IsZero())

	a := []Entry{
		{Pubkey: testKey(1), Account: testAccount(1, "x")},
		{Pubkey: testKey(2), Account: nil},
	}
	b := []Entry{a[1], a[0]}
	assert.Equal(t, ComputeDeltaHash(a), ComputeDeltaHash(b))
}

func TestComputeMerkleRoot(t *testing.T) {
	assert.True(t, ComputeMerkleRoot(nil).IsZero())

	h := types.Hash{1}
	one := ComputeMerkleRoot([]types.Hash{h})
	assert.Equal(t, computeLeafHash(h), one)

	three := ComputeMerkleRoot([]types.Hash{{1}, {2}, {3}})
	left := computeNodeHash(computeLeafHash(types.Hash{1}), computeLeafHash(types.Hash{2}))
	right := computeNodeHash(computeLeafHash(types.Hash{3}), types.Hash{})
	assert.Equal(t, computeNodeHash(left, right), three)
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := NewMemoryDB()
	defer src.Close()
	for i := byte(1); i <= 20; i++ {
		require.NoError(t, src.SetAccount(testKey(i), testAccount(uint64(i)*10, string(bytes.Repeat([]byte{i}, int(i))))))
	}

	path := filepath.Join(t.TempDir(), "snap", "ledger.vlsn")
	header, err := SaveSnapshot(src, path)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), header.AccountsCount)

	dst, err := NewBadgerDB(BadgerDBConfig{InMemory: true})
	require.NoError(t, err)
	defer dst.Close()

	loaded, err := LoadSnapshot(path, dst)
	require.NoError(t, err)
	assert.Equal(t, header.AccountsHash, loaded.AccountsHash)

	got, err := ComputeAccountsHash(dst)
	require.NoError(t, err)
	assert.Equal(t, header.AccountsHash, got)
}

func TestSnapshotRejectsCorruption(t *testing.T) {
	src := NewMemoryDB()
	defer src.Close()
	require.NoError(t, src.SetAccount(testKey(1), testAccount(10, "a")))

	var buf bytes.Buffer
	_, err := WriteSnapshot(src, &buf)
	require.NoError(t, err)

	raw := buf.Bytes()
	// Flip a byte of the stored hash.
	raw[len(snapshotMagic)+12] ^= 0xff

	dst := NewMemoryDB()
	defer dst.Close()
	_, err = ReadSnapshot(bytes.NewReader(raw), dst)
	assert.ErrorIs(t, err, ErrSnapshotCorrupt)

	count, err := dst.AccountsCount()
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = ReadSnapshot(bytes.NewReader([]byte("nope")), dst)
	assert.Error(t, err)

	_, err = LoadSnapshot(filepath.Join(t.TempDir(), "missing"), dst)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}
