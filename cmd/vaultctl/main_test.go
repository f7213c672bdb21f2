package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-vault/internal/types"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("VAULT_CONFIG", "")
	t.Setenv("VAULT_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("VAULT_KEYS_DIR", filepath.Join(dir, "keys"))
	t.Setenv("VAULT_SYNC_WRITES", "false")
	t.Setenv("VAULT_LOG_LEVEL", "error")
	return dir
}

func vaultctl(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(args, &out)
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := vaultctl(t, args...)
	require.NoError(t, err, "vaultctl %s", strings.Join(args, " "))
	return out
}

func TestKeystore(t *testing.T) {
	ks := &keystore{dir: t.TempDir()}

	key, err := ks.create("alice", false)
	require.NoError(t, err)
	loaded, err := ks.load("alice")
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))

	_, err = ks.create("alice", false)
	assert.Error(t, err)
	_, err = ks.create("alice", true)
	assert.NoError(t, err)

	_, err = ks.create("../escape", false)
	assert.Error(t, err)

	pk, err := ks.resolve("alice")
	require.NoError(t, err)
	again, err := ks.resolve(pk.String())
	require.NoError(t, err)
	assert.Equal(t, pk, again)

	_, err = ks.resolve("bob")
	assert.Error(t, err)
}

func TestUsage(t *testing.T) {
	out, err := vaultctl(t)
	assert.Error(t, err)
	assert.Contains(t, out, "dumpuser <config> <depositor>")

	_, err = vaultctl(t, "frobnicate")
	assert.Error(t, err)

	out, err = vaultctl(t, "-version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}

func TestCommandsRequireGenesis(t *testing.T) {
	setupEnv(t)
	_, err := vaultctl(t, "hash")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "genesis")
}

func TestVaultWorkflow(t *testing.T) {
	dir := setupEnv(t)

	mustRun(t, "genesis", "-time", "1000")
	_, err := vaultctl(t, "genesis")
	assert.Error(t, err)

	for _, name := range []string{"op", "dep", "base", "receipt", "escrow", "dbase", "dreceipt", "cfg"} {
		mustRun(t, "keygen", name)
	}
	mustRun(t, "airdrop", "op", "10000000000")
	mustRun(t, "airdrop", "dep", "1000000000")

	mustRun(t, "create-mint", "-payer", "op", "-mint", "base")
	mustRun(t, "create-mint", "-payer", "op", "-mint", "receipt")
	mustRun(t, "create-token-account", "-payer", "op", "-account", "escrow", "-mint", "base", "-owner", "op")
	mustRun(t, "create-token-account", "-payer", "dep", "-account", "dbase", "-mint", "base", "-owner", "dep")
	mustRun(t, "create-token-account", "-payer", "dep", "-account", "dreceipt", "-mint", "receipt", "-owner", "dep")
	mustRun(t, "mint-to", "-payer", "op", "-authority", "op", "-mint", "base", "-to", "dbase", "-amount", "5000")

	mustRun(t, "init", "-initializer", "op", "-config", "cfg", "-base-mint", "base", "-escrow", "escrow", "-receipt-mint", "receipt")
	out := mustRun(t, "dump", "cfg")
	assert.Contains(t, out, "VaultV1")

	position := []string{"-depositor", "dep", "-config", "cfg", "-base", "dbase", "-receipt", "dreceipt"}
	out = mustRun(t, append([]string{"deposit", "-amount", "1000", "-lock", "3600"}, position...)...)
	depositSig := strings.Fields(out)[0]

	out = mustRun(t, "dumpuser", "cfg", "dep")
	assert.Contains(t, out, "amount:     1000")
	assert.Contains(t, out, "end time:   4600")
	assert.Contains(t, out, "3600s remaining")

	out = mustRun(t, "balance", "dreceipt")
	assert.Contains(t, out, "token account: 1000")
	assert.Contains(t, out, "frozen true")

	_, err = vaultctl(t, append([]string{"withdraw"}, position...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WaitPeriodBreach")

	out = mustRun(t, "tx", depositSig)
	assert.Contains(t, out, "status:    ok")
	out = mustRun(t, "history", "-limit", "2", "dep")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "failed")
	assert.True(t, strings.HasPrefix(lines[1], depositSig))

	mustRun(t, "warp", "3600")
	mustRun(t, append([]string{"withdraw"}, position...)...)

	out = mustRun(t, "balance", "dbase")
	assert.Contains(t, out, "token account: 5000")
	_, err = vaultctl(t, "dumpuser", "cfg", "dep")
	assert.Error(t, err)

	mustRun(t, "close", "-owner", "op", "-config", "cfg")
	_, err = vaultctl(t, "dump", "cfg")
	assert.Error(t, err)

	hash := mustRun(t, "hash")
	snap := filepath.Join(dir, "ledger.snap")
	mustRun(t, "snapshot", snap)

	t.Setenv("VAULT_DATA_DIR", filepath.Join(dir, "restored"))
	mustRun(t, "restore", snap)
	assert.Equal(t, hash, mustRun(t, "hash"))

	_, err = vaultctl(t, "restore", snap)
	assert.Error(t, err)
}

func TestMissingFlags(t *testing.T) {
	setupEnv(t)
	mustRun(t, "genesis", "-time", "1")
	_, err := vaultctl(t, "deposit", "-depositor", "dep")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-config")
}

func TestServeFailsOnBadAddress(t *testing.T) {
	setupEnv(t)
	_, err := vaultctl(t, "serve")
	require.Error(t, err)

	mustRun(t, "genesis", "-time", "1")
	_, err = vaultctl(t, "serve", "-addr", "bad::addr::")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc server failed")
}

func TestDescribeCustomCode(t *testing.T) {
	vaultProgram := types.Pubkey{1}
	other := types.Pubkey{2}

	assert.Equal(t, "custom code 7", describeCustomCode(7, nil, vaultProgram))
	assert.Equal(t, "custom code 7 (vault WaitPeriodBreach)", describeCustomCode(7, &vaultProgram, vaultProgram))
	assert.Equal(t, "custom code 4 (program "+other.String()+")", describeCustomCode(4, &other, vaultProgram))
	assert.Equal(t, "custom code 99 (program "+vaultProgram.String()+")", describeCustomCode(99, &vaultProgram, vaultProgram))
}
