package rpc_test

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/accounts"
	"github.com/fortiblox/stratus-vault/pkg/history"
	"github.com/fortiblox/stratus-vault/pkg/ledger"
	"github.com/fortiblox/stratus-vault/pkg/rpc"
	"github.com/fortiblox/stratus-vault/pkg/svm/programs/system"
	"github.com/fortiblox/stratus-vault/pkg/svm/programs/token"
	"github.com/fortiblox/stratus-vault/pkg/svm/runtime"
	"github.com/fortiblox/stratus-vault/pkg/svm/sysvar"
	"github.com/fortiblox/stratus-vault/pkg/vault"
)

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type valueResult struct {
	Context rpc.Context     `json:"context"`
	Value   json.RawMessage `json:"value"`
}

type testEnv struct {
	l       *ledger.Ledger
	history *history.Store
	server  *rpc.Server
	http    *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := accounts.NewMemoryDB()
	t.Cleanup(func() { db.Close() })

	hcfg := history.DefaultConfig(filepath.Join(t.TempDir(), "history.db"))
	hcfg.NoSync = true
	hist, err := history.Open(hcfg)
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	cfg := ledger.DefaultConfig()
	cfg.History = hist
	require.NoError(t, ledger.Genesis(db, cfg, sysvar.DefaultRent(), sysvar.Clock{UnixTimestamp: 1000}))
	l, err := ledger.Open(db, cfg)
	require.NoError(t, err)

	server := rpc.New(rpc.DefaultConfig(), l, hist)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{l: l, history: hist, server: server, http: ts}
}

func newKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, key, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return key
}

func (e *testEnv) post(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.http.URL, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) call(t *testing.T, method string, params ...interface{}) rpcResponse {
	t.Helper()
	req := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		req["params"] = params
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	resp := e.post(t, string(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out rpcResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "2.0", out.JSONRPC)
	return out
}

func (e *testEnv) value(t *testing.T, method string, v interface{}, params ...interface{}) {
	t.Helper()
	resp := e.call(t, method, params...)
	require.Nil(t, resp.Error, "%s failed", method)
	var wrapped valueResult
	require.NoError(t, json.Unmarshal(resp.Result, &wrapped))
	require.NoError(t, json.Unmarshal(wrapped.Value, v))
}

func TestProtocolErrors(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.http.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	var out rpcResponse
	require.NoError(t, json.NewDecoder(env.post(t, "{not json").Body).Decode(&out))
	require.NotNil(t, out.Error)
	assert.Equal(t, rpc.ParseError, out.Error.Code)

	require.NoError(t, json.NewDecoder(env.post(t, `{"jsonrpc":"1.0","id":1,"method":"getSlot"}`).Body).Decode(&out))
	require.NotNil(t, out.Error)
	assert.Equal(t, rpc.InvalidRequest, out.Error.Code)

	res := env.call(t, "getNothing")
	require.NotNil(t, res.Error)
	assert.Equal(t, rpc.MethodNotFound, res.Error.Code)

	res = env.call(t, "getBalance")
	require.NotNil(t, res.Error)
	assert.Equal(t, rpc.InvalidParams, res.Error.Code)

	res = env.call(t, "getBalance", "not-a-key!")
	require.NotNil(t, res.Error)
	assert.Equal(t, rpc.InvalidParams, res.Error.Code)
}

func TestBatchRequest(t *testing.T) {
	env := newTestEnv(t)
	body := `[{"jsonrpc":"2.0","id":1,"method":"getSlot"},{"jsonrpc":"2.0","id":2,"method":"getHealth"}]`

	var out []rpcResponse
	require.NoError(t, json.NewDecoder(env.post(t, body).Body).Decode(&out))
	require.Len(t, out, 2)
	assert.JSONEq(t, "1", string(out[0].ID))
	assert.JSONEq(t, "0", string(out[0].Result))
	assert.JSONEq(t, `"ok"`, string(out[1].Result))

	var single rpcResponse
	require.NoError(t, json.NewDecoder(env.post(t, "[]").Body).Decode(&single))
	require.NotNil(t, single.Error)
	assert.Equal(t, rpc.InvalidRequest, single.Error.Code)
}

func TestLedgerMethods(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.l.Warp(30)
	require.NoError(t, err)

	var clock rpc.ClockInfo
	res := env.call(t, "getClock")
	require.Nil(t, res.Error)
	require.NoError(t, json.Unmarshal(res.Result, &clock))
	assert.Equal(t, int64(1030), clock.UnixTimestamp)
	assert.Equal(t, uint64(1), clock.Slot)

	res = env.call(t, "getMinimumBalanceForRentExemption", token.AccountSize)
	require.Nil(t, res.Error)
	assert.JSONEq(t, jsonUint(env.l.Rent().MinimumBalance(token.AccountSize)), string(res.Result))

	var hash rpc.LatestBlockhash
	env.value(t, "getLatestBlockhash", &hash)
	expected, err := env.l.AccountsHash()
	require.NoError(t, err)
	assert.Equal(t, expected.String(), hash.Blockhash)

	var version rpc.VersionInfo
	res = env.call(t, "getVersion")
	require.NoError(t, json.Unmarshal(res.Result, &version))
	assert.Equal(t, rpc.Version, version.Core)

	env.server.SetHealthy(false)
	res = env.call(t, "getHealth")
	require.NotNil(t, res.Error)
	assert.Equal(t, rpc.NodeUnhealthy, res.Error.Code)
}

func TestAccountMethods(t *testing.T) {
	env := newTestEnv(t)
	payer := newKey(t)
	payerKey := ledger.PubkeyOf(payer)
	require.NoError(t, env.l.Airdrop(payerKey, 1_000_000_000))

	mint := newKey(t)
	_, err := env.l.CreateMint(payer, mint, payerKey, 9)
	require.NoError(t, err)
	mintKey := ledger.PubkeyOf(mint)

	var balance uint64
	env.value(t, "getBalance", &balance, payerKey.String())
	assert.Less(t, balance, uint64(1_000_000_000))

	var missing *rpc.AccountInfo
	env.value(t, "getAccountInfo", &missing, ledger.PubkeyOf(newKey(t)).String())
	assert.Nil(t, missing)

	var info struct {
		Data  []string `json:"data"`
		Owner string   `json:"owner"`
		Space uint64   `json:"space"`
	}
	env.value(t, "getAccountInfo", &info, mintKey.String(), map[string]string{"encoding": "base58"})
	assert.Equal(t, token.ProgramID.String(), info.Owner)
	assert.Equal(t, uint64(token.MintSize), info.Space)
	require.Len(t, info.Data, 2)
	assert.Equal(t, "base58", info.Data[1])
	raw, err := base58.Decode(info.Data[0])
	require.NoError(t, err)
	m, err := token.UnpackMint(raw)
	require.NoError(t, err)
	assert.Equal(t, uint8(9), m.Decimals)

	env.value(t, "getAccountInfo", &info, mintKey.String(), map[string]interface{}{
		"encoding":  "base64+zstd",
		"dataSlice": map[string]uint64{"offset": 36, "length": 8},
	})
	assert.Equal(t, "base64+zstd", info.Data[1])
	decoded, err := rpc.DecodeData(info.Data[0], rpc.EncodingBase64Zstd)
	require.NoError(t, err)
	assert.Len(t, decoded, 8)

	var multiple []*rpc.AccountInfo
	env.value(t, "getMultipleAccounts", &multiple, []string{mintKey.String(), ledger.PubkeyOf(newKey(t)).String()})
	require.Len(t, multiple, 2)
	assert.NotNil(t, multiple[0])
	assert.Nil(t, multiple[1])

	var supply rpc.UITokenAmount
	env.value(t, "getTokenSupply", &supply, mintKey.String())
	assert.Equal(t, rpc.UITokenAmount{Amount: "0", Decimals: 9}, supply)

	res := env.call(t, "getTokenAccountBalance", mintKey.String())
	require.NotNil(t, res.Error)
	assert.Equal(t, rpc.InvalidParams, res.Error.Code)
}

func TestVaultMethods(t *testing.T) {
	env := newTestEnv(t)
	l := env.l

	operator, depositor := newKey(t), newKey(t)
	op, dep := ledger.PubkeyOf(operator), ledger.PubkeyOf(depositor)
	require.NoError(t, l.Airdrop(op, 10_000_000_000))
	require.NoError(t, l.Airdrop(dep, 1_000_000_000))

	baseMint, receiptMint, escrow := newKey(t), newKey(t), newKey(t)
	_, err := l.CreateMint(operator, baseMint, op, 6)
	require.NoError(t, err)
	_, err = l.CreateMint(operator, receiptMint, op, 6)
	require.NoError(t, err)
	_, err = l.CreateTokenAccount(operator, escrow, ledger.PubkeyOf(baseMint), op)
	require.NoError(t, err)

	dBase, dReceipt := newKey(t), newKey(t)
	_, err = l.CreateTokenAccount(depositor, dBase, ledger.PubkeyOf(baseMint), dep)
	require.NoError(t, err)
	_, err = l.CreateTokenAccount(depositor, dReceipt, ledger.PubkeyOf(receiptMint), dep)
	require.NoError(t, err)
	_, err = l.MintTo(operator, operator, ledger.PubkeyOf(baseMint), ledger.PubkeyOf(dBase), 500)
	require.NoError(t, err)

	config := newKey(t)
	configKey := ledger.PubkeyOf(config)
	_, err = l.InitVault(operator, config, ledger.PubkeyOf(baseMint), ledger.PubkeyOf(escrow), ledger.PubkeyOf(receiptMint))
	require.NoError(t, err)

	var vaultInfo rpc.VaultInfo
	env.value(t, "getVaultConfig", &vaultInfo, configKey.String())
	custody, _, err := vault.CustodyAddress(l.VaultProgramID(), configKey)
	require.NoError(t, err)
	assert.Equal(t, "VaultV1", vaultInfo.Tag)
	assert.Equal(t, op.String(), vaultInfo.Owner)
	assert.Equal(t, custody.String(), vaultInfo.Custody)
	assert.Equal(t, uint64(1), vaultInfo.Coefficient)

	var none *rpc.DepositInfo
	env.value(t, "getDepositRecord", &none, configKey.String(), dep.String())
	assert.Nil(t, none)

	_, err = l.Deposit(depositor, configKey, ledger.PubkeyOf(dBase), ledger.PubkeyOf(dReceipt), 200, 60)
	require.NoError(t, err)

	var record rpc.DepositInfo
	env.value(t, "getDepositRecord", &record, configKey.String(), dep.String())
	assert.Equal(t, uint64(200), record.Amount)
	assert.Equal(t, uint64(1000), record.StartTime)
	assert.Equal(t, uint64(1060), record.EndTime)

	var balance rpc.UITokenAmount
	env.value(t, "getTokenAccountBalance", &balance, ledger.PubkeyOf(dReceipt).String())
	assert.Equal(t, "200", balance.Amount)

	var keyed []rpc.KeyedAccountInfo
	res := env.call(t, "getProgramAccounts", l.VaultProgramID().String(), map[string]interface{}{
		"filters": []map[string]interface{}{{"dataSize": vault.DepositRecordSize}},
	})
	require.Nil(t, res.Error)
	require.NoError(t, json.Unmarshal(res.Result, &keyed))
	require.Len(t, keyed, 1)
	assert.Equal(t, record.Address, keyed[0].Pubkey)

	res = env.call(t, "getProgramAccounts", l.VaultProgramID().String(), map[string]interface{}{
		"filters": []map[string]interface{}{{"memcmp": map[string]interface{}{"offset": 1, "bytes": op.String()}}},
	})
	require.Nil(t, res.Error)
	require.NoError(t, json.Unmarshal(res.Result, &keyed))
	require.Len(t, keyed, 1)
	assert.Equal(t, configKey.String(), keyed[0].Pubkey)

	accs := vault.DepositAccounts{
		Depositor:        dep,
		Config:           configKey,
		BaseMint:         ledger.PubkeyOf(baseMint),
		Escrow:           ledger.PubkeyOf(escrow),
		DepositorBase:    ledger.PubkeyOf(dBase),
		ReceiptMint:      ledger.PubkeyOf(receiptMint),
		DepositorReceipt: ledger.PubkeyOf(dReceipt),
	}
	ix, err := vault.NewWithdrawInstruction(l.VaultProgramID(), accs)
	require.NoError(t, err)

	res = env.call(t, "sendTransaction", encodeTx(t, depositor, ix))
	require.NotNil(t, res.Error)
	assert.Equal(t, rpc.TransactionFailed, res.Error.Code)
	var failure rpc.TransactionFailure
	require.NoError(t, json.Unmarshal(res.Error.Data, &failure))
	require.NotNil(t, failure.CustomCode)
	assert.Equal(t, uint32(vault.ErrWaitPeriodBreach), *failure.CustomCode)

	_, err = l.Warp(60)
	require.NoError(t, err)
	res = env.call(t, "sendTransaction", encodeTx(t, depositor, ix))
	require.Nil(t, res.Error)

	env.value(t, "getDepositRecord", &none, configKey.String(), dep.String())
	assert.Nil(t, none)
}

func TestSendTransaction(t *testing.T) {
	env := newTestEnv(t)
	payer := newKey(t)
	to := ledger.PubkeyOf(newKey(t))
	require.NoError(t, env.l.Airdrop(ledger.PubkeyOf(payer), 1_000))

	tx := signedTx(t, payer, system.Transfer(ledger.PubkeyOf(payer), to, 250))
	res := env.call(t, "sendTransaction", base58.Encode(tx.Marshal()), map[string]string{"encoding": "base58"})
	require.Nil(t, res.Error)
	assert.JSONEq(t, `"`+tx.Signature().String()+`"`, string(res.Result))

	var balance uint64
	env.value(t, "getBalance", &balance, to.String())
	assert.Equal(t, uint64(250), balance)

	res = env.call(t, "sendTransaction", encodeTx(t, payer, system.Transfer(ledger.PubkeyOf(payer), to, 5_000)))
	require.NotNil(t, res.Error)
	assert.Equal(t, rpc.TransactionFailed, res.Error.Code)
	var failure rpc.TransactionFailure
	require.NoError(t, json.Unmarshal(res.Error.Data, &failure))
	require.NotNil(t, failure.CustomCode)
	assert.Equal(t, uint32(system.ErrResultWithNegativeLamports), *failure.CustomCode)
	assert.Equal(t, system.ProgramID.String(), failure.FailedProgram)
	assert.NotEmpty(t, failure.Err)

	forged := signedTx(t, payer, system.Transfer(ledger.PubkeyOf(payer), to, 1))
	forged.Signatures[0][0] ^= 0xff
	res = env.call(t, "sendTransaction", base64.StdEncoding.EncodeToString(forged.Marshal()))
	require.NotNil(t, res.Error)
	assert.Equal(t, rpc.SignatureVerificationFailure, res.Error.Code)

	res = env.call(t, "sendTransaction", base64.StdEncoding.EncodeToString([]byte{1, 2, 3}))
	require.NotNil(t, res.Error)
	assert.Equal(t, rpc.InvalidParams, res.Error.Code)

	env.value(t, "getBalance", &balance, to.String())
	assert.Equal(t, uint64(250), balance)
}

func TestHistoryMethods(t *testing.T) {
	env := newTestEnv(t)
	payer := newKey(t)
	to := ledger.PubkeyOf(newKey(t))
	require.NoError(t, env.l.Airdrop(ledger.PubkeyOf(payer), 1_000))

	first := signedTx(t, payer, system.Transfer(ledger.PubkeyOf(payer), to, 100))
	res := env.call(t, "sendTransaction", base64.StdEncoding.EncodeToString(first.Marshal()))
	require.Nil(t, res.Error)
	second := signedTx(t, payer, system.Transfer(ledger.PubkeyOf(payer), to, 9_999))
	res = env.call(t, "sendTransaction", base64.StdEncoding.EncodeToString(second.Marshal()))
	require.NotNil(t, res.Error)

	var txResult rpc.TransactionResult
	res = env.call(t, "getTransaction", first.Signature().String())
	require.Nil(t, res.Error)
	require.NoError(t, json.Unmarshal(res.Result, &txResult))
	assert.Nil(t, txResult.Meta.Err)
	assert.Equal(t, int64(1000), txResult.BlockTime)
	assert.Contains(t, txResult.Meta.ModifiedAccounts, to.String())

	res = env.call(t, "getTransaction", second.Signature().String())
	require.Nil(t, res.Error)
	require.NoError(t, json.Unmarshal(res.Result, &txResult))
	require.NotNil(t, txResult.Meta.Err)
	require.NotNil(t, txResult.Meta.CustomCode)
	assert.Equal(t, system.ProgramID.String(), txResult.Meta.FailedProgram)

	res = env.call(t, "getTransaction", types.Signature{7}.String())
	require.Nil(t, res.Error)
	assert.True(t, len(res.Result) == 0 || string(res.Result) == "null")

	var statuses []*rpc.SignatureStatus
	env.value(t, "getSignatureStatuses", &statuses, []string{
		first.Signature().String(),
		second.Signature().String(),
		types.Signature{7}.String(),
	})
	require.Len(t, statuses, 3)
	require.NotNil(t, statuses[0])
	assert.Nil(t, statuses[0].Err)
	assert.Equal(t, "finalized", statuses[0].ConfirmationStatus)
	require.NotNil(t, statuses[1])
	assert.NotNil(t, statuses[1].Err)
	assert.Nil(t, statuses[2])

	var sigs []rpc.SignatureResult
	res = env.call(t, "getSignaturesForAddress", to.String())
	require.Nil(t, res.Error)
	require.NoError(t, json.Unmarshal(res.Result, &sigs))
	require.Len(t, sigs, 2)
	assert.Equal(t, second.Signature().String(), sigs[0].Signature)

	res = env.call(t, "getSignaturesForAddress", to.String(), map[string]interface{}{
		"before": second.Signature().String(),
	})
	require.Nil(t, res.Error)
	require.NoError(t, json.Unmarshal(res.Result, &sigs))
	require.Len(t, sigs, 1)
	assert.Equal(t, first.Signature().String(), sigs[0].Signature)

	res = env.call(t, "getSignaturesForAddress", to.String(), map[string]interface{}{"limit": 5000})
	require.NotNil(t, res.Error)
	assert.Equal(t, rpc.InvalidParams, res.Error.Code)

	bare := httptest.NewServer(rpc.New(rpc.DefaultConfig(), env.l, nil).Handler())
	defer bare.Close()
	resp, err := http.Post(bare.URL, "application/json",
		bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"getTransaction","params":["x"]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out rpcResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.Error)
	assert.Equal(t, rpc.InternalError, out.Error.Code)
}

func signedTx(t *testing.T, payer ed25519.PrivateKey, ixs ...runtime.Instruction) *runtime.Transaction {
	t.Helper()
	tx := runtime.NewTransaction(ledger.PubkeyOf(payer), ixs...)
	tx.Message.RecentBlockhash = types.Hash{1}
	require.NoError(t, tx.Sign(payer))
	return tx
}

func encodeTx(t *testing.T, payer ed25519.PrivateKey, ixs ...runtime.Instruction) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString(signedTx(t, payer, ixs...).Marshal())
}

func jsonUint(v uint64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
