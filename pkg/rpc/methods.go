package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/accounts"
	"github.com/fortiblox/stratus-vault/pkg/svm/runtime"
	"github.com/fortiblox/stratus-vault/pkg/vault"
)

// Version is reported by getVersion.
const Version = "1.18.0"

// FeatureSet is reported by getVersion.
const FeatureSet uint32 = 0

// maxMultipleAccounts bounds getMultipleAccounts.
const maxMultipleAccounts = 100

// parseParams splits positional params into raw values.
func parseParams(params json.RawMessage, min int) ([]json.RawMessage, *RPCError) {
	var args []json.RawMessage
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, InvalidParamsError("invalid params")
		}
	}
	if len(args) < min {
		return nil, InvalidParamsError("missing required parameter")
	}
	return args, nil
}

func parsePubkey(raw json.RawMessage) (types.Pubkey, *RPCError) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return types.Pubkey{}, InvalidParamsError("invalid pubkey")
	}
	pk, err := types.PubkeyFromBase58(s)
	if err != nil {
		return types.Pubkey{}, InvalidParamsError("Invalid param: " + err.Error())
	}
	return pk, nil
}

// parseConfig decodes an optional trailing config object.
func parseConfig(args []json.RawMessage, index int, v interface{}) *RPCError {
	if len(args) <= index || string(args[index]) == "null" {
		return nil
	}
	if err := json.Unmarshal(args[index], v); err != nil {
		return InvalidParamsError("invalid config")
	}
	return nil
}

func (s *Server) context() (Context, *RPCError) {
	clock, err := s.ledger.Clock()
	if err != nil {
		return Context{}, InternalServerErrorf("read clock: %v", err)
	}
	return Context{Slot: clock.Slot}, nil
}

func (s *Server) withContext(value interface{}) (interface{}, *RPCError) {
	ctx, rpcErr := s.context()
	if rpcErr != nil {
		return nil, rpcErr
	}
	return ResponseWithContext{Context: ctx, Value: value}, nil
}

// lookup returns the account at key, or nil if it does not exist.
func (s *Server) lookup(key types.Pubkey) (*accounts.Account, *RPCError) {
	acc, err := s.ledger.Account(key)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("read account %s: %v", key, err)
	}
	return acc, nil
}

func accountInfo(acc *accounts.Account, encoding Encoding, slice *DataSlice) (*AccountInfo, *RPCError) {
	data, err := EncodeAccountData(ApplyDataSlice(acc.Data, slice), encoding)
	if err != nil {
		return nil, InternalServerErrorf("%v", err)
	}
	return &AccountInfo{
		Data:       data,
		Executable: acc.Executable,
		Lamports:   acc.Lamports,
		Owner:      acc.Owner.String(),
		Space:      uint64(len(acc.Data)),
	}, nil
}

// getAccountInfo returns account information for a pubkey.
// Params: [pubkey, config?]
func (s *Server) getAccountInfo(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	key, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	var cfg AccountInfoConfig
	if rpcErr := parseConfig(args, 1, &cfg); rpcErr != nil {
		return nil, rpcErr
	}

	acc, rpcErr := s.lookup(key)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if acc == nil {
		return s.withContext(nil)
	}
	info, rpcErr := accountInfo(acc, cfg.Encoding, cfg.DataSlice)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return s.withContext(info)
}

// getBalance returns the lamport balance of an account.
// Params: [pubkey]
func (s *Server) getBalance(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	key, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	acc, rpcErr := s.lookup(key)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var lamports uint64
	if acc != nil {
		lamports = acc.Lamports
	}
	return s.withContext(lamports)
}

// getMultipleAccounts returns account information for several pubkeys.
// Params: [[pubkey...], config?]
func (s *Server) getMultipleAccounts(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var keys []json.RawMessage
	if err := json.Unmarshal(args[0], &keys); err != nil {
		return nil, InvalidParamsError("invalid pubkey list")
	}
	if len(keys) > maxMultipleAccounts {
		return nil, InvalidParamsError("too many pubkeys")
	}
	var cfg AccountInfoConfig
	if rpcErr := parseConfig(args, 1, &cfg); rpcErr != nil {
		return nil, rpcErr
	}

	values := make([]*AccountInfo, len(keys))
	for i, raw := range keys {
		key, rpcErr := parsePubkey(raw)
		if rpcErr != nil {
			return nil, rpcErr
		}
		acc, rpcErr := s.lookup(key)
		if rpcErr != nil {
			return nil, rpcErr
		}
		if acc == nil {
			continue
		}
		if values[i], rpcErr = accountInfo(acc, cfg.Encoding, cfg.DataSlice); rpcErr != nil {
			return nil, rpcErr
		}
	}
	return s.withContext(values)
}

// getProgramAccounts returns all accounts owned by a program.
// Params: [programId, config?]
func (s *Server) getProgramAccounts(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	programID, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	var cfg ProgramAccountsConfig
	if rpcErr := parseConfig(args, 1, &cfg); rpcErr != nil {
		return nil, rpcErr
	}
	filters, rpcErr := compileFilters(cfg.Filters)
	if rpcErr != nil {
		return nil, rpcErr
	}

	result := []KeyedAccountInfo{}
	var encodeErr *RPCError
	err := s.ledger.DB().ForEach(func(key types.Pubkey, acc *accounts.Account) error {
		if acc.Owner != programID || !matchesFilters(acc.Data, filters) {
			return nil
		}
		info, rpcErr := accountInfo(acc, cfg.Encoding, cfg.DataSlice)
		if rpcErr != nil {
			encodeErr = rpcErr
			return errors.New(rpcErr.Message)
		}
		result = append(result, KeyedAccountInfo{Pubkey: key.String(), Account: info})
		return nil
	})
	if encodeErr != nil {
		return nil, encodeErr
	}
	if err != nil {
		return nil, InternalServerErrorf("scan accounts: %v", err)
	}

	if cfg.WithContext {
		return s.withContext(result)
	}
	return result, nil
}

// compiledFilter is a ProgramAccountFilter with its memcmp bytes decoded.
type compiledFilter struct {
	dataSize *uint64
	offset   uint64
	bytes    []byte
}

func compileFilters(filters []ProgramAccountFilter) ([]compiledFilter, *RPCError) {
	out := make([]compiledFilter, 0, len(filters))
	for _, f := range filters {
		switch {
		case f.DataSize != nil && f.Memcmp == nil:
			out = append(out, compiledFilter{dataSize: f.DataSize})
		case f.Memcmp != nil && f.DataSize == nil:
			encoding := f.Memcmp.Encoding
			if encoding == "" {
				encoding = EncodingBase58
			}
			b, err := DecodeData(f.Memcmp.Bytes, encoding)
			if err != nil {
				return nil, InvalidParamsError("invalid memcmp bytes")
			}
			out = append(out, compiledFilter{offset: f.Memcmp.Offset, bytes: b})
		default:
			return nil, InvalidParamsError("invalid filter")
		}
	}
	return out, nil
}

func matchesFilters(data []byte, filters []compiledFilter) bool {
	for _, f := range filters {
		if f.dataSize != nil {
			if uint64(len(data)) != *f.dataSize {
				return false
			}
			continue
		}
		end := f.offset + uint64(len(f.bytes))
		if end < f.offset || end > uint64(len(data)) {
			return false
		}
		if !bytes.Equal(data[f.offset:end], f.bytes) {
			return false
		}
	}
	return true
}

// getTokenAccountBalance returns the balance of a token account.
// Params: [pubkey]
func (s *Server) getTokenAccountBalance(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	key, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	account, err := s.ledger.TokenAccount(key)
	if err != nil {
		return nil, InvalidParamsError("Invalid param: not a token account")
	}
	mint, err := s.ledger.Mint(account.Mint)
	if err != nil {
		return nil, InvalidParamsError("Invalid param: mint could not be unpacked")
	}
	return s.withContext(UITokenAmount{Amount: strconv.FormatUint(account.Amount, 10), Decimals: mint.Decimals})
}

// getTokenSupply returns the total supply of a mint.
// Params: [pubkey]
func (s *Server) getTokenSupply(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	key, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	mint, err := s.ledger.Mint(key)
	if err != nil {
		return nil, InvalidParamsError("Invalid param: not a token mint")
	}
	return s.withContext(UITokenAmount{Amount: strconv.FormatUint(mint.Supply, 10), Decimals: mint.Decimals})
}

// getVaultConfig returns a decoded vault config.
// Params: [config]
func (s *Server) getVaultConfig(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	key, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	if acc, rpcErr := s.lookup(key); rpcErr != nil || acc == nil {
		if rpcErr != nil {
			return nil, rpcErr
		}
		return s.withContext(nil)
	}
	cfg, err := s.ledger.VaultConfig(key)
	if err != nil {
		return nil, InvalidParamsError("Invalid param: not a vault config")
	}
	custody, _, err := vault.CustodyAddress(s.ledger.VaultProgramID(), key)
	if err != nil {
		return nil, InternalServerErrorf("derive custody: %v", err)
	}
	return s.withContext(VaultInfo{
		Tag:         cfg.Tag.String(),
		Owner:       cfg.Owner.String(),
		BaseMint:    cfg.BaseMint.String(),
		ReceiptMint: cfg.ReceiptMint.String(),
		Escrow:      cfg.Escrow.String(),
		Coefficient: cfg.Coefficient,
		Custody:     custody.String(),
	})
}

// getDepositRecord returns the deposit record of a depositor in a vault.
// Params: [config, depositor]
func (s *Server) getDepositRecord(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params, 2)
	if rpcErr != nil {
		return nil, rpcErr
	}
	config, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	depositor, rpcErr := parsePubkey(args[1])
	if rpcErr != nil {
		return nil, rpcErr
	}
	key, _, err := vault.DepositAddress(s.ledger.VaultProgramID(), config, depositor)
	if err != nil {
		return nil, InternalServerErrorf("derive deposit address: %v", err)
	}
	if acc, rpcErr := s.lookup(key); rpcErr != nil || acc == nil {
		if rpcErr != nil {
			return nil, rpcErr
		}
		return s.withContext(nil)
	}
	record, err := s.ledger.DepositRecord(config, depositor)
	if err != nil {
		return nil, InvalidParamsError("Invalid param: not a deposit record")
	}
	return s.withContext(DepositInfo{
		Address:   key.String(),
		Tag:       record.Tag.String(),
		Owner:     record.Owner.String(),
		Amount:    record.Amount,
		StartTime: record.StartTime,
		EndTime:   record.EndTime,
	})
}

// sendTransaction executes a signed transaction and returns its signature.
// Params: [encodedTransaction, config?]
func (s *Server) sendTransaction(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var encoded string
	if err := json.Unmarshal(args[0], &encoded); err != nil {
		return nil, InvalidParamsError("invalid transaction")
	}
	var cfg SendTransactionConfig
	if rpcErr := parseConfig(args, 1, &cfg); rpcErr != nil {
		return nil, rpcErr
	}
	if cfg.Encoding != "" && cfg.Encoding != EncodingBase58 && cfg.Encoding != EncodingBase64 {
		return nil, InvalidParamsError("unsupported encoding")
	}

	raw, err := DecodeData(encoded, cfg.Encoding)
	if err != nil {
		return nil, InvalidParamsError("invalid transaction encoding")
	}
	tx, err := runtime.UnmarshalTransaction(raw)
	if err != nil {
		return nil, InvalidParamsError("failed to deserialize transaction: " + err.Error())
	}

	result, err := s.ledger.Execute(tx)
	if err != nil {
		s.logger.Error("execute transaction", zap.Error(err))
		return nil, InternalServerErrorf("execute transaction: %v", err)
	}
	if result.Success {
		return result.Signature.String(), nil
	}

	return nil, executionError(result)
}

// getSlot returns the current slot.
func (s *Server) getSlot(_ json.RawMessage) (interface{}, *RPCError) {
	ctx, rpcErr := s.context()
	if rpcErr != nil {
		return nil, rpcErr
	}
	return ctx.Slot, nil
}

// getClock returns the ledger clock.
func (s *Server) getClock(_ json.RawMessage) (interface{}, *RPCError) {
	clock, err := s.ledger.Clock()
	if err != nil {
		return nil, InternalServerErrorf("read clock: %v", err)
	}
	return ClockInfo{Slot: clock.Slot, Epoch: clock.Epoch, UnixTimestamp: clock.UnixTimestamp}, nil
}

// getHealth returns the node health status.
func (s *Server) getHealth(_ json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

// getVersion returns version information.
func (s *Server) getVersion(_ json.RawMessage) (interface{}, *RPCError) {
	return VersionInfo{Core: Version, FeatureSet: FeatureSet}, nil
}

// getLatestBlockhash returns the accounts hash as the latest blockhash.
func (s *Server) getLatestBlockhash(_ json.RawMessage) (interface{}, *RPCError) {
	ctx, rpcErr := s.context()
	if rpcErr != nil {
		return nil, rpcErr
	}
	hash, err := s.ledger.AccountsHash()
	if err != nil {
		return nil, InternalServerErrorf("accounts hash: %v", err)
	}
	return ResponseWithContext{
		Context: ctx,
		Value: LatestBlockhash{
			Blockhash:            hash.String(),
			LastValidBlockHeight: ctx.Slot + 150,
		},
	}, nil
}

// getMinimumBalanceForRentExemption returns the rent-exempt minimum for a
// data length.
// Params: [dataLength]
func (s *Server) getMinimumBalanceForRentExemption(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var dataLen uint64
	if err := json.Unmarshal(args[0], &dataLen); err != nil {
		return nil, InvalidParamsError("invalid data length")
	}
	if dataLen > accounts.MaxAccountDataSize {
		return nil, InvalidParamsError("data length exceeds maximum account size")
	}
	return s.ledger.Rent().MinimumBalance(int(dataLen)), nil
}
