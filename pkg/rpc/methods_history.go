package rpc

import (
	"encoding/json"
	"errors"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/history"
)

// maxSignatureStatuses bounds getSignatureStatuses.
const maxSignatureStatuses = 256

func parseSignature(raw json.RawMessage) (types.Signature, *RPCError) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return types.Signature{}, InvalidParamsError("invalid signature")
	}
	sig, err := types.SignatureFromBase58(s)
	if err != nil {
		return types.Signature{}, InvalidParamsError("Invalid param: " + err.Error())
	}
	return sig, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// getTransaction returns a recorded transaction and its outcome.
// Params: [signature, config?]
func (s *Server) getTransaction(params json.RawMessage) (interface{}, *RPCError) {
	if s.history == nil {
		return nil, errHistoryDisabled
	}
	args, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	sig, rpcErr := parseSignature(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	var cfg TransactionConfig
	if rpcErr := parseConfig(args, 1, &cfg); rpcErr != nil {
		return nil, rpcErr
	}

	rec, err := s.history.GetTransaction(sig)
	if errors.Is(err, history.ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("read transaction: %v", err)
	}

	encoded, err := EncodeAccountData(rec.Raw, cfg.Encoding)
	if err != nil {
		return nil, InternalServerErrorf("%v", err)
	}
	modified := make([]string, len(rec.ModifiedAccounts))
	for i, key := range rec.ModifiedAccounts {
		modified[i] = key.String()
	}
	logs := rec.Logs
	if logs == nil {
		logs = []string{}
	}
	var failedProgram string
	if rec.FailedProgram != nil {
		failedProgram = rec.FailedProgram.String()
	}
	return TransactionResult{
		Slot:        rec.Slot,
		BlockTime:   rec.BlockTime,
		Transaction: encoded,
		Meta: TransactionMeta{
			Err:                  optionalString(rec.Err),
			CustomCode:           rec.CustomCode,
			FailedProgram:        failedProgram,
			LogMessages:          logs,
			ComputeUnitsConsumed: rec.ComputeUnitsConsumed,
			ModifiedAccounts:     modified,
		},
	}, nil
}

// getSignatureStatuses returns the status of recorded transactions.
// Params: [[signature...]]
func (s *Server) getSignatureStatuses(params json.RawMessage) (interface{}, *RPCError) {
	if s.history == nil {
		return nil, errHistoryDisabled
	}
	args, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(args[0], &raws); err != nil {
		return nil, InvalidParamsError("invalid signature list")
	}
	if len(raws) > maxSignatureStatuses {
		return nil, InvalidParamsError("too many signatures")
	}

	statuses := make([]*SignatureStatus, len(raws))
	for i, raw := range raws {
		sig, rpcErr := parseSignature(raw)
		if rpcErr != nil {
			return nil, rpcErr
		}
		rec, err := s.history.GetTransaction(sig)
		if errors.Is(err, history.ErrTransactionNotFound) {
			continue
		}
		if err != nil {
			return nil, InternalServerErrorf("read transaction: %v", err)
		}
		// Every executed transaction is final on a single ledger.
		statuses[i] = &SignatureStatus{
			Slot:               rec.Slot,
			Err:                optionalString(rec.Err),
			ConfirmationStatus: "finalized",
		}
	}
	return s.withContext(statuses)
}

// getSignaturesForAddress lists transactions that referenced an address,
// newest first.
// Params: [address, config?]
func (s *Server) getSignaturesForAddress(params json.RawMessage) (interface{}, *RPCError) {
	if s.history == nil {
		return nil, errHistoryDisabled
	}
	args, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	var cfg SignatureQueryConfig
	if rpcErr := parseConfig(args, 1, &cfg); rpcErr != nil {
		return nil, rpcErr
	}
	if cfg.Limit < 0 || cfg.Limit > history.MaxSignatureLimit {
		return nil, InvalidParamsError("Invalid limit")
	}

	opts := &history.SignatureQueryOptions{Limit: cfg.Limit}
	if cfg.Before != "" {
		before, err := types.SignatureFromBase58(cfg.Before)
		if err != nil {
			return nil, InvalidParamsError("Invalid param: " + err.Error())
		}
		opts.Before = &before
	}

	infos, err := s.history.GetSignaturesForAddress(addr, opts)
	if errors.Is(err, history.ErrTransactionNotFound) {
		return nil, InvalidParamsError("Invalid param: before signature not found")
	}
	if err != nil {
		return nil, InternalServerErrorf("read signatures: %v", err)
	}

	results := make([]SignatureResult, len(infos))
	for i, info := range infos {
		results[i] = SignatureResult{
			Signature: info.Signature.String(),
			Slot:      info.Slot,
			BlockTime: info.BlockTime,
			Err:       optionalString(info.Err),
		}
	}
	return results, nil
}
