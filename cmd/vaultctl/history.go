package main

import (
	"github.com/pkg/errors"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/history"
)

func (e *env) requireHistory() (*history.Store, error) {
	h, err := e.openHistory()
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, errors.New("transaction history is disabled")
	}
	return h, nil
}

func cmdTx(e *env, args []string) error {
	if len(args) != 1 {
		return errors.New("tx: expected <signature>")
	}
	sig, err := types.SignatureFromBase58(args[0])
	if err != nil {
		return errors.Wrapf(err, "invalid signature %q", args[0])
	}
	h, err := e.requireHistory()
	if err != nil {
		return err
	}
	rec, err := h.GetTransaction(sig)
	if err != nil {
		return errors.Wrapf(err, "transaction %s", args[0])
	}

	e.printf("signature: %s\n", rec.Signature)
	e.printf("slot:      %d\n", rec.Slot)
	e.printf("time:      %d\n", rec.BlockTime)
	switch {
	case rec.Success:
		e.printf("status:    ok\n")
	case rec.CustomCode != nil:
		vaultProgram, err := e.cfg.VaultProgramID()
		if err != nil {
			return err
		}
		e.printf("status:    failed: %s (%s)\n", rec.Err, describeCustomCode(*rec.CustomCode, rec.FailedProgram, vaultProgram))
	default:
		e.printf("status:    failed: %s\n", rec.Err)
	}
	e.printf("compute:   %d units\n", rec.ComputeUnitsConsumed)
	for _, key := range rec.ModifiedAccounts {
		e.printf("modified:  %s\n", key)
	}
	for _, line := range rec.Logs {
		e.printf("log:       %s\n", line)
	}
	return nil
}

func cmdHistory(e *env, args []string) error {
	fs := e.flagSet("history")
	limit := fs.Int("limit", 20, "Maximum number of transactions")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("history: expected <account>")
	}
	addr, err := e.keys.resolve(fs.Arg(0))
	if err != nil {
		return err
	}
	h, err := e.requireHistory()
	if err != nil {
		return err
	}
	infos, err := h.GetSignaturesForAddress(addr, &history.SignatureQueryOptions{Limit: *limit})
	if err != nil {
		return err
	}
	for _, info := range infos {
		status := "ok"
		if info.Err != "" {
			status = "failed"
		}
		e.printf("%s slot %d %s\n", info.Signature, info.Slot, status)
	}
	return nil
}
