package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fortiblox/stratus-vault/pkg/rpc"
)

// cmdServe exposes the ledger over JSON-RPC until interrupted.
func cmdServe(e *env, args []string) error {
	fs := e.flagSet("serve")
	addr := fs.String("addr", e.cfg.RPCAddr, "Listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	l, err := e.openLedger()
	if err != nil {
		return err
	}

	rc := e.cfg.RPCConfig(e.logger)
	rc.Addr = *addr
	server := rpc.New(rc, l, e.history)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e.logger.Info("serving JSON-RPC",
		zap.String("addr", rc.Addr),
		zap.Stringer("vault_program", l.VaultProgramID()),
	)
	if err := server.Start(ctx); err != nil {
		return errors.Wrap(err, "rpc server failed")
	}
	e.logger.Info("JSON-RPC server stopped")
	return nil
}
