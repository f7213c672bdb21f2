// vaultctl operates a local vault ledger: it writes genesis state, manages
// named keypairs, funds accounts, creates mints and token accounts, and
// submits vault Init, Deposit, Withdraw and Close transactions. The serve
// command exposes the same ledger over JSON-RPC.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fortiblox/stratus-vault/pkg/accounts"
	"github.com/fortiblox/stratus-vault/pkg/config"
	"github.com/fortiblox/stratus-vault/pkg/history"
	"github.com/fortiblox/stratus-vault/pkg/ledger"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

type command struct {
	usage string
	run   func(e *env, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"genesis":              {"genesis [-time unix]", cmdGenesis},
		"keygen":               {"keygen [-force] <name>", cmdKeygen},
		"airdrop":              {"airdrop <account> <lamports>", cmdAirdrop},
		"create-mint":          {"create-mint -payer <key> -mint <key> [-authority <account>] [-decimals n]", cmdCreateMint},
		"create-token-account": {"create-token-account -payer <key> -account <key> -mint <account> -owner <account>", cmdCreateTokenAccount},
		"mint-to":              {"mint-to -payer <key> -authority <key> -mint <account> -to <account> -amount n", cmdMintTo},
		"init":                 {"init -initializer <key> -config <key> -base-mint <account> -escrow <account> -receipt-mint <account>", cmdInit},
		"deposit":              {"deposit -depositor <key> -config <account> -base <account> -receipt <account> -amount n -lock seconds", cmdDeposit},
		"withdraw":             {"withdraw -depositor <key> -config <account> -base <account> -receipt <account>", cmdWithdraw},
		"close":                {"close -owner <key> -config <account>", cmdClose},
		"dump":                 {"dump <config>", cmdDump},
		"dumpuser":             {"dumpuser <config> <depositor>", cmdDumpUser},
		"warp":                 {"warp <seconds>", cmdWarp},
		"balance":              {"balance <account>", cmdBalance},
		"hash":                 {"hash", cmdHash},
		"snapshot":             {"snapshot <path>", cmdSnapshot},
		"restore":              {"restore <path>", cmdRestore},
		"serve":                {"serve [-addr host:port]", cmdServe},
		"tx":                   {"tx <signature>", cmdTx},
		"history":              {"history [-limit n] <account>", cmdHistory},
	}
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "vaultctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("vaultctl", flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", os.Getenv("VAULT_CONFIG"), "Path to a YAML config file")
	showVersion := fs.Bool("version", false, "Print version and exit")
	fs.Usage = func() { usage(fs, out) }
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Fprintf(out, "vaultctl %s (%s)\n", Version, GitCommit)
		return nil
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no command given")
	}

	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fs.Usage()
		return errors.Errorf("unknown command %q", name)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	e := &env{
		cfg:    cfg,
		logger: logger,
		keys:   &keystore{dir: cfg.KeysDir},
		out:    out,
	}
	defer e.close()

	return cmd.run(e, fs.Args()[1:])
}

func usage(fs *flag.FlagSet, out io.Writer) {
	fmt.Fprintln(out, "Usage: vaultctl [-config file] <command> [arguments]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %s\n", commands[name].usage)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Flags:")
	fs.PrintDefaults()
	fmt.Fprintf(out, "\nSettings may be overridden with %s_* environment variables.\n", config.EnvPrefix)
}

// env holds what a command needs. The store and ledger open on first use.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	keys   *keystore
	out    io.Writer

	db      *accounts.BadgerDB
	history *history.Store
	ledger  *ledger.Ledger
}

func (e *env) openDB() (*accounts.BadgerDB, error) {
	if e.db != nil {
		return e.db, nil
	}
	db, err := accounts.NewBadgerDB(e.cfg.StoreConfig(e.logger))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open account store")
	}
	e.db = db
	return db, nil
}

// openHistory returns the transaction history store, or nil when history is
// disabled.
func (e *env) openHistory() (*history.Store, error) {
	if e.history != nil || !e.cfg.History.Enabled {
		return e.history, nil
	}
	h, err := history.Open(e.cfg.HistoryStoreConfig(e.logger))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open transaction history")
	}
	e.history = h
	return h, nil
}

func (e *env) ledgerConfig() (ledger.Config, error) {
	lc, err := e.cfg.LedgerConfig(e.logger)
	if err != nil {
		return ledger.Config{}, err
	}
	lc.OnTransactionComplete = e.printLogs
	return lc, nil
}

func (e *env) openLedger() (*ledger.Ledger, error) {
	if e.ledger != nil {
		return e.ledger, nil
	}
	db, err := e.openDB()
	if err != nil {
		return nil, err
	}
	lc, err := e.ledgerConfig()
	if err != nil {
		return nil, err
	}
	h, err := e.openHistory()
	if err != nil {
		return nil, err
	}
	if h != nil {
		lc.History = h
	}
	l, err := ledger.Open(db, lc)
	if errors.Is(err, ledger.ErrNotInitialized) {
		return nil, errors.New("no ledger found, run vaultctl genesis first")
	}
	if err != nil {
		return nil, err
	}
	e.ledger = l
	return l, nil
}

func (e *env) close() {
	if e.history != nil {
		if err := e.history.Close(); err != nil {
			e.logger.Warn("failed to close transaction history", zap.Error(err))
		}
	}
	if e.db == nil {
		return
	}
	if err := e.db.Close(); err != nil {
		e.logger.Warn("failed to close account store", zap.Error(err))
	}
}

func (e *env) printf(format string, args ...interface{}) {
	fmt.Fprintf(e.out, format, args...)
}

// flagSet returns a flag set for a subcommand that reports errors to the
// command's output.
func (e *env) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.out)
	fs.Usage = func() {
		fmt.Fprintf(e.out, "Usage: vaultctl %s\n", commands[name].usage)
		fs.PrintDefaults()
	}
	return fs
}

// requireFlags fails if any named flag was left empty.
func requireFlags(fs *flag.FlagSet, names ...string) error {
	var missing []string
	for _, name := range names {
		if f := fs.Lookup(name); f != nil && f.Value.String() == "" {
			missing = append(missing, "-"+name)
		}
	}
	if len(missing) > 0 {
		return errors.Errorf("%s: missing %s", fs.Name(), strings.Join(missing, ", "))
	}
	return nil
}
