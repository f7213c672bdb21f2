// Package config loads vaultctl settings from an optional YAML file with
// VAULT_* environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/accounts"
	"github.com/fortiblox/stratus-vault/pkg/history"
	"github.com/fortiblox/stratus-vault/pkg/ledger"
	"github.com/fortiblox/stratus-vault/pkg/rpc"
	"github.com/fortiblox/stratus-vault/pkg/svm"
	"github.com/fortiblox/stratus-vault/pkg/svm/sysvar"
	"github.com/fortiblox/stratus-vault/pkg/vault"
)

// EnvPrefix prefixes every environment override, e.g. VAULT_DATA_DIR.
const EnvPrefix = "VAULT"

// RentConfig holds the rent parameters written at genesis.
type RentConfig struct {
	LamportsPerByteYear uint64  `mapstructure:"lamports_per_byte_year"`
	ExemptionThreshold  float64 `mapstructure:"exemption_threshold"`
	BurnPercent         uint8   `mapstructure:"burn_percent"`
}

// HistoryConfig controls the transaction history store.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Retain is the number of transactions kept. Zero keeps everything.
	Retain uint64 `mapstructure:"retain"`
}

// Config is the vaultctl configuration.
type Config struct {
	// DataDir holds the badger account store.
	DataDir string `mapstructure:"data_dir"`

	// KeysDir holds named keypair files.
	KeysDir string `mapstructure:"keys_dir"`

	LogLevel   string `mapstructure:"log_level"`
	SyncWrites bool   `mapstructure:"sync_writes"`

	// ComputeLimit is the per-transaction compute budget.
	ComputeLimit uint64 `mapstructure:"compute_limit"`

	// ProgramID is the base58 address the vault program runs at.
	ProgramID string `mapstructure:"program_id"`

	// GenesisUnixTimestamp seeds the ledger clock. Zero uses the current
	// wall clock time.
	GenesisUnixTimestamp int64 `mapstructure:"genesis_unix_timestamp"`

	Rent RentConfig `mapstructure:"rent"`

	History HistoryConfig `mapstructure:"history"`

	// RPCAddr is the listen address of vaultctl serve.
	RPCAddr string `mapstructure:"rpc_addr"`

	// RPCAllowedOrigins restricts CORS origins. Empty allows all.
	RPCAllowedOrigins []string `mapstructure:"rpc_allowed_origins"`
}

var defaults = map[string]interface{}{
	"data_dir":                    "vault-data",
	"keys_dir":                    "vault-keys",
	"log_level":                   "info",
	"sync_writes":                 true,
	"compute_limit":               svm.CUDefault,
	"program_id":                  vault.DefaultProgramID.String(),
	"genesis_unix_timestamp":      int64(0),
	"rent.lamports_per_byte_year": sysvar.DefaultLamportsPerByteYear,
	"rent.exemption_threshold":    sysvar.DefaultExemptionThreshold,
	"rent.burn_percent":           sysvar.DefaultBurnPercent,
	"rpc_addr":                    "127.0.0.1:8899",
	"history.enabled":             true,
	"history.retain":              uint64(100_000),
}

// Load reads configuration from path, if it exists, and applies environment
// overrides on top. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		// An explicitly named file that does not exist is not an error;
		// viper only reports ConfigFileNotFoundError when it searches.
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, errors.Wrapf(err, "failed to read config %s", path)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to check config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir must be set")
	}
	if c.KeysDir == "" {
		return errors.New("keys_dir must be set")
	}
	if _, err := c.VaultProgramID(); err != nil {
		return err
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(err, "invalid log_level %q", c.LogLevel)
	}
	if c.Rent.ExemptionThreshold < 0 {
		return errors.New("rent.exemption_threshold must not be negative")
	}
	if c.Rent.BurnPercent > 100 {
		return errors.New("rent.burn_percent must be at most 100")
	}
	if c.RPCAddr == "" {
		return errors.New("rpc_addr must be set")
	}
	return nil
}

// VaultProgramID decodes ProgramID.
func (c *Config) VaultProgramID() (types.Pubkey, error) {
	id, err := types.PubkeyFromBase58(c.ProgramID)
	if err != nil {
		return types.Pubkey{}, errors.Wrapf(err, "invalid program_id %q", c.ProgramID)
	}
	return id, nil
}

// SysvarRent returns the configured rent parameters.
func (c *Config) SysvarRent() *sysvar.Rent {
	return &sysvar.Rent{
		LamportsPerByteYear: c.Rent.LamportsPerByteYear,
		ExemptionThreshold:  c.Rent.ExemptionThreshold,
		BurnPercent:         c.Rent.BurnPercent,
	}
}

// NewLogger builds a console logger at the configured level.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log_level %q", c.LogLevel)
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = true
	logger, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build logger")
	}
	return logger, nil
}

// LedgerConfig returns the ledger configuration.
func (c *Config) LedgerConfig(logger *zap.Logger) (ledger.Config, error) {
	id, err := c.VaultProgramID()
	if err != nil {
		return ledger.Config{}, err
	}
	cfg := ledger.DefaultConfig()
	cfg.VaultProgramID = id
	cfg.ComputeLimit = c.ComputeLimit
	cfg.Logger = logger
	return cfg, nil
}

// StoreConfig returns the badger configuration for the account store.
func (c *Config) StoreConfig(logger *zap.Logger) accounts.BadgerDBConfig {
	cfg := accounts.DefaultBadgerDBConfig(filepath.Join(c.DataDir, "accounts"))
	cfg.SyncWrites = c.SyncWrites
	cfg.Logger = logger
	return cfg
}

// HistoryStoreConfig returns the transaction history configuration.
func (c *Config) HistoryStoreConfig(logger *zap.Logger) history.Config {
	cfg := history.DefaultConfig(filepath.Join(c.DataDir, "history.db"))
	cfg.NoSync = !c.SyncWrites
	cfg.RetainTransactions = c.History.Retain
	cfg.Logger = logger
	return cfg
}

// RPCConfig returns the JSON-RPC server configuration.
func (c *Config) RPCConfig(logger *zap.Logger) rpc.Config {
	cfg := rpc.DefaultConfig()
	cfg.Addr = c.RPCAddr
	cfg.AllowedOrigins = c.RPCAllowedOrigins
	cfg.Logger = logger
	return cfg
}
