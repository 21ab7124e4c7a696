package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dgnsrekt/ledger-monitor/internal/notify"
)

type Config struct {
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Wallets   []string        `mapstructure:"wallets"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Notify    notify.Config   `mapstructure:"notify"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type LedgerConfig struct {
	RPCURL         string `mapstructure:"rpc_url"`
	WSURL          string `mapstructure:"ws_url"`
	TokenMint      string `mapstructure:"token_mint"`
	TimeoutSec     int    `mapstructure:"timeout_sec"`
	MaxRetries     int    `mapstructure:"max_retries"`
	RateIntervalMs int    `mapstructure:"rate_interval_ms"`
	BackoffBaseMs  int    `mapstructure:"backoff_base_ms"`
	CallTimeoutSec int    `mapstructure:"call_timeout_sec"`
}

func (c LedgerConfig) Timeout() time.Duration      { return time.Duration(c.TimeoutSec) * time.Second }
func (c LedgerConfig) RateInterval() time.Duration { return time.Duration(c.RateIntervalMs) * time.Millisecond }
func (c LedgerConfig) BackoffBase() time.Duration  { return time.Duration(c.BackoffBaseMs) * time.Millisecond }
func (c LedgerConfig) CallTimeout() time.Duration  { return time.Duration(c.CallTimeoutSec) * time.Second }

type SyncConfig struct {
	BatchSize         int `mapstructure:"batch_size"`
	BatchDelayMs      int `mapstructure:"batch_delay_ms"`
	BackfillLimit     int `mapstructure:"backfill_limit"`
	IncrementalLimit  int `mapstructure:"incremental_limit"`
	ResyncIntervalMin int `mapstructure:"resync_interval_min"`
}

func (c SyncConfig) BatchDelay() time.Duration { return time.Duration(c.BatchDelayMs) * time.Millisecond }
func (c SyncConfig) ResyncInterval() time.Duration {
	return time.Duration(c.ResyncIntervalMin) * time.Minute
}

type DiscoveryConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	TopHolders int  `mapstructure:"top_holders"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type StoreConfig struct {
	Directory string `mapstructure:"directory"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("ledger.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("ledger.ws_url", "wss://api.mainnet-beta.solana.com")
	v.SetDefault("ledger.timeout_sec", 30)
	v.SetDefault("ledger.max_retries", 3)
	v.SetDefault("ledger.rate_interval_ms", 100)
	v.SetDefault("ledger.backoff_base_ms", 1000)
	v.SetDefault("ledger.call_timeout_sec", 30)
	v.SetDefault("sync.batch_size", 5)
	v.SetDefault("sync.batch_delay_ms", 1000)
	v.SetDefault("sync.backfill_limit", 50)
	v.SetDefault("sync.incremental_limit", 5)
	v.SetDefault("sync.resync_interval_min", 60)
	v.SetDefault("discovery.enabled", true)
	v.SetDefault("discovery.top_holders", 20)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("store.directory", "data")
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "satellite")
	v.SetDefault("logging.enabled", true)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("LEDGER_MONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("ledger.rpc_url", "LEDGER_MONITOR_RPC_URL")
	_ = v.BindEnv("ledger.ws_url", "LEDGER_MONITOR_WS_URL")
	_ = v.BindEnv("notify.token", "LEDGER_MONITOR_NTFY_TOKEN")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Ledger.RPCURL == "" {
		return fmt.Errorf("ledger.rpc_url is required")
	}
	if c.Ledger.WSURL == "" {
		return fmt.Errorf("ledger.ws_url is required")
	}
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("sync.batch_size must be >= 1")
	}
	if c.Ledger.RateIntervalMs < 1 {
		return fmt.Errorf("ledger.rate_interval_ms must be >= 1")
	}
	if c.Sync.ResyncIntervalMin < 1 {
		return fmt.Errorf("sync.resync_interval_min must be >= 1")
	}
	if !c.Discovery.Enabled && len(c.Wallets) == 0 {
		return fmt.Errorf("either discovery.enabled or a wallets list is required")
	}
	if c.Discovery.Enabled && c.Ledger.TokenMint == "" {
		return fmt.Errorf("ledger.token_mint is required when discovery is enabled")
	}
	if err := ValidateWallets(c.Wallets); err != nil {
		return err
	}
	return c.Notify.Validate()
}
