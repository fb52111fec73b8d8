package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ChainConfig describes one supported chain for the local signer backend.
type ChainConfig struct {
	Name   string `mapstructure:"name"`
	RPCUrl string `mapstructure:"rpc_url"`
	// Tokens maps token symbols to contract addresses on this chain. The
	// native token maps to the empty string.
	Tokens map[string]string `mapstructure:"tokens"`
}

// LedgerConfig selects the transaction ledger backend.
type LedgerConfig struct {
	Backend   string `mapstructure:"backend"` // "file" or "redis"
	Path      string `mapstructure:"path"`
	RedisAddr string `mapstructure:"redis_addr"`
}

// Config holds the application configuration
type Config struct {
	QuoteServiceURL   string
	QuoteAPIKey       string
	BridgeServiceURL  string
	CustodyServiceURL string
	CustodyToken      string
	PrivateKey        string
	DefaultChain      int
	SlippageBps       int

	QuoteTimeout       time.Duration
	QuoteTTL           time.Duration
	BridgePollInterval time.Duration
	BridgeWaitMin      time.Duration
	BridgeWaitMax      time.Duration

	LogLevel       string
	MetricsEnabled bool
	Ledger         LedgerConfig
	Chains         map[int]ChainConfig
}

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	viper.SetConfigName(".stablepay")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(".")

	// Set default values
	viper.SetDefault("quote_service_url", "https://li.quest")
	viper.SetDefault("bridge_service_url", "https://iris-api.circle.com")
	viper.SetDefault("default_chain", 1)
	viper.SetDefault("slippage_bps", 100)
	viper.SetDefault("quote_timeout", "5s")
	viper.SetDefault("quote_ttl", "60s")
	viper.SetDefault("bridge_poll_interval", "5s")
	viper.SetDefault("bridge_wait_min", "2m")
	viper.SetDefault("bridge_wait_max", "30m")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("metrics_enabled", false)
	viper.SetDefault("ledger.backend", "file")

	// Read from environment variables
	viper.SetEnvPrefix("STABLEPAY")
	viper.AutomaticEnv()

	// Read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		QuoteServiceURL:    viper.GetString("quote_service_url"),
		QuoteAPIKey:        viper.GetString("quote_api_key"),
		BridgeServiceURL:   viper.GetString("bridge_service_url"),
		CustodyServiceURL:  viper.GetString("custody_service_url"),
		CustodyToken:       viper.GetString("custody_token"),
		PrivateKey:         viper.GetString("private_key"),
		DefaultChain:       viper.GetInt("default_chain"),
		SlippageBps:        viper.GetInt("slippage_bps"),
		QuoteTimeout:       viper.GetDuration("quote_timeout"),
		QuoteTTL:           viper.GetDuration("quote_ttl"),
		BridgePollInterval: viper.GetDuration("bridge_poll_interval"),
		BridgeWaitMin:      viper.GetDuration("bridge_wait_min"),
		BridgeWaitMax:      viper.GetDuration("bridge_wait_max"),
		LogLevel:           viper.GetString("log_level"),
		MetricsEnabled:     viper.GetBool("metrics_enabled"),
	}

	if err := viper.UnmarshalKey("ledger", &cfg.Ledger); err != nil {
		return nil, fmt.Errorf("invalid ledger config: %w", err)
	}
	if err := viper.UnmarshalKey("chains", &cfg.Chains); err != nil {
		return nil, fmt.Errorf("invalid chains config: %w", err)
	}
	if cfg.Chains == nil {
		cfg.Chains = make(map[int]ChainConfig)
	}

	if cfg.Ledger.Backend == "redis" && cfg.Ledger.RedisAddr == "" {
		return nil, fmt.Errorf("ledger.redis_addr is required when ledger.backend is redis")
	}

	return cfg, nil
}

// TokenAddress resolves a token symbol to its contract address on a chain.
// The empty string marks the chain's native token.
func (c *Config) TokenAddress(chainID int, symbol string) (string, bool) {
	chain, ok := c.Chains[chainID]
	if !ok {
		return "", false
	}
	addr, ok := chain.Tokens[symbol]
	return addr, ok
}
