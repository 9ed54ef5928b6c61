// Package config defines the top-level configuration for vaultscope and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// defaultMorphoAddress is the lending-protocol singleton; it is deployed at
// the same address on every supported chain.
const defaultMorphoAddress = "0xBBBBBbbBBb9cC5e90e3b3Af64bdAF62C37EEFFCb"

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by VSCOPE_* environment variables.
type Config struct {
	Morpho   MorphoConfig  `toml:"morpho"`
	Chains   []ChainConfig `toml:"chains"`
	Server   ServerConfig  `toml:"server"`
	Watch    WatchConfig   `toml:"watch"`
	LogLevel string        `toml:"log_level"`
}

// MorphoConfig holds the off-chain pricing API endpoint and credentials.
type MorphoConfig struct {
	GraphQLURL string `toml:"graphql_url"`
	APIKey     string `toml:"api_key"`
}

// ChainConfig describes one supported chain: its identity, RPC endpoint and
// per-chain transport tuning. A chain with an empty RPCURL stays listed but
// serves only ConfigurationMissing responses.
type ChainConfig struct {
	ID     int64  `toml:"id"`
	Name   string `toml:"name"`  // short name, also the RPC env-var suffix
	Label  string `toml:"label"` // human-readable chain label
	RPCURL string `toml:"rpc_url"`

	MorphoAddress string `toml:"morpho_address"`

	BatchSize  int      `toml:"batch_size"`
	RetryCount int      `toml:"retry_count"`
	RetryDelay duration `toml:"retry_delay"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// WatchConfig holds the vault watch (websocket push) parameters.
type WatchConfig struct {
	Refresh duration `toml:"refresh"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the built-in chain registry and
// reasonable default values. RPC endpoints are intentionally empty; operators
// supply them per chain via TOML or VSCOPE_RPC_<NAME>.
func Defaults() Config {
	std := func(id int64, name, label string) ChainConfig {
		return ChainConfig{
			ID:            id,
			Name:          name,
			Label:         label,
			MorphoAddress: defaultMorphoAddress,
			BatchSize:     20,
			RetryCount:    3,
			RetryDelay:    duration{250 * time.Millisecond},
		}
	}
	monad := std(143, "monad", "Monad")
	// Monad RPCs reject large batches and answer fast; tighter profile.
	monad.BatchSize = 30
	monad.RetryCount = 2
	monad.RetryDelay = duration{150 * time.Millisecond}

	return Config{
		Morpho: MorphoConfig{
			GraphQLURL: "https://api.morpho.org/graphql",
		},
		Chains: []ChainConfig{
			std(1, "ethereum", "Ethereum"),
			monad,
			std(42161, "arbitrum", "Arbitrum"),
			std(8453, "base", "Base"),
			std(999, "hyperevm", "HyperEVM"),
			std(137, "polygon", "Polygon"),
			std(130, "unichain", "Unichain"),
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Watch: WatchConfig{
			Refresh: duration{15 * time.Second},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Morpho.GraphQLURL == "" {
		errs = append(errs, "morpho: graphql_url must not be empty")
	}

	if len(c.Chains) == 0 {
		errs = append(errs, "chains: at least one chain must be configured")
	}
	seen := make(map[int64]bool, len(c.Chains))
	for _, chain := range c.Chains {
		prefix := fmt.Sprintf("chains[%s]", chain.Name)
		if chain.ID <= 0 {
			errs = append(errs, prefix+": id must be positive")
		}
		if seen[chain.ID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate chain id %d", prefix, chain.ID))
		}
		seen[chain.ID] = true
		if chain.Name == "" {
			errs = append(errs, fmt.Sprintf("chains[id=%d]: name must not be empty", chain.ID))
		}
		if chain.Label == "" {
			errs = append(errs, prefix+": label must not be empty")
		}
		if chain.RPCURL != "" && !common.IsHexAddress(chain.MorphoAddress) {
			errs = append(errs, fmt.Sprintf("%s: morpho_address %q is not a valid address", prefix, chain.MorphoAddress))
		}
		if chain.BatchSize < 1 {
			errs = append(errs, prefix+": batch_size must be >= 1")
		}
		if chain.RetryCount < 0 {
			errs = append(errs, prefix+": retry_count must be >= 0")
		}
		// A zero delay turns the bounded retry into a hot loop against an
		// already struggling endpoint.
		if chain.RetryDelay.Duration <= 0 {
			errs = append(errs, prefix+": retry_delay must be positive")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if c.Watch.Refresh.Duration <= 0 {
		errs = append(errs, "watch: refresh must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Chain returns the configuration of one chain by id.
func (c *Config) Chain(id int64) (ChainConfig, bool) {
	for _, chain := range c.Chains {
		if chain.ID == id {
			return chain, true
		}
	}
	return ChainConfig{}, false
}
