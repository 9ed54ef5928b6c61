package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies VSCOPE_* environment variable overrides, and
// returns the final Config. A missing file is not an error: the defaults
// plus environment variables are a complete configuration. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known VSCOPE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject RPC endpoints and API keys at
// deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Morpho API ──
	setStr(&cfg.Morpho.GraphQLURL, "VSCOPE_MORPHO_GRAPHQL_URL")
	setStr(&cfg.Morpho.APIKey, "VSCOPE_MORPHO_API_KEY")

	// ── Chains: VSCOPE_RPC_<NAME>, e.g. VSCOPE_RPC_ETHEREUM ──
	for i := range cfg.Chains {
		chain := &cfg.Chains[i]
		suffix := strings.ToUpper(chain.Name)
		setStr(&chain.RPCURL, "VSCOPE_RPC_"+suffix)
		setInt(&chain.BatchSize, "VSCOPE_BATCH_SIZE_"+suffix)
		setInt(&chain.RetryCount, "VSCOPE_RETRY_COUNT_"+suffix)
		setDuration(&chain.RetryDelay, "VSCOPE_RETRY_DELAY_"+suffix)
	}

	// ── Server ──
	setBool(&cfg.Server.Enabled, "VSCOPE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "VSCOPE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "VSCOPE_SERVER_CORS_ORIGINS")

	// ── Watch ──
	setDuration(&cfg.Watch.Refresh, "VSCOPE_WATCH_REFRESH")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "VSCOPE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
