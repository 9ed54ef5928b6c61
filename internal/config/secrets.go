package config

import "strings"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder. RPC URLs routinely embed provider API keys in their
// path, so only their host survives. Use this when logging the active
// configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Morpho.APIKey)

	out.Chains = make([]ChainConfig, len(cfg.Chains))
	copy(out.Chains, cfg.Chains)
	for i := range out.Chains {
		redactURL(&out.Chains[i].RPCURL)
	}

	return out
}

func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}

// redactURL keeps scheme and host, dropping the path where provider keys
// live.
func redactURL(s *string) {
	if *s == "" {
		return
	}
	rest := *s
	scheme := ""
	if i := strings.Index(rest, "://"); i >= 0 {
		scheme = rest[:i+3]
		rest = rest[i+3:]
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	*s = scheme + rest + "/***"
}
