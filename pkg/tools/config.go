package tools

import (
	"os"
	"strconv"
	"time"
)

// DefaultProxy is the SOCKS endpoint tools are pointed at unless a tool
// config overrides it.
const DefaultProxy = "socks5h://127.0.0.1:9050"

// RunConfig controls external tool invocation.
type RunConfig struct {
	// Timeout bounds a single invocation. Zero means no limit.
	Timeout time.Duration

	// ProxyURL is exported as ALL_PROXY, HTTPS_PROXY and HTTP_PROXY.
	ProxyURL string

	// KillGrace is how long a timed-out tool has to exit after being
	// signalled before its pipes are closed.
	KillGrace time.Duration
}

// DefaultRunConfig returns the default tool configuration.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		Timeout:   0,
		ProxyURL:  DefaultProxy,
		KillGrace: 2 * time.Second,
	}
}

// RunConfigFromEnv loads config from environment variables.
// MKRK_TOOL_TIMEOUT (seconds), MKRK_PROXY_URL
func RunConfigFromEnv() *RunConfig {
	cfg := DefaultRunConfig()

	if v := os.Getenv("MKRK_TOOL_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			cfg.Timeout = time.Duration(secs) * time.Second
		}
	}

	if v := os.Getenv("MKRK_PROXY_URL"); v != "" {
		cfg.ProxyURL = v
	}

	return cfg
}
