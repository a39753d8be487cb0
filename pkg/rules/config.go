package rules

import (
	"os"
	"strconv"
)

// RuleConfig bounds event dispatch.
type RuleConfig struct {
	// MaxDepth is how many derived events may follow an originating event
	// before the chain is cut off.
	MaxDepth int
	Enabled  bool
}

// DefaultRuleConfig returns the defaults used when nothing is configured.
func DefaultRuleConfig() *RuleConfig {
	return &RuleConfig{MaxDepth: 8, Enabled: true}
}

// RuleConfigFromEnv reads MKRK_RULES_* variables over the defaults.
func RuleConfigFromEnv() *RuleConfig {
	cfg := DefaultRuleConfig()
	if v := os.Getenv("MKRK_RULES_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxDepth = n
		}
	}
	if v := os.Getenv("MKRK_RULES_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Enabled = b
		}
	}
	return cfg
}
