package audit

import (
	"os"
	"strconv"
)

// AuditConfig controls audit behavior.
type AuditConfig struct {
	RetentionDays int  // Days of events to keep. Default 0 (keep forever)
	LogFailures   bool // Whether refused operations (edit denied, integrity mismatch) are recorded
	Enabled       bool // Whether events are written at all
}

// DefaultAuditConfig returns the default configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		RetentionDays: 0,
		LogFailures:   true,
		Enabled:       true,
	}
}

// AuditConfigFromEnv loads config from environment variables.
// MKRK_AUDIT_RETENTION_DAYS, MKRK_AUDIT_LOG_FAILURES, MKRK_AUDIT_ENABLED
func AuditConfigFromEnv() *AuditConfig {
	cfg := DefaultAuditConfig()

	if v := os.Getenv("MKRK_AUDIT_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days >= 0 {
			cfg.RetentionDays = days
		}
	}

	if v := os.Getenv("MKRK_AUDIT_LOG_FAILURES"); v != "" {
		cfg.LogFailures, _ = strconv.ParseBool(v)
	}

	if v := os.Getenv("MKRK_AUDIT_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}

	return cfg
}
