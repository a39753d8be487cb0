package jobs

import (
	"os"
	"strconv"
)

// JobConfig controls bulk worker behavior.
type JobConfig struct {
	Concurrency int  // Max concurrent workers. Default 4.
	Buffer      int  // Results buffered ahead of the committer. Default 64.
	StopOnError bool // Abort the batch on the first worker error. Default false.
}

// DefaultJobConfig returns the default job configuration.
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		Concurrency: 4,
		Buffer:      64,
		StopOnError: false,
	}
}

// JobConfigFromEnv loads config from environment variables.
// MKRK_JOB_CONCURRENCY, MKRK_JOB_BUFFER, MKRK_JOB_STOP_ON_ERROR
func JobConfigFromEnv() *JobConfig {
	cfg := DefaultJobConfig()

	if v := os.Getenv("MKRK_JOB_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}

	if v := os.Getenv("MKRK_JOB_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Buffer = n
		}
	}

	if v := os.Getenv("MKRK_JOB_STOP_ON_ERROR"); v != "" {
		cfg.StopOnError, _ = strconv.ParseBool(v)
	}

	return cfg
}
