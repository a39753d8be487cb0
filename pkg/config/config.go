// Package config assembles runtime configuration from defaults, an
// optional YAML file, MKRK_* environment variables, and command-line
// flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/foiacquire/muckrake/pkg/audit"
	"github.com/foiacquire/muckrake/pkg/cache"
	"github.com/foiacquire/muckrake/pkg/jobs"
	"github.com/foiacquire/muckrake/pkg/logging"
	"github.com/foiacquire/muckrake/pkg/rules"
	"github.com/foiacquire/muckrake/pkg/tools"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "MKRK"

// Keys understood in the config file. Nested keys map to environment
// variables with dots replaced by underscores, e.g. MKRK_LOG_LEVEL.
const (
	KeyLogLevel         = "log.level"
	KeyLogFormat        = "log.format"
	KeyActor            = "actor"
	KeyHashCheck        = "hash_check"
	KeySigner           = "signer"
	KeyKeyring          = "gpg.keyring"
	KeyPassphrase       = "gpg.passphrase"
	KeyProxy            = "proxy"
	KeyToolTimeout      = "tool.timeout"
	KeyRulesMaxDepth    = "rules.max_depth"
	KeyRulesEnabled     = "rules.enabled"
	KeyJobsConcurrency  = "jobs.concurrency"
	KeyJobsBuffer       = "jobs.buffer"
	KeyAuditRetention   = "audit.retention_days"
	KeyAuditEnabled     = "audit.enabled"
	KeyAuditLogFailures = "audit.log_failures"
	KeyCacheEnabled     = "cache.enabled"
	KeyCacheTTL         = "cache.ttl"
	KeyCacheMaxSize     = "cache.max_size"
)

// Config is the resolved configuration of one mkrk invocation.
type Config struct {
	LogLevel  string
	LogFormat string
	// Actor is recorded on audit events.
	Actor     string
	HashCheck bool
	// Signer selects the OpenPGP identity used for detached signatures.
	// Empty disables cryptographic signing.
	Signer     string
	Keyring    string
	Passphrase string

	Jobs  *jobs.JobConfig
	Rules *rules.RuleConfig
	Tools *tools.RunConfig
	Audit *audit.AuditConfig
	Cache *cache.CacheConfig

	// File is the config file that was read, if any.
	File string
}

// BindFlags registers the flags that override configuration keys and
// binds them into v.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("log-format", "", "log format (console, json)")
	fs.String("actor", "", "identity recorded on audit events")
	fs.Bool("hash-check", true, "fingerprint files of tag-scoped references before use")

	binds := map[string]string{
		KeyLogLevel:  "log-level",
		KeyLogFormat: "log-format",
		KeyActor:     "actor",
		KeyHashCheck: "hash-check",
	}
	for key, name := range binds {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// SetDefaults seeds v with the component defaults.
func SetDefaults(v *viper.Viper) {
	j := jobs.DefaultJobConfig()
	r := rules.DefaultRuleConfig()
	tc := tools.DefaultRunConfig()
	a := audit.DefaultAuditConfig()
	c := cache.DefaultCacheConfig()

	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, logging.FormatConsole)
	v.SetDefault(KeyActor, defaultActor())
	v.SetDefault(KeyHashCheck, true)
	v.SetDefault(KeySigner, "")
	v.SetDefault(KeyKeyring, "")
	v.SetDefault(KeyPassphrase, "")
	v.SetDefault(KeyProxy, tc.ProxyURL)
	v.SetDefault(KeyToolTimeout, "0")
	v.SetDefault(KeyRulesMaxDepth, r.MaxDepth)
	v.SetDefault(KeyRulesEnabled, r.Enabled)
	v.SetDefault(KeyJobsConcurrency, j.Concurrency)
	v.SetDefault(KeyJobsBuffer, j.Buffer)
	v.SetDefault(KeyAuditRetention, a.RetentionDays)
	v.SetDefault(KeyAuditEnabled, a.Enabled)
	v.SetDefault(KeyAuditLogFailures, a.LogFailures)
	v.SetDefault(KeyCacheEnabled, c.Enabled)
	v.SetDefault(KeyCacheTTL, c.TTL.String())
	v.SetDefault(KeyCacheMaxSize, c.MaxSize)
}

// Load reads file (or the default location when file is empty) into v and
// resolves the configuration. A missing default file is not an error; a
// missing explicit file is.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		if dir, err := DefaultDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper builds a Config from the current values in v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		LogLevel:   v.GetString(KeyLogLevel),
		LogFormat:  v.GetString(KeyLogFormat),
		Actor:      v.GetString(KeyActor),
		HashCheck:  v.GetBool(KeyHashCheck),
		Signer:     v.GetString(KeySigner),
		Keyring:    v.GetString(KeyKeyring),
		Passphrase: v.GetString(KeyPassphrase),
		File:       v.ConfigFileUsed(),
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	if cfg.Actor == "" {
		return nil, errors.New("actor must not be empty")
	}

	timeout, err := seconds(v.GetString(KeyToolTimeout))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyToolTimeout, err)
	}
	ttl, err := seconds(v.GetString(KeyCacheTTL))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyCacheTTL, err)
	}

	cfg.Jobs = jobs.DefaultJobConfig()
	cfg.Jobs.Concurrency = v.GetInt(KeyJobsConcurrency)
	cfg.Jobs.Buffer = v.GetInt(KeyJobsBuffer)
	if cfg.Jobs.Concurrency < 1 {
		return nil, fmt.Errorf("%s must be at least 1, got %d", KeyJobsConcurrency, cfg.Jobs.Concurrency)
	}

	cfg.Rules = rules.DefaultRuleConfig()
	cfg.Rules.MaxDepth = v.GetInt(KeyRulesMaxDepth)
	cfg.Rules.Enabled = v.GetBool(KeyRulesEnabled)
	if cfg.Rules.MaxDepth < 1 {
		return nil, fmt.Errorf("%s must be at least 1, got %d", KeyRulesMaxDepth, cfg.Rules.MaxDepth)
	}

	cfg.Tools = tools.DefaultRunConfig()
	cfg.Tools.Timeout = timeout
	cfg.Tools.ProxyURL = v.GetString(KeyProxy)

	cfg.Audit = audit.DefaultAuditConfig()
	cfg.Audit.RetentionDays = v.GetInt(KeyAuditRetention)
	cfg.Audit.Enabled = v.GetBool(KeyAuditEnabled)
	cfg.Audit.LogFailures = v.GetBool(KeyAuditLogFailures)
	if cfg.Audit.RetentionDays < 0 {
		return nil, fmt.Errorf("%s must not be negative", KeyAuditRetention)
	}

	cfg.Cache = cache.DefaultCacheConfig()
	cfg.Cache.Enabled = v.GetBool(KeyCacheEnabled)
	cfg.Cache.MaxSize = v.GetInt(KeyCacheMaxSize)
	if ttl > 0 {
		cfg.Cache.TTL = ttl
	}

	return cfg, nil
}

// DefaultDir is where Load looks for config.yaml when no file is given.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "mkrk"), nil
}

// seconds parses a bare integer as seconds and anything else as a Go
// duration.
func seconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

func defaultActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
