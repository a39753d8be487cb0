package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foiacquire/muckrake/pkg/tools"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, e := range os.Environ() {
		name, _, _ := strings.Cut(e, "=")
		if strings.HasPrefix(name, EnvPrefix+"_") {
			t.Setenv(name, "")
			require.NoError(t, os.Unsetenv(name))
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.NotEmpty(t, cfg.Actor)
	assert.True(t, cfg.HashCheck)
	assert.Empty(t, cfg.Signer)
	assert.Empty(t, cfg.File)
	assert.Equal(t, 4, cfg.Jobs.Concurrency)
	assert.Equal(t, 8, cfg.Rules.MaxDepth)
	assert.Equal(t, tools.DefaultProxy, cfg.Tools.ProxyURL)
	assert.Zero(t, cfg.Tools.Timeout)
	assert.Zero(t, cfg.Audit.RetentionDays)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
}

func TestLoad_FileAndEnv(t *testing.T) {
	isolate(t)
	file := filepath.Join(t.TempDir(), "mkrk.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
actor: alice
hash_check: false
proxy: socks5h://10.0.0.1:9050
tool:
  timeout: 90s
rules:
  max_depth: 3
jobs:
  concurrency: 2
audit:
  retention_days: 30
`), 0o644))
	t.Setenv("MKRK_JOBS_CONCURRENCY", "6")
	t.Setenv("MKRK_LOG_LEVEL", "debug")

	cfg, err := Load(viper.New(), file)
	require.NoError(t, err)

	assert.Equal(t, file, cfg.File)
	assert.Equal(t, "alice", cfg.Actor)
	assert.False(t, cfg.HashCheck)
	assert.Equal(t, "socks5h://10.0.0.1:9050", cfg.Tools.ProxyURL)
	assert.Equal(t, 90*time.Second, cfg.Tools.Timeout)
	assert.Equal(t, 3, cfg.Rules.MaxDepth)
	assert.Equal(t, 6, cfg.Jobs.Concurrency, "environment overrides the file")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30, cfg.Audit.RetentionDays)
}

func TestLoad_DefaultLocation(t *testing.T) {
	isolate(t)
	dir, err := DefaultDir()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("signer: investigator@example.org\n"), 0o644))

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "investigator@example.org", cfg.Signer)
}

func TestLoad_FlagsWin(t *testing.T) {
	isolate(t)
	t.Setenv("MKRK_ACTOR", "from-env")

	v := viper.New()
	fs := pflag.NewFlagSet("mkrk", pflag.ContinueOnError)
	require.NoError(t, BindFlags(v, fs))
	require.NoError(t, fs.Parse([]string{"--actor", "from-flag", "--hash-check=false"}))

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.Actor)
	assert.False(t, cfg.HashCheck)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		file string
	}{
		{name: "missing explicit file", file: "/nonexistent/mkrk.yaml"},
		{name: "bad level", env: map[string]string{"MKRK_LOG_LEVEL": "loud"}},
		{name: "bad timeout", env: map[string]string{"MKRK_TOOL_TIMEOUT": "soon"}},
		{name: "negative timeout", env: map[string]string{"MKRK_TOOL_TIMEOUT": "-5"}},
		{name: "zero depth", env: map[string]string{"MKRK_RULES_MAX_DEPTH": "0"}},
		{name: "zero workers", env: map[string]string{"MKRK_JOBS_CONCURRENCY": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(viper.New(), tt.file)
			assert.Error(t, err)
		})
	}
}

func TestSeconds(t *testing.T) {
	d, err := seconds("30")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	d, err = seconds("1m30s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = seconds("")
	require.NoError(t, err)
	assert.Zero(t, d)
}
