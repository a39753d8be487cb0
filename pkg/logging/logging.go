// Package logging builds the process logger. Libraries in this module take
// a *slog.Logger; the CLI backs it with zap.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Formats accepted by New.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

const verboseLevel = zapcore.Level(-4)

// New returns a slog logger writing to stderr at the given level ("debug",
// "info", "warn", "error"). The returned func flushes buffered output.
func New(level, format string) (*slog.Logger, func() error, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := zapConfig(lvl, format)
	if err != nil {
		return nil, nil, err
	}
	z, err := cfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return fromZap(z), z.Sync, nil
}

// NewWriter is New with output sent to w instead of stderr.
func NewWriter(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg, err := zapConfig(lvl, format)
	if err != nil {
		return nil, err
	}
	enc := zapcore.NewConsoleEncoder(cfg.EncoderConfig)
	if cfg.Encoding == FormatJSON {
		enc = zapcore.NewJSONEncoder(cfg.EncoderConfig)
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(w), cfg.Level)
	return fromZap(zap.New(core)), nil
}

func fromZap(z *zap.Logger) *slog.Logger {
	return slog.New(logr.ToSlogHandler(zapr.NewLogger(z)))
}

func zapConfig(lvl zapcore.Level, format string) (zap.Config, error) {
	var cfg zap.Config
	switch strings.ToLower(format) {
	case "", FormatConsole:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = true
	case FormatJSON:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return zap.Config{}, fmt.Errorf("unknown log format %q (want console or json)", format)
	}
	if lvl == zapcore.DebugLevel {
		// slog debug records reach zap as logr V(4).
		lvl = verboseLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableCaller = true
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg, nil
}

// ParseLevel maps a level name onto zap's levels. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return 0, fmt.Errorf("unknown log level %q: %w", level, err)
	}
	return lvl, nil
}
