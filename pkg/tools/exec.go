package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/foiacquire/muckrake/pkg/apierr"
)

// Invocation is one run of an external tool over some files.
type Invocation struct {
	Candidate Candidate
	Files     []string
	Context   Context
	Dir       string
	Stdin     io.Reader
	Stdout    io.Writer
	Stderr    io.Writer
}

// Result describes a finished tool run.
type Result struct {
	Command  []string
	ExitCode int
	Duration time.Duration
	Bypassed bool
}

// Runner spawns tools with the proxy environment and a deadline.
type Runner struct {
	cfg     *RunConfig
	baseEnv func() []string
	logger  *slog.Logger
}

// NewRunner returns a runner.
func NewRunner(cfg *RunConfig, logger *slog.Logger) *Runner {
	if cfg == nil {
		cfg = DefaultRunConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, baseEnv: OSEnv, logger: logger}
}

// Argv splits the candidate's command into program and arguments.
// Convention tools are a path and are never split.
func (c Candidate) Argv() []string {
	if c.Origin == OriginConvention {
		return []string{c.Command}
	}
	return strings.Fields(c.Command)
}

// Run executes the invocation. A run that outlives the configured timeout
// is killed and reported as a ToolTimeoutError; a non-zero exit is an
// error carrying the exit code.
func (r *Runner) Run(ctx context.Context, inv Invocation) (Result, error) {
	argv := inv.Candidate.Argv()
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("tool %q has an empty command", inv.Candidate.Label)
	}
	env, bypass := BuildEnv(r.baseEnv(), inv.Context, inv.Candidate.Env, r.cfg.ProxyURL)
	if bypass {
		r.logger.Warn("running tool without proxy protection", "command", argv[0])
	} else if !inv.Candidate.Quiet {
		r.logger.Info("running tool with proxy environment", "command", argv[0], "proxy", r.cfg.ProxyURL)
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	args := append(argv[1:len(argv):len(argv)], inv.Files...)
	cmd := exec.CommandContext(ctx, argv[0], args...)
	cmd.Env = env
	cmd.Dir = inv.Dir
	cmd.Stdin = inv.Stdin
	cmd.Stdout = inv.Stdout
	var stderr bytes.Buffer
	if inv.Stderr != nil {
		cmd.Stderr = io.MultiWriter(inv.Stderr, &stderr)
	} else {
		cmd.Stderr = &stderr
	}
	cmd.WaitDelay = r.cfg.KillGrace

	start := time.Now()
	err := cmd.Run()
	res := Result{Command: append([]string{argv[0]}, args...), Duration: time.Since(start), Bypassed: bypass}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, &ToolTimeoutError{Code: apierr.CodeToolTimeout, Command: argv[0], Timeout: r.cfg.Timeout}
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return res, fmt.Errorf("tool %s failed: %w: %s", argv[0], err, msg)
		}
		return res, fmt.Errorf("tool %s failed: %w", argv[0], err)
	}
	return res, nil
}
