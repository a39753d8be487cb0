package integrity

import (
	"bytes"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// FlagManager toggles the OS-level immutable attribute on a file.
type FlagManager interface {
	Set(path string) error
	Clear(path string) error
	IsSet(path string) (bool, error)
}

// DefaultFlags returns chattr-backed flags on Linux when the tools are
// installed, and a no-op manager elsewhere.
func DefaultFlags(logger *slog.Logger) FlagManager {
	if logger == nil {
		logger = slog.Default()
	}
	if runtime.GOOS != "linux" {
		return NoopFlags{}
	}
	if _, err := exec.LookPath("chattr"); err != nil {
		logger.Debug("chattr not found, immutable flags disabled")
		return NoopFlags{}
	}
	return &ChattrFlags{logger: logger}
}

// ChattrFlags manages the ext2/3/4 immutable attribute through chattr and
// lsattr. Setting it usually needs CAP_LINUX_IMMUTABLE.
type ChattrFlags struct {
	logger *slog.Logger
}

// Set applies chattr +i.
func (c *ChattrFlags) Set(path string) error { return c.chattr("+i", path) }

// Clear applies chattr -i.
func (c *ChattrFlags) Clear(path string) error { return c.chattr("-i", path) }

func (c *ChattrFlags) chattr(op, path string) error {
	var stderr bytes.Buffer
	cmd := exec.Command("chattr", op, path)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("chattr %s %s: %w: %s", op, path, err, strings.TrimSpace(stderr.String()))
	}
	c.logger.Debug("immutable flag changed", "path", path, "op", op)
	return nil
}

// IsSet parses lsattr output; the attribute field contains 'i' when set.
func (c *ChattrFlags) IsSet(path string) (bool, error) {
	out, err := exec.Command("lsattr", "-d", path).Output()
	if err != nil {
		return false, fmt.Errorf("lsattr %s: %w", path, err)
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return false, fmt.Errorf("lsattr %s: empty output", path)
	}
	return strings.Contains(fields[0], "i"), nil
}

// NoopFlags never sets anything and always reports the flag absent.
type NoopFlags struct{}

// Set implements FlagManager.
func (NoopFlags) Set(string) error { return nil }

// Clear implements FlagManager.
func (NoopFlags) Clear(string) error { return nil }

// IsSet implements FlagManager.
func (NoopFlags) IsSet(string) (bool, error) { return false, nil }

// MemoryFlags records flags in memory. It is meant for tests and for
// filesystems without attribute support.
type MemoryFlags struct {
	mu  sync.Mutex
	set map[string]bool
}

// NewMemoryFlags returns an empty MemoryFlags.
func NewMemoryFlags() *MemoryFlags {
	return &MemoryFlags{set: map[string]bool{}}
}

func (m *MemoryFlags) Set(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set[path] = true
	return nil
}

func (m *MemoryFlags) Clear(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.set, path)
	return nil
}

func (m *MemoryFlags) IsSet(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set[path], nil
}
