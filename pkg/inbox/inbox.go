// Package inbox manages the workspace drop directory: files land there
// untracked and are later assigned to a project, which ingests them.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/models"
)

// Entry is one file waiting in the inbox.
type Entry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Ingester takes an inbox file into a project, copying it under category
// (or the project root when category is empty).
type Ingester interface {
	IngestFrom(ctx context.Context, src, category string, method models.IngestMethod) (*models.File, error)
}

// Inbox is a workspace inbox directory.
type Inbox struct {
	dir    string
	logger *slog.Logger
}

// New returns the inbox rooted at dir.
func New(dir string, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{dir: dir, logger: logger}
}

// Dir returns the inbox directory.
func (b *Inbox) Dir() string { return b.dir }

// List returns the regular files directly inside the inbox, ordered by
// name. Hidden files are skipped. A missing directory is an empty inbox.
func (b *Inbox) List() ([]Entry, error) {
	dirents, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	var out []Entry
	for _, d := range dirents {
		if hidden(d.Name()) || !d.Type().IsRegular() {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Name:    d.Name(),
			Path:    filepath.Join(b.dir, d.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Lookup returns the inbox entry called name.
func (b *Inbox) Lookup(name string) (Entry, error) {
	if name == "" || strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) || name == ".." {
		return Entry{}, apierr.New(apierr.CodeNotFound, fmt.Sprintf("%q is not an inbox file name", name))
	}
	p := filepath.Join(b.dir, name)
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return Entry{}, apierr.New(apierr.CodeNotFound, fmt.Sprintf("file %q not found in inbox", name))
	}
	return Entry{Name: name, Path: p, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Assign ingests the named inbox file into dst under category, then removes
// it from the inbox. The inbox copy is kept when ingest fails.
func (b *Inbox) Assign(ctx context.Context, name string, dst Ingester, category string) (*models.File, error) {
	e, err := b.Lookup(name)
	if err != nil {
		return nil, err
	}
	f, err := dst.IngestFrom(ctx, e.Path, category, models.MethodInbox)
	if err != nil {
		return nil, fmt.Errorf("assign %s: %w", name, err)
	}
	if err := os.Remove(e.Path); err != nil {
		return f, fmt.Errorf("remove %s from inbox: %w", name, err)
	}
	b.logger.Info("inbox file assigned", "file", name, "path", f.Path)
	return f, nil
}

func hidden(name string) bool { return strings.HasPrefix(name, ".") }
