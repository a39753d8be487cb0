package custody

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/foiacquire/muckrake/pkg/store"
)

// TagCount is a tag label with the number of files carrying it.
type TagCount struct {
	Tag   string `json:"tag" yaml:"tag"`
	Files int    `json:"files" yaml:"files"`
}

// TagCounts lists every tag in the current project, ordered by label.
func (t *Tracker) TagCounts() ([]TagCount, error) {
	u, err := t.current()
	if err != nil {
		return nil, err
	}
	counts, err := u.h.Store.AllTags()
	if err != nil {
		return nil, err
	}
	out := make([]TagCount, 0, len(counts))
	for tag, n := range counts {
		out = append(out, TagCount{Tag: tag, Files: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out, nil
}

// ProjectStatus summarizes the current project.
type ProjectStatus struct {
	Name               string `json:"name" yaml:"name"`
	Root               string `json:"root" yaml:"root"`
	Categories         int    `json:"categories" yaml:"categories"`
	store.ProjectStats `yaml:",inline"`
}

// WorkspaceStatus summarizes the enclosing workspace.
type WorkspaceStatus struct {
	Root     string `json:"root" yaml:"root"`
	Projects int    `json:"projects" yaml:"projects"`
	// Inbox counts files waiting in the inbox. Nil when no inbox is
	// configured.
	Inbox *int `json:"inbox,omitempty" yaml:"inbox,omitempty"`
}

// Status describes where the tracker is running. Either part may be nil.
type Status struct {
	Project   *ProjectStatus   `json:"project,omitempty" yaml:"project,omitempty"`
	Workspace *WorkspaceStatus `json:"workspace,omitempty" yaml:"workspace,omitempty"`
}

// Status reports record counts for the current project and the enclosing
// workspace.
func (t *Tracker) Status() (*Status, error) {
	out := &Status{}
	if h := t.wc.Current(); h != nil {
		stats, err := h.Store.Stats()
		if err != nil {
			return nil, err
		}
		out.Project = &ProjectStatus{
			Name:         h.Name,
			Root:         h.Root,
			Categories:   len(h.Categories.Categories()),
			ProjectStats: *stats,
		}
	}

	ws := t.wc.Workspace()
	if ws == nil {
		return out, nil
	}
	refs, err := ws.Store.Projects()
	if err != nil {
		return nil, err
	}
	out.Workspace = &WorkspaceStatus{Root: ws.Root, Projects: len(refs)}
	dir, ok, err := t.wc.InboxDir()
	if err != nil {
		return nil, err
	}
	if ok {
		n, err := countFiles(dir)
		if err != nil {
			return nil, err
		}
		out.Workspace.Inbox = &n
	}
	return out, nil
}

// countFiles counts regular files directly inside dir. A missing directory
// holds none.
func countFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read inbox: %w", err)
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() {
			n++
		}
	}
	return n, nil
}
