package custody

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/audit"
	"github.com/foiacquire/muckrake/pkg/category"
	"github.com/foiacquire/muckrake/pkg/integrity"
	"github.com/foiacquire/muckrake/pkg/jobs"
	"github.com/foiacquire/muckrake/pkg/models"
	"github.com/foiacquire/muckrake/pkg/rules"
	"github.com/foiacquire/muckrake/pkg/store"
	"github.com/foiacquire/muckrake/pkg/workspace"
)

// IngestRequest names what to start tracking.
type IngestRequest struct {
	// Paths are files or directories, inside the project or outside it.
	Paths []string
	// Category receives copies of files from outside the project. Empty
	// means the project root.
	Category string
	// Method overrides the provenance method. By default files already in
	// the project are "ingest" and copied files are "copy".
	Method models.IngestMethod
}

// Failure is one path an operation could not handle.
type Failure struct {
	Path string
	Err  error
}

func (f Failure) Error() string { return fmt.Sprintf("%s: %v", f.Path, f.Err) }

// IngestResult reports what Ingest did.
type IngestResult struct {
	Ingested []models.File
	// Updated are editable files that were already tracked and whose
	// content record was refreshed.
	Updated []models.File
	Failed  []Failure
	// RuleErrors are rule chains that stopped early after a file was
	// ingested.
	RuleErrors []Failure
	Chains     []rules.Outcome
	Summary    jobs.Summary
}

type ingestItem struct {
	src      string
	rel      string
	copy     bool
	method   models.IngestMethod
	source   string
	existing *models.File
}

type hashed struct {
	digests integrity.Digests
	mime    string
}

// Ingest starts tracking files. Hashing runs on the worker pool; each file
// is committed with its audit event in its own transaction, then immutable
// files get the OS flag and an ingest event is dispatched.
func (t *Tracker) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	u, err := t.current()
	if err != nil {
		return nil, err
	}
	items, failed, err := t.planIngest(u, req)
	if err != nil {
		return nil, err
	}
	res := &IngestResult{Failed: failed}

	// copied holds fresh copies not yet backed by a committed file row.
	var (
		mu     sync.Mutex
		copied = make(map[string]bool)
	)

	work := func(_ context.Context, it ingestItem) (hashed, error) {
		dst := u.abs(it.rel)
		if it.copy {
			if err := copyFile(it.src, dst, it.existing != nil); err != nil {
				return hashed{}, err
			}
			if it.existing == nil {
				mu.Lock()
				copied[dst] = true
				mu.Unlock()
			}
		}
		d, err := integrity.HashFile(dst)
		if err != nil {
			return hashed{}, err
		}
		return hashed{digests: d, mime: integrity.DetectMIME(dst)}, nil
	}

	var created []models.File
	commit := func(r jobs.Result[ingestItem, hashed]) error {
		if r.Err != nil {
			res.Failed = append(res.Failed, Failure{Path: r.Item.rel, Err: r.Err})
			return nil
		}
		f, err := t.commitIngest(u, r.Item, r.Value)
		if err != nil {
			if apierr.CodeOf(err) != "" {
				res.Failed = append(res.Failed, Failure{Path: r.Item.rel, Err: err})
				return nil
			}
			return err
		}
		mu.Lock()
		delete(copied, u.abs(r.Item.rel))
		mu.Unlock()
		if r.Item.existing != nil {
			res.Updated = append(res.Updated, *f)
		} else {
			res.Ingested = append(res.Ingested, *f)
			created = append(created, *f)
		}
		if u.protection(f.Path) == models.ProtectionImmutable {
			if err := t.flags.Set(u.abs(f.Path)); err != nil {
				t.logger.Warn("could not set immutable flag", "path", f.Path, "error", err)
			}
		}
		return nil
	}

	summary, err := jobs.Run(ctx, t.pool, items, work, commit)
	res.Summary = summary
	t.removeCopies(copied)
	if err != nil {
		return res, fmt.Errorf("ingest: %w", err)
	}

	for i := range created {
		f := created[i]
		ev := rules.NewEvent(models.EventIngest, &f)
		ev.Project = u.h.Name
		out, err := u.rules.Dispatch(ctx, ev)
		res.Chains = append(res.Chains, out)
		if err != nil {
			res.RuleErrors = append(res.RuleErrors, Failure{Path: f.Path, Err: err})
		}
	}
	return res, nil
}

// IngestFrom copies one external file into the current project. It is the
// hook the inbox assigns through.
func (t *Tracker) IngestFrom(ctx context.Context, src, categoryName string, method models.IngestMethod) (*models.File, error) {
	res, err := t.Ingest(ctx, IngestRequest{Paths: []string{src}, Category: categoryName, Method: method})
	if err != nil {
		return nil, err
	}
	if len(res.Failed) > 0 {
		return nil, res.Failed[0].Err
	}
	switch {
	case len(res.Ingested) > 0:
		return &res.Ingested[0], nil
	case len(res.Updated) > 0:
		return &res.Updated[0], nil
	default:
		return nil, fmt.Errorf("ingest %s: nothing was tracked", src)
	}
}

func (t *Tracker) commitIngest(u *unit, it ingestItem, h hashed) (*models.File, error) {
	var f models.File
	if it.existing != nil {
		f = *it.existing
	} else {
		f = models.File{
			Path:             it.rel,
			Name:             path.Base(it.rel),
			ProvenanceSource: it.source,
			ProvenanceMethod: it.method,
			ProvenanceAt:     time.Now().UTC(),
		}
	}
	f.Size = h.digests.Size
	f.MimeType = h.mime
	f.SHA256 = h.digests.SHA256
	f.Fingerprint = h.digests.Fingerprint

	err := u.h.Store.Transaction(func(tx *store.ProjectStore) error {
		op := audit.OpIngest
		if it.method == models.MethodInbox {
			op = audit.OpInboxAssign
		}
		if it.existing != nil {
			// Protection may have tightened since planning.
			if err := u.checkWritable(f.Path); err != nil {
				return err
			}
			op = audit.OpReingest
			if err := tx.UpdateFileContent(&f); err != nil {
				return err
			}
		} else if err := tx.CreateFile(&f); err != nil {
			return err
		}
		return t.recorder.Record(auditStore(tx), audit.Entry{
			Operation: op,
			FileID:    fileID(&f),
			Path:      f.Path,
			Detail: models.JSONAny{
				"sha256": f.SHA256,
				"size":   f.Size,
				"method": string(f.ProvenanceMethod),
				"source": f.ProvenanceSource,
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("track %s: %w", f.Path, err)
	}
	t.logger.Info("file tracked", "path", f.Path, "protection", u.protection(f.Path), "reingest", it.existing != nil)
	return &f, nil
}

// removeCopies deletes copies whose file row was never committed, so a
// failed ingest leaves nothing untracked under the project root.
func (t *Tracker) removeCopies(copied map[string]bool) {
	for dst := range copied {
		if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
			t.logger.Warn("could not remove uncommitted copy", "path", dst, "error", err)
			continue
		}
		t.logger.Debug("removed uncommitted copy", "path", dst)
	}
}

// planIngest expands directories, maps every path to its project-relative
// destination, and sorts out which files may be (re)tracked. Per-path
// problems are returned as failures; only an unusable request is an error.
func (t *Tracker) planIngest(u *unit, req IngestRequest) ([]ingestItem, []Failure, error) {
	destDir := ""
	if req.Category != "" {
		c, ok := u.h.Categories.ByName(req.Category)
		if !ok {
			return nil, nil, apierr.New(apierr.CodeUnknownScope, fmt.Sprintf("no category named %q", req.Category))
		}
		destDir = category.LiteralPrefix(c.Pattern)
	}

	var (
		items  []ingestItem
		failed []Failure
		seen   = make(map[string]bool)
	)
	add := func(it ingestItem) {
		if seen[it.rel] {
			return
		}
		seen[it.rel] = true

		existing, err := u.h.Store.FileByPath(it.rel)
		if err != nil {
			failed = append(failed, Failure{Path: it.rel, Err: err})
			return
		}
		if existing != nil {
			if err := u.checkWritable(it.rel); err != nil {
				t.recorder.RecordFailure(auditStore(u.h.Store), audit.Entry{
					Operation: audit.OpEditDenied,
					FileID:    fileID(existing),
					Path:      it.rel,
					Detail:    models.JSONAny{"attempt": "reingest"},
				}, err)
				failed = append(failed, Failure{Path: it.rel, Err: err})
				return
			}
			it.existing = existing
		} else if it.copy {
			if _, err := os.Lstat(u.abs(it.rel)); err == nil {
				failed = append(failed, Failure{Path: it.rel, Err: fmt.Errorf("destination already exists and is untracked")})
				return
			}
		}
		items = append(items, it)
	}

	for _, p := range req.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			failed = append(failed, Failure{Path: p, Err: err})
			continue
		}

		inside, rel := within(u.h.Root, abs)
		method := req.Method
		if method == "" {
			method = models.MethodIngest
			if !inside {
				method = models.MethodCopy
			}
		}

		if !info.IsDir() {
			if inside {
				if skip(rel) {
					continue
				}
				add(ingestItem{src: abs, rel: rel, method: method})
			} else {
				add(ingestItem{src: abs, rel: joinRel(destDir, filepath.Base(abs)), copy: true, method: method, source: abs})
			}
			continue
		}

		err = filepath.WalkDir(abs, func(fp string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if fp != abs && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if inside {
				_, r := within(u.h.Root, fp)
				if !skip(r) {
					add(ingestItem{src: fp, rel: r, method: method})
				}
				return nil
			}
			sub, err := filepath.Rel(filepath.Dir(abs), fp)
			if err != nil {
				return err
			}
			add(ingestItem{src: fp, rel: joinRel(destDir, filepath.ToSlash(sub)), copy: true, method: method, source: fp})
			return nil
		})
		if err != nil {
			failed = append(failed, Failure{Path: p, Err: err})
		}
	}
	return items, failed, nil
}

// within reports whether abs lies under root, and its slash-separated
// path relative to root.
func within(root, abs string) (bool, string) {
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false, ""
	}
	return true, filepath.ToSlash(rel)
}

// skip reports whether a project-relative path is muckrake's own state.
func skip(rel string) bool {
	first, _, _ := strings.Cut(rel, "/")
	return rel == "." || strings.HasPrefix(first, workspace.ProjectMarker) || strings.HasPrefix(first, workspace.WorkspaceMarker)
}

func joinRel(dir, name string) string {
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}

// copyFile copies src to dst, creating parent directories. Unless
// overwrite is set, dst must not exist.
func copyFile(src, dst string, overwrite bool) (err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	out, err := os.OpenFile(dst, flags, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil && !overwrite {
			_ = os.Remove(dst)
		}
	}()
	if _, err = io.CopyBuffer(out, in, make([]byte, integrity.ChunkSize)); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return nil
}
