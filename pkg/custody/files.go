package custody

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/audit"
	"github.com/foiacquire/muckrake/pkg/category"
	"github.com/foiacquire/muckrake/pkg/integrity"
	"github.com/foiacquire/muckrake/pkg/models"
	"github.com/foiacquire/muckrake/pkg/reference"
	"github.com/foiacquire/muckrake/pkg/rules"
	"github.com/foiacquire/muckrake/pkg/store"
)

// BatchResult reports a per-file operation over resolved references.
type BatchResult struct {
	// Changed lists "project:path" for files the operation modified.
	Changed []string
	// Unchanged lists files that already were in the requested state.
	Unchanged []string
	Failed    []Failure
	// Mismatches are tag-scoped files whose content no longer matches its
	// fingerprint. They are still operated on.
	Mismatches []FileReport
	Chains     []rules.Outcome
	RuleErrors []Failure
}

func label(rf reference.ResolvedFile) string {
	return rf.Project.Name + ":" + rf.File.Path
}

func (r *BatchResult) dispatched(rf reference.ResolvedFile, out rules.Outcome, err error) {
	r.Chains = append(r.Chains, out)
	if err != nil {
		r.RuleErrors = append(r.RuleErrors, Failure{Path: label(rf), Err: err})
	}
}

// newEvent starts a chain for a file in u's project.
func newEvent(u *unit, kind models.EventKind, f *models.File) rules.Event {
	ev := rules.NewEvent(kind, f)
	ev.Project = u.h.Name
	return ev
}

// Untrack forgets the referenced files along with their tags and signs.
// The files stay on disk; immutable ones lose their OS flag.
func (t *Tracker) Untrack(ctx context.Context, refs []string) (*BatchResult, error) {
	coll, res, err := t.resolve(ctx, refs)
	if err != nil {
		return nil, err
	}
	for _, rf := range coll.Files {
		u := t.unit(rf.Project)
		f := rf.File
		err := u.h.Store.Transaction(func(tx *store.ProjectStore) error {
			if err := tx.DeleteFile(f.ID); err != nil {
				return err
			}
			return t.recorder.Record(auditStore(tx), audit.Entry{
				Operation: audit.OpUntrack,
				FileID:    fileID(&f),
				Path:      f.Path,
				Detail:    models.JSONAny{"sha256": f.SHA256},
			})
		})
		if err != nil {
			res.Failed = append(res.Failed, Failure{Path: label(rf), Err: err})
			continue
		}
		if u.protection(f.Path) == models.ProtectionImmutable {
			if err := t.flags.Clear(u.abs(f.Path)); err != nil {
				t.logger.Warn("could not clear immutable flag", "path", f.Path, "error", err)
			}
		}
		t.logger.Info("file untracked", "project", u.h.Name, "path", f.Path)
		res.Changed = append(res.Changed, label(rf))
	}
	return res, nil
}

// Tag adds label to every referenced file and emits a tag event for each
// file that did not already carry it.
func (t *Tracker) Tag(ctx context.Context, refs []string, tag string) (*BatchResult, error) {
	if err := models.ValidateName("tag", tag); err != nil {
		return nil, err
	}
	return t.eachFile(ctx, refs, func(u *unit, f *models.File, res *BatchResult, rf reference.ResolvedFile) error {
		ev := newEvent(u, models.EventTag, f)
		ev.Tag = tag
		changed, err := t.tagFile(u, f, tag, ev.ChainID)
		if err != nil || !changed {
			return err
		}
		out, err := u.rules.Dispatch(ctx, ev)
		res.dispatched(rf, out, err)
		return errChanged
	})
}

// Untag removes label from every referenced file and emits an untag event
// for each file that carried it.
func (t *Tracker) Untag(ctx context.Context, refs []string, tag string) (*BatchResult, error) {
	return t.eachFile(ctx, refs, func(u *unit, f *models.File, res *BatchResult, rf reference.ResolvedFile) error {
		ev := newEvent(u, models.EventUntag, f)
		ev.Tag = tag
		changed, err := t.untagFile(u, f, tag, ev.ChainID)
		if err != nil || !changed {
			return err
		}
		out, err := u.rules.Dispatch(ctx, ev)
		res.dispatched(rf, out, err)
		return errChanged
	})
}

// Categorize moves each referenced file into the directory of the named
// category and emits a categorize event. Only editable files can move.
func (t *Tracker) Categorize(ctx context.Context, refs []string, categoryName string) (*BatchResult, error) {
	return t.eachFile(ctx, refs, func(u *unit, f *models.File, res *BatchResult, rf reference.ResolvedFile) error {
		ev := newEvent(u, models.EventCategorize, f)
		ev.Category = categoryName
		changed, err := t.categorizeFile(u, f, categoryName, ev.ChainID)
		if err != nil || !changed {
			return err
		}
		out, err := u.rules.Dispatch(ctx, ev)
		res.dispatched(rf, out, err)
		return errChanged
	})
}

// CheckEditable returns an EditDeniedError, and logs the denial, when the
// project-relative path is protected or immutable.
func (t *Tracker) CheckEditable(relPath string) error {
	u, err := t.current()
	if err != nil {
		return err
	}
	return t.checkEditable(u, relPath, nil, "edit")
}

func (t *Tracker) checkEditable(u *unit, relPath string, f *models.File, attempt string) error {
	err := u.checkWritable(relPath)
	if err == nil {
		return nil
	}
	e := audit.Entry{Operation: audit.OpEditDenied, Path: relPath, Detail: models.JSONAny{"attempt": attempt}}
	if f != nil {
		e.FileID = fileID(f)
	}
	t.recorder.RecordFailure(auditStore(u.h.Store), e, err)
	return err
}

// errChanged lets eachFile callbacks report a modification without an
// extra return value.
var errChanged = errors.New("changed")

func (t *Tracker) eachFile(ctx context.Context, refs []string, fn func(u *unit, f *models.File, res *BatchResult, rf reference.ResolvedFile) error) (*BatchResult, error) {
	coll, res, err := t.resolve(ctx, refs)
	if err != nil {
		return nil, err
	}
	for _, rf := range coll.Files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		f := rf.File
		switch err := fn(t.unit(rf.Project), &f, res, rf); {
		case errors.Is(err, errChanged):
			res.Changed = append(res.Changed, label(rf))
		case err != nil:
			res.Failed = append(res.Failed, Failure{Path: label(rf), Err: err})
		default:
			res.Unchanged = append(res.Unchanged, label(rf))
		}
	}
	return res, nil
}

// tagFile labels f, recording the content it was applied to. It reports
// false when f already carried the label.
func (t *Tracker) tagFile(u *unit, f *models.File, tag, chainID string) (bool, error) {
	var added bool
	err := u.h.Store.Transaction(func(tx *store.ProjectStore) error {
		var err error
		added, err = tx.AddTag(&models.Tag{
			FileID:      f.ID,
			Label:       tag,
			FileHash:    f.SHA256,
			Fingerprint: f.Fingerprint.Digest,
		})
		if err != nil || !added {
			return err
		}
		return t.recorder.Record(auditStore(tx), audit.Entry{
			ChainID:   chainID,
			Operation: audit.OpTag,
			FileID:    fileID(f),
			Path:      f.Path,
			Detail:    models.JSONAny{"tag": tag, "sha256": f.SHA256},
		})
	})
	if err != nil {
		return false, fmt.Errorf("tag %s: %w", f.Path, err)
	}
	return added, nil
}

func (t *Tracker) untagFile(u *unit, f *models.File, tag, chainID string) (bool, error) {
	var removed bool
	err := u.h.Store.Transaction(func(tx *store.ProjectStore) error {
		var err error
		removed, err = tx.RemoveTag(f.ID, tag)
		if err != nil || !removed {
			return err
		}
		return t.recorder.Record(auditStore(tx), audit.Entry{
			ChainID:   chainID,
			Operation: audit.OpUntag,
			FileID:    fileID(f),
			Path:      f.Path,
			Detail:    models.JSONAny{"tag": tag},
		})
	})
	if err != nil {
		return false, fmt.Errorf("untag %s: %w", f.Path, err)
	}
	return removed, nil
}

// categorizeFile moves f under the category's literal directory. On
// success f holds the new path.
func (t *Tracker) categorizeFile(u *unit, f *models.File, categoryName, chainID string) (bool, error) {
	cat, ok := u.h.Categories.ByName(categoryName)
	if !ok {
		return false, apierr.New(apierr.CodeUnknownScope, fmt.Sprintf("no category named %q", categoryName))
	}
	if cat.Kind == models.KindTools {
		return false, fmt.Errorf("category %q holds tools, not files", categoryName)
	}
	dst := joinRel(category.LiteralPrefix(cat.Pattern), f.Name)
	if dst == f.Path {
		return false, nil
	}
	if err := t.checkEditable(u, f.Path, f, "categorize"); err != nil {
		return false, err
	}
	if _, err := os.Lstat(u.abs(dst)); err == nil {
		return false, fmt.Errorf("categorize %s: %s already exists", f.Path, dst)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}

	src := f.Path
	if err := os.MkdirAll(filepath.Dir(u.abs(dst)), 0o755); err != nil {
		return false, err
	}
	if err := os.Rename(u.abs(src), u.abs(dst)); err != nil {
		return false, fmt.Errorf("categorize %s: %w", src, err)
	}
	err := u.h.Store.Transaction(func(tx *store.ProjectStore) error {
		if err := tx.MoveFile(f.ID, dst, path.Base(dst)); err != nil {
			return err
		}
		return t.recorder.Record(auditStore(tx), audit.Entry{
			ChainID:   chainID,
			Operation: audit.OpCategorize,
			FileID:    fileID(f),
			Path:      dst,
			Detail:    models.JSONAny{"from": src, "category": categoryName},
		})
	})
	if err != nil {
		if rerr := os.Rename(u.abs(dst), u.abs(src)); rerr != nil {
			t.logger.Error("could not move file back after failed categorize", "from", dst, "to", src, "error", rerr)
		}
		return false, fmt.Errorf("categorize %s: %w", src, err)
	}

	f.Path = dst
	f.Name = path.Base(dst)
	t.applyFlag(u, dst)
	t.logger.Info("file categorized", "from", src, "to", dst, "category", categoryName)
	return true, nil
}

// applyFlag sets or clears the OS immutable flag to match the path's
// protection. Failures are warnings.
func (t *Tracker) applyFlag(u *unit, relPath string) {
	abs := u.abs(relPath)
	var err error
	if u.protection(relPath) == models.ProtectionImmutable {
		err = t.flags.Set(abs)
	} else {
		err = t.flags.Clear(abs)
	}
	if err != nil {
		t.logger.Warn("could not update immutable flag", "path", relPath, "error", err)
	}
}

// refresh re-hashes an editable tracked file after it was changed through
// muckrake, so its record follows the new content.
func (t *Tracker) refresh(u *unit, f models.File) (*models.File, error) {
	if err := t.checkEditable(u, f.Path, &f, "reingest"); err != nil {
		return nil, err
	}
	abs := u.abs(f.Path)
	d, err := integrity.HashFile(abs)
	if err != nil {
		return nil, err
	}
	if d.SHA256 == f.SHA256 {
		return &f, nil
	}
	return t.commitIngest(u, ingestItem{rel: f.Path, existing: &f, method: f.ProvenanceMethod}, hashed{digests: d, mime: integrity.DetectMIME(abs)})
}
