package custody

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/foiacquire/muckrake/pkg/audit"
	"github.com/foiacquire/muckrake/pkg/integrity"
	"github.com/foiacquire/muckrake/pkg/jobs"
	"github.com/foiacquire/muckrake/pkg/models"
	"github.com/foiacquire/muckrake/pkg/reference"
)

// FileReport is a verification report for a file in a named project.
type FileReport struct {
	Project          string `json:"project" yaml:"project"`
	integrity.Report `yaml:",inline"`
}

// VerifyResult collects the reports of a verify run.
type VerifyResult struct {
	Reports []FileReport
	// Backfilled counts files that had no fingerprint and received one.
	Backfilled int
	Summary    jobs.Summary
}

// Failed returns the reports that did not verify cleanly.
func (r *VerifyResult) Failed() []FileReport {
	return lo.Filter(r.Reports, func(fr FileReport, _ int) bool { return !fr.OK() })
}

type verifyMode int

const (
	modeFull verifyMode = iota
	modeFingerprint
)

// resolve evaluates refs against the workspace context. An empty list
// means every file in scope. Tag-scoped results are fingerprint-checked
// when hash checking is on; mismatches are reported but the files stay in
// the collection.
func (t *Tracker) resolve(ctx context.Context, refs []string) (*reference.Collection, *BatchResult, error) {
	if len(refs) == 0 {
		refs = []string{":"}
	}
	coll, err := t.resolver.Resolve(refs...)
	if err != nil {
		return nil, nil, err
	}
	res := &BatchResult{}
	if coll.TagScoped && t.opts.HashCheck && !coll.Empty() {
		vr, err := t.verifyFiles(ctx, coll.Files, modeFingerprint)
		if err != nil {
			return nil, nil, err
		}
		res.Mismatches = lo.Filter(vr.Reports, func(fr FileReport, _ int) bool {
			return fr.Status == integrity.StatusModified || fr.Status == integrity.StatusMissing
		})
		for _, m := range res.Mismatches {
			t.logger.Warn("tagged file no longer matches its fingerprint", "project", m.Project, "path", m.Path, "status", m.Status)
		}
	}
	return coll, res, nil
}

// Verify checks the referenced files against their stored hashes, or
// against their chunk fingerprints when fingerprint is set. Full
// verification also backfills missing fingerprints. Findings are data;
// only store failures are errors.
func (t *Tracker) Verify(ctx context.Context, refs []string, fingerprint bool) (*VerifyResult, error) {
	if len(refs) == 0 {
		refs = []string{":"}
	}
	coll, err := t.resolver.Resolve(refs...)
	if err != nil {
		return nil, err
	}
	mode := modeFull
	if fingerprint {
		mode = modeFingerprint
	}
	return t.verifyFiles(ctx, coll.Files, mode)
}

// Backfill computes fingerprints for tracked files in the current project
// that predate them. Files whose content no longer matches their SHA-256
// are reported and left without one.
func (t *Tracker) Backfill(ctx context.Context) (*VerifyResult, error) {
	u, err := t.current()
	if err != nil {
		return nil, err
	}
	files, err := u.h.Store.ListFiles("")
	if err != nil {
		return nil, err
	}
	var todo []reference.ResolvedFile
	for _, f := range files {
		if f.Fingerprint.IsZero() {
			todo = append(todo, reference.ResolvedFile{Project: u.h, File: f})
		}
	}
	return t.verifyFiles(ctx, todo, modeFull)
}

func (t *Tracker) verifyFiles(ctx context.Context, files []reference.ResolvedFile, mode verifyMode) (*VerifyResult, error) {
	res := &VerifyResult{}
	work := func(_ context.Context, rf reference.ResolvedFile) (integrity.Report, error) {
		u := t.unit(rf.Project)
		prot := u.protection(rf.File.Path)
		if mode == modeFingerprint {
			return u.verifier.VerifyFingerprint(rf.File, prot)
		}
		return u.verifier.Verify(rf.File, prot)
	}
	commit := func(r jobs.Result[reference.ResolvedFile, integrity.Report]) error {
		rf := r.Item
		if r.Err != nil {
			// Unreadable files are reported, not fatal.
			rep := integrity.Report{FileID: rf.File.ID, Path: rf.File.Path, Status: integrity.StatusSkipped, Warning: r.Err.Error()}
			res.Reports = append(res.Reports, FileReport{Project: rf.Project.Name, Report: rep})
			return nil
		}
		rep := r.Value
		res.Reports = append(res.Reports, FileReport{Project: rf.Project.Name, Report: rep})

		u := t.unit(rf.Project)
		if mode == modeFull && rep.OK() && rf.File.Fingerprint.IsZero() && rep.Digests != nil {
			if err := u.h.Store.UpdateFingerprint(rf.File.ID, rep.Digests.Fingerprint); err != nil {
				return fmt.Errorf("backfill fingerprint for %s: %w", rf.File.Path, err)
			}
			res.Backfilled++
		}
		if !rep.OK() {
			f := rf.File
			t.recorder.RecordFailure(auditStore(u.h.Store), audit.Entry{
				Operation: audit.OpVerify,
				FileID:    fileID(&f),
				Path:      f.Path,
				Detail:    models.JSONAny{"mode": string(rep.Mode), "status": string(rep.Status), "expected": rep.Expected, "actual": rep.Actual},
			}, rep.Err())
		}
		return nil
	}

	summary, err := jobs.Run(ctx, t.pool, files, work, commit)
	res.Summary = summary
	if err != nil {
		return res, err
	}
	sortReports(res.Reports)
	return res, nil
}

func sortReports(reports []FileReport) {
	sort.Slice(reports, func(i, j int) bool {
		a, b := reports[i], reports[j]
		if a.Project != b.Project {
			return a.Project < b.Project
		}
		return a.Path < b.Path
	})
}

// FileView is a tracked file as ls shows it.
type FileView struct {
	Project    string                 `json:"project" yaml:"project"`
	Path       string                 `json:"path" yaml:"path"`
	Size       int64                  `json:"size" yaml:"size"`
	MimeType   string                 `json:"mime_type" yaml:"mime_type"`
	SHA256     string                 `json:"sha256" yaml:"sha256"`
	Protection models.ProtectionLevel `json:"protection" yaml:"protection"`
	Category   string                 `json:"category,omitempty" yaml:"category,omitempty"`
	Tags       []string               `json:"tags,omitempty" yaml:"tags,omitempty"`
	Method     models.IngestMethod    `json:"method" yaml:"method"`
	Source     string                 `json:"source,omitempty" yaml:"source,omitempty"`
	IngestedAt time.Time              `json:"ingested_at" yaml:"ingested_at"`
}

// ListResult is the outcome of List.
type ListResult struct {
	Files      []FileView
	Mismatches []FileReport
}

// List resolves refs and describes each file with its protection, display
// category and tags.
func (t *Tracker) List(ctx context.Context, refs []string) (*ListResult, error) {
	coll, br, err := t.resolve(ctx, refs)
	if err != nil {
		return nil, err
	}

	ids := make(map[*reference.ProjectHandle][]uint)
	for _, rf := range coll.Files {
		ids[rf.Project] = append(ids[rf.Project], rf.File.ID)
	}
	tags := make(map[*reference.ProjectHandle]map[uint][]string, len(ids))
	for h, list := range ids {
		m, err := h.Store.TagLabelsByFile(list)
		if err != nil {
			return nil, err
		}
		tags[h] = m
	}

	out := &ListResult{Mismatches: br.Mismatches}
	for _, rf := range coll.Files {
		f := rf.File
		v := FileView{
			Project:    rf.Project.Name,
			Path:       f.Path,
			Size:       f.Size,
			MimeType:   f.MimeType,
			SHA256:     f.SHA256,
			Protection: t.unit(rf.Project).protection(f.Path),
			Tags:       tags[rf.Project][f.ID],
			Method:     f.ProvenanceMethod,
			Source:     f.ProvenanceSource,
			IngestedAt: f.IngestedAt,
		}
		if c, ok := rf.Project.Categories.Display(f.Path); ok {
			v.Category = c.Name
		}
		out.Files = append(out.Files, v)
	}
	return out, nil
}
