package custody

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/audit"
	"github.com/foiacquire/muckrake/pkg/integrity"
	"github.com/foiacquire/muckrake/pkg/models"
	"github.com/foiacquire/muckrake/pkg/pipeline"
	"github.com/foiacquire/muckrake/pkg/reference"
	"github.com/foiacquire/muckrake/pkg/rules"
	"github.com/foiacquire/muckrake/pkg/store"
)

// target assembles what the pipeline engine needs to know about f, hashing
// its current content.
func (t *Tracker) target(s *store.ProjectStore, u *unit, f models.File) (pipeline.Target, error) {
	tags, err := s.TagLabels(f.ID)
	if err != nil {
		return pipeline.Target{}, err
	}
	hash, err := integrity.SHA256File(u.abs(f.Path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return pipeline.Target{}, &integrity.MissingError{Code: apierr.CodeMissing, Path: f.Path}
		}
		return pipeline.Target{}, err
	}
	return pipeline.Target{
		File:        f,
		Categories:  u.h.Categories.Names(f.Path),
		Tags:        tags,
		CurrentHash: hash,
	}, nil
}

func currentState(states []pipeline.FileState) string {
	if len(states) == 0 {
		return ""
	}
	return states[0].Current
}

// signed is the outcome of one sign or unsign on one file.
type signed struct {
	sign    *models.Sign
	created bool
	revoked int64
	before  string
	after   string
}

func (s signed) stateChanged() bool { return s.before != s.after }

func (t *Tracker) signFile(u *unit, f models.File, req pipeline.SignRequest, chainID string) (signed, error) {
	var out signed
	err := u.h.Store.Transaction(func(tx *store.ProjectStore) error {
		tgt, err := t.target(tx, u, f)
		if err != nil {
			return err
		}
		before, err := t.pipelines.State(tx, tgt, req.Pipeline)
		if err != nil {
			return err
		}
		sign, created, err := t.pipelines.Sign(tx, tgt, req)
		if err != nil {
			return err
		}
		after, err := t.pipelines.State(tx, tgt, req.Pipeline)
		if err != nil {
			return err
		}
		out = signed{sign: sign, created: created, before: currentState(before), after: currentState(after)}
		if !created {
			return nil
		}
		return t.recorder.Record(auditStore(tx), audit.Entry{
			ChainID:   chainID,
			Operation: audit.OpSign,
			FileID:    fileID(&f),
			Path:      f.Path,
			Detail: models.JSONAny{
				"pipeline": req.Pipeline,
				"state":    req.State,
				"signer":   sign.Signer,
				"sha256":   sign.FileHash,
				"detached": sign.Signature != "",
				"from":     out.before,
				"to":       out.after,
			},
		})
	})
	if err != nil {
		return signed{}, fmt.Errorf("sign %s: %w", f.Path, err)
	}
	return out, nil
}

func (t *Tracker) unsignFile(u *unit, f models.File, pipelineName, state, signer, chainID string) (signed, error) {
	var out signed
	err := u.h.Store.Transaction(func(tx *store.ProjectStore) error {
		tgt, err := t.target(tx, u, f)
		if err != nil {
			// Revoking must work on content that has since changed or gone.
			if !apierr.Is(err, apierr.CodeMissing) {
				return err
			}
			tgt = pipeline.Target{File: f, Categories: u.h.Categories.Names(f.Path)}
			if tgt.Tags, err = tx.TagLabels(f.ID); err != nil {
				return err
			}
		}
		before, err := t.pipelines.State(tx, tgt, pipelineName)
		if err != nil {
			return err
		}
		n, err := t.pipelines.Unsign(tx, tgt, pipelineName, state, signer, t.recorder.Actor())
		if err != nil {
			return err
		}
		after, err := t.pipelines.State(tx, tgt, pipelineName)
		if err != nil {
			return err
		}
		out = signed{revoked: n, before: currentState(before), after: currentState(after)}
		if n == 0 {
			return nil
		}
		return t.recorder.Record(auditStore(tx), audit.Entry{
			ChainID:   chainID,
			Operation: audit.OpUnsign,
			FileID:    fileID(&f),
			Path:      f.Path,
			Detail: models.JSONAny{
				"pipeline": pipelineName,
				"state":    state,
				"signer":   signer,
				"revoked":  n,
				"from":     out.before,
				"to":       out.after,
			},
		})
	})
	if err != nil {
		return signed{}, fmt.Errorf("unsign %s: %w", f.Path, err)
	}
	return out, nil
}

// signEvents builds the events for a sign that was recorded: a sign event,
// followed by a state change when the current state moved.
func signEvents(parent rules.Event, req pipeline.SignRequest, s signed) []rules.Event {
	ev := parent
	ev.Pipeline = req.Pipeline
	ev.State = req.State
	ev.Signer = s.sign.Signer
	out := []rules.Event{ev}
	if s.stateChanged() {
		sc := parent.Derive(models.EventStateChange)
		sc.Depth = parent.Depth
		sc.Pipeline = req.Pipeline
		sc.State = s.after
		out = append(out, sc)
	}
	return out
}

// Sign records a sign for req.State on every referenced file. Each file's
// on-disk content must match its recorded hash. A new sign emits a sign
// event, and a state_change event in the same chain when it advanced the
// file's current state.
func (t *Tracker) Sign(ctx context.Context, refs []string, req pipeline.SignRequest) (*BatchResult, error) {
	if req.Pipeline == "" || req.State == "" {
		return nil, fmt.Errorf("sign needs a pipeline and a state")
	}
	return t.eachFile(ctx, refs, func(u *unit, f *models.File, res *BatchResult, rf reference.ResolvedFile) error {
		root := newEvent(u, models.EventSign, f)
		s, err := t.signFile(u, *f, req, root.ChainID)
		if err != nil || !s.created {
			return err
		}
		evs := signEvents(root, req, s)
		out, err := u.rules.Dispatch(ctx, evs[0], evs[1:]...)
		res.dispatched(rf, out, err)
		return errChanged
	})
}

// Unsign revokes signs for a state on every referenced file. An empty
// signer revokes all of them. A state_change event is emitted when the
// file's current state moved back.
func (t *Tracker) Unsign(ctx context.Context, refs []string, pipelineName, state, signer string) (*BatchResult, error) {
	return t.eachFile(ctx, refs, func(u *unit, f *models.File, res *BatchResult, rf reference.ResolvedFile) error {
		ev := newEvent(u, models.EventStateChange, f)
		s, err := t.unsignFile(u, *f, pipelineName, state, signer, ev.ChainID)
		if err != nil || s.revoked == 0 {
			return err
		}
		if s.stateChanged() {
			ev.Pipeline = pipelineName
			ev.State = s.after
			out, err := u.rules.Dispatch(ctx, ev)
			res.dispatched(rf, out, err)
		}
		return errChanged
	})
}

// StateView is a file's derived state in each pipeline attached to it.
type StateView struct {
	Project string               `json:"project" yaml:"project"`
	Path    string               `json:"path" yaml:"path"`
	States  []pipeline.FileState `json:"states" yaml:"states"`
}

// State derives the pipeline state of every referenced file. An empty
// pipeline name covers every attached pipeline. A file whose state cannot
// be derived, such as one missing from disk, is reported as a failure and
// the rest are still derived.
func (t *Tracker) State(ctx context.Context, refs []string, pipelineName string) ([]StateView, []Failure, error) {
	coll, _, err := t.resolve(ctx, refs)
	if err != nil {
		return nil, nil, err
	}
	var (
		out    = make([]StateView, 0, coll.Len())
		failed []Failure
	)
	for _, rf := range coll.Files {
		if err := ctx.Err(); err != nil {
			return out, failed, err
		}
		u := t.unit(rf.Project)
		tgt, err := t.target(u.h.Store, u, rf.File)
		if err != nil {
			failed = append(failed, Failure{Path: label(rf), Err: err})
			continue
		}
		states, err := t.pipelines.State(u.h.Store, tgt, pipelineName)
		if err != nil {
			failed = append(failed, Failure{Path: label(rf), Err: err})
			continue
		}
		out = append(out, StateView{Project: rf.Project.Name, Path: rf.File.Path, States: states})
	}
	return out, failed, nil
}

// Standing of a sign against its file's recorded hash.
const (
	SignValid   = "valid"
	SignStale   = "stale"
	SignRevoked = "revoked"
)

// SignView is one sign on a file.
type SignView struct {
	Project   string     `json:"project" yaml:"project"`
	Path      string     `json:"path" yaml:"path"`
	Pipeline  string     `json:"pipeline" yaml:"pipeline"`
	State     string     `json:"state" yaml:"state"`
	Signer    string     `json:"signer" yaml:"signer"`
	SignedAt  time.Time  `json:"signed_at" yaml:"signed_at"`
	Standing  string     `json:"standing" yaml:"standing"`
	Signature bool       `json:"signature" yaml:"signature"`
	RevokedAt *time.Time `json:"revoked_at,omitempty" yaml:"revoked_at,omitempty"`
	RevokedBy string     `json:"revoked_by,omitempty" yaml:"revoked_by,omitempty"`
}

// Signs lists every sign, revoked ones included, on the referenced files,
// oldest first per file. A sign is stale when the file has been
// re-ingested with different content since it was made.
func (t *Tracker) Signs(ctx context.Context, refs []string) ([]SignView, error) {
	coll, _, err := t.resolve(ctx, refs)
	if err != nil {
		return nil, err
	}
	names := make(map[*reference.ProjectHandle]map[uint]string)
	var out []SignView
	for _, rf := range coll.Files {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		h := rf.Project
		if _, ok := names[h]; !ok {
			ps, err := h.Store.Pipelines()
			if err != nil {
				return nil, err
			}
			m := make(map[uint]string, len(ps))
			for _, p := range ps {
				m[p.ID] = p.Name
			}
			names[h] = m
		}
		signs, err := h.Store.SignsForFile(rf.File.ID)
		if err != nil {
			return nil, err
		}
		for _, sg := range signs {
			name, ok := names[h][sg.PipelineID]
			if !ok {
				name = fmt.Sprintf("pipeline:%d", sg.PipelineID)
			}
			standing := SignValid
			switch {
			case sg.Revoked():
				standing = SignRevoked
			case !sg.IsValid(rf.File.SHA256):
				standing = SignStale
			}
			out = append(out, SignView{
				Project:   h.Name,
				Path:      rf.File.Path,
				Pipeline:  name,
				State:     sg.State,
				Signer:    sg.Signer,
				SignedAt:  sg.SignedAt,
				Standing:  standing,
				Signature: sg.Signature != "",
				RevokedAt: sg.RevokedAt,
				RevokedBy: sg.RevokedBy,
			})
		}
	}
	return out, nil
}

// PipelineView is a pipeline with the scopes it is attached to.
type PipelineView struct {
	models.Pipeline `yaml:",inline"`
	Attached        []string `json:"attached" yaml:"attached"`
}

// DefinePipeline validates and stores a pipeline in the current project.
func (t *Tracker) DefinePipeline(p *models.Pipeline) error {
	u, err := t.current()
	if err != nil {
		return err
	}
	return u.h.Store.Transaction(func(tx *store.ProjectStore) error {
		if err := t.pipelines.Define(tx, p); err != nil {
			return err
		}
		return t.recorder.Record(auditStore(tx), audit.Entry{
			Operation: audit.OpPipelineAdd,
			Detail:    models.JSONAny{"pipeline": p.Name, "states": []string(p.States)},
		})
	})
}

// ImportPipelines defines every pipeline in a YAML definition document.
// Nothing is stored if any definition is invalid.
func (t *Tracker) ImportPipelines(data []byte) ([]models.Pipeline, error) {
	u, err := t.current()
	if err != nil {
		return nil, err
	}
	defs, err := pipeline.ParseDefinitions(data)
	if err != nil {
		return nil, err
	}
	var out []models.Pipeline
	err = u.h.Store.Transaction(func(tx *store.ProjectStore) error {
		imported, err := t.pipelines.Import(tx, defs)
		if err != nil {
			return err
		}
		out = imported
		for _, p := range imported {
			if err := t.recorder.Record(auditStore(tx), audit.Entry{
				Operation: audit.OpPipelineAdd,
				Detail:    models.JSONAny{"pipeline": p.Name, "states": []string(p.States), "imported": true},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// RemovePipeline deletes a pipeline and its attachments. Its signs stay in
// the log.
func (t *Tracker) RemovePipeline(name string) error {
	u, err := t.current()
	if err != nil {
		return err
	}
	return u.h.Store.Transaction(func(tx *store.ProjectStore) error {
		if err := t.pipelines.Remove(tx, name); err != nil {
			return err
		}
		return t.recorder.Record(auditStore(tx), audit.Entry{
			Operation: audit.OpPipelineRemove,
			Detail:    models.JSONAny{"pipeline": name},
		})
	})
}

// AttachPipeline binds a pipeline to a category or tag. It reports false
// when the binding already existed.
func (t *Tracker) AttachPipeline(name string, scope models.ScopeType, value string) (bool, error) {
	u, err := t.current()
	if err != nil {
		return false, err
	}
	return t.attach(u, name, scope, value, "")
}

// DetachPipeline removes a binding. It reports false when there was none.
func (t *Tracker) DetachPipeline(name string, scope models.ScopeType, value string) (bool, error) {
	u, err := t.current()
	if err != nil {
		return false, err
	}
	return t.detach(u, name, scope, value, "")
}

func (t *Tracker) attach(u *unit, name string, scope models.ScopeType, value, chainID string) (bool, error) {
	if scope == models.ScopeCategory && !u.h.Categories.IsCategory(value) {
		return false, apierr.New(apierr.CodeUnknownScope, fmt.Sprintf("no category named %q", value))
	}
	var added bool
	err := u.h.Store.Transaction(func(tx *store.ProjectStore) error {
		var err error
		if added, err = t.pipelines.Attach(tx, name, scope, value); err != nil || !added {
			return err
		}
		return t.recorder.Record(auditStore(tx), audit.Entry{
			ChainID:   chainID,
			Operation: audit.OpPipelineAttach,
			Detail:    models.JSONAny{"pipeline": name, "scope": string(scope), "value": value},
		})
	})
	return added, err
}

func (t *Tracker) detach(u *unit, name string, scope models.ScopeType, value, chainID string) (bool, error) {
	var removed bool
	err := u.h.Store.Transaction(func(tx *store.ProjectStore) error {
		var err error
		if removed, err = t.pipelines.Detach(tx, name, scope, value); err != nil || !removed {
			return err
		}
		return t.recorder.Record(auditStore(tx), audit.Entry{
			ChainID:   chainID,
			Operation: audit.OpPipelineDetach,
			Detail:    models.JSONAny{"pipeline": name, "scope": string(scope), "value": value},
		})
	})
	return removed, err
}

// Pipelines lists the current project's pipelines with their bindings.
func (t *Tracker) Pipelines() ([]PipelineView, error) {
	u, err := t.current()
	if err != nil {
		return nil, err
	}
	pipelines, err := u.h.Store.Pipelines()
	if err != nil {
		return nil, err
	}
	attachments, err := u.h.Store.Attachments()
	if err != nil {
		return nil, err
	}
	out := make([]PipelineView, len(pipelines))
	for i, p := range pipelines {
		out[i] = PipelineView{Pipeline: p, Attached: []string{}}
		for _, a := range attachments {
			if a.PipelineID == p.ID {
				out[i].Attached = append(out[i].Attached, string(a.ScopeType)+":"+a.ScopeValue)
			}
		}
	}
	return out, nil
}
