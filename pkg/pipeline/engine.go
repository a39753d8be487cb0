package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/integrity"
	"github.com/foiacquire/muckrake/pkg/models"
	"github.com/foiacquire/muckrake/pkg/store"
)

// Target is a file as the pipeline engine sees it: the tracked record, the
// categories and tags it currently has, and the hash of its on-disk
// content.
type Target struct {
	File        models.File
	Categories  []string
	Tags        []string
	CurrentHash string
}

// SignRequest asks for a sign on one state.
type SignRequest struct {
	Pipeline string
	State    string
	// Signer defaults to the configured signer's identity.
	Signer string
	// Detached adds a cryptographic signature over the attestation.
	Detached bool
}

// Engine records signs and derives pipeline state.
type Engine struct {
	signer Signer
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine returns an engine. signer may be nil, in which case detached
// signatures are unavailable.
func NewEngine(signer Signer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{signer: signer, logger: logger, now: time.Now}
}

// Define validates and stores a pipeline, replacing one with the same
// name.
func (e *Engine) Define(s *store.ProjectStore, p *models.Pipeline) error {
	if err := Validate(*p); err != nil {
		return err
	}
	return s.SavePipeline(p)
}

// Remove deletes a pipeline and its attachments.
func (e *Engine) Remove(s *store.ProjectStore, name string) error {
	p, err := lookup(s, name)
	if err != nil {
		return err
	}
	return s.DeletePipeline(p.ID)
}

// Attach binds a pipeline to a category or tag.
func (e *Engine) Attach(s *store.ProjectStore, name string, scope models.ScopeType, value string) (bool, error) {
	p, err := lookup(s, name)
	if err != nil {
		return false, err
	}
	if err := models.ValidateName(string(scope), value); err != nil {
		return false, err
	}
	return s.Attach(p.ID, scope, value)
}

// Detach removes a binding.
func (e *Engine) Detach(s *store.ProjectStore, name string, scope models.ScopeType, value string) (bool, error) {
	p, err := lookup(s, name)
	if err != nil {
		return false, err
	}
	return s.Detach(p.ID, scope, value)
}

func lookup(s *store.ProjectStore, name string) (*models.Pipeline, error) {
	p, err := s.PipelineByName(name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, unknownPipeline(name)
	}
	return p, nil
}

// AttachedPipelines returns every pipeline bound to one of the target's
// categories or tags.
func (e *Engine) AttachedPipelines(s *store.ProjectStore, t Target) ([]models.Pipeline, error) {
	return s.PipelinesAttachedTo(t.Categories, t.Tags)
}

// Attached returns the named pipeline if it is bound to the target.
func (e *Engine) Attached(s *store.ProjectStore, t Target, name string) (*models.Pipeline, error) {
	p, err := lookup(s, name)
	if err != nil {
		return nil, err
	}
	attached, err := e.AttachedPipelines(s, t)
	if err != nil {
		return nil, err
	}
	if !lo.ContainsBy(attached, func(a models.Pipeline) bool { return a.ID == p.ID }) {
		return nil, &NotAttachedError{Code: apierr.CodeNotAttached, Pipeline: name, Path: t.File.Path}
	}
	return p, nil
}

// Sign records a sign for req.State. The target's on-disk hash must equal
// its recorded hash. A valid sign by the same signer for the same state is
// returned unchanged with created false.
func (e *Engine) Sign(s *store.ProjectStore, t Target, req SignRequest) (*models.Sign, bool, error) {
	p, err := e.Attached(s, t, req.Pipeline)
	if err != nil {
		return nil, false, err
	}
	if !p.HasState(req.State) {
		return nil, false, &UnknownStateError{Code: apierr.CodeUnknownState, Pipeline: p.Name, State: req.State, States: p.States}
	}
	if t.CurrentHash != t.File.SHA256 {
		return nil, false, &integrity.IntegrityMismatchError{
			Code:     apierr.CodeIntegrityMismatch,
			Path:     t.File.Path,
			Expected: t.File.SHA256,
			Actual:   t.CurrentHash,
		}
	}

	signer := req.Signer
	if signer == "" && e.signer != nil {
		signer = e.signer.Identity()
	}
	if signer == "" {
		return nil, false, apierr.New(apierr.CodeInvalidName, "a signer identity is required")
	}

	existing, err := s.SignsFor(p.ID, t.File.ID)
	if err != nil {
		return nil, false, err
	}
	for _, prev := range existing {
		if prev.State == req.State && prev.Signer == signer && prev.IsValid(t.CurrentHash) {
			return &prev, false, nil
		}
	}

	sign := &models.Sign{
		PipelineID: p.ID,
		FileID:     t.File.ID,
		State:      req.State,
		Signer:     signer,
		FileHash:   t.CurrentHash,
		SignedAt:   e.now().UTC().Truncate(time.Second),
	}
	if req.Detached {
		if e.signer == nil {
			return nil, false, errors.New("detached signatures need a configured signing key")
		}
		sig, err := e.signer.Sign(Attestation(p.Name, t.File.Path, *sign))
		if err != nil {
			return nil, false, err
		}
		sign.Signature = sig
	}
	if err := s.CreateSign(sign); err != nil {
		return nil, false, err
	}
	e.logger.Info("file signed", "pipeline", p.Name, "state", req.State, "signer", signer, "path", t.File.Path)
	return sign, true, nil
}

// Unsign revokes active signs for a state. An empty signer revokes every
// signer's sign. Returns the number of signs revoked.
func (e *Engine) Unsign(s *store.ProjectStore, t Target, pipelineName, state, signer, by string) (int64, error) {
	p, err := e.Attached(s, t, pipelineName)
	if err != nil {
		return 0, err
	}
	if !p.HasState(state) {
		return 0, &UnknownStateError{Code: apierr.CodeUnknownState, Pipeline: p.Name, State: state, States: p.States}
	}
	n, err := s.RevokeSigns(p.ID, t.File.ID, state, signer, by, e.now().UTC())
	if err != nil {
		return 0, err
	}
	e.logger.Info("signs revoked", "pipeline", p.Name, "state", state, "signer", signer, "count", n, "path", t.File.Path)
	return n, nil
}

// State derives the target's state in the named pipeline, or in every
// attached pipeline when name is empty.
func (e *Engine) State(s *store.ProjectStore, t Target, name string) ([]FileState, error) {
	var pipelines []models.Pipeline
	if name != "" {
		p, err := e.Attached(s, t, name)
		if err != nil {
			return nil, err
		}
		pipelines = []models.Pipeline{*p}
	} else {
		attached, err := e.AttachedPipelines(s, t)
		if err != nil {
			return nil, err
		}
		pipelines = attached
	}

	out := make([]FileState, 0, len(pipelines))
	for _, p := range pipelines {
		signs, err := s.SignsFor(p.ID, t.File.ID)
		if err != nil {
			return nil, fmt.Errorf("derive %s state for %s: %w", p.Name, t.File.Path, err)
		}
		out = append(out, Derive(p, signs, t.CurrentHash))
	}
	return out, nil
}
