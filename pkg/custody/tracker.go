// Package custody is the chain-of-custody tracker: every operation that
// changes what muckrake knows about a file goes through a Tracker, which
// checks protection, records the change and its audit event in one
// transaction, and then hands the resulting event to the rule engine.
package custody

import (
	"errors"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/foiacquire/muckrake/pkg/audit"
	"github.com/foiacquire/muckrake/pkg/category"
	"github.com/foiacquire/muckrake/pkg/integrity"
	"github.com/foiacquire/muckrake/pkg/jobs"
	"github.com/foiacquire/muckrake/pkg/models"
	"github.com/foiacquire/muckrake/pkg/pipeline"
	"github.com/foiacquire/muckrake/pkg/reference"
	"github.com/foiacquire/muckrake/pkg/rules"
	"github.com/foiacquire/muckrake/pkg/store"
	"github.com/foiacquire/muckrake/pkg/tools"
	"github.com/foiacquire/muckrake/pkg/workspace"
)

// ErrNoProject is returned by operations that need a current project when
// the tracker was opened in workspace context.
var ErrNoProject = errors.New("this command must be run inside a project")

// Options configure a Tracker. Nil configs take their defaults.
type Options struct {
	// Actor is recorded on every audit event.
	Actor string
	// Signer makes detached signatures available. May be nil.
	Signer pipeline.Signer
	Flags  integrity.FlagManager
	Jobs   *jobs.JobConfig
	Rules  *rules.RuleConfig
	Tools  *tools.RunConfig
	Audit  *audit.AuditConfig
	// HashCheck fingerprints the files of tag-scoped references before
	// they are used.
	HashCheck bool
	// Getenv is consulted for $PAGER and $EDITOR. Defaults to os.Getenv.
	Getenv func(string) string
}

// Tracker performs custody operations within a workspace.Context.
type Tracker struct {
	wc        *workspace.Context
	resolver  *reference.Resolver
	pipelines *pipeline.Engine
	pool      *jobs.WorkerPool
	runner    *tools.Runner
	recorder  *audit.Recorder
	flags     integrity.FlagManager
	opts      Options
	logger    *slog.Logger

	mu    sync.Mutex
	units map[*reference.ProjectHandle]*unit
}

// unit bundles the per-project collaborators.
type unit struct {
	h        *reference.ProjectHandle
	cats     *category.Service
	verifier *integrity.Verifier
	rules    *rules.Engine
	tools    *tools.Resolver
}

// New returns a tracker over wc.
func New(wc *workspace.Context, opts Options, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Flags == nil {
		opts.Flags = integrity.DefaultFlags(logger)
	}
	if opts.Rules == nil {
		opts.Rules = rules.DefaultRuleConfig()
	}
	if opts.Tools == nil {
		opts.Tools = tools.DefaultRunConfig()
	}
	return &Tracker{
		wc:        wc,
		resolver:  reference.NewResolver(wc, logger),
		pipelines: pipeline.NewEngine(opts.Signer, logger),
		pool:      jobs.NewWorkerPool(opts.Jobs, logger),
		runner:    tools.NewRunner(opts.Tools, logger),
		recorder:  audit.NewRecorder(opts.Audit, opts.Actor, logger),
		flags:     opts.Flags,
		opts:      opts,
		logger:    logger,
		units:     make(map[*reference.ProjectHandle]*unit),
	}
}

// Context returns the workspace context the tracker operates in.
func (t *Tracker) Context() *workspace.Context { return t.wc }

// Actor returns the identity audit events are attributed to.
func (t *Tracker) Actor() string { return t.recorder.Actor() }

func (t *Tracker) current() (*unit, error) {
	h := t.wc.Current()
	if h == nil {
		return nil, ErrNoProject
	}
	return t.unit(h), nil
}

func (t *Tracker) unit(h *reference.ProjectHandle) *unit {
	t.mu.Lock()
	defer t.mu.Unlock()
	if u, ok := t.units[h]; ok {
		return u
	}

	var wsRules rules.Source
	var wsTools tools.Source
	if ws := t.wc.Workspace(); ws != nil {
		wsRules = ws.Store
		wsTools = ws.Store
	}
	u := &unit{
		h:        h,
		cats:     t.wc.Categories(h),
		verifier: integrity.NewVerifier(h.Root, t.flags, t.logger),
		tools:    tools.NewResolver(h.Store, wsTools, t.logger),
	}
	u.rules = rules.NewEngine(h.Store, wsRules, handleClassifier{h}, &executor{t: t, u: u}, t.opts.Rules, t.logger.With("project", h.Name))
	t.units[h] = u
	return u
}

// handleClassifier reads the handle's category snapshot on every call so
// category edits are seen by rules immediately.
type handleClassifier struct{ h *reference.ProjectHandle }

func (c handleClassifier) Contains(name, relPath string) bool {
	return c.h.Categories.Contains(name, relPath)
}

func (u *unit) protection(relPath string) models.ProtectionLevel {
	if u.cats != nil {
		return u.cats.Classify(relPath)
	}
	return u.h.Categories.Classify(relPath)
}

func (u *unit) checkWritable(relPath string) error {
	if u.cats != nil {
		return u.cats.CheckWritable(relPath)
	}
	return u.h.Categories.CheckWritable(relPath)
}

func (u *unit) abs(relPath string) string {
	return filepath.Join(u.h.Root, filepath.FromSlash(relPath))
}

func (u *unit) dbPath() string {
	return filepath.Join(u.h.Root, workspace.ProjectMarker)
}

// auditStore returns an audit sink bound to s, which may be a transaction.
func auditStore(s *store.ProjectStore) *audit.AuditStore {
	return audit.NewAuditStore(s.DB())
}

func (t *Tracker) categories(h *reference.ProjectHandle) *category.Service {
	return t.wc.Categories(h)
}

func fileID(f *models.File) *uint {
	id := f.ID
	return &id
}
