package custody

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/samber/lo"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/audit"
	"github.com/foiacquire/muckrake/pkg/models"
	"github.com/foiacquire/muckrake/pkg/reference"
	"github.com/foiacquire/muckrake/pkg/tools"
)

// Built-in actions with a pager or editor fallback.
const (
	ActionView = "view"
	ActionEdit = "edit"
)

// ToolRequest runs an action over referenced files.
type ToolRequest struct {
	Action string
	Refs   []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// ToolRun is one tool invocation.
type ToolRun struct {
	Project   string
	Tool      tools.Candidate
	Files     []string
	Result    tools.Result
	Err       error
	Refreshed []string
}

// ToolResult reports every invocation of a RunTool call.
type ToolResult struct {
	Runs []ToolRun
	// Warnings are editable files whose content changed outside muckrake.
	Warnings []FileReport
	Failed   []Failure
}

// RunTool resolves the tool for req.Action on each referenced file and
// runs it. Files that resolve to the same tool in the same project share
// one invocation. view and edit check the files' hashes first and fall
// back to $PAGER and $EDITOR; edit also requires the files be editable and
// refreshes their records afterwards.
func (t *Tracker) RunTool(ctx context.Context, req ToolRequest) (*ToolResult, error) {
	coll, _, err := t.resolve(ctx, req.Refs)
	if err != nil {
		return nil, err
	}
	res := &ToolResult{}

	byProject := lo.GroupBy(coll.Files, func(rf reference.ResolvedFile) *reference.ProjectHandle { return rf.Project })
	order := lo.Uniq(lo.Map(coll.Files, func(rf reference.ResolvedFile, _ int) *reference.ProjectHandle { return rf.Project }))
	for _, h := range order {
		u := t.unit(h)
		var files []models.File
		for _, rf := range byProject[h] {
			f := rf.File
			if err := t.precheck(u, req.Action, f, res); err != nil {
				res.Failed = append(res.Failed, Failure{Path: label(rf), Err: err})
				continue
			}
			files = append(files, f)
		}
		if len(files) == 0 {
			continue
		}
		runs, err := t.runTool(ctx, u, req.Action, files, req, "")
		res.Runs = append(res.Runs, runs...)
		if err != nil {
			var ambiguous *tools.AmbiguousToolError
			if errors.As(err, &ambiguous) && len(coll.Files) == 1 {
				return res, err
			}
			res.Failed = append(res.Failed, Failure{Path: h.Name, Err: err})
		}
	}
	return res, nil
}

// precheck refuses to hand a tampered protected file to a viewer or an
// editor, and refuses to edit anything that is not editable.
func (t *Tracker) precheck(u *unit, action string, f models.File, res *ToolResult) error {
	if action != ActionView && action != ActionEdit {
		return nil
	}
	if action == ActionEdit {
		if err := t.checkEditable(u, f.Path, &f, "edit"); err != nil {
			return err
		}
	}
	warn, err := t.checkContent(u, f)
	if err != nil {
		return err
	}
	if warn != nil {
		res.Warnings = append(res.Warnings, *warn)
	}
	return nil
}

// runTool resolves and runs action over files of one project, grouping
// files by the tool they resolve to. An empty file list runs the tool
// once with no arguments, resolved at the default scope.
func (t *Tracker) runTool(ctx context.Context, u *unit, action string, files []models.File, req ToolRequest, chainID string) ([]ToolRun, error) {
	type group struct {
		tool  tools.Candidate
		files []models.File
	}
	var groups []*group
	find := func(c tools.Candidate) *group {
		for _, g := range groups {
			if g.tool.Command == c.Command && g.tool.Origin == c.Origin {
				return g
			}
		}
		g := &group{tool: c}
		groups = append(groups, g)
		return g
	}

	if len(files) == 0 {
		c, err := t.lookupTool(u, action, nil)
		if err != nil {
			return nil, err
		}
		find(c)
	}
	for _, f := range files {
		c, err := t.lookupTool(u, action, &f)
		if err != nil {
			return nil, err
		}
		g := find(c)
		g.files = append(g.files, f)
	}

	var runs []ToolRun
	var firstErr error
	for _, g := range groups {
		run := t.invoke(ctx, u, action, g.tool, g.files, req, chainID)
		runs = append(runs, run)
		if run.Err != nil && firstErr == nil {
			firstErr = run.Err
		}
	}
	return runs, firstErr
}

func (t *Tracker) lookupTool(u *unit, action string, f *models.File) (tools.Candidate, error) {
	l := tools.Lookup{Action: action, Conventions: t.conventions(u)}
	if f != nil {
		l.Path = f.Path
		l.FileType = f.Ext()
		l.Scopes = tools.ScopeChain(u.h.Categories.DisplayPath(f.Path))
		tags, err := u.h.Store.TagLabels(f.ID)
		if err != nil {
			return tools.Candidate{}, err
		}
		l.Tags = tags
	}
	c, err := u.tools.Resolve(l)
	if err == nil || !apierr.Is(err, apierr.CodeNoToolFound) {
		return c, err
	}
	getenv := t.opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if cmd, ok := tools.DefaultCommand(action, getenv); ok {
		return tools.Candidate{Label: "default:" + cmd, Origin: tools.OriginDefault, Command: cmd, Quiet: true}, nil
	}
	return c, err
}

// conventions returns the tools-kind category directories under the
// project root and, inside a workspace, under the workspace root.
func (t *Tracker) conventions(u *unit) []tools.ConventionDir {
	roots := []string{u.h.Root}
	if ws := t.wc.Workspace(); ws != nil {
		roots = append(roots, ws.Root)
	}
	var out []tools.ConventionDir
	for _, c := range u.h.Categories.Categories() {
		if c.Kind != models.KindTools {
			continue
		}
		for _, root := range roots {
			out = append(out, tools.ConventionDir{Root: root, Pattern: c.Pattern})
		}
	}
	return out
}

func (t *Tracker) invoke(ctx context.Context, u *unit, action string, c tools.Candidate, files []models.File, req ToolRequest, chainID string) ToolRun {
	run := ToolRun{Project: u.h.Name, Tool: c}
	args := make([]string, len(files))
	for i, f := range files {
		args[i] = u.abs(f.Path)
		run.Files = append(run.Files, f.Path)
	}
	tctx := tools.Context{ProjectRoot: u.h.Root, ProjectDB: u.dbPath()}
	if ws := t.wc.Workspace(); ws != nil {
		tctx.WorkspaceRoot = ws.Root
	}

	run.Result, run.Err = t.runner.Run(ctx, tools.Invocation{
		Candidate: c,
		Files:     args,
		Context:   tctx,
		Dir:       u.h.Root,
		Stdin:     req.Stdin,
		Stdout:    req.Stdout,
		Stderr:    req.Stderr,
	})

	detail := models.JSONAny{
		"action":   action,
		"tool":     c.Label,
		"origin":   string(c.Origin),
		"files":    run.Files,
		"exit":     run.Result.ExitCode,
		"bypassed": run.Result.Bypassed,
	}
	e := audit.Entry{ChainID: chainID, Operation: audit.OpToolRun, Detail: detail}
	if len(files) == 1 {
		e.FileID = fileID(&files[0])
		e.Path = files[0].Path
	}
	if run.Err != nil {
		t.recorder.RecordFailure(auditStore(u.h.Store), e, run.Err)
		return run
	}
	if err := t.recorder.Record(auditStore(u.h.Store), e); err != nil {
		t.logger.Warn("could not record tool run", "action", action, "error", err)
	}

	if action == ActionEdit {
		for _, f := range files {
			updated, err := t.refresh(u, f)
			if err != nil {
				run.Err = fmt.Errorf("refresh %s after edit: %w", f.Path, err)
				break
			}
			if updated.SHA256 != f.SHA256 {
				run.Refreshed = append(run.Refreshed, f.Path)
			}
		}
	}
	return run
}

// ToolSpec describes a tool config to register.
type ToolSpec struct {
	Action   string
	Command  string
	FileType string
	// Scope is a category path; empty is the default scope.
	Scope string
	Tag   string
	Env   models.EnvOverrides
	Quiet bool
	// Confirmed allows overrides that remove or redirect proxy variables.
	Confirmed bool
}

// AddTool registers a tool config in the project or workspace database.
func (t *Tracker) AddTool(scope Scope, spec ToolSpec) (*models.ToolConfig, error) {
	s, err := t.settings(scope)
	if err != nil {
		return nil, err
	}
	cfg := &models.ToolConfig{
		Action:   spec.Action,
		FileType: spec.FileType,
		Command:  spec.Command,
		Env:      spec.Env,
		Quiet:    spec.Quiet,
	}
	if cfg.FileType == "" {
		cfg.FileType = models.AnyFileType
	}
	if spec.Scope != "" {
		sc := path.Clean(spec.Scope)
		cfg.Scope = &sc
	}
	if spec.Tag != "" {
		tag := spec.Tag
		cfg.Tag = &tag
	}
	if err := tools.Register(s, cfg, t.opts.Tools.ProxyURL, spec.Confirmed); err != nil {
		return nil, err
	}
	t.logger.Info("tool registered", "action", cfg.Action, "scope", cfg.ScopeLabel(), "file_type", cfg.FileType, "db", scope)
	return cfg, t.recordSetting(s, audit.OpToolChange, models.JSONAny{
		"change":  "add",
		"action":  cfg.Action,
		"command": cfg.Command,
		"scope":   cfg.ScopeLabel(),
		"db":      string(scope),
	})
}

// Tools lists the tool configs in scope, optionally for one action.
func (t *Tracker) Tools(scope Scope, action string) ([]models.ToolConfig, error) {
	s, err := t.settings(scope)
	if err != nil {
		return nil, err
	}
	return s.ToolConfigs(action)
}

// RemoveTool deletes a tool config by id.
func (t *Tracker) RemoveTool(scope Scope, id uint) (bool, error) {
	s, err := t.settings(scope)
	if err != nil {
		return false, err
	}
	ok, err := s.DeleteToolConfig(id)
	if err != nil || !ok {
		return ok, err
	}
	return true, t.recordSetting(s, audit.OpToolChange, models.JSONAny{"change": "remove", "id": id, "db": string(scope)})
}
