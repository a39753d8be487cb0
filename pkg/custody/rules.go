package custody

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/foiacquire/muckrake/pkg/audit"
	"github.com/foiacquire/muckrake/pkg/models"
	"github.com/foiacquire/muckrake/pkg/pipeline"
	"github.com/foiacquire/muckrake/pkg/rules"
	"github.com/foiacquire/muckrake/pkg/store"
)

// executor carries out rule actions for one project. It mutates through
// the tracker's internal helpers and returns the events those mutations
// cause; it never dispatches, since it runs inside a dispatch.
type executor struct {
	t *Tracker
	u *unit
}

func (x *executor) Execute(ctx context.Context, rule models.Rule, ev rules.Event) ([]rules.Event, error) {
	derived, err := x.apply(ctx, rule, ev)

	e := audit.Entry{
		ChainID:   ev.ChainID,
		Operation: audit.OpRuleFired,
		Detail: models.JSONAny{
			"rule":   rule.Name,
			"action": string(rule.Action),
			"event":  string(ev.Kind),
			"depth":  ev.Depth,
		},
	}
	if ev.File != nil {
		e.FileID = fileID(ev.File)
		e.Path = ev.File.Path
	}
	if err != nil {
		x.t.recorder.RecordFailure(auditStore(x.u.h.Store), e, err)
		return nil, err
	}
	if rerr := x.t.recorder.Record(auditStore(x.u.h.Store), e); rerr != nil {
		x.t.logger.Warn("could not record rule firing", "rule", rule.Name, "error", rerr)
	}
	return derived, nil
}

func (x *executor) apply(ctx context.Context, rule models.Rule, ev rules.Event) ([]rules.Event, error) {
	t, u, p := x.t, x.u, rule.Params

	if rule.Action == models.ActionRunTool {
		var files []models.File
		if ev.File != nil {
			f, err := x.file(ev)
			if err != nil {
				return nil, err
			}
			files = append(files, *f)
		}
		_, err := t.runTool(ctx, u, p.Tool, files, ToolRequest{}, ev.ChainID)
		return nil, err
	}

	f, err := x.file(ev)
	if err != nil {
		return nil, err
	}
	switch rule.Action {
	case models.ActionAddTag:
		changed, err := t.tagFile(u, f, p.Tag, ev.ChainID)
		if err != nil || !changed {
			return nil, err
		}
		d := ev.Derive(models.EventTag)
		d.File = f
		d.Tag = p.Tag
		return []rules.Event{d}, nil

	case models.ActionRemoveTag:
		changed, err := t.untagFile(u, f, p.Tag, ev.ChainID)
		if err != nil || !changed {
			return nil, err
		}
		d := ev.Derive(models.EventUntag)
		d.File = f
		d.Tag = p.Tag
		return []rules.Event{d}, nil

	case models.ActionSign:
		req := pipeline.SignRequest{Pipeline: p.Pipeline, State: p.State, Signer: p.Signer}
		s, err := t.signFile(u, *f, req, ev.ChainID)
		if err != nil || !s.created {
			return nil, err
		}
		d := ev.Derive(models.EventSign)
		d.File = f
		return signEvents(d, req, s), nil

	case models.ActionUnsign:
		s, err := t.unsignFile(u, *f, p.Pipeline, p.State, p.Signer, ev.ChainID)
		if err != nil || !s.stateChanged() {
			return nil, err
		}
		d := ev.Derive(models.EventStateChange)
		d.File = f
		d.Pipeline = p.Pipeline
		d.State = s.after
		return []rules.Event{d}, nil

	case models.ActionAttachPipeline, models.ActionDetachPipeline:
		scope, value, err := x.binding(rule, ev, f)
		if err != nil {
			return nil, err
		}
		if rule.Action == models.ActionAttachPipeline {
			_, err = t.attach(u, p.Pipeline, scope, value, ev.ChainID)
		} else {
			_, err = t.detach(u, p.Pipeline, scope, value, ev.ChainID)
		}
		return nil, err

	default:
		return nil, fmt.Errorf("rule %s: unsupported action %q", rule.Name, rule.Action)
	}
}

// file reloads the event's file so actions see what earlier actions in the
// chain did to it.
func (x *executor) file(ev rules.Event) (*models.File, error) {
	if ev.File == nil {
		return nil, fmt.Errorf("%s events carry no file", ev.Kind)
	}
	f, err := x.u.h.Store.FileByID(ev.File.ID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("%s is no longer tracked", ev.File.Path)
	}
	return f, nil
}

// binding picks what an attach or detach action binds: the configured
// category or tag, else the tag that triggered the event, else the file's
// display category.
func (x *executor) binding(rule models.Rule, ev rules.Event, f *models.File) (models.ScopeType, string, error) {
	switch {
	case rule.Params.Category != "":
		return models.ScopeCategory, rule.Params.Category, nil
	case rule.Params.Tag != "":
		return models.ScopeTag, rule.Params.Tag, nil
	case ev.Tag != "":
		return models.ScopeTag, ev.Tag, nil
	}
	if c, ok := x.u.h.Categories.Display(f.Path); ok {
		return models.ScopeCategory, c.Name, nil
	}
	return "", "", fmt.Errorf("rule %s: %s has no category to bind %s to", rule.Name, f.Path, rule.Params.Pipeline)
}

// Enter dispatches project_enter for the current project and, inside a
// workspace, workspace_enter. Rules from both databases apply.
func (t *Tracker) Enter(ctx context.Context) ([]rules.Outcome, error) {
	u, err := t.current()
	if err != nil {
		return nil, err
	}
	kinds := []models.EventKind{models.EventProjectEnter}
	if t.wc.HasWorkspace() {
		kinds = append(kinds, models.EventWorkspaceEnter)
	}
	var outs []rules.Outcome
	for _, k := range kinds {
		out, err := u.rules.Dispatch(ctx, newEvent(u, k, nil))
		outs = append(outs, out)
		if err != nil {
			return outs, err
		}
	}
	return outs, nil
}

// settings is the rule and tool storage shared by project and workspace
// databases.
type settings interface {
	Rules(enabledOnly bool) ([]models.Rule, error)
	SaveRule(rule *models.Rule) error
	SetRuleEnabled(name string, enabled bool) (bool, error)
	DeleteRule(name string) (bool, error)
	AddToolConfig(cfg *models.ToolConfig) error
	ToolConfigs(action string) ([]models.ToolConfig, error)
	DeleteToolConfig(id uint) (bool, error)
	DB() *gorm.DB
}

// Scope selects the database a rule or tool lives in.
type Scope string

const (
	ScopeProject   Scope = "project"
	ScopeWorkspace Scope = "workspace"
)

func (t *Tracker) settings(scope Scope) (settings, error) {
	if scope == ScopeWorkspace {
		ws := t.wc.Workspace()
		if ws == nil {
			return nil, fmt.Errorf("not inside a workspace")
		}
		return ws.Store, nil
	}
	u, err := t.current()
	if err != nil {
		return nil, err
	}
	return u.h.Store, nil
}

func (t *Tracker) recordSetting(s settings, op string, detail models.JSONAny) error {
	return t.recorder.Record(audit.NewAuditStore(s.DB()), audit.Entry{Operation: op, Detail: detail})
}

// AddRule validates and stores a rule, replacing one with the same name.
func (t *Tracker) AddRule(scope Scope, r *models.Rule) error {
	if err := rules.Validate(*r); err != nil {
		return err
	}
	err := t.settingsTx(scope, func(tx settings) error {
		return t.saveRule(tx, scope, r)
	})
	if err != nil {
		return err
	}
	t.logger.Info("rule saved", "rule", r.Name, "trigger", r.Trigger, "action", r.Action, "scope", scope)
	return nil
}

// ImportRules stores every rule in a YAML definition document. All rules
// are validated first and stored in one transaction, so either every rule
// is saved or none is.
func (t *Tracker) ImportRules(scope Scope, data []byte) ([]models.Rule, error) {
	parsed, err := rules.ParseDefinitions(data)
	if err != nil {
		return nil, err
	}
	for _, r := range parsed {
		if err := rules.Validate(r); err != nil {
			return nil, err
		}
	}
	err = t.settingsTx(scope, func(tx settings) error {
		for i := range parsed {
			if err := t.saveRule(tx, scope, &parsed[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("import rules: %w", err)
	}
	t.logger.Info("rules imported", "count", len(parsed), "scope", scope)
	return parsed, nil
}

func (t *Tracker) saveRule(tx settings, scope Scope, r *models.Rule) error {
	if err := tx.SaveRule(r); err != nil {
		return err
	}
	return t.recordSetting(tx, audit.OpRuleChange, models.JSONAny{"rule": r.Name, "change": "save", "scope": string(scope)})
}

// settingsTx runs fn against the scope's database inside one transaction.
func (t *Tracker) settingsTx(scope Scope, fn func(tx settings) error) error {
	s, err := t.settings(scope)
	if err != nil {
		return err
	}
	return s.DB().Transaction(func(db *gorm.DB) error {
		if scope == ScopeWorkspace {
			return fn(store.NewWorkspaceStore(db))
		}
		return fn(store.NewProjectStore(db))
	})
}

// SetRuleEnabled enables or disables a rule by name.
func (t *Tracker) SetRuleEnabled(scope Scope, name string, enabled bool) (bool, error) {
	s, err := t.settings(scope)
	if err != nil {
		return false, err
	}
	ok, err := s.SetRuleEnabled(name, enabled)
	if err != nil || !ok {
		return ok, err
	}
	change := "disable"
	if enabled {
		change = "enable"
	}
	return true, t.recordSetting(s, audit.OpRuleChange, models.JSONAny{"rule": name, "change": change, "scope": string(scope)})
}

// RemoveRule deletes a rule by name.
func (t *Tracker) RemoveRule(scope Scope, name string) (bool, error) {
	s, err := t.settings(scope)
	if err != nil {
		return false, err
	}
	ok, err := s.DeleteRule(name)
	if err != nil || !ok {
		return ok, err
	}
	return true, t.recordSetting(s, audit.OpRuleChange, models.JSONAny{"rule": name, "change": "remove", "scope": string(scope)})
}

// Rules lists the rules stored in scope.
func (t *Tracker) Rules(scope Scope) ([]models.Rule, error) {
	s, err := t.settings(scope)
	if err != nil {
		return nil, err
	}
	return s.Rules(false)
}
