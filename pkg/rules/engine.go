package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/models"
)

// Source loads the enabled rules subscribed to an event kind. Project and
// workspace stores satisfy it.
type Source interface {
	RulesForTrigger(kind models.EventKind) ([]models.Rule, error)
}

// Classifier answers category containment for filters.
type Classifier interface {
	Contains(name, relPath string) bool
}

// Executor performs a rule's action against an event and returns the
// events the action itself caused.
type Executor interface {
	Execute(ctx context.Context, rule models.Rule, ev Event) ([]Event, error)
}

// Firing records one rule that ran.
type Firing struct {
	Rule    string
	Origin  string // project or workspace
	EventID string
	Kind    models.EventKind
	Action  models.ActionKind
	Depth   int
	Err     error
}

// Outcome summarizes one dispatched chain.
type Outcome struct {
	ChainID string
	Events  int
	Fired   []Firing
}

// Failed returns firings whose action errored.
func (o Outcome) Failed() []Firing {
	var out []Firing
	for _, f := range o.Fired {
		if f.Err != nil {
			out = append(out, f)
		}
	}
	return out
}

type scopedRule struct {
	models.Rule
	origin string
}

func (r scopedRule) key() string { return r.origin + ":" + r.Name }

// Engine dispatches events to rules.
type Engine struct {
	project    Source
	workspace  Source
	classifier Classifier
	exec       Executor
	cfg        *RuleConfig
	logger     *slog.Logger

	// mu serializes chains so that concurrent callers share one queue.
	mu sync.Mutex
}

// NewEngine returns an engine. workspace may be nil.
func NewEngine(project, workspace Source, classifier Classifier, exec Executor, cfg *RuleConfig, logger *slog.Logger) *Engine {
	if cfg == nil {
		cfg = DefaultRuleConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		project:    project,
		workspace:  workspace,
		classifier: classifier,
		exec:       exec,
		cfg:        cfg,
		logger:     logger,
	}
}

// Dispatch processes ev and everything its rules cause. Events in more
// were caused by the same mutation (a sign that also changed state) and
// join ev's chain behind it. Events are handled in FIFO order and, within
// one event, rules fire by ascending priority then name. A rule fires at
// most once per chain. If a derived event would exceed the depth limit the
// chain stops with a RecursionLimitError; the returned Outcome still lists
// what already ran.
func (e *Engine) Dispatch(ctx context.Context, ev Event, more ...Event) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ev.ChainID == "" {
		ev.ChainID = ev.ID
	}
	out := Outcome{ChainID: ev.ChainID}
	if !e.cfg.Enabled {
		return out, nil
	}

	fired := mapset.NewThreadUnsafeSet[string]()
	queue := []Event{ev}
	for _, m := range more {
		m.ChainID = ev.ChainID
		queue = append(queue, m)
	}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		cur := queue[0]
		queue = queue[1:]
		out.Events++

		matched, err := e.matching(cur)
		if err != nil {
			return out, err
		}
		for _, r := range matched {
			if !fired.Add(r.key()) {
				continue
			}
			derived, err := e.exec.Execute(ctx, r.Rule, cur)
			out.Fired = append(out.Fired, Firing{
				Rule:    r.Name,
				Origin:  r.origin,
				EventID: cur.ID,
				Kind:    cur.Kind,
				Action:  r.Action,
				Depth:   cur.Depth,
				Err:     err,
			})
			if err != nil {
				e.logger.Warn("rule action failed", "rule", r.Name, "action", r.Action, "event", cur.Kind, "chain", cur.ChainID, "error", err)
				continue
			}
			e.logger.Debug("rule fired", "rule", r.Name, "action", r.Action, "event", cur.Kind, "depth", cur.Depth)

			for _, d := range derived {
				d.ChainID = cur.ChainID
				d.Depth = cur.Depth + 1
				if d.Depth > e.cfg.MaxDepth {
					e.logger.Warn("rule chain cut off", "chain", cur.ChainID, "depth", d.Depth, "rule", r.Name, "event", d.Kind)
					return out, &RecursionLimitError{
						Code:    apierr.CodeRecursionLimit,
						ChainID: cur.ChainID,
						Depth:   e.cfg.MaxDepth,
						Kind:    d.Kind,
						Rule:    r.Name,
					}
				}
				queue = append(queue, d)
			}
		}
	}
	return out, nil
}

// matching returns the rules for ev's kind whose filters accept ev,
// ordered by priority then name, project rules first on a tie.
func (e *Engine) matching(ev Event) ([]scopedRule, error) {
	var all []scopedRule
	load := func(src Source, origin string) error {
		if src == nil {
			return nil
		}
		rules, err := src.RulesForTrigger(ev.Kind)
		if err != nil {
			return fmt.Errorf("load %s rules: %w", origin, err)
		}
		for _, r := range rules {
			all = append(all, scopedRule{Rule: r, origin: origin})
		}
		return nil
	}
	if err := load(e.project, "project"); err != nil {
		return nil, err
	}
	if err := load(e.workspace, "workspace"); err != nil {
		return nil, err
	}

	var out []scopedRule
	for _, r := range all {
		if r.Enabled && Matches(r.Filter, ev, e.classifier) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Matches reports whether every set field of f accepts ev. Filters on
// file properties never match events without a file.
func Matches(f models.TriggerFilter, ev Event, classifier Classifier) bool {
	if f.Category != "" {
		if ev.File == nil || classifier == nil || !classifier.Contains(f.Category, ev.File.Path) {
			return false
		}
	}
	if f.MimeType != "" {
		if ev.File == nil || !globEqual(strings.ToLower(f.MimeType), strings.ToLower(ev.File.MimeType)) {
			return false
		}
	}
	if f.FileType != "" {
		if ev.File == nil || !globEqual(strings.ToLower(strings.TrimPrefix(f.FileType, ".")), ev.File.Ext()) {
			return false
		}
	}
	return equalOrUnset(f.Tag, ev.Tag) &&
		equalOrUnset(f.Pipeline, ev.Pipeline) &&
		equalOrUnset(f.Sign, ev.Signer) &&
		equalOrUnset(f.State, ev.State)
}

func equalOrUnset(want, got string) bool {
	return want == "" || want == got
}

func globEqual(pattern, value string) bool {
	if value == "" {
		return false
	}
	ok, err := doublestar.Match(pattern, value)
	return err == nil && ok
}
