package custody

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/foiacquire/muckrake/pkg/audit"
	"github.com/foiacquire/muckrake/pkg/category"
	"github.com/foiacquire/muckrake/pkg/models"
)

// DefineCategory validates and stores a category in the project or
// workspace database, then reloads every open project's categories.
func (t *Tracker) DefineCategory(scope Scope, cat models.Category) (*models.Category, error) {
	u, err := t.current()
	if err != nil {
		return nil, err
	}
	if cat.Name == "" {
		cat.Name = path.Base(category.LiteralPrefix(cat.Pattern))
	}
	if err := models.ValidateName("category", cat.Name); err != nil {
		return nil, err
	}
	saved, err := t.categories(u.h).Define(category.Scope(scope), cat)
	if err != nil {
		return nil, err
	}
	if err := t.wc.ReloadCategories(); err != nil {
		return nil, err
	}
	s, err := t.settings(scope)
	if err != nil {
		return nil, err
	}
	return saved, t.recordSetting(s, audit.OpCategoryDefine, models.JSONAny{
		"category":   saved.Name,
		"pattern":    saved.Pattern,
		"protection": string(saved.Protection),
		"kind":       string(saved.Kind),
	})
}

// RemoveCategory deletes a category by name.
func (t *Tracker) RemoveCategory(scope Scope, name string) (bool, error) {
	u, err := t.current()
	if err != nil {
		return false, err
	}
	removed, err := t.categories(u.h).Remove(category.Scope(scope), name)
	if err != nil || !removed {
		return removed, err
	}
	if err := t.wc.ReloadCategories(); err != nil {
		return true, err
	}
	s, err := t.settings(scope)
	if err != nil {
		return true, err
	}
	return true, t.recordSetting(s, audit.OpCategoryRemove, models.JSONAny{"category": name})
}

// Categories returns the categories in effect for the current project,
// workspace ones included.
func (t *Tracker) Categories() ([]models.Category, error) {
	u, err := t.current()
	if err != nil {
		return nil, err
	}
	return u.h.Categories.Categories(), nil
}

// Classification explains the protection of one path.
type Classification struct {
	Path       string                 `json:"path" yaml:"path"`
	Protection models.ProtectionLevel `json:"protection" yaml:"protection"`
	Category   string                 `json:"category,omitempty" yaml:"category,omitempty"`
	Matches    []string               `json:"matches,omitempty" yaml:"matches,omitempty"`
}

// Classify reports the protection of a project-relative path, tracked or
// not, and the categories that decided it.
func (t *Tracker) Classify(relPath string) (*Classification, error) {
	u, err := t.current()
	if err != nil {
		return nil, err
	}
	rel := path.Clean(relPath)
	c := &Classification{
		Path:       rel,
		Protection: t.categories(u.h).Classify(rel),
		Matches:    u.h.Categories.Names(rel),
	}
	if d, ok := u.h.Categories.Display(rel); ok {
		c.Category = d.Name
	}
	return c, nil
}

// AuditLog lists audit events from the project or workspace database.
func (t *Tracker) AuditLog(scope Scope, f audit.Filter) ([]models.AuditEvent, string, int, error) {
	s, err := t.settings(scope)
	if err != nil {
		return nil, "", 0, err
	}
	return audit.NewAuditStore(s.DB()).List(f)
}

// PruneAudit deletes audit events older than days. Zero or less uses the
// configured retention; with none configured nothing is deleted.
func (t *Tracker) PruneAudit(scope Scope, days int) (int64, error) {
	if days <= 0 && t.opts.Audit != nil {
		days = t.opts.Audit.RetentionDays
	}
	if days <= 0 {
		return 0, fmt.Errorf("no retention period configured")
	}
	s, err := t.settings(scope)
	if err != nil {
		return 0, err
	}
	n, err := audit.NewRetentionWorker(audit.NewAuditStore(s.DB()), days, t.logger).Prune(time.Now())
	if err != nil {
		return 0, err
	}
	return n, t.recordSetting(s, audit.OpAuditPrune, models.JSONAny{"deleted": n, "days": days})
}

// RunAuditRetention prunes the scope's audit log on the retention worker's
// schedule until ctx is cancelled. It returns at once when no retention is
// configured.
func (t *Tracker) RunAuditRetention(ctx context.Context, scope Scope) error {
	days := 0
	if t.opts.Audit != nil {
		days = t.opts.Audit.RetentionDays
	}
	s, err := t.settings(scope)
	if err != nil {
		return err
	}
	audit.NewRetentionWorker(audit.NewAuditStore(s.DB()), days, t.logger).Run(ctx)
	return nil
}
