package store

import (
	"fmt"

	"github.com/foiacquire/muckrake/pkg/models"
)

// Rules returns rules ordered by priority then name. When enabledOnly is
// set, disabled rules are skipped.
func (s shared) Rules(enabledOnly bool) ([]models.Rule, error) {
	q := s.db.Order("priority ASC").Order("name ASC")
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}
	var rules []models.Rule
	if err := q.Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

// RulesForTrigger returns enabled rules subscribed to the given event kind,
// ordered by priority then name.
func (s shared) RulesForTrigger(kind models.EventKind) ([]models.Rule, error) {
	var rules []models.Rule
	err := s.db.Where("enabled = ? AND trigger_event = ?", true, kind).
		Order("priority ASC").Order("name ASC").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("list rules for %s: %w", kind, err)
	}
	return rules, nil
}

// RuleByName returns the named rule. Returns nil, nil if not found.
func (s shared) RuleByName(name string) (*models.Rule, error) {
	var rule models.Rule
	if err := s.db.Where("name = ?", name).First(&rule).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rule %q: %w", name, err)
	}
	return &rule, nil
}

// SaveRule inserts a rule or replaces the one with the same name.
func (s shared) SaveRule(rule *models.Rule) error {
	existing, err := s.RuleByName(rule.Name)
	if err != nil {
		return err
	}
	if existing == nil {
		if err := s.db.Create(rule).Error; err != nil {
			return fmt.Errorf("create rule %q: %w", rule.Name, err)
		}
		return nil
	}
	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt
	if err := s.db.Save(rule).Error; err != nil {
		return fmt.Errorf("update rule %q: %w", rule.Name, err)
	}
	return nil
}

// SetRuleEnabled toggles a rule. Returns false if the rule does not exist.
func (s shared) SetRuleEnabled(name string, enabled bool) (bool, error) {
	result := s.db.Model(&models.Rule{}).Where("name = ?", name).Update("enabled", enabled)
	if result.Error != nil {
		return false, fmt.Errorf("update rule %q: %w", name, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// DeleteRule removes a rule. Returns false if it did not exist.
func (s shared) DeleteRule(name string) (bool, error) {
	result := s.db.Where("name = ?", name).Delete(&models.Rule{})
	if result.Error != nil {
		return false, fmt.Errorf("delete rule %q: %w", name, result.Error)
	}
	return result.RowsAffected > 0, nil
}
