package rules

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/foiacquire/muckrake/pkg/models"
)

// Definition is the file form of a rule. Trigger and action accept dashed
// or underscored spellings.
type Definition struct {
	Name     string               `yaml:"name"`
	Trigger  string               `yaml:"trigger"`
	Filter   models.TriggerFilter `yaml:"filter,omitempty"`
	Action   string               `yaml:"action"`
	Params   models.ActionParams  `yaml:"params,omitempty"`
	Priority int                  `yaml:"priority,omitempty"`
	Enabled  *bool                `yaml:"enabled,omitempty"`
}

// Rule converts the definition into a validated record. Rules are enabled
// unless the definition says otherwise.
func (d Definition) Rule() (models.Rule, error) {
	trigger, err := models.ParseEventKind(d.Trigger)
	if err != nil {
		return models.Rule{}, invalidRule(d.Name, "%v", err)
	}
	action, err := models.ParseActionKind(d.Action)
	if err != nil {
		return models.Rule{}, invalidRule(d.Name, "%v", err)
	}
	r := models.Rule{
		Name:     d.Name,
		Enabled:  d.Enabled == nil || *d.Enabled,
		Priority: d.Priority,
		Trigger:  trigger,
		Filter:   d.Filter,
		Action:   action,
		Params:   d.Params,
	}
	if err := Validate(r); err != nil {
		return models.Rule{}, err
	}
	return r, nil
}

type definitionFile struct {
	Rules []Definition `yaml:"rules"`
}

// ParseDefinitions decodes a YAML document with a top-level rules list and
// validates every entry.
func ParseDefinitions(data []byte) ([]models.Rule, error) {
	var f definitionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rule definitions: %w", err)
	}
	out := make([]models.Rule, 0, len(f.Rules))
	for _, d := range f.Rules {
		r, err := d.Rule()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
