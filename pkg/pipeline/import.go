package pipeline

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/foiacquire/muckrake/pkg/models"
	"github.com/foiacquire/muckrake/pkg/store"
)

// Definition is the file form of a pipeline and its bindings.
type Definition struct {
	Name        string              `yaml:"name"`
	States      []string            `yaml:"states"`
	Transitions map[string][]string `yaml:"transitions,omitempty"`
	Attach      struct {
		Categories []string `yaml:"categories,omitempty"`
		Tags       []string `yaml:"tags,omitempty"`
	} `yaml:"attach,omitempty"`
}

// Pipeline converts the definition into a record.
func (d Definition) Pipeline() models.Pipeline {
	return models.Pipeline{
		Name:        d.Name,
		States:      models.JSONStringSlice(d.States),
		Transitions: models.Transitions(d.Transitions),
	}
}

type definitionFile struct {
	Pipelines []Definition `yaml:"pipelines"`
}

// ParseDefinitions decodes a YAML document with a top-level pipelines
// list.
func ParseDefinitions(data []byte) ([]Definition, error) {
	var f definitionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse pipeline definitions: %w", err)
	}
	return f.Pipelines, nil
}

// Import validates every definition, then stores them with their
// bindings. Call it inside a transaction so a bad definition leaves
// nothing behind.
func (e *Engine) Import(s *store.ProjectStore, defs []Definition) ([]models.Pipeline, error) {
	for _, d := range defs {
		if err := Validate(d.Pipeline()); err != nil {
			return nil, err
		}
	}

	out := make([]models.Pipeline, 0, len(defs))
	for _, d := range defs {
		p := d.Pipeline()
		if err := e.Define(s, &p); err != nil {
			return nil, err
		}
		for _, c := range d.Attach.Categories {
			if _, err := e.Attach(s, p.Name, models.ScopeCategory, c); err != nil {
				return nil, err
			}
		}
		for _, tag := range d.Attach.Tags {
			if _, err := e.Attach(s, p.Name, models.ScopeTag, tag); err != nil {
				return nil, err
			}
		}
		out = append(out, p)
	}
	return out, nil
}
