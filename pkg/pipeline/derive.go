// Package pipeline derives a file's workflow state from its signs and
// records new signs.
//
// State is never stored. Each query folds the append-only sign log for
// (pipeline, file) against the file's current hash, so revoking a sign or
// changing the file's content takes effect on the next read.
package pipeline

import (
	"sort"

	"github.com/samber/lo"

	"github.com/foiacquire/muckrake/pkg/models"
)

// Gate describes what entering one state requires and what is present.
type Gate struct {
	State string `json:"state" yaml:"state"`
	// Required lists named signers. Empty means any single valid sign.
	Required  []string `json:"required,omitempty" yaml:"required,omitempty"`
	Signers   []string `json:"signers,omitempty" yaml:"signers,omitempty"`
	Missing   []string `json:"missing,omitempty" yaml:"missing,omitempty"`
	Satisfied bool     `json:"satisfied" yaml:"satisfied"`
}

// FileState is the derived position of one file in one pipeline.
type FileState struct {
	Pipeline string   `json:"pipeline" yaml:"pipeline"`
	Current  string   `json:"current" yaml:"current"`
	Reached  []string `json:"reached" yaml:"reached"`
	// Next is the first state not yet reached, or "" once complete.
	Next  string        `json:"next,omitempty" yaml:"next,omitempty"`
	Gates []Gate        `json:"gates" yaml:"gates"`
	Stale []models.Sign `json:"stale,omitempty" yaml:"stale,omitempty"`
}

// Complete reports whether the file has reached the final state.
func (s FileState) Complete() bool { return s.Next == "" }

// Derive computes a file's state in p from its signs and current content
// hash. The initial state is always reached. Later states are reached in
// order; a satisfied gate after an unsatisfied one does not count.
func Derive(p models.Pipeline, signs []models.Sign, currentHash string) FileState {
	valid := make(map[string][]string, len(p.States))
	var stale []models.Sign
	for _, s := range signs {
		switch {
		case s.IsValid(currentHash):
			valid[s.State] = append(valid[s.State], s.Signer)
		case !s.Revoked():
			stale = append(stale, s)
		}
	}

	fs := FileState{Pipeline: p.Name, Stale: stale}
	blocked := false
	for i, state := range p.States {
		g := gate(p, i, valid[state])
		fs.Gates = append(fs.Gates, g)
		if blocked {
			continue
		}
		if !g.Satisfied {
			blocked = true
			fs.Next = state
			continue
		}
		fs.Reached = append(fs.Reached, state)
		fs.Current = state
	}
	return fs
}

func gate(p models.Pipeline, index int, signers []string) Gate {
	state := p.States[index]
	signers = lo.Uniq(signers)
	sort.Strings(signers)
	g := Gate{State: state, Signers: signers}

	if index == 0 {
		g.Satisfied = true
		return g
	}
	required := p.Transitions[state]
	if len(required) == 0 {
		g.Satisfied = len(signers) > 0
		return g
	}
	g.Required = required
	g.Missing = lo.Without(required, signers...)
	g.Satisfied = len(g.Missing) == 0
	return g
}
