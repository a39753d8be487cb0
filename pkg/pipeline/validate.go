package pipeline

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/foiacquire/muckrake/pkg/models"
)

// Validate checks a pipeline definition. It needs at least two states,
// all unique valid names; every transition must target a non-initial state and list each
// required signer once.
func Validate(p models.Pipeline) error {
	if err := models.ValidateName("pipeline", p.Name); err != nil {
		return err
	}
	if len(p.States) < 2 {
		return invalid(p.Name, "at least two states are required")
	}

	states := mapset.NewThreadUnsafeSet[string]()
	for _, s := range p.States {
		if err := models.ValidateName("state", s); err != nil {
			return err
		}
		if !states.Add(s) {
			return invalid(p.Name, "duplicate state %q", s)
		}
	}

	for state, signers := range p.Transitions {
		if !states.Contains(state) {
			return invalid(p.Name, "transition for unknown state %q", state)
		}
		if state == p.Initial() {
			return invalid(p.Name, "initial state %q cannot require signers", state)
		}
		if len(signers) == 0 {
			return invalid(p.Name, "transition %q lists no signers", state)
		}
		seen := mapset.NewThreadUnsafeSet[string]()
		for _, s := range signers {
			if s == "" {
				return invalid(p.Name, "transition %q has an empty signer", state)
			}
			if !seen.Add(s) {
				return invalid(p.Name, "transition %q lists %q twice", state, s)
			}
		}
	}
	return nil
}
