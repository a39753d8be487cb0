// Package rules runs event-triggered automation.
//
// Every mutating operation emits an Event. The Engine matches enabled
// rules against it, fires their actions in priority order through an
// Executor, and queues any events those actions emit. All events that
// descend from one originating event share a chain id and a fired-rule
// set, so a rule fires at most once per chain however its actions loop
// back.
package rules

import (
	"github.com/google/uuid"

	"github.com/foiacquire/muckrake/pkg/models"
)

// Event is one mutation, as rules see it.
type Event struct {
	ID      string
	ChainID string
	Kind    models.EventKind
	// File is nil for project-enter and workspace-enter events.
	File     *models.File
	Project  string
	Tag      string
	Pipeline string
	Signer   string
	State    string
	Category string
	// Depth counts derived events since the originating one.
	Depth int
}

// NewEvent starts a new causal chain.
func NewEvent(kind models.EventKind, file *models.File) Event {
	id := uuid.NewString()
	return Event{ID: id, ChainID: id, Kind: kind, File: file}
}

// Derive returns an event caused by ev: same chain, one level deeper.
func (ev Event) Derive(kind models.EventKind) Event {
	return Event{
		ID:      uuid.NewString(),
		ChainID: ev.ChainID,
		Kind:    kind,
		File:    ev.File,
		Project: ev.Project,
		Depth:   ev.Depth + 1,
	}
}

// Root reports whether ev originated a chain.
func (ev Event) Root() bool { return ev.ID == ev.ChainID }
