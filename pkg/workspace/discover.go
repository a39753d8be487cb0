// Package workspace locates and opens the project and workspace databases
// around a working directory, and creates new ones.
//
// A project is a directory holding a .mkrk database. A workspace is a
// directory holding a .mksp database; its registered projects live below
// it and inherit its categories, rules and tools.
package workspace

import (
	"errors"
	"os"
	"path/filepath"
)

const (
	ProjectMarker   = ".mkrk"
	WorkspaceMarker = ".mksp"
)

// ErrNoContext is returned when neither marker exists at or above the
// starting directory.
var ErrNoContext = errors.New("not inside a muckrake project or workspace")

// Location is where Discover found the markers. Either root may be empty,
// never both.
type Location struct {
	ProjectRoot   string
	WorkspaceRoot string
}

// Discover walks up from cwd. The nearest directory holding .mkrk is the
// current project; the nearest .mksp at or above the project (or above cwd
// when there is no project) is the workspace.
func Discover(cwd string) (Location, error) {
	start, err := filepath.Abs(cwd)
	if err != nil {
		return Location{}, err
	}

	var loc Location
	loc.ProjectRoot = findUp(start, ProjectMarker)
	from := start
	if loc.ProjectRoot != "" {
		from = loc.ProjectRoot
	}
	loc.WorkspaceRoot = findUp(from, WorkspaceMarker)

	if loc.ProjectRoot == "" && loc.WorkspaceRoot == "" {
		return Location{}, ErrNoContext
	}
	return loc, nil
}

// findUp returns the first directory at or above dir containing marker.
func findUp(dir, marker string) string {
	for {
		if fi, err := os.Stat(filepath.Join(dir, marker)); err == nil && !fi.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
