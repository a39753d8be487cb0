package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foiacquire/muckrake/pkg/custody"
	"github.com/foiacquire/muckrake/pkg/workspace"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the current project and workspace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		t, done, err := openTracker()
		if errors.Is(err, workspace.ErrNoContext) {
			if structured() {
				return printOutput(custody.Status{})
			}
			fmt.Fprintln(os.Stderr, "Not in a muckrake project or workspace")
			fmt.Fprintln(os.Stderr, "  Run 'mkrk init' to create a project")
			fmt.Fprintln(os.Stderr, "  Run 'mkrk workspace init <dir>' to create a workspace")
			return nil
		}
		if err != nil {
			return err
		}
		defer done()

		st, err := t.Status()
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(st)
		}
		printStatus(st)
		return nil
	},
}

func printStatus(st *custody.Status) {
	if p := st.Project; p != nil {
		fmt.Printf("Project: %s\n", p.Name)
		fmt.Printf("  Path: %s\n", p.Root)
		fmt.Printf("  Files: %d\n", p.Files)
		fmt.Printf("  Categories: %d\n", p.Categories)
		fmt.Printf("  Tags: %d\n", p.Tags)
		if p.Pipelines > 0 {
			fmt.Printf("  Pipelines: %d\n", p.Pipelines)
			fmt.Printf("  Active signs: %d\n", p.ActiveSigns)
		}
	}
	if w := st.Workspace; w != nil {
		fmt.Printf("Workspace: %s\n", w.Root)
		fmt.Printf("  Projects: %d\n", w.Projects)
		if w.Inbox != nil {
			fmt.Printf("  Inbox: %d file(s)\n", *w.Inbox)
		}
	}
}
