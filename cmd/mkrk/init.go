package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/foiacquire/muckrake/pkg/custody"
	"github.com/foiacquire/muckrake/pkg/models"
	"github.com/foiacquire/muckrake/pkg/workspace"
)

var (
	initName         string
	initCategories   []string
	initNoCategories bool
	wsProjectsDir    string
	wsInbox          bool
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Create a project",
	Long: `Create a project database in dir (default: the current directory).

Inside a workspace the project is registered there and inherits the
workspace categories. Outside one it is seeded with the default
categories unless --category or --no-categories is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		var cats []models.Category
		for _, spec := range initCategories {
			c, err := workspace.ParseCategorySpec(spec)
			if err != nil {
				return err
			}
			cats = append(cats, c)
		}
		meta, err := workspace.InitProject(dir, workspace.ProjectOptions{
			Name:         initName,
			Categories:   cats,
			NoCategories: initNoCategories,
		}, logger)
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(meta)
		}
		fmt.Printf("Initialized project %s (%s)\n", meta.Name, meta.ID)
		return nil
	},
}

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage the workspace",
}

var workspaceInitCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Create a workspace",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		err := workspace.InitWorkspace(dir, workspace.WorkspaceOptions{
			ProjectsDir:  wsProjectsDir,
			Inbox:        wsInbox,
			NoCategories: initNoCategories,
		}, logger)
		if err != nil {
			return err
		}
		abs, _ := filepath.Abs(dir)
		fmt.Printf("Initialized workspace in %s\n", abs)
		return nil
	},
}

var workspaceAddProjectCmd = &cobra.Command{
	Use:   "add-project <name> [dir]",
	Short: "Create or register a project in the workspace",
	Long: `Register the project in dir under name, creating it first if dir holds
no project yet. dir defaults to <projects dir>/<name>.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		wc, err := openContext()
		if err != nil {
			return err
		}
		defer wc.Close()
		if !wc.HasWorkspace() {
			return errors.New("not inside a workspace")
		}

		name := args[0]
		if err := models.ValidateProjectName(name); err != nil {
			return err
		}
		var dir string
		if len(args) == 2 {
			dir = args[1]
		} else {
			base, ok, err := wc.ProjectsDir()
			if err != nil {
				return err
			}
			if !ok {
				base = wc.Workspace().Root
			}
			dir = filepath.Join(base, name)
		}

		if _, err := os.Stat(filepath.Join(dir, workspace.ProjectMarker)); err == nil {
			if _, err := wc.RegisterProject(name, dir); err != nil {
				return err
			}
		} else {
			if _, err := workspace.InitProject(dir, workspace.ProjectOptions{Name: name}, logger); err != nil {
				return err
			}
		}
		fmt.Printf("Added project %s\n", name)
		return nil
	},
}

var workspaceProjectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List the workspace's projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		wc, err := openContext()
		if err != nil {
			return err
		}
		defer wc.Close()
		ws := wc.Workspace()
		if ws == nil {
			return errors.New("not inside a workspace")
		}
		refs, err := ws.Store.Projects()
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(refs)
		}
		rows := make([][]string, 0, len(refs))
		for _, r := range refs {
			rows = append(rows, []string{r.Name, r.Path, r.ProjectID})
		}
		printTable([]string{"Name", "Path", "ID"}, rows)
		return nil
	},
}

var enterCmd = &cobra.Command{
	Use:   "enter",
	Short: "Fire project and workspace enter rules",
	Args:  cobra.NoArgs,
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		chains, err := t.Enter(cmd.Context())
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(firingViews(chains))
		}
		printFirings(chains)
		return nil
	}),
}

func init() {
	initCmd.Flags().StringVar(&initName, "name", "", "Project name (default: directory name)")
	initCmd.Flags().StringArrayVar(&initCategories, "category", nil, "Category as pattern:level or pattern:kind:level (repeatable)")
	initCmd.Flags().BoolVar(&initNoCategories, "no-categories", false, "Do not seed default categories")

	workspaceInitCmd.Flags().StringVar(&wsProjectsDir, "projects-dir", "projects", "Directory new projects are created in, relative to the workspace")
	workspaceInitCmd.Flags().BoolVar(&wsInbox, "inbox", false, "Create an inbox directory")
	workspaceInitCmd.Flags().BoolVar(&initNoCategories, "no-categories", false, "Do not seed default categories")

	workspaceCmd.AddCommand(workspaceInitCmd)
	workspaceCmd.AddCommand(workspaceAddProjectCmd)
	workspaceCmd.AddCommand(workspaceProjectsCmd)
}
