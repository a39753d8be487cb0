package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foiacquire/muckrake/pkg/custody"
	"github.com/foiacquire/muckrake/pkg/models"
)

var (
	toolType    string
	toolScope   string
	toolTag     string
	toolEnv     []string
	toolUnset   []string
	toolQuiet   bool
	toolConfirm bool
)

var toolCmd = &cobra.Command{
	Use:   "tool",
	Short: "Manage and run external tools",
	Long: `Tools are external commands bound to an action (view, edit, ocr, ...).
The tool for a file is the most specific match by scope, tag and file
type. Tools inherit a proxy environment; removing or redirecting the
proxy variables needs --yes.`,
}

var toolAddCmd = &cobra.Command{
	Use:   "add <action> <command>",
	Short: "Register a tool",
	Example: `  mkrk tool add view "zathura" --type pdf
  mkrk tool add ocr "ocrmypdf --sidecar -" --scope evidence --tag scanned`,
	Args: cobra.ExactArgs(2),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		env, err := parseEnv(toolEnv, toolUnset)
		if err != nil {
			return err
		}
		tc, err := t.AddTool(scope(), custody.ToolSpec{
			Action:    args[0],
			Command:   args[1],
			FileType:  toolType,
			Scope:     toolScope,
			Tag:       toolTag,
			Env:       env,
			Quiet:     toolQuiet,
			Confirmed: toolConfirm,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Registered tool %d: %s -> %s\n", tc.ID, tc.Action, tc.Command)
		return nil
	}),
}

var toolLsCmd = &cobra.Command{
	Use:   "ls [action]",
	Short: "List registered tools",
	Args:  cobra.MaximumNArgs(1),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		var action string
		if len(args) == 1 {
			action = args[0]
		}
		tcs, err := t.Tools(scope(), action)
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(tcs)
		}
		rows := make([][]string, 0, len(tcs))
		for _, tc := range tcs {
			rows = append(rows, []string{
				strconv.FormatUint(uint64(tc.ID), 10),
				tc.Action,
				tc.FileType,
				orDash(deref(tc.Scope)),
				orDash(deref(tc.Tag)),
				truncate(tc.Command, 50),
			})
		}
		printTable([]string{"ID", "Action", "Type", "Scope", "Tag", "Command"}, rows)
		return nil
	}),
}

var toolRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a tool registration",
	Args:  cobra.ExactArgs(1),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 0)
		if err != nil {
			return fmt.Errorf("invalid tool id %q", args[0])
		}
		removed, err := t.RemoveTool(scope(), uint(id))
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("tool %d not found in the %s database", id, scope())
		}
		fmt.Printf("Removed tool %d\n", id)
		return nil
	}),
}

var toolRunCmd = &cobra.Command{
	Use:   "run <action> <ref>...",
	Short: "Run the tool for an action on files",
	Args:  cobra.MinimumNArgs(2),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		return runTool(cmd, t, args[0], args[1:])
	}),
}

var viewCmd = &cobra.Command{
	Use:   "view <ref>...",
	Short: "Open files in the view tool or $PAGER",
	Args:  cobra.MinimumNArgs(1),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		return runTool(cmd, t, custody.ActionView, args)
	}),
}

var editCmd = &cobra.Command{
	Use:   "edit <ref>...",
	Short: "Open editable files in the edit tool or $EDITOR",
	Long:  "Open files for editing. Protected and immutable files are refused; edited files are rehashed afterwards.",
	Args:  cobra.MinimumNArgs(1),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		return runTool(cmd, t, custody.ActionEdit, args)
	}),
}

func runTool(cmd *cobra.Command, t *custody.Tracker, action string, refs []string) error {
	res, err := t.RunTool(cmd.Context(), custody.ToolRequest{
		Action: action,
		Refs:   refs,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	if err != nil {
		return err
	}
	printMismatches(res.Warnings)
	printFailures("failed", res.Failed)

	var failed *exitError
	for _, run := range res.Runs {
		logger.Debug("tool finished", "project", run.Project, "tool", run.Tool.Label, "files", len(run.Files),
			"exit", run.Result.ExitCode, "duration", run.Result.Duration.String())
		for _, p := range run.Refreshed {
			fmt.Fprintf(os.Stderr, "rehashed %s:%s\n", run.Project, p)
		}
		if run.Err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", run.Tool.Label, run.Err)
		}
		if run.Result.ExitCode != 0 && failed == nil {
			failed = &exitError{
				code: run.Result.ExitCode,
				msg:  fmt.Sprintf("%s exited with status %d", run.Tool.Label, run.Result.ExitCode),
			}
		}
	}
	if failed != nil {
		return failed
	}
	return batchErr(res.Failed)
}

// parseEnv turns KEY=VALUE settings and KEY removals into overrides.
func parseEnv(set, unset []string) (models.EnvOverrides, error) {
	if len(set) == 0 && len(unset) == 0 {
		return nil, nil
	}
	env := models.EnvOverrides{}
	for _, kv := range set {
		k, val, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid environment setting %q, expected KEY=VALUE", kv)
		}
		env[k] = &val
	}
	for _, k := range unset {
		env[k] = nil
	}
	return env, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func init() {
	f := toolAddCmd.Flags()
	f.StringVar(&toolType, "type", "*", "File extension the tool handles, or * for any")
	f.StringVar(&toolScope, "scope", "", "Category path the tool applies under")
	f.StringVar(&toolTag, "tag", "", "Only files with this tag")
	f.StringArrayVar(&toolEnv, "env", nil, "Set an environment variable, KEY=VALUE (repeatable)")
	f.StringArrayVar(&toolUnset, "unset", nil, "Remove an environment variable (repeatable)")
	f.BoolVarP(&toolQuiet, "quiet", "q", false, "Discard the tool's output")
	f.BoolVarP(&toolConfirm, "yes", "y", false, "Allow environment overrides that bypass the proxy")

	for _, c := range []*cobra.Command{toolAddCmd, toolLsCmd, toolRmCmd} {
		scopeFlag(c)
	}

	toolCmd.AddCommand(toolAddCmd)
	toolCmd.AddCommand(toolLsCmd)
	toolCmd.AddCommand(toolRmCmd)
	toolCmd.AddCommand(toolRunCmd)
}
