package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/foiacquire/muckrake/pkg/custody"
	"github.com/foiacquire/muckrake/pkg/models"
)

var (
	ruleOn       string
	ruleAction   string
	rulePriority int
	ruleDisabled bool
	ruleFilter   models.TriggerFilter
	ruleParams   models.ActionParams
)

var ruleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Manage event rules",
	Long: `Rules run an action when an event matches them: ingest, tag, untag,
categorize, sign, state_change, project_enter or workspace_enter. Actions
are run_tool, add_tag, remove_tag, sign, unsign, attach_pipeline and
detach_pipeline. Rules may trigger further rules; a chain is cut off
after rules.max_depth events.`,
}

var ruleAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Define a rule",
	Example: `  mkrk rule add ocr-pdfs --on ingest --if-type pdf --action run_tool --tool ocr
  mkrk rule add flag-leaks --on tag --if-tag leaked --action attach_pipeline --pipeline review`,
	Args: cobra.ExactArgs(1),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		trigger, err := models.ParseEventKind(ruleOn)
		if err != nil {
			return err
		}
		action, err := models.ParseActionKind(ruleAction)
		if err != nil {
			return err
		}
		r := &models.Rule{
			Name:     args[0],
			Enabled:  !ruleDisabled,
			Priority: rulePriority,
			Trigger:  trigger,
			Filter:   ruleFilter,
			Action:   action,
			Params:   ruleParams,
		}
		if err := t.AddRule(scope(), r); err != nil {
			return err
		}
		fmt.Printf("Defined rule %s: on %s %s\n", r.Name, r.Trigger, r.Action)
		return nil
	}),
}

var ruleImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Define rules from a YAML file (- for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		data, err := readInput(args[0])
		if err != nil {
			return err
		}
		rs, err := t.ImportRules(scope(), data)
		if err != nil {
			return err
		}
		for _, r := range rs {
			fmt.Printf("Defined rule %s\n", r.Name)
		}
		return nil
	}),
}

func setRuleEnabled(enabled bool, verb string) func(*cobra.Command, []string) error {
	return withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		found, err := t.SetRuleEnabled(scope(), args[0], enabled)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("rule %q not found in the %s database", args[0], scope())
		}
		fmt.Printf("%s rule %s\n", verb, args[0])
		return nil
	})
}

var ruleEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  setRuleEnabled(true, "Enabled"),
}

var ruleDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  setRuleEnabled(false, "Disabled"),
}

var ruleRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove a rule",
	Args:  cobra.ExactArgs(1),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		removed, err := t.RemoveRule(scope(), args[0])
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("rule %q not found in the %s database", args[0], scope())
		}
		fmt.Printf("Removed rule %s\n", args[0])
		return nil
	}),
}

var ruleLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List rules",
	Args:  cobra.NoArgs,
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		rs, err := t.Rules(scope())
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(rs)
		}
		rows := make([][]string, 0, len(rs))
		for _, r := range rs {
			enabled := "yes"
			if !r.Enabled {
				enabled = "no"
			}
			rows = append(rows, []string{
				r.Name,
				string(r.Trigger),
				string(r.Action),
				strconv.Itoa(r.Priority),
				enabled,
			})
		}
		printTable([]string{"Name", "On", "Action", "Priority", "Enabled"}, rows)
		return nil
	}),
}

func init() {
	f := ruleAddCmd.Flags()
	f.StringVar(&ruleOn, "on", "", "Triggering event")
	f.StringVar(&ruleAction, "action", "", "Action to run")
	f.IntVar(&rulePriority, "priority", 0, "Lower runs first")
	f.BoolVar(&ruleDisabled, "disabled", false, "Define the rule disabled")
	f.StringVar(&ruleFilter.Category, "if-category", "", "Only files in this category")
	f.StringVar(&ruleFilter.MimeType, "if-mime", "", "Only files of this MIME type")
	f.StringVar(&ruleFilter.FileType, "if-type", "", "Only files with this extension")
	f.StringVar(&ruleFilter.Tag, "if-tag", "", "Only events for this tag")
	f.StringVar(&ruleFilter.Pipeline, "if-pipeline", "", "Only events for this pipeline")
	f.StringVar(&ruleFilter.Sign, "if-sign", "", "Only sign events for this state")
	f.StringVar(&ruleFilter.State, "if-state", "", "Only state changes into this state")
	f.StringVar(&ruleParams.Tool, "tool", "", "Tool action for run_tool")
	f.StringVar(&ruleParams.Tag, "tag", "", "Tag for add_tag, remove_tag and tag-scoped attach")
	f.StringVar(&ruleParams.Pipeline, "pipeline", "", "Pipeline for sign, unsign, attach and detach")
	f.StringVar(&ruleParams.State, "state", "", "State for sign and unsign")
	f.StringVar(&ruleParams.Signer, "signer", "", "Signer for sign and unsign")
	f.StringVar(&ruleParams.Category, "category", "", "Category for category-scoped attach and detach")
	_ = ruleAddCmd.MarkFlagRequired("on")
	_ = ruleAddCmd.MarkFlagRequired("action")

	for _, c := range []*cobra.Command{ruleAddCmd, ruleImportCmd, ruleEnableCmd, ruleDisableCmd, ruleRmCmd, ruleLsCmd} {
		scopeFlag(c)
	}

	ruleCmd.AddCommand(ruleAddCmd)
	ruleCmd.AddCommand(ruleImportCmd)
	ruleCmd.AddCommand(ruleEnableCmd)
	ruleCmd.AddCommand(ruleDisableCmd)
	ruleCmd.AddCommand(ruleRmCmd)
	ruleCmd.AddCommand(ruleLsCmd)
}
