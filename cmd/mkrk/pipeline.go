package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foiacquire/muckrake/pkg/custody"
	"github.com/foiacquire/muckrake/pkg/models"
	"github.com/foiacquire/muckrake/pkg/pipeline"
)

var (
	plStates   []string
	plGates    []string
	signPL     string
	signState  string
	signAs     string
	signDetach bool
	statePL    string
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Manage sign-off pipelines",
	Long: `A pipeline is an ordered list of states. Reaching a state takes the
signs its gate requires; a sign only counts while the file still hashes
to what was signed.`,
}

var pipelineAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Define a pipeline",
	Example: `  mkrk pipeline add review --states collected,reviewed,published \
      --gate reviewed=alice --gate published=alice,bob`,
	Args: cobra.ExactArgs(1),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		p := &models.Pipeline{Name: args[0], States: plStates}
		if len(plGates) > 0 {
			p.Transitions = models.Transitions{}
			for _, g := range plGates {
				state, signers, ok := strings.Cut(g, "=")
				if !ok || state == "" || signers == "" {
					return fmt.Errorf("invalid gate %q, expected state=signer[,signer...]", g)
				}
				p.Transitions[state] = strings.Split(signers, ",")
			}
		}
		if err := t.DefinePipeline(p); err != nil {
			return err
		}
		fmt.Printf("Defined pipeline %s: %s\n", p.Name, strings.Join(p.States, " -> "))
		return nil
	}),
}

var pipelineImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Define pipelines from a YAML file (- for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		data, err := readInput(args[0])
		if err != nil {
			return err
		}
		ps, err := t.ImportPipelines(data)
		if err != nil {
			return err
		}
		for _, p := range ps {
			fmt.Printf("Defined pipeline %s\n", p.Name)
		}
		return nil
	}),
}

var pipelineRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove a pipeline with its attachments and signs",
	Args:  cobra.ExactArgs(1),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		if err := t.RemovePipeline(args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed pipeline %s\n", args[0])
		return nil
	}),
}

var pipelineAttachCmd = &cobra.Command{
	Use:   "attach <pipeline> <category:name|tag:label>",
	Short: "Attach a pipeline to a category or tag",
	Args:  cobra.ExactArgs(2),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		st, value, err := parseAttachScope(args[1])
		if err != nil {
			return err
		}
		added, err := t.AttachPipeline(args[0], st, value)
		if err != nil {
			return err
		}
		if !added {
			fmt.Printf("%s is already attached to %s\n", args[0], args[1])
			return nil
		}
		fmt.Printf("Attached %s to %s\n", args[0], args[1])
		return nil
	}),
}

var pipelineDetachCmd = &cobra.Command{
	Use:   "detach <pipeline> <category:name|tag:label>",
	Short: "Detach a pipeline from a category or tag",
	Args:  cobra.ExactArgs(2),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		st, value, err := parseAttachScope(args[1])
		if err != nil {
			return err
		}
		removed, err := t.DetachPipeline(args[0], st, value)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%s is not attached to %s", args[0], args[1])
		}
		fmt.Printf("Detached %s from %s\n", args[0], args[1])
		return nil
	}),
}

var pipelineLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List pipelines",
	Args:  cobra.NoArgs,
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		views, err := t.Pipelines()
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(views)
		}
		rows := make([][]string, 0, len(views))
		for _, p := range views {
			rows = append(rows, []string{p.Name, strings.Join(p.States, " -> "), orDash(strings.Join(p.Attached, ", "))})
		}
		printTable([]string{"Name", "States", "Attached"}, rows)
		return nil
	}),
}

var signCmd = &cobra.Command{
	Use:   "sign <ref>...",
	Short: "Sign files into a pipeline state",
	Args:  cobra.MinimumNArgs(1),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		signer := signAs
		if signer == "" && cfg.Signer == "" {
			signer = cfg.Actor
		}
		res, err := t.Sign(cmd.Context(), args, pipeline.SignRequest{
			Pipeline: signPL,
			State:    signState,
			Signer:   signer,
			Detached: signDetach,
		})
		if err != nil {
			return err
		}
		return printBatch("signed", res)
	}),
}

var unsignCmd = &cobra.Command{
	Use:   "unsign <ref>...",
	Short: "Revoke signs on a pipeline state",
	Long:  "Revoke the signs for a state. Without --as every signer's sign for the state is revoked.",
	Args:  cobra.MinimumNArgs(1),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		if signPL == "" || signState == "" {
			return fmt.Errorf("unsign needs --pipeline and --state")
		}
		res, err := t.Unsign(cmd.Context(), args, signPL, signState, signAs)
		if err != nil {
			return err
		}
		return printBatch("unsigned", res)
	}),
}

var stateCmd = &cobra.Command{
	Use:   "state <ref>...",
	Short: "Show files' pipeline states",
	Args:  cobra.MinimumNArgs(1),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		views, failed, err := t.State(cmd.Context(), args, statePL)
		if err != nil {
			return err
		}
		if structured() {
			if err := printOutput(struct {
				Files  []custody.StateView `json:"files" yaml:"files"`
				Failed []failureView       `json:"failed,omitempty" yaml:"failed,omitempty"`
			}{views, failureViews(failed)}); err != nil {
				return err
			}
			return batchErr(failed)
		}
		var rows [][]string
		for _, v := range views {
			for _, s := range v.States {
				var missing []string
				for _, g := range s.Gates {
					if g.State == s.Next {
						missing = g.Missing
					}
				}
				stale := "-"
				if len(s.Stale) > 0 {
					stale = fmt.Sprintf("%d", len(s.Stale))
				}
				rows = append(rows, []string{
					v.Project + ":" + v.Path,
					s.Pipeline,
					s.Current,
					orDash(s.Next),
					orDash(strings.Join(missing, ",")),
					stale,
				})
			}
		}
		printTable([]string{"Path", "Pipeline", "State", "Next", "Needs", "Stale"}, rows)
		printFailures("state", failed)
		return batchErr(failed)
	}),
}

var signsCmd = &cobra.Command{
	Use:   "signs [ref]...",
	Short: "List signs on files",
	Long:  "List every sign on the referenced files, or on every file in scope. Signs made on content that has since been re-ingested are stale.",
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		signs, err := t.Signs(cmd.Context(), args)
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(signs)
		}
		if len(signs) == 0 {
			fmt.Fprintln(os.Stderr, "No signs found")
			return nil
		}
		rows := make([][]string, 0, len(signs))
		for _, s := range signs {
			rows = append(rows, []string{
				s.Project + ":" + s.Path,
				s.Pipeline,
				s.State,
				s.Signer,
				formatTime(s.SignedAt),
				s.Standing,
			})
		}
		printTable([]string{"Path", "Pipeline", "State", "Signer", "Signed", "Standing"}, rows)
		return nil
	}),
}

// parseAttachScope splits "category:evidence" or "tag:classified".
func parseAttachScope(s string) (models.ScopeType, string, error) {
	kind, value, ok := strings.Cut(s, ":")
	if ok && value != "" {
		switch models.ScopeType(kind) {
		case models.ScopeCategory, models.ScopeTag:
			return models.ScopeType(kind), value, nil
		}
	}
	return "", "", fmt.Errorf("invalid scope %q, expected category:<name> or tag:<label>", s)
}

func readInput(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}

func init() {
	pipelineAddCmd.Flags().StringSliceVar(&plStates, "states", nil, "Ordered state names")
	pipelineAddCmd.Flags().StringArrayVar(&plGates, "gate", nil, "Required signers for a state, as state=signer[,signer...] (repeatable)")
	_ = pipelineAddCmd.MarkFlagRequired("states")

	for _, c := range []*cobra.Command{signCmd, unsignCmd} {
		c.Flags().StringVarP(&signPL, "pipeline", "p", "", "Pipeline name")
		c.Flags().StringVarP(&signState, "state", "s", "", "State to sign")
		c.Flags().StringVar(&signAs, "as", "", "Signer name")
	}
	signCmd.Flags().BoolVar(&signDetach, "detached", false, "Add an OpenPGP detached signature")
	stateCmd.Flags().StringVarP(&statePL, "pipeline", "p", "", "Only this pipeline")

	pipelineCmd.AddCommand(pipelineAddCmd)
	pipelineCmd.AddCommand(pipelineImportCmd)
	pipelineCmd.AddCommand(pipelineRmCmd)
	pipelineCmd.AddCommand(pipelineAttachCmd)
	pipelineCmd.AddCommand(pipelineDetachCmd)
	pipelineCmd.AddCommand(pipelineLsCmd)
}
