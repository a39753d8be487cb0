package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/custody"
	"github.com/foiacquire/muckrake/pkg/rules"
)

func structured() bool {
	return outputFmt == "json" || outputFmt == "yaml"
}

func printOutput(v any) error {
	switch outputFmt {
	case "json":
		return printJSON(v)
	case "yaml":
		return printYAML(v)
	default:
		return fmt.Errorf("unsupported output format for structured data: %s (use json or yaml)", outputFmt)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(v any) error {
	// Convert through JSON to get consistent keys (json tags).
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	return enc.Encode(m)
}

func printTable(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)

	upperHeaders := make([]string, len(headers))
	for i, h := range headers {
		upperHeaders[i] = strings.ToUpper(h)
	}
	fmt.Fprintln(w, strings.Join(upperHeaders, "\t"))

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	w.Flush()
}

// truncate shortens a string to max length, appending "..." if truncated.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// failureView is a Failure with its error flattened for json and yaml.
type failureView struct {
	Path  string `json:"path"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

func failureViews(fs []custody.Failure) []failureView {
	out := make([]failureView, len(fs))
	for i, f := range fs {
		out[i] = failureView{Path: f.Path, Code: string(apierr.CodeOf(f.Err)), Error: f.Err.Error()}
	}
	return out
}

type firingView struct {
	Chain  string `json:"chain"`
	Rule   string `json:"rule"`
	Origin string `json:"origin"`
	Event  string `json:"event"`
	Action string `json:"action"`
	Depth  int    `json:"depth"`
	Error  string `json:"error,omitempty"`
}

func firingViews(chains []rules.Outcome) []firingView {
	var out []firingView
	for _, c := range chains {
		for _, f := range c.Fired {
			fv := firingView{
				Chain:  c.ChainID,
				Rule:   f.Rule,
				Origin: f.Origin,
				Event:  string(f.Kind),
				Action: string(f.Action),
				Depth:  f.Depth,
			}
			if f.Err != nil {
				fv.Error = f.Err.Error()
			}
			out = append(out, fv)
		}
	}
	return out
}

type mismatchView struct {
	Project string `json:"project"`
	Path    string `json:"path"`
	Status  string `json:"status"`
}

func mismatchViews(reports []custody.FileReport) []mismatchView {
	out := make([]mismatchView, len(reports))
	for i, r := range reports {
		out[i] = mismatchView{Project: r.Project, Path: r.Path, Status: string(r.Status)}
	}
	return out
}

// batchView is the structured form of a custody.BatchResult.
type batchView struct {
	Changed    []string       `json:"changed"`
	Unchanged  []string       `json:"unchanged,omitempty"`
	Failed     []failureView  `json:"failed,omitempty"`
	Mismatches []mismatchView `json:"mismatches,omitempty"`
	Rules      []firingView   `json:"rules,omitempty"`
	RuleErrors []failureView  `json:"rule_errors,omitempty"`
}

// printBatch reports a batch operation and returns an error when any file
// failed, so the exit status reflects partial failure.
func printBatch(verb string, r *custody.BatchResult) error {
	if structured() {
		if err := printOutput(batchView{
			Changed:    r.Changed,
			Unchanged:  r.Unchanged,
			Failed:     failureViews(r.Failed),
			Mismatches: mismatchViews(r.Mismatches),
			Rules:      firingViews(r.Chains),
			RuleErrors: failureViews(r.RuleErrors),
		}); err != nil {
			return err
		}
		return batchErr(r.Failed)
	}

	for _, p := range r.Changed {
		fmt.Printf("%s %s\n", verb, p)
	}
	if len(r.Unchanged) > 0 {
		fmt.Printf("%d file(s) already up to date\n", len(r.Unchanged))
	}
	printMismatches(r.Mismatches)
	printFirings(r.Chains)
	printFailures("rule error", r.RuleErrors)
	printFailures("failed", r.Failed)
	return batchErr(r.Failed)
}

func printMismatches(reports []custody.FileReport) {
	for _, m := range reports {
		fmt.Fprintf(os.Stderr, "warning: %s:%s is %s since it was tagged\n", m.Project, m.Path, m.Status)
	}
}

func printFirings(chains []rules.Outcome) {
	for _, f := range firingViews(chains) {
		if f.Error != "" {
			continue
		}
		fmt.Printf("  rule %s: %s on %s\n", f.Rule, f.Action, f.Event)
	}
}

func printFailures(label string, fs []custody.Failure) {
	for _, f := range fs {
		fmt.Fprintf(os.Stderr, "%s: %s: %v\n", label, f.Path, f.Err)
	}
}

func batchErr(fs []custody.Failure) error {
	if len(fs) == 0 {
		return nil
	}
	if len(fs) == 1 {
		return fs[0].Err
	}
	return fmt.Errorf("%d file(s) failed", len(fs))
}

// exitError carries a child process exit status out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) && ee.code > 0 {
		return ee.code
	}
	return 1
}
