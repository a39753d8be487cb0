package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foiacquire/muckrake/pkg/custody"
	"github.com/foiacquire/muckrake/pkg/models"
)

var (
	ingestCategory string
	verifyFP       bool
	verifyBackfill bool
	readHeaders    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>...",
	Short: "Start tracking files",
	Long: `Hash and record files. Paths inside the project are tracked in place;
directories are walked. Files from outside the project are copied into
the directory of --category first.`,
	Args: cobra.MinimumNArgs(1),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		res, err := t.Ingest(cmd.Context(), custody.IngestRequest{
			Paths:    args,
			Category: ingestCategory,
		})
		if err != nil {
			return err
		}

		if structured() {
			if err := printOutput(struct {
				Ingested   []models.File `json:"ingested"`
				Updated    []models.File `json:"updated,omitempty"`
				Failed     []failureView `json:"failed,omitempty"`
				Rules      []firingView  `json:"rules,omitempty"`
				RuleErrors []failureView `json:"rule_errors,omitempty"`
			}{res.Ingested, res.Updated, failureViews(res.Failed), firingViews(res.Chains), failureViews(res.RuleErrors)}); err != nil {
				return err
			}
			return batchErr(res.Failed)
		}

		for _, f := range res.Ingested {
			fmt.Printf("ingested %s  %s\n", f.Path, truncate(f.SHA256, 16))
		}
		for _, f := range res.Updated {
			fmt.Printf("updated  %s  %s\n", f.Path, truncate(f.SHA256, 16))
		}
		printFirings(res.Chains)
		printFailures("rule error", res.RuleErrors)
		printFailures("failed", res.Failed)
		logger.Debug("ingest finished", "total", res.Summary.Total, "committed", res.Summary.Committed, "duration", res.Summary.Duration.String())
		return batchErr(res.Failed)
	}),
}

var untrackCmd = &cobra.Command{
	Use:   "untrack <ref>...",
	Short: "Stop tracking files",
	Long:  "Remove the referenced files' records, tags and signs. The files stay on disk.",
	Args:  cobra.MinimumNArgs(1),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		res, err := t.Untrack(cmd.Context(), args)
		if err != nil {
			return err
		}
		return printBatch("untracked", res)
	}),
}

var lsCmd = &cobra.Command{
	Use:   "ls [ref]...",
	Short: "List tracked files",
	Long: `List the files matched by the references, or every file in scope.

References are bare paths (evidence/a.pdf, a.pdf) or structured
references starting with ':' such as :evidence, :{evidence,notes},
:evidence!classified, :beta.evidence/*.pdf or :.!reviewed.`,
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		res, err := t.List(cmd.Context(), args)
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(res.Files)
		}
		rows := make([][]string, 0, len(res.Files))
		for _, f := range res.Files {
			rows = append(rows, []string{
				f.Project + ":" + f.Path,
				orDash(f.Category),
				string(f.Protection),
				strconv.FormatInt(f.Size, 10),
				orDash(strings.Join(f.Tags, ",")),
				truncate(f.SHA256, 12),
			})
		}
		printTable([]string{"Path", "Category", "Protection", "Size", "Tags", "SHA256"}, rows)
		printMismatches(res.Mismatches)
		return nil
	}),
}

var verifyCmd = &cobra.Command{
	Use:   "verify [ref]...",
	Short: "Check files against their recorded hashes",
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		var (
			res *custody.VerifyResult
			err error
		)
		if verifyBackfill {
			res, err = t.Backfill(cmd.Context())
		} else {
			res, err = t.Verify(cmd.Context(), args, verifyFP)
		}
		if err != nil {
			return err
		}

		failed := res.Failed()
		if structured() {
			if err := printOutput(res.Reports); err != nil {
				return err
			}
		} else {
			rows := make([][]string, 0, len(res.Reports))
			for _, r := range res.Reports {
				note := r.Warning
				if len(r.Changed) > 0 {
					note = fmt.Sprintf("%d chunk(s) changed", len(r.Changed))
				}
				rows = append(rows, []string{
					r.Project + ":" + r.Path,
					string(r.Status),
					string(r.Mode),
					string(r.Protection),
					orDash(note),
				})
			}
			printTable([]string{"Path", "Status", "Mode", "Protection", "Note"}, rows)
			if res.Backfilled > 0 {
				fmt.Printf("\n%d fingerprint(s) backfilled\n", res.Backfilled)
			}
		}
		if len(failed) > 0 {
			return fmt.Errorf("%d of %d file(s) failed verification", len(failed), len(res.Reports))
		}
		return nil
	}),
}

var tagCmd = &cobra.Command{
	Use:   "tag <ref>... <tag>",
	Short: "Tag files",
	Args:  cobra.MinimumNArgs(2),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		refs, tag := args[:len(args)-1], args[len(args)-1]
		res, err := t.Tag(cmd.Context(), refs, tag)
		if err != nil {
			return err
		}
		return printBatch("tagged", res)
	}),
}

var untagCmd = &cobra.Command{
	Use:   "untag <ref>... <tag>",
	Short: "Remove a tag from files",
	Args:  cobra.MinimumNArgs(2),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		refs, tag := args[:len(args)-1], args[len(args)-1]
		res, err := t.Untag(cmd.Context(), refs, tag)
		if err != nil {
			return err
		}
		return printBatch("untagged", res)
	}),
}

var tagsCmd = &cobra.Command{
	Use:   "tags [ref]...",
	Short: "List tags",
	Long:  "Without references, list every tag in the project with its file count. With references, list the tags on each file.",
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		if len(args) == 0 {
			counts, err := t.TagCounts()
			if err != nil {
				return err
			}
			if structured() {
				return printOutput(counts)
			}
			rows := make([][]string, 0, len(counts))
			for _, c := range counts {
				rows = append(rows, []string{c.Tag, strconv.Itoa(c.Files)})
			}
			printTable([]string{"Tag", "Files"}, rows)
			return nil
		}

		res, err := t.List(cmd.Context(), args)
		if err != nil {
			return err
		}
		if structured() {
			out := make(map[string][]string, len(res.Files))
			for _, f := range res.Files {
				out[f.Project+":"+f.Path] = f.Tags
			}
			return printOutput(out)
		}
		rows := make([][]string, 0, len(res.Files))
		for _, f := range res.Files {
			rows = append(rows, []string{f.Project + ":" + f.Path, orDash(strings.Join(f.Tags, ","))})
		}
		printTable([]string{"Path", "Tags"}, rows)
		printMismatches(res.Mismatches)
		return nil
	}),
}

var readCmd = &cobra.Command{
	Use:   "read <ref>...",
	Short: "Print the content of tracked files",
	Long: `Check each file against its recorded SHA-256 and print its content.
Protected and immutable files that no longer match are refused. With
--path each file is preceded by its reference and binary files are
summarized.`,
	Args: cobra.MinimumNArgs(1),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		out := bufio.NewWriter(os.Stdout)
		res, err := t.Read(cmd.Context(), custody.ReadRequest{
			Refs:    args,
			Out:     out,
			Headers: readHeaders,
		})
		if ferr := out.Flush(); err == nil {
			err = ferr
		}
		if err != nil {
			return err
		}
		printMismatches(res.Warnings)
		printFailures("refused", res.Failed)
		if len(res.Read) == 0 && len(res.Failed) == 0 {
			fmt.Fprintln(os.Stderr, "(no files)")
		}
		return batchErr(res.Failed)
	}),
}

var categorizeCmd = &cobra.Command{
	Use:   "categorize <ref>... <category>",
	Short: "Move editable files into a category",
	Args:  cobra.MinimumNArgs(2),
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		refs, name := args[:len(args)-1], args[len(args)-1]
		res, err := t.Categorize(cmd.Context(), refs, name)
		if err != nil {
			return err
		}
		return printBatch("moved", res)
	}),
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestCategory, "category", "c", "", "Category to copy external files into")
	verifyCmd.Flags().BoolVar(&verifyFP, "fingerprint", false, "Compare chunk fingerprints instead of full hashes")
	verifyCmd.Flags().BoolVar(&verifyBackfill, "backfill", false, "Fingerprint every file that has no fingerprint yet")
	readCmd.Flags().BoolVarP(&readHeaders, "path", "p", false, "Print each file's reference above its content")
}
