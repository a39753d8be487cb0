package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foiacquire/muckrake/pkg/audit"
	"github.com/foiacquire/muckrake/pkg/custody"
)

var (
	auditOp     string
	auditChain  string
	auditFileID uint
	auditLimit  int
	auditPage   string
	auditDays   int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit log",
}

var auditLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List audit events, newest first",
	Args:  cobra.NoArgs,
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		f := audit.Filter{
			Operation: auditOp,
			ChainID:   auditChain,
			PageSize:  auditLimit,
			PageToken: auditPage,
		}
		if cmd.Flags().Changed("file-id") {
			id := auditFileID
			f.FileID = &id
		}
		events, next, total, err := t.AuditLog(scope(), f)
		if err != nil {
			return err
		}

		if structured() {
			return printOutput(struct {
				Events        any    `json:"events"`
				NextPageToken string `json:"next_page_token,omitempty"`
				Total         int    `json:"total"`
			}{events, next, total})
		}

		rows := make([][]string, 0, len(events))
		for _, e := range events {
			detail := "-"
			if len(e.Detail) > 0 {
				if b, err := json.Marshal(e.Detail); err == nil {
					detail = truncate(string(b), 60)
				}
			}
			rows = append(rows, []string{
				formatTime(e.CreatedAt),
				e.Operation,
				orDash(e.Path),
				e.Actor,
				truncate(orDash(e.ChainID), 8),
				detail,
			})
		}
		printTable([]string{"Time", "Operation", "Path", "Actor", "Chain", "Detail"}, rows)
		if next != "" {
			fmt.Printf("\nShowing %d of %d events. Next page: --page %s\n", len(events), total, next)
		}
		return nil
	}),
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audit events older than the retention period",
	Args:  cobra.NoArgs,
	RunE: withTracker(func(cmd *cobra.Command, t *custody.Tracker, args []string) error {
		n, err := t.PruneAudit(scope(), auditDays)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d audit event(s)\n", n)
		return nil
	}),
}

func init() {
	auditLsCmd.Flags().StringVar(&auditOp, "op", "", "Only this operation")
	auditLsCmd.Flags().StringVar(&auditChain, "chain", "", "Only events of this rule chain")
	auditLsCmd.Flags().UintVar(&auditFileID, "file-id", 0, "Only events for this file id")
	auditLsCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "Events per page (max 100)")
	auditLsCmd.Flags().StringVar(&auditPage, "page", "", "Page token from a previous listing")
	scopeFlag(auditLsCmd)

	auditPruneCmd.Flags().IntVar(&auditDays, "days", 0, "Keep this many days (default: audit.retention_days)")
	scopeFlag(auditPruneCmd)

	auditCmd.AddCommand(auditLsCmd)
	auditCmd.AddCommand(auditPruneCmd)
}
