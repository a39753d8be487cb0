package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/foiacquire/muckrake/pkg/custody"
	"github.com/foiacquire/muckrake/pkg/inbox"
	"github.com/foiacquire/muckrake/pkg/workspace"
)

var (
	inboxCategory string
	inboxProject  string
	inboxDebounce time.Duration
)

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Work with the workspace inbox",
	Long: `The inbox is a workspace directory where files are dropped before
anyone has decided which project they belong to. Assigning a file
ingests it into a project and removes it from the inbox.`,
}

// openInbox returns the workspace inbox and the context it came from.
func openInbox() (*inbox.Inbox, *workspace.Context, error) {
	wc, err := openContext()
	if err != nil {
		return nil, nil, err
	}
	dir, ok, err := wc.InboxDir()
	if err == nil && !ok {
		err = errors.New("this workspace has no inbox (create one with 'mkrk workspace init --inbox')")
	}
	if err != nil {
		_ = wc.Close()
		return nil, nil, err
	}
	return inbox.New(dir, logger), wc, nil
}

// projectTracker opens a tracker rooted at a workspace project, so files
// can be ingested into it from anywhere in the workspace.
func projectTracker(wc *workspace.Context, name string) (*custody.Tracker, func(), error) {
	h, err := wc.Project(name)
	if err != nil {
		return nil, nil, err
	}
	if h == nil {
		return nil, nil, fmt.Errorf("no project %q in this workspace", name)
	}
	pc, err := workspace.Load(h.Root, cfg.Cache, logger)
	if err != nil {
		return nil, nil, err
	}
	t, err := newTracker(pc)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	return t, func() { _ = pc.Close() }, nil
}

var inboxLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List files waiting in the inbox",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, wc, err := openInbox()
		if err != nil {
			return err
		}
		defer wc.Close()
		entries, err := b.List()
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(entries)
		}
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{e.Name, strconv.FormatInt(e.Size, 10), formatTime(e.ModTime)})
		}
		printTable([]string{"Name", "Size", "Modified"}, rows)
		return nil
	},
}

var inboxAssignCmd = &cobra.Command{
	Use:   "assign <file> <project>",
	Short: "Ingest an inbox file into a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, wc, err := openInbox()
		if err != nil {
			return err
		}
		defer wc.Close()
		t, done, err := projectTracker(wc, args[1])
		if err != nil {
			return err
		}
		defer done()

		f, err := b.Assign(cmd.Context(), args[0], t, inboxCategory)
		if err != nil {
			return err
		}
		if structured() {
			return printOutput(f)
		}
		fmt.Printf("assigned %s -> %s:%s\n", args[0], args[1], f.Path)
		return nil
	},
}

var inboxWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Report, or assign, files as they land in the inbox",
	Long: `Watch the inbox until interrupted. With --project each settled file is
assigned to that project, whose audit log is pruned on the configured
retention schedule while the watch runs; otherwise it is only reported.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, wc, err := openInbox()
		if err != nil {
			return err
		}
		defer wc.Close()

		var t *custody.Tracker
		if inboxProject != "" {
			pt, done, err := projectTracker(wc, inboxProject)
			if err != nil {
				return err
			}
			defer done()
			t = pt
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		var wg sync.WaitGroup
		defer func() {
			cancel()
			wg.Wait()
		}()
		if t != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := t.RunAuditRetention(ctx, custody.ScopeProject); err != nil {
					logger.Warn("audit retention not started", "error", err)
				}
			}()
		}

		return b.Watch(ctx, inboxDebounce, func(e inbox.Entry) {
			if t == nil {
				fmt.Printf("new %s (%d bytes)\n", e.Name, e.Size)
				return
			}
			f, err := b.Assign(ctx, e.Name, t, inboxCategory)
			if err != nil {
				logger.Error("assign inbox file", "file", e.Name, "error", err)
				return
			}
			fmt.Printf("assigned %s -> %s:%s\n", e.Name, inboxProject, f.Path)
		})
	},
}

func init() {
	inboxAssignCmd.Flags().StringVarP(&inboxCategory, "category", "c", "", "Category to place the file in")
	inboxWatchCmd.Flags().StringVarP(&inboxCategory, "category", "c", "", "Category to place assigned files in")
	inboxWatchCmd.Flags().StringVarP(&inboxProject, "project", "p", "", "Assign settled files to this project")
	inboxWatchCmd.Flags().DurationVar(&inboxDebounce, "debounce", inbox.DefaultDebounce, "How long a file must be quiet before it counts as settled")

	inboxCmd.AddCommand(inboxLsCmd)
	inboxCmd.AddCommand(inboxAssignCmd)
	inboxCmd.AddCommand(inboxWatchCmd)
}
