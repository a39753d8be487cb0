package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/spf13/cobra"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/custody"
	"github.com/foiacquire/muckrake/pkg/models"
)

func TestParseAttachScope(t *testing.T) {
	tests := []struct {
		in        string
		wantScope models.ScopeType
		wantValue string
		wantErr   bool
	}{
		{in: "category:evidence", wantScope: models.ScopeCategory, wantValue: "evidence"},
		{in: "tag:classified", wantScope: models.ScopeTag, wantValue: "classified"},
		{in: "tag:", wantErr: true},
		{in: "evidence", wantErr: true},
		{in: "project:alpha", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			scope, value, err := parseAttachScope(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseAttachScope(%q) succeeded, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseAttachScope(%q): %v", tt.in, err)
			}
			if scope != tt.wantScope || value != tt.wantValue {
				t.Errorf("parseAttachScope(%q) = %s, %s; want %s, %s", tt.in, scope, value, tt.wantScope, tt.wantValue)
			}
		})
	}
}

func TestParseEnv(t *testing.T) {
	env, err := parseEnv([]string{"LANG=C", "EMPTY="}, []string{"HTTP_PROXY"})
	if err != nil {
		t.Fatal(err)
	}
	if len(env) != 3 {
		t.Fatalf("got %d overrides, want 3", len(env))
	}
	if v := env["LANG"]; v == nil || *v != "C" {
		t.Errorf("LANG = %v, want C", v)
	}
	if v := env["EMPTY"]; v == nil || *v != "" {
		t.Errorf("EMPTY = %v, want empty string", v)
	}
	if v, ok := env["HTTP_PROXY"]; !ok || v != nil {
		t.Errorf("HTTP_PROXY should be present and nil")
	}

	if env, err := parseEnv(nil, nil); err != nil || env != nil {
		t.Errorf("no settings should give nil overrides, got %v, %v", env, err)
	}
	if _, err := parseEnv([]string{"=x"}, nil); err == nil {
		t.Error("empty key should fail")
	}
	if _, err := parseEnv([]string{"NOVALUE"}, nil); err == nil {
		t.Error("missing '=' should fail")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		s    string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"0123456789abcdef", 10, "0123456..."},
		{"abcdef", 3, "abc"},
	}
	for _, tt := range tests {
		if got := truncate(tt.s, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.s, tt.max, got, tt.want)
		}
	}
}

func TestBatchErr(t *testing.T) {
	if err := batchErr(nil); err != nil {
		t.Errorf("no failures should be nil, got %v", err)
	}

	denied := apierr.New(apierr.CodeEditDenied, "evidence/a.pdf is immutable")
	err := batchErr([]custody.Failure{{Path: "alpha:evidence/a.pdf", Err: denied}})
	if !apierr.Is(err, apierr.CodeEditDenied) {
		t.Errorf("single failure should keep its code, got %v", err)
	}

	err = batchErr([]custody.Failure{{Path: "a", Err: denied}, {Path: "b", Err: denied}})
	if err == nil || err.Error() != "2 file(s) failed" {
		t.Errorf("got %v, want a count", err)
	}
}

func TestExitCode(t *testing.T) {
	if got := exitCode(errors.New("boom")); got != 1 {
		t.Errorf("plain error exit = %d, want 1", got)
	}
	wrapped := fmt.Errorf("run: %w", &exitError{code: 3, msg: "ocr exited with status 3"})
	if got := exitCode(wrapped); got != 3 {
		t.Errorf("tool exit = %d, want 3", got)
	}
}

func TestFailureViews(t *testing.T) {
	views := failureViews([]custody.Failure{
		{Path: "alpha:notes/a.txt", Err: apierr.New(apierr.CodeNotFound, "gone")},
		{Path: "alpha:notes/b.txt", Err: errors.New("disk full")},
	})
	if views[0].Code != string(apierr.CodeNotFound) || views[0].Error != "gone" {
		t.Errorf("unexpected view %+v", views[0])
	}
	if views[1].Code != "" {
		t.Errorf("uncoded error should have no code, got %q", views[1].Code)
	}
}

func TestCommandTree(t *testing.T) {
	want := [][]string{
		{"init"},
		{"enter"},
		{"workspace", "init"}, {"workspace", "add-project"}, {"workspace", "projects"},
		{"ingest"}, {"untrack"}, {"ls"}, {"read"}, {"status"}, {"verify"},
		{"tag"}, {"untag"}, {"tags"}, {"categorize"},
		{"category", "add"}, {"category", "update"}, {"category", "rm"}, {"category", "ls"}, {"category", "classify"},
		{"pipeline", "add"}, {"pipeline", "import"}, {"pipeline", "rm"},
		{"pipeline", "attach"}, {"pipeline", "detach"}, {"pipeline", "ls"},
		{"sign"}, {"unsign"}, {"signs"}, {"state"},
		{"rule", "add"}, {"rule", "import"}, {"rule", "enable"}, {"rule", "disable"}, {"rule", "rm"}, {"rule", "ls"},
		{"tool", "add"}, {"tool", "ls"}, {"tool", "rm"}, {"tool", "run"},
		{"view"}, {"edit"},
		{"inbox", "ls"}, {"inbox", "assign"}, {"inbox", "watch"},
		{"audit", "ls"}, {"audit", "prune"},
	}
	for _, path := range want {
		cmd, rest, err := rootCmd.Find(path)
		if err != nil || len(rest) != 0 || cmd == rootCmd {
			t.Errorf("command %v not registered", path)
			continue
		}
		if cmd.Name() != path[len(path)-1] {
			t.Errorf("Find(%v) = %s", path, cmd.Name())
		}
	}
}

func TestScopedCommandsHaveWorkspaceFlag(t *testing.T) {
	for _, c := range []*cobra.Command{ruleAddCmd, ruleLsCmd, toolAddCmd, categoryAddCmd, auditLsCmd, auditPruneCmd} {
		if c.Flags().Lookup("workspace") == nil {
			t.Errorf("%s has no --workspace flag", c.CommandPath())
		}
	}
}
