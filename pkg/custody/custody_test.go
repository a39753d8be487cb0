package custody

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/audit"
	"github.com/foiacquire/muckrake/pkg/inbox"
	"github.com/foiacquire/muckrake/pkg/integrity"
	"github.com/foiacquire/muckrake/pkg/models"
	"github.com/foiacquire/muckrake/pkg/pipeline"
	"github.com/foiacquire/muckrake/pkg/workspace"
)

type fixture struct {
	t     *testing.T
	tr    *Tracker
	root  string
	flags *integrity.MemoryFlags
}

// newFixture creates a standalone project with the default categories.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := filepath.Join(t.TempDir(), "alpha")
	_, err := workspace.InitProject(root, workspace.ProjectOptions{}, nil)
	require.NoError(t, err)

	wc, err := workspace.Load(root, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = wc.Close() })

	flags := integrity.NewMemoryFlags()
	tr := New(wc, Options{
		Actor:     "tester",
		Flags:     flags,
		HashCheck: true,
		Getenv:    func(string) string { return "" },
	}, nil)
	return &fixture{t: t, tr: tr, root: root, flags: flags}
}

func (fx *fixture) write(rel, content string) string {
	fx.t.Helper()
	p := filepath.Join(fx.root, filepath.FromSlash(rel))
	require.NoError(fx.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(fx.t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func (fx *fixture) ingest(rels ...string) *IngestResult {
	fx.t.Helper()
	var paths []string
	for _, r := range rels {
		paths = append(paths, filepath.Join(fx.root, filepath.FromSlash(r)))
	}
	res, err := fx.tr.Ingest(context.Background(), IngestRequest{Paths: paths})
	require.NoError(fx.t, err)
	require.Empty(fx.t, res.Failed)
	return res
}

func (fx *fixture) file(rel string) *models.File {
	fx.t.Helper()
	f, err := fx.tr.Context().Current().Store.FileByPath(rel)
	require.NoError(fx.t, err)
	return f
}

func (fx *fixture) tags(rel string) []string {
	fx.t.Helper()
	f := fx.file(rel)
	require.NotNil(fx.t, f)
	labels, err := fx.tr.Context().Current().Store.TagLabels(f.ID)
	require.NoError(fx.t, err)
	return labels
}

func (fx *fixture) auditOps(op string) []models.AuditEvent {
	fx.t.Helper()
	events, _, _, err := fx.tr.AuditLog(ScopeProject, audit.Filter{Operation: op, PageSize: 500})
	require.NoError(fx.t, err)
	return events
}

func TestIngest_ProjectDirectory(t *testing.T) {
	fx := newFixture(t)
	fx.write("evidence/a.txt", "alpha")
	fx.write("notes/b.txt", "beta")
	fx.write("notes/.hidden", "skip me")

	res, err := fx.tr.Ingest(context.Background(), IngestRequest{Paths: []string{fx.root}})
	require.NoError(t, err)
	assert.Empty(t, res.Failed)
	assert.Len(t, res.Ingested, 2)
	assert.Equal(t, 2, res.Summary.Committed)

	a := fx.file("evidence/a.txt")
	require.NotNil(t, a)
	assert.Equal(t, "a.txt", a.Name)
	assert.Equal(t, int64(5), a.Size)
	assert.Equal(t, models.MethodIngest, a.ProvenanceMethod)
	assert.NotEmpty(t, a.SHA256)
	assert.False(t, a.Fingerprint.IsZero())
	assert.Nil(t, fx.file("notes/.hidden"))

	set, _ := fx.flags.IsSet(filepath.Join(fx.root, "evidence", "a.txt"))
	assert.True(t, set, "immutable files get the flag")
	set, _ = fx.flags.IsSet(filepath.Join(fx.root, "notes", "b.txt"))
	assert.False(t, set)

	assert.Len(t, fx.auditOps(audit.OpIngest), 2)
}

func TestIngest_ExternalCopy(t *testing.T) {
	fx := newFixture(t)
	ext := filepath.Join(t.TempDir(), "leak.pdf")
	require.NoError(t, os.WriteFile(ext, []byte("%PDF-1.4 leaked"), 0o644))

	res, err := fx.tr.Ingest(context.Background(), IngestRequest{Paths: []string{ext}, Category: "sources"})
	require.NoError(t, err)
	require.Len(t, res.Ingested, 1)

	f := res.Ingested[0]
	assert.Equal(t, "sources/leak.pdf", f.Path)
	assert.Equal(t, models.MethodCopy, f.ProvenanceMethod)
	assert.Equal(t, ext, f.ProvenanceSource)
	_, err = os.Stat(filepath.Join(fx.root, "sources", "leak.pdf"))
	require.NoError(t, err)

	again, err := fx.tr.Ingest(context.Background(), IngestRequest{Paths: []string{ext}, Category: "sources"})
	require.NoError(t, err)
	require.Len(t, again.Failed, 1)
	assert.True(t, apierr.Is(again.Failed[0].Err, apierr.CodeEditDenied), "re-copying over an immutable file is denied")

	_, err = fx.tr.Ingest(context.Background(), IngestRequest{Paths: []string{ext}, Category: "nope"})
	assert.True(t, apierr.Is(err, apierr.CodeUnknownScope))
}

func TestIngest_FailedCommitRemovesCopies(t *testing.T) {
	fx := newFixture(t)
	src := filepath.Join(t.TempDir(), "batch")
	require.NoError(t, os.MkdirAll(src, 0o755))
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		require.NoError(t, os.WriteFile(filepath.Join(src, name), []byte("content of "+name), 0o644))
	}

	db := fx.tr.Context().Current().Store.DB()
	require.NoError(t, db.Exec(`CREATE TRIGGER refuse_files BEFORE INSERT ON files
BEGIN SELECT RAISE(ABORT, 'disk full'); END`).Error)

	_, err := fx.tr.Ingest(context.Background(), IngestRequest{Paths: []string{src}, Category: "sources"})
	require.Error(t, err)
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		_, statErr := os.Stat(filepath.Join(fx.root, "sources", "batch", name))
		assert.True(t, os.IsNotExist(statErr), "%s left behind after a failed commit", name)
	}

	require.NoError(t, db.Exec("DROP TRIGGER refuse_files").Error)
	res, err := fx.tr.Ingest(context.Background(), IngestRequest{Paths: []string{src}, Category: "sources"})
	require.NoError(t, err)
	assert.Empty(t, res.Failed)
	assert.Len(t, res.Ingested, 3)
}

func TestIngest_Reingest(t *testing.T) {
	fx := newFixture(t)
	fx.write("evidence/a.txt", "alpha")
	fx.write("notes/b.txt", "beta")
	fx.ingest("evidence/a.txt", "notes/b.txt")
	before := fx.file("notes/b.txt").SHA256

	fx.write("notes/b.txt", "beta, revised")
	fx.write("evidence/a.txt", "tampered")

	res, err := fx.tr.Ingest(context.Background(), IngestRequest{Paths: []string{
		filepath.Join(fx.root, "notes", "b.txt"),
		filepath.Join(fx.root, "evidence", "a.txt"),
	}})
	require.NoError(t, err)
	require.Len(t, res.Updated, 1)
	assert.Equal(t, "notes/b.txt", res.Updated[0].Path)
	assert.NotEqual(t, before, fx.file("notes/b.txt").SHA256)

	require.Len(t, res.Failed, 1)
	assert.True(t, apierr.Is(res.Failed[0].Err, apierr.CodeEditDenied))
	assert.Len(t, fx.auditOps(audit.OpEditDenied), 1)
	assert.Len(t, fx.auditOps(audit.OpReingest), 1)
}

func TestTagAndUntag(t *testing.T) {
	fx := newFixture(t)
	fx.write("evidence/a.txt", "alpha")
	fx.ingest("evidence/a.txt")
	ctx := context.Background()

	res, err := fx.tr.Tag(ctx, []string{"a.txt"}, "classified")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha:evidence/a.txt"}, res.Changed)
	assert.Equal(t, []string{"classified"}, fx.tags("evidence/a.txt"))

	res, err = fx.tr.Tag(ctx, []string{"a.txt"}, "classified")
	require.NoError(t, err)
	assert.Empty(t, res.Changed)
	assert.Len(t, res.Unchanged, 1)
	assert.Len(t, fx.auditOps(audit.OpTag), 1, "re-tagging is not an event")

	_, err = fx.tr.Tag(ctx, []string{"a.txt"}, "bad tag")
	assert.True(t, apierr.Is(err, apierr.CodeInvalidName))

	res, err = fx.tr.Untag(ctx, []string{":!classified"}, "classified")
	require.NoError(t, err)
	assert.Len(t, res.Changed, 1)
	assert.Empty(t, fx.tags("evidence/a.txt"))
}

func TestResolve_HashCheckOnTagScope(t *testing.T) {
	fx := newFixture(t)
	fx.write("notes/b.txt", "beta")
	fx.ingest("notes/b.txt")
	ctx := context.Background()
	_, err := fx.tr.Tag(ctx, []string{"b.txt"}, "draft")
	require.NoError(t, err)

	fx.write("notes/b.txt", "changed behind our back")
	out, err := fx.tr.List(ctx, []string{":!draft"})
	require.NoError(t, err)
	require.Len(t, out.Files, 1, "mismatched files are still listed")
	require.Len(t, out.Mismatches, 1)
	assert.Equal(t, integrity.StatusModified, out.Mismatches[0].Status)

	out, err = fx.tr.List(ctx, []string{":notes"})
	require.NoError(t, err)
	assert.Empty(t, out.Mismatches, "only tag-scoped references are checked")
	assert.Equal(t, models.ProtectionEditable, out.Files[0].Protection)
	assert.Equal(t, "notes", out.Files[0].Category)
}

func TestCategorize(t *testing.T) {
	fx := newFixture(t)
	fx.write("notes/draft.txt", "draft")
	fx.write("evidence/a.txt", "alpha")
	fx.ingest("notes/draft.txt", "evidence/a.txt")
	ctx := context.Background()

	res, err := fx.tr.Categorize(ctx, []string{"draft.txt"}, "analysis")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha:notes/draft.txt"}, res.Changed)
	assert.Nil(t, fx.file("notes/draft.txt"))
	require.NotNil(t, fx.file("analysis/draft.txt"))
	_, err = os.Stat(filepath.Join(fx.root, "analysis", "draft.txt"))
	require.NoError(t, err)

	res, err = fx.tr.Categorize(ctx, []string{"a.txt"}, "notes")
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.True(t, apierr.Is(res.Failed[0].Err, apierr.CodeEditDenied))
	require.NotNil(t, fx.file("evidence/a.txt"))
}

func TestCheckEditableAndClassify(t *testing.T) {
	fx := newFixture(t)

	assert.NoError(t, fx.tr.CheckEditable("notes/x.txt"))
	err := fx.tr.CheckEditable("evidence/x.txt")
	assert.True(t, apierr.Is(err, apierr.CodeEditDenied))

	c, err := fx.tr.Classify("analysis/sub/report.md")
	require.NoError(t, err)
	assert.Equal(t, models.ProtectionProtected, c.Protection)
	assert.Equal(t, "analysis", c.Category)

	_, err = fx.tr.DefineCategory(ScopeProject, models.Category{Pattern: "evidence/scratch/**", Protection: models.ProtectionEditable})
	assert.True(t, apierr.Is(err, apierr.CodeLoosensProtection))

	_, err = fx.tr.DefineCategory(ScopeProject, models.Category{Pattern: "notes/sealed/**", Protection: models.ProtectionImmutable})
	require.NoError(t, err)
	c, err = fx.tr.Classify("notes/sealed/x.txt")
	require.NoError(t, err)
	assert.Equal(t, models.ProtectionImmutable, c.Protection, "new categories apply immediately")
}

func TestCheckEditable_UsesCachedCategories(t *testing.T) {
	fx := newFixture(t)
	u, err := fx.tr.current()
	require.NoError(t, err)
	require.NotNil(t, u.cats)

	require.NoError(t, fx.tr.CheckEditable("drafts/x.txt"))
	assert.Equal(t, models.ProtectionEditable, u.protection("drafts/x.txt"))

	_, err = fx.tr.DefineCategory(ScopeProject, models.Category{Pattern: "drafts/**", Protection: models.ProtectionImmutable})
	require.NoError(t, err)

	err = fx.tr.CheckEditable("drafts/x.txt")
	assert.True(t, apierr.Is(err, apierr.CodeEditDenied), "category change must drop cached levels")
	assert.Equal(t, models.ProtectionImmutable, u.protection("drafts/x.txt"))
}

func TestRules_FireOnIngest(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.tr.AddRule(ScopeProject, &models.Rule{
		Name:    "mark-raw",
		Enabled: true,
		Trigger: models.EventIngest,
		Filter:  models.TriggerFilter{Category: "evidence"},
		Action:  models.ActionAddTag,
		Params:  models.ActionParams{Tag: "raw"},
	}))
	require.NoError(t, fx.tr.AddRule(ScopeProject, &models.Rule{
		Name:     "then-queue",
		Enabled:  true,
		Priority: 1,
		Trigger:  models.EventTag,
		Filter:   models.TriggerFilter{Tag: "raw"},
		Action:   models.ActionAddTag,
		Params:   models.ActionParams{Tag: "queued"},
	}))
	fx.write("evidence/a.txt", "alpha")
	fx.write("notes/b.txt", "beta")

	res := fx.ingest("evidence/a.txt", "notes/b.txt")
	assert.Empty(t, res.RuleErrors)
	assert.ElementsMatch(t, []string{"queued", "raw"}, fx.tags("evidence/a.txt"))
	assert.Empty(t, fx.tags("notes/b.txt"))

	fired := fx.auditOps(audit.OpRuleFired)
	require.Len(t, fired, 2)
	assert.Equal(t, fired[0].ChainID, fired[1].ChainID, "derived firings share the chain")
	tagged := fx.auditOps(audit.OpTag)
	require.Len(t, tagged, 2)
	assert.Equal(t, fired[0].ChainID, tagged[0].ChainID)

	ok, err := fx.tr.SetRuleEnabled(ScopeProject, "mark-raw", false)
	require.NoError(t, err)
	assert.True(t, ok)
	fx.write("evidence/c.txt", "gamma")
	fx.ingest("evidence/c.txt")
	assert.Empty(t, fx.tags("evidence/c.txt"))

	_, err = fx.tr.SetRuleEnabled(ScopeWorkspace, "mark-raw", true)
	assert.Error(t, err, "standalone projects have no workspace rules")
}

func TestImportRules_ValidatesAll(t *testing.T) {
	fx := newFixture(t)
	doc := []byte(`
rules:
  - name: good
    trigger: tag
    action: add_tag
    params:
      tag: seen
  - name: bad
    trigger: tag
    action: add_tag
`)
	_, err := fx.tr.ImportRules(ScopeProject, doc)
	require.Error(t, err)
	list, err := fx.tr.Rules(ScopeProject)
	require.NoError(t, err)
	assert.Empty(t, list, "nothing is stored when one rule is invalid")
}

func TestImportRules_StoresAllOrNothing(t *testing.T) {
	fx := newFixture(t)
	db := fx.tr.Context().Current().Store.DB()
	require.NoError(t, db.Exec(`CREATE TRIGGER refuse_second BEFORE INSERT ON rules
WHEN NEW.name = 'second' BEGIN SELECT RAISE(ABORT, 'disk full'); END`).Error)

	doc := []byte(`
rules:
  - name: first
    trigger: tag
    action: add_tag
    params:
      tag: seen
  - name: second
    trigger: tag
    action: add_tag
    params:
      tag: seen
  - name: third
    trigger: tag
    action: add_tag
    params:
      tag: seen
`)
	_, err := fx.tr.ImportRules(ScopeProject, doc)
	require.Error(t, err)
	list, err := fx.tr.Rules(ScopeProject)
	require.NoError(t, err)
	assert.Empty(t, list, "rules stored before the failure are rolled back")
	assert.Empty(t, fx.auditOps(audit.OpRuleChange))

	require.NoError(t, db.Exec("DROP TRIGGER refuse_second").Error)
	imported, err := fx.tr.ImportRules(ScopeProject, doc)
	require.NoError(t, err)
	assert.Len(t, imported, 3)
	assert.Len(t, fx.auditOps(audit.OpRuleChange), 3)
}

func definePipeline(t *testing.T, fx *fixture) {
	t.Helper()
	require.NoError(t, fx.tr.DefinePipeline(&models.Pipeline{
		Name:        "review",
		States:      models.JSONStringSlice{"draft", "checked", "published"},
		Transitions: models.Transitions{"published": {"alice", "bob"}},
	}))
	added, err := fx.tr.AttachPipeline("review", models.ScopeCategory, "evidence")
	require.NoError(t, err)
	assert.True(t, added)
}

func TestSign_AdvancesStateAndEmitsStateChange(t *testing.T) {
	fx := newFixture(t)
	definePipeline(t, fx)
	require.NoError(t, fx.tr.AddRule(ScopeProject, &models.Rule{
		Name:    "on-checked",
		Enabled: true,
		Trigger: models.EventStateChange,
		Filter:  models.TriggerFilter{Pipeline: "review", State: "checked"},
		Action:  models.ActionAddTag,
		Params:  models.ActionParams{Tag: "checked"},
	}))
	fx.write("evidence/a.txt", "alpha")
	fx.write("notes/b.txt", "beta")
	fx.ingest("evidence/a.txt", "notes/b.txt")
	ctx := context.Background()

	res, err := fx.tr.Sign(ctx, []string{"a.txt"}, pipeline.SignRequest{Pipeline: "review", State: "checked", Signer: "carol"})
	require.NoError(t, err)
	assert.Len(t, res.Changed, 1)
	assert.Equal(t, []string{"checked"}, fx.tags("evidence/a.txt"))

	res, err = fx.tr.Sign(ctx, []string{"a.txt"}, pipeline.SignRequest{Pipeline: "review", State: "checked", Signer: "carol"})
	require.NoError(t, err)
	assert.Len(t, res.Unchanged, 1, "a repeated valid sign is idempotent")

	states, failed, err := fx.tr.State(ctx, []string{"a.txt"}, "")
	require.NoError(t, err)
	assert.Empty(t, failed)
	require.Len(t, states, 1)
	require.Len(t, states[0].States, 1)
	st := states[0].States[0]
	assert.Equal(t, "checked", st.Current)
	assert.Equal(t, "published", st.Next)

	res, err = fx.tr.Sign(ctx, []string{"b.txt"}, pipeline.SignRequest{Pipeline: "review", State: "checked", Signer: "carol"})
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.True(t, apierr.Is(res.Failed[0].Err, apierr.CodeNotAttached))

	res, err = fx.tr.Sign(ctx, []string{"a.txt"}, pipeline.SignRequest{Pipeline: "review", State: "nope", Signer: "carol"})
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.True(t, apierr.Is(res.Failed[0].Err, apierr.CodeUnknownState))

	res, err = fx.tr.Unsign(ctx, []string{"a.txt"}, "review", "checked", "")
	require.NoError(t, err)
	assert.Len(t, res.Changed, 1)
	states, _, err = fx.tr.State(ctx, []string{"a.txt"}, "review")
	require.NoError(t, err)
	assert.Equal(t, "draft", states[0].States[0].Current)
}

func TestState_ReportsPerFileFailures(t *testing.T) {
	fx := newFixture(t)
	definePipeline(t, fx)
	fx.write("evidence/a.txt", "alpha")
	fx.write("evidence/b.txt", "beta")
	fx.ingest("evidence/a.txt", "evidence/b.txt")
	require.NoError(t, os.Remove(filepath.Join(fx.root, "evidence", "b.txt")))

	states, failed, err := fx.tr.State(context.Background(), []string{":evidence"}, "review")
	require.NoError(t, err)
	require.Len(t, states, 1, "the file still on disk is derived")
	assert.Equal(t, "evidence/a.txt", states[0].Path)
	assert.Equal(t, "draft", states[0].States[0].Current)
	require.Len(t, failed, 1)
	assert.True(t, apierr.Is(failed[0].Err, apierr.CodeMissing))
}

func TestSign_RefusesModifiedContent(t *testing.T) {
	fx := newFixture(t)
	definePipeline(t, fx)
	fx.write("evidence/a.txt", "alpha")
	fx.ingest("evidence/a.txt")
	fx.write("evidence/a.txt", "tampered")

	res, err := fx.tr.Sign(context.Background(), []string{"a.txt"}, pipeline.SignRequest{Pipeline: "review", State: "checked", Signer: "carol"})
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.True(t, apierr.Is(res.Failed[0].Err, apierr.CodeIntegrityMismatch))
	assert.Empty(t, fx.auditOps(audit.OpSign))
}

func TestRules_SignActionChains(t *testing.T) {
	fx := newFixture(t)
	definePipeline(t, fx)
	require.NoError(t, fx.tr.AddRule(ScopeProject, &models.Rule{
		Name:    "auto-check",
		Enabled: true,
		Trigger: models.EventTag,
		Filter:  models.TriggerFilter{Tag: "ok"},
		Action:  models.ActionSign,
		Params:  models.ActionParams{Pipeline: "review", State: "checked", Signer: "robot"},
	}))
	require.NoError(t, fx.tr.AddRule(ScopeProject, &models.Rule{
		Name:    "note-state",
		Enabled: true,
		Trigger: models.EventStateChange,
		Action:  models.ActionAddTag,
		Params:  models.ActionParams{Tag: "moved"},
	}))
	fx.write("evidence/a.txt", "alpha")
	fx.ingest("evidence/a.txt")

	res, err := fx.tr.Tag(context.Background(), []string{"a.txt"}, "ok")
	require.NoError(t, err)
	require.Empty(t, res.RuleErrors)
	assert.ElementsMatch(t, []string{"moved", "ok"}, fx.tags("evidence/a.txt"))
	assert.Len(t, fx.auditOps(audit.OpSign), 1)
}

func TestVerify(t *testing.T) {
	fx := newFixture(t)
	fx.write("evidence/a.txt", "alpha")
	fx.write("evidence/gone.txt", "gone")
	fx.write("notes/b.txt", "beta")
	fx.ingest("evidence/a.txt", "evidence/gone.txt", "notes/b.txt")

	fx.write("evidence/a.txt", "tampered")
	require.NoError(t, os.Remove(filepath.Join(fx.root, "evidence", "gone.txt")))

	for _, fingerprint := range []bool{false, true} {
		res, err := fx.tr.Verify(context.Background(), nil, fingerprint)
		require.NoError(t, err)
		require.Len(t, res.Reports, 3)

		byPath := map[string]FileReport{}
		for _, r := range res.Reports {
			byPath[r.Path] = r
		}
		assert.Equal(t, integrity.StatusModified, byPath["evidence/a.txt"].Status)
		assert.Equal(t, integrity.StatusMissing, byPath["evidence/gone.txt"].Status)
		assert.Equal(t, integrity.StatusOK, byPath["notes/b.txt"].Status)
		assert.Len(t, res.Failed(), 2)
	}
	assert.Len(t, fx.auditOps(audit.OpVerify), 4)
}

func TestBackfill(t *testing.T) {
	fx := newFixture(t)
	fx.write("notes/b.txt", "beta")
	fx.ingest("notes/b.txt")
	s := fx.tr.Context().Current().Store
	f := fx.file("notes/b.txt")
	require.NoError(t, s.UpdateFingerprint(f.ID, models.Fingerprint{}))

	res, err := fx.tr.Backfill(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Backfilled)
	assert.False(t, fx.file("notes/b.txt").Fingerprint.IsZero())
}

func TestRunTool(t *testing.T) {
	fx := newFixture(t)
	fx.write("notes/b.txt", "beta")
	fx.write("evidence/a.txt", "alpha")
	fx.ingest("notes/b.txt", "evidence/a.txt")
	ctx := context.Background()

	_, err := fx.tr.AddTool(ScopeProject, ToolSpec{Action: "view", Command: "cat"})
	require.NoError(t, err)

	var out bytes.Buffer
	res, err := fx.tr.RunTool(ctx, ToolRequest{Action: ActionView, Refs: []string{"b.txt", "a.txt"}, Stdout: &out})
	require.NoError(t, err)
	require.Empty(t, res.Failed)
	require.Len(t, res.Runs, 1, "files resolving to one tool share an invocation")
	assert.Equal(t, "alphabeta", out.String())
	assert.Len(t, fx.auditOps(audit.OpToolRun), 1)

	fx.write("evidence/a.txt", "tampered")
	res, err = fx.tr.RunTool(ctx, ToolRequest{Action: ActionView, Refs: []string{"a.txt"}, Stdout: &out})
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.True(t, apierr.Is(res.Failed[0].Err, apierr.CodeIntegrityMismatch))

	res, err = fx.tr.RunTool(ctx, ToolRequest{Action: ActionEdit, Refs: []string{"a.txt"}})
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.True(t, apierr.Is(res.Failed[0].Err, apierr.CodeEditDenied))
}

func TestRunTool_Errors(t *testing.T) {
	fx := newFixture(t)
	fx.write("notes/b.txt", "beta")
	fx.ingest("notes/b.txt")
	ctx := context.Background()

	res, err := fx.tr.RunTool(ctx, ToolRequest{Action: "ocr", Refs: []string{"b.txt"}})
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.True(t, apierr.Is(res.Failed[0].Err, apierr.CodeNoToolFound))

	_, err = fx.tr.AddTool(ScopeProject, ToolSpec{Action: "ocr", Command: "true", Scope: "notes"})
	require.NoError(t, err)
	_, err = fx.tr.AddTool(ScopeProject, ToolSpec{Action: "ocr", Command: "false", Tag: "scan"})
	require.NoError(t, err)
	_, err = fx.tr.Tag(ctx, []string{"b.txt"}, "scan")
	require.NoError(t, err)

	_, err = fx.tr.RunTool(ctx, ToolRequest{Action: "ocr", Refs: []string{"b.txt"}})
	assert.True(t, apierr.Is(err, apierr.CodeAmbiguousTool))

	_, err = fx.tr.AddTool(ScopeProject, ToolSpec{
		Action:  "fetch",
		Command: "curl",
		Env:     models.EnvOverrides{"ALL_PROXY": nil},
	})
	assert.True(t, apierr.Is(err, apierr.CodePrivacy))
}

func TestInboxAssign(t *testing.T) {
	fx := newFixture(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tip.eml"), []byte("From: source"), 0o644))

	box := inbox.New(dir, nil)
	f, err := box.Assign(context.Background(), "tip.eml", fx.tr, "evidence")
	require.NoError(t, err)
	assert.Equal(t, "evidence/tip.eml", f.Path)
	assert.Equal(t, models.MethodInbox, f.ProvenanceMethod)

	entries, err := box.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Len(t, fx.auditOps(audit.OpInboxAssign), 1)
}

func TestUntrack(t *testing.T) {
	fx := newFixture(t)
	fx.write("evidence/a.txt", "alpha")
	fx.ingest("evidence/a.txt")
	abs := filepath.Join(fx.root, "evidence", "a.txt")

	res, err := fx.tr.Untrack(context.Background(), []string{"a.txt"})
	require.NoError(t, err)
	assert.Len(t, res.Changed, 1)
	assert.Nil(t, fx.file("evidence/a.txt"))
	set, _ := fx.flags.IsSet(abs)
	assert.False(t, set)
	_, err = os.Stat(abs)
	assert.NoError(t, err, "untrack leaves the file on disk")
}

func TestPruneAudit(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.tr.PruneAudit(ScopeProject, 0)
	assert.Error(t, err, "no retention configured")

	n, err := fx.tr.PruneAudit(ScopeProject, 30)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, fx.auditOps(audit.OpAuditPrune), 1)
}

func TestRunAuditRetention(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.tr.RunAuditRetention(context.Background(), ScopeProject),
		"returns at once without a retention period")

	err := fx.tr.RunAuditRetention(context.Background(), ScopeWorkspace)
	assert.Error(t, err, "standalone project has no workspace")

	fx.tr.opts.Audit = &audit.AuditConfig{RetentionDays: 1}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.tr.RunAuditRetention(ctx, ScopeProject) }()
	cancel()
	require.NoError(t, <-done)
}

func TestEnter(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.tr.AddRule(ScopeProject, &models.Rule{
		Name:    "on-enter",
		Enabled: true,
		Trigger: models.EventProjectEnter,
		Action:  models.ActionAddTag,
		Params:  models.ActionParams{Tag: "seen"},
	}))
	require.NoError(t, fx.tr.AddRule(ScopeProject, &models.Rule{
		Name:    "on-workspace",
		Enabled: true,
		Trigger: models.EventWorkspaceEnter,
		Action:  models.ActionAddTag,
		Params:  models.ActionParams{Tag: "seen"},
	}))

	outs, err := fx.tr.Enter(context.Background())
	require.NoError(t, err)
	require.Len(t, outs, 1, "standalone projects dispatch only project_enter")
	require.Len(t, outs[0].Fired, 1)
	fired := outs[0].Fired[0]
	assert.Equal(t, "on-enter", fired.Rule)
	assert.Equal(t, models.EventProjectEnter, fired.Kind)
	require.Error(t, fired.Err, "enter events carry no file to tag")
	assert.Len(t, outs[0].Failed(), 1)
}

func TestRead(t *testing.T) {
	fx := newFixture(t)
	fx.write("evidence/a.txt", "alpha")
	fx.write("evidence/c.bin", "\x00\x01")
	fx.write("evidence/t.txt", "original")
	fx.write("notes/b.txt", "beta")
	fx.ingest("evidence/a.txt", "evidence/c.bin", "evidence/t.txt", "notes/b.txt")
	fx.write("evidence/t.txt", "tampered")
	fx.write("notes/b.txt", "beta, revised")

	tests := []struct {
		name     string
		refs     []string
		headers  bool
		want     string
		read     []string
		warnings int
		failCode apierr.Code
	}{
		{
			name: "raw content",
			refs: []string{"a.txt"},
			want: "alpha",
			read: []string{"alpha:evidence/a.txt"},
		},
		{
			name:    "headers and binary summary",
			refs:    []string{"a.txt", "c.bin"},
			headers: true,
			want:    "alpha:evidence/a.txt\nalpha\n\nalpha:evidence/c.bin\n(binary file, 2 bytes)\n",
			read:    []string{"alpha:evidence/a.txt", "alpha:evidence/c.bin"},
		},
		{
			name:     "modified immutable file is refused",
			refs:     []string{"t.txt"},
			failCode: apierr.CodeIntegrityMismatch,
		},
		{
			name:     "modified editable file is read with a warning",
			refs:     []string{"b.txt"},
			want:     "beta, revised",
			read:     []string{"alpha:notes/b.txt"},
			warnings: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			res, err := fx.tr.Read(context.Background(), ReadRequest{Refs: tt.refs, Out: &buf, Headers: tt.headers})
			require.NoError(t, err)
			assert.Equal(t, tt.want, buf.String())
			assert.Equal(t, tt.read, res.Read)
			assert.Len(t, res.Warnings, tt.warnings)
			if tt.failCode == "" {
				assert.Empty(t, res.Failed)
				return
			}
			require.Len(t, res.Failed, 1)
			assert.True(t, apierr.Is(res.Failed[0].Err, tt.failCode))
		})
	}
	assert.Len(t, fx.auditOps(audit.OpVerify), 1, "refused reads are audited")
}

func TestSigns(t *testing.T) {
	fx := newFixture(t)
	definePipeline(t, fx)
	_, err := fx.tr.AttachPipeline("review", models.ScopeCategory, "notes")
	require.NoError(t, err)
	fx.write("evidence/a.txt", "alpha")
	fx.write("evidence/b.txt", "beta")
	fx.write("notes/n.txt", "draft one")
	fx.ingest("evidence/a.txt", "evidence/b.txt", "notes/n.txt")
	ctx := context.Background()

	for _, ref := range []string{"a.txt", "b.txt", "n.txt"} {
		res, err := fx.tr.Sign(ctx, []string{ref}, pipeline.SignRequest{Pipeline: "review", State: "checked", Signer: "carol"})
		require.NoError(t, err)
		require.Empty(t, res.Failed)
	}
	_, err = fx.tr.Unsign(ctx, []string{"b.txt"}, "review", "checked", "")
	require.NoError(t, err)
	fx.write("notes/n.txt", "draft two")
	fx.ingest("notes/n.txt")

	signs, err := fx.tr.Signs(ctx, nil)
	require.NoError(t, err)
	require.Len(t, signs, 3)
	standing := map[string]string{}
	for _, s := range signs {
		assert.Equal(t, "review", s.Pipeline)
		assert.Equal(t, "checked", s.State)
		assert.Equal(t, "carol", s.Signer)
		standing[s.Path] = s.Standing
	}
	assert.Equal(t, map[string]string{
		"evidence/a.txt": SignValid,
		"evidence/b.txt": SignRevoked,
		"notes/n.txt":    SignStale,
	}, standing)

	signs, err = fx.tr.Signs(ctx, []string{"a.txt"})
	require.NoError(t, err)
	require.Len(t, signs, 1)
	assert.Nil(t, signs[0].RevokedAt)
}

func TestTagCounts(t *testing.T) {
	fx := newFixture(t)
	fx.write("evidence/a.txt", "alpha")
	fx.write("evidence/b.txt", "beta")
	fx.ingest("evidence/a.txt", "evidence/b.txt")
	ctx := context.Background()

	counts, err := fx.tr.TagCounts()
	require.NoError(t, err)
	assert.Empty(t, counts)

	_, err = fx.tr.Tag(ctx, []string{"a.txt", "b.txt"}, "raw")
	require.NoError(t, err)
	_, err = fx.tr.Tag(ctx, []string{"b.txt"}, "foia")
	require.NoError(t, err)

	counts, err = fx.tr.TagCounts()
	require.NoError(t, err)
	assert.Equal(t, []TagCount{{Tag: "foia", Files: 1}, {Tag: "raw", Files: 2}}, counts)
}

func TestStatus_Project(t *testing.T) {
	fx := newFixture(t)
	definePipeline(t, fx)
	fx.write("evidence/a.txt", "alpha")
	fx.write("notes/b.txt", "beta")
	fx.ingest("evidence/a.txt", "notes/b.txt")
	ctx := context.Background()
	_, err := fx.tr.Tag(ctx, []string{"b.txt"}, "draft")
	require.NoError(t, err)
	_, err = fx.tr.Sign(ctx, []string{"a.txt"}, pipeline.SignRequest{Pipeline: "review", State: "checked", Signer: "carol"})
	require.NoError(t, err)

	st, err := fx.tr.Status()
	require.NoError(t, err)
	assert.Nil(t, st.Workspace, "standalone project")
	require.NotNil(t, st.Project)
	assert.Equal(t, "alpha", st.Project.Name)
	assert.Equal(t, fx.root, st.Project.Root)
	cats, err := fx.tr.Categories()
	require.NoError(t, err)
	assert.Equal(t, len(cats), st.Project.Categories)
	assert.EqualValues(t, 2, st.Project.Files)
	assert.EqualValues(t, 1, st.Project.Tags)
	assert.EqualValues(t, 1, st.Project.Pipelines)
	assert.EqualValues(t, 1, st.Project.ActiveSigns)
}

func TestStatus_Workspace(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, workspace.InitWorkspace(root, workspace.WorkspaceOptions{Inbox: true}, nil))
	for _, name := range []string{"alpha", "beta"} {
		_, err := workspace.InitProject(filepath.Join(root, "projects", name), workspace.ProjectOptions{}, nil)
		require.NoError(t, err)
	}
	inboxDir := filepath.Join(root, "inbox")
	require.NoError(t, os.MkdirAll(filepath.Join(inboxDir, "sorted"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(inboxDir, "tip.eml"), []byte("From: source"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(inboxDir, "scan.pdf"), []byte("%PDF-1.4"), 0o644))

	wc, err := workspace.Load(root, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = wc.Close() })
	tr := New(wc, Options{Actor: "tester", Flags: integrity.NewMemoryFlags()}, nil)

	st, err := tr.Status()
	require.NoError(t, err)
	assert.Nil(t, st.Project, "no current project at the workspace root")
	require.NotNil(t, st.Workspace)
	assert.Equal(t, root, st.Workspace.Root)
	assert.Equal(t, 2, st.Workspace.Projects)
	require.NotNil(t, st.Workspace.Inbox)
	assert.Equal(t, 2, *st.Workspace.Inbox, "directories are not counted")
}
