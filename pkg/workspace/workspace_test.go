package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/models"
)

// newWorkspace lays out root/.mksp with projects alpha and beta.
func newWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, InitWorkspace(root, WorkspaceOptions{Inbox: true}, nil))
	for _, name := range []string{"alpha", "beta"} {
		_, err := InitProject(filepath.Join(root, "projects", name), ProjectOptions{}, nil)
		require.NoError(t, err)
	}
	return root
}

func TestDiscover(t *testing.T) {
	root := newWorkspace(t)
	alpha := filepath.Join(root, "projects", "alpha")
	deep := filepath.Join(alpha, "evidence", "emails")
	require.NoError(t, os.MkdirAll(deep, 0o755))

	tests := []struct {
		name string
		cwd  string
		want Location
	}{
		{"project root", alpha, Location{ProjectRoot: alpha, WorkspaceRoot: root}},
		{"inside project", deep, Location{ProjectRoot: alpha, WorkspaceRoot: root}},
		{"workspace root", root, Location{WorkspaceRoot: root}},
		{"projects dir", filepath.Join(root, "projects"), Location{WorkspaceRoot: root}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Discover(tt.cwd)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Discover(t.TempDir())
	assert.ErrorIs(t, err, ErrNoContext)
}

func TestInitProject_Standalone(t *testing.T) {
	root := filepath.Join(t.TempDir(), "solo")
	meta, err := InitProject(root, ProjectOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "solo", meta.Name)
	assert.Len(t, meta.ID, 36)

	ctx, err := Load(root, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })

	cur := ctx.Current()
	require.NotNil(t, cur)
	assert.Equal(t, "solo", cur.Name)
	assert.False(t, ctx.HasWorkspace())
	assert.Equal(t, models.ProtectionImmutable, cur.Categories.Classify("evidence/a.pdf"))
	assert.Equal(t, []string{"tools"}, cur.Categories.ToolDirs())

	_, err = InitProject(root, ProjectOptions{}, nil)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestInitProject_Options(t *testing.T) {
	_, err := InitProject(filepath.Join(t.TempDir(), "mkrk"), ProjectOptions{}, nil)
	assert.True(t, apierr.Is(err, apierr.CodeInvalidName), "reserved project name")

	custom, err := ParseCategorySpec("evidence/**:immutable")
	require.NoError(t, err)
	root := t.TempDir()
	_, err = InitProject(root, ProjectOptions{Name: "custom", Categories: []models.Category{custom}}, nil)
	require.NoError(t, err)

	ctx, err := Load(root, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })
	assert.Len(t, ctx.Current().Categories.Categories(), 1)

	bare := t.TempDir()
	_, err = InitProject(bare, ProjectOptions{Name: "bare", NoCategories: true}, nil)
	require.NoError(t, err)
	bctx, err := Load(bare, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bctx.Close() })
	assert.Empty(t, bctx.Current().Categories.Categories())
}

func TestContext_WorkspaceProjects(t *testing.T) {
	root := newWorkspace(t)

	ctx, err := Load(filepath.Join(root, "projects", "alpha"), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })

	cur := ctx.Current()
	require.NotNil(t, cur)
	assert.Equal(t, "alpha", cur.Name)
	assert.True(t, ctx.HasWorkspace())
	assert.Equal(t, models.ProtectionImmutable, cur.Categories.Classify("evidence/a.pdf"),
		"workspace categories apply to member projects")

	beta, err := ctx.Project("beta")
	require.NoError(t, err)
	require.NotNil(t, beta)
	assert.Equal(t, filepath.Join(root, "projects", "beta"), beta.Root)

	again, err := ctx.Project("beta")
	require.NoError(t, err)
	assert.Same(t, beta, again)

	self, err := ctx.Project("alpha")
	require.NoError(t, err)
	assert.Same(t, cur, self)

	none, err := ctx.Project("gamma")
	require.NoError(t, err)
	assert.Nil(t, none)

	all, err := ctx.Projects()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Name)
	assert.Equal(t, "beta", all[1].Name)

	inbox, ok, err := ctx.InboxDir()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(root, "inbox"), inbox)

	projects, ok, err := ctx.ProjectsDir()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(root, "projects"), projects)
}

func TestContext_WorkspaceOnly(t *testing.T) {
	root := newWorkspace(t)

	ctx, err := Load(root, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })

	assert.Nil(t, ctx.Current())
	assert.NotNil(t, ctx.Workspace())

	all, err := ctx.Projects()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestContext_RegisterProject(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, InitWorkspace(root, WorkspaceOptions{}, nil))

	// A project created before the workspace existed is registered by hand.
	outside := t.TempDir()
	_, err := InitProject(outside, ProjectOptions{Name: "loose"}, nil)
	require.NoError(t, err)

	ctx, err := Load(root, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })

	_, err = ctx.RegisterProject("loose", outside)
	assert.Error(t, err, "projects must live inside the workspace")

	_, err = ctx.RegisterProject("bad.name", outside)
	assert.True(t, apierr.Is(err, apierr.CodeInvalidName))

	_, ok, err := ctx.InboxDir()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMissingProjectIsSkipped(t *testing.T) {
	root := newWorkspace(t)
	require.NoError(t, os.RemoveAll(filepath.Join(root, "projects", "beta")))

	ctx, err := Load(root, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })

	all, err := ctx.Projects()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "alpha", all[0].Name)
}

func TestInitWorkspace_RejectsEscapingProjectsDir(t *testing.T) {
	for _, dir := range []string{"/abs", "../up", "a/../../b"} {
		err := InitWorkspace(t.TempDir(), WorkspaceOptions{ProjectsDir: dir}, nil)
		assert.Error(t, err, dir)
	}
}

func TestParseCategorySpec(t *testing.T) {
	tests := []struct {
		spec    string
		want    models.Category
		wantErr bool
	}{
		{
			spec: "evidence/**:immutable",
			want: models.Category{Name: "evidence", Pattern: "evidence/**", Kind: models.KindFiles, Protection: models.ProtectionImmutable},
		},
		{
			spec: "evidence/emails/*.eml:files:protected",
			want: models.Category{Name: "emails", Pattern: "evidence/emails/*.eml", Kind: models.KindFiles, Protection: models.ProtectionProtected},
		},
		{
			spec: "scripts/**:tools:editable",
			want: models.Category{Name: "scripts", Pattern: "scripts/**", Kind: models.KindTools, Protection: models.ProtectionEditable},
		},
		{spec: "evidence/**", wantErr: true},
		{spec: "evidence/**:gadgets:editable", wantErr: true},
		{spec: "evidence/**:sacred", wantErr: true},
		{spec: "**:editable", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseCategorySpec(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
