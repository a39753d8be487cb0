package inbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeIngester struct {
	err   error
	calls []string
}

func (f *fakeIngester) IngestFrom(_ context.Context, src, category string, method models.IngestMethod) (*models.File, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, err
	}
	f.calls = append(f.calls, string(data)+"|"+category+"|"+string(method))
	return &models.File{Path: filepath.Join(category, filepath.Base(src))}, nil
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "b.pdf", "bb")
	write(t, dir, "a.txt", "a")
	write(t, dir, ".partial", "x")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	entries, err := New(dir, nil).List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.txt", entries[0].Name)
	assert.Equal(t, "b.pdf", entries[1].Name)
	assert.Equal(t, int64(2), entries[1].Size)

	missing, err := New(filepath.Join(dir, "nope"), nil).List()
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestAssign(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "leak.pdf", "secret")
	b := New(dir, nil)

	ing := &fakeIngester{}
	f, err := b.Assign(context.Background(), "leak.pdf", ing, "evidence")
	require.NoError(t, err)
	assert.Equal(t, "evidence/leak.pdf", f.Path)
	assert.Equal(t, []string{"secret|evidence|inbox"}, ing.calls)
	assert.NoFileExists(t, filepath.Join(dir, "leak.pdf"))

	_, err = b.Assign(context.Background(), "leak.pdf", ing, "evidence")
	assert.True(t, apierr.Is(err, apierr.CodeNotFound))

	_, err = b.Assign(context.Background(), "../escape", ing, "")
	assert.True(t, apierr.Is(err, apierr.CodeNotFound))
}

func TestAssign_FailureKeepsInboxFile(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "x.txt", "x")

	_, err := New(dir, nil).Assign(context.Background(), "x.txt", &fakeIngester{err: errors.New("edit denied")}, "")
	require.Error(t, err)
	assert.FileExists(t, filepath.Join(dir, "x.txt"))
}

func TestWatch_ReportsSettledFiles(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "old.txt", "already here")
	b := New(dir, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan error, 1)
	go func() {
		done <- b.Watch(ctx, 50*time.Millisecond, func(e Entry) {
			mu.Lock()
			got = append(got, e.Name)
			mu.Unlock()
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	write(t, dir, "new.pdf", "part one")
	write(t, dir, ".tmp", "ignored")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"new.pdf"}, got)
}
