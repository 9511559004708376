package publisher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nightlyone/lockfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isRoute(name string) bool {
	return strings.HasPrefix(name, "routes-") && strings.HasSuffix(name, ".yml")
}

func TestPublish_CreatesDirectoryAndWrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "dynamic")
	p := New(dir)

	res, err := p.Publish(context.Background(), Plan{
		Files: []File{
			{Name: "routes-a_test.yml", Content: []byte("a: 1\n")},
			{Name: "redirects.yml", Content: []byte("b: 2\n")},
		},
		Prunable: isRoute,
	})
	require.NoError(t, err)

	assert.Len(t, res.Written, 2)
	assert.Empty(t, res.Unchanged)
	assert.Empty(t, res.Removed)

	got, err := os.ReadFile(filepath.Join(dir, "routes-a_test.yml"))
	require.NoError(t, err)
	assert.Equal(t, "a: 1\n", string(got))
}

func TestPublish_SkipsUnchanged(t *testing.T) {
	dir := t.TempDir()
	p := New(dir)
	plan := Plan{Files: []File{{Name: "routes-a_test.yml", Content: []byte("a: 1\n")}}}

	_, err := p.Publish(context.Background(), plan)
	require.NoError(t, err)
	info, err := os.Stat(p.Path("routes-a_test.yml"))
	require.NoError(t, err)

	res, err := p.Publish(context.Background(), plan)
	require.NoError(t, err)
	assert.Empty(t, res.Written)
	assert.Equal(t, []string{p.Path("routes-a_test.yml")}, res.Unchanged)

	again, err := os.Stat(p.Path("routes-a_test.yml"))
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), again.ModTime())
}

func TestPublish_PrunesStaleFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"routes-old_test.yml", "routes-failed_test.yml", "manual.yml"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x: y\n"), 0o644))
	}
	p := New(dir)

	res, err := p.Publish(context.Background(), Plan{
		Files:    []File{{Name: "routes-new_test.yml", Content: []byte("n: 1\n")}},
		Retain:   []string{"routes-failed_test.yml"},
		Prunable: isRoute,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{p.Path("routes-old_test.yml")}, res.Removed)
	assert.NoFileExists(t, p.Path("routes-old_test.yml"))
	assert.FileExists(t, p.Path("routes-failed_test.yml"))
	assert.FileExists(t, p.Path("manual.yml"))
	assert.FileExists(t, p.Path("routes-new_test.yml"))
}

func TestPublish_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	p := New(dir)

	_, err := p.Publish(context.Background(), Plan{Files: []File{{Name: "routes-a.yml", Content: []byte("a: 1\n")}}})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
	assert.NoFileExists(t, filepath.Join(dir, LockName), "lock is released after publishing")
}

func TestPublish_DirectoryIsAFile(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "dynamic")
	require.NoError(t, os.WriteFile(target, []byte("not a dir"), 0o644))

	_, err := New(target).Publish(context.Background(), Plan{Files: []File{{Name: "routes-a.yml", Content: []byte("a")}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), target)
}

func TestPublish_WaitsForForeignLock(t *testing.T) {
	dir := t.TempDir()
	p := New(dir)
	p.lockRetry = 10 * time.Millisecond

	// The parent process is alive and is not us, so its lock is respected.
	owner := fmt.Sprintf("%d\n", os.Getppid())
	require.NoError(t, os.WriteFile(filepath.Join(dir, LockName), []byte(owner), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := p.Publish(ctx, Plan{Files: []File{{Name: "routes-a.yml", Content: []byte("a")}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoFileExists(t, p.Path("routes-a.yml"))
}

func TestPublish_ReleasesLockForNextRun(t *testing.T) {
	dir := t.TempDir()
	p := New(dir)
	plan := Plan{Files: []File{{Name: "routes-a.yml", Content: []byte("a")}}}

	for i := 0; i < 3; i++ {
		_, err := p.Publish(context.Background(), plan)
		require.NoError(t, err)
	}

	lock, err := lockfile.New(filepath.Join(dir, LockName))
	require.NoError(t, err)
	require.NoError(t, lock.TryLock())
	require.NoError(t, lock.Unlock())
}

func TestMissing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "present.yml"), []byte("x"), 0o644))

	assert.Equal(t, []string{"absent.yml"}, New(dir).Missing([]string{"present.yml", "absent.yml"}))
}
