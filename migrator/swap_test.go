package migrator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommit(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "app.sqlite")
	final := filepath.Join(t.TempDir(), "out.sqlite")
	require.NoError(t, os.WriteFile(live, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(live+"-wal", []byte("stale wal"), 0o644))
	require.NoError(t, os.WriteFile(live+"-shm", []byte("stale shm"), 0o644))
	require.NoError(t, os.WriteFile(final, []byte("new"), 0o644))

	require.NoError(t, Commit(final, live, CommitOptions{}))

	assert.Equal(t, []byte("new"), readFile(t, live))
	assert.NoFileExists(t, live+"-wal")
	assert.NoFileExists(t, live+"-shm")
	assert.NoFileExists(t, stagingPath(live))
	assert.NoFileExists(t, BackupPath(live))
	assert.Equal(t, []string{"app.sqlite"}, dirEntries(t, dir))
}

func TestCommit_KeepBackup(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "app.sqlite")
	final := filepath.Join(dir, "out.sqlite")
	require.NoError(t, os.WriteFile(live, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(BackupPath(live), []byte("older"), 0o644))
	require.NoError(t, os.WriteFile(final, []byte("new"), 0o644))

	require.NoError(t, Commit(final, live, CommitOptions{KeepBackup: true}))

	assert.Equal(t, []byte("new"), readFile(t, live))
	assert.Equal(t, []byte("old"), readFile(t, BackupPath(live)))
}

func TestCommit_Failure(t *testing.T) {
	dir := t.TempDir()
	// A non-empty directory cannot be replaced by a rename.
	live := filepath.Join(dir, "app.sqlite")
	require.NoError(t, os.Mkdir(live, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(live, "keep"), []byte("x"), 0o644))
	final := filepath.Join(t.TempDir(), "out.sqlite")
	require.NoError(t, os.WriteFile(final, []byte("new"), 0o644))

	err := Commit(final, live, CommitOptions{})
	require.ErrorIs(t, err, ErrSwapFailed)
	assert.True(t, Retryable(err))

	assert.DirExists(t, live)
	assert.Equal(t, []byte("x"), readFile(t, filepath.Join(live, "keep")))
	assert.NoFileExists(t, stagingPath(live))
}

func TestCommit_MissingOutput(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "app.sqlite")
	require.NoError(t, os.WriteFile(live, []byte("old"), 0o644))

	err := Commit(filepath.Join(dir, "nope.sqlite"), live, CommitOptions{})
	require.ErrorIs(t, err, ErrSwapFailed)
	assert.Equal(t, []byte("old"), readFile(t, live))
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a")
	dst := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o600))

	require.NoError(t, copyFile(src, dst))
	assert.Equal(t, []byte("payload"), readFile(t, dst))
	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
