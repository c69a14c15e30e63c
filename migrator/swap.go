package migrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CommitOptions tune the store swap.
type CommitOptions struct {
	// KeepBackup leaves the pre-migration store at <live>.bak.
	KeepBackup bool
}

func stagingPath(live string) string {
	return filepath.Join(filepath.Dir(live), "."+filepath.Base(live)+".staging")
}

// BackupPath is where Commit leaves the previous store when asked to.
func BackupPath(live string) string { return live + ".bak" }

// Commit replaces the live store with the migrated store at final.
//
// final is first moved (or copied and synced) to a staging name in the live
// store's directory, so the replacement is a single rename within one
// filesystem. Stale sidecar files of the old store are removed only once
// the rename has succeeded. On failure the live store is untouched and the
// error wraps ErrSwapFailed.
func Commit(final, live string, opts CommitOptions) error {
	stage := stagingPath(live)
	removeStoreFiles(stage)

	if err := stageFile(final, stage); err != nil {
		removeStoreFiles(stage)
		return newError(ErrSwapFailed, live, fmt.Errorf("stage: %w", err))
	}

	if opts.KeepBackup {
		if err := backupFile(live, BackupPath(live)); err != nil {
			removeStoreFiles(stage)
			return newError(ErrSwapFailed, live, fmt.Errorf("backup: %w", err))
		}
	}

	if err := os.Rename(stage, live); err != nil {
		removeStoreFiles(stage)
		return newError(ErrSwapFailed, live, fmt.Errorf("replace: %w", err))
	}
	syncDir(filepath.Dir(live))

	for _, s := range storeSidecars {
		os.Remove(live + s)
	}
	return nil
}

// stageFile moves src to dst, falling back to a synced copy when the two
// are on different filesystems.
func stageFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// backupFile hard links live to bak, copying when linking is not possible.
func backupFile(live, bak string) error {
	os.Remove(bak)
	if err := os.Link(live, bak); err == nil {
		return nil
	}
	return copyFile(live, bak)
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
