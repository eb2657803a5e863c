// Package fsutil holds the crash-safe file replacement shared by the bundle
// storage and the identity directory.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aspect-build/contract-provider/internal/logx"
)

// AtomicWriter replaces files via a temp file in the same directory, fsync and
// rename. Nil hooks fall back to the os package; tests swap them to inject
// failures.
type AtomicWriter struct {
	CreateTemp func(dir, pattern string) (*os.File, error)
	Sync       func(*os.File) error
	Rename     func(oldpath, newpath string) error
	// SyncDir also fsyncs the parent directory after the rename.
	SyncDir bool
}

// WriteFile replaces path with data using the default AtomicWriter.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	return AtomicWriter{SyncDir: true}.WriteFile(path, data, perm)
}

// WriteFile replaces path with data. Readers see either the old or the new
// content, never a partial file, and a failed write leaves no temp file behind.
func (w AtomicWriter) WriteFile(path string, data []byte, perm os.FileMode) error {
	createTemp, syncFile, rename := w.CreateTemp, w.Sync, w.Rename
	if createTemp == nil {
		createTemp = os.CreateTemp
	}
	if syncFile == nil {
		syncFile = (*os.File).Sync
	}
	if rename == nil {
		rename = os.Rename
	}

	dir := filepath.Dir(path)
	tmp, err := createTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	// Permissions first so a private key never sits world-readable.
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := syncFile(tmp); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	committed = true

	if w.SyncDir {
		if d, err := os.Open(dir); err == nil {
			if err := d.Sync(); err != nil {
				logx.Warnf("fsync dir=%s: %v", dir, err)
			}
			d.Close()
		}
	}
	return nil
}
