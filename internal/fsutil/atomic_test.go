package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteFileReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.pem")
	require.NoError(t, WriteFile(path, []byte("old"), 0o644))
	require.NoError(t, WriteFile(path, []byte("new"), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "new", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWriteFileFailureKeepsOldContent(t *testing.T) {
	cases := map[string]AtomicWriter{
		"sync fails": {Sync: func(f *os.File) error {
			f.Truncate(1)
			return errors.New("disk on fire")
		}},
		"rename fails": {Rename: func(string, string) error { return errors.New("rename interrupted") }},
		"no temp file": {CreateTemp: func(string, string) (*os.File, error) { return nil, os.ErrPermission }},
	}
	for name, w := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "identity.crt")
			require.NoError(t, WriteFile(path, []byte("old"), 0o644))

			require.Error(t, w.WriteFile(path, []byte("new content"), 0o644))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			require.Equal(t, "old", string(data))
			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			require.Len(t, entries, 1, "temp file left behind")
		})
	}
}

func TestWriteFileKeepsErrorKind(t *testing.T) {
	w := AtomicWriter{CreateTemp: func(string, string) (*os.File, error) {
		return nil, &os.PathError{Op: "open", Path: "x", Err: os.ErrPermission}
	}}
	err := w.WriteFile(filepath.Join(t.TempDir(), "f"), nil, 0o644)
	require.ErrorIs(t, err, os.ErrPermission)
}
