// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestDir(t *testing.T) string {
	t.Helper()

	tempDir := t.TempDir()

	files := map[string]string{
		"RecentClips/2024-05-04_10-00-00-front.mp4":                    "aaaa",
		"SavedClips/2024-05-04_11-00-00/2024-05-04_10-59-00-front.mp4": "bb",
		"SavedClips/2024-05-04_11-00-00/event.json":                    `{"city":"x"}`,
	}
	for path, content := range files {
		fullPath := filepath.Join(tempDir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0o700))
		require.NoError(t, os.WriteFile(fullPath, []byte(content), 0o600))
	}

	return tempDir
}

func TestDirStore(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		store, err := NewDirStore(newTestDir(t))
		require.NoError(t, err)

		entries, err := store.List()
		require.NoError(t, err)

		var paths []string
		for _, entry := range entries {
			paths = append(paths, entry.RelativePath)
		}
		sort.Strings(paths)

		require.Equal(t, []string{
			"RecentClips/2024-05-04_10-00-00-front.mp4",
			"SavedClips/2024-05-04_11-00-00/2024-05-04_10-59-00-front.mp4",
			"SavedClips/2024-05-04_11-00-00/event.json",
		}, paths)

		for _, entry := range entries {
			if entry.Name == "2024-05-04_10-00-00-front.mp4" {
				require.Equal(t, int64(4), entry.Size)
			}
		}
	})
	t.Run("readFile", func(t *testing.T) {
		store, err := NewDirStore(newTestDir(t))
		require.NoError(t, err)

		data, err := store.ReadFile("SavedClips/2024-05-04_11-00-00/event.json")
		require.NoError(t, err)
		require.Equal(t, []byte(`{"city":"x"}`), data)

		_, err = store.ReadFile("missing.mp4")
		require.Error(t, err)
	})
	t.Run("absPath", func(t *testing.T) {
		dir := newTestDir(t)
		store, err := NewDirStore(dir)
		require.NoError(t, err)

		require.Equal(t,
			filepath.Join(dir, "RecentClips/x.mp4"),
			store.AbsPath("RecentClips/x.mp4"))
	})
	t.Run("missingRoot", func(t *testing.T) {
		_, err := NewDirStore("/does/not/exist")
		require.Error(t, err)
	})
}
