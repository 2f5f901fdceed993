// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileEntry is a single file in the footage directory.
type FileEntry struct {
	Name         string
	RelativePath string
	Size         int64
}

// FileStore lists and reads raw files below a root directory.
// The index builder only depends on this contract, not on the
// native filesystem.
type FileStore interface {
	// List returns a flat list of every regular file below the root.
	// Unreadable entries are skipped.
	List() ([]FileEntry, error)

	// ReadFile reads the entire file at a relative path.
	ReadFile(relativePath string) ([]byte, error)

	// AbsPath resolves a relative path to one usable by the
	// decode backend.
	AbsPath(relativePath string) string
}

// DirStore is a FileStore over a local directory.
type DirStore struct {
	root   string
	rootFS fs.FS
}

// NewDirStore returns a FileStore over dir.
func NewDirStore(dir string) (*DirStore, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("stat footage directory: %w", err)
	}
	return &DirStore{
		root:   dir,
		rootFS: os.DirFS(dir),
	}, nil
}

// List implements FileStore.
func (s *DirStore) List() ([]FileEntry, error) {
	var entries []FileEntry
	err := fs.WalkDir(s.rootFS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Skip unreadable entries, never abort the whole scan.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, FileEntry{
			Name:         d.Name(),
			RelativePath: path,
			Size:         info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk footage directory: %w", err)
	}
	return entries, nil
}

// ReadFile implements FileStore.
func (s *DirStore) ReadFile(relativePath string) ([]byte, error) {
	return fs.ReadFile(s.rootFS, relativePath)
}

// AbsPath implements FileStore.
func (s *DirStore) AbsPath(relativePath string) string {
	return filepath.Join(s.root, relativePath)
}
