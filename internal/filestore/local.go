package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/ansuz/internal/apperr"
)

// Local implements Store on a local directory: folders are direct
// subdirectories of the root, file handles are root-relative paths.
// Useful for development and tests; writes are atomic (tmp, fsync,
// rename) so a crashed save never leaves a half-written file.
type Local struct {
	root string
}

// NewLocal creates a local store rooted at an existing directory.
func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("filestore: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("filestore: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("filestore: root is not a directory: %s", abs)
	}
	return &Local{root: abs}, nil
}

// safePath resolves a root-relative handle and rejects anything escaping
// the root (directory traversal).
func (l *Local) safePath(rel string) (string, error) {
	cleaned := filepath.Clean(rel)
	if cleaned == "" || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("filestore: invalid handle: %s", rel)
	}
	abs, err := filepath.Abs(filepath.Join(l.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("filestore: resolve handle: %w", err)
	}
	if !strings.HasPrefix(abs, l.root+string(os.PathSeparator)) && abs != l.root {
		return "", fmt.Errorf("filestore: handle escapes root: %s", rel)
	}
	return abs, nil
}

// FindFolders returns the folder name as its own id when the directory
// exists.
func (l *Local) FindFolders(_ context.Context, name string) ([]string, error) {
	abs, err := l.safePath(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: stat folder: %w", err)
	}
	if !info.IsDir() {
		return nil, nil
	}
	return []string{name}, nil
}

// CreateFolder creates the directory; the folder id is its name.
func (l *Local) CreateFolder(_ context.Context, name string) (string, error) {
	abs, err := l.safePath(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("filestore: create folder: %w", err)
	}
	return name, nil
}

// List returns the folder's files newest first (by modification time,
// which equals creation time in an append-only store).
func (l *Local) List(_ context.Context, folderID string) ([]File, error) {
	abs, err := l.safePath(folderID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("filestore: list: %w", err)
	}

	var files []File
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("filestore: list: %w", err)
		}
		files = append(files, File{
			ID:          filepath.ToSlash(filepath.Join(folderID, e.Name())),
			Name:        e.Name(),
			CreatedTime: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].CreatedTime.Equal(files[j].CreatedTime) {
			return files[i].CreatedTime.After(files[j].CreatedTime)
		}
		return files[i].Name > files[j].Name
	})
	return files, nil
}

// Create atomically writes the file and returns its handle.
func (l *Local) Create(_ context.Context, folderID, name, _ string, data []byte) (string, error) {
	id := filepath.ToSlash(filepath.Join(folderID, name))
	abs, err := l.safePath(id)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(abs)
	tmp, err := os.CreateTemp(dir, ".ansuz-tmp-*")
	if err != nil {
		return "", fmt.Errorf("filestore: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("filestore: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("filestore: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("filestore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return "", fmt.Errorf("filestore: rename: %w", err)
	}
	success = true
	return id, nil
}

// Download reads a file by handle.
func (l *Local) Download(_ context.Context, fileID string) ([]byte, error) {
	abs, err := l.safePath(fileID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: read %s: %w", fileID, err)
	}
	return data, nil
}

// Delete removes a file by handle.
func (l *Local) Delete(_ context.Context, fileID string) error {
	abs, err := l.safePath(fileID)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); errors.Is(err, os.ErrNotExist) {
		return apperr.ErrNotFound
	} else if err != nil {
		return fmt.Errorf("filestore: delete %s: %w", fileID, err)
	}
	return nil
}
