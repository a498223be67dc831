package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// StagePrefix marks in-flight uploads inside the storage directory.
const StagePrefix = ".upload-"

// ErrNotExist is returned when a blob is absent.
var ErrNotExist = errors.New("storage: blob does not exist")

// Store defines the blob operations the repository service needs.
type Store interface {
	EnsureDir() error
	Path(endpoint, extension string) string
	Exists(endpoint, extension string) (bool, error)
	Stage(data io.Reader) (string, int64, error)
	Commit(staged, endpoint, extension string) error
	Discard(staged string)
	Delete(endpoint, extension string) error
	CopyTo(endpoint, extension, dst string) error
}

// FileSystemStore keeps template blobs as <endpoint>.<extension> in a flat
// directory.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// BasePath returns the storage directory.
func (s *FileSystemStore) BasePath() string {
	return s.basePath
}

// EnsureDir creates the storage directory if it doesn't exist.
func (s *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(s.basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", s.basePath, err)
	}
	return nil
}

// Path returns where the blob for endpoint/extension lives.
func (s *FileSystemStore) Path(endpoint, extension string) string {
	return filepath.Join(s.basePath, BlobName(endpoint, extension))
}

// BlobName is the file name used for a template blob.
func BlobName(endpoint, extension string) string {
	return endpoint + "." + extension
}

// Exists reports whether the blob is a regular file on disk.
func (s *FileSystemStore) Exists(endpoint, extension string) (bool, error) {
	info, err := os.Stat(s.Path(endpoint, extension))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat blob: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

// Stage writes data to a hidden file in the storage directory so that a
// later Commit is a same-filesystem rename. Returns the staged path and
// the number of bytes written.
func (s *FileSystemStore) Stage(data io.Reader) (string, int64, error) {
	file, err := os.CreateTemp(s.basePath, StagePrefix+"*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create staging file: %w", err)
	}

	n, err := io.Copy(file, data)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// Clean up partial file on error
		os.Remove(file.Name())
		return "", 0, fmt.Errorf("failed to write staging file: %w", err)
	}

	return file.Name(), n, nil
}

// Commit moves a staged file to its final blob name, replacing any file
// already there.
func (s *FileSystemStore) Commit(staged, endpoint, extension string) error {
	if err := os.Rename(staged, s.Path(endpoint, extension)); err != nil {
		return fmt.Errorf("failed to commit blob %s: %w", BlobName(endpoint, extension), err)
	}
	return nil
}

// Discard removes a staged file. Errors are ignored; the reconciler
// sweeps anything left behind.
func (s *FileSystemStore) Discard(staged string) {
	if staged == "" {
		return
	}
	_ = os.Remove(staged)
}

// Delete removes the blob. A missing blob is not an error.
func (s *FileSystemStore) Delete(endpoint, extension string) error {
	path := s.Path(endpoint, extension)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file %s: %w", path, err)
	}
	return nil
}

// CopyTo copies the blob to dst, creating or truncating it.
// Returns ErrNotExist if the blob is missing.
func (s *FileSystemStore) CopyTo(endpoint, extension, dst string) error {
	src, err := os.Open(s.Path(endpoint, extension))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotExist
		}
		return fmt.Errorf("failed to open blob: %w", err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy blob: %w", err)
	}
	return out.Close()
}

// Entry is one file found in the storage directory.
type Entry struct {
	Name    string
	Staged  bool
	ModTime int64 // unix seconds
}

// Entries lists the regular files in the storage directory.
func (s *FileSystemStore) Entries() ([]Entry, error) {
	dirents, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}
	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if !d.Type().IsRegular() {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:    d.Name(),
			Staged:  strings.HasPrefix(d.Name(), StagePrefix),
			ModTime: info.ModTime().Unix(),
		})
	}
	return entries, nil
}

// RemoveFile deletes a file in the storage directory by name.
func (s *FileSystemStore) RemoveFile(name string) error {
	if name != filepath.Base(name) {
		return fmt.Errorf("invalid storage file name %q", name)
	}
	path := filepath.Join(s.basePath, name)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}
