package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Scratch is a uniquely named working directory owned by one export.
// Close removes it with everything inside.
type Scratch struct {
	dir string
}

// NewScratch creates <parent>/<prefix><uuid>.
func NewScratch(parent, prefix string) (*Scratch, error) {
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	dir := filepath.Join(parent, prefix+uuid.NewString())
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return &Scratch{dir: dir}, nil
}

// Path returns the scratch root.
func (s *Scratch) Path() string {
	return s.dir
}

// Mkdir creates a direct child directory and returns its path.
func (s *Scratch) Mkdir(name string) (string, error) {
	if !IsSegment(name) {
		return "", fmt.Errorf("invalid directory name %q", name)
	}
	p := filepath.Join(s.dir, name)
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", p, err)
	}
	return p, nil
}

// Close removes the scratch tree. Safe to call more than once.
func (s *Scratch) Close() error {
	if s.dir == "" {
		return nil
	}
	err := os.RemoveAll(s.dir)
	s.dir = ""
	return err
}

// IsSegment reports whether name is usable as a single path element:
// non-empty, not "." or "..", and free of separators and NUL.
func IsSegment(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`+"\x00")
}
