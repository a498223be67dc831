package archive

import (
	"fmt"
	"os"
	"path/filepath"
)

// Filetree is an in-memory snapshot of a directory on disk. The root itself
// is not part of the archive; its children become top-level entries.
type Filetree struct {
	Root *Dir
}

// BuildFiletree walks root and records every file and directory below it.
func BuildFiletree(root string) (*Filetree, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	dir, err := buildDirTree(root)
	if err != nil {
		return nil, err
	}
	return &Filetree{Root: dir}, nil
}

func buildDirTree(dirPath string) (*Dir, error) {
	dir := &Dir{
		path:     dirPath,
		name:     filepath.Base(dirPath),
		children: []Node{},
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		childPath := filepath.Join(dirPath, entry.Name())

		switch {
		case entry.IsDir():
			childDir, err := buildDirTree(childPath)
			if err != nil {
				return nil, err
			}
			dir.children = append(dir.children, childDir)
		case entry.Type().IsRegular():
			dir.children = append(dir.children, &File{
				path: childPath,
				name: entry.Name(),
			})
		}
	}

	return dir, nil
}

// FlattenTree returns every node below the root, depth first.
func (ft *Filetree) FlattenTree() []Node {
	var nodes []Node
	var walk func(d *Dir)
	walk = func(d *Dir) {
		for _, child := range d.children {
			nodes = append(nodes, child)
			if sub, ok := child.(*Dir); ok {
				walk(sub)
			}
		}
	}
	walk(ft.Root)
	return nodes
}
