// Package archive builds zip exports from a scratch directory tree.
package archive

type Node interface {
	Path() string
	Name() string
}

type File struct {
	path string
	name string
}

type Dir struct {
	path     string
	name     string
	children []Node
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Name() string {
	return f.name
}

func (d *Dir) Path() string {
	return d.path
}

func (d *Dir) Name() string {
	return d.name
}

// Children returns d's entries in name order.
func (d *Dir) Children() []Node {
	return d.children
}
