package fs

import (
	"strings"
	"time"
)

// Node is a File or a Folder within one Cloud's hierarchy.
//
// Node values are immutable. The set of implementations is closed:
// only *File and *Folder satisfy it.
type Node interface {
	// Name is the leaf segment, "" for the root
	Name() string
	// Path is the root relative "/" joined path, "" for the root
	Path() string
	// Parent is nil only for the root
	Parent() *Folder
	// Cloud is the owning identity
	Cloud() *Cloud
	String() string

	node()
}

// Folder is a directory in a cloud
type Folder struct {
	cloud  *Cloud // set on the root only
	parent *Folder
	name   string
	path   string
}

// NewRoot returns the synthetic root folder of cloud
func NewRoot(cloud *Cloud) *Folder {
	return &Folder{cloud: cloud}
}

// NewFolder returns the folder called name inside parent
func NewFolder(parent *Folder, name string) *Folder {
	return &Folder{
		parent: parent,
		name:   name,
		path:   parent.path + "/" + name,
	}
}

// Name of the folder
func (f *Folder) Name() string { return f.name }

// Path of the folder
func (f *Folder) Path() string { return f.path }

// Parent of the folder
func (f *Folder) Parent() *Folder { return f.parent }

// IsRoot is true for the root folder of a cloud
func (f *Folder) IsRoot() bool { return f.parent == nil }

// Cloud the folder belongs to
func (f *Folder) Cloud() *Cloud {
	for f.parent != nil {
		f = f.parent
	}
	return f.cloud
}

// Root returns the root folder f descends from
func (f *Folder) Root() *Folder {
	for f.parent != nil {
		f = f.parent
	}
	return f
}

// String returns the path for logging, "/" for the root
func (f *Folder) String() string {
	if f.path == "" {
		return "/"
	}
	return f.path
}

// Contains is true if n is f or below f
func (f *Folder) Contains(n Node) bool {
	return n.Path() == f.path || strings.HasPrefix(n.Path(), f.path+"/")
}

func (*Folder) node() {}

// File is a file in a cloud
type File struct {
	parent   *Folder
	name     string
	path     string
	size     int64
	modTime  time.Time
	revision string
}

// NewFile returns the file called name in parent.
//
// size should be -1 if unknown and modTime the zero time if unknown.
func NewFile(parent *Folder, name string, size int64, modTime time.Time) *File {
	return &File{
		parent:  parent,
		name:    name,
		path:    parent.path + "/" + name,
		size:    size,
		modTime: modTime,
	}
}

// Name of the file
func (f *File) Name() string { return f.name }

// Path of the file
func (f *File) Path() string { return f.path }

// Parent of the file
func (f *File) Parent() *Folder { return f.parent }

// Cloud the file belongs to
func (f *File) Cloud() *Cloud { return f.parent.Cloud() }

// Size of the file or -1 if unknown
func (f *File) Size() int64 { return f.size }

// ModTime of the file, the zero time if unknown
func (f *File) ModTime() time.Time { return f.modTime }

// Revision is an opaque token which changes whenever the content of
// the file changes, "" if the backend didn't supply one.
func (f *File) Revision() string { return f.revision }

// WithRevision returns a copy of f with the revision set
func (f *File) WithRevision(revision string) *File {
	c := *f
	c.revision = revision
	return &c
}

// WithSize returns a copy of f with the size and modification time
// set
func (f *File) WithSize(size int64, modTime time.Time) *File {
	c := *f
	c.size = size
	c.modTime = modTime
	return &c
}

// String returns the path for logging
func (f *File) String() string { return f.path }

func (*File) node() {}

// SplitPath splits a "/" separated path into its non empty segments
func SplitPath(p string) []string {
	var out []string
	for _, segment := range strings.Split(p, "/") {
		if segment != "" && segment != "." {
			out = append(out, segment)
		}
	}
	return out
}

// ResolvePath walks path from root one segment at a time. It is pure
// path arithmetic and never does I/O.
func ResolvePath(root *Folder, p string) *Folder {
	f := root
	for _, segment := range SplitPath(p) {
		f = NewFolder(f, segment)
	}
	return f
}

// check interfaces
var (
	_ Node = (*Folder)(nil)
	_ Node = (*File)(nil)
)
