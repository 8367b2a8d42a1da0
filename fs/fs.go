// Package fs is the uniform file and folder model over every cloud
// backend and the contract each backend implements.
package fs

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

// Version of cloudrepo
var Version = "v0.3.0-DEV"

// Globals
var (
	ErrorCantMoveAcrossClouds = errors.New("can't move between different clouds")
	ErrorIsRoot               = errors.New("operation not permitted on the root folder")
	ErrorWrongNodeType        = errors.New("node is of an unexpected type")
)

// Repository is the set of operations every backend and the
// dispatching layer above them implement.
//
// Errors returned by the dispatching layer are classified by
// fs/fserrors.
type Repository interface {
	// Root returns the synthetic root folder of cloud. It never
	// fails for network reasons.
	Root(ctx context.Context, cloud *Cloud) (*Folder, error)

	// Resolve walks path from the root. It does no I/O.
	Resolve(ctx context.Context, cloud *Cloud, path string) (*Folder, error)

	// File returns the file name in parent. size is -1 if unknown.
	File(ctx context.Context, parent *Folder, name string, size int64) (*File, error)

	// Folder returns the folder name in parent
	Folder(ctx context.Context, parent *Folder, name string) (*Folder, error)

	// Exists reports whether node is present. A failure to find
	// out is an error, never false.
	Exists(ctx context.Context, node Node) (bool, error)

	// List returns the direct children of folder
	List(ctx context.Context, folder *Folder) ([]Node, error)

	// Create makes folder, and any missing parents
	Create(ctx context.Context, folder *Folder) (*Folder, error)

	// MoveFolder moves source to target which must not exist
	MoveFolder(ctx context.Context, source, target *Folder) (*Folder, error)

	// MoveFile moves source to target which must not exist
	MoveFile(ctx context.Context, source, target *File) (*File, error)

	// Write uploads size bytes from in to file. If replace is
	// false and file exists the upload fails with AlreadyExists.
	Write(ctx context.Context, file *File, in io.ReadSeeker, progress ProgressListener, replace bool, size int64) (*File, error)

	// Read streams the content of file to out
	Read(ctx context.Context, file *File, out io.Writer, progress ProgressListener) error

	// Delete removes node, recursively for folders
	Delete(ctx context.Context, node Node) error

	// CurrentAccount checks the credentials of cloud and returns
	// the display name of the account they belong to
	CurrentAccount(ctx context.Context, cloud *Cloud) (string, error)

	// Logout forgets any session state held for cloud
	Logout(ctx context.Context, cloud *Cloud) error
}

// CheckClose is a utility function used to check the return from
// Close in a defer statement.
func CheckClose(c io.Closer, err *error) {
	cerr := c.Close()
	if *err == nil {
		*err = cerr
	}
}

// ParentFolder returns the parent of node, failing for the root
func ParentFolder(node Node) (*Folder, error) {
	parent := node.Parent()
	if parent == nil {
		return nil, ErrorIsRoot
	}
	return parent, nil
}
