// Package translate wraps a backend repository so every error it
// returns is classified into the kinds of fs/fserrors.
package translate

import (
	"context"
	"io"

	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/fserrors"
)

// Repository is a fs.Repository whose errors are all *fserrors.Error
type Repository struct {
	repo      fs.Repository
	translate fs.TranslateFunc
}

// New wraps repo. fn classifies the backend's own errors and may be
// nil.
func New(repo fs.Repository, fn fs.TranslateFunc) *Repository {
	return &Repository{repo: repo, translate: fn}
}

// Unwrap returns the repository being translated
func (r *Repository) Unwrap() fs.Repository {
	return r.repo
}

// Classify turns err from operation op on path into an
// *fserrors.Error. nil stays nil.
//
// The order is: a cancelled context, an error which already has a
// kind, the backend classifier, network failures, and finally Fatal.
func Classify(ctx context.Context, fn fs.TranslateFunc, op, path string, err error) error {
	if err == nil {
		return nil
	}
	kind, cause, ok := classify(ctx, fn, err)
	if !ok {
		kind = fserrors.Fatal
	}
	if e, isE := cause.(*fserrors.Error); isE && e.Op == "" && e.Kind == kind {
		cause = e.Err
	}
	return fserrors.New(kind, op, path, cause)
}

func classify(ctx context.Context, fn fs.TranslateFunc, err error) (kind fserrors.Kind, cause error, ok bool) {
	if (ctx != nil && ctx.Err() != nil) || fserrors.IsCancelled(err) {
		return fserrors.Cancelled, err, true
	}
	if e, found := fserrors.AsError(err); found {
		return e.Kind, err, true
	}
	if fn != nil {
		translated := fn(err)
		if e, found := fserrors.AsError(translated); found {
			return e.Kind, translated, true
		}
	}
	if fserrors.IsNetworkError(err) {
		return fserrors.NetworkUnavailable, err, true
	}
	return fserrors.Fatal, err, false
}

func (r *Repository) wrap(ctx context.Context, op string, path string, err error) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*fserrors.Error); ok && e.Op != "" {
		return e
	}
	err = Classify(ctx, r.translate, op, path, err)
	fs.Debugf(nil, "%v", err)
	return err
}

// Root returns the root of cloud
func (r *Repository) Root(ctx context.Context, cloud *fs.Cloud) (*fs.Folder, error) {
	root, err := r.repo.Root(ctx, cloud)
	if err != nil {
		return nil, Classify(ctx, r.translate, "root", "", err)
	}
	return root, nil
}

// Resolve walks path from the root of cloud
func (r *Repository) Resolve(ctx context.Context, cloud *fs.Cloud, path string) (*fs.Folder, error) {
	folder, err := r.repo.Resolve(ctx, cloud, path)
	if err != nil {
		return nil, Classify(ctx, r.translate, "resolve", path, err)
	}
	return folder, nil
}

// File returns the file name in parent
func (r *Repository) File(ctx context.Context, parent *fs.Folder, name string, size int64) (*fs.File, error) {
	file, err := r.repo.File(ctx, parent, name, size)
	if err != nil {
		return nil, r.wrap(ctx, "file", parent.Path()+"/"+name, err)
	}
	return file, nil
}

// Folder returns the folder name in parent
func (r *Repository) Folder(ctx context.Context, parent *fs.Folder, name string) (*fs.Folder, error) {
	folder, err := r.repo.Folder(ctx, parent, name)
	if err != nil {
		return nil, r.wrap(ctx, "folder", parent.Path()+"/"+name, err)
	}
	return folder, nil
}

// Exists reports whether node is present
func (r *Repository) Exists(ctx context.Context, node fs.Node) (bool, error) {
	ok, err := r.repo.Exists(ctx, node)
	if err != nil {
		return false, r.wrap(ctx, "exists", node.Path(), err)
	}
	return ok, nil
}

// List returns the children of folder
func (r *Repository) List(ctx context.Context, folder *fs.Folder) ([]fs.Node, error) {
	nodes, err := r.repo.List(ctx, folder)
	if err != nil {
		return nil, r.wrap(ctx, "list", folder.Path(), err)
	}
	return nodes, nil
}

// Create makes folder
func (r *Repository) Create(ctx context.Context, folder *fs.Folder) (*fs.Folder, error) {
	created, err := r.repo.Create(ctx, folder)
	if err != nil {
		return nil, r.wrap(ctx, "create", folder.Path(), err)
	}
	return created, nil
}

// MoveFolder moves source to target
func (r *Repository) MoveFolder(ctx context.Context, source, target *fs.Folder) (*fs.Folder, error) {
	moved, err := r.repo.MoveFolder(ctx, source, target)
	if err != nil {
		return nil, r.wrap(ctx, "move", source.Path(), err)
	}
	return moved, nil
}

// MoveFile moves source to target
func (r *Repository) MoveFile(ctx context.Context, source, target *fs.File) (*fs.File, error) {
	moved, err := r.repo.MoveFile(ctx, source, target)
	if err != nil {
		return nil, r.wrap(ctx, "move", source.Path(), err)
	}
	return moved, nil
}

// Write uploads to file
func (r *Repository) Write(ctx context.Context, file *fs.File, in io.ReadSeeker, progress fs.ProgressListener, replace bool, size int64) (*fs.File, error) {
	written, err := r.repo.Write(ctx, file, in, progress, replace, size)
	if err != nil {
		return nil, r.wrap(ctx, "write", file.Path(), err)
	}
	return written, nil
}

// Read downloads file
func (r *Repository) Read(ctx context.Context, file *fs.File, out io.Writer, progress fs.ProgressListener) error {
	return r.wrap(ctx, "read", file.Path(), r.repo.Read(ctx, file, out, progress))
}

// Delete removes node
func (r *Repository) Delete(ctx context.Context, node fs.Node) error {
	return r.wrap(ctx, "delete", node.Path(), r.repo.Delete(ctx, node))
}

// CurrentAccount checks the credentials of cloud
func (r *Repository) CurrentAccount(ctx context.Context, cloud *fs.Cloud) (string, error) {
	name, err := r.repo.CurrentAccount(ctx, cloud)
	if err != nil {
		return "", Classify(ctx, r.translate, "about", "", err)
	}
	return name, nil
}

// Logout forgets the session of cloud
func (r *Repository) Logout(ctx context.Context, cloud *fs.Cloud) error {
	return Classify(ctx, r.translate, "logout", "", r.repo.Logout(ctx, cloud))
}

// Check the interfaces are satisfied
var _ fs.Repository = (*Repository)(nil)
