// Package local provides a filesystem interface
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/accounting"
	"github.com/rclone/cloudrepo/fs/config/configstruct"
	"github.com/rclone/cloudrepo/fs/fserrors"
	"github.com/rclone/cloudrepo/lib/readers"
)

// partialSuffix marks files being written
const partialSuffix = ".partial"

// Register with Fs
func init() {
	fs.Register(&fs.RegInfo{
		Name:          "local",
		Description:   "Local Disk",
		NewRepository: NewRepository,
		Translate:     translate,
		Local:         true,
		Options: []fs.Option{{
			Name:     "root",
			Help:     "Directory on disk holding the cloud.",
			Required: true,
		}, {
			Name:    "no_link",
			Help:    "Don't use hard links to make writes which mustn't replace atomic.",
			Default: false,
		}},
	})
}

// Options defines the configuration for this backend
type Options struct {
	Root   string `config:"root"`
	NoLink bool   `config:"no_link"`
}

// Repository represents a directory on the local disk
type Repository struct {
	cloud *fs.Cloud
	opt   Options
	root  string // absolute path of the root
}

// NewRepository constructs a Repository from the cloud
func NewRepository(ctx context.Context, cloud *fs.Cloud, dispatcher fs.Repository) (fs.Repository, error) {
	opt := new(Options)
	err := configstruct.Set(cloud.Config, opt)
	if err != nil {
		return nil, err
	}
	if opt.Root == "" {
		return nil, errors.New("local: root must be set")
	}
	root, err := filepath.Abs(opt.Root)
	if err != nil {
		return nil, errors.Wrap(err, "local: bad root")
	}
	fi, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrap(err, "local: can't read root")
	}
	if !fi.IsDir() {
		return nil, errors.Errorf("local: root %q is not a directory", root)
	}
	return &Repository{
		cloud: cloud,
		opt:   *opt,
		root:  root,
	}, nil
}

// translate classifies os errors
func translate(err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fserrors.Kinded(fserrors.NoSuchFile, err)
	case errors.Is(err, os.ErrExist):
		return fserrors.Kinded(fserrors.AlreadyExists, err)
	case errors.Is(err, os.ErrPermission):
		return fserrors.Kinded(fserrors.Forbidden, err)
	}
	return err
}

// localPath returns the OS path of a node path
func (r *Repository) localPath(p string) string {
	return filepath.Join(r.root, filepath.FromSlash(p))
}

// revision makes a revision from what stat knows
func revision(fi os.FileInfo) string {
	return fmt.Sprintf("%x-%x", fi.ModTime().UnixNano(), fi.Size())
}

// newFile makes the File node for fi
func newFile(parent *fs.Folder, fi os.FileInfo) *fs.File {
	return fs.NewFile(parent, fi.Name(), fi.Size(), fi.ModTime()).WithRevision(revision(fi))
}

func notFound(p string) error {
	return fserrors.Kinded(fserrors.NoSuchFile, errors.Errorf("%q not found", p))
}

func exists(p string) error {
	return fserrors.Kinded(fserrors.AlreadyExists, errors.Errorf("%q already exists", p))
}

// Root returns the root of the cloud
func (r *Repository) Root(ctx context.Context, cloud *fs.Cloud) (*fs.Folder, error) {
	return fs.NewRoot(cloud), nil
}

// Resolve walks path from the root
func (r *Repository) Resolve(ctx context.Context, cloud *fs.Cloud, path string) (*fs.Folder, error) {
	return fs.ResolvePath(fs.NewRoot(cloud), path), nil
}

// File returns the file name in parent with what is on disk
func (r *Repository) File(ctx context.Context, parent *fs.Folder, name string, size int64) (*fs.File, error) {
	file := fs.NewFile(parent, name, size, time.Time{})
	fi, err := os.Stat(r.localPath(file.Path()))
	if err == nil && fi.Mode().IsRegular() {
		return newFile(parent, fi), nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return file, nil
}

// Folder returns the folder name in parent
func (r *Repository) Folder(ctx context.Context, parent *fs.Folder, name string) (*fs.Folder, error) {
	return fs.NewFolder(parent, name), nil
}

// Exists reports whether node is on disk with the same kind
func (r *Repository) Exists(ctx context.Context, node fs.Node) (bool, error) {
	fi, err := os.Stat(r.localPath(node.Path()))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch node.(type) {
	case *fs.Folder:
		return fi.IsDir(), nil
	case *fs.File:
		return fi.Mode().IsRegular(), nil
	}
	return false, fs.ErrorWrongNodeType
}

// List returns the children of folder sorted by name. Partial files
// of writes in progress and things which are neither files nor
// directories are skipped.
func (r *Repository) List(ctx context.Context, folder *fs.Folder) (nodes []fs.Node, err error) {
	dir := r.localPath(folder.Path())
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, partialSuffix) && strings.HasPrefix(name, ".") {
			continue
		}
		fi, err := entry.Info()
		if os.IsNotExist(err) {
			// removed while listing
			continue
		}
		if err != nil {
			return nil, err
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			fi, err = os.Stat(filepath.Join(dir, name))
			if err != nil {
				fs.Logf(r.cloud, "skipping broken link %q: %v", name, err)
				continue
			}
		}
		switch {
		case fi.IsDir():
			nodes = append(nodes, fs.NewFolder(folder, name))
		case fi.Mode().IsRegular():
			nodes = append(nodes, fs.NewFile(folder, name, fi.Size(), fi.ModTime()).WithRevision(revision(fi)))
		default:
			fs.Debugf(r.cloud, "skipping %q of type %v", name, fi.Mode().Type())
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name() < nodes[j].Name() })
	return nodes, nil
}

// Create makes folder and any missing parents
func (r *Repository) Create(ctx context.Context, folder *fs.Folder) (*fs.Folder, error) {
	p := r.localPath(folder.Path())
	if _, err := os.Lstat(p); err == nil {
		return nil, exists(folder.Path())
	}
	if err := os.MkdirAll(p, 0777); err != nil {
		return nil, err
	}
	return folder, nil
}

// checkMove checks target is free and its parent is there
func (r *Repository) checkMove(source, target fs.Node) error {
	if source.Parent() == nil || target.Parent() == nil {
		return fs.ErrorIsRoot
	}
	if _, err := os.Lstat(r.localPath(target.Path())); err == nil {
		return exists(target.Path())
	}
	fi, err := os.Stat(r.localPath(target.Parent().Path()))
	if err != nil || !fi.IsDir() {
		return notFound(target.Parent().Path())
	}
	return nil
}

// MoveFolder renames source to target
func (r *Repository) MoveFolder(ctx context.Context, source, target *fs.Folder) (*fs.Folder, error) {
	fi, err := os.Stat(r.localPath(source.Path()))
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, notFound(source.Path())
	}
	if err := r.checkMove(source, target); err != nil {
		return nil, err
	}
	if source.Contains(target) {
		return nil, errors.Errorf("can't move %q inside itself", source.Path())
	}
	if err := os.Rename(r.localPath(source.Path()), r.localPath(target.Path())); err != nil {
		return nil, errors.Wrap(err, "move folder")
	}
	return target, nil
}

// MoveFile renames source to target
func (r *Repository) MoveFile(ctx context.Context, source, target *fs.File) (*fs.File, error) {
	fi, err := os.Stat(r.localPath(source.Path()))
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		return nil, notFound(source.Path())
	}
	if err := r.checkMove(source, target); err != nil {
		return nil, err
	}
	dst := r.localPath(target.Path())
	if err := os.Rename(r.localPath(source.Path()), dst); err != nil {
		return nil, errors.Wrap(err, "move file")
	}
	fi, err = os.Stat(dst)
	if err != nil {
		return nil, err
	}
	return newFile(target.Parent(), fi), nil
}

// Write copies in to a partial file next to the destination then
// renames it into place. Without replace the partial file is hard
// linked instead, which fails if the destination appeared meanwhile.
func (r *Repository) Write(ctx context.Context, file *fs.File, in io.ReadSeeker, progress fs.ProgressListener, replace bool, size int64) (written *fs.File, err error) {
	dst := r.localPath(file.Path())
	if fi, err := os.Lstat(dst); err == nil && (!replace || fi.IsDir()) {
		return nil, exists(file.Path())
	}
	dir := filepath.Dir(dst)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return nil, notFound(file.Parent().Path())
	}
	partial := filepath.Join(dir, "."+file.Name()+"."+uuid.New().String()[:8]+partialSuffix)
	out, err := os.OpenFile(partial, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			if removeErr := os.Remove(partial); removeErr != nil && !os.IsNotExist(removeErr) {
				fs.Errorf(file, "failed to remove partial file: %v", removeErr)
			}
		}
	}()

	acc := accounting.NewAccount(ctx, fs.Upload, file.Path(), size, progress)
	defer func() { acc.Done(err) }()
	acc.Start()
	n, err := io.Copy(out, acc.WrapReader(readers.NewContextReader(ctx, in)))
	if err != nil {
		return nil, errors.Wrap(err, "write")
	}
	if size >= 0 && n != size {
		return nil, errors.Errorf("write: copied %d bytes, expected %d", n, size)
	}
	if err = out.Close(); err != nil {
		return nil, errors.Wrap(err, "write: close")
	}
	if replace || r.opt.NoLink {
		err = os.Rename(partial, dst)
	} else {
		err = os.Link(partial, dst)
		switch {
		case err == nil:
			_ = os.Remove(partial)
		case os.IsExist(err):
			err = exists(file.Path())
		default:
			fs.Debugf(file, "can't hard link, renaming instead: %v", err)
			if _, statErr := os.Lstat(dst); statErr == nil {
				err = exists(file.Path())
			} else {
				err = os.Rename(partial, dst)
			}
		}
	}
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(dst)
	if err != nil {
		return nil, err
	}
	return newFile(file.Parent(), fi), nil
}

// Read streams the content of file to out
func (r *Repository) Read(ctx context.Context, file *fs.File, out io.Writer, progress fs.ProgressListener) (err error) {
	fd, err := os.Open(r.localPath(file.Path()))
	if err != nil {
		return err
	}
	defer fs.CheckClose(fd, &err)
	fi, err := fd.Stat()
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return notFound(file.Path())
	}
	acc := accounting.NewAccount(ctx, fs.Download, file.Path(), fi.Size(), progress)
	defer func() { acc.Done(err) }()
	acc.Start()
	_, err = io.Copy(acc.WrapWriter(out), readers.NewContextReader(ctx, fd))
	return err
}

// Delete removes node, recursively for folders
func (r *Repository) Delete(ctx context.Context, node fs.Node) error {
	p := r.localPath(node.Path())
	fi, err := os.Lstat(p)
	if err != nil {
		return err
	}
	switch n := node.(type) {
	case *fs.File:
		if fi.IsDir() {
			return notFound(n.Path())
		}
		return os.Remove(p)
	case *fs.Folder:
		if n.IsRoot() {
			return fs.ErrorIsRoot
		}
		if !fi.IsDir() {
			return notFound(n.Path())
		}
		return os.RemoveAll(p)
	}
	return fs.ErrorWrongNodeType
}

// CurrentAccount returns the name of the user running the process
func (r *Repository) CurrentAccount(ctx context.Context, cloud *fs.Cloud) (string, error) {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username, nil
	}
	return os.Hostname()
}

// Logout does nothing as there is no session
func (r *Repository) Logout(ctx context.Context, cloud *fs.Cloud) error {
	return nil
}

// Check the interfaces are satisfied
var _ fs.Repository = (*Repository)(nil)
