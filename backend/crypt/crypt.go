// Package crypt provides an overlay which encrypts names and contents
// on their way to another cloud
package crypt

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/config/configstruct"
	"github.com/rclone/cloudrepo/fs/config/obscure"
	"github.com/rclone/cloudrepo/fs/fserrors"
)

// Register with Fs
func init() {
	fs.Register(&fs.RegInfo{
		Name:          "crypt",
		Description:   "Encrypt/Decrypt a remote",
		NewRepository: NewRepository,
		Local:         true,
		Options: []fs.Option{{
			Name:     "remote",
			Help:     "Remote to encrypt/decrypt.\n\nShould contain a ':' and a path, e.g. \"myremote:path/to/dir\".",
			Required: true,
		}, {
			Name:    "filename_encryption",
			Help:    "How to encrypt the filenames: standard or off.\n\nWith off the names get a \".bin\" extension only.",
			Default: "standard",
		}, {
			Name: "directory_name_encryption",
			Help: `Option to either encrypt directory names or leave them intact.

NB If filename_encryption is "off" then this option will do nothing.`,
			Default: true,
		}, {
			Name:    "filename_encoding",
			Help:    "How to encode the encrypted filename to text string: base32 or base64.",
			Default: "base32",
		}, {
			Name:       "password",
			Help:       "Password or pass phrase for encryption.",
			IsPassword: true,
			Required:   true,
		}, {
			Name:       "password2",
			Help:       "Password or pass phrase for salt.\n\nOptional but recommended.\nShould be different to the previous password.",
			IsPassword: true,
		}, {
			Name:    "show_mapping",
			Help:    "For all files listed show how the names encrypt.",
			Default: false,
		}, {
			Name:    "strict_names",
			Help:    "If set, listing fails on a name that can't be decrypted instead of skipping it.",
			Default: false,
		}},
	})
}

// Options defines the configuration for this backend
type Options struct {
	Remote                  string `config:"remote"`
	FilenameEncryption      string `config:"filename_encryption"`
	DirectoryNameEncryption bool   `config:"directory_name_encryption"`
	FilenameEncoding        string `config:"filename_encoding"`
	Password                string `config:"password"`
	Password2               string `config:"password2"`
	ShowMapping             bool   `config:"show_mapping"`
	StrictNames             bool   `config:"strict_names"`
}

// Repository is an encrypting overlay on the folder named by the
// remote option
type Repository struct {
	cloud  *fs.Cloud
	opt    Options
	cipher *Cipher
	under  fs.Repository // reaches the underlying cloud
	base   *fs.Folder    // where the overlay's root is stored
}

// newCipherForConfig makes a Cipher for the options
func newCipherForConfig(opt *Options) (*Cipher, error) {
	mode, err := NewNameEncryptionMode(opt.FilenameEncryption)
	if err != nil {
		return nil, err
	}
	if opt.Password == "" {
		return nil, errors.New("password not set in config file")
	}
	password, err := obscure.Reveal(opt.Password)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt password")
	}
	var salt string
	if opt.Password2 != "" {
		salt, err = obscure.Reveal(opt.Password2)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decrypt password2")
		}
	}
	enc, err := NewNameEncoding(opt.FilenameEncoding)
	if err != nil {
		return nil, err
	}
	return newCipher(mode, password, salt, opt.DirectoryNameEncryption, enc)
}

// NewRepository constructs a Repository from the cloud
func NewRepository(ctx context.Context, cloud *fs.Cloud, dispatcher fs.Repository) (fs.Repository, error) {
	opt := new(Options)
	opt.DirectoryNameEncryption = true
	err := configstruct.Set(cloud.Config, opt)
	if err != nil {
		return nil, err
	}
	if cloud.Underlying == nil {
		return nil, errors.Errorf("crypt: %q has no underlying cloud", cloud)
	}
	if dispatcher == nil {
		return nil, errors.New("crypt: needs a dispatcher to reach the underlying cloud")
	}
	cipher, err := newCipherForConfig(opt)
	if err != nil {
		return nil, errors.Wrap(err, "crypt")
	}
	remotePath := opt.Remote
	if i := strings.IndexRune(remotePath, ':'); i >= 0 {
		remotePath = remotePath[i+1:]
	}
	return &Repository{
		cloud:  cloud,
		opt:    *opt,
		cipher: cipher,
		under:  dispatcher,
		base:   fs.ResolvePath(fs.NewRoot(cloud.Underlying), remotePath),
	}, nil
}

// strip drops the operation and the encrypted path from errors of
// the underlying cloud, keeping their kind. The dispatcher fills in
// the plaintext ones.
func strip(err error) error {
	if e, ok := fserrors.AsError(err); ok && e.Op != "" {
		return fserrors.Kinded(e.Kind, e.Err)
	}
	return err
}

// underFolder returns where folder is stored
func (r *Repository) underFolder(folder *fs.Folder) *fs.Folder {
	f := r.base
	for _, segment := range fs.SplitPath(folder.Path()) {
		f = fs.NewFolder(f, r.cipher.EncryptDirName(segment))
	}
	return f
}

// underFile returns where file is stored
func (r *Repository) underFile(file *fs.File) *fs.File {
	size := file.Size()
	if size >= 0 {
		size = r.cipher.EncryptedSize(size)
	}
	under := fs.NewFile(r.underFolder(file.Parent()), r.cipher.EncryptFileName(file.Name()), size, file.ModTime())
	return under.WithRevision(file.Revision())
}

// underNode returns where node is stored
func (r *Repository) underNode(node fs.Node) (fs.Node, error) {
	switch n := node.(type) {
	case *fs.Folder:
		return r.underFolder(n), nil
	case *fs.File:
		return r.underFile(n), nil
	}
	return nil, fs.ErrorWrongNodeType
}

// overFile is the plaintext view of the stored file under
func (r *Repository) overFile(parent *fs.Folder, name string, under *fs.File) *fs.File {
	size := under.Size()
	if size >= 0 {
		var err error
		if size, err = r.cipher.DecryptedSize(size); err != nil {
			fs.Debugf(parent, "%q: %v", name, err)
			size = -1
		}
	}
	return fs.NewFile(parent, name, size, under.ModTime()).WithRevision(under.Revision())
}

// Root returns the root of the cloud
func (r *Repository) Root(ctx context.Context, cloud *fs.Cloud) (*fs.Folder, error) {
	return fs.NewRoot(cloud), nil
}

// Resolve walks path from the root
func (r *Repository) Resolve(ctx context.Context, cloud *fs.Cloud, path string) (*fs.Folder, error) {
	return fs.ResolvePath(fs.NewRoot(cloud), path), nil
}

// File returns the file name in parent with what the underlying cloud
// knows of it
func (r *Repository) File(ctx context.Context, parent *fs.Folder, name string, size int64) (*fs.File, error) {
	if size >= 0 {
		size = r.cipher.EncryptedSize(size)
	}
	under, err := r.under.File(ctx, r.underFolder(parent), r.cipher.EncryptFileName(name), size)
	if err != nil {
		return nil, strip(err)
	}
	return r.overFile(parent, name, under), nil
}

// Folder returns the folder name in parent
func (r *Repository) Folder(ctx context.Context, parent *fs.Folder, name string) (*fs.Folder, error) {
	return fs.NewFolder(parent, name), nil
}

// Exists reports whether node is stored
func (r *Repository) Exists(ctx context.Context, node fs.Node) (bool, error) {
	if folder, ok := node.(*fs.Folder); ok && folder.IsRoot() {
		return true, nil
	}
	under, err := r.underNode(node)
	if err != nil {
		return false, err
	}
	ok, err := r.under.Exists(ctx, under)
	return ok, strip(err)
}

// List returns the children of folder which decrypt
func (r *Repository) List(ctx context.Context, folder *fs.Folder) ([]fs.Node, error) {
	entries, err := r.under.List(ctx, r.underFolder(folder))
	if err != nil {
		if folder.IsRoot() && fserrors.IsKind(err, fserrors.NoSuchFile) {
			return nil, nil
		}
		return nil, strip(err)
	}
	nodes := make([]fs.Node, 0, len(entries))
	for _, entry := range entries {
		var (
			name string
			err  error
		)
		switch under := entry.(type) {
		case *fs.Folder:
			if name, err = r.cipher.DecryptDirName(under.Name()); err == nil {
				nodes = append(nodes, fs.NewFolder(folder, name))
			}
		case *fs.File:
			if name, err = r.cipher.DecryptFileName(under.Name()); err == nil {
				nodes = append(nodes, r.overFile(folder, name, under))
			}
		}
		if err != nil {
			if r.opt.StrictNames {
				return nil, fserrors.Kinded(fserrors.Fatal, errors.Wrapf(err, "failed to decrypt name %q", entry.Name()))
			}
			fs.Debugf(folder, "Skipping undecryptable name %q: %v", entry.Name(), err)
			continue
		}
		if r.opt.ShowMapping {
			fs.Infof(folder, "%q is stored as %q", name, entry.Name())
		}
	}
	return nodes, nil
}

// Create makes folder and any missing parents
func (r *Repository) Create(ctx context.Context, folder *fs.Folder) (*fs.Folder, error) {
	if folder.IsRoot() {
		return nil, fserrors.Kinded(fserrors.AlreadyExists, errors.New("the root always exists"))
	}
	if _, err := r.under.Create(ctx, r.underFolder(folder)); err != nil {
		return nil, strip(err)
	}
	return folder, nil
}

// checkMove checks source and target are in the same cloud
func checkMove(source, target fs.Node) error {
	if !source.Cloud().Equal(target.Cloud()) {
		return fs.ErrorCantMoveAcrossClouds
	}
	return nil
}

// MoveFolder moves source to target
func (r *Repository) MoveFolder(ctx context.Context, source, target *fs.Folder) (*fs.Folder, error) {
	if err := checkMove(source, target); err != nil {
		return nil, err
	}
	if source.IsRoot() || target.IsRoot() {
		return nil, fs.ErrorIsRoot
	}
	if _, err := r.under.MoveFolder(ctx, r.underFolder(source), r.underFolder(target)); err != nil {
		return nil, strip(err)
	}
	return target, nil
}

// MoveFile moves source to target
func (r *Repository) MoveFile(ctx context.Context, source, target *fs.File) (*fs.File, error) {
	if err := checkMove(source, target); err != nil {
		return nil, err
	}
	moved, err := r.under.MoveFile(ctx, r.underFile(source), r.underFile(target))
	if err != nil {
		return nil, strip(err)
	}
	return r.overFile(target.Parent(), target.Name(), moved), nil
}

// Write encrypts size bytes from in into file
func (r *Repository) Write(ctx context.Context, file *fs.File, in io.ReadSeeker, progress fs.ProgressListener, replace bool, size int64) (*fs.File, error) {
	if size < 0 {
		var err error
		if size, err = in.Seek(0, io.SeekEnd); err != nil {
			return nil, errors.Wrap(err, "can't find size of upload")
		}
	}
	enc, err := r.cipher.newEncrypter(in, size)
	if err != nil {
		return nil, err
	}
	under := r.underFile(file.WithSize(size, file.ModTime()))
	written, err := r.under.Write(ctx, under, enc, r.progress(file.Path(), progress), replace, r.cipher.EncryptedSize(size))
	if err != nil {
		return nil, strip(err)
	}
	return r.overFile(file.Parent(), file.Name(), written), nil
}

// Read decrypts the content of file into out
func (r *Repository) Read(ctx context.Context, file *fs.File, out io.Writer, progress fs.ProgressListener) error {
	dec := r.cipher.newDecrypter(out)
	if err := r.under.Read(ctx, r.underFile(file), dec, r.progress(file.Path(), progress)); err != nil {
		return strip(err)
	}
	return dec.Close()
}

// Delete removes node
func (r *Repository) Delete(ctx context.Context, node fs.Node) error {
	if folder, ok := node.(*fs.Folder); ok && folder.IsRoot() {
		return fs.ErrorIsRoot
	}
	under, err := r.underNode(node)
	if err != nil {
		return err
	}
	return strip(r.under.Delete(ctx, under))
}

// CurrentAccount returns the account of the underlying cloud
func (r *Repository) CurrentAccount(ctx context.Context, cloud *fs.Cloud) (string, error) {
	account, err := r.under.CurrentAccount(ctx, r.cloud.Underlying)
	return account, strip(err)
}

// Logout does nothing as the overlay holds no session. The session of
// the underlying cloud is its own.
func (r *Repository) Logout(ctx context.Context, cloud *fs.Cloud) error {
	return nil
}

// progress returns a listener reporting the transfers of the
// underlying cloud in plaintext terms
func (r *Repository) progress(path string, out fs.ProgressListener) fs.ProgressListener {
	if out == nil {
		return nil
	}
	return &plainProgress{cipher: r.cipher, path: path, out: out}
}

// plainProgress maps encrypted progress onto the plaintext
type plainProgress struct {
	cipher *Cipher
	path   string
	out    fs.ProgressListener
}

// OnProgress passes p on in plaintext terms
func (p *plainProgress) OnProgress(progress fs.Progress) {
	progress.Path = p.path
	progress.Done = p.cipher.plainOffset(progress.Done)
	if progress.Total >= 0 {
		total, err := p.cipher.DecryptedSize(progress.Total)
		if err != nil {
			total = -1
		}
		progress.Total = total
	}
	p.out.OnProgress(progress)
}

// Check the interfaces are satisfied
var (
	_ fs.Repository       = (*Repository)(nil)
	_ fs.ProgressListener = (*plainProgress)(nil)
	_ io.ReadSeeker       = (*encrypter)(nil)
	_ io.WriteCloser      = (*decrypter)(nil)
)
