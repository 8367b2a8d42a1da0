// Package dropbox provides an interface to Dropbox object storage
package dropbox

/*
The Case folding of PathDisplay problem

From the docs:

path_display String. The cased path to be used for display purposes
only. In rare instances the casing will not correctly match the
user's filesystem, but this behavior will match the path provided in
the Core API v1, and at least the last path component will have the
correct casing.

So names are taken from the Name of the metadata which Dropbox keeps
as the user cased it.
*/

import (
	"context"
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/auth"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/users"
	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/backend/dropbox/dbhash"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/accounting"
	"github.com/rclone/cloudrepo/fs/config/configstruct"
	"github.com/rclone/cloudrepo/fs/fserrors"
	"github.com/rclone/cloudrepo/lib/chunked"
	"github.com/rclone/cloudrepo/lib/oauthutil"
	"github.com/rclone/cloudrepo/lib/pacer"
	"golang.org/x/oauth2"
)

// Constants
const (
	minSleep      = 10 * time.Millisecond
	maxSleep      = 2 * time.Second
	decayConstant = 2 // bigger for slower decay, exponential
	// Upload chunk size - setting too small makes uploads slow.
	// Chunks are buffered into memory for retries.
	//
	// Speed vs chunk size uploading a 1 GiB file on 2017-11-22
	//
	// Chunk Size MiB, Speed MiB/s, % of max
	// 1	1.364	11%
	// 2	2.443	19%
	// 4	4.288	33%
	// 8	6.79	52%
	// 16	8.916	69%
	// 24	10.195	79%
	// 32	10.427	81%
	// 40	10.96	85%
	// 48	11.828	91%
	// 56	11.763	91%
	// 64	12.047	93%
	// 96	12.302	95%
	// 128	12.945	100%
	//
	// Choose 48 MiB which is 91% of Maximum speed.
	defaultChunkSize = 48 * fs.Mebi
	maxChunkSize     = 150 * fs.Mebi
	// Max length of filename parts: https://help.dropbox.com/installs-integrations/sync-uploads/files-not-syncing
	maxFileNameLength = 255
)

var (
	// Description of how to auth for this app
	dropboxConfig = &oauth2.Config{
		Scopes: []string{
			"files.metadata.write",
			"files.content.write",
			"files.content.read",
			"account_info.read",
		},
		Endpoint: dropbox.OAuthEndpoint(""),
	}
)

// Register with Fs
func init() {
	fs.Register(&fs.RegInfo{
		Name:          "dropbox",
		Description:   "Dropbox",
		NewRepository: NewRepository,
		Translate:     translate,
		Options: append(oauthutil.SharedOptions, fs.Option{
			Name: "chunk_size",
			Help: `Upload chunk size (< 150Mi).

Any files larger than this will be uploaded in chunks of this size.`,
			Default: defaultChunkSize,
		}),
	})
}

// Options defines the configuration for this backend
type Options struct {
	ChunkSize fs.SizeSuffix `config:"chunk_size"`
}

// filesAPI is the part of the files namespace the adapter uses
type filesAPI interface {
	GetMetadata(arg *files.GetMetadataArg) (files.IsMetadata, error)
	ListFolder(arg *files.ListFolderArg) (*files.ListFolderResult, error)
	ListFolderContinue(arg *files.ListFolderContinueArg) (*files.ListFolderResult, error)
	CreateFolderV2(arg *files.CreateFolderArg) (*files.CreateFolderResult, error)
	MoveV2(arg *files.RelocationArg) (*files.RelocationResult, error)
	DeleteV2(arg *files.DeleteArg) (*files.DeleteResult, error)
	Download(arg *files.DownloadArg) (*files.FileMetadata, io.ReadCloser, error)
	Upload(arg *files.UploadArg, content io.Reader) (*files.FileMetadata, error)
	UploadSessionStart(arg *files.UploadSessionStartArg, content io.Reader) (*files.UploadSessionStartResult, error)
	UploadSessionAppendV2(arg *files.UploadSessionAppendArg, content io.Reader) error
	UploadSessionFinish(arg *files.UploadSessionFinishArg, content io.Reader) (*files.FileMetadata, error)
}

// usersAPI is the part of the users namespace the adapter uses
type usersAPI interface {
	GetCurrentAccount() (*users.FullAccount, error)
}

// authAPI is the part of the auth namespace the adapter uses
type authAPI interface {
	TokenRevoke() error
}

// clients are the namespaces of one Dropbox account
type clients struct {
	files filesAPI
	users usersAPI
	auth  authAPI
}

// connect makes the Dropbox clients, replaced in tests
var connect = func(ctx context.Context, cloud *fs.Cloud) (*clients, error) {
	oAuthClient, _, err := oauthutil.NewClient(ctx, cloud, dropboxConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to configure dropbox")
	}
	config := dropbox.Config{
		LogLevel: dropbox.LogOff, // logging in the SDK: LogOff, LogDebug, LogInfo
		Client:   oAuthClient,
	}
	return &clients{
		files: files.New(config),
		users: users.New(config),
		auth:  auth.New(config),
	}, nil
}

// Repository represents a Dropbox account
type Repository struct {
	cloud *fs.Cloud
	opt   Options
	srv   filesAPI
	users usersAPI
	auth  authAPI
	pacer *pacer.Pacer
}

// shouldRetry returns a boolean as to whether this err deserves to be
// retried.  It returns the err as a convenience
func shouldRetry(ctx context.Context, err error) (bool, error) {
	if fserrors.ContextError(ctx, &err) {
		return false, err
	}
	if err == nil {
		return false, err
	}
	errString := err.Error()
	// First check for specific errors
	if strings.Contains(errString, "insufficient_space") || strings.Contains(errString, "malformed_path") {
		return false, err
	}
	// Then handle any official Retry-After header from Dropbox's SDK
	if after, ok := rateLimited(err); ok {
		fs.Logf(nil, "Too many requests or write operations. Trying again in %v.", after)
		return true, fserrors.NewRetryAfter(err, after)
	}
	// Keep old behavior for backward compatibility
	if strings.Contains(errString, "too_many_write_operations") || strings.Contains(errString, "too_many_requests") || errString == "" {
		return true, err
	}
	return fserrors.ShouldRetry(err), err
}

// rateLimited returns how long Dropbox asked to wait if err is a rate
// limit
func rateLimited(err error) (time.Duration, bool) {
	e, ok := err.(auth.RateLimitAPIError)
	if !ok {
		return 0, false
	}
	after := time.Second
	if e.RateLimitError != nil && e.RateLimitError.RetryAfter > 0 {
		after = time.Duration(e.RateLimitError.RetryAfter) * time.Second
	}
	return after, true
}

// translate classifies the errors of the Dropbox API from their
// error summaries, eg "path/not_found/..."
func translate(err error) error {
	cause := errors.Cause(err)
	switch cause.(type) {
	case auth.AuthAPIError:
		return fserrors.Kinded(fserrors.WrongCredentials, err)
	case auth.AccessAPIError:
		return fserrors.Kinded(fserrors.Forbidden, err)
	}
	summary := cause.Error()
	switch {
	case strings.Contains(summary, "invalid_access_token"), strings.Contains(summary, "expired_access_token"):
		return fserrors.Kinded(fserrors.WrongCredentials, err)
	case strings.Contains(summary, "not_found"):
		return fserrors.Kinded(fserrors.NoSuchFile, err)
	case strings.Contains(summary, "conflict"):
		return fserrors.Kinded(fserrors.AlreadyExists, err)
	case strings.Contains(summary, "no_write_permission"), strings.Contains(summary, "insufficient_space"),
		strings.Contains(summary, "cant_move_folder_into_itself"):
		return fserrors.Kinded(fserrors.Forbidden, err)
	}
	return err
}

// checkPathLength checks each path component is short enough
func checkPathLength(name string) (err error) {
	for next := ""; len(name) > 0; name = next {
		if slash := strings.IndexRune(name, '/'); slash >= 0 {
			name, next = name[:slash], name[slash+1:]
		} else {
			next = ""
		}
		length := len([]rune(name))
		if length > maxFileNameLength {
			return fserrors.Kinded(fserrors.Fatal, errors.Errorf("name too long: %d > %d characters", length, maxFileNameLength))
		}
	}
	return nil
}

// NewRepository constructs a Repository from the cloud
func NewRepository(ctx context.Context, cloud *fs.Cloud, dispatcher fs.Repository) (fs.Repository, error) {
	opt := new(Options)
	err := configstruct.Set(cloud.Config, opt)
	if err != nil {
		return nil, err
	}
	if opt.ChunkSize <= 0 {
		opt.ChunkSize = defaultChunkSize
	}
	if opt.ChunkSize > maxChunkSize {
		return nil, errors.Errorf("chunk size too big, must be <= %v", maxChunkSize)
	}
	c, err := connect(ctx, cloud)
	if err != nil {
		return nil, err
	}
	return &Repository{
		cloud: cloud,
		opt:   *opt,
		srv:   c.files,
		users: c.users,
		auth:  c.auth,
		pacer: pacer.New(ctx).SetMinSleep(minSleep).SetMaxSleep(maxSleep).SetDecayConstant(decayConstant),
	}, nil
}

func errNotFound(p string) error {
	return fserrors.Kinded(fserrors.NoSuchFile, errors.Errorf("%q not found", p))
}

func errExists(p string) error {
	return fserrors.Kinded(fserrors.AlreadyExists, errors.Errorf("%q already exists", p))
}

// newFile makes the File node for entry
func newFile(parent *fs.Folder, entry *files.FileMetadata) *fs.File {
	return fs.NewFile(parent, entry.Name, int64(entry.Size), entry.ServerModified).WithRevision(entry.Rev)
}

// getMetadata gets the metadata for a path, nil if it isn't there
func (r *Repository) getMetadata(ctx context.Context, p string) (entry files.IsMetadata, err error) {
	if p == "" {
		return &files.FolderMetadata{}, nil
	}
	err = r.pacer.Call(ctx, func() (bool, error) {
		entry, err = r.srv.GetMetadata(files.NewGetMetadataArg(p))
		return shouldRetry(ctx, err)
	})
	if err != nil {
		switch e := errors.Cause(err).(type) {
		case files.GetMetadataAPIError:
			if e.EndpointError != nil && e.EndpointError.Path != nil && e.EndpointError.Path.Tag == files.LookupErrorNotFound {
				return nil, nil
			}
		}
		return nil, err
	}
	return entry, nil
}

// getFileMetadata gets the metadata for a file, nil if there is no
// file at p
func (r *Repository) getFileMetadata(ctx context.Context, p string) (*files.FileMetadata, error) {
	entry, err := r.getMetadata(ctx, p)
	if err != nil {
		return nil, err
	}
	fileInfo, _ := entry.(*files.FileMetadata)
	return fileInfo, nil
}

// isFolder reports whether there is a folder at p
func (r *Repository) isFolder(ctx context.Context, p string) (bool, error) {
	entry, err := r.getMetadata(ctx, p)
	if err != nil {
		return false, err
	}
	_, ok := entry.(*files.FolderMetadata)
	return ok, nil
}

// Root returns the root of the cloud
func (r *Repository) Root(ctx context.Context, cloud *fs.Cloud) (*fs.Folder, error) {
	return fs.NewRoot(cloud), nil
}

// Resolve walks path from the root
func (r *Repository) Resolve(ctx context.Context, cloud *fs.Cloud, path string) (*fs.Folder, error) {
	return fs.ResolvePath(fs.NewRoot(cloud), path), nil
}

// File returns the file name in parent with what Dropbox knows of it
func (r *Repository) File(ctx context.Context, parent *fs.Folder, name string, size int64) (*fs.File, error) {
	file := fs.NewFile(parent, name, size, time.Time{})
	info, err := r.getFileMetadata(ctx, file.Path())
	if err != nil || info == nil {
		return file, err
	}
	return newFile(parent, info), nil
}

// Folder returns the folder name in parent
func (r *Repository) Folder(ctx context.Context, parent *fs.Folder, name string) (*fs.Folder, error) {
	return fs.NewFolder(parent, name), nil
}

// Exists reports whether node is present with the same kind
func (r *Repository) Exists(ctx context.Context, node fs.Node) (bool, error) {
	switch n := node.(type) {
	case *fs.Folder:
		return r.isFolder(ctx, n.Path())
	case *fs.File:
		info, err := r.getFileMetadata(ctx, n.Path())
		return info != nil, err
	}
	return false, fs.ErrorWrongNodeType
}

// List returns the children of folder sorted by name
func (r *Repository) List(ctx context.Context, folder *fs.Folder) (nodes []fs.Node, err error) {
	var res *files.ListFolderResult
	err = r.pacer.Call(ctx, func() (bool, error) {
		res, err = r.srv.ListFolder(files.NewListFolderArg(folder.Path()))
		return shouldRetry(ctx, err)
	})
	if err != nil {
		switch e := errors.Cause(err).(type) {
		case files.ListFolderAPIError:
			if e.EndpointError != nil && e.EndpointError.Path != nil && e.EndpointError.Path.Tag == files.LookupErrorNotFound {
				return nil, errNotFound(folder.Path())
			}
		}
		return nil, errors.Wrap(err, "list folder failed")
	}
	for {
		for _, entry := range res.Entries {
			switch info := entry.(type) {
			case *files.FolderMetadata:
				nodes = append(nodes, fs.NewFolder(folder, info.Name))
			case *files.FileMetadata:
				nodes = append(nodes, newFile(folder, info))
			default:
				fs.Debugf(r.cloud, "Skipping unknown entry %T in %q", entry, folder.Path())
			}
		}
		if !res.HasMore {
			break
		}
		arg := files.NewListFolderContinueArg(res.Cursor)
		err = r.pacer.Call(ctx, func() (bool, error) {
			res, err = r.srv.ListFolderContinue(arg)
			return shouldRetry(ctx, err)
		})
		if err != nil {
			return nil, errors.Wrap(err, "list continue")
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name() < nodes[j].Name() })
	return nodes, nil
}

// Create makes folder and any missing parents
func (r *Repository) Create(ctx context.Context, folder *fs.Folder) (*fs.Folder, error) {
	if folder.IsRoot() {
		return nil, errExists(folder.Path())
	}
	if err := checkPathLength(folder.Path()); err != nil {
		return nil, err
	}
	entry, err := r.getMetadata(ctx, folder.Path())
	if err != nil {
		return nil, err
	}
	if entry != nil {
		return nil, errExists(folder.Path())
	}
	// create it, Dropbox makes any missing parents
	arg := files.NewCreateFolderArg(folder.Path())
	err = r.pacer.Call(ctx, func() (bool, error) {
		_, err = r.srv.CreateFolderV2(arg)
		return shouldRetry(ctx, err)
	})
	if err != nil {
		return nil, err
	}
	return folder, nil
}

// checkMove checks a move from source to target is possible
func (r *Repository) checkMove(ctx context.Context, source, target fs.Node) error {
	if !source.Cloud().Equal(target.Cloud()) {
		return fs.ErrorCantMoveAcrossClouds
	}
	if source.Parent() == nil || target.Parent() == nil {
		return fs.ErrorIsRoot
	}
	if err := checkPathLength(target.Path()); err != nil {
		return err
	}
	entry, err := r.getMetadata(ctx, target.Path())
	if err != nil {
		return err
	}
	if entry != nil {
		return errExists(target.Path())
	}
	ok, err := r.isFolder(ctx, target.Parent().Path())
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound(target.Parent().Path())
	}
	return nil
}

// move does a server side move
func (r *Repository) move(ctx context.Context, from, to string) (entry files.IsMetadata, err error) {
	arg := files.NewRelocationArg(from, to)
	var result *files.RelocationResult
	err = r.pacer.Call(ctx, func() (bool, error) {
		result, err = r.srv.MoveV2(arg)
		return shouldRetry(ctx, err)
	})
	if err != nil {
		return nil, errors.Wrap(err, "move failed")
	}
	return result.Metadata, nil
}

// MoveFolder moves source and everything below it to target
func (r *Repository) MoveFolder(ctx context.Context, source, target *fs.Folder) (*fs.Folder, error) {
	ok, err := r.isFolder(ctx, source.Path())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotFound(source.Path())
	}
	if err = r.checkMove(ctx, source, target); err != nil {
		return nil, err
	}
	if source.Contains(target) {
		return nil, fserrors.Kinded(fserrors.Fatal, errors.Errorf("can't move %q inside itself", source.Path()))
	}
	if _, err = r.move(ctx, source.Path(), target.Path()); err != nil {
		return nil, err
	}
	return target, nil
}

// MoveFile moves source to target
func (r *Repository) MoveFile(ctx context.Context, source, target *fs.File) (*fs.File, error) {
	info, err := r.getFileMetadata(ctx, source.Path())
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, errNotFound(source.Path())
	}
	if err = r.checkMove(ctx, source, target); err != nil {
		return nil, err
	}
	entry, err := r.move(ctx, source.Path(), target.Path())
	if err != nil {
		return nil, err
	}
	fileInfo, ok := entry.(*files.FileMetadata)
	if !ok {
		return nil, errors.Errorf("move returned %T not a file", entry)
	}
	return newFile(target.Parent(), fileInfo), nil
}

// commitInfo makes the commit of an upload of file
func commitInfo(file *fs.File, replace bool) *files.CommitInfo {
	commit := files.NewCommitInfo(file.Path())
	if replace {
		commit.Mode.Tag = files.WriteModeOverwrite
	}
	if !file.ModTime().IsZero() {
		modTime := file.ModTime().UTC().Round(time.Second)
		commit.ClientModified = &modTime
	}
	return commit
}

// checkWrite checks file can be written
func (r *Repository) checkWrite(ctx context.Context, file *fs.File, replace bool) error {
	if err := checkPathLength(file.Path()); err != nil {
		return err
	}
	ok, err := r.isFolder(ctx, file.Parent().Path())
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound(file.Parent().Path())
	}
	entry, err := r.getMetadata(ctx, file.Path())
	if err != nil {
		return err
	}
	switch entry.(type) {
	case nil:
	case *files.FileMetadata:
		if !replace {
			return errExists(file.Path())
		}
	default:
		return errExists(file.Path())
	}
	return nil
}

// Write uploads size bytes from in to file
//
// Payloads bigger than the chunk size go through an upload session.
func (r *Repository) Write(ctx context.Context, file *fs.File, in io.ReadSeeker, progress fs.ProgressListener, replace bool, size int64) (written *fs.File, err error) {
	if err = r.checkWrite(ctx, file, replace); err != nil {
		return nil, err
	}
	acc := accounting.NewAccount(ctx, fs.Upload, file.Path(), size, progress)
	defer func() { acc.Done(err) }()
	acc.Start()
	commit := commitInfo(file, replace)
	var entry *files.FileMetadata
	if size < 0 || size > int64(r.opt.ChunkSize) {
		if size < 0 {
			if size, err = in.Seek(0, io.SeekEnd); err != nil {
				return nil, errors.Wrap(err, "can't find size of upload")
			}
		}
		session := &uploadSession{repo: r, commit: commit}
		opt := chunked.DefaultOptions(ctx)
		opt.Name = file.Path()
		opt.ChunkSize = int64(r.opt.ChunkSize)
		opt.OnChunk = acc.SetBytes
		mode := chunked.ModeAdd
		if replace {
			mode = chunked.ModeOverwrite
		}
		if err = chunked.Upload(ctx, in, size, session, mode, opt); err != nil {
			return nil, err
		}
		entry = session.result
	} else {
		entry, err = r.upload(ctx, acc, in, commit, size)
		if err != nil {
			return nil, err
		}
	}
	if int64(entry.Size) != size {
		return nil, errors.Errorf("upload wrong size: got %d, want %d", entry.Size, size)
	}
	return newFile(file.Parent(), entry), nil
}

// upload sends a small file in one request, checking the content
// hash Dropbox computed
func (r *Repository) upload(ctx context.Context, acc *accounting.Account, in io.ReadSeeker, commit *files.CommitInfo, size int64) (entry *files.FileMetadata, err error) {
	hasher := dbhash.New()
	err = r.pacer.Call(ctx, func() (bool, error) {
		if _, err := in.Seek(0, io.SeekStart); err != nil {
			return false, err
		}
		acc.SetBytes(0)
		hasher.Reset()
		body := io.TeeReader(acc.WrapReader(io.LimitReader(in, size)), hasher)
		entry, err = r.srv.Upload(&files.UploadArg{CommitInfo: *commit}, body)
		return shouldRetry(ctx, err)
	})
	if err != nil {
		return nil, errors.Wrap(err, "upload failed")
	}
	if want := hex.EncodeToString(hasher.Sum(nil)); entry.ContentHash != "" && entry.ContentHash != want {
		return nil, errors.Errorf("corrupted on transfer: content hash differ %q vs %q", entry.ContentHash, want)
	}
	return entry, nil
}

// Read streams the content of file to out
func (r *Repository) Read(ctx context.Context, file *fs.File, out io.Writer, progress fs.ProgressListener) (err error) {
	arg := files.NewDownloadArg(file.Path())
	var (
		info *files.FileMetadata
		in   io.ReadCloser
	)
	err = r.pacer.Call(ctx, func() (bool, error) {
		info, in, err = r.srv.Download(arg)
		return shouldRetry(ctx, err)
	})
	if err != nil {
		return err
	}
	defer fs.CheckClose(in, &err)
	acc := accounting.NewAccount(ctx, fs.Download, file.Path(), int64(info.Size), progress)
	defer func() { acc.Done(err) }()
	acc.Start()
	_, err = io.Copy(acc.WrapWriter(out), in)
	return err
}

// Delete removes node, recursively for folders
func (r *Repository) Delete(ctx context.Context, node fs.Node) error {
	switch n := node.(type) {
	case *fs.File:
		info, err := r.getFileMetadata(ctx, n.Path())
		if err != nil {
			return err
		}
		if info == nil {
			return errNotFound(n.Path())
		}
	case *fs.Folder:
		if n.IsRoot() {
			return fs.ErrorIsRoot
		}
		ok, err := r.isFolder(ctx, n.Path())
		if err != nil {
			return err
		}
		if !ok {
			return errNotFound(n.Path())
		}
	default:
		return fs.ErrorWrongNodeType
	}
	arg := files.NewDeleteArg(node.Path())
	return r.pacer.Call(ctx, func() (bool, error) {
		_, err := r.srv.DeleteV2(arg)
		return shouldRetry(ctx, err)
	})
}

// CurrentAccount returns the email of the account
func (r *Repository) CurrentAccount(ctx context.Context, cloud *fs.Cloud) (string, error) {
	var (
		account *users.FullAccount
		err     error
	)
	err = r.pacer.Call(ctx, func() (bool, error) {
		account, err = r.users.GetCurrentAccount()
		return shouldRetry(ctx, err)
	})
	if err != nil {
		return "", errors.Wrap(err, "about failed")
	}
	if account.Email != "" {
		return account.Email, nil
	}
	if account.Name != nil {
		return account.Name.DisplayName, nil
	}
	return account.AccountId, nil
}

// Logout revokes the token in use
func (r *Repository) Logout(ctx context.Context, cloud *fs.Cloud) error {
	return r.pacer.Call(ctx, func() (bool, error) {
		err := r.auth.TokenRevoke()
		return shouldRetry(ctx, err)
	})
}

// uploadSession is a Dropbox upload session
type uploadSession struct {
	repo   *Repository
	commit *files.CommitInfo
	result *files.FileMetadata
}

// sessionError turns the errors Dropbox uses to steer an upload
// session into the ones chunked understands
func sessionError(err error) error {
	if after, ok := rateLimited(err); ok {
		return &chunked.BackoffError{After: after, Err: err}
	}
	switch e := err.(type) {
	case files.UploadSessionAppendV2APIError:
		if e.EndpointError != nil && e.EndpointError.IncorrectOffset != nil {
			return &chunked.OffsetError{Offset: int64(e.EndpointError.IncorrectOffset.CorrectOffset), Err: err}
		}
	case files.UploadSessionFinishAPIError:
		if e.EndpointError != nil && e.EndpointError.LookupFailed != nil && e.EndpointError.LookupFailed.IncorrectOffset != nil {
			return &chunked.OffsetError{Offset: int64(e.EndpointError.LookupFailed.IncorrectOffset.CorrectOffset), Err: err}
		}
	}
	return err
}

// call runs fn once, leaving the retries to chunked
func (s *uploadSession) call(ctx context.Context, fn func() error) error {
	return s.repo.pacer.CallNoRetry(ctx, func() (bool, error) {
		if err := fn(); err != nil {
			return false, sessionError(err)
		}
		return false, nil
	})
}

// Start opens the session with the first chunk
func (s *uploadSession) Start(ctx context.Context, chunk io.Reader, size int64) (sessionID string, err error) {
	var res *files.UploadSessionStartResult
	err = s.call(ctx, func() (err error) {
		res, err = s.repo.srv.UploadSessionStart(files.NewUploadSessionStartArg(), chunk)
		return err
	})
	if err != nil {
		return "", err
	}
	return res.SessionId, nil
}

// Append uploads a chunk at offset
func (s *uploadSession) Append(ctx context.Context, sessionID string, offset int64, chunk io.Reader, size int64) error {
	arg := files.NewUploadSessionAppendArg(files.NewUploadSessionCursor(sessionID, uint64(offset)))
	return s.call(ctx, func() error {
		return s.repo.srv.UploadSessionAppendV2(arg, chunk)
	})
}

// Finish uploads the last chunk and commits the file
func (s *uploadSession) Finish(ctx context.Context, sessionID string, offset int64, chunk io.Reader, size int64, mode chunked.Mode) error {
	commit := *s.commit
	commit.Mode = &files.WriteMode{Tagged: dropbox.Tagged{Tag: files.WriteModeAdd}}
	if mode == chunked.ModeOverwrite {
		commit.Mode.Tag = files.WriteModeOverwrite
	}
	arg := files.NewUploadSessionFinishArg(files.NewUploadSessionCursor(sessionID, uint64(offset)), &commit)
	return s.call(ctx, func() (err error) {
		s.result, err = s.repo.srv.UploadSessionFinish(arg, chunk)
		return err
	})
}

// Check the interfaces are satisfied
var (
	_ fs.Repository   = (*Repository)(nil)
	_ chunked.Session = (*uploadSession)(nil)
)
