// Package drive interfaces with the Google Drive object storage system
package drive

// Drive allows several items with the same name in one folder and
// items with a / in their name. The first item listed for a name wins
// and a / in a name is shown as ／.

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/accounting"
	"github.com/rclone/cloudrepo/fs/config/configstruct"
	"github.com/rclone/cloudrepo/fs/fserrors"
	"github.com/rclone/cloudrepo/fs/fshttp"
	"github.com/rclone/cloudrepo/lib/chunked"
	"github.com/rclone/cloudrepo/lib/dircache"
	"github.com/rclone/cloudrepo/lib/oauthutil"
	"github.com/rclone/cloudrepo/lib/pacer"
	"golang.org/x/oauth2"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Constants
const (
	driveFolderType  = "application/vnd.google-apps.folder"
	googleAppsPrefix = "application/vnd.google-apps."
	timeFormatIn     = time.RFC3339
	timeFormatOut    = "2006-01-02T15:04:05.000000000Z07:00"
	defaultMinSleep  = 100 * time.Millisecond
	defaultMaxSleep  = 16 * time.Second
	scopePrefix      = "https://www.googleapis.com/auth/"
	// chunkSize is the size of the chunks created during a resumable upload and should be a power of two.
	// 1<<18 is the minimum size supported by the Google uploader, and there is no maximum.
	defaultChunkSize = 8 * fs.Mebi
	partialFields    = "id,name,size,md5Checksum,trashed,modifiedTime,mimeType,parents,version"
	listFields       = "files(" + partialFields + "),nextPageToken"
)

// Globals
var (
	// Description of how to auth for this app
	driveConfig = &oauth2.Config{
		Scopes: []string{scopePrefix + "drive"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
	}
	// revokeURL is where Logout revokes the token
	revokeURL = "https://oauth2.googleapis.com/revoke"
	// minChunkSize is the smallest resumable upload chunk accepted
	minChunkSize = 256 * fs.Kibi
)

// Register with Fs
func init() {
	fs.Register(&fs.RegInfo{
		Name:          "drive",
		Description:   "Google Drive",
		NewRepository: NewRepository,
		Translate:     translate,
		Options: append(oauthutil.SharedOptions, []fs.Option{{
			Name: "root_folder_id",
			Help: `ID of the root folder.

Leave blank normally to use the top of "My Drive".`,
			Default: "root",
		}, {
			Name:    "chunk_size",
			Help:    "Upload chunk size.\n\nMust a power of 2 >= 256k. Files above this size are uploaded in chunks.",
			Default: defaultChunkSize,
		}, {
			Name:    "use_trash",
			Help:    "Send files to the trash instead of deleting permanently.",
			Default: false,
		}, {
			Name:    "list_chunk",
			Help:    "Size of listing chunk 100-1000, 0 to disable.",
			Default: 1000,
		}}...),
	})
}

// Options defines the configuration for this backend
type Options struct {
	RootFolderID string        `config:"root_folder_id"`
	ChunkSize    fs.SizeSuffix `config:"chunk_size"`
	UseTrash     bool          `config:"use_trash"`
	ListChunk    int64         `config:"list_chunk"`
}

// service is a connection to Drive
type service struct {
	svc    *drive.Service
	client *http.Client
	ts     *oauthutil.TokenSource
}

// newService makes the Drive service on client
func newService(ctx context.Context, client *http.Client, ts *oauthutil.TokenSource, opts ...option.ClientOption) (*service, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't create Drive client")
	}
	return &service{svc: svc, client: client, ts: ts}, nil
}

// connect makes the Drive service, replaced in tests
var connect = func(ctx context.Context, cloud *fs.Cloud) (*service, error) {
	client, ts, err := oauthutil.NewClient(ctx, cloud, driveConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to configure Drive")
	}
	return newService(ctx, client, ts)
}

// Repository represents a Google Drive account
type Repository struct {
	cloud    *fs.Cloud
	opt      Options
	svc      *drive.Service
	client   *http.Client
	ts       *oauthutil.TokenSource
	pacer    *pacer.Pacer
	dirCache *dircache.DirCache
}

// shouldRetry determines whether a given err rates being retried
func shouldRetry(ctx context.Context, err error) (bool, error) {
	if fserrors.ContextError(ctx, &err) {
		return false, err
	}
	if err == nil {
		return false, nil
	}
	if fserrors.ShouldRetry(err) {
		return true, err
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code >= 500 && gerr.Code < 600 {
			// All 5xx errors should be retried
			return true, err
		}
		if gerr.Code == http.StatusTooManyRequests {
			return true, err
		}
		if len(gerr.Errors) > 0 {
			reason := gerr.Errors[0].Reason
			if reason == "rateLimitExceeded" || reason == "userRateLimitExceeded" {
				return true, err
			}
		}
	}
	return false, err
}

// translate classifies the errors of the Drive API
func translate(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	switch gerr.Code {
	case http.StatusUnauthorized:
		return fserrors.Kinded(fserrors.WrongCredentials, err)
	case http.StatusForbidden:
		return fserrors.Kinded(fserrors.Forbidden, err)
	case http.StatusNotFound:
		return fserrors.Kinded(fserrors.NoSuchFile, err)
	case http.StatusConflict:
		return fserrors.Kinded(fserrors.AlreadyExists, err)
	case http.StatusNotImplemented:
		return fserrors.Kinded(fserrors.ServerIncompatible, err)
	}
	return err
}

// Returns true of x is a power of 2 or zero
func isPowerOfTwo(x int64) bool {
	switch {
	case x == 0:
		return true
	case x < 0:
		return false
	default:
		return (x & (x - 1)) == 0
	}
}

func checkUploadChunkSize(cs fs.SizeSuffix) error {
	if !isPowerOfTwo(int64(cs)) {
		return errors.Errorf("%v isn't a power of two", cs)
	}
	if cs < minChunkSize {
		return errors.Errorf("%s is less than %s", cs, minChunkSize)
	}
	return nil
}

// toDrive turns a node name into a Drive name
func toDrive(name string) string {
	return strings.ReplaceAll(name, "／", "/")
}

// fromDrive turns a Drive name into a node name
func fromDrive(name string) string {
	return strings.ReplaceAll(name, "/", "／")
}

// escapeQuery quotes s for a search query
func escapeQuery(s string) string {
	// Escaping the backslash isn't documented but seems to work
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// NewRepository constructs a Repository from the cloud
func NewRepository(ctx context.Context, cloud *fs.Cloud, dispatcher fs.Repository) (fs.Repository, error) {
	opt := new(Options)
	err := configstruct.Set(cloud.Config, opt)
	if err != nil {
		return nil, err
	}
	if opt.RootFolderID == "" {
		opt.RootFolderID = "root"
	}
	if opt.ChunkSize <= 0 {
		opt.ChunkSize = defaultChunkSize
	}
	if err = checkUploadChunkSize(opt.ChunkSize); err != nil {
		return nil, errors.Wrap(err, "drive: chunk size")
	}
	srv, err := connect(ctx, cloud)
	if err != nil {
		return nil, err
	}
	r := &Repository{
		cloud:  cloud,
		opt:    *opt,
		svc:    srv.svc,
		client: srv.client,
		ts:     srv.ts,
		pacer:  pacer.New(ctx).SetMinSleep(defaultMinSleep).SetMaxSleep(defaultMaxSleep).SetPacer(pacer.GoogleDrivePacer),
	}
	r.dirCache = dircache.New(opt.RootFolderID, 0, r)
	return r, nil
}

// listFn is called on each item found, returning true stops the listing
type listFn func(*drive.File) bool

// list calls fn on the items inside dirID, the ones named title only
// if that isn't empty
//
// Search params: https://developers.google.com/drive/search-parameters
func (r *Repository) list(ctx context.Context, dirID, title string, fn listFn) (found bool, err error) {
	query := []string{"trashed=false", fmt.Sprintf("'%s' in parents", escapeQuery(dirID))}
	if title != "" {
		query = append(query, fmt.Sprintf("name='%s'", escapeQuery(toDrive(title))))
	}
	list := r.svc.Files.List().Q(strings.Join(query, " and ")).Fields(googleapi.Field(listFields))
	if r.opt.ListChunk > 0 {
		list.PageSize(r.opt.ListChunk)
	}
	for {
		var files *drive.FileList
		err = r.pacer.Call(ctx, func() (bool, error) {
			files, err = list.Context(ctx).Do()
			return shouldRetry(ctx, err)
		})
		if err != nil {
			return false, errors.Wrap(err, "couldn't list directory")
		}
		for _, item := range files.Files {
			item.Name = fromDrive(item.Name)
			// the = operator is case insensitive
			if title != "" && title != item.Name {
				continue
			}
			if fn(item) {
				return true, nil
			}
		}
		if files.NextPageToken == "" {
			return false, nil
		}
		list.PageToken(files.NextPageToken)
	}
}

// FindLeaf finds leaf in the folder pathID
func (r *Repository) FindLeaf(ctx context.Context, pathID, leaf string) (id string, isDir bool, found bool, err error) {
	found, err = r.list(ctx, pathID, leaf, func(item *drive.File) bool {
		id, isDir = item.Id, item.MimeType == driveFolderType
		return true
	})
	return id, isDir, found, err
}

// CreateDir makes the folder leaf in pathID
func (r *Repository) CreateDir(ctx context.Context, pathID, leaf string) (newID string, err error) {
	createInfo := &drive.File{
		Name:     toDrive(leaf),
		MimeType: driveFolderType,
		Parents:  []string{pathID},
	}
	var info *drive.File
	err = r.pacer.Call(ctx, func() (bool, error) {
		info, err = r.svc.Files.Create(createInfo).Fields("id").Context(ctx).Do()
		return shouldRetry(ctx, err)
	})
	if err != nil {
		return "", err
	}
	return info.Id, nil
}

func errNotFound(p string) error {
	return fserrors.Kinded(fserrors.NoSuchFile, errors.Errorf("%q not found", p))
}

func errExists(p string) error {
	return fserrors.Kinded(fserrors.AlreadyExists, errors.Errorf("%q already exists", p))
}

// newFile makes the File node for info
func newFile(parent *fs.Folder, info *drive.File) *fs.File {
	modTime, err := time.Parse(timeFormatIn, info.ModifiedTime)
	if err != nil {
		fs.Debugf(parent, "Failed to read mtime from object: %v", err)
	}
	return fs.NewFile(parent, fromDrive(info.Name), info.Size, modTime).WithRevision(fmt.Sprintf("%s@%d", info.Id, info.Version))
}

// find looks up the item at p, reporting whether it is there with
// the kind asked for
func (r *Repository) find(ctx context.Context, p string, wantDir bool) (id string, ok bool, err error) {
	entry, found, err := r.dirCache.Find(ctx, p)
	if err != nil || !found {
		return "", false, err
	}
	return entry.ID, entry.IsDir == wantDir, nil
}

// getInfo reads the metadata of the item id
func (r *Repository) getInfo(ctx context.Context, id string) (info *drive.File, err error) {
	err = r.pacer.Call(ctx, func() (bool, error) {
		info, err = r.svc.Files.Get(id).Fields(partialFields).Context(ctx).Do()
		return shouldRetry(ctx, err)
	})
	return info, err
}

// Root returns the root of the cloud
func (r *Repository) Root(ctx context.Context, cloud *fs.Cloud) (*fs.Folder, error) {
	return fs.NewRoot(cloud), nil
}

// Resolve walks path from the root
func (r *Repository) Resolve(ctx context.Context, cloud *fs.Cloud, path string) (*fs.Folder, error) {
	return fs.ResolvePath(fs.NewRoot(cloud), path), nil
}

// File returns the file name in parent with what Drive knows of it
//
// A cached ID costs one metadata read. Otherwise the parent is listed
// for name and the listed item is used as is.
func (r *Repository) File(ctx context.Context, parent *fs.Folder, name string, size int64) (*fs.File, error) {
	file := fs.NewFile(parent, name, size, time.Time{})
	p := file.Path()
	if entry, ok := r.dirCache.Get(p); ok {
		if entry.IsDir {
			return file, nil
		}
		info, err := r.getInfo(ctx, entry.ID)
		if fserrors.IsKind(translate(err), fserrors.NoSuchFile) || (err == nil && info.Trashed) {
			// removed behind our back
			r.dirCache.FlushDir(p)
			return file, nil
		}
		if err != nil {
			return nil, err
		}
		return newFile(parent, info), nil
	}
	parentID, err := r.folderID(ctx, parent)
	if fserrors.IsKind(err, fserrors.NoSuchFile) {
		return file, nil
	}
	if err != nil {
		return nil, err
	}
	var info *drive.File
	_, err = r.list(ctx, parentID, name, func(item *drive.File) bool {
		info = item
		return true
	})
	if err != nil {
		return nil, err
	}
	if info == nil {
		return file, nil
	}
	isDir := info.MimeType == driveFolderType
	r.dirCache.Put(p, info.Id, isDir)
	if isDir {
		return file, nil
	}
	return newFile(parent, info), nil
}

// Folder returns the folder name in parent
func (r *Repository) Folder(ctx context.Context, parent *fs.Folder, name string) (*fs.Folder, error) {
	return fs.NewFolder(parent, name), nil
}

// Exists reports whether node is present with the same kind
//
// Cached IDs are checked with the server so items removed by others
// aren't reported.
func (r *Repository) Exists(ctx context.Context, node fs.Node) (bool, error) {
	var wantDir bool
	switch n := node.(type) {
	case *fs.Folder:
		if n.IsRoot() {
			return true, nil
		}
		wantDir = true
	case *fs.File:
	default:
		return false, fs.ErrorWrongNodeType
	}
	id, ok, err := r.find(ctx, node.Path(), wantDir)
	if err != nil || !ok {
		return false, err
	}
	info, err := r.getInfo(ctx, id)
	if fserrors.IsKind(translate(err), fserrors.NoSuchFile) || (err == nil && info.Trashed) {
		r.dirCache.FlushDir(node.Path())
		return false, nil
	}
	return err == nil, err
}

// folderID finds the ID of folder, NoSuchFile if it isn't a folder
func (r *Repository) folderID(ctx context.Context, folder *fs.Folder) (string, error) {
	if folder.IsRoot() {
		return r.dirCache.RootID(), nil
	}
	id, ok, err := r.find(ctx, folder.Path(), true)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errNotFound(folder.Path())
	}
	return id, nil
}

// List returns the children of folder sorted by name
func (r *Repository) List(ctx context.Context, folder *fs.Folder) (nodes []fs.Node, err error) {
	dirID, err := r.folderID(ctx, folder)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	_, err = r.list(ctx, dirID, "", func(item *drive.File) bool {
		if seen[item.Name] {
			fs.Logf(folder, "Ignoring duplicate %q", item.Name)
			return false
		}
		seen[item.Name] = true
		switch {
		case item.MimeType == driveFolderType:
			child := fs.NewFolder(folder, item.Name)
			r.dirCache.Put(child.Path(), item.Id, true)
			nodes = append(nodes, child)
		case strings.HasPrefix(item.MimeType, googleAppsPrefix):
			fs.Debugf(folder, "Skipping Google document %q", item.Name)
		default:
			file := newFile(folder, item)
			r.dirCache.Put(file.Path(), item.Id, false)
			nodes = append(nodes, file)
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name() < nodes[j].Name() })
	return nodes, nil
}

// Create makes folder and any missing parents
func (r *Repository) Create(ctx context.Context, folder *fs.Folder) (*fs.Folder, error) {
	for f := folder; !f.IsRoot(); f = f.Parent() {
		entry, found, err := r.dirCache.Find(ctx, f.Path())
		if err != nil {
			return nil, err
		}
		if found && (f == folder || !entry.IsDir) {
			return nil, errExists(f.Path())
		}
		if found {
			break
		}
	}
	if folder.IsRoot() {
		return nil, errExists(folder.Path())
	}
	if _, err := r.dirCache.FindDir(ctx, folder.Path(), true); err != nil {
		return nil, err
	}
	return folder, nil
}

// checkMove checks a move from source to target is possible and
// returns the ID of the target parent
func (r *Repository) checkMove(ctx context.Context, source, target fs.Node) (string, error) {
	if !source.Cloud().Equal(target.Cloud()) {
		return "", fs.ErrorCantMoveAcrossClouds
	}
	if source.Parent() == nil || target.Parent() == nil {
		return "", fs.ErrorIsRoot
	}
	_, found, err := r.dirCache.Find(ctx, target.Path())
	if err != nil {
		return "", err
	}
	if found {
		return "", errExists(target.Path())
	}
	return r.folderID(ctx, target.Parent())
}

// move renames the item id to target, reparenting it if needed
func (r *Repository) move(ctx context.Context, id string, source, target fs.Node, targetParentID string) (info *drive.File, err error) {
	sourceParentID, err := r.folderID(ctx, source.Parent())
	if err != nil {
		return nil, err
	}
	update := r.svc.Files.Update(id, &drive.File{Name: toDrive(target.Name())}).Fields(partialFields)
	if sourceParentID != targetParentID {
		update.AddParents(targetParentID).RemoveParents(sourceParentID)
	}
	err = r.pacer.Call(ctx, func() (bool, error) {
		info, err = update.Context(ctx).Do()
		return shouldRetry(ctx, err)
	})
	if err != nil {
		return nil, errors.Wrap(err, "move failed")
	}
	r.dirCache.FlushDir(source.Path())
	r.dirCache.Put(target.Path(), info.Id, info.MimeType == driveFolderType)
	return info, nil
}

// MoveFolder moves source and everything below it to target
func (r *Repository) MoveFolder(ctx context.Context, source, target *fs.Folder) (*fs.Folder, error) {
	if source.IsRoot() {
		return nil, fs.ErrorIsRoot
	}
	id, ok, err := r.find(ctx, source.Path(), true)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotFound(source.Path())
	}
	parentID, err := r.checkMove(ctx, source, target)
	if err != nil {
		return nil, err
	}
	if source.Contains(target) {
		return nil, fserrors.Kinded(fserrors.Fatal, errors.Errorf("can't move %q inside itself", source.Path()))
	}
	if _, err = r.move(ctx, id, source, target, parentID); err != nil {
		return nil, err
	}
	return target, nil
}

// MoveFile moves source to target
func (r *Repository) MoveFile(ctx context.Context, source, target *fs.File) (*fs.File, error) {
	id, ok, err := r.find(ctx, source.Path(), false)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotFound(source.Path())
	}
	parentID, err := r.checkMove(ctx, source, target)
	if err != nil {
		return nil, err
	}
	info, err := r.move(ctx, id, source, target, parentID)
	if err != nil {
		return nil, err
	}
	return newFile(target.Parent(), info), nil
}

// checkWrite checks file can be written returning the ID of its
// parent and of the file being replaced if any
func (r *Repository) checkWrite(ctx context.Context, file *fs.File, replace bool) (parentID, fileID string, err error) {
	parentID, err = r.folderID(ctx, file.Parent())
	if err != nil {
		return "", "", err
	}
	entry, found, err := r.dirCache.Find(ctx, file.Path())
	if err != nil {
		return "", "", err
	}
	if found && (entry.IsDir || !replace) {
		return "", "", errExists(file.Path())
	}
	if found {
		fileID = entry.ID
	}
	return parentID, fileID, nil
}

// detectContentType sniffs the start of in, leaving it rewound
func detectContentType(in io.ReadSeeker) (string, error) {
	mtype, err := mimetype.DetectReader(in)
	if err != nil {
		return "", err
	}
	if _, err = in.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return mtype.String(), nil
}

// Write uploads size bytes from in to file
//
// Payloads bigger than the chunk size go through a resumable upload.
func (r *Repository) Write(ctx context.Context, file *fs.File, in io.ReadSeeker, progress fs.ProgressListener, replace bool, size int64) (written *fs.File, err error) {
	parentID, fileID, err := r.checkWrite(ctx, file, replace)
	if err != nil {
		return nil, err
	}
	if size < 0 {
		if size, err = in.Seek(0, io.SeekEnd); err != nil {
			return nil, errors.Wrap(err, "can't find size of upload")
		}
	}
	if _, err = in.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	contentType, err := detectContentType(in)
	if err != nil {
		return nil, errors.Wrap(err, "failed to detect content type")
	}
	acc := accounting.NewAccount(ctx, fs.Upload, file.Path(), size, progress)
	defer func() { acc.Done(err) }()
	acc.Start()

	info := &drive.File{}
	if !file.ModTime().IsZero() {
		info.ModifiedTime = file.ModTime().Format(timeFormatOut)
	}
	if fileID == "" {
		info.Name = toDrive(file.Name())
		info.Parents = []string{parentID}
	}
	var item *drive.File
	if size > int64(r.opt.ChunkSize) {
		rx := &resumableUpload{
			repo:        r,
			remote:      file.Path(),
			parentID:    parentID,
			name:        file.Name(),
			fileID:      fileID,
			info:        info,
			contentType: contentType,
			size:        size,
		}
		opt := chunked.DefaultOptions(ctx)
		opt.Name = file.Path()
		opt.ChunkSize = int64(r.opt.ChunkSize)
		opt.OnChunk = acc.SetBytes
		mode := chunked.ModeAdd
		if replace {
			mode = chunked.ModeOverwrite
		}
		if err = chunked.Upload(ctx, in, size, rx, mode, opt); err != nil {
			return nil, err
		}
		item = rx.result
	} else {
		item, err = r.upload(ctx, acc, in, size, fileID, info, contentType)
		if err != nil {
			return nil, err
		}
	}
	r.dirCache.Put(file.Path(), item.Id, false)
	if item.Size != size {
		return nil, errors.Errorf("upload wrong size: got %d, want %d", item.Size, size)
	}
	return newFile(file.Parent(), item), nil
}

// upload sends a small file in a single multipart request
func (r *Repository) upload(ctx context.Context, acc *accounting.Account, in io.ReadSeeker, size int64, fileID string, info *drive.File, contentType string) (item *drive.File, err error) {
	err = r.pacer.Call(ctx, func() (bool, error) {
		if _, err := in.Seek(0, io.SeekStart); err != nil {
			return false, err
		}
		acc.SetBytes(0)
		media := acc.WrapReader(io.LimitReader(in, size))
		opts := []googleapi.MediaOption{googleapi.ContentType(contentType), googleapi.ChunkSize(0)}
		if fileID == "" {
			item, err = r.svc.Files.Create(info).Fields(partialFields).Media(media, opts...).Context(ctx).Do()
		} else {
			item, err = r.svc.Files.Update(fileID, info).Fields(partialFields).Media(media, opts...).Context(ctx).Do()
		}
		return shouldRetry(ctx, err)
	})
	if err != nil {
		return nil, errors.Wrap(err, "upload failed")
	}
	return item, nil
}

// Read streams the content of file to out
func (r *Repository) Read(ctx context.Context, file *fs.File, out io.Writer, progress fs.ProgressListener) (err error) {
	id, ok, err := r.find(ctx, file.Path(), false)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound(file.Path())
	}
	var res *http.Response
	err = r.pacer.Call(ctx, func() (bool, error) {
		res, err = r.svc.Files.Get(id).Context(ctx).Download()
		return shouldRetry(ctx, err)
	})
	if err != nil {
		return err
	}
	defer fs.CheckClose(res.Body, &err)
	acc := accounting.NewAccount(ctx, fs.Download, file.Path(), res.ContentLength, progress)
	defer func() { acc.Done(err) }()
	acc.Start()
	_, err = io.Copy(acc.WrapWriter(out), res.Body)
	return err
}

// Delete removes node, recursively for folders
func (r *Repository) Delete(ctx context.Context, node fs.Node) (err error) {
	var wantDir bool
	switch n := node.(type) {
	case *fs.File:
	case *fs.Folder:
		if n.IsRoot() {
			return fs.ErrorIsRoot
		}
		wantDir = true
	default:
		return fs.ErrorWrongNodeType
	}
	id, ok, err := r.find(ctx, node.Path(), wantDir)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound(node.Path())
	}
	err = r.pacer.Call(ctx, func() (bool, error) {
		if r.opt.UseTrash {
			_, err = r.svc.Files.Update(id, &drive.File{Trashed: true}).Context(ctx).Do()
		} else {
			err = r.svc.Files.Delete(id).Context(ctx).Do()
		}
		return shouldRetry(ctx, err)
	})
	if err != nil {
		return err
	}
	r.dirCache.FlushDir(node.Path())
	return nil
}

// CurrentAccount returns the email of the account
func (r *Repository) CurrentAccount(ctx context.Context, cloud *fs.Cloud) (string, error) {
	var (
		about *drive.About
		err   error
	)
	err = r.pacer.Call(ctx, func() (bool, error) {
		about, err = r.svc.About.Get().Fields("user").Context(ctx).Do()
		return shouldRetry(ctx, err)
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to get Drive user")
	}
	if about.User == nil {
		return "", errors.New("no user in about")
	}
	if about.User.EmailAddress != "" {
		return about.User.EmailAddress, nil
	}
	return about.User.DisplayName, nil
}

// Logout revokes the token in use
func (r *Repository) Logout(ctx context.Context, cloud *fs.Cloud) error {
	if r.ts == nil {
		return nil
	}
	token := r.ts.Current()
	revoke := token.RefreshToken
	if revoke == "" {
		revoke = token.AccessToken
	}
	form := url.Values{"token": {revoke}}
	client := fshttp.NewClient(ctx)
	return r.pacer.Call(ctx, func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeURL, strings.NewReader(form.Encode()))
		if err != nil {
			return false, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		res, err := client.Do(req)
		if err != nil {
			return shouldRetry(ctx, err)
		}
		defer googleapi.CloseBody(res)
		return shouldRetry(ctx, googleapi.CheckResponse(res))
	})
}

// Check the interfaces are satisfied
var (
	_ fs.Repository      = (*Repository)(nil)
	_ dircache.DirCacher = (*Repository)(nil)
	_ chunked.Session    = (*resumableUpload)(nil)
	_ chunked.Aborter    = (*resumableUpload)(nil)
)
