// Package onedrive provides an interface to the Microsoft OneDrive
// object storage system.
package onedrive

// Items are addressed by path relative to the drive root, eg
// /me/drive/root:/a/b:, so no identifier cache is needed.

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/backend/onedrive/api"
	"github.com/rclone/cloudrepo/backend/onedrive/quickxorhash"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/accounting"
	"github.com/rclone/cloudrepo/fs/config/configstruct"
	"github.com/rclone/cloudrepo/fs/fserrors"
	"github.com/rclone/cloudrepo/fs/fshttp"
	"github.com/rclone/cloudrepo/lib/chunked"
	"github.com/rclone/cloudrepo/lib/oauthutil"
	"github.com/rclone/cloudrepo/lib/pacer"
	"github.com/rclone/cloudrepo/lib/rest"
	"golang.org/x/oauth2"
)

const (
	minSleep         = 10 * time.Millisecond
	maxSleep         = 2 * time.Second
	decayConstant    = 2 // bigger for slower decay, exponential
	defaultChunkSize = 10 * fs.Mebi
	// uploads up to this size go in a single PUT
	singlepartLimit = 4 * fs.Mebi
	maxPathLength   = 400

	regionGlobal = "global"
	regionUS     = "us"
	regionDE     = "de"
	regionCN     = "cn"
)

// Globals
var (
	authPath  = "/common/oauth2/v2.0/authorize"
	tokenPath = "/common/oauth2/v2.0/token"

	scopeAccess = []string{"Files.Read", "Files.ReadWrite", "Files.Read.All", "Files.ReadWrite.All", "User.Read", "offline_access"}

	graphAPIEndpoint = map[string]string{
		regionGlobal: "https://graph.microsoft.com",
		regionUS:     "https://graph.microsoft.us",
		regionDE:     "https://graph.microsoft.de",
		regionCN:     "https://microsoftgraph.chinacloudapi.cn",
	}

	authEndpoint = map[string]string{
		regionGlobal: "https://login.microsoftonline.com",
		regionUS:     "https://login.microsoftonline.us",
		regionDE:     "https://login.microsoftonline.de",
		regionCN:     "https://login.chinacloudapi.cn",
	}

	// chunkSizeMultiple is what upload fragments must be a multiple of
	chunkSizeMultiple = 320 * fs.Kibi
)

// Register with Fs
func init() {
	fs.Register(&fs.RegInfo{
		Name:          "onedrive",
		Description:   "Microsoft OneDrive",
		NewRepository: NewRepository,
		Translate:     translate,
		Options: append(oauthutil.SharedOptions, []fs.Option{{
			Name:    "region",
			Help:    "Choose national cloud region for OneDrive: global, us, de or cn.",
			Default: regionGlobal,
		}, {
			Name: "drive_id",
			Help: "The ID of the drive to use.\n\nLeave blank for the drive of the signed in user.",
		}, {
			Name: "chunk_size",
			Help: `Chunk size to upload files with - must be multiple of 320k (327,680 bytes).

Above this size files will be chunked.`,
			Default: defaultChunkSize,
		}, {
			Name:    "list_chunk",
			Help:    "Size of listing chunk.",
			Default: 1000,
		}}...),
	})
}

// Options defines the configuration for this backend
type Options struct {
	Region    string        `config:"region"`
	DriveID   string        `config:"drive_id"`
	ChunkSize fs.SizeSuffix `config:"chunk_size"`
	ListChunk int64         `config:"list_chunk"`
}

// Repository represents a OneDrive drive
type Repository struct {
	cloud  *fs.Cloud
	opt    Options
	srv    *rest.Client // the connection to the OneDrive server
	unAuth *rest.Client // no authentication connection to the OneDrive server
	pacer  *pacer.Pacer
}

// oauthConfig returns how to auth for region
func oauthConfig(region string) *oauth2.Config {
	return &oauth2.Config{
		Scopes: scopeAccess,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authEndpoint[region] + authPath,
			TokenURL: authEndpoint[region] + tokenPath,
		},
	}
}

// connect makes the authenticated client, replaced in tests
var connect = func(ctx context.Context, cloud *fs.Cloud, region string) (*http.Client, error) {
	client, _, err := oauthutil.NewClient(ctx, cloud, oauthConfig(region))
	return client, err
}

// retryErrorCodes is a slice of error codes that we will retry
var retryErrorCodes = []int{
	429, // Too Many Requests.
	500, // Internal Server Error
	502, // Bad Gateway
	503, // Service Unavailable
	504, // Gateway Timeout
	509, // Bandwidth Limit Exceeded
}

// shouldRetry returns a boolean as to whether this resp and err
// deserve to be retried.  It returns the err as a convenience
func shouldRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if fserrors.ContextError(ctx, &err) {
		return false, err
	}
	retry := false
	if resp != nil {
		switch resp.StatusCode {
		case 401:
			if len(resp.Header["Www-Authenticate"]) == 1 && strings.Contains(resp.Header["Www-Authenticate"][0], "expired_token") {
				retry = true
				fs.Debugf(nil, "Should retry: %v", err)
			}
		case 429, 503:
			// see https://docs.microsoft.com/en-us/sharepoint/dev/general-development/how-to-avoid-getting-throttled-or-blocked-in-sharepoint-online
			if value := resp.Header.Get("Retry-After"); value != "" {
				retryAfter, parseErr := strconv.Atoi(value)
				if parseErr != nil {
					fs.Debugf(nil, "Failed to parse Retry-After: %q: %v", value, parseErr)
				} else {
					fs.Debugf(nil, "Too many requests. Trying again in %d seconds.", retryAfter)
					return true, fserrors.NewRetryAfter(err, time.Duration(retryAfter)*time.Second)
				}
			}
		}
	}
	return retry || fserrors.ShouldRetry(err) || fserrors.ShouldRetryHTTP(resp, retryErrorCodes), err
}

// errorHandler parses a non 2xx error response into an error
func errorHandler(resp *http.Response) error {
	// Decode error response
	errResponse := new(api.Error)
	err := rest.DecodeJSON(resp, &errResponse)
	if err != nil {
		fs.Debugf(nil, "Couldn't decode error response: %v", err)
	}
	if errResponse.ErrorInfo.Code == "" {
		errResponse.ErrorInfo.Code = resp.Status
	}
	errResponse.StatusCode = resp.StatusCode
	return errResponse
}

// translate classifies the errors of the Graph API
func translate(err error) error {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.StatusCode {
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

// isStatus is true if err is an API error with code
func isStatus(err error, code int) bool {
	var apiErr *api.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

func checkUploadChunkSize(cs fs.SizeSuffix) error {
	if cs%chunkSizeMultiple != 0 {
		return errors.Errorf("%s is not a multiple of %s", cs, chunkSizeMultiple)
	}
	if cs < chunkSizeMultiple {
		return errors.Errorf("%s is less than %s", cs, chunkSizeMultiple)
	}
	return nil
}

// checkName rejects names OneDrive won't store
//
// https://support.microsoft.com/en-us/office/restrictions-and-limitations-in-onedrive-and-sharepoint-64883a5d-228e-48f5-b3d2-eb39e07630fa
func checkName(p, name string) error {
	switch {
	case strings.ContainsAny(name, `"*:<>?\|`):
		return fserrors.Kinded(fserrors.Fatal, errors.Errorf("%q: name contains characters OneDrive doesn't allow", p))
	case strings.TrimSpace(name) != name, strings.HasSuffix(name, "."):
		return fserrors.Kinded(fserrors.Fatal, errors.Errorf("%q: name can't start or end with a space or end with a dot", p))
	case len(p) > maxPathLength:
		return fserrors.Kinded(fserrors.Fatal, errors.Errorf("%q: path longer than %d", p, maxPathLength))
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
	if opt.Region == "" {
		opt.Region = regionGlobal
	}
	rootURL, ok := graphAPIEndpoint[opt.Region]
	if !ok {
		return nil, errors.Errorf("onedrive: unknown region %q", opt.Region)
	}
	if opt.ChunkSize <= 0 {
		opt.ChunkSize = defaultChunkSize
	}
	if err = checkUploadChunkSize(opt.ChunkSize); err != nil {
		return nil, errors.Wrap(err, "onedrive: chunk size")
	}
	client, err := connect(ctx, cloud, opt.Region)
	if err != nil {
		return nil, errors.Wrap(err, "failed to configure OneDrive")
	}
	r := &Repository{
		cloud:  cloud,
		opt:    *opt,
		srv:    rest.NewClient(client).SetRoot(rootURL + "/v1.0"),
		unAuth: rest.NewClient(fshttp.NewClient(ctx)).SetRoot(rootURL),
		pacer:  pacer.New(ctx).SetMinSleep(minSleep).SetMaxSleep(maxSleep).SetDecayConstant(decayConstant),
	}
	maxRedirects := fs.GetConfig(ctx).MaxRedirects
	r.srv.SetErrorHandler(errorHandler).SetMaxRedirects(maxRedirects)
	r.unAuth.SetErrorHandler(errorHandler).SetMaxRedirects(maxRedirects)
	return r, nil
}

// drivePath is the API path of the drive
func (r *Repository) drivePath() string {
	if r.opt.DriveID == "" {
		return "/me/drive"
	}
	return "/drives/" + rest.URLPathEscape(r.opt.DriveID)
}

// itemPath is the API path of the item at the node path p
func (r *Repository) itemPath(p string) string {
	if p == "" {
		return r.drivePath() + "/root"
	}
	return r.drivePath() + "/root:" + rest.URLPathEscape(p) + ":"
}

// getItem reads the metadata of the item at p
func (r *Repository) getItem(ctx context.Context, p string) (info *api.Item, err error) {
	opts := rest.Opts{
		Method: "GET",
		Path:   r.itemPath(p),
	}
	var resp *http.Response
	err = r.pacer.Call(ctx, func() (bool, error) {
		resp, err = r.srv.CallJSON(ctx, &opts, nil, &info)
		return shouldRetry(ctx, resp, err)
	})
	return info, err
}

// findItem is getItem reporting a missing item as not found
func (r *Repository) findItem(ctx context.Context, p string) (info *api.Item, found bool, err error) {
	info, err = r.getItem(ctx, p)
	if isStatus(err, http.StatusNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return info, true, nil
}

// folderItem reads the folder at p, NoSuchFile if it isn't one
func (r *Repository) folderItem(ctx context.Context, p string) (*api.Item, error) {
	info, found, err := r.findItem(ctx, p)
	if err != nil {
		return nil, err
	}
	if !found || !info.IsFolder() || info.IsOneNote() {
		return nil, errNotFound(p)
	}
	return info, nil
}

func errNotFound(p string) error {
	return fserrors.Kinded(fserrors.NoSuchFile, errors.Errorf("%q not found", p))
}

func errExists(p string) error {
	return fserrors.Kinded(fserrors.AlreadyExists, errors.Errorf("%q already exists", p))
}

// newFile makes the File node for info
func newFile(parent *fs.Folder, info *api.Item) *fs.File {
	return fs.NewFile(parent, info.Name, info.Size, info.ModTime()).WithRevision(info.CTag)
}

// Root returns the root of the cloud
func (r *Repository) Root(ctx context.Context, cloud *fs.Cloud) (*fs.Folder, error) {
	return fs.NewRoot(cloud), nil
}

// Resolve walks path from the root
func (r *Repository) Resolve(ctx context.Context, cloud *fs.Cloud, path string) (*fs.Folder, error) {
	return fs.ResolvePath(fs.NewRoot(cloud), path), nil
}

// File returns the file name in parent with what OneDrive knows of it
func (r *Repository) File(ctx context.Context, parent *fs.Folder, name string, size int64) (*fs.File, error) {
	file := fs.NewFile(parent, name, size, time.Time{})
	info, found, err := r.findItem(ctx, file.Path())
	if err != nil || !found || info.IsFolder() {
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
	info, found, err := r.findItem(ctx, node.Path())
	if err != nil || !found || info.IsOneNote() {
		return false, err
	}
	return info.IsFolder() == wantDir, nil
}

// listAll calls fn on every child of the folder at p
func (r *Repository) listAll(ctx context.Context, p string, fn func(*api.Item)) error {
	opts := rest.Opts{
		Method:     "GET",
		Path:       r.itemPath(p) + "/children",
		Parameters: url.Values{},
	}
	if r.opt.ListChunk > 0 {
		opts.Parameters.Set("$top", strconv.FormatInt(r.opt.ListChunk, 10))
	}
	for {
		var result api.ListChildrenResponse
		var resp *http.Response
		err := r.pacer.Call(ctx, func() (bool, error) {
			var err error
			resp, err = r.srv.CallJSON(ctx, &opts, nil, &result)
			return shouldRetry(ctx, resp, err)
		})
		if err != nil {
			return errors.Wrap(err, "couldn't list files")
		}
		for i := range result.Value {
			fn(&result.Value[i])
		}
		if result.NextLink == "" {
			return nil
		}
		// the next link is a complete URL
		opts = rest.Opts{
			Method:  "GET",
			RootURL: result.NextLink,
		}
	}
}

// List returns the children of folder sorted by name
func (r *Repository) List(ctx context.Context, folder *fs.Folder) (nodes []fs.Node, err error) {
	if !folder.IsRoot() {
		if _, err = r.folderItem(ctx, folder.Path()); err != nil {
			return nil, err
		}
	}
	err = r.listAll(ctx, folder.Path(), func(info *api.Item) {
		switch {
		case info.IsOneNote():
			fs.Debugf(folder, "Skipping OneNote notebook %q", info.Name)
		case info.IsFolder():
			nodes = append(nodes, fs.NewFolder(folder, info.Name))
		default:
			nodes = append(nodes, newFile(folder, info))
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name() < nodes[j].Name() })
	return nodes, nil
}

// createDir makes the folder leaf in the folder at parent
func (r *Repository) createDir(ctx context.Context, parent, leaf string) error {
	opts := rest.Opts{
		Method: "POST",
		Path:   r.itemPath(parent) + "/children",
	}
	mkdir := api.CreateItemRequest{
		Name:             leaf,
		ConflictBehavior: "fail",
	}
	var info *api.Item
	return r.pacer.Call(ctx, func() (bool, error) {
		resp, err := r.srv.CallJSON(ctx, &opts, &mkdir, &info)
		return shouldRetry(ctx, resp, err)
	})
}

// Create makes folder and any missing parents
func (r *Repository) Create(ctx context.Context, folder *fs.Folder) (*fs.Folder, error) {
	if folder.IsRoot() {
		return nil, errExists(folder.Path())
	}
	var missing []*fs.Folder
	for f := folder; !f.IsRoot(); f = f.Parent() {
		info, found, err := r.findItem(ctx, f.Path())
		if err != nil {
			return nil, err
		}
		if !found {
			missing = append(missing, f)
			continue
		}
		if f == folder || !info.IsFolder() {
			return nil, errExists(f.Path())
		}
		break
	}
	for i := len(missing) - 1; i >= 0; i-- {
		f := missing[i]
		if err := checkName(f.Path(), f.Name()); err != nil {
			return nil, err
		}
		if err := r.createDir(ctx, f.Parent().Path(), f.Name()); err != nil {
			return nil, err
		}
	}
	return folder, nil
}

// checkMove checks a move from source to target is possible and
// returns the target parent
func (r *Repository) checkMove(ctx context.Context, source, target fs.Node) (*api.Item, error) {
	if !source.Cloud().Equal(target.Cloud()) {
		return nil, fs.ErrorCantMoveAcrossClouds
	}
	if source.Parent() == nil || target.Parent() == nil {
		return nil, fs.ErrorIsRoot
	}
	if err := checkName(target.Path(), target.Name()); err != nil {
		return nil, err
	}
	_, found, err := r.findItem(ctx, target.Path())
	if err != nil {
		return nil, err
	}
	if found {
		return nil, errExists(target.Path())
	}
	return r.folderItem(ctx, target.Parent().Path())
}

// move renames the item at source to target
func (r *Repository) move(ctx context.Context, source, target fs.Node, parent *api.Item) (info *api.Item, err error) {
	opts := rest.Opts{
		Method: "PATCH",
		Path:   r.itemPath(source.Path()),
	}
	move := api.MoveItemRequest{
		Name:            target.Name(),
		ParentReference: &api.ItemReference{ID: parent.ID},
	}
	var resp *http.Response
	err = r.pacer.Call(ctx, func() (bool, error) {
		resp, err = r.srv.CallJSON(ctx, &opts, &move, &info)
		return shouldRetry(ctx, resp, err)
	})
	if err != nil {
		return nil, errors.Wrap(err, "move failed")
	}
	return info, nil
}

// MoveFolder moves source and everything below it to target
func (r *Repository) MoveFolder(ctx context.Context, source, target *fs.Folder) (*fs.Folder, error) {
	if source.IsRoot() {
		return nil, fs.ErrorIsRoot
	}
	if _, err := r.folderItem(ctx, source.Path()); err != nil {
		return nil, err
	}
	parent, err := r.checkMove(ctx, source, target)
	if err != nil {
		return nil, err
	}
	if source.Contains(target) {
		return nil, fserrors.Kinded(fserrors.Fatal, errors.Errorf("can't move %q inside itself", source.Path()))
	}
	if _, err = r.move(ctx, source, target, parent); err != nil {
		return nil, err
	}
	return target, nil
}

// MoveFile moves source to target
func (r *Repository) MoveFile(ctx context.Context, source, target *fs.File) (*fs.File, error) {
	info, found, err := r.findItem(ctx, source.Path())
	if err != nil {
		return nil, err
	}
	if !found || info.IsFolder() {
		return nil, errNotFound(source.Path())
	}
	parent, err := r.checkMove(ctx, source, target)
	if err != nil {
		return nil, err
	}
	info, err = r.move(ctx, source, target, parent)
	if err != nil {
		return nil, err
	}
	return newFile(target.Parent(), info), nil
}

// hashOf reads size bytes of in returning their QuickXorHash, leaving
// in rewound
func hashOf(in io.ReadSeeker, size int64) (string, error) {
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	h := quickxorhash.New()
	if _, err := io.Copy(h, io.LimitReader(in, size)); err != nil {
		return "", err
	}
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// Write uploads size bytes from in to file
//
// Payloads bigger than the chunk size go through an upload session.
func (r *Repository) Write(ctx context.Context, file *fs.File, in io.ReadSeeker, progress fs.ProgressListener, replace bool, size int64) (written *fs.File, err error) {
	if err = checkName(file.Path(), file.Name()); err != nil {
		return nil, err
	}
	if !file.Parent().IsRoot() {
		if _, err = r.folderItem(ctx, file.Parent().Path()); err != nil {
			return nil, err
		}
	}
	existing, found, err := r.findItem(ctx, file.Path())
	if err != nil {
		return nil, err
	}
	if found && (existing.IsFolder() || !replace) {
		return nil, errExists(file.Path())
	}
	if size < 0 {
		if size, err = in.Seek(0, io.SeekEnd); err != nil {
			return nil, errors.Wrap(err, "can't find size of upload")
		}
	}
	sum, err := hashOf(in, size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash upload")
	}
	acc := accounting.NewAccount(ctx, fs.Upload, file.Path(), size, progress)
	defer func() { acc.Done(err) }()
	acc.Start()

	modTime := file.ModTime()
	if modTime.IsZero() {
		modTime = time.Now()
	}
	conflict := "fail"
	if replace {
		conflict = "replace"
	}
	var info *api.Item
	if size <= int64(singlepartLimit) && size <= int64(r.opt.ChunkSize) {
		info, err = r.uploadSinglepart(ctx, acc, in, file.Path(), size, conflict, modTime)
	} else {
		info, err = r.uploadMultipart(ctx, acc, in, file.Path(), size, conflict, modTime, replace)
	}
	if err != nil {
		return nil, err
	}
	if info.Size != size {
		return nil, errors.Errorf("upload wrong size: got %d, want %d", info.Size, size)
	}
	if info.File != nil && info.File.Hashes.QuickXorHash != "" && info.File.Hashes.QuickXorHash != sum {
		return nil, fserrors.RetryErrorf("corrupted on transfer: QuickXorHash differ %q vs %q", sum, info.File.Hashes.QuickXorHash)
	}
	return newFile(file.Parent(), info), nil
}

// uploadSinglepart uploads a small file in one request then sets its
// modification time
func (r *Repository) uploadSinglepart(ctx context.Context, acc *accounting.Account, in io.ReadSeeker, p string, size int64, conflict string, modTime time.Time) (info *api.Item, err error) {
	fs.Debugf(p, "Starting singlepart upload")
	opts := rest.Opts{
		Method:        "PUT",
		Path:          r.itemPath(p) + "/content",
		ContentLength: &size,
		Parameters:    url.Values{"@microsoft.graph.conflictBehavior": {conflict}},
	}
	var resp *http.Response
	err = r.pacer.Call(ctx, func() (bool, error) {
		if _, err := in.Seek(0, io.SeekStart); err != nil {
			return false, err
		}
		acc.SetBytes(0)
		opts.Body = acc.WrapReader(io.LimitReader(in, size))
		resp, err = r.srv.CallJSON(ctx, &opts, nil, &info)
		return shouldRetry(ctx, resp, err)
	})
	if err != nil {
		return nil, errors.Wrap(err, "upload failed")
	}
	return r.setModTime(ctx, p, modTime)
}

// setModTime sets the modification time of the item at p
func (r *Repository) setModTime(ctx context.Context, p string, modTime time.Time) (info *api.Item, err error) {
	opts := rest.Opts{
		Method: "PATCH",
		Path:   r.itemPath(p),
	}
	update := api.SetFileSystemInfo{
		FileSystemInfo: api.FileSystemInfoFacet{
			CreatedDateTime:      api.Timestamp(modTime),
			LastModifiedDateTime: api.Timestamp(modTime),
		},
	}
	var resp *http.Response
	err = r.pacer.Call(ctx, func() (bool, error) {
		resp, err = r.srv.CallJSON(ctx, &opts, &update, &info)
		return shouldRetry(ctx, resp, err)
	})
	return info, err
}

// uploadMultipart uploads a file through an upload session
func (r *Repository) uploadMultipart(ctx context.Context, acc *accounting.Account, in io.ReadSeeker, p string, size int64, conflict string, modTime time.Time, replace bool) (*api.Item, error) {
	session := &uploadSession{
		repo:     r,
		remote:   p,
		size:     size,
		conflict: conflict,
		modTime:  modTime,
	}
	opt := chunked.DefaultOptions(ctx)
	opt.Name = p
	opt.ChunkSize = int64(r.opt.ChunkSize)
	opt.OnChunk = acc.SetBytes
	mode := chunked.ModeAdd
	if replace {
		mode = chunked.ModeOverwrite
	}
	if err := chunked.Upload(ctx, in, size, session, mode, opt); err != nil {
		return nil, err
	}
	return session.item, nil
}

// uploadSession is an upload session run by chunked, the session ID
// being its upload URL
type uploadSession struct {
	repo     *Repository
	remote   string
	size     int64
	conflict string
	modTime  time.Time
	item     *api.Item
}

// create starts the session returning its upload URL
func (s *uploadSession) create(ctx context.Context) (string, error) {
	opts := rest.Opts{
		Method: "POST",
		Path:   s.repo.itemPath(s.remote) + "/createUploadSession",
	}
	var request api.CreateUploadRequest
	request.Item.ConflictBehavior = s.conflict
	request.Item.FileSystemInfo.CreatedDateTime = api.Timestamp(s.modTime)
	request.Item.FileSystemInfo.LastModifiedDateTime = api.Timestamp(s.modTime)
	var response *api.CreateUploadResponse
	err := s.repo.pacer.Call(ctx, func() (bool, error) {
		resp, err := s.repo.srv.CallJSON(ctx, &opts, &request, &response)
		return shouldRetry(ctx, resp, err)
	})
	if err != nil {
		return "", err
	}
	if response.UploadURL == "" {
		return "", errors.New("no upload URL in upload session")
	}
	return response.UploadURL, nil
}

// expectedStart reads the start of the first range the server still
// wants, eg "12345-"
func expectedStart(ranges []string) (int64, error) {
	if len(ranges) != 1 {
		return 0, errors.Errorf("bad number of ranges in upload position: %v", ranges)
	}
	position := ranges[0]
	i := strings.IndexByte(position, '-')
	if i < 0 {
		return 0, errors.Errorf("no '-' in next expected range: %q", position)
	}
	pos, err := strconv.ParseInt(position[:i], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "bad expected range: %q", position)
	}
	return pos, nil
}

// getPosition gets the current position in the upload session
func (s *uploadSession) getPosition(ctx context.Context, uploadURL string) (pos int64, err error) {
	opts := rest.Opts{
		Method:  "GET",
		RootURL: uploadURL,
	}
	var info api.UploadFragmentResponse
	var resp *http.Response
	err = s.repo.pacer.Call(ctx, func() (bool, error) {
		resp, err = s.repo.srv.CallJSON(ctx, &opts, nil, &info)
		return shouldRetry(ctx, resp, err)
	})
	if err != nil {
		return 0, err
	}
	return expectedStart(info.NextExpectedRanges)
}

// fragment uploads size bytes of chunk at start
//
// A 416 means the server holds a different amount than start so its
// position is read back and returned as an OffsetError.
func (s *uploadSession) fragment(ctx context.Context, uploadURL string, start int64, chunk io.Reader, size int64) (err error) {
	fs.Debugf(s.remote, "Uploading segment %d/%d size %d", start, s.size, size)
	opts := rest.Opts{
		Method:        "PUT",
		RootURL:       uploadURL,
		ContentLength: &size,
		ContentRange:  fmt.Sprintf("bytes %d-%d/%d", start, start+size-1, s.size),
		Body:          chunk,
	}
	var resp *http.Response
	err = s.repo.pacer.CallNoRetry(ctx, func() (bool, error) {
		resp, err = s.repo.unAuth.Call(ctx, &opts)
		return shouldRetry(ctx, resp, err)
	})
	switch {
	case isStatus(err, http.StatusRequestedRangeNotSatisfiable):
		fs.Debugf(s.remote, "Received 416 error - reading current position from server: %v", err)
		pos, posErr := s.getPosition(ctx, uploadURL)
		if posErr != nil {
			return errors.Wrap(posErr, "failed to read upload position")
		}
		return &chunked.OffsetError{Offset: pos, Err: err}
	case isStatus(err, http.StatusNotFound):
		return fserrors.Kinded(fserrors.Fatal, errors.Wrapf(err, "upload session of %q expired", s.remote))
	case err != nil:
		return err
	}
	body, err := rest.ReadBody(resp)
	if err != nil {
		return fserrors.RetryError(err)
	}
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		s.item = new(api.Item)
		return json.Unmarshal(body, s.item)
	}
	var next api.UploadFragmentResponse
	if err = json.Unmarshal(body, &next); err != nil {
		return err
	}
	if len(next.NextExpectedRanges) == 0 {
		return nil
	}
	pos, err := expectedStart(next.NextExpectedRanges)
	if err != nil {
		return err
	}
	if pos != start+size {
		return &chunked.OffsetError{Offset: pos, Err: errors.Errorf("server expects %d after sending up to %d", pos, start+size)}
	}
	return nil
}

// Start creates the session and uploads the first chunk
func (s *uploadSession) Start(ctx context.Context, chunk io.Reader, size int64) (string, error) {
	uploadURL, err := s.create(ctx)
	if err != nil {
		return "", err
	}
	if err = s.fragment(ctx, uploadURL, 0, chunk, size); err != nil {
		if abortErr := s.Abort(ctx, uploadURL); abortErr != nil {
			fs.Debugf(s.remote, "Failed to cancel upload session: %v", abortErr)
		}
		return "", err
	}
	return uploadURL, nil
}

// Append uploads a chunk at offset
func (s *uploadSession) Append(ctx context.Context, uploadURL string, offset int64, chunk io.Reader, size int64) error {
	return s.fragment(ctx, uploadURL, offset, chunk, size)
}

// Finish uploads the last chunk which commits the file
func (s *uploadSession) Finish(ctx context.Context, uploadURL string, offset int64, chunk io.Reader, size int64, mode chunked.Mode) error {
	s.item = nil
	if size == 0 && offset == s.size {
		// the server has every byte so the reply committing them was
		// lost: there is no fragment left to send
		info, err := s.repo.getItem(ctx, s.remote)
		if err != nil {
			return err
		}
		if info.Size != s.size {
			return fserrors.RetryErrorf("upload of %q has %d bytes after sending %d", s.remote, info.Size, s.size)
		}
		s.item = info
		return nil
	}
	if err := s.fragment(ctx, uploadURL, offset, chunk, size); err != nil {
		return err
	}
	if s.item == nil {
		return fserrors.RetryErrorf("incomplete upload of %q", s.remote)
	}
	return nil
}

// Abort cancels the upload session
func (s *uploadSession) Abort(ctx context.Context, uploadURL string) error {
	opts := rest.Opts{
		Method:     "DELETE",
		RootURL:    uploadURL,
		NoResponse: true,
	}
	return s.repo.pacer.Call(ctx, func() (bool, error) {
		resp, err := s.repo.srv.Call(ctx, &opts)
		return shouldRetry(ctx, resp, err)
	})
}

// Read streams the content of file to out
func (r *Repository) Read(ctx context.Context, file *fs.File, out io.Writer, progress fs.ProgressListener) (err error) {
	opts := rest.Opts{
		Method: "GET",
		Path:   r.itemPath(file.Path()) + "/content",
	}
	var resp *http.Response
	err = r.pacer.Call(ctx, func() (bool, error) {
		resp, err = r.srv.Call(ctx, &opts)
		return shouldRetry(ctx, resp, err)
	})
	if err != nil {
		return err
	}
	defer fs.CheckClose(resp.Body, &err)
	acc := accounting.NewAccount(ctx, fs.Download, file.Path(), resp.ContentLength, progress)
	defer func() { acc.Done(err) }()
	acc.Start()
	_, err = io.Copy(acc.WrapWriter(out), resp.Body)
	return err
}

// Delete removes node, recursively for folders
func (r *Repository) Delete(ctx context.Context, node fs.Node) error {
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
	info, found, err := r.findItem(ctx, node.Path())
	if err != nil {
		return err
	}
	if !found || info.IsFolder() != wantDir {
		return errNotFound(node.Path())
	}
	opts := rest.Opts{
		Method:     "DELETE",
		Path:       r.itemPath(node.Path()),
		NoResponse: true,
	}
	return r.pacer.Call(ctx, func() (bool, error) {
		resp, err := r.srv.Call(ctx, &opts)
		return shouldRetry(ctx, resp, err)
	})
}

// CurrentAccount returns the name the user signs in with
func (r *Repository) CurrentAccount(ctx context.Context, cloud *fs.Cloud) (string, error) {
	opts := rest.Opts{
		Method: "GET",
		Path:   "/me",
	}
	var user api.User
	err := r.pacer.Call(ctx, func() (bool, error) {
		resp, err := r.srv.CallJSON(ctx, &opts, nil, &user)
		return shouldRetry(ctx, resp, err)
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to get OneDrive user")
	}
	for _, name := range []string{user.Mail, user.UserPrincipalName, user.DisplayName} {
		if name != "" {
			return name, nil
		}
	}
	return "", errors.New("no name for OneDrive user")
}

// Logout invalidates the refresh tokens of the user
func (r *Repository) Logout(ctx context.Context, cloud *fs.Cloud) error {
	opts := rest.Opts{
		Method:     "POST",
		Path:       "/me/revokeSignInSessions",
		NoResponse: true,
	}
	return r.pacer.Call(ctx, func() (bool, error) {
		resp, err := r.srv.Call(ctx, &opts)
		return shouldRetry(ctx, resp, err)
	})
}

// Check the interfaces are satisfied
var (
	_ fs.Repository   = (*Repository)(nil)
	_ chunked.Session = (*uploadSession)(nil)
	_ chunked.Aborter = (*uploadSession)(nil)
)
