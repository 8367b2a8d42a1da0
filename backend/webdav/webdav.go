// Package webdav provides an interface to the Webdav
// object storage system.
package webdav

// docs for file webdav
// https://docs.nextcloud.com/server/12/developer_manual/client_apis/WebDAV/index.html

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/backend/webdav/api"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/accounting"
	"github.com/rclone/cloudrepo/fs/config/configstruct"
	"github.com/rclone/cloudrepo/fs/config/obscure"
	"github.com/rclone/cloudrepo/fs/fserrors"
	"github.com/rclone/cloudrepo/fs/fshttp"
	"github.com/rclone/cloudrepo/lib/pacer"
	"github.com/rclone/cloudrepo/lib/rest"
)

const (
	minSleep      = 10 * time.Millisecond
	maxSleep      = 2 * time.Second
	decayConstant = 2 // bigger for slower decay, exponential

	statusMultiStatus = 207
)

// propfindBody asks for the properties nodes are made from
const propfindBody = `<?xml version="1.0"?>
<d:propfind xmlns:d="DAV:">
 <d:prop>
  <d:displayname/>
  <d:resourcetype/>
  <d:getcontentlength/>
  <d:getlastmodified/>
  <d:getetag/>
 </d:prop>
</d:propfind>
`

// quotaBody asks for the quota of the root
const quotaBody = `<?xml version="1.0"?>
<d:propfind xmlns:d="DAV:">
 <d:prop>
  <d:quota-available-bytes/>
  <d:quota-used-bytes/>
 </d:prop>
</d:propfind>
`

// Register with Fs
func init() {
	fs.Register(&fs.RegInfo{
		Name:          "webdav",
		Description:   "WebDAV",
		NewRepository: NewRepository,
		Translate:     translate,
		Options: []fs.Option{{
			Name:     "url",
			Help:     "URL of http host to connect to.\n\nE.g. https://example.com.",
			Required: true,
		}, {
			Name: "vendor",
			Help: "Name of the WebDAV site/service/software you are using: nextcloud, owncloud or other.",
		}, {
			Name: "user",
			Help: "User name.",
		}, {
			Name:       "pass",
			Help:       "Password.",
			IsPassword: true,
		}, {
			Name: "bearer_token",
			Help: "Bearer token instead of user/pass (e.g. a Macaroon).",
		}},
	})
}

// Options defines the configuration for this backend
type Options struct {
	URL         string `config:"url"`
	Vendor      string `config:"vendor"`
	User        string `config:"user"`
	Pass        string `config:"pass"`
	BearerToken string `config:"bearer_token"`
}

// Repository represents a remote webdav server
type Repository struct {
	cloud      *fs.Cloud
	opt        Options
	endpoint   *url.URL     // URL of the host
	srv        *rest.Client // the connection to the server
	pacer      *pacer.Pacer // pacer for API calls
	useOCMtime bool         // set if can use X-OC-Mtime
}

// retryErrorCodes is a slice of error codes that we will retry
var retryErrorCodes = []int{
	423, // Locked
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
	return fserrors.ShouldRetry(err) || fserrors.ShouldRetryHTTP(resp, retryErrorCodes), err
}

// translate classifies the errors of the server
func translate(err error) error {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.StatusCode {
	case http.StatusNotFound, http.StatusConflict:
		return fserrors.Kinded(fserrors.NoSuchFile, err)
	case http.StatusUnauthorized:
		return fserrors.Kinded(fserrors.WrongCredentials, err)
	case http.StatusForbidden:
		return fserrors.Kinded(fserrors.Forbidden, err)
	case http.StatusMethodNotAllowed, http.StatusPreconditionFailed:
		return fserrors.Kinded(fserrors.AlreadyExists, err)
	case http.StatusNotImplemented, http.StatusUnsupportedMediaType:
		return fserrors.Kinded(fserrors.ServerIncompatible, err)
	}
	return err
}

// errorHandler parses a non 2xx error response into an error
func errorHandler(resp *http.Response) error {
	body, err := rest.ReadBody(resp)
	if err != nil {
		return errors.Wrap(err, "error when trying to read error from body")
	}
	// Decode error response
	errResponse := new(api.Error)
	err = xml.Unmarshal(body, &errResponse)
	if err != nil {
		// set the Message to be the body if can't parse the XML
		errResponse.Message = strings.TrimSpace(string(body))
	}
	errResponse.Status = resp.Status
	errResponse.StatusCode = resp.StatusCode
	return errResponse
}

// isNotFound is true for the errors a missing path gives
func isNotFound(err error) bool {
	var apiErr *api.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// addSlash makes sure s is terminated with a / if non empty
func addSlash(s string) string {
	if s != "" && !strings.HasSuffix(s, "/") {
		s += "/"
	}
	return s
}

// filePath returns the escaped path of a node path relative to the
// endpoint
func filePath(p string) string {
	return rest.URLPathEscape(strings.TrimPrefix(p, "/"))
}

// nodePath returns the request path for node
func nodePath(node fs.Node) string {
	if _, isFolder := node.(*fs.Folder); isFolder {
		return addSlash(filePath(node.Path()))
	}
	return filePath(node.Path())
}

// NewRepository constructs a Repository from the cloud
func NewRepository(ctx context.Context, cloud *fs.Cloud, dispatcher fs.Repository) (fs.Repository, error) {
	opt := new(Options)
	err := configstruct.Set(cloud.Config, opt)
	if err != nil {
		return nil, err
	}
	if opt.URL == "" {
		return nil, errors.New("webdav: url must be set")
	}
	endpoint, err := url.Parse(addSlash(opt.URL))
	if err != nil {
		return nil, errors.Wrap(err, "webdav: bad url")
	}
	if opt.Pass != "" {
		opt.Pass, err = obscure.Reveal(opt.Pass)
		if err != nil {
			return nil, errors.Wrap(err, "webdav: couldn't decrypt password")
		}
	}
	r := &Repository{
		cloud:    cloud,
		opt:      *opt,
		endpoint: endpoint,
		srv:      rest.NewClient(fshttp.NewClient(ctx)).SetRoot(endpoint.String()),
		pacer:    pacer.New(ctx).SetMinSleep(minSleep).SetMaxSleep(maxSleep).SetDecayConstant(decayConstant),
	}
	r.srv.SetErrorHandler(errorHandler).SetMaxRedirects(fs.GetConfig(ctx).MaxRedirects)
	switch {
	case opt.BearerToken != "":
		r.srv.SetHeader("Authorization", "Bearer "+opt.BearerToken)
	case opt.User != "" || opt.Pass != "":
		r.srv.SetUserPass(opt.User, opt.Pass)
	}
	switch opt.Vendor {
	case "owncloud", "nextcloud":
		r.useOCMtime = true
	case "", "other":
	default:
		fs.Debugf(cloud, "Unknown vendor %q", opt.Vendor)
	}
	return r, nil
}

// itemIsDir returns true if the item is a directory
//
// When a client sees a resourcetype it doesn't recognize it should
// assume it is a regular non-collection resource.  [WebDav book by
// Lisa Dusseault ch 7.5.8 p170]
func itemIsDir(item *api.Response) bool {
	if t := item.Props.Type; t != nil {
		if t.Space == "DAV:" && t.Local == "collection" {
			return true
		}
		fs.Debugf(nil, "Unknown resource type %q/%q on %q", t.Space, t.Local, item.Props.Name)
	}
	// the iscollection prop is a Microsoft extension
	if t := item.Props.IsCollection; t != nil {
		switch *t {
		case "1", "true":
			return true
		}
	}
	return false
}

// propfind runs a PROPFIND on p with depth, returning the decoded
// multistatus. A server which doesn't answer 207 isn't speaking
// WebDAV.
func (r *Repository) propfind(ctx context.Context, p string, depth string, body string, result interface{}) (err error) {
	opts := rest.Opts{
		Method: "PROPFIND",
		Path:   p,
		ExtraHeaders: map[string]string{
			"Depth": depth,
		},
		ContentType: "application/xml; charset=utf-8",
	}
	var resp *http.Response
	err = r.pacer.Call(ctx, func() (bool, error) {
		opts.Body = strings.NewReader(body)
		var err error
		resp, err = r.srv.Call(ctx, &opts)
		return shouldRetry(ctx, resp, err)
	})
	if err != nil {
		return err
	}
	defer fs.CheckClose(resp.Body, &err)
	if resp.StatusCode != statusMultiStatus {
		return fserrors.Kinded(fserrors.ServerIncompatible, errors.Errorf("PROPFIND %q answered %q, not 207 Multi-Status", p, resp.Status))
	}
	if err = xml.NewDecoder(resp.Body).Decode(result); err != nil {
		return fserrors.Kinded(fserrors.ServerIncompatible, errors.Wrap(err, "bad PROPFIND response"))
	}
	return nil
}

// stat returns the properties of the resource at p, nil if there
// isn't one
func (r *Repository) stat(ctx context.Context, p string) (*api.Response, error) {
	var result api.Multistatus
	err := r.propfind(ctx, p, "0", propfindBody, &result)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(result.Responses) < 1 || !result.Responses[0].Props.StatusOK() {
		return nil, nil
	}
	return &result.Responses[0], nil
}

// newFile makes the File node for props
func newFile(parent *fs.Folder, name string, props *api.Prop) *fs.File {
	return fs.NewFile(parent, name, props.Size, time.Time(props.Modified)).WithRevision(props.Revision())
}

// Root returns the root of the cloud
func (r *Repository) Root(ctx context.Context, cloud *fs.Cloud) (*fs.Folder, error) {
	return fs.NewRoot(cloud), nil
}

// Resolve walks path from the root
func (r *Repository) Resolve(ctx context.Context, cloud *fs.Cloud, path string) (*fs.Folder, error) {
	return fs.ResolvePath(fs.NewRoot(cloud), path), nil
}

// File returns the file name in parent with what the server knows of it
func (r *Repository) File(ctx context.Context, parent *fs.Folder, name string, size int64) (*fs.File, error) {
	file := fs.NewFile(parent, name, size, time.Time{})
	item, err := r.stat(ctx, filePath(file.Path()))
	if err != nil {
		return nil, err
	}
	if item == nil || itemIsDir(item) {
		return file, nil
	}
	return newFile(parent, name, &item.Props), nil
}

// Folder returns the folder name in parent
func (r *Repository) Folder(ctx context.Context, parent *fs.Folder, name string) (*fs.Folder, error) {
	return fs.NewFolder(parent, name), nil
}

// Exists reports whether node is on the server with the same kind
func (r *Repository) Exists(ctx context.Context, node fs.Node) (bool, error) {
	item, err := r.stat(ctx, filePath(node.Path()))
	if err != nil || item == nil {
		return false, err
	}
	_, isFolder := node.(*fs.Folder)
	return itemIsDir(item) == isFolder, nil
}

// List returns the children of folder
func (r *Repository) List(ctx context.Context, folder *fs.Folder) (nodes []fs.Node, err error) {
	dir := addSlash(filePath(folder.Path()))
	var result api.Multistatus
	if err = r.propfind(ctx, dir, "1", propfindBody, &result); err != nil {
		return nil, err
	}
	baseURL, err := rest.URLJoin(r.endpoint, dir)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't join URL")
	}
	for i := range result.Responses {
		item := &result.Responses[i]
		isDir := itemIsDir(item)

		// Find name
		u, err := rest.URLJoin(baseURL, item.Href)
		if err != nil {
			fs.Errorf(folder, "URL Join failed for %q and %q: %v", baseURL, item.Href, err)
			continue
		}
		if !strings.HasPrefix(addSlash(u.Path), baseURL.Path) {
			fs.Debugf(folder, "Item with unknown path received: %q, %q", u.Path, baseURL.Path)
			continue
		}
		name := strings.Trim(u.Path[len(baseURL.Path)-1:], "/")
		// the listing contains info about itself which we ignore
		if name == "" {
			continue
		}
		if strings.Contains(name, "/") {
			fs.Debugf(folder, "Ignoring item not directly inside: %q", name)
			continue
		}
		if !item.Props.StatusOK() {
			fs.Debugf(folder, "Ignoring item with bad status %q", item.Props.Status)
			continue
		}
		if isDir {
			nodes = append(nodes, fs.NewFolder(folder, name))
		} else {
			nodes = append(nodes, newFile(folder, name, &item.Props))
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name() < nodes[j].Name() })
	return nodes, nil
}

// mkcol makes the single collection at p
func (r *Repository) mkcol(ctx context.Context, p string) error {
	opts := rest.Opts{
		Method:     "MKCOL",
		Path:       addSlash(filePath(p)),
		NoResponse: true,
	}
	return r.pacer.Call(ctx, func() (bool, error) {
		resp, err := r.srv.Call(ctx, &opts)
		return shouldRetry(ctx, resp, err)
	})
}

// Create makes folder and any missing parents
func (r *Repository) Create(ctx context.Context, folder *fs.Folder) (*fs.Folder, error) {
	var missing []*fs.Folder
	for f := folder; !f.IsRoot(); f = f.Parent() {
		item, err := r.stat(ctx, filePath(f.Path()))
		if err != nil {
			return nil, err
		}
		if item != nil {
			if f == folder || !itemIsDir(item) {
				return nil, fserrors.Kinded(fserrors.AlreadyExists, errors.Errorf("%q already exists", f.Path()))
			}
			break
		}
		missing = append(missing, f)
	}
	for i := len(missing) - 1; i >= 0; i-- {
		if err := r.mkcol(ctx, missing[i].Path()); err != nil {
			return nil, err
		}
	}
	return folder, nil
}

// move runs a MOVE which won't overwrite
func (r *Repository) move(ctx context.Context, source, target fs.Node) error {
	if source.Parent() == nil || target.Parent() == nil {
		return fs.ErrorIsRoot
	}
	item, err := r.stat(ctx, filePath(source.Path()))
	if err != nil {
		return err
	}
	_, isFolder := source.(*fs.Folder)
	if item == nil || itemIsDir(item) != isFolder {
		return fserrors.Kinded(fserrors.NoSuchFile, errors.Errorf("%q not found", source.Path()))
	}
	if item, err = r.stat(ctx, filePath(target.Path())); err != nil {
		return err
	} else if item != nil {
		return fserrors.Kinded(fserrors.AlreadyExists, errors.Errorf("%q already exists", target.Path()))
	}
	destination, err := rest.URLJoin(r.endpoint, nodePath(target))
	if err != nil {
		return err
	}
	opts := rest.Opts{
		Method:     "MOVE",
		Path:       nodePath(source),
		NoResponse: true,
		ExtraHeaders: map[string]string{
			"Destination": destination.String(),
			"Overwrite":   "F",
		},
	}
	return r.pacer.Call(ctx, func() (bool, error) {
		resp, err := r.srv.Call(ctx, &opts)
		return shouldRetry(ctx, resp, err)
	})
}

// MoveFolder moves source to target
func (r *Repository) MoveFolder(ctx context.Context, source, target *fs.Folder) (*fs.Folder, error) {
	if source.Contains(target) {
		return nil, errors.Errorf("can't move %q inside itself", source.Path())
	}
	if err := r.move(ctx, source, target); err != nil {
		return nil, err
	}
	return target, nil
}

// MoveFile moves source to target
func (r *Repository) MoveFile(ctx context.Context, source, target *fs.File) (*fs.File, error) {
	if err := r.move(ctx, source, target); err != nil {
		return nil, err
	}
	return r.File(ctx, target.Parent(), target.Name(), source.Size())
}

// contentType sniffs the start of in, leaving in rewound
func contentType(in io.ReadSeeker) string {
	mime, err := mimetype.DetectReader(in)
	if _, seekErr := in.Seek(0, io.SeekStart); seekErr != nil || err != nil {
		return "application/octet-stream"
	}
	return mime.String()
}

// Write uploads in to file with a single PUT
func (r *Repository) Write(ctx context.Context, file *fs.File, in io.ReadSeeker, progress fs.ProgressListener, replace bool, size int64) (written *fs.File, err error) {
	item, err := r.stat(ctx, filePath(file.Path()))
	if err != nil {
		return nil, err
	}
	if item != nil && (!replace || itemIsDir(item)) {
		return nil, fserrors.Kinded(fserrors.AlreadyExists, errors.Errorf("%q already exists", file.Path()))
	}
	start, err := in.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	acc := accounting.NewAccount(ctx, fs.Upload, file.Path(), size, progress)
	defer func() { acc.Done(err) }()
	acc.Start()
	opts := rest.Opts{
		Method:      "PUT",
		Path:        filePath(file.Path()),
		NoResponse:  true,
		ContentType: contentType(in),
		ExtraHeaders: map[string]string{
			"X-OC-Mtime": fmt.Sprintf("%d", time.Now().Unix()),
		},
	}
	if !r.useOCMtime {
		delete(opts.ExtraHeaders, "X-OC-Mtime")
	}
	if !replace {
		opts.ExtraHeaders["If-None-Match"] = "*"
	}
	if size >= 0 {
		opts.ContentLength = &size
	}
	err = r.pacer.Call(ctx, func() (bool, error) {
		if _, err := in.Seek(start, io.SeekStart); err != nil {
			return false, err
		}
		acc.SetBytes(0)
		opts.Body = acc.WrapReader(in)
		resp, err := r.srv.Call(ctx, &opts)
		return shouldRetry(ctx, resp, err)
	})
	if err != nil {
		return nil, err
	}
	return r.File(ctx, file.Parent(), file.Name(), size)
}

// Read streams the content of file to out
func (r *Repository) Read(ctx context.Context, file *fs.File, out io.Writer, progress fs.ProgressListener) (err error) {
	opts := rest.Opts{
		Method: "GET",
		Path:   filePath(file.Path()),
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
	if node.Parent() == nil {
		return fs.ErrorIsRoot
	}
	item, err := r.stat(ctx, filePath(node.Path()))
	if err != nil {
		return err
	}
	_, isFolder := node.(*fs.Folder)
	if item == nil || itemIsDir(item) != isFolder {
		return fserrors.Kinded(fserrors.NoSuchFile, errors.Errorf("%q not found", node.Path()))
	}
	opts := rest.Opts{
		Method:     "DELETE",
		Path:       nodePath(node),
		NoResponse: true,
	}
	return r.pacer.Call(ctx, func() (bool, error) {
		resp, err := r.srv.Call(ctx, &opts)
		return shouldRetry(ctx, resp, err)
	})
}

// CurrentAccount checks the server speaks WebDAV and accepts the
// credentials
func (r *Repository) CurrentAccount(ctx context.Context, cloud *fs.Cloud) (string, error) {
	var quota api.Quota
	if err := r.propfind(ctx, "", "0", quotaBody, &quota); err != nil {
		return "", err
	}
	if quota.Used != "" {
		fs.Debugf(cloud, "quota used %s, available %s", quota.Used, quota.Available)
	}
	if r.opt.User != "" {
		return r.opt.User, nil
	}
	return r.endpoint.Host + path.Clean("/"+r.endpoint.Path), nil
}

// Logout does nothing as the server holds no session
func (r *Repository) Logout(ctx context.Context, cloud *fs.Cloud) error {
	return nil
}

// Check the interfaces are satisfied
var _ fs.Repository = (*Repository)(nil)
