// Package memory provides an interface to an in memory storage system
package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/accounting"
	"github.com/rclone/cloudrepo/fs/config/configstruct"
	"github.com/rclone/cloudrepo/fs/fserrors"
	"github.com/rclone/cloudrepo/lib/chunked"
)

var (
	// the storage outlives the adapters, keyed by cloud
	stores = newStoresInfo()
)

// Register with Fs
func init() {
	fs.Register(&fs.RegInfo{
		Name:          "memory",
		Description:   "In memory storage system.",
		NewRepository: NewRepository,
		Local:         true,
		Options: []fs.Option{{
			Name: "user",
			Help: "Account name reported by about.",
		}, {
			Name:    "chunk_size",
			Help:    "Uploads bigger than this are sent in chunks.",
			Default: fs.SizeSuffix(0),
		}},
	})
}

// Options defines the configuration for this backend
type Options struct {
	User      string        `config:"user"`
	ChunkSize fs.SizeSuffix `config:"chunk_size"`
}

// Repository is an adapter over an in memory store
type Repository struct {
	cloud *fs.Cloud
	opt   Options
	store *storeInfo
}

// storesInfo holds the stores of all the clouds
type storesInfo struct {
	mu     sync.Mutex
	stores map[string]*storeInfo
}

func newStoresInfo() *storesInfo {
	return &storesInfo{
		stores: make(map[string]*storeInfo, 16),
	}
}

// getStore returns the store for key, making it if necessary
func (si *storesInfo) getStore(key string) *storeInfo {
	si.mu.Lock()
	defer si.mu.Unlock()
	s := si.stores[key]
	if s == nil {
		s = newStoreInfo()
		si.stores[key] = s
	}
	return s
}

// Reset forgets the content of every memory cloud
func Reset() {
	stores.mu.Lock()
	stores.stores = make(map[string]*storeInfo, 16)
	stores.mu.Unlock()
}

// storeInfo is the content of one cloud
//
// Folders are kept explicitly so empty folders exist. The root "" is
// always present.
type storeInfo struct {
	mu      sync.RWMutex
	folders map[string]time.Time
	objects map[string]*objectData
}

func newStoreInfo() *storeInfo {
	return &storeInfo{
		folders: map[string]time.Time{"": {}},
		objects: make(map[string]*objectData, 16),
	}
}

// the object data and metadata
type objectData struct {
	modTime time.Time
	hash    string
	data    []byte
}

func newObjectData(data []byte) *objectData {
	sum := md5.Sum(data)
	return &objectData{
		modTime: time.Now(),
		hash:    hex.EncodeToString(sum[:]),
		data:    data,
	}
}

// NewRepository constructs a Repository from the cloud
func NewRepository(ctx context.Context, cloud *fs.Cloud, dispatcher fs.Repository) (fs.Repository, error) {
	opt := new(Options)
	err := configstruct.Set(cloud.Config, opt)
	if err != nil {
		return nil, err
	}
	if opt.ChunkSize <= 0 {
		opt.ChunkSize = fs.GetConfig(ctx).ChunkSize
	}
	return &Repository{
		cloud: cloud,
		opt:   *opt,
		store: stores.getStore(cloud.Key()),
	}, nil
}

func errNotFound(path string) error {
	return fserrors.Kinded(fserrors.NoSuchFile, errors.Errorf("%q not found", path))
}

func errExists(path string) error {
	return fserrors.Kinded(fserrors.AlreadyExists, errors.Errorf("%q already exists", path))
}

// _exists reports whether anything is at path
//
// mu must be held
func (s *storeInfo) _exists(path string) bool {
	_, isFolder := s.folders[path]
	_, isObject := s.objects[path]
	return isFolder || isObject
}

// file makes the File node for od
func (r *Repository) file(parent *fs.Folder, name string, od *objectData) *fs.File {
	return fs.NewFile(parent, name, int64(len(od.data)), od.modTime).WithRevision(od.hash)
}

// Root returns the root of the cloud
func (r *Repository) Root(ctx context.Context, cloud *fs.Cloud) (*fs.Folder, error) {
	return fs.NewRoot(cloud), nil
}

// Resolve walks path from the root
func (r *Repository) Resolve(ctx context.Context, cloud *fs.Cloud, path string) (*fs.Folder, error) {
	return fs.ResolvePath(fs.NewRoot(cloud), path), nil
}

// File returns the file name in parent
func (r *Repository) File(ctx context.Context, parent *fs.Folder, name string, size int64) (*fs.File, error) {
	r.store.mu.RLock()
	od := r.store.objects[parent.Path()+"/"+name]
	r.store.mu.RUnlock()
	if od != nil {
		return r.file(parent, name, od), nil
	}
	return fs.NewFile(parent, name, size, time.Time{}), nil
}

// Folder returns the folder name in parent
func (r *Repository) Folder(ctx context.Context, parent *fs.Folder, name string) (*fs.Folder, error) {
	return fs.NewFolder(parent, name), nil
}

// Exists reports whether node is present with the same kind
func (r *Repository) Exists(ctx context.Context, node fs.Node) (bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	switch node.(type) {
	case *fs.Folder:
		_, ok := r.store.folders[node.Path()]
		return ok, nil
	case *fs.File:
		_, ok := r.store.objects[node.Path()]
		return ok, nil
	}
	return false, fs.ErrorWrongNodeType
}

// List returns the children of folder sorted by name
func (r *Repository) List(ctx context.Context, folder *fs.Folder) (nodes []fs.Node, err error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if _, ok := r.store.folders[folder.Path()]; !ok {
		return nil, errNotFound(folder.Path())
	}
	prefix := folder.Path() + "/"
	for path := range r.store.folders {
		if strings.HasPrefix(path, prefix) && !strings.Contains(path[len(prefix):], "/") {
			nodes = append(nodes, fs.NewFolder(folder, path[len(prefix):]))
		}
	}
	for path, od := range r.store.objects {
		if strings.HasPrefix(path, prefix) && !strings.Contains(path[len(prefix):], "/") {
			nodes = append(nodes, r.file(folder, path[len(prefix):], od))
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name() < nodes[j].Name() })
	return nodes, nil
}

// Create makes folder and any missing parents
func (r *Repository) Create(ctx context.Context, folder *fs.Folder) (*fs.Folder, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store._exists(folder.Path()) {
		return nil, errExists(folder.Path())
	}
	var missing []string
	for f := folder; !f.IsRoot(); f = f.Parent() {
		if _, isObject := r.store.objects[f.Path()]; isObject {
			return nil, errExists(f.Path())
		}
		if _, ok := r.store.folders[f.Path()]; ok {
			break
		}
		missing = append(missing, f.Path())
	}
	now := time.Now()
	for _, path := range missing {
		r.store.folders[path] = now
	}
	return folder, nil
}

// _checkMove checks a move from source to target is possible
//
// mu must be held
func (r *Repository) _checkMove(source, target fs.Node) error {
	if !source.Cloud().Equal(target.Cloud()) {
		return fs.ErrorCantMoveAcrossClouds
	}
	if source.Parent() == nil || target.Parent() == nil {
		return fs.ErrorIsRoot
	}
	if r.store._exists(target.Path()) {
		return errExists(target.Path())
	}
	if _, ok := r.store.folders[target.Parent().Path()]; !ok {
		return errNotFound(target.Parent().Path())
	}
	return nil
}

// MoveFolder moves source and everything below it to target
func (r *Repository) MoveFolder(ctx context.Context, source, target *fs.Folder) (*fs.Folder, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.folders[source.Path()]; !ok {
		return nil, errNotFound(source.Path())
	}
	if err := r._checkMove(source, target); err != nil {
		return nil, err
	}
	if source.Contains(target) {
		return nil, fserrors.Kinded(fserrors.Fatal, errors.Errorf("can't move %q inside itself", source.Path()))
	}
	rename := func(path string) (string, bool) {
		if path == source.Path() {
			return target.Path(), true
		}
		if strings.HasPrefix(path, source.Path()+"/") {
			return target.Path() + path[len(source.Path()):], true
		}
		return "", false
	}
	for path, modTime := range r.store.folders {
		if newPath, ok := rename(path); ok {
			delete(r.store.folders, path)
			r.store.folders[newPath] = modTime
		}
	}
	for path, od := range r.store.objects {
		if newPath, ok := rename(path); ok {
			delete(r.store.objects, path)
			r.store.objects[newPath] = od
		}
	}
	return target, nil
}

// MoveFile moves source to target
func (r *Repository) MoveFile(ctx context.Context, source, target *fs.File) (*fs.File, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	od := r.store.objects[source.Path()]
	if od == nil {
		return nil, errNotFound(source.Path())
	}
	if err := r._checkMove(source, target); err != nil {
		return nil, err
	}
	delete(r.store.objects, source.Path())
	r.store.objects[target.Path()] = od
	return r.file(target.Parent(), target.Name(), od), nil
}

// put stores data at file's path
func (r *Repository) put(file *fs.File, data []byte, replace bool) (*fs.File, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.folders[file.Parent().Path()]; !ok {
		return nil, errNotFound(file.Parent().Path())
	}
	if _, isFolder := r.store.folders[file.Path()]; isFolder {
		return nil, errExists(file.Path())
	}
	if _, isObject := r.store.objects[file.Path()]; isObject && !replace {
		return nil, errExists(file.Path())
	}
	od := newObjectData(data)
	r.store.objects[file.Path()] = od
	return r.file(file.Parent(), file.Name(), od), nil
}

// Write uploads size bytes from in to file
//
// Payloads bigger than the chunk size go through an upload session.
func (r *Repository) Write(ctx context.Context, file *fs.File, in io.ReadSeeker, progress fs.ProgressListener, replace bool, size int64) (written *fs.File, err error) {
	if !replace {
		if ok, _ := r.Exists(ctx, file); ok {
			return nil, errExists(file.Path())
		}
	}
	acc := accounting.NewAccount(ctx, fs.Upload, file.Path(), size, progress)
	defer func() { acc.Done(err) }()
	acc.Start()
	if size >= 0 && size > int64(r.opt.ChunkSize) {
		session := &uploadSession{repo: r, file: file}
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
		return session.result, nil
	}
	var buf bytes.Buffer
	if _, err = io.Copy(&buf, acc.WrapReader(in)); err != nil {
		return nil, err
	}
	if size >= 0 && int64(buf.Len()) != size {
		return nil, errors.Errorf("wrote %d bytes, expected %d", buf.Len(), size)
	}
	return r.put(file, buf.Bytes(), replace)
}

// Read streams the content of file to out
func (r *Repository) Read(ctx context.Context, file *fs.File, out io.Writer, progress fs.ProgressListener) (err error) {
	r.store.mu.RLock()
	od := r.store.objects[file.Path()]
	r.store.mu.RUnlock()
	if od == nil {
		return errNotFound(file.Path())
	}
	acc := accounting.NewAccount(ctx, fs.Download, file.Path(), int64(len(od.data)), progress)
	defer func() { acc.Done(err) }()
	acc.Start()
	_, err = io.Copy(acc.WrapWriter(out), bytes.NewReader(od.data))
	return err
}

// Delete removes node, recursively for folders
func (r *Repository) Delete(ctx context.Context, node fs.Node) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	switch n := node.(type) {
	case *fs.File:
		if _, ok := r.store.objects[n.Path()]; !ok {
			return errNotFound(n.Path())
		}
		delete(r.store.objects, n.Path())
	case *fs.Folder:
		if n.IsRoot() {
			return fs.ErrorIsRoot
		}
		if _, ok := r.store.folders[n.Path()]; !ok {
			return errNotFound(n.Path())
		}
		prefix := n.Path() + "/"
		for path := range r.store.folders {
			if path == n.Path() || strings.HasPrefix(path, prefix) {
				delete(r.store.folders, path)
			}
		}
		for path := range r.store.objects {
			if strings.HasPrefix(path, prefix) {
				delete(r.store.objects, path)
			}
		}
	default:
		return fs.ErrorWrongNodeType
	}
	return nil
}

// CurrentAccount returns the configured user
func (r *Repository) CurrentAccount(ctx context.Context, cloud *fs.Cloud) (string, error) {
	if r.opt.User != "" {
		return r.opt.User, nil
	}
	return cloud.String(), nil
}

// Logout does nothing as there is no session
func (r *Repository) Logout(ctx context.Context, cloud *fs.Cloud) error {
	return nil
}

// uploadSession collects a chunked upload in memory
type uploadSession struct {
	repo   *Repository
	file   *fs.File
	id     string
	buf    bytes.Buffer
	result *fs.File
}

func (s *uploadSession) receive(offset int64, chunk io.Reader, size int64) error {
	if offset != int64(s.buf.Len()) {
		return &chunked.OffsetError{Offset: int64(s.buf.Len())}
	}
	n, err := io.CopyN(&s.buf, chunk, size)
	if err != nil {
		s.buf.Truncate(int(offset))
		return errors.Wrapf(err, "short chunk: %d of %d bytes", n, size)
	}
	return nil
}

// Start opens the session
func (s *uploadSession) Start(ctx context.Context, chunk io.Reader, size int64) (string, error) {
	s.id = uuid.New().String()
	s.buf.Reset()
	if err := s.receive(0, chunk, size); err != nil {
		return "", err
	}
	return s.id, nil
}

// Append adds a chunk
func (s *uploadSession) Append(ctx context.Context, sessionID string, offset int64, chunk io.Reader, size int64) error {
	if sessionID != s.id {
		return errors.Errorf("unknown upload session %q", sessionID)
	}
	return s.receive(offset, chunk, size)
}

// Finish adds the last chunk and stores the file
func (s *uploadSession) Finish(ctx context.Context, sessionID string, offset int64, chunk io.Reader, size int64, mode chunked.Mode) (err error) {
	if err = s.Append(ctx, sessionID, offset, chunk, size); err != nil {
		return err
	}
	s.result, err = s.repo.put(s.file, append([]byte(nil), s.buf.Bytes()...), mode == chunked.ModeOverwrite)
	return err
}

// Check the interfaces are satisfied
var (
	_ fs.Repository   = (*Repository)(nil)
	_ chunked.Session = (*uploadSession)(nil)
)
