// Package dispatch routes repository operations to the adapter of the
// cloud each node belongs to.
//
// One adapter is kept per cloud identity. It is made on first use by
// the first registered backend which supports the cloud and dropped
// when it goes unused for a while, after a logout, when its
// credentials are rejected or when Invalidate is called. Dropping the
// adapter of a cloud also drops the adapters of every overlay stored
// in it.
package dispatch

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/accounting"
	"github.com/rclone/cloudrepo/fs/contentcache"
	"github.com/rclone/cloudrepo/fs/fserrors"
	"github.com/rclone/cloudrepo/fs/translate"
	"github.com/rclone/cloudrepo/lib/cache"
	"github.com/rclone/cloudrepo/lib/netcheck"
	"golang.org/x/sync/singleflight"
)

// Reasons an adapter is dropped
const (
	ReasonExpired     = cache.ReasonExpired
	ReasonCredentials = "credentials rejected"
	ReasonLogout      = "logout"
	ReasonInvalidated = "invalidated"
	ReasonCascade     = "underlying cloud dropped"
)

// Options for New
type Options struct {
	Metrics  *Metrics          // nil makes unregistered metrics
	NetCheck *netcheck.Checker // nil makes one from the config
}

// Dispatcher is a fs.Repository over every registered backend
type Dispatcher struct {
	delegates *cache.Cache[*delegate] // by cloud key
	group     singleflight.Group
	check     *netcheck.Checker
	metrics   *Metrics
	cacheDir  string
	cacheMax  int64

	contentMu sync.Mutex
	content   map[string]*contentcache.Cache // by backend name
}

// delegate is the live adapter of one cloud
type delegate struct {
	cloud *fs.Cloud
	info  *fs.RegInfo
	repo  fs.Repository
}

// New makes a Dispatcher configured from ctx
func New(ctx context.Context, opt Options) *Dispatcher {
	ci := fs.GetConfig(ctx)
	if opt.Metrics == nil {
		opt.Metrics = NewMetrics("cloudrepo")
	}
	if opt.NetCheck == nil {
		opt.NetCheck = netcheck.New(ctx)
	}
	expire := ci.CacheExpire
	if expire <= 0 {
		expire = 100 * 365 * 24 * time.Hour
	}
	d := &Dispatcher{
		check:    opt.NetCheck,
		metrics:  opt.Metrics,
		cacheDir: ci.CacheDir,
		cacheMax: int64(ci.CacheMaxSize),
		content:  make(map[string]*contentcache.Cache),
	}
	d.delegates = cache.New[*delegate]().SetExpireDuration(expire).SetExpireInterval(expire / 2)
	d.delegates.SetFinalizer(d.finalize)
	return d
}

// finalize is called as adapters leave the registry
func (d *Dispatcher) finalize(key string, dl *delegate, reason string) {
	if reason != cache.ReasonExpired {
		return
	}
	fs.Debugf(dl.cloud, "dropping unused %s adapter", dl.info.Name)
	d.metrics.Evicted.WithLabelValues(dl.info.Name, ReasonExpired).Inc()
}

// Close drops every adapter and closes the content caches
func (d *Dispatcher) Close() error {
	d.delegates.Clear()
	d.contentMu.Lock()
	defer d.contentMu.Unlock()
	var err error
	for name, c := range d.content {
		if c == nil {
			continue
		}
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
		delete(d.content, name)
	}
	return err
}

// Registered reports whether cloud has a live adapter
func (d *Dispatcher) Registered(cloud *fs.Cloud) bool {
	_, found := d.delegates.GetMaybe(cloud.Key())
	return found
}

// contentCache returns the content cache for backend, nil if caching
// is off or the cache can't be opened
func (d *Dispatcher) contentCache(backend string) *contentcache.Cache {
	if d.cacheDir == "" || d.cacheMax <= 0 {
		return nil
	}
	d.contentMu.Lock()
	defer d.contentMu.Unlock()
	if c, found := d.content[backend]; found {
		return c
	}
	c, err := contentcache.Open(filepath.Join(d.cacheDir, backend), d.cacheMax)
	if err != nil {
		fs.Errorf(backend, "content cache disabled: %v", err)
		c = nil
	}
	d.content[backend] = c
	return c
}

// construct makes the adapter for cloud
func (d *Dispatcher) construct(ctx context.Context, cloud *fs.Cloud, info *fs.RegInfo) (*delegate, error) {
	repo, err := info.NewRepository(ctx, cloud, d)
	if err != nil {
		return nil, translate.Classify(ctx, info.Translate, "connect", "", err)
	}
	if !info.Local {
		if c := d.contentCache(info.Name); c != nil {
			repo = contentcache.New(repo, c)
		}
	}
	d.metrics.Constructed.WithLabelValues(info.Name).Inc()
	fs.Debugf(cloud, "made %s adapter", info.Name)
	return &delegate{
		cloud: cloud,
		info:  info,
		repo:  translate.New(repo, info.Translate),
	}, nil
}

// delegate returns the adapter for cloud making it if necessary,
// pinned until unpin is called. Concurrent callers for one cloud share
// a single construction.
func (d *Dispatcher) delegate(ctx context.Context, cloud *fs.Cloud, info *fs.RegInfo) (dl *delegate, unpin func(), err error) {
	key := cloud.Key()
	if dl, unpin, found := d.delegates.PinMaybe(key); found {
		return dl, unpin, nil
	}
	v, err, _ := d.group.Do(key, func() (interface{}, error) {
		return d.delegates.Get(key, func(key string) (*delegate, error) {
			return d.construct(ctx, cloud, info)
		})
	})
	if err != nil {
		return nil, nil, err
	}
	dl = v.(*delegate)
	if stored, unpin, found := d.delegates.PinMaybe(key); found && stored == dl {
		return dl, unpin, nil
	} else if found {
		unpin()
	}
	// evicted already or not cached at all
	return dl, func() {}, nil
}

// evict drops the adapter stored under key and, transitively, the
// adapters of the overlays stored in it
func (d *Dispatcher) evict(key string, reason string) {
	if dl, found := d.delegates.GetMaybe(key); found && d.delegates.Delete(key) {
		fs.Infof(dl.cloud, "dropped %s adapter: %s", dl.info.Name, reason)
		d.metrics.Evicted.WithLabelValues(dl.info.Name, reason).Inc()
	}
	var overlays []*delegate
	d.delegates.DeleteFunc(func(k string, dl *delegate) bool {
		if dl.cloud.Underlying != nil && dl.cloud.Underlying.Key() == key {
			overlays = append(overlays, dl)
			return true
		}
		return false
	})
	for _, dl := range overlays {
		fs.Infof(dl.cloud, "dropped %s adapter: %s", dl.info.Name, ReasonCascade)
		d.metrics.Evicted.WithLabelValues(dl.info.Name, ReasonCascade).Inc()
		d.evict(dl.cloud.Key(), ReasonCascade)
	}
}

// Invalidate drops the adapter of cloud, for instance because its
// configuration changed
func (d *Dispatcher) Invalidate(cloud *fs.Cloud) {
	d.evict(cloud.Key(), ReasonInvalidated)
}

// call runs fn against the adapter of cloud
//
// The network is checked first unless skipNetCheck is set or the
// backend is local. A WrongCredentials failure drops the adapter so
// the next call authenticates afresh.
func (d *Dispatcher) call(ctx context.Context, cloud *fs.Cloud, op, path string, skipNetCheck bool, fn func(repo fs.Repository) error) error {
	info := fs.MustFind(cloud)
	d.metrics.Operations.WithLabelValues(info.Name, op).Inc()
	err := d.run(ctx, cloud, info, op, path, skipNetCheck, fn)
	if err != nil {
		kind := fserrors.KindOf(err)
		d.metrics.Errors.WithLabelValues(info.Name, kind.String()).Inc()
		if kind == fserrors.WrongCredentials {
			d.evict(cloud.Key(), ReasonCredentials)
		}
	}
	return err
}

func (d *Dispatcher) run(ctx context.Context, cloud *fs.Cloud, info *fs.RegInfo, op, path string, skipNetCheck bool, fn func(repo fs.Repository) error) error {
	if !skipNetCheck && !info.Local {
		if err := d.check.Check(ctx); err != nil {
			return translate.Classify(ctx, nil, op, path, err)
		}
	}
	dl, unpin, err := d.delegate(ctx, cloud, info)
	if err != nil {
		return err
	}
	defer unpin()
	return fn(dl.repo)
}

// throttle wraps a progress listener so it isn't flooded
func throttle(progress fs.ProgressListener) fs.ProgressListener {
	if progress == nil {
		return fs.NoProgress
	}
	return accounting.NewThrottle(progress)
}

// crossCloud is the error for a move between two clouds
func crossCloud(source fs.Node) error {
	return fserrors.New(fserrors.Fatal, "move", source.Path(), fs.ErrorCantMoveAcrossClouds)
}

// Root returns the root folder of cloud
func (d *Dispatcher) Root(ctx context.Context, cloud *fs.Cloud) (root *fs.Folder, err error) {
	err = d.call(ctx, cloud, "root", "", false, func(repo fs.Repository) (err error) {
		root, err = repo.Root(ctx, cloud)
		return err
	})
	return root, err
}

// Resolve walks path from the root of cloud. It works offline.
func (d *Dispatcher) Resolve(ctx context.Context, cloud *fs.Cloud, path string) (folder *fs.Folder, err error) {
	err = d.call(ctx, cloud, "resolve", path, true, func(repo fs.Repository) (err error) {
		folder, err = repo.Resolve(ctx, cloud, path)
		return err
	})
	return folder, err
}

// File returns the file name in parent
func (d *Dispatcher) File(ctx context.Context, parent *fs.Folder, name string, size int64) (file *fs.File, err error) {
	err = d.call(ctx, parent.Cloud(), "file", parent.Path()+"/"+name, false, func(repo fs.Repository) (err error) {
		file, err = repo.File(ctx, parent, name, size)
		return err
	})
	return file, err
}

// Folder returns the folder name in parent
func (d *Dispatcher) Folder(ctx context.Context, parent *fs.Folder, name string) (folder *fs.Folder, err error) {
	err = d.call(ctx, parent.Cloud(), "folder", parent.Path()+"/"+name, false, func(repo fs.Repository) (err error) {
		folder, err = repo.Folder(ctx, parent, name)
		return err
	})
	return folder, err
}

// Exists reports whether node is present
func (d *Dispatcher) Exists(ctx context.Context, node fs.Node) (ok bool, err error) {
	err = d.call(ctx, node.Cloud(), "exists", node.Path(), false, func(repo fs.Repository) (err error) {
		ok, err = repo.Exists(ctx, node)
		return err
	})
	return ok, err
}

// List returns the children of folder
func (d *Dispatcher) List(ctx context.Context, folder *fs.Folder) (nodes []fs.Node, err error) {
	err = d.call(ctx, folder.Cloud(), "list", folder.Path(), false, func(repo fs.Repository) (err error) {
		nodes, err = repo.List(ctx, folder)
		return err
	})
	return nodes, err
}

// Create makes folder
func (d *Dispatcher) Create(ctx context.Context, folder *fs.Folder) (created *fs.Folder, err error) {
	err = d.call(ctx, folder.Cloud(), "create", folder.Path(), false, func(repo fs.Repository) (err error) {
		created, err = repo.Create(ctx, folder)
		return err
	})
	return created, err
}

// MoveFolder moves source to target within one cloud
func (d *Dispatcher) MoveFolder(ctx context.Context, source, target *fs.Folder) (moved *fs.Folder, err error) {
	if !source.Cloud().Equal(target.Cloud()) {
		return nil, crossCloud(source)
	}
	err = d.call(ctx, source.Cloud(), "move", source.Path(), false, func(repo fs.Repository) (err error) {
		moved, err = repo.MoveFolder(ctx, source, target)
		return err
	})
	return moved, err
}

// MoveFile moves source to target within one cloud
func (d *Dispatcher) MoveFile(ctx context.Context, source, target *fs.File) (moved *fs.File, err error) {
	if !source.Cloud().Equal(target.Cloud()) {
		return nil, crossCloud(source)
	}
	err = d.call(ctx, source.Cloud(), "move", source.Path(), false, func(repo fs.Repository) (err error) {
		moved, err = repo.MoveFile(ctx, source, target)
		return err
	})
	return moved, err
}

// Write uploads to file
func (d *Dispatcher) Write(ctx context.Context, file *fs.File, in io.ReadSeeker, progress fs.ProgressListener, replace bool, size int64) (written *fs.File, err error) {
	err = d.call(ctx, file.Cloud(), "write", file.Path(), false, func(repo fs.Repository) (err error) {
		written, err = repo.Write(ctx, file, in, throttle(progress), replace, size)
		return err
	})
	return written, err
}

// Read downloads file to out
func (d *Dispatcher) Read(ctx context.Context, file *fs.File, out io.Writer, progress fs.ProgressListener) error {
	return d.call(ctx, file.Cloud(), "read", file.Path(), false, func(repo fs.Repository) error {
		return repo.Read(ctx, file, out, throttle(progress))
	})
}

// Delete removes node
func (d *Dispatcher) Delete(ctx context.Context, node fs.Node) error {
	return d.call(ctx, node.Cloud(), "delete", node.Path(), false, func(repo fs.Repository) error {
		return repo.Delete(ctx, node)
	})
}

// CurrentAccount checks the credentials of cloud and returns the
// account name
func (d *Dispatcher) CurrentAccount(ctx context.Context, cloud *fs.Cloud) (name string, err error) {
	err = d.call(ctx, cloud, "about", "", false, func(repo fs.Repository) (err error) {
		name, err = repo.CurrentAccount(ctx, cloud)
		return err
	})
	return name, err
}

// Logout logs out of cloud and drops its adapter
func (d *Dispatcher) Logout(ctx context.Context, cloud *fs.Cloud) error {
	err := d.call(ctx, cloud, "logout", "", false, func(repo fs.Repository) error {
		return repo.Logout(ctx, cloud)
	})
	d.evict(cloud.Key(), ReasonLogout)
	return err
}

// Check the interfaces are satisfied
var _ fs.Repository = (*Dispatcher)(nil)
