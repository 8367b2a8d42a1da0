// Package contentcache keeps downloaded file content on local disk so
// a file whose revision hasn't changed is read without the network.
//
// Each backend gets its own directory under the cache root holding
// one file per entry and a bbolt index of entry sizes and last use.
// When the size budget is exceeded the least recently used entries
// are removed.
package contentcache

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/fs"
	bolt "go.etcd.io/bbolt"
)

const (
	indexName   = "index.db"
	dataDir     = "data"
	tempPattern = "download-*.tmp"
)

var entriesBucket = []byte("entries")

// Cache is the content cache of one backend namespace
type Cache struct {
	mu      sync.Mutex
	dir     string
	maxSize int64
	db      *bolt.DB
	lru     *simplelru.LRU[string, int64] // name -> size
	size    int64                         // total size of the entries
	now     func() time.Time
}

// index record
type record struct {
	size     int64
	lastUsed int64 // unix nanoseconds
}

func (r record) bytes() []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf, uint64(r.size))
	binary.BigEndian.PutUint64(buf[8:], uint64(r.lastUsed))
	return buf
}

func parseRecord(buf []byte) (r record, ok bool) {
	if len(buf) != 16 {
		return r, false
	}
	r.size = int64(binary.BigEndian.Uint64(buf))
	r.lastUsed = int64(binary.BigEndian.Uint64(buf[8:]))
	return r, true
}

// Open opens or creates the cache in dir holding at most maxSize
// bytes
func Open(dir string, maxSize int64) (*Cache, error) {
	if err := os.MkdirAll(filepath.Join(dir, dataDir), 0700); err != nil {
		return nil, errors.Wrap(err, "failed to create content cache directory")
	}
	db, err := bolt.Open(filepath.Join(dir, indexName), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open content cache index in %q", dir)
	}
	lru, err := simplelru.NewLRU[string, int64](math.MaxInt32, nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	c := &Cache{
		dir:     dir,
		maxSize: maxSize,
		db:      db,
		lru:     lru,
		now:     time.Now,
	}
	if err = c.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// load reads the index into the LRU, oldest first, dropping entries
// whose data file has gone
func (c *Cache) load() error {
	type item struct {
		name string
		record
	}
	var items []item
	var stale []string
	err := c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(entriesBucket)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			name := string(k)
			r, ok := parseRecord(v)
			if fi, err := os.Stat(c.path(name)); !ok || err != nil || fi.Size() != r.size {
				stale = append(stale, name)
				return nil
			}
			items = append(items, item{name: name, record: r})
			return nil
		})
	})
	if err != nil {
		return errors.Wrap(err, "failed to read content cache index")
	}
	for _, name := range stale {
		fs.Debugf(c.dir, "dropping stale content cache entry %s", name)
		c.forget(name)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].lastUsed < items[j].lastUsed })
	for _, it := range items {
		c.lru.Add(it.name, it.size)
		c.size += it.size
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evict()
	return nil
}

// Close the index
func (c *Cache) Close() error {
	return c.db.Close()
}

// Name turns an entry key into the file name it is stored under
func Name(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) path(name string) string {
	return filepath.Join(c.dir, dataDir, name)
}

// Size returns the bytes held by the cache
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Open returns the content stored under key with its size. The
// entry becomes the most recently used.
func (c *Cache) Open(key string) (*os.File, int64, error) {
	name := Name(key)
	c.mu.Lock()
	size, ok := c.lru.Get(name)
	c.mu.Unlock()
	if !ok {
		return nil, 0, os.ErrNotExist
	}
	fd, err := os.Open(c.path(name))
	if err == nil {
		var fi os.FileInfo
		fi, err = fd.Stat()
		if err == nil && fi.Size() != size {
			err = errors.Errorf("cached size %d doesn't match index %d", fi.Size(), size)
		}
		if err != nil {
			_ = fd.Close()
		}
	}
	if err != nil {
		c.Remove(key)
		return nil, 0, err
	}
	c.touch(name, size)
	return fd, size, nil
}

// touch records the use of name in the index
func (c *Cache) touch(name string, size int64) {
	err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Put([]byte(name), record{size: size, lastUsed: c.now().UnixNano()}.bytes())
	})
	if err != nil {
		fs.Debugf(c.dir, "failed to update content cache index: %v", err)
	}
}

// TempFile makes a file to download into. Pass it to Commit or
// Discard.
func (c *Cache) TempFile() (*os.File, error) {
	return os.CreateTemp(c.dir, tempPattern)
}

// Discard closes and removes a file from TempFile
func (c *Cache) Discard(fd *os.File) {
	_ = fd.Close()
	if err := os.Remove(fd.Name()); err != nil && !os.IsNotExist(err) {
		fs.Debugf(c.dir, "failed to remove temporary file: %v", err)
	}
}

// Commit closes fd, a file from TempFile, and stores it under key
func (c *Cache) Commit(key string, fd *os.File) error {
	fi, err := fd.Stat()
	if err != nil {
		c.Discard(fd)
		return err
	}
	if err = fd.Close(); err != nil {
		c.Discard(fd)
		return err
	}
	size := fi.Size()
	if size > c.maxSize {
		c.Discard(fd)
		return nil
	}
	name := Name(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err = os.Rename(fd.Name(), c.path(name)); err != nil {
		c.Discard(fd)
		return errors.Wrap(err, "failed to store content cache entry")
	}
	if old, ok := c.lru.Peek(name); ok {
		c.size -= old
	}
	c.lru.Add(name, size)
	c.size += size
	c.touch(name, size)
	c.evict()
	return nil
}

// evict removes the least recently used entries until the cache
// fits its budget
//
// mu must be held
func (c *Cache) evict() {
	for c.size > c.maxSize {
		name, size, ok := c.lru.RemoveOldest()
		if !ok {
			return
		}
		c.size -= size
		fs.Debugf(c.dir, "evicting content cache entry %s (%d bytes)", name, size)
		c.forget(name)
	}
}

// forget removes the data and index record of name
func (c *Cache) forget(name string) {
	if err := os.Remove(c.path(name)); err != nil && !os.IsNotExist(err) {
		fs.Debugf(c.dir, "failed to remove content cache entry: %v", err)
	}
	err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Delete([]byte(name))
	})
	if err != nil {
		fs.Debugf(c.dir, "failed to update content cache index: %v", err)
	}
}

// Remove drops the entry for key
func (c *Cache) Remove(key string) {
	name := Name(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if size, ok := c.lru.Peek(name); ok {
		c.lru.Remove(name)
		c.size -= size
	}
	c.forget(name)
}
