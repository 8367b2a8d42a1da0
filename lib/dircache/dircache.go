// Package dircache provides a simple cache for caching path to ID
// lookups for backends which address nodes by ID
package dircache

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/fserrors"
	"golang.org/x/sync/singleflight"
)

// DefaultSize is the number of paths kept unless New is told otherwise
const DefaultSize = 10000

// Entry is what the cache knows about one path
type Entry struct {
	ID    string // backend native ID
	IsDir bool
}

// DirCacher describes an interface for doing the low level directory work
//
// FindLeaf looks for leaf inside the directory pathID and returns its
// ID and kind. found is false if leaf definitely isn't there.
type DirCacher interface {
	FindLeaf(ctx context.Context, pathID, leaf string) (id string, isDir bool, found bool, err error)
	CreateDir(ctx context.Context, pathID, leaf string) (newID string, err error)
}

// DirCache caches paths to IDs
//
// Paths are node paths: "" is the root and "/a/b" is b inside a. A
// miss only ever means "ask the backend", never "doesn't exist".
//
// The cache is safe for concurrent use.
type DirCache struct {
	cache  *lru.Cache[string, Entry]
	group  singleflight.Group
	fs     DirCacher // Interface to find and make stuff
	rootID string    // ID of the root directory
}

// New makes a DirCache holding at most size paths below the root
// whose ID is rootID
func New(rootID string, size int, f DirCacher) *DirCache {
	if size <= 0 {
		size = DefaultSize
	}
	cache, err := lru.New[string, Entry](size)
	if err != nil {
		// only fails for size <= 0
		panic(err)
	}
	return &DirCache{
		cache:  cache,
		fs:     f,
		rootID: rootID,
	}
}

// RootID returns the ID of the root directory
func (dc *DirCache) RootID() string {
	return dc.rootID
}

// Get looks up path in the cache only
func (dc *DirCache) Get(path string) (entry Entry, ok bool) {
	if path == "" {
		return Entry{ID: dc.rootID, IsDir: true}, true
	}
	return dc.cache.Get(path)
}

// Put records the ID of path
func (dc *DirCache) Put(path, id string, isDir bool) {
	if path == "" {
		return
	}
	dc.cache.Add(path, Entry{ID: id, IsDir: isDir})
}

// Flush the cache of all data
func (dc *DirCache) Flush() {
	dc.cache.Purge()
}

// FlushDir removes path and every path below it from the cache
func (dc *DirCache) FlushDir(path string) {
	if path == "" {
		dc.Flush()
		return
	}
	dc.cache.Remove(path)
	prefix := path + "/"
	for _, key := range dc.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			dc.cache.Remove(key)
		}
	}
}

// Len returns the number of paths cached below the root
func (dc *DirCache) Len() int {
	return dc.cache.Len()
}

// SplitPath splits a node path into directory and leaf
//
// If there are no slashes then directory will be "" and leaf = path
func SplitPath(path string) (directory, leaf string) {
	lastSlash := strings.LastIndex(path, "/")
	if lastSlash >= 0 {
		directory = path[:lastSlash]
		leaf = path[lastSlash+1:]
	} else {
		directory = ""
		leaf = path
	}
	return
}

// errDirNotFound makes the error for a missing directory
func errDirNotFound(path string) error {
	return fserrors.Kinded(fserrors.NoSuchFile, errors.Errorf("directory %q not found", path))
}

// Find returns the entry for path, file or directory, looking it up
// with at most one FindLeaf call per uncached path segment.
//
// found is false if path or one of its parents doesn't exist.
func (dc *DirCache) Find(ctx context.Context, path string) (entry Entry, found bool, err error) {
	if entry, ok := dc.Get(path); ok {
		return entry, true, nil
	}
	v, err, _ := dc.group.Do("find:"+path, func() (interface{}, error) {
		directory, leaf := SplitPath(path)
		parentID, err := dc.FindDir(ctx, directory, false)
		if fserrors.IsKind(err, fserrors.NoSuchFile) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		id, isDir, found, err := dc.fs.FindLeaf(ctx, parentID, leaf)
		if err != nil || !found {
			return nil, err
		}
		entry := Entry{ID: id, IsDir: isDir}
		dc.Put(path, id, isDir)
		return entry, nil
	})
	if err != nil || v == nil {
		return Entry{}, false, err
	}
	return v.(Entry), true, nil
}

// FindDir finds the directory passed in returning its ID
//
// If create is set it will make the directory, and any missing
// parents, if not found.
//
// Algorithm:
//
//	Look in the cache for the path, if found return the pathID
//	If not found strip the last path off the path and recurse
//	Now have a parent directory id, so look in the parent for self and return it
func (dc *DirCache) FindDir(ctx context.Context, path string, create bool) (pathID string, err error) {
	if entry, ok := dc.Get(path); ok {
		if !entry.IsDir {
			return "", errors.Errorf("%q is not a directory", path)
		}
		return entry.ID, nil
	}
	key := "dir:" + path
	if create {
		key = "mkdir:" + path
	}
	v, err, _ := dc.group.Do(key, func() (interface{}, error) {
		return dc.findDir(ctx, path, create)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// findDir looks up path in the backend given the parent from the cache
func (dc *DirCache) findDir(ctx context.Context, path string, create bool) (string, error) {
	// Split the path into directory, leaf
	directory, leaf := SplitPath(path)

	// Recurse and find pathID for parent directory
	parentPathID, err := dc.FindDir(ctx, directory, create)
	if err != nil {
		return "", err
	}

	// Find the leaf in parentPathID
	pathID, isDir, found, err := dc.fs.FindLeaf(ctx, parentPathID, leaf)
	if err != nil {
		return "", err
	}
	if found && !isDir {
		dc.Put(path, pathID, false)
		return "", errors.Errorf("%q is not a directory", path)
	}

	// If not found create the directory if required or return an error
	if !found {
		if !create {
			return "", errDirNotFound(path)
		}
		fs.Debugf(path, "Creating directory")
		pathID, err = dc.fs.CreateDir(ctx, parentPathID, leaf)
		if err != nil {
			return "", errors.Wrap(err, "failed to make directory")
		}
	}

	// Store the leaf directory in the cache
	dc.Put(path, pathID, true)
	return pathID, nil
}

// FindPath finds the leaf and the ID of the directory holding it
//
// If create is set parent directories will be created if they don't exist
func (dc *DirCache) FindPath(ctx context.Context, path string, create bool) (leaf, directoryID string, err error) {
	directory, leaf := SplitPath(path)
	directoryID, err = dc.FindDir(ctx, directory, create)
	return leaf, directoryID, err
}
