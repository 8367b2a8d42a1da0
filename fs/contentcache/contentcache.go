package contentcache

import (
	"context"
	"io"
	"os"

	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/accounting"
)

// Repository serves Read from the cache where it can
type Repository struct {
	fs.Repository
	cache *Cache
}

// New wraps repo so reads of files with a known revision go through
// cache
func New(repo fs.Repository, cache *Cache) *Repository {
	return &Repository{Repository: repo, cache: cache}
}

// Unwrap returns the repository being cached
func (r *Repository) Unwrap() fs.Repository {
	return r.Repository
}

// key of the cache entry for file, "" if it can't be cached
func key(file *fs.File) string {
	if file.Revision() == "" {
		return ""
	}
	return file.Cloud().Key() + "\n" + file.Path() + "\n" + file.Revision()
}

// Read streams file to out from the cache on a hit. On a miss the
// network read is copied into the cache as it goes and kept only if
// it succeeds. Failures of the cache itself are logged and the read
// goes to the network.
func (r *Repository) Read(ctx context.Context, file *fs.File, out io.Writer, progress fs.ProgressListener) error {
	k := key(file)
	if k == "" {
		return r.Repository.Read(ctx, file, out, progress)
	}
	if fd, size, err := r.cache.Open(k); err == nil {
		fs.Debugf(file, "reading from content cache")
		return r.readCached(ctx, file, k, fd, size, out, progress)
	} else if !os.IsNotExist(err) {
		fs.Logf(file, "content cache unusable, reading from the network: %v", err)
	}
	tmp, err := r.cache.TempFile()
	if err != nil {
		fs.Logf(file, "can't write to content cache: %v", err)
		return r.Repository.Read(ctx, file, out, progress)
	}
	tee := &teeWriter{out: out, cache: tmp}
	err = r.Repository.Read(ctx, file, tee, progress)
	if err != nil || tee.cacheErr != nil {
		if tee.cacheErr != nil {
			fs.Logf(file, "failed to write content cache: %v", tee.cacheErr)
		}
		r.cache.Discard(tmp)
		return err
	}
	if err := r.cache.Commit(k, tmp); err != nil {
		fs.Logf(file, "failed to store in content cache: %v", err)
	}
	return nil
}

// readCached streams an open cache entry to out.
//
// If the entry can't be read it is removed. The read then goes to the
// network when nothing has reached out yet, otherwise it fails.
func (r *Repository) readCached(ctx context.Context, file *fs.File, k string, entry io.ReadCloser, size int64, out io.Writer, progress fs.ProgressListener) error {
	src := &entryReader{in: entry}
	dst := &countingWriter{out: out}
	err := func() (err error) {
		acc := accounting.NewAccount(ctx, fs.Download, file.Path(), size, progress)
		defer func() { acc.Done(err) }()
		acc.Start()
		_, err = io.Copy(acc.WrapWriter(dst), src)
		return err
	}()
	_ = entry.Close()
	if src.err == nil {
		return err
	}
	fs.Logf(file, "content cache entry unreadable: %v", src.err)
	r.cache.Remove(k)
	if dst.n > 0 {
		return err
	}
	return r.Read(ctx, file, out, progress)
}

// entryReader remembers the error reading a cache entry
type entryReader struct {
	in  io.Reader
	err error
}

func (e *entryReader) Read(p []byte) (n int, err error) {
	n, err = e.in.Read(p)
	if err != nil && err != io.EOF {
		e.err = err
	}
	return n, err
}

// countingWriter counts the bytes written to out
type countingWriter struct {
	out io.Writer
	n   int64
}

func (c *countingWriter) Write(p []byte) (n int, err error) {
	n, err = c.out.Write(p)
	c.n += int64(n)
	return n, err
}

// teeWriter writes to out and, until that fails, to cache.
// Errors writing the cache never fail the write to out.
type teeWriter struct {
	out      io.Writer
	cache    io.Writer
	cacheErr error
}

func (t *teeWriter) Write(p []byte) (n int, err error) {
	n, err = t.out.Write(p)
	if t.cacheErr == nil && n > 0 {
		_, t.cacheErr = t.cache.Write(p[:n])
	}
	return n, err
}

// Check the interfaces are satisfied
var _ fs.Repository = (*Repository)(nil)
