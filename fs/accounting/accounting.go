// Package accounting reports the progress of transfers and keeps the
// totals for the process
package accounting

import (
	"context"
	"io"
	"sync"

	"github.com/rclone/cloudrepo/fs"
)

// Account reports the progress of one transfer to a listener
//
// It emits a Started tick first, Running ticks as bytes move and a
// Completed tick from Done. Reads and writes through it fail once
// the context is cancelled.
type Account struct {
	mu        sync.Mutex
	ctx       context.Context
	kind      fs.TransferKind
	path      string
	size      int64
	bytes     int64
	listener  fs.ProgressListener
	stats     *StatsInfo
	started   bool
	completed bool
}

// NewAccount makes an Account for a transfer of size bytes (-1 if
// unknown) of the node at path
func NewAccount(ctx context.Context, kind fs.TransferKind, path string, size int64, listener fs.ProgressListener) *Account {
	if listener == nil {
		listener = fs.NoProgress
	}
	return &Account{
		ctx:      ctx,
		kind:     kind,
		path:     path,
		size:     size,
		listener: listener,
		stats:    Stats,
	}
}

// emit sends a tick with the current values
//
// call with mu held
func (acc *Account) emit(state fs.ProgressState) {
	acc.listener.OnProgress(fs.Progress{
		Kind:  acc.kind,
		Path:  acc.path,
		State: state,
		Done:  acc.bytes,
		Total: acc.size,
	})
}

// Start emits the Started tick. It is called implicitly by the
// first transfer of bytes.
func (acc *Account) Start() {
	acc.mu.Lock()
	defer acc.mu.Unlock()
	acc.start()
}

// call with mu held
func (acc *Account) start() {
	if acc.started {
		return
	}
	acc.started = true
	acc.stats.Transferring(acc.path)
	acc.emit(fs.Started)
}

// Add accounts for n more bytes
func (acc *Account) Add(n int64) {
	if n <= 0 {
		return
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	acc.start()
	acc.bytes += n
	acc.stats.Bytes(n)
	acc.emit(fs.Running)
}

// SetBytes sets the bytes transferred so far. Chunked uploads use it
// as the committed offset moves, which may go backwards on a retry.
func (acc *Account) SetBytes(n int64) {
	acc.mu.Lock()
	defer acc.mu.Unlock()
	acc.start()
	if n > acc.bytes {
		acc.stats.Bytes(n - acc.bytes)
	}
	acc.bytes = n
	acc.emit(fs.Running)
}

// BytesTransferred returns the bytes accounted so far
func (acc *Account) BytesTransferred() int64 {
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.bytes
}

// Done finishes the transfer. A successful transfer emits the
// Completed tick, a failed one only updates the totals.
func (acc *Account) Done(err error) {
	acc.mu.Lock()
	defer acc.mu.Unlock()
	if acc.completed {
		return
	}
	acc.completed = true
	acc.start()
	acc.stats.DoneTransferring(acc.path, err)
	if err != nil {
		return
	}
	if acc.size < 0 {
		acc.size = acc.bytes
	}
	acc.emit(fs.Completed)
}

// WrapReader returns a reader which accounts for everything read
// from in
func (acc *Account) WrapReader(in io.Reader) io.Reader {
	return &accountReader{acc: acc, in: in}
}

// WrapWriter returns a writer which accounts for everything written
// to out
func (acc *Account) WrapWriter(out io.Writer) io.Writer {
	return &accountWriter{acc: acc, out: out}
}

type accountReader struct {
	acc *Account
	in  io.Reader
}

// Read bytes accounting for them
func (r *accountReader) Read(p []byte) (n int, err error) {
	if err = r.acc.ctx.Err(); err != nil {
		return 0, err
	}
	n, err = r.in.Read(p)
	r.acc.Add(int64(n))
	return n, err
}

type accountWriter struct {
	acc *Account
	out io.Writer
}

// Write bytes accounting for them
func (w *accountWriter) Write(p []byte) (n int, err error) {
	if err = w.acc.ctx.Err(); err != nil {
		return 0, err
	}
	n, err = w.out.Write(p)
	w.acc.Add(int64(n))
	return n, err
}
