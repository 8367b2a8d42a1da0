// Package chunked uploads large payloads in bounded chunks through a
// resumable upload session.
//
// The backend provides three calls: Start opens a session with the
// first chunk, Append adds a chunk at an offset and Finish commits
// the last chunk under the target name. Upload drives them, keeping
// track of how many bytes the backend has acknowledged and resuming
// from there when an attempt fails.
package chunked

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/fserrors"
)

// Mode is what happens when the target already exists
type Mode byte

// Write modes
const (
	ModeAdd       Mode = iota // fail if the target exists
	ModeOverwrite             // replace the target
)

func (m Mode) String() string {
	if m == ModeOverwrite {
		return "overwrite"
	}
	return "add"
}

// Session is a backend upload session
//
// Each call reads exactly size bytes from chunk. A call may return an
// *OffsetError if the backend holds a different number of bytes than
// expected, or a *BackoffError if it asks for a pause.
type Session interface {
	// Start opens a session uploading the first chunk
	Start(ctx context.Context, chunk io.Reader, size int64) (sessionID string, err error)
	// Append uploads chunk at offset
	Append(ctx context.Context, sessionID string, offset int64, chunk io.Reader, size int64) error
	// Finish uploads the final chunk at offset and commits the upload
	Finish(ctx context.Context, sessionID string, offset int64, chunk io.Reader, size int64, mode Mode) error
}

// Aborter is optionally implemented by a Session which holds state on
// the backend that should be released when the upload fails
type Aborter interface {
	Abort(ctx context.Context, sessionID string) error
}

// OffsetError is returned by a Session when the backend has a
// different number of bytes than the offset it was sent
type OffsetError struct {
	Offset int64 // bytes the backend actually holds
	Err    error // underlying error, may be nil
}

func (e *OffsetError) Error() string {
	msg := fmt.Sprintf("upload offset mismatch: server has %d bytes", e.Offset)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Cause returns the underlying error
func (e *OffsetError) Cause() error { return e.Err }

// BackoffError is returned by a Session when the backend asks for a
// pause before the next request
type BackoffError struct {
	After time.Duration
	Err   error // underlying error, may be nil
}

func (e *BackoffError) Error() string {
	msg := fmt.Sprintf("server asked to retry after %v", e.After)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Cause returns the underlying error
func (e *BackoffError) Cause() error { return e.Err }

// Options control Upload
type Options struct {
	Name        string                // what is uploaded, for logging
	ChunkSize   int64                 // bytes per chunk
	MaxAttempts int                   // attempts of the whole upload
	Sleep       func(time.Duration)   // used for backoff, nil for time.Sleep
	OnChunk     func(committed int64) // called as the committed offset moves
}

// DefaultOptions returns the Options from the config in ctx
func DefaultOptions(ctx context.Context) Options {
	ci := fs.GetConfig(ctx)
	return Options{
		ChunkSize:   int64(ci.ChunkSize),
		MaxAttempts: ci.ChunkAttempts,
	}
}

// Upload state
type state struct {
	ctx       context.Context
	in        io.ReadSeeker
	size      int64
	session   Session
	mode      Mode
	opt       Options
	sessionID string
	committed int64 // bytes acknowledged by the backend
	attempt   int
}

// Upload sends size bytes from in through session.
//
// in is read from its start, offset 0 being the start of the
// payload. On a transient failure the attempt is retried from the
// committed offset. An *OffsetError moves the committed offset to
// what the backend reports. A *BackoffError sleeps first. Any other
// error is returned straight away. After MaxAttempts failed attempts
// the last error is returned wrapped.
func Upload(ctx context.Context, in io.ReadSeeker, size int64, session Session, mode Mode, opt Options) (err error) {
	if opt.ChunkSize <= 0 {
		return errors.New("chunked: chunk size must be positive")
	}
	if opt.MaxAttempts <= 0 {
		opt.MaxAttempts = 1
	}
	if opt.Sleep == nil {
		opt.Sleep = time.Sleep
	}
	s := &state{
		ctx:     ctx,
		in:      in,
		size:    size,
		session: session,
		mode:    mode,
		opt:     opt,
	}
	defer func() {
		if err != nil {
			s.abort()
		}
	}()
	var lastErr error
	for s.attempt = 1; s.attempt <= opt.MaxAttempts; s.attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		lastErr = s.run()
		if lastErr == nil {
			return nil
		}
		if !s.retriable(lastErr) {
			return lastErr
		}
	}
	return errors.Wrapf(lastErr, "upload failed after %d attempts", opt.MaxAttempts)
}

func (s *state) debugf(format string, args ...interface{}) {
	fs.Debugf(s.opt.Name, format, args...)
}

// setCommitted moves the committed offset reporting progress
func (s *state) setCommitted(n int64) {
	s.committed = n
	if s.opt.OnChunk != nil {
		s.opt.OnChunk(n)
	}
}

// chunk returns a reader for the next n bytes after seeking the
// source to the committed offset
func (s *state) chunk(n int64) (io.Reader, error) {
	if _, err := s.in.Seek(s.committed, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "chunked: failed to seek source")
	}
	return io.LimitReader(s.in, n), nil
}

// run makes one attempt from the committed offset
func (s *state) run() error {
	chunkSize := s.opt.ChunkSize
	if s.sessionID == "" {
		n := chunkSize
		if s.size < n {
			n = s.size
		}
		chunk, err := s.chunk(n)
		if err != nil {
			return err
		}
		s.committed = 0
		id, err := s.session.Start(s.ctx, chunk, n)
		if err != nil {
			return err
		}
		s.sessionID = id
		s.setCommitted(n)
		s.debugf("session %q opened with %d bytes", id, n)
	}
	for s.size-s.committed > chunkSize {
		if err := s.ctx.Err(); err != nil {
			return err
		}
		chunk, err := s.chunk(chunkSize)
		if err != nil {
			return err
		}
		if err = s.session.Append(s.ctx, s.sessionID, s.committed, chunk, chunkSize); err != nil {
			return err
		}
		s.setCommitted(s.committed + chunkSize)
	}
	if err := s.ctx.Err(); err != nil {
		return err
	}
	rest := s.size - s.committed
	chunk, err := s.chunk(rest)
	if err != nil {
		return err
	}
	if err = s.session.Finish(s.ctx, s.sessionID, s.committed, chunk, rest, s.mode); err != nil {
		return err
	}
	s.setCommitted(s.size)
	return nil
}

// retriable decides whether err is worth another attempt, adjusting
// the state for it
func (s *state) retriable(err error) bool {
	if fserrors.IsCancelled(err) || s.ctx.Err() != nil {
		return false
	}
	var offsetErr *OffsetError
	var backoffErr *BackoffError
	switch {
	case errors.As(err, &offsetErr):
		if offsetErr.Offset < 0 || offsetErr.Offset > s.size {
			s.debugf("attempt %d: ignoring impossible offset %d", s.attempt, offsetErr.Offset)
			return false
		}
		s.debugf("attempt %d: server has %d bytes, we had %d", s.attempt, offsetErr.Offset, s.committed)
		s.setCommitted(offsetErr.Offset)
		return true
	case errors.As(err, &backoffErr):
		s.debugf("attempt %d: backing off for %v", s.attempt, backoffErr.After)
		s.opt.Sleep(backoffErr.After)
		return true
	case fserrors.ShouldRetry(err):
		s.debugf("attempt %d: retrying from %d after: %v", s.attempt, s.committed, err)
		return true
	}
	return false
}

// abort releases the session on the backend if it can be
func (s *state) abort() {
	aborter, ok := s.session.(Aborter)
	if !ok || s.sessionID == "" {
		return
	}
	ctx := s.ctx
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := aborter.Abort(ctx, s.sessionID); err != nil {
		fs.Debugf(s.opt.Name, "failed to abort session %q: %v", s.sessionID, err)
	}
}
