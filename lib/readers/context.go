package readers

import (
	"context"
	"io"
)

// NewContextReader returns a reader which fails with the error of ctx
// as soon as ctx is done, even if r has more to give
func NewContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &contextReader{
		done: ctx.Done(),
		err:  ctx.Err,
		r:    r,
	}
}

type contextReader struct {
	done <-chan struct{}
	err  func() error
	r    io.Reader
}

// Read bytes as per io.Reader interface
func (cr *contextReader) Read(p []byte) (n int, err error) {
	select {
	case <-cr.done:
		return 0, cr.err()
	default:
	}
	return cr.r.Read(p)
}
