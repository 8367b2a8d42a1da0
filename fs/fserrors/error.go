// Package fserrors is the closed set of errors every repository
// operation returns, and the retry helpers the backends share.
package fserrors

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// Kind is the class of a failure
type Kind byte

// Error kinds. The zero value is Fatal so that anything not
// classified is fatal.
const (
	Fatal Kind = iota
	NoSuchFile
	AlreadyExists
	Forbidden
	WrongCredentials
	NetworkUnavailable
	ServerIncompatible
	Cancelled
)

var kindToString = []string{
	Fatal:              "fatal",
	NoSuchFile:         "no such file",
	AlreadyExists:      "already exists",
	Forbidden:          "forbidden",
	WrongCredentials:   "wrong credentials",
	NetworkUnavailable: "network unavailable",
	ServerIncompatible: "server incompatible",
	Cancelled:          "cancelled",
}

// String turns a Kind into a string
func (k Kind) String() string {
	if int(k) >= len(kindToString) {
		return fmt.Sprintf("Kind(%d)", k)
	}
	return kindToString[k]
}

// Sentinels for errors.Is
var (
	ErrFatal              = errors.New(Fatal.String())
	ErrNoSuchFile         = errors.New(NoSuchFile.String())
	ErrAlreadyExists      = errors.New(AlreadyExists.String())
	ErrForbidden          = errors.New(Forbidden.String())
	ErrWrongCredentials   = errors.New(WrongCredentials.String())
	ErrNetworkUnavailable = errors.New(NetworkUnavailable.String())
	ErrServerIncompatible = errors.New(ServerIncompatible.String())
	ErrCancelled          = errors.New(Cancelled.String())
)

var kindToSentinel = []error{
	Fatal:              ErrFatal,
	NoSuchFile:         ErrNoSuchFile,
	AlreadyExists:      ErrAlreadyExists,
	Forbidden:          ErrForbidden,
	WrongCredentials:   ErrWrongCredentials,
	NetworkUnavailable: ErrNetworkUnavailable,
	ServerIncompatible: ErrServerIncompatible,
	Cancelled:          ErrCancelled,
}

// Error is a classified failure of an operation on a path
type Error struct {
	Kind Kind
	Op   string // operation, eg "list"
	Path string // node path, "" if not about a node
	Err  error  // underlying cause, may be nil
}

// New makes a classified error
func New(kind Kind, op, path string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: cause}
}

// Error satisfies the error interface
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		if e.Path != "" {
			b.WriteString(" ")
			b.WriteString(e.Path)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error { return e.Err }

// Cause returns the underlying cause for github.com/pkg/errors
func (e *Error) Cause() error { return e.Err }

// Is matches the sentinel for the kind
func (e *Error) Is(target error) bool {
	return int(e.Kind) < len(kindToSentinel) && kindToSentinel[e.Kind] == target
}

// Kinded wraps err with kind but without an operation. Backends use
// it to classify errors deep inside; the translator fills in the
// operation and path.
func Kinded(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Sentinel returns the sentinel error for kind
func Sentinel(kind Kind) error {
	return kindToSentinel[kind]
}

// AsError returns the first *Error in the chain of err
func AsError(err error) (*Error, bool) {
	var found *Error
	walk(err, func(err error) bool {
		if e, ok := err.(*Error); ok {
			found = e
			return true
		}
		return false
	})
	return found, found != nil
}

// KindOf returns the kind of err. Errors without a kind are Fatal.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return Fatal
}

// IsKind reports whether err is classified as kind
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// IsClassified is true if err already carries a kind
func IsClassified(err error) bool {
	_, ok := AsError(err)
	return ok
}

// walk calls f on err and every cause below it, stopping when f
// returns true. Both Cause() and Unwrap() chains are followed.
func walk(err error, f func(error) bool) {
	const maxDepth = 100
	for depth := 0; err != nil && depth < maxDepth; depth++ {
		if f(err) {
			return
		}
		switch x := err.(type) {
		case interface{ Cause() error }:
			err = x.Cause()
		case interface{ Unwrap() error }:
			err = x.Unwrap()
		default:
			return
		}
	}
}

// Cause walks the cause chain of err looking for errors which say
// whether a retry is wanted and returns the innermost error.
func Cause(cause error) (retriable bool, err error) {
	err = cause
	walk(cause, func(c error) bool {
		if r, ok := c.(Retrier); ok && r.Retry() {
			retriable = true
		}
		err = c
		return false
	})
	return retriable, err
}

// Retrier is an optional interface for error as to whether the
// operation should be retried at a low level.
type Retrier interface {
	error
	Retry() bool
}

// retryError is an error wrapped so it will retry
type retryError struct {
	error
}

// Retry interface
func (err retryError) Retry() bool {
	return true
}

// Cause returns the wrapped error
func (err retryError) Cause() error {
	return err.error
}

// Unwrap returns the wrapped error
func (err retryError) Unwrap() error {
	return err.error
}

// Check interface
var _ Retrier = retryError{(error)(nil)}

// RetryError makes an error which indicates it would like to be retried
func RetryError(err error) error {
	if err == nil {
		err = errors.New("needs retry")
	}
	return retryError{err}
}

// RetryErrorf makes an error which indicates it would like to be retried
func RetryErrorf(format string, a ...interface{}) error {
	return retryError{errors.Errorf(format, a...)}
}

// RetryAfter is an error which asks the caller to wait before
// retrying
type RetryAfter struct {
	error
	After time.Duration
}

// NewRetryAfter makes an error which asks for a wait of d
func NewRetryAfter(err error, d time.Duration) *RetryAfter {
	return &RetryAfter{error: err, After: d}
}

// Retry interface
func (e *RetryAfter) Retry() bool { return true }

// Cause returns the wrapped error
func (e *RetryAfter) Cause() error { return e.error }

// Unwrap returns the wrapped error
func (e *RetryAfter) Unwrap() error { return e.error }

// RetryAfterDuration returns the wait requested somewhere in the
// chain of err
func RetryAfterDuration(err error) (time.Duration, bool) {
	var d time.Duration
	var found bool
	walk(err, func(c error) bool {
		if r, ok := c.(*RetryAfter); ok {
			d, found = r.After, true
			return true
		}
		return false
	})
	return d, found
}

// retriableErrorStrings is a list of phrases which when we find it
// in an error, we know it is a networking error which should be
// retried.
var retriableErrorStrings = []string{
	"use of closed network connection", // internal/poll/fd.go
	"unexpected EOF reading trailer",   // net/http/transfer.go
	"transport connection broken",      // net/http/transport.go
	"http: ContentLength=",             // net/http/transfer.go
	"server closed idle connection",    // net/http/transport.go
	"bad record MAC",                   // crypto/tls/alert.go
	"stream error:",                    // golang.org/x/net/http2/transport.go
}

// Errors which indicate networking errors which should be retried
//
// These are added to in retriable_errors*.go
var retriableErrors = []error{
	io.EOF,
	io.ErrUnexpectedEOF,
}

// ShouldRetry looks at an error and tries to work out if retrying the
// operation that caused it would be a good idea. It returns true if
// the error implements Timeout() or Temporary() or if the error
// indicates a premature closing of the connection.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return false
	}
	// If error has been marked to retry then return true
	if r, ok := err.(Retrier); ok && r.Retry() {
		return true
	}
	// Find root cause if available
	retriable, err := Cause(err)
	if retriable {
		return true
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return false
	}
	// Check if it is a retriable error
	for _, retriableErr := range retriableErrors {
		if err == retriableErr {
			return true
		}
	}
	// Check error strings (yuch!) too
	errString := err.Error()
	for _, phrase := range retriableErrorStrings {
		if strings.Contains(errString, phrase) {
			return true
		}
	}
	// Check for net error Timeout()
	if x, ok := err.(interface{ Timeout() bool }); ok && x.Timeout() {
		return true
	}
	// Check for net error Temporary()
	if x, ok := err.(interface{ Temporary() bool }); ok && x.Temporary() {
		return true
	}
	return false
}

// ShouldRetryHTTP returns a boolean as to whether this resp deserves.
// It checks to see if the HTTP response code is in the slice
// retryErrorCodes.
func ShouldRetryHTTP(resp *http.Response, retryErrorCodes []int) bool {
	if resp == nil {
		return false
	}
	for _, e := range retryErrorCodes {
		if resp.StatusCode == e {
			return true
		}
	}
	return false
}

// IsNetworkError reports whether err is a failure to reach the
// server rather than an answer from it
func IsNetworkError(err error) bool {
	found := false
	walk(err, func(c error) bool {
		switch x := c.(type) {
		case *net.OpError, *net.DNSError:
			found = true
		case *url.Error:
			if x.Timeout() {
				found = true
			}
		case syscall.Errno:
			for _, r := range retriableErrors {
				if x == r {
					found = true
				}
			}
		}
		return found
	})
	return found
}

// ContextError checks to see if ctx is in error.
//
// If it is in error then it overwrites *perr with the context error
// if *perr was nil and returns true.
//
// Otherwise it returns false.
func ContextError(ctx context.Context, perr *error) bool {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if *perr == nil {
			*perr = ctxErr
		}
		return true
	}
	return false
}

// IsCancelled is true if err is, or is caused by, a cancelled or
// expired context
func IsCancelled(err error) bool {
	found := false
	walk(err, func(c error) bool {
		found = c == context.Canceled || c == context.DeadlineExceeded || c == ErrCancelled
		if e, ok := c.(*Error); ok && e.Kind == Cancelled {
			found = true
		}
		return found
	})
	return found
}
