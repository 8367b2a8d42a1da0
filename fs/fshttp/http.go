// Package fshttp builds the HTTP clients the cloud adapters talk
// through. Every client honours the connect and idle timeouts, the
// user agent, --tpslimit and --dump-headers from the config.
package fshttp

import (
	"context"
	"net"
	"net/http"
	"net/http/httputil"
	"sync"
	"time"

	"github.com/rclone/cloudrepo/fs"
	"golang.org/x/time/rate"
)

var (
	limiterMu sync.Mutex
	limiter   *rate.Limiter // nil unless --tpslimit is set
)

// StartHTTPTokenBucket (re)creates the process wide transaction
// limiter from --tpslimit and --tpslimit-burst
func StartHTTPTokenBucket(ctx context.Context) {
	ci := fs.GetConfig(ctx)
	limiterMu.Lock()
	defer limiterMu.Unlock()
	if ci.TPSLimit <= 0 {
		limiter = nil
		return
	}
	burst := ci.TPSLimitBurst
	if burst < 1 {
		burst = 1
	}
	limiter = rate.NewLimiter(rate.Limit(ci.TPSLimit), burst)
	fs.Infof(nil, "Limiting HTTP to %g transactions/s with burst %d", ci.TPSLimit, burst)
}

func currentLimiter() *rate.Limiter {
	limiterMu.Lock()
	defer limiterMu.Unlock()
	return limiter
}

// idleConn pushes the deadline of the connection on by timeout after
// every successful read or write
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func newIdleConn(conn net.Conn, timeout time.Duration) (*idleConn, error) {
	c := &idleConn{Conn: conn, timeout: timeout}
	return c, c.extend()
}

func (c *idleConn) extend() error {
	if c.timeout <= 0 {
		return nil
	}
	return c.Conn.SetDeadline(time.Now().Add(c.timeout))
}

func (c *idleConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 && err == nil {
		err = c.extend()
	}
	return n, err
}

func (c *idleConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 && err == nil {
		err = c.extend()
	}
	return n, err
}

// NewDialer returns a dialer using the configured connect timeout
func NewDialer(ctx context.Context) *net.Dialer {
	return &net.Dialer{
		Timeout:   fs.GetConfig(ctx).ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
}

// NewTransport returns a Transport configured from the config in ctx
func NewTransport(ctx context.Context) *Transport {
	ci := fs.GetConfig(ctx)
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.Proxy = http.ProxyFromEnvironment
	base.MaxIdleConnsPerHost = 16
	base.MaxIdleConns = 32
	base.IdleConnTimeout = time.Minute
	base.TLSHandshakeTimeout = ci.ConnectTimeout
	base.ResponseHeaderTimeout = ci.Timeout
	dialer := NewDialer(ctx)
	base.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return newIdleConn(conn, ci.Timeout)
	}
	return &Transport{
		Transport: base,
		dump:      ci.DumpHeaders,
		userAgent: ci.UserAgent,
		metrics:   DefaultMetrics,
	}
}

// NewClient returns an http.Client using NewTransport
func NewClient(ctx context.Context) *http.Client {
	return &http.Client{Transport: NewTransport(ctx)}
}

// Transport wraps an http.Transport to set the user agent, wait for
// the transaction limiter, dump headers and count responses
type Transport struct {
	*http.Transport
	dump      bool
	userAgent string
	metrics   *Metrics
}

// sensitiveHeaders are masked when headers are dumped
var sensitiveHeaders = []string{
	"Authorization",
	"X-Amz-Security-Token",
	"Cookie",
	"Set-Cookie",
}

// redact returns a copy of h with the sensitive values masked
func redact(h http.Header) http.Header {
	out := h.Clone()
	for _, name := range sensitiveHeaders {
		if values := out.Values(name); len(values) > 0 {
			masked := make([]string, len(values))
			for i := range masked {
				masked[i] = "XXXX"
			}
			out[http.CanonicalHeaderKey(name)] = masked
		}
	}
	return out
}

func (t *Transport) dumpRequest(req *http.Request) {
	shown := req.Clone(req.Context())
	shown.Header = redact(req.Header)
	buf, _ := httputil.DumpRequestOut(shown, false)
	fs.Debugf(nil, "HTTP REQUEST (req %p)\n%s", req, buf)
}

func (t *Transport) dumpResponse(req *http.Request, resp *http.Response, err error) {
	if err != nil {
		fs.Debugf(nil, "HTTP RESPONSE (req %p) error: %v", req, err)
		return
	}
	shown := *resp
	shown.Header = redact(resp.Header)
	buf, _ := httputil.DumpResponse(&shown, false)
	fs.Debugf(nil, "HTTP RESPONSE (req %p)\n%s", req, buf)
}

// RoundTrip implements the RoundTripper interface.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if l := currentLimiter(); l != nil {
		if err := l.Wait(req.Context()); err != nil && err != context.Canceled {
			fs.Errorf(nil, "HTTP transaction limiter: %v", err)
		}
	}
	req.Header.Set("User-Agent", t.userAgent)
	if t.dump {
		t.dumpRequest(req)
	}
	start := time.Now()
	resp, err := t.Transport.RoundTrip(req)
	if t.dump {
		t.dumpResponse(req, resp, err)
	}
	t.metrics.observe(req, resp, time.Since(start))
	return resp, err
}
