// Package rest is a small client for the JSON and XML over HTTP APIs
// the cloud adapters talk to.
//
// A Client is safe for concurrent use.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"sync"

	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/lib/readers"
)

// DefaultMaxRedirects is how many redirects a new Client follows
const DefaultMaxRedirects = 20

// Client sends requests relative to a root URL
type Client struct {
	mu           sync.RWMutex
	c            *http.Client
	rootURL      string
	errorHandler func(resp *http.Response) error
	headers      map[string]string
	maxRedirects int
}

// NewClient wraps c, which usually carries the OAuth token source.
//
// The Client follows redirects itself instead of leaving them to c
// so the method and body survive them.
func NewClient(c *http.Client) *Client {
	noFollow := *c
	noFollow.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Client{
		c:            &noFollow,
		errorHandler: defaultErrorHandler,
		headers:      make(map[string]string),
		maxRedirects: DefaultMaxRedirects,
	}
}

// ReadBody returns all of resp.Body and closes it
func ReadBody(resp *http.Response) (result []byte, err error) {
	defer fs.CheckClose(resp.Body, &err)
	return ioutil.ReadAll(resp.Body)
}

// defaultErrorHandler quotes the body in the error
func defaultErrorHandler(resp *http.Response) error {
	body, err := ReadBody(resp)
	if err != nil {
		return errors.Wrap(err, "error reading error out of body")
	}
	return errors.Errorf("HTTP error %v (%v) returned body: %q", resp.StatusCode, resp.Status, body)
}

// SetErrorHandler sets the func turning a non 2xx response into an
// error. It must close resp.Body.
func (api *Client) SetErrorHandler(fn func(resp *http.Response) error) *Client {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.errorHandler = fn
	return api
}

// SetRoot sets the URL paths are relative to. Opts.RootURL overrides
// it for one call.
func (api *Client) SetRoot(rootURL string) *Client {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.rootURL = rootURL
	return api
}

// SetHeader adds a header to every request. A key starting with "*"
// is sent as is rather than canonicalised.
func (api *Client) SetHeader(key, value string) *Client {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.headers[key] = value
	return api
}

// SetMaxRedirects sets how many redirects are followed, 0 for none
func (api *Client) SetMaxRedirects(n int) *Client {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.maxRedirects = n
	return api
}

// SetUserPass sends basic auth credentials with every request
func (api *Client) SetUserPass(user, pass string) *Client {
	req := http.Request{Header: http.Header{}}
	req.SetBasicAuth(user, pass)
	return api.SetHeader("Authorization", req.Header.Get("Authorization"))
}

// Opts describes one call
type Opts struct {
	Method        string
	Path          string // appended to the root URL
	RootURL       string // replaces the Client's root URL
	Body          io.Reader
	NoResponse    bool // close the body of a successful reply
	ContentType   string
	ContentLength *int64
	ContentRange  string
	ExtraHeaders  map[string]string // keys starting "*" aren't canonicalised
	IgnoreStatus  bool              // hand back any status without calling the error handler
	Parameters    url.Values
	NoRedirect    bool // return redirects instead of following them
}

// DecodeJSON decodes resp.Body into result and closes it
func DecodeJSON(resp *http.Response, result interface{}) (err error) {
	defer fs.CheckClose(resp.Body, &err)
	return json.NewDecoder(resp.Body).Decode(result)
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMultipleChoices, http.StatusMovedPermanently, http.StatusFound,
		http.StatusSeeOther, http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// drain reads a little of what is left of resp.Body so the
// connection can be reused, then closes it
func drain(resp *http.Response) {
	_, _ = io.Copy(ioutil.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

// newRequest builds one hop of a call
func newRequest(ctx context.Context, opts *Opts, method, reqURL string, body io.Reader, headers map[string]string, withAuth bool) (*http.Request, error) {
	body = readers.NoCloser(body)
	// a nil body with ContentLength 0 sends "Content-Length: 0"
	// rather than a chunked empty body
	if opts.ContentLength != nil && *opts.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	if opts.ContentLength != nil && body != nil {
		req.ContentLength = *opts.ContentLength
	}
	for k, v := range headers {
		switch {
		case k == "" || v == "":
		case !withAuth && http.CanonicalHeaderKey(k) == "Authorization":
		case k[0] == '*':
			req.Header[k[1:]] = append(req.Header[k[1:]], v)
		default:
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

// Call sends the request described by opts and returns the response.
//
// Redirects are followed up to the limit set by SetMaxRedirects
// keeping the method and body, except for 303 which turns into a
// GET. The Authorization header is dropped once a redirect leaves the
// origin of the first request. A body which isn't an io.Seeker can't
// be replayed so a redirect of such a request is an error.
//
// On success the caller closes resp.Body unless opts.NoResponse is
// set. On failure the body has been closed already. resp is returned
// whenever there is one, even with an error.
func (api *Client) Call(ctx context.Context, opts *Opts) (resp *http.Response, err error) {
	if opts == nil {
		return nil, errors.New("call() called with nil opts")
	}
	api.mu.RLock()
	rootURL := api.rootURL
	c := api.c
	errorHandler := api.errorHandler
	maxRedirects := api.maxRedirects
	headers := make(map[string]string, len(api.headers)+len(opts.ExtraHeaders)+2)
	for k, v := range api.headers {
		headers[k] = v
	}
	api.mu.RUnlock()

	if opts.RootURL != "" {
		rootURL = opts.RootURL
	}
	if rootURL == "" {
		return nil, errors.New("RootURL not set")
	}
	reqURL := rootURL + opts.Path
	if len(opts.Parameters) > 0 {
		reqURL += "?" + opts.Parameters.Encode()
	}
	if opts.ContentType != "" {
		headers["Content-Type"] = opts.ContentType
	}
	if opts.ContentRange != "" {
		headers["Content-Range"] = opts.ContentRange
	}
	for k, v := range opts.ExtraHeaders {
		headers[k] = v
	}

	// remember where the body started so it can be replayed
	method, body := opts.Method, opts.Body
	bodyStart := int64(-1)
	if seeker, ok := body.(io.Seeker); ok {
		if bodyStart, err = seeker.Seek(0, io.SeekCurrent); err != nil {
			bodyStart = -1
		}
	}

	var origin *url.URL
	withAuth := true
	for redirects := 0; ; redirects++ {
		req, err := newRequest(ctx, opts, method, reqURL, body, headers, withAuth)
		if err != nil {
			return nil, err
		}
		if origin == nil {
			origin = req.URL
		}
		resp, err = c.Do(req)
		if err != nil {
			return nil, err
		}
		if opts.NoRedirect || !isRedirect(resp.StatusCode) {
			break
		}
		location := resp.Header.Get("Location")
		if location == "" {
			break
		}
		drain(resp)
		if redirects >= maxRedirects {
			return nil, errors.Errorf("stopped after %d redirects", maxRedirects)
		}
		next, err := req.URL.Parse(location)
		if err != nil {
			return nil, errors.Wrapf(err, "bad redirect location %q", location)
		}
		if resp.StatusCode == http.StatusSeeOther && method != http.MethodHead {
			method, body = http.MethodGet, nil
			withoutBody := *opts
			withoutBody.ContentLength = nil
			opts = &withoutBody
			delete(headers, "Content-Type")
			delete(headers, "Content-Range")
		} else if body != nil {
			seeker, ok := body.(io.Seeker)
			if !ok || bodyStart < 0 {
				return nil, errors.Errorf("can't follow %d redirect to %q: request body can't be replayed", resp.StatusCode, next)
			}
			if _, err = seeker.Seek(bodyStart, io.SeekStart); err != nil {
				return nil, errors.Wrap(err, "failed to rewind body to follow redirect")
			}
		}
		if withAuth && !sameOrigin(origin, next) {
			fs.Debugf(nil, "Dropping credentials on redirect from %q to %q", origin.Host, next.Host)
			withAuth = false
		}
		fs.Debugf(nil, "Following %d redirect to %q", resp.StatusCode, next)
		reqURL = next.String()
	}

	if !opts.IgnoreStatus && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		err = errorHandler(resp)
		if err.Error() == "" {
			err = errors.Errorf("http error %d: %v", resp.StatusCode, resp.Status)
		}
		return resp, err
	}
	if opts.NoResponse {
		return resp, resp.Body.Close()
	}
	return resp, nil
}

// CallJSON is Call with request, if not nil, sent as a JSON body and
// the reply decoded into response, if not nil.
//
// resp.Body is closed when response is set. Otherwise it is left for
// the caller unless opts.NoResponse is set.
func (api *Client) CallJSON(ctx context.Context, opts *Opts, request interface{}, response interface{}) (resp *http.Response, err error) {
	if request != nil && opts.Body == nil {
		buf, err := json.Marshal(request)
		if err != nil {
			return nil, err
		}
		withBody := *opts
		withBody.ContentType = "application/json"
		withBody.Body = bytes.NewReader(buf)
		opts = &withBody
	}
	resp, err = api.Call(ctx, opts)
	if err != nil || response == nil || opts.NoResponse {
		return resp, err
	}
	return resp, DecodeJSON(resp, response)
}
