package rest

import (
	"net/url"

	"github.com/pkg/errors"
)

// URLJoin joins a URL and a path returning a new URL
//
// path should be URL escaped
func URLJoin(base *url.URL, path string) (*url.URL, error) {
	rel, err := url.Parse(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Error parsing %q as URL", path)
	}
	return base.ResolveReference(rel), nil
}

// URLPathEscape escapes a "/" separated path segment by segment
func URLPathEscape(in string) string {
	var u url.URL
	u.Path = in
	return u.String()
}

// sameOrigin is true if a and b have the same scheme, host and port
func sameOrigin(a, b *url.URL) bool {
	return a.Scheme == b.Scheme && a.Host == b.Host
}
