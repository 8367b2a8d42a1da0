// Package api has the XML bodies of the WebDAV protocol
package api

import (
	"encoding/xml"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rclone/cloudrepo/fs"
)

// Multistatus is the body of a 207 reply to PROPFIND
type Multistatus struct {
	Responses []Response `xml:"response"`
}

// Response describes the resource at Href
type Response struct {
	Href  string `xml:"href"`
	Props Prop   `xml:"propstat"`
}

// Prop flattens every <propstat> of a response into one value.
//
// Servers send the properties they know in a propstat with a 2xx
// status and the ones they don't in another with 404, so Status
// collects each status in order and only the first one is checked.
type Prop struct {
	Status       []string  `xml:"DAV: status"`
	Name         string    `xml:"DAV: prop>displayname,omitempty"`
	Type         *xml.Name `xml:"DAV: prop>resourcetype>collection,omitempty"`
	IsCollection *string   `xml:"DAV: prop>iscollection,omitempty"` // IIS
	Size         int64     `xml:"DAV: prop>getcontentlength,omitempty"`
	Modified     Time      `xml:"DAV: prop>getlastmodified,omitempty"`
	ETag         string    `xml:"DAV: prop>getetag,omitempty"`
	Checksums    []string  `xml:"prop>checksums>checksum,omitempty"` // ownCloud
	MESha1Hex    *string   `xml:"ME: prop>sha1hex,omitempty"`        // Fastmail
}

// StatusOK reports whether the first status line is 2xx. No status
// at all counts as OK.
func (p *Prop) StatusOK() bool {
	if len(p.Status) == 0 {
		return true
	}
	// "HTTP/1.1 200 OK"
	fields := strings.Fields(p.Status[0])
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return false
	}
	code, err := strconv.Atoi(fields[1])
	return err == nil && code/100 == 2
}

// Revision identifies the content of the resource: the ETag if there
// is one, otherwise a sha1 or md5 checksum, otherwise ""
func (p *Prop) Revision() string {
	if p.ETag != "" {
		return strings.Trim(p.ETag, `"`)
	}
	for _, list := range p.Checksums {
		for _, sum := range strings.Fields(strings.ToLower(list)) {
			if strings.HasPrefix(sum, "sha1:") || strings.HasPrefix(sum, "md5:") {
				return sum
			}
		}
	}
	if p.MESha1Hex != nil {
		return "sha1:" + *p.MESha1Hex
	}
	return ""
}

// Error is the body of a failed request, eg from SabreDAV
//
//	<d:error xmlns:d="DAV:" xmlns:s="http://sabredav.org/ns">
//	  <s:exception>Sabre\DAV\Exception\NotFound</s:exception>
//	  <s:message>File with name Photo could not be located</s:message>
//	</d:error>
//
// Status and StatusCode come from the HTTP reply.
type Error struct {
	Exception  string `xml:"exception,omitempty"`
	Message    string `xml:"message,omitempty"`
	Status     string
	StatusCode int
}

// Error satisfies the error interface
func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{e.Message, e.Exception, e.Status} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "webdav error"
	}
	return strings.Join(parts, ": ")
}

// Time is a getlastmodified value
type Time time.Time

// layouts seen in getlastmodified, RFC 1123 first
var layouts = []string{
	time.RFC1123,
	time.RFC1123Z,
	"Mon, _2 Jan 2006 15:04:05 MST",
	time.UnixDate,
	time.RFC3339,
}

var badTimeOnce sync.Once

// UnmarshalXML parses any of the known layouts. Missing or unparsable
// values become the epoch.
func (t *Time) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var v string
	if err := d.DecodeElement(&v, &start); err != nil {
		return err
	}
	*t = Time(time.Unix(0, 0))
	if v == "" {
		return nil
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, v); err == nil {
			*t = Time(parsed)
			return nil
		}
	}
	badTimeOnce.Do(func() {
		fs.Errorf(nil, "Can't parse modification time %q, using the epoch", v)
	})
	return nil
}

// Quota is the reply to a PROPFIND for the quota properties of the
// root. Servers without quota support leave both empty.
type Quota struct {
	Available string `xml:"DAV: response>propstat>prop>quota-available-bytes"`
	Used      string `xml:"DAV: response>propstat>prop>quota-used-bytes"`
}
