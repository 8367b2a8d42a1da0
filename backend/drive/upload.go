// Upload for drive
//
// Docs
// Resumable upload: https://developers.google.com/drive/web/manage-uploads#resumable
// Best practices: https://developers.google.com/drive/web/manage-uploads#best-practices
//
// This contains code adapted from google.golang.org/api (C) the GO AUTHORS

package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/fserrors"
	"github.com/rclone/cloudrepo/lib/chunked"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const (
	// statusResumeIncomplete is the code returned by the Google uploader when the transfer is not yet complete.
	statusResumeIncomplete = 308
)

// resumableUpload is a resumable upload session run by chunked
type resumableUpload struct {
	repo   *Repository
	remote string
	// parentID and name are where a new file goes
	parentID string
	name     string
	// fileID is the file being replaced if set
	fileID string
	info   *drive.File
	// contentType defines the media type, e.g. "image/jpeg".
	contentType string
	// size is the full size of the object being uploaded.
	size int64
	// query the committed range before the next transfer
	lost   bool
	result *drive.File
}

// initiate asks for a session URI
func (rx *resumableUpload) initiate(ctx context.Context) (uri string, err error) {
	params := url.Values{
		"alt":        {"json"},
		"uploadType": {"resumable"},
		"fields":     {partialFields},
	}
	urls := googleapi.ResolveRelative(rx.repo.svc.BasePath, "/upload/drive/v3/files")
	method := http.MethodPost
	if rx.fileID != "" {
		urls += "/{fileId}"
		method = http.MethodPatch
	}
	urls += "?" + params.Encode()
	var res *http.Response
	err = rx.repo.pacer.Call(ctx, func() (bool, error) {
		body, err := googleapi.WithoutDataWrapper.JSONReader(rx.info)
		if err != nil {
			return false, err
		}
		req, err := http.NewRequestWithContext(ctx, method, urls, body)
		if err != nil {
			return false, err
		}
		googleapi.Expand(req.URL, map[string]string{
			"fileId": rx.fileID,
		})
		req.Header.Set("Content-Type", "application/json; charset=UTF-8")
		req.Header.Set("X-Upload-Content-Type", rx.contentType)
		req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(rx.size, 10))
		res, err = rx.repo.client.Do(req)
		if err == nil {
			defer googleapi.CloseBody(res)
			err = googleapi.CheckResponse(res)
		}
		return shouldRetry(ctx, err)
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to start resumable upload")
	}
	uri = res.Header.Get("Location")
	if uri == "" {
		return "", errors.New("no session URI in resumable upload response")
	}
	return uri, nil
}

// Make an http.Request for the range passed in
func (rx *resumableUpload) makeRequest(ctx context.Context, uri string, start int64, body io.Reader, reqSize int64) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uri, body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = reqSize
	if reqSize != 0 {
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %v-%v/%v", start, start+reqSize-1, rx.size))
	} else {
		req.Header.Set("Content-Range", fmt.Sprintf("bytes */%v", rx.size))
	}
	req.Header.Set("Content-Type", rx.contentType)
	return req, nil
}

// committed reads how many bytes the server holds from the Range
// header of an incomplete response, eg "bytes=0-42"
func committed(res *http.Response) (int64, error) {
	rng := res.Header.Get("Range")
	if rng == "" {
		return 0, nil
	}
	i := strings.LastIndex(rng, "-")
	if i < 0 {
		return 0, errors.Errorf("bad Range header %q", rng)
	}
	last, err := strconv.ParseInt(rng[i+1:], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "bad Range header %q", rng)
	}
	return last + 1, nil
}

// transferChunk sends size bytes at start, returning how many bytes
// the server holds afterwards
func (rx *resumableUpload) transferChunk(ctx context.Context, uri string, start int64, chunk io.Reader, size int64) (int64, error) {
	req, err := rx.makeRequest(ctx, uri, start, chunk, size)
	if err != nil {
		return 0, err
	}
	res, err := rx.repo.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer googleapi.CloseBody(res)
	switch {
	case res.StatusCode == statusResumeIncomplete:
		return committed(res)
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
		return 0, fserrors.Kinded(fserrors.Fatal, errors.Errorf("upload session of %q expired", rx.remote))
	}
	if err = googleapi.CheckResponse(res); err != nil {
		if retry, _ := shouldRetry(ctx, err); retry {
			return 0, fserrors.RetryError(err)
		}
		return 0, err
	}
	// When the entire file upload is complete, the server
	// responds with an HTTP 201 Created along with any metadata
	// associated with this resource. If this request had been
	// updating an existing entity rather than creating a new one,
	// the HTTP response code for a completed upload would have
	// been 200 OK.
	//
	// So parse the response out of the body.  We aren't expecting
	// any other 2xx codes, so we parse it unconditionally on
	// StatusCode
	if err = json.NewDecoder(res.Body).Decode(&rx.result); err != nil {
		return 0, err
	}
	return rx.size, nil
}

// send transfers a chunk at offset, checking the server ends up with
// everything up to offset+size
//
// After a failed transfer the committed range is asked for first so
// the retry resumes where the server is.
func (rx *resumableUpload) send(ctx context.Context, uri string, offset int64, chunk io.Reader, size int64) error {
	if rx.lost {
		has, err := rx.transferChunk(ctx, uri, 0, nil, 0)
		if err != nil {
			return err
		}
		rx.lost = false
		if has != offset {
			return &chunked.OffsetError{Offset: has, Err: errors.Errorf("server has %d bytes", has)}
		}
	}
	fs.Debugf(rx.remote, "Sending chunk %d length %d", offset, size)
	has, err := rx.transferChunk(ctx, uri, offset, chunk, size)
	if err != nil {
		rx.lost = !fserrors.IsClassified(err)
		return err
	}
	if has != offset+size {
		return &chunked.OffsetError{Offset: has, Err: errors.Errorf("server has %d bytes, sent up to %d", has, offset+size)}
	}
	return nil
}

// Start opens the session with the first chunk
func (rx *resumableUpload) Start(ctx context.Context, chunk io.Reader, size int64) (string, error) {
	uri, err := rx.initiate(ctx)
	if err != nil {
		return "", err
	}
	rx.lost = false
	if err = rx.send(ctx, uri, 0, chunk, size); err != nil {
		_ = rx.Abort(ctx, uri)
		return "", err
	}
	return uri, nil
}

// Append uploads a chunk at offset
func (rx *resumableUpload) Append(ctx context.Context, uri string, offset int64, chunk io.Reader, size int64) error {
	return rx.send(ctx, uri, offset, chunk, size)
}

// Finish uploads the last chunk which commits the file
func (rx *resumableUpload) Finish(ctx context.Context, uri string, offset int64, chunk io.Reader, size int64, mode chunked.Mode) error {
	if mode == chunked.ModeAdd && rx.fileID == "" {
		_, _, found, err := rx.repo.FindLeaf(ctx, rx.parentID, rx.name)
		if err != nil {
			return err
		}
		if found {
			return errExists(rx.remote)
		}
	}
	rx.result = nil
	if err := rx.send(ctx, uri, offset, chunk, size); err != nil {
		return err
	}
	if rx.result == nil {
		return fserrors.RetryErrorf("incomplete upload of %q", rx.remote)
	}
	return nil
}

// Abort cancels the session
func (rx *resumableUpload) Abort(ctx context.Context, uri string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, uri, nil)
	if err != nil {
		return err
	}
	res, err := rx.repo.client.Do(req)
	if err != nil {
		return err
	}
	googleapi.CloseBody(res)
	return nil
}
