package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/config/configmap"
	"github.com/rclone/cloudrepo/fs/fserrors"
	"github.com/rclone/cloudrepo/fstest"
	"github.com/rclone/cloudrepo/fstest/fstests"
	"github.com/rclone/cloudrepo/lib/oauthutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const testToken = `{"access_token":"access","token_type":"Bearer","refresh_token":"refresh","expiry":"2100-01-01T00:00:00Z"}`

// fakeItem is a file or folder held by fakeDrive
type fakeItem struct {
	id       string
	name     string
	mimeType string
	parents  []string
	data     []byte
	modTime  string
	version  int64
	trashed  bool
}

// fakeSession is a resumable upload in progress
type fakeSession struct {
	fileID string
	info   drive.File
	data   []byte
	total  int64
}

// fakeDrive is an httptest server speaking enough of the Drive v3
// REST API for the adapter
type fakeDrive struct {
	mu         sync.Mutex
	server     *httptest.Server
	items      map[string]*fakeItem
	sessions   map[string]*fakeSession
	nextID     int
	failPut    int // accept the data of the PUT with this number but answer 503
	forbidPut  int // refuse the PUT with this number
	puts       int
	aborted    int
	revoked    []string
	multiparts int
	calls      int // metadata API requests
}

func newFakeDrive(t *testing.T) *fakeDrive {
	f := &fakeDrive{
		items:    make(map[string]*fakeItem),
		sessions: make(map[string]*fakeSession),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(f.server.Close)
	return f
}

// useFake makes new adapters talk to fake
func useFake(t *testing.T, fake *fakeDrive) {
	oldConnect, oldRevoke, oldMin := connect, revokeURL, minChunkSize
	connect = func(ctx context.Context, cloud *fs.Cloud) (*service, error) {
		client, ts, err := oauthutil.NewClientWithBaseClient(ctx, cloud, driveConfig, fake.server.Client())
		if err != nil {
			return nil, err
		}
		return newService(ctx, client, ts, option.WithEndpoint(fake.server.URL+"/drive/v3/"))
	}
	revokeURL = fake.server.URL + "/revoke"
	minChunkSize = 16
	t.Cleanup(func() {
		connect, revokeURL, minChunkSize = oldConnect, oldRevoke, oldMin
	})
}

func newRepository(t *testing.T, config configmap.Simple) (*Repository, *fs.Folder, *fakeDrive) {
	fake := newFakeDrive(t)
	useFake(t, fake)
	if config == nil {
		config = configmap.Simple{}
	}
	config["token"] = testToken
	cloud := fs.NewCloud("drive", "drive", config)
	repo, err := NewRepository(context.Background(), cloud, nil)
	require.NoError(t, err)
	return repo.(*Repository), fs.NewRoot(cloud), fake
}

func writeError(w http.ResponseWriter, code int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": reason,
			"errors":  []map[string]string{{"domain": "global", "reason": reason, "message": reason}},
		},
	})
}

func (f *fakeDrive) toFile(item *fakeItem) *drive.File {
	return &drive.File{
		Id:           item.id,
		Name:         item.name,
		MimeType:     item.mimeType,
		Parents:      item.parents,
		Size:         int64(len(item.data)),
		ModifiedTime: item.modTime,
		Version:      item.version,
		Trashed:      item.trashed,
	}
}

func (f *fakeDrive) writeFile(w http.ResponseWriter, code int, item *fakeItem) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(f.toFile(item))
}

// add stores a new item
func (f *fakeDrive) add(info *drive.File, data []byte) *fakeItem {
	f.nextID++
	item := &fakeItem{
		id:       fmt.Sprintf("id%d", f.nextID),
		name:     info.Name,
		mimeType: info.MimeType,
		parents:  info.Parents,
		data:     data,
		modTime:  info.ModifiedTime,
		version:  1,
	}
	if item.mimeType == "" {
		item.mimeType = "application/octet-stream"
	}
	if item.modTime == "" {
		item.modTime = time.Now().UTC().Format(timeFormatOut)
	}
	f.items[item.id] = item
	return item
}

// replace swaps the content of item
func (f *fakeDrive) replace(item *fakeItem, info *drive.File, data []byte) {
	item.data = data
	item.version++
	if info.ModifiedTime != "" {
		item.modTime = info.ModifiedTime
	}
}

// isBelow reports whether item is inside the folder id at any depth
func (f *fakeDrive) isBelow(item *fakeItem, id string) bool {
	for depth := 0; depth < 100 && len(item.parents) > 0; depth++ {
		if item.parents[0] == id {
			return true
		}
		parent, ok := f.items[item.parents[0]]
		if !ok {
			return false
		}
		item = parent
	}
	return false
}

var (
	parentsRe = regexp.MustCompile(`'((?:[^'\\]|\\.)*)' in parents`)
	nameRe    = regexp.MustCompile(`name='((?:[^'\\]|\\.)*)'`)
	unescaper = strings.NewReplacer(`\'`, `'`, `\\`, `\`)
)

func (f *fakeDrive) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	parent := parentsRe.FindStringSubmatch(q)
	if parent == nil {
		writeError(w, http.StatusBadRequest, "invalidQuery")
		return
	}
	parentID := unescaper.Replace(parent[1])
	var name string
	if m := nameRe.FindStringSubmatch(q); m != nil {
		name = unescaper.Replace(m[1])
	}
	var found []*fakeItem
	for _, item := range f.items {
		if item.trashed || len(item.parents) == 0 || item.parents[0] != parentID {
			continue
		}
		if name != "" && !strings.EqualFold(name, item.name) {
			continue
		}
		found = append(found, item)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].id < found[j].id })
	offset, _ := strconv.Atoi(r.URL.Query().Get("pageToken"))
	end := len(found)
	if size, _ := strconv.Atoi(r.URL.Query().Get("pageSize")); size > 0 && offset+size < end {
		end = offset + size
	}
	result := &drive.FileList{}
	for _, item := range found[offset:end] {
		result.Files = append(result.Files, f.toFile(item))
	}
	if end < len(found) {
		result.NextPageToken = strconv.Itoa(end)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// multipartUpload reads the metadata and media of a multipart upload
func multipartUpload(r *http.Request) (info drive.File, data []byte, err error) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return info, nil, err
	}
	mr := multipart.NewReader(r.Body, params["boundary"])
	part, err := mr.NextPart()
	if err != nil {
		return info, nil, err
	}
	if err = json.NewDecoder(part).Decode(&info); err != nil {
		return info, nil, err
	}
	part, err = mr.NextPart()
	if err != nil {
		return info, nil, err
	}
	data, err = io.ReadAll(part)
	return info, data, err
}

func (f *fakeDrive) upload(w http.ResponseWriter, r *http.Request, fileID string) {
	var item *fakeItem
	if fileID != "" {
		item = f.items[fileID]
		if item == nil {
			writeError(w, http.StatusNotFound, "notFound")
			return
		}
	}
	if r.URL.Query().Get("uploadType") == "resumable" {
		var info drive.File
		if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
			writeError(w, http.StatusBadRequest, "badRequest")
			return
		}
		total, _ := strconv.ParseInt(r.Header.Get("X-Upload-Content-Length"), 10, 64)
		id := fmt.Sprintf("session%d", len(f.sessions)+f.aborted+1)
		f.sessions[id] = &fakeSession{fileID: fileID, info: info, total: total}
		w.Header().Set("Location", f.server.URL+"/upload/session/"+id)
		w.WriteHeader(http.StatusOK)
		return
	}
	info, data, err := multipartUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "badRequest")
		return
	}
	f.multiparts++
	if item == nil {
		f.writeFile(w, http.StatusOK, f.add(&info, data))
		return
	}
	f.replace(item, &info, data)
	f.writeFile(w, http.StatusOK, item)
}

func (f *fakeDrive) sessionRange(w http.ResponseWriter, s *fakeSession) {
	if len(s.data) > 0 {
		w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", len(s.data)-1))
	}
	w.WriteHeader(statusResumeIncomplete)
}

// commit turns a complete session into a file
func (f *fakeDrive) commit(w http.ResponseWriter, id string, s *fakeSession) {
	delete(f.sessions, id)
	if s.fileID != "" {
		item := f.items[s.fileID]
		f.replace(item, &s.info, s.data)
		f.writeFile(w, http.StatusOK, item)
		return
	}
	f.writeFile(w, http.StatusCreated, f.add(&s.info, s.data))
}

func (f *fakeDrive) put(w http.ResponseWriter, r *http.Request, id string) {
	s := f.sessions[id]
	if s == nil {
		writeError(w, http.StatusNotFound, "notFound")
		return
	}
	f.puts++
	if f.puts == f.forbidPut {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	contentRange := r.Header.Get("Content-Range")
	if strings.HasPrefix(contentRange, "bytes */") {
		f.sessionRange(w, s)
		return
	}
	var start, end, total int64
	if _, err := fmt.Sscanf(contentRange, "bytes %d-%d/%d", &start, &end, &total); err != nil {
		writeError(w, http.StatusBadRequest, "badContentRange")
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil || int64(len(data)) != end-start+1 {
		writeError(w, http.StatusBadRequest, "shortBody")
		return
	}
	if start != int64(len(s.data)) {
		f.sessionRange(w, s)
		return
	}
	s.data = append(s.data, data...)
	if f.puts == f.failPut {
		writeError(w, http.StatusServiceUnavailable, "backendError")
		return
	}
	if int64(len(s.data)) == s.total {
		f.commit(w, id, s)
		return
	}
	f.sessionRange(w, s)
}

func (f *fakeDrive) update(w http.ResponseWriter, r *http.Request, item *fakeItem) {
	var info drive.File
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		writeError(w, http.StatusBadRequest, "badRequest")
		return
	}
	if info.Name != "" {
		item.name = info.Name
	}
	if info.Trashed {
		item.trashed = true
	}
	if add := r.URL.Query().Get("addParents"); add != "" {
		item.parents = []string{add}
	}
	f.writeFile(w, http.StatusOK, item)
}

func (f *fakeDrive) serveHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := r.URL.Path
	if strings.HasPrefix(p, "/drive/v3/") {
		f.calls++
	}
	switch {
	case p == "/revoke":
		_ = r.ParseForm()
		f.revoked = append(f.revoked, r.Form.Get("token"))
	case p == "/drive/v3/about":
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"user":{"displayName":"Tester","emailAddress":"tester@example.com"}}`)
	case p == "/drive/v3/files" && r.Method == http.MethodGet:
		f.list(w, r)
	case p == "/drive/v3/files" && r.Method == http.MethodPost:
		var info drive.File
		if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
			writeError(w, http.StatusBadRequest, "badRequest")
			return
		}
		f.writeFile(w, http.StatusOK, f.add(&info, nil))
	case strings.HasPrefix(p, "/drive/v3/files/"):
		id := strings.TrimPrefix(p, "/drive/v3/files/")
		item := f.items[id]
		if item == nil {
			writeError(w, http.StatusNotFound, "notFound")
			return
		}
		switch r.Method {
		case http.MethodGet:
			if r.URL.Query().Get("alt") == "media" {
				w.Header().Set("Content-Length", strconv.Itoa(len(item.data)))
				_, _ = w.Write(item.data)
				return
			}
			f.writeFile(w, http.StatusOK, item)
		case http.MethodPatch:
			f.update(w, r, item)
		case http.MethodDelete:
			for other, child := range f.items {
				if f.isBelow(child, id) {
					delete(f.items, other)
				}
			}
			delete(f.items, id)
			w.WriteHeader(http.StatusNoContent)
		}
	case p == "/upload/drive/v3/files":
		f.upload(w, r, "")
	case strings.HasPrefix(p, "/upload/drive/v3/files/"):
		f.upload(w, r, strings.TrimPrefix(p, "/upload/drive/v3/files/"))
	case strings.HasPrefix(p, "/upload/session/"):
		id := strings.TrimPrefix(p, "/upload/session/")
		if r.Method == http.MethodDelete {
			delete(f.sessions, id)
			f.aborted++
			w.WriteHeader(499)
			return
		}
		f.put(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "notFound")
	}
}

// byName finds the live item called name
func (f *fakeDrive) byName(name string) *fakeItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.name == name && !item.trashed {
			return item
		}
	}
	return nil
}

// TestIntegration runs integration tests against a fake Drive
func TestIntegration(t *testing.T) {
	fake := newFakeDrive(t)
	useFake(t, fake)
	fstests.Run(t, &fstests.Opt{
		Cloud: fs.NewCloud("TestDrive", "drive", configmap.Simple{
			"token":      testToken,
			"chunk_size": "32",
		}),
		ChunkSize: 32,
	})
}

func TestCheckUploadChunkSize(t *testing.T) {
	assert.NoError(t, checkUploadChunkSize(256*fs.Kibi))
	assert.NoError(t, checkUploadChunkSize(8*fs.Mebi))
	assert.Error(t, checkUploadChunkSize(3*fs.Mebi))
	assert.Error(t, checkUploadChunkSize(128*fs.Kibi))
}

func TestListPaged(t *testing.T) {
	ctx := context.Background()
	repo, root, fake := newRepository(t, configmap.Simple{"list_chunk": "2"})
	var want []string
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("file%d", i)
		fstest.Put(ctx, t, repo, root, name, []byte(name))
		want = append(want, name)
	}
	fstest.Mkdir(ctx, t, repo, root, "dir")
	want = append(want, "dir/")
	// Google documents can't be read so aren't listed
	fake.mu.Lock()
	fake.add(&drive.File{Name: "notes", MimeType: "application/vnd.google-apps.document", Parents: []string{"root"}}, nil)
	fake.add(&drive.File{Name: "file0", Parents: []string{"root"}}, []byte("duplicate"))
	fake.mu.Unlock()
	fstest.CheckListing(ctx, t, repo, root, want...)
}

func TestSlashInName(t *testing.T) {
	ctx := context.Background()
	repo, root, fake := newRepository(t, nil)
	file := fstest.Put(ctx, t, repo, root, "a／b", []byte("slash"))
	assert.Equal(t, "a／b", file.Name())
	require.NotNil(t, fake.byName("a/b"))
	fstest.CheckListing(ctx, t, repo, root, "a／b")
	assert.Equal(t, []byte("slash"), fstest.Get(ctx, t, repo, file))
}

func TestQuoteInName(t *testing.T) {
	ctx := context.Background()
	repo, root, _ := newRepository(t, nil)
	dir := fstest.Mkdir(ctx, t, repo, root, `it's \ here`)
	fstest.CheckExists(ctx, t, repo, dir, true)
	fstest.Put(ctx, t, repo, dir, "x", []byte("x"))
	fstest.CheckListing(ctx, t, repo, dir, "x")
}

func TestSmallUploadIsMultipart(t *testing.T) {
	ctx := context.Background()
	repo, root, fake := newRepository(t, configmap.Simple{"chunk_size": "32"})
	modTime := fstest.Time("2021-02-03T04:05:06Z")
	data := []byte("%PDF-1.4 small")
	file, err := repo.Write(ctx, fs.NewFile(root, "doc.pdf", int64(len(data)), modTime), bytes.NewReader(data), nil, false, int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, 1, fake.multiparts)
	assert.True(t, file.ModTime().Equal(modTime), file.ModTime().String())
	assert.Equal(t, "application/pdf", fake.byName("doc.pdf").mimeType)
}

func TestResumableUpload(t *testing.T) {
	ctx := context.Background()
	repo, root, fake := newRepository(t, configmap.Simple{"chunk_size": "32"})
	data := fstest.Pattern(100)
	file := fstest.Put(ctx, t, repo, root, "big.bin", data)
	assert.Equal(t, int64(100), file.Size())
	assert.Equal(t, data, fstest.Get(ctx, t, repo, file))
	assert.Equal(t, 0, fake.multiparts)
	assert.Equal(t, 4, fake.puts)
	assert.Empty(t, fake.sessions)
}

func TestResumableUploadLostReply(t *testing.T) {
	ctx := context.Background()
	repo, root, fake := newRepository(t, configmap.Simple{"chunk_size": "32"})
	// the server keeps the second chunk but the reply is lost, so
	// the committed range is asked for before going on
	fake.failPut = 2
	data := fstest.Pattern(100)
	file := fstest.Put(ctx, t, repo, root, "big.bin", data)
	assert.Equal(t, data, fstest.Get(ctx, t, repo, file))
}

func TestResumableUploadAborted(t *testing.T) {
	ctx := context.Background()
	repo, root, fake := newRepository(t, configmap.Simple{"chunk_size": "32"})
	fake.forbidPut = 2
	data := fstest.Pattern(100)
	_, err := repo.Write(ctx, fs.NewFile(root, "big.bin", 100, time.Time{}), bytes.NewReader(data), nil, false, 100)
	require.Error(t, err)
	assert.Equal(t, fserrors.Forbidden, fserrors.KindOf(translate(err)))
	assert.Equal(t, 1, fake.aborted)
	assert.Nil(t, fake.byName("big.bin"))
}

func TestReplaceKeepsID(t *testing.T) {
	ctx := context.Background()
	repo, root, fake := newRepository(t, configmap.Simple{"chunk_size": "32"})
	first := fstest.Put(ctx, t, repo, root, "f.txt", []byte("one"))
	id := fake.byName("f.txt").id
	for _, data := range [][]byte{[]byte("two"), fstest.Pattern(70)} {
		file, err := repo.Write(ctx, fs.NewFile(root, "f.txt", int64(len(data)), time.Time{}), bytes.NewReader(data), nil, true, int64(len(data)))
		require.NoError(t, err)
		assert.NotEqual(t, first.Revision(), file.Revision())
		assert.Equal(t, data, fstest.Get(ctx, t, repo, file))
	}
	assert.Equal(t, id, fake.byName("f.txt").id)
	assert.Len(t, fake.items, 1)
}

func TestExistsAfterExternalDelete(t *testing.T) {
	ctx := context.Background()
	repo, root, fake := newRepository(t, nil)
	file := fstest.Put(ctx, t, repo, root, "gone.txt", []byte("x"))
	fstest.CheckExists(ctx, t, repo, file, true)
	fake.mu.Lock()
	delete(fake.items, "id1")
	fake.mu.Unlock()
	fstest.CheckExists(ctx, t, repo, file, false)
}

// resetCalls zeroes the request count
func (f *fakeDrive) resetCalls() {
	f.mu.Lock()
	f.calls = 0
	f.mu.Unlock()
}

func (f *fakeDrive) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestFileLookupIsOneRequest(t *testing.T) {
	ctx := context.Background()
	repo, root, fake := newRepository(t, nil)
	fake.mu.Lock()
	fake.add(&drive.File{Name: "f.txt", Parents: []string{"root"}, ModifiedTime: "2021-02-03T04:05:06.000Z"}, []byte("hello"))
	fake.mu.Unlock()

	// not cached: a single listing of the parent
	fake.resetCalls()
	file, err := repo.File(ctx, root, "f.txt", -1)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.callCount())
	assert.Equal(t, int64(5), file.Size())
	assert.True(t, file.ModTime().Equal(fstest.Time("2021-02-03T04:05:06Z")), file.ModTime().String())
	assert.NotEmpty(t, file.Revision())

	// cached: a single metadata read
	fake.resetCalls()
	again, err := repo.File(ctx, root, "f.txt", -1)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.callCount())
	assert.Equal(t, file.Revision(), again.Revision())

	// absent: a single listing and nothing cached
	fake.resetCalls()
	missing, err := repo.File(ctx, root, "nope", 7)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.callCount())
	assert.Equal(t, int64(7), missing.Size())
	assert.Empty(t, missing.Revision())
	_, cached := repo.dirCache.Get("/nope")
	assert.False(t, cached)
}

func TestFileAfterExternalDelete(t *testing.T) {
	ctx := context.Background()
	repo, root, fake := newRepository(t, nil)
	put := fstest.Put(ctx, t, repo, root, "gone.txt", []byte("x"))
	id := fake.byName("gone.txt").id
	_, cached := repo.dirCache.Get(put.Path())
	require.True(t, cached)

	fake.mu.Lock()
	delete(fake.items, id)
	fake.mu.Unlock()

	file, err := repo.File(ctx, root, "gone.txt", 3)
	require.NoError(t, err)
	assert.Equal(t, "/gone.txt", file.Path())
	assert.Equal(t, int64(3), file.Size())
	assert.Empty(t, file.Revision())
	_, cached = repo.dirCache.Get(put.Path())
	assert.False(t, cached)
}

func TestUseTrash(t *testing.T) {
	ctx := context.Background()
	repo, root, fake := newRepository(t, configmap.Simple{"use_trash": "true"})
	dir := fstest.Mkdir(ctx, t, repo, root, "dir")
	fstest.Put(ctx, t, repo, dir, "f", []byte("f"))
	require.NoError(t, repo.Delete(ctx, dir))
	fstest.CheckListing(ctx, t, repo, root)
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.items, 2)
}

func TestMoveReparents(t *testing.T) {
	ctx := context.Background()
	repo, root, fake := newRepository(t, nil)
	a := fstest.Mkdir(ctx, t, repo, root, "a")
	b := fstest.Mkdir(ctx, t, repo, root, "b")
	file := fstest.Put(ctx, t, repo, a, "f", []byte("f"))
	moved, err := repo.MoveFile(ctx, file, fs.NewFile(b, "g", 1, time.Time{}))
	require.NoError(t, err)
	assert.Equal(t, "/b/g", moved.Path())
	item := fake.byName("g")
	require.NotNil(t, item)
	assert.Equal(t, []string{fake.byName("b").id}, item.parents)
	fstest.CheckListing(ctx, t, repo, a)
}

func TestCurrentAccountAndLogout(t *testing.T) {
	ctx := context.Background()
	repo, root, fake := newRepository(t, nil)
	account, err := repo.CurrentAccount(ctx, root.Cloud())
	require.NoError(t, err)
	assert.Equal(t, "tester@example.com", account)
	require.NoError(t, repo.Logout(ctx, root.Cloud()))
	assert.Equal(t, []string{"refresh"}, fake.revoked)
}

func TestCommitted(t *testing.T) {
	for _, test := range []struct {
		header string
		want   int64
		ok     bool
	}{
		{"", 0, true},
		{"bytes=0-0", 1, true},
		{"bytes=0-42", 43, true},
		{"bytes=0-x", 0, false},
	} {
		res := &http.Response{Header: http.Header{}}
		if test.header != "" {
			res.Header.Set("Range", test.header)
		}
		got, err := committed(res)
		assert.Equal(t, test.ok, err == nil, test.header)
		assert.Equal(t, test.want, got, test.header)
	}
}

func TestShouldRetry(t *testing.T) {
	ctx := context.Background()
	for _, test := range []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&googleapi.Error{Code: 503}, true},
		{&googleapi.Error{Code: 429}, true},
		{&googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, true},
		{&googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "insufficientFilePermissions"}}}, false},
		{&googleapi.Error{Code: 404}, false},
		{io.ErrUnexpectedEOF, true},
	} {
		got, _ := shouldRetry(ctx, test.err)
		assert.Equal(t, test.want, got, fmt.Sprint(test.err))
	}
}

func TestTranslate(t *testing.T) {
	for _, test := range []struct {
		code int
		want fserrors.Kind
	}{
		{401, fserrors.WrongCredentials},
		{403, fserrors.Forbidden},
		{404, fserrors.NoSuchFile},
		{409, fserrors.AlreadyExists},
		{501, fserrors.ServerIncompatible},
	} {
		err := errors.Wrap(&googleapi.Error{Code: test.code}, "op")
		assert.Equal(t, test.want, fserrors.KindOf(translate(err)), test.code)
	}
	assert.False(t, fserrors.IsClassified(translate(&googleapi.Error{Code: 500})))
}
