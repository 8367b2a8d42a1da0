package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/config/configmap"
	"github.com/rclone/cloudrepo/fs/config/obscure"
	"github.com/rclone/cloudrepo/fs/fserrors"
	"github.com/rclone/cloudrepo/fstest"
	"github.com/rclone/cloudrepo/fstest/fstests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeObject is an object held by fakeS3
type fakeObject struct {
	data        []byte
	etag        string
	contentType string
	modTime     time.Time
}

// fakeS3 is an in memory bucket speaking enough of the S3 API for
// the adapter
type fakeS3 struct {
	s3iface.S3API
	mu       sync.Mutex
	bucket   string
	pageSize int
	objects  map[string]*fakeObject
	uploads  map[string]map[int64][]byte
	aborted  int
	reject   bool
	failPart int64 // part number to fail once
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{
		bucket:   bucket,
		pageSize: 3,
		objects:  make(map[string]*fakeObject),
		uploads:  make(map[string]map[int64][]byte),
	}
}

func requestFailure(code string, status int) error {
	return awserr.NewRequestFailure(awserr.New(code, code, nil), status, "request-id")
}

func newFakeObject(data []byte, contentType string) *fakeObject {
	sum := md5.Sum(data)
	return &fakeObject{
		data:        data,
		etag:        `"` + hex.EncodeToString(sum[:]) + `"`,
		contentType: contentType,
		modTime:     time.Now(),
	}
}

// check validates the bucket and the credentials
func (f *fakeS3) check(bucket *string) error {
	if f.reject {
		return requestFailure("InvalidAccessKeyId", http.StatusForbidden)
	}
	if aws.StringValue(bucket) != f.bucket {
		return requestFailure(s3.ErrCodeNoSuchBucket, http.StatusNotFound)
	}
	return nil
}

func (f *fakeS3) HeadObjectWithContext(ctx aws.Context, in *s3.HeadObjectInput, opts ...request.Option) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(in.Bucket); err != nil {
		return nil, err
	}
	o := f.objects[aws.StringValue(in.Key)]
	if o == nil {
		return nil, requestFailure("NotFound", http.StatusNotFound)
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(o.data))),
		ContentType:   aws.String(o.contentType),
		ETag:          aws.String(o.etag),
		LastModified:  aws.Time(o.modTime),
	}, nil
}

func (f *fakeS3) ListObjectsV2WithContext(ctx aws.Context, in *s3.ListObjectsV2Input, opts ...request.Option) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(in.Bucket); err != nil {
		return nil, err
	}
	prefix, delimiter := aws.StringValue(in.Prefix), aws.StringValue(in.Delimiter)
	var keys []string
	seen := map[string]bool{}
	for key := range f.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if delimiter != "" {
			if i := strings.Index(key[len(prefix):], delimiter); i >= 0 {
				common := key[:len(prefix)+i+1]
				if !seen[common] {
					seen[common] = true
					keys = append(keys, common)
				}
				continue
			}
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	start := aws.StringValue(in.ContinuationToken)
	for len(keys) > 0 && start != "" && keys[0] <= start {
		keys = keys[1:]
	}
	max := f.pageSize
	if in.MaxKeys != nil && int(*in.MaxKeys) < max {
		max = int(*in.MaxKeys)
	}
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(len(keys) > max)}
	if len(keys) > max {
		keys = keys[:max]
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	for _, key := range keys {
		if seen[key] {
			out.CommonPrefixes = append(out.CommonPrefixes, &s3.CommonPrefix{Prefix: aws.String(key)})
			continue
		}
		o := f.objects[key]
		out.Contents = append(out.Contents, &s3.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(o.data))),
			ETag:         aws.String(o.etag),
			LastModified: aws.Time(o.modTime),
		})
	}
	return out, nil
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(in.Bucket); err != nil {
		return nil, err
	}
	o := newFakeObject(data, aws.StringValue(in.ContentType))
	f.objects[aws.StringValue(in.Key)] = o
	return &s3.PutObjectOutput{ETag: aws.String(o.etag)}, nil
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(in.Bucket); err != nil {
		return nil, err
	}
	o := f.objects[aws.StringValue(in.Key)]
	if o == nil {
		return nil, requestFailure(s3.ErrCodeNoSuchKey, http.StatusNotFound)
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(o.data)),
		ContentLength: aws.Int64(int64(len(o.data))),
		ETag:          aws.String(o.etag),
	}, nil
}

func (f *fakeS3) CopyObjectWithContext(ctx aws.Context, in *s3.CopyObjectInput, opts ...request.Option) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(in.Bucket); err != nil {
		return nil, err
	}
	source, err := url.PathUnescape(aws.StringValue(in.CopySource))
	if err != nil {
		return nil, err
	}
	o := f.objects[strings.TrimPrefix(source, f.bucket+"/")]
	if o == nil {
		return nil, requestFailure(s3.ErrCodeNoSuchKey, http.StatusNotFound)
	}
	copied := *o
	f.objects[aws.StringValue(in.Key)] = &copied
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjectWithContext(ctx aws.Context, in *s3.DeleteObjectInput, opts ...request.Option) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(in.Bucket); err != nil {
		return nil, err
	}
	delete(f.objects, aws.StringValue(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjectsWithContext(ctx aws.Context, in *s3.DeleteObjectsInput, opts ...request.Option) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(in.Bucket); err != nil {
		return nil, err
	}
	if len(in.Delete.Objects) > maxDeleteKeys {
		return nil, requestFailure("MalformedXML", http.StatusBadRequest)
	}
	for _, id := range in.Delete.Objects {
		delete(f.objects, aws.StringValue(id.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) CreateMultipartUploadWithContext(ctx aws.Context, in *s3.CreateMultipartUploadInput, opts ...request.Option) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(in.Bucket); err != nil {
		return nil, err
	}
	id := fmt.Sprintf("upload-%d", len(f.uploads)+f.aborted)
	f.uploads[id] = make(map[int64][]byte)
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPartWithContext(ctx aws.Context, in *s3.UploadPartInput, opts ...request.Option) (*s3.UploadPartOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := f.uploads[aws.StringValue(in.UploadId)]
	if parts == nil {
		return nil, requestFailure(s3.ErrCodeNoSuchUpload, http.StatusNotFound)
	}
	if f.failPart != 0 && aws.Int64Value(in.PartNumber) == f.failPart {
		f.failPart = 0
		return nil, requestFailure("AccessDenied", http.StatusForbidden)
	}
	parts[aws.Int64Value(in.PartNumber)] = data
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf(`"part-%d"`, aws.Int64Value(in.PartNumber)))}, nil
}

func (f *fakeS3) CompleteMultipartUploadWithContext(ctx aws.Context, in *s3.CompleteMultipartUploadInput, opts ...request.Option) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.StringValue(in.UploadId)
	parts := f.uploads[id]
	if parts == nil {
		return nil, requestFailure(s3.ErrCodeNoSuchUpload, http.StatusNotFound)
	}
	var data []byte
	for i, part := range in.MultipartUpload.Parts {
		if aws.Int64Value(part.PartNumber) != int64(i+1) {
			return nil, requestFailure("InvalidPartOrder", http.StatusBadRequest)
		}
		data = append(data, parts[int64(i+1)]...)
	}
	delete(f.uploads, id)
	f.objects[aws.StringValue(in.Key)] = newFakeObject(data, "")
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUploadWithContext(ctx aws.Context, in *s3.AbortMultipartUploadInput, opts ...request.Option) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uploads, aws.StringValue(in.UploadId))
	f.aborted++
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) ListBucketsWithContext(ctx aws.Context, in *s3.ListBucketsInput, opts ...request.Option) (*s3.ListBucketsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return nil, requestFailure("InvalidAccessKeyId", http.StatusForbidden)
	}
	return &s3.ListBucketsOutput{
		Owner: &s3.Owner{DisplayName: aws.String("owner"), ID: aws.String("1234")},
	}, nil
}

// useFake makes new adapters talk to fake
func useFake(t *testing.T, fake *fakeS3) {
	old := connect
	connect = func(ctx context.Context, opt *Options, client *http.Client) (s3iface.S3API, error) {
		return fake, nil
	}
	t.Cleanup(func() { connect = old })
}

func newRepository(t *testing.T, config configmap.Simple) (*Repository, *fs.Folder, *fakeS3) {
	fake := newFakeS3("bucket")
	useFake(t, fake)
	if config == nil {
		config = configmap.Simple{}
	}
	config["bucket"] = "bucket"
	cloud := fs.NewCloud("s3", "s3", config)
	repo, err := NewRepository(context.Background(), cloud, nil)
	require.NoError(t, err)
	return repo.(*Repository), fs.NewRoot(cloud), fake
}

// TestIntegration runs integration tests against an in memory bucket
func TestIntegration(t *testing.T) {
	useFake(t, newFakeS3("bucket"))
	fstests.Run(t, &fstests.Opt{
		Cloud:     fs.NewCloud("TestS3", "s3", configmap.Simple{"bucket": "bucket"}),
		ChunkSize: 32,
	})
}

func TestNeedsBucket(t *testing.T) {
	_, err := NewRepository(context.Background(), fs.NewCloud("s3", "s3", nil), nil)
	require.Error(t, err)
}

func TestSecretIsRevealed(t *testing.T) {
	var got *Options
	old := connect
	connect = func(ctx context.Context, opt *Options, client *http.Client) (s3iface.S3API, error) {
		got = opt
		return newFakeS3("bucket"), nil
	}
	defer func() { connect = old }()
	secret, err := obscure.Obscure("hunter2")
	require.NoError(t, err)
	_, err = NewRepository(context.Background(), fs.NewCloud("s3", "s3", configmap.Simple{
		"bucket":            "bucket",
		"access_key_id":     "AKID",
		"secret_access_key": secret,
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got.SecretAccessKey)
}

func TestListPaged(t *testing.T) {
	ctx := context.Background()
	repo, root, _ := newRepository(t, nil)
	var want []string
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("file%02d", i)
		fstest.Put(ctx, t, repo, root, name, []byte(name))
		want = append(want, name)
	}
	fstest.Mkdir(ctx, t, repo, root, "dir")
	want = append(want, "dir/")
	fstest.CheckListing(ctx, t, repo, root, want...)
}

func TestImplicitFolder(t *testing.T) {
	ctx := context.Background()
	repo, root, fake := newRepository(t, nil)
	// made by another tool without markers
	fake.objects["a/b/c.txt"] = newFakeObject([]byte("c"), "text/plain")
	fstest.CheckListing(ctx, t, repo, root, "a/")
	a := fs.NewFolder(root, "a")
	fstest.CheckListing(ctx, t, repo, a, "b/")
	fstest.CheckListing(ctx, t, repo, fs.NewFolder(a, "b"), "c.txt")
	fstest.CheckExists(ctx, t, repo, a, true)

	_, err := repo.Create(ctx, a)
	assert.True(t, fserrors.IsKind(err, fserrors.AlreadyExists))
}

func TestFolderMarkers(t *testing.T) {
	ctx := context.Background()
	repo, root, fake := newRepository(t, nil)
	_, err := repo.Create(ctx, fs.NewFolder(fs.NewFolder(root, "x"), "y"))
	require.NoError(t, err)
	require.Contains(t, fake.objects, "x/")
	require.Contains(t, fake.objects, "x/y/")
	assert.Equal(t, folderMarker, fake.objects["x/y/"].contentType)
	fstest.CheckListing(ctx, t, repo, fs.NewFolder(root, "x"), "y/")
}

func TestMultipartUpload(t *testing.T) {
	ctx := context.Background()
	repo, root, fake := newRepository(t, configmap.Simple{"chunk_size": "10"})
	data := fstest.Pattern(45)
	var progress fstest.ProgressRecorder
	file, err := repo.Write(ctx, fs.NewFile(root, "big", -1, time.Time{}), bytes.NewReader(data), &progress, false, int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, int64(45), file.Size())
	assert.Equal(t, data, fstest.Get(ctx, t, repo, file))
	assert.Empty(t, fake.uploads)
	progress.Check(t, fs.Upload, 45)
}

func TestMultipartUploadAborted(t *testing.T) {
	ctx := context.Background()
	repo, root, fake := newRepository(t, configmap.Simple{"chunk_size": "10"})
	fake.failPart = 3
	data := fstest.Pattern(45)
	_, err := repo.Write(ctx, fs.NewFile(root, "big", -1, time.Time{}), bytes.NewReader(data), nil, false, int64(len(data)))
	require.Error(t, err)
	assert.Empty(t, fake.uploads)
	assert.Equal(t, 1, fake.aborted)
	assert.NotContains(t, fake.objects, "big")
}

func TestWriteSetsContentType(t *testing.T) {
	ctx := context.Background()
	repo, root, fake := newRepository(t, nil)
	fstest.Put(ctx, t, repo, root, "doc", []byte("%PDF-1.4\n%...."))
	assert.Equal(t, "application/pdf", fake.objects["doc"].contentType)
}

func TestMoveFolderCopiesEverything(t *testing.T) {
	ctx := context.Background()
	repo, root, fake := newRepository(t, nil)
	src := fstest.Mkdir(ctx, t, repo, root, "src")
	sub := fstest.Mkdir(ctx, t, repo, src, "sub")
	fstest.Put(ctx, t, repo, sub, "deep+file", []byte("deep"))
	_, err := repo.MoveFolder(ctx, src, fs.NewFolder(root, "dst"))
	require.NoError(t, err)
	keys := make([]string, 0, len(fake.objects))
	for key := range fake.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"dst/", "dst/sub/", "dst/sub/deep+file"}, keys)
}

func TestWrongCredentials(t *testing.T) {
	ctx := context.Background()
	repo, root, fake := newRepository(t, configmap.Simple{"access_key_id": "AKID"})
	fake.reject = true
	_, err := repo.List(ctx, root)
	require.Error(t, err)
	assert.Equal(t, fserrors.WrongCredentials, fserrors.KindOf(translate(err)))
	_, err = repo.CurrentAccount(ctx, root.Cloud())
	assert.Equal(t, fserrors.WrongCredentials, fserrors.KindOf(translate(err)))
}

func TestCurrentAccount(t *testing.T) {
	ctx := context.Background()
	repo, root, _ := newRepository(t, nil)
	name, err := repo.CurrentAccount(ctx, root.Cloud())
	require.NoError(t, err)
	assert.Equal(t, "owner", name)
}

func TestTranslate(t *testing.T) {
	for _, test := range []struct {
		err  error
		want fserrors.Kind
	}{
		{requestFailure(s3.ErrCodeNoSuchKey, 404), fserrors.NoSuchFile},
		{requestFailure("NotFound", 404), fserrors.NoSuchFile},
		{requestFailure("SignatureDoesNotMatch", 403), fserrors.WrongCredentials},
		{requestFailure("AccessDenied", 403), fserrors.Forbidden},
		{requestFailure("Whatever", 403), fserrors.Forbidden},
		{requestFailure("NotImplemented", 501), fserrors.ServerIncompatible},
		{errors.Wrap(requestFailure("InvalidAccessKeyId", 403), "listing"), fserrors.WrongCredentials},
	} {
		assert.Equal(t, test.want, fserrors.KindOf(translate(test.err)), test.err.Error())
	}
	plain := errors.New("boom")
	assert.Equal(t, plain, translate(plain))
}

func TestShouldRetry(t *testing.T) {
	ctx := context.Background()
	retry, _ := shouldRetry(ctx, requestFailure("SlowDown", 503))
	assert.True(t, retry)
	retry, _ = shouldRetry(ctx, requestFailure("RequestTimeout", 400))
	assert.True(t, retry)
	retry, _ = shouldRetry(ctx, requestFailure("NoSuchKey", 404))
	assert.False(t, retry)
}

func TestPathEscape(t *testing.T) {
	assert.Equal(t, "bucket/a%20b/c%2Bd", pathEscape("bucket/a b/c+d"))
}
