// Package s3 provides an interface to Amazon S3 object storage
package s3

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/endpoints"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/accounting"
	"github.com/rclone/cloudrepo/fs/config/configstruct"
	"github.com/rclone/cloudrepo/fs/config/obscure"
	"github.com/rclone/cloudrepo/fs/fserrors"
	"github.com/rclone/cloudrepo/fs/fshttp"
	"github.com/rclone/cloudrepo/lib/chunked"
	"github.com/rclone/cloudrepo/lib/pacer"
	"github.com/rclone/cloudrepo/lib/rest"
)

// Register with Fs
func init() {
	fs.Register(&fs.RegInfo{
		Name:          "s3",
		Description:   "Amazon S3 Compliant Storage Providers including AWS, Ceph and Minio",
		NewRepository: NewRepository,
		Translate:     translate,
		Options: []fs.Option{{
			Name: "provider",
			Help: "Choose your S3 provider: AWS, Ceph, Minio or Other.",
		}, {
			Name:    "env_auth",
			Help:    "Get AWS credentials from runtime (environment variables or shared credentials file).\n\nOnly applies if access_key_id and secret_access_key is blank.",
			Default: false,
		}, {
			Name: "access_key_id",
			Help: "AWS Access Key ID.\n\nLeave blank for anonymous access or runtime credentials.",
		}, {
			Name:       "secret_access_key",
			Help:       "AWS Secret Access Key (password).\n\nLeave blank for anonymous access or runtime credentials.",
			IsPassword: true,
		}, {
			Name: "region",
			Help: "Region to connect to.\n\nLeave blank for us-east-1.",
		}, {
			Name: "endpoint",
			Help: "Endpoint for S3 API.\n\nRequired when using an S3 clone.",
		}, {
			Name:     "bucket",
			Help:     "Bucket holding the content of the cloud.",
			Required: true,
		}, {
			Name:    "force_path_style",
			Help:    "If true use path style access if false use virtual hosted style.",
			Default: true,
		}, {
			Name:    "chunk_size",
			Help:    "Chunk size to use for uploading.\n\nFiles bigger than this are sent as multipart uploads. AWS needs at least 5 MiB.",
			Default: fs.SizeSuffix(0),
		}},
	})
}

// Constants
const (
	minSleep      = 10 * time.Millisecond
	maxSleep      = 2 * time.Second
	decayConstant = 2    // bigger for slower decay, exponential
	maxDeleteKeys = 1000 // limit of DeleteObjects
	folderMarker  = "application/x-directory"
)

// Options defines the configuration for this backend
type Options struct {
	Provider        string        `config:"provider"`
	EnvAuth         bool          `config:"env_auth"`
	AccessKeyID     string        `config:"access_key_id"`
	SecretAccessKey string        `config:"secret_access_key"`
	Region          string        `config:"region"`
	Endpoint        string        `config:"endpoint"`
	Bucket          string        `config:"bucket"`
	ForcePathStyle  bool          `config:"force_path_style"`
	ChunkSize       fs.SizeSuffix `config:"chunk_size"`
}

// Repository is an adapter over one bucket
//
// A folder is a zero length marker object whose key ends in "/".
// Folders made by other tools may only exist as a common prefix.
type Repository struct {
	cloud  *fs.Cloud
	opt    Options
	client s3iface.S3API
	pacer  *pacer.Pacer
}

// connect makes the S3 client, replaced in tests
var connect = s3Connection

// retryErrorCodes is a slice of error codes that we will retry
var retryErrorCodes = []int{
	429, // Too Many Requests
	500, // Internal Server Error - "We encountered an internal error. Please try again."
	503, // Service Unavailable/Slow Down - "Reduce your request rate"
}

// S3 is pretty resilient, and the built in retry handling is probably sufficient
// as it should notice closed connections and timeouts which are the most likely
// sort of failure modes
func shouldRetry(ctx context.Context, err error) (bool, error) {
	if fserrors.ContextError(ctx, &err) {
		return false, err
	}
	// If this is an awserr object, try and extract more useful information to determine if we should retry
	if awsError, ok := err.(awserr.Error); ok {
		// Simple case, check the original embedded error in case it's generically retryable
		if fserrors.ShouldRetry(awsError.OrigErr()) {
			return true, err
		}
		// If it is a timeout then we want to retry that
		if awsError.Code() == "RequestTimeout" {
			return true, err
		}
		// Failing that, if it's a RequestFailure it's probably got an http status code we can check
		if reqErr, ok := err.(awserr.RequestFailure); ok {
			for _, e := range retryErrorCodes {
				if reqErr.StatusCode() == e {
					return true, err
				}
			}
		}
	}
	// Ok, not an awserr, check for generic failure conditions
	return fserrors.ShouldRetry(err), err
}

// translate classifies the errors of the S3 API
func translate(err error) error {
	var awsErr awserr.Error
	if !errors.As(err, &awsErr) {
		return err
	}
	switch awsErr.Code() {
	case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
		return fserrors.Kinded(fserrors.NoSuchFile, err)
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken", "NoCredentialProviders":
		return fserrors.Kinded(fserrors.WrongCredentials, err)
	case "AccessDenied":
		return fserrors.Kinded(fserrors.Forbidden, err)
	case "NotImplemented":
		return fserrors.Kinded(fserrors.ServerIncompatible, err)
	}
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		switch reqErr.StatusCode() {
		case http.StatusNotFound:
			return fserrors.Kinded(fserrors.NoSuchFile, err)
		case http.StatusUnauthorized:
			return fserrors.Kinded(fserrors.WrongCredentials, err)
		case http.StatusForbidden:
			return fserrors.Kinded(fserrors.Forbidden, err)
		case http.StatusNotImplemented:
			return fserrors.Kinded(fserrors.ServerIncompatible, err)
		}
	}
	return err
}

// isNotFound is true for the errors a missing key gives
func isNotFound(err error) bool {
	var awsErr awserr.Error
	if !errors.As(err, &awsErr) {
		return false
	}
	switch awsErr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	var reqErr awserr.RequestFailure
	return errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound
}

// resolver overrides the endpoint of the services it holds
type resolver map[string]string

// Add a service to the resolver, ignoring empty urls
func (r resolver) addService(service, url string) {
	if url == "" {
		return
	}
	if !strings.HasPrefix(url, "http") {
		url = "https://" + url
	}
	r[service] = url
}

// EndpointFor return the endpoint for s3 if set or the default if not
func (r resolver) EndpointFor(service, region string, opts ...func(*endpoints.Options)) (endpoints.ResolvedEndpoint, error) {
	fs.Debugf(nil, "Resolving service %q region %q", service, region)
	url, ok := r[service]
	if ok {
		return endpoints.ResolvedEndpoint{
			URL:           url,
			SigningRegion: region,
		}, nil
	}
	return endpoints.DefaultResolver().EndpointFor(service, region, opts...)
}

// s3Connection makes a connection to s3
func s3Connection(ctx context.Context, opt *Options, client *http.Client) (s3iface.S3API, error) {
	ci := fs.GetConfig(ctx)
	// Make the auth
	v := credentials.Value{
		AccessKeyID:     opt.AccessKeyID,
		SecretAccessKey: opt.SecretAccessKey,
	}

	// first provider to supply a credential set "wins"
	providers := []credentials.Provider{
		// use static credentials if they're present (checked by provider)
		&credentials.StaticProvider{Value: v},

		// * Access Key ID:     AWS_ACCESS_KEY_ID or AWS_ACCESS_KEY
		// * Secret Access Key: AWS_SECRET_ACCESS_KEY or AWS_SECRET_KEY
		&credentials.EnvProvider{},

		// A SharedCredentialsProvider retrieves credentials
		// from the current user's home directory.  It checks
		// AWS_SHARED_CREDENTIALS_FILE and AWS_PROFILE too.
		&credentials.SharedCredentialsProvider{},
	}
	cred := credentials.NewChainCredentials(providers)

	switch {
	case opt.EnvAuth:
		// No need for empty checks if "env_auth" is true
	case v.AccessKeyID == "" && v.SecretAccessKey == "":
		// if no access key/secret and iam is explicitly disabled then fall back to anon interaction
		cred = credentials.AnonymousCredentials
		fs.Debugf(nil, "Using anonymous credentials - did you mean to set env_auth=true?")
	case v.AccessKeyID == "":
		return nil, errors.New("access_key_id not found")
	case v.SecretAccessKey == "":
		return nil, errors.New("secret_access_key not found")
	}

	if opt.Region == "" {
		opt.Region = "us-east-1"
	}
	awsConfig := aws.NewConfig().
		WithMaxRetries(ci.LowLevelRetries).
		WithCredentials(cred).
		WithHTTPClient(client).
		WithS3ForcePathStyle(opt.ForcePathStyle).
		WithRegion(opt.Region)
	if opt.Endpoint != "" {
		// If endpoints are set, override the relevant services only
		r := make(resolver)
		r.addService("s3", opt.Endpoint)
		awsConfig.WithEndpointResolver(r)
	}
	ses, err := session.NewSessionWithOptions(session.Options{
		Config: *awsConfig,
	})
	if err != nil {
		return nil, err
	}
	return s3.New(ses), nil
}

// NewRepository constructs a Repository from the cloud
func NewRepository(ctx context.Context, cloud *fs.Cloud, dispatcher fs.Repository) (fs.Repository, error) {
	opt := new(Options)
	err := configstruct.Set(cloud.Config, opt)
	if err != nil {
		return nil, err
	}
	if opt.Bucket == "" {
		return nil, errors.New("s3: bucket must be set")
	}
	if opt.SecretAccessKey != "" {
		opt.SecretAccessKey, err = obscure.Reveal(opt.SecretAccessKey)
		if err != nil {
			return nil, errors.Wrap(err, "s3: couldn't decrypt secret access key")
		}
	}
	if opt.ChunkSize <= 0 {
		opt.ChunkSize = fs.GetConfig(ctx).ChunkSize
	}
	client, err := connect(ctx, opt, fshttp.NewClient(ctx))
	if err != nil {
		return nil, err
	}
	return &Repository{
		cloud:  cloud,
		opt:    *opt,
		client: client,
		pacer:  pacer.New(ctx).SetMinSleep(minSleep).SetMaxSleep(maxSleep).SetDecayConstant(decayConstant),
	}, nil
}

// objectKey returns the key of a node path
func objectKey(p string) string {
	return strings.TrimPrefix(p, "/")
}

// folderPrefix returns the key prefix of everything in folder
func folderPrefix(folder *fs.Folder) string {
	if folder.IsRoot() {
		return ""
	}
	return objectKey(folder.Path()) + "/"
}

func errNotFound(p string) error {
	return fserrors.Kinded(fserrors.NoSuchFile, errors.Errorf("%q not found", p))
}

func errExists(p string) error {
	return fserrors.Kinded(fserrors.AlreadyExists, errors.Errorf("%q already exists", p))
}

// revision makes a revision from an ETag
func revision(etag *string) string {
	return strings.Trim(aws.StringValue(etag), `"`)
}

// head returns the metadata of key, nil if it is missing
func (r *Repository) head(ctx context.Context, key string) (resp *s3.HeadObjectOutput, err error) {
	req := s3.HeadObjectInput{
		Bucket: &r.opt.Bucket,
		Key:    &key,
	}
	err = r.pacer.Call(ctx, func() (bool, error) {
		var err error
		resp, err = r.client.HeadObjectWithContext(ctx, &req)
		return shouldRetry(ctx, err)
	})
	if isNotFound(err) {
		return nil, nil
	}
	return resp, err
}

// folderExists reports whether there is a marker or anything under
// folder
func (r *Repository) folderExists(ctx context.Context, folder *fs.Folder) (bool, error) {
	if folder.IsRoot() {
		return true, nil
	}
	prefix := folderPrefix(folder)
	req := s3.ListObjectsV2Input{
		Bucket:  &r.opt.Bucket,
		Prefix:  &prefix,
		MaxKeys: aws.Int64(1),
	}
	var resp *s3.ListObjectsV2Output
	err := r.pacer.Call(ctx, func() (bool, error) {
		var err error
		resp, err = r.client.ListObjectsV2WithContext(ctx, &req)
		return shouldRetry(ctx, err)
	})
	if err != nil {
		return false, err
	}
	return len(resp.Contents) > 0, nil
}

// walk calls fn for every page of objects under prefix, recursively
// if delimiter is empty
func (r *Repository) walk(ctx context.Context, prefix, delimiter string, fn func(page *s3.ListObjectsV2Output)) error {
	req := s3.ListObjectsV2Input{
		Bucket: &r.opt.Bucket,
		Prefix: &prefix,
	}
	if delimiter != "" {
		req.Delimiter = &delimiter
	}
	for {
		var resp *s3.ListObjectsV2Output
		err := r.pacer.Call(ctx, func() (bool, error) {
			var err error
			resp, err = r.client.ListObjectsV2WithContext(ctx, &req)
			return shouldRetry(ctx, err)
		})
		if err != nil {
			return err
		}
		fn(resp)
		if !aws.BoolValue(resp.IsTruncated) || resp.NextContinuationToken == nil {
			return nil
		}
		req.ContinuationToken = resp.NextContinuationToken
	}
}

// keys returns every key under prefix
func (r *Repository) keys(ctx context.Context, prefix string) (keys []string, err error) {
	err = r.walk(ctx, prefix, "", func(page *s3.ListObjectsV2Output) {
		for _, object := range page.Contents {
			keys = append(keys, aws.StringValue(object.Key))
		}
	})
	return keys, err
}

// Root returns the root of the cloud
func (r *Repository) Root(ctx context.Context, cloud *fs.Cloud) (*fs.Folder, error) {
	return fs.NewRoot(cloud), nil
}

// Resolve walks path from the root
func (r *Repository) Resolve(ctx context.Context, cloud *fs.Cloud, path string) (*fs.Folder, error) {
	return fs.ResolvePath(fs.NewRoot(cloud), path), nil
}

// File returns the file name in parent with what S3 knows of it
func (r *Repository) File(ctx context.Context, parent *fs.Folder, name string, size int64) (*fs.File, error) {
	file := fs.NewFile(parent, name, size, time.Time{})
	info, err := r.head(ctx, objectKey(file.Path()))
	if err != nil || info == nil {
		return file, err
	}
	return fs.NewFile(parent, name, aws.Int64Value(info.ContentLength), aws.TimeValue(info.LastModified)).WithRevision(revision(info.ETag)), nil
}

// Folder returns the folder name in parent
func (r *Repository) Folder(ctx context.Context, parent *fs.Folder, name string) (*fs.Folder, error) {
	return fs.NewFolder(parent, name), nil
}

// Exists reports whether node is present with the same kind
func (r *Repository) Exists(ctx context.Context, node fs.Node) (bool, error) {
	switch n := node.(type) {
	case *fs.Folder:
		return r.folderExists(ctx, n)
	case *fs.File:
		info, err := r.head(ctx, objectKey(n.Path()))
		return info != nil, err
	}
	return false, fs.ErrorWrongNodeType
}

// List returns the children of folder sorted by name
func (r *Repository) List(ctx context.Context, folder *fs.Folder) (nodes []fs.Node, err error) {
	prefix := folderPrefix(folder)
	found := folder.IsRoot()
	err = r.walk(ctx, prefix, "/", func(page *s3.ListObjectsV2Output) {
		for _, common := range page.CommonPrefixes {
			found = true
			name := strings.TrimSuffix(aws.StringValue(common.Prefix)[len(prefix):], "/")
			if name != "" {
				nodes = append(nodes, fs.NewFolder(folder, name))
			}
		}
		for _, object := range page.Contents {
			found = true
			name := aws.StringValue(object.Key)[len(prefix):]
			if name == "" {
				continue // the marker of folder
			}
			nodes = append(nodes, fs.NewFile(folder, name, aws.Int64Value(object.Size), aws.TimeValue(object.LastModified)).WithRevision(revision(object.ETag)))
		}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errNotFound(folder.Path())
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name() < nodes[j].Name() })
	return nodes, nil
}

// putMarker makes the marker object of folder
func (r *Repository) putMarker(ctx context.Context, folder *fs.Folder) error {
	fs.Debugf(r.cloud, "Creating directory marker %q", folder.Path())
	key := folderPrefix(folder)
	req := s3.PutObjectInput{
		Bucket:      &r.opt.Bucket,
		Key:         &key,
		ContentType: aws.String(folderMarker),
	}
	return r.pacer.Call(ctx, func() (bool, error) {
		req.Body = bytes.NewReader(nil)
		_, err := r.client.PutObjectWithContext(ctx, &req)
		return shouldRetry(ctx, err)
	})
}

// Create makes folder and any missing parents
func (r *Repository) Create(ctx context.Context, folder *fs.Folder) (*fs.Folder, error) {
	if folder.IsRoot() {
		return nil, errExists(folder.Path())
	}
	var missing []*fs.Folder
	for f := folder; !f.IsRoot(); f = f.Parent() {
		file, err := r.head(ctx, objectKey(f.Path()))
		if err != nil {
			return nil, err
		}
		if file != nil {
			return nil, errExists(f.Path())
		}
		ok, err := r.folderExists(ctx, f)
		if err != nil {
			return nil, err
		}
		if ok {
			if f == folder {
				return nil, errExists(f.Path())
			}
			break
		}
		missing = append(missing, f)
	}
	// top down so a failure never leaves a folder without parents
	for i := len(missing) - 1; i >= 0; i-- {
		if err := r.putMarker(ctx, missing[i]); err != nil {
			return nil, err
		}
	}
	return folder, nil
}

// checkMove checks a move from source to target is possible
func (r *Repository) checkMove(ctx context.Context, source, target fs.Node) error {
	if !source.Cloud().Equal(target.Cloud()) {
		return fs.ErrorCantMoveAcrossClouds
	}
	if source.Parent() == nil || target.Parent() == nil {
		return fs.ErrorIsRoot
	}
	file, err := r.head(ctx, objectKey(target.Path()))
	if err != nil {
		return err
	}
	folder, err := r.folderExists(ctx, fs.NewFolder(target.Parent(), target.Name()))
	if err != nil {
		return err
	}
	if file != nil || folder {
		return errExists(target.Path())
	}
	ok, err := r.folderExists(ctx, target.Parent())
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound(target.Parent().Path())
	}
	return nil
}

// copyObject copies srcKey to dstKey inside the bucket
func (r *Repository) copyObject(ctx context.Context, srcKey, dstKey string) error {
	source := path.Join(r.opt.Bucket, srcKey)
	if strings.HasSuffix(srcKey, "/") {
		source += "/"
	}
	req := s3.CopyObjectInput{
		Bucket:     &r.opt.Bucket,
		Key:        &dstKey,
		CopySource: aws.String(pathEscape(source)),
	}
	return r.pacer.Call(ctx, func() (bool, error) {
		_, err := r.client.CopyObjectWithContext(ctx, &req)
		return shouldRetry(ctx, err)
	})
}

// pathEscape escapes s as for a URL path.  It uses rest.URLPathEscape
// but also escapes '+' for S3 and Digital Ocean spaces compatibility
func pathEscape(s string) string {
	return strings.ReplaceAll(rest.URLPathEscape(s), "+", "%2B")
}

// deleteObject removes key
func (r *Repository) deleteObject(ctx context.Context, key string) error {
	req := s3.DeleteObjectInput{
		Bucket: &r.opt.Bucket,
		Key:    &key,
	}
	return r.pacer.Call(ctx, func() (bool, error) {
		_, err := r.client.DeleteObjectWithContext(ctx, &req)
		return shouldRetry(ctx, err)
	})
}

// deleteObjects removes keys in batches
func (r *Repository) deleteObjects(ctx context.Context, keys []string) error {
	for len(keys) > 0 {
		n := len(keys)
		if n > maxDeleteKeys {
			n = maxDeleteKeys
		}
		batch := make([]*s3.ObjectIdentifier, 0, n)
		for _, key := range keys[:n] {
			batch = append(batch, &s3.ObjectIdentifier{Key: aws.String(key)})
		}
		keys = keys[n:]
		req := s3.DeleteObjectsInput{
			Bucket: &r.opt.Bucket,
			Delete: &s3.Delete{
				Objects: batch,
				Quiet:   aws.Bool(true),
			},
		}
		var resp *s3.DeleteObjectsOutput
		err := r.pacer.Call(ctx, func() (bool, error) {
			var err error
			resp, err = r.client.DeleteObjectsWithContext(ctx, &req)
			return shouldRetry(ctx, err)
		})
		if err != nil {
			return err
		}
		if len(resp.Errors) > 0 {
			e := resp.Errors[0]
			return errors.Errorf("failed to delete %d objects, first %q: %s: %s", len(resp.Errors), aws.StringValue(e.Key), aws.StringValue(e.Code), aws.StringValue(e.Message))
		}
	}
	return nil
}

// MoveFolder moves source and everything below it to target
//
// S3 has no rename so every object is copied then the originals are
// deleted. An interrupted move leaves objects in both places.
func (r *Repository) MoveFolder(ctx context.Context, source, target *fs.Folder) (*fs.Folder, error) {
	ok, err := r.folderExists(ctx, source)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotFound(source.Path())
	}
	if err = r.checkMove(ctx, source, target); err != nil {
		return nil, err
	}
	if source.Contains(target) {
		return nil, fserrors.Kinded(fserrors.Fatal, errors.Errorf("can't move %q inside itself", source.Path()))
	}
	srcPrefix, dstPrefix := folderPrefix(source), folderPrefix(target)
	keys, err := r.keys(ctx, srcPrefix)
	if err != nil {
		return nil, err
	}
	hasMarker := false
	for _, key := range keys {
		if key == srcPrefix {
			hasMarker = true
		}
		if err = r.copyObject(ctx, key, dstPrefix+key[len(srcPrefix):]); err != nil {
			return nil, errors.Wrapf(err, "move %q: copy failed", source.Path())
		}
	}
	if !hasMarker {
		if err = r.putMarker(ctx, target); err != nil {
			return nil, err
		}
	}
	if err = r.deleteObjects(ctx, keys); err != nil {
		return nil, errors.Wrapf(err, "move %q: delete failed", source.Path())
	}
	return target, nil
}

// MoveFile moves source to target by server side copy
func (r *Repository) MoveFile(ctx context.Context, source, target *fs.File) (*fs.File, error) {
	info, err := r.head(ctx, objectKey(source.Path()))
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, errNotFound(source.Path())
	}
	if err = r.checkMove(ctx, source, target); err != nil {
		return nil, err
	}
	if err = r.copyObject(ctx, objectKey(source.Path()), objectKey(target.Path())); err != nil {
		return nil, err
	}
	if err = r.deleteObject(ctx, objectKey(source.Path())); err != nil {
		return nil, err
	}
	return r.File(ctx, target.Parent(), target.Name(), source.Size())
}

// checkWrite checks file can be written
func (r *Repository) checkWrite(ctx context.Context, file *fs.File, replace bool) error {
	ok, err := r.folderExists(ctx, file.Parent())
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound(file.Parent().Path())
	}
	ok, err = r.folderExists(ctx, fs.NewFolder(file.Parent(), file.Name()))
	if err != nil {
		return err
	}
	if ok {
		return errExists(file.Path())
	}
	if !replace {
		info, err := r.head(ctx, objectKey(file.Path()))
		if err != nil {
			return err
		}
		if info != nil {
			return errExists(file.Path())
		}
	}
	return nil
}

// contentType detects the MIME type of data
func contentType(data []byte) string {
	return mimetype.Detect(data).String()
}

// Write uploads size bytes from in to file
//
// Payloads bigger than the chunk size go up as multipart uploads.
func (r *Repository) Write(ctx context.Context, file *fs.File, in io.ReadSeeker, progress fs.ProgressListener, replace bool, size int64) (written *fs.File, err error) {
	if err = r.checkWrite(ctx, file, replace); err != nil {
		return nil, err
	}
	acc := accounting.NewAccount(ctx, fs.Upload, file.Path(), size, progress)
	defer func() { acc.Done(err) }()
	acc.Start()
	key := objectKey(file.Path())
	if size >= 0 && size > int64(r.opt.ChunkSize) {
		session := &uploadSession{repo: r, key: key, chunkSize: int64(r.opt.ChunkSize)}
		opt := chunked.DefaultOptions(ctx)
		opt.Name = file.Path()
		opt.ChunkSize = int64(r.opt.ChunkSize)
		opt.OnChunk = acc.SetBytes
		mode := chunked.ModeAdd
		if replace {
			mode = chunked.ModeOverwrite
		}
		if err = chunked.Upload(ctx, in, size, session, mode, opt); err != nil {
			return nil, err
		}
	} else {
		var buf bytes.Buffer
		if _, err = io.Copy(&buf, acc.WrapReader(in)); err != nil {
			return nil, err
		}
		if size >= 0 && int64(buf.Len()) != size {
			return nil, errors.Errorf("read %d bytes, expected %d", buf.Len(), size)
		}
		req := s3.PutObjectInput{
			Bucket:      &r.opt.Bucket,
			Key:         &key,
			ContentType: aws.String(contentType(buf.Bytes())),
		}
		err = r.pacer.Call(ctx, func() (bool, error) {
			req.Body = bytes.NewReader(buf.Bytes())
			_, err := r.client.PutObjectWithContext(ctx, &req)
			return shouldRetry(ctx, err)
		})
		if err != nil {
			return nil, err
		}
	}
	return r.File(ctx, file.Parent(), file.Name(), size)
}

// Read streams the content of file to out
func (r *Repository) Read(ctx context.Context, file *fs.File, out io.Writer, progress fs.ProgressListener) (err error) {
	key := objectKey(file.Path())
	req := s3.GetObjectInput{
		Bucket: &r.opt.Bucket,
		Key:    &key,
	}
	var resp *s3.GetObjectOutput
	err = r.pacer.Call(ctx, func() (bool, error) {
		var err error
		resp, err = r.client.GetObjectWithContext(ctx, &req)
		return shouldRetry(ctx, err)
	})
	if isNotFound(err) {
		return errNotFound(file.Path())
	}
	if err != nil {
		return err
	}
	defer fs.CheckClose(resp.Body, &err)
	acc := accounting.NewAccount(ctx, fs.Download, file.Path(), aws.Int64Value(resp.ContentLength), progress)
	defer func() { acc.Done(err) }()
	acc.Start()
	_, err = io.Copy(acc.WrapWriter(out), resp.Body)
	return err
}

// Delete removes node, recursively for folders
func (r *Repository) Delete(ctx context.Context, node fs.Node) error {
	switch n := node.(type) {
	case *fs.File:
		info, err := r.head(ctx, objectKey(n.Path()))
		if err != nil {
			return err
		}
		if info == nil {
			return errNotFound(n.Path())
		}
		return r.deleteObject(ctx, objectKey(n.Path()))
	case *fs.Folder:
		if n.IsRoot() {
			return fs.ErrorIsRoot
		}
		keys, err := r.keys(ctx, folderPrefix(n))
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return errNotFound(n.Path())
		}
		return r.deleteObjects(ctx, keys)
	}
	return fs.ErrorWrongNodeType
}

// CurrentAccount returns the owner of the credentials
func (r *Repository) CurrentAccount(ctx context.Context, cloud *fs.Cloud) (string, error) {
	var resp *s3.ListBucketsOutput
	err := r.pacer.Call(ctx, func() (bool, error) {
		var err error
		resp, err = r.client.ListBucketsWithContext(ctx, &s3.ListBucketsInput{})
		return shouldRetry(ctx, err)
	})
	if err != nil {
		return "", err
	}
	if resp.Owner != nil {
		if name := aws.StringValue(resp.Owner.DisplayName); name != "" {
			return name, nil
		}
		if id := aws.StringValue(resp.Owner.ID); id != "" {
			return id, nil
		}
	}
	if r.opt.AccessKeyID != "" {
		return r.opt.AccessKeyID, nil
	}
	return "anonymous", nil
}

// Logout does nothing as requests are signed with static keys
func (r *Repository) Logout(ctx context.Context, cloud *fs.Cloud) error {
	return nil
}

// uploadSession is a multipart upload
//
// Part numbers follow from the offset so a retried part replaces
// the one sent before.
type uploadSession struct {
	repo      *Repository
	key       string
	chunkSize int64
	parts     map[int64]*s3.CompletedPart
}

// uploadPart sends the part at offset
func (s *uploadSession) uploadPart(ctx context.Context, uploadID string, offset int64, chunk io.Reader, size int64) error {
	buf := make([]byte, size)
	if _, err := io.ReadFull(chunk, buf); err != nil {
		return errors.Wrapf(err, "short part at offset %d", offset)
	}
	partNumber := offset/s.chunkSize + 1
	req := s3.UploadPartInput{
		Bucket:        &s.repo.opt.Bucket,
		Key:           &s.key,
		UploadId:      &uploadID,
		PartNumber:    &partNumber,
		ContentLength: &size,
	}
	var resp *s3.UploadPartOutput
	err := s.repo.pacer.Call(ctx, func() (bool, error) {
		req.Body = bytes.NewReader(buf)
		var err error
		resp, err = s.repo.client.UploadPartWithContext(ctx, &req)
		return shouldRetry(ctx, err)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to upload part %d", partNumber)
	}
	s.parts[partNumber] = &s3.CompletedPart{
		PartNumber: aws.Int64(partNumber),
		ETag:       resp.ETag,
	}
	return nil
}

// Start creates the multipart upload and sends the first part
func (s *uploadSession) Start(ctx context.Context, chunk io.Reader, size int64) (string, error) {
	req := s3.CreateMultipartUploadInput{
		Bucket: &s.repo.opt.Bucket,
		Key:    &s.key,
	}
	var resp *s3.CreateMultipartUploadOutput
	err := s.repo.pacer.Call(ctx, func() (bool, error) {
		var err error
		resp, err = s.repo.client.CreateMultipartUploadWithContext(ctx, &req)
		return shouldRetry(ctx, err)
	})
	if err != nil {
		return "", errors.Wrap(err, "multipart upload failed to initialise")
	}
	uploadID := aws.StringValue(resp.UploadId)
	s.parts = make(map[int64]*s3.CompletedPart)
	if err = s.uploadPart(ctx, uploadID, 0, chunk, size); err != nil {
		_ = s.Abort(ctx, uploadID)
		return "", err
	}
	return uploadID, nil
}

// Append sends a part
func (s *uploadSession) Append(ctx context.Context, sessionID string, offset int64, chunk io.Reader, size int64) error {
	return s.uploadPart(ctx, sessionID, offset, chunk, size)
}

// Finish sends the last part and completes the upload
func (s *uploadSession) Finish(ctx context.Context, sessionID string, offset int64, chunk io.Reader, size int64, mode chunked.Mode) error {
	if size > 0 {
		if err := s.uploadPart(ctx, sessionID, offset, chunk, size); err != nil {
			return err
		}
	}
	if mode == chunked.ModeAdd {
		info, err := s.repo.head(ctx, s.key)
		if err != nil {
			return err
		}
		if info != nil {
			return errExists(s.key)
		}
	}
	parts := make([]*s3.CompletedPart, 0, len(s.parts))
	for _, part := range s.parts {
		parts = append(parts, part)
	}
	sort.Slice(parts, func(i, j int) bool { return *parts[i].PartNumber < *parts[j].PartNumber })
	req := s3.CompleteMultipartUploadInput{
		Bucket:   &s.repo.opt.Bucket,
		Key:      &s.key,
		UploadId: &sessionID,
		MultipartUpload: &s3.CompletedMultipartUpload{
			Parts: parts,
		},
	}
	err := s.repo.pacer.Call(ctx, func() (bool, error) {
		_, err := s.repo.client.CompleteMultipartUploadWithContext(ctx, &req)
		return shouldRetry(ctx, err)
	})
	return errors.Wrap(err, "multipart upload failed to finalise")
}

// Abort releases the parts already sent
func (s *uploadSession) Abort(ctx context.Context, sessionID string) error {
	fs.Debugf(s.key, "Cancelling multipart upload")
	req := s3.AbortMultipartUploadInput{
		Bucket:   &s.repo.opt.Bucket,
		Key:      &s.key,
		UploadId: &sessionID,
	}
	return s.repo.pacer.Call(ctx, func() (bool, error) {
		_, err := s.repo.client.AbortMultipartUploadWithContext(ctx, &req)
		return shouldRetry(ctx, err)
	})
}

// Check the interfaces are satisfied
var (
	_ fs.Repository   = (*Repository)(nil)
	_ chunked.Session = (*uploadSession)(nil)
	_ chunked.Aborter = (*uploadSession)(nil)
)
