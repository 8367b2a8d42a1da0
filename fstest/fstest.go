// Package fstest provides utilities for testing repositories
package fstest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"flag"
	"io"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/config"
	"github.com/rclone/cloudrepo/fs/config/configfile"
	"github.com/rclone/cloudrepo/lib/readers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Globals
var (
	RemoteName = flag.String("remote", "", "Remote to test with, defaults to the backend under test")
	ConfigPath = flag.String("config", "", "Config file to read remotes from")
	Verbose    = flag.Bool("verbose", false, "Set to enable logging")
)

// Initialise sets up logging for a test run and returns a context
// carrying a config of its own
func Initialise() (context.Context, *fs.ConfigInfo) {
	ctx, ci := fs.AddConfig(context.Background())
	if *Verbose {
		ci.LogLevel = fs.LogLevelDebug
	} else {
		ci.LogLevel = fs.LogLevelError
	}
	fs.InitLogging(ci, nil)
	return ctx, ci
}

// RemoteCloud returns the cloud named by -remote from the config
// file, nil if -remote isn't set
func RemoteCloud(t *testing.T) *fs.Cloud {
	if *RemoteName == "" {
		return nil
	}
	path := *ConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	storage := configfile.New(path)
	require.NoError(t, storage.Load())
	name, _, err := configfile.SplitRemote(*RemoteName)
	require.NoError(t, err)
	cloud, err := storage.Cloud(name)
	require.NoError(t, err)
	return cloud
}

// RandomString creates a random string of length n
func RandomString(n int) string {
	const source = "abcdefghijklmnopqrstuvwxyz0123456789"
	out := make([]byte, n)
	for i := range out {
		out[i] = source[rand.Intn(len(source))]
	}
	return string(out)
}

// Time parses a time string or panics
func Time(timeString string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, timeString)
	if err != nil {
		panic(err)
	}
	return t
}

// MD5 returns the hex md5sum of data
func MD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Pattern returns n bytes of a repeating pattern
func Pattern(n int64) []byte {
	data, err := io.ReadAll(readers.NewPatternReader(n))
	if err != nil {
		panic(err)
	}
	return data
}

// Put uploads data to name in parent, failing the test on error
func Put(ctx context.Context, t *testing.T, repo fs.Repository, parent *fs.Folder, name string, data []byte) *fs.File {
	file, err := repo.File(ctx, parent, name, int64(len(data)))
	require.NoError(t, err)
	written, err := repo.Write(ctx, file, bytes.NewReader(data), nil, false, int64(len(data)))
	require.NoError(t, err, "writing %q", file.Path())
	assert.Equal(t, int64(len(data)), written.Size())
	return written
}

// Get downloads file, failing the test on error
func Get(ctx context.Context, t *testing.T, repo fs.Repository, file *fs.File) []byte {
	var buf bytes.Buffer
	require.NoError(t, repo.Read(ctx, file, &buf, nil), "reading %q", file.Path())
	return buf.Bytes()
}

// Mkdir creates name in parent, failing the test on error
func Mkdir(ctx context.Context, t *testing.T, repo fs.Repository, parent *fs.Folder, name string) *fs.Folder {
	folder, err := repo.Folder(ctx, parent, name)
	require.NoError(t, err)
	created, err := repo.Create(ctx, folder)
	require.NoError(t, err, "creating %q", folder.Path())
	return created
}

// Names lists folder and returns the child names sorted, folders
// with a trailing "/"
func Names(ctx context.Context, t *testing.T, repo fs.Repository, folder *fs.Folder) []string {
	nodes, err := repo.List(ctx, folder)
	require.NoError(t, err, "listing %q", folder.Path())
	names := make([]string, 0, len(nodes))
	for _, node := range nodes {
		name := node.Name()
		if _, isFolder := node.(*fs.Folder); isFolder {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckListing checks that folder holds exactly names, see Names
func CheckListing(ctx context.Context, t *testing.T, repo fs.Repository, folder *fs.Folder, names ...string) {
	if names == nil {
		names = []string{}
	}
	sort.Strings(names)
	assert.Equal(t, names, Names(ctx, t, repo, folder), "listing %q", folder.Path())
}

// CheckExists checks whether node exists
func CheckExists(ctx context.Context, t *testing.T, repo fs.Repository, node fs.Node, want bool) {
	ok, err := repo.Exists(ctx, node)
	require.NoError(t, err, "exists %q", node.Path())
	assert.Equal(t, want, ok, "exists %q", node.Path())
}

// ProgressRecorder keeps every progress tick it is sent
type ProgressRecorder struct {
	Ticks []fs.Progress
}

// OnProgress records p
func (r *ProgressRecorder) OnProgress(p fs.Progress) {
	r.Ticks = append(r.Ticks, p)
}

// Check that the ticks start, finish complete and never go backwards
func (r *ProgressRecorder) Check(t *testing.T, kind fs.TransferKind, size int64) {
	require.NotEmpty(t, r.Ticks, "no progress reported")
	assert.Equal(t, fs.Started, r.Ticks[0].State)
	last := r.Ticks[len(r.Ticks)-1]
	assert.Equal(t, fs.Completed, last.State)
	assert.Equal(t, size, last.Done)
	var done int64
	for _, p := range r.Ticks {
		assert.Equal(t, kind, p.Kind)
		assert.GreaterOrEqual(t, p.Done, done, "progress went backwards")
		done = p.Done
	}
}
