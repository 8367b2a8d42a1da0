package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/backend/memory"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/dispatch"
	"github.com/rclone/cloudrepo/fs/fserrors"
	"github.com/rclone/cloudrepo/fstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `[mem]
type = memory
user = tester
`

// loadConfig points the command at a config file holding text
func loadConfig(t *testing.T, text string) {
	path := filepath.Join(t.TempDir(), "cloudrepo.conf")
	require.NoError(t, os.WriteFile(path, []byte(text), 0600))
	oldPath := configPath
	configPath = path
	t.Cleanup(func() { configPath = oldPath })
	require.NoError(t, initConfig())
}

func TestSplitLeaf(t *testing.T) {
	for _, test := range []struct {
		in, dir, leaf string
	}{
		{"", "", ""},
		{"/", "", ""},
		{"file", "", "file"},
		{"/a/b/file", "/a/b/", "file"},
		{"/a/b/", "/a/", "b"},
	} {
		dir, leaf := splitLeaf(test.in)
		assert.Equal(t, test.dir, dir, test.in)
		assert.Equal(t, test.leaf, leaf, test.in)
	}
}

func TestExitCode(t *testing.T) {
	for _, test := range []struct {
		err  error
		want int
	}{
		{nil, exitCodeSuccess},
		{usageError{errors.New("bad")}, exitCodeUsageError},
		{errors.Wrap(usageError{errors.New("bad")}, "wrapped"), exitCodeUsageError},
		{errors.New("unknown command \"potato\" for \"cloudrepo\""), exitCodeUsageError},
		{errors.New("boom"), exitCodeUncategorizedError},
		{fserrors.New(fserrors.NoSuchFile, "list", "/a", errors.New("gone")), exitCodeDirNotFound},
		{fserrors.New(fserrors.NoSuchFile, "read", "/a", errors.New("gone")), exitCodeFileNotFound},
		{fserrors.New(fserrors.NetworkUnavailable, "list", "/", errors.New("offline")), exitCodeRetryError},
		{fserrors.New(fserrors.Cancelled, "read", "/a", context.Canceled), exitCodeUncategorizedError},
		{fserrors.New(fserrors.AlreadyExists, "create", "/a", errors.New("exists")), exitCodeNoRetryError},
		{fserrors.New(fserrors.WrongCredentials, "connect", "", errors.New("denied")), exitCodeNoRetryError},
		{fserrors.New(fserrors.Fatal, "write", "/a", errors.New("broken")), exitCodeFatalError},
		{fserrors.RetryErrorf("try again"), exitCodeRetryError},
	} {
		assert.Equal(t, test.want, ExitCode(test.err), "%v", test.err)
	}
}

func TestCheckArgs(t *testing.T) {
	var out bytes.Buffer
	Root.SetOut(&out)
	defer Root.SetOut(nil)
	assert.NoError(t, CheckArgs(1, 2, Root, []string{"a"}))
	err := CheckArgs(1, 2, Root, nil)
	assert.Equal(t, errorNotEnoughArguments, errors.Cause(err))
	assert.Equal(t, exitCodeUsageError, ExitCode(err))
	err = CheckArgs(1, 2, Root, []string{"a", "b", "c"})
	assert.Equal(t, errorTooManyArguments, errors.Cause(err))
}

func TestProgressPrinter(t *testing.T) {
	var out bytes.Buffer
	p := newProgressPrinter(&out)
	p.OnProgress(fs.Progress{Kind: fs.Upload, Path: "/long/name", State: fs.Running, Done: 5, Total: 10})
	p.OnProgress(fs.Progress{Kind: fs.Upload, Path: "/a", State: fs.Running, Done: 9, Total: 10})
	p.OnProgress(fs.Progress{Kind: fs.Upload, Path: "/a", State: fs.Completed, Done: 10, Total: 10})
	assert.Equal(t,
		"\rupload /long/name running 50%"+
			"\rupload /a running 90%        "+
			"\rupload /a completed 100%\n", out.String())
}

func TestNewCloud(t *testing.T) {
	loadConfig(t, testConfig)
	cloud, p, err := NewCloud("mem:/a/b")
	require.NoError(t, err)
	assert.Equal(t, "mem", cloud.Name)
	assert.Equal(t, "memory", cloud.Type)
	assert.Equal(t, "/a/b", p)

	_, _, err = NewCloud("no-colon")
	assert.Equal(t, exitCodeUsageError, ExitCode(err))

	_, _, err = NewCloud("missing:/")
	assert.Error(t, err)
}

func TestLoadErrorReported(t *testing.T) {
	loadConfig(t, testConfig)
	unreadable := errors.New("unreadable")
	loadErr = unreadable
	defer func() { loadErr = nil }()
	_, err := Storage()
	assert.Equal(t, unreadable, err)
	_, _, err = NewCloud("mem:")
	assert.Equal(t, unreadable, err)
}

func TestNewNode(t *testing.T) {
	memory.Reset()
	loadConfig(t, testConfig)
	ctx := context.Background()
	repo := dispatch.New(ctx, dispatch.Options{})
	defer func() { _ = repo.Close() }()

	root, err := NewFolder(ctx, repo, "mem:")
	require.NoError(t, err)
	docs := fstest.Mkdir(ctx, t, repo, root, "docs")
	fstest.Put(ctx, t, repo, docs, "notes.txt", []byte("hello"))

	node, err := NewNode(ctx, repo, "mem:/docs/")
	require.NoError(t, err)
	assert.IsType(t, &fs.Folder{}, node)
	assert.Equal(t, "/docs", node.Path())

	node, err = NewNode(ctx, repo, "mem:docs/notes.txt")
	require.NoError(t, err)
	file, ok := node.(*fs.File)
	require.True(t, ok)
	assert.Equal(t, int64(5), file.Size())

	node, err = NewNode(ctx, repo, "mem:/")
	require.NoError(t, err)
	assert.Equal(t, "", node.Path())

	_, err = NewFile(ctx, repo, "mem:/", 0)
	assert.Equal(t, exitCodeUsageError, ExitCode(err))
}
