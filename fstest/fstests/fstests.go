// Package fstests provides generic integration tests for every
// backend, run through the dispatcher as the commands use them.
package fstests

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/dispatch"
	"github.com/rclone/cloudrepo/fs/fserrors"
	"github.com/rclone/cloudrepo/fstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Opt is options for Run
type Opt struct {
	// Cloud to test. If nil the cloud named by -remote is used and
	// the tests are skipped if that isn't set either.
	Cloud *fs.Cloud
	// ChunkSize sets the chunked upload threshold for the run, the
	// write tests use sizes around it
	ChunkSize fs.SizeSuffix
	// SkipCurrentAccount skips the account check for backends which
	// can't answer it against a test server
	SkipCurrentAccount bool
}

// suite holds the state shared by the tests of one Run
type suite struct {
	ctx   context.Context
	repo  *dispatch.Dispatcher
	cloud *fs.Cloud
	dir   *fs.Folder // scratch folder the tests work in
	cs    int64
}

// Run runs the conformance tests against opt.Cloud
func Run(t *testing.T, opt *Opt) {
	ctx, ci := fstest.Initialise()
	cloud := opt.Cloud
	if cloud == nil {
		cloud = fstest.RemoteCloud(t)
	}
	if cloud == nil {
		t.Skip("no cloud configured, use -remote")
	}
	if opt.ChunkSize > 0 {
		ci.ChunkSize = opt.ChunkSize
	}
	ci.CacheDir = ""
	s := &suite{
		ctx:   ctx,
		repo:  dispatch.New(ctx, dispatch.Options{}),
		cloud: cloud,
		cs:    int64(ci.ChunkSize),
	}
	defer func() { _ = s.repo.Close() }()

	root, err := s.repo.Root(ctx, cloud)
	require.NoError(t, err)
	assert.True(t, root.IsRoot())
	s.dir = fstest.Mkdir(ctx, t, s.repo, root, "cloudrepo-test-"+fstest.RandomString(8))
	defer func() {
		if err := s.repo.Delete(ctx, s.dir); err != nil {
			t.Logf("failed to remove %q: %v", s.dir.Path(), err)
		}
	}()

	t.Run("Resolve", s.testResolve)
	t.Run("CreateFolder", s.testCreateFolder)
	t.Run("ListEmpty", s.testListEmpty)
	t.Run("WriteRead", s.testWriteRead)
	t.Run("WriteNoReplace", s.testWriteNoReplace)
	t.Run("WriteReplace", s.testWriteReplace)
	t.Run("Progress", s.testProgress)
	t.Run("MoveFile", s.testMoveFile)
	t.Run("MoveFileExisting", s.testMoveFileExisting)
	t.Run("MoveFolder", s.testMoveFolder)
	t.Run("Missing", s.testMissing)
	t.Run("DeleteFile", s.testDeleteFile)
	t.Run("DeleteFolder", s.testDeleteFolder)
	if !opt.SkipCurrentAccount {
		t.Run("CurrentAccount", s.testCurrentAccount)
	}
}

// subdir makes a fresh folder for one test
func (s *suite) subdir(t *testing.T) *fs.Folder {
	return fstest.Mkdir(s.ctx, t, s.repo, s.dir, fstest.RandomString(10))
}

func (s *suite) testResolve(t *testing.T) {
	sub := s.subdir(t)
	nested := fstest.Mkdir(s.ctx, t, s.repo, sub, "inner folder")
	for _, folder := range []*fs.Folder{s.dir, sub, nested} {
		got, err := s.repo.Resolve(s.ctx, s.cloud, folder.Path())
		require.NoError(t, err)
		assert.Equal(t, folder.Path(), got.Path())
		assert.True(t, got.Cloud().Equal(s.cloud))
	}
	got, err := s.repo.Resolve(s.ctx, s.cloud, "")
	require.NoError(t, err)
	assert.True(t, got.IsRoot())
}

func (s *suite) testCreateFolder(t *testing.T) {
	sub := s.subdir(t)
	fstest.CheckExists(s.ctx, t, s.repo, sub, true)

	_, err := s.repo.Create(s.ctx, sub)
	require.Error(t, err)
	assert.True(t, fserrors.IsKind(err, fserrors.AlreadyExists), "got %v", err)

	// missing parents are made too
	deep, err := s.repo.Folder(s.ctx, sub, "a")
	require.NoError(t, err)
	deep = fs.NewFolder(fs.NewFolder(deep, "b"), "c")
	_, err = s.repo.Create(s.ctx, deep)
	require.NoError(t, err)
	fstest.CheckExists(s.ctx, t, s.repo, deep, true)
	fstest.CheckExists(s.ctx, t, s.repo, deep.Parent(), true)
}

func (s *suite) testListEmpty(t *testing.T) {
	fstest.CheckListing(s.ctx, t, s.repo, s.subdir(t))
}

func (s *suite) testWriteRead(t *testing.T) {
	sub := s.subdir(t)
	for _, size := range []int64{0, 1, s.cs - 1, s.cs, s.cs + 1, 2*s.cs + 1} {
		size := size
		t.Run(fmt.Sprintf("Size%d", size), func(t *testing.T) {
			data := fstest.Pattern(size)
			name := fmt.Sprintf("file-%d.bin", size)
			file := fstest.Put(s.ctx, t, s.repo, sub, name, data)
			fstest.CheckExists(s.ctx, t, s.repo, file, true)
			got := fstest.Get(s.ctx, t, s.repo, file)
			assert.Equal(t, fstest.MD5(data), fstest.MD5(got), "content of %q", file.Path())

			// a fresh lookup sees the same size
			again, err := s.repo.File(s.ctx, sub, name, -1)
			require.NoError(t, err)
			assert.Equal(t, size, again.Size())
		})
	}
}

func (s *suite) testWriteNoReplace(t *testing.T) {
	sub := s.subdir(t)
	original := []byte("original content")
	file := fstest.Put(s.ctx, t, s.repo, sub, "keep.txt", original)

	other := []byte("something else entirely")
	_, err := s.repo.Write(s.ctx, file, bytes.NewReader(other), nil, false, int64(len(other)))
	require.Error(t, err)
	assert.True(t, fserrors.IsKind(err, fserrors.AlreadyExists), "got %v", err)
	assert.Equal(t, original, fstest.Get(s.ctx, t, s.repo, file))
}

func (s *suite) testWriteReplace(t *testing.T) {
	sub := s.subdir(t)
	file := fstest.Put(s.ctx, t, s.repo, sub, "replace.txt", []byte("first"))
	second := []byte("second version")
	written, err := s.repo.Write(s.ctx, file, bytes.NewReader(second), nil, true, int64(len(second)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(second)), written.Size())
	assert.Equal(t, second, fstest.Get(s.ctx, t, s.repo, written))
	fstest.CheckListing(s.ctx, t, s.repo, sub, "replace.txt")
}

func (s *suite) testProgress(t *testing.T) {
	sub := s.subdir(t)
	size := s.cs + 1
	data := fstest.Pattern(size)
	file, err := s.repo.File(s.ctx, sub, "progress.bin", size)
	require.NoError(t, err)

	var up fstest.ProgressRecorder
	written, err := s.repo.Write(s.ctx, file, bytes.NewReader(data), &up, false, size)
	require.NoError(t, err)
	up.Check(t, fs.Upload, size)

	var down fstest.ProgressRecorder
	var buf bytes.Buffer
	require.NoError(t, s.repo.Read(s.ctx, written, &buf, &down))
	down.Check(t, fs.Download, size)
}

func (s *suite) testMoveFile(t *testing.T) {
	sub := s.subdir(t)
	dst := fstest.Mkdir(s.ctx, t, s.repo, sub, "dst")
	data := []byte("moving file")
	src := fstest.Put(s.ctx, t, s.repo, sub, "src.txt", data)
	target, err := s.repo.File(s.ctx, dst, "renamed.txt", -1)
	require.NoError(t, err)

	moved, err := s.repo.MoveFile(s.ctx, src, target)
	require.NoError(t, err)
	assert.Equal(t, target.Path(), moved.Path())
	fstest.CheckExists(s.ctx, t, s.repo, src, false)
	assert.Equal(t, data, fstest.Get(s.ctx, t, s.repo, moved))
	fstest.CheckListing(s.ctx, t, s.repo, sub, "dst/")
	fstest.CheckListing(s.ctx, t, s.repo, dst, "renamed.txt")
}

func (s *suite) testMoveFileExisting(t *testing.T) {
	sub := s.subdir(t)
	a := fstest.Put(s.ctx, t, s.repo, sub, "a.txt", []byte("aaa"))
	b := fstest.Put(s.ctx, t, s.repo, sub, "b.txt", []byte("bbbb"))

	_, err := s.repo.MoveFile(s.ctx, a, b)
	require.Error(t, err)
	assert.True(t, fserrors.IsKind(err, fserrors.AlreadyExists), "got %v", err)
	assert.Equal(t, []byte("aaa"), fstest.Get(s.ctx, t, s.repo, a))
	assert.Equal(t, []byte("bbbb"), fstest.Get(s.ctx, t, s.repo, b))

	other := fstest.Mkdir(s.ctx, t, s.repo, sub, "other")
	folder, err := s.repo.Folder(s.ctx, sub, "folder")
	require.NoError(t, err)
	_, err = s.repo.Create(s.ctx, folder)
	require.NoError(t, err)
	_, err = s.repo.MoveFolder(s.ctx, folder, other)
	require.Error(t, err)
	assert.True(t, fserrors.IsKind(err, fserrors.AlreadyExists), "got %v", err)
	fstest.CheckExists(s.ctx, t, s.repo, folder, true)
	fstest.CheckExists(s.ctx, t, s.repo, other, true)
}

func (s *suite) testMoveFolder(t *testing.T) {
	sub := s.subdir(t)
	src := fstest.Mkdir(s.ctx, t, s.repo, sub, "src")
	inner := fstest.Mkdir(s.ctx, t, s.repo, src, "inner")
	fstest.Put(s.ctx, t, s.repo, src, "one.txt", []byte("1"))
	fstest.Put(s.ctx, t, s.repo, inner, "two.txt", []byte("22"))

	target, err := s.repo.Folder(s.ctx, sub, "dst")
	require.NoError(t, err)
	moved, err := s.repo.MoveFolder(s.ctx, src, target)
	require.NoError(t, err)
	assert.Equal(t, target.Path(), moved.Path())
	fstest.CheckExists(s.ctx, t, s.repo, src, false)
	fstest.CheckListing(s.ctx, t, s.repo, sub, "dst/")
	fstest.CheckListing(s.ctx, t, s.repo, moved, "inner/", "one.txt")

	two, err := s.repo.File(s.ctx, fs.NewFolder(moved, "inner"), "two.txt", -1)
	require.NoError(t, err)
	assert.Equal(t, []byte("22"), fstest.Get(s.ctx, t, s.repo, two))
}

func (s *suite) testMissing(t *testing.T) {
	sub := s.subdir(t)
	file := fs.NewFile(sub, "nope.txt", -1, time.Time{})
	folder := fs.NewFolder(sub, "nowhere")
	fstest.CheckExists(s.ctx, t, s.repo, file, false)
	fstest.CheckExists(s.ctx, t, s.repo, folder, false)

	err := s.repo.Read(s.ctx, file, &bytes.Buffer{}, nil)
	require.Error(t, err)
	assert.True(t, fserrors.IsKind(err, fserrors.NoSuchFile), "read got %v", err)

	_, err = s.repo.List(s.ctx, folder)
	require.Error(t, err)
	assert.True(t, fserrors.IsKind(err, fserrors.NoSuchFile), "list got %v", err)

	err = s.repo.Delete(s.ctx, file)
	require.Error(t, err)
	assert.True(t, fserrors.IsKind(err, fserrors.NoSuchFile), "delete got %v", err)

	// a file isn't a folder
	fstest.Put(s.ctx, t, s.repo, sub, "plain", []byte("x"))
	fstest.CheckExists(s.ctx, t, s.repo, fs.NewFolder(sub, "plain"), false)
}

func (s *suite) testDeleteFile(t *testing.T) {
	sub := s.subdir(t)
	file := fstest.Put(s.ctx, t, s.repo, sub, "doomed.txt", []byte("bye"))
	require.NoError(t, s.repo.Delete(s.ctx, file))
	fstest.CheckExists(s.ctx, t, s.repo, file, false)
	fstest.CheckListing(s.ctx, t, s.repo, sub)
}

func (s *suite) testDeleteFolder(t *testing.T) {
	sub := s.subdir(t)
	doomed := fstest.Mkdir(s.ctx, t, s.repo, sub, "doomed")
	inner := fstest.Mkdir(s.ctx, t, s.repo, doomed, "inner")
	fstest.Put(s.ctx, t, s.repo, doomed, "a", []byte("a"))
	deep := fstest.Put(s.ctx, t, s.repo, inner, "b", []byte("b"))

	require.NoError(t, s.repo.Delete(s.ctx, doomed))
	fstest.CheckExists(s.ctx, t, s.repo, doomed, false)
	fstest.CheckExists(s.ctx, t, s.repo, inner, false)
	fstest.CheckExists(s.ctx, t, s.repo, deep, false)
	fstest.CheckListing(s.ctx, t, s.repo, sub)

	// the name can be used again
	again := fstest.Mkdir(s.ctx, t, s.repo, sub, "doomed")
	fstest.CheckListing(s.ctx, t, s.repo, again)
}

func (s *suite) testCurrentAccount(t *testing.T) {
	name, err := s.repo.CurrentAccount(s.ctx, s.cloud)
	require.NoError(t, err)
	assert.NotEmpty(t, name)
}
