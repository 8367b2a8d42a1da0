package fs

import (
	"testing"
	"time"

	"github.com/rclone/cloudrepo/fs/config/configmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCloud() *Cloud {
	return NewCloud("work", "webdav", configmap.Simple{"url": "https://dav.example.com/"})
}

func TestRoot(t *testing.T) {
	cloud := testCloud()
	root := NewRoot(cloud)
	assert.Equal(t, "", root.Name())
	assert.Equal(t, "", root.Path())
	assert.Nil(t, root.Parent())
	assert.True(t, root.IsRoot())
	assert.Same(t, cloud, root.Cloud())
	assert.Equal(t, "/", root.String())
}

func TestNodePaths(t *testing.T) {
	cloud := testCloud()
	root := NewRoot(cloud)
	a := NewFolder(root, "a")
	b := NewFolder(a, "b")
	f := NewFile(b, "c.txt", 12, time.Time{})

	assert.Equal(t, "/a", a.Path())
	assert.Equal(t, "/a/b", b.Path())
	assert.Equal(t, "/a/b/c.txt", f.Path())
	assert.Equal(t, b.Path()+"/"+f.Name(), f.Path())
	assert.Same(t, b, f.Parent())
	assert.Same(t, cloud, f.Cloud())
	assert.Same(t, cloud, b.Cloud())
	assert.Same(t, root, b.Root())
	assert.False(t, b.IsRoot())
	assert.Equal(t, int64(12), f.Size())
	assert.True(t, f.ModTime().IsZero())
}

func TestFileWith(t *testing.T) {
	root := NewRoot(testCloud())
	f := NewFile(root, "x", -1, time.Time{})
	g := f.WithRevision("rev1")
	assert.Equal(t, "", f.Revision())
	assert.Equal(t, "rev1", g.Revision())
	now := time.Now()
	h := g.WithSize(5, now)
	assert.Equal(t, int64(-1), g.Size())
	assert.Equal(t, int64(5), h.Size())
	assert.Equal(t, now, h.ModTime())
	assert.Equal(t, "rev1", h.Revision())
}

func TestSplitPath(t *testing.T) {
	for _, test := range []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"/", nil},
		{"a", []string{"a"}},
		{"/a/b", []string{"a", "b"}},
		{"a//b/", []string{"a", "b"}},
		{"./a/./b", []string{"a", "b"}},
	} {
		assert.Equal(t, test.want, SplitPath(test.in), test.in)
	}
}

func TestResolvePathRoundTrip(t *testing.T) {
	root := NewRoot(testCloud())
	for _, folder := range []*Folder{
		root,
		NewFolder(root, "a"),
		NewFolder(NewFolder(root, "a"), "b c"),
	} {
		got := ResolvePath(root, folder.Path())
		assert.Equal(t, folder.Path(), got.Path())
		assert.Equal(t, folder.Name(), got.Name())
	}
}

func TestContains(t *testing.T) {
	root := NewRoot(testCloud())
	a := NewFolder(root, "a")
	ab := NewFolder(a, "b")
	abc := NewFolder(root, "abc")
	assert.True(t, a.Contains(a))
	assert.True(t, a.Contains(ab))
	assert.True(t, a.Contains(NewFile(ab, "x", 0, time.Time{})))
	assert.False(t, a.Contains(abc))
	assert.True(t, root.Contains(abc))
}

func TestNodeUnion(t *testing.T) {
	root := NewRoot(testCloud())
	nodes := []Node{NewFolder(root, "d"), NewFile(root, "f", 1, time.Time{})}
	var folders, files int
	for _, n := range nodes {
		switch n.(type) {
		case *Folder:
			folders++
		case *File:
			files++
		}
	}
	assert.Equal(t, 1, folders)
	assert.Equal(t, 1, files)
}

func TestParentFolder(t *testing.T) {
	root := NewRoot(testCloud())
	_, err := ParentFolder(root)
	assert.Equal(t, ErrorIsRoot, err)
	p, err := ParentFolder(NewFolder(root, "x"))
	require.NoError(t, err)
	assert.Same(t, root, p)
}
