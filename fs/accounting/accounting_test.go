package accounting

import (
	"bytes"
	"context"
	"io/ioutil"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect() (fs.ProgressListener, *[]fs.Progress) {
	var got []fs.Progress
	return fs.ProgressFunc(func(p fs.Progress) { got = append(got, p) }), &got
}

func states(ps []fs.Progress) (out []fs.ProgressState) {
	for _, p := range ps {
		out = append(out, p.State)
	}
	return out
}

func TestAccountReader(t *testing.T) {
	listener, got := collect()
	acc := NewAccount(context.Background(), fs.Upload, "/a", 5, listener)
	acc.stats = NewStats()
	b, err := ioutil.ReadAll(acc.WrapReader(strings.NewReader("hello")))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
	acc.Done(nil)

	require.True(t, len(*got) >= 3)
	assert.Equal(t, fs.Started, (*got)[0].State)
	last := (*got)[len(*got)-1]
	assert.Equal(t, fs.Completed, last.State)
	assert.Equal(t, int64(5), last.Done)
	assert.Equal(t, int64(5), acc.BytesTransferred())
	assert.Equal(t, int64(5), acc.stats.Snapshot().Bytes)
	assert.Equal(t, int64(1), acc.stats.Snapshot().Transfers)
}

func TestAccountWriterUnknownSize(t *testing.T) {
	listener, got := collect()
	acc := NewAccount(context.Background(), fs.Download, "/a", -1, listener)
	acc.stats = NewStats()
	var buf bytes.Buffer
	w := acc.WrapWriter(&buf)
	_, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	acc.Done(nil)
	acc.Done(nil)

	assert.Equal(t, []fs.ProgressState{fs.Started, fs.Running, fs.Completed}, states(*got))
	assert.Equal(t, int64(3), (*got)[2].Total, "unknown total is fixed at completion")
	assert.Equal(t, 100, (*got)[2].Percentage())
}

func TestAccountDoneError(t *testing.T) {
	listener, got := collect()
	acc := NewAccount(context.Background(), fs.Upload, "/a", 10, listener)
	acc.stats = NewStats()
	errBoom := errors.New("boom")
	acc.Done(errBoom)
	assert.Equal(t, []fs.ProgressState{fs.Started}, states(*got))
	assert.Equal(t, int64(1), acc.stats.Snapshot().Errors)
	assert.Equal(t, errBoom, acc.stats.Snapshot().LastError)
	assert.Equal(t, int64(0), acc.stats.Snapshot().Transfers)
}

func TestAccountSetBytes(t *testing.T) {
	listener, got := collect()
	acc := NewAccount(context.Background(), fs.Upload, "/a", 100, listener)
	acc.stats = NewStats()
	acc.SetBytes(40)
	acc.SetBytes(30)
	acc.SetBytes(100)
	assert.Equal(t, int64(100), acc.BytesTransferred())
	assert.Equal(t, int64(100), acc.stats.Snapshot().Bytes)
	assert.Equal(t, []fs.ProgressState{fs.Started, fs.Running, fs.Running, fs.Running}, states(*got))
	assert.Equal(t, int64(30), (*got)[2].Done)
}

func TestAccountCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	acc := NewAccount(ctx, fs.Upload, "/a", 5, nil)
	acc.stats = NewStats()
	cancel()
	_, err := acc.WrapReader(strings.NewReader("hello")).Read(make([]byte, 5))
	assert.Equal(t, context.Canceled, err)
	_, err = acc.WrapWriter(ioutil.Discard).Write([]byte("x"))
	assert.Equal(t, context.Canceled, err)
}

func TestStatsString(t *testing.T) {
	s := NewStats()
	s.Bytes(1024)
	s.Transferring("/b")
	s.Transferring("/a")
	s.DoneTransferring("/b", nil)
	out := s.String()
	assert.Contains(t, out, "1 KiB")
	assert.Contains(t, out, "1 transfers, 0 errors")
	assert.Contains(t, out, "transferring /a")
	assert.Equal(t, []string{"/a"}, s.Snapshot().Active)
	s.Reset()
	totals := s.Snapshot()
	assert.Equal(t, int64(0), totals.Bytes)
	assert.Equal(t, int64(0), totals.Transfers)
	assert.Empty(t, totals.Active)
}
