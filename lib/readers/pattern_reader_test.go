package readers

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternReaderContents(t *testing.T) {
	for _, length := range []int64{0, 1, 10, 251, 252, 1000} {
		b, err := io.ReadAll(NewPatternReader(length))
		require.NoError(t, err)
		require.Len(t, b, int(length))
		for i := range b {
			assert.Equal(t, byte(i%251), b[i], "length %d offset %d", length, i)
		}
	}
}

func TestPatternReaderEOF(t *testing.T) {
	r := NewPatternReader(3)
	buf := make([]byte, 8)
	n, err := r.Read(buf)
	assert.Equal(t, 3, n)
	assert.Equal(t, io.EOF, err)
	n, err = r.Read(buf)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestPatternReaderSeek(t *testing.T) {
	const length = 600
	r := NewPatternReader(length)
	for _, test := range []struct {
		offset int64
		whence int
		want   int64
	}{
		{5, io.SeekStart, 5},
		{250, io.SeekCurrent, 255},
		{-10, io.SeekEnd, length - 10},
		{0, io.SeekStart, 0},
	} {
		pos, err := r.Seek(test.offset, test.whence)
		require.NoError(t, err)
		assert.Equal(t, test.want, pos)
		buf := make([]byte, 1)
		_, err = io.ReadFull(r, buf)
		require.NoError(t, err)
		assert.Equal(t, byte(test.want%251), buf[0])
		// move back over the byte just read
		_, err = r.Seek(-1, io.SeekCurrent)
		require.NoError(t, err)
	}

	_, err := r.Seek(0, 42)
	assert.ErrorContains(t, err, "invalid whence")
	_, err = r.Seek(-1, io.SeekStart)
	assert.ErrorContains(t, err, "negative position")
}
