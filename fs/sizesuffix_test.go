package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeSuffixString(t *testing.T) {
	for _, test := range []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{102, "102"},
		{1024, "1Ki"},
		{1024 * 1024, "1Mi"},
		{8 * 1024 * 1024, "8Mi"},
		{1024 * 1024 * 1024, "1Gi"},
		{10.1 * 1024 * 1024 * 1024, "10.100Gi"},
		{-1, "off"},
	} {
		assert.Equal(t, test.want, SizeSuffix(test.in).String())
	}
}

func TestSizeSuffixByteUnit(t *testing.T) {
	assert.Equal(t, "0 B", SizeSuffix(0).ByteUnit())
	assert.Equal(t, "1 KiB", SizeSuffix(1024).ByteUnit())
	assert.Equal(t, "off", SizeSuffix(-1).ByteUnit())
}

func TestSizeSuffixSet(t *testing.T) {
	for _, test := range []struct {
		in   string
		want int64
		err  bool
	}{
		{"0", 0, false},
		{"1", 1, false},
		{"1024", 1024, false},
		{"1b", 1, false},
		{"0.5k", 512, false},
		{"1K", 1024, false},
		{"1Ki", 1024, false},
		{"1KiB", 1024, false},
		{"8M", 8 * 1024 * 1024, false},
		{"8MiB", 8 * 1024 * 1024, false},
		{"1G", 1024 * 1024 * 1024, false},
		{"2T", 2 * 1024 * 1024 * 1024 * 1024, false},
		{"off", -1, false},
		{"OFF", -1, false},
		{"", 0, true},
		{"1q", 0, true},
		{"1.q", 0, true},
		{"1qiB", 0, true},
		{"-1K", 0, true},
	} {
		ss := SizeSuffix(0)
		err := ss.Set(test.in)
		if test.err {
			require.Error(t, err, test.in)
			continue
		}
		require.NoError(t, err, test.in)
		assert.Equal(t, test.want, int64(ss), test.in)
	}
}
