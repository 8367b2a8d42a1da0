package pkcs7

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPad(t *testing.T) {
	for _, test := range []struct {
		n   int
		in  string
		out string
	}{
		{8, "", "\x08\x08\x08\x08\x08\x08\x08\x08"},
		{8, "1", "1\x07\x07\x07\x07\x07\x07\x07"},
		{8, "1234567", "1234567\x01"},
		{8, "12345678", "12345678\x08\x08\x08\x08\x08\x08\x08\x08"},
		{16, "x", "x\x0f\x0f\x0f\x0f\x0f\x0f\x0f\x0f\x0f\x0f\x0f\x0f\x0f\x0f\x0f"},
	} {
		padded := Pad(test.n, []byte(test.in))
		assert.Equal(t, test.out, string(padded), fmt.Sprintf("pad %d %q", test.n, test.in))
		unpadded, err := Unpad(test.n, padded)
		assert.NoError(t, err)
		assert.Equal(t, test.in, string(unpadded))
	}
	assert.Panics(t, func() { Pad(1, []byte("x")) })
	assert.Panics(t, func() { Pad(256, []byte("x")) })
}

func TestUnpadErrors(t *testing.T) {
	for _, test := range []struct {
		in  string
		err error
	}{
		{"", ErrorPaddingNotFound},
		{"1234567", ErrorPaddingNotAMultiple},
		{"1234567\x09", ErrorPaddingTooLong},
		{"1234567\x00", ErrorPaddingTooShort},
		{"123456\x01\x02", ErrorPaddingNotAllTheSame},
	} {
		_, err := Unpad(8, []byte(test.in))
		assert.Equal(t, test.err, err, fmt.Sprintf("%q", test.in))
	}
}
