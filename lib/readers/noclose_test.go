package readers

import (
	"bytes"
	"io"
	"io/ioutil"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoCloser(t *testing.T) {
	assert.Nil(t, NoCloser(nil))

	plain := bytes.NewBufferString("hello")
	assert.Equal(t, io.Reader(plain), NoCloser(plain))

	closer := ioutil.NopCloser(bytes.NewBufferString("hello"))
	nc := NoCloser(closer)
	_, canClose := nc.(io.Closer)
	assert.False(t, canClose)
	b, err := ioutil.ReadAll(nc)
	assert.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}
