package fs

import (
	"testing"

	"github.com/rclone/cloudrepo/fs/config/configmap"
	"github.com/stretchr/testify/assert"
)

func TestCloudKey(t *testing.T) {
	a := NewCloud("a", "s3", configmap.Simple{"bucket": "x", "region": "eu"})
	b := NewCloud("b", "s3", configmap.Simple{"region": "eu", "bucket": "x"})
	c := NewCloud("a", "s3", configmap.Simple{"bucket": "y", "region": "eu"})

	assert.Equal(t, "s3{bucket='x',region='eu'}", a.Key())
	assert.True(t, a.Equal(b), "same configuration is the same cloud")
	assert.False(t, a.Equal(c))

	a.ID, c.ID = 7, 7
	assert.Equal(t, "#7", a.Key())
	assert.True(t, a.Equal(c), "persisted clouds compare by id")
	assert.False(t, a.Equal(b))
}

func TestCloudOverlayKey(t *testing.T) {
	phys := NewCloud("dav", "webdav", configmap.Simple{"url": "u"})
	vault := NewCloud("vault", "crypt", configmap.Simple{"password": "p"})
	vault.Underlying = phys
	assert.True(t, vault.IsOverlay())
	assert.False(t, phys.IsOverlay())
	assert.Equal(t, "crypt{password='p'}/webdav{url='u'}", vault.Key())

	other := NewCloud("vault2", "crypt", configmap.Simple{"password": "p"})
	other.Underlying = NewCloud("dav2", "webdav", configmap.Simple{"url": "v"})
	assert.False(t, vault.Equal(other))
}

func TestCloudNil(t *testing.T) {
	var c *Cloud
	assert.Equal(t, "", c.Key())
	assert.True(t, c.Equal(nil))
	assert.False(t, c.Equal(NewCloud("a", "local", nil)))
	assert.Equal(t, "<nil cloud>", c.String())
	assert.Equal(t, "local", NewCloud("", "local", nil).String())
}
