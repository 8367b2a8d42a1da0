package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("CLOUDREPO_CONFIG", "/tmp/explicit.conf")
	assert.Equal(t, "/tmp/explicit.conf", DefaultConfigPath())

	t.Setenv("CLOUDREPO_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "cloudrepo", "cloudrepo.conf"), DefaultConfigPath())
}

func TestDefaultCacheDir(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/xdgcache")
	assert.Equal(t, filepath.Join("/xdgcache", "cloudrepo"), DefaultCacheDir())
}
