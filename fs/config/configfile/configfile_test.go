package configfile

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/config"
	"github.com/rclone/cloudrepo/fs/config/configmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	fs.Register(&fs.RegInfo{
		Name:    "cfgtestdav",
		Options: []fs.Option{{Name: "url"}, {Name: "pass", IsPassword: true}},
	})
	fs.Register(&fs.RegInfo{
		Name:    "cfgtestcrypt",
		Options: []fs.Option{{Name: "remote"}, {Name: "password", IsPassword: true}},
	})
}

var configData = `[work]
type = cfgtestdav
url = https://dav.example.com/
pass = secret

[vault]
type = cfgtestcrypt
remote = work:/vault
password = hunter2

[saved]
type = cfgtestdav
id = 42
url = https://other.example.com/

`

func writeConfig(t *testing.T, data string) string {
	path := filepath.Join(t.TempDir(), "cloudrepo.conf")
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))
	return path
}

func TestLoadMissing(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nope.conf"))
	assert.Equal(t, config.ErrorConfigFileNotFound, s.Load())
	assert.Empty(t, s.Sections())
}

func TestClouds(t *testing.T) {
	s := New(writeConfig(t, configData))
	require.NoError(t, s.Load())
	assert.Equal(t, []string{"work", "vault", "saved"}, s.Sections())

	work, err := s.Cloud("work")
	require.NoError(t, err)
	assert.Equal(t, "cfgtestdav", work.Type)
	assert.Equal(t, configmap.Simple{"url": "https://dav.example.com/", "pass": "secret"}, work.Config)
	assert.Nil(t, work.Underlying)
	assert.Equal(t, int64(0), work.ID)

	vault, err := s.Cloud("vault")
	require.NoError(t, err)
	require.NotNil(t, vault.Underlying)
	assert.True(t, vault.Underlying.Equal(work))
	assert.Equal(t, "work:/vault", vault.Config["remote"])

	saved, err := s.Cloud("saved")
	require.NoError(t, err)
	assert.Equal(t, int64(42), saved.ID)
	assert.Equal(t, "#42", saved.Key())

	clouds, err := s.Clouds()
	require.NoError(t, err)
	assert.Len(t, clouds, 3)
}

func TestCloudErrors(t *testing.T) {
	s := New(writeConfig(t, `[untyped]
url = x

[unknown]
type = floppy

[loop]
type = cfgtestcrypt
remote = loop:

[badid]
type = cfgtestdav
id = seven
`))
	require.NoError(t, s.Load())
	for name, want := range map[string]string{
		"missing": `didn't find section "missing" in config file`,
		"untyped": `config section "untyped" has no type`,
		"unknown": `config section "unknown": didn't find backend called "floppy"`,
		"loop":    `config section "loop" refers to itself through "remote"`,
	} {
		_, err := s.Cloud(name)
		assert.EqualError(t, err, want, name)
	}
	_, err := s.Cloud("badid")
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	s := New(writeConfig(t, configData))
	require.NoError(t, s.Load())
	t.Setenv("CLOUDREPO_CONFIG_WORK_PASS", "from-env")
	work, err := s.Cloud("work")
	require.NoError(t, err)
	assert.Equal(t, "from-env", work.Config["pass"])
}

func TestSaveAndReload(t *testing.T) {
	path := writeConfig(t, configData)
	s := New(path)
	require.NoError(t, s.Load())

	changed, err := s.Reload()
	require.NoError(t, err)
	assert.Empty(t, changed, "nothing changed on disk")

	other := New(path)
	require.NoError(t, other.Load())
	other.SetValue("work", "url", "https://moved.example.com/")
	other.DeleteSection("saved")
	require.NoError(t, other.Save())
	// make sure the modification time moves on
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	changed, err = s.Reload()
	require.NoError(t, err)
	sort.Strings(changed)
	assert.Equal(t, []string{"saved", "work"}, changed)
	v, ok := s.GetValue("work", "url")
	assert.True(t, ok)
	assert.Equal(t, "https://moved.example.com/", v)
	_, ok = s.GetValue("saved", "url")
	assert.False(t, ok)
}

func TestSplitRemote(t *testing.T) {
	name, path, err := SplitRemote("work:/a/b")
	require.NoError(t, err)
	assert.Equal(t, "work", name)
	assert.Equal(t, "/a/b", path)

	name, path, err = SplitRemote("work:")
	require.NoError(t, err)
	assert.Equal(t, "work", name)
	assert.Equal(t, "", path)

	_, _, err = SplitRemote("nocolon")
	assert.Error(t, err)
	_, _, err = SplitRemote(":x")
	assert.Error(t, err)
}
