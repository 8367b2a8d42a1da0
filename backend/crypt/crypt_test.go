// Test Crypt filesystem interface
package crypt_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	_ "github.com/rclone/cloudrepo/backend/crypt"
	"github.com/rclone/cloudrepo/backend/memory"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/config/configmap"
	"github.com/rclone/cloudrepo/fs/config/obscure"
	"github.com/rclone/cloudrepo/fs/dispatch"
	"github.com/rclone/cloudrepo/fs/fserrors"
	"github.com/rclone/cloudrepo/fstest"
	"github.com/rclone/cloudrepo/fstest/fstests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newVault returns a memory cloud and a crypt cloud stored in its
// /vault folder
func newVault(t *testing.T, config configmap.Simple) (under, vault *fs.Cloud) {
	memory.Reset()
	under = fs.NewCloud("TestCryptUnder", "memory", configmap.Simple{"user": "vault owner"})
	password, err := obscure.Obscure("potato")
	require.NoError(t, err)
	vaultConfig := configmap.Simple{
		"remote":   "TestCryptUnder:/vault",
		"password": password,
	}
	for k, v := range config {
		vaultConfig[k] = v
	}
	vault = fs.NewCloud("TestCrypt", "crypt", vaultConfig)
	vault.Underlying = under
	return under, vault
}

func newDispatcher(t *testing.T) (context.Context, *dispatch.Dispatcher) {
	ctx := context.Background()
	d := dispatch.New(ctx, dispatch.Options{})
	t.Cleanup(func() { _ = d.Close() })
	return ctx, d
}

// TestStandard runs integration tests with the names encrypted
func TestStandard(t *testing.T) {
	_, vault := newVault(t, configmap.Simple{"filename_encryption": "standard"})
	fstests.Run(t, &fstests.Opt{
		Cloud:     vault,
		ChunkSize: 64,
	})
}

// TestOff runs integration tests with the names left alone
func TestOff(t *testing.T) {
	_, vault := newVault(t, configmap.Simple{"filename_encryption": "off"})
	fstests.Run(t, &fstests.Opt{
		Cloud:     vault,
		ChunkSize: 64,
	})
}

func TestBase64(t *testing.T) {
	_, vault := newVault(t, configmap.Simple{"filename_encoding": "base64", "password2": mustObscure(t, "sausage")})
	fstests.Run(t, &fstests.Opt{
		Cloud:     vault,
		ChunkSize: 64,
	})
}

func mustObscure(t *testing.T, s string) string {
	out, err := obscure.Obscure(s)
	require.NoError(t, err)
	return out
}

// readUnder returns the only file in the underlying folder
func readUnder(ctx context.Context, t *testing.T, d *dispatch.Dispatcher, folder *fs.Folder) (*fs.File, []byte) {
	nodes, err := d.List(ctx, folder)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	file, ok := nodes[0].(*fs.File)
	require.True(t, ok, "%v is not a file", nodes[0])
	return file, fstest.Get(ctx, t, d, file)
}

func TestNamesAndContentEncrypted(t *testing.T) {
	under, vault := newVault(t, nil)
	ctx, d := newDispatcher(t)
	plans := fstest.Mkdir(ctx, t, d, fs.NewRoot(vault), "plans")
	secret := []byte("attack at dawn")
	file := fstest.Put(ctx, t, d, plans, "secret.txt", secret)
	assert.Equal(t, int64(len(secret)), file.Size())
	assert.Equal(t, secret, fstest.Get(ctx, t, d, file))
	fstest.CheckListing(ctx, t, d, fs.NewRoot(vault), "plans/")
	fstest.CheckListing(ctx, t, d, plans, "secret.txt")

	base := fs.ResolvePath(fs.NewRoot(under), "vault")
	names := fstest.Names(ctx, t, d, base)
	require.Len(t, names, 1)
	assert.NotEqual(t, "plans/", names[0])
	assert.True(t, strings.HasSuffix(names[0], "/"))

	stored, data := readUnder(ctx, t, d, fs.NewFolder(base, strings.TrimSuffix(names[0], "/")))
	assert.NotEqual(t, "secret.txt", stored.Name())
	assert.Equal(t, int64(32+16+len(secret)), stored.Size())
	assert.True(t, bytes.HasPrefix(data, []byte("RCLONE\x00\x00")))
	assert.False(t, bytes.Contains(data, secret))
}

func TestNamesOff(t *testing.T) {
	under, vault := newVault(t, configmap.Simple{"filename_encryption": "off"})
	ctx, d := newDispatcher(t)
	plans := fstest.Mkdir(ctx, t, d, fs.NewRoot(vault), "plans")
	fstest.Put(ctx, t, d, plans, "secret.txt", []byte("attack at dawn"))

	base := fs.ResolvePath(fs.NewRoot(under), "vault")
	fstest.CheckListing(ctx, t, d, base, "plans/")
	fstest.CheckListing(ctx, t, d, fs.NewFolder(base, "plans"), "secret.txt.bin")
}

func TestListSkipsStrangers(t *testing.T) {
	under, vault := newVault(t, nil)
	ctx, d := newDispatcher(t)
	root := fs.NewRoot(vault)
	fstest.Put(ctx, t, d, root, "mine.txt", []byte("mine"))
	base := fs.ResolvePath(fs.NewRoot(under), "vault")
	fstest.Put(ctx, t, d, base, "stranger.txt", []byte("not encrypted"))

	fstest.CheckListing(ctx, t, d, root, "mine.txt")

	_, strict := newVaultSharing(t, under, configmap.Simple{"strict_names": "true"})
	_, err := d.List(ctx, fs.NewRoot(strict))
	require.Error(t, err)
	assert.Equal(t, fserrors.Fatal, fserrors.KindOf(err))
}

// newVaultSharing makes another crypt cloud over the same folder as
// newVault without resetting the memory store
func newVaultSharing(t *testing.T, under *fs.Cloud, config configmap.Simple) (*fs.Cloud, *fs.Cloud) {
	vaultConfig := configmap.Simple{
		"remote":   "TestCryptUnder:/vault",
		"password": mustObscure(t, "potato"),
	}
	for k, v := range config {
		vaultConfig[k] = v
	}
	vault := fs.NewCloud("TestCryptOther", "crypt", vaultConfig)
	vault.Underlying = under
	return under, vault
}

func TestWrongPassword(t *testing.T) {
	under, vault := newVault(t, configmap.Simple{"directory_name_encryption": "false"})
	ctx, d := newDispatcher(t)
	file := fstest.Put(ctx, t, d, fs.NewRoot(vault), "secret.txt", []byte("attack at dawn"))

	_, wrong := newVaultSharing(t, under, configmap.Simple{
		"directory_name_encryption": "false",
		"password":                  mustObscure(t, "turnip"),
	})
	// the names don't decrypt so nothing is listed
	fstest.CheckListing(ctx, t, d, fs.NewRoot(wrong))

	var out bytes.Buffer
	err := d.Read(ctx, fs.NewFile(fs.NewRoot(wrong), "secret.txt", file.Size(), time.Time{}), &out, nil)
	require.Error(t, err)
	assert.Equal(t, fserrors.NoSuchFile, fserrors.KindOf(err))
}

func TestErrorsUsePlainPaths(t *testing.T) {
	_, vault := newVault(t, nil)
	ctx, d := newDispatcher(t)
	root := fs.NewRoot(vault)
	fstest.Mkdir(ctx, t, d, root, "folder")

	var out bytes.Buffer
	err := d.Read(ctx, fs.NewFile(root, "missing.txt", -1, time.Time{}), &out, nil)
	require.Error(t, err)
	e, ok := fserrors.AsError(err)
	require.True(t, ok)
	assert.Equal(t, fserrors.NoSuchFile, e.Kind)
	assert.Equal(t, "/missing.txt", e.Path)
	assert.Equal(t, "read", e.Op)

	_, err = d.Create(ctx, fs.NewFolder(root, "folder"))
	require.Error(t, err)
	e, ok = fserrors.AsError(err)
	require.True(t, ok)
	assert.Equal(t, fserrors.AlreadyExists, e.Kind)
	assert.Equal(t, "/folder", e.Path)
}

func TestEmptyVault(t *testing.T) {
	_, vault := newVault(t, nil)
	ctx, d := newDispatcher(t)
	fstest.CheckListing(ctx, t, d, fs.NewRoot(vault))
	fstest.CheckExists(ctx, t, d, fs.NewRoot(vault), true)
	fstest.CheckExists(ctx, t, d, fs.NewFolder(fs.NewRoot(vault), "nope"), false)
}

func TestCurrentAccountAndLogout(t *testing.T) {
	_, vault := newVault(t, nil)
	ctx, d := newDispatcher(t)
	name, err := d.CurrentAccount(ctx, vault)
	require.NoError(t, err)
	assert.Equal(t, "vault owner", name)
	require.NoError(t, d.Logout(ctx, vault))
}

func TestInvalidatingUnderlyingDropsVault(t *testing.T) {
	under, vault := newVault(t, nil)
	ctx, d := newDispatcher(t)
	fstest.Put(ctx, t, d, fs.NewRoot(vault), "file", []byte("x"))
	require.True(t, d.Registered(vault))
	require.True(t, d.Registered(under))

	d.Invalidate(under)
	assert.False(t, d.Registered(under))
	assert.False(t, d.Registered(vault))

	// and they come back on next use
	fstest.CheckListing(ctx, t, d, fs.NewRoot(vault), "file")
	assert.True(t, d.Registered(vault))
}

func TestNeedsUnderlying(t *testing.T) {
	_, vault := newVault(t, nil)
	vault.Underlying = nil
	ctx, d := newDispatcher(t)
	_, err := d.List(ctx, fs.NewRoot(vault))
	require.Error(t, err)
}
