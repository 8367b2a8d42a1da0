// Test Local filesystem interface
package local_test

import (
	"testing"

	_ "github.com/rclone/cloudrepo/backend/local"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/config/configmap"
	"github.com/rclone/cloudrepo/fstest/fstests"
)

// TestIntegration runs integration tests against the remote
func TestIntegration(t *testing.T) {
	fstests.Run(t, &fstests.Opt{
		Cloud:     fs.NewCloud("TestLocal", "local", configmap.Simple{"root": t.TempDir()}),
		ChunkSize: 1024,
	})
}
