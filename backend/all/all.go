// Package all imports all the backends
package all

import (
	// Active file systems
	_ "github.com/rclone/cloudrepo/backend/crypt"
	_ "github.com/rclone/cloudrepo/backend/drive"
	_ "github.com/rclone/cloudrepo/backend/dropbox"
	_ "github.com/rclone/cloudrepo/backend/local"
	_ "github.com/rclone/cloudrepo/backend/memory"
	_ "github.com/rclone/cloudrepo/backend/onedrive"
	_ "github.com/rclone/cloudrepo/backend/s3"
	_ "github.com/rclone/cloudrepo/backend/webdav"
)
