// Package all imports all the commands
package all

import (
	// Active commands
	_ "github.com/rclone/cloudrepo/cmd"
	_ "github.com/rclone/cloudrepo/cmd/about"
	_ "github.com/rclone/cloudrepo/cmd/cat"
	_ "github.com/rclone/cloudrepo/cmd/config"
	_ "github.com/rclone/cloudrepo/cmd/delete"
	_ "github.com/rclone/cloudrepo/cmd/logout"
	_ "github.com/rclone/cloudrepo/cmd/ls"
	_ "github.com/rclone/cloudrepo/cmd/lsd"
	_ "github.com/rclone/cloudrepo/cmd/mkdir"
	_ "github.com/rclone/cloudrepo/cmd/moveto"
	_ "github.com/rclone/cloudrepo/cmd/put"
	_ "github.com/rclone/cloudrepo/cmd/version"
)
