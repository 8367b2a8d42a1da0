// Browse and transfer files on cloud storage
package main

import (
	_ "github.com/rclone/cloudrepo/backend/all" // import all backends
	"github.com/rclone/cloudrepo/cmd"
	_ "github.com/rclone/cloudrepo/cmd/all" // import all commands
)

func main() {
	cmd.Main()
}
