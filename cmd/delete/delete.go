// Package delete provides the delete command.
package delete

import (
	"context"

	"github.com/rclone/cloudrepo/cmd"
	"github.com/rclone/cloudrepo/fs"
	"github.com/spf13/cobra"
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
}

var commandDefinition = &cobra.Command{
	Use:   "delete remote:path",
	Short: `Remove the file or folder at path.`,
	Long: `
Removes the file or folder at path. Folders are removed with everything
inside them. The root folder of a cloud can't be removed.

**Important**: Since this can cause data loss, check the path with
` + "`cloudrepo ls`" + ` first.
`,
	RunE: func(command *cobra.Command, args []string) error {
		if err := cmd.CheckArgs(1, 1, command, args); err != nil {
			return err
		}
		return cmd.Run(command, func(ctx context.Context, repo fs.Repository) error {
			node, err := cmd.NewNode(ctx, repo, args[0])
			if err != nil {
				return err
			}
			return repo.Delete(ctx, node)
		})
	},
}
