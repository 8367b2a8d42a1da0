// Package lsd provides the lsd command.
package lsd

import (
	"context"

	"github.com/rclone/cloudrepo/cmd"
	"github.com/rclone/cloudrepo/cmd/ls"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/config/flags"
	"github.com/spf13/cobra"
)

var (
	recurse bool
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
	cmdFlags := commandDefinition.Flags()
	flags.BoolVarP(cmdFlags, &recurse, "recursive", "R", false, "Recurse into the listing.")
}

var commandDefinition = &cobra.Command{
	Use:   "lsd remote:path",
	Short: `List all folders in the path.`,
	Long: `Lists the folders in the source path to standard output. Does not
recurse by default.  Use the ` + "`-R`" + ` flag to recurse.

    $ cloudrepo lsd work:
    projects/
    photos/

If you want the files use ` + "`cloudrepo ls`" + `.
`,
	RunE: func(command *cobra.Command, args []string) error {
		if err := cmd.CheckArgs(1, 1, command, args); err != nil {
			return err
		}
		return cmd.Run(command, func(ctx context.Context, repo fs.Repository) error {
			folder, err := cmd.NewFolder(ctx, repo, args[0])
			if err != nil {
				return err
			}
			return ls.ListFolders(ctx, repo, folder, recurse, command.OutOrStdout())
		})
	},
}
