// Package mkdir provides the mkdir command.
package mkdir

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
	Use:   "mkdir remote:path",
	Short: `Make the path if it doesn't already exist.`,
	Long: `
Makes the folder and any missing parents. It is an error if the folder
exists already.
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
			_, err = repo.Create(ctx, folder)
			return err
		})
	},
}
