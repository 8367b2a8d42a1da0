// Package logout provides the logout command.
package logout

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
	Use:   "logout remote:",
	Short: `End the session held with the remote.`,
	Long: `
Ends the session with the remote server where it has one, eg revoking
the sign in sessions of a OneDrive account. The config file is left
alone.
`,
	RunE: func(command *cobra.Command, args []string) error {
		if err := cmd.CheckArgs(1, 1, command, args); err != nil {
			return err
		}
		return cmd.Run(command, func(ctx context.Context, repo fs.Repository) error {
			cloud, _, err := cmd.NewCloud(args[0])
			if err != nil {
				return err
			}
			return repo.Logout(ctx, cloud)
		})
	},
}
