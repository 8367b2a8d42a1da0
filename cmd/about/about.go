// Package about provides the about command.
package about

import (
	"context"
	"fmt"

	"github.com/rclone/cloudrepo/cmd"
	"github.com/rclone/cloudrepo/fs"
	"github.com/spf13/cobra"
)

func init() {
	cmd.Root.AddCommand(commandDefintion)
}

var commandDefintion = &cobra.Command{
	Use:   "about remote:",
	Short: `Check the credentials of the remote.`,
	Long: `
Signs in to the remote and prints the name of the account its
credentials belong to.
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
			account, err := repo.CurrentAccount(ctx, cloud)
			if err != nil {
				return err
			}
			out := command.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Cloud:   %s (%s)\n", cloud.Name, cloud.Type)
			_, _ = fmt.Fprintf(out, "Account: %s\n", account)
			return nil
		})
	},
}
