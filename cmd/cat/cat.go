// Package cat provides the cat command.
package cat

import (
	"context"
	"io"

	"github.com/rclone/cloudrepo/cmd"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/config/flags"
	"github.com/spf13/cobra"
)

// Globals
var (
	discard = false
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
	cmdFlags := commandDefinition.Flags()
	flags.BoolVarP(cmdFlags, &discard, "discard", "", discard, "Discard the output instead of printing.")
}

var commandDefinition = &cobra.Command{
	Use:   "cat remote:path",
	Short: `Sends a file to stdout.`,
	Long: `
Sends the file to standard output. You can use it like this

    cloudrepo cat work:/notes/todo.txt

Use --progress to follow the download on stderr and --discard to
fetch the file without printing it, eg to fill the content cache.
`,
	RunE: func(command *cobra.Command, args []string) error {
		if err := cmd.CheckArgs(1, 1, command, args); err != nil {
			return err
		}
		out := command.OutOrStdout()
		if discard {
			out = io.Discard
		}
		return cmd.Run(command, func(ctx context.Context, repo fs.Repository) error {
			file, err := cmd.NewFile(ctx, repo, args[0], -1)
			if err != nil {
				return err
			}
			return repo.Read(ctx, file, out, cmd.Progress())
		})
	},
}
