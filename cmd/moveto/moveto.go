// Package moveto provides the moveto command.
package moveto

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
	Use:   "moveto source:path dest:path",
	Short: `Move file or folder from source to dest.`,
	Long: `
If source:path is a file or folder then it moves it to a file or
folder named dest:path. This can be used to rename files and folders.

    cloudrepo moveto work:/drafts/plan.txt work:/final/plan.txt

Both paths must be on the same cloud and dest:path must not exist.
`,
	RunE: func(command *cobra.Command, args []string) error {
		if err := cmd.CheckArgs(2, 2, command, args); err != nil {
			return err
		}
		return cmd.Run(command, func(ctx context.Context, repo fs.Repository) error {
			_, err := Move(ctx, repo, args[0], args[1])
			return err
		})
	},
}

// Move moves the node at src to dst and returns it
func Move(ctx context.Context, repo fs.Repository, src, dst string) (fs.Node, error) {
	node, err := cmd.NewNode(ctx, repo, src)
	if err != nil {
		return nil, err
	}
	switch source := node.(type) {
	case *fs.Folder:
		target, err := cmd.NewFolder(ctx, repo, dst)
		if err != nil {
			return nil, err
		}
		return repo.MoveFolder(ctx, source, target)
	case *fs.File:
		target, err := cmd.NewFile(ctx, repo, dst, source.Size())
		if err != nil {
			return nil, err
		}
		return repo.MoveFile(ctx, source, target)
	}
	return nil, fs.ErrorWrongNodeType
}
