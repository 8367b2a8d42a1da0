// Package ls provides the ls command.
package ls

import (
	"context"
	"fmt"
	"io"

	"github.com/rclone/cloudrepo/cmd"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/config/flags"
	"github.com/spf13/cobra"
)

// Globals
var (
	recurse bool
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
	cmdFlags := commandDefinition.Flags()
	flags.BoolVarP(cmdFlags, &recurse, "recursive", "R", false, "Recurse into the listing.")
}

var commandDefinition = &cobra.Command{
	Use:   "ls remote:path",
	Short: `List the files in the path with size and modification time.`,
	Long: `
Lists the files in the folder given to standard output with their size
in bytes and their modification time. Folders are not shown. Use the
-R flag to list the files of every folder below the path too, eg

    $ cloudrepo ls -R work:/projects
         1024 2018-04-26 08:43:20 notes.txt
        65536 2018-04-26 08:43:21 build/app.tar
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
			return ListFiles(ctx, repo, folder, recurse, command.OutOrStdout())
		})
	},
}

// ListFiles writes a line for each file in folder to out, descending
// into sub folders if recurse is set
func ListFiles(ctx context.Context, repo fs.Repository, folder *fs.Folder, recurse bool, out io.Writer) error {
	return walk(ctx, repo, folder, "", recurse, func(prefix string, node fs.Node) {
		if file, ok := node.(*fs.File); ok {
			modTime := "-"
			if !file.ModTime().IsZero() {
				modTime = file.ModTime().Local().Format("2006-01-02 15:04:05")
			}
			_, _ = fmt.Fprintf(out, "%12d %19s %s\n", file.Size(), modTime, prefix+file.Name())
		}
	})
}

// ListFolders writes a line for each folder in folder to out,
// descending into sub folders if recurse is set
func ListFolders(ctx context.Context, repo fs.Repository, folder *fs.Folder, recurse bool, out io.Writer) error {
	return walk(ctx, repo, folder, "", recurse, func(prefix string, node fs.Node) {
		if sub, ok := node.(*fs.Folder); ok {
			_, _ = fmt.Fprintf(out, "%s/\n", prefix+sub.Name())
		}
	})
}

// walk calls fn for every child of folder in listing order
func walk(ctx context.Context, repo fs.Repository, folder *fs.Folder, prefix string, recurse bool, fn func(prefix string, node fs.Node)) error {
	nodes, err := repo.List(ctx, folder)
	if err != nil {
		return err
	}
	for _, node := range nodes {
		fn(prefix, node)
		if sub, ok := node.(*fs.Folder); ok && recurse {
			if err := walk(ctx, repo, sub, prefix+sub.Name()+"/", recurse, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
