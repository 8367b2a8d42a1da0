// Package put provides the put command.
package put

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/cmd"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/config/flags"
	"github.com/spf13/cobra"
)

var (
	replace = false
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
	cmdFlags := commandDefinition.Flags()
	flags.BoolVarP(cmdFlags, &replace, "replace", "", replace, "Overwrite the destination if it exists.")
}

var commandDefinition = &cobra.Command{
	Use:   "put source dest:path",
	Short: `Upload a local file.`,
	Long: `
Uploads the local file source to dest:path. If dest:path ends in a /
the file keeps its name inside that folder.

    cloudrepo put report.pdf work:/docs/
    cloudrepo put --replace report.pdf work:/docs/latest.pdf

An existing destination is an error unless --replace is given. Use
--progress to follow the upload on stderr.
`,
	RunE: func(command *cobra.Command, args []string) error {
		if err := cmd.CheckArgs(2, 2, command, args); err != nil {
			return err
		}
		return cmd.Run(command, func(ctx context.Context, repo fs.Repository) error {
			_, err := Put(ctx, repo, args[0], args[1], replace, cmd.Progress())
			return err
		})
	},
}

// Put uploads the local file src to the remote dst
func Put(ctx context.Context, repo fs.Repository, src, dst string, replace bool, progress fs.ProgressListener) (written *fs.File, err error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer fs.CheckClose(in, &err)
	fi, err := in.Stat()
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, errors.Errorf("%q is a directory", src)
	}
	if strings.HasSuffix(dst, "/") || strings.HasSuffix(dst, ":") {
		dst += filepath.Base(src)
	}
	file, err := cmd.NewFile(ctx, repo, dst, fi.Size())
	if err != nil {
		return nil, err
	}
	return repo.Write(ctx, file, in, progress, replace, fi.Size())
}
