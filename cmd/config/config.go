// Package config provides the config command.
package config

import (
	"fmt"
	"io"

	"github.com/rclone/cloudrepo/cmd"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/config/flags"
	"github.com/spf13/cobra"
)

// Globals
var (
	listLong bool
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
	commandDefinition.AddCommand(configFileCommand)
	cmdFlags := commandDefinition.Flags()
	flags.BoolVarP(cmdFlags, &listLong, "long", "l", listLong, "Show the backend and underlying cloud as well as names.")
}

var commandDefinition = &cobra.Command{
	Use:   "config",
	Short: `List the clouds in the config file.`,
	Long: `
Lists the clouds in the config file in file order. With -l the backend
serving each cloud is shown too, and for overlays the cloud they are
stored in.

    $ cloudrepo config -l
    work:  webdav
    vault: crypt  in work

Additional functions:

  * ` + "`cloudrepo config file`" + ` – show path of configuration file in use
`,
	RunE: func(command *cobra.Command, args []string) error {
		if err := cmd.CheckArgs(0, 0, command, args); err != nil {
			return err
		}
		storage, err := cmd.Storage()
		if err != nil {
			return err
		}
		clouds, err := storage.Clouds()
		if err != nil {
			return err
		}
		ListClouds(command.OutOrStdout(), clouds, listLong)
		return nil
	},
}

var configFileCommand = &cobra.Command{
	Use:   "file",
	Short: `Show path of configuration file in use.`,
	RunE: func(command *cobra.Command, args []string) error {
		if err := cmd.CheckArgs(0, 0, command, args); err != nil {
			return err
		}
		storage, _ := cmd.Storage()
		_, _ = fmt.Fprintf(command.OutOrStdout(), "Configuration file is stored at:\n%s\n", storage.Path())
		return nil
	},
}

// ListClouds writes a line per cloud to out
func ListClouds(out io.Writer, clouds []*fs.Cloud, long bool) {
	maxlen := 1
	for _, cloud := range clouds {
		if len(cloud.Name) > maxlen {
			maxlen = len(cloud.Name)
		}
	}
	for _, cloud := range clouds {
		if !long {
			_, _ = fmt.Fprintf(out, "%s:\n", cloud.Name)
			continue
		}
		line := fmt.Sprintf("%-*s %s", maxlen+1, cloud.Name+":", cloud.Type)
		if cloud.Underlying != nil {
			line += "  in " + cloud.Underlying.Name
		}
		_, _ = fmt.Fprintln(out, line)
	}
}
