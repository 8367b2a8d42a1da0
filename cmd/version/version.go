// Package version provides the version command.
package version

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/cmd"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/config/flags"
	"github.com/spf13/cobra"
)

var (
	short = false
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
	cmdFlags := commandDefinition.Flags()
	flags.BoolVarP(cmdFlags, &short, "short", "", short, "Only print the version number.")
}

var commandDefinition = &cobra.Command{
	Use:   "version",
	Short: `Show the version number.`,
	Long: `
Show the version number, the go version and the architecture.

With --short only the number is printed, eg v0.3.0.

    $ cloudrepo version
    cloudrepo v0.3.0
    - os/type: linux
    - os/arch: amd64
    - go/version: go1.21.0
`,
	RunE: func(command *cobra.Command, args []string) error {
		if err := cmd.CheckArgs(0, 0, command, args); err != nil {
			return err
		}
		if !short {
			cmd.ShowVersion()
			return nil
		}
		v, err := newVersion(fs.Version)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(command.OutOrStdout(), v)
		return nil
	},
}

// version is a parsed version number, eg v0.3.0-12 is [0 3 0 12]
type version []int

var parseVersion = regexp.MustCompile(`^(?:cloudrepo )?v(\d+)\.(\d+)(?:\.(\d+))?(?:-(\d+))?(?:-g[0-9a-f]+(?:-[\w-]+)?|-DEV)?β?$`)

// newVersion parses a version string
func newVersion(in string) (v version, err error) {
	r := parseVersion.FindStringSubmatch(in)
	if r == nil {
		return v, errors.Errorf("failed to match version string %q", in)
	}
	atoi := func(s string) int {
		i, err := strconv.Atoi(s)
		if err != nil {
			panic(fmt.Sprintf("failed to parse version %q in %q", s, in))
		}
		return i
	}
	v = append(v, atoi(r[1]), atoi(r[2]))
	if r[3] != "" {
		v = append(v, atoi(r[3]))
	}
	if r[4] != "" {
		if len(v) == 2 {
			v = append(v, 0)
		}
		v = append(v, atoi(r[4]))
	}
	return v, nil
}

// String converts v to a string
func (v version) String() string {
	s := "v"
	for i, n := range v {
		if i > 0 {
			s += "."
		}
		s += strconv.Itoa(n)
	}
	return s
}
