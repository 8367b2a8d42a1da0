// Package cmd implements the cloudrepo command
//
// It is in a sub package so it's internals can be re-used elsewhere
package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/accounting"
	"github.com/rclone/cloudrepo/fs/config"
	"github.com/rclone/cloudrepo/fs/config/configfile"
	"github.com/rclone/cloudrepo/fs/config/configflags"
	"github.com/rclone/cloudrepo/fs/config/flags"
	"github.com/rclone/cloudrepo/fs/dispatch"
	"github.com/rclone/cloudrepo/fs/fserrors"
	"github.com/rclone/cloudrepo/fs/fshttp"
	"github.com/rclone/cloudrepo/lib/oauthutil"
	"github.com/spf13/cobra"
)

// Globals
var (
	// Flags
	configPath   = config.DefaultConfigPath()
	showProgress bool
	metricsAddr  string
	version      bool
	// Loaded by initConfig
	storage = configfile.New(configPath)
	loadErr error
	metrics = dispatch.NewMetrics("cloudrepo")
	// Errors
	errorNotEnoughArguments = errors.New("not enough arguments")
	errorTooManyArguments   = errors.New("too many arguments")
)

const (
	exitCodeSuccess = iota
	exitCodeUsageError
	exitCodeUncategorizedError
	exitCodeDirNotFound
	exitCodeFileNotFound
	exitCodeRetryError
	exitCodeNoRetryError
	exitCodeFatalError
)

// usageError marks errors caused by a bad command line
type usageError struct {
	error
}

func (e usageError) Cause() error  { return e.error }
func (e usageError) Unwrap() error { return e.error }

// Root is the main cloudrepo command
var Root = &cobra.Command{
	Use:   "cloudrepo",
	Short: "Browse and transfer files on cloud storage.",
	Long: `
cloudrepo shows every configured cloud as a tree of folders and files
and moves data in and out of it.

Clouds are named sections of the config file and paths on them are
written as name:path, for example

    cloudrepo ls work:/projects
`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(command *cobra.Command, args []string) error {
		return initConfig()
	},
	Run: func(command *cobra.Command, args []string) {
		if version {
			ShowVersion()
			return
		}
		_ = command.Usage()
	},
}

func init() {
	fshttp.DefaultMetrics = fshttp.NewMetrics("cloudrepo")
	ci := fs.GetConfig(context.Background())
	pflags := Root.PersistentFlags()
	configflags.AddFlags(ci, pflags)
	flags.StringVarP(pflags, &configPath, "config", "", configPath, "Config file.")
	flags.BoolVarP(pflags, &showProgress, "progress", "P", false, "Show progress during transfer.")
	flags.StringVarP(pflags, &metricsAddr, "metrics-addr", "", "", "Serve prometheus metrics on this address while running.")
	Root.Flags().BoolVarP(&version, "version", "V", false, "Print the version number")
	Root.SetFlagErrorFunc(func(command *cobra.Command, err error) error {
		_ = command.Usage()
		return usageError{err}
	})
}

// ShowVersion prints the version to stdout
func ShowVersion() {
	fmt.Printf("cloudrepo %s\n", fs.Version)
	fmt.Printf("- os/type: %s\n", runtime.GOOS)
	fmt.Printf("- os/arch: %s\n", runtime.GOARCH)
	fmt.Printf("- go/version: %s\n", runtime.Version())
}

// initConfig is run by cobra after initialising the flags
func initConfig() error {
	ci := fs.GetConfig(context.Background())

	// Finish parsing any command line flags
	if err := configflags.SetFlags(ci); err != nil {
		return usageError{err}
	}

	// Start the logger
	fs.InitLogging(ci, os.Stderr)

	// Load the config. Commands which don't need it still work if
	// this fails.
	storage = configfile.New(configPath)
	loadErr = storage.Load()
	if loadErr == config.ErrorConfigFileNotFound {
		fs.Debugf(nil, "Config file %q not found - using defaults", configPath)
		loadErr = nil
	} else if loadErr != nil {
		loadErr = errors.Wrap(loadErr, "failed to load config file")
		fs.Debugf(nil, "%v", loadErr)
	}

	// Write the args for debug purposes
	fs.Debugf("cloudrepo", "Version %q starting with parameters %q", fs.Version, os.Args)
	return nil
}

// Storage returns the loaded config file
func Storage() (*configfile.Storage, error) {
	return storage, loadErr
}

// saveToken writes a refreshed OAuth token back to the config file
func saveToken(cloud *fs.Cloud, token string) error {
	storage.SetValue(cloud.Name, oauthutil.ConfigToken, token)
	return storage.Save()
}

// startMetrics serves the dispatcher and HTTP metrics on addr
//
// It returns a func which should be called to stop the server.
func startMetrics(addr string) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.Collectors()...)
	registry.MustRegister(fshttp.DefaultMetrics.Collectors()...)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start metrics server")
	}
	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			fs.Errorf(nil, "Metrics server failed: %v", err)
		}
	}()
	fs.Infof(nil, "Serving metrics on http://%s/metrics", ln.Addr())
	return func() { _ = srv.Close() }, nil
}

// Run the function with a fresh dispatcher
//
// The dispatcher and the metrics server live for the duration of f.
func Run(command *cobra.Command, f func(ctx context.Context, repo fs.Repository) error) (err error) {
	ctx := oauthutil.WithSaver(context.Background(), saveToken)
	fshttp.StartHTTPTokenBucket(ctx)
	stopMetrics, err := startMetrics(metricsAddr)
	if err != nil {
		return err
	}
	defer stopMetrics()
	repo := dispatch.New(ctx, dispatch.Options{Metrics: metrics})
	defer fs.CheckClose(repo, &err)
	err = f(ctx, repo)
	fs.Infof(nil, "Transferred %v", accounting.Stats)
	fs.Debugf(nil, "%d go routines active", runtime.NumGoroutine())
	return err
}

// CheckArgs checks there are enough arguments and prints a message if not
func CheckArgs(MinArgs, MaxArgs int, cmd *cobra.Command, args []string) error {
	if len(args) < MinArgs {
		_ = cmd.Usage()
		return usageError{errors.Wrapf(errorNotEnoughArguments, "command %s needs %d arguments minimum: you provided %d non flag arguments: %q", cmd.Name(), MinArgs, len(args), args)}
	} else if len(args) > MaxArgs {
		_ = cmd.Usage()
		return usageError{errors.Wrapf(errorTooManyArguments, "command %s needs %d arguments maximum: you provided %d non flag arguments: %q", cmd.Name(), MaxArgs, len(args), args)}
	}
	return nil
}

// Progress returns the listener for transfers, nil unless --progress
// was given
func Progress() fs.ProgressListener {
	if !showProgress {
		return nil
	}
	return accounting.NewThrottle(newProgressPrinter(os.Stderr))
}

// NewCloud returns the cloud named in remote and the path on it
func NewCloud(remote string) (*fs.Cloud, string, error) {
	name, p, err := configfile.SplitRemote(remote)
	if err != nil {
		return nil, "", usageError{err}
	}
	if loadErr != nil {
		return nil, "", loadErr
	}
	cloud, err := storage.Cloud(name)
	if err != nil {
		return nil, "", err
	}
	return cloud, p, nil
}

// splitLeaf splits p into its folder and last element
func splitLeaf(p string) (dir, leaf string) {
	dir, leaf = path.Split(strings.TrimRight(p, "/"))
	return dir, leaf
}

// NewFolder returns the folder remote points to
func NewFolder(ctx context.Context, repo fs.Repository, remote string) (*fs.Folder, error) {
	cloud, p, err := NewCloud(remote)
	if err != nil {
		return nil, err
	}
	return repo.Resolve(ctx, cloud, p)
}

// NewFile returns the file remote points to
func NewFile(ctx context.Context, repo fs.Repository, remote string, size int64) (*fs.File, error) {
	cloud, p, err := NewCloud(remote)
	if err != nil {
		return nil, err
	}
	dir, leaf := splitLeaf(p)
	if leaf == "" {
		return nil, usageError{errors.Errorf("%q is a folder, not a file", remote)}
	}
	parent, err := repo.Resolve(ctx, cloud, dir)
	if err != nil {
		return nil, err
	}
	return repo.File(ctx, parent, leaf, size)
}

// NewNode returns the folder remote points to if there is one,
// otherwise the file
func NewNode(ctx context.Context, repo fs.Repository, remote string) (fs.Node, error) {
	cloud, p, err := NewCloud(remote)
	if err != nil {
		return nil, err
	}
	dir, leaf := splitLeaf(p)
	if leaf == "" {
		return repo.Root(ctx, cloud)
	}
	parent, err := repo.Resolve(ctx, cloud, dir)
	if err != nil {
		return nil, err
	}
	folder, err := repo.Folder(ctx, parent, leaf)
	if err == nil {
		ok, err := repo.Exists(ctx, folder)
		if err != nil {
			return nil, err
		}
		if ok {
			return folder, nil
		}
	} else if !fserrors.IsKind(err, fserrors.NoSuchFile) {
		return nil, err
	}
	return repo.File(ctx, parent, leaf, -1)
}

// ExitCode returns the process exit status for err
func ExitCode(err error) int {
	if err == nil {
		return exitCodeSuccess
	}
	var ue usageError
	if errors.As(err, &ue) || strings.HasPrefix(err.Error(), "unknown command") {
		return exitCodeUsageError
	}
	if !fserrors.IsClassified(err) {
		if fserrors.ShouldRetry(err) {
			return exitCodeRetryError
		}
		return exitCodeUncategorizedError
	}
	switch fserrors.KindOf(err) {
	case fserrors.NoSuchFile:
		if e, ok := fserrors.AsError(err); ok && e.Op == "list" {
			return exitCodeDirNotFound
		}
		return exitCodeFileNotFound
	case fserrors.NetworkUnavailable:
		return exitCodeRetryError
	case fserrors.Cancelled:
		return exitCodeUncategorizedError
	case fserrors.AlreadyExists, fserrors.Forbidden, fserrors.WrongCredentials, fserrors.ServerIncompatible:
		return exitCodeNoRetryError
	}
	if fserrors.ShouldRetry(err) {
		return exitCodeRetryError
	}
	return exitCodeFatalError
}

// Main runs cloudrepo interpreting flags and commands out of os.Args
func Main() {
	command, err := Root.ExecuteC()
	if err != nil {
		fs.Errorf(nil, "Failed to %s: %v", command.Name(), err)
	}
	os.Exit(ExitCode(err))
}
