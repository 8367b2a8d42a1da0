// Package configflags defines the flags used by cloudrepo.  It is
// decoupled into a separate package so it can be replaced.
package configflags

// Options set by command line flags
import (
	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/config"
	"github.com/rclone/cloudrepo/fs/config/flags"
	"github.com/spf13/pflag"
)

var (
	// these are interpreted into the config by SetFlags() below
	verbose int
	quiet   bool
	noCache bool
	parsed  *pflag.FlagSet
)

// AddFlags adds the non backend specific flags to the command
func AddFlags(ci *fs.ConfigInfo, flagSet *pflag.FlagSet) {
	parsed = flagSet
	// NB defaults which aren't the zero for the type should be set in fs/config.go NewConfig
	if ci.CacheDir == "" {
		ci.CacheDir = config.DefaultCacheDir()
	}
	flags.CountVarP(flagSet, &verbose, "verbose", "v", "Print lots more stuff (repeat for more)")
	flags.BoolVarP(flagSet, &quiet, "quiet", "q", false, "Print as little stuff as possible")
	flags.FVarP(flagSet, &ci.LogLevel, "log-level", "", "Log level DEBUG|INFO|NOTICE|ERROR")
	flags.BoolVarP(flagSet, &ci.UseJSONLog, "use-json-log", "", ci.UseJSONLog, "Use json log format.")
	flags.DurationVarP(flagSet, &ci.ConnectTimeout, "contimeout", "", ci.ConnectTimeout, "Connect timeout")
	flags.DurationVarP(flagSet, &ci.Timeout, "timeout", "", ci.Timeout, "IO idle timeout")
	flags.IntVarP(flagSet, &ci.LowLevelRetries, "low-level-retries", "", ci.LowLevelRetries, "Number of low level retries to do.")
	flags.StringVarP(flagSet, &ci.UserAgent, "user-agent", "", ci.UserAgent, "Set the user-agent to a specified string.")
	flags.Float64VarP(flagSet, &ci.TPSLimit, "tpslimit", "", ci.TPSLimit, "Limit HTTP transactions per second to this.")
	flags.IntVarP(flagSet, &ci.TPSLimitBurst, "tpslimit-burst", "", ci.TPSLimitBurst, "Max burst of transactions for --tpslimit.")
	flags.IntVarP(flagSet, &ci.MaxRedirects, "max-redirects", "", ci.MaxRedirects, "Redirects followed per request.")
	flags.BoolVarP(flagSet, &ci.DumpHeaders, "dump-headers", "", ci.DumpHeaders, "Dump HTTP headers - may contain sensitive info")
	flags.FVarP(flagSet, &ci.ChunkSize, "chunk-size", "", "Upload chunk size, larger files are sent in chunks.")
	flags.IntVarP(flagSet, &ci.ChunkAttempts, "chunk-attempts", "", ci.ChunkAttempts, "Attempts made at each chunk of an upload.")
	flags.StringVarP(flagSet, &ci.CacheDir, "cache-dir", "", ci.CacheDir, "Directory cloudrepo will use for caching.")
	flags.FVarP(flagSet, &ci.CacheMaxSize, "cache-max-size", "", "Max total size of the content cache.")
	flags.BoolVarP(flagSet, &noCache, "no-cache", "", false, "Don't cache downloaded content.")
	flags.DurationVarP(flagSet, &ci.CacheExpire, "cache-expire", "", ci.CacheExpire, "Drop cloud adapters unused for this long.")
	flags.StringVarP(flagSet, &ci.NetCheckAddress, "netcheck-address", "", ci.NetCheckAddress, "host:port dialled to see if the network is up.")
}

// SetFlags converts any flags into config which weren't straight forward
func SetFlags(ci *fs.ConfigInfo) error {
	if verbose >= 2 {
		ci.LogLevel = fs.LogLevelDebug
	} else if verbose >= 1 {
		ci.LogLevel = fs.LogLevelInfo
	}
	if quiet {
		if verbose > 0 {
			return errors.New("can't set -v and -q")
		}
		ci.LogLevel = fs.LogLevelError
	}
	if parsed != nil {
		logLevelFlag := parsed.Lookup("log-level")
		if logLevelFlag != nil && logLevelFlag.Changed {
			if verbose > 0 {
				return errors.New("can't set -v and --log-level")
			}
			if quiet {
				return errors.New("can't set -q and --log-level")
			}
		}
	}
	if noCache {
		ci.CacheDir = ""
	}
	if ci.ChunkSize <= 0 {
		return errors.Errorf("--chunk-size must be positive, got %v", ci.ChunkSize)
	}
	return nil
}
