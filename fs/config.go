package fs

import (
	"context"
	"time"
)

// Global
var (
	// globalConfig is the config used when there is none in the context
	globalConfig = NewConfig()

	// ConfigFileGet reads a value from the config file
	//
	// This is a function pointer to decouple the config
	// implementation from the fs
	ConfigFileGet = func(section, key string) (string, bool) { return "", false }
)

// ConfigInfo is the options which apply to every cloud
type ConfigInfo struct {
	LogLevel        LogLevel
	UseJSONLog      bool
	ConnectTimeout  time.Duration // Connect timeout
	Timeout         time.Duration // Data channel timeout
	LowLevelRetries int
	UserAgent       string
	TPSLimit        float64
	TPSLimitBurst   int
	MaxRedirects    int
	DumpHeaders     bool // log HTTP headers at debug level
	ChunkSize       SizeSuffix // upload chunk size and single request threshold
	ChunkAttempts   int        // attempts for a whole chunked upload
	CacheDir        string     // content cache root, "" disables the cache
	CacheMaxSize    SizeSuffix
	CacheExpire     time.Duration // unused delegates are dropped after this
	NetCheckAddress string        // host:port dialled to decide if the network is up
	NetCheckTTL     time.Duration
}

// NewConfig creates a new config with everything set to the default
// value.
func NewConfig() *ConfigInfo {
	c := new(ConfigInfo)

	c.LogLevel = LogLevelNotice
	c.ConnectTimeout = 60 * time.Second
	c.Timeout = 5 * 60 * time.Second
	c.LowLevelRetries = 10
	c.UserAgent = "cloudrepo/" + Version
	c.TPSLimitBurst = 1
	c.MaxRedirects = 20
	c.ChunkSize = 8 * Mebi
	c.ChunkAttempts = 5
	c.CacheMaxSize = 100 * Mebi
	c.CacheExpire = 5 * time.Minute
	c.NetCheckAddress = ""
	c.NetCheckTTL = 2 * time.Second

	return c
}

type configContextKeyType struct{}

// Context key for config
var configContextKey = configContextKeyType{}

// GetConfig returns the global or context sensitive context
func GetConfig(ctx context.Context) *ConfigInfo {
	if ctx == nil {
		return globalConfig
	}
	c := ctx.Value(configContextKey)
	if c == nil {
		return globalConfig
	}
	return c.(*ConfigInfo)
}

// CopyConfig copies the global config (if any) from srcCtx into
// dstCtx returning the new context.
func CopyConfig(dstCtx, srcCtx context.Context) context.Context {
	if srcCtx == nil {
		return dstCtx
	}
	c := srcCtx.Value(configContextKey)
	if c == nil {
		return dstCtx
	}
	return context.WithValue(dstCtx, configContextKey, c)
}

// AddConfig returns a mutable config structure based on a shallow
// copy of that found in ctx and returns a new context with that added
// to it.
func AddConfig(ctx context.Context) (context.Context, *ConfigInfo) {
	c := GetConfig(ctx)
	cCopy := new(ConfigInfo)
	*cCopy = *c
	newCtx := context.WithValue(ctx, configContextKey, cCopy)
	return newCtx, cCopy
}
