// Package config locates the config file and the cache directory
package config

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/fs"
)

const (
	configFileName = "cloudrepo.conf"
	appName        = "cloudrepo"
)

// ErrorConfigFileNotFound is returned when the config file doesn't exist
var ErrorConfigFileNotFound = errors.New("config file not found")

// DefaultConfigPath returns the config file to use if none is given.
//
// $CLOUDREPO_CONFIG wins, then $XDG_CONFIG_HOME, then ~/.config.
func DefaultConfigPath() string {
	if p := os.Getenv("CLOUDREPO_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName, configFileName)
	}
	home, err := homedir.Dir()
	if err != nil {
		fs.Errorf(nil, "Couldn't find home directory: %v", err)
		return configFileName
	}
	return filepath.Join(home, ".config", appName, configFileName)
}

// DefaultCacheDir returns the root of the content cache
func DefaultCacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	home, err := homedir.Dir()
	if err != nil {
		return filepath.Join(os.TempDir(), appName)
	}
	return filepath.Join(home, ".cache", appName)
}
