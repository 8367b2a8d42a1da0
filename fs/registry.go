package fs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// TranslateFunc classifies a raw backend error into the error
// taxonomy of fs/fserrors. It returns err unchanged if it doesn't
// recognise it.
type TranslateFunc func(err error) error

// RegInfo provides information about a backend
type RegInfo struct {
	// Name of this backend, the value of "type" in the config file
	Name string
	// Description of this backend
	Description string
	// Supports reports whether this backend can serve cloud. If
	// nil the backend supports clouds whose Type equals Name.
	Supports func(cloud *Cloud) bool
	// NewRepository makes the adapter for cloud. dispatcher is the
	// repository which owns the adapter, overlays use it to reach
	// their underlying cloud.
	NewRepository func(ctx context.Context, cloud *Cloud, dispatcher Repository) (Repository, error)
	// Translate classifies errors returned by the adapter
	Translate TranslateFunc
	// Local is set if the backend needs no network
	Local bool
	// Options for the backend
	Options []Option
}

// SupportsCloud reports whether ri serves cloud
func (ri *RegInfo) SupportsCloud(cloud *Cloud) bool {
	if ri.Supports != nil {
		return ri.Supports(cloud)
	}
	return cloud.Type == ri.Name
}

// Option describes an option for the config wizard and the docs
type Option struct {
	Name       string
	Help       string
	Default    interface{}
	Required   bool
	IsPassword bool // stored obscured in the config file
}

var (
	registryMu sync.RWMutex
	registry   []*RegInfo
)

// Register a backend
//
// Backends are consulted in the order they are registered.
func Register(info *RegInfo) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, info)
}

// Registry returns a copy of the registered backends in order
func Registry() []*RegInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return append([]*RegInfo(nil), registry...)
}

// Find returns the first registered backend which supports cloud
func Find(cloud *Cloud) (*RegInfo, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, item := range registry {
		if item.SupportsCloud(cloud) {
			return item, nil
		}
	}
	return nil, errors.Errorf("didn't find backend called %q", cloud.Type)
}

// MustFind is like Find but panics if no backend supports cloud.
//
// Clouds from the config file are checked with Find when loaded so
// this only fires for clouds constructed with a bad type in code.
func MustFind(cloud *Cloud) *RegInfo {
	ri, err := Find(cloud)
	if err != nil {
		panic(fmt.Sprintf("no backend registered for cloud %q of type %q (registered: %s)", cloud, cloud.Type, registeredNames()))
	}
	return ri
}

func registeredNames() string {
	var names []string
	for _, item := range Registry() {
		names = append(names, item.Name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
