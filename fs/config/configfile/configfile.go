// Package configfile reads clouds from an INI style config file
//
// Each section is one cloud:
//
//	[work]
//	type = webdav
//	url = https://dav.example.com/remote.php/webdav
//	user = me
//	pass = <obscured>
//
//	[vault]
//	type = crypt
//	remote = work:/vault
//	password = <obscured>
//
// An optional "id" key marks a persisted cloud which is then
// identified by that number rather than by its configuration.
package configfile

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Unknwon/goconfig"
	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/config"
	"github.com/rclone/cloudrepo/fs/config/configmap"
)

// Keys with a meaning to the loader rather than to the backend
const (
	keyType   = "type"
	keyID     = "id"
	keyRemote = "remote"
)

// Storage holds a loaded config file
type Storage struct {
	mu        sync.Mutex
	path      string
	gc        *goconfig.ConfigFile // not thread safe
	fiModTime time.Time            // stat of the file when last loaded
	fiSize    int64
	snapshot  map[string]string // section -> serialized values at load
}

// New makes a Storage for the file at path. Call Load to read it.
func New(path string) *Storage {
	s := &Storage{path: path}
	s.gc, _ = goconfig.LoadFromReader(bytes.NewReader(nil))
	return s
}

// Path returns the file backing s
func (s *Storage) Path() string {
	return s.path
}

// _load reads the file
//
// mu must be held when calling this
func (s *Storage) _load() (err error) {
	fd, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return config.ErrorConfigFileNotFound
		}
		return err
	}
	defer fs.CheckClose(fd, &err)
	gc, err := goconfig.LoadFromReader(fd)
	if err != nil {
		return errors.Wrapf(err, "failed to parse config file %q", s.path)
	}
	fi, err := fd.Stat()
	if err != nil {
		return err
	}
	s.gc = gc
	s.fiModTime, s.fiSize = fi.ModTime(), fi.Size()
	s.snapshot = s._snapshot()
	return nil
}

// _snapshot serializes every section for change detection
//
// mu must be held when calling this
func (s *Storage) _snapshot() map[string]string {
	out := make(map[string]string)
	for _, section := range s.gc.GetSectionList() {
		values, err := s.gc.GetSection(section)
		if err != nil {
			continue
		}
		out[section] = configmap.Simple(values).String()
	}
	return out
}

// Load the config file. A missing file leaves s empty and returns
// config.ErrorConfigFileNotFound.
func (s *Storage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s._load()
}

// Reload re-reads the file if it changed on disk since it was last
// loaded and returns the names of the sections which were changed or
// removed. Clouds built from those sections are stale.
func (s *Storage) Reload() (changed []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fi, err := os.Stat(s.path)
	if err != nil {
		return nil, err
	}
	if !fi.ModTime().After(s.fiModTime) && fi.Size() == s.fiSize {
		return nil, nil
	}
	fs.Debugf(nil, "Config file has changed externally - reloading")
	old := s.snapshot
	if err = s._load(); err != nil {
		return nil, err
	}
	for section, values := range old {
		if s.snapshot[section] != values {
			changed = append(changed, section)
		}
	}
	return changed, nil
}

// Save writes the config file atomically
func (s *Storage) Save() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var buf bytes.Buffer
	if err := goconfig.SaveConfigData(s.gc, &buf); err != nil {
		return errors.Wrap(err, "failed to save config file")
	}
	dir, name := filepath.Split(s.path)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	td, err := os.CreateTemp(dir, name)
	if err != nil {
		return errors.Wrap(err, "failed to create temp file for new config")
	}
	defer func() {
		_ = td.Close()
		if err := os.Remove(td.Name()); err != nil && !os.IsNotExist(err) {
			fs.Errorf(nil, "failed to remove temp config file: %v", err)
		}
	}()
	if _, err = td.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}
	if err = td.Close(); err != nil {
		return errors.Wrap(err, "failed to close config file")
	}
	if err = os.Chmod(td.Name(), 0600); err != nil {
		fs.Errorf(nil, "Failed to set permissions on config file: %v", err)
	}
	if err = os.Rename(td.Name(), s.path); err != nil {
		return errors.Wrapf(err, "failed to move newly written config to %q", s.path)
	}
	fi, err := os.Stat(s.path)
	if err == nil {
		s.fiModTime, s.fiSize = fi.ModTime(), fi.Size()
	}
	s.snapshot = s._snapshot()
	return nil
}

// Sections returns the names of all the sections in file order
func (s *Storage) Sections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gc.GetSectionList()
}

// GetValue returns the key in section with a found flag
func (s *Storage) GetValue(section, key string) (value string, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, err := s.gc.GetValue(section, key)
	if err != nil {
		return "", false
	}
	return value, true
}

// SetValue sets the value under key in section
func (s *Storage) SetValue(section, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gc.SetValue(section, key, value)
}

// DeleteSection removes the named section
func (s *Storage) DeleteSection(section string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gc.DeleteSection(section)
}

// Cloud builds the cloud described by the section name
func (s *Storage) Cloud(name string) (*fs.Cloud, error) {
	return s.cloud(name, map[string]bool{})
}

func (s *Storage) cloud(name string, seen map[string]bool) (*fs.Cloud, error) {
	if seen[name] {
		return nil, errors.Errorf("config section %q refers to itself through %q", name, keyRemote)
	}
	seen[name] = true
	s.mu.Lock()
	values, err := s.gc.GetSection(name)
	s.mu.Unlock()
	if err != nil {
		return nil, errors.Errorf("didn't find section %q in config file", name)
	}
	typ := values[keyType]
	if typ == "" {
		return nil, errors.Errorf("config section %q has no type", name)
	}
	params := configmap.Simple{}
	for k, v := range values {
		if k != keyType && k != keyID {
			params[k] = v
		}
	}
	cloud := fs.NewCloud(name, typ, params)
	if id, ok := values[keyID]; ok {
		cloud.ID, err = strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bad id in config section %q", name)
		}
	}
	ri, err := fs.Find(cloud)
	if err != nil {
		return nil, errors.Wrapf(err, "config section %q", name)
	}
	env := configmap.Env(name)
	for _, opt := range ri.Options {
		if v, ok := env.Get(opt.Name); ok {
			params[opt.Name] = v
		}
	}
	if remote, ok := params[keyRemote]; ok {
		underlying := remote
		if i := strings.IndexRune(remote, ':'); i >= 0 {
			underlying = remote[:i]
		}
		cloud.Underlying, err = s.cloud(underlying, seen)
		if err != nil {
			return nil, err
		}
	}
	return cloud, nil
}

// Clouds builds every cloud in the file, in file order
func (s *Storage) Clouds() ([]*fs.Cloud, error) {
	var clouds []*fs.Cloud
	for _, name := range s.Sections() {
		cloud, err := s.Cloud(name)
		if err != nil {
			return nil, err
		}
		clouds = append(clouds, cloud)
	}
	return clouds, nil
}

// SplitRemote splits "name:path" into its parts. The path of a bare
// "name:" is "".
func SplitRemote(remote string) (name, path string, err error) {
	i := strings.IndexRune(remote, ':')
	if i <= 0 {
		return "", "", errors.Errorf("%q is not of the form name:path", remote)
	}
	return remote[:i], remote[i+1:], nil
}
