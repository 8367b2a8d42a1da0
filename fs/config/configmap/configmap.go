// Package configmap provides an abstraction for reading and writing
// the connection parameters of a cloud
package configmap

import (
	"os"
	"sort"
	"strings"
)

// Getter provides an interface to get config items
type Getter interface {
	// Get should get an item with the key passed in and return
	// the value. If the item is found then it should return true,
	// otherwise false.
	Get(key string) (value string, ok bool)
}

// Setter provides an interface to set config items
type Setter interface {
	// Set should set an item into persistent config store.
	Set(key, value string)
}

// Mapper provides an interface to read and write config
type Mapper interface {
	Getter
	Setter
}

// Map layers several Getters and Setters. Getters are consulted in
// the order they were added.
type Map struct {
	setters []Setter
	getters []Getter
}

// New returns an empty Map
func New() *Map {
	return &Map{}
}

// AddGetter appends a getter onto the end of the getters
func (c *Map) AddGetter(getter Getter) *Map {
	c.getters = append(c.getters, getter)
	return c
}

// AddSetter appends a setter onto the end of the setters
func (c *Map) AddSetter(setter Setter) *Map {
	c.setters = append(c.setters, setter)
	return c
}

// Get returns the value from the first getter which has the key.
func (c *Map) Get(key string) (value string, ok bool) {
	for _, do := range c.getters {
		value, ok = do.Get(key)
		if ok {
			return value, ok
		}
	}
	return "", false
}

// Set sets an item into all the stored setters.
func (c *Map) Set(key, value string) {
	for _, do := range c.setters {
		do.Set(key, value)
	}
}

// Env reads overrides from the environment.
//
// The key "pass" of the cloud "work" is read from
// CLOUDREPO_CONFIG_WORK_PASS.
type Env string

// EnvName returns the environment variable consulted for key
func (e Env) EnvName(key string) string {
	name := "CLOUDREPO_CONFIG_" + string(e) + "_" + key
	name = strings.ToUpper(strings.Replace(name, "-", "_", -1))
	return name
}

// Get the value from the environment
func (e Env) Get(key string) (value string, ok bool) {
	return os.LookupEnv(e.EnvName(key))
}

// Simple is a Mapper backed by a plain map. It holds the connection
// parameters of a cloud.
type Simple map[string]string

// Get the value
func (c Simple) Get(key string) (value string, ok bool) {
	value, ok = c[key]
	return value, ok
}

// Set the value
func (c Simple) Set(key, value string) {
	c[key] = value
}

// Copy returns an independent copy of c
func (c Simple) Copy() Simple {
	out := make(Simple, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Fill copies every key of getter into c, for the keys given
func (c Simple) Fill(getter Getter, keys ...string) Simple {
	for _, k := range keys {
		if v, ok := getter.Get(k); ok {
			c[k] = v
		}
	}
	return c
}

// String the map value with sorted keys so that equal
// configurations always produce the same string.
func (c Simple) String() string {
	var ks = make([]string, 0, len(c))
	for k := range c {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	var out strings.Builder
	for _, k := range ks {
		if out.Len() > 0 {
			out.WriteRune(',')
		}
		out.WriteString(k)
		out.WriteRune('=')
		out.WriteRune('\'')
		for _, ch := range c[k] {
			out.WriteRune(ch)
			// Escape ' as ''
			if ch == '\'' {
				out.WriteRune(ch)
			}
		}
		out.WriteRune('\'')
	}
	return out.String()
}
