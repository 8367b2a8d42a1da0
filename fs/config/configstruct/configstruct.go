// Package configstruct parses the connection parameters of a cloud
// into a backend's options structure
package configstruct

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/fs/config/configmap"
)

var matchUpper = regexp.MustCompile("([A-Z]+)")

// camelToSnake converts CamelCase to snake_case
func camelToSnake(in string) string {
	out := matchUpper.ReplaceAllString(in, "_$1")
	out = strings.ToLower(out)
	out = strings.Trim(out, "_")
	return out
}

// setter is implemented by option types with their own parser, for
// example fs.SizeSuffix
type setter interface {
	Set(string) error
}

var durationType = reflect.TypeOf(time.Duration(0))

// StringToInterface turns in into an interface{} the same type as def
func StringToInterface(def interface{}, in string) (newValue interface{}, err error) {
	typ := reflect.TypeOf(def)
	o := reflect.New(typ)
	if s, ok := o.Interface().(setter); ok {
		if err = s.Set(in); err != nil {
			return nil, errors.Wrapf(err, "parsing %q as %T failed", in, def)
		}
		return o.Elem().Interface(), nil
	}
	switch {
	case typ == durationType:
		d, err := time.ParseDuration(in)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %q as duration failed", in)
		}
		return d, nil
	case typ.Kind() == reflect.String:
		// Pass strings unmodified
		o.Elem().SetString(in)
		return o.Elem().Interface(), nil
	case typ.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(in))
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %q as bool failed", in)
		}
		o.Elem().SetBool(b)
		return o.Elem().Interface(), nil
	}
	// Otherwise parse with Sscanln
	n, err := fmt.Sscanln(in, o.Interface())
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %q as %T failed", in, def)
	}
	if n != 1 {
		return nil, errors.New("no items parsed")
	}
	return o.Elem().Interface(), nil
}

// Item describes a single entry in the options structure
type Item struct {
	Name     string // snake_case
	Field    string // CamelCase
	Num      int    // number of the field in the struct
	Required bool   // set with `config:"name,required"`
	Value    interface{}
}

// Items parses the opt struct and returns a slice of Item objects.
//
// opt must be a pointer to a struct.  The struct should have entirely
// public fields.
//
// The config_name is looked up in a struct tag called "config" or if
// not found is the field name converted from CamelCase to snake_case.
func Items(opt interface{}) (items []Item, err error) {
	def := reflect.ValueOf(opt)
	if def.Kind() != reflect.Ptr {
		return nil, errors.New("argument must be a pointer")
	}
	def = def.Elem() // indirect the pointer
	if def.Kind() != reflect.Struct {
		return nil, errors.New("argument must be a pointer to a struct")
	}
	defType := def.Type()
	for i := 0; i < def.NumField(); i++ {
		field := defType.Field(i)
		item := Item{
			Name:  camelToSnake(field.Name),
			Field: field.Name,
			Num:   i,
			Value: def.Field(i).Interface(),
		}
		if tag, ok := field.Tag.Lookup("config"); ok {
			parts := strings.Split(tag, ",")
			if parts[0] != "" {
				item.Name = parts[0]
			}
			for _, flag := range parts[1:] {
				if flag == "required" {
					item.Required = true
				}
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// Set interprets the field names in defaults and looks up config
// values in the config passed in.  Any values found in config will be
// set in the opt structure.
//
// opt must be a pointer to a struct.  The struct should have entirely
// public fields.  The field names are converted from CamelCase to
// snake_case and looked up in the config supplied or a
// `config:"field_name"` is looked up.
//
// Fields tagged required must be present and non empty.
func Set(config configmap.Getter, opt interface{}) (err error) {
	defaultItems, err := Items(opt)
	if err != nil {
		return err
	}
	defStruct := reflect.ValueOf(opt).Elem()
	for _, defaultItem := range defaultItems {
		newValue := defaultItem.Value
		configValue, ok := config.Get(defaultItem.Name)
		if defaultItem.Required && configValue == "" {
			return errors.Errorf("config item %q must be set", defaultItem.Name)
		}
		if ok {
			var newNewValue interface{}
			newNewValue, err = StringToInterface(newValue, configValue)
			if err != nil {
				// Mask errors if setting an empty string as
				// it isn't valid for all types.  This makes
				// empty string be the equivalent of unset.
				if configValue != "" {
					return errors.Wrapf(err, "couldn't parse config item %q = %q as %T", defaultItem.Name, configValue, defaultItem.Value)
				}
			} else {
				newValue = newNewValue
			}
		}
		defStruct.Field(defaultItem.Num).Set(reflect.ValueOf(newValue))
	}
	return nil
}
