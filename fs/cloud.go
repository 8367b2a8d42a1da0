package fs

import (
	"strconv"

	"github.com/rclone/cloudrepo/fs/config/configmap"
)

// Cloud is the identity of a storage location: the backend type and
// the connection parameters.
//
// A Cloud which has been persisted carries a non zero ID and is
// identified by it. Otherwise it is identified by its configuration.
type Cloud struct {
	ID     int64            // persistent identifier, 0 if not persisted
	Name   string           // display name, the config section for configured clouds
	Type   string           // backend type, eg "s3"
	Config configmap.Simple // connection parameters

	// Underlying is the physical cloud an overlay (eg crypt) is
	// stored in, nil for physical clouds.
	Underlying *Cloud
}

// NewCloud makes a new unpersisted cloud
func NewCloud(name, typ string, config configmap.Simple) *Cloud {
	if config == nil {
		config = configmap.Simple{}
	}
	return &Cloud{
		Name:   name,
		Type:   typ,
		Config: config,
	}
}

// Key returns the identity of the cloud. Two clouds with the same
// Key are the same cloud.
func (c *Cloud) Key() string {
	if c == nil {
		return ""
	}
	if c.ID != 0 {
		return "#" + strconv.FormatInt(c.ID, 10)
	}
	key := c.Type + "{" + c.Config.String() + "}"
	if c.Underlying != nil {
		key += "/" + c.Underlying.Key()
	}
	return key
}

// Equal reports whether c and o identify the same cloud
func (c *Cloud) Equal(o *Cloud) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.Key() == o.Key()
}

// IsOverlay is true if the cloud is stored inside another cloud
func (c *Cloud) IsOverlay() bool {
	return c.Underlying != nil
}

// String returns a description of the cloud for logging
func (c *Cloud) String() string {
	if c == nil {
		return "<nil cloud>"
	}
	if c.Name != "" {
		return c.Name
	}
	return c.Type
}
