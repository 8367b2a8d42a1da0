// Package netcheck decides whether the network is plausibly up before
// an operation is sent to a remote backend.
//
// The answer is a cheap TCP dial to a configured address, remembered
// for a short while so a burst of operations costs one probe.
package netcheck

import (
	"context"
	"net"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/fserrors"
	"github.com/rclone/cloudrepo/fs/fshttp"
	"golang.org/x/sync/singleflight"
)

// DialFunc opens a connection, net.Dialer.DialContext is one
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

const probeKey = "probe"

// probe is the remembered outcome of a dial
type probe struct {
	err error
}

// Checker probes connectivity
type Checker struct {
	address string
	timeout time.Duration
	dial    DialFunc
	results *cache.Cache
	group   singleflight.Group
}

// New makes a Checker from the config in ctx. An empty
// NetCheckAddress makes a Checker which always passes.
func New(ctx context.Context) *Checker {
	ci := fs.GetConfig(ctx)
	return NewChecker(ci.NetCheckAddress, ci.NetCheckTTL, ci.ConnectTimeout, fshttp.NewDialer(ctx).DialContext)
}

// NewChecker makes a Checker dialling address with dial, remembering
// each answer for ttl
func NewChecker(address string, ttl, timeout time.Duration, dial DialFunc) *Checker {
	return &Checker{
		address: address,
		timeout: timeout,
		dial:    dial,
		results: cache.New(ttl, -1),
	}
}

// Check returns nil if the network looks usable and a
// NetworkUnavailable error if not
func (c *Checker) Check(ctx context.Context) error {
	if c == nil || c.address == "" {
		return nil
	}
	if x, found := c.results.Get(probeKey); found {
		return x.(probe).err
	}
	v, _, _ := c.group.Do(probeKey, func() (interface{}, error) {
		p := c.probe(ctx)
		if !fserrors.IsCancelled(p.err) {
			c.results.SetDefault(probeKey, p)
		}
		return p, nil
	})
	return v.(probe).err
}

// probe dials the address once
func (c *Checker) probe(ctx context.Context) probe {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	conn, err := c.dial(ctx, "tcp", c.address)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return probe{err: fserrors.Kinded(fserrors.Cancelled, ctx.Err())}
		}
		fs.Debugf(nil, "network check: %s unreachable: %v", c.address, err)
		return probe{err: fserrors.Kinded(fserrors.NetworkUnavailable, errors.Wrapf(err, "can't reach %s", c.address))}
	}
	_ = conn.Close()
	return probe{}
}

// Forget drops the remembered answer so the next Check probes again
func (c *Checker) Forget() {
	if c == nil {
		return
	}
	c.results.Flush()
}
