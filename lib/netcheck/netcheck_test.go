package netcheck

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rclone/cloudrepo/fs/fserrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDialer struct {
	calls int32
	err   error
}

func (d *fakeDialer) dial(ctx context.Context, network, address string) (net.Conn, error) {
	atomic.AddInt32(&d.calls, 1)
	if d.err != nil {
		return nil, d.err
	}
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

func TestNoAddressAlwaysPasses(t *testing.T) {
	d := &fakeDialer{err: errors.New("down")}
	c := NewChecker("", time.Minute, time.Second, d.dial)
	assert.NoError(t, c.Check(context.Background()))
	assert.Equal(t, int32(0), d.calls)

	var nilChecker *Checker
	assert.NoError(t, nilChecker.Check(context.Background()))
}

func TestCheckUp(t *testing.T) {
	d := &fakeDialer{}
	c := NewChecker("example.com:443", time.Minute, time.Second, d.dial)
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Check(context.Background()))
	}
	assert.Equal(t, int32(1), d.calls, "answer is remembered")

	c.Forget()
	require.NoError(t, c.Check(context.Background()))
	assert.Equal(t, int32(2), d.calls)
}

func TestCheckDown(t *testing.T) {
	d := &fakeDialer{err: errors.New("no route to host")}
	c := NewChecker("example.com:443", time.Minute, time.Second, d.dial)
	err := c.Check(context.Background())
	require.Error(t, err)
	assert.True(t, fserrors.IsKind(err, fserrors.NetworkUnavailable))
	assert.Contains(t, err.Error(), "no route to host")

	// remembered until forgotten even if the network comes back
	d.err = nil
	assert.Error(t, c.Check(context.Background()))
	c.Forget()
	assert.NoError(t, c.Check(context.Background()))
}

func TestCheckExpires(t *testing.T) {
	d := &fakeDialer{}
	c := NewChecker("example.com:443", 10*time.Millisecond, time.Second, d.dial)
	require.NoError(t, c.Check(context.Background()))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Check(context.Background()))
	assert.Equal(t, int32(2), d.calls)
}

func TestCheckCancelledNotRemembered(t *testing.T) {
	d := &fakeDialer{err: context.Canceled}
	c := NewChecker("example.com:443", time.Minute, time.Second, d.dial)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Check(ctx)
	require.Error(t, err)
	assert.True(t, fserrors.IsKind(err, fserrors.Cancelled))

	d.err = nil
	assert.NoError(t, c.Check(context.Background()))
}
