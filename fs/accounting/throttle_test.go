package accounting

import (
	"testing"
	"time"

	"github.com/rclone/cloudrepo/fs"
	"github.com/stretchr/testify/assert"
)

// fakeClock is a settable clock for the throttle
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestThrottle() (*Throttle, *fakeClock, *[]fs.Progress) {
	var got []fs.Progress
	th := NewThrottle(fs.ProgressFunc(func(p fs.Progress) {
		got = append(got, p)
	}))
	clock := &fakeClock{t: time.Unix(1e9, 0)}
	th.now = clock.now
	return th, clock, &got
}

func tick(state fs.ProgressState, done, total int64) fs.Progress {
	return fs.Progress{Kind: fs.Upload, Path: "/file", State: state, Done: done, Total: total}
}

func TestThrottleSamePercentageWithinInterval(t *testing.T) {
	th, _, got := newTestThrottle()
	for i := 0; i < 100; i++ {
		th.OnProgress(tick(fs.Running, 10, 100))
	}
	assert.Len(t, *got, 1)
}

func TestThrottleStartedThenCompleted(t *testing.T) {
	th, _, got := newTestThrottle()
	th.OnProgress(tick(fs.Started, 0, 100))
	th.OnProgress(tick(fs.Completed, 100, 100))
	assert.Equal(t, []fs.Progress{tick(fs.Started, 0, 100), tick(fs.Completed, 100, 100)}, *got)
}

func TestThrottleInterval(t *testing.T) {
	th, clock, got := newTestThrottle()
	th.OnProgress(tick(fs.Running, 10, 100))

	// percentage changed but too soon
	clock.advance(ThrottleInterval / 2)
	th.OnProgress(tick(fs.Running, 20, 100))
	assert.Len(t, *got, 1)

	// late enough but the percentage didn't change
	clock.advance(ThrottleInterval)
	th.OnProgress(tick(fs.Running, 10, 100))
	assert.Len(t, *got, 1)

	// late enough and changed
	th.OnProgress(tick(fs.Running, 30, 100))
	assert.Len(t, *got, 2)

	// the interval counts from the last forwarded tick
	clock.advance(ThrottleInterval - time.Millisecond)
	th.OnProgress(tick(fs.Running, 40, 100))
	assert.Len(t, *got, 2)
	clock.advance(time.Millisecond)
	th.OnProgress(tick(fs.Running, 40, 100))
	assert.Len(t, *got, 3)
}

func TestThrottleUnknownSize(t *testing.T) {
	th, clock, got := newTestThrottle()
	th.OnProgress(tick(fs.Running, 10, -1))
	clock.advance(ThrottleInterval)
	th.OnProgress(tick(fs.Running, 10, -1))
	assert.Len(t, *got, 1)
	th.OnProgress(tick(fs.Running, 11, -1))
	assert.Len(t, *got, 2)
}

func TestThrottleNilSink(t *testing.T) {
	th := NewThrottle(nil)
	th.OnProgress(tick(fs.Started, 0, 0))
}
