package accounting

import (
	"sync"
	"time"

	"github.com/rclone/cloudrepo/fs"
)

// ThrottleInterval is the minimum time between two forwarded ticks of
// the same state
const ThrottleInterval = 40 * time.Millisecond

// Throttle is a ProgressListener which drops ticks which carry no
// news.
//
// A tick is forwarded if its state differs from the last forwarded
// tick. Otherwise it is forwarded only if ThrottleInterval has passed
// since the last forwarded tick and the percentage changed. For
// transfers of unknown size the byte count stands in for the
// percentage.
type Throttle struct {
	mu        sync.Mutex
	sink      fs.ProgressListener
	interval  time.Duration
	now       func() time.Time
	last      fs.Progress
	lastTime  time.Time
	forwarded bool
}

// NewThrottle wraps sink
func NewThrottle(sink fs.ProgressListener) *Throttle {
	if sink == nil {
		sink = fs.NoProgress
	}
	return &Throttle{
		sink:     sink,
		interval: ThrottleInterval,
		now:      time.Now,
	}
}

// changed reports whether p is worth forwarding after t.last
//
// call with mu held
func (t *Throttle) changed(p fs.Progress, now time.Time) bool {
	if !t.forwarded || p.State != t.last.State {
		return true
	}
	if now.Sub(t.lastTime) < t.interval {
		return false
	}
	pc, lastPc := p.Percentage(), t.last.Percentage()
	if pc < 0 || lastPc < 0 {
		return p.Done != t.last.Done
	}
	return pc != lastPc
}

// OnProgress forwards p to the sink if it carries news
func (t *Throttle) OnProgress(p fs.Progress) {
	t.mu.Lock()
	now := t.now()
	if !t.changed(p, now) {
		t.mu.Unlock()
		return
	}
	t.last, t.lastTime, t.forwarded = p, now, true
	t.mu.Unlock()
	t.sink.OnProgress(p)
}

// check interface
var _ fs.ProgressListener = (*Throttle)(nil)
