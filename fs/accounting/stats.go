package accounting

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rclone/cloudrepo/fs"
)

// Stats holds the totals for every transfer made by this process
var Stats = NewStats()

// StatsInfo totals the transfers accounted through it
type StatsInfo struct {
	mu     sync.Mutex
	totals Totals
	active map[string]struct{}
}

// Totals is a point in time copy of a StatsInfo
type Totals struct {
	Bytes     int64         // bytes moved in either direction
	Transfers int64         // transfers which finished without error
	Errors    int64         // transfers which failed
	LastError error         // most recent failure
	Active    []string      // paths being transferred, sorted
	Elapsed   time.Duration // since the counters were last reset
	start     time.Time
}

// NewStats returns an empty StatsInfo
func NewStats() *StatsInfo {
	return &StatsInfo{
		totals: Totals{start: time.Now()},
		active: make(map[string]struct{}),
	}
}

// Snapshot returns the current totals
func (s *StatsInfo) Snapshot() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.totals
	t.Elapsed = time.Since(t.start)
	t.Active = make([]string, 0, len(s.active))
	for p := range s.active {
		t.Active = append(t.Active, p)
	}
	sort.Strings(t.Active)
	return t
}

// Reset zeroes the counters and restarts the clock
func (s *StatsInfo) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals = Totals{start: time.Now()}
	s.active = make(map[string]struct{})
}

// String summarises the totals on one line
func (s *StatsInfo) String() string {
	t := s.Snapshot()
	rate := int64(0)
	if secs := t.Elapsed.Seconds(); secs > 0 {
		rate = int64(float64(t.Bytes) / secs)
	}
	line := fmt.Sprintf("%s (%s/s) in %d transfers, %d errors, %v",
		fs.SizeSuffix(t.Bytes).ByteUnit(), fs.SizeSuffix(rate).ByteUnit(),
		t.Transfers, t.Errors, t.Elapsed.Truncate(time.Second/10))
	if len(t.Active) > 0 {
		line += ", transferring " + strings.Join(t.Active, ", ")
	}
	return line
}

// Bytes adds n to the bytes moved
func (s *StatsInfo) Bytes(n int64) {
	s.mu.Lock()
	s.totals.Bytes += n
	s.mu.Unlock()
}

// Transferring marks path as in progress
func (s *StatsInfo) Transferring(path string) {
	s.mu.Lock()
	s.active[path] = struct{}{}
	s.mu.Unlock()
}

// DoneTransferring marks path as finished, counting it as a transfer
// if err is nil or as an error otherwise
func (s *StatsInfo) DoneTransferring(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, path)
	if err != nil {
		s.totals.Errors++
		s.totals.LastError = err
		return
	}
	s.totals.Transfers++
}
