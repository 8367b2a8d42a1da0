package fs

import "fmt"

// TransferKind is the direction of a transfer
type TransferKind byte

// Transfer kinds
const (
	Upload TransferKind = iota
	Download
)

func (k TransferKind) String() string {
	if k == Download {
		return "download"
	}
	return "upload"
}

// ProgressState is the phase of a transfer
type ProgressState byte

// Progress states
const (
	Started ProgressState = iota
	Running
	Completed
)

func (s ProgressState) String() string {
	switch s {
	case Started:
		return "started"
	case Running:
		return "running"
	case Completed:
		return "completed"
	}
	return fmt.Sprintf("ProgressState(%d)", s)
}

// Progress is a single observation of a transfer in flight
type Progress struct {
	Kind  TransferKind
	Path  string // path of the node transferred
	State ProgressState
	Done  int64 // bytes transferred so far
	Total int64 // -1 if unknown
}

// Percentage returns the completion in percent, -1 if the total is
// unknown
func (p Progress) Percentage() int {
	switch {
	case p.State == Completed:
		return 100
	case p.Total < 0:
		return -1
	case p.Total == 0:
		return 0
	}
	pc := p.Done * 100 / p.Total
	if pc > 100 {
		pc = 100
	}
	return int(pc)
}

func (p Progress) String() string {
	if pc := p.Percentage(); pc >= 0 {
		return fmt.Sprintf("%s %s %s %d%%", p.Kind, p.Path, p.State, pc)
	}
	return fmt.Sprintf("%s %s %s %s", p.Kind, p.Path, p.State, SizeSuffix(p.Done).ByteUnit())
}

// ProgressListener receives progress of transfers
type ProgressListener interface {
	OnProgress(p Progress)
}

// ProgressFunc adapts a function into a ProgressListener
type ProgressFunc func(p Progress)

// OnProgress calls f
func (f ProgressFunc) OnProgress(p Progress) { f(p) }

// NoProgress discards all progress
var NoProgress ProgressListener = ProgressFunc(func(Progress) {})
