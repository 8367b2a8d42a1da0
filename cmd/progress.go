// Show the dynamic progress line

package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rclone/cloudrepo/fs"
)

// progressPrinter rewrites a single terminal line with the state of
// the current transfer
type progressPrinter struct {
	mu    sync.Mutex
	out   io.Writer
	width int // length of the line currently shown
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out}
}

// OnProgress shows p, ending the line once the transfer completes
func (p *progressPrinter) OnProgress(pr fs.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	line := pr.String()
	pad := ""
	if n := p.width - len(line); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	_, _ = fmt.Fprintf(p.out, "\r%s%s", line, pad)
	p.width = len(line)
	if pr.State == fs.Completed {
		_, _ = fmt.Fprintln(p.out)
		p.width = 0
	}
}

// check interface
var _ fs.ProgressListener = (*progressPrinter)(nil)
