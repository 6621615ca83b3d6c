package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"gossipsim/internal/sim"
)

const defaultWidth = 80

// progressBar redraws a one-line bar each time the completed percentage
// changes.
type progressBar struct {
	sim.NopObserver
	w     io.Writer
	fd    int
	total int
	shown int
}

func newProgressBar(f *os.File, total int) *progressBar {
	return &progressBar{w: f, fd: int(f.Fd()), total: total, shown: -1}
}

func (p *progressBar) OnTimestep(t int) {
	if p.total <= 0 {
		return
	}
	pct := (t + 1) * 100 / p.total
	if pct == p.shown {
		return
	}
	p.shown = pct
	_, _ = fmt.Fprintf(p.w, "\r%s", renderBar(t+1, p.total, p.width()))
}

func (p *progressBar) OnEnd() {
	if p.shown >= 0 {
		_, _ = fmt.Fprint(p.w, "\r\033[K")
	}
}

func (p *progressBar) width() int {
	w, _, err := term.GetSize(p.fd)
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}

// renderBar returns "Simulating [####----] 50% 10/20" sized to fit width.
func renderBar(done, total, width int) string {
	done = min(max(done, 0), total)
	pct := 0
	if total > 0 {
		pct = done * 100 / total
	}
	label := "Simulating "
	tail := fmt.Sprintf(" %3d%% %d/%d", pct, done, total)
	barLen := width - len(label) - len(tail) - 2
	if barLen < 10 {
		return strings.TrimSpace(label) + tail
	}
	filled := 0
	if total > 0 {
		filled = barLen * done / total
	}
	return label + "[" + strings.Repeat("#", filled) + strings.Repeat("-", barLen-filled) + "]" + tail
}
