package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/mattn/go-isatty"
)

// progressInterval limits how often a terminal bar is redrawn.
const progressInterval = 250 * time.Millisecond

// CLIBatchProgress prints commit progress to stderr. On a terminal it
// redraws one bar in place; otherwise it writes a line per chunk.
type CLIBatchProgress struct {
	w         io.Writer
	bar       *progress.Model // nil unless w is a terminal
	total     int
	startTime time.Time
	lastDraw  time.Time
}

func newCLIBatchProgress(w io.Writer) *CLIBatchProgress {
	p := &CLIBatchProgress{w: w}
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(30))
		p.bar = &bar
	}
	return p
}

func (p *CLIBatchProgress) OnStart(description string, total int) {
	p.total = total
	p.startTime = time.Now()
	p.lastDraw = time.Time{}
	fmt.Fprintf(p.w, "%s...\n", description)
}

func (p *CLIBatchProgress) OnProgress(processed, succeeded, failed int) {
	if p.startTime.IsZero() {
		p.startTime = time.Now()
	}
	if p.total <= 0 {
		return
	}

	status := fmt.Sprintf("%d/%d", processed, p.total)
	if failed > 0 {
		status += fmt.Sprintf(" (%d failed)", failed)
	}
	if p.bar == nil {
		fmt.Fprintf(p.w, "  %s\n", status)
		return
	}
	if processed < p.total && time.Since(p.lastDraw) < progressInterval {
		return
	}
	p.lastDraw = time.Now()
	fmt.Fprintf(p.w, "\r\033[K  %s  %s", p.bar.ViewAs(float64(processed)/float64(p.total)), status)
}

func (p *CLIBatchProgress) OnComplete(succeeded, failed int) {
	if p.startTime.IsZero() {
		p.startTime = time.Now()
	}
	if p.bar != nil {
		fmt.Fprint(p.w, "\r\033[K")
	}
	elapsed := formatDuration(time.Since(p.startTime))
	if failed == 0 {
		fmt.Fprintf(p.w, "  Done: %d succeeded in %s\n", succeeded, elapsed)
		return
	}
	fmt.Fprintf(p.w, "  Done: %d succeeded, %d failed in %s\n", succeeded, failed, elapsed)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}
