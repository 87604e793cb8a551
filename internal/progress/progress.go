// Package progress implements the thread-safe progress reporter (§4.I):
// one Reporter instance per active video/audio stream, advanced by the
// fetcher/merger pipeline on every successful segment and rendered as a
// single overwritten status line. Grounded on
// original_source/src/downloader.rs's RichProgress/kdam column set,
// reimplemented with charmbracelet/bubbles/progress's static ViewAs
// rendering (no interactive tea.Program loop is needed for a status line
// driven by worker callbacks rather than key events) plus lipgloss
// styling for the byte-count and rate columns.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

var (
	bytesStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))  // blue
	rateStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220")) // yellow
)

// Reporter tracks and renders progress for one stream's download.
//
// The Merger lock and the Reporter lock are never held together: callers
// read Merger.Stored()/Estimate() before calling Notify, which only takes
// its own lock (§5's "never hold both locks at once" rule).
type Reporter struct {
	mu sync.Mutex

	total        int
	segmentsDone int
	storedBytes  int64
	estimateBytes int64
	startedAt    time.Time

	bar progress.Model
	out io.Writer
}

// New creates a Reporter for a stream with total segments, writing its
// status line to out.
func New(total int, out io.Writer) *Reporter {
	return &Reporter{
		total:     total,
		startedAt: time.Now(),
		bar:       progress.New(progress.WithDefaultGradient()),
		out:       out,
	}
}

// Notify records one segment's completion — stored is the Merger's
// cumulative byte count, estimate is its projected total — and renders
// the updated status line.
func (r *Reporter) Notify(stored, estimate int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.storedBytes = stored
	r.estimateBytes = estimate
	r.segmentsDone++

	fmt.Fprint(r.out, "\r"+r.renderLocked())
	if r.segmentsDone >= r.total {
		fmt.Fprintln(r.out)
	}
}

// Seed renders an initial estimate-only status line ahead of the first
// segment landing, from a HEAD/GET size probe (§11 supplemented feature —
// internal/fetcher.EstimateSegmentSize). It does not advance segmentsDone
// or storedBytes, only the projected total shown in the status line.
func (r *Reporter) Seed(estimate int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.estimateBytes = estimate
	fmt.Fprint(r.out, "\r"+r.renderLocked())
}

func (r *Reporter) renderLocked() string {
	elapsed := time.Since(r.startedAt)

	var percent float64
	if r.estimateBytes > 0 {
		percent = float64(r.storedBytes) / float64(r.estimateBytes)
	} else if r.total > 0 {
		percent = float64(r.segmentsDone) / float64(r.total)
	}
	if percent > 1 {
		percent = 1
	}

	var rate float64
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(r.storedBytes) / secs
	}

	var remaining time.Duration
	if rate > 0 && r.estimateBytes > r.storedBytes {
		remaining = time.Duration(float64(r.estimateBytes-r.storedBytes)/rate) * time.Second
	}

	return fmt.Sprintf("%s %s %3.0f%%  %d/%d segs  elapsed %s  remaining %s  %s",
		bytesStyle.Render(formatBytes(r.storedBytes)),
		r.bar.ViewAs(percent),
		percent*100,
		r.segmentsDone, r.total,
		formatDuration(elapsed),
		formatDuration(remaining),
		rateStyle.Render(formatBytes(int64(rate))+"/s"),
	)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
