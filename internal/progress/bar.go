package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Bar counts provider attempts on a single terminal line. Total is an
// upper bound (windows x providers); a match finishes the bar early.
type Bar struct {
	out       io.Writer
	total     int
	current   int
	status    string
	mu        sync.Mutex
	startTime time.Time
	done      bool
}

// New creates a progress bar writing to out, normally stderr.
func New(out io.Writer, total int) *Bar {
	if total < 1 {
		total = 1
	}
	return &Bar{
		out:       out,
		total:     total,
		startTime: time.Now(),
	}
}

// SetStatus changes the text shown after the counter without advancing it.
func (b *Bar) SetStatus(status string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.status = status
	b.render()
}

// Increment records one finished attempt.
func (b *Bar) Increment(status string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current < b.total {
		b.current++
	}
	b.status = status
	b.render()
}

// Finish ends the line. The counter stays where the search stopped.
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.done {
		b.render()
		fmt.Fprintln(b.out)
		b.done = true
	}
}

func (b *Bar) render() {
	if b.done {
		return
	}

	barWidth := 20
	filled := barWidth * b.current / b.total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	fmt.Fprintf(b.out, "\r[%s] %d/%d %s - %s   ",
		bar,
		b.current,
		b.total,
		formatDuration(time.Since(b.startTime)),
		b.status,
	)
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
