// Package chunk plans the time windows tried when identifying a track
// around a timestamp.
package chunk

import (
	"fmt"
	"time"

	"trackid/pkg/utils"
)

const (
	// Lead is how much audio before the timestamp every window includes.
	Lead = 10 * time.Second
	// Trail is how much audio after the timestamp the first window includes.
	Trail = 20 * time.Second
	// Step is how much each further window extends past the previous one.
	Step = 20 * time.Second
)

// Window is an absolute time range of the source audio.
type Window struct {
	Index int // zero-based, smallest window first
	Start time.Duration
	End   time.Duration
}

// Duration returns the length of the window.
func (w Window) Duration() time.Duration {
	return w.End - w.Start
}

func (w Window) String() string {
	return fmt.Sprintf("chunk %d: %s-%s", w.Index, utils.FormatTimestamp(w.Start), utils.FormatTimestamp(w.End))
}

// Plan returns count nested windows around center, smallest first.
// Every window starts Lead before center (clamped at zero) and window i
// ends Trail + Step*(i-1) after it: 30s, 50s, 70s, ... of audio.
func Plan(center time.Duration, count int) ([]Window, error) {
	if count < 1 {
		return nil, fmt.Errorf("chunk count must be at least 1, got %d", count)
	}
	if center < 0 {
		return nil, fmt.Errorf("timestamp cannot be negative: %s", center)
	}

	start := center - Lead
	if start < 0 {
		start = 0
	}

	windows := make([]Window, count)
	for i := range windows {
		windows[i] = Window{
			Index: i,
			Start: start,
			End:   center + Trail + Step*time.Duration(i),
		}
	}
	return windows, nil
}

// Span returns the window covering all of windows.
func Span(windows []Window) Window {
	if len(windows) == 0 {
		return Window{}
	}
	span := windows[0]
	for _, w := range windows[1:] {
		if w.Start < span.Start {
			span.Start = w.Start
		}
		if w.End > span.End {
			span.End = w.End
		}
	}
	span.Index = 0
	return span
}

// ClampToLength trims windows to a known track length. Windows starting at
// or past the end are dropped, and windows that would only repeat the
// previous (already clamped) range are dropped too.
func ClampToLength(windows []Window, length time.Duration) []Window {
	if length <= 0 {
		return windows
	}

	var out []Window
	for _, w := range windows {
		if w.Start >= length {
			break
		}
		if w.End > length {
			w.End = length
		}
		if n := len(out); n > 0 && out[n-1].End >= w.End {
			break
		}
		w.Index = len(out)
		out = append(out, w)
	}
	return out
}
