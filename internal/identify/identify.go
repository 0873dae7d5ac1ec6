// Package identify drives track identification: it walks the planned
// windows smallest first and, for each one, asks every configured provider
// in priority order until one of them recognizes the audio.
//
// Providers and audio sources are defined here as interfaces and
// implemented elsewhere (internal/provider/..., internal/audio).
package identify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"trackid/internal/chunk"
)

// Track is a matched track as reported by a provider.
type Track struct {
	Title   string  `json:"title"`
	Artist  string  `json:"artist"`
	Album   string  `json:"album,omitempty"` // empty when the provider does not know it
	Service string  `json:"service"`         // name of the provider that matched
	URL     string  `json:"url,omitempty"`   // empty when the provider does not link one
	Score   float64 `json:"score,omitempty"`
}

// Segment is a locally accessible audio file covering one window.
// It is owned by a single run and released once its providers have been tried.
type Segment struct {
	Path   string
	Window chunk.Window

	release  func() error
	released sync.Once
	err      error
}

// NewSegment wraps path as a segment. release may be nil when there is
// nothing to clean up (a caller-owned file, or kept downloads).
func NewSegment(path string, w chunk.Window, release func() error) *Segment {
	return &Segment{Path: path, Window: w, release: release}
}

// Release frees the segment's temporary storage. Calling it more than
// once is harmless.
func (s *Segment) Release() error {
	if s == nil {
		return nil
	}
	s.released.Do(func() {
		if s.release != nil {
			s.err = s.release()
		}
	})
	return s.err
}

// Source materializes audio windows from a local file or remote URL.
type Source interface {
	Materialize(ctx context.Context, w chunk.Window) (*Segment, error)
}

// Provider is an external fingerprint-matching service.
// Identify returns (nil, nil) when the service found no match.
type Provider interface {
	Name() string
	Identify(ctx context.Context, seg *Segment) (*Track, error)
}

// Request is one (source, window) pair handed to hooks.
type Request struct {
	Source Source
	Window chunk.Window
}

// Outcome of a single provider attempt
type Outcome int

const (
	OutcomeMatched Outcome = iota
	OutcomeNoMatch
	OutcomeProviderError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatched:
		return "matched"
	case OutcomeNoMatch:
		return "no_match"
	case OutcomeProviderError:
		return "error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Attempt records one provider query on one window.
type Attempt struct {
	Window   chunk.Window
	Provider string
	Outcome  Outcome
	Err      error
}

// Result is the terminal value of a run that was not aborted.
// Track is nil when every window and provider was exhausted.
type Result struct {
	Track          *Track
	Window         chunk.Window // window that produced the match
	SegmentPath    string       // matched segment, only meaningful when downloads are kept
	Attempts       []Attempt
	ProviderErrors []*ProviderError
}

// Matched reports whether a provider recognized the track.
func (r *Result) Matched() bool {
	return r != nil && r.Track != nil
}

// AllProvidersFailed reports whether the search ended without a match and
// every attempt was a provider error, i.e. nothing was actually checked.
func (r *Result) AllProvidersFailed() bool {
	if r == nil || r.Track != nil || len(r.Attempts) == 0 {
		return false
	}
	for _, a := range r.Attempts {
		if a.Outcome != OutcomeProviderError {
			return false
		}
	}
	return true
}

// ErrNoProviders is returned when no provider is enabled. Identification
// fails before any audio is downloaded.
var ErrNoProviders = errors.New("no identification providers available")

// DownloadError means the audio for a window could not be obtained. It
// aborts the whole run.
type DownloadError struct {
	Window chunk.Window
	Err    error
}

func (e *DownloadError) Error() string {
	if e.Window == (chunk.Window{}) {
		return fmt.Sprintf("failed to get audio: %v", e.Err)
	}
	return fmt.Sprintf("failed to get audio for %s: %v", e.Window, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// ProviderError is a single provider failure. The search moves on to the
// next provider.
type ProviderError struct {
	Provider string
	Window   chunk.Window
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s failed on %s: %v", e.Provider, e.Window, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
