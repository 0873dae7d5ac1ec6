package identify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"trackid/internal/chunk"
	"trackid/internal/logger"
	"trackid/internal/metrics"
)

// fakeSource hands out segments and records what happened to them.
type fakeSource struct {
	mu        sync.Mutex
	requested []chunk.Window
	produced  []int // windows a segment was actually returned for
	released  []int
	failOn    map[int]error
	delay     time.Duration
}

func (s *fakeSource) Materialize(ctx context.Context, w chunk.Window) (*Segment, error) {
	s.mu.Lock()
	s.requested = append(s.requested, w)
	err := s.failOn[w.Index]
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	idx := w.Index
	s.mu.Lock()
	s.produced = append(s.produced, idx)
	s.mu.Unlock()
	return NewSegment(fmt.Sprintf("chunk%02d.mp3", idx), w, func() error {
		s.mu.Lock()
		s.released = append(s.released, idx)
		s.mu.Unlock()
		return nil
	}), nil
}

func (s *fakeSource) requestedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requested)
}

func (s *fakeSource) producedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.produced)
}

func (s *fakeSource) releasedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.released)
}

// fakeProvider answers per window index.
type fakeProvider struct {
	name    string
	matchOn map[int]bool
	failOn  map[int]error
	calls   []int
	onCall  func()
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Identify(ctx context.Context, seg *Segment) (*Track, error) {
	p.calls = append(p.calls, seg.Window.Index)
	if p.onCall != nil {
		p.onCall()
	}
	if err := p.failOn[seg.Window.Index]; err != nil {
		return nil, err
	}
	if p.matchOn[seg.Window.Index] {
		return &Track{Title: "Song", Artist: "Artist", Service: p.name}, nil
	}
	return nil, nil
}

func TestFirstMatchWins(t *testing.T) {
	src := &fakeSource{}
	first := &fakeProvider{name: "first", matchOn: map[int]bool{0: true}}
	second := &fakeProvider{name: "second", matchOn: map[int]bool{0: true}}

	o := NewOrchestrator([]Provider{first, second}, logger.Discard())
	result, err := o.Identify(context.Background(), src, time.Minute, 3)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}

	if !result.Matched() {
		t.Fatal("expected a match")
	}
	if result.Track.Service != "first" {
		t.Errorf("Service = %q, want first", result.Track.Service)
	}
	if len(second.calls) != 0 {
		t.Errorf("second provider called %d times, want 0", len(second.calls))
	}
	if src.requestedCount() != 1 {
		t.Errorf("materialized %d windows, want 1", src.requestedCount())
	}
	if result.Window.Index != 0 {
		t.Errorf("matched window = %d, want 0", result.Window.Index)
	}
}

func TestMatchOnLaterWindowSkipsRemainingProviders(t *testing.T) {
	src := &fakeSource{}
	a := &fakeProvider{name: "a", matchOn: map[int]bool{1: true}}
	b := &fakeProvider{name: "b"}

	o := NewOrchestrator([]Provider{a, b}, logger.Discard())
	result, err := o.Identify(context.Background(), src, time.Minute, 5)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}

	if result.Window.Index != 1 {
		t.Errorf("matched window = %d, want 1", result.Window.Index)
	}
	// b ran on window 0 only
	if len(b.calls) != 1 || b.calls[0] != 0 {
		t.Errorf("b calls = %v, want [0]", b.calls)
	}
	if src.requestedCount() != 2 {
		t.Errorf("materialized %d windows, want 2", src.requestedCount())
	}
	if len(result.Attempts) != 3 {
		t.Errorf("attempts = %d, want 3", len(result.Attempts))
	}
}

func TestProviderErrorFallsThrough(t *testing.T) {
	src := &fakeSource{}
	broken := &fakeProvider{name: "broken", failOn: map[int]error{0: errors.New("HTTP 500")}}
	working := &fakeProvider{name: "working", matchOn: map[int]bool{0: true}}

	o := NewOrchestrator([]Provider{broken, working}, logger.Discard())
	result, err := o.Identify(context.Background(), src, time.Minute, 1)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}

	if !result.Matched() || result.Track.Service != "working" {
		t.Fatalf("expected match from working, got %+v", result.Track)
	}
	if len(result.ProviderErrors) != 1 || result.ProviderErrors[0].Provider != "broken" {
		t.Errorf("ProviderErrors = %v", result.ProviderErrors)
	}
	if result.Attempts[0].Outcome != OutcomeProviderError {
		t.Errorf("first attempt outcome = %v, want error", result.Attempts[0].Outcome)
	}
}

func TestDownloadErrorAborts(t *testing.T) {
	src := &fakeSource{failOn: map[int]error{1: errors.New("HTTP 403")}}
	p := &fakeProvider{name: "p"}

	o := NewOrchestrator([]Provider{p}, logger.Discard())
	result, err := o.Identify(context.Background(), src, time.Minute, 4)
	if result != nil {
		t.Errorf("expected nil result, got %+v", result)
	}

	var dlErr *DownloadError
	if !errors.As(err, &dlErr) {
		t.Fatalf("error = %v, want *DownloadError", err)
	}
	if dlErr.Window.Index != 1 {
		t.Errorf("failed window = %d, want 1", dlErr.Window.Index)
	}
	if src.requestedCount() != 2 {
		t.Errorf("materialized %d windows, want 2", src.requestedCount())
	}
	if len(p.calls) != 1 {
		t.Errorf("provider calls = %d, want 1", len(p.calls))
	}
}

func TestSingleChunkNoMatchThenMatch(t *testing.T) {
	src := &fakeSource{}
	shazam := &fakeProvider{name: "shazam"}
	acr := &fakeProvider{name: "acrcloud", matchOn: map[int]bool{0: true}}

	center := time.Hour + 29*time.Minute + 10*time.Second
	o := NewOrchestrator([]Provider{shazam, acr}, logger.Discard())
	result, err := o.Identify(context.Background(), src, center, 1)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}

	if result.Track.Service != "acrcloud" {
		t.Errorf("Service = %q, want acrcloud", result.Track.Service)
	}
	if got := src.requested[0].String(); got != "chunk 0: 1:29:00-1:29:30" {
		t.Errorf("window = %q", got)
	}
	if len(shazam.calls) != 1 || len(acr.calls) != 1 {
		t.Errorf("calls shazam=%d acrcloud=%d, want 1 each", len(shazam.calls), len(acr.calls))
	}
}

func TestNoMatchExhaustsEverything(t *testing.T) {
	src := &fakeSource{}
	a := &fakeProvider{name: "a", failOn: map[int]error{0: errors.New("boom"), 1: errors.New("boom")}}
	b := &fakeProvider{name: "b", failOn: map[int]error{0: errors.New("boom"), 1: errors.New("boom")}}

	o := NewOrchestrator([]Provider{a, b}, logger.Discard())
	result, err := o.Identify(context.Background(), src, time.Minute, 2)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}

	if result.Matched() {
		t.Fatal("expected no match")
	}
	if len(result.Attempts) != 4 {
		t.Errorf("attempts = %d, want 4", len(result.Attempts))
	}
	if len(result.ProviderErrors) != 4 {
		t.Errorf("provider errors = %d, want 4", len(result.ProviderErrors))
	}
	if !result.AllProvidersFailed() {
		t.Error("AllProvidersFailed() = false, want true")
	}
}

func TestEmptyProvidersFailsBeforeDownload(t *testing.T) {
	src := &fakeSource{}

	o := NewOrchestrator(nil, logger.Discard())
	_, err := o.Identify(context.Background(), src, time.Minute, 3)
	if !errors.Is(err, ErrNoProviders) {
		t.Fatalf("error = %v, want ErrNoProviders", err)
	}
	if src.requestedCount() != 0 {
		t.Errorf("source called %d times, want 0", src.requestedCount())
	}
}

func TestSegmentsReleasedOnEveryPath(t *testing.T) {
	tests := []struct {
		name     string
		provider *fakeProvider
		source   *fakeSource
		chunks   int
		released int
	}{
		{
			name:     "match on second window",
			provider: &fakeProvider{name: "p", matchOn: map[int]bool{1: true}},
			source:   &fakeSource{},
			chunks:   3,
			released: 2,
		},
		{
			name:     "no match",
			provider: &fakeProvider{name: "p"},
			source:   &fakeSource{},
			chunks:   3,
			released: 3,
		},
		{
			name:     "download error",
			provider: &fakeProvider{name: "p"},
			source:   &fakeSource{failOn: map[int]error{2: errors.New("gone")}},
			chunks:   3,
			released: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOrchestrator([]Provider{tt.provider}, logger.Discard())
			o.Identify(context.Background(), tt.source, time.Minute, tt.chunks)

			if got := tt.source.releasedCount(); got != tt.released {
				t.Errorf("released %d segments, want %d", got, tt.released)
			}
		})
	}
}

func TestCancellationStopsBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{}
	first := &fakeProvider{name: "first", onCall: cancel}
	second := &fakeProvider{name: "second", matchOn: map[int]bool{0: true}}

	o := NewOrchestrator([]Provider{first, second}, logger.Discard())
	_, err := o.Identify(ctx, src, time.Minute, 3)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(second.calls) != 0 {
		t.Errorf("second provider called after cancel")
	}
	if src.releasedCount() != 1 {
		t.Errorf("released %d segments, want 1", src.releasedCount())
	}
}

func TestHooksFollowAttempts(t *testing.T) {
	var windows []int
	var outcomes []Outcome
	hooks := Hooks{
		OnWindow:  func(req Request) { windows = append(windows, req.Window.Index) },
		OnAttempt: func(a Attempt) { outcomes = append(outcomes, a.Outcome) },
	}

	p := &fakeProvider{name: "p", matchOn: map[int]bool{1: true}}
	o := NewOrchestrator([]Provider{p}, logger.Discard(), WithHooks(hooks))
	if _, err := o.Identify(context.Background(), &fakeSource{}, time.Minute, 3); err != nil {
		t.Fatalf("Identify() error = %v", err)
	}

	if len(windows) != 2 || windows[0] != 0 || windows[1] != 1 {
		t.Errorf("windows = %v, want [0 1]", windows)
	}
	if len(outcomes) != 2 || outcomes[0] != OutcomeNoMatch || outcomes[1] != OutcomeMatched {
		t.Errorf("outcomes = %v", outcomes)
	}
}

func TestMetricsRecorded(t *testing.T) {
	m, err := metrics.New(nil)
	if err != nil {
		t.Fatal(err)
	}

	p := &fakeProvider{name: "p"}
	o := NewOrchestrator([]Provider{p}, logger.Discard(), WithMetrics(m))
	if _, err := o.Identify(context.Background(), &fakeSource{}, time.Minute, 2); err != nil {
		t.Fatalf("Identify() error = %v", err)
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "trackid_runs_total" {
			found = true
		}
	}
	if !found {
		t.Error("trackid_runs_total not gathered")
	}
}

func TestIdentifySegment(t *testing.T) {
	p := &fakeProvider{name: "p", matchOn: map[int]bool{0: true}}
	released := false
	seg := NewSegment("whole.mp3", chunk.Window{}, func() error {
		released = true
		return nil
	})

	o := NewOrchestrator([]Provider{p}, logger.Discard())
	result, err := o.IdentifySegment(context.Background(), seg)
	if err != nil {
		t.Fatalf("IdentifySegment() error = %v", err)
	}
	if !result.Matched() {
		t.Fatal("expected a match")
	}
	if result.SegmentPath != "whole.mp3" {
		t.Errorf("SegmentPath = %q", result.SegmentPath)
	}
	if released {
		t.Error("caller-owned segment was released")
	}
}

func TestPrefetchKeepsWindowOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{delay: 5 * time.Millisecond}
	p := &fakeProvider{name: "p", matchOn: map[int]bool{2: true}}

	o := NewOrchestrator([]Provider{p}, logger.Discard(), WithPrefetch(true))
	result, err := o.Identify(context.Background(), src, time.Minute, 5)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}

	if result.Window.Index != 2 {
		t.Errorf("matched window = %d, want 2", result.Window.Index)
	}
	for i, idx := range p.calls {
		if idx != i {
			t.Fatalf("provider calls = %v, want ascending windows", p.calls)
		}
	}
	// window 3 may have been prefetched, or cancelled before producing a
	// segment; every segment that was produced is released
	if src.producedCount() < 3 {
		t.Errorf("produced %d segments, want at least 3", src.producedCount())
	}
	if src.releasedCount() != src.producedCount() {
		t.Errorf("released %d of %d segments", src.releasedCount(), src.producedCount())
	}
}

func TestPrefetchErrorSurfacesAtItsWindow(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{failOn: map[int]error{1: errors.New("HTTP 404")}}
	p := &fakeProvider{name: "p", matchOn: map[int]bool{0: true}}

	o := NewOrchestrator([]Provider{p}, logger.Discard(), WithPrefetch(true))
	result, err := o.Identify(context.Background(), src, time.Minute, 3)
	if err != nil {
		t.Fatalf("Identify() error = %v, want match on window 0", err)
	}
	if result.Window.Index != 0 {
		t.Errorf("matched window = %d, want 0", result.Window.Index)
	}
}

func TestPrefetchCancelledRunLeaksNothing(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{delay: 50 * time.Millisecond}
	p := &fakeProvider{name: "p", onCall: cancel}

	o := NewOrchestrator([]Provider{p}, logger.Discard(), WithPrefetch(true))
	_, err := o.Identify(ctx, src, time.Minute, 5)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if src.releasedCount() != 1 {
		t.Errorf("released %d segments, want 1", src.releasedCount())
	}
}

func TestDownloadErrorMessage(t *testing.T) {
	cause := errors.New("no such file")
	tests := []struct {
		name string
		err  *DownloadError
		want string
	}{
		{"no window", &DownloadError{Err: cause}, "failed to get audio: no such file"},
		{"window", &DownloadError{Window: chunk.Window{Index: 1, Start: 80 * time.Second, End: 130 * time.Second}, Err: cause},
			"failed to get audio for chunk 1: 1:20-2:10: no such file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if !errors.Is(tt.err, cause) {
				t.Error("cause not unwrapped")
			}
		})
	}
}
