package identify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trackid/internal/chunk"
	"trackid/internal/logger"
	"trackid/internal/metrics"
)

// Hooks lets callers follow a run, e.g. to drive a progress bar.
type Hooks struct {
	// OnWindow is called when a window's segment is ready, before its providers run.
	OnWindow func(req Request)
	// OnAttempt is called after every provider query.
	OnAttempt func(a Attempt)
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithPrefetch makes the orchestrator materialize window i+1 while the
// providers for window i are still being queried.
func WithPrefetch(enabled bool) Option {
	return func(o *Orchestrator) { o.prefetch = enabled }
}

// WithMetrics records attempts, segments and runs on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithHooks installs progress callbacks.
func WithHooks(h Hooks) Option {
	return func(o *Orchestrator) { o.hooks = h }
}

// Orchestrator searches windows (outer loop) and providers (inner loop)
// sequentially and stops at the first match.
type Orchestrator struct {
	providers []Provider
	logger    *logger.Logger
	metrics   *metrics.Metrics
	hooks     Hooks
	prefetch  bool
}

// NewOrchestrator creates an Orchestrator querying providers in the given order.
func NewOrchestrator(providers []Provider, log *logger.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{providers: providers, logger: log}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Identify plans chunks windows around center and searches them.
func (o *Orchestrator) Identify(ctx context.Context, src Source, center time.Duration, chunks int) (*Result, error) {
	if len(o.providers) == 0 {
		o.metrics.RecordRun(metrics.RunConfigError)
		return nil, ErrNoProviders
	}

	windows, err := chunk.Plan(center, chunks)
	if err != nil {
		return nil, err
	}
	return o.IdentifyWindows(ctx, src, windows)
}

// IdentifyWindows searches the given windows, smallest first. A window
// whose audio cannot be obtained aborts the run with a *DownloadError.
// Without a match the result carries every provider error seen.
func (o *Orchestrator) IdentifyWindows(ctx context.Context, src Source, windows []chunk.Window) (*Result, error) {
	if len(o.providers) == 0 {
		o.metrics.RecordRun(metrics.RunConfigError)
		return nil, ErrNoProviders
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("no audio windows to identify")
	}

	o.logger.Info("Trying %d chunk(s) with %s...", len(windows), o.providerNames())

	result := &Result{}
	var next *pendingSegment
	defer func() {
		if next != nil {
			next.discard()
		}
	}()

	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return nil, o.cancelled(err)
		}

		var seg *Segment
		var err error
		if next != nil {
			seg, err = next.wait()
			next = nil
		} else {
			seg, err = o.materialize(ctx, src, w)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, o.cancelled(ctx.Err())
			}
			o.metrics.RecordRun(metrics.RunDownloadError)
			return nil, &DownloadError{Window: w, Err: err}
		}

		if o.prefetch && i+1 < len(windows) {
			next = o.startPrefetch(ctx, src, windows[i+1])
		}

		if o.hooks.OnWindow != nil {
			o.hooks.OnWindow(Request{Source: src, Window: w})
		}

		track, err := o.tryProviders(ctx, seg, result)
		if relErr := seg.Release(); relErr != nil {
			o.logger.Warn("Failed to remove %s: %v", seg.Path, relErr)
		}
		if err != nil {
			return nil, o.cancelled(err)
		}

		if track != nil {
			o.logger.Info("Chunk %d: match found", w.Index)
			result.Track = track
			result.Window = w
			result.SegmentPath = seg.Path
			o.metrics.RecordRun(metrics.RunMatched)
			return result, nil
		}
		o.logger.Info("Chunk %d: no match", w.Index)
	}

	o.metrics.RecordRun(metrics.RunNoMatch)
	return result, nil
}

// IdentifySegment runs the providers on a single caller-owned segment,
// for instance a whole local file. The segment is not released.
func (o *Orchestrator) IdentifySegment(ctx context.Context, seg *Segment) (*Result, error) {
	if len(o.providers) == 0 {
		o.metrics.RecordRun(metrics.RunConfigError)
		return nil, ErrNoProviders
	}

	o.logger.Info("Identifying with %s...", o.providerNames())

	result := &Result{}
	track, err := o.tryProviders(ctx, seg, result)
	if err != nil {
		return nil, o.cancelled(err)
	}
	if track != nil {
		result.Track = track
		result.Window = seg.Window
		result.SegmentPath = seg.Path
		o.metrics.RecordRun(metrics.RunMatched)
		return result, nil
	}

	o.metrics.RecordRun(metrics.RunNoMatch)
	return result, nil
}

// tryProviders queries every provider on seg in priority order and returns
// the first match. Provider errors are recorded and skipped; the only
// error returned is cancellation.
func (o *Orchestrator) tryProviders(ctx context.Context, seg *Segment, result *Result) (*Track, error) {
	for _, p := range o.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := p.Name()
		start := time.Now()
		track, err := p.Identify(ctx, seg)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}

		attempt := Attempt{Window: seg.Window, Provider: name}
		switch {
		case err != nil:
			attempt.Outcome = OutcomeProviderError
			attempt.Err = err
			result.ProviderErrors = append(result.ProviderErrors, &ProviderError{Provider: name, Window: seg.Window, Err: err})
			o.logger.Warn("%s failed on chunk %d: %v", name, seg.Window.Index, err)
		case track == nil:
			attempt.Outcome = OutcomeNoMatch
			o.logger.Debug("%s: no match on chunk %d", name, seg.Window.Index)
		default:
			attempt.Outcome = OutcomeMatched
			o.logger.Debug("%s: matched %s - %s on chunk %d", name, track.Artist, track.Title, seg.Window.Index)
		}

		result.Attempts = append(result.Attempts, attempt)
		o.metrics.RecordAttempt(name, attempt.Outcome.String(), time.Since(start))
		if o.hooks.OnAttempt != nil {
			o.hooks.OnAttempt(attempt)
		}

		if attempt.Outcome == OutcomeMatched {
			return track, nil
		}
	}
	return nil, nil
}

func (o *Orchestrator) materialize(ctx context.Context, src Source, w chunk.Window) (*Segment, error) {
	start := time.Now()
	seg, err := src.Materialize(ctx, w)
	o.metrics.RecordSegment(err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}
	o.logger.Debug("Materialized %s: %s", w, seg.Path)
	return seg, nil
}

func (o *Orchestrator) cancelled(err error) error {
	o.metrics.RecordRun(metrics.RunCancelled)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("identification cancelled: %w", err)
	}
	return err
}

func (o *Orchestrator) providerNames() string {
	var s string
	for i, p := range o.providers {
		if i > 0 {
			s += ", "
		}
		s += p.Name()
	}
	return s
}

// pendingSegment is a window being materialized in the background.
type pendingSegment struct {
	cancel context.CancelFunc
	done   chan struct{}
	seg    *Segment
	err    error
}

func (o *Orchestrator) startPrefetch(ctx context.Context, src Source, w chunk.Window) *pendingSegment {
	pctx, cancel := context.WithCancel(ctx)
	p := &pendingSegment{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		p.seg, p.err = o.materialize(pctx, src, w)
	}()
	return p
}

// wait blocks until the prefetch finished and hands over its segment.
func (p *pendingSegment) wait() (*Segment, error) {
	<-p.done
	p.cancel()
	return p.seg, p.err
}

// discard stops an unneeded prefetch and releases whatever it produced.
func (p *pendingSegment) discard() {
	p.cancel()
	<-p.done
	if p.seg != nil {
		p.seg.Release()
	}
}
