// Package app wires configuration, audio sources and providers into one
// identification run. The CLI and the HTTP server both go through Runner.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"trackid/internal/audio"
	"trackid/internal/chunk"
	"trackid/internal/config"
	"trackid/internal/identify"
	"trackid/internal/logger"
	"trackid/internal/metrics"
	"trackid/internal/provider"
	"trackid/pkg/utils"
)

// ErrTimestampRequired is returned for URLs without a timestamp; remote
// sources are never downloaded whole.
var ErrTimestampRequired = errors.New("--time is required for URLs")

// Request describes what to identify.
type Request struct {
	Source       string        `json:"source"`
	Timestamp    time.Duration `json:"-"`
	HasTimestamp bool          `json:"-"`
	Chunks       int           `json:"chunks"`
}

// Runner performs identification runs with a fixed configuration.
type Runner struct {
	Config  config.Config
	Logger  *logger.Logger
	Metrics *metrics.Metrics

	// Registrations builds the provider registrations; provider.Registrations when nil.
	Registrations func(config.Config) []identify.Registration

	// RegisterCleanup, when set, is handed the removal of a run's temp dir
	// so an interrupt still cleans up. It returns a func that unregisters it.
	RegisterCleanup func(func()) (remove func())
}

// NewRunner creates a Runner for cfg.
func NewRunner(cfg config.Config, log *logger.Logger, m *metrics.Metrics) *Runner {
	return &Runner{Config: cfg, Logger: log, Metrics: m}
}

// Run identifies req. It fails with identify.ErrNoProviders before touching
// the source when no provider is usable.
func (r *Runner) Run(ctx context.Context, req Request, hooks identify.Hooks) (*identify.Result, error) {
	cfg := r.Config
	log := r.logger()

	providers, err := r.Providers()
	if err != nil {
		r.Metrics.RecordRun(metrics.RunConfigError)
		return nil, err
	}

	isURL := utils.IsURL(req.Source)
	if isURL && !req.HasTimestamp {
		r.Metrics.RecordRun(metrics.RunConfigError)
		return nil, ErrTimestampRequired
	}
	chunks := config.ClampChunks(req.Chunks)

	workDir, keep, cleanup, err := prepareWorkDir(cfg)
	if err != nil {
		return nil, err
	}
	var once sync.Once
	removeWorkDir := func() { once.Do(cleanup) }
	if r.RegisterCleanup != nil && !keep {
		unregister := r.RegisterCleanup(removeWorkDir)
		defer unregister()
	}
	defer removeWorkDir()

	opts := audio.Options{
		WorkDir: workDir,
		Keep:    keep,
		Stem:    audio.SegmentStem(req.Source, req.Timestamp),
		Logger:  log,
	}
	orch := identify.NewOrchestrator(providers, log,
		identify.WithPrefetch(cfg.Prefetch),
		identify.WithMetrics(r.Metrics),
		identify.WithHooks(hooks),
	)

	var result *identify.Result
	if isURL {
		result, err = r.runRemote(ctx, orch, req, chunks, opts)
	} else {
		result, err = r.runLocal(ctx, orch, req, chunks, opts)
	}
	if err != nil {
		return nil, err
	}

	if result.Matched() && keep && result.SegmentPath != req.Source {
		if err := audio.WriteTrackTags(result.SegmentPath, result.Track); err != nil {
			log.Warn("Failed to tag %s: %v", result.SegmentPath, err)
		}
	}
	return result, nil
}

func (r *Runner) runRemote(ctx context.Context, orch *identify.Orchestrator, req Request, chunks int, opts audio.Options) (*identify.Result, error) {
	windows, err := chunk.Plan(req.Timestamp, chunks)
	if err != nil {
		return nil, err
	}

	ytdlpPath, err := audio.EnsureYtdlp(ctx, r.Config.YtdlpPath)
	if err != nil {
		r.Metrics.RecordRun(metrics.RunDownloadError)
		return nil, &identify.DownloadError{Window: windows[0], Err: err}
	}

	span := chunk.Span(windows)
	r.logger().Info("Downloading up to %s - %s from %s...",
		utils.FormatTimestamp(span.Start), utils.FormatTimestamp(span.End), req.Source)

	src := audio.NewRemoteSource(req.Source, ytdlpPath, opts)
	return orch.IdentifyWindows(ctx, src, windows)
}

func (r *Runner) runLocal(ctx context.Context, orch *identify.Orchestrator, req Request, chunks int, opts audio.Options) (*identify.Result, error) {
	src, err := audio.NewLocalSource(req.Source, r.Config.FFmpegPath, opts)
	if err != nil {
		r.Metrics.RecordRun(metrics.RunDownloadError)
		return nil, &identify.DownloadError{Err: err}
	}

	if !req.HasTimestamp {
		return orch.IdentifySegment(ctx, src.Whole())
	}

	windows, err := chunk.Plan(req.Timestamp, chunks)
	if err != nil {
		return nil, err
	}

	if length, err := src.Length(); err == nil {
		clamped := chunk.ClampToLength(windows, length)
		if len(clamped) == 0 {
			r.Metrics.RecordRun(metrics.RunDownloadError)
			return nil, &identify.DownloadError{
				Window: windows[0],
				Err:    fmt.Errorf("timestamp is past the end of the file (%s)", utils.FormatTimestamp(length)),
			}
		}
		windows = clamped
	} else {
		r.logger().Debug("Could not read length of %s: %v", req.Source, err)
	}

	return orch.IdentifyWindows(ctx, src, windows)
}

// Providers resolves the enabled providers in query order.
func (r *Runner) Providers() ([]identify.Provider, error) {
	registrations := r.Registrations
	if registrations == nil {
		registrations = provider.Registrations
	}
	return identify.ResolveProviders(registrations(r.Config), r.logger())
}

func (r *Runner) logger() *logger.Logger {
	if r.Logger == nil {
		return logger.Discard()
	}
	return r.Logger
}

// prepareWorkDir picks where segments go: --output-dir, the data dir when
// files are kept, or a temp dir removed after the run.
func prepareWorkDir(cfg config.Config) (dir string, keep bool, cleanup func(), err error) {
	noop := func() {}

	switch {
	case cfg.OutputDir != "":
		dir, keep = cfg.OutputDir, true
	case cfg.KeepFiles:
		dir, keep = cfg.DataDir, true
	default:
		tmp, err := utils.CreateTempDir()
		if err != nil {
			return "", false, noop, err
		}
		return tmp, false, func() { utils.Cleanup(tmp) }, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", false, noop, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return dir, keep, noop, nil
}
