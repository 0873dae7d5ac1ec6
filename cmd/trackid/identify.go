package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"trackid/internal/app"
	"trackid/internal/config"
	"trackid/internal/identify"
	"trackid/internal/progress"
	"trackid/internal/shutdown"
	"trackid/pkg/utils"
)

// reportedError is returned by commands that already told the user what
// went wrong; main only sets the exit code.
type reportedError struct {
	code int
	err  error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var re *reportedError
	if errors.As(err, &re) {
		return re.code
	}
	fmt.Fprintf(os.Stderr, "[ERROR] %v\n", err)
	return 1
}

type identifyFlags struct {
	time      string
	chunks    int
	service   string
	output    string
	keepFiles bool
	outputDir string
	prefetch  bool
}

func identifyCommand(global *globalFlags) *cobra.Command {
	flags := &identifyFlags{}

	cmd := &cobra.Command{
		Use:   "identify <file|url>",
		Short: "Identify a track from an audio file or URL",
		Example: `  trackid identify song.mp3
  trackid identify "https://soundcloud.com/artist/mix" --time 7:45
  trackid identify "https://soundcloud.com/artist/mix" -t 1:29:10 -c 3 -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIdentify(cmd, global, flags, args[0])
		},
	}

	bindIdentifyFlags(cmd, flags)
	return cmd
}

func bindIdentifyFlags(cmd *cobra.Command, flags *identifyFlags) {
	f := cmd.Flags()
	f.StringVarP(&flags.time, "time", "t", "", "Timestamp to identify, e.g. 7:45 or 1:23:45 (required for URLs)")
	f.IntVarP(&flags.chunks, "chunks", "c", 0, "Number of windows to try (1-5, default from config)")
	f.StringVarP(&flags.service, "service", "s", "", "Service to use: shazam, acrcloud or all")
	f.StringVarP(&flags.output, "output", "o", formatTable, "Output format: table, json or plain")
	f.BoolVar(&flags.keepFiles, "keep-files", false, "Keep extracted audio segments in the data dir")
	f.StringVar(&flags.outputDir, "output-dir", "", "Directory to keep audio segments in")
	f.BoolVar(&flags.prefetch, "prefetch", false, "Download the next window while the current one is identified")
}

// applyIdentifyFlags overrides cfg with the flags the user actually set.
func applyIdentifyFlags(cmd *cobra.Command, cfg *config.Config, flags *identifyFlags) {
	f := cmd.Flags()
	if f.Changed("chunks") {
		cfg.Chunks = config.ClampChunks(flags.chunks)
	}
	if f.Changed("service") {
		cfg.Service = strings.ToLower(flags.service)
	}
	if f.Changed("keep-files") {
		cfg.KeepFiles = flags.keepFiles
	}
	if f.Changed("output-dir") {
		cfg.OutputDir = config.ExpandHome(flags.outputDir)
	}
	if f.Changed("prefetch") {
		cfg.Prefetch = flags.prefetch
	}
}

// progressTotal is the number of provider attempts a run can make.
func progressTotal(req app.Request, providers int) int {
	windows := config.ClampChunks(req.Chunks)
	if !req.HasTimestamp {
		windows = 1
	}
	return windows * providers
}

func runIdentify(cmd *cobra.Command, global *globalFlags, flags *identifyFlags, source string) error {
	if !validFormat(flags.output) {
		return fmt.Errorf("unknown output format %q, valid formats: %s", flags.output, strings.Join(outputFormats, ", "))
	}

	cfg, configPath, err := loadConfig(global)
	if err != nil {
		return err
	}
	applyIdentifyFlags(cmd, &cfg, flags)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	log := newLogger(cfg, configPath)
	defer log.Close()

	req := app.Request{Source: source, Chunks: cfg.Chunks}
	if flags.time != "" {
		ts, err := utils.ParseTimestamp(flags.time)
		if err != nil {
			return err
		}
		req.Timestamp = ts
		req.HasTimestamp = true
	}

	sh := shutdown.New()
	sh.Listen()
	defer sh.Shutdown()

	runner := app.NewRunner(cfg, log, nil)
	runner.RegisterCleanup = sh.AddCleanup

	var bar *progress.Bar
	if providers, err := runner.Providers(); err == nil && !cfg.Verbose {
		bar = progress.New(cmd.ErrOrStderr(), progressTotal(req, len(providers)))
		log.SetProgressBar(true)
	}
	hooks := identify.Hooks{
		OnWindow: func(r identify.Request) {
			if bar != nil {
				bar.SetStatus(r.Window.String())
			}
		},
		OnAttempt: func(a identify.Attempt) {
			if bar != nil {
				bar.Increment(fmt.Sprintf("%s: %s", a.Provider, a.Outcome))
			}
		},
	}

	result, err := runner.Run(sh.Context(), req, hooks)
	if bar != nil {
		bar.Finish()
		log.SetProgressBar(false)
	}

	if err != nil {
		kind := app.Classify(err)
		log.Error("%v", err)
		if hint := app.Hint(kind, nil); hint != "" {
			log.Info("Hint: %s", hint)
		}
		return &reportedError{code: 1, err: err}
	}

	if err := writeResult(cmd.OutOrStdout(), result, flags.output); err != nil {
		return err
	}
	if !result.Matched() {
		log.Info("Hint: %s", app.Hint(app.KindNoMatch, result))
	}
	return nil
}
