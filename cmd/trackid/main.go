package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"trackid/internal/config"
	"trackid/internal/logger"
)

var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	verbose    bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "trackid",
		Short: "Identify a track from a DJ set, mix or audio file",
		Long: `trackid identifies the track playing at a timestamp of a local file or a
URL. It extracts short windows around the timestamp and asks each
recognition service in turn until one recognises the audio.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to config file")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Show detailed output")

	root.AddCommand(
		identifyCommand(flags),
		downloadCommand(flags),
		serveCommand(flags),
		initConfigCommand(),
		versionCommand(),
	)
	return root
}

// loadConfig resolves configuration once per command.
// Priority: CLI flags > environment > config file > defaults
func loadConfig(flags *globalFlags) (config.Config, string, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return cfg, "", fmt.Errorf("failed to load config: %w", err)
	}
	path := flags.configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	if flags.verbose {
		cfg.Verbose = true
	}
	return cfg, path, nil
}

// newLogger creates the status logger and attaches the configured log file.
func newLogger(cfg config.Config, configPath string) *logger.Logger {
	log := logger.New(cfg.Verbose)

	if cfg.LogFile != "" {
		if err := log.SetFileLog(cfg.LogFile); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] Failed to setup file logging: %v\n", err)
		} else {
			log.Debug("Logging to file: %s", cfg.LogFile)
		}
	}
	if configPath != "" {
		log.Debug("Loaded configuration from: %s", configPath)
	}
	return log
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of trackid",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "trackid %s\n", version)
		},
	}
}

// initConfigCommand creates a new config file with default values
func initConfigCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "Create a default config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.GetDefaultConfigPath()
			if len(args) == 1 {
				path = config.ExpandHome(args[0])
			}

			out := cmd.OutOrStdout()
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Fprintf(out, "Config file already exists at: %s\n", path)
				fmt.Fprintln(out, "Use --force to overwrite it.")
				return nil
			}

			if err := config.SaveConfigFile(config.DefaultConfig(), path); err != nil {
				return fmt.Errorf("failed to create config file: %w", err)
			}

			fmt.Fprintf(out, "Created default config file at: %s\n", path)
			fmt.Fprintln(out, "\nAvailable options:")
			fmt.Fprintln(out, "  providers: shazam, acrcloud (tried in this order)")
			fmt.Fprintln(out, "  chunks: 1-5 (windows tried around the timestamp)")
			fmt.Fprintln(out, "  acrcloud_access_key / acrcloud_access_secret: ACRCloud credentials")
			fmt.Fprintln(out, "  keep_files, data_dir: keep extracted segments")
			fmt.Fprintln(out, "\nEvery option can also be set with a TRACKID_ environment variable,")
			fmt.Fprintln(out, "e.g. TRACKID_ACRCLOUD_ACCESS_KEY.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}
