package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"trackid/internal/audio"
	"trackid/internal/shutdown"
	"trackid/pkg/utils"
)

func downloadCommand(global *globalFlags) *cobra.Command {
	var output, start, end string

	cmd := &cobra.Command{
		Use:   "download <url>",
		Short: "Download audio (or a section of it) from a URL",
		Example: `  trackid download "https://soundcloud.com/artist/track" -o track.mp3
  trackid download "https://youtube.com/watch?v=..." -s 1:00 -e 2:00 -o clip.mp3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, configPath, err := loadConfig(global)
			if err != nil {
				return err
			}
			log := newLogger(cfg, configPath)
			defer log.Close()

			var from, to time.Duration
			if start != "" {
				if from, err = utils.ParseTimestamp(start); err != nil {
					return err
				}
			}
			if end != "" {
				if to, err = utils.ParseTimestamp(end); err != nil {
					return err
				}
				if to <= from {
					return fmt.Errorf("--end must be after --start")
				}
			}

			sh := shutdown.New()
			sh.Listen()
			defer sh.Shutdown()
			ctx := sh.Context()

			ytdlpPath, err := audio.EnsureYtdlp(ctx, cfg.YtdlpPath)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}

			log.Info("Downloading from %s...", args[0])
			path, err := audio.DownloadSection(ctx, ytdlpPath, args[0], output, from, to)
			if err != nil {
				log.Error("Download failed: %v", err)
				return &reportedError{code: 1, err: err}
			}

			if info, err := os.Stat(path); err == nil {
				log.Info("Size: %dKB", info.Size()/1024)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "audio.mp3", "Output file path")
	cmd.Flags().StringVarP(&start, "start", "s", "", "Start time")
	cmd.Flags().StringVarP(&end, "end", "e", "", "End time")

	return cmd
}
