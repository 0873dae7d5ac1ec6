package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"trackid/internal/app"
	"trackid/internal/metrics"
	"trackid/internal/shutdown"
	"trackid/internal/web"
)

func serveCommand(global *globalFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the identification HTTP API",
		Long: `Run an HTTP API that identifies tracks in the background.

  POST /api/identify          {"source": "<url>", "time": "1:29:10", "chunks": 3}
  GET  /api/jobs              list jobs
  GET  /api/jobs/{id}         job status and result
  POST /api/jobs/{id}/cancel  cancel a running job
  GET  /ws?job_id={id}        live job updates
  GET  /metrics               Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, configPath, err := loadConfig(global)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			log := newLogger(cfg, configPath)
			defer log.Close()

			runner := app.NewRunner(cfg, log, nil)
			// fail at startup rather than on every job
			providers, err := runner.Providers()
			if err != nil {
				return err
			}

			m, err := metrics.New(nil)
			if err != nil {
				return fmt.Errorf("failed to create metrics: %w", err)
			}

			sh := shutdown.New()
			sh.Listen()
			defer sh.Shutdown()

			jobMgr := web.NewJobManager()
			jobMgr.StartCleanup(sh.Context())

			runner.Metrics = m
			runner.RegisterCleanup = sh.AddCleanup
			server := web.NewServer(sh.Context(), jobMgr, runner, len(providers), cfg.CacheTTL, m, log)

			httpServer := &http.Server{
				Addr:        cfg.Listen,
				Handler:     server.Router(),
				ReadTimeout: 15 * time.Second,
				IdleTimeout: 60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("Starting web server on %s", cfg.Listen)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server error: %w", err)
				}
			case <-sh.Context().Done():
			}

			log.Info("Shutting down server...")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(ctx); err != nil {
				log.Error("Server shutdown error: %v", err)
			}

			log.Info("Server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Address to listen on (default from config, 127.0.0.1:8080)")
	return cmd
}
