package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/rdscout/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve discovery and change detection over HTTP",
	Long: `Start the HTTP server used by the orchestrating application.

Routes:
  GET  /api/v1/health
  POST /api/v1/scopes/:scope/discover
  POST /api/v1/scopes/:scope/changes     {"batch_id": "..."} or {"documents": [...]}
  GET  /api/v1/scopes/:scope/runs?limit=N
  GET  /api/v1/scopes/:scope/projects
  GET  /api/v1/runs/:id

The port comes from PORT (default 3001).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		orch, err := a.orchestrator(false)
		if err != nil {
			return err
		}
		detector, err := a.detector()
		if err != nil {
			return err
		}

		serverCfg := api.DefaultConfig()
		serverCfg.ReadTimeout = a.cfg.ReadTimeout
		serverCfg.WriteTimeout = a.cfg.WriteTimeout
		srv, err := api.NewServer(api.Deps{
			Discoverer: orch,
			Changes:    detector,
			Runs:       a.store,
			Projects:   a.projects,
			Health:     a.store,
			Logger:     a.logger,
		}, serverCfg)
		if err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Listen(":" + a.cfg.Port)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			a.logger.Info("shutting down http server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
