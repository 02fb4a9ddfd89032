package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/adapter/httpadapter"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/config"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/domain"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/pipeline"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Aggregate every RUN_INTERVAL and serve health, readiness and metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := httpadapter.NewServer(cfg.HTTPAddr, a.pipeline, a.pipeline, a.logger)
			scheduler := pipeline.NewScheduler(reportingAggregator{a}, cfg.RunInterval, nil, a.logger)

			// Start HTTP server.
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.Error("http server error", "error", err)
				}
			}()

			// Start scheduled aggregation.
			done := make(chan error, 1)
			go func() { done <- scheduler.Run(ctx) }()

			<-ctx.Done()
			a.logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("http server shutdown error", "error", err)
			}
			select {
			case err := <-done:
				if err != nil {
					a.logger.Error("scheduler error", "error", err)
				}
			case <-shutdownCtx.Done():
				a.logger.Warn("scheduler did not stop before shutdown timeout")
			}

			a.logger.Info("shutdown complete")
			return nil
		},
	}
}

// reportingAggregator sends failed scheduled runs to Sentry.
type reportingAggregator struct {
	app *app
}

func (r reportingAggregator) Aggregate(ctx context.Context, since *time.Time) (domain.BatchResult, error) {
	result, err := r.app.pipeline.Aggregate(ctx, since)
	if err != nil && ctx.Err() == nil {
		r.app.report(err)
	}
	return result, err
}
