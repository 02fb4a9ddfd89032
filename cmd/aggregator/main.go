// Command aggregator groups drone-detection observations from the silver
// layer into scored, summarized incidents in the gold layer.
//
// Usage:
//
//	aggregator run [--since 2025-10-04T18:00:00Z] [--time-window 15m] [--spatial-threshold-km 5] [--weights 1,1,1]
//	aggregator serve
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		slog.ErrorContext(ctx, "aggregator failed", slog.Any("error", xerrors.New(err)))
		stop()
		if isConfigError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
