package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/adapter/gemini"
	kafkaadapter "github.com/couchcryptid/uavo-incident-aggregator/internal/adapter/kafka"
	mqttadapter "github.com/couchcryptid/uavo-incident-aggregator/internal/adapter/mqtt"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/adapter/sqlite"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/config"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/domain"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/observability"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/pipeline"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "aggregator",
		Short:         "Aggregate drone observations into incidents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCommand(), newServeCommand())
	return root
}

// app holds the wired collaborators shared by the run and serve commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	store    *sqlite.Store
	pipeline *pipeline.Pipeline
	closers  []io.Closer
}

// newApp connects the store, the optional generator and publishers, and
// builds the pipeline. cfg must already be validated.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := observability.NewLogger(cfg)
	slog.SetDefault(logger)
	metrics := observability.NewMetrics()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, AttachStacktrace: true}); err != nil {
			logger.Warn("sentry initialization failed", "error", err)
		}
	}

	scorer, err := domain.NewScorer(cfg.Score)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, metrics: metrics, store: store, closers: []io.Closer{store}}

	var generator domain.SummaryGenerator
	if cfg.GeminiEnabled {
		client, err := gemini.NewClient(ctx, gemini.Options{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			BaseURL: cfg.GeminiBaseURL,
		}, metrics, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		generator = client
		if cfg.SummaryCacheTTL > 0 {
			generator = gemini.NewCachedGenerator(client, cfg.SummaryCacheTTL, metrics)
		}
		logger.Info("summary generation enabled", "model", cfg.GeminiModel, "cache_ttl", cfg.SummaryCacheTTL)
	} else {
		logger.Info("summary generation disabled, using templates")
	}

	var publishers []pipeline.Publisher
	if cfg.KafkaEnabled {
		writer := kafkaadapter.NewWriter(cfg, logger)
		publishers = append(publishers, writer)
		a.closers = append(a.closers, writer)
		logger.Info("kafka publishing enabled", "topic", cfg.KafkaIncidentTopic)
	}
	if cfg.MQTTBroker != "" {
		pub, err := mqttadapter.Connect(ctx, cfg, logger)
		if err != nil {
			// Alerts are optional; keep aggregating without them.
			logger.Warn("mqtt alerts disabled", "error", err)
		} else {
			publishers = append(publishers, pub)
			a.closers = append(a.closers, pub)
		}
	}

	synth := pipeline.NewSynthesizer(generator, pipeline.SynthesizerConfig{
		Workers: cfg.SynthesisWorkers,
		Timeout: cfg.GenerationTimeout,
		Retries: cfg.GenerationRetries,
	}, logger, metrics)

	a.pipeline = pipeline.New(store, scorer, synth, pipeline.Settings{
		Cluster:         cfg.Cluster,
		DefaultLookback: cfg.DefaultLookback,
	}, logger, metrics, pipeline.WithPublishers(publishers...))

	return a, nil
}

// report forwards a failed run to Sentry when it is configured.
func (a *app) report(err error) {
	if a.cfg.SentryDSN == "" || err == nil {
		return
	}
	sentry.CaptureException(err)
}

func (a *app) Close() {
	if a.cfg.SentryDSN != "" {
		sentry.Flush(2 * time.Second)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Error("close failed", "error", err)
		}
	}
}

// runFlags are the per-run overrides accepted by the run command.
type runFlags struct {
	since              string
	timeWindow         time.Duration
	spatialThresholdKm float64
	weights            string
}

// apply overrides cfg with every flag the user set and revalidates it.
func (f runFlags) apply(cmd *cobra.Command, cfg *config.Config) (*time.Time, error) {
	var since *time.Time
	flags := cmd.Flags()
	if flags.Changed("since") {
		t, err := time.Parse(time.RFC3339, f.since)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid --since %q: %w", domain.ErrConfiguration, f.since, err)
		}
		since = &t
	}
	if flags.Changed("time-window") {
		cfg.Cluster.TimeWindow = f.timeWindow
	}
	if flags.Changed("spatial-threshold-km") {
		cfg.Cluster.SpatialThresholdKm = f.spatialThresholdKm
	}
	if flags.Changed("weights") {
		w, err := config.ParseWeights(f.weights)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid --weights: %w", domain.ErrConfiguration, err)
		}
		cfg.Score.Weights = w
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return since, nil
}

func isConfigError(err error) bool {
	return errors.Is(err, domain.ErrConfiguration)
}
