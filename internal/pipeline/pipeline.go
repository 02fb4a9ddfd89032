// Package pipeline runs the aggregation: fetch observations since a
// watermark, cluster them, score and synthesize incidents, then validate,
// persist and publish the results.
package pipeline

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/domain"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/observability"
)

// ObservationSource streams silver-layer observations whose event or
// ingestion time is at or after since.
type ObservationSource interface {
	FetchSince(ctx context.Context, since time.Time) (iter.Seq2[domain.Observation, error], error)
}

// IncidentSink appends incidents to the gold layer and returns the ones that were new.
type IncidentSink interface {
	AppendIncidents(ctx context.Context, incidents []domain.Incident) ([]domain.Incident, error)
}

// RunLedger stores per-run results and the watermark they reached.
type RunLedger interface {
	LastWatermark(ctx context.Context) (time.Time, bool, error)
	RecordRun(ctx context.Context, result domain.BatchResult) error
}

// Store is the full storage surface a pipeline needs.
type Store interface {
	ObservationSource
	IncidentSink
	RunLedger
}

// Scorer assigns confidence and risk to a cluster.
type Scorer interface {
	Score(c *domain.Cluster) domain.Score
}

// Publisher forwards newly persisted incidents to a downstream sink.
// Publishing is best effort and never fails a run.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, incidents []domain.Incident) error
}

// Settings are the run parameters that do not change between runs.
type Settings struct {
	Cluster         domain.ClusterParams
	DefaultLookback time.Duration
}

// Option configures optional Pipeline collaborators.
type Option func(*Pipeline)

// WithClock overrides the wall clock used for run timestamps and the default watermark.
func WithClock(clock clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = clock }
}

// WithPublishers adds downstream publishers for newly persisted incidents.
func WithPublishers(publishers ...Publisher) Option {
	return func(p *Pipeline) { p.publishers = append(p.publishers, publishers...) }
}

// WithRunIDs overrides run id generation.
func WithRunIDs(next func() string) Option {
	return func(p *Pipeline) { p.newRunID = next }
}

// Pipeline orchestrates a single fetch-cluster-score-synthesize-write pass.
type Pipeline struct {
	store       Store
	scorer      Scorer
	synthesizer *Synthesizer
	publishers  []Publisher
	settings    Settings
	clock       clockwork.Clock
	newRunID    func() string
	logger      *slog.Logger
	metrics     *observability.Metrics

	ready   atomic.Bool
	mu      sync.Mutex
	lastRun *domain.BatchResult
}

// New creates a Pipeline with the given stages and observability.
func New(store Store, scorer Scorer, synthesizer *Synthesizer, settings Settings, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       store,
		scorer:      scorer,
		synthesizer: synthesizer,
		settings:    settings,
		clock:       clockwork.NewRealClock(),
		newRunID:    uuid.NewString,
		logger:      logger,
		metrics:     metrics,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once a run has completed successfully.
func (p *Pipeline) CheckReadiness(ctx context.Context) error {
	if !p.ready.Load() {
		return errors.New("no aggregation run has completed yet")
	}
	if checker, ok := p.store.(interface{ CheckReadiness(context.Context) error }); ok {
		return checker.CheckReadiness(ctx)
	}
	return nil
}

// LastRun returns the result of the most recent successful run.
func (p *Pipeline) LastRun() (domain.BatchResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastRun == nil {
		return domain.BatchResult{}, false
	}
	return *p.lastRun, true
}

// Aggregate runs one pass over observations at or after since. A nil since
// resumes just past the last recorded watermark, or looks back
// DefaultLookback from now when no run has been recorded.
//
// Store failures abort the run with a *domain.StageError. Generation
// failures, rejected incidents and publisher errors are absorbed and
// reported in the BatchResult.
func (p *Pipeline) Aggregate(ctx context.Context, since *time.Time) (domain.BatchResult, error) {
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	result := domain.BatchResult{
		RunID:     p.newRunID(),
		StartedAt: p.clock.Now().UTC(),
	}
	logger := p.logger.With("run_id", result.RunID)

	result, err := p.aggregate(ctx, result, since, logger)
	elapsed := p.clock.Since(result.StartedAt)
	if err != nil {
		p.metrics.RunsTotal.WithLabelValues("failure").Inc()
		logger.Error("aggregation run failed", "error", err, "duration", elapsed)
		return domain.BatchResult{}, err
	}

	p.metrics.RunsTotal.WithLabelValues("success").Inc()
	p.metrics.RunDuration.Observe(elapsed.Seconds())
	p.metrics.LastSuccess.Set(float64(result.FinishedAt.Unix()))
	p.mu.Lock()
	p.lastRun = &result
	p.mu.Unlock()
	p.ready.Store(true)

	logger.Info("aggregation run complete",
		"since", result.Since,
		"observations", result.Observations,
		"duplicate_observations", result.ObservationDuplicates,
		"clusters", result.TotalClusters,
		"persisted", result.Persisted,
		"rejected", result.Rejected,
		"duplicates", result.Duplicates,
		"generation_fallbacks", result.GenerationFallbacks,
		"duration", elapsed,
	)
	return result, nil
}

func (p *Pipeline) aggregate(ctx context.Context, result domain.BatchResult, since *time.Time, logger *slog.Logger) (domain.BatchResult, error) {
	start, err := p.resolveSince(ctx, since, result.StartedAt)
	if err != nil {
		return result, &domain.StageError{Stage: domain.StageWatermark, Err: err}
	}
	result.Since = start

	observations, err := p.fetch(ctx, start)
	if err != nil {
		return result, &domain.StageError{Stage: domain.StageFetch, Err: err}
	}
	result.Observations = len(observations)
	result.Watermark = maxCursor(observations)
	p.metrics.ObservationsFetched.Add(float64(len(observations)))

	clusters, stats := domain.ClusterObservations(observations, p.settings.Cluster)
	result.InvalidObservations = stats.Invalid
	result.ObservationDuplicates = stats.Duplicates
	result.TotalClusters = len(clusters)
	p.metrics.ObservationsInvalid.Add(float64(stats.Invalid))
	p.metrics.ClustersBuilt.Add(float64(len(clusters)))
	if stats.Invalid > 0 || stats.Duplicates > 0 {
		logger.Warn("observations skipped", "invalid", stats.Invalid, "duplicate_ids", stats.Duplicates)
	}

	jobs := make([]SynthesisJob, len(clusters))
	for i, c := range clusters {
		p.metrics.ClusterSize.Observe(float64(c.Size()))
		inc := domain.BuildIncident(c, p.scorer.Score(c))
		inc.RunID = result.RunID
		jobs[i] = SynthesisJob{Incident: inc, Members: c.Members}
	}
	incidents, fallbacks := p.synthesizer.Summarize(ctx, jobs)
	result.GenerationFallbacks = fallbacks

	accepted := p.validate(incidents, &result, logger)
	accepted, dropped := domain.DedupeIncidents(accepted)

	persisted, err := p.store.AppendIncidents(ctx, accepted)
	if err != nil {
		return result, &domain.StageError{Stage: domain.StageWrite, Err: err}
	}
	result.Persisted = len(persisted)
	result.Duplicates = dropped + len(accepted) - len(persisted)
	p.metrics.IncidentsPersisted.Add(float64(result.Persisted))
	p.metrics.IncidentsDuplicate.Add(float64(result.Duplicates))

	p.publish(ctx, persisted, logger)

	result.FinishedAt = p.clock.Now().UTC()
	if err := p.store.RecordRun(ctx, result); err != nil {
		return result, &domain.StageError{Stage: domain.StageWatermark, Err: err}
	}
	return result, nil
}

func (p *Pipeline) resolveSince(ctx context.Context, since *time.Time, now time.Time) (time.Time, error) {
	if since != nil {
		return since.UTC(), nil
	}
	watermark, ok, err := p.store.LastWatermark(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return watermark.UTC().Add(time.Nanosecond), nil
	}
	return now.Add(-p.settings.DefaultLookback), nil
}

func (p *Pipeline) fetch(ctx context.Context, since time.Time) ([]domain.Observation, error) {
	seq, err := p.store.FetchSince(ctx, since)
	if err != nil {
		return nil, err
	}
	var observations []domain.Observation
	for obs, err := range seq {
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	return observations, nil
}

// validate normalizes every incident and keeps the ones that pass output
// checks. Rejections are recorded on result.
func (p *Pipeline) validate(incidents []domain.Incident, result *domain.BatchResult, logger *slog.Logger) []domain.Incident {
	accepted := make([]domain.Incident, 0, len(incidents))
	for _, inc := range incidents {
		inc = domain.NormalizeIncident(inc)
		if err := domain.ValidateIncident(inc); err != nil {
			logger.Warn("incident rejected", "incident_id", inc.IncidentID, "error", err)
			p.metrics.IncidentsRejected.Inc()
			result.Rejected++
			result.Rejections = append(result.Rejections, domain.RejectionFor(inc, err))
			continue
		}
		accepted = append(accepted, inc)
	}
	return accepted
}

func (p *Pipeline) publish(ctx context.Context, incidents []domain.Incident, logger *slog.Logger) {
	if len(incidents) == 0 {
		return
	}
	for _, pub := range p.publishers {
		if err := pub.Publish(ctx, incidents); err != nil {
			logger.Warn("publish incidents failed", "sink", pub.Name(), "count", len(incidents), "error", err)
			p.metrics.PublishErrors.WithLabelValues(pub.Name()).Inc()
		}
	}
}

// maxCursor returns the latest observation cursor, invalid rows included.
func maxCursor(observations []domain.Observation) *time.Time {
	var latest time.Time
	for i := range observations {
		if c := observations[i].Cursor(); c.After(latest) {
			latest = c
		}
	}
	if latest.IsZero() {
		return nil
	}
	latest = latest.UTC()
	return &latest
}
