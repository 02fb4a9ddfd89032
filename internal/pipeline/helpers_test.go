package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/domain"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/geo"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/observability"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/pipeline"
)

var baseTime = time.Date(2025, 10, 4, 18, 30, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func observation(id string, offset time.Duration, lat, lng float64, st domain.SourceType) domain.Observation {
	return domain.Observation{
		ID:         id,
		Timestamp:  baseTime.Add(offset),
		Location:   geo.Point{Lat: lat, Lng: lng},
		SourceType: st,
	}
}

// --- fakes ---

type fakeStore struct {
	mu           sync.Mutex
	observations []domain.Observation
	incidents    []domain.Incident
	runs         []domain.BatchResult
	watermark    *time.Time
	fetchedSince []time.Time

	fetchErr  error
	appendErr error
	recordErr error
}

func (s *fakeStore) FetchSince(_ context.Context, since time.Time) (iter.Seq2[domain.Observation, error], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchedSince = append(s.fetchedSince, since)
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	snapshot := slices.Clone(s.observations)
	return func(yield func(domain.Observation, error) bool) {
		for _, o := range snapshot {
			if o.Timestamp.Before(since) && (o.IngestedAt.IsZero() || o.IngestedAt.Before(since)) {
				continue
			}
			if !yield(o, nil) {
				return
			}
		}
	}, nil
}

func (s *fakeStore) AppendIncidents(_ context.Context, incidents []domain.Incident) ([]domain.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	var added []domain.Incident
	for _, inc := range incidents {
		if slices.ContainsFunc(s.incidents, func(e domain.Incident) bool { return e.IncidentID == inc.IncidentID }) {
			continue
		}
		s.incidents = append(s.incidents, inc)
		added = append(added, inc)
	}
	return added, nil
}

func (s *fakeStore) LastWatermark(_ context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watermark == nil {
		return time.Time{}, false, nil
	}
	return *s.watermark, true, nil
}

func (s *fakeStore) RecordRun(_ context.Context, result domain.BatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	s.runs = append(s.runs, result)
	if result.Watermark != nil {
		s.watermark = result.Watermark
	}
	return nil
}

type generatorFunc func(ctx context.Context, prompt domain.Prompt) (string, error)

func (f generatorFunc) Generate(ctx context.Context, prompt domain.Prompt) (string, error) {
	return f(ctx, prompt)
}

func staticGenerator(summary string) generatorFunc {
	return func(_ context.Context, _ domain.Prompt) (string, error) {
		return `{"incident_id":"x","summary":"` + summary + `"}`, nil
	}
}

func hangingGenerator() generatorFunc {
	return func(ctx context.Context, _ domain.Prompt) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
}

type fakePublisher struct {
	name      string
	err       error
	mu        sync.Mutex
	published []domain.Incident
}

func (p *fakePublisher) Name() string { return p.name }

func (p *fakePublisher) Publish(_ context.Context, incidents []domain.Incident) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, incidents...)
	return p.err
}

// corruptingScorer reports an out-of-range confidence for any cluster
// containing the given observation.
type corruptingScorer struct {
	inner     *domain.Scorer
	corruptID string
}

func (s corruptingScorer) Score(c *domain.Cluster) domain.Score {
	score := s.inner.Score(c)
	for _, m := range c.Members {
		if m.ID == s.corruptID {
			score.Confidence = 1.5
		}
	}
	return score
}

// --- construction ---

type testPipeline struct {
	*pipeline.Pipeline
	metrics *observability.Metrics
	clock   *clockwork.FakeClock
}

type pipelineOpts struct {
	generator  domain.SummaryGenerator
	scorer     pipeline.Scorer
	publishers []pipeline.Publisher
	timeout    time.Duration
	retries    int
}

func defaultScorer(t *testing.T) *domain.Scorer {
	t.Helper()
	scorer, err := domain.NewScorer(domain.DefaultScoreConfig())
	require.NoError(t, err)
	return scorer
}

func newPipeline(t *testing.T, store pipeline.Store, opts pipelineOpts) testPipeline {
	t.Helper()
	metrics := observability.NewMetricsForTesting()
	clock := clockwork.NewFakeClockAt(baseTime.Add(time.Hour))

	scorer := opts.scorer
	if scorer == nil {
		scorer = defaultScorer(t)
	}
	timeout := opts.timeout
	if timeout == 0 {
		timeout = time.Second
	}
	synth := pipeline.NewSynthesizer(opts.generator, pipeline.SynthesizerConfig{
		Workers: 4,
		Timeout: timeout,
		Retries: opts.retries,
	}, discardLogger(), metrics)

	runs := 0
	p := pipeline.New(store, scorer, synth, pipeline.Settings{
		Cluster:         domain.DefaultClusterParams(),
		DefaultLookback: 24 * time.Hour,
	}, discardLogger(), metrics,
		pipeline.WithClock(clock),
		pipeline.WithPublishers(opts.publishers...),
		pipeline.WithRunIDs(func() string {
			runs++
			return fmt.Sprintf("run-%d", runs)
		}),
	)
	return testPipeline{Pipeline: p, metrics: metrics, clock: clock}
}

func sinceBase() *time.Time {
	s := baseTime.Add(-time.Hour)
	return &s
}

func errorsAsStage(err error) (*domain.StageError, bool) {
	var stageErr *domain.StageError
	ok := errors.As(err, &stageErr)
	return stageErr, ok
}
