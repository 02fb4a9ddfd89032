package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/domain"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/observability"
)

const (
	retryBackoff          = 200 * time.Millisecond
	defaultGenerationWait = 5 * time.Second
)

// SynthesisJob is one incident awaiting its summary, with the cluster members
// it was built from.
type SynthesisJob struct {
	Incident domain.Incident
	Members  []*domain.Observation
}

// SynthesizerConfig bounds summary generation.
type SynthesizerConfig struct {
	Workers int
	Timeout time.Duration
	Retries int
}

// Synthesizer fills in incident summaries using a bounded pool of workers.
// A nil generator disables generation and every summary is templated.
type Synthesizer struct {
	generator domain.SummaryGenerator
	cfg       SynthesizerConfig
	logger    *slog.Logger
	metrics   *observability.Metrics
}

func NewSynthesizer(generator domain.SummaryGenerator, cfg SynthesizerConfig, logger *slog.Logger, metrics *observability.Metrics) *Synthesizer {
	cfg.Workers = max(cfg.Workers, 1)
	cfg.Retries = max(cfg.Retries, 0)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGenerationWait
	}
	enabled := 0.0
	if generator != nil {
		enabled = 1
	}
	metrics.GenerationEnabled.Set(enabled)
	return &Synthesizer{generator: generator, cfg: cfg, logger: logger, metrics: metrics}
}

// Summarize returns the incidents in job order with their summaries set, and
// the number that fell back to the template.
func (s *Synthesizer) Summarize(ctx context.Context, jobs []SynthesisJob) ([]domain.Incident, int) {
	out := make([]domain.Incident, len(jobs))
	var fallbacks atomic.Int64

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i := range jobs {
		g.Go(func() error {
			inc, generated := s.summarize(ctx, jobs[i])
			if !generated {
				fallbacks.Add(1)
			}
			out[i] = inc
			return nil
		})
	}
	_ = g.Wait()

	if s.generator == nil {
		// Templated by configuration, not by failure.
		return out, 0
	}
	return out, int(fallbacks.Load())
}

func (s *Synthesizer) summarize(ctx context.Context, job SynthesisJob) (domain.Incident, bool) {
	inc := job.Incident
	if s.generator == nil {
		s.metrics.GenerationRequests.WithLabelValues("disabled").Inc()
		return domain.WithTemplateSummary(inc), false
	}

	summary, err := s.generate(ctx, job)
	if err != nil {
		s.logger.Warn("summary generation failed, using template",
			"incident_id", inc.IncidentID,
			"error", err,
		)
		s.metrics.GenerationRequests.WithLabelValues("fallback").Inc()
		return domain.WithTemplateSummary(inc), false
	}
	s.metrics.GenerationRequests.WithLabelValues("generated").Inc()
	return domain.WithSummary(inc, summary), true
}

func (s *Synthesizer) generate(ctx context.Context, job SynthesisJob) (string, error) {
	prompt, err := domain.BuildSummaryPrompt(job.Incident, job.Members)
	if err != nil {
		return "", err
	}

	backoff := retryBackoff
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		summary, err := domain.RequestSummary(callCtx, s.generator, prompt)
		cancel()
		if err == nil {
			return summary, nil
		}
		if attempt >= s.cfg.Retries || ctx.Err() != nil {
			return "", err
		}
		s.logger.Debug("retrying summary generation", "incident_id", job.Incident.IncidentID, "attempt", attempt+1, "error", err)
		if !retry.SleepWithContext(ctx, backoff) {
			return "", err
		}
		backoff = retry.NextBackoff(backoff, s.cfg.Timeout)
	}
}
