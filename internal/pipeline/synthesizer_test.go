package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/domain"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/geo"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/observability"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/pipeline"
)

func synthesisJobs(n int) []pipeline.SynthesisJob {
	jobs := make([]pipeline.SynthesisJob, n)
	for i := range jobs {
		obs := observation(fmt.Sprintf("obs-%02d", i), time.Duration(i)*time.Minute, 52.2297, 21.0122, domain.SourceAcoustic)
		jobs[i] = pipeline.SynthesisJob{
			Incident: domain.Incident{
				IncidentID:     domain.IncidentID([]string{obs.ID}),
				TimestampStart: obs.Timestamp,
				TimestampEnd:   obs.Timestamp,
				LocationCenter: obs.Location,
				DataPoints:     []geo.Point{obs.Location},
				ObservationIDs: []string{obs.ID},
			},
			Members: []*domain.Observation{&obs},
		}
	}
	return jobs
}

func newSynthesizer(gen domain.SummaryGenerator, cfg pipeline.SynthesizerConfig) (*pipeline.Synthesizer, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	return pipeline.NewSynthesizer(gen, cfg, discardLogger(), metrics), metrics
}

func TestSynthesizer_PreservesJobOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	gen := generatorFunc(func(_ context.Context, _ domain.Prompt) (string, error) {
		// Earlier calls sleep longer so completions arrive out of order.
		time.Sleep(time.Duration(10-calls.Add(1)) * time.Millisecond)
		return `{"summary":"ok"}`, nil
	})
	synth, _ := newSynthesizer(gen, pipeline.SynthesizerConfig{Workers: 3, Timeout: time.Second})

	jobs := synthesisJobs(10)
	out, fallbacks := synth.Summarize(context.Background(), jobs)

	require.Len(t, out, len(jobs))
	assert.Zero(t, fallbacks)
	for i := range jobs {
		assert.Equal(t, jobs[i].Incident.IncidentID, out[i].IncidentID)
		assert.Equal(t, "ok", out[i].Summary)
	}
}

func TestSynthesizer_RespectsWorkerLimit(t *testing.T) {
	defer goleak.VerifyNone(t)

	var inFlight, peak atomic.Int32
	gen := generatorFunc(func(_ context.Context, _ domain.Prompt) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return `{"summary":"ok"}`, nil
	})
	synth, _ := newSynthesizer(gen, pipeline.SynthesizerConfig{Workers: 2, Timeout: time.Second})

	synth.Summarize(context.Background(), synthesisJobs(8))

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Positive(t, peak.Load())
}

func TestSynthesizer_RetriesOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	gen := generatorFunc(func(_ context.Context, _ domain.Prompt) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("503 unavailable")
		}
		return `{"summary":"second time lucky"}`, nil
	})
	synth, metrics := newSynthesizer(gen, pipeline.SynthesizerConfig{Workers: 1, Timeout: time.Second, Retries: 1})

	out, fallbacks := synth.Summarize(context.Background(), synthesisJobs(1))

	assert.Zero(t, fallbacks)
	assert.Equal(t, "second time lucky", out[0].Summary)
	assert.Equal(t, domain.SummaryGenerated, out[0].SummarySource)
	assert.Equal(t, int32(2), calls.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.GenerationRequests.WithLabelValues("generated")), 0)
}

func TestSynthesizer_FallsBackWithoutRetries(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	gen := generatorFunc(func(_ context.Context, _ domain.Prompt) (string, error) {
		calls.Add(1)
		return "I cannot produce JSON today.", nil
	})
	synth, metrics := newSynthesizer(gen, pipeline.SynthesizerConfig{Workers: 2, Timeout: time.Second})

	jobs := synthesisJobs(3)
	out, fallbacks := synth.Summarize(context.Background(), jobs)

	assert.Equal(t, 3, fallbacks)
	assert.Equal(t, int32(3), calls.Load())
	for i := range out {
		assert.Equal(t, domain.SummaryTemplate, out[i].SummarySource)
		assert.Equal(t, domain.TemplateSummary(jobs[i].Incident), out[i].Summary)
	}
	assert.InDelta(t, 3, testutil.ToFloat64(metrics.GenerationRequests.WithLabelValues("fallback")), 0)
}

func TestSynthesizer_TimeoutDoesNotLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	synth, _ := newSynthesizer(hangingGenerator(), pipeline.SynthesizerConfig{Workers: 4, Timeout: 10 * time.Millisecond})

	out, fallbacks := synth.Summarize(context.Background(), synthesisJobs(6))

	assert.Equal(t, 6, fallbacks)
	for i := range out {
		assert.Equal(t, domain.SummaryTemplate, out[i].SummarySource)
	}
}

func TestSynthesizer_Disabled(t *testing.T) {
	synth, metrics := newSynthesizer(nil, pipeline.SynthesizerConfig{Workers: 2, Timeout: time.Second})

	out, fallbacks := synth.Summarize(context.Background(), synthesisJobs(2))

	assert.Zero(t, fallbacks)
	for i := range out {
		assert.Equal(t, domain.SummaryTemplate, out[i].SummarySource)
	}
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.GenerationRequests.WithLabelValues("disabled")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.GenerationEnabled), 0)
}

func TestSynthesizer_CancelledContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	synth, _ := newSynthesizer(hangingGenerator(), pipeline.SynthesizerConfig{Workers: 2, Timeout: time.Minute, Retries: 1})
	out, fallbacks := synth.Summarize(ctx, synthesisJobs(2))

	assert.Equal(t, 2, fallbacks)
	assert.Len(t, out, 2)
}
