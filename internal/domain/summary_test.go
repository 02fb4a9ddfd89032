package domain

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/geo"
)

type generatorFunc func(ctx context.Context, prompt Prompt) (string, error)

func (f generatorFunc) Generate(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}

func sampleIncident(t *testing.T) (Incident, []*Observation) {
	t.Helper()
	c := clusterOf(
		newObservation("obs-1", 0, 52.2297, 21.0122, SourceAcoustic),
		newObservation("obs-2", 2*time.Minute, 52.2342, 21.0122, SourceVisual),
	)
	return BuildIncident(c, newDefaultScorer(t).Score(c)), c.Members
}

func TestParseSummaryResponse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"single object", `{"incident_id":"inc-1","summary":"Two drones heading north."}`, "Two drones heading north.", false},
		{"first object with summary wins", "{\"incident_id\":\"inc-1\"}\n{\"summary\":\"first\"}\n{\"summary\":\"second\"}", "first", false},
		{"code fences and blank lines are ignored", "```json\n\n{\"summary\":\"  fenced  \"}\n```", "fenced", false},
		{"garbage lines are skipped", "Sure! Here you go:\n{\"summary\":\"ok\"}", "ok", false},
		{"no json", "I cannot help with that.", "", true},
		{"empty summary", `{"summary":"   "}`, "", true},
		{"empty response", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSummaryResponse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrGenerationFailure)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildSummaryPrompt(t *testing.T) {
	inc, members := sampleIncident(t)

	first, err := BuildSummaryPrompt(inc, members)
	require.NoError(t, err)
	second, err := BuildSummaryPrompt(inc, members)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEmpty(t, first.System)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(first.User), &body))
	assert.Equal(t, inc.IncidentID, body["incident_id"])
	assert.Equal(t, "2025-10-04 18:30:00", body["timestamp_start"])
	assert.Len(t, body["observations"], 2)
}

func TestRequestSummary(t *testing.T) {
	prompt := Prompt{System: "sys", User: "{}"}

	t.Run("success", func(t *testing.T) {
		gen := generatorFunc(func(_ context.Context, p Prompt) (string, error) {
			assert.Equal(t, prompt, p)
			return `{"summary":"A drone was seen."}`, nil
		})

		got, err := RequestSummary(context.Background(), gen, prompt)

		require.NoError(t, err)
		assert.Equal(t, "A drone was seen.", got)
	})

	t.Run("generator error", func(t *testing.T) {
		gen := generatorFunc(func(context.Context, Prompt) (string, error) {
			return "", errors.New("quota exceeded")
		})

		_, err := RequestSummary(context.Background(), gen, prompt)

		require.ErrorIs(t, err, ErrGenerationFailure)
		assert.Contains(t, err.Error(), "quota exceeded")
	})

	t.Run("timeout", func(t *testing.T) {
		gen := generatorFunc(func(ctx context.Context, _ Prompt) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := RequestSummary(ctx, gen, prompt)

		assert.ErrorIs(t, err, ErrGenerationFailure)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("unparseable output", func(t *testing.T) {
		gen := generatorFunc(func(context.Context, Prompt) (string, error) {
			return "not json", nil
		})

		_, err := RequestSummary(context.Background(), gen, prompt)

		assert.ErrorIs(t, err, ErrGenerationFailure)
	})
}

func TestTemplateSummary(t *testing.T) {
	inc := Incident{
		TimestampStart: baseTime,
		TimestampEnd:   baseTime.Add(4 * time.Minute),
		LocationCenter: geo.Point{Lat: 52.22971, Lng: 21.01224},
		DataPoints:     make([]geo.Point, 3),
	}

	assert.Equal(t,
		"3 detections near (52.2297,21.0122) between 2025-10-04 18:30:00 and 2025-10-04 18:34:00.",
		TemplateSummary(inc),
	)

	templated := WithTemplateSummary(inc)
	assert.Equal(t, SummaryTemplate, templated.SummarySource)
	assert.Equal(t, TemplateSummary(inc), templated.Summary)

	generated := WithSummary(inc, "text")
	assert.Equal(t, SummaryGenerated, generated.SummarySource)
	assert.Equal(t, "text", generated.Summary)
}
