package domain

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// SummaryTimeLayout is the timestamp format used in summaries and prompts.
const SummaryTimeLayout = "2006-01-02 15:04:05"

// maxSummaryRunes bounds generated summaries before they are stored.
const maxSummaryRunes = 600

// Prompt is a single request to the generation capability.
type Prompt struct {
	System string
	User   string
}

// SummaryGenerator produces free text for a prompt. Implementations must
// honor context cancellation.
type SummaryGenerator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

const summarySystemPrompt = `You write situational summaries for a drone incident monitoring service.
The user message is one JSON object describing an incident: a cluster of drone detections from acoustic,
visual, social media and manual reports, with its time span, center, source types, trajectory and speed.
Write one or two sentences stating what was detected, where, and where it is heading when a trajectory is
known. Do not invent places, numbers or sources that are not in the input.
Respond with exactly one line of JSON of the form {"incident_id": "<id>", "summary": "<text>"}.
Do not use code fences, markdown or any other text.`

type promptObservation struct {
	ID             string     `json:"id"`
	Timestamp      string     `json:"timestamp"`
	Lat            float64    `json:"lat"`
	Lng            float64    `json:"lng"`
	AltitudeM      *float64   `json:"altitude_m"`
	SourceType     SourceType `json:"source_type"`
	Classification string     `json:"classification,omitempty"`
	Confidence     *float64   `json:"confidence"`
}

type promptIncident struct {
	IncidentID        string              `json:"incident_id"`
	TimestampStart    string              `json:"timestamp_start"`
	TimestampEnd      string              `json:"timestamp_end"`
	CenterLat         float64             `json:"center_lat"`
	CenterLng         float64             `json:"center_lng"`
	RiskLevel         RiskLevel           `json:"risk_level"`
	Confidence        float64             `json:"confidence"`
	SourceTypes       []SourceType        `json:"source_types"`
	BearingDeg        *float64            `json:"bearing_deg"`
	EstimatedSpeedKmh *float64            `json:"estimated_speed_kmh"`
	Observations      []promptObservation `json:"observations"`
}

// BuildSummaryPrompt renders the incident and its members as structured JSON.
// The same incident always yields the same prompt.
func BuildSummaryPrompt(inc Incident, members []*Observation) (Prompt, error) {
	p := promptIncident{
		IncidentID:        inc.IncidentID,
		TimestampStart:    inc.TimestampStart.UTC().Format(SummaryTimeLayout),
		TimestampEnd:      inc.TimestampEnd.UTC().Format(SummaryTimeLayout),
		CenterLat:         inc.LocationCenter.Lat,
		CenterLng:         inc.LocationCenter.Lng,
		RiskLevel:         inc.RiskLevel,
		Confidence:        inc.Confidence,
		SourceTypes:       inc.SourceTypes,
		EstimatedSpeedKmh: inc.EstimatedSpeedKmh,
		Observations:      make([]promptObservation, len(members)),
	}
	if inc.Trajectory != nil {
		bearing := inc.Trajectory.BearingDeg
		p.BearingDeg = &bearing
	}
	for i, o := range members {
		p.Observations[i] = promptObservation{
			ID:             o.ID,
			Timestamp:      o.Timestamp.UTC().Format(SummaryTimeLayout),
			Lat:            o.Location.Lat,
			Lng:            o.Location.Lng,
			AltitudeM:      o.AltitudeM,
			SourceType:     o.SourceType,
			Classification: o.Signal.Classification,
			Confidence:     o.Signal.Confidence,
		}
	}

	body, err := json.Marshal(p)
	if err != nil {
		return Prompt{}, fmt.Errorf("marshal prompt for %s: %w", inc.IncidentID, err)
	}
	return Prompt{System: summarySystemPrompt, User: string(body)}, nil
}

// ParseSummaryResponse reads a newline-delimited JSON response and returns the
// summary of the first object that carries one.
func ParseSummaryResponse(text string) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}

		var obj struct {
			Summary string `json:"summary"`
		}
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		if s := strings.TrimSpace(obj.Summary); s != "" {
			return truncateRunes(s, maxSummaryRunes), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: read response: %w", ErrGenerationFailure, err)
	}
	return "", fmt.Errorf("%w: no summary object in response", ErrGenerationFailure)
}

// RequestSummary calls the generator once and parses its response. It returns
// as soon as ctx is done even if the generator has not.
func RequestSummary(ctx context.Context, gen SummaryGenerator, prompt Prompt) (string, error) {
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := gen.Generate(ctx, prompt)
		done <- result{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrGenerationFailure, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("%w: %w", ErrGenerationFailure, r.err)
		}
		return ParseSummaryResponse(r.text)
	}
}

// TemplateSummary is the deterministic fallback used when generation fails
// or is disabled.
func TemplateSummary(inc Incident) string {
	return fmt.Sprintf("%d detections near (%.4f,%.4f) between %s and %s.",
		len(inc.DataPoints),
		inc.LocationCenter.Lat,
		inc.LocationCenter.Lng,
		inc.TimestampStart.UTC().Format(SummaryTimeLayout),
		inc.TimestampEnd.UTC().Format(SummaryTimeLayout),
	)
}

// WithSummary returns inc carrying a generated summary.
func WithSummary(inc Incident, summary string) Incident {
	inc.Summary = summary
	inc.SummarySource = SummaryGenerated
	return inc
}

// WithTemplateSummary returns inc carrying the fallback summary.
func WithTemplateSummary(inc Incident) Incident {
	inc.Summary = TemplateSummary(inc)
	inc.SummarySource = SummaryTemplate
	return inc
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}
