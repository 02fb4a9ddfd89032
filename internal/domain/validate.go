package domain

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/geo"
)

// Rejection describes an incident the validator refused to persist.
type Rejection struct {
	IncidentID string `json:"incident_id"`
	Reason     string `json:"reason"`
}

// ValidateIncident checks an incident against the output schema. Every
// violation is reported; the error wraps ErrValidation.
func ValidateIncident(inc Incident) error {
	var problems []string

	if strings.TrimSpace(inc.IncidentID) == "" {
		problems = append(problems, "empty incident_id")
	}
	if math.IsNaN(inc.Confidence) || inc.Confidence < 0 || inc.Confidence > 1 {
		problems = append(problems, fmt.Sprintf("confidence %v outside [0,1]", inc.Confidence))
	}
	if inc.TimestampStart.IsZero() || inc.TimestampEnd.IsZero() {
		problems = append(problems, "missing timestamps")
	} else if inc.TimestampStart.After(inc.TimestampEnd) {
		problems = append(problems, "timestamp_start after timestamp_end")
	}
	switch n := len(inc.DataPoints); {
	case n == 0:
		problems = append(problems, "empty data_points")
	case n > MaxClusterSize:
		problems = append(problems, fmt.Sprintf("%d data_points exceeds %d", n, MaxClusterSize))
	}
	for _, p := range inc.DataPoints {
		if !p.Valid() {
			problems = append(problems, "data point outside lat/lng range")
			break
		}
	}
	if len(inc.ObservationIDs) > 0 && len(inc.ObservationIDs) != len(inc.DataPoints) {
		problems = append(problems, "observation_ids and data_points differ in length")
	}
	if !inc.RiskLevel.Valid() {
		problems = append(problems, fmt.Sprintf("unknown risk_level %q", inc.RiskLevel))
	}
	if !inc.LocationCenter.Valid() {
		problems = append(problems, "location_center outside lat/lng range")
	}
	if len(inc.SourceTypes) == 0 {
		problems = append(problems, "empty source_types")
	}
	for _, st := range inc.SourceTypes {
		if !st.Valid() {
			problems = append(problems, fmt.Sprintf("unknown source type %q", st))
			break
		}
	}
	if t := inc.Trajectory; t != nil && (math.IsNaN(t.BearingDeg) || t.BearingDeg < 0 || t.BearingDeg >= 360) {
		problems = append(problems, "trajectory bearing outside [0,360)")
	}
	if v := inc.EstimatedSpeedKmh; v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0) {
		problems = append(problems, "estimated_speed_kmh is not a non-negative number")
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
}

// RejectionFor converts a validation error into a batch report entry.
func RejectionFor(inc Incident, err error) Rejection {
	reason := err.Error()
	if errors.Is(err, ErrValidation) {
		reason = strings.TrimPrefix(reason, ErrValidation.Error()+": ")
	}
	return Rejection{IncidentID: inc.IncidentID, Reason: reason}
}

// NormalizeIncident forces UTC timestamps, sorts source types and rounds
// coordinates to six decimals (about 0.1 m).
func NormalizeIncident(inc Incident) Incident {
	inc.TimestampStart = inc.TimestampStart.UTC().Truncate(time.Microsecond)
	inc.TimestampEnd = inc.TimestampEnd.UTC().Truncate(time.Microsecond)
	inc.LocationCenter = roundPoint(inc.LocationCenter)

	points := make([]geo.Point, len(inc.DataPoints))
	for i, p := range inc.DataPoints {
		points[i] = roundPoint(p)
	}
	inc.DataPoints = points

	types := slices.Clone(inc.SourceTypes)
	slices.Sort(types)
	inc.SourceTypes = slices.Compact(types)

	if inc.Trajectory != nil {
		t := *inc.Trajectory
		t.BearingDeg = round6(t.BearingDeg)
		if t.BearingDeg >= 360 {
			t.BearingDeg = 0
		}
		t.X, t.Y, t.Z = round6(t.X), round6(t.Y), round6(t.Z)
		inc.Trajectory = &t
	}
	if inc.EstimatedSpeedKmh != nil {
		v := round6(*inc.EstimatedSpeedKmh)
		inc.EstimatedSpeedKmh = &v
	}
	inc.Confidence = round6(inc.Confidence)
	return inc
}

// DedupeIncidents keeps the first incident for every id and reports how many
// were dropped.
func DedupeIncidents(incidents []Incident) ([]Incident, int) {
	seen := make(map[string]struct{}, len(incidents))
	out := make([]Incident, 0, len(incidents))
	for _, inc := range incidents {
		if _, ok := seen[inc.IncidentID]; ok {
			continue
		}
		seen[inc.IncidentID] = struct{}{}
		out = append(out, inc)
	}
	return out, len(incidents) - len(out)
}

func roundPoint(p geo.Point) geo.Point {
	return geo.Point{Lat: round6(p.Lat), Lng: round6(p.Lng)}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
