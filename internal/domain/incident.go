package domain

import (
	"time"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/geo"
)

// RiskLevel buckets the risk score of an incident.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether r is one of the four risk levels.
func (r RiskLevel) Valid() bool {
	return r.rank() >= 0
}

// AtLeast reports whether r is as severe as min or more.
func (r RiskLevel) AtLeast(min RiskLevel) bool {
	return r.rank() >= min.rank()
}

func (r RiskLevel) rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	}
	return -1
}

// ParseRiskLevel returns the risk level named by s.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	r := RiskLevel(normalizeLabel(s))
	return r, r.Valid()
}

// SummarySource records whether a summary came from the generation
// capability or from the fallback template.
type SummarySource string

const (
	SummaryGenerated SummarySource = "generated"
	SummaryTemplate  SummarySource = "template"
)

// Incident is one scored, summarized cluster as written to the gold layer.
// Incidents are write-once.
type Incident struct {
	IncidentID        string          `json:"incident_id"`
	TimestampStart    time.Time       `json:"timestamp_start"`
	TimestampEnd      time.Time       `json:"timestamp_end"`
	LocationCenter    geo.Point       `json:"location_center"`
	DataPoints        []geo.Point     `json:"data_points"`
	RiskLevel         RiskLevel       `json:"risk_level"`
	Trajectory        *geo.Trajectory `json:"trajectory"`
	EstimatedSpeedKmh *float64        `json:"estimated_speed_kmh"`
	SourceTypes       []SourceType    `json:"source_types"`
	Summary           string          `json:"summary"`
	SummarySource     SummarySource   `json:"summary_source"`
	Confidence        float64         `json:"confidence"`
	ObservationIDs    []string        `json:"observation_ids"`
	RunID             string          `json:"run_id,omitempty"`
}
