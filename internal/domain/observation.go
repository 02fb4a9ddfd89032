package domain

import (
	"strings"
	"time"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/geo"
)

// SourceType classifies where an observation came from.
type SourceType string

const (
	SourceAcoustic SourceType = "acoustic"
	SourceVisual   SourceType = "visual"
	SourceSocial   SourceType = "social"
	SourceManual   SourceType = "manual"
	SourceOther    SourceType = "other"
)

// KnownSourceTypes lists every source type in canonical order.
var KnownSourceTypes = []SourceType{SourceAcoustic, SourceVisual, SourceSocial, SourceManual, SourceOther}

// Valid reports whether s is one of the known source types.
func (s SourceType) Valid() bool {
	switch s {
	case SourceAcoustic, SourceVisual, SourceSocial, SourceManual, SourceOther:
		return true
	}
	return false
}

// sourceLabels maps sensor_type and detection_source labels seen in the
// silver layer to a source type.
var sourceLabels = map[string]SourceType{
	"acoustic":   SourceAcoustic,
	"microphone": SourceAcoustic,
	"audio":      SourceAcoustic,
	"visual":     SourceVisual,
	"optical":    SourceVisual,
	"camera":     SourceVisual,
	"photo":      SourceVisual,
	"video":      SourceVisual,
	"social":     SourceSocial,
	"twitter":    SourceSocial,
	"x":          SourceSocial,
	"reddit":     SourceSocial,
	"manual":     SourceManual,
	"human":      SourceManual,
	"report":     SourceManual,
}

// ParseSourceType resolves the source type of a row. An explicit valid value
// wins; otherwise the detection source and then the sensor type are matched
// against known labels. Anything unrecognized is SourceOther.
func ParseSourceType(explicit, sensorType, detectionSource string) SourceType {
	if st := SourceType(normalizeLabel(explicit)); st.Valid() {
		return st
	}
	if st, ok := sourceLabels[normalizeLabel(detectionSource)]; ok {
		return st
	}
	if st, ok := sourceLabels[normalizeLabel(sensorType)]; ok {
		return st
	}
	return SourceOther
}

// ParseConfidenceLabel converts the high/medium/low labels attached to photo
// events into a numeric signal confidence.
func ParseConfidenceLabel(label string) (float64, bool) {
	switch normalizeLabel(label) {
	case "high":
		return 0.9, true
	case "medium":
		return 0.6, true
	case "low":
		return 0.3, true
	}
	return 0, false
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Vector3 is a course vector reported by a sensor.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Kinematics holds the optional motion fields of an observation.
type Kinematics struct {
	SpeedMps     *float64 `json:"speed_mps,omitempty"`
	HeadingDeg   *float64 `json:"heading_deg,omitempty"`
	CourseVector *Vector3 `json:"course_vector,omitempty"`
}

// Signal holds the optional sensor-level fields of an observation.
type Signal struct {
	StrengthDbm     *float64 `json:"strength_dbm,omitempty"`
	Confidence      *float64 `json:"confidence,omitempty"`
	SensorType      string   `json:"sensor_type,omitempty"`
	DetectionSource string   `json:"detection_source,omitempty"`
	Classification  string   `json:"classification,omitempty"`
}

// Observation is a single detection read from the silver layer. The engine
// never mutates observations.
type Observation struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	Location   geo.Point  `json:"location"`
	AltitudeM  *float64   `json:"altitude_m,omitempty"`
	Kinematics Kinematics `json:"kinematics"`
	Signal     Signal     `json:"signal"`
	SourceType SourceType `json:"source_type"`
	SensorID   string     `json:"sensor_id,omitempty"`
	DroneID    string     `json:"drone_id,omitempty"`
	IngestedAt time.Time  `json:"ingested_at,omitzero"`
}

// Cursor is the later of the event and ingestion times. Run watermarks
// advance on it so that late-ingested, backdated reports are still fetched.
func (o Observation) Cursor() time.Time {
	if o.IngestedAt.After(o.Timestamp) {
		return o.IngestedAt
	}
	return o.Timestamp
}

// Valid reports whether the observation can take part in clustering.
func (o Observation) Valid() bool {
	return o.ID != "" && !o.Timestamp.IsZero() && o.Location.Valid()
}
