package sqlite

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/domain"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/geo"
)

// observationRow mirrors the silver_data_layer table written by upstream
// ingestion. Columns not listed here are ignored when scanning.
type observationRow struct {
	DetectionID       string     `gorm:"column:detection_id;primaryKey"`
	TimestampUTC      time.Time  `gorm:"column:timestamp_utc;index"`
	SensorID          *string    `gorm:"column:sensor_id"`
	DroneID           *string    `gorm:"column:drone_id"`
	Latitude          *float64   `gorm:"column:latitude"`
	Longitude         *float64   `gorm:"column:longitude"`
	AltitudeM         *float64   `gorm:"column:altitude_m"`
	SpeedMps          *float64   `gorm:"column:speed_mps"`
	HeadingDeg        *float64   `gorm:"column:heading_deg"`
	CourseVector      *string    `gorm:"column:course_vector"`
	SignalStrengthDbm *float64   `gorm:"column:signal_strength_dbm"`
	Confidence        *float64   `gorm:"column:confidence"`
	ConfidenceLabel   *string    `gorm:"column:confidence_label"`
	SensorType        *string    `gorm:"column:sensor_type"`
	DetectionSource   *string    `gorm:"column:detection_source"`
	Classification    *string    `gorm:"column:classification"`
	SourceType        *string    `gorm:"column:source_type"`
	IngestionTime     *time.Time `gorm:"column:ingestion_time;index"`
}

func (observationRow) TableName() string { return "silver_data_layer" }

func (r observationRow) toDomain() domain.Observation {
	o := domain.Observation{
		ID:        r.DetectionID,
		Timestamp: r.TimestampUTC.UTC(),
		AltitudeM: r.AltitudeM,
		Kinematics: domain.Kinematics{
			SpeedMps:     r.SpeedMps,
			HeadingDeg:   r.HeadingDeg,
			CourseVector: parseCourseVector(deref(r.CourseVector)),
		},
		Signal: domain.Signal{
			StrengthDbm:     r.SignalStrengthDbm,
			Confidence:      r.Confidence,
			SensorType:      deref(r.SensorType),
			DetectionSource: deref(r.DetectionSource),
			Classification:  deref(r.Classification),
		},
		SensorID: deref(r.SensorID),
		DroneID:  deref(r.DroneID),
	}

	// Missing coordinates become NaN so the observation fails validation
	// instead of silently landing at (0,0).
	o.Location = geo.Point{Lat: orNaN(r.Latitude), Lng: orNaN(r.Longitude)}

	if o.Signal.Confidence == nil && r.ConfidenceLabel != nil {
		if c, ok := domain.ParseConfidenceLabel(*r.ConfidenceLabel); ok {
			o.Signal.Confidence = &c
		}
	}
	o.SourceType = domain.ParseSourceType(deref(r.SourceType), o.Signal.SensorType, o.Signal.DetectionSource)
	if r.IngestionTime != nil {
		o.IngestedAt = r.IngestionTime.UTC()
	}
	return o
}

func observationFromDomain(o domain.Observation) observationRow {
	row := observationRow{
		DetectionID:       o.ID,
		TimestampUTC:      o.Timestamp.UTC(),
		SensorID:          nonEmpty(o.SensorID),
		DroneID:           nonEmpty(o.DroneID),
		Latitude:          &o.Location.Lat,
		Longitude:         &o.Location.Lng,
		AltitudeM:         o.AltitudeM,
		SpeedMps:          o.Kinematics.SpeedMps,
		HeadingDeg:        o.Kinematics.HeadingDeg,
		SignalStrengthDbm: o.Signal.StrengthDbm,
		Confidence:        o.Signal.Confidence,
		SensorType:        nonEmpty(o.Signal.SensorType),
		DetectionSource:   nonEmpty(o.Signal.DetectionSource),
		Classification:    nonEmpty(o.Signal.Classification),
		SourceType:        nonEmpty(string(o.SourceType)),
	}
	if v := o.Kinematics.CourseVector; v != nil {
		b, _ := json.Marshal(v)
		row.CourseVector = nonEmpty(string(b))
	}
	if !o.IngestedAt.IsZero() {
		t := o.IngestedAt.UTC()
		row.IngestionTime = &t
	}
	return row
}

// parseCourseVector accepts {"x":..,"y":..,"z":..} or [x,y,z].
func parseCourseVector(s string) *domain.Vector3 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var v domain.Vector3
	if strings.HasPrefix(s, "[") {
		var arr []float64
		if err := json.Unmarshal([]byte(s), &arr); err != nil || len(arr) != 3 {
			return nil
		}
		v = domain.Vector3{X: arr[0], Y: arr[1], Z: arr[2]}
		return &v
	}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return &v
}

// incidentRow is one row of the append-only gold_layer_incidents table.
type incidentRow struct {
	IncidentID               string      `gorm:"column:incident_id;primaryKey"`
	TimestampStart           time.Time   `gorm:"column:timestamp_start;index"`
	TimestampEnd             time.Time   `gorm:"column:timestamp_end"`
	LocationCenterLat        float64     `gorm:"column:location_center_lat"`
	LocationCenterLng        float64     `gorm:"column:location_center_lng"`
	DataPoints               []geo.Point `gorm:"column:data_points;serializer:json"`
	RiskLevel                string      `gorm:"column:risk_level;index"`
	TrajectoryBearingDegrees *float64    `gorm:"column:trajectory_bearing_degrees"`
	TrajectoryNormalizedX    *float64    `gorm:"column:trajectory_normalized_x"`
	TrajectoryNormalizedY    *float64    `gorm:"column:trajectory_normalized_y"`
	TrajectoryNormalizedZ    *float64    `gorm:"column:trajectory_normalized_z"`
	EstimatedSpeedKmh        *float64    `gorm:"column:estimated_speed_kmh"`
	SourceTypes              []string    `gorm:"column:source_types;serializer:json"`
	Summary                  string      `gorm:"column:summary"`
	SummarySource            string      `gorm:"column:summary_source"`
	Confidence               float64     `gorm:"column:confidence"`
	ObservationIDs           []string    `gorm:"column:observation_ids;serializer:json"`
	RunID                    string      `gorm:"column:run_id;index"`
	CreatedAt                time.Time   `gorm:"column:created_at"`
}

func (incidentRow) TableName() string { return "gold_layer_incidents" }

func incidentFromDomain(inc domain.Incident) incidentRow {
	row := incidentRow{
		IncidentID:        inc.IncidentID,
		TimestampStart:    inc.TimestampStart.UTC(),
		TimestampEnd:      inc.TimestampEnd.UTC(),
		LocationCenterLat: inc.LocationCenter.Lat,
		LocationCenterLng: inc.LocationCenter.Lng,
		DataPoints:        inc.DataPoints,
		RiskLevel:         string(inc.RiskLevel),
		EstimatedSpeedKmh: inc.EstimatedSpeedKmh,
		SourceTypes:       make([]string, len(inc.SourceTypes)),
		Summary:           inc.Summary,
		SummarySource:     string(inc.SummarySource),
		Confidence:        inc.Confidence,
		ObservationIDs:    inc.ObservationIDs,
		RunID:             inc.RunID,
	}
	for i, st := range inc.SourceTypes {
		row.SourceTypes[i] = string(st)
	}
	if t := inc.Trajectory; t != nil {
		row.TrajectoryBearingDegrees = &t.BearingDeg
		row.TrajectoryNormalizedX = &t.X
		row.TrajectoryNormalizedY = &t.Y
		row.TrajectoryNormalizedZ = &t.Z
	}
	return row
}

func (r incidentRow) toDomain() domain.Incident {
	inc := domain.Incident{
		IncidentID:        r.IncidentID,
		TimestampStart:    r.TimestampStart.UTC(),
		TimestampEnd:      r.TimestampEnd.UTC(),
		LocationCenter:    geo.Point{Lat: r.LocationCenterLat, Lng: r.LocationCenterLng},
		DataPoints:        r.DataPoints,
		RiskLevel:         domain.RiskLevel(r.RiskLevel),
		EstimatedSpeedKmh: r.EstimatedSpeedKmh,
		SourceTypes:       make([]domain.SourceType, len(r.SourceTypes)),
		Summary:           r.Summary,
		SummarySource:     domain.SummarySource(r.SummarySource),
		Confidence:        r.Confidence,
		ObservationIDs:    r.ObservationIDs,
		RunID:             r.RunID,
	}
	for i, st := range r.SourceTypes {
		inc.SourceTypes[i] = domain.SourceType(st)
	}
	if r.TrajectoryBearingDegrees != nil {
		inc.Trajectory = &geo.Trajectory{
			BearingDeg: *r.TrajectoryBearingDegrees,
			X:          deref(r.TrajectoryNormalizedX),
			Y:          deref(r.TrajectoryNormalizedY),
			Z:          deref(r.TrajectoryNormalizedZ),
		}
	}
	return inc
}

// runRow records one aggregation run and its watermark.
type runRow struct {
	RunID                 string     `gorm:"column:run_id;primaryKey"`
	StartedAt             time.Time  `gorm:"column:started_at;index"`
	FinishedAt            time.Time  `gorm:"column:finished_at"`
	Since                 time.Time  `gorm:"column:since"`
	Watermark             *time.Time `gorm:"column:watermark;index"`
	Observations          int        `gorm:"column:observations"`
	InvalidObservations   int        `gorm:"column:invalid_observations"`
	ObservationDuplicates int        `gorm:"column:observation_duplicates"`
	TotalClusters         int        `gorm:"column:total_clusters"`
	Persisted             int        `gorm:"column:persisted"`
	Rejected              int        `gorm:"column:rejected"`
	Duplicates            int        `gorm:"column:duplicates"`
	GenerationFallbacks   int        `gorm:"column:generation_fallbacks"`
}

func (runRow) TableName() string { return "aggregation_runs" }

func runFromDomain(r domain.BatchResult) runRow {
	row := runRow{
		RunID:                 r.RunID,
		StartedAt:             r.StartedAt.UTC(),
		FinishedAt:            r.FinishedAt.UTC(),
		Since:                 r.Since.UTC(),
		Observations:          r.Observations,
		InvalidObservations:   r.InvalidObservations,
		ObservationDuplicates: r.ObservationDuplicates,
		TotalClusters:         r.TotalClusters,
		Persisted:             r.Persisted,
		Rejected:              r.Rejected,
		Duplicates:            r.Duplicates,
		GenerationFallbacks:   r.GenerationFallbacks,
	}
	if r.Watermark != nil {
		w := r.Watermark.UTC()
		row.Watermark = &w
	}
	return row
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func orNaN(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}
