package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/geo"
)

const (
	incidentIDPrefix = "inc-"
	kmhPerMps        = 3.6
)

// BuildIncident derives every field of an incident except the summary from
// the cluster and its score. The result depends only on the members, so
// re-running over the same observations yields the same incident.
func BuildIncident(c *Cluster, score Score) Incident {
	members := c.Members

	ids := make([]string, len(members))
	points := make([]geo.Point, len(members))
	track := make([]geo.TrackPoint, len(members))
	start, end := members[0].Timestamp, members[0].Timestamp
	for i, o := range members {
		ids[i] = o.ID
		points[i] = o.Location
		track[i] = geo.TrackPoint{Point: o.Location, AltitudeM: o.AltitudeM}
		if o.Timestamp.Before(start) {
			start = o.Timestamp
		}
		if o.Timestamp.After(end) {
			end = o.Timestamp
		}
	}

	return Incident{
		IncidentID:        IncidentID(ids),
		TimestampStart:    start.UTC(),
		TimestampEnd:      end.UTC(),
		LocationCenter:    geo.Centroid(points),
		DataPoints:        points,
		RiskLevel:         score.RiskLevel,
		Trajectory:        trajectoryOf(members, track),
		EstimatedSpeedKmh: speedOf(members),
		SourceTypes:       distinctSourceTypes(members),
		Confidence:        score.Confidence,
		ObservationIDs:    ids,
	}
}

// IncidentID derives a stable id from the member observation ids, so the
// same members always produce the same id regardless of order.
func IncidentID(observationIDs []string) string {
	sorted := slices.Clone(observationIDs)
	slices.Sort(sorted)
	h := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return incidentIDPrefix + hex.EncodeToString(h[:8])
}

// trajectoryOf uses the first-to-last displacement and falls back to the
// circular mean of reported headings.
func trajectoryOf(members []*Observation, track []geo.TrackPoint) *geo.Trajectory {
	if t := geo.NormalizeTrajectory(track); t != nil {
		return t
	}

	var headings []float64
	for _, o := range members {
		if o.Kinematics.HeadingDeg != nil {
			headings = append(headings, *o.Kinematics.HeadingDeg)
		}
	}
	if mean, ok := geo.CircularMeanDeg(headings); ok {
		return geo.TrajectoryFromBearing(mean)
	}
	return nil
}

// speedOf estimates from the first and last fix and falls back to the mean
// reported ground speed.
func speedOf(members []*Observation) *float64 {
	first, last := members[0], members[len(members)-1]
	if v := geo.EstimateSpeedKmh(&first.Location, first.Timestamp, &last.Location, last.Timestamp); v != nil {
		return v
	}

	var sum float64
	var n int
	for _, o := range members {
		if o.Kinematics.SpeedMps != nil {
			sum += *o.Kinematics.SpeedMps
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := sum / float64(n) * kmhPerMps
	return &mean
}

// distinctSourceTypes returns the sorted set of source types present.
func distinctSourceTypes(members []*Observation) []SourceType {
	types := make([]SourceType, 0, len(members))
	for _, o := range members {
		if !slices.Contains(types, o.SourceType) {
			types = append(types, o.SourceType)
		}
	}
	slices.Sort(types)
	return types
}

func centroidOf(members []*Observation) geo.Point {
	points := make([]geo.Point, len(members))
	for i, o := range members {
		points[i] = o.Location
	}
	return geo.Centroid(points)
}
