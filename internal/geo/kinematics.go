package geo

import (
	"math"
	"time"
)

// EstimateSpeedKmh returns the average ground speed between two fixes. It
// returns nil when either point is missing or both fixes share a timestamp.
func EstimateSpeedKmh(p1 *Point, t1 time.Time, p2 *Point, t2 time.Time) *float64 {
	if p1 == nil || p2 == nil || t1.Equal(t2) {
		return nil
	}

	hours := math.Abs(t2.Sub(t1).Hours())
	speed := HaversineKm(*p1, *p2) / hours
	return &speed
}

// TrackPoint is one fix of a trajectory with an optional altitude in meters.
type TrackPoint struct {
	Point
	AltitudeM *float64
}

// Trajectory describes a direction of travel as a bearing and as a unit
// vector in the local east/north/up frame.
type Trajectory struct {
	BearingDeg float64 `json:"bearing_deg"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
}

// NormalizeTrajectory derives the direction of travel from the first to the
// last usable point. It returns nil when fewer than two usable points exist
// or the displacement is zero.
func NormalizeTrajectory(points []TrackPoint) *Trajectory {
	usable := make([]TrackPoint, 0, len(points))
	for _, p := range points {
		if p.Valid() {
			usable = append(usable, p)
		}
	}
	if len(usable) < 2 {
		return nil
	}

	first, last := usable[0], usable[len(usable)-1]

	meanLat := (first.Lat + last.Lat) / 2 * math.Pi / 180
	north := (last.Lat - first.Lat) * math.Pi / 180 * EarthRadiusKm
	east := wrapDegrees(last.Lng-first.Lng) * math.Pi / 180 * EarthRadiusKm * math.Cos(meanLat)

	var up float64
	if first.AltitudeM != nil && last.AltitudeM != nil {
		up = (*last.AltitudeM - *first.AltitudeM) / 1000
	}

	norm := math.Sqrt(east*east + north*north + up*up)
	if norm < 1e-9 {
		return nil
	}

	return &Trajectory{
		BearingDeg: Bearing(first.Point, last.Point),
		X:          east / norm,
		Y:          north / norm,
		Z:          up / norm,
	}
}

// TrajectoryFromBearing builds a horizontal trajectory from a heading in degrees.
func TrajectoryFromBearing(deg float64) *Trajectory {
	deg = math.Mod(math.Mod(deg, 360)+360, 360)
	r := deg * math.Pi / 180
	return &Trajectory{
		BearingDeg: deg,
		X:          math.Sin(r),
		Y:          math.Cos(r),
	}
}

// wrapDegrees maps a longitude difference into [-180, 180].
func wrapDegrees(d float64) float64 {
	for d > 180 {
		d -= 360
	}
	for d < -180 {
		d += 360
	}
	return d
}
