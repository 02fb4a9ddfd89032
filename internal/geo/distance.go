// Package geo provides the great-circle and kinematic helpers used to group
// drone observations and describe their movement.
package geo

import (
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusKm is the mean Earth radius used for every distance in the service.
const EarthRadiusKm = 6371.0

// Point is a WGS-84 latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies inside the latitude/longitude ranges.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func (p Point) latLng() s2.LatLng {
	return s2.LatLngFromDegrees(p.Lat, p.Lng)
}

// HaversineKm returns the great-circle distance between two points in kilometers.
// s2 evaluates the haversine formula, so the result matches
// 2R·asin(√(sin²(Δlat/2) + cos lat1·cos lat2·sin²(Δlng/2))).
func HaversineKm(p1, p2 Point) float64 {
	return p1.latLng().Distance(p2.latLng()).Radians() * EarthRadiusKm
}

// Bearing returns the initial bearing (forward azimuth) from p1 to p2 in
// degrees, normalized to [0, 360) with 0 pointing north.
func Bearing(p1, p2 Point) float64 {
	lat1 := p1.Lat * math.Pi / 180
	lat2 := p2.Lat * math.Pi / 180
	dLng := (p2.Lng - p1.Lng) * math.Pi / 180

	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)

	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// Centroid returns the arithmetic mean of the points. The zero Point is
// returned for an empty slice.
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}

	var sumLat, sumLng float64
	for _, p := range points {
		sumLat += p.Lat
		sumLng += p.Lng
	}

	n := float64(len(points))
	return Point{Lat: sumLat / n, Lng: sumLng / n}
}

// CircularMeanDeg averages angles given in degrees on the circle, so 350° and
// 10° average to 0° rather than 180°. The second return value is false when
// the angles cancel out and no mean direction exists.
func CircularMeanDeg(angles []float64) (float64, bool) {
	if len(angles) == 0 {
		return 0, false
	}

	var sumSin, sumCos float64
	for _, a := range angles {
		r := a * math.Pi / 180
		sumSin += math.Sin(r)
		sumCos += math.Cos(r)
	}

	if math.Hypot(sumSin, sumCos) < 1e-9 {
		return 0, false
	}

	deg := math.Atan2(sumSin, sumCos) * 180 / math.Pi
	return math.Mod(deg+360, 360), true
}
