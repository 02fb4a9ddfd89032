package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// haversineReference is the textbook formula the service must match.
func haversineReference(p1, p2 Point) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(p2.Lat - p1.Lat)
	dLng := rad(p2.Lng - p1.Lng)
	a := math.Pow(math.Sin(dLat/2), 2) + math.Cos(rad(p1.Lat))*math.Cos(rad(p2.Lat))*math.Pow(math.Sin(dLng/2), 2)
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(a))
}

func TestHaversineKm(t *testing.T) {
	tests := []struct {
		name string
		p1   Point
		p2   Point
		want float64
	}{
		{"same point", Point{52.2297, 21.0122}, Point{52.2297, 21.0122}, 0},
		{"Warsaw to Krakow", Point{52.2297, 21.0122}, Point{50.0647, 19.9450}, 252.0},
		{"one degree of latitude", Point{0, 0}, Point{1, 0}, 111.195},
		{"across the antimeridian", Point{0, 179.5}, Point{0, -179.5}, 111.195},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(tt.p1, tt.p2)
			assert.InDelta(t, tt.want, got, 0.5)
			assert.InDelta(t, haversineReference(tt.p1, tt.p2), got, 1e-9)
		})
	}
}

func TestHaversineKm_Symmetric(t *testing.T) {
	a := Point{Lat: 53.1325, Lng: 23.1688}
	b := Point{Lat: 52.2297, Lng: 21.0122}
	assert.InDelta(t, HaversineKm(a, b), HaversineKm(b, a), 1e-12)
}

func TestBearing(t *testing.T) {
	origin := Point{Lat: 0, Lng: 0}

	assert.InDelta(t, 0, Bearing(origin, Point{Lat: 1, Lng: 0}), 1e-9)
	assert.InDelta(t, 90, Bearing(origin, Point{Lat: 0, Lng: 1}), 1e-9)
	assert.InDelta(t, 180, Bearing(origin, Point{Lat: -1, Lng: 0}), 1e-9)
	assert.InDelta(t, 270, Bearing(origin, Point{Lat: 0, Lng: -1}), 1e-9)
}

func TestCentroid(t *testing.T) {
	assert.Equal(t, Point{}, Centroid(nil))

	got := Centroid([]Point{{Lat: 52, Lng: 21}, {Lat: 54, Lng: 23}})
	assert.InDelta(t, 53, got.Lat, 1e-12)
	assert.InDelta(t, 22, got.Lng, 1e-12)
}

func TestCircularMeanDeg(t *testing.T) {
	mean, ok := CircularMeanDeg([]float64{350, 10})
	assert.True(t, ok)
	assert.InDelta(t, 0, math.Min(mean, 360-mean), 1e-9)

	mean, ok = CircularMeanDeg([]float64{80, 100})
	assert.True(t, ok)
	assert.InDelta(t, 90, mean, 1e-9)

	_, ok = CircularMeanDeg([]float64{0, 180})
	assert.False(t, ok)

	_, ok = CircularMeanDeg(nil)
	assert.False(t, ok)
}

func TestPoint_Valid(t *testing.T) {
	assert.True(t, Point{Lat: 90, Lng: -180}.Valid())
	assert.False(t, Point{Lat: 90.1, Lng: 0}.Valid())
	assert.False(t, Point{Lat: 0, Lng: 180.5}.Valid())
	assert.False(t, Point{Lat: math.NaN(), Lng: 0}.Valid())
}
