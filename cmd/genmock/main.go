// Command genmock generates a deterministic mock silver-layer dataset for
// the aggregator test suites and local runs. The same dataset can be written
// as a JSON fixture, seeded into a SQLite database, or both.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out data/mock/silver_observations.json \
//	  -db ./data/uavo.db
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/adapter/sqlite"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/domain"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/geo"
)

var baseTime = time.Date(2025, time.October, 4, 18, 0, 0, 0, time.UTC)

// hotspot is a location where a burst of detections is generated. Bursts are
// spaced further apart in time than the default clustering window.
type hotspot struct {
	name       string
	center     geo.Point
	detections int
}

var hotspots = []hotspot{
	{name: "warsaw", center: geo.Point{Lat: 52.2297, Lng: 21.0122}, detections: 7},
	{name: "krakow", center: geo.Point{Lat: 50.0647, Lng: 19.945}, detections: 8},
	{name: "gdansk", center: geo.Point{Lat: 54.352, Lng: 18.6466}, detections: 9},
	{name: "wroclaw", center: geo.Point{Lat: 51.1079, Lng: 17.0385}, detections: 10},
}

var (
	sources      = []domain.SourceType{domain.SourceAcoustic, domain.SourceVisual, domain.SourceSocial, domain.SourceManual}
	sensorTypes  = map[domain.SourceType]string{domain.SourceAcoustic: "microphone", domain.SourceVisual: "camera", domain.SourceSocial: "twitter", domain.SourceManual: "report"}
	confidences  = []float64{0.55, 0.65, 0.75, 0.85, 0.95}
	burstSpacing = 40 * time.Minute
	stepInterval = 90 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path for the JSON fixture")
	dbPath := flag.String("db", "", "SQLite database to seed with the dataset")
	flag.Parse()

	if *out == "" && *dbPath == "" {
		flag.Usage()
		return fmt.Errorf("at least one of -out or -db is required")
	}

	observations := generate()
	log.Printf("generated %d observations across %d hotspots", len(observations), len(hotspots))

	if *out != "" {
		if err := writeJSON(*out, observations); err != nil {
			return fmt.Errorf("writing fixture: %w", err)
		}
		log.Printf("wrote fixture: %s", *out)
	}

	if *dbPath != "" {
		store, err := sqlite.Open(*dbPath, slog.Default())
		if err != nil {
			return err
		}
		defer store.Close()
		inserted, err := store.InsertObservations(context.Background(), observations)
		if err != nil {
			return fmt.Errorf("seeding %s: %w", *dbPath, err)
		}
		log.Printf("seeded %s: %d new rows", *dbPath, inserted)
	}

	printStats(observations)
	return nil
}

// generate builds bursts of detections walking north from each hotspot,
// followed by two rows with out-of-range coordinates.
func generate() []domain.Observation {
	var observations []domain.Observation
	for h, spot := range hotspots {
		for k := range spot.detections {
			source := sources[(h+k)%len(sources)]
			ts := baseTime.Add(time.Duration(h)*burstSpacing + time.Duration(k)*stepInterval)
			obs := domain.Observation{
				ID:        fmt.Sprintf("det-%d-%02d", h+1, k+1),
				Timestamp: ts,
				Location: geo.Point{
					Lat: round6(spot.center.Lat + float64(k)*0.0009),
					Lng: round6(spot.center.Lng + float64(k%3)*0.0012),
				},
				AltitudeM: ptr(float64(100 + 10*k)),
				Signal: domain.Signal{
					Confidence: ptr(confidences[(h+2*k)%len(confidences)]),
					SensorType: sensorTypes[source],
				},
				SourceType: source,
				SensorID:   fmt.Sprintf("sensor-%s-%d", spot.name, h+1),
				IngestedAt: ts.Add(30 * time.Second),
			}
			if source == domain.SourceVisual {
				obs.Kinematics = domain.Kinematics{SpeedMps: ptr(12.5), HeadingDeg: ptr(0.0)}
			}
			observations = append(observations, obs)
		}
	}

	invalid := []geo.Point{{Lat: 95, Lng: 21}, {Lat: 52, Lng: -200}}
	for i, p := range invalid {
		ts := baseTime.Add(time.Duration(i+1) * time.Minute)
		observations = append(observations, domain.Observation{
			ID:         fmt.Sprintf("det-bad-%02d", i+1),
			Timestamp:  ts,
			Location:   p,
			SourceType: domain.SourceOther,
			IngestedAt: ts.Add(30 * time.Second),
		})
	}
	return observations
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func printStats(observations []domain.Observation) {
	counts := map[domain.SourceType]int{}
	invalid := 0
	for i := range observations {
		if !observations[i].Valid() {
			invalid++
			continue
		}
		counts[observations[i].SourceType]++
	}

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Total: %d (invalid %d)\n", len(observations), invalid)
	fmt.Printf("By source: acoustic=%d, visual=%d, social=%d, manual=%d\n",
		counts[domain.SourceAcoustic], counts[domain.SourceVisual], counts[domain.SourceSocial], counts[domain.SourceManual])
	for _, spot := range hotspots {
		full := spot.detections / domain.MaxClusterSize
		rest := spot.detections % domain.MaxClusterSize
		fmt.Printf("  %-8s detections=%d expected clusters=%d\n", spot.name, spot.detections, full+min(rest, 1))
	}
}

func ptr[T any](v T) *T { return &v }

func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }
