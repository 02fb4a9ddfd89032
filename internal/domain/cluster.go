package domain

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/geo"
)

// MaxClusterSize is the hard cap on observations per cluster. A full cluster
// closes immediately and the next nearby observation starts a new one.
const MaxClusterSize = 5

// ClusterParams are the temporal and spatial gates of the clustering pass.
type ClusterParams struct {
	TimeWindow         time.Duration
	SpatialThresholdKm float64
}

// DefaultClusterParams returns a 15 minute window and a 5 km threshold.
func DefaultClusterParams() ClusterParams {
	return ClusterParams{
		TimeWindow:         15 * time.Minute,
		SpatialThresholdKm: 5,
	}
}

// Validate rejects non-positive windows and thresholds.
func (p ClusterParams) Validate() error {
	if p.TimeWindow <= 0 {
		return fmt.Errorf("%w: time window must be positive, got %s", ErrConfiguration, p.TimeWindow)
	}
	if !(p.SpatialThresholdKm > 0) {
		return fmt.Errorf("%w: spatial threshold must be positive, got %v", ErrConfiguration, p.SpatialThresholdKm)
	}
	return nil
}

// Cluster is a group of observations believed to describe one incident.
// Members are in insertion order, which is also timestamp order, and point
// into a sorted, deduplicated copy of the batch made by ClusterObservations.
// The caller's slice is never referenced.
type Cluster struct {
	Members []*Observation
	seq     int
}

// Size returns the number of members.
func (c *Cluster) Size() int { return len(c.Members) }

// Seq returns the creation order of the cluster within its run.
func (c *Cluster) Seq() int { return c.seq }

func (c *Cluster) last() *Observation { return c.Members[len(c.Members)-1] }

// ClusterStats reports observations that did not take part in clustering.
type ClusterStats struct {
	Invalid    int
	Duplicates int
}

// ClusterObservations groups observations with a greedy single pass over the
// time-sorted batch. Each observation joins the open cluster whose last member
// is within the window and threshold and has the smallest normalized
// gap+distance score, or starts a new cluster. Clusters are returned in
// creation order.
func ClusterObservations(observations []Observation, params ClusterParams) ([]*Cluster, ClusterStats) {
	batch, stats := prepareBatch(observations)

	var (
		all  []*Cluster
		open []*Cluster
	)

	for i := range batch {
		o := &batch[i]

		// Close clusters that aged out relative to o.
		open = slices.DeleteFunc(open, func(c *Cluster) bool {
			return o.Timestamp.Sub(c.last().Timestamp) > params.TimeWindow
		})

		var (
			best     *Cluster
			bestCost float64
			bestDist float64
		)
		for _, c := range open {
			if c.Size() >= MaxClusterSize {
				continue
			}
			gap := o.Timestamp.Sub(c.last().Timestamp)
			dist := geo.HaversineKm(o.Location, c.last().Location)
			if dist > params.SpatialThresholdKm {
				continue
			}
			cost := float64(gap)/float64(params.TimeWindow) + dist/params.SpatialThresholdKm
			if best == nil || betterCandidate(cost, dist, c.seq, bestCost, bestDist, best.seq) {
				best, bestCost, bestDist = c, cost, dist
			}
		}

		if best == nil {
			c := &Cluster{Members: []*Observation{o}, seq: len(all)}
			all = append(all, c)
			open = append(open, c)
			continue
		}

		best.Members = append(best.Members, o)
		if best.Size() >= MaxClusterSize {
			open = slices.DeleteFunc(open, func(c *Cluster) bool { return c == best })
		}
	}

	return all, stats
}

func betterCandidate(cost, dist float64, seq int, bestCost, bestDist float64, bestSeq int) bool {
	if cost != bestCost {
		return cost < bestCost
	}
	if dist != bestDist {
		return dist < bestDist
	}
	return seq < bestSeq
}

// prepareBatch drops invalid and duplicate observations and sorts the rest by
// timestamp, breaking ties by id.
func prepareBatch(observations []Observation) ([]Observation, ClusterStats) {
	var stats ClusterStats
	seen := make(map[string]struct{}, len(observations))
	batch := make([]Observation, 0, len(observations))

	for _, o := range observations {
		if !o.Valid() {
			stats.Invalid++
			continue
		}
		if _, dup := seen[o.ID]; dup {
			stats.Duplicates++
			continue
		}
		seen[o.ID] = struct{}{}
		o.Timestamp = o.Timestamp.UTC()
		if !o.SourceType.Valid() {
			o.SourceType = ParseSourceType(string(o.SourceType), o.Signal.SensorType, o.Signal.DetectionSource)
		}
		batch = append(batch, o)
	}

	slices.SortFunc(batch, func(a, b Observation) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return batch, stats
}
