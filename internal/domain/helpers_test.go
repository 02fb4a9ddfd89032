package domain

import (
	"time"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/geo"
)

var baseTime = time.Date(2025, 10, 4, 18, 30, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func newObservation(id string, offset time.Duration, lat, lng float64, st SourceType) Observation {
	return Observation{
		ID:         id,
		Timestamp:  baseTime.Add(offset),
		Location:   geo.Point{Lat: lat, Lng: lng},
		SourceType: st,
	}
}

func withConfidence(o Observation, c float64) Observation {
	o.Signal.Confidence = ptr(c)
	return o
}

func clusterOf(obs ...Observation) *Cluster {
	c := &Cluster{}
	for i := range obs {
		c.Members = append(c.Members, &obs[i])
	}
	return c
}

func clusterSizes(clusters []*Cluster) []int {
	sizes := make([]int, len(clusters))
	for i, c := range clusters {
		sizes[i] = c.Size()
	}
	return sizes
}

func memberIDs(c *Cluster) []string {
	ids := make([]string, len(c.Members))
	for i, o := range c.Members {
		ids[i] = o.ID
	}
	return ids
}
