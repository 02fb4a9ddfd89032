package domain

import "time"

// BatchResult reports the outcome of one aggregation run.
type BatchResult struct {
	RunID               string     `json:"run_id"`
	StartedAt           time.Time  `json:"started_at"`
	FinishedAt          time.Time  `json:"finished_at"`
	Since               time.Time  `json:"since"`
	Watermark           *time.Time `json:"watermark"`
	Observations        int        `json:"observations"`
	InvalidObservations int        `json:"invalid_observations"`
	// ObservationDuplicates counts repeated deliveries of an observation id.
	ObservationDuplicates int         `json:"observation_duplicates"`
	TotalClusters         int         `json:"total_clusters"`
	Persisted             int         `json:"persisted"`
	Rejected              int         `json:"rejected"`
	Duplicates            int         `json:"duplicates"`
	GenerationFallbacks   int         `json:"generation_fallbacks"`
	Rejections            []Rejection `json:"rejections"`
}
