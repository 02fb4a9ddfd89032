package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable marks a failed fetch or write against the store.
	// It is fatal to the run.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrGenerationFailure marks a summary generation that timed out, failed,
	// or returned unparseable content. It is always recovered with a template.
	ErrGenerationFailure = errors.New("generation failure")

	// ErrValidation marks an incident that failed output checks.
	ErrValidation = errors.New("validation failure")

	// ErrConfiguration marks invalid thresholds, weights or settings. It is
	// fatal at startup.
	ErrConfiguration = errors.New("configuration error")
)

// Stage names used in StageError.
const (
	StageFetch     = "fetch"
	StageWrite     = "write"
	StageWatermark = "watermark"
)

// StageError identifies the pipeline stage that failed a run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
