// Command validate re-checks every incident persisted in the gold layer
// against the output invariants and cross-checks it with the silver-layer
// observations it references.
//
// Usage:
//
//	go run ./cmd/validate -db ./data/uavo.db
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/adapter/sqlite"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dbPath := flag.String("db", "./data/uavo.db", "SQLite database holding the silver and gold layers")
	flag.Parse()

	os.Exit(run(context.Background(), *dbPath, os.Stdout))
}

func run(ctx context.Context, dbPath string, out io.Writer) int {
	fmt.Fprintln(out, "=== Gold Layer Integrity Validation ===")
	fmt.Fprintln(out)

	store, err := sqlite.Open(dbPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open store: %v\n", err)
		return 1
	}
	defer store.Close()

	incidents, err := loadIncidents(ctx, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load incidents: %v\n", err)
		return 1
	}
	observations, err := loadObservations(ctx, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load observations: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateInvariants(incidents),
		validateIdentifiers(incidents),
		validateReferences(incidents, observations),
	}

	fmt.Fprintln(out)
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Records: %d incidents, %d observations\n", len(incidents), len(observations))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(out, "\nValidation FAILED.")
	return 1
}

func loadIncidents(ctx context.Context, store *sqlite.Store) ([]domain.Incident, error) {
	var incidents []domain.Incident
	for inc, err := range store.Incidents(ctx) {
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	return incidents, nil
}

func loadObservations(ctx context.Context, store *sqlite.Store) (map[string]domain.Observation, error) {
	seq, err := store.FetchSince(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	observations := make(map[string]domain.Observation)
	for obs, err := range seq {
		if err != nil {
			return nil, err
		}
		observations[obs.ID] = obs
	}
	return observations, nil
}

// validateInvariants applies the writer's own output checks.
func validateInvariants(incidents []domain.Incident) *phase {
	p := &phase{name: "Phase 1: Incident invariants"}
	for _, inc := range incidents {
		if err := domain.ValidateIncident(inc); err != nil {
			p.errorf("%s: %v", inc.IncidentID, err)
		}
		if inc.SummarySource != domain.SummaryGenerated && inc.SummarySource != domain.SummaryTemplate {
			p.errorf("%s: unknown summary_source %q", inc.IncidentID, inc.SummarySource)
		}
	}
	return p
}

// validateIdentifiers checks ids are derived from membership and unique.
func validateIdentifiers(incidents []domain.Incident) *phase {
	p := &phase{name: "Phase 2: Deterministic identifiers"}
	seen := make(map[string]bool, len(incidents))
	for _, inc := range incidents {
		if want := domain.IncidentID(inc.ObservationIDs); inc.IncidentID != want {
			p.errorf("%s: id does not match members (want %s)", inc.IncidentID, want)
		}
		if seen[inc.IncidentID] {
			p.errorf("%s: duplicate incident id", inc.IncidentID)
		}
		seen[inc.IncidentID] = true
	}
	return p
}

// validateReferences checks each incident against its member observations.
func validateReferences(incidents []domain.Incident, observations map[string]domain.Observation) *phase {
	p := &phase{name: "Phase 3: Silver layer references"}
	for _, inc := range incidents {
		var first, last time.Time
		for _, id := range inc.ObservationIDs {
			obs, ok := observations[id]
			if !ok {
				p.errorf("%s: member %s not found in silver layer", inc.IncidentID, id)
				continue
			}
			if first.IsZero() || obs.Timestamp.Before(first) {
				first = obs.Timestamp
			}
			if obs.Timestamp.After(last) {
				last = obs.Timestamp
			}
		}
		if first.IsZero() {
			continue
		}
		if !inc.TimestampStart.Equal(first.UTC().Truncate(time.Microsecond)) {
			p.errorf("%s: timestamp_start %s, earliest member %s", inc.IncidentID, inc.TimestampStart.Format(time.RFC3339Nano), first.Format(time.RFC3339Nano))
		}
		if !inc.TimestampEnd.Equal(last.UTC().Truncate(time.Microsecond)) {
			p.errorf("%s: timestamp_end %s, latest member %s", inc.IncidentID, inc.TimestampEnd.Format(time.RFC3339Nano), last.Format(time.RFC3339Nano))
		}
	}
	return p
}
