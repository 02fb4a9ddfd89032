// Package sqlite stores silver-layer observations, gold-layer incidents and
// the aggregation run ledger in a SQLite database through gorm.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/domain"
)

const insertBatchSize = 100

// Store is the SQLite-backed observation source, incident sink and run ledger.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and migrates the
// tables the aggregator owns.
func Open(path string, logger *slog.Logger) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create database directory: %w", domain.ErrStoreUnavailable, err)
		}
		dsn = path + "?_busy_timeout=5000"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", domain.ErrStoreUnavailable, path, err)
	}

	if path == ":memory:" {
		// Every pooled connection would get its own empty in-memory database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&observationRow{}, &incidentRow{}, &runRow{}); err != nil {
		return nil, fmt.Errorf("%w: migrate: %w", domain.ErrStoreUnavailable, err)
	}

	logger.Info("sqlite store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// FetchSince returns the observations whose timestamp_utc or ingestion_time
// is at or after since, ordered by timestamp then id. Matching on ingestion
// time picks up rows that arrived after a run with an older event time. The sequence is lazy and restartable: each
// iteration issues a fresh query. Query failures are yielded as errors
// wrapping domain.ErrStoreUnavailable.
func (s *Store) FetchSince(ctx context.Context, since time.Time) (iter.Seq2[domain.Observation, error], error) {
	if err := s.CheckReadiness(ctx); err != nil {
		return nil, unavailable("fetch observations", err)
	}

	return func(yield func(domain.Observation, error) bool) {
		rows, err := s.db.WithContext(ctx).
			Model(&observationRow{}).
			Where("timestamp_utc >= ? OR ingestion_time >= ?", since.UTC(), since.UTC()).
			Order("timestamp_utc ASC, detection_id ASC").
			Rows()
		if err != nil {
			yield(domain.Observation{}, unavailable("query observations", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var row observationRow
			if err := s.db.ScanRows(rows, &row); err != nil {
				yield(domain.Observation{}, unavailable("scan observation", err))
				return
			}
			if !yield(row.toDomain(), nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Observation{}, unavailable("iterate observations", err))
		}
	}, nil
}

// InsertObservations writes observations to the silver layer, skipping ids
// that already exist. It returns the number of rows inserted.
func (s *Store) InsertObservations(ctx context.Context, observations []domain.Observation) (int, error) {
	if len(observations) == 0 {
		return 0, nil
	}
	rows := make([]observationRow, len(observations))
	for i, o := range observations {
		rows[i] = observationFromDomain(o)
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, insertBatchSize)
	if result.Error != nil {
		return 0, unavailable("insert observations", result.Error)
	}
	return int(result.RowsAffected), nil
}

// AppendIncidents inserts incidents into the gold layer. Ids already present
// are left untouched. It returns the incidents that were newly written, in
// input order.
func (s *Store) AppendIncidents(ctx context.Context, incidents []domain.Incident) ([]domain.Incident, error) {
	if len(incidents) == 0 {
		return nil, nil
	}

	var inserted []domain.Incident
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make([]string, len(incidents))
		for i, inc := range incidents {
			ids[i] = inc.IncidentID
		}

		var existing []string
		if err := tx.Model(&incidentRow{}).Where("incident_id IN ?", ids).Pluck("incident_id", &existing).Error; err != nil {
			return err
		}

		rows := make([]incidentRow, 0, len(incidents))
		for _, inc := range incidents {
			if slices.Contains(existing, inc.IncidentID) {
				continue
			}
			existing = append(existing, inc.IncidentID)
			rows = append(rows, incidentFromDomain(inc))
			inserted = append(inserted, inc)
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, insertBatchSize).Error
	})
	if err != nil {
		return nil, unavailable("append incidents", err)
	}
	return inserted, nil
}

// Incidents yields every persisted incident ordered by start time.
func (s *Store) Incidents(ctx context.Context) iter.Seq2[domain.Incident, error] {
	return func(yield func(domain.Incident, error) bool) {
		rows, err := s.db.WithContext(ctx).
			Model(&incidentRow{}).
			Order("timestamp_start ASC, incident_id ASC").
			Rows()
		if err != nil {
			yield(domain.Incident{}, unavailable("query incidents", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var row incidentRow
			if err := s.db.ScanRows(rows, &row); err != nil {
				yield(domain.Incident{}, unavailable("scan incident", err))
				return
			}
			if !yield(row.toDomain(), nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Incident{}, unavailable("iterate incidents", err))
		}
	}
}

// LastWatermark returns the highest watermark recorded by a previous run.
// The boolean is false when no run has recorded one.
func (s *Store) LastWatermark(ctx context.Context) (time.Time, bool, error) {
	var row runRow
	err := s.db.WithContext(ctx).
		Where("watermark IS NOT NULL").
		Order("watermark DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, unavailable("read watermark", err)
	}
	return row.Watermark.UTC(), true, nil
}

// RecordRun stores the result of a run in the ledger.
func (s *Store) RecordRun(ctx context.Context, result domain.BatchResult) error {
	row := runFromDomain(result)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return unavailable("record run", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}
