// Package store exports the cleaned samples and the summary table to a
// SQLite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"comtrust/latency/internal/aggregate"
	"comtrust/latency/internal/measurement"
)

const createTablesQuery = `
CREATE TABLE IF NOT EXISTS trials (
	meas TEXT NOT NULL,
	os TEXT NOT NULL,
	device TEXT NOT NULL,
	i INTEGER NOT NULL,
	latency_ms REAL NOT NULL,
	PRIMARY KEY (meas, device, i)
);
CREATE TABLE IF NOT EXISTS summary (
	device TEXT NOT NULL,
	os TEXT NOT NULL,
	n INTEGER NOT NULL,
	mean REAL,
	std REAL,
	median REAL,
	iqr REAL,
	PRIMARY KEY (device, os)
);
`

type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open creates or opens the database at path and makes sure the tables exist.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("[store] opening %s: %w", path, err)
	}
	if _, err := db.Exec(createTablesQuery); err != nil {
		db.Close()
		return nil, fmt.Errorf("[store] creating tables in %s: %w", path, err)
	}
	return &Store{db: db, path: path, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// nullable stores NaN as NULL.
func nullable(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
}

// Replace swaps the content of both tables in one transaction, so reruns
// leave exactly one copy of the results.
func (s *Store) Replace(ctx context.Context, samples []measurement.Sample, summaries []aggregate.Summary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("[store] begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"trials", "summary"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("[store] clearing %s: %w", table, err)
		}
	}

	insertTrial, err := tx.PrepareContext(ctx, "INSERT INTO trials (meas, os, device, i, latency_ms) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("[store] preparing trials insert: %w", err)
	}
	defer insertTrial.Close()
	for _, sample := range samples {
		if _, err := insertTrial.ExecContext(ctx, sample.Meas, sample.OS, sample.Device, sample.I, sample.LatencyMS); err != nil {
			return fmt.Errorf("[store] inserting trial %s/%s/%d: %w", sample.Meas, sample.Device, sample.I, err)
		}
	}

	insertSummary, err := tx.PrepareContext(ctx, "INSERT INTO summary (device, os, n, mean, std, median, iqr) VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("[store] preparing summary insert: %w", err)
	}
	defer insertSummary.Close()
	for _, summary := range summaries {
		_, err := insertSummary.ExecContext(ctx, summary.Device, summary.OS, summary.N,
			nullable(summary.Mean), nullable(summary.Std), nullable(summary.Median), nullable(summary.IQR))
		if err != nil {
			return fmt.Errorf("[store] inserting summary %s/%s: %w", summary.Device, summary.OS, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("[store] commit: %w", err)
	}
	s.logger.Info("[store] exported results",
		zap.String("database", s.path),
		zap.Int("trials", len(samples)),
		zap.Int("groups", len(summaries)),
	)
	return nil
}

// Samples reads the exported samples back in (os, device, i) order.
func (s *Store) Samples(ctx context.Context) ([]measurement.Sample, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT meas, os, device, i, latency_ms FROM trials ORDER BY os, device, i, meas")
	if err != nil {
		return nil, fmt.Errorf("[store] querying trials: %w", err)
	}
	defer rows.Close()

	var out []measurement.Sample
	for rows.Next() {
		var sample measurement.Sample
		if err := rows.Scan(&sample.Meas, &sample.OS, &sample.Device, &sample.I, &sample.LatencyMS); err != nil {
			return nil, fmt.Errorf("[store] scanning trial: %w", err)
		}
		out = append(out, sample)
	}
	return out, rows.Err()
}

// SummaryCount returns the number of rows in the summary table.
func (s *Store) SummaryCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM summary").Scan(&n); err != nil {
		return 0, fmt.Errorf("[store] counting summary rows: %w", err)
	}
	return n, nil
}
