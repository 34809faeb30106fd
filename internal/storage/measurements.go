package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rallypoint-io/warroom/internal/model"
)

// SaveMeasurement appends one telemetry sample.
func (s *SQLiteStorage) SaveMeasurement(ctx context.Context, measurement *model.Measurement) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if measurement == nil {
		return fmt.Errorf("%w: measurement", ErrNilParameter)
	}
	if err := validateString(measurement.Function, "measurement.Function"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO measurements (
			function, ecosystem, quality, effectiveness, latency_ms,
			cost, error_rate, sample_size, measured_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		measurement.Function,
		measurement.Ecosystem,
		measurement.Quality,
		measurement.Effectiveness,
		measurement.LatencyMs,
		measurement.Cost,
		measurement.ErrorRate,
		measurement.SampleSize,
		measurement.MeasuredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save measurement: %w", err)
	}
	return nil
}

// GetMeasurements returns a function's samples since the given time, newest
// first.
func (s *SQLiteStorage) GetMeasurements(ctx context.Context, function string, since time.Time) ([]model.Measurement, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(function, "function"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT function, ecosystem, quality, effectiveness, latency_ms,
		       cost, error_rate, sample_size, measured_at
		FROM measurements
		WHERE function = ? AND measured_at >= ?
		ORDER BY measured_at DESC
	`, function, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var measurements []model.Measurement
	for rows.Next() {
		var m model.Measurement
		var ecosystem sql.NullString
		if err := rows.Scan(
			&m.Function,
			&ecosystem,
			&m.Quality,
			&m.Effectiveness,
			&m.LatencyMs,
			&m.Cost,
			&m.ErrorRate,
			&m.SampleSize,
			&m.MeasuredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		m.Ecosystem = ecosystem.String
		measurements = append(measurements, m)
	}
	return measurements, rows.Err()
}
