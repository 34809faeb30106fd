package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rallypoint-io/warroom/internal/common"
	"github.com/rallypoint-io/warroom/internal/model"
)

// SaveEvents persists a batch of ingested events, skipping duplicates by
// content hash.
func (s *SQLiteStorage) SaveEvents(ctx context.Context, events []model.Event) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateEvents(events); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO events (
			id, hash, type, category, state, district, faction,
			topics, jurisdiction, urgency, occurred_at, processed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range events {
		event := events[i]
		if event.Hash == "" {
			event.Hash = event.GenerateHash()
		}

		topicsJSON, marshalErr := json.Marshal(event.Topics)
		if marshalErr != nil {
			return fmt.Errorf("failed to marshal topics: %w", marshalErr)
		}

		if _, err = stmt.ExecContext(ctx,
			event.ID,
			event.Hash,
			event.Type,
			event.Category,
			event.State,
			event.District,
			event.Faction,
			string(topicsJSON),
			string(event.Jurisdiction),
			int(event.Urgency),
			event.OccurredAt,
		); err != nil {
			return fmt.Errorf("failed to save event %s: %w", event.ID, err)
		}
	}

	return tx.Commit()
}

// GetEventByID retrieves a single event.
func (s *SQLiteStorage) GetEventByID(ctx context.Context, id string) (*model.Event, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, hash, type, category, state, district, faction,
		       topics, jurisdiction, urgency, occurred_at, processed
		FROM events WHERE id = ?
	`, id)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

// GetUnprocessedEvents returns events awaiting evaluation, oldest first.
// A limit of 0 or less means no limit.
func (s *SQLiteStorage) GetUnprocessedEvents(ctx context.Context, limit int) ([]model.Event, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, hash, type, category, state, district, faction,
		       topics, jurisdiction, urgency, occurred_at, processed
		FROM events
		WHERE processed = 0
		ORDER BY urgency ASC, occurred_at ASC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query unprocessed events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.Event
	for rows.Next() {
		event, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan event: %w", scanErr)
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

// MarkEventProcessed flips the processed flag for an event.
func (s *SQLiteStorage) MarkEventProcessed(ctx context.Context, eventID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(eventID, "eventID"); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.markEventProcessedTx(ctx, tx, eventID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) markEventProcessedTx(ctx context.Context, tx *sql.Tx, eventID string) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE events SET processed = 1 WHERE id = ?`, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("event %s: %w", eventID, common.ErrNotFound)
	}
	return nil
}

// rowScanner covers both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*model.Event, error) {
	var event model.Event
	var topicsJSON sql.NullString
	var jurisdiction string
	var urgency int
	var state, district, faction sql.NullString
	var processed int

	err := row.Scan(
		&event.ID,
		&event.Hash,
		&event.Type,
		&event.Category,
		&state,
		&district,
		&faction,
		&topicsJSON,
		&jurisdiction,
		&urgency,
		&event.OccurredAt,
		&processed,
	)
	if err != nil {
		return nil, err
	}

	event.State = state.String
	event.District = district.String
	event.Faction = faction.String
	event.Jurisdiction = model.Jurisdiction(jurisdiction)
	event.Urgency = model.UrgencyTier(urgency)
	event.Processed = processed != 0

	if topicsJSON.Valid && strings.TrimSpace(topicsJSON.String) != "" {
		if err := json.Unmarshal([]byte(topicsJSON.String), &event.Topics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal topics: %w", err)
		}
	}
	return &event, nil
}

// sqliteTime normalizes a nullable DATETIME column.
func sqliteTime(t sql.NullTime) time.Time {
	if t.Valid {
		return t.Time
	}
	return time.Time{}
}
