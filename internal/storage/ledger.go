package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rallypoint-io/warroom/internal/common"
	"github.com/rallypoint-io/warroom/internal/model"
)

// GetLedgerNodes loads the whole budget tree.
func (s *SQLiteStorage) GetLedgerNodes(ctx context.Context) ([]model.LedgerNode, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, level, budget, actual, updated_at
		FROM ledger_nodes
		ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var nodes []model.LedgerNode
	for rows.Next() {
		var node model.LedgerNode
		var level string
		if err := rows.Scan(&node.Key, &level, &node.Budget, &node.Actual, &node.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger node: %w", err)
		}
		node.Level = model.LedgerLevel(level)
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// UpsertLedgerNode creates or updates one node's budget and actual.
func (s *SQLiteStorage) UpsertLedgerNode(ctx context.Context, node model.LedgerNode) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateNode(&node); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_nodes (key, level, budget, actual, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			level = excluded.level,
			budget = excluded.budget,
			actual = excluded.actual,
			updated_at = excluded.updated_at
	`, node.Key, string(node.Level), node.Budget, node.Actual, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert ledger node %s: %w", node.Key, err)
	}
	return nil
}

// ApplyLedgerDelta adjusts the actual spend on every listed node inside one
// transaction. All keys must exist; otherwise nothing is written.
func (s *SQLiteStorage) ApplyLedgerDelta(ctx context.Context, keys []string, delta float64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: keys", ErrEmptySlice)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE ledger_nodes
		SET actual = actual + ?, updated_at = ?
		WHERE key = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for _, key := range keys {
		result, execErr := stmt.ExecContext(ctx, delta, now, key)
		if execErr != nil {
			return fmt.Errorf("failed to apply delta to %s: %w", key, execErr)
		}
		affected, raErr := result.RowsAffected()
		if raErr != nil {
			return fmt.Errorf("failed to check rows affected: %w", raErr)
		}
		if affected == 0 {
			return fmt.Errorf("ledger node %s: %w", key, common.ErrNotFound)
		}
	}
	return tx.Commit()
}

// SaveReservation inserts or updates a reservation record.
func (s *SQLiteStorage) SaveReservation(ctx context.Context, reservation model.Reservation) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateReservation(&reservation); err != nil {
		return err
	}

	var expiresAt any
	if !reservation.ExpiresAt.IsZero() {
		expiresAt = reservation.ExpiresAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reservations (
			id, decision_id, candidate, campaign, channel, tier,
			amount, state, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			expires_at = excluded.expires_at
	`,
		reservation.ID,
		reservation.DecisionID,
		reservation.Path.Candidate,
		reservation.Path.Campaign,
		reservation.Path.Channel,
		reservation.Path.Tier,
		reservation.Amount,
		string(reservation.State),
		reservation.CreatedAt,
		expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save reservation %s: %w", reservation.ID, err)
	}
	return nil
}

// GetHeldReservations returns every reservation still holding budget, for
// recovery after restart.
func (s *SQLiteStorage) GetHeldReservations(ctx context.Context) ([]model.Reservation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, decision_id, candidate, campaign, channel, tier,
		       amount, state, created_at, expires_at
		FROM reservations
		WHERE state = ?
		ORDER BY created_at ASC
	`, string(model.ReservationHeld))
	if err != nil {
		return nil, fmt.Errorf("failed to query held reservations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reservations []model.Reservation
	for rows.Next() {
		reservation, scanErr := scanReservation(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", scanErr)
		}
		reservations = append(reservations, *reservation)
	}
	return reservations, rows.Err()
}

func scanReservation(row rowScanner) (*model.Reservation, error) {
	var reservation model.Reservation
	var decisionID sql.NullString
	var state string
	var expiresAt sql.NullTime

	err := row.Scan(
		&reservation.ID,
		&decisionID,
		&reservation.Path.Candidate,
		&reservation.Path.Campaign,
		&reservation.Path.Channel,
		&reservation.Path.Tier,
		&reservation.Amount,
		&state,
		&reservation.CreatedAt,
		&expiresAt,
	)
	if err != nil {
		return nil, err
	}

	reservation.DecisionID = decisionID.String
	reservation.State = model.ReservationState(state)
	reservation.ExpiresAt = sqliteTime(expiresAt)
	return &reservation, nil
}
