package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application
// expects.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema: events, candidates, scores, decisions",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS events (
					id TEXT PRIMARY KEY,
					hash TEXT UNIQUE NOT NULL,
					type TEXT NOT NULL,
					category TEXT NOT NULL,
					state TEXT,
					district TEXT,
					faction TEXT,
					topics TEXT,
					jurisdiction TEXT NOT NULL,
					urgency INTEGER NOT NULL,
					occurred_at DATETIME NOT NULL,
					processed INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_events_processed ON events(processed)`,
				`CREATE INDEX idx_events_category ON events(category)`,

				`CREATE TABLE IF NOT EXISTS candidates (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					district TEXT,
					state TEXT,
					faction TEXT,
					office_name TEXT,
					office_categories TEXT,
					office_responsibilities TEXT,
					office_geo_scope TEXT,
					committees TEXT,
					priorities TEXT,
					donor_industries TEXT,
					voting_topics TEXT,
					weights TEXT,
					active INTEGER NOT NULL DEFAULT 1,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_candidates_active ON candidates(active)`,

				`CREATE TABLE IF NOT EXISTS relevance_scores (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					event_id TEXT NOT NULL,
					candidate_id TEXT NOT NULL,
					role REAL NOT NULL,
					district REAL NOT NULL,
					donor REAL NOT NULL,
					committee REAL NOT NULL,
					priority REAL NOT NULL,
					voting REAL NOT NULL,
					faction REAL NOT NULL,
					geography REAL NOT NULL,
					total REAL NOT NULL,
					scored_at DATETIME NOT NULL,
					FOREIGN KEY (event_id) REFERENCES events(id)
				)`,
				`CREATE INDEX idx_relevance_scores_event ON relevance_scores(event_id)`,

				`CREATE TABLE IF NOT EXISTS decisions (
					id TEXT PRIMARY KEY,
					event_id TEXT NOT NULL,
					candidate_id TEXT NOT NULL,
					campaign TEXT,
					channel TEXT,
					tier TEXT,
					reservation_id TEXT,
					verdict TEXT NOT NULL,
					reasons TEXT,
					rationale TEXT,
					relevance REAL NOT NULL DEFAULT 0,
					expected_roi REAL NOT NULL DEFAULT 0,
					response_probability REAL NOT NULL DEFAULT 0,
					expected_cost REAL NOT NULL DEFAULT 0,
					confidence REAL NOT NULL DEFAULT 0,
					control_approved INTEGER NOT NULL DEFAULT 0,
					budget_approved INTEGER NOT NULL DEFAULT 0,
					config_version INTEGER NOT NULL DEFAULT 0,
					evaluated_at DATETIME NOT NULL,
					pending_expires_at DATETIME,
					sent_count INTEGER,
					revenue REAL,
					realized_roi REAL,
					outcome_recorded_at DATETIME,
					UNIQUE(event_id, candidate_id)
				)`,
				`CREATE INDEX idx_decisions_verdict ON decisions(verdict)`,
				`CREATE INDEX idx_decisions_candidate ON decisions(candidate_id)`,

				`CREATE TABLE IF NOT EXISTS decision_rule_audit (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					decision_id TEXT NOT NULL,
					rule_id INTEGER NOT NULL,
					rule_name TEXT NOT NULL,
					action TEXT NOT NULL,
					matched INTEGER NOT NULL,
					applied INTEGER NOT NULL,
					tested_at DATETIME NOT NULL,
					FOREIGN KEY (decision_id) REFERENCES decisions(id)
				)`,
				`CREATE INDEX idx_rule_audit_decision ON decision_rule_audit(decision_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Budget ledger: nodes and reservations",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS ledger_nodes (
					key TEXT PRIMARY KEY,
					level TEXT NOT NULL,
					budget REAL NOT NULL DEFAULT 0,
					actual REAL NOT NULL DEFAULT 0,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_ledger_nodes_level ON ledger_nodes(level)`,

				`CREATE TABLE IF NOT EXISTS reservations (
					id TEXT PRIMARY KEY,
					decision_id TEXT,
					candidate TEXT NOT NULL,
					campaign TEXT NOT NULL,
					channel TEXT NOT NULL,
					tier TEXT NOT NULL,
					amount REAL NOT NULL,
					state TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					expires_at DATETIME
				)`,
				`CREATE INDEX idx_reservations_state ON reservations(state)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Control rules, self-correction rules/events, measurements",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS control_rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					candidate_id TEXT NOT NULL,
					name TEXT NOT NULL,
					priority INTEGER NOT NULL,
					action TEXT NOT NULL,
					limit_amount REAL NOT NULL DEFAULT 0,
					condition TEXT,
					active INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_control_rules_candidate ON control_rules(candidate_id, priority)`,

				`CREATE TABLE IF NOT EXISTS correction_rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					function TEXT,
					ecosystem TEXT,
					trigger_spec TEXT NOT NULL,
					action TEXT NOT NULL,
					guardrails TEXT,
					rate_limits TEXT,
					auto_rollback_seconds INTEGER NOT NULL DEFAULT 0,
					requires_approval INTEGER NOT NULL DEFAULT 0,
					active INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS correction_events (
					id TEXT PRIMARY KEY,
					rule_id INTEGER NOT NULL,
					rule_name TEXT NOT NULL,
					function TEXT NOT NULL,
					status TEXT NOT NULL,
					reason TEXT,
					action TEXT NOT NULL,
					params_before TEXT,
					params_after TEXT,
					metrics_before TEXT,
					metrics_after TEXT,
					window_stats TEXT,
					approval TEXT,
					triggered_at DATETIME NOT NULL,
					applied_at DATETIME,
					rollback_due_at DATETIME,
					resolved_at DATETIME,
					pending_expires DATETIME,
					FOREIGN KEY (rule_id) REFERENCES correction_rules(id)
				)`,
				`CREATE INDEX idx_correction_events_rule ON correction_events(rule_id, status)`,
				`CREATE INDEX idx_correction_events_status ON correction_events(status)`,

				`CREATE TABLE IF NOT EXISTS measurements (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					function TEXT NOT NULL,
					ecosystem TEXT,
					quality REAL NOT NULL,
					effectiveness REAL NOT NULL,
					latency_ms REAL NOT NULL,
					cost REAL NOT NULL,
					error_rate REAL NOT NULL,
					sample_size INTEGER NOT NULL DEFAULT 0,
					measured_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_measurements_function ON measurements(function, measured_at)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// Migrate runs all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	// Ensure migrations table exists
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	current, err := s.currentSchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= current {
			continue
		}

		slog.Info("Applying migration",
			"version", migration.Version,
			"description", migration.Description)

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration transaction: %w", err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}

		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (version, description) VALUES (?, ?)`,
			migration.Version, migration.Description,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

func (s *SQLiteStorage) currentSchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM schema_migrations`,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
