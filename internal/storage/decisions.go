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

// SaveDecision inserts a decision, or updates its verdict when a pending
// decision resolves. The outcome columns are never touched here.
func (s *SQLiteStorage) SaveDecision(ctx context.Context, decision *model.Decision) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDecision(decision); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveDecisionTx(ctx, tx, decision); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) saveDecisionTx(ctx context.Context, tx *sql.Tx, decision *model.Decision) error {
	reasonsJSON, err := json.Marshal(decision.Reasons)
	if err != nil {
		return fmt.Errorf("failed to marshal reasons: %w", err)
	}

	var pendingExpires any
	if !decision.PendingExpiresAt.IsZero() {
		pendingExpires = decision.PendingExpiresAt
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO decisions (
			id, event_id, candidate_id, campaign, channel, tier,
			reservation_id, verdict, reasons, rationale,
			relevance, expected_roi, response_probability, expected_cost,
			confidence, control_approved, budget_approved, config_version,
			evaluated_at, pending_expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id, candidate_id) DO UPDATE SET
			verdict = excluded.verdict,
			reasons = excluded.reasons,
			rationale = excluded.rationale,
			reservation_id = excluded.reservation_id,
			control_approved = excluded.control_approved,
			budget_approved = excluded.budget_approved,
			pending_expires_at = excluded.pending_expires_at
	`,
		decision.ID,
		decision.EventID,
		decision.CandidateID,
		decision.Campaign,
		decision.Channel,
		decision.Tier,
		decision.ReservationID,
		string(decision.Verdict),
		string(reasonsJSON),
		decision.Rationale,
		decision.Relevance,
		decision.ExpectedROI,
		decision.ResponseProbability,
		decision.ExpectedCost,
		decision.Confidence,
		boolToInt(decision.ControlApproved),
		boolToInt(decision.BudgetApproved),
		decision.ConfigVersion,
		decision.EvaluatedAt,
		pendingExpires,
	)
	if err != nil {
		return fmt.Errorf("failed to save decision %s: %w", decision.ID, err)
	}
	return nil
}

// GetDecision looks up the decision for one event/candidate pair.
func (s *SQLiteStorage) GetDecision(ctx context.Context, eventID, candidateID string) (*model.Decision, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(eventID, "eventID"); err != nil {
		return nil, err
	}
	if err := validateString(candidateID, "candidateID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		decisionSelect+` WHERE event_id = ? AND candidate_id = ?`, eventID, candidateID)
	decision, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decision for event %s candidate %s: %w", eventID, candidateID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return decision, nil
}

// GetDecisionByID retrieves a decision by its primary key.
func (s *SQLiteStorage) GetDecisionByID(ctx context.Context, id string) (*model.Decision, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, decisionSelect+` WHERE id = ?`, id)
	decision, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decision %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return decision, nil
}

// GetPendingDecisions returns every decision still awaiting approval,
// oldest first.
func (s *SQLiteStorage) GetPendingDecisions(ctx context.Context) ([]model.Decision, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		decisionSelect+` WHERE verdict = ? ORDER BY evaluated_at ASC`,
		string(model.VerdictPendingApproval))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var decisions []model.Decision
	for rows.Next() {
		decision, scanErr := scanDecision(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", scanErr)
		}
		decisions = append(decisions, *decision)
	}
	return decisions, rows.Err()
}

// SaveDecisionOutcome backfills the actual result onto a finalized decision.
func (s *SQLiteStorage) SaveDecisionOutcome(ctx context.Context, decisionID string, outcome model.DecisionOutcome) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(decisionID, "decisionID"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE decisions
		SET sent_count = ?, revenue = ?, realized_roi = ?, outcome_recorded_at = ?
		WHERE id = ?
	`,
		outcome.SentCount,
		outcome.Revenue,
		outcome.RealizedROI,
		outcome.RecordedAt,
		decisionID,
	)
	if err != nil {
		return fmt.Errorf("failed to save decision outcome: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("decision %s: %w", decisionID, common.ErrNotFound)
	}
	return nil
}

// SaveRuleAudits appends the audit trail for a decision's rule evaluation.
func (s *SQLiteStorage) SaveRuleAudits(ctx context.Context, decisionID string, audits []model.RuleAudit) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(decisionID, "decisionID"); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveRuleAuditsTx(ctx, tx, decisionID, audits); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) saveRuleAuditsTx(ctx context.Context, tx *sql.Tx, decisionID string, audits []model.RuleAudit) error {
	if len(audits) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO decision_rule_audit (
			decision_id, rule_id, rule_name, action, matched, applied, tested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, audit := range audits {
		if _, err := stmt.ExecContext(ctx,
			decisionID,
			audit.RuleID,
			audit.RuleName,
			string(audit.Action),
			boolToInt(audit.Matched),
			boolToInt(audit.Applied),
			audit.TestedAt,
		); err != nil {
			return fmt.Errorf("failed to save rule audit: %w", err)
		}
	}
	return nil
}

// GetRuleAudits returns the audit trail for a decision in evaluation order.
func (s *SQLiteStorage) GetRuleAudits(ctx context.Context, decisionID string) ([]model.RuleAudit, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(decisionID, "decisionID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT decision_id, rule_id, rule_name, action, matched, applied, tested_at
		FROM decision_rule_audit
		WHERE decision_id = ?
		ORDER BY id ASC
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule audits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var audits []model.RuleAudit
	for rows.Next() {
		var audit model.RuleAudit
		var action string
		var matched, applied int
		if err := rows.Scan(
			&audit.DecisionID,
			&audit.RuleID,
			&audit.RuleName,
			&action,
			&matched,
			&applied,
			&audit.TestedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule audit: %w", err)
		}
		audit.Action = model.RuleAction(action)
		audit.Matched = matched != 0
		audit.Applied = applied != 0
		audits = append(audits, audit)
	}
	return audits, rows.Err()
}

// GetDailySpend sums the expected cost of GO and pending decisions for a
// candidate within the UTC day containing the given time.
func (s *SQLiteStorage) GetDailySpend(ctx context.Context, candidateID string, day time.Time) (float64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(candidateID, "candidateID"); err != nil {
		return 0, err
	}

	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(expected_cost)
		FROM decisions
		WHERE candidate_id = ?
		  AND verdict IN (?, ?)
		  AND evaluated_at >= ? AND evaluated_at < ?
	`,
		candidateID,
		string(model.VerdictGo),
		string(model.VerdictPendingApproval),
		dayStart,
		dayEnd,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to query daily spend: %w", err)
	}
	return total.Float64, nil
}

const decisionSelect = `
	SELECT id, event_id, candidate_id, campaign, channel, tier,
	       reservation_id, verdict, reasons, rationale,
	       relevance, expected_roi, response_probability, expected_cost,
	       confidence, control_approved, budget_approved, config_version,
	       evaluated_at, pending_expires_at,
	       sent_count, revenue, realized_roi, outcome_recorded_at
	FROM decisions`

func scanDecision(row rowScanner) (*model.Decision, error) {
	var decision model.Decision
	var campaign, channel, tier, reservationID, reasonsJSON, rationale sql.NullString
	var verdict string
	var controlApproved, budgetApproved int
	var pendingExpires, outcomeRecorded sql.NullTime
	var sentCount sql.NullInt64
	var revenue, realizedROI sql.NullFloat64

	err := row.Scan(
		&decision.ID,
		&decision.EventID,
		&decision.CandidateID,
		&campaign,
		&channel,
		&tier,
		&reservationID,
		&verdict,
		&reasonsJSON,
		&rationale,
		&decision.Relevance,
		&decision.ExpectedROI,
		&decision.ResponseProbability,
		&decision.ExpectedCost,
		&decision.Confidence,
		&controlApproved,
		&budgetApproved,
		&decision.ConfigVersion,
		&decision.EvaluatedAt,
		&pendingExpires,
		&sentCount,
		&revenue,
		&realizedROI,
		&outcomeRecorded,
	)
	if err != nil {
		return nil, err
	}

	decision.Campaign = campaign.String
	decision.Channel = channel.String
	decision.Tier = tier.String
	decision.ReservationID = reservationID.String
	decision.Verdict = model.Verdict(verdict)
	decision.Rationale = rationale.String
	decision.ControlApproved = controlApproved != 0
	decision.BudgetApproved = budgetApproved != 0
	decision.PendingExpiresAt = sqliteTime(pendingExpires)

	if reasonsJSON.Valid && strings.TrimSpace(reasonsJSON.String) != "" {
		if err := json.Unmarshal([]byte(reasonsJSON.String), &decision.Reasons); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reasons: %w", err)
		}
	}

	if outcomeRecorded.Valid {
		decision.Outcome = &model.DecisionOutcome{
			RecordedAt:  outcomeRecorded.Time,
			SentCount:   int(sentCount.Int64),
			Revenue:     revenue.Float64,
			RealizedROI: realizedROI.Float64,
		}
	}
	return &decision, nil
}
