package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rallypoint-io/warroom/internal/model"
)

// SaveControlRule inserts a new control rule or updates an existing one.
// On insert the generated ID is written back to the rule.
func (s *SQLiteStorage) SaveControlRule(ctx context.Context, rule *model.ControlRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if rule == nil {
		return fmt.Errorf("%w: rule", ErrNilParameter)
	}
	if err := rule.Validate(); err != nil {
		return err
	}

	conditionJSON, err := json.Marshal(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to marshal rule condition: %w", err)
	}
	now := time.Now().UTC()

	if rule.ID == 0 {
		result, execErr := s.db.ExecContext(ctx, `
			INSERT INTO control_rules (
				candidate_id, name, priority, action, limit_amount,
				condition, active, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			rule.CandidateID,
			rule.Name,
			rule.Priority,
			string(rule.Action),
			rule.LimitAmount,
			string(conditionJSON),
			boolToInt(rule.Active),
			now,
			now,
		)
		if execErr != nil {
			return fmt.Errorf("failed to insert control rule: %w", execErr)
		}
		id, idErr := result.LastInsertId()
		if idErr != nil {
			return fmt.Errorf("failed to read control rule id: %w", idErr)
		}
		rule.ID = id
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE control_rules
		SET candidate_id = ?, name = ?, priority = ?, action = ?,
		    limit_amount = ?, condition = ?, active = ?, updated_at = ?
		WHERE id = ?
	`,
		rule.CandidateID,
		rule.Name,
		rule.Priority,
		string(rule.Action),
		rule.LimitAmount,
		string(conditionJSON),
		boolToInt(rule.Active),
		now,
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update control rule %d: %w", rule.ID, err)
	}
	return nil
}

// GetControlRules returns a candidate's rules ordered by priority.
func (s *SQLiteStorage) GetControlRules(ctx context.Context, candidateID string) ([]model.ControlRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(candidateID, "candidateID"); err != nil {
		return nil, err
	}
	return s.queryControlRules(ctx,
		controlRuleSelect+` WHERE candidate_id = ? ORDER BY priority ASC, id ASC`, candidateID)
}

// GetAllControlRules returns every stored rule across candidates.
func (s *SQLiteStorage) GetAllControlRules(ctx context.Context) ([]model.ControlRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.queryControlRules(ctx,
		controlRuleSelect+` ORDER BY candidate_id ASC, priority ASC, id ASC`)
}

const controlRuleSelect = `
	SELECT id, candidate_id, name, priority, action, limit_amount,
	       condition, active, created_at, updated_at
	FROM control_rules`

func (s *SQLiteStorage) queryControlRules(ctx context.Context, query string, args ...any) ([]model.ControlRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query control rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.ControlRule
	for rows.Next() {
		var rule model.ControlRule
		var action string
		var conditionJSON sql.NullString
		var active int
		var createdAt, updatedAt sql.NullTime

		if err := rows.Scan(
			&rule.ID,
			&rule.CandidateID,
			&rule.Name,
			&rule.Priority,
			&action,
			&rule.LimitAmount,
			&conditionJSON,
			&active,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan control rule: %w", err)
		}

		rule.Action = model.RuleAction(action)
		rule.Active = active != 0
		rule.CreatedAt = sqliteTime(createdAt)
		rule.UpdatedAt = sqliteTime(updatedAt)

		if conditionJSON.Valid && strings.TrimSpace(conditionJSON.String) != "" {
			if err := json.Unmarshal([]byte(conditionJSON.String), &rule.Condition); err != nil {
				return nil, fmt.Errorf("failed to unmarshal rule condition: %w", err)
			}
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
