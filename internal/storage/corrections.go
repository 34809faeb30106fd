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

// SaveCorrectionRule inserts a new correction rule or updates an existing
// one. On insert the generated ID is written back to the rule.
func (s *SQLiteStorage) SaveCorrectionRule(ctx context.Context, rule *model.CorrectionRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if rule == nil {
		return fmt.Errorf("%w: rule", ErrNilParameter)
	}
	if err := rule.Validate(); err != nil {
		return err
	}

	triggerJSON, err := json.Marshal(rule.Trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}
	actionJSON, err := model.MarshalAction(rule.Action)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}
	guardrailsJSON, err := json.Marshal(rule.Guardrails)
	if err != nil {
		return fmt.Errorf("failed to marshal guardrails: %w", err)
	}
	rateLimitsJSON, err := json.Marshal(rule.RateLimits)
	if err != nil {
		return fmt.Errorf("failed to marshal rate limits: %w", err)
	}
	now := time.Now().UTC()

	if rule.ID == 0 {
		result, execErr := s.db.ExecContext(ctx, `
			INSERT INTO correction_rules (
				name, function, ecosystem, trigger_spec, action,
				guardrails, rate_limits, auto_rollback_seconds,
				requires_approval, active, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			rule.Name,
			rule.Function,
			rule.Ecosystem,
			string(triggerJSON),
			string(actionJSON),
			string(guardrailsJSON),
			string(rateLimitsJSON),
			int64(rule.AutoRollbackAfter.Seconds()),
			boolToInt(rule.RequiresApproval),
			boolToInt(rule.Active),
			now,
			now,
		)
		if execErr != nil {
			return fmt.Errorf("failed to insert correction rule: %w", execErr)
		}
		id, idErr := result.LastInsertId()
		if idErr != nil {
			return fmt.Errorf("failed to read correction rule id: %w", idErr)
		}
		rule.ID = id
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE correction_rules
		SET name = ?, function = ?, ecosystem = ?, trigger_spec = ?, action = ?,
		    guardrails = ?, rate_limits = ?, auto_rollback_seconds = ?,
		    requires_approval = ?, active = ?, updated_at = ?
		WHERE id = ?
	`,
		rule.Name,
		rule.Function,
		rule.Ecosystem,
		string(triggerJSON),
		string(actionJSON),
		string(guardrailsJSON),
		string(rateLimitsJSON),
		int64(rule.AutoRollbackAfter.Seconds()),
		boolToInt(rule.RequiresApproval),
		boolToInt(rule.Active),
		now,
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update correction rule %d: %w", rule.ID, err)
	}
	return nil
}

// GetActiveCorrectionRules returns every rule currently being evaluated
// against incoming measurements.
func (s *SQLiteStorage) GetActiveCorrectionRules(ctx context.Context) ([]model.CorrectionRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, function, ecosystem, trigger_spec, action,
		       guardrails, rate_limits, auto_rollback_seconds,
		       requires_approval, active, created_at, updated_at
		FROM correction_rules
		WHERE active = 1
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query correction rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.CorrectionRule
	for rows.Next() {
		var rule model.CorrectionRule
		var function, ecosystem sql.NullString
		var triggerJSON, actionJSON string
		var guardrailsJSON, rateLimitsJSON sql.NullString
		var rollbackSeconds int64
		var requiresApproval, active int
		var createdAt, updatedAt sql.NullTime

		if err := rows.Scan(
			&rule.ID,
			&rule.Name,
			&function,
			&ecosystem,
			&triggerJSON,
			&actionJSON,
			&guardrailsJSON,
			&rateLimitsJSON,
			&rollbackSeconds,
			&requiresApproval,
			&active,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan correction rule: %w", err)
		}

		rule.Function = function.String
		rule.Ecosystem = ecosystem.String
		rule.AutoRollbackAfter = time.Duration(rollbackSeconds) * time.Second
		rule.RequiresApproval = requiresApproval != 0
		rule.Active = active != 0
		rule.CreatedAt = sqliteTime(createdAt)
		rule.UpdatedAt = sqliteTime(updatedAt)

		if err := json.Unmarshal([]byte(triggerJSON), &rule.Trigger); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
		}
		action, actionErr := model.UnmarshalAction([]byte(actionJSON))
		if actionErr != nil {
			return nil, actionErr
		}
		rule.Action = action
		if err := unmarshalInto(guardrailsJSON, &rule.Guardrails); err != nil {
			return nil, err
		}
		if err := unmarshalInto(rateLimitsJSON, &rule.RateLimits); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// SaveCorrectionEvent inserts or updates one correction history record.
// History is append-only; updates only ever transition status fields.
func (s *SQLiteStorage) SaveCorrectionEvent(ctx context.Context, event *model.CorrectionEvent) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if event == nil {
		return fmt.Errorf("%w: event", ErrNilParameter)
	}
	if err := validateString(event.ID, "event.ID"); err != nil {
		return err
	}

	actionJSON, err := model.MarshalAction(event.Action)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}
	paramsBefore, err := json.Marshal(event.ParamsBefore)
	if err != nil {
		return fmt.Errorf("failed to marshal params before: %w", err)
	}
	paramsAfter, err := json.Marshal(event.ParamsAfter)
	if err != nil {
		return fmt.Errorf("failed to marshal params after: %w", err)
	}
	metricsBefore, err := json.Marshal(event.MetricsBefore)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics before: %w", err)
	}
	windowJSON, err := json.Marshal(event.Window)
	if err != nil {
		return fmt.Errorf("failed to marshal window stats: %w", err)
	}

	var metricsAfter any
	if event.MetricsAfter != nil {
		data, marshalErr := json.Marshal(event.MetricsAfter)
		if marshalErr != nil {
			return fmt.Errorf("failed to marshal metrics after: %w", marshalErr)
		}
		metricsAfter = string(data)
	}
	var approval any
	if event.Approval != nil {
		data, marshalErr := json.Marshal(event.Approval)
		if marshalErr != nil {
			return fmt.Errorf("failed to marshal approval: %w", marshalErr)
		}
		approval = string(data)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO correction_events (
			id, rule_id, rule_name, function, status, reason, action,
			params_before, params_after, metrics_before, metrics_after,
			window_stats, approval, triggered_at, applied_at,
			rollback_due_at, resolved_at, pending_expires
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			params_after = excluded.params_after,
			metrics_after = excluded.metrics_after,
			approval = excluded.approval,
			applied_at = excluded.applied_at,
			rollback_due_at = excluded.rollback_due_at,
			resolved_at = excluded.resolved_at,
			pending_expires = excluded.pending_expires
	`,
		event.ID,
		event.RuleID,
		event.RuleName,
		event.Function,
		string(event.Status),
		event.Reason,
		string(actionJSON),
		string(paramsBefore),
		string(paramsAfter),
		string(metricsBefore),
		metricsAfter,
		string(windowJSON),
		approval,
		event.TriggeredAt,
		nullableTime(event.AppliedAt),
		nullableTime(event.RollbackDueAt),
		nullableTime(event.ResolvedAt),
		nullableTime(event.PendingExpires),
	)
	if err != nil {
		return fmt.Errorf("failed to save correction event %s: %w", event.ID, err)
	}
	return nil
}

// GetCorrectionEventByID retrieves one correction history record.
func (s *SQLiteStorage) GetCorrectionEventByID(ctx context.Context, id string) (*model.CorrectionEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, correctionEventSelect+` WHERE id = ?`, id)
	event, err := scanCorrectionEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("correction event %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get correction event: %w", err)
	}
	return event, nil
}

// GetAppliedCorrections returns corrections a rule has applied since the
// given time, for rate-limit accounting. Rolled-back corrections still
// count against the limits.
func (s *SQLiteStorage) GetAppliedCorrections(ctx context.Context, ruleID int64, since time.Time) ([]model.CorrectionEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return s.queryCorrectionEvents(ctx,
		correctionEventSelect+` WHERE rule_id = ? AND status IN (?, ?) AND applied_at >= ? ORDER BY applied_at DESC`,
		ruleID,
		string(model.CorrectionApplied),
		string(model.CorrectionRolledBack),
		since,
	)
}

// GetPendingCorrections returns corrections awaiting operator approval.
func (s *SQLiteStorage) GetPendingCorrections(ctx context.Context) ([]model.CorrectionEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return s.queryCorrectionEvents(ctx,
		correctionEventSelect+` WHERE status = ? ORDER BY triggered_at ASC`,
		string(model.CorrectionPending),
	)
}

// GetDueRollbacks returns applied corrections whose auto-rollback deadline
// has passed.
func (s *SQLiteStorage) GetDueRollbacks(ctx context.Context, now time.Time) ([]model.CorrectionEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return s.queryCorrectionEvents(ctx,
		correctionEventSelect+` WHERE status = ? AND rollback_due_at IS NOT NULL AND rollback_due_at <= ? ORDER BY rollback_due_at ASC`,
		string(model.CorrectionApplied),
		now,
	)
}

const correctionEventSelect = `
	SELECT id, rule_id, rule_name, function, status, reason, action,
	       params_before, params_after, metrics_before, metrics_after,
	       window_stats, approval, triggered_at, applied_at,
	       rollback_due_at, resolved_at, pending_expires
	FROM correction_events`

func (s *SQLiteStorage) queryCorrectionEvents(ctx context.Context, query string, args ...any) ([]model.CorrectionEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query correction events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.CorrectionEvent
	for rows.Next() {
		event, scanErr := scanCorrectionEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan correction event: %w", scanErr)
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

func scanCorrectionEvent(row rowScanner) (*model.CorrectionEvent, error) {
	var event model.CorrectionEvent
	var status, actionJSON string
	var reason sql.NullString
	var paramsBefore, paramsAfter, metricsBefore sql.NullString
	var metricsAfter, windowJSON, approvalJSON sql.NullString
	var appliedAt, rollbackDueAt, resolvedAt, pendingExpires sql.NullTime

	err := row.Scan(
		&event.ID,
		&event.RuleID,
		&event.RuleName,
		&event.Function,
		&status,
		&reason,
		&actionJSON,
		&paramsBefore,
		&paramsAfter,
		&metricsBefore,
		&metricsAfter,
		&windowJSON,
		&approvalJSON,
		&event.TriggeredAt,
		&appliedAt,
		&rollbackDueAt,
		&resolvedAt,
		&pendingExpires,
	)
	if err != nil {
		return nil, err
	}

	event.Status = model.CorrectionStatus(status)
	event.Reason = reason.String
	event.AppliedAt = sqliteTime(appliedAt)
	event.RollbackDueAt = sqliteTime(rollbackDueAt)
	event.ResolvedAt = sqliteTime(resolvedAt)
	event.PendingExpires = sqliteTime(pendingExpires)

	action, err := model.UnmarshalAction([]byte(actionJSON))
	if err != nil {
		return nil, err
	}
	event.Action = action

	if err := unmarshalInto(paramsBefore, &event.ParamsBefore); err != nil {
		return nil, err
	}
	if err := unmarshalInto(paramsAfter, &event.ParamsAfter); err != nil {
		return nil, err
	}
	if err := unmarshalInto(metricsBefore, &event.MetricsBefore); err != nil {
		return nil, err
	}
	if err := unmarshalInto(windowJSON, &event.Window); err != nil {
		return nil, err
	}
	if metricsAfter.Valid && strings.TrimSpace(metricsAfter.String) != "" {
		var m model.Measurement
		if err := json.Unmarshal([]byte(metricsAfter.String), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metrics after: %w", err)
		}
		event.MetricsAfter = &m
	}
	if approvalJSON.Valid && strings.TrimSpace(approvalJSON.String) != "" {
		var a model.Approval
		if err := json.Unmarshal([]byte(approvalJSON.String), &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal approval: %w", err)
		}
		event.Approval = &a
	}
	return &event, nil
}

func unmarshalInto(column sql.NullString, target any) error {
	if !column.Valid || strings.TrimSpace(column.String) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(column.String), target); err != nil {
		return fmt.Errorf("failed to unmarshal stored JSON: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
