// Package correction implements the self-correction control loop: it
// watches quality/cost/latency measurements, applies bounded reversible
// corrections to function configuration, and rolls back corrections that
// hurt quality.
package correction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rallypoint-io/warroom/internal/common"
	"github.com/rallypoint-io/warroom/internal/config"
	"github.com/rallypoint-io/warroom/internal/model"
	"github.com/rallypoint-io/warroom/internal/service"
)

// Engine evaluates self-correction rules against incoming measurements. It
// runs on its own cadence, triggered by measurement ingestion, and writes
// function configuration through the same versioned snapshot store the
// decision engine reads.
type Engine struct {
	storage service.Storage
	configs *config.Store
	tracker *tracker
	now     func() time.Time
}

// New creates a correction engine.
func New(storage service.Storage, configs *config.Store) *Engine {
	return &Engine{
		storage: storage,
		configs: configs,
		tracker: newTracker(),
		now:     time.Now,
	}
}

// Ingest records one measurement and evaluates every matching active rule.
// It returns the correction events produced (pending, applied, or blocked);
// rate-limited violations produce none.
func (e *Engine) Ingest(ctx context.Context, m model.Measurement) ([]model.CorrectionEvent, error) {
	if m.Function == "" {
		return nil, &common.ValidationError{Field: "function", Reason: "measurement function is required"}
	}
	if m.MeasuredAt.IsZero() {
		m.MeasuredAt = e.now()
	}

	if err := e.storage.SaveMeasurement(ctx, &m); err != nil {
		return nil, fmt.Errorf("failed to save measurement: %w", err)
	}

	ruleSet, err := e.storage.GetActiveCorrectionRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load correction rules: %w", err)
	}

	var produced []model.CorrectionEvent
	for i := range ruleSet {
		rule := &ruleSet[i]
		if !rule.AppliesTo(m) {
			continue
		}

		event, err := e.evaluateRule(ctx, rule, m)
		if err != nil {
			slog.Error("Rule evaluation failed",
				"rule", rule.Name,
				"function", m.Function,
				"error", err)
			continue
		}
		if event != nil {
			produced = append(produced, *event)
		}
	}

	return produced, nil
}

// evaluateRule runs one rule against one measurement: streak tracking,
// rate limits, guardrails, then approval gating or application.
func (e *Engine) evaluateRule(ctx context.Context, rule *model.CorrectionRule, m model.Measurement) (*model.CorrectionEvent, error) {
	value, err := m.Value(rule.Trigger.Metric)
	if err != nil {
		return nil, err
	}
	violates, err := rule.Trigger.Op.Violates(value, rule.Trigger.Threshold)
	if err != nil {
		return nil, err
	}

	fired := e.tracker.observe(rule, m.Function, m.MeasuredAt, value, violates)
	if !fired {
		return nil, nil
	}

	now := e.now()

	// Rate limits: exceeded means the violation is logged but no action is
	// taken. The streak resets, so firing again requires a fresh run of
	// consecutive violations once the window reopens.
	if ok, reason := e.withinRateLimits(ctx, rule, now); !ok {
		e.tracker.reset(rule.ID, m.Function)
		slog.Warn("Correction suppressed by rate limit",
			"rule", rule.Name,
			"function", m.Function,
			"reason", reason,
			"metric", rule.Trigger.Metric,
			"value", value)
		return nil, nil
	}

	window := e.tracker.windowStats(rule.ID, m.Function)

	before := e.functionParams(m.Function)
	event := &model.CorrectionEvent{
		ID:            uuid.NewString(),
		RuleID:        rule.ID,
		RuleName:      rule.Name,
		Function:      m.Function,
		TriggeredAt:   now,
		Action:        rule.Action,
		ParamsBefore:  before,
		MetricsBefore: m,
		Window:        window,
	}

	// Guardrails are checked before anything is held or applied: an action
	// that would breach a ceiling is blocked outright.
	if err := checkGuardrails(rule, rule.Action, m); err != nil {
		var violation *common.GuardrailViolationError
		if errors.As(err, &violation) {
			event.Status = model.CorrectionBlocked
			event.Reason = violation.Error()
			if saveErr := e.storage.SaveCorrectionEvent(ctx, event); saveErr != nil {
				return nil, saveErr
			}
			slog.Warn("Correction blocked by guardrail",
				"rule", rule.Name,
				"function", m.Function,
				"reason", event.Reason)
			return event, nil
		}
		return nil, err
	}

	if rule.RequiresApproval {
		event.Status = model.CorrectionPending
		event.PendingExpires = now.Add(e.configs.Current().Thresholds.ApprovalTTL)
		if err := e.storage.SaveCorrectionEvent(ctx, event); err != nil {
			return nil, err
		}
		slog.Info("Correction held for approval",
			"rule", rule.Name,
			"function", m.Function,
			"correction_id", event.ID)
		return event, nil
	}

	if err := e.apply(ctx, rule, event); err != nil {
		return nil, err
	}
	return event, nil
}

// apply mutates the function configuration through the snapshot store and
// schedules the automatic rollback check.
func (e *Engine) apply(ctx context.Context, rule *model.CorrectionRule, event *model.CorrectionEvent) error {
	after := event.Action.Apply(event.ParamsBefore)

	if _, err := e.configs.UpdateFunction(event.Function, after); err != nil {
		return fmt.Errorf("failed to update function config: %w", err)
	}

	now := e.now()
	event.Status = model.CorrectionApplied
	event.AppliedAt = now
	event.ParamsAfter = after
	if rule.AutoRollbackAfter > 0 {
		event.RollbackDueAt = now.Add(rule.AutoRollbackAfter)
	}

	if err := e.storage.SaveCorrectionEvent(ctx, event); err != nil {
		// The config change is the observable effect; without its record
		// the correction must not stand.
		if _, revertErr := e.configs.UpdateFunction(event.Function, event.ParamsBefore); revertErr != nil {
			slog.Error("Failed to revert config after persist failure",
				"function", event.Function,
				"error", revertErr)
		}
		return err
	}

	slog.Info("Correction applied",
		"rule", rule.Name,
		"function", event.Function,
		"action", event.Action.Describe(),
		"correction_id", event.ID,
		"rollback_due", event.RollbackDueAt)

	return nil
}

// withinRateLimits checks cooldown and the hourly/daily sliding windows
// over this rule's applied corrections.
func (e *Engine) withinRateLimits(ctx context.Context, rule *model.CorrectionRule, now time.Time) (bool, string) {
	limits := rule.RateLimits
	if limits.MaxPerHour <= 0 && limits.MaxPerDay <= 0 && limits.Cooldown <= 0 {
		return true, ""
	}

	since := now.Add(-24 * time.Hour)
	applied, err := e.storage.GetAppliedCorrections(ctx, rule.ID, since)
	if err != nil {
		slog.Error("Failed to load applied corrections for rate limiting",
			"rule", rule.Name,
			"error", err)
		// Fail closed: without history we cannot prove the limit holds.
		return false, "history unavailable"
	}

	var lastHour int
	var latest time.Time
	hourAgo := now.Add(-time.Hour)
	for _, c := range applied {
		if c.AppliedAt.After(hourAgo) {
			lastHour++
		}
		if c.AppliedAt.After(latest) {
			latest = c.AppliedAt
		}
	}

	if limits.Cooldown > 0 && !latest.IsZero() && now.Sub(latest) < limits.Cooldown {
		return false, "cooldown"
	}
	if limits.MaxPerHour > 0 && lastHour >= limits.MaxPerHour {
		return false, "max_per_hour"
	}
	if limits.MaxPerDay > 0 && len(applied) >= limits.MaxPerDay {
		return false, "max_per_day"
	}

	return true, ""
}

// ApplyApproval resolves a pending correction with an external signal.
func (e *Engine) ApplyApproval(ctx context.Context, correctionID string, approval model.Approval) (*model.CorrectionEvent, error) {
	event, err := e.storage.GetCorrectionEventByID(ctx, correctionID)
	if err != nil {
		return nil, err
	}
	if event.Status != model.CorrectionPending {
		return nil, fmt.Errorf("correction %s is %s, not pending", correctionID, event.Status)
	}

	event.Approval = &approval

	if !approval.Approved {
		event.Status = model.CorrectionBlocked
		event.Reason = fmt.Sprintf("denied by %s", approval.Approver)
		event.ResolvedAt = e.now()
		if err := e.storage.SaveCorrectionEvent(ctx, event); err != nil {
			return nil, err
		}
		slog.Info("Correction denied", "correction_id", correctionID, "approver", approval.Approver)
		return event, nil
	}

	// Re-derive the rule's rollback schedule; the rule may have changed
	// while the correction waited.
	ruleSet, err := e.storage.GetActiveCorrectionRules(ctx)
	if err != nil {
		return nil, err
	}
	var rule *model.CorrectionRule
	for i := range ruleSet {
		if ruleSet[i].ID == event.RuleID {
			rule = &ruleSet[i]
			break
		}
	}
	if rule == nil {
		return nil, fmt.Errorf("rule %d for correction %s: %w", event.RuleID, correctionID, common.ErrNotFound)
	}

	// Re-snapshot: parameters may have moved while pending.
	event.ParamsBefore = e.functionParams(event.Function)
	if err := e.apply(ctx, rule, event); err != nil {
		return nil, err
	}
	return event, nil
}

// ExpirePending sweeps pending corrections whose approval window lapsed.
func (e *Engine) ExpirePending(ctx context.Context) (int, error) {
	pending, err := e.storage.GetPendingCorrections(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending corrections: %w", err)
	}

	expired := 0
	now := e.now()
	for i := range pending {
		event := &pending[i]
		if event.PendingExpires.IsZero() || now.Before(event.PendingExpires) {
			continue
		}
		event.Status = model.CorrectionExpired
		event.Reason = "no approval signal before expiry"
		event.ResolvedAt = now
		if err := e.storage.SaveCorrectionEvent(ctx, event); err != nil {
			return expired, err
		}
		expired++
		slog.Info("Pending correction expired", "correction_id", event.ID)
	}

	return expired, nil
}

// CheckRollbacks re-measures every applied correction whose rollback timer
// is due. A correction that dropped quality or effectiveness below its
// rule's floor is reverted to the exact pre-correction snapshot.
func (e *Engine) CheckRollbacks(ctx context.Context) (int, error) {
	now := e.now()
	due, err := e.storage.GetDueRollbacks(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to load due rollbacks: %w", err)
	}

	rules, err := e.storage.GetActiveCorrectionRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load correction rules: %w", err)
	}
	floors := make(map[int64]model.Guardrails, len(rules))
	for _, r := range rules {
		floors[r.ID] = r.Guardrails
	}

	rolledBack := 0
	for i := range due {
		event := &due[i]

		latest, err := e.latestMeasurement(ctx, event.Function, event.AppliedAt)
		if err != nil {
			slog.Warn("No post-correction measurement yet, deferring rollback check",
				"correction_id", event.ID,
				"function", event.Function)
			continue
		}
		event.MetricsAfter = latest

		g := floors[event.RuleID]
		healthy := (g.QualityFloor <= 0 || latest.Quality >= g.QualityFloor) &&
			(g.EffectivenessFloor <= 0 || latest.Effectiveness >= g.EffectivenessFloor)

		if healthy {
			event.RollbackDueAt = time.Time{}
			event.ResolvedAt = now
			if err := e.storage.SaveCorrectionEvent(ctx, event); err != nil {
				return rolledBack, err
			}
			slog.Info("Correction held up under re-measurement",
				"correction_id", event.ID,
				"quality", latest.Quality,
				"effectiveness", latest.Effectiveness)
			continue
		}

		// Revert to the exact pre-correction snapshot.
		if _, err := e.configs.UpdateFunction(event.Function, event.ParamsBefore); err != nil {
			return rolledBack, fmt.Errorf("failed to revert function config: %w", err)
		}
		event.Status = model.CorrectionRolledBack
		event.Reason = fmt.Sprintf("quality %.3f / effectiveness %.3f below guardrail floor",
			latest.Quality, latest.Effectiveness)
		event.RollbackDueAt = time.Time{}
		event.ResolvedAt = now
		if err := e.storage.SaveCorrectionEvent(ctx, event); err != nil {
			return rolledBack, err
		}
		rolledBack++

		slog.Warn("Correction rolled back",
			"correction_id", event.ID,
			"function", event.Function,
			"reason", event.Reason)
	}

	return rolledBack, nil
}

// latestMeasurement returns the newest measurement for the function taken
// after since.
func (e *Engine) latestMeasurement(ctx context.Context, function string, since time.Time) (*model.Measurement, error) {
	measurements, err := e.storage.GetMeasurements(ctx, function, since)
	if err != nil {
		return nil, err
	}
	if len(measurements) == 0 {
		return nil, common.ErrNotFound
	}
	latest := measurements[0]
	for _, m := range measurements[1:] {
		if m.MeasuredAt.After(latest.MeasuredAt) {
			latest = m
		}
	}
	return &latest, nil
}

// functionParams reads the function's current parameters from the snapshot
// store, defaulting to an enabled empty parameter set.
func (e *Engine) functionParams(function string) model.FunctionParams {
	if params, ok := e.configs.Current().Function(function); ok {
		return params
	}
	return model.FunctionParams{Params: map[string]float64{}, Enabled: true}
}
