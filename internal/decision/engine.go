package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rallypoint-io/warroom/internal/common"
	"github.com/rallypoint-io/warroom/internal/config"
	"github.com/rallypoint-io/warroom/internal/ledger"
	"github.com/rallypoint-io/warroom/internal/model"
	"github.com/rallypoint-io/warroom/internal/rules"
	"github.com/rallypoint-io/warroom/internal/scoring"
	"github.com/rallypoint-io/warroom/internal/service"
)

// CostFunctionName is the configuration function the cost-estimation step
// prices against.
const CostFunctionName = "cost_estimator"

// Config holds configuration options for the decision engine.
type Config struct {
	// ExternalTimeout bounds every call to the cost and response models.
	ExternalTimeout time.Duration
	// AudienceSize is the assumed outbound audience per send.
	AudienceSize int
	// AverageGift is the assumed revenue per conversion.
	AverageGift float64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ExternalTimeout: 5 * time.Second,
		AudienceSize:    5000,
		AverageGift:     45.0,
	}
}

// Engine orchestrates the relevance scorer, budget ledger, and control-panel
// rule evaluator into a single-pass GO/NO-GO evaluation.
type Engine struct {
	storage   service.Storage
	ledger    *ledger.Ledger
	scorer    *scoring.Scorer
	evaluator *rules.Evaluator
	configs   *config.Store
	costs     CostModel
	responses ResponseModel
	now       func() time.Time
	cfg       Config
}

// New creates a decision engine with the given dependencies.
func New(storage service.Storage, budget *ledger.Ledger, configs *config.Store, costs CostModel, responses ResponseModel, cfg Config) *Engine {
	if cfg.ExternalTimeout <= 0 {
		cfg.ExternalTimeout = DefaultConfig().ExternalTimeout
	}
	if cfg.AudienceSize <= 0 {
		cfg.AudienceSize = DefaultConfig().AudienceSize
	}
	if cfg.AverageGift <= 0 {
		cfg.AverageGift = DefaultConfig().AverageGift
	}
	return &Engine{
		storage:   storage,
		ledger:    budget,
		scorer:    scoring.NewScorer(),
		evaluator: rules.NewEvaluator(),
		configs:   configs,
		costs:     costs,
		responses: responses,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Evaluate runs the full decision pass for one event against one candidate.
// Every evaluation persists a decision with all sub-model values and the
// specific rejection reasons; decisions are never silently dropped.
// Idempotent: a decision already recorded for this (event, candidate) pair
// is returned as-is.
func (e *Engine) Evaluate(ctx context.Context, event model.Event, candidate model.Candidate) (*model.Decision, error) {
	if err := event.Validate(); err != nil {
		return nil, &common.ValidationError{Field: "event", Reason: err.Error()}
	}
	if candidate.ID == "" {
		return nil, &common.ValidationError{Field: "candidate", Reason: "candidate id is required"}
	}

	// Idempotency by construction key: retried evaluations after a crash
	// must not double-spend budget.
	existing, err := e.storage.GetDecision(ctx, event.ID, candidate.ID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing decision: %w", err)
	}
	if existing != nil {
		slog.Debug("Decision already recorded",
			"event_id", event.ID,
			"candidate_id", candidate.ID,
			"verdict", existing.Verdict)
		return existing, nil
	}

	// One immutable configuration snapshot for the whole pass.
	snapshot := e.configs.Current()
	target := impliedTarget(event)

	decision := &model.Decision{
		ID:            uuid.NewString(),
		EventID:       event.ID,
		CandidateID:   candidate.ID,
		Campaign:      target.Campaign,
		Channel:       target.Channel,
		Tier:          target.Tier,
		EvaluatedAt:   e.now(),
		ConfigVersion: snapshot.Version,
	}

	// Step 1: relevance.
	score := e.scorer.Score(event, candidate)
	decision.Relevance = score.Total
	if err := e.storage.SaveRelevanceScore(ctx, &score); err != nil {
		return nil, fmt.Errorf("failed to save relevance score: %w", err)
	}

	if score.Total < snapshot.Thresholds.RelevanceThreshold {
		decision.Verdict = model.VerdictNoGo
		decision.Reasons = []string{model.ReasonRelevanceBelowThreshold}
		decision.Rationale = fmt.Sprintf("relevance %.1f below threshold %.1f",
			score.Total, snapshot.Thresholds.RelevanceThreshold)
		return decision, e.finalize(ctx, decision, nil)
	}

	// Step 2: expected ROI and cost from the external models, priced
	// against this snapshot's cost-estimator parameters.
	quote, err := e.quote(ctx, event, candidate, target, snapshot)
	if err != nil {
		decision.Verdict = model.VerdictNoGo
		decision.Reasons = []string{model.ReasonExternalUnavailable}
		decision.Rationale = err.Error()
		return decision, e.finalize(ctx, decision, nil)
	}

	decision.ResponseProbability = quote.probability
	decision.ExpectedCost = quote.expectedCost
	decision.ExpectedROI = quote.roi
	decision.Confidence = quote.probability * score.Total / model.RelevanceTotalCap

	if quote.roi < snapshot.Thresholds.ROIRatioThreshold {
		decision.Verdict = model.VerdictNoGo
		decision.Reasons = []string{model.ReasonROIBelowThreshold}
		decision.Rationale = fmt.Sprintf("expected ROI %.1f:1 below threshold %.1f:1",
			quote.roi, snapshot.Thresholds.ROIRatioThreshold)
		return decision, e.finalize(ctx, decision, nil)
	}

	// Step 3: budget headroom at all five levels, checked bottom-up.
	path := ledgerPath(candidate.ID, target)
	if err := e.ledger.CheckHeadroom(path, decision.ExpectedCost); err != nil {
		var insufficient *common.InsufficientBudgetError
		if errors.As(err, &insufficient) {
			decision.Verdict = model.VerdictNoGo
			decision.Reasons = []string{model.BudgetExhaustedReason(insufficient.Level)}
			decision.Rationale = insufficient.Error()
			return decision, e.finalize(ctx, decision, nil)
		}
		return nil, fmt.Errorf("headroom check failed: %w", err)
	}
	decision.BudgetApproved = true

	// Step 4: control-panel rules.
	ruleSet, err := e.storage.GetControlRules(ctx, candidate.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load control rules: %w", err)
	}
	dailySpend, err := e.storage.GetDailySpend(ctx, candidate.ID, e.now())
	if err != nil {
		return nil, fmt.Errorf("failed to load daily spend: %w", err)
	}

	outcome := e.evaluator.Evaluate(ruleSet, event, rules.Draft{
		EventID:      event.ID,
		CandidateID:  candidate.ID,
		Channel:      target.Channel,
		Relevance:    score.Total,
		ExpectedCost: decision.ExpectedCost,
		DailySpend:   dailySpend,
	})

	if outcome.Blocked() {
		decision.Verdict = model.VerdictNoGo
		decision.Reasons = []string{model.ReasonRuleBlocked}
		decision.Rationale = (&common.RuleBlockedError{
			RuleName: outcome.BlockedBy.Name,
			RuleID:   outcome.BlockedBy.ID,
		}).Error()
		return decision, e.finalize(ctx, decision, outcome.Audits)
	}
	decision.ControlApproved = true

	if outcome.CostLimit > 0 && outcome.CostLimit < decision.ExpectedCost {
		slog.Info("Expected cost capped by limit rule",
			"event_id", event.ID,
			"candidate_id", candidate.ID,
			"expected_cost", decision.ExpectedCost,
			"limit", outcome.CostLimit)
		decision.ExpectedCost = outcome.CostLimit
		decision.ExpectedROI = quote.expectedRevenue / decision.ExpectedCost
	}

	// Step 5: reserve budget atomically across all five levels. The probe
	// in step 3 can lose a race, so a reserve failure still maps to a
	// budget rejection.
	reservation, err := e.ledger.Reserve(ctx, path, decision.ExpectedCost, decision.ID)
	if err != nil {
		var insufficient *common.InsufficientBudgetError
		if errors.As(err, &insufficient) {
			decision.Verdict = model.VerdictNoGo
			decision.BudgetApproved = false
			decision.Reasons = []string{model.BudgetExhaustedReason(insufficient.Level)}
			decision.Rationale = insufficient.Error()
			return decision, e.finalize(ctx, decision, outcome.Audits)
		}
		return nil, fmt.Errorf("failed to reserve budget: %w", err)
	}
	decision.ReservationID = reservation.ID

	if outcome.RequireApproval {
		decision.Verdict = model.VerdictPendingApproval
		decision.PendingExpiresAt = e.now().Add(snapshot.Thresholds.ReservationTTL)
		decision.Rationale = "control rule requires human approval; budget held until expiry"
	} else {
		decision.Verdict = model.VerdictGo
		decision.Rationale = e.goRationale(decision)
	}

	if err := e.finalize(ctx, decision, outcome.Audits); err != nil {
		// The decision record is the source of truth; without it the hold
		// must not survive.
		if releaseErr := e.ledger.Release(ctx, reservation.ID); releaseErr != nil {
			slog.Error("Failed to release reservation after persist failure",
				"reservation_id", reservation.ID,
				"error", releaseErr)
		}
		return nil, err
	}

	slog.Info("Decision finalized",
		"event_id", event.ID,
		"candidate_id", candidate.ID,
		"verdict", decision.Verdict,
		"relevance", decision.Relevance,
		"expected_roi", decision.ExpectedROI,
		"expected_cost", decision.ExpectedCost)

	return decision, nil
}

// quoteResult carries the external sub-model outputs for one evaluation.
type quoteResult struct {
	probability     float64
	expectedCost    float64
	expectedRevenue float64
	roi             float64
}

// quote calls the response and cost models under the bounded external
// timeout. Any failure degrades the decision rather than blocking it.
func (e *Engine) quote(ctx context.Context, event model.Event, candidate model.Candidate, target Target, snapshot *config.Snapshot) (quoteResult, error) {
	quoteCtx, cancel := context.WithTimeout(ctx, e.cfg.ExternalTimeout)
	defer cancel()

	retryOpts := common.RetryOptions{
		MaxAttempts:  2,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     e.cfg.ExternalTimeout / 2,
	}

	var probability float64
	err := common.WithRetry(quoteCtx, func() error {
		var probErr error
		probability, probErr = e.responses.Probability(quoteCtx, event, candidate)
		return probErr
	}, retryOpts)
	if err != nil {
		return quoteResult{}, &common.ExternalTimeoutError{Source: "response_model", Err: err}
	}

	params, _ := snapshot.Function(CostFunctionName)
	if params.Params == nil {
		params.Params = map[string]float64{}
	}
	var costPerSend float64
	err = common.WithRetry(quoteCtx, func() error {
		var costErr error
		costPerSend, costErr = e.costs.CostPerSend(quoteCtx, target.Channel, params)
		return costErr
	}, retryOpts)
	if err != nil {
		return quoteResult{}, &common.ExternalTimeoutError{Source: "cost_model", Err: err}
	}
	if costPerSend <= 0 {
		return quoteResult{}, &common.ExternalTimeoutError{
			Source: "cost_model",
			Err:    fmt.Errorf("non-positive cost quote %.4f", costPerSend),
		}
	}

	audience := float64(e.cfg.AudienceSize)
	q := quoteResult{
		probability:     probability,
		expectedCost:    costPerSend * audience,
		expectedRevenue: probability * audience * e.cfg.AverageGift,
	}
	q.roi = q.expectedRevenue / q.expectedCost

	return q, nil
}

// finalize persists the decision and its rule audit trail atomically.
func (e *Engine) finalize(ctx context.Context, decision *model.Decision, audits []model.RuleAudit) error {
	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.SaveDecision(ctx, decision); err != nil {
		return fmt.Errorf("failed to save decision: %w", err)
	}
	if len(audits) > 0 {
		if err := tx.SaveRuleAudits(ctx, decision.ID, audits); err != nil {
			return fmt.Errorf("failed to save rule audits: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit decision: %w", err)
	}
	return nil
}

func (e *Engine) goRationale(d *model.Decision) string {
	parts := []string{
		fmt.Sprintf("relevance %.1f", d.Relevance),
		fmt.Sprintf("ROI %.1f:1", d.ExpectedROI),
		"budget reserved at all levels",
	}
	return "GO: " + strings.Join(parts, ", ")
}

// ApplyApproval resolves a pending decision with an external approval
// signal. Approval finalizes to GO with the existing hold intact; denial
// finalizes to NO_GO and releases the hold.
func (e *Engine) ApplyApproval(ctx context.Context, decisionID string, approval model.Approval) (*model.Decision, error) {
	decision, err := e.storage.GetDecisionByID(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if decision.Verdict != model.VerdictPendingApproval {
		return nil, fmt.Errorf("decision %s: %w", decisionID, common.ErrNoPendingDecision)
	}

	if approval.Approved {
		decision.Verdict = model.VerdictGo
		decision.Rationale = fmt.Sprintf("approved by %s", approval.Approver)
	} else {
		decision.Verdict = model.VerdictNoGo
		decision.Reasons = append(decision.Reasons, model.ReasonApprovalDenied)
		decision.Rationale = fmt.Sprintf("denied by %s", approval.Approver)
		if decision.ReservationID != "" {
			if err := e.ledger.Release(ctx, decision.ReservationID); err != nil {
				return nil, fmt.Errorf("failed to release reservation: %w", err)
			}
		}
	}

	if err := e.storage.SaveDecision(ctx, decision); err != nil {
		return nil, fmt.Errorf("failed to save approval result: %w", err)
	}

	slog.Info("Pending decision resolved",
		"decision_id", decisionID,
		"approved", approval.Approved,
		"approver", approval.Approver)

	return decision, nil
}

// ExpirePending sweeps pending-approval decisions whose hold window lapsed
// without a signal, marking them expired and releasing their reservations.
func (e *Engine) ExpirePending(ctx context.Context) (int, error) {
	pending, err := e.storage.GetPendingDecisions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending decisions: %w", err)
	}

	expired := 0
	now := e.now()
	for i := range pending {
		d := &pending[i]
		if d.PendingExpiresAt.IsZero() || now.Before(d.PendingExpiresAt) {
			continue
		}

		d.Verdict = model.VerdictExpired
		d.Reasons = append(d.Reasons, model.ReasonApprovalExpired)
		d.Rationale = "no approval signal before expiry"
		if d.ReservationID != "" {
			if err := e.ledger.Release(ctx, d.ReservationID); err != nil {
				return expired, fmt.Errorf("failed to release reservation for %s: %w", d.ID, err)
			}
		}
		if err := e.storage.SaveDecision(ctx, d); err != nil {
			return expired, fmt.Errorf("failed to expire decision %s: %w", d.ID, err)
		}
		expired++

		slog.Info("Pending decision expired", "decision_id", d.ID)
	}

	return expired, nil
}

// RecordOutcome backfills actual results onto a GO decision and commits its
// budget reservation.
func (e *Engine) RecordOutcome(ctx context.Context, decisionID string, outcome model.DecisionOutcome) error {
	decision, err := e.storage.GetDecisionByID(ctx, decisionID)
	if err != nil {
		return err
	}
	if decision.Verdict != model.VerdictGo {
		return fmt.Errorf("decision %s is %s: %w", decisionID, decision.Verdict, common.ErrDecisionFinalized)
	}

	if outcome.RecordedAt.IsZero() {
		outcome.RecordedAt = e.now()
	}
	if err := e.storage.SaveDecisionOutcome(ctx, decisionID, outcome); err != nil {
		return fmt.Errorf("failed to save outcome: %w", err)
	}

	if decision.ReservationID != "" {
		if err := e.ledger.Commit(ctx, decision.ReservationID); err != nil {
			return fmt.Errorf("failed to commit reservation: %w", err)
		}
	}

	slog.Info("Decision outcome recorded",
		"decision_id", decisionID,
		"sent", outcome.SentCount,
		"realized_roi", outcome.RealizedROI)

	return nil
}
