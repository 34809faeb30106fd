package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rallypoint-io/warroom/internal/config"
	"github.com/rallypoint-io/warroom/internal/ledger"
	"github.com/rallypoint-io/warroom/internal/model"
	"github.com/rallypoint-io/warroom/internal/storage"
	"github.com/rallypoint-io/warroom/internal/testutil"
)

type engineFixture struct {
	store     *storage.SQLiteStorage
	ledger    *ledger.Ledger
	configs   *config.Store
	engine    *Engine
	responses *MockResponseModel
	costs     *MockCostModel
}

// The default test event scores 67 against the default test candidate, so
// fixtures pin the relevance threshold at 60 unless a test overrides it.
func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	store := testutil.SetupTestDB(t)

	thresholds := config.DefaultThresholds()
	thresholds.RelevanceThreshold = 60
	configs := config.NewStore(thresholds, map[string]model.FunctionParams{
		CostFunctionName: {Model: "cost-v1", Params: map[string]float64{"base_rate": 0.10}, Enabled: true},
	})

	budget := ledger.New(store, ledger.DefaultConfig())
	require.NoError(t, budget.Load(context.Background()))

	responses := &MockResponseModel{Prob: 0.12}
	costs := &MockCostModel{PerSend: map[string]float64{"email": 0.10}}

	engine := New(store, budget, configs, costs, responses, DefaultConfig())

	return &engineFixture{
		store:     store,
		ledger:    budget,
		configs:   configs,
		engine:    engine,
		responses: responses,
		costs:     costs,
	}
}

func (f *engineFixture) seedBudgets(t *testing.T, event model.Event, candidate model.Candidate, budget float64) model.LedgerPath {
	t.Helper()
	path := ledgerPath(candidate.ID, impliedTarget(event))
	testutil.SeedLedger(t, context.Background(), f.store, path, budget)
	require.NoError(t, f.ledger.Load(context.Background()))
	return path
}

func TestEvaluateGo(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	event := testutil.NewTestEvent("evt-1")
	candidate := testutil.NewTestCandidate("cand-1")
	path := f.seedBudgets(t, event, candidate, 10000)

	decision, err := f.engine.Evaluate(ctx, event, candidate)
	require.NoError(t, err)

	assert.Equal(t, model.VerdictGo, decision.Verdict)
	assert.Empty(t, decision.Reasons)
	assert.True(t, decision.BudgetApproved)
	assert.True(t, decision.ControlApproved)
	assert.NotEmpty(t, decision.ReservationID)

	// 0.10 per send across the default 5000 audience.
	assert.InDelta(t, 500.0, decision.ExpectedCost, 0.001)
	// 0.12 * 5000 * 45 revenue over 500 cost.
	assert.InDelta(t, 54.0, decision.ExpectedROI, 0.001)

	// The hold is visible at every level of the path.
	for _, node := range f.ledger.PathNodes(path) {
		assert.InDelta(t, 500.0, node.Actual, 0.001, "level %s", node.Level)
	}

	// All sub-model values persisted.
	stored, err := f.store.GetDecisionByID(ctx, decision.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VerdictGo, stored.Verdict)
	assert.InDelta(t, decision.Relevance, stored.Relevance, 0.001)
	assert.InDelta(t, decision.ResponseProbability, stored.ResponseProbability, 0.001)
}

func TestEvaluateRelevanceShortCircuit(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	thresholds := config.DefaultThresholds()
	thresholds.RelevanceThreshold = 95
	f.configs.SetThresholds(thresholds)

	event := testutil.NewTestEvent("evt-1")
	candidate := testutil.NewTestCandidate("cand-1")
	f.seedBudgets(t, event, candidate, 10000)

	decision, err := f.engine.Evaluate(ctx, event, candidate)
	require.NoError(t, err)

	assert.Equal(t, model.VerdictNoGo, decision.Verdict)
	assert.Equal(t, []string{model.ReasonRelevanceBelowThreshold}, decision.Reasons)
	assert.Empty(t, decision.ReservationID)

	// Later sub-models never ran.
	assert.Equal(t, 0, f.responses.Calls())
	assert.Zero(t, decision.ExpectedCost)

	// The rejection is still recorded with the relevance that caused it.
	stored, err := f.store.GetDecision(ctx, event.ID, candidate.ID)
	require.NoError(t, err)
	assert.InDelta(t, decision.Relevance, stored.Relevance, 0.001)
}

func TestEvaluateROIShortCircuit(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.responses.Prob = 0.001

	event := testutil.NewTestEvent("evt-1")
	candidate := testutil.NewTestCandidate("cand-1")
	path := f.seedBudgets(t, event, candidate, 10000)

	decision, err := f.engine.Evaluate(ctx, event, candidate)
	require.NoError(t, err)

	assert.Equal(t, model.VerdictNoGo, decision.Verdict)
	assert.Equal(t, []string{model.ReasonROIBelowThreshold}, decision.Reasons)
	assert.InDelta(t, 0.45, decision.ExpectedROI, 0.001)

	// No budget touched.
	for _, node := range f.ledger.PathNodes(path) {
		assert.Zero(t, node.Actual)
	}
}

func TestEvaluateBudgetExhaustedNamesLevel(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	event := testutil.NewTestEvent("evt-1")
	candidate := testutil.NewTestCandidate("cand-1")
	path := f.seedBudgets(t, event, candidate, 10000)

	// Starve only the campaign level; expected cost is 500.
	require.NoError(t, f.ledger.Allocate(ctx, path.Key(model.LevelCampaign), model.LevelCampaign, 100))

	decision, err := f.engine.Evaluate(ctx, event, candidate)
	require.NoError(t, err)

	assert.Equal(t, model.VerdictNoGo, decision.Verdict)
	assert.Equal(t, []string{"budget_exhausted_at_campaign"}, decision.Reasons)
	assert.False(t, decision.BudgetApproved)

	for _, node := range f.ledger.PathNodes(path) {
		assert.Zero(t, node.Actual)
	}
}

func TestEvaluateExternalModelFailureDegrades(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.responses.Err = errors.New("upstream deadline exceeded")

	event := testutil.NewTestEvent("evt-1")
	candidate := testutil.NewTestCandidate("cand-1")
	f.seedBudgets(t, event, candidate, 10000)

	decision, err := f.engine.Evaluate(ctx, event, candidate)
	require.NoError(t, err)

	assert.Equal(t, model.VerdictNoGo, decision.Verdict)
	assert.Equal(t, []string{model.ReasonExternalUnavailable}, decision.Reasons)

	// The degraded decision is persisted like any other.
	stored, err := f.store.GetDecision(ctx, event.ID, candidate.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VerdictNoGo, stored.Verdict)
}

func TestEvaluateIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	event := testutil.NewTestEvent("evt-1")
	candidate := testutil.NewTestCandidate("cand-1")
	path := f.seedBudgets(t, event, candidate, 10000)

	first, err := f.engine.Evaluate(ctx, event, candidate)
	require.NoError(t, err)
	second, err := f.engine.Evaluate(ctx, event, candidate)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	// The retry must not double-spend.
	tierNode, ok := f.ledger.Node(path.Key(model.LevelTier))
	require.True(t, ok)
	assert.InDelta(t, 500.0, tierNode.Actual, 0.001)
}

func TestEvaluateRuleBlocked(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	event := testutil.NewTestEvent("evt-1")
	candidate := testutil.NewTestCandidate("cand-1")
	path := f.seedBudgets(t, event, candidate, 10000)

	rule := &model.ControlRule{
		Name:        "no-education-email",
		CandidateID: candidate.ID,
		Priority:    10,
		Action:      model.ActionBlock,
		Condition:   model.RuleCondition{Categories: []string{"education"}},
		Active:      true,
	}
	require.NoError(t, f.store.SaveControlRule(ctx, rule))

	decision, err := f.engine.Evaluate(ctx, event, candidate)
	require.NoError(t, err)

	assert.Equal(t, model.VerdictNoGo, decision.Verdict)
	assert.Equal(t, []string{model.ReasonRuleBlocked}, decision.Reasons)
	assert.False(t, decision.ControlApproved)

	for _, node := range f.ledger.PathNodes(path) {
		assert.Zero(t, node.Actual)
	}

	// The audit trail records the rule that fired.
	audits, err := f.store.GetRuleAudits(ctx, decision.ID)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, "no-education-email", audits[0].RuleName)
	assert.True(t, audits[0].Applied)
}

func TestEvaluateLimitRuleCapsCost(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	event := testutil.NewTestEvent("evt-1")
	candidate := testutil.NewTestCandidate("cand-1")
	path := f.seedBudgets(t, event, candidate, 10000)

	rule := &model.ControlRule{
		Name:        "cap-education-spend",
		CandidateID: candidate.ID,
		Priority:    10,
		Action:      model.ActionLimit,
		LimitAmount: 200,
		Condition:   model.RuleCondition{Categories: []string{"education"}},
		Active:      true,
	}
	require.NoError(t, f.store.SaveControlRule(ctx, rule))

	decision, err := f.engine.Evaluate(ctx, event, candidate)
	require.NoError(t, err)

	assert.Equal(t, model.VerdictGo, decision.Verdict)
	assert.InDelta(t, 200.0, decision.ExpectedCost, 0.001)

	// Only the capped amount is held.
	tierNode, ok := f.ledger.Node(path.Key(model.LevelTier))
	require.True(t, ok)
	assert.InDelta(t, 200.0, tierNode.Actual, 0.001)
}

func TestPendingApprovalLifecycle(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	event := testutil.NewTestEvent("evt-1")
	candidate := testutil.NewTestCandidate("cand-1")
	path := f.seedBudgets(t, event, candidate, 10000)

	rule := &model.ControlRule{
		Name:        "big-spend-needs-signoff",
		CandidateID: candidate.ID,
		Priority:    10,
		Action:      model.ActionRequireApproval,
		Condition:   model.RuleCondition{CostAbove: floatPtr(100)},
		Active:      true,
	}
	require.NoError(t, f.store.SaveControlRule(ctx, rule))

	decision, err := f.engine.Evaluate(ctx, event, candidate)
	require.NoError(t, err)

	assert.Equal(t, model.VerdictPendingApproval, decision.Verdict)
	assert.NotEmpty(t, decision.ReservationID)
	assert.False(t, decision.PendingExpiresAt.IsZero())

	// Budget stays held while the decision waits.
	tierNode, ok := f.ledger.Node(path.Key(model.LevelTier))
	require.True(t, ok)
	assert.InDelta(t, 500.0, tierNode.Actual, 0.001)

	resolved, err := f.engine.ApplyApproval(ctx, decision.ID, model.Approval{
		Approved:  true,
		Approver:  "ops-lead",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictGo, resolved.Verdict)

	// Approving again is an error: nothing is pending anymore.
	_, err = f.engine.ApplyApproval(ctx, decision.ID, model.Approval{Approved: true, Approver: "ops-lead"})
	assert.Error(t, err)
}

func TestApprovalDeniedReleasesHold(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	event := testutil.NewTestEvent("evt-1")
	candidate := testutil.NewTestCandidate("cand-1")
	path := f.seedBudgets(t, event, candidate, 10000)

	rule := &model.ControlRule{
		Name:        "big-spend-needs-signoff",
		CandidateID: candidate.ID,
		Priority:    10,
		Action:      model.ActionRequireApproval,
		Condition:   model.RuleCondition{CostAbove: floatPtr(100)},
		Active:      true,
	}
	require.NoError(t, f.store.SaveControlRule(ctx, rule))

	decision, err := f.engine.Evaluate(ctx, event, candidate)
	require.NoError(t, err)
	require.Equal(t, model.VerdictPendingApproval, decision.Verdict)

	resolved, err := f.engine.ApplyApproval(ctx, decision.ID, model.Approval{
		Approved: false,
		Approver: "ops-lead",
	})
	require.NoError(t, err)

	assert.Equal(t, model.VerdictNoGo, resolved.Verdict)
	assert.Contains(t, resolved.Reasons, model.ReasonApprovalDenied)

	for _, node := range f.ledger.PathNodes(path) {
		assert.Zero(t, node.Actual, "level %s", node.Level)
	}
}

func TestExpirePendingSweep(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	event := testutil.NewTestEvent("evt-1")
	candidate := testutil.NewTestCandidate("cand-1")
	path := f.seedBudgets(t, event, candidate, 10000)

	rule := &model.ControlRule{
		Name:        "big-spend-needs-signoff",
		CandidateID: candidate.ID,
		Priority:    10,
		Action:      model.ActionRequireApproval,
		Condition:   model.RuleCondition{CostAbove: floatPtr(100)},
		Active:      true,
	}
	require.NoError(t, f.store.SaveControlRule(ctx, rule))

	decision, err := f.engine.Evaluate(ctx, event, candidate)
	require.NoError(t, err)
	require.Equal(t, model.VerdictPendingApproval, decision.Verdict)

	// Nothing expires before the deadline.
	expired, err := f.engine.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, expired)

	f.engine.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	expired, err = f.engine.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	stored, err := f.store.GetDecisionByID(ctx, decision.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VerdictExpired, stored.Verdict)
	assert.Contains(t, stored.Reasons, model.ReasonApprovalExpired)

	for _, node := range f.ledger.PathNodes(path) {
		assert.Zero(t, node.Actual, "level %s", node.Level)
	}
}

func TestRecordOutcomeCommitsReservation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	event := testutil.NewTestEvent("evt-1")
	candidate := testutil.NewTestCandidate("cand-1")
	f.seedBudgets(t, event, candidate, 10000)

	decision, err := f.engine.Evaluate(ctx, event, candidate)
	require.NoError(t, err)
	require.Equal(t, model.VerdictGo, decision.Verdict)

	outcome := model.DecisionOutcome{SentCount: 4800, Revenue: 6200, RealizedROI: 12.4}
	require.NoError(t, f.engine.RecordOutcome(ctx, decision.ID, outcome))

	stored, err := f.store.GetDecisionByID(ctx, decision.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Outcome)
	assert.Equal(t, 4800, stored.Outcome.SentCount)
	assert.InDelta(t, 12.4, stored.Outcome.RealizedROI, 0.001)

	reservation, ok := f.ledger.Reservation(decision.ReservationID)
	require.True(t, ok)
	assert.Equal(t, model.ReservationCommitted, reservation.State)
}

func TestRecordOutcomeRejectsNonGo(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.responses.Prob = 0.001

	event := testutil.NewTestEvent("evt-1")
	candidate := testutil.NewTestCandidate("cand-1")
	f.seedBudgets(t, event, candidate, 10000)

	decision, err := f.engine.Evaluate(ctx, event, candidate)
	require.NoError(t, err)
	require.Equal(t, model.VerdictNoGo, decision.Verdict)

	err = f.engine.RecordOutcome(ctx, decision.ID, model.DecisionOutcome{SentCount: 1})
	assert.Error(t, err)
}

func TestEvaluateUsesOneConfigSnapshot(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	event := testutil.NewTestEvent("evt-1")
	candidate := testutil.NewTestCandidate("cand-1")
	f.seedBudgets(t, event, candidate, 10000)

	before := f.configs.Current().Version

	decision, err := f.engine.Evaluate(ctx, event, candidate)
	require.NoError(t, err)
	assert.Equal(t, before, decision.ConfigVersion)

	// The cost quote was priced against the snapshot's estimator params.
	assert.Equal(t, "cost-v1", f.costs.LastParams.Model)
	assert.InDelta(t, 0.10, f.costs.LastParams.Params["base_rate"], 0.0001)
}

func floatPtr(v float64) *float64 { return &v }
