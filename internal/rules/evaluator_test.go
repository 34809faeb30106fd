package rules

import (
	"testing"

	"github.com/rallypoint-io/warroom/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }

func testDraft() Draft {
	return Draft{
		EventID:      "evt-1",
		CandidateID:  "cand-1",
		Channel:      "email",
		Relevance:    97,
		ExpectedCost: 500,
	}
}

func testRuleEvent() model.Event {
	return model.Event{
		ID:           "evt-1",
		Category:     "education",
		Jurisdiction: model.JurisdictionState,
		Urgency:      model.UrgencyHigh,
	}
}

func TestEvaluate_PriorityOrderAndBlockShortCircuit(t *testing.T) {
	e := NewEvaluator()

	ruleSet := []model.ControlRule{
		{ID: 3, Name: "late block", CandidateID: "cand-1", Priority: 30, Action: model.ActionBlock, Active: true},
		{ID: 1, Name: "early block", CandidateID: "cand-1", Priority: 10, Action: model.ActionBlock, Active: true},
		{ID: 2, Name: "approval", CandidateID: "cand-1", Priority: 20, Action: model.ActionRequireApproval, Active: true},
	}

	out := e.Evaluate(ruleSet, testRuleEvent(), testDraft())

	require.True(t, out.Blocked())
	assert.Equal(t, "early block", out.BlockedBy.Name)
	// Short-circuit: only the first (lowest priority number) rule was tested.
	require.Len(t, out.Audits, 1)
	assert.Equal(t, int64(1), out.Audits[0].RuleID)
	assert.True(t, out.Audits[0].Matched)
}

func TestEvaluate_NonBlockingRulesAccumulate(t *testing.T) {
	e := NewEvaluator()

	ruleSet := []model.ControlRule{
		{ID: 1, Name: "needs approval", CandidateID: "cand-1", Priority: 10, Action: model.ActionRequireApproval, Active: true},
		{ID: 2, Name: "cap high", CandidateID: "cand-1", Priority: 20, Action: model.ActionLimit, LimitAmount: 400, Active: true},
		{ID: 3, Name: "cap low", CandidateID: "cand-1", Priority: 30, Action: model.ActionLimit, LimitAmount: 300, Active: true},
	}

	out := e.Evaluate(ruleSet, testRuleEvent(), testDraft())

	assert.False(t, out.Blocked())
	assert.True(t, out.RequireApproval)
	assert.InDelta(t, 300.0, out.CostLimit, 0.001, "tightest limit wins")
	assert.Len(t, out.Audits, 3, "every tested rule is audited")
}

func TestEvaluate_UnmatchedRulesStillAudited(t *testing.T) {
	e := NewEvaluator()

	ruleSet := []model.ControlRule{
		{
			ID: 1, Name: "zoning only", CandidateID: "cand-1", Priority: 10,
			Action:    model.ActionBlock,
			Condition: model.RuleCondition{Categories: []string{"zoning"}},
			Active:    true,
		},
	}

	out := e.Evaluate(ruleSet, testRuleEvent(), testDraft())

	assert.False(t, out.Blocked())
	require.Len(t, out.Audits, 1)
	assert.False(t, out.Audits[0].Matched)
}

func TestEvaluate_TypedConditions(t *testing.T) {
	e := NewEvaluator()
	urgencyStandard := model.UrgencyStandard

	tests := []struct {
		name      string
		condition model.RuleCondition
		event     model.Event
		draft     Draft
		match     bool
	}{
		{
			name:      "cost above matches",
			condition: model.RuleCondition{CostAbove: floatPtr(400)},
			event:     testRuleEvent(),
			draft:     testDraft(),
			match:     true,
		},
		{
			name:      "cost above misses",
			condition: model.RuleCondition{CostAbove: floatPtr(600)},
			event:     testRuleEvent(),
			draft:     testDraft(),
			match:     false,
		},
		{
			name:      "urgency gate",
			condition: model.RuleCondition{UrgencyAtMost: &urgencyStandard},
			event:     testRuleEvent(), // UrgencyHigh = 2 <= Standard = 3
			draft:     testDraft(),
			match:     true,
		},
		{
			name:      "jurisdiction mismatch",
			condition: model.RuleCondition{Jurisdictions: []model.Jurisdiction{model.JurisdictionFederal}},
			event:     testRuleEvent(),
			draft:     testDraft(),
			match:     false,
		},
		{
			name:      "daily spend cap exceeded",
			condition: model.RuleCondition{DailySpendCap: floatPtr(1000)},
			event:     testRuleEvent(),
			draft:     Draft{CandidateID: "cand-1", ExpectedCost: 500, DailySpend: 800},
			match:     true,
		},
		{
			name:      "daily spend under cap",
			condition: model.RuleCondition{DailySpendCap: floatPtr(2000)},
			event:     testRuleEvent(),
			draft:     Draft{CandidateID: "cand-1", ExpectedCost: 500, DailySpend: 800},
			match:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ruleSet := []model.ControlRule{{
				ID: 1, Name: tt.name, CandidateID: tt.draft.CandidateID,
				Priority: 10, Action: model.ActionBlock,
				Condition: tt.condition, Active: true,
			}}
			out := e.Evaluate(ruleSet, tt.event, tt.draft)
			assert.Equal(t, tt.match, out.Blocked())
		})
	}
}

func TestEvaluate_OverrideClearsAccumulatedGating(t *testing.T) {
	e := NewEvaluator()

	ruleSet := []model.ControlRule{
		{ID: 1, Name: "needs approval", CandidateID: "cand-1", Priority: 10, Action: model.ActionRequireApproval, Active: true},
		{ID: 2, Name: "operator bypass", CandidateID: "cand-1", Priority: 20, Action: model.ActionOverride, Active: true},
		{ID: 3, Name: "unreached block", CandidateID: "cand-1", Priority: 30, Action: model.ActionBlock, Active: true},
	}

	out := e.Evaluate(ruleSet, testRuleEvent(), testDraft())

	assert.True(t, out.Overridden)
	assert.False(t, out.RequireApproval)
	assert.False(t, out.Blocked())
	assert.Len(t, out.Audits, 2, "evaluation stops at the override")
}

func TestEvaluate_InactiveAndForeignRulesSkipped(t *testing.T) {
	e := NewEvaluator()

	ruleSet := []model.ControlRule{
		{ID: 1, Name: "inactive", CandidateID: "cand-1", Priority: 10, Action: model.ActionBlock, Active: false},
		{ID: 2, Name: "other candidate", CandidateID: "cand-2", Priority: 10, Action: model.ActionBlock, Active: true},
	}

	out := e.Evaluate(ruleSet, testRuleEvent(), testDraft())

	assert.False(t, out.Blocked())
	assert.Empty(t, out.Audits)
}
