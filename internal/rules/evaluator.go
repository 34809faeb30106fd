// Package rules evaluates per-candidate control-panel rules against draft
// decisions.
package rules

import (
	"log/slog"
	"sort"
	"time"

	"github.com/rallypoint-io/warroom/internal/model"
)

// Draft is the decision context a rule set is tested against, before any
// verdict is reached.
type Draft struct {
	EventID      string
	CandidateID  string
	Channel      string
	Relevance    float64
	ExpectedCost float64
	// DailySpend is the candidate's spend so far today, supplied by the
	// caller for daily_spend_cap conditions.
	DailySpend float64
}

// Outcome aggregates the effect of every rule tested. Block short-circuits;
// require_approval and limit accumulate; override clears accumulated gating.
type Outcome struct {
	BlockedBy       *model.ControlRule
	Audits          []model.RuleAudit
	CostLimit       float64
	RequireApproval bool
	Overridden      bool
}

// Blocked reports whether a blocking rule matched.
func (o Outcome) Blocked() bool {
	return o.BlockedBy != nil
}

// Evaluator tests priority-ordered control rules. Rules are loaded once per
// evaluation by the caller and passed in; the evaluator itself is stateless
// and safe for concurrent use.
type Evaluator struct{}

// NewEvaluator creates an evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate tests every active rule for the candidate in ascending priority
// order. Every rule tested is recorded in the audit trail, matched or not.
// Evaluation stops at the first matching block rule, or at a matching
// override rule (which also clears previously accumulated gating).
func (e *Evaluator) Evaluate(ruleSet []model.ControlRule, event model.Event, draft Draft) Outcome {
	ordered := make([]model.ControlRule, 0, len(ruleSet))
	for _, r := range ruleSet {
		if r.Active && r.CandidateID == draft.CandidateID {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	var out Outcome
	now := time.Now()

	for i := range ordered {
		rule := ordered[i]
		matched := matches(rule.Condition, event, draft)

		audit := model.RuleAudit{
			TestedAt: now,
			RuleID:   rule.ID,
			RuleName: rule.Name,
			Action:   rule.Action,
			Matched:  matched,
			Applied:  matched,
		}
		out.Audits = append(out.Audits, audit)

		slog.Debug("Control rule tested",
			"rule", rule.Name,
			"priority", rule.Priority,
			"action", rule.Action,
			"matched", matched)

		if !matched {
			continue
		}

		switch rule.Action {
		case model.ActionBlock:
			out.BlockedBy = &ordered[i]
			return out
		case model.ActionRequireApproval:
			out.RequireApproval = true
		case model.ActionLimit:
			if out.CostLimit == 0 || rule.LimitAmount < out.CostLimit {
				out.CostLimit = rule.LimitAmount
			}
		case model.ActionOverride:
			// Explicit operator bypass: stop evaluating and clear any
			// gating accumulated so far.
			out.Overridden = true
			out.RequireApproval = false
			out.CostLimit = 0
			return out
		}
	}

	return out
}

// matches tests a typed condition payload. Nil fields are unconstrained;
// all populated fields must hold.
func matches(c model.RuleCondition, event model.Event, draft Draft) bool {
	if len(c.Categories) > 0 && !contains(c.Categories, event.Category) {
		return false
	}
	if len(c.Channels) > 0 && !contains(c.Channels, draft.Channel) {
		return false
	}
	if len(c.Jurisdictions) > 0 {
		found := false
		for _, j := range c.Jurisdictions {
			if j == event.Jurisdiction {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.UrgencyAtMost != nil && event.Urgency > *c.UrgencyAtMost {
		return false
	}
	if c.CostAbove != nil && draft.ExpectedCost <= *c.CostAbove {
		return false
	}
	if c.CostBelow != nil && draft.ExpectedCost >= *c.CostBelow {
		return false
	}
	if c.RelevanceBelow != nil && draft.Relevance >= *c.RelevanceBelow {
		return false
	}
	if c.DailySpendCap != nil && draft.DailySpend+draft.ExpectedCost <= *c.DailySpendCap {
		return false
	}
	return true
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
