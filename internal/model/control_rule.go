package model

import (
	"fmt"
	"time"
)

// RuleAction is what a matching control-panel rule does to a draft decision.
type RuleAction string

// Rule action constants.
const (
	ActionBlock           RuleAction = "block"
	ActionRequireApproval RuleAction = "require_approval"
	ActionLimit           RuleAction = "limit"
	ActionOverride        RuleAction = "override"
)

// RuleCondition is the typed condition payload a rule is tested against.
// Nil fields are unconstrained; all populated fields must hold for the rule
// to match.
type RuleCondition struct {
	Categories     []string     `json:"categories,omitempty"`
	Channels       []string     `json:"channels,omitempty"`
	Jurisdictions  []Jurisdiction `json:"jurisdictions,omitempty"`
	UrgencyAtMost  *UrgencyTier `json:"urgency_at_most,omitempty"`
	CostAbove      *float64     `json:"cost_above,omitempty"`
	CostBelow      *float64     `json:"cost_below,omitempty"`
	RelevanceBelow *float64     `json:"relevance_below,omitempty"`
	DailySpendCap  *float64     `json:"daily_spend_cap,omitempty"`
}

// ControlRule is a per-candidate, priority-ordered policy evaluated against
// every draft decision. Lower priority numbers are evaluated first.
type ControlRule struct {
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Name        string
	CandidateID string
	Condition   RuleCondition
	Action      RuleAction
	// LimitAmount caps expected cost when Action is limit.
	LimitAmount float64
	Priority    int
	ID          int64
	Active      bool
}

// Validate ensures the rule is well formed before it is stored or evaluated.
func (r *ControlRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.CandidateID == "" {
		return fmt.Errorf("rule candidate id is required")
	}
	switch r.Action {
	case ActionBlock, ActionRequireApproval, ActionOverride:
	case ActionLimit:
		if r.LimitAmount <= 0 {
			return fmt.Errorf("limit rules require a positive limit amount")
		}
	default:
		return fmt.Errorf("unknown rule action %q", r.Action)
	}
	if r.Condition.CostAbove != nil && r.Condition.CostBelow != nil &&
		*r.Condition.CostAbove > *r.Condition.CostBelow {
		return fmt.Errorf("cost_above must not exceed cost_below")
	}
	return nil
}

// RuleAudit records the outcome of testing one rule during an evaluation.
// Every rule tested is recorded, matched or not, so decisions can be
// replayed against the policy in force at decision time.
type RuleAudit struct {
	TestedAt   time.Time
	RuleName   string
	Action     RuleAction
	RuleID     int64
	DecisionID string
	Matched    bool
	Applied    bool
}
