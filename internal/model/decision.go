package model

import (
	"fmt"
	"time"
)

// Verdict is the outcome of one decision evaluation. GO and NO_GO are
// terminal; PENDING_APPROVAL is the only intermediate persisted state and
// resolves to GO, NO_GO, or EXPIRED.
type Verdict string

// Verdict constants.
const (
	VerdictGo              Verdict = "GO"
	VerdictNoGo            Verdict = "NO_GO"
	VerdictPendingApproval Verdict = "PENDING_APPROVAL"
	VerdictExpired         Verdict = "EXPIRED"
)

// Machine-readable rejection reasons.
const (
	ReasonRelevanceBelowThreshold = "relevance_below_threshold"
	ReasonROIBelowThreshold       = "roi_below_threshold"
	ReasonRuleBlocked             = "rule_blocked"
	ReasonExternalUnavailable     = "external_unavailable"
	ReasonApprovalDenied          = "approval_denied"
	ReasonApprovalExpired         = "approval_expired"
)

// BudgetExhaustedReason builds the reason string for a headroom failure at
// the given ledger level.
func BudgetExhaustedReason(level LedgerLevel) string {
	return fmt.Sprintf("budget_exhausted_at_%s", level)
}

// Decision is the central record: one event against one candidate, the
// outputs of all seven sub-models, the verdict, and the later-filled actual
// outcome. Immutable once finalized except for the outcome backfill.
type Decision struct {
	EvaluatedAt      time.Time
	PendingExpiresAt time.Time
	ID               string
	EventID          string
	CandidateID      string
	Campaign         string
	Channel          string
	Tier             string
	ReservationID    string
	Verdict          Verdict
	Reasons          []string
	Rationale        string

	// Sub-model outputs, persisted on every decision regardless of verdict.
	Relevance           float64
	ExpectedROI         float64
	ResponseProbability float64
	ExpectedCost        float64
	Confidence          float64
	ControlApproved     bool
	BudgetApproved      bool

	ConfigVersion int64

	Outcome *DecisionOutcome
}

// DecisionOutcome is the actual-result backfill written by the execution
// collaborator after sends complete.
type DecisionOutcome struct {
	RecordedAt  time.Time
	SentCount   int
	Revenue     float64
	RealizedROI float64
}

// Approval is the external approval signal for a pending decision or
// correction.
type Approval struct {
	Timestamp time.Time
	Approver  string
	Notes     string
	Approved  bool
}
