package model

import (
	"fmt"
	"strings"
	"time"
)

// LedgerLevel names one level of the five-level budget hierarchy.
type LedgerLevel string

// Ledger levels, root first.
const (
	LevelUniverse  LedgerLevel = "universe"
	LevelCandidate LedgerLevel = "candidate"
	LevelCampaign  LedgerLevel = "campaign"
	LevelChannel   LedgerLevel = "channel"
	LevelTier      LedgerLevel = "tier"
)

// LedgerLevels lists all levels root-first.
var LedgerLevels = []LedgerLevel{
	LevelUniverse, LevelCandidate, LevelCampaign, LevelChannel, LevelTier,
}

// BudgetStatus is derived from the spend ratio on every read; it is never
// stored separately from budget/actual.
type BudgetStatus string

// Budget status constants.
const (
	StatusOK       BudgetStatus = "ok"
	StatusWarning  BudgetStatus = "warning"
	StatusCritical BudgetStatus = "critical"
	StatusNoBudget BudgetStatus = "no_budget"
)

// Spend-ratio thresholds for derived status.
const (
	WarningRatio  = 0.90
	CriticalRatio = 0.95
)

// DeriveStatus computes the budget status from budget and actual spend.
func DeriveStatus(budget, actual float64) BudgetStatus {
	if budget <= 0 {
		return StatusNoBudget
	}
	ratio := actual / budget
	switch {
	case ratio >= CriticalRatio:
		return StatusCritical
	case ratio >= WarningRatio:
		return StatusWarning
	default:
		return StatusOK
	}
}

// LedgerPath addresses one tier-level leaf and, implicitly, its four
// ancestors.
type LedgerPath struct {
	Candidate string
	Campaign  string
	Channel   string
	Tier      string
}

// Validate checks that every segment of the path is populated.
func (p LedgerPath) Validate() error {
	if p.Candidate == "" || p.Campaign == "" || p.Channel == "" || p.Tier == "" {
		return fmt.Errorf("ledger path requires candidate, campaign, channel, and tier")
	}
	return nil
}

// Key returns the composite node key for the given level of this path.
// Parent/child relation is by key prefix: the campaign node under candidate
// "cand-1" is keyed "cand-1:spring-push", its channels "cand-1:spring-push:email",
// and so on down to the tier leaf.
func (p LedgerPath) Key(level LedgerLevel) string {
	switch level {
	case LevelUniverse:
		return "universe"
	case LevelCandidate:
		return p.Candidate
	case LevelCampaign:
		return strings.Join([]string{p.Candidate, p.Campaign}, ":")
	case LevelChannel:
		return strings.Join([]string{p.Candidate, p.Campaign, p.Channel}, ":")
	case LevelTier:
		return strings.Join([]string{p.Candidate, p.Campaign, p.Channel, p.Tier}, ":")
	}
	return ""
}

// Keys returns the composite keys for all five levels, root first.
func (p LedgerPath) Keys() []string {
	keys := make([]string, len(LedgerLevels))
	for i, level := range LedgerLevels {
		keys[i] = p.Key(level)
	}
	return keys
}

// LedgerNode is one node in the budget tree. Budget and Actual are the only
// stored values; variance and status are derived.
type LedgerNode struct {
	UpdatedAt time.Time
	Key       string
	Level     LedgerLevel
	Budget    float64
	Actual    float64
}

// Headroom returns the unspent budget at this node.
func (n LedgerNode) Headroom() float64 {
	return n.Budget - n.Actual
}

// Variance returns actual minus budget (positive means overspend).
func (n LedgerNode) Variance() float64 {
	return n.Actual - n.Budget
}

// Status derives the node's budget status from its spend ratio.
func (n LedgerNode) Status() BudgetStatus {
	return DeriveStatus(n.Budget, n.Actual)
}

// ReservationState tracks the lifecycle of a budget reservation.
type ReservationState string

// Reservation states.
const (
	ReservationHeld      ReservationState = "held"
	ReservationCommitted ReservationState = "committed"
	ReservationReleased  ReservationState = "released"
)

// Reservation is a held amount applied across all five levels of a path.
type Reservation struct {
	CreatedAt time.Time
	ExpiresAt time.Time
	ID        string
	DecisionID string
	Path      LedgerPath
	Amount    float64
	State     ReservationState
}

// Expired reports whether the reservation's hold window has lapsed.
func (r Reservation) Expired(now time.Time) bool {
	return r.State == ReservationHeld && !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}
