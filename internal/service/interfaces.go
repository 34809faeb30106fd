// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/rallypoint-io/warroom/internal/model"
)

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Event operations
	SaveEvents(ctx context.Context, events []model.Event) error
	GetEventByID(ctx context.Context, id string) (*model.Event, error)
	GetUnprocessedEvents(ctx context.Context, limit int) ([]model.Event, error)
	MarkEventProcessed(ctx context.Context, eventID string) error

	// Candidate operations
	SaveCandidate(ctx context.Context, candidate *model.Candidate) error
	GetCandidateByID(ctx context.Context, id string) (*model.Candidate, error)
	GetActiveCandidates(ctx context.Context) ([]model.Candidate, error)

	// Relevance scores (append-only)
	SaveRelevanceScore(ctx context.Context, score *model.RelevanceScore) error
	GetRelevanceScores(ctx context.Context, eventID string) ([]model.RelevanceScore, error)

	// Decision operations
	SaveDecision(ctx context.Context, decision *model.Decision) error
	GetDecision(ctx context.Context, eventID, candidateID string) (*model.Decision, error)
	GetDecisionByID(ctx context.Context, id string) (*model.Decision, error)
	GetPendingDecisions(ctx context.Context) ([]model.Decision, error)
	SaveDecisionOutcome(ctx context.Context, decisionID string, outcome model.DecisionOutcome) error
	SaveRuleAudits(ctx context.Context, decisionID string, audits []model.RuleAudit) error
	GetRuleAudits(ctx context.Context, decisionID string) ([]model.RuleAudit, error)
	GetDailySpend(ctx context.Context, candidateID string, day time.Time) (float64, error)

	// Ledger persistence
	GetLedgerNodes(ctx context.Context) ([]model.LedgerNode, error)
	UpsertLedgerNode(ctx context.Context, node model.LedgerNode) error
	ApplyLedgerDelta(ctx context.Context, keys []string, delta float64) error
	SaveReservation(ctx context.Context, reservation model.Reservation) error
	GetHeldReservations(ctx context.Context) ([]model.Reservation, error)

	// Control-panel rules
	SaveControlRule(ctx context.Context, rule *model.ControlRule) error
	GetControlRules(ctx context.Context, candidateID string) ([]model.ControlRule, error)
	GetAllControlRules(ctx context.Context) ([]model.ControlRule, error)

	// Self-correction rules and events
	SaveCorrectionRule(ctx context.Context, rule *model.CorrectionRule) error
	GetActiveCorrectionRules(ctx context.Context) ([]model.CorrectionRule, error)
	SaveCorrectionEvent(ctx context.Context, event *model.CorrectionEvent) error
	GetCorrectionEventByID(ctx context.Context, id string) (*model.CorrectionEvent, error)
	GetAppliedCorrections(ctx context.Context, ruleID int64, since time.Time) ([]model.CorrectionEvent, error)
	GetPendingCorrections(ctx context.Context) ([]model.CorrectionEvent, error)
	GetDueRollbacks(ctx context.Context, now time.Time) ([]model.CorrectionEvent, error)

	// Measurements
	SaveMeasurement(ctx context.Context, measurement *model.Measurement) error
	GetMeasurements(ctx context.Context, function string, since time.Time) ([]model.Measurement, error)

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction scopes the writes that must land atomically when a decision
// is finalized.
type Transaction interface {
	Commit() error
	Rollback() error

	SaveDecision(ctx context.Context, decision *model.Decision) error
	SaveRuleAudits(ctx context.Context, decisionID string, audits []model.RuleAudit) error
	MarkEventProcessed(ctx context.Context, eventID string) error
}
