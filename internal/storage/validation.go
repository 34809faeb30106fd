package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rallypoint-io/warroom/internal/model"
)

// Validation errors.
var (
	ErrNilContext        = errors.New("context cannot be nil")
	ErrEmptyString       = errors.New("string parameter cannot be empty")
	ErrNilParameter      = errors.New("parameter cannot be nil")
	ErrEmptySlice        = errors.New("slice cannot be empty")
	ErrInvalidEvent      = errors.New("invalid event")
	ErrInvalidCandidate  = errors.New("invalid candidate")
	ErrInvalidScore      = errors.New("invalid relevance score")
	ErrInvalidDecision   = errors.New("invalid decision")
	ErrInvalidNode       = errors.New("invalid ledger node")
	ErrInvalidReservation = errors.New("invalid reservation")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateEvents validates a slice of events.
func validateEvents(events []model.Event) error {
	if events == nil {
		return fmt.Errorf("%w: events", ErrNilParameter)
	}
	if len(events) == 0 {
		return fmt.Errorf("%w: events", ErrEmptySlice)
	}

	for i := range events {
		if err := events[i].Validate(); err != nil {
			return fmt.Errorf("%w: event at index %d: %w", ErrInvalidEvent, i, err)
		}
	}
	return nil
}

// validateCandidate validates a single candidate.
func validateCandidate(candidate *model.Candidate) error {
	if candidate == nil {
		return fmt.Errorf("%w: candidate", ErrNilParameter)
	}
	if candidate.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidCandidate)
	}
	if candidate.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidCandidate)
	}
	return nil
}

// validateScore validates a relevance score before it is appended.
func validateScore(score *model.RelevanceScore) error {
	if score == nil {
		return fmt.Errorf("%w: score", ErrNilParameter)
	}
	if score.EventID == "" {
		return fmt.Errorf("%w: missing event ID", ErrInvalidScore)
	}
	if score.CandidateID == "" {
		return fmt.Errorf("%w: missing candidate ID", ErrInvalidScore)
	}
	if score.Total < 0 || score.Total > model.RelevanceTotalCap {
		return fmt.Errorf("%w: total %.2f out of range", ErrInvalidScore, score.Total)
	}
	return nil
}

// validateDecision validates a decision record.
func validateDecision(decision *model.Decision) error {
	if decision == nil {
		return fmt.Errorf("%w: decision", ErrNilParameter)
	}
	if decision.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidDecision)
	}
	if decision.EventID == "" {
		return fmt.Errorf("%w: missing event ID", ErrInvalidDecision)
	}
	if decision.CandidateID == "" {
		return fmt.Errorf("%w: missing candidate ID", ErrInvalidDecision)
	}
	switch decision.Verdict {
	case model.VerdictGo, model.VerdictNoGo, model.VerdictPendingApproval, model.VerdictExpired:
	default:
		return fmt.Errorf("%w: unknown verdict %q", ErrInvalidDecision, decision.Verdict)
	}
	if decision.EvaluatedAt.IsZero() {
		return fmt.Errorf("%w: missing evaluation time", ErrInvalidDecision)
	}
	return nil
}

// validateNode validates a ledger node.
func validateNode(node *model.LedgerNode) error {
	if node.Key == "" {
		return fmt.Errorf("%w: missing key", ErrInvalidNode)
	}
	switch node.Level {
	case model.LevelUniverse, model.LevelCandidate, model.LevelCampaign, model.LevelChannel, model.LevelTier:
	default:
		return fmt.Errorf("%w: unknown level %q", ErrInvalidNode, node.Level)
	}
	if node.Budget < 0 {
		return fmt.Errorf("%w: negative budget", ErrInvalidNode)
	}
	return nil
}

// validateReservation validates a reservation record.
func validateReservation(reservation *model.Reservation) error {
	if reservation.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidReservation)
	}
	if err := reservation.Path.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidReservation, err)
	}
	if reservation.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidReservation)
	}
	switch reservation.State {
	case model.ReservationHeld, model.ReservationCommitted, model.ReservationReleased:
	default:
		return fmt.Errorf("%w: unknown state %q", ErrInvalidReservation, reservation.State)
	}
	return nil
}
