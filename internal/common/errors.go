// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"

	"github.com/rallypoint-io/warroom/internal/model"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")

	// Decision errors.
	ErrDecisionFinalized = errors.New("decision already finalized")
	ErrNoPendingDecision = errors.New("no pending decision")
)

// InsufficientBudgetError reports a reserve that failed at a specific
// ledger level. Always recoverable: the caller can retry with a reduced
// amount or wait for budget to free up.
type InsufficientBudgetError struct {
	Level     model.LedgerLevel
	Key       string
	Requested float64
	Available float64
}

func (e *InsufficientBudgetError) Error() string {
	return fmt.Sprintf("insufficient budget at %s (%s): requested %.2f, available %.2f",
		e.Level, e.Key, e.Requested, e.Available)
}

// Shortfall returns how much the request exceeded the available headroom.
func (e *InsufficientBudgetError) Shortfall() float64 {
	return e.Requested - e.Available
}

// RuleBlockedError reports a decision vetoed by a control-panel rule. Not
// retryable for this event/candidate pair until configuration changes.
type RuleBlockedError struct {
	RuleName string
	RuleID   int64
}

func (e *RuleBlockedError) Error() string {
	return fmt.Sprintf("blocked by control rule %q (id %d)", e.RuleName, e.RuleID)
}

// ValidationError reports malformed event or candidate input. Surfaced, not
// retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// ExternalTimeoutError reports an unreachable cost or probability model.
// The decision degrades rather than waiting indefinitely.
type ExternalTimeoutError struct {
	Err    error
	Source string
}

func (e *ExternalTimeoutError) Error() string {
	return fmt.Sprintf("external model %s unavailable: %v", e.Source, e.Err)
}

func (e *ExternalTimeoutError) Unwrap() error {
	return e.Err
}

// GuardrailViolationError reports a correction that would breach a
// configured ceiling. The action is blocked, never applied.
type GuardrailViolationError struct {
	Guardrail string
	Projected float64
	Limit     float64
}

func (e *GuardrailViolationError) Error() string {
	return fmt.Sprintf("correction would breach %s: projected %.2f exceeds limit %.2f",
		e.Guardrail, e.Projected, e.Limit)
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	var insufficient *InsufficientBudgetError
	var timeout *ExternalTimeoutError
	if errors.As(err, &insufficient) || errors.As(err, &timeout) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
