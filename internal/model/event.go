// Package model defines the core domain models used throughout the application.
package model

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// Jurisdiction identifies the level of government an event occurred at.
type Jurisdiction string

// Jurisdiction constants.
const (
	JurisdictionLocal   Jurisdiction = "local"
	JurisdictionState   Jurisdiction = "state"
	JurisdictionFederal Jurisdiction = "federal"
)

// UrgencyTier ranks how quickly an event loses relevance.
type UrgencyTier int

// Urgency tiers, highest first.
const (
	UrgencyImmediate UrgencyTier = 1
	UrgencyHigh      UrgencyTier = 2
	UrgencyStandard  UrgencyTier = 3
	UrgencyLow       UrgencyTier = 4
)

// Event represents one external occurrence (legislative action, news item,
// local incident) delivered by the ingestion collaborator. Events are
// read-only to the core except for the processed flag, which transitions
// unprocessed -> processed exactly once.
type Event struct {
	OccurredAt time.Time
	ID         string
	Type       string
	Category   string
	State      string
	District   string
	Faction    string
	Hash       string
	Topics     []string
	Jurisdiction Jurisdiction
	Urgency    UrgencyTier
	Processed  bool
}

// GenerateHash creates a stable hash for duplicate detection across sources.
func (e *Event) GenerateHash() string {
	data := fmt.Sprintf("%s:%s:%s:%s:%s",
		e.OccurredAt.Format("2006-01-02T15:04"),
		e.Type,
		e.Category,
		e.State,
		strings.Join(e.Topics, ","))
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// Validate checks that the event carries the fields scoring depends on.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if e.Category == "" {
		return fmt.Errorf("event category is required")
	}
	switch e.Jurisdiction {
	case JurisdictionLocal, JurisdictionState, JurisdictionFederal:
	default:
		return fmt.Errorf("unknown jurisdiction %q", e.Jurisdiction)
	}
	if e.Urgency < UrgencyImmediate || e.Urgency > UrgencyLow {
		return fmt.Errorf("urgency tier must be between %d and %d", UrgencyImmediate, UrgencyLow)
	}
	return nil
}
