// Package testutil provides shared helpers for tests that need a real
// database or canned domain fixtures.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/rallypoint-io/warroom/internal/model"
	"github.com/rallypoint-io/warroom/internal/storage"
)

// SetupTestDB creates a migrated in-memory database and registers cleanup.
func SetupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// NewTestEvent returns a valid event with sensible defaults. Callers mutate
// the returned value for scenario-specific fields.
func NewTestEvent(id string) model.Event {
	return model.Event{
		ID:           id,
		Type:         "legislative_action",
		Category:     "education",
		State:        "CO",
		District:     "CO-02",
		Faction:      "unity",
		Topics:       []string{"school-funding", "teacher-pay"},
		Jurisdiction: model.JurisdictionState,
		Urgency:      model.UrgencyStandard,
		OccurredAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// NewTestCandidate returns a candidate whose profile aligns with the
// default test event.
func NewTestCandidate(id string) model.Candidate {
	return model.Candidate{
		ID:       id,
		Name:     "Jordan Reyes",
		District: "CO-02",
		State:    "CO",
		Faction:  "unity",
		Office: model.OfficeType{
			Name:               "school_board",
			RelevantCategories: []string{"education"},
			Responsibilities:   []string{"school-funding", "curriculum"},
			GeoScope:           model.JurisdictionLocal,
		},
		Committees:      []string{"budget", "school-funding"},
		Priorities:      []string{"teacher-pay", "class-size"},
		DonorIndustries: []string{"education", "labor"},
		VotingTopics:    []string{"school-funding"},
		Active:          true,
	}
}

// SeedLedger allocates the same budget to all five levels of the given
// path so reservations up to that amount succeed.
func SeedLedger(t *testing.T, ctx context.Context, store *storage.SQLiteStorage, path model.LedgerPath, budget float64) {
	t.Helper()

	for _, level := range model.LedgerLevels {
		node := model.LedgerNode{
			Key:    path.Key(level),
			Level:  level,
			Budget: budget,
		}
		if err := store.UpsertLedgerNode(ctx, node); err != nil {
			t.Fatalf("failed to seed ledger node %s: %v", node.Key, err)
		}
	}
}
