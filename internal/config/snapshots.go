package config

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rallypoint-io/warroom/internal/model"
)

// Thresholds are the operator-tunable cutoffs the decision engine reads.
type Thresholds struct {
	// RelevanceThreshold is the minimum relevance score (0-100) for a GO.
	RelevanceThreshold float64
	// ROIRatioThreshold is the minimum expected-revenue-to-cost ratio.
	ROIRatioThreshold float64
	// ReservationTTL bounds how long a pending-approval decision holds its
	// budget reservation before it expires.
	ReservationTTL time.Duration
	// ApprovalTTL bounds how long a pending correction waits for a signal.
	ApprovalTTL time.Duration
}

// DefaultThresholds returns the operator defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RelevanceThreshold: 95.0,
		ROIRatioThreshold:  10.0,
		ReservationTTL:     24 * time.Hour,
		ApprovalTTL:        24 * time.Hour,
	}
}

// Snapshot is one immutable version of the full runtime configuration.
// Readers take a snapshot once per evaluation cycle so an audit trail can
// always be replayed against the exact configuration in force at decision
// time. Never mutate a snapshot after publication.
type Snapshot struct {
	CreatedAt  time.Time
	Functions  map[string]model.FunctionParams
	Thresholds Thresholds
	Version    int64
}

// Function returns the parameters for the named function.
func (s *Snapshot) Function(name string) (model.FunctionParams, bool) {
	p, ok := s.Functions[name]
	return p, ok
}

// Store publishes configuration snapshots. Reads are lock-free; writes
// serialize and produce a new version rather than mutating in place, so an
// in-flight correction can never cause a decision to price against
// half-applied parameters.
type Store struct {
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex
}

// NewStore creates a store seeded with version 1.
func NewStore(thresholds Thresholds, functions map[string]model.FunctionParams) *Store {
	s := &Store{}
	snap := &Snapshot{
		Version:    1,
		CreatedAt:  time.Now(),
		Thresholds: thresholds,
		Functions:  cloneFunctions(functions),
	}
	s.current.Store(snap)
	return s
}

// Current returns the latest published snapshot.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// UpdateFunction publishes a new snapshot with the named function's
// parameters replaced.
func (s *Store) UpdateFunction(name string, params model.FunctionParams) (*Snapshot, error) {
	if name == "" {
		return nil, fmt.Errorf("function name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	next := &Snapshot{
		Version:    prev.Version + 1,
		CreatedAt:  time.Now(),
		Thresholds: prev.Thresholds,
		Functions:  cloneFunctions(prev.Functions),
	}
	next.Functions[name] = params.Clone()
	s.current.Store(next)

	return next, nil
}

// SetThresholds publishes a new snapshot with replaced thresholds.
func (s *Store) SetThresholds(thresholds Thresholds) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	next := &Snapshot{
		Version:    prev.Version + 1,
		CreatedAt:  time.Now(),
		Thresholds: thresholds,
		Functions:  cloneFunctions(prev.Functions),
	}
	s.current.Store(next)

	return next
}

func cloneFunctions(in map[string]model.FunctionParams) map[string]model.FunctionParams {
	out := make(map[string]model.FunctionParams, len(in))
	for name, params := range in {
		out[name] = params.Clone()
	}
	return out
}
