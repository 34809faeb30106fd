package model

import "time"

// Factor point caps. The eight factors sum to at most 100.
const (
	RoleFactorCap      = 30.0
	DistrictFactorCap  = 15.0
	DonorFactorCap     = 15.0
	CommitteeFactorCap = 15.0
	PriorityFactorCap  = 10.0
	VotingFactorCap    = 5.0
	FactionFactorCap   = 5.0
	GeographyFactorCap = 5.0

	// RelevanceTotalCap bounds the summed score.
	RelevanceTotalCap = 100.0
)

// RelevanceScore is the derived, append-only score of one event against one
// candidate. Never mutated after it is computed.
type RelevanceScore struct {
	ScoredAt    time.Time
	EventID     string
	CandidateID string
	Role        float64
	District    float64
	Donor       float64
	Committee   float64
	Priority    float64
	Voting      float64
	Faction     float64
	Geography   float64
	Total       float64
}

// Sum recomputes the total from the eight factors, capped at 100.
func (r RelevanceScore) Sum() float64 {
	total := r.Role + r.District + r.Donor + r.Committee +
		r.Priority + r.Voting + r.Faction + r.Geography
	if total > RelevanceTotalCap {
		return RelevanceTotalCap
	}
	return total
}
