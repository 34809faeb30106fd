package model

import "time"

// OfficeType is static reference data describing an elected-office category.
// It lets event-to-office relevance be precomputed independently of any
// specific candidate.
type OfficeType struct {
	Name               string
	RelevantCategories []string
	Responsibilities   []string
	GeoScope           Jurisdiction
}

// CoversCategory reports whether events of the given category fall inside
// this office's remit.
func (o OfficeType) CoversCategory(category string) bool {
	for _, c := range o.RelevantCategories {
		if c == category {
			return true
		}
	}
	return false
}

// FactorWeights holds a candidate's personal relevance weighting, applied
// per factor before the factor cap. A zero-value weight means 1.0.
type FactorWeights struct {
	Role      float64
	District  float64
	Donor     float64
	Committee float64
	Priority  float64
	Voting    float64
	Faction   float64
	Geography float64
}

// Candidate is a campaign-operations-owned entity; the core only reads it.
type Candidate struct {
	UpdatedAt      time.Time
	ID             string
	Name           string
	District       string
	State          string
	Faction        string
	Office         OfficeType
	Committees     []string
	Priorities     []string
	DonorIndustries []string
	VotingTopics   []string
	Weights        FactorWeights
	Active         bool
}
