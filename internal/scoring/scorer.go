// Package scoring computes event-to-candidate relevance scores.
package scoring

import (
	"time"

	"github.com/rallypoint-io/warroom/internal/model"
)

// Scorer computes relevance scores. Pure and deterministic: the same event
// and candidate always produce the same factor scores, and missing
// candidate data yields zero factors, never an error.
type Scorer struct{}

// NewScorer creates a scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score computes the eight-factor relevance of an event to a candidate.
// Each factor is weighted by the candidate's personal weighting before its
// cap is applied; the total is the capped sum.
func (s *Scorer) Score(event model.Event, candidate model.Candidate) model.RelevanceScore {
	w := candidate.Weights

	score := model.RelevanceScore{
		ScoredAt:    time.Now(),
		EventID:     event.ID,
		CandidateID: candidate.ID,
		Role:        capped(s.roleMatch(event, candidate.Office), w.Role, model.RoleFactorCap),
		District:    capped(s.districtMatch(event, candidate), w.District, model.DistrictFactorCap),
		Donor:       capped(s.overlapPoints(candidate.DonorIndustries, event.Topics, 5), w.Donor, model.DonorFactorCap),
		Committee:   capped(s.overlapPoints(candidate.Committees, event.Topics, 5), w.Committee, model.CommitteeFactorCap),
		Priority:    capped(s.overlapPoints(candidate.Priorities, event.Topics, 5), w.Priority, model.PriorityFactorCap),
		Voting:      capped(s.votingAlignment(event, candidate), w.Voting, model.VotingFactorCap),
		Faction:     capped(s.factionAlignment(event, candidate), w.Faction, model.FactionFactorCap),
		Geography:   capped(s.geographicProximity(event, candidate.Office), w.Geography, model.GeographyFactorCap),
	}
	score.Total = score.Sum()

	return score
}

// OfficeRelevance precomputes the candidate-independent share of the score
// (role and geography) for an event against an office type.
func (s *Scorer) OfficeRelevance(event model.Event, office model.OfficeType) float64 {
	role := capped(s.roleMatch(event, office), 0, model.RoleFactorCap)
	geo := capped(s.geographicProximity(event, office), 0, model.GeographyFactorCap)
	return role + geo
}

// roleMatch scores how squarely the event falls inside the office's remit.
func (s *Scorer) roleMatch(event model.Event, office model.OfficeType) float64 {
	if office.CoversCategory(event.Category) {
		return model.RoleFactorCap
	}
	// Partial credit when a responsibility area shows up in the event topics.
	if anyOverlap(office.Responsibilities, event.Topics) {
		return model.RoleFactorCap / 2
	}
	return 0
}

// districtMatch scores geographic overlap between the event and the
// candidate's district.
func (s *Scorer) districtMatch(event model.Event, candidate model.Candidate) float64 {
	if candidate.District == "" {
		return 0
	}
	if event.District != "" && event.District == candidate.District && event.State == candidate.State {
		return model.DistrictFactorCap
	}
	if event.State != "" && event.State == candidate.State {
		return model.DistrictFactorCap / 3
	}
	return 0
}

// votingAlignment scores whether the candidate has a voting record on any
// of the event's topics.
func (s *Scorer) votingAlignment(event model.Event, candidate model.Candidate) float64 {
	if anyOverlap(candidate.VotingTopics, event.Topics) {
		return model.VotingFactorCap
	}
	return 0
}

// factionAlignment scores factional fit. Events carry the faction an action
// favors; an empty faction on either side scores zero.
func (s *Scorer) factionAlignment(event model.Event, candidate model.Candidate) float64 {
	if event.Faction != "" && event.Faction == candidate.Faction {
		return model.FactionFactorCap
	}
	return 0
}

// geographicProximity scores how close the event's jurisdiction sits to the
// office's geographic scope.
func (s *Scorer) geographicProximity(event model.Event, office model.OfficeType) float64 {
	if event.Jurisdiction == office.GeoScope {
		return model.GeographyFactorCap
	}
	if jurisdictionRank(event.Jurisdiction) == 0 || jurisdictionRank(office.GeoScope) == 0 {
		return 0
	}
	distance := jurisdictionRank(event.Jurisdiction) - jurisdictionRank(office.GeoScope)
	if distance < 0 {
		distance = -distance
	}
	if distance == 1 {
		return 2
	}
	return 0
}

// overlapPoints awards pointsPer for every candidate attribute present in
// the event topics.
func (s *Scorer) overlapPoints(attrs, topics []string, pointsPer float64) float64 {
	var points float64
	for _, attr := range attrs {
		for _, topic := range topics {
			if attr == topic {
				points += pointsPer
				break
			}
		}
	}
	return points
}

// capped applies the candidate weight (zero means 1.0) and the factor cap.
func capped(raw, weight, cap float64) float64 {
	if weight == 0 {
		weight = 1.0
	}
	score := raw * weight
	if score > cap {
		return cap
	}
	if score < 0 {
		return 0
	}
	return score
}

func jurisdictionRank(j model.Jurisdiction) int {
	switch j {
	case model.JurisdictionLocal:
		return 1
	case model.JurisdictionState:
		return 2
	case model.JurisdictionFederal:
		return 3
	}
	return 0
}

func anyOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
