package storage

import (
	"context"
	"fmt"

	"github.com/rallypoint-io/warroom/internal/model"
)

// SaveRelevanceScore appends one computed score. Scores are never updated.
func (s *SQLiteStorage) SaveRelevanceScore(ctx context.Context, score *model.RelevanceScore) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateScore(score); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relevance_scores (
			event_id, candidate_id, role, district, donor, committee,
			priority, voting, faction, geography, total, scored_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		score.EventID,
		score.CandidateID,
		score.Role,
		score.District,
		score.Donor,
		score.Committee,
		score.Priority,
		score.Voting,
		score.Faction,
		score.Geography,
		score.Total,
		score.ScoredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save relevance score: %w", err)
	}
	return nil
}

// GetRelevanceScores returns every stored score for an event, highest first.
func (s *SQLiteStorage) GetRelevanceScores(ctx context.Context, eventID string) ([]model.RelevanceScore, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(eventID, "eventID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, candidate_id, role, district, donor, committee,
		       priority, voting, faction, geography, total, scored_at
		FROM relevance_scores
		WHERE event_id = ?
		ORDER BY total DESC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query relevance scores: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scores []model.RelevanceScore
	for rows.Next() {
		var score model.RelevanceScore
		if err := rows.Scan(
			&score.EventID,
			&score.CandidateID,
			&score.Role,
			&score.District,
			&score.Donor,
			&score.Committee,
			&score.Priority,
			&score.Voting,
			&score.Faction,
			&score.Geography,
			&score.Total,
			&score.ScoredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan relevance score: %w", err)
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}
