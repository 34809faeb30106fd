package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rallypoint-io/warroom/internal/common"
	"github.com/rallypoint-io/warroom/internal/model"
)

// SaveCandidate inserts or updates a candidate profile.
func (s *SQLiteStorage) SaveCandidate(ctx context.Context, candidate *model.Candidate) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateCandidate(candidate); err != nil {
		return err
	}

	cols, err := marshalCandidateColumns(candidate)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO candidates (
			id, name, district, state, faction,
			office_name, office_categories, office_responsibilities, office_geo_scope,
			committees, priorities, donor_industries, voting_topics, weights,
			active, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			district = excluded.district,
			state = excluded.state,
			faction = excluded.faction,
			office_name = excluded.office_name,
			office_categories = excluded.office_categories,
			office_responsibilities = excluded.office_responsibilities,
			office_geo_scope = excluded.office_geo_scope,
			committees = excluded.committees,
			priorities = excluded.priorities,
			donor_industries = excluded.donor_industries,
			voting_topics = excluded.voting_topics,
			weights = excluded.weights,
			active = excluded.active,
			updated_at = excluded.updated_at
	`,
		candidate.ID,
		candidate.Name,
		candidate.District,
		candidate.State,
		candidate.Faction,
		candidate.Office.Name,
		cols.officeCategories,
		cols.officeResponsibilities,
		string(candidate.Office.GeoScope),
		cols.committees,
		cols.priorities,
		cols.donorIndustries,
		cols.votingTopics,
		cols.weights,
		boolToInt(candidate.Active),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save candidate %s: %w", candidate.ID, err)
	}
	return nil
}

// GetCandidateByID retrieves a single candidate profile.
func (s *SQLiteStorage) GetCandidateByID(ctx context.Context, id string) (*model.Candidate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, candidateSelect+` WHERE id = ?`, id)
	candidate, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("candidate %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get candidate: %w", err)
	}
	return candidate, nil
}

// GetActiveCandidates returns every candidate currently in scope for
// evaluation.
func (s *SQLiteStorage) GetActiveCandidates(ctx context.Context) ([]model.Candidate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, candidateSelect+` WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []model.Candidate
	for rows.Next() {
		candidate, scanErr := scanCandidate(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", scanErr)
		}
		candidates = append(candidates, *candidate)
	}
	return candidates, rows.Err()
}

const candidateSelect = `
	SELECT id, name, district, state, faction,
	       office_name, office_categories, office_responsibilities, office_geo_scope,
	       committees, priorities, donor_industries, voting_topics, weights,
	       active, updated_at
	FROM candidates`

type candidateColumns struct {
	officeCategories       string
	officeResponsibilities string
	committees             string
	priorities             string
	donorIndustries        string
	votingTopics           string
	weights                string
}

func marshalCandidateColumns(candidate *model.Candidate) (candidateColumns, error) {
	var cols candidateColumns
	var err error
	if cols.officeCategories, err = marshalStrings(candidate.Office.RelevantCategories); err != nil {
		return cols, err
	}
	if cols.officeResponsibilities, err = marshalStrings(candidate.Office.Responsibilities); err != nil {
		return cols, err
	}
	if cols.committees, err = marshalStrings(candidate.Committees); err != nil {
		return cols, err
	}
	if cols.priorities, err = marshalStrings(candidate.Priorities); err != nil {
		return cols, err
	}
	if cols.donorIndustries, err = marshalStrings(candidate.DonorIndustries); err != nil {
		return cols, err
	}
	if cols.votingTopics, err = marshalStrings(candidate.VotingTopics); err != nil {
		return cols, err
	}
	weights, err := json.Marshal(candidate.Weights)
	if err != nil {
		return cols, fmt.Errorf("failed to marshal weights: %w", err)
	}
	cols.weights = string(weights)
	return cols, nil
}

func marshalStrings(values []string) (string, error) {
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(data), nil
}

func unmarshalStrings(column sql.NullString) ([]string, error) {
	if !column.Valid || strings.TrimSpace(column.String) == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(column.String), &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal string list: %w", err)
	}
	return values, nil
}

func scanCandidate(row rowScanner) (*model.Candidate, error) {
	var candidate model.Candidate
	var district, state, faction, officeName, geoScope sql.NullString
	var officeCategories, officeResponsibilities sql.NullString
	var committees, priorities, donorIndustries, votingTopics, weights sql.NullString
	var active int
	var updatedAt sql.NullTime

	err := row.Scan(
		&candidate.ID,
		&candidate.Name,
		&district,
		&state,
		&faction,
		&officeName,
		&officeCategories,
		&officeResponsibilities,
		&geoScope,
		&committees,
		&priorities,
		&donorIndustries,
		&votingTopics,
		&weights,
		&active,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	candidate.District = district.String
	candidate.State = state.String
	candidate.Faction = faction.String
	candidate.Office.Name = officeName.String
	candidate.Office.GeoScope = model.Jurisdiction(geoScope.String)
	candidate.Active = active != 0
	candidate.UpdatedAt = sqliteTime(updatedAt)

	if candidate.Office.RelevantCategories, err = unmarshalStrings(officeCategories); err != nil {
		return nil, err
	}
	if candidate.Office.Responsibilities, err = unmarshalStrings(officeResponsibilities); err != nil {
		return nil, err
	}
	if candidate.Committees, err = unmarshalStrings(committees); err != nil {
		return nil, err
	}
	if candidate.Priorities, err = unmarshalStrings(priorities); err != nil {
		return nil, err
	}
	if candidate.DonorIndustries, err = unmarshalStrings(donorIndustries); err != nil {
		return nil, err
	}
	if candidate.VotingTopics, err = unmarshalStrings(votingTopics); err != nil {
		return nil, err
	}
	if weights.Valid && strings.TrimSpace(weights.String) != "" {
		if err := json.Unmarshal([]byte(weights.String), &candidate.Weights); err != nil {
			return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
		}
	}
	return &candidate, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
