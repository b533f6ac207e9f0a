package repository

import (
	"context"

	"github.com/aic-platform/sovereign/internal/intelligence"
	"github.com/google/uuid"
)

// ScoreStore bundles the three repositories the intelligence aggregator
// reads and writes. It satisfies intelligence.Store.
type ScoreStore struct {
	orgs         *OrgRepository
	requirements *RequirementRepository
	incidents    *IncidentRepository
}

// NewScoreStore creates a ScoreStore over the given repositories.
func NewScoreStore(orgs *OrgRepository, requirements *RequirementRepository, incidents *IncidentRepository) *ScoreStore {
	return &ScoreStore{orgs: orgs, requirements: requirements, incidents: incidents}
}

// RequirementTallies implements intelligence.Store.
func (s *ScoreStore) RequirementTallies(ctx context.Context, orgID uuid.UUID) (map[string]intelligence.Tally, error) {
	return s.requirements.Tallies(ctx, orgID)
}

// CountOpenIncidents implements intelligence.Store.
func (s *ScoreStore) CountOpenIncidents(ctx context.Context, orgID uuid.UUID) (int, error) {
	return s.incidents.CountOpen(ctx, orgID)
}

// SetIntegrityScore implements intelligence.Store.
func (s *ScoreStore) SetIntegrityScore(ctx context.Context, orgID uuid.UUID, score int) error {
	return s.orgs.SetIntegrityScore(ctx, orgID, score)
}
