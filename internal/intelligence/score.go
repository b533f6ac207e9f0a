// Package intelligence computes the per-organization integrity score: a
// weighted aggregate of compliance requirement completion, penalized by open
// incidents. The score is a pure function of current business state; it does
// not read the ledger, but callers seal each recalculation into the
// organization's chain so the score history is itself notarized.
package intelligence

import (
	"context"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Requirement categories and their fixed weights. Weights sum to 1.0.
const (
	CategoryDocumentation = "DOCUMENTATION"
	CategoryOversight     = "OVERSIGHT"
	CategoryReports       = "REPORTS"
	CategoryTechnical     = "TECHNICAL"
)

// categoryWeights is the fixed weighting of each requirement category.
var categoryWeights = map[string]float64{
	CategoryDocumentation: 0.20,
	CategoryOversight:     0.35,
	CategoryReports:       0.25,
	CategoryTechnical:     0.20,
}

// incidentPenalty is subtracted from the rounded raw score per open incident.
const incidentPenalty = 5

// Tally counts verified and total requirements within one category.
type Tally struct {
	Verified int
	Total    int
}

// Stats is the result of a score recalculation.
type Stats struct {
	Score                int `json:"score"`
	OpenIncidents        int `json:"open_incidents"`
	TotalRequirements    int `json:"total_requirements"`
	VerifiedRequirements int `json:"verified_requirements"`
}

// Store is the persistence surface the aggregator needs. The platform
// repository layer satisfies this interface.
type Store interface {
	// RequirementTallies returns per-category verified/total counts for an
	// organization. Categories outside the fixed weighting are ignored.
	RequirementTallies(ctx context.Context, orgID uuid.UUID) (map[string]Tally, error)

	// CountOpenIncidents returns the number of OPEN incidents for an
	// organization.
	CountOpenIncidents(ctx context.Context, orgID uuid.UUID) (int, error)

	// SetIntegrityScore persists the cached score on the organization row.
	SetIntegrityScore(ctx context.Context, orgID uuid.UUID, score int) error
}

// Aggregator recalculates and persists integrity scores.
type Aggregator struct {
	store  Store
	logger *zap.Logger
}

// NewAggregator creates an Aggregator backed by the given store.
func NewAggregator(store Store, logger *zap.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger}
}

// weightedScore computes the raw 0–100 score from category tallies. A
// category with no requirements contributes nothing.
func weightedScore(tallies map[string]Tally) float64 {
	var score float64
	for category, weight := range categoryWeights {
		t := tallies[category]
		if t.Total > 0 {
			score += float64(t.Verified) / float64(t.Total) * weight * 100
		}
	}
	return score
}

// finalScore applies the incident penalty and clamps at zero.
func finalScore(raw float64, openIncidents int) int {
	s := int(math.Round(raw)) - incidentPenalty*openIncidents
	if s < 0 {
		return 0
	}
	return s
}

// Recalculate computes the organization's integrity score from current
// requirement and incident state and persists it. Recomputing with unchanged
// inputs yields the same stored value.
func (a *Aggregator) Recalculate(ctx context.Context, orgID uuid.UUID) (*Stats, error) {
	tallies, err := a.store.RequirementTallies(ctx, orgID)
	if err != nil {
		return nil, err
	}

	openIncidents, err := a.store.CountOpenIncidents(ctx, orgID)
	if err != nil {
		return nil, err
	}

	score := finalScore(weightedScore(tallies), openIncidents)

	if err := a.store.SetIntegrityScore(ctx, orgID, score); err != nil {
		return nil, err
	}

	stats := &Stats{
		Score:         score,
		OpenIncidents: openIncidents,
	}
	for category, t := range tallies {
		if _, weighted := categoryWeights[category]; !weighted {
			continue
		}
		stats.TotalRequirements += t.Total
		stats.VerifiedRequirements += t.Verified
	}

	a.logger.Debug("integrity score recalculated",
		zap.String("org_id", orgID.String()),
		zap.Int("score", score),
		zap.Int("open_incidents", openIncidents),
	)
	return stats, nil
}
