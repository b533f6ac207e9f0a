package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aic-platform/sovereign/internal/intelligence"
	"github.com/aic-platform/sovereign/internal/platform/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RequirementRepository persists compliance requirements.
type RequirementRepository struct {
	db *pgxpool.Pool
}

// NewRequirementRepository creates a new RequirementRepository.
func NewRequirementRepository(db *pgxpool.Pool) *RequirementRepository {
	return &RequirementRepository{db: db}
}

// Create inserts a new requirement. Category is normalized to upper case so
// the scoring buckets match regardless of caller casing.
func (r *RequirementRepository) Create(ctx context.Context, req *model.Requirement) error {
	req.ID = uuid.New()
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	req.Category = strings.ToUpper(req.Category)
	if req.Status == "" {
		req.Status = model.RequirementPending
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO audit_requirements (id, org_id, title, description, category, status, evidence_url, findings, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		req.ID, req.OrgID, req.Title, req.Description, req.Category,
		req.Status, req.EvidenceURL, req.Findings, req.CreatedAt, req.UpdatedAt,
	)
	return err
}

// GetByID retrieves a requirement scoped to an organization.
func (r *RequirementRepository) GetByID(ctx context.Context, orgID, id uuid.UUID) (*model.Requirement, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, org_id, title, description, category, status, evidence_url, findings, created_at, updated_at
		 FROM audit_requirements WHERE id = $1 AND org_id = $2`, id, orgID)
	req, err := scanRequirement(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get requirement %s: %w", id, err)
	}
	return req, nil
}

// ListByOrg returns all requirements for an organization.
func (r *RequirementRepository) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*model.Requirement, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, org_id, title, description, category, status, evidence_url, findings, created_at, updated_at
		 FROM audit_requirements WHERE org_id = $1 ORDER BY created_at ASC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []*model.Requirement
	for rows.Next() {
		req, err := scanRequirement(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// SetStatus updates a requirement's status and findings.
func (r *RequirementRepository) SetStatus(ctx context.Context, orgID, id uuid.UUID, status model.RequirementStatus, findings string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE audit_requirements SET status = $3, findings = $4, updated_at = $5
		 WHERE id = $1 AND org_id = $2`,
		id, orgID, status, findings, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update requirement status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Tallies returns per-category verified/total counts for an organization,
// feeding the integrity score aggregator.
func (r *RequirementRepository) Tallies(ctx context.Context, orgID uuid.UUID) (map[string]intelligence.Tally, error) {
	rows, err := r.db.Query(ctx,
		`SELECT category,
		        COUNT(*) FILTER (WHERE status = 'VERIFIED'),
		        COUNT(*)
		 FROM audit_requirements WHERE org_id = $1 GROUP BY category`, orgID)
	if err != nil {
		return nil, fmt.Errorf("requirement tallies: %w", err)
	}
	defer rows.Close()

	tallies := make(map[string]intelligence.Tally)
	for rows.Next() {
		var category string
		var t intelligence.Tally
		if err := rows.Scan(&category, &t.Verified, &t.Total); err != nil {
			return nil, err
		}
		tallies[strings.ToUpper(category)] = t
	}
	return tallies, rows.Err()
}

func scanRequirement(row interface{ Scan(...any) error }) (*model.Requirement, error) {
	req := &model.Requirement{}
	err := row.Scan(
		&req.ID, &req.OrgID, &req.Title, &req.Description, &req.Category,
		&req.Status, &req.EvidenceURL, &req.Findings, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}
