package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aic-platform/sovereign/internal/platform/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IncidentRepository persists incident reports.
type IncidentRepository struct {
	db *pgxpool.Pool
}

// NewIncidentRepository creates a new IncidentRepository.
func NewIncidentRepository(db *pgxpool.Pool) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// Create inserts a new incident in OPEN state.
func (r *IncidentRepository) Create(ctx context.Context, inc *model.Incident) error {
	inc.ID = uuid.New()
	now := time.Now().UTC()
	inc.CreatedAt = now
	inc.UpdatedAt = now
	inc.Status = model.IncidentOpen

	_, err := r.db.Exec(ctx,
		`INSERT INTO incidents (id, org_id, reporter_email, system_name, description, status, resolution_details, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		inc.ID, inc.OrgID, inc.ReporterEmail, inc.SystemName, inc.Description,
		inc.Status, inc.ResolutionDetails, inc.CreatedAt, inc.UpdatedAt,
	)
	return err
}

// GetByID retrieves an incident scoped to an organization.
func (r *IncidentRepository) GetByID(ctx context.Context, orgID, id uuid.UUID) (*model.Incident, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, org_id, reporter_email, system_name, description, status, resolution_details, created_at, updated_at
		 FROM incidents WHERE id = $1 AND org_id = $2`, id, orgID)
	inc, err := scanIncident(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get incident %s: %w", id, err)
	}
	return inc, nil
}

// ListByOrg returns all incidents for an organization, newest first.
func (r *IncidentRepository) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*model.Incident, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, org_id, reporter_email, system_name, description, status, resolution_details, created_at, updated_at
		 FROM incidents WHERE org_id = $1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var incidents []*model.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

// Resolve marks an OPEN incident resolved. Resolving an already resolved
// incident returns ErrNotFound so double resolutions cannot be notarized
// twice.
func (r *IncidentRepository) Resolve(ctx context.Context, orgID, id uuid.UUID, resolution string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE incidents SET status = $3, resolution_details = $4, updated_at = $5
		 WHERE id = $1 AND org_id = $2 AND status = $6`,
		id, orgID, model.IncidentResolved, resolution, time.Now().UTC(), model.IncidentOpen)
	if err != nil {
		return fmt.Errorf("resolve incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountOpen returns the number of OPEN incidents for an organization.
func (r *IncidentRepository) CountOpen(ctx context.Context, orgID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM incidents WHERE org_id = $1 AND status = $2`,
		orgID, model.IncidentOpen).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open incidents: %w", err)
	}
	return n, nil
}

func scanIncident(row interface{ Scan(...any) error }) (*model.Incident, error) {
	inc := &model.Incident{}
	err := row.Scan(
		&inc.ID, &inc.OrgID, &inc.ReporterEmail, &inc.SystemName, &inc.Description,
		&inc.Status, &inc.ResolutionDetails, &inc.CreatedAt, &inc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return inc, nil
}
