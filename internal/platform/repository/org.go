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

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// OrgRepository provides CRUD operations for organizations against PostgreSQL.
type OrgRepository struct {
	db *pgxpool.Pool
}

// NewOrgRepository creates a new OrgRepository.
func NewOrgRepository(db *pgxpool.Pool) *OrgRepository {
	return &OrgRepository{db: db}
}

// Create inserts a new organization.
func (r *OrgRepository) Create(ctx context.Context, org *model.Organization) error {
	org.ID = uuid.New()
	now := time.Now().UTC()
	org.CreatedAt = now
	org.UpdatedAt = now

	_, err := r.db.Exec(ctx,
		`INSERT INTO organizations (id, name, industry, integrity_score, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		org.ID, org.Name, org.Industry, org.IntegrityScore, org.CreatedAt, org.UpdatedAt,
	)
	return err
}

// GetByID retrieves an organization by its UUID.
func (r *OrgRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Organization, error) {
	org := &model.Organization{}
	err := r.db.QueryRow(ctx,
		`SELECT id, name, industry, integrity_score, created_at, updated_at
		 FROM organizations WHERE id = $1`, id,
	).Scan(&org.ID, &org.Name, &org.Industry, &org.IntegrityScore, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get organization %s: %w", id, err)
	}
	return org, nil
}

// List returns all organizations, newest first.
func (r *OrgRepository) List(ctx context.Context, limit, offset int) ([]*model.Organization, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, name, industry, integrity_score, created_at, updated_at
		 FROM organizations ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []*model.Organization
	for rows.Next() {
		org := &model.Organization{}
		if err := rows.Scan(&org.ID, &org.Name, &org.Industry, &org.IntegrityScore, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// SetIntegrityScore updates the cached integrity score for an organization.
func (r *OrgRepository) SetIntegrityScore(ctx context.Context, id uuid.UUID, score int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE organizations SET integrity_score = $2, updated_at = $3 WHERE id = $1`,
		id, score, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set integrity score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
