package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidKey is returned when an API key does not match any stored hash.
var ErrInvalidKey = errors.New("invalid API key")

// GenerateAPIKey creates a random API key and its bcrypt hash. The plaintext
// is returned once at creation time and never persisted.
func GenerateAPIKey() (plaintext, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	plaintext = "svk_" + hex.EncodeToString(buf)

	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash key: %w", err)
	}
	return plaintext, string(h), nil
}

// APIKey is a stored credential tied to an organization.
type APIKey struct {
	ID        uuid.UUID
	OrgID     uuid.UUID
	KeyHash   string
	CreatedAt time.Time
}

// KeyRepository persists org API keys.
type KeyRepository struct {
	db *pgxpool.Pool
}

// NewKeyRepository creates a new KeyRepository.
func NewKeyRepository(db *pgxpool.Pool) *KeyRepository {
	return &KeyRepository{db: db}
}

// Create stores a new key hash for an organization.
func (r *KeyRepository) Create(ctx context.Context, orgID uuid.UUID, keyHash string) (*APIKey, error) {
	key := &APIKey{
		ID:        uuid.New(),
		OrgID:     orgID,
		KeyHash:   keyHash,
		CreatedAt: time.Now().UTC(),
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO api_keys (id, org_id, key_hash, created_at) VALUES ($1, $2, $3, $4)`,
		key.ID, key.OrgID, key.KeyHash, key.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store api key: %w", err)
	}
	return key, nil
}

// Authenticate matches a plaintext key against the organization's stored
// hashes. Returns ErrInvalidKey when no hash matches.
func (r *KeyRepository) Authenticate(ctx context.Context, orgID uuid.UUID, plaintext string) error {
	rows, err := r.db.Query(ctx,
		`SELECT key_hash FROM api_keys WHERE org_id = $1`, orgID)
	if err != nil {
		return fmt.Errorf("load api keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return err
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return ErrInvalidKey
}
