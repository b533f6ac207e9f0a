package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockClass is the classid half of the advisory lock key used to
// serialise appends. The value is arbitrary but must be consistent across
// all platform instances sharing a database.
const advisoryLockClass = int32(744_210_551)

// scopeLockKey derives the objid half of the advisory lock key from the
// scope, so appends to different scopes never contend with each other.
func scopeLockKey(scope Scope) int32 {
	h := fnv.New32a()
	h.Write([]byte(scope))
	return int32(h.Sum32())
}

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint errors.
const uniqueViolation = "23505"

// PostgresLedger persists chains to PostgreSQL. It implements the Ledger
// interface.
//
// The audit_ledger table carries a unique index on (scope, sequence_number)
// as a backstop against lost races, and the application's database role has
// UPDATE and DELETE revoked on it, so the append-only invariant holds even
// against a compromised application layer.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres creates a PostgresLedger backed by the given connection pool.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger}
}

// Append implements Ledger.
// It acquires a per-scope PostgreSQL advisory lock, reads the chain tail,
// computes the new entry digest, and inserts it, all within a single
// transaction. A unique violation on (scope, sequence_number) means another
// appender won the race despite the lock (e.g. a mixed-version deployment);
// it is retried once with a fresh tail read before surfacing ErrConflict.
func (l *PostgresLedger) Append(ctx context.Context, scope Scope, chainType ChainType, content json.RawMessage) (*Entry, error) {
	entry, err := l.appendOnce(ctx, scope, chainType, content)
	if errors.Is(err, ErrConflict) {
		l.logger.Warn("ledger append lost a tail race, retrying", zap.String("scope", string(scope)))
		entry, err = l.appendOnce(ctx, scope, chainType, content)
	}
	return entry, err
}

func (l *PostgresLedger) appendOnce(ctx context.Context, scope Scope, chainType ChainType, content json.RawMessage) (*Entry, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialise concurrent appends on this scope only. The lock is released
	// when the transaction commits or rolls back.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1, $2)",
		advisoryLockClass, scopeLockKey(scope)); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	tail, err := scanTail(ctx, tx, scope)
	if err != nil {
		return nil, err
	}

	entry, err := nextEntry(scope, chainType, content, tail)
	if err != nil {
		return nil, err
	}
	entry.CreatedAt = time.Now().UTC()

	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_ledger (id, scope, sequence_number, chain_type, content, previous_digest, digest, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.Scope, entry.SequenceNumber, entry.ChainType,
		string(entry.Content), entry.PreviousDigest, entry.Digest, entry.CreatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("sequence %d already taken for scope %s: %w",
				entry.SequenceNumber, scope, ErrConflict)
		}
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	l.logger.Debug("ledger entry sealed",
		zap.String("scope", string(scope)),
		zap.Int64("sequence", entry.SequenceNumber),
		zap.String("chain_type", string(entry.ChainType)),
	)
	return entry, nil
}

// scanTail reads the highest-sequence entry for scope within tx, or nil for
// an empty chain.
func scanTail(ctx context.Context, tx pgx.Tx, scope Scope) (*Entry, error) {
	row := tx.QueryRow(ctx,
		`SELECT id, scope, sequence_number, chain_type, content, previous_digest, digest, created_at
		 FROM audit_ledger WHERE scope = $1
		 ORDER BY sequence_number DESC LIMIT 1`, scope)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}
	return e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	e := &Entry{}
	var content string
	if err := row.Scan(
		&e.ID, &e.Scope, &e.SequenceNumber, &e.ChainType,
		&content, &e.PreviousDigest, &e.Digest, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.Content = json.RawMessage(content)
	return e, nil
}

// Get implements Ledger.
func (l *PostgresLedger) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT id, scope, sequence_number, chain_type, content, previous_digest, digest, created_at
		 FROM audit_ledger WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry %s: %w", id, err)
	}
	return e, nil
}

// Tail implements Ledger.
func (l *PostgresLedger) Tail(ctx context.Context, scope Scope) (*Entry, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT id, scope, sequence_number, chain_type, content, previous_digest, digest, created_at
		 FROM audit_ledger WHERE scope = $1
		 ORDER BY sequence_number DESC LIMIT 1`, scope)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}
	return e, nil
}

// List implements Ledger.
func (l *PostgresLedger) List(ctx context.Context, scope Scope) ([]*Entry, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, scope, sequence_number, chain_type, content, previous_digest, digest, created_at
		 FROM audit_ledger WHERE scope = $1
		 ORDER BY sequence_number ASC`, scope)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Len implements Ledger.
func (l *PostgresLedger) Len(ctx context.Context, scope Scope) (int64, error) {
	var n int64
	if err := l.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM audit_ledger WHERE scope = $1", scope).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

// Root implements Ledger.
func (l *PostgresLedger) Root(ctx context.Context, scope Scope) (string, error) {
	var digest string
	err := l.pool.QueryRow(ctx,
		`SELECT digest FROM audit_ledger WHERE scope = $1
		 ORDER BY sequence_number DESC LIMIT 1`, scope).Scan(&digest)
	if errors.Is(err, pgx.ErrNoRows) {
		return GenesisDigest, nil
	}
	if err != nil {
		return "", fmt.Errorf("get ledger root: %w", err)
	}
	return digest, nil
}

// Scopes returns every scope that has at least one entry.
func (l *PostgresLedger) Scopes(ctx context.Context) ([]Scope, error) {
	rows, err := l.pool.Query(ctx, "SELECT DISTINCT scope FROM audit_ledger")
	if err != nil {
		return nil, fmt.Errorf("list ledger scopes: %w", err)
	}
	defer rows.Close()

	var scopes []Scope
	for rows.Next() {
		var s Scope
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		scopes = append(scopes, s)
	}
	return scopes, rows.Err()
}

// VerifyChain implements Ledger. O(n) in chain length; the full chain is
// re-read and re-hashed on every invocation since any entry could have been
// corrupted at rest since the last check.
func (l *PostgresLedger) VerifyChain(ctx context.Context, scope Scope) (*VerifyResult, error) {
	entries, err := l.List(ctx, scope)
	if err != nil {
		return nil, err
	}
	return verifyOrdered(entries), nil
}

// VerifyEntry implements Ledger.
func (l *PostgresLedger) VerifyEntry(ctx context.Context, id uuid.UUID) (*EntryCheck, error) {
	e, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return checkEntry(e), nil
}
