package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrEntryNotFound is returned when no entry exists with the requested ID.
var ErrEntryNotFound = errors.New("ledger entry not found")

// ErrScopeNotFound is returned by callers that validate a scope against the
// tenant registry before sealing; the ledger itself accepts any scope.
var ErrScopeNotFound = errors.New("ledger scope not found")

// ErrConflict signals a lost race on the chain tail: another appender
// committed the same sequence number first. The append may be retried with a
// fresh tail read; nothing was committed.
var ErrConflict = errors.New("ledger append conflict")

// VerifyResult is the outcome of a chain walk. A broken chain is a reported
// finding, not an error: tampering is an expected, handleable outcome that
// must be surfaced to an operator, never thrown or swallowed.
type VerifyResult struct {
	Valid bool `json:"valid"`

	// BrokenAt identifies the first entry at which the chain no longer
	// holds. Nil when Valid.
	BrokenAt *uuid.UUID `json:"broken_at,omitempty"`

	// BrokenAtSequence is the sequence number of the broken entry.
	BrokenAtSequence int64 `json:"broken_at_sequence,omitempty"`

	// Reason describes the failure: "previous digest mismatch" (a link to
	// the predecessor no longer holds) or "digest mismatch" (the stored
	// digest does not match the stored content).
	Reason string `json:"reason,omitempty"`

	// Entries is the number of entries examined.
	Entries int64 `json:"entries"`
}

// EntryCheck is the outcome of a single-entry spot audit.
type EntryCheck struct {
	EntryID uuid.UUID `json:"entry_id"`
	Valid   bool      `json:"valid"`
	Reason  string    `json:"reason,omitempty"`
}

// Ledger is the storage contract for the append-only chain store.
// Both MemoryLedger and PostgresLedger implement this interface.
//
// Append is the only write path; entries are never updated or deleted.
// Concurrent Append calls on the same scope are serialized by the
// implementation; different scopes append independently.
type Ledger interface {
	// Append seals content as the next entry in the scope's chain: it reads
	// the current tail, links the new entry to it, and persists the entry,
	// all atomically.
	Append(ctx context.Context, scope Scope, chainType ChainType, content json.RawMessage) (*Entry, error)

	// Get returns the entry with the given ID, or ErrEntryNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Entry, error)

	// Tail returns the highest-sequence entry for a scope, or nil if the
	// chain is empty.
	Tail(ctx context.Context, scope Scope) (*Entry, error)

	// List returns every entry for a scope in ascending sequence order.
	List(ctx context.Context, scope Scope) ([]*Entry, error)

	// Len returns the number of entries in a scope's chain.
	Len(ctx context.Context, scope Scope) (int64, error)

	// Root returns the digest of the scope's tail entry, or GenesisDigest
	// for an empty chain.
	Root(ctx context.Context, scope Scope) (string, error)

	// VerifyChain walks the scope's chain from the genesis sentinel and
	// recomputes every digest. It reports the first break; it never mutates
	// the ledger and is safe to re-run at any time.
	VerifyChain(ctx context.Context, scope Scope) (*VerifyResult, error)

	// VerifyEntry recomputes a single entry's digest from its stored fields.
	VerifyEntry(ctx context.Context, id uuid.UUID) (*EntryCheck, error)
}

// verifyOrdered walks entries (which must be in ascending sequence order for
// one scope) and checks every link and digest. Shared by both implementations
// so the memory and Postgres ledgers can never disagree on what "intact"
// means.
func verifyOrdered(entries []*Entry) *VerifyResult {
	expectedPrevious := GenesisDigest
	expectedSeq := int64(1)

	for _, e := range entries {
		if e.SequenceNumber != expectedSeq || e.PreviousDigest != expectedPrevious {
			id := e.ID
			return &VerifyResult{
				Valid:            false,
				BrokenAt:         &id,
				BrokenAtSequence: e.SequenceNumber,
				Reason:           "previous digest mismatch",
				Entries:          int64(len(entries)),
			}
		}
		if digestOf(e) != e.Digest {
			id := e.ID
			return &VerifyResult{
				Valid:            false,
				BrokenAt:         &id,
				BrokenAtSequence: e.SequenceNumber,
				Reason:           "digest mismatch",
				Entries:          int64(len(entries)),
			}
		}
		expectedPrevious = e.Digest
		expectedSeq++
	}

	return &VerifyResult{Valid: true, Entries: int64(len(entries))}
}

// checkEntry performs the single-entry digest recomputation.
func checkEntry(e *Entry) *EntryCheck {
	if digestOf(e) != e.Digest {
		return &EntryCheck{EntryID: e.ID, Valid: false, Reason: "digest mismatch"}
	}
	return &EntryCheck{EntryID: e.ID, Valid: true}
}

// nextEntry builds the successor of tail (which may be nil for an empty
// chain) for the given content. The digest is computed over the exact
// content bytes supplied.
func nextEntry(scope Scope, chainType ChainType, content json.RawMessage, tail *Entry) (*Entry, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("ledger: empty content")
	}
	if !json.Valid(content) {
		return nil, fmt.Errorf("ledger: content is not valid JSON")
	}

	previous := GenesisDigest
	seq := int64(1)
	if tail != nil {
		previous = tail.Digest
		seq = tail.SequenceNumber + 1
	}

	e := &Entry{
		ID:             uuid.New(),
		Scope:          scope,
		SequenceNumber: seq,
		ChainType:      chainType,
		Content:        content,
		PreviousDigest: previous,
	}
	e.Digest = digestOf(e)
	return e, nil
}
