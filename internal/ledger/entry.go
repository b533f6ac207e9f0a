package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenesisDigest is the well-known sentinel recorded as PreviousDigest by the
// first entry in every chain. All chains anchor to this constant rather than
// to a computed value.
const GenesisDigest = "0000000000000000000000000000000000000000000000000000000000000000"

// Scope identifies which independent chain an entry belongs to: an
// organization's UUID, or SystemScope for the global administrative chain.
// Entries from different scopes never interleave in the same chain.
type Scope string

// SystemScope is the scope of the global system ledger, which notarizes
// administrative and platform-level actions across all tenants.
const SystemScope Scope = "system"

// ScopeForOrg returns the ledger scope for an organization.
func ScopeForOrg(orgID uuid.UUID) Scope {
	return Scope(orgID.String())
}

// ChainType tags an entry as informal or binding. It is carried on the entry
// for display and filtering; it does not participate in digest computation.
type ChainType string

const (
	// ChainSandbox marks exploratory, non-binding events.
	ChainSandbox ChainType = "SANDBOX"
	// ChainFormal marks binding compliance events (verified requirements,
	// incident resolutions, sealed analysis results).
	ChainFormal ChainType = "FORMAL"
)

// Entry is a single notarized record in a chain.
//
// Content is the caller-supplied payload, stored byte-for-byte as provided:
// the digest is computed over the exact stored bytes, so the storage layer
// must never re-encode it (the Postgres column is text, not jsonb).
// CreatedAt is informational only and never hashed.
type Entry struct {
	ID             uuid.UUID       `json:"id"`
	Scope          Scope           `json:"scope"`
	SequenceNumber int64           `json:"sequence_number"`
	ChainType      ChainType       `json:"chain_type"`
	Content        json.RawMessage `json:"content"`
	PreviousDigest string          `json:"previous_digest"`
	Digest         string          `json:"digest"`
	CreatedAt      time.Time       `json:"created_at"`
}

// computeDigest computes the SHA-256 digest binding an entry's position,
// predecessor, and content. The input is a fixed-order field tuple, so the
// same logical entry always hashes to the same value regardless of how the
// content was produced. Including the sequence number prevents two otherwise
// valid entries from being spliced into each other's positions.
func computeDigest(sequenceNumber int64, previousDigest string, content []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|", sequenceNumber, previousDigest)
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

// digestOf recomputes the digest an entry's stored fields imply.
func digestOf(e *Entry) string {
	return computeDigest(e.SequenceNumber, e.PreviousDigest, e.Content)
}
