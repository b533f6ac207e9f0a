// Package ledger implements the tamper-evident audit ledger at the core of
// the compliance platform.
//
// Entries are grouped into independent chains by Scope (one chain per
// organization plus one global system chain). Every entry records the SHA-256
// digest of its predecessor; the first entry in a scope links to the
// well-known GenesisDigest (64 hex zeros). Any mutation, deletion, or
// reordering of persisted entries breaks the chain from that point forward
// and is detected by VerifyChain.
//
// Two implementations of the Ledger interface are provided:
//   - MemoryLedger: in-process, for testing and development.
//   - PostgresLedger: durable, for production use.
package ledger
