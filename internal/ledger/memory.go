package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger is an in-memory, thread-safe Ledger implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryLedger struct {
	mu     sync.RWMutex
	chains map[Scope][]*Entry
	byID   map[uuid.UUID]*Entry
}

// NewMemory creates an empty MemoryLedger.
func NewMemory() *MemoryLedger {
	return &MemoryLedger{
		chains: make(map[Scope][]*Entry),
		byID:   make(map[uuid.UUID]*Entry),
	}
}

// Append implements Ledger.
func (l *MemoryLedger) Append(_ context.Context, scope Scope, chainType ChainType, content json.RawMessage) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	chain := l.chains[scope]
	var tail *Entry
	if len(chain) > 0 {
		tail = chain[len(chain)-1]
	}

	entry, err := nextEntry(scope, chainType, content, tail)
	if err != nil {
		return nil, err
	}
	entry.CreatedAt = time.Now().UTC()

	l.chains[scope] = append(chain, entry)
	l.byID[entry.ID] = entry
	return entry, nil
}

// Get implements Ledger.
func (l *MemoryLedger) Get(_ context.Context, id uuid.UUID) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.byID[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return e, nil
}

// Tail implements Ledger.
func (l *MemoryLedger) Tail(_ context.Context, scope Scope) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	chain := l.chains[scope]
	if len(chain) == 0 {
		return nil, nil
	}
	return chain[len(chain)-1], nil
}

// List implements Ledger.
func (l *MemoryLedger) List(_ context.Context, scope Scope) ([]*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	chain := l.chains[scope]
	out := make([]*Entry, len(chain))
	copy(out, chain)
	return out, nil
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context, scope Scope) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.chains[scope])), nil
}

// Root implements Ledger.
func (l *MemoryLedger) Root(_ context.Context, scope Scope) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	chain := l.chains[scope]
	if len(chain) == 0 {
		return GenesisDigest, nil
	}
	return chain[len(chain)-1].Digest, nil
}

// Scopes returns every scope that has at least one entry, in no particular
// order.
func (l *MemoryLedger) Scopes(_ context.Context) ([]Scope, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	scopes := make([]Scope, 0, len(l.chains))
	for scope := range l.chains {
		scopes = append(scopes, scope)
	}
	return scopes, nil
}

// VerifyChain implements Ledger.
func (l *MemoryLedger) VerifyChain(_ context.Context, scope Scope) (*VerifyResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verifyOrdered(l.chains[scope]), nil
}

// VerifyEntry implements Ledger.
func (l *MemoryLedger) VerifyEntry(_ context.Context, id uuid.UUID) (*EntryCheck, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.byID[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return checkEntry(e), nil
}
