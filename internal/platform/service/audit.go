package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aic-platform/sovereign/internal/ledger"
	"github.com/aic-platform/sovereign/internal/platform/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SignatureVerifier checks an asymmetric signature over a digest. The engine
// client satisfies this interface; it is an external collaborator and its
// verdict is taken as-is.
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, digest, signature string) (bool, error)
}

// orgGetter is the minimal organization lookup the audit service needs to
// validate scopes. *repository.OrgRepository satisfies this interface.
type orgGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Organization, error)
}

// EventInput is a business event to notarize on an organization's chain.
type EventInput struct {
	SystemName string         `json:"system_name"`
	EventType  string         `json:"event_type" binding:"required"`
	Details    map[string]any `json:"details"`

	// ChainType defaults to SANDBOX when empty.
	ChainType ledger.ChainType `json:"chain_type"`

	// AuditHash and Signature are attached when the event originates from
	// the analysis engine; the signature can later be re-verified against
	// the sealed entry.
	AuditHash string `json:"audit_hash,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// eventContent is the canonical sealed payload. Struct field order is fixed
// and map keys marshal sorted, so the same logical event always produces the
// same content bytes; the digest must be recomputable from storage alone.
type eventContent struct {
	SystemName string         `json:"system_name"`
	EventType  string         `json:"event_type"`
	Details    map[string]any `json:"details,omitempty"`
	AuditHash  string         `json:"audit_hash,omitempty"`
	Signature  string         `json:"signature,omitempty"`
}

// systemActionContent is the canonical payload for global-chain entries.
type systemActionContent struct {
	Action  string         `json:"action"`
	ActorID *uuid.UUID     `json:"actor_id,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// DeepCheck is the result of a single-entry spot audit, optionally including
// an engine-side signature verification.
type DeepCheck struct {
	EntryID          uuid.UUID `json:"entry_id"`
	Valid            bool      `json:"valid"`
	Reason           string    `json:"reason,omitempty"`
	SignatureChecked bool      `json:"signature_checked"`
}

// AuditService notarizes business events on the ledger and answers
// verification queries. It is the only code path that appends entries.
type AuditService struct {
	ledger   ledger.Ledger
	orgs     orgGetter
	verifier SignatureVerifier
	logger   *zap.Logger
	onSeal   func()
}

// NewAuditService creates an AuditService. verifier may be nil, in which
// case deep checks skip signature verification.
func NewAuditService(l ledger.Ledger, orgs orgGetter, verifier SignatureVerifier, logger *zap.Logger) *AuditService {
	return &AuditService{ledger: l, orgs: orgs, verifier: verifier, logger: logger}
}

// SetSealHook configures a callback invoked after every successful append,
// used for metrics.
func (s *AuditService) SetSealHook(fn func()) {
	s.onSeal = fn
}

// resolveScope validates that the organization exists and returns its scope.
func (s *AuditService) resolveScope(ctx context.Context, orgID uuid.UUID) (ledger.Scope, error) {
	if _, err := s.orgs.GetByID(ctx, orgID); err != nil {
		return "", fmt.Errorf("organization %s: %w", orgID, ledger.ErrScopeNotFound)
	}
	return ledger.ScopeForOrg(orgID), nil
}

// RecordEvent seals a business event onto the organization's chain and
// returns the new entry.
func (s *AuditService) RecordEvent(ctx context.Context, orgID uuid.UUID, in *EventInput) (*ledger.Entry, error) {
	scope, err := s.resolveScope(ctx, orgID)
	if err != nil {
		return nil, err
	}

	if in.EventType == "" {
		return nil, errors.New("event type is required")
	}
	chainType := in.ChainType
	if chainType == "" {
		chainType = ledger.ChainSandbox
	}

	content, err := json.Marshal(eventContent{
		SystemName: in.SystemName,
		EventType:  in.EventType,
		Details:    in.Details,
		AuditHash:  in.AuditHash,
		Signature:  in.Signature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event content: %w", err)
	}

	entry, err := s.ledger.Append(ctx, scope, chainType, content)
	if err != nil {
		return nil, err
	}

	if s.onSeal != nil {
		s.onSeal()
	}
	s.logger.Info("event notarized",
		zap.String("org_id", orgID.String()),
		zap.String("event_type", in.EventType),
		zap.Int64("sequence", entry.SequenceNumber),
	)
	return entry, nil
}

// RecordSystemAction seals an administrative action onto the global system
// chain. System actions are always FORMAL.
func (s *AuditService) RecordSystemAction(ctx context.Context, action string, actorID *uuid.UUID, details map[string]any) (*ledger.Entry, error) {
	if action == "" {
		return nil, errors.New("action is required")
	}

	content, err := json.Marshal(systemActionContent{
		Action:  action,
		ActorID: actorID,
		Details: details,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal system action: %w", err)
	}

	entry, err := s.ledger.Append(ctx, ledger.SystemScope, ledger.ChainFormal, content)
	if err != nil {
		return nil, err
	}

	if s.onSeal != nil {
		s.onSeal()
	}
	s.logger.Info("system action notarized",
		zap.String("action", action),
		zap.Int64("sequence", entry.SequenceNumber),
	)
	return entry, nil
}

// Trail returns an organization's full chain in sequence order.
func (s *AuditService) Trail(ctx context.Context, orgID uuid.UUID) ([]*ledger.Entry, error) {
	scope, err := s.resolveScope(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return s.ledger.List(ctx, scope)
}

// VerifyOrganizationChain walks an organization's full chain.
func (s *AuditService) VerifyOrganizationChain(ctx context.Context, orgID uuid.UUID) (*ledger.VerifyResult, error) {
	scope, err := s.resolveScope(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return s.ledger.VerifyChain(ctx, scope)
}

// VerifySystemChain walks the global system chain.
func (s *AuditService) VerifySystemChain(ctx context.Context) (*ledger.VerifyResult, error) {
	return s.ledger.VerifyChain(ctx, ledger.SystemScope)
}

// CheckEntry performs a deep spot audit on one entry: it recomputes the
// digest locally and, when the sealed content carries an engine signature
// and a verifier is configured, asks the engine to verify the signature
// over the entry's digest.
func (s *AuditService) CheckEntry(ctx context.Context, entryID uuid.UUID) (*DeepCheck, error) {
	check, err := s.ledger.VerifyEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	result := &DeepCheck{EntryID: check.EntryID, Valid: check.Valid, Reason: check.Reason}
	if !check.Valid {
		return result, nil
	}

	if s.verifier == nil {
		return result, nil
	}

	entry, err := s.ledger.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	var content eventContent
	if err := json.Unmarshal(entry.Content, &content); err != nil || content.Signature == "" {
		return result, nil
	}

	valid, err := s.verifier.VerifySignature(ctx, entry.Digest, content.Signature)
	if err != nil {
		// The engine being unreachable is an infrastructure failure, not a
		// tamper finding.
		return nil, fmt.Errorf("verify signature: %w", err)
	}
	result.SignatureChecked = true
	if !valid {
		result.Valid = false
		result.Reason = "signature mismatch"
	}
	return result, nil
}
