package email

import (
	"context"
	"fmt"

	"github.com/aic-platform/sovereign/internal/ledger"
	"go.uber.org/zap"
)

// IntegrityAlerter emails compliance officers when a chain verification
// finds a break. Findings are never swallowed: if no recipients are
// configured, the alert is still logged at error level.
type IntegrityAlerter struct {
	sender     EmailSender
	recipients []string
	logger     *zap.Logger
}

// NewIntegrityAlerter creates an IntegrityAlerter.
func NewIntegrityAlerter(sender EmailSender, recipients []string, logger *zap.Logger) *IntegrityAlerter {
	return &IntegrityAlerter{sender: sender, recipients: recipients, logger: logger}
}

// NotifyChainBroken sends a tamper alert for the given scope.
func (a *IntegrityAlerter) NotifyChainBroken(ctx context.Context, scope ledger.Scope, res *ledger.VerifyResult) {
	a.logger.Error("ledger integrity breach detected",
		zap.String("scope", string(scope)),
		zap.Int64("sequence", res.BrokenAtSequence),
		zap.String("reason", res.Reason),
	)

	subject := fmt.Sprintf("[sovereign] integrity breach in ledger scope %s", scope)
	body := fmt.Sprintf(
		"Chain verification failed for scope %s.\n\n"+
			"Broken at entry: %v (sequence %d)\n"+
			"Reason: %s\n\n"+
			"The ledger has not been modified by this check. Investigate the "+
			"flagged entry and all entries after it before trusting this chain.",
		scope, res.BrokenAt, res.BrokenAtSequence, res.Reason,
	)

	for _, to := range a.recipients {
		if err := a.sender.Send(ctx, to, subject, body); err != nil {
			a.logger.Error("send integrity alert", zap.String("to", to), zap.Error(err))
		}
	}
}
