// Package health runs the platform's background integrity checks: scheduled
// re-verification of every ledger chain, and availability probes of the
// external analysis engine.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aic-platform/sovereign/internal/ledger"
	"github.com/robfig/cron"
	"go.uber.org/zap"
)

// Config holds sentinel configuration.
type Config struct {
	// VerifySchedule is a cron spec for full-chain re-verification,
	// e.g. "@every 1h" or "0 0 * * * *".
	VerifySchedule string

	// ProbeSchedule is a cron spec for engine availability probes.
	ProbeSchedule string

	// RunTimeout bounds a single verification sweep.
	RunTimeout time.Duration
}

// chainVerifier is the ledger surface the sentinel needs. Both ledger
// implementations satisfy this interface.
type chainVerifier interface {
	Scopes(ctx context.Context) ([]ledger.Scope, error)
	VerifyChain(ctx context.Context, scope ledger.Scope) (*ledger.VerifyResult, error)
}

// EngineProber reports whether the analysis engine is reachable.
// *engine.Client satisfies this interface.
type EngineProber interface {
	Healthy(ctx context.Context) error
}

// Alerter is notified when a sweep finds a broken chain.
// *email.IntegrityAlerter satisfies this interface.
type Alerter interface {
	NotifyChainBroken(ctx context.Context, scope ledger.Scope, res *ledger.VerifyResult)
}

// WebhookDispatchFunc is an optional callback for dispatching tamper events.
type WebhookDispatchFunc func(ctx context.Context, eventType string, payload map[string]string)

// Sentinel periodically re-verifies every chain and probes the engine.
// Findings are reported through the alerter, webhooks, and metrics; the
// sentinel never mutates the ledger.
type Sentinel struct {
	verifier chainVerifier
	prober   EngineProber
	alerter  Alerter
	cfg      Config
	logger   *zap.Logger

	onWebhook     WebhookDispatchFunc
	onVerifyStat  func(valid bool)
	onProbeStat   func(healthy bool)
	tamperedEvent string

	cron *cron.Cron

	// alerted tracks scopes already reported as broken so a persistent
	// breach does not re-alert every sweep. A scope is cleared when it
	// verifies clean again.
	mu      sync.Mutex
	alerted map[ledger.Scope]bool
}

// New creates a Sentinel. prober and alerter may be nil to disable the
// corresponding checks.
func New(verifier chainVerifier, prober EngineProber, alerter Alerter, cfg Config, logger *zap.Logger) *Sentinel {
	if cfg.VerifySchedule == "" {
		cfg.VerifySchedule = "@every 1h"
	}
	if cfg.ProbeSchedule == "" {
		cfg.ProbeSchedule = "@every 1m"
	}
	if cfg.RunTimeout == 0 {
		cfg.RunTimeout = 10 * time.Minute
	}
	return &Sentinel{
		verifier: verifier,
		prober:   prober,
		alerter:  alerter,
		cfg:      cfg,
		logger:   logger,
		alerted:  make(map[ledger.Scope]bool),
	}
}

// SetWebhookDispatch configures the webhook callback and the event type
// dispatched on a tamper finding.
func (s *Sentinel) SetWebhookDispatch(fn WebhookDispatchFunc, eventType string) {
	s.onWebhook = fn
	s.tamperedEvent = eventType
}

// SetMetricsRecorders configures the metrics callbacks.
func (s *Sentinel) SetMetricsRecorders(onVerify, onProbe func(bool)) {
	s.onVerifyStat = onVerify
	s.onProbeStat = onProbe
}

// Start schedules the background jobs. Stop must be called on shutdown.
func (s *Sentinel) Start() error {
	c := cron.New()
	if err := c.AddFunc(s.cfg.VerifySchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
		defer cancel()
		s.VerifyAll(ctx)
	}); err != nil {
		return fmt.Errorf("schedule chain verification: %w", err)
	}
	if s.prober != nil {
		if err := c.AddFunc(s.cfg.ProbeSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			s.ProbeEngine(ctx)
		}); err != nil {
			return fmt.Errorf("schedule engine probe: %w", err)
		}
	}
	c.Start()
	s.cron = c
	s.logger.Info("integrity sentinel started",
		zap.String("verify_schedule", s.cfg.VerifySchedule),
		zap.String("probe_schedule", s.cfg.ProbeSchedule),
	)
	return nil
}

// Stop halts the scheduled jobs. Running sweeps finish on their own.
func (s *Sentinel) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// VerifyAll walks every chain in the ledger and reports any break.
func (s *Sentinel) VerifyAll(ctx context.Context) {
	scopes, err := s.verifier.Scopes(ctx)
	if err != nil {
		s.logger.Error("sentinel: list scopes", zap.Error(err))
		return
	}

	broken := 0
	for _, scope := range scopes {
		res, err := s.verifier.VerifyChain(ctx, scope)
		if err != nil {
			s.logger.Error("sentinel: verify chain",
				zap.String("scope", string(scope)), zap.Error(err))
			continue
		}
		if s.onVerifyStat != nil {
			s.onVerifyStat(res.Valid)
		}
		if res.Valid {
			s.clearAlert(scope)
			continue
		}
		broken++
		s.reportBreach(ctx, scope, res)
	}

	s.logger.Info("sentinel: verification sweep complete",
		zap.Int("scopes", len(scopes)),
		zap.Int("broken", broken),
	)
}

func (s *Sentinel) reportBreach(ctx context.Context, scope ledger.Scope, res *ledger.VerifyResult) {
	s.mu.Lock()
	already := s.alerted[scope]
	s.alerted[scope] = true
	s.mu.Unlock()
	if already {
		return
	}

	if s.alerter != nil {
		s.alerter.NotifyChainBroken(ctx, scope, res)
	}
	if s.onWebhook != nil && s.tamperedEvent != "" {
		payload := map[string]string{
			"scope":  string(scope),
			"reason": res.Reason,
		}
		if res.BrokenAt != nil {
			payload["entry_id"] = res.BrokenAt.String()
		}
		s.onWebhook(ctx, s.tamperedEvent, payload)
	}
}

func (s *Sentinel) clearAlert(scope ledger.Scope) {
	s.mu.Lock()
	delete(s.alerted, scope)
	s.mu.Unlock()
}

// ProbeEngine checks analysis engine availability once.
func (s *Sentinel) ProbeEngine(ctx context.Context) {
	err := s.prober.Healthy(ctx)
	if s.onProbeStat != nil {
		s.onProbeStat(err == nil)
	}
	if err != nil {
		s.logger.Warn("sentinel: analysis engine unreachable", zap.Error(err))
	}
}
