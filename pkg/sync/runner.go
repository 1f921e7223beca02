package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/veilnote/veilnote/pkg/profile"
)

// DefaultInterval paces the background runner.
const DefaultInterval = 30 * time.Second

// SessionSource yields the current unlocked session, or nil while locked.
// Implementations must return a nil interface, not a typed nil pointer.
type SessionSource func() Session

// TokenSource yields the current auth token, or "" when signed out.
type TokenSource func() string

// Runner drives sync cycles on a fixed interval until its context is
// canceled. Locked-vault and signed-out ticks are silent no-ops, so the
// runner can stay up for the whole process lifetime.
type Runner struct {
	engine   *Engine
	session  SessionSource
	token    TokenSource
	interval time.Duration
	logger   *zap.Logger

	registered map[profile.Profile]bool
}

// NewRunner builds a runner over the engine.
func NewRunner(engine *Engine, session SessionSource, token TokenSource, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		engine:     engine,
		session:    session,
		token:      token,
		interval:   DefaultInterval,
		logger:     logger,
		registered: make(map[profile.Profile]bool),
	}
}

// SetInterval overrides the cycle pacing.
func (r *Runner) SetInterval(d time.Duration) {
	if d > 0 {
		r.interval = d
	}
}

// Run blocks, executing one cycle per tick, until ctx is canceled. A first
// cycle runs immediately.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	sess := r.session()
	token := r.token()
	if sess == nil || token == "" {
		return
	}

	if !r.registered[sess.Profile()] {
		if err := r.engine.api.Register(ctx, token, r.engine.deviceID, sess.Profile()); err != nil {
			r.logger.Warn("device registration failed", zap.Error(err))
			return
		}
		r.registered[sess.Profile()] = true
	}

	report, err := r.engine.RunCycle(ctx, sess, token)
	if err != nil {
		r.logger.Warn("sync cycle failed", zap.Error(err))
		return
	}
	if report.PushedAccepted+report.PushedRejected+report.PulledApplied+report.PulledConflicts > 0 {
		r.logger.Info("sync cycle complete",
			zap.Int("pushed_accepted", report.PushedAccepted),
			zap.Int("pushed_rejected", report.PushedRejected),
			zap.Int("pulled_applied", report.PulledApplied),
			zap.Int("pulled_conflicts", report.PulledConflicts),
			zap.Bool("halted", report.Halted))
	}
}
