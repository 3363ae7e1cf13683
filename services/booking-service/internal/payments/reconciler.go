package payments

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Leader gates background work to a single instance.
type Leader interface {
	TryLead(ctx context.Context) (bool, error)
	Release()
}

// Sweeper performs one reconciliation pass.
type Sweeper interface {
	ReconcilePayments(ctx context.Context) error
}

type ReconcilerConfig struct {
	Interval time.Duration
}

// Reconciler periodically re-drives payment issuance that failed or never
// started. With a nil Leader every instance reconciles.
type Reconciler struct {
	sweeper  Sweeper
	leader   Leader
	logger   zerolog.Logger
	interval time.Duration
}

func NewReconciler(sweeper Sweeper, leader Leader, logger zerolog.Logger, cfg ReconcilerConfig) *Reconciler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{sweeper: sweeper, leader: leader, logger: logger, interval: interval}
}

func (r *Reconciler) Run(ctx context.Context) error {
	if r.leader != nil {
		defer r.leader.Release()
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	if r.leader != nil {
		lead, err := r.leader.TryLead(ctx)
		if err != nil {
			r.logger.Error().Err(err).Msg("payment reconcile: leader check failed")
			return
		}
		if !lead {
			r.logger.Debug().Msg("payment reconcile: another instance holds the lock")
			return
		}
	}
	if err := r.sweeper.ReconcilePayments(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error().Err(err).Msg("payment reconcile pass failed")
	}
}
