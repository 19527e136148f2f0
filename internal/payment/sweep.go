package payment

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/noah-isme/xmoney-bridge/internal/lock"
	"github.com/noah-isme/xmoney-bridge/internal/order"
)

// SweepLockKey guards the review sweep across worker replicas.
const SweepLockKey = "xmoney:reconcile:sweep"

// SweepStats summarises one pass over review-pending orders.
type SweepStats struct {
	Scanned  int
	Resolved int
	Pending  int
	Errors   int
}

// Locker runs fn with exclusive ownership of key.
type Locker interface {
	TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Sweeper re-verifies orders whose verification could not complete.
type Sweeper struct {
	Reconciler *Reconciler
	Lock       Locker
	Interval   time.Duration
	Batch      int
	LockTTL    time.Duration
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.Reconciler.Logger.Error().Err(err).Msg("xmoney_sweep_failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep. A held lock yields empty stats.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepStats, error) {
	if s.Lock == nil {
		return s.Reconciler.Sweep(ctx, s.Batch)
	}
	var stats SweepStats
	err := s.Lock.TryWithLock(ctx, SweepLockKey, s.LockTTL, func(ctx context.Context) error {
		var err error
		stats, err = s.Reconciler.Sweep(ctx, s.Batch)
		return err
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		s.Reconciler.Logger.Debug().Msg("xmoney_sweep_skipped_locked")
		return SweepStats{}, nil
	}
	return stats, err
}

// Sweep re-verifies up to limit flagged orders. Decisive outcomes clear the
// review flag; verification errors and unrecognised statuses keep it.
func (r *Reconciler) Sweep(ctx context.Context, limit int) (SweepStats, error) {
	if limit <= 0 {
		limit = 50
	}
	orders, err := r.Orders.ListByMeta(ctx, order.MetaReviewPending, limit)
	if err != nil {
		return SweepStats{}, err
	}
	var stats SweepStats
	for _, o := range orders {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Scanned++
		ext := o.Meta[order.MetaExternalOrderID]
		if ext == "" {
			ext = strconv.FormatInt(o.ID, 10)
		}
		rec, err := r.verifyAndApply(ctx, o, ext, o.Meta[order.MetaTransactionID], SourceSweep, false)
		switch {
		case rec.Result == ResultReviewPending:
			stats.Pending++
			continue
		case err != nil:
			stats.Errors++
			r.Logger.Error().Err(err).Int64("order_id", o.ID).Msg("xmoney_sweep_apply_failed")
			continue
		case rec.Result == ResultUnrecognized:
			stats.Pending++
			continue
		}
		if rec.Result != ResultApplied {
			if err := r.Orders.Annotate(ctx, o.ID, "", nil, order.MetaReviewPending); err != nil {
				stats.Errors++
				continue
			}
		}
		stats.Resolved++
	}
	r.Logger.Info().
		Int("scanned", stats.Scanned).
		Int("resolved", stats.Resolved).
		Int("pending", stats.Pending).
		Int("errors", stats.Errors).
		Msg("xmoney_sweep_done")
	return stats, nil
}
