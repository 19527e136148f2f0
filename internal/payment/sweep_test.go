package payment_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/xmoney-bridge/internal/common"
	"github.com/noah-isme/xmoney-bridge/internal/lock"
	"github.com/noah-isme/xmoney-bridge/internal/order"
	"github.com/noah-isme/xmoney-bridge/internal/payment"
	"github.com/noah-isme/xmoney-bridge/internal/xmoney"
)

func flagged(id int64, status order.Status) order.Order {
	o := pendingOrder(id)
	o.Status = status
	o.Meta = map[string]string{order.MetaReviewPending: "1700000000"}
	return o
}

func TestSweepResolvesFlaggedOrders(t *testing.T) {
	paid := flagged(81, order.StatusPending)
	unknown := flagged(82, order.StatusPending)
	already := flagged(83, order.StatusPaid)
	temp := flagged(84, order.StatusPending)
	temp.Meta[order.MetaExternalOrderID] = "temp-1700000000-abcdEFGH"
	f := newFixture(paid, unknown, already, temp, pendingOrder(85))
	f.verifier.set("81", xmoney.VerificationResult{OrderStatus: "complete-ok"})
	f.verifier.set("82", xmoney.VerificationResult{OrderStatus: "mystery"})
	f.verifier.set("83", xmoney.VerificationResult{OrderStatus: "complete-ok"})

	stats, err := f.rec.Sweep(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, payment.SweepStats{Scanned: 4, Resolved: 2, Pending: 2}, stats)

	require.Equal(t, order.StatusPaid, f.status(81))
	require.NotContains(t, f.meta(81), order.MetaReviewPending)
	require.Contains(t, f.meta(82), order.MetaReviewPending)
	require.NotContains(t, f.meta(83), order.MetaReviewPending)
	require.Contains(t, f.meta(84), order.MetaReviewPending)
	require.Empty(t, f.orders.Notes(84))
}

func TestSweepKeepsFlagOnVerificationFailure(t *testing.T) {
	f := newFixture(flagged(86, order.StatusPending))
	f.verifier.fail(common.NewKindError(common.KindTransport, xmoney.CodeTransport, "timeout", nil))

	stats, err := f.rec.Sweep(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Pending)
	require.Contains(t, f.meta(86), order.MetaReviewPending)
	require.Empty(t, f.orders.Notes(86))
}

func TestSweeperSkipsWhenLocked(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(flagged(87, order.StatusPending))
	f.verifier.set("87", xmoney.VerificationResult{OrderStatus: "complete-ok"})
	s := &payment.Sweeper{Reconciler: f.rec, Lock: lock.Locker{R: client}, Batch: 5, LockTTL: time.Minute}

	require.NoError(t, mr.Set(payment.SweepLockKey, "other-worker"))
	stats, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.Scanned)
	require.Equal(t, order.StatusPending, f.status(87))

	mr.Del(payment.SweepLockKey)
	stats, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Resolved)
	require.Equal(t, order.StatusPaid, f.status(87))
	require.False(t, mr.Exists(payment.SweepLockKey))
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	f := newFixture()
	s := &payment.Sweeper{Reconciler: f.rec, Interval: time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Run(ctx), context.DeadlineExceeded)
}
