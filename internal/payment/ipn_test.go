package payment_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/xmoney-bridge/internal/common"
	"github.com/noah-isme/xmoney-bridge/internal/order"
	"github.com/noah-isme/xmoney-bridge/internal/payment"
	"github.com/noah-isme/xmoney-bridge/internal/xmoney"
)

func deliver(h http.Handler, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/xmoney-wc-ipn", strings.NewReader(body)))
	return rr
}

func TestIPNResponses(t *testing.T) {
	f := newFixture(pendingOrder(71))
	f.verifier.set("71", xmoney.VerificationResult{OrderStatus: "complete-ok"})
	h := &payment.IPNHandler{Reconciler: f.rec, Logger: zerolog.Nop()}

	cases := []struct {
		name   string
		body   string
		status int
		text   string
	}{
		{"invalid json", `{not json`, http.StatusBadRequest, "Invalid data format"},
		{"missing id", `{"transactionStatus":"complete-ok"}`, http.StatusBadRequest, "Missing externalOrderId"},
		{"temp order", `{"externalOrderId":"temp-1700000000-abcdEFGH"}`, http.StatusOK, "OK - temp order, will be handled by checkout"},
		{"non numeric", `{"externalOrderId":"order-x"}`, http.StatusBadRequest, "Invalid order ID format"},
		{"unknown order", `{"externalOrderId":"9999"}`, http.StatusNotFound, "Order not found"},
		{"numeric alias", `{"orderId":71,"status":"complete-ok","transactionId":123}`, http.StatusOK, "OK"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := deliver(h, tc.body)
			require.Equal(t, tc.status, rr.Code)
			require.Equal(t, tc.text, rr.Body.String())
			require.Equal(t, "text/plain; charset=utf-8", rr.Header().Get("Content-Type"))
		})
	}
	require.Equal(t, order.StatusPaid, f.status(71))
	require.Equal(t, "123", f.meta(71)[order.MetaTransactionID])
}

func TestIPNTempOrderHasNoSideEffects(t *testing.T) {
	f := newFixture(pendingOrder(72))
	h := &payment.IPNHandler{Reconciler: f.rec, Logger: zerolog.Nop()}

	rr := deliver(h, `{"externalOrderId":"temp-1700000000-abcdEFGH","transactionStatus":"complete-ok"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Zero(t, f.verifier.callCount())
	require.Zero(t, f.orders.CASCalls)
	require.Empty(t, f.orders.Notes(72))
	require.Empty(t, f.events.Events())
}

func newReplayGuard(t *testing.T) (*miniredis.Miniredis, payment.RedisReplayGuard) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, payment.RedisReplayGuard{Client: client}
}

func TestIPNVerificationFailureThenRetry(t *testing.T) {
	mr, guard := newReplayGuard(t)
	f := newFixture(pendingOrder(73))
	f.verifier.fail(common.NewKindError(common.KindTransport, xmoney.CodeTransport, "xMoney request failed", context.DeadlineExceeded))
	h := &payment.IPNHandler{Reconciler: f.rec, Replay: guard, ReplayTTL: time.Minute, Logger: zerolog.Nop()}
	body := `{"externalOrderId":"73","transactionStatus":"complete-ok"}`

	rr := deliver(h, body)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "OK - verification pending", rr.Body.String())
	require.Equal(t, order.StatusPending, f.status(73))
	require.Contains(t, f.meta(73), order.MetaReviewPending)
	require.Empty(t, mr.Keys())

	// The processor retries once verification works again.
	f.verifier.fail(nil)
	f.verifier.set("73", xmoney.VerificationResult{OrderStatus: "complete-ok"})
	rr = deliver(h, body)
	require.Equal(t, "OK", rr.Body.String())
	require.Equal(t, order.StatusPaid, f.status(73))
	require.NotContains(t, f.meta(73), order.MetaReviewPending)

	rr = deliver(h, body)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "OK", rr.Body.String())
	require.Equal(t, 3, f.verifier.callCount())
	require.Equal(t, 1, f.orders.CASWins)
	require.Empty(t, mr.Keys())
}

func TestIPNRepeatedBodyFollowsProcessorStatus(t *testing.T) {
	_, guard := newReplayGuard(t)
	f := newFixture(pendingOrder(80))
	h := &payment.IPNHandler{Reconciler: f.rec, Replay: guard, ReplayTTL: time.Minute, Logger: zerolog.Nop()}
	body := `{"externalOrderId":"80"}`

	f.verifier.set("80", xmoney.VerificationResult{OrderStatus: "three-d-pending"})
	rr := deliver(h, body)
	require.Equal(t, "OK", rr.Body.String())
	require.Equal(t, order.StatusOnHold, f.status(80))

	f.verifier.set("80", xmoney.VerificationResult{OrderStatus: "complete-ok"})
	rr = deliver(h, body)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "OK", rr.Body.String())
	require.Equal(t, order.StatusPaid, f.status(80))
	require.Equal(t, 2, f.verifier.callCount())
}

func TestIPNConcurrentDeliveryIsRetryable(t *testing.T) {
	mr, guard := newReplayGuard(t)
	f := newFixture(pendingOrder(81))
	f.verifier.set("81", xmoney.VerificationResult{OrderStatus: "complete-ok"})
	h := &payment.IPNHandler{Reconciler: f.rec, Replay: guard, ReplayTTL: time.Minute, Logger: zerolog.Nop()}

	// Another delivery for the same order holds the claim.
	acquired, err := guard.Acquire(context.Background(), "order:81", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	rr := deliver(h, `{"externalOrderId":"81"}`)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Zero(t, f.verifier.callCount())
	require.Equal(t, order.StatusPending, f.status(81))

	mr.FastForward(2 * time.Minute)
	rr = deliver(h, `{"externalOrderId":"81"}`)
	require.Equal(t, "OK", rr.Body.String())
	require.Equal(t, order.StatusPaid, f.status(81))
}

func TestIPNConflictDefersToReview(t *testing.T) {
	f := newFixture(pendingOrder(82))
	f.verifier.set("82", xmoney.VerificationResult{OrderStatus: "complete-ok"})
	f.rec.Orders = loseEveryCAS{f.orders}
	h := &payment.IPNHandler{Reconciler: f.rec, Logger: zerolog.Nop()}

	rr := deliver(h, `{"externalOrderId":"82"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "OK - verification pending", rr.Body.String())
	require.Equal(t, order.StatusPending, f.status(82))
	require.Contains(t, f.meta(82), order.MetaReviewPending)
	require.Contains(t, f.orders.Notes(82)[0], "xMoney payment verification pending: ")
}

// loseEveryCAS behaves as if another writer always wins the status change.
type loseEveryCAS struct {
	*order.MemoryStore
}

func (loseEveryCAS) CompareAndSetStatus(context.Context, int64, order.Transition) (bool, error) {
	return false, nil
}

type brokenGuard struct{}

func (brokenGuard) Acquire(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}
func (brokenGuard) Release(context.Context, string) error { return nil }

func TestIPNReplayGuardOutageStillProcesses(t *testing.T) {
	f := newFixture(pendingOrder(74))
	f.verifier.set("74", xmoney.VerificationResult{OrderStatus: "complete-fail"})
	h := &payment.IPNHandler{Reconciler: f.rec, Replay: brokenGuard{}, Logger: zerolog.Nop()}

	rr := deliver(h, `{"externalOrderId":"74"}`)
	require.Equal(t, "OK", rr.Body.String())
	require.Equal(t, order.StatusFailed, f.status(74))
}
