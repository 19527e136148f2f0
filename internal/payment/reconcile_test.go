package payment_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/xmoney-bridge/internal/cart"
	"github.com/noah-isme/xmoney-bridge/internal/common"
	"github.com/noah-isme/xmoney-bridge/internal/events"
	"github.com/noah-isme/xmoney-bridge/internal/order"
	"github.com/noah-isme/xmoney-bridge/internal/payment"
	"github.com/noah-isme/xmoney-bridge/internal/xmoney"
)

func TestAllowedTransition(t *testing.T) {
	cases := []struct {
		from, to order.Status
		want     bool
	}{
		{order.StatusPending, order.StatusPaid, true},
		{order.StatusOnHold, order.StatusPaid, true},
		{order.StatusFailed, order.StatusPaid, true},
		{order.StatusRefunded, order.StatusPaid, false},
		{order.StatusPending, order.StatusFailed, true},
		{order.StatusPaid, order.StatusFailed, false},
		{order.StatusPaid, order.StatusRefunded, true},
		{order.StatusPending, order.StatusOnHold, true},
		{order.StatusPaid, order.StatusOnHold, false},
		{order.StatusRefunded, order.StatusOnHold, false},
		{order.StatusFailed, order.StatusOnHold, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, payment.AllowedTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTentativeStatusIsDisplayOnly(t *testing.T) {
	got := payment.TentativeStatus(payment.PaymentResult{TransactionStatus: "complete-ok"})
	require.True(t, got.Successful)
	require.Equal(t, xmoney.OutcomePaid, got.Outcome)

	got = payment.TentativeStatus(payment.PaymentResult{TransactionStatus: "complete-fail"})
	require.False(t, got.Successful)
	require.Equal(t, xmoney.OutcomeFailed, got.Outcome)
}

func TestCompletePaidRecordsProcessorIdentifiers(t *testing.T) {
	o := pendingOrder(1001)
	o.Total = "42.00"
	f := newFixture(o)
	f.carts = cart.NewMemoryStore(cart.Cart{SessionID: "sess-1", Items: []cart.Item{{ProductID: "p", Quantity: 1}}})
	f.rec.Carts = f.carts
	f.verifier.set("1001", xmoney.VerificationResult{OrderID: "55", OrderStatus: "complete-ok", CustomerID: "9", Amount: "42", Currency: "EUR"})

	rec, err := f.rec.Complete(context.Background(), 1001, "1001")
	require.NoError(t, err)
	require.Equal(t, payment.ResultApplied, rec.Result)
	require.Equal(t, order.StatusPaid, f.status(1001))

	meta := f.meta(1001)
	require.Equal(t, "55", meta[order.MetaProcessorOrderID])
	require.Equal(t, "9", meta[order.MetaProcessorCustomerID])
	require.Equal(t, 1, f.carts.ClearCount("sess-1"))
	require.Equal(t, 1, f.events.Count(events.TopicOrderPaid))
}

func TestApplyTwiceHasNoDuplicateSideEffects(t *testing.T) {
	f := newFixture(pendingOrder(7))
	d := payment.Decision{ExternalOrderID: "7", Outcome: xmoney.OutcomePaid, Verification: xmoney.VerificationResult{OrderID: "55", OrderStatus: "complete-ok"}}

	first, err := f.rec.Apply(context.Background(), 7, d, payment.SourceClient)
	require.NoError(t, err)
	require.Equal(t, payment.ResultApplied, first.Result)

	notes := len(f.orders.Notes(7))
	clears := f.carts.ClearCount("sess-1")
	paidEvents := f.events.Count(events.TopicOrderPaid)

	second, err := f.rec.Apply(context.Background(), 7, d, payment.SourceNotification)
	require.NoError(t, err)
	require.Equal(t, payment.ResultNoop, second.Result)
	require.Len(t, f.orders.Notes(7), notes)
	require.Equal(t, clears, f.carts.ClearCount("sess-1"))
	require.Equal(t, paidEvents, f.events.Count(events.TopicOrderPaid))
	require.Equal(t, 1, f.orders.CASWins)
}

func TestNoRegressionFromTerminalState(t *testing.T) {
	o := pendingOrder(8)
	o.Status = order.StatusRefunded
	f := newFixture(o)

	for _, status := range []string{"three-d-pending", "complete-fail", "complete-ok"} {
		d := payment.Decision{ExternalOrderID: "8", Outcome: xmoney.Classify(status), Verification: xmoney.VerificationResult{OrderStatus: status}}
		rec, err := f.rec.Apply(context.Background(), 8, d, payment.SourceNotification)
		require.NoError(t, err)
		require.Equal(t, payment.ResultRejected, rec.Result, status)
		require.Equal(t, order.StatusRefunded, f.status(8))
	}
	require.Zero(t, f.orders.CASCalls)
	require.Empty(t, f.events.Events())
}

func TestPaidCanBeRefunded(t *testing.T) {
	o := pendingOrder(9)
	o.Status = order.StatusPaid
	f := newFixture(o)
	f.verifier.set("9", xmoney.VerificationResult{OrderStatus: "refund-ok"})

	rec, err := f.rec.Notify(context.Background(), payment.Notification{ExternalOrderID: "9"})
	require.NoError(t, err)
	require.Equal(t, payment.ResultApplied, rec.Result)
	require.Equal(t, order.StatusRefunded, f.status(9))
	require.Equal(t, 1, f.events.Count(events.TopicPaymentRefunded))
}

func TestUnrecognisedStatusLeavesOrderUntouched(t *testing.T) {
	f := newFixture(pendingOrder(10))
	f.verifier.set("10", xmoney.VerificationResult{OrderStatus: "mystery-state"})

	rec, err := f.rec.Notify(context.Background(), payment.Notification{ExternalOrderID: "10"})
	require.NoError(t, err)
	require.Equal(t, payment.ResultUnrecognized, rec.Result)
	require.Equal(t, order.StatusPending, f.status(10))
	require.Zero(t, f.orders.CASCalls)
}

func TestNotifyTempOrderHasNoSideEffects(t *testing.T) {
	f := newFixture(pendingOrder(11))

	rec, err := f.rec.Notify(context.Background(), payment.Notification{ExternalOrderID: "temp-1700000000-abcdEFGH", StatusHint: "complete-ok"})
	require.NoError(t, err)
	require.Equal(t, payment.ResultDeferred, rec.Result)
	require.Zero(t, f.verifier.callCount())
	require.Zero(t, f.orders.CASCalls)
	require.Empty(t, f.orders.Notes(11))
}

func TestNotifyRejectsMalformedIDs(t *testing.T) {
	f := newFixture()

	_, err := f.rec.Notify(context.Background(), payment.Notification{ExternalOrderID: "abc"})
	require.Equal(t, common.KindValidation, common.KindOf(err))
	require.Equal(t, payment.CodeInvalidOrderID, common.CodeOf(err, ""))

	_, err = f.rec.Notify(context.Background(), payment.Notification{ExternalOrderID: "404"})
	require.Equal(t, common.KindNotFound, common.KindOf(err))
}

func TestCompleteVerificationTimeoutFlagsReview(t *testing.T) {
	f := newFixture(pendingOrder(12))
	f.verifier.fail(common.NewKindError(common.KindTransport, xmoney.CodeTransport, "xMoney request failed", context.DeadlineExceeded))

	rec, err := f.rec.Complete(context.Background(), 12, "12")
	require.Error(t, err)
	require.Equal(t, common.KindTransport, common.KindOf(err))
	require.Equal(t, payment.ResultReviewPending, rec.Result)
	require.Equal(t, order.StatusPending, f.status(12))

	meta := f.meta(12)
	require.NotEmpty(t, meta[order.MetaReviewPending])
	require.Equal(t, "12", meta[order.MetaExternalOrderID])
	notes := f.orders.Notes(12)
	require.Len(t, notes, 1)
	require.Contains(t, notes[0], "xMoney payment verification pending: ")
}

func TestCompleteRejectsForeignExternalID(t *testing.T) {
	f := newFixture(pendingOrder(13))

	_, err := f.rec.Complete(context.Background(), 13, "14")
	require.Equal(t, payment.CodeExternalOrderMismatch, common.CodeOf(err, ""))
	require.Zero(t, f.verifier.callCount())

	_, err = f.rec.Complete(context.Background(), 13, "")
	require.Equal(t, payment.CodeExternalOrderIDMissing, common.CodeOf(err, ""))

	_, err = f.rec.Complete(context.Background(), 0, "13")
	require.Equal(t, payment.CodeOrderIDMissing, common.CodeOf(err, ""))
}

func TestCompleteAmountMismatchIsNotPaid(t *testing.T) {
	f := newFixture(pendingOrder(15))
	f.verifier.set("15", xmoney.VerificationResult{OrderStatus: "complete-ok", Amount: "1.00", Currency: "EUR"})

	rec, err := f.rec.Complete(context.Background(), 15, "15")
	require.Equal(t, payment.CodeAmountMismatch, common.CodeOf(err, ""))
	require.Equal(t, payment.ResultReviewPending, rec.Result)
	require.Equal(t, order.StatusPending, f.status(15))
	require.Contains(t, f.meta(15), order.MetaReviewPending)
}

func TestReviewFlagClearedOnDecisiveOutcome(t *testing.T) {
	o := pendingOrder(16)
	o.Meta = map[string]string{order.MetaReviewPending: "1700000000"}
	f := newFixture(o)
	f.verifier.set("16", xmoney.VerificationResult{OrderStatus: "complete-fail"})

	_, err := f.rec.Complete(context.Background(), 16, "16")
	require.NoError(t, err)
	require.Equal(t, order.StatusFailed, f.status(16))
	require.NotContains(t, f.meta(16), order.MetaReviewPending)
	require.Equal(t, 1, f.events.Count(events.TopicPaymentFailed))
}

func TestConcurrentTriggersShareOneTransition(t *testing.T) {
	f := newFixture(pendingOrder(17))
	f.verifier.set("17", xmoney.VerificationResult{OrderID: "55", OrderStatus: "complete-ok"})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = f.rec.Complete(context.Background(), 17, "17")
			} else {
				_, err = f.rec.Notify(context.Background(), payment.Notification{ExternalOrderID: strconv.Itoa(17)})
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, order.StatusPaid, f.status(17))
	require.Equal(t, 1, f.orders.CASWins)
	require.Equal(t, 1, f.carts.ClearCount("sess-1"))
	require.Equal(t, 1, f.events.Count(events.TopicOrderPaid))
}

func TestRefundOfAliasedPaidOrder(t *testing.T) {
	o := pendingOrder(19)
	o.Status = ""
	o.StoredStatus = "processing"
	f := newFixture(o)
	f.verifier.set("19", xmoney.VerificationResult{OrderStatus: "refund-ok"})

	rec, err := f.rec.Notify(context.Background(), payment.Notification{ExternalOrderID: "19"})
	require.NoError(t, err)
	require.Equal(t, payment.ResultApplied, rec.Result)
	require.Equal(t, order.StatusPaid, rec.From)
	require.Equal(t, order.StatusRefunded, f.status(19))
	require.Equal(t, 1, f.orders.CASCalls)
}

func TestLostRaceReevaluates(t *testing.T) {
	f := newFixture(pendingOrder(18))
	raced := false
	f.orders.BeforeCAS = func(id int64) {
		if raced {
			return
		}
		raced = true
		_, err := f.orders.CompareAndSetStatus(context.Background(), id, order.Transition{From: order.StatusPending, To: order.StatusPaid})
		require.NoError(t, err)
	}
	d := payment.Decision{ExternalOrderID: "18", Outcome: xmoney.OutcomeOnHold, Verification: xmoney.VerificationResult{OrderStatus: "three-d-pending"}}

	rec, err := f.rec.Apply(context.Background(), 18, d, payment.SourceNotification)
	require.NoError(t, err)
	require.Equal(t, payment.ResultRejected, rec.Result)
	require.Equal(t, order.StatusPaid, f.status(18))
}

func TestAuthoritativeStatusRequiresVerifier(t *testing.T) {
	_, err := (&payment.Reconciler{}).AuthoritativeStatus(context.Background(), "1")
	require.Equal(t, common.KindConfiguration, common.KindOf(err))

	f := newFixture()
	f.verifier.fail(errors.New("boom"))
	_, err = f.rec.AuthoritativeStatus(context.Background(), "1")
	require.Error(t, err)
}
