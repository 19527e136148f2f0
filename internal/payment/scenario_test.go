package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/xmoney-bridge/internal/cart"
	"github.com/noah-isme/xmoney-bridge/internal/events"
	"github.com/noah-isme/xmoney-bridge/internal/order"
	"github.com/noah-isme/xmoney-bridge/internal/payment"
	"github.com/noah-isme/xmoney-bridge/internal/resilience"
	"github.com/noah-isme/xmoney-bridge/internal/xmoney"
)

func processorClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *xmoney.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &xmoney.Client{
		Settings: configuredSettings(),
		HTTP:     resilience.HTTPClient{Client: srv.Client(), Timeout: timeout, MaxAttempts: 1},
		TestURL:  srv.URL,
		LiveURL:  srv.URL,
		Logger:   zerolog.Nop(),
	}
}

func TestVerifiedNotificationMarksOrderPaid(t *testing.T) {
	client := processorClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "1042", r.URL.Query().Get("externalOrderId"))
		_, _ = w.Write([]byte(`{"code":200,"message":"Success","data":[{"id":55,"orderStatus":"complete-ok","customerId":9}]}`))
	}, time.Second)

	orders := order.NewMemoryStore()
	orders.Put(order.Order{ID: 1042, Key: "k", Status: order.StatusPending, Total: "18.99", Currency: "USD", SessionID: "sess-b"})
	carts := cart.NewMemoryStore(cart.Cart{SessionID: "sess-b", Items: []cart.Item{{ProductID: "p", Quantity: 1}}})
	store := &events.MemoryStore{}
	rec := &payment.Reconciler{Orders: orders, Carts: carts, Verifier: client, Events: &events.Bus{Store: store}, Logger: zerolog.Nop()}

	ipn := &payment.IPNHandler{Reconciler: rec, Logger: zerolog.Nop()}
	rr := httptest.NewRecorder()
	ipn.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/xmoney-wc-ipn", strings.NewReader(`{"externalOrderId":"1042","transactionStatus":"complete-ok"}`)))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "OK", rr.Body.String())

	o, err := orders.Get(context.Background(), 1042)
	require.NoError(t, err)
	require.Equal(t, order.StatusPaid, o.Status)
	require.Equal(t, "55", o.Meta[order.MetaProcessorOrderID])
	require.Equal(t, "9", o.Meta[order.MetaProcessorCustomerID])
	require.Equal(t, 1, carts.ClearCount("sess-b"))

	// The client completion arriving afterwards is a no-op.
	_, err = rec.Complete(context.Background(), 1042, "1042")
	require.NoError(t, err)
	require.Equal(t, 1, carts.ClearCount("sess-b"))
	require.Equal(t, 1, store.Count(events.TopicOrderPaid))
}

func TestCompletionTimeoutReturnsSoftError(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	client := processorClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 50*time.Millisecond)

	orders := order.NewMemoryStore()
	orders.Put(order.Order{ID: 77, Key: "k", Status: order.StatusPending, Total: "10.00", Currency: "EUR"})
	rec := &payment.Reconciler{Orders: orders, Carts: cart.NewMemoryStore(), Verifier: client, Logger: zerolog.Nop()}
	h := &payment.Handler{Reconciler: rec, CheckoutURL: "https://shop.example/checkout/", Logger: zerolog.Nop()}

	rr := httptest.NewRecorder()
	h.Complete(rr, httptest.NewRequest(http.MethodPost, "/api/v1/xmoney/complete", strings.NewReader(`{"orderId":77,"externalOrderId":"77"}`)))
	require.Equal(t, http.StatusAccepted, rr.Code)

	var body struct {
		Error struct {
			Code    string            `json:"code"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, payment.CodeVerificationFailed, body.Error.Code)
	require.Equal(t, "https://shop.example/checkout/", body.Error.Details["redirect"])

	o, err := orders.Get(context.Background(), 77)
	require.NoError(t, err)
	require.Equal(t, order.StatusPending, o.Status)
	require.Contains(t, o.Meta, order.MetaReviewPending)
	require.Len(t, orders.Notes(77), 1)
}
