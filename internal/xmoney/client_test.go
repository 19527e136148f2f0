package xmoney_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/xmoney-bridge/internal/common"
	"github.com/noah-isme/xmoney-bridge/internal/resilience"
	"github.com/noah-isme/xmoney-bridge/internal/settings"
	"github.com/noah-isme/xmoney-bridge/internal/xmoney"
)

func newClient(t *testing.T, handler http.HandlerFunc, publicKey, secretKey string) *xmoney.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	store := settings.NewMemoryStore(map[string]string{
		settings.OptionPublicKey: publicKey,
		settings.OptionSecretKey: secretKey,
	})
	return &xmoney.Client{
		Settings: settings.Resolver{Store: store},
		HTTP:     resilience.HTTPClient{Client: srv.Client(), Timeout: time.Second},
		LiveURL:  srv.URL + "/live",
		TestURL:  srv.URL,
		Logger:   zerolog.Nop(),
	}
}

func TestVerifyPaymentStatusSuccess(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/order", r.URL.Path)
		require.Equal(t, "1042", r.URL.Query().Get("externalOrderId"))
		require.Equal(t, "Bearer ABC123", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"code":200,"message":"Success","data":[{"id":55,"orderStatus":"complete-ok","amount":18.99,"currency":"USD","customerId":9},{"id":56}]}`))
	}, "pk_test_pub", "sk_test_ABC123")

	res, err := client.VerifyPaymentStatus(context.Background(), "1042")
	require.NoError(t, err)
	require.Equal(t, "55", res.OrderID)
	require.Equal(t, "complete-ok", res.OrderStatus)
	require.Equal(t, "18.99", res.Amount)
	require.Equal(t, "USD", res.Currency)
	require.Equal(t, "9", res.CustomerID)
	require.Contains(t, string(res.Raw), `"id":55`)
}

func TestVerifyPaymentStatusUsesLiveHost(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/live/order", r.URL.Path)
		require.Equal(t, "Bearer LIVEKEY", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"code":"200","data":[{"id":"x1","orderStatus":"open-ok"}]}`))
	}, "pk_live_pub", "sk_live_LIVEKEY")

	res, err := client.VerifyPaymentStatus(context.Background(), "7")
	require.NoError(t, err)
	require.Equal(t, "x1", res.OrderID)
}

func TestVerifyPaymentStatusErrors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		kind    common.ErrorKind
		code    string
		message string
	}{
		{name: "http status", status: http.StatusUnauthorized, body: `{}`, kind: common.KindAPI, code: xmoney.CodeAPI, message: "HTTP 401"},
		{name: "invalid json", status: http.StatusOK, body: `not json`, kind: common.KindAPI, code: xmoney.CodeInvalidResponse},
		{name: "envelope code", status: http.StatusOK, body: `{"code":401,"message":"Invalid signature"}`, kind: common.KindAPI, code: xmoney.CodeAPI, message: "Invalid signature"},
		{name: "empty data", status: http.StatusOK, body: `{"code":200,"data":[]}`, kind: common.KindNotFound, code: xmoney.CodeOrderNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}, "pk_test_pub", "sk_test_key")
			_, err := client.VerifyPaymentStatus(context.Background(), "1")
			require.Error(t, err)
			require.Equal(t, tc.kind, common.KindOf(err))
			require.Equal(t, tc.code, common.CodeOf(err, ""))
			if tc.message != "" {
				require.Contains(t, err.Error(), tc.message)
			}
		})
	}
}

func TestVerifyPaymentStatusMissingSecret(t *testing.T) {
	called := false
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) { called = true }, "pk_test_pub", "")
	_, err := client.VerifyPaymentStatus(context.Background(), "1")
	require.Equal(t, common.KindConfiguration, common.KindOf(err))
	require.Equal(t, xmoney.CodeMissingSecretKey, common.CodeOf(err, ""))
	require.False(t, called)
}

func TestVerifyPaymentStatusTimeout(t *testing.T) {
	release := make(chan struct{})
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, "pk_test_pub", "sk_test_key")
	defer close(release)
	client.HTTP = resilience.HTTPClient{Client: http.DefaultClient, Timeout: 20 * time.Millisecond}

	_, err := client.VerifyPaymentStatus(context.Background(), "1")
	require.Error(t, err)
	require.Equal(t, common.KindTransport, common.KindOf(err))
	require.Equal(t, xmoney.CodeTransport, common.CodeOf(err, ""))
}
