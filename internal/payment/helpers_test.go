package payment_test

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/xmoney-bridge/internal/cart"
	"github.com/noah-isme/xmoney-bridge/internal/common"
	"github.com/noah-isme/xmoney-bridge/internal/events"
	"github.com/noah-isme/xmoney-bridge/internal/order"
	"github.com/noah-isme/xmoney-bridge/internal/payment"
	"github.com/noah-isme/xmoney-bridge/internal/xmoney"
)

type stubVerifier struct {
	mu      sync.Mutex
	results map[string]xmoney.VerificationResult
	err     error
	calls   int
}

func (s *stubVerifier) VerifyPaymentStatus(_ context.Context, externalOrderID string) (xmoney.VerificationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return xmoney.VerificationResult{}, s.err
	}
	res, ok := s.results[externalOrderID]
	if !ok {
		return xmoney.VerificationResult{}, common.NewKindError(common.KindNotFound, xmoney.CodeOrderNotFound, "order not found in xMoney", nil)
	}
	return res, nil
}

func (s *stubVerifier) set(externalOrderID string, res xmoney.VerificationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.results == nil {
		s.results = map[string]xmoney.VerificationResult{}
	}
	s.results[externalOrderID] = res
}

func (s *stubVerifier) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stubVerifier) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fixture struct {
	orders   *order.MemoryStore
	carts    *cart.MemoryStore
	verifier *stubVerifier
	events   *events.MemoryStore
	rec      *payment.Reconciler
}

func newFixture(orders ...order.Order) *fixture {
	f := &fixture{
		orders:   order.NewMemoryStore(),
		carts:    cart.NewMemoryStore(),
		verifier: &stubVerifier{},
		events:   &events.MemoryStore{},
	}
	for _, o := range orders {
		f.orders.Put(o)
	}
	f.rec = &payment.Reconciler{
		Orders:   f.orders,
		Carts:    f.carts,
		Verifier: f.verifier,
		Events:   &events.Bus{Store: f.events},
		Logger:   zerolog.Nop(),
	}
	return f
}

func (f *fixture) status(id int64) order.Status {
	o, err := f.orders.Get(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return o.Status
}

func (f *fixture) meta(id int64) map[string]string {
	o, err := f.orders.Get(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return o.Meta
}

func pendingOrder(id int64) order.Order {
	return order.Order{
		ID:         id,
		Key:        "wc_order_key",
		Status:     order.StatusPending,
		Total:      "25.00",
		Currency:   "EUR",
		CustomerID: 9,
		SessionID:  "sess-1",
	}
}
