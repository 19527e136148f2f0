package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentIntentTotal counts intent issuance by source (order, cart) and result.
	PaymentIntentTotal *prometheus.CounterVec
	// VerificationTotal counts processor verification calls by result kind.
	VerificationTotal *prometheus.CounterVec
	// VerificationDuration records verification latency in milliseconds.
	VerificationDuration prometheus.Histogram
	// ReconcileTransitionTotal counts reconciliation decisions.
	ReconcileTransitionTotal *prometheus.CounterVec
	// NotificationTotal counts inbound processor notifications by outcome.
	NotificationTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers the payment collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentIntentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_total",
			Help:      "Count of payment intent issuance outcomes.",
		}, []string{"source", "result"})
		VerificationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_total",
			Help:      "Count of server-to-server payment verifications by result.",
		}, []string{"result"})
		VerificationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verification_duration_ms",
			Help:      "Latency of payment verification calls in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		})
		ReconcileTransitionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_transition_total",
			Help:      "Count of order reconciliation decisions.",
		}, []string{"source", "transition", "result"})
		NotificationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_total",
			Help:      "Count of processor notifications by outcome.",
		}, []string{"result"})

		mustRegisterCollector(reg, PaymentIntentTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentIntentTotal = v
			}
		})
		mustRegisterCollector(reg, VerificationTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				VerificationTotal = v
			}
		})
		mustRegisterCollector(reg, VerificationDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				VerificationDuration = v
			}
		})
		mustRegisterCollector(reg, ReconcileTransitionTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReconcileTransitionTotal = v
			}
		})
		mustRegisterCollector(reg, NotificationTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				NotificationTotal = v
			}
		})
	})
}

// ObserveIntent records an intent issuance outcome. Safe before registration.
func ObserveIntent(source, result string) {
	if PaymentIntentTotal != nil {
		PaymentIntentTotal.WithLabelValues(source, result).Inc()
	}
}

// ObserveVerification records a verification outcome and its latency.
func ObserveVerification(result string, elapsed time.Duration) {
	if VerificationTotal != nil {
		VerificationTotal.WithLabelValues(result).Inc()
	}
	if VerificationDuration != nil {
		VerificationDuration.Observe(float64(elapsed.Milliseconds()))
	}
}

// ObserveTransition records a reconciliation decision.
func ObserveTransition(source, transition, result string) {
	if ReconcileTransitionTotal != nil {
		ReconcileTransitionTotal.WithLabelValues(source, transition, result).Inc()
	}
}

// ObserveNotification records a notification outcome.
func ObserveNotification(result string) {
	if NotificationTotal != nil {
		NotificationTotal.WithLabelValues(result).Inc()
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
