package resilience

import "github.com/prometheus/client_golang/prometheus"

var (
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "xmoney_breaker_state",
			Help: "Current breaker state: 0=closed,1=open,2=half-open",
		},
		[]string{"target"},
	)
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xmoney_breaker_transition_total",
			Help: "Count of breaker state transitions",
		},
		[]string{"target", "from", "to"},
	)
	BreakerOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xmoney_breaker_open_total",
			Help: "Number of times a breaker opened",
		},
		[]string{"target"},
	)
	RetryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xmoney_http_retry_total",
			Help: "Outbound HTTP retries by target and cause",
		},
		[]string{"target", "cause"},
	)
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, BreakerOpenedTotal, RetryTotal)
}
