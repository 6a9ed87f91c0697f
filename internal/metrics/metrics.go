// Package metrics holds the Prometheus collectors shared by the engine and the drivers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	rpcAttempts      *prometheus.CounterVec
	rpcAbandoned     *prometheus.CounterVec
	multicallBatches *prometheus.CounterVec
	multicallSize    prometheus.Histogram
	priceLookups     *prometheus.CounterVec
	tokensValued     *prometheus.CounterVec
	requestCounter   *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rpcAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuation_rpc_attempts_total",
				Help: "Contract read attempts by chain and outcome",
			},
			[]string{"chain", "outcome"},
		),
		rpcAbandoned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuation_rpc_abandoned_total",
				Help: "Contract reads abandoned after every failover pass",
			},
			[]string{"chain", "suppressed"},
		),
		multicallBatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuation_multicall_batches_total",
				Help: "Aggregated multicall round trips by chain and outcome",
			},
			[]string{"chain", "outcome"},
		),
		multicallSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "valuation_multicall_batch_size",
				Help:    "Number of calls per multicall batch",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		priceLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuation_price_lookups_total",
				Help: "Price lookups by source (cache, composite, oracle, miss)",
			},
			[]string{"source"},
		),
		tokensValued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuation_tokens_valued_total",
				Help: "Tokens produced by the valuation engine by kind",
			},
			[]string{"kind"},
		),
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuation_requests_total",
				Help: "Total number of API requests processed",
			},
			[]string{"endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "valuation_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
	}

	reg.MustRegister(
		m.rpcAttempts,
		m.rpcAbandoned,
		m.multicallBatches,
		m.multicallSize,
		m.priceLookups,
		m.tokensValued,
		m.requestCounter,
		m.requestDuration,
	)

	return m
}

// ObserveRPC records a single endpoint attempt.
func (m *Metrics) ObserveRPC(chain string, ok bool) {
	if m == nil {
		return
	}
	m.rpcAttempts.WithLabelValues(chain, outcome(ok)).Inc()
}

// RPCAbandoned records a read that exhausted every pass.
func (m *Metrics) RPCAbandoned(chain string, suppressed bool) {
	if m == nil {
		return
	}
	label := "false"
	if suppressed {
		label = "true"
	}
	m.rpcAbandoned.WithLabelValues(chain, label).Inc()
}

// ObserveMulticall records one aggregated round trip.
func (m *Metrics) ObserveMulticall(chain string, size int, ok bool) {
	if m == nil {
		return
	}
	m.multicallBatches.WithLabelValues(chain, outcome(ok)).Inc()
	m.multicallSize.Observe(float64(size))
}

// PriceLookup records where a price came from.
func (m *Metrics) PriceLookup(source string) {
	if m == nil {
		return
	}
	m.priceLookups.WithLabelValues(source).Inc()
}

// TokenValued records a token produced by the engine.
func (m *Metrics) TokenValued(kind string) {
	if m == nil {
		return
	}
	m.tokensValued.WithLabelValues(kind).Inc()
}

// ObserveRequest records an API request.
func (m *Metrics) ObserveRequest(endpoint, status string, started time.Time) {
	if m == nil {
		return
	}
	m.requestCounter.WithLabelValues(endpoint, status).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
