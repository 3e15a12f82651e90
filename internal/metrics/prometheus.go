// Package metrics exposes Prometheus instrumentation for the orchestration engine.
// All Record/Set methods are safe on a nil *PrometheusMetrics so components can
// run without a registry in tests.
package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics holds all Prometheus metrics for txbot.
type PrometheusMetrics struct {
	// Transaction counters
	TxTotal      *prometheus.CounterVec
	RetriesTotal *prometheus.CounterVec
	Operations   *prometheus.CounterVec

	// Gauges
	GasPriceGwei prometheus.Gauge
	InFlight     prometheus.Gauge
	RunStatus    *prometheus.GaugeVec

	// Histograms
	ConfirmLatency *prometheus.HistogramVec
	RPCLatency     *prometheus.HistogramVec
	BatchSize      prometheus.Histogram
}

// NewPrometheusMetrics creates and registers all Prometheus metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		TxTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txbot_transactions_total",
				Help: "Transactions by status and call type",
			},
			[]string{"status", "call_type"},
		),

		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txbot_retries_total",
				Help: "Retried attempts by operation name",
			},
			[]string{"operation"},
		),

		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txbot_operations_total",
				Help: "Catalog operations by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		GasPriceGwei: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "txbot_gas_price_gwei",
				Help: "Most recent quoted gas price including premium",
			},
		),

		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "txbot_inflight_intents",
				Help: "Intents currently being processed by the orchestrator",
			},
		),

		RunStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "txbot_run_status",
				Help: "Current run status (1 if active, 0 otherwise)",
			},
			[]string{"status"},
		),

		ConfirmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "txbot_confirmation_latency_seconds",
				Help:    "Submission to receipt latency in seconds",
				Buckets: []float64{0.5, 1, 2, 4, 8, 15, 30, 60, 120},
			},
			[]string{"call_type"},
		),

		RPCLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "txbot_rpc_latency_seconds",
				Help:    "RPC call latency by method",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"method", "status"},
		),

		BatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "txbot_batch_size",
				Help:    "Number of intents per orchestrated batch",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
			},
		),
	}
}

// RecordTxSubmitted records an accepted submission.
func (m *PrometheusMetrics) RecordTxSubmitted(callType string) {
	if m == nil {
		return
	}
	m.TxTotal.WithLabelValues("submitted", callType).Inc()
}

// RecordTxConfirmed records a successful receipt.
func (m *PrometheusMetrics) RecordTxConfirmed(callType string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.TxTotal.WithLabelValues("confirmed", callType).Inc()
	m.ConfirmLatency.WithLabelValues(callType).Observe(latencySeconds)
}

// RecordTxFailed records an intent that ended without a successful receipt.
func (m *PrometheusMetrics) RecordTxFailed(callType string) {
	if m == nil {
		return
	}
	m.TxTotal.WithLabelValues("failed", callType).Inc()
}

// RecordRetry records one retried attempt.
func (m *PrometheusMetrics) RecordRetry(operation string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(operation).Inc()
}

// RecordOperation records the outcome of a catalog operation.
func (m *PrometheusMetrics) RecordOperation(kind, outcome string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(kind, outcome).Inc()
}

// RecordBatch records the size of an orchestrated batch.
func (m *PrometheusMetrics) RecordBatch(size int) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(size))
}

// AddInFlight adjusts the in-flight intent gauge.
func (m *PrometheusMetrics) AddInFlight(delta int) {
	if m == nil {
		return
	}
	m.InFlight.Add(float64(delta))
}

// SetGasPrice records the latest quoted price (in wei).
func (m *PrometheusMetrics) SetGasPrice(wei *big.Int) {
	if m == nil || wei == nil {
		return
	}
	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e9)).Float64()
	m.GasPriceGwei.Set(gwei)
}

// knownRPCMethods is a fixed set of known RPC methods to prevent cardinality explosion
var knownRPCMethods = map[string]bool{
	"eth_sendRawTransaction":    true,
	"eth_getTransactionCount":   true,
	"eth_blockNumber":           true,
	"eth_chainId":               true,
	"eth_gasPrice":              true,
	"eth_getBalance":            true,
	"eth_getTransactionReceipt": true,
	"eth_call":                  true,
}

// RecordRPCLatency records RPC call latency.
func (m *PrometheusMetrics) RecordRPCLatency(method string, success bool, latencySeconds float64) {
	if m == nil {
		return
	}
	bucketedMethod := method
	if !knownRPCMethods[method] {
		bucketedMethod = "other"
	}

	status := "success"
	if !success {
		status = "error"
	}
	m.RPCLatency.WithLabelValues(bucketedMethod, status).Observe(latencySeconds)
}

// SetRunStatus updates the run status gauges.
func (m *PrometheusMetrics) SetRunStatus(status string) {
	if m == nil {
		return
	}
	for _, s := range []string{"idle", "running", "stopping", "completed", "failed"} {
		if s == status {
			m.RunStatus.WithLabelValues(s).Set(1)
		} else {
			m.RunStatus.WithLabelValues(s).Set(0)
		}
	}
}
