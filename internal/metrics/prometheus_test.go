package metrics

import (
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *PrometheusMetrics

	// None of these may panic.
	m.RecordTxSubmitted("transfer")
	m.RecordTxConfirmed("transfer", 1.5)
	m.RecordTxFailed("transfer")
	m.RecordRetry("eth_sendRawTransaction")
	m.RecordOperation("swap", "completed")
	m.RecordBatch(3)
	m.AddInFlight(1)
	m.SetGasPrice(big.NewInt(12_000_000_000))
	m.RecordRPCLatency("eth_call", true, 0.01)
	m.SetRunStatus("running")
}

func TestTransactionCounters(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())

	m.RecordTxSubmitted("transfer")
	m.RecordTxSubmitted("transfer")
	m.RecordTxConfirmed("transfer", 2)
	m.RecordTxFailed("approve")

	if got := testutil.ToFloat64(m.TxTotal.WithLabelValues("submitted", "transfer")); got != 2 {
		t.Errorf("submitted transfer = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TxTotal.WithLabelValues("confirmed", "transfer")); got != 1 {
		t.Errorf("confirmed transfer = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TxTotal.WithLabelValues("failed", "approve")); got != 1 {
		t.Errorf("failed approve = %v, want 1", got)
	}
}

func TestSetGasPrice(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())

	m.SetGasPrice(big.NewInt(12_000_000_000))

	if got := testutil.ToFloat64(m.GasPriceGwei); got != 12 {
		t.Errorf("gas price gauge = %v, want 12", got)
	}
}

func TestSetRunStatus(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())

	m.SetRunStatus("running")
	m.SetRunStatus("completed")

	if got := testutil.ToFloat64(m.RunStatus.WithLabelValues("running")); got != 0 {
		t.Errorf("running = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.RunStatus.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed = %v, want 1", got)
	}
}

func TestRecordRPCLatencyBucketsUnknownMethods(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())

	m.RecordRPCLatency("debug_traceTransaction", false, 0.2)

	if got := testutil.CollectAndCount(m.RPCLatency); got != 1 {
		t.Fatalf("series count = %d, want 1", got)
	}
	if got := testutil.CollectAndCount(m.RPCLatency, "txbot_rpc_latency_seconds"); got != 1 {
		t.Errorf("named series count = %d, want 1", got)
	}
}
