package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveVerification(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveVerification("eip155:4326", "verified", 200*time.Millisecond)
	m.ObserveVerification("eip155:4326", "insufficient_amount", 150*time.Millisecond)
	m.ObserveVerification("eip155:8453", "verified", time.Second)

	if got := promtest.ToFloat64(m.VerificationsTotal.WithLabelValues("eip155:4326", "verified")); got != 1 {
		t.Errorf("verified count = %.0f", got)
	}
	if got := promtest.ToFloat64(m.VerificationsTotal.WithLabelValues("eip155:4326", "insufficient_amount")); got != 1 {
		t.Errorf("rejection count = %.0f", got)
	}
}

func TestObserveSettle(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveSettle("eip155:8453", true)
	m.ObserveSettle("eip155:8453", false)
	m.ObserveSettle("eip155:8453", false)

	if got := promtest.ToFloat64(m.SettlesTotal.WithLabelValues("eip155:8453", "ok")); got != 1 {
		t.Errorf("ok settles = %.0f", got)
	}
	if got := promtest.ToFloat64(m.SettlesTotal.WithLabelValues("eip155:8453", "failed")); got != 2 {
		t.Errorf("failed settles = %.0f", got)
	}
}

func TestObserveRPCCallErrorTypes(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRPCCall("eth_getTransactionReceipt", "eip155:4326", 10*time.Millisecond, errors.New("context deadline exceeded"))
	m.ObserveRPCCall("eth_getTransactionReceipt", "eip155:4326", 10*time.Millisecond, errors.New("connection refused"))
	m.ObserveRPCCall("eth_getTransactionReceipt", "eip155:4326", 10*time.Millisecond, nil)

	if got := promtest.ToFloat64(m.RPCCallsTotal.WithLabelValues("eth_getTransactionReceipt", "eip155:4326")); got != 3 {
		t.Errorf("calls = %.0f", got)
	}
	if got := promtest.ToFloat64(m.RPCErrorsTotal.WithLabelValues("eth_getTransactionReceipt", "eip155:4326", "timeout")); got != 1 {
		t.Errorf("timeout errors = %.0f", got)
	}
	if got := promtest.ToFloat64(m.RPCErrorsTotal.WithLabelValues("eth_getTransactionReceipt", "eip155:4326", "connection")); got != 1 {
		t.Errorf("connection errors = %.0f", got)
	}
}

func TestObserveUpstreamStatusClass(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveUpstream("llm-chat", 200, time.Second)
	m.ObserveUpstream("llm-chat", 201, time.Second)
	m.ObserveUpstream("llm-chat", 503, time.Second)
	m.ObserveUpstream("llm-chat", 0, time.Second)

	if got := promtest.ToFloat64(m.UpstreamRequestsTotal.WithLabelValues("llm-chat", "2xx")); got != 2 {
		t.Errorf("2xx = %.0f", got)
	}
	if got := promtest.ToFloat64(m.UpstreamRequestsTotal.WithLabelValues("llm-chat", "5xx")); got != 1 {
		t.Errorf("5xx = %.0f", got)
	}
	if got := promtest.ToFloat64(m.UpstreamRequestsTotal.WithLabelValues("llm-chat", "other")); got != 1 {
		t.Errorf("other = %.0f", got)
	}
}

func TestObserveCache(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCache("weather-current", true)
	m.ObserveCache("weather-current", false)
	m.ObserveCache("weather-current", false)

	if got := promtest.ToFloat64(m.CacheHitsTotal.WithLabelValues("weather-current")); got != 1 {
		t.Errorf("hits = %.0f", got)
	}
	if got := promtest.ToFloat64(m.CacheMissesTotal.WithLabelValues("weather-current")); got != 2 {
		t.Errorf("misses = %.0f", got)
	}
}

func TestMeasureDBQueryNilSafe(t *testing.T) {
	done := MeasureDBQuery(nil, "record_proof")
	done() // must not panic

	m := New(prometheus.NewRegistry())
	MeasureDBQuery(m, "record_proof")()
	if got := promtest.CollectAndCount(m.DBQueryDuration); got != 1 {
		t.Errorf("collected %d series, want 1", got)
	}
}

func TestObserveCleanup(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCleanup(42)
	m.ObserveCleanup(8)

	if got := promtest.ToFloat64(m.CleanupRunsTotal); got != 2 {
		t.Errorf("runs = %.0f", got)
	}
	if got := promtest.ToFloat64(m.CleanupRecordsDeleted); got != 50 {
		t.Errorf("deleted = %.0f", got)
	}
}
