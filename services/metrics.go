package services

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunnel_keeper_request_total",
			Help: "Total HTTP requests handled by the control server",
		},
		[]string{"handler"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tunnel_keeper_request_duration_seconds",
			Help:    "Duration of control server requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler"},
	)

	tunnelStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunnel_keeper_tunnel_starts_total",
			Help: "Tunnel start attempts by identity key",
		},
		[]string{"key"},
	)

	ensureRepairs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tunnel_keeper_ensure_repairs_total",
			Help: "Ensure invocations that had to repair a dead tunnel",
		},
	)

	activeTunnels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tunnel_keeper_active_tunnels",
			Help: "Tunnels currently reported healthy",
		},
	)

	// 健康检查接口用的简单计数，避免从prometheus registry反查
	totalRequests int64
	errorRequests int64
	totalRepairs  int64
)

func init() {
	prometheus.MustRegister(requestCount)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(tunnelStarts)
	prometheus.MustRegister(ensureRepairs)
	prometheus.MustRegister(activeTunnels)
}

func IncrementRequestCount(handler string) {
	requestCount.WithLabelValues(handler).Inc()
	atomic.AddInt64(&totalRequests, 1)
}

func RecordRequestDuration(handler string, seconds float64) {
	requestDuration.WithLabelValues(handler).Observe(seconds)
}

func IncrementErrorCount(handler string) {
	atomic.AddInt64(&errorRequests, 1)
}

func recordTunnelStart(key string) {
	tunnelStarts.WithLabelValues(key).Inc()
}

func recordEnsureRepair() {
	ensureRepairs.Inc()
	atomic.AddInt64(&totalRepairs, 1)
}

func SetActiveTunnels(n int) {
	activeTunnels.Set(float64(n))
}

func GetTotalRequests() int64 {
	return atomic.LoadInt64(&totalRequests)
}

func GetErrorRequests() int64 {
	return atomic.LoadInt64(&errorRequests)
}

func GetEnsureRepairs() int64 {
	return atomic.LoadInt64(&totalRepairs)
}
