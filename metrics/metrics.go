// Package metrics holds the process-wide Prometheus collectors for frames,
// calls and listener connections. Collectors register on first use.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "minirpc"

var (
	registerOnce sync.Once

	framesEncoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "encoded_total",
			Help:      "Frames written to the wire.",
		},
		[]string{"type"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "dropped_total",
			Help:      "Values not written because their type did not match the encoder.",
		},
		[]string{"type"},
	)
	framesDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "decoded_total",
			Help:      "Frames decoded into values.",
		},
		[]string{"type"},
	)
	frameBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "bytes_total",
			Help:      "Frame bytes including the length prefix.",
		},
		[]string{"direction", "type"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "decode_errors_total",
			Help:      "Terminal decode failures.",
		},
		[]string{"type", "reason"},
	)
	calls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "calls_total",
			Help:      "Calls issued by the caller side, by outcome.",
		},
		[]string{"outcome"},
	)
	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "call_duration_seconds",
			Help:      "Call duration from dial to response in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_total",
			Help:      "Accepted connections, by how they ended.",
		},
		[]string{"outcome"},
	)
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "active_connections",
			Help:      "Connections currently being handled.",
		},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "dispatch_duration_seconds",
			Help:      "Dispatcher latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"interface", "method", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesEncoded, framesDropped, framesDecoded, frameBytes, decodeErrors,
			calls, callDuration,
			connections, activeConnections, dispatchDuration,
		)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordFrameEncoded(typ string, size int) {
	RegisterMetrics()
	framesEncoded.WithLabelValues(typ).Inc()
	frameBytes.WithLabelValues("out", typ).Add(float64(size))
}

func RecordFrameDropped(typ string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(typ).Inc()
}

func RecordFrameDecoded(typ string, size int) {
	RegisterMetrics()
	framesDecoded.WithLabelValues(typ).Inc()
	frameBytes.WithLabelValues("in", typ).Add(float64(size))
}

func RecordDecodeError(typ, reason string) {
	RegisterMetrics()
	decodeErrors.WithLabelValues(typ, reason).Inc()
}

func RecordCall(outcome string, duration time.Duration) {
	RegisterMetrics()
	calls.WithLabelValues(outcome).Inc()
	callDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ConnectionOpened returns a func that closes the connection's accounting
// with the given outcome.
func ConnectionOpened() func(outcome string) {
	RegisterMetrics()
	activeConnections.Inc()
	return func(outcome string) {
		activeConnections.Dec()
		connections.WithLabelValues(outcome).Inc()
	}
}

func RecordDispatch(iface, method string, success bool, duration time.Duration) {
	RegisterMetrics()
	label := "false"
	if success {
		label = "true"
	}
	dispatchDuration.WithLabelValues(iface, method, label).Observe(duration.Seconds())
}
