package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linectl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "linectl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	lineFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linectl",
			Subsystem: "line",
			Name:      "frames_total",
			Help:      "Decoded frames by result.",
		},
		[]string{"result"},
	)
	transportBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linectl",
			Subsystem: "transport",
			Name:      "bytes_total",
			Help:      "Bytes moved over the transport.",
		},
		[]string{"direction"},
	)
	sessionConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linectl",
			Subsystem: "session",
			Name:      "connect_attempts_total",
			Help:      "Transport open attempts by result.",
		},
		[]string{"result"},
	)
	sessionSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linectl",
			Subsystem: "session",
			Name:      "sends_total",
			Help:      "Send calls by result.",
		},
		[]string{"result"},
	)
	sessionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linectl",
			Subsystem: "session",
			Name:      "errors_total",
			Help:      "Session errors by kind.",
		},
		[]string{"kind"},
	)
	sessionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "linectl",
			Subsystem: "session",
			Name:      "state",
			Help:      "Lifecycle state (0 disconnected, 1 connecting, 2 connected, 3 failed).",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			lineFrames,
			transportBytes,
			sessionConnects,
			sessionSends,
			sessionErrors,
			sessionState,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrame(result string) {
	RegisterMetrics()
	lineFrames.WithLabelValues(result).Inc()
}

func RecordBytes(direction string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	transportBytes.WithLabelValues(direction).Add(float64(n))
}

func RecordConnect(success bool) {
	RegisterMetrics()
	result := "ok"
	if !success {
		result = "failed"
	}
	sessionConnects.WithLabelValues(result).Inc()
}

func RecordSend(success bool) {
	RegisterMetrics()
	result := "ok"
	if !success {
		result = "failed"
	}
	sessionSends.WithLabelValues(result).Inc()
}

func RecordSessionError(kind string) {
	RegisterMetrics()
	sessionErrors.WithLabelValues(kind).Inc()
}

func RecordSessionState(state int) {
	RegisterMetrics()
	sessionState.Set(float64(state))
}
