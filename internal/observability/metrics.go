package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/duelwire/internal/protocol/dispatch"
	"github.com/danmuck/duelwire/internal/protocol/handler"
	"github.com/danmuck/duelwire/internal/protocol/proto"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "duelwire",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"relay", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "duelwire",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"relay", "method", "path", "status"},
	)
	dispatchFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "duelwire",
			Subsystem: "dispatch",
			Name:      "frames_total",
			Help:      "Complete frames seen by the dispatcher, by outcome.",
		},
		[]string{"direction", "command", "outcome"},
	)
	dispatchVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "duelwire",
			Subsystem: "dispatch",
			Name:      "verdicts_total",
			Help:      "Synchronous handler verdicts.",
		},
		[]string{"direction", "command", "verdict"},
	)
	dispatchFeedback = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "duelwire",
			Subsystem: "dispatch",
			Name:      "feedback_total",
			Help:      "Dispatch calls that ended with feedback.",
		},
		[]string{"direction", "kind"},
	)
	sessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "duelwire",
			Subsystem: "relay",
			Name:      "sessions_active",
			Help:      "Open relay sessions.",
		},
		[]string{"ingress"},
	)
	sessionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "duelwire",
			Subsystem: "relay",
			Name:      "sessions_closed_total",
			Help:      "Closed relay sessions by reason.",
		},
		[]string{"ingress", "reason"},
	)
	relayBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "duelwire",
			Subsystem: "relay",
			Name:      "bytes_total",
			Help:      "Bytes received from peers, by direction.",
		},
		[]string{"direction"},
	)
	sessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "duelwire",
			Subsystem: "relay",
			Name:      "session_duration_seconds",
			Help:      "Relay session lifetime in seconds.",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600},
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			dispatchFrames, dispatchVerdicts, dispatchFeedback,
			sessionsActive, sessionsClosed, relayBytes, sessionDuration,
		)
	})
}

func RecordHTTPRequest(relay, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(relay, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(relay, method, path, statusLabel).Observe(duration.Seconds())
}

func SessionOpened(ingress string) {
	RegisterMetrics()
	sessionsActive.WithLabelValues(ingress).Inc()
}

func SessionClosed(ingress, reason string, lifetime time.Duration) {
	RegisterMetrics()
	sessionsActive.WithLabelValues(ingress).Dec()
	sessionsClosed.WithLabelValues(ingress, reason).Inc()
	sessionDuration.Observe(lifetime.Seconds())
}

func RecordBytes(dir proto.Direction, n int) {
	RegisterMetrics()
	relayBytes.WithLabelValues(string(dir)).Add(float64(n))
}

// DispatchObserver feeds dispatcher events into the dispatch counters.
type DispatchObserver struct{}

func NewDispatchObserver() DispatchObserver {
	RegisterMetrics()
	return DispatchObserver{}
}

func (DispatchObserver) ObserveFrame(dir proto.Direction, command string, outcome dispatch.Outcome) {
	dispatchFrames.WithLabelValues(string(dir), command, string(outcome)).Inc()
}

func (DispatchObserver) ObserveVerdict(dir proto.Direction, command string, kind handler.Kind) {
	dispatchVerdicts.WithLabelValues(string(dir), command, kind.String()).Inc()
}

func (DispatchObserver) ObserveFeedback(dir proto.Direction, kind dispatch.FeedbackKind) {
	dispatchFeedback.WithLabelValues(string(dir), string(kind)).Inc()
}
