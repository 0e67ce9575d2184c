package proxy

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "dashscope_proxy"

// Metrics holds the proxy's Prometheus collectors.
type Metrics struct {
	// Pending is the number of requests awaiting a child response.
	Pending prometheus.Gauge

	// Requests counts completed proxied requests.
	// Labels: method, outcome (ok, rpc_error, timeout, transport_error, canceled)
	Requests *prometheus.CounterVec

	// Duration observes time from send to completion.
	// Labels: method
	Duration *prometheus.HistogramVec

	// LateResponses counts responses whose id matched no pending request.
	LateResponses prometheus.Counter

	// MalformedFrames counts child output lines that were not valid JSON-RPC.
	MalformedFrames prometheus.Counter

	// Restarts counts child restarts after an exit.
	Restarts prometheus.Counter

	// ChildUp is 1 while an initialized child is connected.
	ChildUp prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pending_requests",
			Help:      "Number of proxied requests awaiting a response",
		}),
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Total number of proxied JSON-RPC requests by method and outcome",
		}, []string{"method", "outcome"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of proxied JSON-RPC requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method"}),
		LateResponses: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "late_responses_total",
			Help:      "Total number of child responses dropped because no request was pending",
		}),
		MalformedFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "malformed_frames_total",
			Help:      "Total number of child output lines discarded as malformed",
		}),
		Restarts: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "child_restarts_total",
			Help:      "Total number of child process restarts",
		}),
		ChildUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "child_up",
			Help:      "Whether an initialized child process is connected (1) or not (0)",
		}),
	}
}

func outcomeOf(err error) string {
	var timeoutErr *TimeoutError
	var rpcErr *RPCError
	var transportErr *TransportError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &rpcErr):
		return "rpc_error"
	case errors.As(err, &transportErr):
		return "transport_error"
	default:
		return "canceled"
	}
}
