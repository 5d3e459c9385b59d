// Package observability exposes the client's Prometheus metrics.
package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	refreshCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arclink",
			Subsystem: "session",
			Name:      "refresh_total",
			Help:      "Underlying refresh-credential calls by result.",
		},
		[]string{"result"},
	)
	gatewayReplays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arclink",
			Subsystem: "gateway",
			Name:      "replays_total",
			Help:      "Requests replayed after a credential refresh, by outcome.",
		},
		[]string{"outcome"},
	)
	sessionTerminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arclink",
			Subsystem: "session",
			Name:      "terminations_total",
			Help:      "Local session terminations by reason.",
		},
		[]string{"reason"},
	)
	credentialBackendFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arclink",
			Subsystem: "credential",
			Name:      "backend_failures_total",
			Help:      "Durable credential storage failures (the store degrades to memory).",
		},
		[]string{"backend", "op"},
	)
	channelReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arclink",
			Subsystem: "channel",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after an unclean close.",
		},
		[]string{"channel"},
	)
	channelDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arclink",
			Subsystem: "channel",
			Name:      "dropped_frames_total",
			Help:      "Inbound frames dropped because they were not valid JSON.",
		},
		[]string{"channel"},
	)
	channelState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "arclink",
			Subsystem: "channel",
			Name:      "state",
			Help:      "1 for the channel's current lifecycle state, 0 otherwise.",
		},
		[]string{"channel", "state"},
	)
)

// RegisterMetrics registers all collectors with the default registry (idempotent).
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			refreshCalls,
			gatewayReplays,
			sessionTerminations,
			credentialBackendFailures,
			channelReconnects,
			channelDropped,
			channelState,
		)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordRefresh(result string) {
	RegisterMetrics()
	refreshCalls.WithLabelValues(result).Inc()
}

func RecordReplay(outcome string) {
	RegisterMetrics()
	gatewayReplays.WithLabelValues(outcome).Inc()
}

func RecordTermination(reason string) {
	RegisterMetrics()
	sessionTerminations.WithLabelValues(reason).Inc()
}

func RecordCredentialBackendFailure(backend, op string) {
	RegisterMetrics()
	credentialBackendFailures.WithLabelValues(backend, op).Inc()
}

func RecordReconnectScheduled(channel string) {
	RegisterMetrics()
	channelReconnects.WithLabelValues(channel).Inc()
}

func RecordDroppedFrame(channel string) {
	RegisterMetrics()
	channelDropped.WithLabelValues(channel).Inc()
}

// SetChannelState flips the state gauge so exactly one state reads 1.
func SetChannelState(channel string, current string, all []string) {
	RegisterMetrics()
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		channelState.WithLabelValues(channel, s).Set(v)
	}
}
