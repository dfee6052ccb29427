// Package metrics holds the prometheus collectors for a session engine.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "devwire"

// Request outcomes used as the "outcome" label.
const (
	OutcomeOK        = "ok"
	OutcomeRPCError  = "rpc_error"
	OutcomeRejected  = "rejected"
	OutcomeAbandoned = "abandoned"
)

// Metrics groups the collectors one engine updates.
type Metrics struct {
	FramesReceived     *prometheus.CounterVec
	DecodeErrors       prometheus.Counter
	UnmatchedResponses prometheus.Counter
	DroppedFrames      prometheus.Counter
	ListenerPanics     prometheus.Counter
	Requests           *prometheus.CounterVec
	RequestDuration    prometheus.Histogram
	SessionsLive       prometheus.Gauge
	SessionsCreated    prometheus.Counter
	SessionsDestroyed  prometheus.Counter
}

// New builds the collectors and registers them on reg. A nil reg leaves them
// unregistered, which is what tests and embedded engines usually want.
// Engines sharing one registerer share the collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wire",
			Name:      "frames_received_total",
			Help:      "Inbound frames by envelope kind.",
		}, []string{"kind"}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wire",
			Name:      "decode_errors_total",
			Help:      "Inbound frames that were not valid envelopes.",
		}),
		UnmatchedResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "correlation",
			Name:      "unmatched_responses_total",
			Help:      "Responses with no outstanding request.",
		}),
		DroppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "dropped_frames_total",
			Help:      "Frames addressed to destroyed sessions.",
		}),
		ListenerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "listener_panics_total",
			Help:      "Listener callbacks that panicked.",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "requests_total",
			Help:      "Requests by outcome.",
		}, []string{"outcome"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "request_duration_seconds",
			Help:      "Time from send to settle.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		SessionsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "sessions_live",
			Help:      "Live non-root sessions.",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "sessions_created_total",
			Help:      "Sessions created by attach notifications.",
		}),
		SessionsDestroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "sessions_destroyed_total",
			Help:      "Sessions destroyed by detach, target loss or close.",
		}),
	}
	if reg == nil {
		return m
	}

	m.FramesReceived = register(reg, m.FramesReceived)
	m.DecodeErrors = register(reg, m.DecodeErrors)
	m.UnmatchedResponses = register(reg, m.UnmatchedResponses)
	m.DroppedFrames = register(reg, m.DroppedFrames)
	m.ListenerPanics = register(reg, m.ListenerPanics)
	m.Requests = register(reg, m.Requests)
	m.RequestDuration = register(reg, m.RequestDuration)
	m.SessionsLive = register(reg, m.SessionsLive)
	m.SessionsCreated = register(reg, m.SessionsCreated)
	m.SessionsDestroyed = register(reg, m.SessionsDestroyed)
	return m
}

// register registers c, or returns the collector already registered under
// the same descriptor.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveRequest records one settled request.
func (m *Metrics) ObserveRequest(outcome string, d time.Duration) {
	m.Requests.WithLabelValues(outcome).Inc()
	m.RequestDuration.Observe(d.Seconds())
}
