package engine

import (
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/devwire/internal/metrics"
	"github.com/dshills/devwire/internal/registry"
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger         zerolog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	lifecycle      Lifecycle
	tombstoneLimit int
	firstID        int64
}

func defaultOptions() options {
	return options{
		logger:         zerolog.Nop(),
		lifecycle:      DefaultLifecycle(),
		tombstoneLimit: registry.DefaultTombstoneLimit,
		firstID:        1,
	}
}

// WithLogger sets the base logger. The engine adds component and conn fields.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics sets the collectors the engine updates. Without it the engine
// uses unregistered collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTracer sets the tracer used for Send spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// WithLifecycle replaces the lifecycle notification mapping.
func WithLifecycle(lc Lifecycle) Option {
	return func(o *options) {
		o.lifecycle = lc
	}
}

// WithTombstoneLimit sets how many destroyed session ids are remembered so
// their late traffic can be dropped. Ids evicted past the limit are treated
// as unknown: their events and responses are attributed to the root session.
func WithTombstoneLimit(n int) Option {
	return func(o *options) {
		o.tombstoneLimit = n
	}
}

// WithFirstRequestID sets the first request id. Defaults to 1.
func WithFirstRequestID(id int64) Option {
	return func(o *options) {
		o.firstID = id
	}
}
