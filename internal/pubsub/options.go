package pubsub

import (
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type options struct {
	id     string
	tracer trace.Tracer
	probe  Probe
	policy ErrorPolicy
}

func defaultOptions() options {
	return options{
		tracer: noop.NewTracerProvider().Tracer(""),
		probe:  NoopProbe{},
		policy: FailFast,
	}
}

// Option configures an Observable or an Observer.
type Option func(*options)

// WithID sets the ID reported in events, logs and spans. Defaults to a UUID.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// WithTracer opens spans for emits and callback invocations.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithProbe reports activity to p.
func WithProbe(p Probe) Option {
	return func(o *options) {
		if p != nil {
			o.probe = p
		}
	}
}

// WithErrorPolicy selects how Emit reports callback failures. Observers ignore it.
func WithErrorPolicy(p ErrorPolicy) Option {
	return func(o *options) { o.policy = p }
}
