package tracing

// Span attribute keys used by Observables and Observers.
const (
	AttrSubjectID     = "pubsub.subject.id"
	AttrObserverID    = "pubsub.observer.id"
	AttrEventName     = "pubsub.event.name"
	AttrCallbackName  = "pubsub.callback.name"
	AttrCallbackWeak  = "pubsub.callback.weak"
	AttrCallbackCount = "pubsub.callback.count"
	AttrFailureCount  = "pubsub.failure.count"
	AttrErrorPolicy   = "pubsub.error_policy"
	AttrTripleCount   = "pubsub.unsubscribe.count"
)

// Span names.
const (
	SpanPrefixEmit     = "pubsub.emit."
	SpanPrefixCallback = "pubsub.callback."
	SpanStopListening  = "pubsub.stop_listening"
)
