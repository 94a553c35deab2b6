package pubsub

import (
	"context"
	"runtime"
	"sync"
	"weak"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/observ/internal/log"
	"github.com/zjrosen/observ/internal/tracing"
)

// Observer remembers which (event, callback) pairs it registered on each
// Subject so it can undo them in bulk.
//
// Subjects are tracked through weak pointers to their Identity: remembering a
// Subject never keeps it alive. When a Subject is collected its entry is
// dropped automatically. Callbacks that capture their Subject do keep it alive,
// here as much as in the Subject itself.
type Observer struct {
	opts options
	self weak.Pointer[Observer]

	mu   sync.Mutex
	subs map[weak.Pointer[Identity]]*tracked
}

var _ Listener = (*Observer)(nil)

type tracked struct {
	events  map[string]callbackSet
	cleanup runtime.Cleanup
}

// triple is one subscription to undo.
type triple struct {
	subject Subject
	name    string
	cb      Callback
}

// NewObserver creates an Observer. WithID and WithTracer apply; other options
// are ignored.
func NewObserver(opts ...Option) *Observer {
	o := &Observer{
		opts: defaultOptions(),
		subs: make(map[weak.Pointer[Identity]]*tracked),
	}
	for _, opt := range opts {
		opt(&o.opts)
	}
	if o.opts.id == "" {
		o.opts.id = uuid.NewString()
	}
	o.self = weak.Make(o)
	return o
}

// ID returns the Observer's ID.
func (o *Observer) ID() string { return o.opts.id }

// ListenTo records (name, cb) for subject and subscribes cb with subject.On.
// Listening to the same triple twice records it once and calls On twice.
// A nil subject or callback, or the reserved name AllEvents, is ignored.
func (o *Observer) ListenTo(subject Subject, name string, cb Callback) {
	if subject == nil || cb == nil || name == AllEvents {
		return
	}
	o.mu.Lock()
	o.pruneLocked()
	o.trackLocked(subject, name, cb)
	o.mu.Unlock()

	log.Debug(log.CatObserver, "listen", "observer", o.ID(), "subject", subject.Identity().ID(), "event", name, "callback", cb.String())
	subject.On(name, cb)
}

// trackLocked records (name, cb) for subject, creating its entry if needed.
func (o *Observer) trackLocked(subject Subject, name string, cb Callback) {
	ident := subject.Identity()
	key := weak.Make(ident)

	t, ok := o.subs[key]
	if !ok {
		t = &tracked{events: make(map[string]callbackSet)}
		self := o.self
		t.cleanup = runtime.AddCleanup(ident, func(k weak.Pointer[Identity]) {
			if obs := self.Value(); obs != nil {
				obs.forget(k)
			}
		}, key)
		o.subs[key] = t
	}
	insert(t.events, name, cb)
}

// StopListening undoes subscriptions this Observer made. Filters narrow from
// left to right:
//
//   - subject == nil: everything, on every Subject
//   - name == AllEvents: everything on subject
//   - cb == nil: everything for name on subject
//   - otherwise: that one subscription, if it is tracked
//
// Bookkeeping is dropped first, then Off runs concurrently for every matched
// subscription and StopListening waits for all of them. Subscriptions whose Off
// failed (ctx ended while waiting for the emit lock) are tracked again so a
// later call can undo them. Nothing matched means no Off calls at all.
func (o *Observer) StopListening(ctx context.Context, subject Subject, name string, cb Callback) error {
	triples := o.take(subject, name, cb)
	if len(triples) == 0 {
		return nil
	}

	ctx, span := o.opts.tracer.Start(ctx, tracing.SpanStopListening)
	defer span.End()
	span.SetAttributes(
		attribute.String(tracing.AttrObserverID, o.ID()),
		attribute.Int(tracing.AttrTripleCount, len(triples)),
	)

	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed []triple
	)
	for _, tr := range triples {
		g.Go(func() error {
			err := tr.subject.Off(ctx, tr.name, tr.cb)
			if err != nil {
				mu.Lock()
				failed = append(failed, tr)
				mu.Unlock()
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		o.restore(failed)
		log.ErrorErr(log.CatObserver, "stop listening failed", err, "observer", o.ID(),
			"subscriptions", len(triples), "kept", len(failed))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	log.Debug(log.CatObserver, "stopped listening", "observer", o.ID(), "subscriptions", len(triples))
	return nil
}

// Close stops listening to everything.
func (o *Observer) Close(ctx context.Context) error {
	return o.StopListening(ctx, nil, AllEvents, nil)
}

// Tracked returns how many subscriptions this Observer holds on subject.
func (o *Observer) Tracked(subject Subject) int {
	if subject == nil {
		return 0
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.subs[weak.Make(subject.Identity())]
	if !ok {
		return 0
	}
	n := 0
	for _, set := range t.events {
		n += len(set)
	}
	return n
}

// Subjects returns how many live Subjects this Observer tracks.
func (o *Observer) Subjects() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pruneLocked()
	return len(o.subs)
}

// restore tracks triples again after their Off failed.
func (o *Observer) restore(triples []triple) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, tr := range triples {
		o.trackLocked(tr.subject, tr.name, tr.cb)
	}
}

// take removes the matching subscriptions from the bookkeeping and returns them.
func (o *Observer) take(subject Subject, name string, cb Callback) []triple {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pruneLocked()

	if subject == nil {
		var out []triple
		for key, t := range o.subs {
			ident := key.Value()
			if ident == nil {
				continue
			}
			out = append(out, t.drain(ident.Subject(), AllEvents, nil)...)
			o.dropLocked(key, t)
		}
		return out
	}

	key := weak.Make(subject.Identity())
	t, ok := o.subs[key]
	if !ok {
		return nil
	}
	out := t.drain(subject, name, cb)
	if len(t.events) == 0 {
		o.dropLocked(key, t)
	}
	return out
}

// drain removes and returns the subscriptions matching name and cb.
func (t *tracked) drain(subject Subject, name string, cb Callback) []triple {
	var out []triple
	switch {
	case name == AllEvents:
		for ev, set := range t.events {
			for c := range set {
				out = append(out, triple{subject: subject, name: ev, cb: c})
			}
		}
		clear(t.events)
	case cb == nil:
		for c := range t.events[name] {
			out = append(out, triple{subject: subject, name: name, cb: c})
		}
		delete(t.events, name)
	default:
		if remove(t.events, name, cb) {
			out = append(out, triple{subject: subject, name: name, cb: cb})
		}
	}
	return out
}

func (o *Observer) dropLocked(key weak.Pointer[Identity], t *tracked) {
	t.cleanup.Stop()
	delete(o.subs, key)
}

// pruneLocked drops entries whose Subject has been collected but whose
// cleanup has not run yet.
func (o *Observer) pruneLocked() {
	for key, t := range o.subs {
		if key.Value() == nil {
			t.cleanup.Stop()
			delete(o.subs, key)
		}
	}
}

func (o *Observer) forget(key weak.Pointer[Identity]) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.subs[key]; ok {
		delete(o.subs, key)
		log.Debug(log.CatObserver, "subject collected", "observer", o.ID())
	}
}
