package pubsub

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/zjrosen/observ/internal/tracing"
)

type callbackSet map[Callback]struct{}

// Observable owns per-event sets of strong and weak callbacks.
//
// Off and Emit are serialized by the emit lock for their whole duration,
// including the fan-out. The exception is a FailFast Emit that hit a failure:
// it releases the lock right away and its remaining callbacks finish outside it. On never takes the emit lock: a registration racing
// an in-flight Emit may or may not be seen by it. mu only guards the maps
// themselves and is never held while callbacks run.
//
// Callbacks must not call Off or Emit on the Observable that invoked them;
// the emit lock is not reentrant.
type Observable struct {
	identity *Identity
	opts     options

	emitLock *semaphore.Weighted

	mu     sync.Mutex
	strong map[string]callbackSet
	weak   map[string]callbackSet
}

var _ Subject = (*Observable)(nil)

// New creates an Observable.
func New(opts ...Option) *Observable {
	o := &Observable{
		opts:     defaultOptions(),
		emitLock: semaphore.NewWeighted(1),
		strong:   make(map[string]callbackSet),
		weak:     make(map[string]callbackSet),
	}
	for _, opt := range opts {
		opt(&o.opts)
	}
	if o.opts.id == "" {
		o.opts.id = uuid.NewString()
	}
	o.identity = NewIdentity(o.opts.id, o)
	return o
}

// ID returns the Observable's ID.
func (o *Observable) ID() string { return o.identity.id }

// Identity implements Subject.
func (o *Observable) Identity() *Identity { return o.identity }

// On registers cb for name. Weak callbacks go to the weak set after dead weak
// references for name are swept; everything else goes to the strong set.
// Adding a callback twice is a no-op. Nil callbacks and the reserved name
// AllEvents are ignored.
func (o *Observable) On(name string, cb Callback) {
	if cb == nil || name == AllEvents {
		return
	}

	o.mu.Lock()
	swept := 0
	var added bool
	if cb.Weak() {
		swept = o.sweepLocked(name)
		added = insert(o.weak, name, cb)
	} else {
		added = insert(o.strong, name, cb)
	}
	o.mu.Unlock()

	ctx := context.Background()
	o.reportSweep(ctx, name, swept)
	if added {
		o.opts.probe.OnActivity(ctx, Activity{
			Type:      ActivitySubscribe,
			Timestamp: time.Now(),
			Source:    o.ID(),
			Event:     name,
			Callback:  cb.String(),
			Weak:      cb.Weak(),
		})
	}
}

// Off removes subscriptions under the emit lock.
//
//   - name == AllEvents: drops every strong subscription for every event.
//     Weak subscriptions are kept.
//   - cb == nil: drops every strong subscription for name.
//   - otherwise: removes cb from the strong set for name, or from the weak
//     set if it is not strong.
//
// Removing something that is not registered is a no-op. The only error is
// ctx ending while waiting for the emit lock.
func (o *Observable) Off(ctx context.Context, name string, cb Callback) error {
	if err := o.emitLock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer o.emitLock.Release(1)

	o.mu.Lock()
	removed := 0
	switch {
	case name == AllEvents:
		for _, set := range o.strong {
			removed += len(set)
		}
		o.strong = make(map[string]callbackSet)
	case cb == nil:
		removed = len(o.strong[name])
		delete(o.strong, name)
	default:
		if remove(o.strong, name, cb) || remove(o.weak, name, cb) {
			removed = 1
		}
	}
	o.mu.Unlock()

	if removed > 0 {
		a := Activity{
			Type:      ActivityUnsubscribe,
			Timestamp: time.Now(),
			Source:    o.ID(),
			Event:     name,
			Callbacks: removed,
		}
		if cb != nil {
			a.Callback = cb.String()
		}
		o.opts.probe.OnActivity(ctx, a)
	}
	return nil
}

type target struct {
	name string
	fn   HandlerFunc
}

// Emit invokes the callbacks for name with args concurrently.
//
// The strong set is used when it is non-empty; otherwise every weak callback
// whose owner is still alive. Callbacks run concurrently with no ordering and
// receive ctx. Arguments of type Kwargs become Event.Kwargs. The Event is
// shared between callbacks and must be treated as read-only.
//
// Without failures Emit waits for every callback. Under FailFast the first
// failure (error or panic) is returned at once and the emit lock released
// while the other callbacks keep running; they are not cancelled. Under
// CollectAll every callback is awaited and all failures are returned
// together. Each failure is wrapped in a *CallbackError. Callbacks that
// succeeded are not undone.
func (o *Observable) Emit(ctx context.Context, name string, args ...any) error {
	ctx, span := o.opts.tracer.Start(ctx, tracing.SpanPrefixEmit+name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(tracing.AttrSubjectID, o.ID()),
			attribute.String(tracing.AttrEventName, name),
		),
	)
	defer span.End()

	if err := o.emitLock.Acquire(ctx, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer o.emitLock.Release(1)

	start := time.Now()
	targets, swept := o.targets(name)
	o.reportSweep(ctx, name, swept)

	span.SetAttributes(attribute.Int(tracing.AttrCallbackCount, len(targets)))

	var (
		failures int
		err      error
	)
	if len(targets) > 0 {
		failures, err = o.fanOut(ctx, newEvent(o.ID(), name, args), targets)
	}

	if err != nil {
		span.SetAttributes(
			attribute.Int(tracing.AttrFailureCount, failures),
			attribute.String(tracing.AttrErrorPolicy, o.opts.policy.String()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	o.opts.probe.OnActivity(ctx, Activity{
		Type:      ActivityEmit,
		Timestamp: start,
		Source:    o.ID(),
		Event:     name,
		Callbacks: len(targets),
		Failures:  failures,
		Duration:  time.Since(start),
		Err:       err,
	})
	return err
}

// targets sweeps dead weak callbacks for name and resolves what to invoke.
func (o *Observable) targets(name string) ([]target, int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	swept := o.sweepLocked(name)

	set := o.strong[name]
	if len(set) == 0 {
		set = o.weak[name]
	}

	targets := make([]target, 0, len(set))
	for cb := range set {
		// A weak owner can die between the sweep and here; skip it.
		if fn, ok := cb.resolve(); ok {
			targets = append(targets, target{name: cb.String(), fn: fn})
		}
	}
	return targets, swept
}

// fanOut starts every target and collects results. Under FailFast it returns
// on the first failure and leaves the remaining callbacks running; under
// CollectAll it waits for all of them.
func (o *Observable) fanOut(ctx context.Context, e Event, targets []target) (int, error) {
	// Buffered so detached callbacks never block on a result nobody reads.
	results := make(chan error, len(targets))
	for _, t := range targets {
		go func() { results <- o.invoke(ctx, e, t) }()
	}

	if o.opts.policy == CollectAll {
		var (
			failures int
			all      *multierror.Error
		)
		for range targets {
			if err := <-results; err != nil {
				failures++
				all = multierror.Append(all, err)
			}
		}
		return failures, all.ErrorOrNil()
	}

	for range targets {
		if err := <-results; err != nil {
			return 1, err
		}
	}
	return 0, nil
}

func (o *Observable) invoke(ctx context.Context, e Event, t target) (err error) {
	ctx, span := o.opts.tracer.Start(ctx, tracing.SpanPrefixCallback+t.name,
		trace.WithAttributes(attribute.String(tracing.AttrCallbackName, t.name)),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCallbackPanic, r)
		}
		if err != nil {
			err = &CallbackError{Event: e.Name, Callback: t.name, Err: err}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	return t.fn(ctx, e)
}

// sweepLocked drops dead weak callbacks for name and returns how many went.
func (o *Observable) sweepLocked(name string) int {
	set := o.weak[name]
	removed := 0
	for cb := range set {
		if !cb.Alive() {
			delete(set, cb)
			removed++
		}
	}
	if set != nil && len(set) == 0 {
		delete(o.weak, name)
	}
	return removed
}

func (o *Observable) reportSweep(ctx context.Context, name string, removed int) {
	if removed == 0 {
		return
	}
	o.opts.probe.OnActivity(ctx, Activity{
		Type:      ActivitySweep,
		Timestamp: time.Now(),
		Source:    o.ID(),
		Event:     name,
		Callbacks: removed,
	})
}

// Count returns the number of strong and weak callbacks registered for name.
// Dead weak callbacks that have not been swept yet are counted.
func (o *Observable) Count(name string) (strong, weak int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.strong[name]), len(o.weak[name])
}

// Has reports whether cb is registered for name, strongly or weakly.
func (o *Observable) Has(name string, cb Callback) bool {
	if cb == nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.strong[name][cb]; ok {
		return true
	}
	_, ok := o.weak[name][cb]
	return ok
}

// Events lists event names with at least one registered callback, sorted.
func (o *Observable) Events() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	seen := make(map[string]struct{}, len(o.strong)+len(o.weak))
	for name, set := range o.strong {
		if len(set) > 0 {
			seen[name] = struct{}{}
		}
	}
	for name, set := range o.weak {
		if len(set) > 0 {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func insert(m map[string]callbackSet, name string, cb Callback) bool {
	set, ok := m[name]
	if !ok {
		set = make(callbackSet)
		m[name] = set
	}
	if _, exists := set[cb]; exists {
		return false
	}
	set[cb] = struct{}{}
	return true
}

func remove(m map[string]callbackSet, name string, cb Callback) bool {
	set, ok := m[name]
	if !ok {
		return false
	}
	if _, exists := set[cb]; !exists {
		return false
	}
	delete(set, cb)
	if len(set) == 0 {
		delete(m, name)
	}
	return true
}
