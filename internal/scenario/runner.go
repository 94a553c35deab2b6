package scenario

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/observ/internal/log"
	"github.com/zjrosen/observ/internal/pubsub"
)

// dropAttempts bounds how many GC cycles drop waits for a weak owner to go.
const dropAttempts = 50

// Result is the outcome of one run.
type Result struct {
	Scenario   string
	Transcript []string
	Emits      int
	Failures   int
	Duration   time.Duration
}

// String joins the transcript lines.
func (r *Result) String() string {
	return strings.Join(r.Transcript, "\n")
}

// Options configures the Observables and Observers a Runner creates.
type Options struct {
	// Policy is used unless the scenario sets its own error_policy.
	Policy pubsub.ErrorPolicy
	Probe  pubsub.Probe
	Tracer trace.Tracer
}

// Runner replays a Scenario.
type Runner struct {
	sc   *Scenario
	opts Options
}

// NewRunner creates a Runner.
func NewRunner(sc *Scenario, opts Options) (*Runner, error) {
	if sc.ErrorPolicy != "" {
		p, err := pubsub.ParseErrorPolicy(sc.ErrorPolicy)
		if err != nil {
			return nil, err
		}
		opts.Policy = p
	}
	return &Runner{sc: sc, opts: opts}, nil
}

// owner holds a weak handler's state. Only the run's owners map references it.
type owner struct {
	spec HandlerSpec
	sink *sink
}

var ownerHandle = pubsub.NewMethod("handle", func(o *owner, ctx context.Context, e pubsub.Event) error {
	return o.sink.invoke(ctx, o.spec, e)
})

// sink collects callback lines during one Emit. Every invocation adds
// exactly one line, so the runner can wait for callbacks a FailFast Emit left
// running.
type sink struct {
	mu     sync.Mutex
	cond   *sync.Cond
	lines  []string
	failed int
}

func newSink() *sink {
	s := &sink{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *sink) add(line string, failed bool) {
	s.mu.Lock()
	s.lines = append(s.lines, line)
	if failed {
		s.failed++
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

// drain waits for n lines, returns them sorted with the failure count and
// resets the sink.
func (s *sink) drain(n int) ([]string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.lines) < n {
		s.cond.Wait()
	}
	out, failed := s.lines, s.failed
	s.lines, s.failed = nil, 0
	sort.Strings(out)
	return out, failed
}

func (s *sink) invoke(ctx context.Context, spec HandlerSpec, e pubsub.Event) error {
	prefix := fmt.Sprintf("  %s <- %s", spec.Name, e.Name)
	switch spec.Action {
	case ActionFail:
		s.add(prefix+" failed: "+spec.Message, true)
		return errors.New(spec.Message)
	case ActionPanic:
		s.add(prefix+" panicked: "+spec.Message, true)
		panic(spec.Message)
	case ActionSleep:
		select {
		case <-time.After(spec.Sleep):
		case <-ctx.Done():
			s.add(prefix+" cancelled", true)
			return ctx.Err()
		}
		s.add(fmt.Sprintf("%s slept %s", prefix, spec.Sleep), false)
		return nil
	default:
		s.add(prefix+" "+formatArgs(e), false)
		return nil
	}
}

// emitCapture keeps the last emit Activity per source.
type emitCapture struct {
	mu   sync.Mutex
	last map[string]pubsub.Activity
}

func (c *emitCapture) OnActivity(_ context.Context, a pubsub.Activity) {
	if a.Type != pubsub.ActivityEmit {
		return
	}
	c.mu.Lock()
	c.last[a.Source] = a
	c.mu.Unlock()
}

func (c *emitCapture) get(source string) pubsub.Activity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last[source]
}

// run is the state of one Run call.
type run struct {
	sink        *sink
	capture     *emitCapture
	observables map[string]*pubsub.Observable
	observers   map[string]*pubsub.Observer
	strong      map[string]*pubsub.Handler
	owners      map[string]*owner
	weakCbs     map[string]pubsub.Callback
}

// Run executes every step and returns the transcript. Callback failures are
// part of the transcript; only a cancelled ctx or a weak owner that will not
// be collected stops the run with an error.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	st := &run{
		sink:        newSink(),
		capture:     &emitCapture{last: make(map[string]pubsub.Activity)},
		observables: make(map[string]*pubsub.Observable, len(r.sc.Observables)),
		observers:   make(map[string]*pubsub.Observer, len(r.sc.Observers)),
		strong:      make(map[string]*pubsub.Handler),
		owners:      make(map[string]*owner),
		weakCbs:     make(map[string]pubsub.Callback),
	}

	r.buildHandlers(st)

	probe := pubsub.NewMultiProbe(r.opts.Probe, st.capture)
	for _, name := range r.sc.Observables {
		st.observables[name] = pubsub.New(
			pubsub.WithID(name),
			pubsub.WithTracer(r.opts.Tracer),
			pubsub.WithErrorPolicy(r.opts.Policy),
			pubsub.WithProbe(probe),
		)
	}
	for _, name := range r.sc.Observers {
		st.observers[name] = pubsub.NewObserver(pubsub.WithID(name), pubsub.WithTracer(r.opts.Tracer))
	}

	res := &Result{Scenario: r.sc.Name}
	log.Info(log.CatScenario, "run started", "scenario", r.sc.Name, "steps", len(r.sc.Steps))

	for i, step := range r.sc.Steps {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		lines, err := r.step(ctx, st, step, res)
		res.Transcript = append(res.Transcript, lines...)
		if err != nil {
			return res, fmt.Errorf("steps[%d] (%s): %w", i, step.Op, err)
		}
	}

	for name, o := range st.observers {
		if err := o.Close(ctx); err != nil {
			log.ErrorErr(log.CatScenario, "closing observer", err, "observer", name)
		}
	}

	res.Duration = time.Since(start)
	log.Info(log.CatScenario, "run finished", "scenario", r.sc.Name,
		"emits", res.Emits, "failures", res.Failures, "duration", res.Duration)
	return res, nil
}

// buildHandlers creates one callback per handler spec. Weak owners are only
// referenced from st.owners so drop can release them.
func (r *Runner) buildHandlers(st *run) {
	for _, h := range r.sc.Handlers {
		if h.Weak {
			o := &owner{spec: h, sink: st.sink}
			st.owners[h.Name] = o
			st.weakCbs[h.Name] = pubsub.WeakMethod(o, ownerHandle)
			continue
		}
		spec := h
		st.strong[h.Name] = pubsub.NewHandler(h.Name, func(ctx context.Context, e pubsub.Event) error {
			return st.sink.invoke(ctx, spec, e)
		})
	}
}

func (r *Runner) callback(st *run, name string) pubsub.Callback {
	if cb, ok := st.weakCbs[name]; ok {
		return cb
	}
	if h, ok := st.strong[name]; ok {
		return h
	}
	return nil
}

func (r *Runner) step(ctx context.Context, st *run, s Step, res *Result) ([]string, error) {
	switch s.Op {
	case OpOn:
		st.observables[s.Observable].On(s.Event, r.callback(st, s.Handler))
		return []string{fmt.Sprintf("on %s.%s %s", s.Observable, s.Event, r.label(s.Handler))}, nil

	case OpOff:
		var cb pubsub.Callback
		if s.Handler != "" {
			cb = r.callback(st, s.Handler)
		}
		if err := st.observables[s.Observable].Off(ctx, s.Event, cb); err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("off %s.%s %s", s.Observable, star(s.Event), star(s.Handler))}, nil

	case OpListen:
		st.observers[s.Observer].ListenTo(st.observables[s.Observable], s.Event, r.callback(st, s.Handler))
		return []string{fmt.Sprintf("listen %s %s.%s %s", s.Observer, s.Observable, s.Event, r.label(s.Handler))}, nil

	case OpStop:
		var (
			subject pubsub.Subject
			cb      pubsub.Callback
		)
		if s.Observable != "" {
			subject = st.observables[s.Observable]
		}
		if s.Handler != "" {
			cb = r.callback(st, s.Handler)
		}
		if err := st.observers[s.Observer].StopListening(ctx, subject, s.Event, cb); err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("stop %s %s.%s %s", s.Observer, star(s.Observable), star(s.Event), star(s.Handler))}, nil

	case OpEmit:
		args := append([]any(nil), s.Args...)
		if len(s.Kwargs) > 0 {
			args = append(args, pubsub.Kwargs(s.Kwargs))
		}
		err := st.observables[s.Observable].Emit(ctx, s.Event, args...)
		if err != nil && ctx.Err() != nil {
			return nil, err
		}
		// A FailFast Emit can return before every callback finished; wait for
		// all of them so the transcript does not depend on scheduling.
		a := st.capture.get(s.Observable)
		lines, failed := st.sink.drain(a.Callbacks)
		res.Emits++
		res.Failures += failed
		line := fmt.Sprintf("emit %s.%s callbacks=%d failures=%d", s.Observable, s.Event, a.Callbacks, failed)
		return append([]string{line}, lines...), nil

	case OpDrop:
		cb := st.weakCbs[s.Handler]
		delete(st.owners, s.Handler)
		for i := 0; i < dropAttempts && cb.Alive(); i++ {
			runtime.GC()
		}
		if cb.Alive() {
			return nil, fmt.Errorf("owner of %s was not collected", s.Handler)
		}
		return []string{"drop " + s.Handler}, nil
	}
	return nil, fmt.Errorf("unknown op %q", s.Op)
}

func (r *Runner) label(handler string) string {
	if h, ok := r.sc.Handler(handler); ok && h.Weak {
		return handler + " (weak)"
	}
	return handler
}

func star(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

// formatArgs renders positional args and sorted kwargs.
func formatArgs(e pubsub.Event) string {
	var b strings.Builder
	b.WriteString(fmt.Sprint(e.Args))
	if len(e.Kwargs) > 0 {
		keys := make([]string, 0, len(e.Kwargs))
		for k := range e.Kwargs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Kwargs[k])
		}
		b.WriteString("}")
	}
	return b.String()
}
