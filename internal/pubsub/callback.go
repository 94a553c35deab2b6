package pubsub

import (
	"context"
	"fmt"
	"weak"
)

// HandlerFunc is the invocable unit behind every Callback.
type HandlerFunc func(ctx context.Context, e Event) error

// Callback is a subscription handle accepted by Subject.On and Subject.Off.
//
// Callbacks are map keys, so equality matters: a *Handler compares by pointer,
// method callbacks compare by (owner, method). The set of implementations is
// closed: Handler, StrongMethod and WeakMethod.
type Callback interface {
	// Weak reports whether the callback holds its owner weakly.
	Weak() bool
	// Alive reports whether the callback can still be resolved.
	// Strong callbacks are always alive.
	Alive() bool
	String() string

	resolve() (HandlerFunc, bool)
}

// Handler is a strong callback wrapping a HandlerFunc.
type Handler struct {
	name string
	fn   HandlerFunc
}

// NewHandler creates a named strong callback. The name only shows up in logs,
// traces and errors; identity is the returned pointer.
func NewHandler(name string, fn HandlerFunc) *Handler {
	return &Handler{name: name, fn: fn}
}

// Func creates an anonymous strong callback.
func Func(fn HandlerFunc) *Handler {
	return &Handler{name: "func", fn: fn}
}

func (h *Handler) Weak() bool  { return false }
func (h *Handler) Alive() bool { return true }

func (h *Handler) String() string {
	if h == nil {
		return "<nil>"
	}
	return h.name
}

func (h *Handler) resolve() (HandlerFunc, bool) {
	if h == nil || h.fn == nil {
		return nil, false
	}
	return h.fn, true
}

// Method selects a function on receivers of type T. It is the "method half" of
// StrongMethod and WeakMethod; create one per method and reuse it so that
// callbacks built from it compare equal.
type Method[T any] struct {
	name string
	fn   func(recv *T, ctx context.Context, e Event) error
}

// NewMethod creates a method selector.
func NewMethod[T any](name string, fn func(recv *T, ctx context.Context, e Event) error) *Method[T] {
	return &Method[T]{name: name, fn: fn}
}

// Name returns the method name.
func (m *Method[T]) Name() string {
	if m == nil {
		return "<nil>"
	}
	return m.name
}

func (m *Method[T]) bind(recv *T) HandlerFunc {
	return func(ctx context.Context, e Event) error {
		return m.fn(recv, ctx, e)
	}
}

type strongMethod[T any] struct {
	owner  *T
	method *Method[T]
}

// StrongMethod binds m to owner. The subscription keeps owner alive.
// Two StrongMethod callbacks with the same owner and method are equal.
func StrongMethod[T any](owner *T, m *Method[T]) Callback {
	return strongMethod[T]{owner: owner, method: m}
}

func (s strongMethod[T]) Weak() bool  { return false }
func (s strongMethod[T]) Alive() bool { return true }

func (s strongMethod[T]) String() string {
	return fmt.Sprintf("%T.%s", s.owner, s.method.Name())
}

func (s strongMethod[T]) resolve() (HandlerFunc, bool) {
	if s.owner == nil || s.method == nil {
		return nil, false
	}
	return s.method.bind(s.owner), true
}

type weakMethod[T any] struct {
	ref    weak.Pointer[T]
	method *Method[T]
}

// WeakMethod binds m to owner without keeping owner alive. Once owner is
// garbage collected the callback resolves to nothing and is swept on the next
// weak On or Emit for its event.
//
// owner must point to the start of an allocation (a *T from new or &T{}).
func WeakMethod[T any](owner *T, m *Method[T]) Callback {
	return weakMethod[T]{ref: weak.Make(owner), method: m}
}

func (w weakMethod[T]) Weak() bool { return true }

func (w weakMethod[T]) Alive() bool {
	return w.ref.Value() != nil
}

func (w weakMethod[T]) String() string {
	var zero *T
	return fmt.Sprintf("weak(%T.%s)", zero, w.method.Name())
}

func (w weakMethod[T]) resolve() (HandlerFunc, bool) {
	owner := w.ref.Value()
	if owner == nil || w.method == nil {
		return nil, false
	}
	return w.method.bind(owner), true
}
