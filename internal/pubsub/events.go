// Package pubsub implements asynchronous event notification between Observables
// and Observers.
//
// An Observable keeps per-event sets of callbacks and fans every Emit out to
// them concurrently, waiting for all of them. An Observer remembers what it
// subscribed to on each Observable so it can unsubscribe in bulk later.
package pubsub

import (
	"context"
	"time"
)

// AllEvents stands for "no event name given" in Off and StopListening. The
// empty name is reserved for it: On and ListenTo ignore registrations for "".
const AllEvents = ""

// Kwargs carries named arguments. Passing a Kwargs value to Emit merges it
// into Event.Kwargs instead of appending it to Event.Args.
type Kwargs map[string]any

// Event is what a callback receives for one Emit.
type Event struct {
	Name      string
	Args      []any
	Kwargs    Kwargs
	Source    string // ID of the emitting Observable
	Timestamp time.Time
}

// Arg returns the i-th positional argument.
func (e Event) Arg(i int) (any, bool) {
	if i < 0 || i >= len(e.Args) {
		return nil, false
	}
	return e.Args[i], true
}

// Kwarg returns the named argument key.
func (e Event) Kwarg(key string) (any, bool) {
	v, ok := e.Kwargs[key]
	return v, ok
}

// newEvent splits args into positional and named arguments.
func newEvent(source, name string, args []any) Event {
	e := Event{
		Name:      name,
		Source:    source,
		Timestamp: time.Now(),
	}
	for _, a := range args {
		if kw, ok := a.(Kwargs); ok {
			if e.Kwargs == nil {
				e.Kwargs = make(Kwargs, len(kw))
			}
			for k, v := range kw {
				e.Kwargs[k] = v
			}
			continue
		}
		e.Args = append(e.Args, a)
	}
	return e
}

// Subject is anything that can be subscribed to and that announces events.
type Subject interface {
	// On registers cb for name. It never waits for an in-flight Emit.
	On(name string, cb Callback)
	// Off removes subscriptions. name == AllEvents drops every strong
	// subscription; cb == nil drops every strong subscription for name.
	Off(ctx context.Context, name string, cb Callback) error
	// Emit invokes every callback for name concurrently and waits for all.
	Emit(ctx context.Context, name string, args ...any) error
	// Identity returns the token Observers use to track this Subject without
	// keeping it alive.
	Identity() *Identity
}

// Listener manages its own subscriptions across Subjects.
type Listener interface {
	ListenTo(subject Subject, name string, cb Callback)
	StopListening(ctx context.Context, subject Subject, name string, cb Callback) error
}

// Identity is a Subject's non-owning identity token. The Subject holds its
// Identity strongly and the Identity points back at the Subject; Observers
// hold only weak pointers to it, so the pair is collected together.
type Identity struct {
	id      string
	subject Subject
}

// NewIdentity creates the identity token for subject. Custom Subject
// implementations call it once at construction and return the same pointer
// from Identity().
func NewIdentity(id string, subject Subject) *Identity {
	return &Identity{id: id, subject: subject}
}

// ID returns the subject's ID.
func (i *Identity) ID() string { return i.id }

// Subject returns the subject this identity belongs to.
func (i *Identity) Subject() Subject { return i.subject }
