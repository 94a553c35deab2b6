package pubsub

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// widget is a callback owner. It carries pointers so it is never a tiny
// allocation, which weak pointers do not track precisely.
type widget struct {
	name  string
	pings *atomic.Int32
	last  *Event
}

func newWidget(name string, pings *atomic.Int32) *widget {
	return &widget{name: name, pings: pings}
}

var widgetPing = NewMethod("Ping", func(w *widget, _ context.Context, e Event) error {
	if w.pings != nil {
		w.pings.Add(1)
	}
	w.last = &e
	return nil
})

var widgetOther = NewMethod("Other", func(*widget, context.Context, Event) error { return nil })

// gcUntil runs the collector until cond holds or gives up.
func gcUntil(t *testing.T, cond func() bool) {
	t.Helper()
	for i := 0; i < 20 && !cond(); i++ {
		runtime.GC()
	}
	require.True(t, cond(), "condition not reached after repeated GC")
}

// subscribeWeakWidget registers a weak callback whose owner is only reachable
// from inside this function.
func subscribeWeakWidget(obs *Observable, event string, pings *atomic.Int32) Callback {
	w := newWidget("ephemeral", pings)
	cb := WeakMethod(w, widgetPing)
	obs.On(event, cb)
	return cb
}

func TestHandler_Identity(t *testing.T) {
	fn := func(context.Context, Event) error { return nil }
	a := NewHandler("a", fn)
	b := NewHandler("a", fn)

	require.False(t, Callback(a) == Callback(b), "handlers compare by pointer")
	require.True(t, Callback(a) == Callback(a))
	require.Equal(t, "a", a.String())
	require.False(t, a.Weak())
	require.True(t, a.Alive())
}

func TestStrongMethod_EqualForSameOwnerAndMethod(t *testing.T) {
	w := newWidget("w", nil)

	require.True(t, StrongMethod(w, widgetPing) == StrongMethod(w, widgetPing))
	require.False(t, StrongMethod(w, widgetPing) == StrongMethod(w, widgetOther))
	require.False(t, StrongMethod(w, widgetPing) == StrongMethod(newWidget("v", nil), widgetPing))
	require.Contains(t, StrongMethod(w, widgetPing).String(), "Ping")
}

func TestStrongMethod_Dispatch(t *testing.T) {
	obs := New()
	var pings atomic.Int32
	w := newWidget("w", &pings)

	obs.On("ping", StrongMethod(w, widgetPing))
	obs.On("ping", StrongMethod(w, widgetPing))

	require.NoError(t, obs.Emit(context.Background(), "ping", "hello"))
	require.Equal(t, int32(1), pings.Load())
	require.Equal(t, []any{"hello"}, w.last.Args)

	require.NoError(t, obs.Off(context.Background(), "ping", StrongMethod(w, widgetPing)))
	require.NoError(t, obs.Emit(context.Background(), "ping"))
	require.Equal(t, int32(1), pings.Load(), "an equal StrongMethod value unsubscribes")
}

func TestWeakMethod_EqualForSameOwnerAndMethod(t *testing.T) {
	w := newWidget("w", nil)

	require.True(t, WeakMethod(w, widgetPing) == WeakMethod(w, widgetPing))
	require.False(t, WeakMethod(w, widgetPing) == WeakMethod(w, widgetOther))
	require.False(t, WeakMethod(w, widgetPing) == StrongMethod(w, widgetPing))
	require.True(t, WeakMethod(w, widgetPing).Weak())
	require.True(t, WeakMethod(w, widgetPing).Alive())
	require.Contains(t, WeakMethod(w, widgetPing).String(), "weak(")
	runtime.KeepAlive(w)
}

func TestWeakMethod_DispatchWhileOwnerAlive(t *testing.T) {
	obs := New()
	var pings atomic.Int32
	w := newWidget("w", &pings)

	obs.On("ping", WeakMethod(w, widgetPing))
	obs.On("ping", WeakMethod(w, widgetPing))

	_, weak := obs.Count("ping")
	require.Equal(t, 1, weak)

	require.NoError(t, obs.Emit(context.Background(), "ping"))
	require.Equal(t, int32(1), pings.Load())
	runtime.KeepAlive(w)
}

func TestWeakMethod_DoesNotKeepOwnerAlive(t *testing.T) {
	obs := New()
	var pings atomic.Int32
	cb := subscribeWeakWidget(obs, "ping", &pings)

	gcUntil(t, func() bool { return !cb.Alive() })

	require.NoError(t, obs.Emit(context.Background(), "ping"))
	require.Equal(t, int32(0), pings.Load(), "a collected owner is never invoked")

	_, weak := obs.Count("ping")
	require.Equal(t, 0, weak, "Emit sweeps dead weak callbacks")
}

func TestWeakMethod_SweptOnWeakOn(t *testing.T) {
	obs := New()
	var pings atomic.Int32
	dead := subscribeWeakWidget(obs, "ping", &pings)
	gcUntil(t, func() bool { return !dead.Alive() })

	alive := newWidget("alive", &pings)
	obs.On("ping", WeakMethod(alive, widgetPing))

	_, weak := obs.Count("ping")
	require.Equal(t, 1, weak, "registering a weak callback sweeps dead ones first")
	runtime.KeepAlive(alive)
}

func TestWeakMethod_StrongTakesPrecedence(t *testing.T) {
	obs := New()
	var weakPings atomic.Int32
	w := newWidget("w", &weakPings)
	r := &recorder{}

	obs.On("x", WeakMethod(w, widgetPing))
	obs.On("x", r.handler("strong"))

	require.NoError(t, obs.Emit(context.Background(), "x"))
	require.Equal(t, 1, r.count())
	require.Equal(t, int32(0), weakPings.Load(), "weak set is used only when the strong set is empty")

	require.NoError(t, obs.Off(context.Background(), "x", nil))
	require.NoError(t, obs.Emit(context.Background(), "x"))
	require.Equal(t, int32(1), weakPings.Load())
	runtime.KeepAlive(w)
}

func TestWeakMethod_OffRemovesByValue(t *testing.T) {
	obs := New()
	var pings atomic.Int32
	w := newWidget("w", &pings)

	obs.On("x", WeakMethod(w, widgetPing))
	require.NoError(t, obs.Off(context.Background(), "x", WeakMethod(w, widgetPing)))

	require.NoError(t, obs.Emit(context.Background(), "x"))
	require.Equal(t, int32(0), pings.Load())
	runtime.KeepAlive(w)
}

func TestWeakMethod_OffEventLeavesWeak(t *testing.T) {
	obs := New()
	var pings atomic.Int32
	w := newWidget("w", &pings)
	obs.On("x", WeakMethod(w, widgetPing))

	// Off(name, nil) clears strong subscriptions only
	require.NoError(t, obs.Off(context.Background(), "x", nil))
	require.NoError(t, obs.Emit(context.Background(), "x"))
	require.Equal(t, int32(1), pings.Load())
	runtime.KeepAlive(w)
}

func TestMethodCallbacks_NilMethodIsHarmless(t *testing.T) {
	obs := New()
	w := newWidget("w", nil)

	strong := StrongMethod[widget](w, nil)
	weak := WeakMethod[widget](w, nil)
	require.NotPanics(t, func() {
		obs.On("x", strong)
		obs.On("x", weak)
	})
	require.Contains(t, strong.String(), "<nil>")
	require.Contains(t, weak.String(), "<nil>")

	// Neither resolves, so nothing is invoked.
	require.NoError(t, obs.Emit(context.Background(), "x"))
	runtime.KeepAlive(w)
}
