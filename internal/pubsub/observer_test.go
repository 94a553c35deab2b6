package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// countingSubject wraps an Observable and counts Off calls.
type countingSubject struct {
	*Observable
	mu   sync.Mutex
	offs []string
}

func newCountingSubject() *countingSubject {
	s := &countingSubject{}
	s.Observable = New()
	return s
}

func (s *countingSubject) Off(ctx context.Context, name string, cb Callback) error {
	s.mu.Lock()
	s.offs = append(s.offs, name)
	s.mu.Unlock()
	return s.Observable.Off(ctx, name, cb)
}

func (s *countingSubject) offCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.offs)
}

func TestObserver_ListenToSubscribes(t *testing.T) {
	obs := New()
	o := NewObserver()
	r := &recorder{}
	h := r.handler("r")

	o.ListenTo(obs, "saved", h)

	require.True(t, obs.Has("saved", h))
	require.Equal(t, 1, o.Tracked(obs))
	require.Equal(t, 1, o.Subjects())

	require.NoError(t, obs.Emit(context.Background(), "saved", "x"))
	require.Equal(t, 1, r.count())
}

func TestObserver_ListenToTwiceTracksOnce(t *testing.T) {
	obs := New()
	o := NewObserver()
	h := (&recorder{}).handler("r")

	o.ListenTo(obs, "saved", h)
	o.ListenTo(obs, "saved", h)

	require.Equal(t, 1, o.Tracked(obs))
	strong, _ := obs.Count("saved")
	require.Equal(t, 1, strong)
}

func TestObserver_ListenToIgnoresNil(t *testing.T) {
	o := NewObserver()
	o.ListenTo(nil, "saved", Func(func(context.Context, Event) error { return nil }))
	o.ListenTo(New(), "saved", nil)
	require.Equal(t, 0, o.Subjects())
}

func TestObserver_StopListeningOneCallback(t *testing.T) {
	obs := New()
	o := NewObserver()
	keep, drop := &recorder{}, &recorder{}
	hKeep, hDrop := keep.handler("keep"), drop.handler("drop")

	o.ListenTo(obs, "saved", hKeep)
	o.ListenTo(obs, "saved", hDrop)

	require.NoError(t, o.StopListening(context.Background(), obs, "saved", hDrop))

	require.Equal(t, 1, o.Tracked(obs))
	require.True(t, obs.Has("saved", hKeep))
	require.False(t, obs.Has("saved", hDrop))
}

func TestObserver_StopListeningEvent(t *testing.T) {
	obs := New()
	o := NewObserver()
	r := &recorder{}

	o.ListenTo(obs, "saved", r.handler("a"))
	o.ListenTo(obs, "saved", r.handler("b"))
	o.ListenTo(obs, "deleted", r.handler("c"))

	require.NoError(t, o.StopListening(context.Background(), obs, "saved", nil))

	require.Equal(t, 1, o.Tracked(obs))
	require.Equal(t, []string{"deleted"}, obs.Events())
}

func TestObserver_StopListeningSubject(t *testing.T) {
	a, b := New(), New()
	o := NewObserver()
	r := &recorder{}

	o.ListenTo(a, "saved", r.handler("a1"))
	o.ListenTo(a, "deleted", r.handler("a2"))
	o.ListenTo(b, "saved", r.handler("b1"))

	require.NoError(t, o.StopListening(context.Background(), a, AllEvents, nil))

	require.Empty(t, a.Events())
	require.Equal(t, []string{"saved"}, b.Events())
	require.Equal(t, 0, o.Tracked(a))
	require.Equal(t, 1, o.Subjects())
}

func TestObserver_StopListeningEverything(t *testing.T) {
	subjects := []*Observable{New(), New(), New()}
	o := NewObserver()
	r := &recorder{}

	for i, s := range subjects {
		o.ListenTo(s, "saved", r.handler("saved"))
		o.ListenTo(s, "deleted", r.handler("deleted"))
		if i == 0 {
			o.ListenTo(s, "moved", r.handler("moved"))
		}
	}

	require.NoError(t, o.StopListening(context.Background(), nil, AllEvents, nil))

	for i, s := range subjects {
		require.Empty(t, s.Events(), "subject %d", i)
		require.NoError(t, s.Emit(context.Background(), "saved"))
	}
	require.Equal(t, 0, r.count())
	require.Equal(t, 0, o.Subjects())
}

func TestObserver_StopListeningLeavesForeignSubscriptions(t *testing.T) {
	obs := New()
	o := NewObserver()
	mine, theirs := &recorder{}, &recorder{}

	o.ListenTo(obs, "saved", mine.handler("mine"))
	obs.On("saved", theirs.handler("theirs"))

	require.NoError(t, o.StopListening(context.Background(), obs, "saved", nil))
	require.NoError(t, obs.Emit(context.Background(), "saved"))

	require.Equal(t, 0, mine.count())
	require.Equal(t, 1, theirs.count())
}

func TestObserver_StopListeningNothingTrackedMakesNoOffCalls(t *testing.T) {
	s := newCountingSubject()
	o := NewObserver()
	h := (&recorder{}).handler("r")
	ctx := context.Background()

	require.NoError(t, o.StopListening(ctx, s, AllEvents, nil))
	require.NoError(t, o.StopListening(ctx, s, "saved", nil))
	require.NoError(t, o.StopListening(ctx, s, "saved", h))
	require.NoError(t, o.StopListening(ctx, nil, AllEvents, nil))
	require.Equal(t, 0, s.offCalls())

	o.ListenTo(s, "saved", h)
	require.NoError(t, o.StopListening(ctx, s, "deleted", nil))
	require.Equal(t, 0, s.offCalls(), "an event this observer never listened to")

	require.NoError(t, o.StopListening(ctx, s, "saved", nil))
	require.Equal(t, 1, s.offCalls())
}

func TestObserver_StopListeningWaitsForEmit(t *testing.T) {
	obs := New()
	o := NewObserver()
	release := make(chan struct{})
	entered := make(chan struct{})

	o.ListenTo(obs, "block", Func(func(context.Context, Event) error {
		close(entered)
		<-release
		return nil
	}))
	go func() { _ = obs.Emit(context.Background(), "block") }()
	<-entered

	done := make(chan error, 1)
	go func() { done <- o.StopListening(context.Background(), obs, AllEvents, nil) }()

	select {
	case <-done:
		require.Fail(t, "StopListening returned while Emit held the lock")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-done)
	require.Empty(t, obs.Events())
}

func TestObserver_StopListeningReturnsOffError(t *testing.T) {
	obs := New()
	o := NewObserver()
	release := make(chan struct{})
	entered := make(chan struct{})
	defer close(release)

	o.ListenTo(obs, "block", Func(func(context.Context, Event) error {
		close(entered)
		<-release
		return nil
	}))
	go func() { _ = obs.Emit(context.Background(), "block") }()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := o.StopListening(ctx, obs, AllEvents, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, o.Tracked(obs), "a subscription whose Off failed is still tracked")
	require.Equal(t, []string{"block"}, obs.Events())
}

func TestObserver_StopListeningRetriesAfterOffError(t *testing.T) {
	obs := New()
	o := NewObserver()
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32

	o.ListenTo(obs, "block", Func(func(context.Context, Event) error {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return nil
	}))
	emitted := make(chan struct{})
	go func() {
		_ = obs.Emit(context.Background(), "block")
		close(emitted)
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, o.StopListening(ctx, obs, "block", nil), context.DeadlineExceeded)

	close(release)
	<-emitted

	require.NoError(t, o.StopListening(context.Background(), obs, "block", nil))
	require.Equal(t, 0, o.Tracked(obs))
	require.Empty(t, obs.Events())

	require.NoError(t, obs.Emit(context.Background(), "block"))
	require.Equal(t, int32(1), calls.Load())
}

func TestObserver_Close(t *testing.T) {
	a, b := New(), New()
	o := NewObserver(WithID("closer"))
	o.ListenTo(a, "x", (&recorder{}).handler("a"))
	o.ListenTo(b, "y", (&recorder{}).handler("b"))

	require.Equal(t, "closer", o.ID())
	require.NoError(t, o.Close(context.Background()))
	require.Empty(t, a.Events())
	require.Empty(t, b.Events())
	require.Equal(t, 0, o.Subjects())
}

// listenToEphemeral subscribes o to an Observable nothing else references.
func listenToEphemeral(o *Observer) {
	obs := New()
	o.ListenTo(obs, "saved", Func(func(context.Context, Event) error { return nil }))
}

func TestObserver_DoesNotKeepSubjectAlive(t *testing.T) {
	o := NewObserver()
	kept := New()
	o.ListenTo(kept, "saved", (&recorder{}).handler("kept"))

	listenToEphemeral(o)
	listenToEphemeral(o)

	gcUntil(t, func() bool { return o.Subjects() == 1 })
	require.Equal(t, 1, o.Tracked(kept))

	require.NoError(t, o.Close(context.Background()))
	require.Empty(t, kept.Events())
}

func TestObserver_ListenToIgnoresEmptyEventName(t *testing.T) {
	obs := New()
	o := NewObserver()

	o.ListenTo(obs, AllEvents, (&recorder{}).handler("r"))

	require.Equal(t, 0, o.Subjects())
	require.Empty(t, obs.Events())
}
