package pubsub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zjrosen/observ/internal/log"
)

// DefaultStreamBuffer is the channel capacity used when Stream gets size <= 0.
const DefaultStreamBuffer = 64

// Stream bridges a Subject to a channel: every Event emitted for name is
// forwarded to the returned channel.
//
// Sends never block the emitting goroutine; when the buffer is full the
// event is dropped. When ctx ends the handler is unsubscribed and then the
// channel is closed. A callback left running by a FailFast Emit may still
// fire after Off returns; sends after close are discarded.
func Stream(ctx context.Context, subject Subject, name string, size int) <-chan Event {
	if size <= 0 {
		size = DefaultStreamBuffer
	}
	ch := make(chan Event, size)

	var (
		mu      sync.Mutex
		closed  bool
		dropped atomic.Int64
	)
	h := NewHandler("stream:"+name, func(_ context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			dropped.Add(1)
			return nil
		}
		select {
		case ch <- e:
		default:
			// Channel full - drop to keep Emit from blocking
			dropped.Add(1)
		}
		return nil
	})
	subject.On(name, h)

	log.SafeGo(fmt.Sprintf("stream[%s:%s]", subject.Identity().ID(), name), func() {
		<-ctx.Done()
		if err := subject.Off(context.Background(), name, h); err != nil {
			log.ErrorErr(log.CatStream, "unsubscribe failed", err, "event", name)
		}
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
		log.Debug(log.CatStream, "stream closed", "event", name, "dropped", dropped.Load())
	})

	return ch
}
