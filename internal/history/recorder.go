// Package history remembers the most recent emit per Observable and event.
package history

import (
	"context"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/observ/internal/log"
	"github.com/zjrosen/observ/internal/pubsub"
)

const (
	DefaultTTL             = 10 * time.Minute
	DefaultCleanupInterval = 30 * time.Minute
)

// Entry is the last emit seen for one (source, event) pair.
type Entry struct {
	Source    string
	Event     string
	At        time.Time
	Callbacks int
	Failures  int
	Duration  time.Duration
	Err       string
}

// Recorder is a pubsub.Probe keeping one Entry per (source, event) for ttl.
type Recorder struct {
	ttl   time.Duration
	cache *gocache.Cache
}

var _ pubsub.Probe = (*Recorder)(nil)

// NewRecorder creates a Recorder. Zero durations fall back to the defaults.
func NewRecorder(ttl, cleanupInterval time.Duration) *Recorder {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	return &Recorder{
		ttl:   ttl,
		cache: gocache.New(ttl, cleanupInterval),
	}
}

// OnActivity implements pubsub.Probe. Only emits are recorded.
func (r *Recorder) OnActivity(_ context.Context, a pubsub.Activity) {
	if a.Type != pubsub.ActivityEmit {
		return
	}
	e := Entry{
		Source:    a.Source,
		Event:     a.Event,
		At:        a.Timestamp,
		Callbacks: a.Callbacks,
		Failures:  a.Failures,
		Duration:  a.Duration,
	}
	if a.Err != nil {
		e.Err = a.Err.Error()
	}
	r.cache.Set(key(a.Source, a.Event), e, r.ttl)
}

// Last returns the most recent emit of event by source.
func (r *Recorder) Last(source, event string) (Entry, bool) {
	value, found := r.cache.Get(key(source, event))
	if !found {
		return Entry{}, false
	}

	e, ok := value.(Entry)
	if !ok {
		log.Error(log.CatHistory, "wrong type assertion when getting entry", "source", source, "event", event)
		return Entry{}, false
	}
	return e, true
}

// Recent returns unexpired entries for source, newest first. An empty source
// returns entries for every source.
func (r *Recorder) Recent(source string) []Entry {
	items := r.cache.Items()
	prefix := ""
	if source != "" {
		prefix = source + sep
	}

	out := make([]Entry, 0, len(items))
	for k, item := range items {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if e, ok := item.Object.(Entry); ok {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].Event < out[j].Event
		}
		return out[i].At.After(out[j].At)
	})
	return out
}

// Len returns the number of entries, expired ones included until cleanup.
func (r *Recorder) Len() int { return r.cache.ItemCount() }

// Flush drops every entry.
func (r *Recorder) Flush() {
	r.cache.Flush()
	log.Debug(log.CatHistory, "history flushed")
}

const sep = "\x00"

func key(source, event string) string { return source + sep + event }
