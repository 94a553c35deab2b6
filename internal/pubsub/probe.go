package pubsub

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zjrosen/observ/internal/log"
)

// ActivityType categorizes what an Observable just did.
type ActivityType string

const (
	ActivitySubscribe   ActivityType = "subscribe"
	ActivityUnsubscribe ActivityType = "unsubscribe"
	ActivityEmit        ActivityType = "emit"
	ActivitySweep       ActivityType = "sweep"
)

// Activity describes one operation on an Observable. It carries execution
// metadata, not the emitted arguments.
type Activity struct {
	Type      ActivityType
	Timestamp time.Time
	Source    string // Observable ID
	Event     string // AllEvents for an unfiltered Off
	Callback  string // subscribe/unsubscribe only
	Weak      bool   // subscribe only

	// Emit: number of callbacks invoked. Sweep: number of dead weak refs removed.
	Callbacks int
	Failures  int
	Duration  time.Duration
	Err       error
}

// Probe receives Activity from Observables. Implementations must not block
// for long and must not call back into the Observable that reported.
type Probe interface {
	OnActivity(ctx context.Context, a Activity)
}

// NoopProbe discards all activity.
type NoopProbe struct{}

func (NoopProbe) OnActivity(context.Context, Activity) {}

// MultiProbe forwards activity to several probes in order.
type MultiProbe struct {
	probes []Probe
}

// NewMultiProbe creates a MultiProbe. Nil probes are dropped.
func NewMultiProbe(probes ...Probe) *MultiProbe {
	filtered := make([]Probe, 0, len(probes))
	for _, p := range probes {
		if p != nil {
			filtered = append(filtered, p)
		}
	}
	return &MultiProbe{probes: filtered}
}

func (m *MultiProbe) OnActivity(ctx context.Context, a Activity) {
	for _, p := range m.probes {
		p.OnActivity(ctx, a)
	}
}

// LogProbe writes activity to the category logger.
type LogProbe struct{}

func (LogProbe) OnActivity(_ context.Context, a Activity) {
	switch a.Type {
	case ActivityEmit:
		if a.Err != nil {
			log.ErrorErr(log.CatObservable, "emit failed", a.Err,
				"source", a.Source, "event", a.Event, "callbacks", a.Callbacks,
				"failures", a.Failures, "duration", a.Duration)
			return
		}
		log.Debug(log.CatObservable, "emit",
			"source", a.Source, "event", a.Event, "callbacks", a.Callbacks, "duration", a.Duration)
	case ActivitySweep:
		log.Debug(log.CatObservable, "swept dead weak callbacks",
			"source", a.Source, "event", a.Event, "removed", a.Callbacks)
	default:
		log.Debug(log.CatObservable, string(a.Type),
			"source", a.Source, "event", a.Event, "callback", a.Callback, "weak", a.Weak)
	}
}

var (
	probes = map[string]Probe{
		"noop": NoopProbe{},
		"log":  LogProbe{},
	}
	probesMu sync.RWMutex
)

// RegisterProbe makes p selectable by name from configuration.
func RegisterProbe(name string, p Probe) {
	probesMu.Lock()
	defer probesMu.Unlock()
	probes[name] = p
}

// GetProbe returns the probe registered under name.
func GetProbe(name string) (Probe, error) {
	probesMu.RLock()
	defer probesMu.RUnlock()

	p, ok := probes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProbe, name)
	}
	return p, nil
}

// ProbeNames lists registered probe names, sorted.
func ProbeNames() []string {
	probesMu.RLock()
	defer probesMu.RUnlock()

	names := make([]string, 0, len(probes))
	for name := range probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveProbes looks up every name and combines the results.
func ResolveProbes(names []string) (Probe, error) {
	resolved := make([]Probe, 0, len(names))
	for _, name := range names {
		p, err := GetProbe(name)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, p)
	}
	switch len(resolved) {
	case 0:
		return NoopProbe{}, nil
	case 1:
		return resolved[0], nil
	default:
		return NewMultiProbe(resolved...), nil
	}
}
