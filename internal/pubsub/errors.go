package pubsub

import (
	"errors"
	"fmt"
)

var (
	// ErrCallbackPanic is wrapped by the error reported for a callback that panicked.
	ErrCallbackPanic = errors.New("callback panicked")

	// ErrUnknownProbe is returned by GetProbe for unregistered names.
	ErrUnknownProbe = errors.New("unknown probe")
)

// CallbackError reports the failure of one callback during Emit.
type CallbackError struct {
	Event    string
	Callback string
	Err      error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback %s for event %q: %v", e.Callback, e.Event, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// ErrorPolicy decides what Emit returns when callbacks fail.
type ErrorPolicy int

const (
	// FailFast returns the first callback failure once all dispatched
	// callbacks have finished. Siblings are not cancelled.
	FailFast ErrorPolicy = iota
	// CollectAll returns every callback failure aggregated into one error.
	CollectAll
)

func (p ErrorPolicy) String() string {
	switch p {
	case FailFast:
		return "fail_fast"
	case CollectAll:
		return "collect_all"
	default:
		return "unknown"
	}
}

// ParseErrorPolicy converts a config value to an ErrorPolicy.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch s {
	case "fail_fast", "":
		return FailFast, nil
	case "collect_all":
		return CollectAll, nil
	default:
		return FailFast, fmt.Errorf("unknown error policy %q (want fail_fast or collect_all)", s)
	}
}
