// Package scenario loads scripted pubsub sessions from YAML and replays them
// against real Observables and Observers, producing a deterministic
// transcript that can be compared with an expected one.
package scenario

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/observ/internal/pubsub"
)

// Step operations.
const (
	OpOn     = "on"
	OpOff    = "off"
	OpListen = "listen"
	OpStop   = "stop"
	OpEmit   = "emit"
	OpDrop   = "drop"
)

// Handler actions.
const (
	ActionRecord = "record"
	ActionFail   = "fail"
	ActionPanic  = "panic"
	ActionSleep  = "sleep"
)

// Scenario is a named script of pubsub operations.
type Scenario struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	ErrorPolicy string        `yaml:"error_policy"` // overrides the configured policy when set
	Observables []string      `yaml:"observables"`
	Observers   []string      `yaml:"observers"`
	Handlers    []HandlerSpec `yaml:"handlers"`
	Steps       []Step        `yaml:"steps"`
	Expect      string        `yaml:"expect"`

	// Path is the file the scenario was loaded from, if any.
	Path string `yaml:"-"`
}

// HandlerSpec describes a named callback.
type HandlerSpec struct {
	Name    string        `yaml:"name"`
	Action  string        `yaml:"action"`  // record (default), fail, panic or sleep
	Message string        `yaml:"message"` // error or panic text
	Sleep   time.Duration `yaml:"sleep"`
	// Weak handlers are methods of an owner object held only by the runner.
	// The drop step releases the owner.
	Weak bool `yaml:"weak"`
}

// Step is one operation. Which fields apply depends on Op.
type Step struct {
	Op         string         `yaml:"op"`
	Observable string         `yaml:"observable"`
	Observer   string         `yaml:"observer"`
	Event      string         `yaml:"event"`
	Handler    string         `yaml:"handler"`
	Args       []any          `yaml:"args"`
	Kwargs     map[string]any `yaml:"kwargs"`
}

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	sc.Path = path
	return sc, nil
}

// Parse decodes and validates a scenario. Unknown fields are rejected.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Handler returns the spec for name.
func (s *Scenario) Handler(name string) (HandlerSpec, bool) {
	for _, h := range s.Handlers {
		if h.Name == name {
			return h, true
		}
	}
	return HandlerSpec{}, false
}

// Validate checks names and step shapes.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario missing required field: name")
	}
	if s.ErrorPolicy != "" {
		if _, err := pubsub.ParseErrorPolicy(s.ErrorPolicy); err != nil {
			return err
		}
	}

	observables, err := nameSet("observable", s.Observables)
	if err != nil {
		return err
	}
	observers, err := nameSet("observer", s.Observers)
	if err != nil {
		return err
	}
	handlers := make(map[string]struct{}, len(s.Handlers))
	for i, h := range s.Handlers {
		if h.Name == "" {
			return fmt.Errorf("handlers[%d]: name is required", i)
		}
		if _, dup := handlers[h.Name]; dup {
			return fmt.Errorf("handlers[%d]: duplicate handler %q", i, h.Name)
		}
		switch h.Action {
		case "", ActionRecord, ActionFail, ActionPanic, ActionSleep:
		default:
			return fmt.Errorf("handler %q: unknown action %q", h.Name, h.Action)
		}
		handlers[h.Name] = struct{}{}
	}

	known := func(set map[string]struct{}, kind, name string) error {
		if _, ok := set[name]; !ok {
			return fmt.Errorf("unknown %s %q", kind, name)
		}
		return nil
	}

	for i, st := range s.Steps {
		err := func() error {
			switch st.Op {
			case OpOn, OpEmit, OpOff:
				if err := known(observables, "observable", st.Observable); err != nil {
					return err
				}
				if st.Op == OpOn && (st.Event == "" || st.Handler == "") {
					return fmt.Errorf("on needs event and handler")
				}
				if st.Op == OpEmit && st.Event == "" {
					return fmt.Errorf("emit needs event")
				}
				if st.Op == OpOff && st.Handler != "" && st.Event == "" {
					return fmt.Errorf("off with a handler needs event")
				}
			case OpListen:
				if err := known(observers, "observer", st.Observer); err != nil {
					return err
				}
				if err := known(observables, "observable", st.Observable); err != nil {
					return err
				}
				if st.Event == "" || st.Handler == "" {
					return fmt.Errorf("listen needs event and handler")
				}
			case OpStop:
				if err := known(observers, "observer", st.Observer); err != nil {
					return err
				}
				if st.Observable == "" {
					if st.Event != "" || st.Handler != "" {
						return fmt.Errorf("stop without observable cannot filter by event or handler")
					}
					return nil
				}
				if err := known(observables, "observable", st.Observable); err != nil {
					return err
				}
				if st.Handler != "" && st.Event == "" {
					return fmt.Errorf("stop with a handler needs event")
				}
			case OpDrop:
				h, ok := s.Handler(st.Handler)
				if !ok {
					return fmt.Errorf("unknown handler %q", st.Handler)
				}
				if !h.Weak {
					return fmt.Errorf("drop needs a weak handler, %q is strong", st.Handler)
				}
				return nil
			default:
				return fmt.Errorf("unknown op %q", st.Op)
			}
			if st.Handler != "" {
				return known(handlers, "handler", st.Handler)
			}
			return nil
		}()
		if err != nil {
			return fmt.Errorf("steps[%d] (%s): %w", i, st.Op, err)
		}
	}
	return nil
}

// ExpectedTranscript returns Expect with trailing whitespace normalized.
func (s *Scenario) ExpectedTranscript() string {
	return normalize(s.Expect)
}

func nameSet(kind string, names []string) (map[string]struct{}, error) {
	set := make(map[string]struct{}, len(names))
	for i, n := range names {
		if n == "" {
			return nil, fmt.Errorf("%ss[%d]: name is required", kind, i)
		}
		if _, dup := set[n]; dup {
			return nil, fmt.Errorf("duplicate %s %q", kind, n)
		}
		set[n] = struct{}{}
	}
	return set, nil
}

// normalize trims trailing spaces from every line and trailing blank lines.
func normalize(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
