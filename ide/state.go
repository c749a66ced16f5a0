// Package ide holds the editor state of one IDE session and drives run cycles
// against the remote execution service.
//
// State is owned by a Store and only changes through Dispatch, so the state
// machine can be exercised without any front end attached.
package ide

import (
	"fmt"
	"maps"
	"strconv"

	"github.com/criyle/go-rtide/language"
)

// Phase is the run state of a session
type Phase int

// Phases of a run cycle. Completed and Failed are resting states like Idle.
const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseCompleted
	PhaseFailed
)

var phaseNames = [...]string{"idle", "running", "completed", "failed"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// MarshalJSON encodes the phase as its name
func (p Phase) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(p.String())), nil
}

// UnmarshalJSON decodes a phase name
func (p *Phase) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return err
	}
	for i, n := range phaseNames {
		if n == s {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("invalid phase %q", s)
}

// SourceBundle holds the source text of every language. All languages keep
// their text regardless of which one is active.
type SourceBundle map[language.Name]string

// NewSourceBundle creates a bundle filled with the starter templates of t,
// or empty texts when t is nil
func NewSourceBundle(t *language.Table) SourceBundle {
	b := make(SourceBundle, len(language.Names()))
	for _, n := range language.Names() {
		b[n] = ""
		if t != nil {
			if s, ok := t.Lookup(n); ok {
				b[n] = s.Template
			}
		}
	}
	return b
}

// Status is the execution status reported by the service
type Status struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// Result is a decoded execution result
type Result struct {
	Stdout        string   `json:"stdout"`
	Stderr        string   `json:"stderr"`
	CompileOutput string   `json:"compileOutput"`
	Message       string   `json:"message"`
	Status        Status   `json:"status"`
	Time          *float64 `json:"time"`   // seconds
	Memory        *float64 `json:"memory"` // KB
	ExitCode      *int     `json:"exitCode,omitempty"`
	Token         string   `json:"token,omitempty"`
}

// Summary formats the status line shown under the editor, e.g.
// "Accepted, 0.012s, 3264KB". Missing metrics are shown as "-".
func (r *Result) Summary() string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("%s, %ss, %sKB", r.Status.Description, optional(r.Time), optional(r.Memory))
}

func optional(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func (r *Result) clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	if r.Time != nil {
		t := *r.Time
		c.Time = &t
	}
	if r.Memory != nil {
		m := *r.Memory
		c.Memory = &m
	}
	if r.ExitCode != nil {
		e := *r.ExitCode
		c.ExitCode = &e
	}
	return &c
}

// State is a snapshot of one IDE session
type State struct {
	Language language.Name `json:"language"`
	Sources  SourceBundle  `json:"sources"`
	Stdin    string        `json:"stdin"`

	Running bool    `json:"running"`
	Phase   Phase   `json:"phase"`
	RunID   string  `json:"runId,omitempty"`
	Result  *Result `json:"result"`
	Notice  string  `json:"notice,omitempty"` // service error shown to the user

	// Version increases with every accepted event
	Version uint64 `json:"version"`
}

// NewState creates the initial state: C++ active, every language holding its
// starter template
func NewState(t *language.Table) State {
	return State{
		Language: language.Cpp,
		Sources:  NewSourceBundle(t),
		Phase:    PhaseIdle,
	}
}

// Source returns the source text of the active language
func (s *State) Source() string {
	return s.Sources[s.Language]
}

func (s State) clone() State {
	s.Sources = maps.Clone(s.Sources)
	s.Result = s.Result.clone()
	return s
}
