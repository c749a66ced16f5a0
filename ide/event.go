package ide

import (
	"errors"
	"fmt"

	"github.com/criyle/go-rtide/language"
)

var (
	// ErrStaleRun is returned when a terminal event belongs to a run that is
	// not the latest one
	ErrStaleRun = errors.New("run is not the latest run")

	// ErrEmptyRunID is returned for run events without id
	ErrEmptyRunID = errors.New("empty run id")
)

// Event changes the state of a Store
type Event interface {
	apply(*State) error
}

// SelectLanguage makes Language the active language
type SelectLanguage struct {
	Language language.Name
}

// EditSource replaces the source text of Language, or of the active language
// when Language is empty
type EditSource struct {
	Language language.Name
	Text     string
}

// EditStdin replaces the standard input text
type EditStdin struct {
	Text string
}

// RunStarted begins a run cycle and clears the previous result
type RunStarted struct {
	RunID string
}

// RunCompleted stores the decoded result of a run
type RunCompleted struct {
	RunID  string
	Result *Result
}

// RunRejected ends a run refused by the service
type RunRejected struct {
	RunID   string
	Message string
}

// RunFailed ends a run that did not get a response
type RunFailed struct {
	RunID string
	Err   error
}

func (e SelectLanguage) apply(s *State) error {
	if !e.Language.Valid() {
		return fmt.Errorf("%w: %q", language.ErrUnknown, e.Language)
	}
	s.Language = e.Language
	return nil
}

func (e EditSource) apply(s *State) error {
	l := e.Language
	if l == "" {
		l = s.Language
	}
	if !l.Valid() {
		return fmt.Errorf("%w: %q", language.ErrUnknown, l)
	}
	s.Sources[l] = e.Text
	return nil
}

func (e EditStdin) apply(s *State) error {
	s.Stdin = e.Text
	return nil
}

func (e RunStarted) apply(s *State) error {
	if e.RunID == "" {
		return ErrEmptyRunID
	}
	s.RunID = e.RunID
	s.Running = true
	s.Phase = PhaseRunning
	s.Result = nil
	s.Notice = ""
	return nil
}

func (e RunCompleted) apply(s *State) error {
	if err := checkLatest(s, e.RunID); err != nil {
		return err
	}
	s.Running = false
	s.Phase = PhaseCompleted
	s.Result = e.Result.clone()
	return nil
}

func (e RunRejected) apply(s *State) error {
	if err := checkLatest(s, e.RunID); err != nil {
		return err
	}
	s.Running = false
	s.Phase = PhaseFailed
	s.Result = nil
	s.Notice = e.Message
	return nil
}

func (e RunFailed) apply(s *State) error {
	if err := checkLatest(s, e.RunID); err != nil {
		return err
	}
	s.Running = false
	s.Phase = PhaseFailed
	s.Result = nil
	return nil
}

func checkLatest(s *State, runID string) error {
	if runID == "" {
		return ErrEmptyRunID
	}
	if runID != s.RunID || !s.Running {
		return fmt.Errorf("%w: %s", ErrStaleRun, runID)
	}
	return nil
}
