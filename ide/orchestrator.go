package ide

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/criyle/go-rtide/codec"
	"github.com/criyle/go-rtide/judge0"
	"github.com/criyle/go-rtide/language"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Executor submits a program to the remote execution service
type Executor interface {
	Submit(context.Context, *judge0.Submission) (*judge0.Result, error)
}

// Notifier shows a service error to the user
type Notifier interface {
	Notify(runID, message string)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(runID, message string)

// Notify calls f
func (f NotifierFunc) Notify(runID, message string) {
	f(runID, message)
}

// Outcome of a run cycle. Err is a *judge0.ServiceError when the service
// refused the run and any other error for a transport failure.
type Outcome struct {
	RunID  string
	Result *Result
	Err    error
}

// Outcome kinds used in reports
const (
	OutcomeCompleted = "completed"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// RunReport describes a finished run cycle
type RunReport struct {
	RunID     string        `json:"runId"`
	SessionID string        `json:"sessionId,omitempty"`
	Language  language.Name `json:"language"`
	Outcome   string        `json:"outcome"`
	Status    string        `json:"status,omitempty"`
	Time      *float64      `json:"time,omitempty"`
	Memory    *float64      `json:"memory,omitempty"`
	Error     string        `json:"error,omitempty"`
	Stale     bool          `json:"stale,omitempty"`
	Duration  time.Duration `json:"duration"`
	Finished  time.Time     `json:"finished"`
}

// Config defines orchestrator configuration
type Config struct {
	Store     *Store
	Executor  Executor
	Languages *language.Table
	Notifier  Notifier
	Logger    *zap.Logger

	// SessionID is copied into reports
	SessionID string
	// RunObserver is called once per finished run cycle
	RunObserver func(RunReport)
	// NewRunID defaults to random UUIDs
	NewRunID func() string
	// Runs is shared by orchestrators that shut down together. Each
	// orchestrator gets its own group when nil.
	Runs *RunGroup
}

// Orchestrator runs the code of a Store on an Executor and writes the
// outcome back to the Store
type Orchestrator struct {
	store     *Store
	executor  Executor
	languages *language.Table
	notifier  Notifier
	logger    *zap.Logger
	sessionID string
	observer  func(RunReport)
	newRunID  func() string
	runs      *RunGroup
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(conf Config) *Orchestrator {
	o := &Orchestrator{
		store:     conf.Store,
		executor:  conf.Executor,
		languages: conf.Languages,
		notifier:  conf.Notifier,
		logger:    conf.Logger,
		sessionID: conf.SessionID,
		observer:  conf.RunObserver,
		newRunID:  conf.NewRunID,
		runs:      conf.Runs,
	}
	if o.runs == nil {
		o.runs = new(RunGroup)
	}
	if o.languages == nil {
		o.languages = language.Default()
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.newRunID == nil {
		o.newRunID = uuid.NewString
	}
	return o
}

// Store returns the state store the orchestrator writes to
func (o *Orchestrator) Store() *Store {
	return o.store
}

// Run starts a run cycle with the active source and stdin and returns its id
// and a channel receiving its single outcome.
//
// Runs cannot be cancelled: the request outlives ctx cancellation (ctx values
// are kept). Starting a run while another is outstanding is allowed; only the
// latest run updates the state.
func (o *Orchestrator) Run(ctx context.Context) (string, <-chan Outcome, error) {
	st := o.store.GetState()
	id, ok := o.languages.ServiceID(st.Language)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", language.ErrUnknown, st.Language)
	}
	sub := &judge0.Submission{
		SourceCode: codec.Encode(st.Source()),
		LanguageID: id,
		Stdin:      codec.Encode(st.Stdin),
	}

	if err := o.runs.add(); err != nil {
		return "", nil, err
	}
	runID := o.newRunID()
	if err := o.store.Dispatch(RunStarted{RunID: runID}); err != nil {
		o.runs.done()
		return "", nil, err
	}
	o.logger.Debug("run started",
		zap.String("runId", runID),
		zap.String("session", o.sessionID),
		zap.String("language", string(st.Language)),
		zap.Int("languageId", id))

	ch := make(chan Outcome, 1)
	go o.cycle(context.WithoutCancel(ctx), runID, st.Language, sub, ch)
	return runID, ch, nil
}

// RunAndWait runs a cycle and waits for its outcome
func (o *Orchestrator) RunAndWait(ctx context.Context) (Outcome, error) {
	_, ch, err := o.Run(ctx)
	if err != nil {
		return Outcome{}, err
	}
	return <-ch, nil
}

// Wait waits for the outstanding run cycles of the run group
func (o *Orchestrator) Wait() {
	o.runs.Wait()
}

func (o *Orchestrator) cycle(ctx context.Context, runID string, lang language.Name, sub *judge0.Submission, ch chan<- Outcome) {
	start := time.Now()
	out := Outcome{RunID: runID}
	var ev Event = RunFailed{RunID: runID}

	// the cycle always ends with a terminal event, even after a panic
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("run cycle panic",
				zap.String("runId", runID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			out = Outcome{RunID: runID, Err: fmt.Errorf("run cycle panic: %v", r)}
			ev = RunFailed{RunID: runID, Err: out.Err}
		}
		o.finish(ev, out, lang, time.Since(start))
		ch <- out
		close(ch)
		o.runs.done()
	}()

	res, err := o.executor.Submit(ctx, sub)
	if err == nil && res == nil {
		err = errors.New("empty response from execution service")
	}

	var se *judge0.ServiceError
	switch {
	case errors.As(err, &se):
		out.Err = se
		ev = RunRejected{RunID: runID, Message: se.Message}

	case err != nil:
		out.Err = err
		ev = RunFailed{RunID: runID, Err: err}
		o.logger.Error("run failed",
			zap.String("runId", runID),
			zap.String("session", o.sessionID),
			zap.Error(err))

	default:
		out.Result = DecodeResult(res)
		ev = RunCompleted{RunID: runID, Result: out.Result}
	}
}

func (o *Orchestrator) finish(ev Event, out Outcome, lang language.Name, d time.Duration) {
	stale := false
	if err := o.store.Dispatch(ev); err != nil {
		stale = errors.Is(err, ErrStaleRun)
		o.logger.Info("run outcome dropped",
			zap.String("runId", out.RunID),
			zap.String("session", o.sessionID),
			zap.Error(err))
	}

	var se *judge0.ServiceError
	if errors.As(out.Err, &se) && !stale && o.notifier != nil {
		o.notifier.Notify(out.RunID, se.Message)
	}

	if o.observer == nil {
		return
	}
	rp := RunReport{
		RunID:     out.RunID,
		SessionID: o.sessionID,
		Language:  lang,
		Stale:     stale,
		Duration:  d,
		Finished:  time.Now(),
	}
	switch {
	case out.Err == nil:
		rp.Outcome = OutcomeCompleted
		rp.Status = out.Result.Status.Description
		rp.Time = out.Result.Time
		rp.Memory = out.Result.Memory
	case se != nil:
		rp.Outcome = OutcomeRejected
		rp.Error = se.Message
	default:
		rp.Outcome = OutcomeFailed
		rp.Error = out.Err.Error()
	}
	o.observer(rp)
}

// DecodeResult converts a service result to a Result, decoding the transport
// text fields
func DecodeResult(r *judge0.Result) *Result {
	return &Result{
		Stdout:        codec.Decode(r.Stdout),
		Stderr:        codec.Decode(r.Stderr),
		CompileOutput: codec.Decode(r.CompileOutput),
		Message:       codec.Decode(r.Message),
		Status: Status{
			ID:          r.Status.ID,
			Description: r.Status.Description,
		},
		Time:     r.Time.Ptr(),
		Memory:   r.Memory.Ptr(),
		ExitCode: r.ExitCode,
		Token:    r.Token,
	}
}
