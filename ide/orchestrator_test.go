package ide

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/criyle/go-rtide/codec"
	"github.com/criyle/go-rtide/judge0"
	"github.com/criyle/go-rtide/language"
	"go.uber.org/zap/zaptest"
)

type fakeExecutor struct {
	submit func(context.Context, *judge0.Submission) (*judge0.Result, error)
}

func (f *fakeExecutor) Submit(ctx context.Context, s *judge0.Submission) (*judge0.Result, error) {
	return f.submit(ctx, s)
}

type recorder struct {
	mu       sync.Mutex
	notices  []string
	reports  []RunReport
	sequence int
}

func (r *recorder) Notify(_, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, message)
}

func (r *recorder) observe(rp RunReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rp)
}

func (r *recorder) nextID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequence++
	return fmt.Sprintf("run-%d", r.sequence)
}

func newTestOrchestrator(t *testing.T, exec Executor) (*Orchestrator, *recorder) {
	t.Helper()
	rec := &recorder{}
	o := NewOrchestrator(Config{
		Store:       NewStore(NewState(language.Default())),
		Executor:    exec,
		Languages:   language.Default(),
		Notifier:    rec,
		Logger:      zaptest.NewLogger(t),
		SessionID:   "s1",
		RunObserver: rec.observe,
		NewRunID:    rec.nextID,
	})
	return o, rec
}

// checkRunning asserts the state seen while the request is outstanding
func checkRunning(t *testing.T, s *Store) {
	t.Helper()
	st := s.GetState()
	if !st.Running || st.Phase != PhaseRunning || st.Result != nil {
		t.Errorf("unexpected state during run: running=%v phase=%s result=%+v", st.Running, st.Phase, st.Result)
	}
}

func TestRunPythonSum(t *testing.T) {
	const src = "a,b,c = map(int, input().split())\nprint(\"sum is\",a+b+c)"
	var o *Orchestrator
	exec := &fakeExecutor{submit: func(_ context.Context, s *judge0.Submission) (*judge0.Result, error) {
		checkRunning(t, o.Store())
		if s.LanguageID != 71 {
			t.Errorf("language id %d", s.LanguageID)
		}
		if codec.Decode(s.SourceCode) != src || codec.Decode(s.Stdin) != "1 2 3" {
			t.Errorf("unexpected submission %+v", s)
		}
		if s.CompilerOptions != "" || s.CommandLineArguments != "" || s.RedirectStderrToStdout {
			t.Errorf("unexpected options %+v", s)
		}
		return &judge0.Result{
			Stdout: codec.Encode("sum is 6\n"),
			Status: judge0.Status{ID: 3, Description: "Accepted"},
			Time:   judge0.NewNumber(0.02),
			Memory: judge0.NewNumber(3300),
		}, nil
	}}
	o, rec := newTestOrchestrator(t, exec)
	s := o.Store()
	mustDispatch(t, s, SelectLanguage{Language: language.Python})
	mustDispatch(t, s, EditSource{Text: src})
	mustDispatch(t, s, EditStdin{Text: "1 2 3"})

	out, err := o.RunAndWait(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Err != nil || out.Result == nil || out.Result.Stdout != "sum is 6\n" {
		t.Fatalf("unexpected outcome %+v", out)
	}

	st := s.GetState()
	if st.Running || st.Phase != PhaseCompleted || st.Result == nil || st.Result.Stdout != "sum is 6\n" {
		t.Fatalf("unexpected state %+v", st)
	}
	if st.Result.Summary() != "Accepted, 0.02s, 3300KB" {
		t.Errorf("summary %q", st.Result.Summary())
	}
	if len(rec.notices) != 0 {
		t.Errorf("unexpected notices %v", rec.notices)
	}
	if len(rec.reports) != 1 || rec.reports[0].Outcome != OutcomeCompleted || rec.reports[0].Language != language.Python ||
		rec.reports[0].SessionID != "s1" || rec.reports[0].Status != "Accepted" {
		t.Errorf("unexpected reports %+v", rec.reports)
	}
}

func TestRunDecodesAllTextFields(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeExecutor{submit: func(context.Context, *judge0.Submission) (*judge0.Result, error) {
		return &judge0.Result{
			Stderr:        codec.Encode("Traceback ✗"),
			CompileOutput: codec.Encode("main.cpp:1: error"),
			Message:       codec.Encode("Exited with error status 1"),
			Status:        judge0.Status{ID: 11, Description: "Runtime Error (NZEC)"},
		}, nil
	}})
	out, err := o.RunAndWait(context.Background())
	if err != nil || out.Err != nil {
		t.Fatalf("unexpected error %v %v", err, out.Err)
	}
	r := out.Result
	if r.Stderr != "Traceback ✗" || r.CompileOutput != "main.cpp:1: error" || r.Message != "Exited with error status 1" || r.Stdout != "" {
		t.Errorf("unexpected result %+v", r)
	}
	if r.Time != nil || r.Memory != nil || r.Summary() != "Runtime Error (NZEC), -s, -KB" {
		t.Errorf("unexpected metrics %+v", r)
	}
}

func TestRunServiceError(t *testing.T) {
	var o *Orchestrator
	o, rec := newTestOrchestrator(t, &fakeExecutor{submit: func(context.Context, *judge0.Submission) (*judge0.Result, error) {
		checkRunning(t, o.Store())
		return nil, &judge0.ServiceError{StatusCode: 429, Message: "rate limited"}
	}})

	out, err := o.RunAndWait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var se *judge0.ServiceError
	if !errors.As(out.Err, &se) || out.Result != nil {
		t.Fatalf("unexpected outcome %+v", out)
	}

	st := o.Store().GetState()
	if st.Running || st.Result != nil || st.Phase != PhaseFailed || !strings.Contains(st.Notice, "rate limited") {
		t.Errorf("unexpected state %+v", st)
	}
	if len(rec.notices) != 1 || rec.notices[0] != "rate limited" {
		t.Errorf("unexpected notices %v", rec.notices)
	}
	if len(rec.reports) != 1 || rec.reports[0].Outcome != OutcomeRejected {
		t.Errorf("unexpected reports %+v", rec.reports)
	}
}

func TestRunNetworkFailure(t *testing.T) {
	o, rec := newTestOrchestrator(t, &fakeExecutor{submit: func(context.Context, *judge0.Submission) (*judge0.Result, error) {
		return nil, errors.New("dial tcp: connect: network is unreachable")
	}})

	out, err := o.RunAndWait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.Err == nil || out.Result != nil {
		t.Fatalf("unexpected outcome %+v", out)
	}
	st := o.Store().GetState()
	if st.Running || st.Result != nil || st.Notice != "" || st.Phase != PhaseFailed {
		t.Errorf("unexpected state %+v", st)
	}
	if len(rec.notices) != 0 {
		t.Errorf("network failures must not notify: %v", rec.notices)
	}
	if len(rec.reports) != 1 || rec.reports[0].Outcome != OutcomeFailed || rec.reports[0].Error == "" {
		t.Errorf("unexpected reports %+v", rec.reports)
	}
}

func TestRunEmptyResponse(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeExecutor{submit: func(context.Context, *judge0.Submission) (*judge0.Result, error) {
		return nil, nil
	}})
	out, _ := o.RunAndWait(context.Background())
	if out.Err == nil {
		t.Fatal("expected error for empty response")
	}
	if st := o.Store().GetState(); st.Running {
		t.Error("running indicator not cleared")
	}
}

func TestRunPanicClearsRunning(t *testing.T) {
	o, rec := newTestOrchestrator(t, &fakeExecutor{submit: func(context.Context, *judge0.Submission) (*judge0.Result, error) {
		panic("boom")
	}})
	out, err := o.RunAndWait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.Err == nil || !strings.Contains(out.Err.Error(), "boom") {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if st := o.Store().GetState(); st.Running || st.Result != nil {
		t.Errorf("unexpected state %+v", st)
	}
	if len(rec.reports) != 1 || rec.reports[0].Outcome != OutcomeFailed {
		t.Errorf("unexpected reports %+v", rec.reports)
	}
}

func TestRunClearsPreviousResult(t *testing.T) {
	calls := 0
	var o *Orchestrator
	o, _ = newTestOrchestrator(t, &fakeExecutor{submit: func(context.Context, *judge0.Submission) (*judge0.Result, error) {
		calls++
		if calls == 2 {
			checkRunning(t, o.Store())
		}
		return &judge0.Result{Stdout: codec.Encode(fmt.Sprint(calls))}, nil
	}})
	for i := 1; i <= 2; i++ {
		out, _ := o.RunAndWait(context.Background())
		if out.Result == nil || out.Result.Stdout != fmt.Sprint(i) {
			t.Fatalf("run %d: unexpected outcome %+v", i, out)
		}
	}
}

func TestRunNotCancelledByCaller(t *testing.T) {
	release := make(chan struct{})
	o, _ := newTestOrchestrator(t, &fakeExecutor{submit: func(ctx context.Context, _ *judge0.Submission) (*judge0.Result, error) {
		<-release
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &judge0.Result{Stdout: codec.Encode("done")}, nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	_, ch, err := o.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	close(release)

	out := <-ch
	if out.Err != nil || out.Result.Stdout != "done" {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestOverlappingRunsLatestWins(t *testing.T) {
	first := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	o, rec := newTestOrchestrator(t, &fakeExecutor{submit: func(context.Context, *judge0.Submission) (*judge0.Result, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			<-first
		}
		return &judge0.Result{Stdout: codec.Encode(fmt.Sprintf("run %d", n))}, nil
	}})

	id1, ch1, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	id2, ch2, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id1 == id2 {
		t.Fatal("run ids must differ")
	}

	out2 := <-ch2
	if out2.Result == nil || out2.Result.Stdout != "run 2" {
		t.Fatalf("unexpected second outcome %+v", out2)
	}
	close(first)
	out1 := <-ch1
	if out1.Result == nil || out1.Result.Stdout != "run 1" {
		t.Fatalf("unexpected first outcome %+v", out1)
	}
	o.Wait()

	st := o.Store().GetState()
	if st.Running || st.RunID != id2 || st.Result == nil || st.Result.Stdout != "run 2" {
		t.Errorf("state should show the latest run: %+v", st)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.reports) != 2 || rec.reports[0].Stale || !rec.reports[1].Stale || rec.reports[1].RunID != id1 {
		t.Errorf("unexpected reports %+v", rec.reports)
	}
}

func TestRunUsesConfiguredServiceID(t *testing.T) {
	tb := mustParse(t, `languages:
  - name: cpp
    fileName: a.cpp
    serviceId: 1
  - name: java
    fileName: A.java
    serviceId: 2
  - name: py
    fileName: a.py
    serviceId: 3
`)
	o := NewOrchestrator(Config{
		Store: NewStore(State{Language: language.Python}),
		Executor: &fakeExecutor{submit: func(_ context.Context, s *judge0.Submission) (*judge0.Result, error) {
			if s.LanguageID != 3 {
				t.Errorf("language id %d, want 3", s.LanguageID)
			}
			return &judge0.Result{}, nil
		}},
		Languages: tb,
	})
	out, err := o.RunAndWait(context.Background())
	if err != nil || out.Err != nil {
		t.Fatalf("unexpected error %v %v", err, out.Err)
	}
}

func mustParse(t *testing.T, doc string) *language.Table {
	t.Helper()
	tb, err := language.Parse([]byte(doc), nil)
	if err != nil {
		t.Fatal(err)
	}
	return tb
}
