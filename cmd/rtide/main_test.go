package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/criyle/go-rtide/cmd/rtide/config"
	"github.com/criyle/go-rtide/cmd/rtide/model"
	restexecutor "github.com/criyle/go-rtide/cmd/rtide/rest_executor"
	"github.com/criyle/go-rtide/ide"
	"github.com/criyle/go-rtide/judge0"
	"github.com/criyle/go-rtide/language"
	"github.com/criyle/go-rtide/session"
	"github.com/criyle/go-rtide/worker"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"
)

type mockExecutor struct{}

func (mockExecutor) Submit(_ context.Context, sub *judge0.Submission) (*judge0.Result, error) {
	return &judge0.Result{
		Stdout: sub.Stdin,
		Status: judge0.Status{ID: 3, Description: "Accepted"},
	}, nil
}

// countingLister counts the calls reaching the execution service
type countingLister struct {
	calls atomic.Int32
}

func (l *countingLister) Languages(context.Context) ([]judge0.RemoteLanguage, error) {
	l.calls.Add(1)
	return []judge0.RemoteLanguage{{ID: 71, Name: "Python (3.8.1)"}}, nil
}

func newTestMux(t *testing.T, conf *config.Config) (http.Handler, session.Store) {
	return newTestMuxWithLister(t, conf, nil)
}

func newTestMuxWithLister(t *testing.T, conf *config.Config, lister restexecutor.LanguageLister) (http.Handler, session.Store) {
	logger = zaptest.NewLogger(t)
	gin.SetMode(gin.TestMode)
	store := session.NewMemoryStore()
	factory := &sessionFactory{
		executor:  mockExecutor{},
		languages: language.Default(),
		observer:  observeAll(logRun),
	}
	t.Cleanup(func() {
		for _, id := range store.List() {
			store.Get(id).Orchestrator.Wait()
		}
	})
	return initHTTPMux(conf, store, factory, language.Default(), lister), store
}

func serve(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	h.ServeHTTP(recorder, req)
	return recorder
}

func TestHTTPMuxTokenAuth(t *testing.T) {
	h, _ := newTestMux(t, &config.Config{AuthToken: "secret"})

	// public endpoints
	for _, p := range []string{"/version", "/config", "/languages"} {
		if recorder := serve(h, http.MethodGet, p, ""); recorder.Code != http.StatusOK {
			t.Errorf("GET %s: expected %d, got %d", p, http.StatusOK, recorder.Code)
		}
	}

	if recorder := serve(h, http.MethodPost, "/sessions", ""); recorder.Code != http.StatusUnauthorized {
		t.Errorf("expected %d, got %d", http.StatusUnauthorized, recorder.Code)
	}
	if recorder := serve(h, http.MethodPost, "/sessions", "wrong"); recorder.Code != http.StatusUnauthorized {
		t.Errorf("expected %d, got %d", http.StatusUnauthorized, recorder.Code)
	}
	if recorder := serve(h, http.MethodPost, "/sessions", "secret"); recorder.Code != http.StatusCreated {
		t.Errorf("expected %d, got %d", http.StatusCreated, recorder.Code)
	}
}

func TestHTTPMuxRemoteLanguagesAuth(t *testing.T) {
	lister := &countingLister{}
	h, _ := newTestMuxWithLister(t, &config.Config{AuthToken: "secret"}, lister)

	if recorder := serve(h, http.MethodGet, "/languages/remote", ""); recorder.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected %d, got %d", http.StatusUnauthorized, recorder.Code)
	}
	if n := lister.calls.Load(); n != 0 {
		t.Errorf("unauthenticated request reached the service %d times", n)
	}
	if recorder := serve(h, http.MethodGet, "/languages/remote", "secret"); recorder.Code != http.StatusOK {
		t.Errorf("with token: expected %d, got %d", http.StatusOK, recorder.Code)
	}
	if n := lister.calls.Load(); n != 1 {
		t.Errorf("service calls = %d, want 1", n)
	}
	if recorder := serve(h, http.MethodGet, "/languages", ""); recorder.Code != http.StatusOK {
		t.Errorf("local table: expected %d, got %d", http.StatusOK, recorder.Code)
	}
}

func TestTokenAuthWebSocketQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(tokenAuth("secret"))
	r.GET("/ws", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ws?token=secret", nil)
	recorder := httptest.NewRecorder()
	r.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Errorf("query token without upgrade: expected %d, got %d", http.StatusUnauthorized, recorder.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/ws?token=secret", nil)
	req.Header.Set("Upgrade", "websocket")
	recorder = httptest.NewRecorder()
	r.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Errorf("query token with upgrade: expected %d, got %d", http.StatusOK, recorder.Code)
	}
}

func TestHTTPMuxRun(t *testing.T) {
	h, _ := newTestMux(t, &config.Config{})

	recorder := serve(h, http.MethodPost, "/sessions", "")
	var s model.Session
	if err := json.Unmarshal(recorder.Body.Bytes(), &s); err != nil {
		t.Fatal(err)
	}

	// the mock echoes the encoded stdin as stdout
	req := httptest.NewRequest(http.MethodPut, "/sessions/"+s.ID+"/stdin", strings.NewReader(`{"text":"1 2 3"}`))
	req.Header.Set("Content-Type", "application/json")
	recorder = httptest.NewRecorder()
	h.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("edit stdin: %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = serve(h, http.MethodPost, "/sessions/"+s.ID+"/run?wait=true", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("run: %d %s", recorder.Code, recorder.Body.String())
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &s); err != nil {
		t.Fatal(err)
	}
	if s.Result == nil || s.Result.Stdout != "1 2 3" || s.Phase != ide.PhaseCompleted {
		t.Errorf("unexpected state %+v", s.State)
	}
}

func TestHandleConfig(t *testing.T) {
	h, _ := newTestMux(t, &config.Config{
		Judge0URL:      "https://judge0.example.com",
		Judge0Token:    "hidden",
		SessionTimeout: 30 * time.Minute,
		KafkaBrokers:   "localhost:9092",
	})
	recorder := serve(h, http.MethodGet, "/config", "")
	body := recorder.Body.String()
	if strings.Contains(body, "hidden") {
		t.Errorf("config leaks the service token: %s", body)
	}
	var m struct {
		Judge0URL  string         `json:"judge0Url"`
		RunReport  bool           `json:"runReport"`
		ServiceIDs map[string]int `json:"serviceIds"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	if m.Judge0URL != "https://judge0.example.com" || !m.RunReport || m.ServiceIDs["py"] != 71 {
		t.Errorf("unexpected config %s", body)
	}
}

func TestRedact(t *testing.T) {
	conf := &config.Config{AuthToken: "a", Judge0Token: "b"}
	c := redact(conf)
	if c.AuthToken != "***" || c.Judge0Token != "***" {
		t.Errorf("secrets not redacted: %+v", c)
	}
	if conf.AuthToken != "a" {
		t.Error("redact modified the config")
	}
}

func TestMetricsSessionStore(t *testing.T) {
	store := newMetricsSessionStore(session.NewMemoryStore())
	before := testutil.ToFloat64(sessionCurrent)
	created := testutil.ToFloat64(sessionCreated)

	id, err := store.Add(&session.Session{})
	if err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(sessionCurrent); got != before+1 {
		t.Errorf("current = %v, want %v", got, before+1)
	}
	if !store.Remove(id) || store.Remove(id) {
		t.Error("unexpected Remove result")
	}
	if got := testutil.ToFloat64(sessionCurrent); got != before {
		t.Errorf("current = %v, want %v", got, before)
	}
	if got := testutil.ToFloat64(sessionCreated); got != created+1 {
		t.Errorf("created = %v, want %v", got, created+1)
	}
}

func TestRunObserve(t *testing.T) {
	tm := 0.25
	rp := ide.RunReport{Outcome: ide.OutcomeCompleted, Language: language.Java, Status: "Accepted", Time: &tm, Duration: time.Second}
	before := testutil.ToFloat64(runCount.WithLabelValues(ide.OutcomeCompleted, "java"))
	runObserve(rp)
	if got := testutil.ToFloat64(runCount.WithLabelValues(ide.OutcomeCompleted, "java")); got != before+1 {
		t.Errorf("run count = %v, want %v", got, before+1)
	}

	var calls []string
	observeAll(
		func(ide.RunReport) { calls = append(calls, "a") },
		func(ide.RunReport) { calls = append(calls, "b") },
	)(rp)
	if strings.Join(calls, "") != "ab" {
		t.Errorf("observers called %v", calls)
	}
}

func TestListen(t *testing.T) {
	lis, err := listen(httpSocketName, "127.0.0.1:0", 1)
	if err != nil {
		t.Fatal(err)
	}
	defer lis.Close()
	if !strings.HasPrefix(printListener(lis), "127.0.0.1:") {
		t.Errorf("unexpected listener %s", printListener(lis))
	}

	go func() {
		conn, err := net.Dial("tcp", lis.Addr().String())
		if err == nil {
			conn.Close()
		}
	}()
	conn, err := lis.Accept()
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()
}

func TestMultiListener(t *testing.T) {
	ml, err := newMultiListener([]net.IP{net.IPv4(127, 0, 0, 1)}, 0)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		conn, err := net.Dial("tcp", ml.Addr().String())
		if err == nil {
			conn.Close()
		}
	}()
	conn, err := ml.Accept()
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()
	ml.Close()
	if _, err := ml.Accept(); err == nil {
		t.Error("Accept after Close should fail")
	}
}

func TestExecObserve(t *testing.T) {
	before := testutil.ToFloat64(submitErrorCount)
	execObserve(worker.Response{Error: errors.New("connection refused"), Wait: time.Millisecond})
	execObserve(worker.Response{Wait: time.Millisecond, Duration: 20 * time.Millisecond})
	if got := testutil.ToFloat64(submitErrorCount); got != before+1 {
		t.Errorf("submit errors = %v, want %v", got, before+1)
	}
}

// blockingExecutor holds every submission until release is closed
type blockingExecutor struct {
	started chan struct{}
	release chan struct{}
}

func (e *blockingExecutor) Submit(context.Context, *judge0.Submission) (*judge0.Result, error) {
	e.started <- struct{}{}
	<-e.release
	return &judge0.Result{Status: judge0.Status{ID: 3, Description: "Accepted"}}, nil
}

type mockWorker struct {
	worker.Worker
	shutdown atomic.Bool
}

func (w *mockWorker) Shutdown() {
	w.shutdown.Store(true)
}

func TestCleanUpRunsWaitsForEvictedSessions(t *testing.T) {
	logger = zaptest.NewLogger(t)
	exec := &blockingExecutor{started: make(chan struct{}, 1), release: make(chan struct{})}
	factory := &sessionFactory{
		executor:  exec,
		languages: language.Default(),
		runs:      new(ide.RunGroup),
	}
	ts := session.NewTimeout(session.NewMemoryStore(), time.Hour, time.Hour)
	sess, err := factory.New()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Add(sess); err != nil {
		t.Fatal(err)
	}
	if _, _, err := sess.Orchestrator.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-exec.started
	ts.Remove(sess.ID)

	work := &mockWorker{}
	_, stop := cleanUpRuns(factory.runs, ts, work, nil)()
	stopped := make(chan error, 1)
	go func() {
		stopped <- stop(context.Background())
	}()
	select {
	case err := <-stopped:
		t.Fatalf("clean up returned with a run outstanding: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	if work.shutdown.Load() {
		t.Fatal("worker shut down before the run finished")
	}

	close(exec.release)
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("clean up did not return")
	}
	if !work.shutdown.Load() {
		t.Error("worker not shut down")
	}
	if st := sess.Store().GetState(); st.Running || st.Phase != ide.PhaseCompleted {
		t.Errorf("run not finished: %+v", st)
	}
	if _, _, err := sess.Orchestrator.Run(context.Background()); !errors.Is(err, ide.ErrClosed) {
		t.Errorf("run after clean up: expected ErrClosed, got %v", err)
	}
}

func TestNewWorkerMaxWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// the worker is not started, so queued requests stay in the queue
	w := newWorker(&config.Config{Parallelism: 1, MaxWaiting: 1}, mockExecutor{})
	defer w.Shutdown()
	if _, err := w.Submit(ctx, &judge0.Submission{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := w.Submit(ctx, &judge0.Submission{}); !errors.Is(err, worker.ErrQueueFull) {
		t.Errorf("second submit: expected ErrQueueFull, got %v", err)
	}
}
