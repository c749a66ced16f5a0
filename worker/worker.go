// Package worker bounds the number of submissions in flight to the remote
// execution service. Requests wait in a queue served by a fixed number of
// loops.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/criyle/go-rtide/judge0"
)

const defaultMaxWaiting = 512

var (
	// ErrShutdown is returned for requests submitted to or queued in a
	// worker that was shut down
	ErrShutdown = errors.New("worker: shut down")

	// ErrQueueFull is returned when MaxWaiting requests are already queued
	ErrQueueFull = errors.New("worker: queue full")
)

// Executor sends one submission and waits for its result
type Executor interface {
	Submit(context.Context, *judge0.Submission) (*judge0.Result, error)
}

// Config defines worker configuration
type Config struct {
	Executor    Executor
	Parallelism int
	// MaxWaiting is the queue length, 512 by default
	MaxWaiting   int
	ExecObserver func(Response)
}

// Response is the observed outcome of one submission
type Response struct {
	Result *judge0.Result
	Error  error
	// Wait is the time spent in queue, Duration the time spent executing
	Wait     time.Duration
	Duration time.Duration
}

// Worker defines interface for a bounded executor. Submit blocks until the
// request was executed.
type Worker interface {
	Start()
	Submit(context.Context, *judge0.Submission) (*judge0.Result, error)
	Shutdown()
}

// worker defines executor worker
type worker struct {
	executor     Executor
	parallelism  int
	maxWaiting   int
	execObserver func(Response)

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
	workCh    chan workRequest
	done      chan struct{}
}

type workRequest struct {
	*judge0.Submission
	context.Context
	queued   time.Time
	resultCh chan<- Response
}

// New creates new worker
func New(conf Config) Worker {
	parallelism := conf.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	maxWaiting := conf.MaxWaiting
	if maxWaiting <= 0 {
		maxWaiting = defaultMaxWaiting
	}
	return &worker{
		executor:     conf.Executor,
		parallelism:  parallelism,
		maxWaiting:   maxWaiting,
		execObserver: conf.ExecObserver,
		workCh:       make(chan workRequest, maxWaiting),
		done:         make(chan struct{}),
	}
}

// Start starts worker loops with given parallelism
func (w *worker) Start() {
	w.startOnce.Do(func() {
		w.wg.Add(w.parallelism)
		for i := 0; i < w.parallelism; i++ {
			go w.loop()
		}
	})
}

// Submit queues a single request and waits for its result
func (w *worker) Submit(ctx context.Context, sub *judge0.Submission) (*judge0.Result, error) {
	ch := make(chan Response, 1)
	req := workRequest{
		Submission: sub,
		Context:    ctx,
		queued:     time.Now(),
		resultCh:   ch,
	}
	select {
	case <-w.done:
		return nil, ErrShutdown
	default:
	}
	select {
	case w.workCh <- req:
	default:
		return nil, ErrQueueFull
	}

	select {
	case rt := <-ch:
		return rt.Result, rt.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.done:
		// the request may still be running in a loop
		select {
		case rt := <-ch:
			return rt.Result, rt.Error
		default:
			return nil, ErrShutdown
		}
	}
}

// Shutdown waits all worker to finish
func (w *worker) Shutdown() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
	})
}

func (w *worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case req := <-w.workCh:
			w.workDo(req)
		case <-w.done:
			return
		}
	}
}

func (w *worker) workDo(req workRequest) {
	rt := Response{Wait: time.Since(req.queued)}
	if err := req.Context.Err(); err != nil {
		// the caller stopped waiting while queued
		rt.Error = err
	} else {
		start := time.Now()
		rt.Result, rt.Error = w.executor.Submit(req.Context, req.Submission)
		rt.Duration = time.Since(start)
	}
	if w.execObserver != nil {
		w.execObserver(rt)
	}
	req.resultCh <- rt
}
