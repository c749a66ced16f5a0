package ide

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Run once the run group of the orchestrator is closed
var ErrClosed = errors.New("ide: run group closed")

// RunGroup tracks the run cycles of one or more orchestrators. Once closed,
// no new cycle starts.
type RunGroup struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func (g *RunGroup) add() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	g.wg.Add(1)
	return nil
}

func (g *RunGroup) done() {
	g.wg.Done()
}

// Wait waits for the cycles started so far
func (g *RunGroup) Wait() {
	g.wg.Wait()
}

// Close rejects new cycles and waits for the started ones until ctx is done
func (g *RunGroup) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
