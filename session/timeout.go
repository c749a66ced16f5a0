package session

import (
	"container/heap"
	"sync"
	"time"
)

var (
	_ Store          = &Timeout{}
	_ heap.Interface = &Timeout{}
)

// Timeout is a session store that drops sessions idle for longer than a TTL.
// Get marks a session as used.
type Timeout struct {
	mu sync.Mutex
	Store
	timeout   time.Duration
	sessions  []timeoutSession
	idToIndex map[string]int
	now       func() time.Time

	stopOnce sync.Once
	done     chan struct{}
}

type timeoutSession struct {
	id   string
	time time.Time
}

// NewTimeout creates a timeout session store with maximun idle TTL for a
// session. The check loop runs until Close.
func NewTimeout(s Store, timeout time.Duration, checkInterval time.Duration) *Timeout {
	t := newTimeout(s, timeout)
	go t.checkTimeoutLoop(checkInterval)
	return t
}

func newTimeout(s Store, timeout time.Duration) *Timeout {
	return &Timeout{
		Store:     s,
		timeout:   timeout,
		sessions:  make([]timeoutSession, 0),
		idToIndex: make(map[string]int),
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Close stops the check loop
func (t *Timeout) Close() {
	t.stopOnce.Do(func() {
		close(t.done)
	})
}

func (t *Timeout) checkTimeoutLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		t.checkTimeoutAndRemove()
		select {
		case <-ticker.C:
		case <-t.done:
			return
		}
	}
}

// checkTimeoutAndRemove removes expired sessions and returns their ids
func (t *Timeout) checkTimeoutAndRemove() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []string
	now := t.now()
	for len(t.sessions) > 0 && t.sessions[0].time.Add(t.timeout).Before(now) {
		s := t.sessions[0]
		t.Store.Remove(s.id)
		heap.Pop(t)
		removed = append(removed, s.id)
	}
	return removed
}

func (t *Timeout) Len() int {
	return len(t.sessions)
}

func (t *Timeout) Less(i, j int) bool {
	return t.sessions[i].time.Before(t.sessions[j].time)
}

func (t *Timeout) Swap(i, j int) {
	t.sessions[i], t.sessions[j] = t.sessions[j], t.sessions[i]
	t.idToIndex[t.sessions[i].id] = i
	t.idToIndex[t.sessions[j].id] = j
}

func (t *Timeout) Push(x interface{}) {
	e := x.(timeoutSession)
	t.sessions = append(t.sessions, e)
	t.idToIndex[e.id] = len(t.sessions) - 1
}

func (t *Timeout) Pop() interface{} {
	e := t.sessions[len(t.sessions)-1]
	t.sessions = t.sessions[:len(t.sessions)-1]
	delete(t.idToIndex, e.id)
	return e
}

func (t *Timeout) Add(sess *Session) (string, error) {
	// try add to the underlying store
	id, err := t.Store.Add(sess)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	heap.Push(t, timeoutSession{id, t.now()})
	return id, nil
}

func (t *Timeout) Remove(id string) bool {
	success := t.Store.Remove(id)

	t.mu.Lock()
	defer t.mu.Unlock()

	index, ok := t.idToIndex[id]
	if !ok {
		return success
	}
	heap.Remove(t, index)
	return success
}

func (t *Timeout) Get(id string) *Session {
	sess := t.Store.Get(id)

	t.mu.Lock()
	defer t.mu.Unlock()

	index, ok := t.idToIndex[id]
	if !ok {
		return sess
	}
	t.sessions[index].time = t.now()
	heap.Fix(t, index)

	return sess
}
