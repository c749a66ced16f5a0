package ide

import (
	"sync"

	"github.com/criyle/go-rtide/language"
)

// Store owns the state of one session. Readers get copies; writers dispatch
// events.
type Store struct {
	mu      sync.Mutex
	state   State
	subs    map[int]chan State
	nextSub int
}

// NewStore creates a store starting from initial. Languages missing from the
// source bundle get an empty text.
func NewStore(initial State) *Store {
	st := initial.clone()
	if st.Sources == nil {
		st.Sources = make(SourceBundle)
	}
	for _, n := range language.Names() {
		if _, ok := st.Sources[n]; !ok {
			st.Sources[n] = ""
		}
	}
	if !st.Language.Valid() {
		st.Language = language.Cpp
	}
	return &Store{
		state: st,
		subs:  make(map[int]chan State),
	}
}

// GetState returns a copy of the current state
func (s *Store) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Dispatch applies e. A rejected event leaves the state untouched.
func (s *Store) Dispatch(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	if err := e.apply(&next); err != nil {
		return err
	}
	next.Version = s.state.Version + 1
	s.state = next

	for _, ch := range s.subs {
		publish(ch, next.clone())
	}
	return nil
}

// Subscribe returns a channel receiving the state after every accepted event.
// A slow subscriber only sees the latest state. The returned function
// unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan State, 1)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

// publish replaces a pending state with st. Only Dispatch sends, under the
// store lock, so the second send never blocks.
func publish(ch chan State, st State) {
	select {
	case ch <- st:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- st
}
