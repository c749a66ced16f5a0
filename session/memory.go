package session

import (
	"fmt"
	"sync"
	"time"
)

type memoryStore struct {
	store map[string]*Session
	mu    sync.RWMutex
}

// NewMemoryStore create new memory session store
func NewMemoryStore() Store {
	return &memoryStore{
		store: make(map[string]*Session),
	}
}

func (s *memoryStore) Add(sess *Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := sess.ID
	if id == "" {
		var err error
		id, err = generateUniqueID(func(id string) bool {
			_, ok := s.store[id]
			return ok
		})
		if err != nil {
			return "", err
		}
		sess.ID = id
	} else if _, ok := s.store[id]; ok {
		return "", fmt.Errorf("%w: %s", ErrExists, id)
	}
	if sess.Created.IsZero() {
		sess.Created = time.Now()
	}
	s.store[id] = sess
	return id, nil
}

func (s *memoryStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.store[id]
	delete(s.store, id)
	return ok
}

func (s *memoryStore) Get(id string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.store[id]
}

func (s *memoryStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b := make([]string, 0, len(s.store))
	for n := range s.store {
		b = append(b, n)
	}
	return b
}
