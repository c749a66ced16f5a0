// Package session keeps the IDE sessions of a server in memory.
package session

import (
	"bytes"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"time"

	"github.com/criyle/go-rtide/ide"
)

const randIDLength = 10

var (
	errUniqueIDNotGenerated = errors.New("unique id does not exists after tried 50 times")

	// ErrExists is returned when adding a session with an id already in use
	ErrExists = errors.New("session already exists")
)

// Session is one editor with its own state and run cycles
type Session struct {
	ID           string
	Created      time.Time
	Orchestrator *ide.Orchestrator
}

// Store returns the state store of the session
func (s *Session) Store() *ide.Store {
	return s.Orchestrator.Store()
}

// Store defines interface to keep sessions
type Store interface {
	Add(*Session) (string, error) // Add stores the session, assigns an id when empty and returns it
	Remove(string) bool           // Remove deletes a session by id
	Get(string) *Session          // Get session by id, nil if not exists
	List() []string               // List return all session ids
}

// NewID returns a random session id
func NewID() (string, error) {
	return generateID()
}

func generateID() (string, error) {
	b := make([]byte, randIDLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	enc := base32.NewEncoder(base32.StdEncoding.WithPadding(base32.NoPadding), &buf)
	if _, err := enc.Write(b); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func generateUniqueID(isExists func(string) bool) (string, error) {
	for range [50]struct{}{} {
		id, err := generateID()
		if err != nil {
			return "", err
		}
		if !isExists(id) {
			return id, nil
		}
	}
	return "", errUniqueIDNotGenerated
}
