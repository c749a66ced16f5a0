// Package model defines the JSON bodies of the rtide REST and WebSocket API.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/criyle/go-rtide/ide"
	"github.com/criyle/go-rtide/language"
	"github.com/criyle/go-rtide/session"
)

// Client message types of the WebSocket API
const (
	MessageLanguage = "language"
	MessageSource   = "source"
	MessageStdin    = "stdin"
	MessageRun      = "run"
)

// Server message types of the WebSocket API
const (
	MessageState = "state"
	MessageError = "error"
)

var errMissingText = errors.New("text is required")

// Session is the view of one session returned by the API
type Session struct {
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
	Summary string    `json:"summary,omitempty"`
	ide.State
}

// NewSession creates the view of sess from its current state
func NewSession(sess *session.Session) Session {
	st := sess.Store().GetState()
	return Session{
		ID:      sess.ID,
		Created: sess.Created,
		Summary: st.Result.Summary(),
		State:   st,
	}
}

// LanguageRequest selects the active language
type LanguageRequest struct {
	Language string `json:"language" binding:"required"`
}

// TextRequest replaces a source or the stdin text
type TextRequest struct {
	Text *string `json:"text" binding:"required"`
}

// RunResponse is returned when a run was started without waiting
type RunResponse struct {
	RunID string `json:"runId"`
}

// ClientMessage is a message sent by a WebSocket client
type ClientMessage struct {
	Type     string  `json:"type"`
	Language string  `json:"language,omitempty"`
	Text     *string `json:"text,omitempty"`
}

// ServerMessage is a message pushed to a WebSocket client
type ServerMessage struct {
	Type    string   `json:"type"`
	Session *Session `json:"session,omitempty"`
	RunID   string   `json:"runId,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Event converts an editing message into the store event it requests.
// Run messages are not events and return an error.
func (m *ClientMessage) Event() (ide.Event, error) {
	switch m.Type {
	case MessageLanguage:
		l, err := language.ParseName(m.Language)
		if err != nil {
			return nil, err
		}
		return ide.SelectLanguage{Language: l}, nil

	case MessageSource:
		if m.Text == nil {
			return nil, errMissingText
		}
		var l language.Name
		if m.Language != "" {
			var err error
			if l, err = language.ParseName(m.Language); err != nil {
				return nil, err
			}
		}
		return ide.EditSource{Language: l, Text: *m.Text}, nil

	case MessageStdin:
		if m.Text == nil {
			return nil, errMissingText
		}
		return ide.EditStdin{Text: *m.Text}, nil
	}
	return nil, fmt.Errorf("unknown message type %q", m.Type)
}
