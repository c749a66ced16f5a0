// Package wsexecutor streams session state over WebSocket and accepts edits
// and run requests from the client.
package wsexecutor

import (
	"context"
	"net/http"
	"time"

	"github.com/criyle/go-rtide/cmd/rtide/model"
	restexecutor "github.com/criyle/go-rtide/cmd/rtide/rest_executor"
	"github.com/criyle/go-rtide/session"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Register registers web socket handle /sessions/:id/ws
type Register interface {
	Register(*gin.Engine)
}

// New creates new websocket handle
func New(store session.Store, logger *zap.Logger) Register {
	return &wsHandle{
		store:  store,
		logger: logger,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

type wsHandle struct {
	store  session.Store
	logger *zap.Logger
}

func (h *wsHandle) Register(r *gin.Engine) {
	r.GET("/sessions/:id/ws", restexecutor.LoadSession(h.store), h.handleWS)
}

func (h *wsHandle) handleWS(c *gin.Context) {
	sess := restexecutor.GetSession(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.Error(err)
		return
	}
	logger := h.logger.With(zap.String("session", sess.ID))
	states, unsubscribe := sess.Store().Subscribe()
	replyCh := make(chan model.ServerMessage, 16)
	ctx, cancel := context.WithCancel(context.Background())

	// read request
	go func() {
		defer cancel()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			h.touch(sess.ID)
			return nil
		})

		for {
			msg := new(model.ClientMessage)
			if err := conn.ReadJSON(msg); err != nil {
				logger.Debug("ws read error", zap.Error(err))
				return
			}
			if !h.touch(sess.ID) {
				logger.Debug("ws session removed")
				return
			}
			reply := h.handleMessage(sess, msg)
			if reply == nil {
				continue
			}
			select {
			case replyCh <- *reply:
			case <-ctx.Done():
				return
			}
		}
	}()

	// write state
	go func() {
		defer conn.Close()
		defer unsubscribe()
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		write := func(m model.ServerMessage) bool {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(m); err != nil {
				logger.Debug("ws write error", zap.Error(err))
				return false
			}
			return true
		}

		view := model.NewSession(sess)
		if !write(model.ServerMessage{Type: model.MessageState, Session: &view}) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return

			case _, ok := <-states:
				if !ok {
					return
				}
				view := model.NewSession(sess)
				if !write(model.ServerMessage{Type: model.MessageState, Session: &view}) {
					return
				}

			case r := <-replyCh:
				if !write(r) {
					return
				}

			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
}

// touch marks the session as used in the store, so a live connection keeps
// it from idle eviction. It reports whether the session still exists.
func (h *wsHandle) touch(id string) bool {
	return h.store.Get(id) != nil
}

// handleMessage applies msg to the session. State changes reach the client
// through the subscription, so only run ids and errors are replied.
func (h *wsHandle) handleMessage(sess *session.Session, msg *model.ClientMessage) *model.ServerMessage {
	if msg.Type == model.MessageRun {
		runID, _, err := sess.Orchestrator.Run(context.Background())
		if err != nil {
			return &model.ServerMessage{Type: model.MessageError, Error: err.Error()}
		}
		return &model.ServerMessage{Type: model.MessageRun, RunID: runID}
	}

	ev, err := msg.Event()
	if err == nil {
		err = sess.Store().Dispatch(ev)
	}
	if err != nil {
		return &model.ServerMessage{Type: model.MessageError, Error: err.Error()}
	}
	return nil
}
