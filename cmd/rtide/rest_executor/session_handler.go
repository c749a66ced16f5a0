package restexecutor

import (
	"errors"
	"net/http"
	"sync"

	"github.com/criyle/go-rtide/cmd/rtide/model"
	"github.com/criyle/go-rtide/ide"
	"github.com/criyle/go-rtide/judge0"
	"github.com/criyle/go-rtide/language"
	"github.com/criyle/go-rtide/session"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const sessionKey = "session"

// SessionFactory creates a new session with its id assigned
type SessionFactory func() (*session.Session, error)

type sessionHandle struct {
	store       session.Store
	newSession  SessionFactory
	maxSessions int
	logger      *zap.Logger

	// createMu makes the session limit check and Add atomic
	createMu sync.Mutex
}

// NewSessionHandle creates the handle of /sessions. maxSessions <= 0 means
// no limit.
func NewSessionHandle(store session.Store, newSession SessionFactory, maxSessions int, logger *zap.Logger) Register {
	return &sessionHandle{
		store:       store,
		newSession:  newSession,
		maxSessions: maxSessions,
		logger:      logger,
	}
}

func (h *sessionHandle) Register(r *gin.Engine) {
	r.POST("/sessions", h.handleCreate)
	r.GET("/sessions", h.handleList)

	g := r.Group("/sessions/:id", LoadSession(h.store))
	g.GET("", h.handleGet)
	g.DELETE("", h.handleDelete)
	g.PUT("/language", h.handleLanguage)
	g.PUT("/sources/:language", h.handleSource)
	g.PUT("/stdin", h.handleStdin)
	g.POST("/run", h.handleRun)
}

// LoadSession looks up the session of the :id parameter and aborts with 404
// when it does not exist
func LoadSession(store session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := store.Get(c.Param("id"))
		if sess == nil {
			c.AbortWithStatusJSON(http.StatusNotFound, "session not found")
			return
		}
		c.Set(sessionKey, sess)
	}
}

// GetSession returns the session loaded by LoadSession
func GetSession(c *gin.Context) *session.Session {
	return c.MustGet(sessionKey).(*session.Session)
}

func (h *sessionHandle) handleCreate(c *gin.Context) {
	sess, err := h.newSession()
	if err != nil {
		c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, err.Error())
		return
	}
	if !h.addSession(c, sess) {
		return
	}
	h.logger.Debug("session created", zap.String("session", sess.ID))
	c.JSON(http.StatusCreated, model.NewSession(sess))
}

func (h *sessionHandle) addSession(c *gin.Context, sess *session.Session) bool {
	h.createMu.Lock()
	defer h.createMu.Unlock()

	if h.maxSessions > 0 && len(h.store.List()) >= h.maxSessions {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, "too many sessions")
		return false
	}
	if _, err := h.store.Add(sess); err != nil {
		c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, err.Error())
		return false
	}
	return true
}

func (h *sessionHandle) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.List())
}

func (h *sessionHandle) handleGet(c *gin.Context) {
	c.JSON(http.StatusOK, model.NewSession(GetSession(c)))
}

func (h *sessionHandle) handleDelete(c *gin.Context) {
	sess := GetSession(c)
	if !h.store.Remove(sess.ID) {
		c.AbortWithStatusJSON(http.StatusNotFound, "session not found")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *sessionHandle) handleLanguage(c *gin.Context) {
	var req model.LanguageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, err.Error())
		return
	}
	h.dispatch(c, &model.ClientMessage{Type: model.MessageLanguage, Language: req.Language})
}

func (h *sessionHandle) handleSource(c *gin.Context) {
	var req model.TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, err.Error())
		return
	}
	h.dispatch(c, &model.ClientMessage{Type: model.MessageSource, Language: c.Param("language"), Text: req.Text})
}

func (h *sessionHandle) handleStdin(c *gin.Context) {
	var req model.TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, err.Error())
		return
	}
	h.dispatch(c, &model.ClientMessage{Type: model.MessageStdin, Text: req.Text})
}

func (h *sessionHandle) dispatch(c *gin.Context, msg *model.ClientMessage) {
	sess := GetSession(c)
	ev, err := msg.Event()
	if err == nil {
		err = sess.Store().Dispatch(ev)
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, model.NewSession(sess))
}

// handleRun starts a run cycle. The run is never cancelled by the caller: with
// ?wait=true a disconnected client only stops waiting.
func (h *sessionHandle) handleRun(c *gin.Context) {
	sess := GetSession(c)
	runID, outCh, err := sess.Orchestrator.Run(c.Request.Context())
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, language.ErrUnknown):
			status = http.StatusBadRequest
		case errors.Is(err, ide.ErrClosed):
			status = http.StatusServiceUnavailable
		}
		c.AbortWithStatusJSON(status, err.Error())
		return
	}
	if c.Query("wait") != "true" {
		c.JSON(http.StatusAccepted, model.RunResponse{RunID: runID})
		return
	}

	var out ide.Outcome
	select {
	case out = <-outCh:
	case <-c.Request.Context().Done():
		return
	}

	var se *judge0.ServiceError
	if out.Err != nil && !errors.As(out.Err, &se) {
		c.JSON(http.StatusBadGateway, model.NewSession(sess))
		return
	}
	c.JSON(http.StatusOK, model.NewSession(sess))
}
