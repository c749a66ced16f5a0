package restexecutor

import (
	"context"
	"net/http"

	"github.com/criyle/go-rtide/judge0"
	"github.com/criyle/go-rtide/language"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LanguageLister lists the languages supported by the execution service
type LanguageLister interface {
	Languages(ctx context.Context) ([]judge0.RemoteLanguage, error)
}

type languageHandle struct {
	table *language.Table
}

// NewLanguageHandle creates the handle of /languages serving the local table
func NewLanguageHandle(table *language.Table) Register {
	return &languageHandle{table: table}
}

func (h *languageHandle) Register(r *gin.Engine) {
	r.GET("/languages", h.handleLanguages)
}

type remoteLanguageHandle struct {
	remote LanguageLister
	logger *zap.Logger
}

// NewRemoteLanguageHandle creates the handle of /languages/remote. Every
// request queries the execution service with the server credentials.
func NewRemoteLanguageHandle(remote LanguageLister, logger *zap.Logger) Register {
	return &remoteLanguageHandle{
		remote: remote,
		logger: logger,
	}
}

func (h *remoteLanguageHandle) Register(r *gin.Engine) {
	r.GET("/languages/remote", h.handleRemote)
}

func (h *languageHandle) handleLanguages(c *gin.Context) {
	c.JSON(http.StatusOK, h.table.Specs())
}

func (h *remoteLanguageHandle) handleRemote(c *gin.Context) {
	ls, err := h.remote.Languages(c.Request.Context())
	if err != nil {
		h.logger.Warn("list remote languages failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, ls)
}
