// Package restexecutor serves the session REST API of rtide.
package restexecutor

import "github.com/gin-gonic/gin"

// Register registers the handler on the engine
type Register interface {
	Register(*gin.Engine)
}
