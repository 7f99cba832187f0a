package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jrjohn/ordr-go/pkg/logger"
)

// Recovery turns a handler panic into a 500. Responses that were already
// started, such as upgraded relay streams, are only aborted.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	log = logger.OrNop(log)
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			log.Error("status server handler panicked",
				zap.Any("panic", rec),
				logger.Method(c.Request.Method),
				logger.Path(c.Request.URL.Path),
				logger.RequestID(GetRequestID(c)),
				zap.ByteString("stack", debug.Stack()),
			)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "internal server error"})
		}()
		c.Next()
	}
}
