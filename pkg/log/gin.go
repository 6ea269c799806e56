package log

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// GinMiddleware is the gin counterpart of HTTPMiddleware. It also records
// the matched route, the authenticated user and any private errors that
// handlers attached with c.Error.
func GinMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		child, reqID := requestLogger(logger, c.Request, c.ClientIP())

		c.Header(headerRequestID, reqID)
		c.Request = c.Request.WithContext(WithLogger(c.Request.Context(), child))

		c.Next()

		evt := completion(&child, c.Request.URL.Path, c.Writer.Status(), start).
			Str("route", c.FullPath())
		if userID := c.GetString(FieldUserID); userID != "" {
			evt = evt.Str(FieldUserID, userID)
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			evt = evt.Str("error", errs.String())
		}
		evt.Msg("request completed")
	}
}
