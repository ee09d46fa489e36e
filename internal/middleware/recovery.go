package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/stwalsh4118/verrify/internal/logger"
)

// Recovery turns a handler panic into a logged 500 in the standard error
// envelope. http.ErrAbortHandler is re-raised so net/http can drop the
// connection as intended.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			requestLogger(c, log).Error("Panic recovered", fmt.Errorf("panic: %v", rec), map[string]interface{}{
				"method":  c.Request.Method,
				"path":    c.Request.URL.Path,
				"user_id": GetActor(c).UserID,
				"stack":   string(debug.Stack()),
			})

			if c.Writer.Written() {
				c.Abort()
				return
			}
			abortJSON(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "An unexpected error occurred")
		}()

		c.Next()
	}
}
