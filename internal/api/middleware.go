package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rongwang/bytebank/internal/models"
	"github.com/rongwang/bytebank/internal/session"
	"github.com/rongwang/bytebank/internal/utils"
)

// Context keys set by SessionMiddleware
const (
	userIDKey    = "userId"
	sessionKey   = "session"
	managerKey   = "sessionManager"
	cookieJarKey = "cookieJar"
)

// SessionMiddleware resolves the caller's session. API calls without one get
// 401; browser routes are redirected to the home application's login page.
func SessionMiddleware(origin *session.Origin, homeURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		jar := session.NewHTTPJar(c.Writer, c.Request)
		manager := origin.Manager(jar)

		s := manager.Get(c.Request.Context(), jar)
		if s == nil {
			if strings.HasPrefix(c.Request.URL.Path, "/api/") {
				c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Status:  "error",
					Code:    "UNAUTHORIZED",
					Message: "Authentication required",
				})
			} else {
				c.Redirect(http.StatusFound, homeURL+"/login")
			}
			c.Abort()
			return
		}

		c.Set(userIDKey, s.ID)
		c.Set(sessionKey, s)
		c.Set(managerKey, manager)
		c.Set(cookieJarKey, jar)
		c.Next()
	}
}

// RequestLogger logs every request with its status and latency
func RequestLogger(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(map[string]interface{}{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("%s", c.Errors.String())
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("request rejected")
		default:
			entry.Debug("request served")
		}
	}
}
