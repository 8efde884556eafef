package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"openfx-dash/internal/config"
	"openfx-dash/internal/service"
)

// SessionGuardMiddleware corre el guard sobre cada navegación de páginas.
// Render deja pasar, Redirect corta con 302 y Wait corta con 204: el
// contenido nunca aparece mientras hay un redirect en curso.
func SessionGuardMiddleware(cfg *config.Config, guard *service.SessionGuard) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := tokenFromCookie(c, cfg.CookieName)
		outcome := guard.Evaluate(c.Request.Context(), c.Request.URL.Path, token)

		if outcome.ClearCredential {
			clearTokenCookies(c, cfg)
		}

		switch outcome.Kind {
		case service.OutcomeRedirect:
			c.Redirect(http.StatusFound, outcome.Target)
			c.Abort()
		case service.OutcomeWait:
			c.Status(http.StatusNoContent)
			c.Abort()
		default:
			c.Next()
		}
	}
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
