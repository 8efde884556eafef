package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"openfx-dash/internal/config"
	"openfx-dash/internal/service"
)

// NewRouter configura el router de Gin con middlewares y rutas del dashboard.
func NewRouter(
	logger *zap.Logger,
	cfg *config.Config,
	guard *service.SessionGuard,
	authH *AuthHandler,
	otpH *OTPHandler,
) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), jsonContentTypeMiddleware())

	auth := r.Group("/auth")
	auth.POST("/login", authH.Login)
	auth.POST("/signup", authH.Signup)
	auth.POST("/logout", authH.Logout)
	auth.GET("/profile", authH.Profile)

	otp := r.Group("/otp")
	otp.POST("/request", otpH.Request)
	otp.POST("/verify/email", otpH.Verify)
	otp.POST("/resend", otpH.Resend)
	otp.GET("/cooldown", otpH.Cooldown)

	// Superficie de páginas del dashboard, toda detras del guard. La
	// composición visual vive en el frontend; acá solo descriptores.
	pages := r.Group("/")
	pages.Use(SessionGuardMiddleware(cfg, guard))
	for _, p := range pageRoutes {
		pages.GET(p, pageHandler(p))
	}

	// Default-deny: las rutas no declaradas también pasan por el guard como
	// protegidas antes de resolver a not-found.
	r.NoRoute(SessionGuardMiddleware(cfg, guard), func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"page": "not-found"})
	})

	return r
}

// Rutas servidas por el gateway; la clasificación de acceso vive en
// domain.ClassifyRoute, no acá.
var pageRoutes = []string{
	"/",
	"/sign-in",
	"/sign-up",
	"/forgot-password",
	"/reset-password",
	"/terms-condition",
	"/privacy-policy",
	"/coming-soon",
	"/maintenance",
	"/access-denied",
	"/verification/email",
	"/verification/forgot-password",
	"/verification/update-password",
	"/app-ids",
	"/currencies",
	"/pricing",
	"/billing/history",
	"/billing/payment-details",
	"/usage-statistics",
	"/notification",
	"/documentation",
	"/account/edit/:id",
}

func pageHandler(page string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"page": page})
	}
}
