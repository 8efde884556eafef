package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"openfx-dash/internal/backend"
	"openfx-dash/internal/config"
	"openfx-dash/internal/domain"
	"openfx-dash/internal/repository"
	"openfx-dash/internal/service"
)

// AuthHandler mantiene dependencias para endpoints de autenticación.
type AuthHandler struct {
	logger *zap.Logger
	cfg    *config.Config
	api    backend.API
	repo   repository.CredentialRepository
	guard  *service.SessionGuard
}

// NewAuthHandler crea una instancia de AuthHandler con dependencias necesarias.
func NewAuthHandler(logger *zap.Logger, cfg *config.Config, api backend.API, repo repository.CredentialRepository, guard *service.SessionGuard) *AuthHandler {
	return &AuthHandler{
		logger: logger,
		cfg:    cfg,
		api:    api,
		repo:   repo,
		guard:  guard,
	}
}

// Login maneja POST /auth/login: valida localmente, delega en el backend y
// persiste token+perfil como unidad antes de emitir la cookie.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if !domain.ValidEmail(req.Email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please enter your registered email address", "field": "email"})
		return
	}
	if req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password is required", "field": "password"})
		return
	}

	resp, err := h.api.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		status, msg := backendFailure(err, "Login failed")
		c.JSON(status, gin.H{"error": msg})
		return
	}

	rec := repository.Record{Token: resp.Token, Profile: resp.Raw}
	if err := h.repo.Save(c.Request.Context(), rec); err != nil {
		h.logger.Error("credential save failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not persist session"})
		return
	}
	h.guard.Adopt(resp.Token, resp.Profile)
	setTokenCookie(c, h.cfg, resp.Token)

	h.logger.Info("login",
		zap.String("subject", resp.Profile.ID),
		zap.Bool("email_verified", resp.Profile.EmailVerified),
	)
	c.JSON(http.StatusOK, gin.H{"user": resp.Profile, "message": "Login successful!"})
}

// Signup maneja POST /auth/signup. No inicia sesión: el usuario debe loguearse
// después de registrarse.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req struct {
		Email     string `json:"email" binding:"required"`
		Password  string `json:"password" binding:"required"`
		FirstName string `json:"first_name" binding:"required"`
		LastName  string `json:"last_name" binding:"required"`
		Company   string `json:"company"`
		Terms     bool   `json:"terms"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if !domain.ValidEmail(req.Email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email must be valid and accessible for verification", "field": "email"})
		return
	}
	if !domain.ValidPassword(req.Password) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password must be at least 8 characters with uppercase, lowercase, number, and special character", "field": "password"})
		return
	}
	if !domain.ValidName(req.FirstName) || !domain.ValidName(req.LastName) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name must be 2-50 characters and contain only letters, spaces, hyphens, and apostrophes", "field": "name"})
		return
	}
	if !req.Terms {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Terms must be accepted", "field": "terms"})
		return
	}

	err := h.api.Signup(c.Request.Context(), backend.SignupRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Company:   req.Company,
	})
	if err != nil {
		status, msg := backendFailure(err, "Registration failed")
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Registration successful!"})
}

// Logout maneja POST /auth/logout: limpia registro, snapshot y cookie en
// todos los scopes de dominio. Idempotente; sin sesión igual responde 200.
func (h *AuthHandler) Logout(c *gin.Context) {
	token := tokenFromCookie(c, h.cfg.CookieName)
	h.guard.Logout(c.Request.Context(), token)
	clearTokenCookies(c, h.cfg)
	c.JSON(http.StatusOK, gin.H{"redirect": "/sign-in"})
}

// Profile maneja GET /auth/profile: refresca el perfil desde el backend y
// reconstruye el registro persistido. Un 401 dispara el camino de logout.
func (h *AuthHandler) Profile(c *gin.Context) {
	token := tokenFromCookie(c, h.cfg.CookieName)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	body, err := h.api.Profile(c.Request.Context(), token)
	if err != nil {
		if backend.IsUnauthorized(err) {
			h.guard.Logout(c.Request.Context(), token)
			clearTokenCookies(c, h.cfg)
			c.JSON(http.StatusUnauthorized, gin.H{"redirect": "/sign-in"})
			return
		}
		status, msg := backendFailure(err, "Failed to get user profile")
		c.JSON(status, gin.H{"error": msg})
		return
	}

	profile, ok := domain.ParseProfile(body)
	if !ok {
		h.guard.Logout(c.Request.Context(), token)
		clearTokenCookies(c, h.cfg)
		c.JSON(http.StatusUnauthorized, gin.H{"redirect": "/sign-in"})
		return
	}

	if err := h.repo.Save(c.Request.Context(), repository.Record{Token: token, Profile: body}); err != nil {
		h.logger.Warn("credential refresh save failed", zap.Error(err))
	} else {
		h.guard.Adopt(token, profile)
	}
	c.JSON(http.StatusOK, gin.H{"user": profile})
}

// backendFailure traduce un error del cliente backend a status y mensaje
// presentables. Los errores de red quedan en un 502 con mensaje generico.
func backendFailure(err error, fallback string) (int, string) {
	if apiErr, ok := backend.AsAPIError(err); ok {
		msg := apiErr.Message
		if msg == "" {
			msg = fallback
		}
		status := apiErr.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		return status, msg
	}
	return http.StatusBadGateway, "Network error occurred"
}
