package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"openfx-dash/internal/config"
	"openfx-dash/internal/domain"
	"openfx-dash/internal/service"
)

// OTPHandler expone el intercambio request/verify/resend del flujo OTP.
type OTPHandler struct {
	logger *zap.Logger
	cfg    *config.Config
	flow   *service.OTPFlow
	guard  *service.SessionGuard
}

// NewOTPHandler crea una instancia de OTPHandler.
func NewOTPHandler(logger *zap.Logger, cfg *config.Config, flow *service.OTPFlow, guard *service.SessionGuard) *OTPHandler {
	return &OTPHandler{
		logger: logger,
		cfg:    cfg,
		flow:   flow,
		guard:  guard,
	}
}

// resolveSession arma (o reutiliza) la sesión OTP del owner email|purpose.
// Para email_verification sin email explícito usa el de la credencial.
func (h *OTPHandler) resolveSession(c *gin.Context, email, rawPurpose string) (*domain.OTPSession, bool) {
	purpose, ok := domain.ParseOTPPurpose(rawPurpose)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid otp purpose", "field": "otp_purpose"})
		return nil, false
	}

	token := tokenFromCookie(c, h.cfg.CookieName)
	if email == "" {
		if snap, ok := h.guard.Snapshot(token); ok {
			email = snap.Email
		}
	}
	if !domain.ValidEmail(email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please enter a valid email address", "field": "email"})
		return nil, false
	}

	if sess, ok := h.flow.Session(email, purpose); ok {
		return &sess, true
	}
	return h.flow.Begin(email, purpose, token), true
}

// Request maneja POST /otp/request.
func (h *OTPHandler) Request(c *gin.Context) {
	var req struct {
		Email   string `json:"email"`
		Purpose string `json:"otp_purpose" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email and OTP purpose are required"})
		return
	}
	sess, ok := h.resolveSession(c, req.Email, req.Purpose)
	if !ok {
		return
	}

	res := h.flow.RequestCode(c.Request.Context(), sess.ID)
	h.respond(c, sess.ID, res)
}

// Verify maneja POST /otp/verify/email.
func (h *OTPHandler) Verify(c *gin.Context) {
	var req struct {
		Email   string `json:"email"`
		Code    string `json:"code" binding:"required"`
		Purpose string `json:"otp_purpose" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email, OTP code, and purpose are required"})
		return
	}
	sess, ok := h.resolveSession(c, req.Email, req.Purpose)
	if !ok {
		return
	}

	res := h.flow.VerifyCode(c.Request.Context(), sess.ID, req.Code)
	h.respond(c, sess.ID, res)
}

// Resend maneja POST /otp/resend.
func (h *OTPHandler) Resend(c *gin.Context) {
	var req struct {
		Email   string `json:"email"`
		Purpose string `json:"otp_purpose" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email and OTP purpose are required"})
		return
	}
	sess, ok := h.resolveSession(c, req.Email, req.Purpose)
	if !ok {
		return
	}

	res := h.flow.Resend(c.Request.Context(), sess.ID)
	h.respond(c, sess.ID, res)
}

// Cooldown maneja GET /otp/cooldown: el restante se recalcula del deadline
// absoluto en cada consulta, el cliente solo lo muestra.
func (h *OTPHandler) Cooldown(c *gin.Context) {
	email := c.Query("email")
	purpose, ok := domain.ParseOTPPurpose(c.Query("otp_purpose"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid otp purpose"})
		return
	}
	if email == "" {
		if snap, ok := h.guard.Snapshot(tokenFromCookie(c, h.cfg.CookieName)); ok {
			email = snap.Email
		}
	}
	sess, ok := h.flow.Session(email, purpose)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"remaining_seconds": 0, "can_resend": false, "step": domain.StepAwaitingRequest.String()})
		return
	}
	remaining := h.flow.RemainingCooldown(sess.ID)
	c.JSON(http.StatusOK, gin.H{
		"remaining_seconds": int(remaining.Seconds()),
		"can_resend":        remaining <= 0 && sess.Step == domain.StepAwaitingCode,
		"step":              sess.Step.String(),
	})
}

func (h *OTPHandler) respond(c *gin.Context, sessionID string, res service.Result) {
	body := gin.H{
		"message":       res.Message,
		"attempts_left": res.AttemptsLeft,
	}
	if !res.ResendAvailableAt.IsZero() {
		body["resend_cooldown"] = int(h.flow.RemainingCooldown(sessionID).Seconds())
	}
	switch {
	case res.OK:
		if res.Verified {
			body["verified"] = true
		}
		c.JSON(http.StatusOK, body)
	case res.CooldownActive:
		c.JSON(http.StatusTooManyRequests, body)
	case res.Stale:
		c.JSON(http.StatusConflict, body)
	default:
		c.JSON(http.StatusBadRequest, body)
	}
}
