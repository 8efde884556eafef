package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"openfx-dash/internal/backend"
	"openfx-dash/internal/domain"
)

// Result es el objeto de resultado de las operaciones OTP. Ninguna operación
// propaga errores más allá de este borde: todo se resuelve a un Result.
type Result struct {
	OK                bool
	Stale             bool
	CooldownActive    bool
	Verified          bool
	Message           string
	AttemptsLeft      int
	ResendAvailableAt time.Time
}

const (
	msgOTPSent         = "OTP sent successfully to your email"
	msgOTPVerified     = "OTP verified successfully"
	msgOTPSendFailed   = "Network error occurred while sending OTP"
	msgOTPVerifyFailed = "Network error occurred during OTP verification"
	msgOTPInvalidCode  = "Please enter a valid 6-character verification code"
	msgOTPCooldown     = "Please wait before requesting a new code"
	msgSessionStale    = "Verification session expired, please start again"
)

// OTPFlow maneja el intercambio request/verify y el cooldown de reenvio,
// independiente del purpose que sirve.
type OTPFlow struct {
	logger      *zap.Logger
	api         backend.API
	guard       *SessionGuard
	cooldown    time.Duration
	maxAttempts int
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*domain.OTPSession
	owners   map[string]string
}

// NewOTPFlow crea el controlador OTP. cooldown es el default configurable
// (30s); una respuesta del backend con cooldown positivo lo pisa por envio.
func NewOTPFlow(logger *zap.Logger, api backend.API, guard *SessionGuard, cooldown time.Duration, maxAttempts int) *OTPFlow {
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &OTPFlow{
		logger:      logger,
		api:         api,
		guard:       guard,
		cooldown:    cooldown,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		sessions:    make(map[string]*domain.OTPSession),
		owners:      make(map[string]string),
	}
}

func ownerKey(email string, purpose domain.OTPPurpose) string {
	return strings.ToLower(strings.TrimSpace(email)) + "|" + string(purpose)
}

// Begin crea una sesión nueva al montar la superficie de verificación.
// Reemplaza cualquier sesión previa del mismo owner: el paso solo puede
// volver a AwaitingRequest arrancando de cero.
func (f *OTPFlow) Begin(email string, purpose domain.OTPPurpose, token string) *domain.OTPSession {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := ownerKey(email, purpose)
	if prev, ok := f.sessions[key]; ok {
		delete(f.owners, prev.ID)
	}
	sess := &domain.OTPSession{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		Purpose:      purpose,
		Step:         domain.StepAwaitingRequest,
		AttemptsLeft: f.maxAttempts,
		Token:        token,
	}
	f.sessions[key] = sess
	f.owners[sess.ID] = key
	return sess
}

// Abandon descarta la sesión al navegar fuera de la superficie.
func (f *OTPFlow) Abandon(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropLocked(sessionID)
}

func (f *OTPFlow) dropLocked(sessionID string) {
	key, ok := f.owners[sessionID]
	if !ok {
		return
	}
	delete(f.owners, sessionID)
	if sess, ok := f.sessions[key]; ok && sess.ID == sessionID {
		delete(f.sessions, key)
	}
}

// activeLocked devuelve la sesión solo si sigue siendo la activa de su owner.
// Comparar identidad de sesión, no solo email/purpose, descarta resultados
// de llamadas en vuelo que pertenecen a una sesión ya reemplazada.
func (f *OTPFlow) activeLocked(sessionID string) (*domain.OTPSession, bool) {
	key, ok := f.owners[sessionID]
	if !ok {
		return nil, false
	}
	sess, ok := f.sessions[key]
	if !ok || sess.ID != sessionID {
		return nil, false
	}
	return sess, true
}

// RequestCode pide el despacho del código al backend y avanza la sesión a
// AwaitingCode. La falla deja la sesión en AwaitingRequest.
func (f *OTPFlow) RequestCode(ctx context.Context, sessionID string) Result {
	f.mu.Lock()
	sess, ok := f.activeLocked(sessionID)
	if !ok {
		f.mu.Unlock()
		return Result{Stale: true, Message: msgSessionStale}
	}
	if !domain.ValidEmail(sess.Email) {
		f.mu.Unlock()
		return Result{Message: "Please enter a valid email address"}
	}
	email, purpose := sess.Email, sess.Purpose
	f.mu.Unlock()

	dispatch, err := f.api.RequestOTP(ctx, email, purpose)

	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok = f.activeLocked(sessionID)
	if !ok {
		// La sesión fue reemplazada o abandonada mientras la llamada volaba.
		return Result{Stale: true, Message: msgSessionStale}
	}
	if err != nil {
		if f.logger != nil {
			f.logger.Warn("otp request failed", zap.String("email", email), zap.Error(err))
		}
		return Result{
			Message:      dispatchErrorMessage(err, msgOTPSendFailed),
			AttemptsLeft: sess.AttemptsLeft,
		}
	}

	f.applyDispatchLocked(sess, dispatch)
	sess.Step = domain.StepAwaitingCode

	msg := dispatch.Message
	if msg == "" {
		msg = msgOTPSent
	}
	return Result{
		OK:                true,
		Message:           msg,
		AttemptsLeft:      sess.AttemptsLeft,
		ResendAvailableAt: sess.ResendAvailableAt,
	}
}

// Resend repite el despacho sin cambiar el paso. Antes de que expire el
// cooldown es un no-op sin llamada de red, aunque la UI deshabilite el boton:
// el controlador también sostiene el invariante.
func (f *OTPFlow) Resend(ctx context.Context, sessionID string) Result {
	f.mu.Lock()
	sess, ok := f.activeLocked(sessionID)
	if !ok {
		f.mu.Unlock()
		return Result{Stale: true, Message: msgSessionStale}
	}
	if sess.Step != domain.StepAwaitingCode {
		f.mu.Unlock()
		return Result{Message: "Request a verification code first"}
	}
	if !sess.CanResend(f.now()) {
		res := Result{
			CooldownActive:    true,
			Message:           msgOTPCooldown,
			AttemptsLeft:      sess.AttemptsLeft,
			ResendAvailableAt: sess.ResendAvailableAt,
		}
		f.mu.Unlock()
		return res
	}
	email, purpose := sess.Email, sess.Purpose
	f.mu.Unlock()

	dispatch, err := f.api.RequestOTP(ctx, email, purpose)

	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok = f.activeLocked(sessionID)
	if !ok {
		return Result{Stale: true, Message: msgSessionStale}
	}
	if err != nil {
		if f.logger != nil {
			f.logger.Warn("otp resend failed", zap.String("email", email), zap.Error(err))
		}
		return Result{
			Message:           dispatchErrorMessage(err, msgOTPSendFailed),
			AttemptsLeft:      sess.AttemptsLeft,
			ResendAvailableAt: sess.ResendAvailableAt,
		}
	}

	f.applyDispatchLocked(sess, dispatch)

	msg := dispatch.Message
	if msg == "" {
		msg = msgOTPSent
	}
	return Result{
		OK:                true,
		Message:           msg,
		AttemptsLeft:      sess.AttemptsLeft,
		ResendAvailableAt: sess.ResendAvailableAt,
	}
}

// VerifyCode somete el código al backend. En éxito para email_verification
// voltea el flag de la credencial vía el guard y destruye la sesión; en falla
// descuenta intentos y la sesión queda en AwaitingCode, nunca retrocede.
func (f *OTPFlow) VerifyCode(ctx context.Context, sessionID, code string) Result {
	f.mu.Lock()
	sess, ok := f.activeLocked(sessionID)
	if !ok {
		f.mu.Unlock()
		return Result{Stale: true, Message: msgSessionStale}
	}
	if sess.Step != domain.StepAwaitingCode {
		f.mu.Unlock()
		return Result{Message: "Request a verification code first"}
	}
	normalized, valid := domain.NormalizeOTPCode(code)
	if !valid {
		// Error de validación local: no se gasta intento ni red.
		res := Result{Message: msgOTPInvalidCode, AttemptsLeft: sess.AttemptsLeft}
		f.mu.Unlock()
		return res
	}
	email, purpose, token := sess.Email, sess.Purpose, sess.Token
	f.mu.Unlock()

	message, err := f.api.VerifyOTPEmail(ctx, email, normalized, purpose)

	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok = f.activeLocked(sessionID)
	if !ok {
		return Result{Stale: true, Message: msgSessionStale}
	}
	if err != nil {
		if sess.AttemptsLeft > 0 {
			sess.AttemptsLeft--
		}
		if f.logger != nil {
			f.logger.Warn("otp verify failed", zap.String("email", email), zap.Error(err))
		}
		return Result{
			Message:      dispatchErrorMessage(err, msgOTPVerifyFailed),
			AttemptsLeft: sess.AttemptsLeft,
		}
	}

	if purpose == domain.PurposeEmailVerification && token != "" && f.guard != nil {
		if err := f.guard.MarkEmailVerified(ctx, token); err != nil {
			if f.logger != nil {
				f.logger.Error("email verified flip failed", zap.Error(err))
			}
			return Result{
				Message:      "Could not update verification status, please try again",
				AttemptsLeft: sess.AttemptsLeft,
			}
		}
	}

	f.dropLocked(sessionID)
	if message == "" {
		message = msgOTPVerified
	}
	return Result{OK: true, Verified: true, Message: message}
}

// RemainingCooldown recalcula el restante desde el deadline absoluto.
func (f *OTPFlow) RemainingCooldown(sessionID string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.activeLocked(sessionID)
	if !ok {
		return 0
	}
	return sess.RemainingCooldown(f.now())
}

// Session devuelve un snapshot de la sesión activa para el owner dado.
func (f *OTPFlow) Session(email string, purpose domain.OTPPurpose) (domain.OTPSession, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[ownerKey(email, purpose)]
	if !ok {
		return domain.OTPSession{}, false
	}
	return *sess, true
}

func (f *OTPFlow) applyDispatchLocked(sess *domain.OTPSession, dispatch backend.OTPDispatch) {
	cooldown := f.cooldown
	if dispatch.CooldownSeconds > 0 {
		cooldown = time.Duration(dispatch.CooldownSeconds) * time.Second
	}
	sess.ResendAvailableAt = f.now().Add(cooldown)
	if dispatch.AttemptsLeft > 0 {
		sess.AttemptsLeft = dispatch.AttemptsLeft
	}
}

// dispatchErrorMessage devuelve el mensaje del backend si vino, o el generico.
func dispatchErrorMessage(err error, fallback string) string {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
