package domain

import (
	"strings"
	"time"
)

// OTPPurpose identifica el flujo que sirve un intercambio OTP.
type OTPPurpose string

const (
	PurposeEmailVerification OTPPurpose = "email_verification"
	PurposeForgotPassword    OTPPurpose = "forgot_password"
	PurposeUpdatePassword    OTPPurpose = "update_password"
)

// ParseOTPPurpose valida el valor de wire de un purpose.
func ParseOTPPurpose(raw string) (OTPPurpose, bool) {
	switch OTPPurpose(strings.ToLower(strings.TrimSpace(raw))) {
	case PurposeEmailVerification:
		return PurposeEmailVerification, true
	case PurposeForgotPassword:
		return PurposeForgotPassword, true
	case PurposeUpdatePassword:
		return PurposeUpdatePassword, true
	default:
		return "", false
	}
}

// OTPStep es el paso del intercambio. Solo avanza AwaitingRequest -> AwaitingCode;
// nunca retrocede salvo creando una sesion nueva.
type OTPStep int

const (
	StepAwaitingRequest OTPStep = iota
	StepAwaitingCode
)

func (s OTPStep) String() string {
	if s == StepAwaitingCode {
		return "awaiting_code"
	}
	return "awaiting_request"
}

// OTPSession representa un intercambio OTP en curso.
type OTPSession struct {
	ID                string
	Email             string
	Purpose           OTPPurpose
	Step              OTPStep
	ResendAvailableAt time.Time
	AttemptsLeft      int
	// Token de la credencial que origino la sesion; vacio para flujos
	// sin sesion iniciada (forgot-password).
	Token string
}

// CanResend reporta si el cooldown de reenvio ya expiro.
func (s *OTPSession) CanResend(now time.Time) bool {
	if s == nil {
		return false
	}
	return !now.Before(s.ResendAvailableAt)
}

// RemainingCooldown recalcula el tiempo restante desde el deadline absoluto.
// Nunca decrementa un contador propio, asi no deriva con timers throttled.
func (s *OTPSession) RemainingCooldown(now time.Time) time.Duration {
	if s == nil || !now.Before(s.ResendAvailableAt) {
		return 0
	}
	return s.ResendAvailableAt.Sub(now)
}

// NormalizeOTPCode recorta, pasa a mayusculas y valida el formato del codigo:
// exactamente 6 caracteres alfanumericos.
func NormalizeOTPCode(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 6 {
		return "", false
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", false
		}
	}
	return code, true
}
