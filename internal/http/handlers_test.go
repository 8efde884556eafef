package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"openfx-dash/internal/backend"
	"openfx-dash/internal/config"
	"openfx-dash/internal/domain"
	"openfx-dash/internal/repository"
	"openfx-dash/internal/service"
)

type mockAPI struct {
	loginResp    backend.LoginResponse
	loginErr     error
	profileBody  []byte
	profileErr   error
	otpDispatch  backend.OTPDispatch
	otpErr       error
	verifyErr    error
	requestCalls int
	verifyCalls  int
}

func (m *mockAPI) Login(context.Context, string, string) (backend.LoginResponse, error) {
	return m.loginResp, m.loginErr
}

func (m *mockAPI) Signup(context.Context, backend.SignupRequest) error { return nil }

func (m *mockAPI) Profile(context.Context, string) ([]byte, error) {
	return m.profileBody, m.profileErr
}

func (m *mockAPI) RequestOTP(context.Context, string, domain.OTPPurpose) (backend.OTPDispatch, error) {
	m.requestCalls++
	return m.otpDispatch, m.otpErr
}

func (m *mockAPI) VerifyOTPEmail(context.Context, string, string, domain.OTPPurpose) (string, error) {
	m.verifyCalls++
	return "", m.verifyErr
}

type gatewayFixture struct {
	router *gin.Engine
	repo   repository.CredentialRepository
	guard  *service.SessionGuard
	flow   *service.OTPFlow
	api    *mockAPI
	cfg    *config.Config
}

func newGateway(t *testing.T, api *mockAPI) *gatewayFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		CookieName:               "authToken",
		CookieDomain:             "dev.openfxrates.com",
		OTPResendCooldownSeconds: 30,
		OTPMaxAttempts:           3,
	}
	repo := repository.NewMemoryCredentialRepository()
	guard := service.NewSessionGuard(zap.NewNop(), repo)
	flow := service.NewOTPFlow(zap.NewNop(), api, guard, 30*time.Second, 3)
	authH := NewAuthHandler(zap.NewNop(), cfg, api, repo, guard)
	otpH := NewOTPHandler(zap.NewNop(), cfg, flow, guard)
	return &gatewayFixture{
		router: NewRouter(zap.NewNop(), cfg, guard, authH, otpH),
		repo:   repo,
		guard:  guard,
		flow:   flow,
		api:    api,
		cfg:    cfg,
	}
}

func signTestToken(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().UTC().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func performRequest(r http.Handler, method, path string, body any, cookie string) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: "authToken", Value: cookie})
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func seedCredential(t *testing.T, fx *gatewayFixture, verified bool) string {
	t.Helper()
	token := signTestToken(t, "u1")
	profile := []byte(`{"id":"u1","email":"user@example.com","email_verified":false}`)
	if verified {
		profile = []byte(`{"id":"u1","email":"user@example.com","email_verified":true}`)
	}
	if err := fx.repo.Save(context.Background(), repository.Record{Token: token, Profile: profile}); err != nil {
		t.Fatalf("seed credential: %v", err)
	}
	return token
}

func TestLogin_SetsCookieAndPersistsRecord(t *testing.T) {
	token := "login-token"
	raw := []byte(`{"token":"login-token","id":"u1","email":"user@example.com","email_verified":false}`)
	profile, _ := domain.ParseProfile(raw)
	api := &mockAPI{loginResp: backend.LoginResponse{Token: token, Profile: profile, Raw: raw}}
	fx := newGateway(t, api)

	rec := performRequest(fx.router, http.MethodPost, "/auth/login", map[string]string{
		"email":    "user@example.com",
		"password": "Secret1!",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d body=%s", rec.Code, rec.Body.String())
	}

	setCookie := rec.Header().Get("Set-Cookie")
	if !strings.Contains(setCookie, "authToken=login-token") {
		t.Fatalf("cookie not set: %q", setCookie)
	}
	if !strings.Contains(setCookie, "SameSite=Strict") {
		t.Fatalf("cookie must be SameSite strict: %q", setCookie)
	}

	stored, ok, _ := fx.repo.Load(context.Background(), token)
	if !ok || stored.Token != token {
		t.Fatalf("record not persisted as a unit: %+v ok=%v", stored, ok)
	}
	if fx.guard.State(token) != service.StateAuthenticatedUnverified {
		t.Fatalf("guard state = %v", fx.guard.State(token))
	}
}

func TestLogin_RejectsMalformedEmailBeforeNetwork(t *testing.T) {
	api := &mockAPI{loginErr: errors.New("must not be called")}
	fx := newGateway(t, api)

	rec := performRequest(fx.router, http.MethodPost, "/auth/login", map[string]string{
		"email":    "not-an-email",
		"password": "Secret1!",
	}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGuardMiddleware_FreshVisitToProtectedRedirects(t *testing.T) {
	fx := newGateway(t, &mockAPI{})

	rec := performRequest(fx.router, http.MethodGet, "/app-ids", nil, "")
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/sign-in" {
		t.Fatalf("location = %q, want /sign-in", loc)
	}
}

func TestGuardMiddleware_RepeatAnonymousVisitsKeepRedirecting(t *testing.T) {
	fx := newGateway(t, &mockAPI{})

	// Dos visitantes sin cookie al mismo path protegido: ninguno debe heredar
	// la navegación pendiente del otro, ambos reciben su redirect.
	for i := 0; i < 2; i++ {
		rec := performRequest(fx.router, http.MethodGet, "/app-ids", nil, "")
		if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/sign-in" {
			t.Fatalf("visit %d: status=%d location=%q, want 302 /sign-in",
				i, rec.Code, rec.Header().Get("Location"))
		}
	}
}

func TestGuardMiddleware_VerifiedOnSignInRedirectsHome(t *testing.T) {
	fx := newGateway(t, &mockAPI{})
	token := seedCredential(t, fx, true)

	rec := performRequest(fx.router, http.MethodGet, "/sign-in", nil, token)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/" {
		t.Fatalf("status=%d location=%q, want 302 /", rec.Code, rec.Header().Get("Location"))
	}
}

func TestGuardMiddleware_UnverifiedOnHomeRedirectsToVerification(t *testing.T) {
	fx := newGateway(t, &mockAPI{})
	token := seedCredential(t, fx, false)

	rec := performRequest(fx.router, http.MethodGet, "/", nil, token)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/verification/email" {
		t.Fatalf("status=%d location=%q, want 302 /verification/email", rec.Code, rec.Header().Get("Location"))
	}
}

func TestGuardMiddleware_PendingRedirectAnswersNoContent(t *testing.T) {
	fx := newGateway(t, &mockAPI{})
	token := seedCredential(t, fx, false)

	first := performRequest(fx.router, http.MethodGet, "/", nil, token)
	if first.Code != http.StatusFound {
		t.Fatalf("first status = %d", first.Code)
	}
	// Reintento del mismo path con el redirect aún en vuelo: nada de contenido.
	second := performRequest(fx.router, http.MethodGet, "/", nil, token)
	if second.Code != http.StatusNoContent {
		t.Fatalf("second status = %d, want 204", second.Code)
	}
	// Llegada al destino: se renderiza la superficie de verificación.
	arrived := performRequest(fx.router, http.MethodGet, "/verification/email", nil, token)
	if arrived.Code != http.StatusOK {
		t.Fatalf("arrival status = %d body=%s", arrived.Code, arrived.Body.String())
	}
}

func TestGuardMiddleware_InvalidRecordClearsCookie(t *testing.T) {
	fx := newGateway(t, &mockAPI{})
	// Token con forma valida pero sin registro pareado.
	token := signTestToken(t, "u1")

	rec := performRequest(fx.router, http.MethodGet, "/app-ids", nil, token)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/sign-in" {
		t.Fatalf("status=%d location=%q", rec.Code, rec.Header().Get("Location"))
	}
	cleared := false
	for _, sc := range rec.Header().Values("Set-Cookie") {
		if strings.Contains(sc, "authToken=;") || strings.Contains(sc, "authToken=\"\"") {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("expected cookie expiry headers, got %v", rec.Header().Values("Set-Cookie"))
	}
}

func TestLogout_IdempotentAndClearsEverything(t *testing.T) {
	fx := newGateway(t, &mockAPI{})
	token := seedCredential(t, fx, true)

	first := performRequest(fx.router, http.MethodPost, "/auth/logout", nil, token)
	if first.Code != http.StatusOK {
		t.Fatalf("first logout = %d", first.Code)
	}
	if _, ok, _ := fx.repo.Load(context.Background(), token); ok {
		t.Fatalf("record must be gone after logout")
	}

	second := performRequest(fx.router, http.MethodPost, "/auth/logout", nil, token)
	if second.Code != http.StatusOK {
		t.Fatalf("second logout must not fail: %d", second.Code)
	}
}

func TestProfile_UnauthorizedTriggersLogoutPath(t *testing.T) {
	api := &mockAPI{profileErr: &backend.APIError{Status: http.StatusUnauthorized, Message: "expired"}}
	fx := newGateway(t, api)
	token := seedCredential(t, fx, true)

	rec := performRequest(fx.router, http.MethodGet, "/auth/profile", nil, token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if _, ok, _ := fx.repo.Load(context.Background(), token); ok {
		t.Fatalf("401 must clear the persisted credential")
	}
}

func TestOTPEndpoints_RequestVerifyRoundTrip(t *testing.T) {
	api := &mockAPI{}
	fx := newGateway(t, api)
	token := seedCredential(t, fx, false)

	reqBody := map[string]string{"email": "user@example.com", "otp_purpose": "email_verification"}
	rec := performRequest(fx.router, http.MethodPost, "/otp/request", reqBody, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("otp request = %d body=%s", rec.Code, rec.Body.String())
	}
	if api.requestCalls != 1 {
		t.Fatalf("dispatch calls = %d", api.requestCalls)
	}

	verifyBody := map[string]string{"email": "user@example.com", "code": "a1b2c3", "otp_purpose": "email_verification"}
	rec = performRequest(fx.router, http.MethodPost, "/otp/verify/email", verifyBody, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("otp verify = %d body=%s", rec.Code, rec.Body.String())
	}

	// La credencial quedó verificada: la home ya no redirige a verificación.
	home := performRequest(fx.router, http.MethodGet, "/", nil, token)
	if home.Code != http.StatusOK {
		t.Fatalf("home after verify = %d, want 200", home.Code)
	}
}

func TestOTPEndpoints_ResendInsideCooldownIsTooMany(t *testing.T) {
	api := &mockAPI{}
	fx := newGateway(t, api)
	token := seedCredential(t, fx, false)

	reqBody := map[string]string{"email": "user@example.com", "otp_purpose": "email_verification"}
	if rec := performRequest(fx.router, http.MethodPost, "/otp/request", reqBody, token); rec.Code != http.StatusOK {
		t.Fatalf("otp request = %d", rec.Code)
	}

	rec := performRequest(fx.router, http.MethodPost, "/otp/resend", reqBody, token)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("resend inside cooldown = %d, want 429", rec.Code)
	}
	if api.requestCalls != 1 {
		t.Fatalf("blocked resend must not dispatch, calls = %d", api.requestCalls)
	}
}

func TestOTPEndpoints_CooldownReportsRemaining(t *testing.T) {
	api := &mockAPI{}
	fx := newGateway(t, api)
	token := seedCredential(t, fx, false)

	reqBody := map[string]string{"email": "user@example.com", "otp_purpose": "email_verification"}
	if rec := performRequest(fx.router, http.MethodPost, "/otp/request", reqBody, token); rec.Code != http.StatusOK {
		t.Fatalf("otp request = %d", rec.Code)
	}

	rec := performRequest(fx.router, http.MethodGet, "/otp/cooldown?email=user%40example.com&otp_purpose=email_verification", nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("cooldown = %d", rec.Code)
	}
	var body struct {
		RemainingSeconds int    `json:"remaining_seconds"`
		Step             string `json:"step"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.RemainingSeconds <= 0 || body.RemainingSeconds > 30 {
		t.Fatalf("remaining = %d, want (0,30]", body.RemainingSeconds)
	}
	if body.Step != "awaiting_code" {
		t.Fatalf("step = %q", body.Step)
	}
}

func TestNoRoute_UnknownPathIsProtectedByDefault(t *testing.T) {
	fx := newGateway(t, &mockAPI{})

	rec := performRequest(fx.router, http.MethodGet, "/brand-new-page", nil, "")
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/sign-in" {
		t.Fatalf("unknown route must be protected: status=%d location=%q", rec.Code, rec.Header().Get("Location"))
	}
}
