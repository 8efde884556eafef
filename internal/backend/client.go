package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"openfx-dash/internal/domain"
)

// API define las llamadas al backend opaco de openfxrates.
type API interface {
	Login(ctx context.Context, email, password string) (LoginResponse, error)
	Signup(ctx context.Context, req SignupRequest) error
	Profile(ctx context.Context, token string) ([]byte, error)
	RequestOTP(ctx context.Context, email string, purpose domain.OTPPurpose) (OTPDispatch, error)
	VerifyOTPEmail(ctx context.Context, email, code string, purpose domain.OTPPurpose) (string, error)
}

// LoginResponse es la respuesta de POST /auth/login: token mas el perfil plano.
type LoginResponse struct {
	Token   string
	Profile domain.Profile
	Raw     json.RawMessage
}

type SignupRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company,omitempty"`
}

// OTPDispatch son los metadatos que devuelve POST /otp/request. Los campos
// quedan en cero cuando el backend los omite.
type OTPDispatch struct {
	CooldownSeconds int    `json:"resend_cooldown"`
	ExpiresAt       string `json:"expires_at"`
	AttemptsLeft    int    `json:"attempts_left"`
	Message         string `json:"message"`
}

// APIError representa una respuesta non-2xx del backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend status %d", e.Status)
}

// IsUnauthorized reporta si err es una respuesta 401 del backend.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// AsAPIError extrae el *APIError envuelto, si lo hay.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// HTTPClient implementa API contra el backend REST.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient construye un cliente apuntando al backend configurado.
func NewHTTPClient(baseURL string, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

func (c *HTTPClient) Login(ctx context.Context, email, password string) (LoginResponse, error) {
	body, err := c.post(ctx, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return LoginResponse{}, err
	}

	var envelope struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return LoginResponse{}, fmt.Errorf("unmarshal login response: %w", err)
	}
	// Un 2xx sin token es un login fallido mal reportado por el backend.
	if strings.TrimSpace(envelope.Token) == "" {
		return LoginResponse{}, &APIError{Status: http.StatusUnauthorized, Message: "Unauthorized"}
	}

	profile, ok := domain.ParseProfile(body)
	if !ok {
		return LoginResponse{}, fmt.Errorf("login response without valid profile")
	}
	return LoginResponse{
		Token:   envelope.Token,
		Profile: profile,
		Raw:     append(json.RawMessage(nil), body...),
	}, nil
}

func (c *HTTPClient) Signup(ctx context.Context, req SignupRequest) error {
	_, err := c.post(ctx, "/auth/signup", req)
	return err
}

func (c *HTTPClient) Profile(ctx context.Context, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/profile", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *HTTPClient) RequestOTP(ctx context.Context, email string, purpose domain.OTPPurpose) (OTPDispatch, error) {
	body, err := c.post(ctx, "/otp/request", map[string]string{
		"email":       email,
		"otp_purpose": string(purpose),
	})
	if err != nil {
		return OTPDispatch{}, err
	}

	var dispatch OTPDispatch
	if len(body) > 0 {
		// Metadatos opcionales; un body no decodificable no invalida el envio.
		if err := json.Unmarshal(body, &dispatch); err != nil && c.logger != nil {
			c.logger.Warn("otp dispatch metadata undecodable", zap.Error(err))
			dispatch = OTPDispatch{}
		}
	}
	return dispatch, nil
}

func (c *HTTPClient) VerifyOTPEmail(ctx context.Context, email, code string, purpose domain.OTPPurpose) (string, error) {
	body, err := c.post(ctx, "/otp/verify/email", map[string]string{
		"email":       email,
		"code":        code,
		"otp_purpose": string(purpose),
	})
	if err != nil {
		return "", err
	}
	var resp struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &resp)
	return resp.Message, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *HTTPClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var msg struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(respBody, &msg); err == nil {
			apiErr.Message = msg.Message
		}
		if c.logger != nil {
			c.logger.Warn("backend error",
				zap.String("path", req.URL.Path),
				zap.Int("status", resp.StatusCode),
				zap.String("message", apiErr.Message),
			)
		}
		return nil, apiErr
	}
	return respBody, nil
}
