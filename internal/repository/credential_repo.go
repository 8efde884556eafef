package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"openfx-dash/internal/domain"
)

// Record es la unidad logica persistida: token y perfil siempre juntos,
// nunca uno actualizado sin el otro.
type Record struct {
	Token   string          `json:"token"`
	Profile json.RawMessage `json:"profile"`
}

var ErrRecordIncomplete = errors.New("credential record incomplete")

// CredentialRepository persiste el registro credencial pareado por token.
type CredentialRepository interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context, token string) (Record, bool, error)
	// SetEmailVerified reescribe el registro completo con email_verified=true.
	// Es la unica mutacion permitida al flujo OTP.
	SetEmailVerified(ctx context.Context, token string) error
	// Clear es idempotente: no falla si el registro ya no existe.
	Clear(ctx context.Context, token string) error
}

type memoryCredentialRepository struct {
	mu    sync.Mutex
	items map[string]Record
}

// NewMemoryCredentialRepository crea un repositorio en memoria, util para
// tests y para correr sin redis.
func NewMemoryCredentialRepository() CredentialRepository {
	return &memoryCredentialRepository{
		items: make(map[string]Record),
	}
}

func (r *memoryCredentialRepository) Save(_ context.Context, rec Record) error {
	if strings.TrimSpace(rec.Token) == "" || len(rec.Profile) == 0 {
		return ErrRecordIncomplete
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[rec.Token] = Record{
		Token:   rec.Token,
		Profile: append(json.RawMessage(nil), rec.Profile...),
	}
	return nil
}

func (r *memoryCredentialRepository) Load(_ context.Context, token string) (Record, bool, error) {
	if strings.TrimSpace(token) == "" {
		return Record{}, false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.items[token]
	if !ok {
		return Record{}, false, nil
	}
	return Record{
		Token:   rec.Token,
		Profile: append(json.RawMessage(nil), rec.Profile...),
	}, true, nil
}

func (r *memoryCredentialRepository) SetEmailVerified(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.items[token]
	if !ok {
		return ErrRecordIncomplete
	}
	updated, err := markProfileVerified(rec.Profile)
	if err != nil {
		return err
	}
	r.items[token] = Record{Token: rec.Token, Profile: updated}
	return nil
}

func (r *memoryCredentialRepository) Clear(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, token)
	return nil
}

// markProfileVerified reescribe el blob de perfil con email_verified=true
// preservando el resto de campos tal cual los entrego el backend.
func markProfileVerified(raw json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["email_verified"] = json.RawMessage("true")
	updated, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	if _, ok := domain.ParseProfile(updated); !ok {
		return nil, ErrRecordIncomplete
	}
	return updated, nil
}
