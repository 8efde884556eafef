package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisCredentialRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// La vida del registro acompaña a la cookie de 7 dias.
const recordTTL = 7 * 24 * time.Hour

// NewRedisCredentialRepository crea un repositorio respaldado en redis.
// El registro completo se guarda como un solo valor JSON, asi una lectura
// nunca observa un perfil actualizado sin su token pareado.
func NewRedisCredentialRepository(client *redis.Client) CredentialRepository {
	if client == nil {
		return nil
	}
	return &redisCredentialRepository{
		client: client,
		prefix: "userInfo:",
		ttl:    recordTTL,
	}
}

func (r *redisCredentialRepository) key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return r.prefix + hex.EncodeToString(sum[:])
}

func (r *redisCredentialRepository) Save(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.Token) == "" || len(rec.Profile) == 0 {
		return ErrRecordIncomplete
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return r.client.Set(ctx, r.key(rec.Token), payload, r.ttl).Err()
}

func (r *redisCredentialRepository) Load(ctx context.Context, token string) (Record, bool, error) {
	if strings.TrimSpace(token) == "" {
		return Record{}, false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	payload, err := r.client.Get(ctx, r.key(token)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (r *redisCredentialRepository) SetEmailVerified(ctx context.Context, token string) error {
	rec, ok, err := r.Load(ctx, token)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRecordIncomplete
	}
	updated, err := markProfileVerified(rec.Profile)
	if err != nil {
		return err
	}
	rec.Profile = updated
	return r.Save(ctx, rec)
}

func (r *redisCredentialRepository) Clear(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return r.client.Del(ctx, r.key(token)).Err()
}
