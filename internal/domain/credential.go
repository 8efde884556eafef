package domain

import (
	"encoding/json"
	"strings"
)

// Profile es el payload de perfil que entrega el backend.
type Profile struct {
	ID            string          `json:"id"`
	Email         string          `json:"email"`
	FirstName     string          `json:"first_name,omitempty"`
	LastName      string          `json:"last_name,omitempty"`
	Company       string          `json:"company,omitempty"`
	EmailVerified bool            `json:"email_verified"`
	Raw           json.RawMessage `json:"-"`
}

// Credential representa la identidad autenticada conocida por el gateway.
// Existe solo si token y perfil estan presentes y son consistentes.
type Credential struct {
	SubjectID     string
	Email         string
	EmailVerified bool
	Token         string
	Profile       Profile
}

// ParseProfile valida y decodifica un perfil persistido. Nunca lanza panico:
// devuelve ok=false ante JSON invalido o un perfil sin id.
func ParseProfile(raw []byte) (Profile, bool) {
	if len(raw) == 0 {
		return Profile{}, false
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return Profile{}, false
	}
	if strings.TrimSpace(p.ID) == "" {
		return Profile{}, false
	}
	p.Raw = append(json.RawMessage(nil), raw...)
	return p, true
}

// NewCredential arma una credencial a partir de token y perfil ya validados.
func NewCredential(token string, profile Profile) Credential {
	return Credential{
		SubjectID:     profile.ID,
		Email:         profile.Email,
		EmailVerified: profile.EmailVerified,
		Token:         token,
		Profile:       profile,
	}
}
