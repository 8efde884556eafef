package config

import "github.com/caarlos0/env/v10"

// Config centraliza la configuración del gateway.
type Config struct {
	HTTPPort       string `env:"HTTP_PORT" envDefault:"3001"`
	BackendBaseURL string `env:"BACKEND_BASE_URL" envDefault:"http://dev.openfxrates.com:8000"`
	Production     bool   `env:"PRODUCTION" envDefault:"false"`

	CookieName   string `env:"COOKIE_NAME" envDefault:"authToken"`
	CookieDomain string `env:"COOKIE_DOMAIN" envDefault:"dev.openfxrates.com"`

	OTPResendCooldownSeconds int `env:"OTP_RESEND_COOLDOWN_SECONDS" envDefault:"30"`
	OTPMaxAttempts           int `env:"OTP_MAX_ATTEMPTS" envDefault:"3"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
