package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"openfx-dash/internal/backend"
	"openfx-dash/internal/config"
	apihttp "openfx-dash/internal/http"
	"openfx-dash/internal/repository"
	"openfx-dash/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Sin redis el gateway corre con registro en memoria: las sesiones no
	// sobreviven un reinicio del proceso.
	credRepo := repository.NewMemoryCredentialRepository()
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using memory credential store", zap.Error(err))
		} else {
			credRepo = repository.NewRedisCredentialRepository(redisClient)
		}
		cancel()
	}

	api := backend.NewHTTPClient(cfg.BackendBaseURL, logger)
	guard := service.NewSessionGuard(logger, credRepo)
	otpFlow := service.NewOTPFlow(
		logger,
		api,
		guard,
		time.Duration(cfg.OTPResendCooldownSeconds)*time.Second,
		cfg.OTPMaxAttempts,
	)

	authHandler := apihttp.NewAuthHandler(logger, cfg, api, credRepo, guard)
	otpHandler := apihttp.NewOTPHandler(logger, cfg, otpFlow, guard)
	router := apihttp.NewRouter(logger, cfg, guard, authHandler, otpHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting gateway",
		zap.String("port", cfg.HTTPPort),
		zap.String("backend", cfg.BackendBaseURL),
	)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
