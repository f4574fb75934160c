package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"scanattend/internal/attendance"
	"scanattend/internal/auth"
	"scanattend/internal/config"
	"scanattend/internal/handler"
	"scanattend/internal/httpmiddleware"
	"scanattend/internal/metrics"
	"scanattend/internal/realtime"
	"scanattend/internal/store"
	"scanattend/internal/users"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()

	zerolog.SetGlobalLevel(cfg.LogLevel)
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "scanattend").Logger()
	if cfg.Env == "dev" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = logger
	zerolog.DefaultContextLogger = &logger

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("http server failed")
	}
}

func runHTTP(cfg config.App, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info().Str("driver", db.Driver).Msg("database ready")

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
	defer redisClient.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	clock := clockwork.NewRealClock()
	hub := realtime.NewHub(cfg.LiveBuffer, m)
	tokens := auth.NewTokens(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.TokenTTL, clock)
	att := attendance.NewService(attendance.NewRepository(db, clock, cfg.Location), hub, cfg.DeviceSecret, m)
	us := users.NewService(users.NewRepository(db, clock, cfg.Location), auth.NewHasher(cfg.BcryptCost), tokens)

	if cfg.DeviceSecret == "" {
		logger.Warn().Msg("DEVICE_SECRET is empty, every scan will be rejected")
	}
	if cfg.AdminUsername != "" && cfg.AdminPassword != "" {
		created, err := us.Bootstrap(logger.WithContext(ctx), cfg.AdminUsername, cfg.AdminPassword)
		if err != nil {
			return err
		}
		if created {
			logger.Info().Str("username", cfg.AdminUsername).Msg("bootstrap admin created")
		}
	}

	var limiter httpmiddleware.Limiter = httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin, clock)
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewFixedWindow(redisClient.Client, cfg.RateLimitPerMin, clock)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger, m))
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  cfg.AllowOrigin,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", httpmiddleware.RequestIDHeader},
		ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.RateLimit(limiter, "/api/live", "/metrics", "/healthz"))

	handler.New(handler.Deps{
		Attendance: att,
		Users:      us,
		Tokens:     tokens,
		Hub:        hub,
		DB:         db,
		Redis:      redisClient,
		Metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Clock:      clock,
		LivePing:   cfg.LivePing,
	}).Routes(r)

	// Live streams are long-lived, so there is no write timeout. Cancelling
	// the base context ends them on shutdown.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info().Msg("shutting down server")

	cancelBase()
	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
