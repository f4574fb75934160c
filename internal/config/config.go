package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const devSigningKey = "dev-signing-secret-change"

// defaultCORSOrigins allows local and LAN dashboards plus hosted frontend
// deployments.
var defaultCORSOrigins = []string{"http://localhost", "http://192.", "http://10.", "https://frontend-"}

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env              string
	HTTPPort         string
	DatabaseURL      string
	RedisAddr        string
	RedisPassword    string
	JWTIssuer        string
	JWTSigningKey    string
	TokenTTL         time.Duration
	DeviceSecret     string
	CORSOrigins      []string
	BcryptCost       int
	RateLimitPerMin  int
	RateLimitBackend string
	Location         *time.Location
	LogLevel         zerolog.Level
	LiveBuffer       int
	LivePing         time.Duration
	AdminUsername    string
	AdminPassword    string
}

// LoadDotEnv reads files into the process environment without overriding
// variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("file", f).Msg("could not read env file")
		}
	}
}

// Load returns application config populated from environment variables with sensible defaults.
func Load() App {
	return App{
		Env:              getEnv("APP_ENV", "dev"),
		HTTPPort:         getEnv("PORT", "3000"),
		DatabaseURL:      getEnv("DATABASE_URL", "./attendance.db"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		JWTIssuer:        getEnv("JWT_ISSUER", "scanattend"),
		JWTSigningKey:    getEnv("JWT_SECRET", devSigningKey),
		TokenTTL:         durationEnv("JWT_EXPIRES_IN", 8*time.Hour),
		DeviceSecret:     os.Getenv("DEVICE_SECRET"),
		CORSOrigins:      listEnv("CORS_ALLOWED_ORIGINS", defaultCORSOrigins),
		BcryptCost:       intEnv("BCRYPT_COST", 10),
		RateLimitPerMin:  intEnv("RATE_LIMIT_PER_MIN", 600),
		RateLimitBackend: getEnv("RATE_LIMIT_BACKEND", "memory"),
		Location:         locationEnv("TIMEZONE"),
		LogLevel:         levelEnv("LOG_LEVEL", zerolog.InfoLevel),
		LiveBuffer:       intEnv("LIVE_BUFFER", 64),
		LivePing:         durationEnv("LIVE_PING", 25*time.Second),
		AdminUsername:    os.Getenv("ADMIN_USERNAME"),
		AdminPassword:    os.Getenv("ADMIN_PASSWORD"),
	}
}

// Validate rejects settings that are unsafe outside development.
func (a App) Validate() error {
	if a.Env == "prod" || a.Env == "production" {
		if a.JWTSigningKey == devSigningKey {
			return errors.New("JWT_SECRET must be set in production")
		}
		if a.DeviceSecret == "" {
			return errors.New("DEVICE_SECRET must be set in production")
		}
	}
	if a.RateLimitBackend != "memory" && a.RateLimitBackend != "redis" {
		return fmt.Errorf("RATE_LIMIT_BACKEND %q: want memory or redis", a.RateLimitBackend)
	}
	if a.RateLimitBackend == "redis" && a.RedisAddr == "" {
		return errors.New("RATE_LIMIT_BACKEND=redis needs REDIS_ADDR")
	}
	return nil
}

// AllowOrigin reports whether origin matches one of the configured prefixes.
// A single "*" allows everything.
func (a App) AllowOrigin(origin string) bool {
	for _, p := range a.CORSOrigins {
		if p == "*" || strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Dur("fallback", fallback).Msg("invalid duration, using fallback")
			return fallback
		}
		return d
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Int("fallback", fallback).Msg("invalid int, using fallback")
	}
	return fallback
}

func listEnv(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func locationEnv(key string) *time.Location {
	val := os.Getenv(key)
	if val == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(val)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("unknown time zone, using local")
		return time.Local
	}
	return loc
}

func levelEnv(key string, fallback zerolog.Level) zerolog.Level {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(val))
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("invalid log level, using fallback")
		return fallback
	}
	return lvl
}
