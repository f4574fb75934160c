package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"APP_ENV", "PORT", "DATABASE_URL", "REDIS_ADDR", "JWT_SECRET", "JWT_EXPIRES_IN", "DEVICE_SECRET", "CORS_ALLOWED_ORIGINS", "TIMEZONE", "LOG_LEVEL", "RATE_LIMIT_BACKEND"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	assert.Equal(t, "3000", cfg.HTTPPort)
	assert.Equal(t, "./attendance.db", cfg.DatabaseURL)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 8*time.Hour, cfg.TokenTTL)
	assert.Empty(t, cfg.DeviceSecret)
	assert.Equal(t, time.Local, cfg.Location)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	assert.Equal(t, "memory", cfg.RateLimitBackend)
	assert.NoError(t, cfg.Validate())

	assert.True(t, cfg.AllowOrigin("http://localhost:5173"))
	assert.True(t, cfg.AllowOrigin("http://192.0.2.15:3000"))
	assert.True(t, cfg.AllowOrigin("http://10.1.2.3"))
	assert.True(t, cfg.AllowOrigin("https://frontend-scanattend.vercel.app"))
	assert.False(t, cfg.AllowOrigin("https://evil.example"))
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("JWT_EXPIRES_IN", "30m")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("BCRYPT_COST", "12")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , https://b.example ,")

	cfg := Load()
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("JWT_EXPIRES_IN", "forever")
	t.Setenv("BCRYPT_COST", "lots")
	t.Setenv("TIMEZONE", "Mars/Olympus")
	t.Setenv("LOG_LEVEL", "loud")

	cfg := Load()
	assert.Equal(t, 8*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.Equal(t, time.Local, cfg.Location)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
}

func TestAllowOrigin(t *testing.T) {
	cfg := App{CORSOrigins: []string{"http://localhost", "http://192.168."}}
	assert.True(t, cfg.AllowOrigin("http://localhost:5173"))
	assert.True(t, cfg.AllowOrigin("http://192.168.1.20:3000"))
	assert.False(t, cfg.AllowOrigin("https://evil.example"))

	cfg.CORSOrigins = []string{"*"}
	assert.True(t, cfg.AllowOrigin("https://anything.example"))
}

func TestValidate(t *testing.T) {
	cfg := App{Env: "production", JWTSigningKey: devSigningKey, DeviceSecret: "s", RateLimitBackend: "memory"}
	assert.Error(t, cfg.Validate())

	cfg.JWTSigningKey = "real-secret"
	assert.NoError(t, cfg.Validate())

	cfg.DeviceSecret = ""
	assert.Error(t, cfg.Validate())

	cfg = App{RateLimitBackend: "redis"}
	assert.Error(t, cfg.Validate())
	cfg.RedisAddr = "localhost:6379"
	assert.NoError(t, cfg.Validate())

	cfg.RateLimitBackend = "memcached"
	assert.Error(t, cfg.Validate())
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("SCANATTEND_TEST_A=fromfile\nSCANATTEND_TEST_B=fromfile\n"), 0o600))
	t.Setenv("SCANATTEND_TEST_A", "fromenv")
	t.Setenv("SCANATTEND_TEST_B", "")
	os.Unsetenv("SCANATTEND_TEST_B")

	LoadDotEnv(path, filepath.Join(dir, "missing.env"))
	assert.Equal(t, "fromenv", os.Getenv("SCANATTEND_TEST_A"))
	assert.Equal(t, "fromfile", os.Getenv("SCANATTEND_TEST_B"))
}
