package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"scanattend/internal/apperr"
	"scanattend/internal/model"
)

// Token failures. All three are Unauthenticated; callers may log them apart.
var (
	ErrTokenMissing = apperr.New(apperr.Unauthenticated, "missing token")
	ErrTokenInvalid = apperr.New(apperr.Unauthenticated, "invalid or expired token")
	ErrTokenExpired = apperr.New(apperr.Unauthenticated, "invalid or expired token")
)

// Identity is what a session token asserts.
type Identity struct {
	ID       int64      `json:"id"`
	Username string     `json:"username"`
	Role     model.Role `json:"role"`
}

// Claims represents JWT payload.
type Claims struct {
	Identity
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 session tokens.
type Tokens struct {
	key    []byte
	issuer string
	ttl    time.Duration
	clock  clockwork.Clock
}

// NewTokens creates a token service. A nil clock uses wall time.
func NewTokens(key, issuer string, ttl time.Duration, clock clockwork.Clock) *Tokens {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tokens{key: []byte(key), issuer: issuer, ttl: ttl, clock: clock}
}

// TTL returns the configured token lifetime.
func (t *Tokens) TTL() time.Duration { return t.ttl }

// Issue signs a token for id that expires after the configured TTL.
func (t *Tokens) Issue(id Identity) (string, time.Time, error) {
	now := t.clock.Now()
	exp := now.Add(t.ttl)
	claims := Claims{
		Identity: id,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   strconv.FormatInt(id.ID, 10),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify validates a token and returns its claims. The error is one of
// ErrTokenMissing, ErrTokenExpired or ErrTokenInvalid.
func (t *Tokens) Verify(tokenStr string) (Claims, error) {
	if tokenStr == "" {
		return Claims{}, ErrTokenMissing
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return t.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrTokenInvalid
	}
	if !claims.Role.Valid() {
		return Claims{}, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	}
	return *claims, nil
}

// Authorize fails with Forbidden unless the claims carry role.
func Authorize(claims Claims, role model.Role) error {
	if claims.Role != role {
		return apperr.New(apperr.Forbidden, "forbidden")
	}
	return nil
}

// FailureReason names a token failure for logs.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenMissing):
		return "missing"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	default:
		return "invalid"
	}
}
