package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"scanattend/internal/apperr"
	"scanattend/internal/model"
)

const claimsKey = "claims"

// RequireToken enforces bearer JWT tokens and stores the claims on the
// context.
func RequireToken(tokens *Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := tokens.Verify(bearer(c.GetHeader("Authorization")))
		if err != nil {
			zerolog.Ctx(c.Request.Context()).Info().
				Str("reason", FailureReason(err)).
				Msg("rejected token")
			status, msg := apperr.Public(err)
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireRole must run after RequireToken.
func RequireRole(role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		if err := Authorize(claims, role); err != nil {
			c.AbortWithStatusJSON(apperr.Forbidden.Status(), gin.H{"error": "admins only"})
			return
		}
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by RequireToken.
func ClaimsFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

func bearer(header string) string {
	if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("bearer "):])
}
