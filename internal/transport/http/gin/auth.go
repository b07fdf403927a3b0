package httpgin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"

	roleAdmin = "admin"
)

// Claims are the access token claims this service reads. Tokens are issued elsewhere.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticate verifies an HS256 bearer token and stores its subject and role
// in the context. With an empty secret every request passes unauthenticated.
func Authenticate(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(secret) == 0 {
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			abortAuth(c, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := parseToken(strings.TrimPrefix(auth, "Bearer "), secret)
		if err != nil {
			abortAuth(c, http.StatusUnauthorized, "invalid token")
			return
		}

		c.Set(ctxUserID, claims.Subject)
		c.Set(ctxRole, claims.Role)

		c.Next()
	}
}

// RequireAdmin must run after Authenticate. It is a no-op when auth is disabled.
func RequireAdmin(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(secret) == 0 {
			c.Next()
			return
		}
		if c.GetString(ctxRole) != roleAdmin {
			abortAuth(c, http.StatusForbidden, "admin role required")
			return
		}
		c.Next()
	}
}

func parseToken(raw string, secret []byte) (*Claims, error) {
	claims := &Claims{}

	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !tok.Valid || claims.Subject == "" {
		return nil, errors.New("token without subject")
	}

	return claims, nil
}

// callerID returns the authenticated subject, or "" when auth is disabled.
func callerID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

func isAdmin(c *gin.Context) bool {
	return c.GetString(ctxRole) == roleAdmin
}

func abortAuth(c *gin.Context, status int, msg string) {
	kind := "UnauthorizedError"
	if status == http.StatusForbidden {
		kind = "ForbiddenError"
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: kind, Message: msg})
}
