package middleware

import (
	"net/http"
	"strings"

	"docstore-cache/internal/auth"

	"github.com/gin-gonic/gin"
)

// Context keys set by JWTAuthMiddleware.
const (
	ClientIDKey = "client_id"
	UsernameKey = "username"
)

// tokenQueryParam carries the token for websocket upgrades, where browsers
// cannot set headers.
const tokenQueryParam = "token"

// JWTAuthMiddleware rejects requests without a valid token and records the
// caller's client id and username on the context.
func JWTAuthMiddleware(tokens *auth.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := requestToken(c)
		if raw == "" {
			abortUnauthorized(c, "Authorization token is required")
			return
		}

		claims, err := tokens.ValidateToken(raw)
		if err != nil {
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(ClientIDKey, claims.ClientID)
		c.Set(UsernameKey, claims.Username)
		c.Next()
	}
}

// requestToken reads a bearer token from the Authorization header, then
// from the token query parameter.
func requestToken(c *gin.Context) string {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") && token != "" {
		return strings.TrimSpace(token)
	}
	return c.Query(tokenQueryParam)
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}
