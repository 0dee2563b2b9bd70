package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"coordmutex/pkg/auth"
)

const (
	// AuthHeaderKey is the standard Authorization header
	AuthHeaderKey = "Authorization"
	// ContextClaimsKey is the key used to store token claims in context
	ContextClaimsKey = "claims"
	// ContextRequestIDKey is the key used to store request ID
	ContextRequestIDKey = "request_id"
)

// AuthMiddleware requires a valid Bearer token. A nil service disables
// authentication.
func AuthMiddleware(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jwtService == nil {
			c.Next()
			return
		}

		claims, err := bearerClaims(c, jwtService)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
				"hint":  "provide a Bearer token",
			})
			return
		}

		c.Set(ContextClaimsKey, claims)
		c.Next()
	}
}

func bearerClaims(c *gin.Context, jwtService *auth.JWTService) (*auth.Claims, error) {
	header := c.GetHeader(AuthHeaderKey)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return nil, auth.ErrInvalidToken
	}
	return jwtService.ValidateToken(token)
}

// GetClaims retrieves token claims from the request context
func GetClaims(c *gin.Context) (*auth.Claims, bool) {
	value, exists := c.Get(ContextClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*auth.Claims)
	return claims, ok
}

// RequireRole rejects callers below the required role. Without claims in the
// context (authentication disabled) every caller passes.
func RequireRole(required auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			c.Next()
			return
		}

		if !claims.Role.HasPermission(required) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    auth.ErrInsufficientRole.Error(),
				"required": required,
				"current":  claims.Role,
			})
			return
		}

		c.Next()
	}
}
