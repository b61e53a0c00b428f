package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/session-migrator/internal/auth"
	"github.com/aura-webinar/session-migrator/pkg/response"
)

const (
	// ContextService is the key for the authenticated caller in gin context.
	ContextService = "service"
	// APIKeyService names callers that authenticated with the shared key.
	APIKeyService = "api-key"
)

// Auth accepts either the shared x-api-key header or a service bearer token.
func Auth(apiKey string, jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader("x-api-key"); key != "" {
			if auth.CheckAPIKey(apiKey, key) != nil {
				response.Unauthorized(c, "invalid api key")
				c.Abort()
				return
			}
			c.Set(ContextService, APIKeyService)
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing x-api-key or authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextService, claims.Service)
		c.Next()
	}
}

// TokenAuthorizer adapts the same rules to the websocket upgrade, which carries the
// credential in a query parameter.
func TokenAuthorizer(apiKey string, jwtService *auth.JWTService) func(token string) error {
	return func(token string) error {
		if auth.CheckAPIKey(apiKey, token) == nil {
			return nil
		}
		_, err := jwtService.Validate(token)
		return err
	}
}
