package auth

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/session-migrator/pkg/response"
)

// TokenRequest is the body for POST /api/auth/token.
type TokenRequest struct {
	Service string `json:"service" binding:"required"`
}

// TokenResponse is the issued service token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	apiKey string
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(apiKey string, jwt *JWTService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{apiKey: apiKey, jwt: jwt, logger: logger}
}

// Token handles POST /api/auth/token. The caller proves itself with the shared x-api-key.
func (h *Handler) Token(c *gin.Context) {
	if err := CheckAPIKey(h.apiKey, c.GetHeader("x-api-key")); err != nil {
		response.Unauthorized(c, "invalid api key")
		return
	}
	if !h.jwt.Enabled() {
		response.ServiceUnavailable(c, "service tokens are disabled")
		return
	}
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	token, expires, err := h.jwt.Generate(req.Service)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	h.logger.Info("service token issued", zap.String("service", req.Service))
	response.Created(c, TokenResponse{Token: token, ExpiresAt: expires})
}
