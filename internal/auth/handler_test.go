package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler("key", NewJWTService(secret, 1), nil)
	r.POST("/api/auth/token", h.Token)
	return r
}

func postToken(r http.Handler, apiKey, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/token", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_Token(t *testing.T) {
	r := newTokenRouter("secret")

	w := postToken(r, "key", `{"service":"lms"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var body struct {
		Success bool          `json:"success"`
		Data    TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)

	claims, err := NewJWTService("secret", 1).Validate(body.Data.Token)
	require.NoError(t, err)
	assert.Equal(t, "lms", claims.Service)
}

func TestHandler_TokenErrors(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		apiKey string
		body   string
		want   int
	}{
		{"wrong key", "secret", "nope", `{"service":"lms"}`, http.StatusUnauthorized},
		{"missing key", "secret", "", `{"service":"lms"}`, http.StatusUnauthorized},
		{"missing service", "secret", "key", `{}`, http.StatusBadRequest},
		{"disabled", "", "key", `{"service":"lms"}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postToken(newTokenRouter(tt.secret), tt.apiKey, tt.body)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
