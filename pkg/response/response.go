package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	merrors "github.com/aura-webinar/session-migrator/internal/errors"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// OKMessage sends a 200 JSON response with a message and data.
func OKMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Message: message, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// Accepted sends a 202 JSON response for work continuing in the background.
func Accepted(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusAccepted, Body{Success: true, Message: message, Data: data})
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, Body{Success: false, Error: err})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Error: err})
}

// NotFound sends 404.
func NotFound(c *gin.Context, err string) {
	c.JSON(http.StatusNotFound, Body{Success: false, Error: err})
}

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, err string) {
	c.JSON(http.StatusServiceUnavailable, Body{Success: false, Error: err})
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	c.JSON(http.StatusInternalServerError, Body{Success: false, Error: err})
}

// Error sends err with the status matching its kind and records it on the context
// so the request logger can report it.
func Error(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(StatusFor(err), Body{Success: false, Error: err.Error()})
}

// StatusFor maps a pipeline error kind to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, merrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, merrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, merrors.ErrTransferTimeout), merrors.IsTimeout(err):
		return http.StatusGatewayTimeout
	case errors.Is(err, merrors.ErrUpstreamUnavailable), errors.Is(err, merrors.ErrTransferFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
