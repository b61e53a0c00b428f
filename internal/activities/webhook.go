package activities

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	merrors "github.com/aura-webinar/session-migrator/internal/errors"
	"github.com/aura-webinar/session-migrator/internal/models"
	"github.com/aura-webinar/session-migrator/pkg/queue"
	"github.com/aura-webinar/session-migrator/pkg/response"
)

// ActivityGetter loads one activity.
type ActivityGetter interface {
	GetActivity(ctx context.Context, id uuid.UUID) (*models.Activity, error)
}

// Dispatcher starts background processing of one activity.
type Dispatcher interface {
	Dispatch(ctx context.Context, id uuid.UUID, trigger queue.Trigger) error
}

// RecordingReadyPayload is the body the main backend sends when a live session's recording exists.
type RecordingReadyPayload struct {
	ActivityID string `json:"activityId" binding:"required"`
}

// RecordingReadyAck is returned before any processing happens.
type RecordingReadyAck struct {
	ActivityID    uuid.UUID `json:"activity_id"`
	ActivityTitle string    `json:"activity_title,omitempty"`
	Processing    bool      `json:"processing"`
	Processed     *bool     `json:"processed,omitempty"`
}

// WebhookHandler handles recording-ready notifications.
type WebhookHandler struct {
	store      ActivityGetter
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(store ActivityGetter, d Dispatcher, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{store: store, dispatcher: d, logger: logger}
}

// RecordingReady handles POST /api/webhooks/recording-ready. It acknowledges and hands the
// activity to the dispatcher; pipeline errors never reach the caller.
func (h *WebhookHandler) RecordingReady(c *gin.Context) {
	var body RecordingReadyPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "activityId is required")
		return
	}
	id, err := uuid.Parse(body.ActivityID)
	if err != nil {
		response.BadRequest(c, "invalid activityId")
		return
	}

	a, err := h.store.GetActivity(c.Request.Context(), id)
	if err != nil {
		if !errors.Is(err, merrors.ErrNotFound) {
			h.logger.Error("webhook activity lookup failed", zap.String("activity_id", id.String()), zap.Error(err))
		}
		response.Error(c, err)
		return
	}
	if !a.Migration.RecordingAvailable {
		processed := false
		response.OKMessage(c, "Recording not available yet", RecordingReadyAck{ActivityID: id, Processed: &processed})
		return
	}

	if err := h.dispatcher.Dispatch(c.Request.Context(), id, queue.TriggerWebhook); err != nil {
		h.logger.Error("webhook dispatch failed", zap.String("activity_id", id.String()), zap.Error(err))
		response.ServiceUnavailable(c, "failed to schedule processing")
		return
	}
	h.logger.Info("recording ready, processing scheduled", zap.String("activity_id", id.String()))
	response.OKMessage(c, "Recording processing started", RecordingReadyAck{
		ActivityID:    id,
		ActivityTitle: a.Title,
		Processing:    true,
	})
}
