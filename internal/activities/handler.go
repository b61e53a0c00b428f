package activities

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/session-migrator/internal/migration"
	"github.com/aura-webinar/session-migrator/internal/models"
	"github.com/aura-webinar/session-migrator/pkg/response"
)

// Pipeline is the migration surface the HTTP handlers drive.
type Pipeline interface {
	ListEligible(ctx context.Context) ([]models.Activity, error)
	Download(ctx context.Context, id uuid.UUID) (*migration.DownloadResult, error)
	Upload(ctx context.Context, id uuid.UUID) (*migration.UploadResult, error)
	ProcessNext(ctx context.Context) (*migration.RunResult, error)
}

// PendingList is the body of GET /api/activities/pending-uploads.
type PendingList struct {
	Count      int               `json:"count"`
	Activities []models.Activity `json:"activities"`
}

// Handler handles activity migration HTTP endpoints.
type Handler struct {
	pipeline Pipeline
	logger   *zap.Logger
}

// NewHandler creates an activities handler.
func NewHandler(p Pipeline, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{pipeline: p, logger: logger}
}

// PendingUploads handles GET /api/activities/pending-uploads.
func (h *Handler) PendingUploads(c *gin.Context) {
	list, err := h.pipeline.ListEligible(c.Request.Context())
	if err != nil {
		h.logger.Error("list pending uploads failed", zap.Error(err))
		response.Error(c, err)
		return
	}
	response.OKMessage(c, "Pending upload activities fetched successfully", PendingList{Count: len(list), Activities: list})
}

// Download handles POST /api/activities/:activityId/download. It runs to completion.
func (h *Handler) Download(c *gin.Context) {
	id, ok := activityParam(c)
	if !ok {
		return
	}
	res, err := h.pipeline.Download(c.Request.Context(), id)
	if err != nil {
		h.logger.Warn("download failed", zap.String("activity_id", id.String()), zap.Error(err))
		response.Error(c, err)
		return
	}
	msg := "All videos downloaded and paths saved"
	if res.AlreadyDownloaded {
		msg = "Videos already downloaded"
	}
	response.OKMessage(c, msg, res)
}

// Upload handles POST /api/upload/activity/:activityId. It runs to completion.
func (h *Handler) Upload(c *gin.Context) {
	id, ok := activityParam(c)
	if !ok {
		return
	}
	res, err := h.pipeline.Upload(c.Request.Context(), id)
	if err != nil {
		h.logger.Warn("upload failed", zap.String("activity_id", id.String()), zap.Error(err))
		response.Error(c, err)
		return
	}
	response.OKMessage(c, uploadMessage(res), res)
}

// ProcessNext handles POST /api/upload/process-next.
func (h *Handler) ProcessNext(c *gin.Context) {
	res, err := h.pipeline.ProcessNext(c.Request.Context())
	if err != nil {
		fields := []zap.Field{zap.Error(err)}
		if res != nil {
			fields = append(fields, zap.String("activity_id", res.ActivityID.String()))
		}
		h.logger.Warn("process next failed", fields...)
		response.Error(c, err)
		return
	}
	if res.Idle {
		response.OKMessage(c, "No pending uploads", res)
		return
	}
	response.OKMessage(c, uploadMessage(res.Upload), res)
}

func uploadMessage(res *migration.UploadResult) string {
	switch {
	case res == nil:
		return "Processed"
	case res.AlreadyUploaded:
		return "All videos already uploaded"
	case res.Partial():
		return fmt.Sprintf("%d videos uploaded, %d failed", len(res.Uploaded), len(res.Failed))
	default:
		return "All videos uploaded successfully"
	}
}

func activityParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("activityId"))
	if err != nil {
		response.BadRequest(c, "invalid activity id")
		return uuid.Nil, false
	}
	return id, true
}
