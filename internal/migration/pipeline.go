package migration

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/session-migrator/internal/models"
)

// Pipeline bundles the stages behind one value for the HTTP and CLI front ends.
type Pipeline struct {
	discovery  *Discovery
	downloader *Downloader
	uploader   *Uploader
	scheduler  *Scheduler
}

// NewPipeline wires the stages together with a scheduler bounded by pipelineTimeout.
func NewPipeline(store Store, discovery *Discovery, downloader *Downloader, uploader *Uploader, pipelineTimeout time.Duration) *Pipeline {
	return &Pipeline{
		discovery:  discovery,
		downloader: downloader,
		uploader:   uploader,
		scheduler:  NewScheduler(store, discovery, downloader, uploader, pipelineTimeout, downloader.logger),
	}
}

func (p *Pipeline) ListEligible(ctx context.Context) ([]models.Activity, error) {
	return p.discovery.ListEligible(ctx)
}

func (p *Pipeline) Count(ctx context.Context) (int, error) { return p.discovery.Count(ctx) }

func (p *Pipeline) Download(ctx context.Context, id uuid.UUID) (*DownloadResult, error) {
	return p.downloader.Download(ctx, id)
}

func (p *Pipeline) Upload(ctx context.Context, id uuid.UUID) (*UploadResult, error) {
	return p.uploader.Upload(ctx, id)
}

func (p *Pipeline) ProcessNext(ctx context.Context) (*RunResult, error) {
	return p.scheduler.ProcessNext(ctx)
}

func (p *Pipeline) ProcessActivity(ctx context.Context, id uuid.UUID) (*RunResult, error) {
	return p.scheduler.ProcessActivity(ctx, id)
}

// Scheduler returns the periodic driver.
func (p *Pipeline) Scheduler() *Scheduler { return p.scheduler }
