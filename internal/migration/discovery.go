package migration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/session-migrator/internal/metrics"
	"github.com/aura-webinar/session-migrator/internal/models"
)

// Discovery finds activities awaiting migration.
type Discovery struct {
	store   Store
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewDiscovery creates a discovery over store.
func NewDiscovery(store Store, m *metrics.Metrics, logger *zap.Logger) *Discovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{store: store, now: time.Now, metrics: m, logger: logger}
}

// ListEligible returns eligible activities oldest first. Nothing eligible is an empty slice.
func (d *Discovery) ListEligible(ctx context.Context) ([]models.Activity, error) {
	list, err := d.store.ListEligible(ctx, d.now())
	if err != nil {
		return nil, fmt.Errorf("list eligible activities: %w", err)
	}
	if list == nil {
		list = []models.Activity{}
	}
	d.metrics.SetPending(len(list))
	d.logger.Debug("discovered activities", zap.Int("count", len(list)))
	return list, nil
}

// Count returns the number of eligible activities.
func (d *Discovery) Count(ctx context.Context) (int, error) {
	n, err := d.store.CountEligible(ctx, d.now())
	if err != nil {
		return 0, fmt.Errorf("count eligible activities: %w", err)
	}
	d.metrics.SetPending(n)
	return n, nil
}
