package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/venuedesk/venuedesk/internal/jobs"
)

// Invalidator drops every cached dashboard snapshot.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// DashboardInvalidateJob purges the dashboard cache tag.
type DashboardInvalidateJob struct {
	Invalidator Invalidator
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

// Handle executes the purge.
func (j *DashboardInvalidateJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Invalidator == nil {
		return errors.New("dashboard invalidate: invalidator not configured")
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskDashboardInvalidate)
	err := j.Invalidator.Invalidate(ctx)
	if err != nil && j.Logger != nil {
		j.Logger.Error("dashboard invalidate", slog.Any("error", err))
	}
	return tracker.End(err)
}
