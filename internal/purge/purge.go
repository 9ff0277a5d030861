// Package purge implements the periodic sweep that deletes terminal
// playback jobs past their retention window and expired, unpinned
// media assets.
package purge

import (
	"context"
	"log/slog"
	"time"

	"overlaydispatch/internal/domain/ports"
	"overlaydispatch/internal/metrics"
)

type Worker struct {
	Store           ports.Store
	Logger          *slog.Logger
	Interval        time.Duration
	JobRetention    time.Duration
}

func (w Worker) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w Worker) sweep(ctx context.Context) {
	metrics.PurgeRunsTotal.Inc()
	now := time.Now().UTC()

	before := now.Add(-w.JobRetention)
	deletedJobs, err := w.Store.DeleteTerminalJobsBefore(ctx, before)
	if err != nil {
		w.Logger.Warn("purge: delete terminal jobs failed", "error", err)
		metrics.PurgeErrorsTotal.Inc()
	} else if deletedJobs > 0 {
		metrics.PurgeDeletedJobsTotal.Add(float64(deletedJobs))
		w.Logger.Info("purge: deleted terminal jobs", "count", deletedJobs)
	}

	deletedMedia, err := w.Store.DeleteExpiredUnpinnedMedia(ctx, now)
	if err != nil {
		w.Logger.Warn("purge: delete expired media failed", "error", err)
		metrics.PurgeErrorsTotal.Inc()
	} else if deletedMedia > 0 {
		metrics.PurgeDeletedMediaTotal.Add(float64(deletedMedia))
		w.Logger.Info("purge: deleted expired media", "count", deletedMedia)
	}
}
