// Package scheduler implements the per-tenant playback dispatch core:
// the durable job queue, the single-flight playing lock, the dispatch
// / preemption / resume protocol, and the watchdog / busy-lock
// lifecycle described for the overlay playback system.
package scheduler

import (
	"context"
	"log/slog"

	"overlaydispatch/internal/domain"
	"overlaydispatch/internal/domain/ports"
	"overlaydispatch/internal/metrics"
)

// Scheduler is the public entry point; every method submits work to
// the per-guild serializer and returns without waiting for it to run,
// matching the fire-and-forget style of the wire events that drive it.
type Scheduler struct {
	store  ports.Store
	hub    ports.Hub
	logger *slog.Logger
	cfg    Config
	ser    *serializer
}

func New(ctx context.Context, store ports.Store, hub ports.Hub, logger *slog.Logger, cfg Config) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:  store,
		hub:    hub,
		logger: logger,
		cfg:    cfg,
		ser:    newSerializer(ctx, logger),
	}
}

// runOptions carries the dispatcher's selector state across a runGuild
// pass. preemptWithJob's expired-active path sets both; selectNext
// tries PreferredJobID first.
type runOptions struct {
	PreferredJobID    *string
	JustFinishedJobID *string
}

// OnJobEnqueued runs the dispatch loop for guildID. Calling it while a
// PLAYING job is active has no observable effect (the loop observes
// the active row and returns immediately).
func (s *Scheduler) OnJobEnqueued(guildID string) {
	s.ser.submit(guildID, func(ctx context.Context) {
		s.runGuild(ctx, guildID, runOptions{})
	})
}

// OnPlaybackStopped releases the current job: targeted if jobID is
// non-nil (a jobID that is not PLAYING releases nothing), otherwise all
// PLAYING jobs for the tenant. Calling it
// twice for the same jobID is idempotent — the second conditional
// release affects zero rows.
func (s *Scheduler) OnPlaybackStopped(guildID string, jobID *string) {
	s.ser.submit(guildID, func(ctx context.Context) {
		s.releaseAndAdvance(ctx, guildID, jobID)
	})
}

// OnManualStop behaves like OnPlaybackStopped with no target job, and
// additionally broadcasts a manual-stop STOP event to every overlay in
// the room.
func (s *Scheduler) OnManualStop(guildID string) {
	s.ser.submit(guildID, func(ctx context.Context) {
		if err := s.hub.EmitStop(guildID, "manual-stop"); err != nil {
			s.logger.Warn("emit manual stop failed", "guildId", guildID, "error", err)
		}
		s.releaseAndAdvance(ctx, guildID, nil)
	})
}

func (s *Scheduler) releaseAndAdvance(ctx context.Context, guildID string, jobID *string) {
	now := nowUTC()
	rows, err := s.store.ReleaseJob(ctx, guildID, jobID, domain.JobDone, now)
	if err != nil {
		s.logger.Warn("release job failed", "guildId", guildID, "error", err)
		return
	}
	if err := s.store.UpsertGuildBusyUntil(ctx, guildID, nil); err != nil {
		s.logger.Warn("clear busy-lock failed", "guildId", guildID, "error", err)
	}
	var justFinished *string
	if jobID != nil && rows > 0 {
		justFinished = jobID
	}
	s.runGuild(ctx, guildID, runOptions{JustFinishedJobID: justFinished})
}

// PreemptWithJob suspends the currently PLAYING job (if any) into a
// resume child and dispatches preemptingJobID in its place.
func (s *Scheduler) PreemptWithJob(guildID, preemptingJobID string) {
	s.ser.submit(guildID, func(ctx context.Context) {
		s.preemptWithJob(ctx, guildID, preemptingJobID)
	})
}

// Bootstrap enumerates guilds with non-terminal jobs at startup and
// re-enters the dispatch loop for each, so a crash leaves no tenant
// permanently stuck.
func (s *Scheduler) Bootstrap(ctx context.Context) error {
	guildIDs, err := s.store.ListGuildIDsWithNonTerminalJobs(ctx)
	if err != nil {
		return err
	}
	for _, guildID := range guildIDs {
		s.OnJobEnqueued(guildID)
	}
	metrics.SchedulerBootstrappedGuilds.Set(float64(len(guildIDs)))
	return nil
}
