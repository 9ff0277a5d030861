package scheduler

import (
	"context"
	"math"
	"time"

	"overlaydispatch/internal/domain"
	"overlaydispatch/internal/metrics"
)

// preemptWithJob implements §4.5: suspend the active job into a resume
// child carrying its accurately estimated remaining play time, then
// dispatch the preempting job in its place.
func (s *Scheduler) preemptWithJob(ctx context.Context, guildID, preemptingJobID string) {
	preempting, err := s.store.GetJob(ctx, guildID, preemptingJobID)
	if err != nil {
		if err != domain.ErrNotFound {
			s.logger.Warn("preempt: load preempting job failed", "guildId", guildID, "jobId", preemptingJobID, "error", err)
		}
		return
	}
	if preempting.Status != domain.JobPending {
		return
	}

	active, err := s.store.FindActivePlayingJob(ctx, guildID)
	if err != nil {
		s.logger.Warn("preempt: find active failed", "guildId", guildID, "error", err)
		return
	}
	if active == nil {
		s.runGuild(ctx, guildID, runOptions{PreferredJobID: &preemptingJobID})
		return
	}

	now := nowUTC()
	remainingMs := estimateRemainingMs(*active, now, s.cfg.SnapshotMaxAge)

	if remainingMs <= 0 {
		if _, err := s.store.ReleaseJob(ctx, guildID, &active.ID, domain.JobDone, now); err != nil {
			s.logger.Warn("preempt: release expired active failed", "guildId", guildID, "jobId", active.ID, "error", err)
			return
		}
		if err := s.store.UpsertGuildBusyUntil(ctx, guildID, nil); err != nil {
			s.logger.Warn("preempt: clear busy-lock failed", "guildId", guildID, "error", err)
		}
		finishedID := active.ID
		s.runGuild(ctx, guildID, runOptions{PreferredJobID: &preemptingJobID, JustFinishedJobID: &finishedID})
		return
	}

	remainingSec := int64(math.Ceil(float64(remainingMs) / 1000))
	elapsedSec := maxInt64(0, active.DurationSec-remainingSec)
	nextOffset := active.ResumeOffsetSec + elapsedSec

	rows, err := s.store.SuspendForPreemption(ctx, active.ID, guildID, domain.SuspendArgs{
		RemainingSec:      remainingSec,
		ResumesAfterJobID: preemptingJobID,
		ResumeOffsetSec:   nextOffset,
		ExecutionDate:     now,
	})
	if err != nil {
		s.logger.Warn("preempt: suspend failed", "guildId", guildID, "jobId", active.ID, "error", err)
		return
	}
	if rows == 0 {
		s.runGuild(ctx, guildID, runOptions{PreferredJobID: &preemptingJobID})
		return
	}

	if err := s.store.UpsertGuildBusyUntil(ctx, guildID, nil); err != nil {
		s.logger.Warn("preempt: clear busy-lock failed", "guildId", guildID, "error", err)
	}
	if err := s.hub.EmitStop(guildID, active.ID); err != nil {
		s.logger.Warn("preempt: emit stop failed", "guildId", guildID, "jobId", active.ID, "error", err)
	}
	metrics.SchedulerPreemptionsTotal.Inc()

	s.runGuild(ctx, guildID, runOptions{PreferredJobID: &preemptingJobID})
}

// estimateRemainingMs prefers a recent PLAYBACK_STATE snapshot over the
// wall-clock estimate, since overlays report actual buffered position
// while the wall clock only assumes ideal playback.
func estimateRemainingMs(active domain.PlaybackJob, now time.Time, snapshotMaxAge time.Duration) int64 {
	if active.RemainingMsSnapshot != nil && active.LastPlaybackStateAt != nil {
		age := now.Sub(*active.LastPlaybackStateAt)
		if age <= snapshotMaxAge {
			return maxInt64(0, *active.RemainingMsSnapshot-age.Milliseconds())
		}
	}
	startedAt := now
	if active.StartedAt != nil {
		startedAt = *active.StartedAt
	}
	totalMs := active.DurationSec * 1000
	elapsedMs := now.Sub(startedAt).Milliseconds()
	return maxInt64(0, totalMs-elapsedMs)
}
