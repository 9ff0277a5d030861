package scheduler

import (
	"context"
	"time"

	"overlaydispatch/internal/domain"
)

type PlaybackState string

const (
	PlaybackStatePlaying PlaybackState = "playing"
	PlaybackStatePaused  PlaybackState = "paused"
	PlaybackStateEnded   PlaybackState = "ended"
)

// PlaybackStateEvent is the payload of an inbound PLAYBACK_STATE event.
type PlaybackStateEvent struct {
	GuildID     string
	JobID       *string
	State       PlaybackState
	RemainingMs *int64
}

// OnPlaybackState implements §4.7. It is the overlay's own account of
// its playback position, used in preference to wall-clock estimates
// since it tolerates buffering and clock drift.
func (s *Scheduler) OnPlaybackState(evt PlaybackStateEvent) {
	s.ser.submit(evt.GuildID, func(ctx context.Context) {
		remaining := clampRemainingMs(evt.RemainingMs)

		switch evt.State {
		case PlaybackStateEnded:
			s.releaseAndAdvance(ctx, evt.GuildID, evt.JobID)
		case PlaybackStatePaused:
			s.snapshotAndExtend(ctx, evt.GuildID, evt.JobID, remaining)
		default:
			s.snapshotAndExtend(ctx, evt.GuildID, evt.JobID, remaining)
		}
	})
}

func (s *Scheduler) snapshotAndExtend(ctx context.Context, guildID string, jobID *string, remainingMs int64) {
	if jobID == nil {
		return
	}
	now := nowUTC()
	if _, err := s.store.UpdatePlaybackSnapshot(ctx, guildID, *jobID, remainingMs, now); err != nil {
		s.logger.Warn("playback state: snapshot failed", "guildId", guildID, "jobId", *jobID, "error", err)
		return
	}

	job, err := s.store.GetJob(ctx, guildID, *jobID)
	if err != nil {
		s.logger.Warn("playback state: reload job failed", "guildId", guildID, "jobId", *jobID, "error", err)
		return
	}
	if job.Status != domain.JobPlaying || job.StartedAt == nil {
		return
	}

	extendBy := time.Duration(remainingMs) * time.Millisecond
	if extendBy < s.cfg.MinBusyLock {
		extendBy = s.cfg.MinBusyLock
	}
	busyUntil := now.Add(extendBy + s.cfg.LockPadding)
	if err := s.store.UpsertGuildBusyUntil(ctx, guildID, &busyUntil); err != nil {
		s.logger.Warn("playback state: extend busy-lock failed", "guildId", guildID, "error", err)
	}

	if a := s.actorFor(guildID); a != nil {
		watchAt := job.StartedAt.Add(time.Duration(job.DurationSec)*time.Second + s.cfg.LockPadding + s.cfg.StaleGrace)
		s.armWatchdog(a, guildID, watchAt)
	}
}
