package scheduler

import (
	"context"
	"fmt"
	"time"

	"overlaydispatch/internal/domain"
	"overlaydispatch/internal/metrics"
)

type dispatchResult string

const (
	resultDispatched dispatchResult = "dispatched"
	resultIdle       dispatchResult = "idle"
	resultRetry      dispatchResult = "retry"
)

// runGuild advances a tenant's state machine until it either has a
// PLAYING job or has quiesced. It must only run inside a task on
// guildID's own actor.
func (s *Scheduler) runGuild(ctx context.Context, guildID string, opts runOptions) {
	a := s.actorFor(guildID)
	preferred := opts.PreferredJobID
	justFinished := opts.JustFinishedJobID

	for iter := 0; iter < s.cfg.GuildRunMaxIterations; iter++ {
		active, err := s.store.FindActivePlayingJob(ctx, guildID)
		if err != nil {
			s.logger.Warn("runGuild: find active failed", "guildId", guildID, "error", err)
			return
		}

		if active != nil {
			now := nowUTC()
			startedAt := now
			if active.StartedAt != nil {
				startedAt = *active.StartedAt
			}
			deadline := startedAt.Add(time.Duration(active.DurationSec)*time.Second + s.cfg.LockPadding + s.cfg.StaleGrace)
			if !now.Before(deadline) {
				rows, err := s.store.ReleaseJob(ctx, guildID, &active.ID, domain.JobDone, now)
				if err != nil {
					s.logger.Warn("runGuild: stale release failed", "guildId", guildID, "jobId", active.ID, "error", err)
					return
				}
				if rows > 0 {
					s.logger.Warn("stale playing job released by watchdog grace", "guildId", guildID, "jobId", active.ID)
					metrics.SchedulerWatchdogFiresTotal.Inc()
					if err := s.store.UpsertGuildBusyUntil(ctx, guildID, nil); err != nil {
						s.logger.Warn("runGuild: clear busy-lock failed", "guildId", guildID, "error", err)
					}
					if a != nil {
						a.clearWatchdog()
					}
					justFinished = &active.ID
					continue
				}
				continue
			}

			watchAt := deadline
			if a != nil {
				s.armWatchdog(a, guildID, watchAt)
			}
			anchor := startedAt.Add(time.Duration(active.DurationSec)*time.Second + s.cfg.LockPadding)
			if err := s.store.RecomputeRootExecutionDates(ctx, guildID, anchor, s.cfg.LockPadding); err != nil {
				s.logger.Warn("runGuild: recompute execution dates failed", "guildId", guildID, "error", err)
			}
			return
		}

		if a != nil {
			a.clearWatchdog()
		}
		if err := s.store.UpsertGuildBusyUntil(ctx, guildID, nil); err != nil {
			s.logger.Warn("runGuild: clear busy-lock failed", "guildId", guildID, "error", err)
		}

		next, err := s.selectNext(ctx, guildID, &preferred, &justFinished)
		if err != nil {
			s.logger.Warn("runGuild: select next failed", "guildId", guildID, "error", err)
			return
		}
		if next == nil {
			if err := s.store.RecomputeRootExecutionDates(ctx, guildID, nowUTC(), s.cfg.LockPadding); err != nil {
				s.logger.Warn("runGuild: recompute execution dates failed", "guildId", guildID, "error", err)
			}
			roots, err := s.store.ListPendingRoots(ctx, guildID)
			if err != nil {
				s.logger.Warn("runGuild: list pending roots failed", "guildId", guildID, "error", err)
				return
			}
			if a != nil {
				if len(roots) > 0 {
					s.armWake(a, guildID, roots[0].ExecutionDate)
				} else {
					a.clearWake()
				}
			}
			return
		}

		result := s.dispatchStep(ctx, guildID, *next)
		switch result {
		case resultDispatched, resultIdle:
			return
		case resultRetry:
			continue
		}
	}
	s.logger.Error("guild run exceeded max iterations", "guildId", guildID, "maxIterations", s.cfg.GuildRunMaxIterations)
}

// selectNext implements §4.3 step 4 of the dispatcher: preferred job,
// then resume child of the job that just finished, then an orphaned
// resume child (crash recovery), then the highest-priority eligible
// root.
func (s *Scheduler) selectNext(ctx context.Context, guildID string, preferred, justFinished **string) (*domain.PlaybackJob, error) {
	if *preferred != nil {
		id := **preferred
		*preferred = nil
		j, err := s.store.GetJob(ctx, guildID, id)
		if err == nil && j.Status == domain.JobPending {
			return &j, nil
		}
		if err != nil && err != domain.ErrNotFound {
			return nil, err
		}
	}

	if *justFinished != nil {
		parentID := **justFinished
		*justFinished = nil
		child, err := s.store.FindResumedChildOf(ctx, guildID, parentID)
		if err != nil {
			return nil, err
		}
		if child != nil {
			return child, nil
		}
	}

	orphans, err := s.store.FindOrphanedResumedChildren(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if len(orphans) > 0 {
		return &orphans[0], nil
	}

	return s.store.FindNextPendingRoot(ctx, guildID, nowUTC())
}

// dispatchStep implements §4.4: resolve media and audience, promote
// atomically, set the busy-lock, emit PLAY, and arm the watchdog.
func (s *Scheduler) dispatchStep(ctx context.Context, guildID string, next domain.PlaybackJob) dispatchResult {
	var asset *domain.MediaAsset
	if next.MediaAssetID != nil {
		a, err := s.store.GetMediaAsset(ctx, *next.MediaAssetID)
		if err != nil || !a.Playable() {
			s.failPending(ctx, guildID, next.ID, "media_unavailable")
			return resultRetry
		}
		asset = &a
	}

	if s.hub.RoomSize(guildID) == 0 {
		s.failPending(ctx, guildID, next.ID, "no_audience")
		return resultRetry
	}

	startOffsetSec := maxInt64(0, next.ResumeOffsetSec)
	effectiveDuration := next.DurationSec
	if next.ResumeOffsetSec == 0 {
		if rt, err := domain.DecodeRichText(next.Text); err == nil && rt.Kind == domain.RichTextMedia && rt.Media != nil && rt.Media.LegacyOffsetSec > 0 && rt.Media.LegacyOffsetSec < effectiveDuration {
			startOffsetSec = rt.Media.LegacyOffsetSec
			effectiveDuration -= rt.Media.LegacyOffsetSec
		}
	}

	now := nowUTC()
	rows, err := s.store.PromoteToPlaying(ctx, next.ID, guildID, domain.PromoteArgs{
		StartedAt:            now,
		EffectiveDurationSec: effectiveDuration,
		ResumeOffsetSec:      startOffsetSec,
	})
	if err != nil {
		s.logger.Warn("dispatchStep: promote failed", "guildId", guildID, "jobId", next.ID, "error", err)
		return resultIdle
	}
	if rows == 0 {
		return resultRetry
	}

	busyUntil := now.Add(time.Duration(effectiveDuration)*time.Second + s.cfg.LockPadding)
	if err := s.store.UpsertGuildBusyUntil(ctx, guildID, &busyUntil); err != nil {
		s.logger.Warn("dispatchStep: set busy-lock failed", "guildId", guildID, "error", err)
	}

	event := s.buildPlayEvent(next, asset, startOffsetSec, effectiveDuration)
	if err := s.hub.EmitPlay(guildID, event); err != nil {
		s.logger.Warn("dispatchStep: emit play failed", "guildId", guildID, "jobId", next.ID, "error", err)
	}
	metrics.SchedulerJobsDispatchedTotal.Inc()

	if a := s.actorFor(guildID); a != nil {
		watchAt := now.Add(time.Duration(effectiveDuration)*time.Second + s.cfg.LockPadding + s.cfg.StaleGrace)
		s.armWatchdog(a, guildID, watchAt)
	}
	anchor := now.Add(time.Duration(effectiveDuration)*time.Second + s.cfg.LockPadding)
	if err := s.store.RecomputeRootExecutionDates(ctx, guildID, anchor, s.cfg.LockPadding); err != nil {
		s.logger.Warn("dispatchStep: recompute execution dates failed", "guildId", guildID, "error", err)
	}
	return resultDispatched
}

func (s *Scheduler) failPending(ctx context.Context, guildID, jobID, reason string) {
	if _, err := s.store.ReleaseJobPending(ctx, jobID, guildID, domain.JobFailed, nowUTC()); err != nil {
		s.logger.Warn("failPending: release failed", "guildId", guildID, "jobId", jobID, "reason", reason, "error", err)
		return
	}
	s.logger.Info("job failed before dispatch", "guildId", guildID, "jobId", jobID, "reason", reason)
	metrics.SchedulerJobsFailedTotal.WithLabelValues(reason).Inc()
}

func mediaURL(apiURL, assetID string, startOffsetSec int64) string {
	url := fmt.Sprintf("%s/overlay/media/%s", apiURL, assetID)
	if startOffsetSec > 0 {
		url = fmt.Sprintf("%s?startOffsetSec=%d#t=%d", url, startOffsetSec, startOffsetSec)
	}
	return url
}
