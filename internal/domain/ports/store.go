package ports

import (
	"context"
	"time"

	"overlaydispatch/internal/domain"
)

// Store is the durable record of jobs, media assets, tenants, and
// overlay clients. The scheduler uses it both as a queue and as the
// state machine of truth: conditional writes are the only concurrency
// primitive it relies on. A conditional write that affects zero rows
// is a normal reconciliation signal, not an error.
type Store interface {
	// Guild
	GetGuild(ctx context.Context, guildID string) (domain.Guild, error)
	UpsertGuildBusyUntil(ctx context.Context, guildID string, busyUntil *time.Time) error
	ListGuildIDsWithNonTerminalJobs(ctx context.Context) ([]string, error)

	// MediaAsset
	GetMediaAsset(ctx context.Context, id string) (domain.MediaAsset, error)

	// OverlayClient
	GetOverlayClientByTokenHash(ctx context.Context, tokenHash string) (domain.OverlayClient, error)
	CreateOverlayClient(ctx context.Context, c domain.OverlayClient) error
	RevokeOverlayClients(ctx context.Context, guildID, label string) error
	TouchOverlayClientLastSeen(ctx context.Context, id string, at time.Time) error

	// MemeBoardItem
	GetMemeBoardItem(ctx context.Context, guildID, itemID string) (domain.MemeBoardItem, error)
	FindMemeBoardItemByMediaAsset(ctx context.Context, guildID, mediaAssetID string) (domain.MemeBoardItem, error)

	// PlaybackJob — queue and state machine operations.
	CreateJob(ctx context.Context, args domain.CreateJobArgs, now time.Time) (domain.PlaybackJob, error)
	GetJob(ctx context.Context, guildID, id string) (domain.PlaybackJob, error)
	FindActivePlayingJob(ctx context.Context, guildID string) (*domain.PlaybackJob, error)
	FindNextPendingRoot(ctx context.Context, guildID string, now time.Time) (*domain.PlaybackJob, error)
	FindResumedChildOf(ctx context.Context, guildID, parentID string) (*domain.PlaybackJob, error)
	FindOrphanedResumedChildren(ctx context.Context, guildID string) ([]domain.PlaybackJob, error)
	ListPendingRoots(ctx context.Context, guildID string) ([]domain.PlaybackJob, error)

	// PromoteToPlaying atomically moves a PENDING job to PLAYING.
	// Conditional WHERE status = PENDING AND finishedAt IS NULL.
	PromoteToPlaying(ctx context.Context, id, guildID string, data domain.PromoteArgs) (rowsAffected int64, err error)

	// SuspendForPreemption atomically moves a PLAYING job back to
	// PENDING as a resume child. Conditional WHERE status = PLAYING.
	SuspendForPreemption(ctx context.Context, id, guildID string, data domain.SuspendArgs) (rowsAffected int64, err error)

	// ReleaseJob conditionally moves PLAYING job(s) to a terminal
	// state. If jobID is nil, every PLAYING row for guildID is
	// released (used by OnManualStop and by an ended PLAYBACK_STATE
	// that carries no jobId).
	ReleaseJob(ctx context.Context, guildID string, jobID *string, terminal domain.JobStatus, finishedAt time.Time) (rowsAffected int64, err error)

	// ReleaseJobPending conditionally fails a job that is still
	// PENDING (media unavailable / no audience at dispatch time).
	ReleaseJobPending(ctx context.Context, id, guildID string, terminal domain.JobStatus, finishedAt time.Time) (rowsAffected int64, err error)

	UpdatePlaybackSnapshot(ctx context.Context, guildID, jobID string, remainingMs int64, at time.Time) (rowsAffected int64, err error)

	// RecomputeRootExecutionDates serializes PENDING roots for UI
	// observability: iterate in priority-tuple order, assign
	// executionDate = cursor, cursor += durationSec*1000+lockPadding.
	RecomputeRootExecutionDates(ctx context.Context, guildID string, anchor time.Time, lockPadding time.Duration) error

	// DeleteTerminalJobsBefore purges terminal jobs past retention.
	DeleteTerminalJobsBefore(ctx context.Context, before time.Time) (deleted int64, err error)

	// DeleteExpiredUnpinnedMedia purges expired MediaAssets that no
	// MemeBoardItem references.
	DeleteExpiredUnpinnedMedia(ctx context.Context, now time.Time) (deleted int64, err error)
}
