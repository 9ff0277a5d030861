package domain

import "time"

type JobStatus string

const (
	JobPending JobStatus = "PENDING"
	JobPlaying JobStatus = "PLAYING"
	JobDone    JobStatus = "DONE"
	JobFailed  JobStatus = "FAILED"
)

func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// PlaybackJob is the scheduler's unit of work: created by a producer,
// consumed by overlays. See CreateJobArgs for the constructor surface
// used by producers.
type PlaybackJob struct {
	ID            string
	GuildID       string
	MediaAssetID  *string
	Text          string // opaque; may carry an encoded rich card, see richtext.go
	ShowText      bool
	AuthorName    *string
	AuthorImage   *string

	DurationSec int64 // >= 1
	Priority    int   // default 0; meme jobs use Config.MemeJobPriority

	Status     JobStatus
	FinishedAt *time.Time

	SubmissionDate time.Time // monotonic enqueue time, FIFO tie-break
	ExecutionDate  time.Time // earliest time this root job may dispatch
	ScheduledAt    time.Time // mirrors ExecutionDate, kept for UI observability

	StartedAt           *time.Time
	RemainingMsSnapshot  *int64
	LastPlaybackStateAt *time.Time

	// ResumesAfterJobID != nil means this job is the resumed tail of a
	// preempted job; it is eligible only once its predecessor reaches a
	// terminal state.
	ResumesAfterJobID *string
	ResumeOffsetSec   int64
}

// IsRoot reports whether the job is a top-level submission rather than a
// resume child.
func (j PlaybackJob) IsRoot() bool {
	return j.ResumesAfterJobID == nil
}

// PriorityLess implements the dispatch ordering of PENDING roots:
// (priority DESC, submissionDate ASC, id ASC).
func PriorityLess(a, b PlaybackJob) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.SubmissionDate.Equal(b.SubmissionDate) {
		return a.SubmissionDate.Before(b.SubmissionDate)
	}
	return a.ID < b.ID
}

// CreateJobArgs is the input producers supply to create a PlaybackJob.
type CreateJobArgs struct {
	GuildID           string
	MediaAssetID      *string
	Text              string
	ShowText          bool
	AuthorName        *string
	AuthorImage       *string
	DurationSec       int64
	Priority          int
	ResumesAfterJobID *string
	ResumeOffsetSec   int64
}

// PromoteArgs is passed to Store.PromoteToPlaying.
type PromoteArgs struct {
	StartedAt           time.Time
	EffectiveDurationSec int64
	ResumeOffsetSec     int64
}

// SuspendArgs is passed to Store.SuspendForPreemption.
type SuspendArgs struct {
	RemainingSec      int64
	ResumesAfterJobID string
	ResumeOffsetSec   int64
	ExecutionDate     time.Time
}
