package domain

import "time"

// Guild is a tenant: one playback queue, one busy-lock, one overlay room.
type Guild struct {
	ID               string
	BusyUntil        *time.Time
	DefaultMediaTime int64 // seconds
	MaxMediaTime     *int64
}

// IsBusy reports whether the advisory busy-lock is still in effect at now.
// Truth for "is playing" is always a PLAYING PlaybackJob row, never this
// lease; callers use it only to postpone redundant dispatch attempts.
func (g Guild) IsBusy(now time.Time) bool {
	return g.BusyUntil != nil && g.BusyUntil.After(now)
}
