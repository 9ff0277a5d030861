package scheduler

import "time"

// Config carries the scheduler-internal constants spec.md names but
// does not make configurable; they are exposed here so integration
// tests can shrink them well below production defaults.
type Config struct {
	LockPadding           time.Duration
	StaleGrace            time.Duration
	MinBusyLock           time.Duration
	SnapshotMaxAge        time.Duration
	GuildRunMaxIterations int
	MemeJobPriority       int
	DefaultDurationSec    int64
	APIURL                string
}

func DefaultConfig() Config {
	return Config{
		LockPadding:           250 * time.Millisecond,
		StaleGrace:            10 * time.Second,
		MinBusyLock:           5 * time.Second,
		SnapshotMaxAge:        15 * time.Second,
		GuildRunMaxIterations: 25,
		MemeJobPriority:       100,
		DefaultDurationSec:    10,
		APIURL:                "http://localhost:8080",
	}
}
