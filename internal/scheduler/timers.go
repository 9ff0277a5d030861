package scheduler

import (
	"context"
	"time"
)

// armWatchdog replaces the guild's watchdog timer. The callback only
// re-submits a task to the actor's own queue — it never touches actor
// state directly, so no lock is needed even though it fires on a
// different goroutine.
func (s *Scheduler) armWatchdog(a *guildActor, guildID string, at time.Time) {
	a.clearWatchdog()
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	a.watchdogTimer = time.AfterFunc(d, func() {
		s.ser.submit(guildID, func(ctx context.Context) {
			s.logger.Warn("watchdog fired", "guildId", guildID)
			s.runGuild(ctx, guildID, runOptions{})
		})
	})
}

// armWake replaces the guild's wake timer, firing when the earliest
// pending root becomes eligible.
func (s *Scheduler) armWake(a *guildActor, guildID string, at time.Time) {
	a.clearWake()
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	a.wakeTimer = time.AfterFunc(d, func() {
		s.ser.submit(guildID, func(ctx context.Context) {
			s.runGuild(ctx, guildID, runOptions{})
		})
	})
}

// actorFor must only be called from within a task already running on
// guildID's actor, since it reaches into the serializer's map.
func (s *Scheduler) actorFor(guildID string) *guildActor {
	s.ser.mu.Lock()
	defer s.ser.mu.Unlock()
	return s.ser.actors[guildID]
}
