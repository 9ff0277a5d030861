package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"overlaydispatch/internal/metrics"
)

// task is a unit of serialized work for one guild.
type task func(ctx context.Context)

// guildActor is the per-tenant mailbox: a FIFO queue drained by one
// goroutine, so all scheduler state transitions for a guildId run
// strictly sequentially. Timers are only ever armed/cleared from
// inside a running task, so they never race with the actor's own
// queue processing.
type guildActor struct {
	guildID       string
	tasks         chan task
	watchdogTimer *time.Timer
	wakeTimer     *time.Timer
}

func (a *guildActor) clearWatchdog() {
	if a.watchdogTimer != nil {
		a.watchdogTimer.Stop()
		a.watchdogTimer = nil
	}
}

func (a *guildActor) clearWake() {
	if a.wakeTimer != nil {
		a.wakeTimer.Stop()
		a.wakeTimer = nil
	}
}

// serializer keeps a small map from guildId to its active actor; an
// actor removes its entry once it has sat idle for idleTimeout with an
// empty queue and no armed watchdog or wake timer. No global lock is
// held while tasks run.
type serializer struct {
	mu          sync.Mutex
	actors      map[string]*guildActor
	idleTimeout time.Duration
	ctx         context.Context
	logger      *slog.Logger
}

func newSerializer(ctx context.Context, logger *slog.Logger) *serializer {
	return &serializer{
		actors:      make(map[string]*guildActor),
		idleTimeout: 30 * time.Second,
		ctx:         ctx,
		logger:      logger,
	}
}

// submit enqueues fn for guildID, starting a new actor goroutine if
// none is currently running for that tenant. Tasks for different
// guildIds may run in parallel; tasks for the same guildId never do.
func (s *serializer) submit(guildID string, fn task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[guildID]
	if !ok {
		a = &guildActor{guildID: guildID, tasks: make(chan task, 256)}
		s.actors[guildID] = a
		metrics.SchedulerActiveGuilds.Set(float64(len(s.actors)))
		go s.run(a)
	}
	// The send happens while mu is held, so it is atomic with run's
	// idle-timeout check below: an actor can only be removed from the
	// map while empty, never while a task is mid-handoff.
	a.tasks <- fn
}

func (s *serializer) run(a *guildActor) {
	for {
		select {
		case fn := <-a.tasks:
			s.runTask(a, fn)
		case <-time.After(s.idleTimeout):
			s.mu.Lock()
			// An armed timer keeps the actor resident so that its
			// watchdog or wake still fires.
			if len(a.tasks) == 0 && a.watchdogTimer == nil && a.wakeTimer == nil {
				delete(s.actors, a.guildID)
				metrics.SchedulerActiveGuilds.Set(float64(len(s.actors)))
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
		case <-s.ctx.Done():
			return
		}
	}
}

// runTask isolates a single task failure from the rest of the queue: a
// panic is logged and the actor keeps draining.
func (s *serializer) runTask(a *guildActor, fn task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler task panicked", "guildId", a.guildID, "panic", r)
		}
	}()
	fn(s.ctx)
}
