package app

import (
	"context"
	"sync/atomic"
	"time"

	"battle-service/internal/domain"
	"battle-service/internal/logging"
	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// sessionClock drives the periodic jobs of one session: the correction tick and
// the progress snapshot. Neither job owns the countdown; remaining time is always
// derived from the session start time.
type sessionClock struct {
	scheduler gocron.Scheduler
	stopped   atomic.Bool
}

func startSessionClock(clock clockwork.Clock, tickEvery, snapshotEvery time.Duration, onTick, onSnapshot func()) (*sessionClock, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, err
	}
	c := &sessionClock{scheduler: scheduler}

	jobs := []struct {
		name  string
		every time.Duration
		run   func()
	}{
		{name: "timer-tick", every: tickEvery, run: onTick},
		{name: "progress-snapshot", every: snapshotEvery, run: onSnapshot},
	}
	for _, job := range jobs {
		run := job.run
		_, err := scheduler.NewJob(
			gocron.DurationJob(job.every),
			gocron.NewTask(func() {
				if c.stopped.Load() {
					return
				}
				run()
			}),
			gocron.WithName(job.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = scheduler.Shutdown()
			return nil, err
		}
	}
	scheduler.Start()
	return c, nil
}

// stop cancels both jobs. Safe to call more than once and from inside a job.
func (c *sessionClock) stop() {
	if c == nil || !c.stopped.CompareAndSwap(false, true) {
		return
	}
	// Shutdown waits for running jobs, so it cannot run on the job goroutine.
	go func() {
		if err := c.scheduler.Shutdown(); err != nil {
			logging.Warn("session clock shutdown", zap.Error(err))
		}
	}()
}

func (e *Engine) startClock(entry *runtimeEntry) (*sessionClock, error) {
	return startSessionClock(e.clock, e.cfg.TickInterval, e.cfg.SnapshotInterval,
		func() { e.tick(entry) },
		func() { e.snapshot(entry) },
	)
}

// tick broadcasts the authoritative remaining time and ends the session once it
// hits zero. A resolution left pending by a failed write is retried every tick.
func (e *Engine) tick(entry *runtimeEntry) {
	defer e.recoverSession(entry.sessionID, nil)

	now := e.clock.Now()
	left := domain.Remaining(entry.startedAt, now, entry.timeLimit)
	e.notifyAll(entry.players, domain.TimerTick{
		SessionID:        entry.sessionID,
		RemainingSeconds: domain.RemainingSeconds(left),
		RemainingMillis:  left.Milliseconds(),
		ServerTime:       now,
	})
	if left > 0 && !entry.settling() {
		return
	}
	if err := e.resolve(context.Background(), entry.sessionID, ReasonTimeUp, ""); err != nil {
		logging.Error("resolve on time up", zap.String("session_id", entry.sessionID), zap.Error(err))
	}
}

// snapshot rebroadcasts persisted progress so clients recover from missed updates.
func (e *Engine) snapshot(entry *runtimeEntry) {
	defer e.recoverSession(entry.sessionID, nil)

	ctx, cancel := e.ioContext(context.Background())
	defer cancel()
	session, err := e.sessions.Load(ctx, entry.sessionID)
	if err != nil {
		logging.Warn("progress snapshot", zap.String("session_id", entry.sessionID), zap.Error(err))
		return
	}
	if session.Status != domain.StatusOngoing {
		return
	}
	e.broadcast(session, domain.Progress(domain.NewSnapshot(session)))
}
