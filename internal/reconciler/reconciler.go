package reconciler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/roman-shvetsov/infinite-memory-bot/internal/domain"
	"github.com/roman-shvetsov/infinite-memory-bot/internal/engine"
	"github.com/roman-shvetsov/infinite-memory-bot/internal/scheduler"
	"github.com/roman-shvetsov/infinite-memory-bot/internal/store"
)

// Reconciler rebuilds timer state from the store on startup and keeps the two
// in agreement afterwards. The periodic sweep is the safety net: anything the
// in-process timers miss (restart, failed send, clock drift) is delivered on
// the next tick.
type Reconciler struct {
	repo  store.Repo
	eng   *engine.Engine
	sched *scheduler.Scheduler
	log   *zap.Logger

	interval      time.Duration
	batch         int
	awaitingAfter time.Duration

	now func() time.Time // injectable for tests
}

// New creates a Reconciler using the wall clock.
func New(repo store.Repo, eng *engine.Engine, sched *scheduler.Scheduler, log *zap.Logger, interval time.Duration, batch int, awaitingAfter time.Duration) *Reconciler {
	return &Reconciler{
		repo:          repo,
		eng:           eng,
		sched:         sched,
		log:           log,
		interval:      interval,
		batch:         batch,
		awaitingAfter: awaitingAfter,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Run reconciles once, then sweeps until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	r.Reconcile(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopping")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Reconcile rebuilds the timer registry from persisted reminders: future ones
// get a timer unless one is already armed, elapsed ones are delivered right
// away. Running it twice arms nothing twice.
func (r *Reconciler) Reconcile(ctx context.Context) {
	rems, err := r.eng.PendingAll(ctx)
	if err != nil {
		r.log.Error("load unfired reminders", zap.Error(err))
		return
	}

	now := r.now()
	registered, delivered := 0, 0
	for _, rem := range rems {
		if rem.ScheduledAt.After(now) {
			if !r.sched.Exists(rem.TopicID, rem.ID) {
				r.sched.Register(rem.TopicID, rem.ID, rem.ScheduledAt)
				registered++
			}
			continue
		}
		if err := r.deliver(ctx, rem); err != nil {
			r.log.Error("reconcile delivery failed", zap.Error(err), zap.Int64("reminderID", rem.ID))
			continue
		}
		delivered++
	}

	r.log.Info("schedule reconciled",
		zap.Int("registered", registered),
		zap.Int("delivered", delivered),
		zap.Int("unfired", len(rems)))
}

// Sweep performs one maintenance cycle: deliver what is overdue, flag stale
// deliveries as awaiting, re-arm timers that went missing.
func (r *Reconciler) Sweep(ctx context.Context) {
	now := r.now()

	due, err := r.eng.Overdue(ctx, r.batch)
	if err != nil {
		r.log.Error("list overdue reminders", zap.Error(err))
	} else {
		for _, rem := range due {
			if err := r.deliver(ctx, rem); err != nil {
				r.log.Error("sweep delivery failed", zap.Error(err), zap.Int64("reminderID", rem.ID))
			}
		}
	}

	if n, err := r.repo.MarkAwaiting(ctx, now.Add(-r.awaitingAfter)); err != nil {
		r.log.Error("mark awaiting", zap.Error(err))
	} else if n > 0 {
		r.log.Info("unconfirmed reminders flagged", zap.Int64("count", n))
	}

	r.rearm(ctx, now)
}

func (r *Reconciler) deliver(ctx context.Context, rem domain.Reminder) error {
	return r.eng.Deliver(ctx, scheduler.Job{
		ID:         scheduler.JobID(rem.TopicID, rem.ID),
		TopicID:    rem.TopicID,
		ReminderID: rem.ID,
		At:         rem.ScheduledAt,
	})
}

// rearm registers timers for future reminders that lost theirs.
func (r *Reconciler) rearm(ctx context.Context, now time.Time) {
	rems, err := r.eng.PendingAll(ctx)
	if err != nil {
		r.log.Error("load unfired reminders", zap.Error(err))
		return
	}
	for _, rem := range rems {
		if !rem.ScheduledAt.After(now) || r.sched.Exists(rem.TopicID, rem.ID) {
			continue
		}
		r.sched.Register(rem.TopicID, rem.ID, rem.ScheduledAt)
		r.log.Warn("re-armed lost timer", zap.Int64("reminderID", rem.ID))
	}
}
