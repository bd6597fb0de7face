package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roman-shvetsov/infinite-memory-bot/internal/domain"
	"github.com/roman-shvetsov/infinite-memory-bot/internal/scheduler"
	"github.com/roman-shvetsov/infinite-memory-bot/internal/store"
)

// Notifier delivers a rendered reminder to the user's chat.
// telegram.Router implements it.
type Notifier interface {
	SendReminder(user domain.User, topic domain.Topic, rem domain.Reminder) error
}

// Engine owns the repetition lifecycle: it persists reminders, arms timers and
// advances topics along the repetition curve. The store is the source of
// truth; armed timers are hints that can always be rebuilt from it.
type Engine struct {
	repo      store.Repo
	sched     *scheduler.Scheduler
	notifier  Notifier
	log       *zap.Logger
	curve     domain.Curve
	quiet     domain.QuietHours
	testDelay time.Duration

	now func() time.Time // injectable for tests
}

// New creates an Engine using the wall clock.
func New(repo store.Repo, sched *scheduler.Scheduler, notifier Notifier, log *zap.Logger, curve domain.Curve, quiet domain.QuietHours, testDelay time.Duration) *Engine {
	return &Engine{
		repo:      repo,
		sched:     sched,
		notifier:  notifier,
		log:       log,
		curve:     curve,
		quiet:     quiet,
		testDelay: testDelay,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Curve returns the active repetition curve.
func (e *Engine) Curve() domain.Curve {
	return e.curve
}

// AddTopic registers a topic for the chat and schedules its first repetition.
// The user must have picked a timezone first.
func (e *Engine) AddTopic(ctx context.Context, chatID int64, title string) (*domain.Topic, *domain.Reminder, error) {
	title, err := domain.ValidateTitle(title)
	if err != nil {
		return nil, nil, err
	}
	user, err := e.repo.GetUser(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	loc, err := domain.Location(user.TZ)
	if err != nil {
		return nil, nil, err
	}

	topic, err := e.repo.CreateTopic(ctx, chatID, title)
	if err != nil {
		return nil, nil, err
	}
	rem, err := e.scheduleRepetition(ctx, topic.ID, 0, loc)
	if err != nil {
		return nil, nil, err
	}

	e.log.Info("topic added",
		zap.Int64("chatID", chatID),
		zap.Int64("topicID", topic.ID),
		zap.Time("firstDue", rem.ScheduledAt))
	return topic, rem, nil
}

// AckResult describes the outcome of a successful confirmation.
type AckResult struct {
	Topic     *domain.Topic
	Confirmed int              // repetitions confirmed so far, including this one
	Completed bool             // the whole curve is done
	Paused    bool             // topic got paused meanwhile; nothing was scheduled
	Next      *domain.Reminder // nil when Completed or Paused
}

// Acknowledge confirms a delivered reminder and schedules the next
// repetition. Confirming twice reports ErrAlreadyProcessed; a reminder that no
// longer exists reports ErrNotFound. Exactly one concurrent caller wins the
// status transition.
func (e *Engine) Acknowledge(ctx context.Context, chatID, reminderID int64) (*AckResult, error) {
	rem, err := e.repo.GetReminder(ctx, reminderID)
	if err != nil {
		return nil, err
	}
	topic, err := e.repo.GetUserTopic(ctx, chatID, rem.TopicID)
	if err != nil {
		return nil, err
	}
	if rem.Status.Terminal() {
		return nil, domain.ErrAlreadyProcessed
	}

	ok, err := e.repo.Acknowledge(ctx, reminderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost against another tap, or the reminder was never delivered.
		return nil, domain.ErrAlreadyProcessed
	}

	res := &AckResult{Topic: topic, Confirmed: rem.Repetition + 1}

	next := rem.Repetition + 1
	if next >= len(e.curve) {
		e.sched.CancelTopic(topic.ID)
		if _, err := e.repo.ClearUnprocessed(ctx, topic.ID); err != nil {
			return nil, err
		}
		res.Completed = true
		e.log.Info("topic mastered",
			zap.Int64("chatID", chatID),
			zap.Int64("topicID", topic.ID),
			zap.Int("repetitions", res.Confirmed))
		return res, nil
	}

	user, err := e.repo.GetUser(ctx, chatID)
	if err != nil {
		return nil, err
	}
	loc, err := domain.Location(user.TZ)
	if err != nil {
		return nil, err
	}
	nextRem, err := e.scheduleRepetition(ctx, topic.ID, next, loc)
	if errors.Is(err, domain.ErrTopicPaused) {
		// Pause raced the confirmation and won; the ack still counts.
		res.Paused = true
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	res.Next = nextRem
	e.log.Info("repetition confirmed",
		zap.Int64("chatID", chatID),
		zap.Int64("topicID", topic.ID),
		zap.Int("repetition", rem.Repetition),
		zap.Time("nextDue", nextRem.ScheduledAt))
	return res, nil
}

// PauseTopic halts nudging for the topic. The flag flips first so concurrent
// advancement loses against the reminder insert guard; timers and unprocessed
// rows are dropped after.
func (e *Engine) PauseTopic(ctx context.Context, chatID, topicID int64) (*domain.Topic, error) {
	topic, err := e.repo.GetUserTopic(ctx, chatID, topicID)
	if err != nil {
		return nil, err
	}
	if topic.Paused {
		return topic, nil
	}

	if err := e.repo.SetPaused(ctx, chatID, topicID, true); err != nil {
		return nil, err
	}
	e.sched.CancelTopic(topicID)
	if _, err := e.repo.ClearUnprocessed(ctx, topicID); err != nil {
		return nil, err
	}

	topic.Paused = true
	e.log.Info("topic paused", zap.Int64("chatID", chatID), zap.Int64("topicID", topicID))
	return topic, nil
}

// ResumeTopic reactivates a paused topic and restarts it at the first
// repetition. Resuming an active topic changes nothing and returns a nil
// reminder.
func (e *Engine) ResumeTopic(ctx context.Context, chatID, topicID int64) (*domain.Topic, *domain.Reminder, error) {
	topic, err := e.repo.GetUserTopic(ctx, chatID, topicID)
	if err != nil {
		return nil, nil, err
	}
	if !topic.Paused {
		return topic, nil, nil
	}

	user, err := e.repo.GetUser(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	loc, err := domain.Location(user.TZ)
	if err != nil {
		return nil, nil, err
	}

	if err := e.repo.SetPaused(ctx, chatID, topicID, false); err != nil {
		return nil, nil, err
	}
	topic.Paused = false

	rem, err := e.scheduleRepetition(ctx, topicID, 0, loc)
	if err != nil {
		return nil, nil, err
	}

	e.log.Info("topic resumed",
		zap.Int64("chatID", chatID),
		zap.Int64("topicID", topicID),
		zap.Time("firstDue", rem.ScheduledAt))
	return topic, rem, nil
}

// DeleteTopic removes the topic together with its reminder history.
func (e *Engine) DeleteTopic(ctx context.Context, chatID, topicID int64) error {
	if _, err := e.repo.GetUserTopic(ctx, chatID, topicID); err != nil {
		return err
	}
	e.sched.CancelTopic(topicID)
	if err := e.repo.DeleteTopic(ctx, chatID, topicID); err != nil {
		return err
	}
	e.log.Info("topic deleted", zap.Int64("chatID", chatID), zap.Int64("topicID", topicID))
	return nil
}

// ScheduleTest persists a short-fuse preview reminder for the topic. The
// preview fires through the regular delivery path and disappears after it is
// sent; progress and the real schedule stay untouched.
func (e *Engine) ScheduleTest(ctx context.Context, chatID, topicID int64) (*domain.Reminder, error) {
	topic, err := e.repo.GetUserTopic(ctx, chatID, topicID)
	if err != nil {
		return nil, err
	}
	if topic.Paused {
		return nil, domain.ErrTopicPaused
	}

	p, err := e.repo.GetProgress(ctx, chatID, topicID)
	if err != nil {
		return nil, err
	}
	repetition := p.Confirmed
	if p.Outstanding != nil {
		repetition = p.Outstanding.Repetition
	}
	if repetition >= len(e.curve) {
		repetition = len(e.curve) - 1
	}

	rem, err := e.repo.CreateReminder(ctx, topicID, repetition, e.now().Add(e.testDelay), domain.StatusTesting)
	if err != nil {
		return nil, err
	}
	e.sched.Register(topicID, rem.ID, rem.ScheduledAt)

	e.log.Info("preview scheduled", zap.Int64("chatID", chatID), zap.Int64("topicID", topicID))
	return rem, nil
}

// Deliver sends the reminder behind a fired job. Every row is re-read first:
// stale jobs (row gone, already delivered, topic paused or deleted) are
// skipped without error. A transport failure leaves the row untouched so the
// sweep retries it.
func (e *Engine) Deliver(ctx context.Context, job scheduler.Job) error {
	rem, err := e.repo.GetReminder(ctx, job.ReminderID)
	if errors.Is(err, domain.ErrNotFound) {
		e.log.Debug("job without a reminder row", zap.String("job", job.ID))
		return nil
	}
	if err != nil {
		return err
	}
	if !rem.Status.Fireable() {
		return nil
	}

	topic, err := e.repo.GetTopic(ctx, rem.TopicID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if topic.Paused {
		return nil
	}

	user, err := e.repo.GetUser(ctx, topic.ChatID)
	if err != nil {
		return err
	}

	if err := e.notifier.SendReminder(*user, *topic, *rem); err != nil {
		return fmt.Errorf("send reminder %d: %w", rem.ID, err)
	}

	if rem.Status == domain.StatusTesting {
		if _, err := e.repo.DeleteTested(ctx, rem.ID); err != nil {
			return err
		}
		return nil
	}

	ok, err := e.repo.MarkSent(ctx, rem.ID, e.now())
	if err != nil {
		return err
	}
	if !ok {
		e.log.Debug("reminder delivered twice", zap.Int64("reminderID", rem.ID))
		return nil
	}

	e.log.Info("reminder sent",
		zap.Int64("chatID", user.ChatID),
		zap.Int64("topicID", topic.ID),
		zap.Int64("reminderID", rem.ID),
		zap.Int("repetition", rem.Repetition))
	return nil
}

// Topics lists the chat's topics with their progress.
func (e *Engine) Topics(ctx context.Context, chatID int64, f store.TopicFilter) ([]domain.Progress, error) {
	return e.repo.ListProgress(ctx, chatID, f)
}

// TopicProgress loads one topic with its progress.
func (e *Engine) TopicProgress(ctx context.Context, chatID, topicID int64) (*domain.Progress, error) {
	return e.repo.GetProgress(ctx, chatID, topicID)
}

// Overdue lists fireable reminders whose instant has already passed.
func (e *Engine) Overdue(ctx context.Context, limit int) ([]domain.Reminder, error) {
	return e.repo.ListDue(ctx, e.now(), limit)
}

// PendingAll lists every fireable reminder regardless of due time.
func (e *Engine) PendingAll(ctx context.Context) ([]domain.Reminder, error) {
	return e.repo.ListUnfired(ctx)
}

// scheduleRepetition persists the reminder for the given curve index and arms
// its timer. Leftover unprocessed reminders are removed first, so a topic
// never carries two live reminders.
func (e *Engine) scheduleRepetition(ctx context.Context, topicID int64, repetition int, loc *time.Location) (*domain.Reminder, error) {
	delay, err := e.curve.Delay(repetition)
	if err != nil {
		return nil, err
	}

	e.sched.CancelTopic(topicID)
	if _, err := e.repo.ClearUnprocessed(ctx, topicID); err != nil {
		return nil, err
	}

	at := domain.NextInstant(e.now(), loc, delay, e.quiet)
	rem, err := e.repo.CreateReminder(ctx, topicID, repetition, at, domain.StatusPending)
	if err != nil {
		return nil, err
	}
	e.sched.Register(topicID, rem.ID, rem.ScheduledAt)
	return rem, nil
}
