package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roman-shvetsov/infinite-memory-bot/internal/domain"
	"github.com/roman-shvetsov/infinite-memory-bot/internal/scheduler"
	"github.com/roman-shvetsov/infinite-memory-bot/internal/store"
)

type sentMsg struct {
	ChatID     int64
	TopicID    int64
	ReminderID int64
	Status     domain.Status
}

type fakeNotifier struct {
	mu   sync.Mutex
	fail error
	sent []sentMsg
}

func (f *fakeNotifier) SendReminder(user domain.User, topic domain.Topic, rem domain.Reminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, sentMsg{user.ChatID, topic.ID, rem.ID, rem.Status})
	return nil
}

func (f *fakeNotifier) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeNotifier) last() sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type fixture struct {
	repo  *store.SQLiteRepo
	sched *scheduler.Scheduler
	not   *fakeNotifier
	eng   *Engine
	now   time.Time
}

// newFixture wires a real store and scheduler to the engine, with a pinned
// clock and a two-step curve (1h, 24h) so exhaustion is cheap to reach.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	sched := scheduler.New(zap.NewNop())
	t.Cleanup(sched.Stop)

	not := &fakeNotifier{}
	curve := domain.Curve{time.Hour, 24 * time.Hour}
	quiet := domain.QuietHours{From: 0, To: 8}

	f := &fixture{
		repo:  repo,
		sched: sched,
		not:   not,
		eng:   New(repo, sched, not, zap.NewNop(), curve, quiet, 5*time.Second),
		now:   time.Date(2025, 5, 6, 12, 0, 0, 0, time.UTC),
	}
	f.eng.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) seedUser(t *testing.T, chatID int64, tz string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.repo.UpsertUser(ctx, &domain.User{ChatID: chatID, FirstName: "Test"}))
	if tz != "" {
		require.NoError(t, f.repo.SetTimezone(ctx, chatID, tz))
	}
}

func (f *fixture) job(topicID, reminderID int64) scheduler.Job {
	return scheduler.Job{
		ID:         scheduler.JobID(topicID, reminderID),
		TopicID:    topicID,
		ReminderID: reminderID,
	}
}

func TestAddTopic_SchedulesFirstRepetition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, 1, "UTC")

	topic, rem, err := f.eng.AddTopic(ctx, 1, "  Hippocampus  ")
	require.NoError(t, err)
	require.Equal(t, "Hippocampus", topic.Title)
	require.Equal(t, 0, rem.Repetition)
	require.Equal(t, f.now.Add(time.Hour), rem.ScheduledAt)
	require.Equal(t, domain.StatusPending, rem.Status)
	require.True(t, f.sched.Exists(topic.ID, rem.ID))
}

func TestAddTopic_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.eng.AddTopic(ctx, 1, "")
	require.ErrorIs(t, err, domain.ErrEmptyTitle)

	_, _, err = f.eng.AddTopic(ctx, 1, "No such user")
	require.ErrorIs(t, err, domain.ErrNotFound)

	f.seedUser(t, 2, "")
	_, _, err = f.eng.AddTopic(ctx, 2, "No timezone yet")
	require.ErrorIs(t, err, domain.ErrNoTimezone)
	require.Zero(t, f.sched.Len())
}

func TestAddTopic_QuietHoursShiftAcrossMidnight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, 1, "Europe/Moscow")

	// 20:30 UTC is 23:30 in Moscow; one hour later lands at 00:30 local,
	// inside the quiet window, so the nudge moves to 08:00 local.
	f.now = time.Date(2025, 5, 6, 20, 30, 0, 0, time.UTC)

	_, rem, err := f.eng.AddTopic(ctx, 1, "Night owl topic")
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 5, 7, 5, 0, 0, 0, time.UTC), rem.ScheduledAt)
}

func TestAcknowledge_AdvancesCurve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, 1, "UTC")

	topic, first, err := f.eng.AddTopic(ctx, 1, "Ohm's law")
	require.NoError(t, err)
	_, err = f.repo.MarkSent(ctx, first.ID, f.now)
	require.NoError(t, err)

	res, err := f.eng.Acknowledge(ctx, 1, first.ID)
	require.NoError(t, err)
	require.Equal(t, 1, res.Confirmed)
	require.False(t, res.Completed)
	require.NotNil(t, res.Next)
	require.Equal(t, 1, res.Next.Repetition)
	require.Equal(t, f.now.Add(24*time.Hour), res.Next.ScheduledAt)

	// The old timer is gone, exactly one timer remains for the next step.
	require.False(t, f.sched.Exists(topic.ID, first.ID))
	require.True(t, f.sched.Exists(topic.ID, res.Next.ID))
	require.Equal(t, 1, f.sched.Len())

	unfired, err := f.repo.ListUnfired(ctx)
	require.NoError(t, err)
	require.Len(t, unfired, 1)
	require.Equal(t, res.Next.ID, unfired[0].ID)
}

func TestAcknowledge_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, 1, "UTC")

	_, first, err := f.eng.AddTopic(ctx, 1, "Idempotency")
	require.NoError(t, err)
	_, err = f.repo.MarkSent(ctx, first.ID, f.now)
	require.NoError(t, err)

	_, err = f.eng.Acknowledge(ctx, 1, first.ID)
	require.NoError(t, err)

	// The second tap changes nothing and says so.
	_, err = f.eng.Acknowledge(ctx, 1, first.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyProcessed)

	unfired, err := f.repo.ListUnfired(ctx)
	require.NoError(t, err)
	require.Len(t, unfired, 1)
	require.Equal(t, 1, f.sched.Len())
}

func TestAcknowledge_WrongChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, 1, "UTC")
	f.seedUser(t, 2, "UTC")

	_, first, err := f.eng.AddTopic(ctx, 1, "Private topic")
	require.NoError(t, err)
	_, err = f.repo.MarkSent(ctx, first.ID, f.now)
	require.NoError(t, err)

	_, err = f.eng.Acknowledge(ctx, 2, first.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAcknowledge_CurveExhaustion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, 1, "UTC")

	topic, first, err := f.eng.AddTopic(ctx, 1, "Short curve")
	require.NoError(t, err)
	_, err = f.repo.MarkSent(ctx, first.ID, f.now)
	require.NoError(t, err)

	res, err := f.eng.Acknowledge(ctx, 1, first.ID)
	require.NoError(t, err)
	second := res.Next

	_, err = f.repo.MarkSent(ctx, second.ID, f.now)
	require.NoError(t, err)
	res, err = f.eng.Acknowledge(ctx, 1, second.ID)
	require.NoError(t, err)
	require.True(t, res.Completed)
	require.Nil(t, res.Next)
	require.Equal(t, 2, res.Confirmed)

	// Nothing beyond the last curve step is ever persisted or armed.
	unfired, err := f.repo.ListUnfired(ctx)
	require.NoError(t, err)
	require.Empty(t, unfired)
	require.Zero(t, f.sched.Len())

	p, err := f.eng.TopicProgress(ctx, 1, topic.ID)
	require.NoError(t, err)
	require.Equal(t, 2, p.Confirmed)
	require.Nil(t, p.Outstanding)
	require.True(t, p.Mastered(len(f.eng.Curve())))
}

func TestAcknowledge_PauseRaceLeavesNoReminder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, 1, "UTC")

	topic, first, err := f.eng.AddTopic(ctx, 1, "Raced topic")
	require.NoError(t, err)
	_, err = f.repo.MarkSent(ctx, first.ID, f.now)
	require.NoError(t, err)

	// The paused flag flips between the confirmation and the next insert,
	// as a concurrent pause would do. The insert guard must win.
	require.NoError(t, f.repo.SetPaused(ctx, 1, topic.ID, true))

	res, err := f.eng.Acknowledge(ctx, 1, first.ID)
	require.NoError(t, err)
	require.True(t, res.Paused)
	require.Nil(t, res.Next)

	unfired, err := f.repo.ListUnfired(ctx)
	require.NoError(t, err)
	require.Empty(t, unfired)
	require.Zero(t, f.sched.Len())

	// The confirmation itself still counted.
	p, err := f.eng.TopicProgress(ctx, 1, topic.ID)
	require.NoError(t, err)
	require.Equal(t, 1, p.Confirmed)
}

func TestPauseTopic_DropsOutstanding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, 1, "UTC")

	topic, _, err := f.eng.AddTopic(ctx, 1, "Pausable")
	require.NoError(t, err)

	got, err := f.eng.PauseTopic(ctx, 1, topic.ID)
	require.NoError(t, err)
	require.True(t, got.Paused)
	require.Zero(t, f.sched.Len())

	unfired, err := f.repo.ListUnfired(ctx)
	require.NoError(t, err)
	require.Empty(t, unfired)

	// Pausing again is a no-op.
	_, err = f.eng.PauseTopic(ctx, 1, topic.ID)
	require.NoError(t, err)
}

func TestResumeTopic_RestartsCurve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, 1, "UTC")

	topic, first, err := f.eng.AddTopic(ctx, 1, "Comeback")
	require.NoError(t, err)
	_, err = f.repo.MarkSent(ctx, first.ID, f.now)
	require.NoError(t, err)
	_, err = f.eng.Acknowledge(ctx, 1, first.ID)
	require.NoError(t, err)

	_, err = f.eng.PauseTopic(ctx, 1, topic.ID)
	require.NoError(t, err)

	got, rem, err := f.eng.ResumeTopic(ctx, 1, topic.ID)
	require.NoError(t, err)
	require.False(t, got.Paused)
	require.Equal(t, 0, rem.Repetition)
	require.Equal(t, f.now.Add(time.Hour), rem.ScheduledAt)

	// Confirmed history survived the pause.
	p, err := f.eng.TopicProgress(ctx, 1, topic.ID)
	require.NoError(t, err)
	require.Equal(t, 1, p.Confirmed)
}

func TestResumeTopic_ActiveTopicKeepsSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, 1, "UTC")

	topic, first, err := f.eng.AddTopic(ctx, 1, "Doubletap resume")
	require.NoError(t, err)
	_, err = f.eng.PauseTopic(ctx, 1, topic.ID)
	require.NoError(t, err)

	_, r1, err := f.eng.ResumeTopic(ctx, 1, topic.ID)
	require.NoError(t, err)
	_, r2, err := f.eng.ResumeTopic(ctx, 1, topic.ID)
	require.NoError(t, err)

	// The second resume is a no-op: no new reminder, schedule untouched.
	require.NotNil(t, r1)
	require.Nil(t, r2)
	require.NotEqual(t, first.ID, r1.ID)

	unfired, err := f.repo.ListUnfired(ctx)
	require.NoError(t, err)
	require.Len(t, unfired, 1)
	require.Equal(t, r1.ID, unfired[0].ID)
	require.Equal(t, 1, f.sched.Len())
}

func TestDeleteTopic_CancelsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, 1, "UTC")

	topic, _, err := f.eng.AddTopic(ctx, 1, "Disposable")
	require.NoError(t, err)

	require.NoError(t, f.eng.DeleteTopic(ctx, 1, topic.ID))
	require.Zero(t, f.sched.Len())

	_, err = f.eng.TopicProgress(ctx, 1, topic.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	err = f.eng.DeleteTopic(ctx, 1, topic.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeliver_MarksSentOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, 1, "UTC")

	topic, rem, err := f.eng.AddTopic(ctx, 1, "Deliverable")
	require.NoError(t, err)

	require.NoError(t, f.eng.Deliver(ctx, f.job(topic.ID, rem.ID)))
	require.Equal(t, 1, f.not.count())
	require.Equal(t, sentMsg{1, topic.ID, rem.ID, domain.StatusPending}, f.not.last())

	got, err := f.repo.GetReminder(ctx, rem.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSent, got.Status)
	require.NotNil(t, got.SentAt)
	require.Equal(t, f.now, *got.SentAt)

	// A duplicate fire re-reads the row and backs off.
	require.NoError(t, f.eng.Deliver(ctx, f.job(topic.ID, rem.ID)))
	require.Equal(t, 1, f.not.count())
}

func TestDeliver_TransportFailureLeavesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, 1, "UTC")

	topic, rem, err := f.eng.AddTopic(ctx, 1, "Flaky transport")
	require.NoError(t, err)

	f.not.setFail(errors.New("telegram down"))
	err = f.eng.Deliver(ctx, f.job(topic.ID, rem.ID))
	require.Error(t, err)

	got, err := f.repo.GetReminder(ctx, rem.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, got.Status)
	require.Nil(t, got.SentAt)

	// Once the transport recovers, the same job goes through.
	f.not.setFail(nil)
	require.NoError(t, f.eng.Deliver(ctx, f.job(topic.ID, rem.ID)))
	require.Equal(t, 1, f.not.count())
}

func TestDeliver_SkipsStaleJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, 1, "UTC")

	topic, rem, err := f.eng.AddTopic(ctx, 1, "Stale")
	require.NoError(t, err)
	_, err = f.eng.PauseTopic(ctx, 1, topic.ID)
	require.NoError(t, err)

	// Pause removed the row; the late fire must do nothing.
	require.NoError(t, f.eng.Deliver(ctx, f.job(topic.ID, rem.ID)))
	require.Zero(t, f.not.count())

	require.NoError(t, f.eng.Deliver(ctx, f.job(999, 999)))
	require.Zero(t, f.not.count())
}

func TestScheduleTest_PreviewLeavesScheduleIntact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, 1, "UTC")

	topic, real0, err := f.eng.AddTopic(ctx, 1, "Previewable")
	require.NoError(t, err)

	preview, err := f.eng.ScheduleTest(ctx, 1, topic.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusTesting, preview.Status)
	require.Equal(t, f.now.Add(5*time.Second), preview.ScheduledAt)
	require.Equal(t, 2, f.sched.Len())

	require.NoError(t, f.eng.Deliver(ctx, f.job(topic.ID, preview.ID)))
	require.Equal(t, 1, f.not.count())
	require.Equal(t, domain.StatusTesting, f.not.last().Status)

	// The preview row is gone, the real schedule never moved.
	_, err = f.repo.GetReminder(ctx, preview.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	p, err := f.eng.TopicProgress(ctx, 1, topic.ID)
	require.NoError(t, err)
	require.Equal(t, 0, p.Confirmed)
	require.NotNil(t, p.Outstanding)
	require.Equal(t, real0.ID, p.Outstanding.ID)
}

func TestScheduleTest_PausedTopic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, 1, "UTC")

	topic, _, err := f.eng.AddTopic(ctx, 1, "Paused preview")
	require.NoError(t, err)
	_, err = f.eng.PauseTopic(ctx, 1, topic.ID)
	require.NoError(t, err)

	_, err = f.eng.ScheduleTest(ctx, 1, topic.ID)
	require.ErrorIs(t, err, domain.ErrTopicPaused)
}

func TestOverdue_UsesPinnedClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, 1, "UTC")

	_, rem, err := f.eng.AddTopic(ctx, 1, "Clockwork")
	require.NoError(t, err)

	due, err := f.eng.Overdue(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, due)

	f.now = f.now.Add(2 * time.Hour)
	due, err = f.eng.Overdue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, rem.ID, due[0].ID)
}
