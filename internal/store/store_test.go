package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roman-shvetsov/infinite-memory-bot/internal/domain"
)

func newTestRepo(t *testing.T) *SQLiteRepo {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	repo, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func seedUser(t *testing.T, repo *SQLiteRepo, chatID int64, tz string) *domain.User {
	t.Helper()
	ctx := context.Background()
	u := &domain.User{ChatID: chatID, FirstName: "Test", Username: "tester", TZ: tz}
	require.NoError(t, repo.UpsertUser(ctx, u))
	got, err := repo.GetUser(ctx, chatID)
	require.NoError(t, err)
	return got
}

func seedTopic(t *testing.T, repo *SQLiteRepo, chatID int64, title string) *domain.Topic {
	t.Helper()
	topic, err := repo.CreateTopic(context.Background(), chatID, title)
	require.NoError(t, err)
	return topic
}

func TestOpenSQLite_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	repo, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	seedUser(t, repo, 1, "UTC")
	require.NoError(t, repo.Close())

	// Migrations are idempotent and data survives the reopen.
	repo, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer repo.Close()

	u, err := repo.GetUser(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "UTC", u.TZ)
}

func TestUsers_UpsertKeepsTimezone(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seedUser(t, repo, 42, "")
	require.NoError(t, repo.SetTimezone(ctx, 42, "Europe/Moscow"))

	// A later upsert (e.g. /start again with a new display name) must not
	// clobber the explicit timezone choice.
	require.NoError(t, repo.UpsertUser(ctx, &domain.User{ChatID: 42, FirstName: "Renamed"}))

	u, err := repo.GetUser(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, "Europe/Moscow", u.TZ)
	require.Equal(t, "Renamed", u.FirstName)
}

func TestUsers_NotFound(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.GetUser(ctx, 99)
	require.ErrorIs(t, err, domain.ErrNotFound)

	err = repo.SetTimezone(ctx, 99, "UTC")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTopics_OwnershipScoping(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seedUser(t, repo, 1, "UTC")
	seedUser(t, repo, 2, "UTC")
	topic := seedTopic(t, repo, 1, "Spanish verbs")

	// The owner sees it; another chat does not.
	got, err := repo.GetUserTopic(ctx, 1, topic.ID)
	require.NoError(t, err)
	require.Equal(t, "Spanish verbs", got.Title)

	_, err = repo.GetUserTopic(ctx, 2, topic.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	err = repo.SetPaused(ctx, 2, topic.ID, true)
	require.ErrorIs(t, err, domain.ErrNotFound)

	err = repo.DeleteTopic(ctx, 2, topic.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTopics_DeleteCascadesReminders(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seedUser(t, repo, 1, "UTC")
	topic := seedTopic(t, repo, 1, "Anatomy")
	rem, err := repo.CreateReminder(ctx, topic.ID, 0, time.Now().Add(time.Hour), domain.StatusPending)
	require.NoError(t, err)

	require.NoError(t, repo.DeleteTopic(ctx, 1, topic.ID))

	_, err = repo.GetReminder(ctx, rem.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProgress_ConfirmedAndOutstanding(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seedUser(t, repo, 1, "UTC")
	topic := seedTopic(t, repo, 1, "Morse code")

	// Fresh topic: no reminders at all.
	p, err := repo.GetProgress(ctx, 1, topic.ID)
	require.NoError(t, err)
	require.Equal(t, 0, p.Confirmed)
	require.Nil(t, p.Outstanding)

	// First repetition scheduled.
	first, err := repo.CreateReminder(ctx, topic.ID, 0, time.Now().Add(time.Hour), domain.StatusPending)
	require.NoError(t, err)

	p, err = repo.GetProgress(ctx, 1, topic.ID)
	require.NoError(t, err)
	require.Equal(t, 0, p.Confirmed)
	require.NotNil(t, p.Outstanding)
	require.Equal(t, first.ID, p.Outstanding.ID)

	// Confirm it, schedule the next: one confirmed, next outstanding.
	_, err = repo.MarkSent(ctx, first.ID, time.Now())
	require.NoError(t, err)
	ok, err := repo.Acknowledge(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, ok)
	second, err := repo.CreateReminder(ctx, topic.ID, 1, time.Now().Add(24*time.Hour), domain.StatusPending)
	require.NoError(t, err)

	p, err = repo.GetProgress(ctx, 1, topic.ID)
	require.NoError(t, err)
	require.Equal(t, 1, p.Confirmed)
	require.Equal(t, second.ID, p.Outstanding.ID)
	require.False(t, p.Mastered(2))

	// Confirm the last step of a 2-step curve: mastered, nothing outstanding.
	_, err = repo.MarkSent(ctx, second.ID, time.Now())
	require.NoError(t, err)
	_, err = repo.Acknowledge(ctx, second.ID)
	require.NoError(t, err)

	p, err = repo.GetProgress(ctx, 1, topic.ID)
	require.NoError(t, err)
	require.Equal(t, 2, p.Confirmed)
	require.Nil(t, p.Outstanding)
	require.True(t, p.Mastered(2))
}

func TestProgress_IgnoresTestingRows(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seedUser(t, repo, 1, "UTC")
	topic := seedTopic(t, repo, 1, "Flags of the world")

	_, err := repo.CreateReminder(ctx, topic.ID, 0, time.Now(), domain.StatusTesting)
	require.NoError(t, err)

	p, err := repo.GetProgress(ctx, 1, topic.ID)
	require.NoError(t, err)
	require.Nil(t, p.Outstanding, "a preview must not read as the outstanding reminder")
}

func TestListProgress_Filters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seedUser(t, repo, 1, "UTC")
	active := seedTopic(t, repo, 1, "Active topic")
	paused := seedTopic(t, repo, 1, "Paused topic")
	require.NoError(t, repo.SetPaused(ctx, 1, paused.ID, true))

	all, err := repo.ListProgress(ctx, 1, TopicsAll)
	require.NoError(t, err)
	require.Len(t, all, 2)

	act, err := repo.ListProgress(ctx, 1, TopicsActive)
	require.NoError(t, err)
	require.Len(t, act, 1)
	require.Equal(t, active.ID, act[0].Topic.ID)

	pas, err := repo.ListProgress(ctx, 1, TopicsPaused)
	require.NoError(t, err)
	require.Len(t, pas, 1)
	require.Equal(t, paused.ID, pas[0].Topic.ID)
	require.True(t, pas[0].Topic.Paused)
}
