package store

import (
	"context"
	"time"

	"github.com/roman-shvetsov/infinite-memory-bot/internal/domain"
)

// TopicFilter narrows topic listings.
type TopicFilter int

const (
	TopicsAll TopicFilter = iota
	TopicsActive
	TopicsPaused
)

// Repo defines storage operations for users, topics and reminders.
//
// Every reminder transition is a single conditional UPDATE (or guarded
// INSERT/DELETE), so two callers racing over the same row observe exactly
// one winner; the loser gets a false/zero affected count, never an error.
type Repo interface {
	// users
	UpsertUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, chatID int64) (*domain.User, error)
	SetTimezone(ctx context.Context, chatID int64, tz string) error

	// topics
	CreateTopic(ctx context.Context, chatID int64, title string) (*domain.Topic, error)
	GetTopic(ctx context.Context, topicID int64) (*domain.Topic, error)
	GetUserTopic(ctx context.Context, chatID, topicID int64) (*domain.Topic, error)
	ListProgress(ctx context.Context, chatID int64, f TopicFilter) ([]domain.Progress, error)
	GetProgress(ctx context.Context, chatID, topicID int64) (*domain.Progress, error)
	SetPaused(ctx context.Context, chatID, topicID int64, paused bool) error
	DeleteTopic(ctx context.Context, chatID, topicID int64) error

	// reminders
	CreateReminder(ctx context.Context, topicID int64, repetition int, at time.Time, status domain.Status) (*domain.Reminder, error)
	GetReminder(ctx context.Context, id int64) (*domain.Reminder, error)
	ClearUnprocessed(ctx context.Context, topicID int64) (int64, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Reminder, error)
	ListUnfired(ctx context.Context) ([]domain.Reminder, error)
	MarkSent(ctx context.Context, id int64, at time.Time) (bool, error)
	Acknowledge(ctx context.Context, id int64) (bool, error)
	DeleteTested(ctx context.Context, id int64) (bool, error)
	MarkAwaiting(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}
