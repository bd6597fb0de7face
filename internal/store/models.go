package store

import (
	"database/sql"
	"time"

	"github.com/roman-shvetsov/infinite-memory-bot/internal/domain"
)

func fromNullInt64(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := time.Unix(ns.Int64, 0).UTC()
	return &t
}

// boolToInt converts a boolean to 1/0 for SQLite.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface{ Scan(dest ...any) error }

// reminderColumns is the canonical column order used by scanReminder.
const reminderColumns = `id, topic_id, repetition, scheduled_at, status, sent_at, created_at`

func scanReminder(rs rowScanner) (*domain.Reminder, error) {
	var (
		r         domain.Reminder
		scheduled int64
		created   int64
		rawStatus string
		sentNS    sql.NullInt64
	)
	if err := rs.Scan(&r.ID, &r.TopicID, &r.Repetition, &scheduled, &rawStatus, &sentNS, &created); err != nil {
		return nil, err
	}
	status, err := domain.ParseStatus(rawStatus)
	if err != nil {
		return nil, err
	}
	r.Status = status
	r.ScheduledAt = time.Unix(scheduled, 0).UTC()
	r.SentAt = fromNullInt64(sentNS)
	r.CreatedAt = time.Unix(created, 0).UTC()
	return &r, nil
}

// topicColumns is the canonical column order used by scanTopic.
const topicColumns = `id, chat_id, title, paused, created_at`

func scanTopic(rs rowScanner) (*domain.Topic, error) {
	var (
		t       domain.Topic
		paused  int
		created int64
	)
	if err := rs.Scan(&t.ID, &t.ChatID, &t.Title, &paused, &created); err != nil {
		return nil, err
	}
	t.Paused = paused != 0
	t.CreatedAt = time.Unix(created, 0).UTC()
	return &t, nil
}
