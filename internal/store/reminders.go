package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roman-shvetsov/infinite-memory-bot/internal/domain"
)

// CreateReminder persists a new reminder, refusing when the topic is gone or
// paused. This is the write side of the pause/advance race: an insert can
// never resurrect a paused topic's schedule.
func (r *SQLiteRepo) CreateReminder(ctx context.Context, topicID int64, repetition int, at time.Time, status domain.Status) (*domain.Reminder, error) {
	now := time.Now().UTC().Unix()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO reminders (topic_id, repetition, scheduled_at, status, sent_at, created_at)
		SELECT t.id, ?, ?, ?, NULL, ?
		  FROM topics t
		 WHERE t.id = ? AND t.paused = 0`,
		repetition, at.UTC().Unix(), string(status), now, topicID,
	)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, terr := r.GetTopic(ctx, topicID); terr != nil {
			return nil, terr // ErrNotFound or a real db error
		}
		return nil, domain.ErrTopicPaused
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &domain.Reminder{
		ID:          id,
		TopicID:     topicID,
		Repetition:  repetition,
		ScheduledAt: time.Unix(at.UTC().Unix(), 0).UTC(),
		Status:      status,
		CreatedAt:   time.Unix(now, 0).UTC(),
	}, nil
}

// GetReminder returns a reminder by id or domain.ErrNotFound.
func (r *SQLiteRepo) GetReminder(ctx context.Context, id int64) (*domain.Reminder, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)
	rem, err := scanReminder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rem, nil
}

// ClearUnprocessed deletes every reminder of the topic that has not been
// confirmed, previews included. Used before scheduling anew and on pause,
// so at most one outstanding reminder can ever survive.
func (r *SQLiteRepo) ClearUnprocessed(ctx context.Context, topicID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM reminders
		WHERE topic_id = ? AND status != 'processed'`,
		topicID,
	)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

// ListDue returns up to limit fireable reminders whose instant has passed,
// oldest first.
func (r *SQLiteRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Reminder, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE status IN ('pending', 'testing')
		  AND scheduled_at <= ?
		ORDER BY scheduled_at ASC
		LIMIT ?`,
		now.UTC().Unix(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return collectReminders(rows)
}

// ListUnfired returns every reminder a timer should exist for, due or not.
// Startup reconciliation partitions the result by instant.
func (r *SQLiteRepo) ListUnfired(ctx context.Context) ([]domain.Reminder, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE status IN ('pending', 'testing')
		ORDER BY scheduled_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return collectReminders(rows)
}

func collectReminders(rows *sql.Rows) ([]domain.Reminder, error) {
	defer rows.Close()

	var res []domain.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *rem)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// MarkSent records delivery: pending → sent. Returns false when the row was
// no longer pending (raced with an ack, a pause or another deliverer).
func (r *SQLiteRepo) MarkSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reminders
		SET status = 'sent', sent_at = ?
		WHERE id = ? AND status = 'pending'`,
		at.UTC().Unix(), id,
	)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Acknowledge records the user's confirmation: sent/awaiting → processed.
// Returns false when someone already processed it.
func (r *SQLiteRepo) Acknowledge(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reminders
		SET status = 'processed'
		WHERE id = ? AND status IN ('sent', 'awaiting')`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteTested removes a delivered preview row: testing → gone.
func (r *SQLiteRepo) DeleteTested(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE id = ? AND status = 'testing'`, id)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkAwaiting flips sent reminders older than the cutoff to awaiting and
// returns how many rows changed. Informational only: acknowledgment of an
// awaiting reminder is still accepted.
func (r *SQLiteRepo) MarkAwaiting(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reminders
		SET status = 'awaiting'
		WHERE status = 'sent'
		  AND sent_at IS NOT NULL
		  AND sent_at <= ?`,
		olderThan.UTC().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}
