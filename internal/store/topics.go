package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roman-shvetsov/infinite-memory-bot/internal/domain"
)

// CreateTopic inserts an unpaused topic for the user.
func (r *SQLiteRepo) CreateTopic(ctx context.Context, chatID int64, title string) (*domain.Topic, error) {
	now := time.Now().UTC().Unix()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO topics (chat_id, title, paused, created_at)
		VALUES (?, ?, 0, ?)`,
		chatID, title, now,
	)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &domain.Topic{
		ID:        id,
		ChatID:    chatID,
		Title:     title,
		CreatedAt: time.Unix(now, 0).UTC(),
	}, nil
}

// GetTopic returns a topic by id regardless of owner (fire-path lookups).
func (r *SQLiteRepo) GetTopic(ctx context.Context, topicID int64) (*domain.Topic, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE id = ?`, topicID)
	t, err := scanTopic(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

// GetUserTopic returns the topic only when it belongs to the chat; a foreign
// topic id reads as not found.
func (r *SQLiteRepo) GetUserTopic(ctx context.Context, chatID, topicID int64) (*domain.Topic, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE id = ? AND chat_id = ?`, topicID, chatID)
	t, err := scanTopic(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

// progressSelect joins each topic with its single outstanding reminder (the
// newest non-terminal one, should races ever leave more than one) and the
// number of confirmed repetitions.
const progressSelect = `
	SELECT t.id, t.chat_id, t.title, t.paused, t.created_at,
	       r.id, r.topic_id, r.repetition, r.scheduled_at, r.status, r.sent_at, r.created_at,
	       COALESCE((SELECT MAX(p.repetition) + 1
	                   FROM reminders p
	                  WHERE p.topic_id = t.id AND p.status = 'processed'), 0)
	  FROM topics t
	  LEFT JOIN reminders r ON r.id = (
	        SELECT o.id
	          FROM reminders o
	         WHERE o.topic_id = t.id AND o.status IN ('pending', 'sent', 'awaiting')
	         ORDER BY o.scheduled_at DESC, o.id DESC
	         LIMIT 1)`

func scanProgress(rs rowScanner) (*domain.Progress, error) {
	var (
		p          domain.Progress
		paused     int
		tCreated   int64
		remID      sql.NullInt64
		remTopic   sql.NullInt64
		remRep     sql.NullInt64
		remAt      sql.NullInt64
		remStatus  sql.NullString
		remSent    sql.NullInt64
		remCreated sql.NullInt64
		confirmed  int
	)
	err := rs.Scan(
		&p.Topic.ID, &p.Topic.ChatID, &p.Topic.Title, &paused, &tCreated,
		&remID, &remTopic, &remRep, &remAt, &remStatus, &remSent, &remCreated,
		&confirmed,
	)
	if err != nil {
		return nil, err
	}
	p.Topic.Paused = paused != 0
	p.Topic.CreatedAt = time.Unix(tCreated, 0).UTC()
	p.Confirmed = confirmed

	if remID.Valid {
		status, err := domain.ParseStatus(remStatus.String)
		if err != nil {
			return nil, err
		}
		p.Outstanding = &domain.Reminder{
			ID:          remID.Int64,
			TopicID:     remTopic.Int64,
			Repetition:  int(remRep.Int64),
			ScheduledAt: time.Unix(remAt.Int64, 0).UTC(),
			Status:      status,
			SentAt:      fromNullInt64(remSent),
			CreatedAt:   time.Unix(remCreated.Int64, 0).UTC(),
		}
	}
	return &p, nil
}

// ListProgress returns the user's topics with repetition state, oldest first.
func (r *SQLiteRepo) ListProgress(ctx context.Context, chatID int64, f TopicFilter) ([]domain.Progress, error) {
	query := progressSelect + ` WHERE t.chat_id = ?`
	switch f {
	case TopicsActive:
		query += ` AND t.paused = 0`
	case TopicsPaused:
		query += ` AND t.paused = 1`
	}
	query += ` ORDER BY t.created_at ASC, t.id ASC`

	rows, err := r.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var res []domain.Progress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// GetProgress returns one topic's repetition state, scoped to the owner.
func (r *SQLiteRepo) GetProgress(ctx context.Context, chatID, topicID int64) (*domain.Progress, error) {
	row := r.db.QueryRowContext(ctx,
		progressSelect+` WHERE t.chat_id = ? AND t.id = ?`, chatID, topicID)
	p, err := scanProgress(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

// SetPaused flips the paused flag, scoped to the owner.
func (r *SQLiteRepo) SetPaused(ctx context.Context, chatID, topicID int64, paused bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE topics
		SET paused = ?
		WHERE id = ? AND chat_id = ?`,
		boolToInt(paused), topicID, chatID,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteTopic removes the topic; reminders go with it (ON DELETE CASCADE).
func (r *SQLiteRepo) DeleteTopic(ctx context.Context, chatID, topicID int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM topics WHERE id = ? AND chat_id = ?`, topicID, chatID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
