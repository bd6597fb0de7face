package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roman-shvetsov/infinite-memory-bot/internal/domain"
)

// UpsertUser inserts a user on first contact or refreshes display fields.
// The timezone column is never touched on conflict; SetTimezone is the only
// mutation path for it.
func (r *SQLiteRepo) UpsertUser(ctx context.Context, u *domain.User) error {
	if u == nil {
		return errors.New("nil user")
	}

	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (chat_id, first_name, username, tz, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			first_name = excluded.first_name,
			username   = excluded.username`,
		u.ChatID, u.FirstName, u.Username, u.TZ, created.UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetUser returns a user by chat id or domain.ErrNotFound.
func (r *SQLiteRepo) GetUser(ctx context.Context, chatID int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT chat_id, first_name, username, tz, created_at
		FROM users
		WHERE chat_id = ?`,
		chatID,
	)

	var (
		u       domain.User
		created int64
	)
	if err := row.Scan(&u.ChatID, &u.FirstName, &u.Username, &u.TZ, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	return &u, nil
}

// SetTimezone stores the user's explicit timezone choice.
func (r *SQLiteRepo) SetTimezone(ctx context.Context, chatID int64, tz string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET tz = ?
		WHERE chat_id = ?`,
		tz, chatID,
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
