package domain

import "time"

// User is one Telegram account talking to the bot. The chat id doubles as
// the delivery address. TZ stays empty until the user explicitly picks one;
// nothing can be scheduled before that.
type User struct {
	ChatID    int64
	FirstName string
	Username  string
	TZ        string
	CreatedAt time.Time // UTC
}

// HasTimezone reports whether the user completed timezone selection.
func (u *User) HasTimezone() bool { return u.TZ != "" }
