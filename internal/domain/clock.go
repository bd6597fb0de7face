package domain

import (
	"fmt"
	"strings"
	"time"
)

// QuietHours is the local window during which nudges are deferred: a
// delivery that would land with local hour in [From, To) is shifted to
// To:00 of the same calendar day. The window must not wrap midnight.
type QuietHours struct {
	From int // inclusive local hour
	To   int // exclusive local hour; also the deferral target
}

// Validate rejects wrapped or out-of-range windows.
func (q QuietHours) Validate() error {
	if q.From < 0 || q.To > 23 || q.From >= q.To {
		return fmt.Errorf("quiet hours %02d:00-%02d:00 must satisfy 0 <= from < to <= 23", q.From, q.To)
	}
	return nil
}

// Apply shifts a local instant out of the quiet window. Instants at or past
// To:00 are returned unchanged, so re-applying is a no-op.
func (q QuietHours) Apply(local time.Time) time.Time {
	h := local.Hour()
	if h < q.From || h >= q.To {
		return local
	}
	return time.Date(local.Year(), local.Month(), local.Day(), q.To, 0, 0, 0, local.Location())
}

// Location resolves a user's IANA timezone. An empty value means the user
// never selected one; anything unknown to the tz database is ErrBadTimezone.
func Location(tz string) (*time.Location, error) {
	if tz == "" {
		return nil, ErrNoTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadTimezone, tz)
	}
	return loc, nil
}

// ValidateTZ checks free-form timezone input and returns the canonical name.
func ValidateTZ(tz string) (string, error) {
	loc, err := Location(strings.TrimSpace(tz))
	if err != nil {
		return "", err
	}
	return loc.String(), nil
}

// NextInstant computes when the next nudge fires: now plus the curve delay,
// moved out of quiet hours in the user's local frame, returned in UTC.
func NextInstant(nowUTC time.Time, loc *time.Location, delay time.Duration, q QuietHours) time.Time {
	local := nowUTC.In(loc).Add(delay)
	return q.Apply(local).UTC()
}

// FormatLocal renders an instant in the user's timezone for chat messages.
// Falls back to UTC when the timezone is unusable.
func FormatLocal(t time.Time, tz string) string {
	loc, err := Location(tz)
	if err != nil {
		loc = time.UTC
	}
	return t.In(loc).Format("Mon, 02 Jan 15:04")
}
