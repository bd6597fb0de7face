package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTitleLen bounds a topic title in runes.
const MaxTitleLen = 200

// Topic is a single thing a user wants to memorize. A topic owns at most
// one non-terminal reminder at any time; the engine enforces that.
type Topic struct {
	ID        int64
	ChatID    int64
	Title     string
	Paused    bool
	CreatedAt time.Time // UTC
}

// ValidateTitle normalizes a title typed by the user.
func ValidateTitle(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyTitle
	}
	if utf8.RuneCountInString(s) > MaxTitleLen {
		return "", ErrTitleTooLong
	}
	return s, nil
}

// Progress is a topic together with its repetition state, as listed in chat.
type Progress struct {
	Topic       Topic
	Confirmed   int       // repetitions acknowledged so far
	Outstanding *Reminder // the non-terminal reminder, if any
}

// Mastered reports whether the whole curve has been confirmed.
func (p *Progress) Mastered(curveLen int) bool {
	return p.Confirmed >= curveLen
}
