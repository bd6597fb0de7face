package domain

import (
	"fmt"
	"time"
)

// Status is a reminder's lifecycle state. Stored as text; ParseStatus guards
// the scan boundary so an unknown row never leaks into the engine.
type Status string

const (
	StatusPending   Status = "pending"   // scheduled, timer not fired yet
	StatusSent      Status = "sent"      // delivered, waiting for confirmation
	StatusProcessed Status = "processed" // confirmed; terminal
	StatusAwaiting  Status = "awaiting"  // sent long ago, still unconfirmed
	StatusTesting   Status = "testing"   // preview nudge; fires like pending
)

// ParseStatus validates a raw status value read from storage.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusSent, StatusProcessed, StatusAwaiting, StatusTesting:
		return st, nil
	}
	return "", fmt.Errorf("unknown reminder status %q", s)
}

// Terminal reports whether no further transition is defined for the status.
func (s Status) Terminal() bool { return s == StatusProcessed }

// Fireable reports whether a due timer may deliver the reminder.
func (s Status) Fireable() bool { return s == StatusPending || s == StatusTesting }

// Reminder is one scheduled nudge for a topic.
type Reminder struct {
	ID          int64
	TopicID     int64
	Repetition  int       // 0-based position in the curve
	ScheduledAt time.Time // UTC
	Status      Status
	SentAt      *time.Time // UTC, set on delivery
	CreatedAt   time.Time  // UTC
}
