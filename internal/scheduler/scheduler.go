package scheduler

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job identifies a reminder whose timer has fired. It carries ids only; the
// consumer re-reads the row from the store before acting on it.
type Job struct {
	ID         string
	TopicID    int64
	ReminderID int64
	At         time.Time
}

// JobID builds the deterministic registration id for a reminder timer.
func JobID(topicID, reminderID int64) string {
	return fmt.Sprintf("t%d:r%d", topicID, reminderID)
}

func topicPrefix(topicID int64) string {
	return fmt.Sprintf("t%d:", topicID)
}

// Scheduler keeps one in-process timer per upcoming reminder and emits a Job
// on Due when a timer fires. It holds no state beyond ids and instants; the
// database stays the source of truth.
type Scheduler struct {
	log *zap.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer

	due  chan Job
	done chan struct{}
}

const dueBuffer = 128

// New creates a Scheduler with no timers armed.
func New(log *zap.Logger) *Scheduler {
	return &Scheduler{
		log:    log,
		timers: make(map[string]*time.Timer),
		due:    make(chan Job, dueBuffer),
		done:   make(chan struct{}),
	}
}

// Due returns the channel on which fired jobs are delivered.
func (s *Scheduler) Due() <-chan Job {
	return s.due
}

// Register arms a timer for the reminder at the given instant. Instants in the
// past fire right away. Re-registering an id replaces the previous timer.
func (s *Scheduler) Register(topicID, reminderID int64, at time.Time) {
	id := JobID(topicID, reminderID)
	job := Job{ID: id, TopicID: topicID, ReminderID: reminderID, At: at}

	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}

	if old, ok := s.timers[id]; ok {
		old.Stop()
		s.log.Warn("replacing armed timer", zap.String("job", id))
	}

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	s.timers[id] = time.AfterFunc(delay, func() { s.fire(job) })
}

// fire runs on the timer goroutine: drop the registration, hand the job to
// the consumer. Fires that race with Stop are discarded.
func (s *Scheduler) fire(job Job) {
	s.mu.Lock()
	delete(s.timers, job.ID)
	s.mu.Unlock()

	select {
	case <-s.done:
	case s.due <- job:
	}
}

// Cancel disarms the timer for a single reminder. It reports whether a
// registration existed.
func (s *Scheduler) Cancel(topicID, reminderID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := JobID(topicID, reminderID)
	t, ok := s.timers[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, id)
	return true
}

// CancelTopic disarms every timer belonging to the topic and returns how many
// were dropped.
func (s *Scheduler) CancelTopic(topicID int64) int {
	prefix := topicPrefix(topicID)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, t := range s.timers {
		if strings.HasPrefix(id, prefix) {
			t.Stop()
			delete(s.timers, id)
			n++
		}
	}
	return n
}

// Exists reports whether a timer is currently armed for the reminder.
func (s *Scheduler) Exists(topicID, reminderID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.timers[JobID(topicID, reminderID)]
	return ok
}

// Len returns the number of armed timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.timers)
}

// Stop disarms all timers and drops any late fires. After Stop the scheduler
// accepts no further registrations.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.log.Info("scheduler stopped")
}
