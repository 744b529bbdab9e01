// Package flow provides the dialogue state machine and its session store.
package flow

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/PitchPipe/internal/metrics"
	"github.com/BTreeMap/PitchPipe/internal/models"
)

// DefaultSessionIdleTimeout is how long an untouched session survives.
const DefaultSessionIdleTimeout = 30 * time.Minute

// ErrSessionNotFound is returned when a user has no in-memory session.
var ErrSessionNotFound = errors.New("session not found")

// Session is the transient per-user intake state. Fields accumulate until the project is
// committed at the end of REVENUE; afterwards the session only records State == FEEDBACK.
type Session struct {
	UserID         string
	ChatID         string
	Handle         string
	State          models.DialogueState
	PendingName    string
	PendingStage   models.ProjectStage
	PendingRevenue string
	StartedAt      time.Time
	LastActivity   time.Time
}

type sessionEntry struct {
	session Session
	timerID string
}

// SessionStore holds sessions keyed by user ID and expires them after an idle period.
// Expiry behaves like /cancel without a reply.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	timer    Timer
	idle     time.Duration
	metrics  *metrics.Collector
	now      func() time.Time
}

// NewSessionStore creates a session store. An idle timeout <= 0 disables expiry.
func NewSessionStore(timer Timer, idle time.Duration, m *metrics.Collector) *SessionStore {
	if timer == nil {
		timer = NewSimpleTimer()
	}
	return &SessionStore{
		sessions: make(map[string]*sessionEntry),
		timer:    timer,
		idle:     idle,
		metrics:  m,
		now:      time.Now,
	}
}

// Get returns a copy of the user's session.
func (s *SessionStore) Get(userID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[userID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return e.session, nil
}

// Put stores sess, stamping LastActivity (and StartedAt for new sessions), and restarts the
// idle timer.
func (s *SessionStore) Put(sess Session) {
	now := s.now()
	sess.LastActivity = now
	if sess.StartedAt.IsZero() {
		sess.StartedAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.sessions[sess.UserID]; ok && old.timerID != "" {
		_ = s.timer.Cancel(old.timerID)
	}
	entry := &sessionEntry{session: sess}
	s.sessions[sess.UserID] = entry

	if s.idle > 0 {
		userID := sess.UserID
		id, err := s.timer.ScheduleAfter(s.idle, func() { s.expire(userID, entry) })
		if err != nil {
			slog.Warn("SessionStore Put: failed to schedule expiry", "user_id", userID, "error", err)
		}
		entry.timerID = id
	}
	s.metrics.SetActiveSessions(len(s.sessions))
	slog.Debug("SessionStore Put succeeded", "user_id", sess.UserID, "state", sess.State)
}

// Delete removes the user's session and reports whether one existed.
func (s *SessionStore) Delete(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[userID]
	if !ok {
		return false
	}
	if e.timerID != "" {
		_ = s.timer.Cancel(e.timerID)
	}
	delete(s.sessions, userID)
	s.metrics.SetActiveSessions(len(s.sessions))
	slog.Debug("SessionStore Delete succeeded", "user_id", userID)
	return true
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close cancels every pending expiry.
func (s *SessionStore) Close() {
	s.timer.Stop()
}

// expire drops the session only if entry is still the current one for the user.
func (s *SessionStore) expire(userID string, entry *sessionEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.sessions[userID]; !ok || cur != entry {
		return
	}
	delete(s.sessions, userID)
	s.metrics.SetActiveSessions(len(s.sessions))
	slog.Info("SessionStore: session expired", "user_id", userID, "state", entry.session.State, "idle", s.idle)
}
