package registry

import (
	"sync"
	"time"

	"github.com/sudostealth/SecureChatApp/internal/model"
)

// Session holds the message log for one pairing. It outlives neither
// participant's disconnect: teardown destroys it.
type Session struct {
	ID    string
	UserA string
	UserB string

	mu        sync.Mutex
	log       []*model.Message
	createdAt time.Time
	destroyAt time.Time // zero until SET_TIMER
	destroyed bool
}

func newSession(id, a, b string) *Session {
	return &Session{ID: id, UserA: a, UserB: b, createdAt: time.Now()}
}

// Append adds a message to the log. No-op once destroyed.
func (s *Session) Append(m *model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return false
	}
	s.log = append(s.log, m)
	return true
}

// Clear empties the log, keeping the session alive. No-op once destroyed.
func (s *Session) Clear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return false
	}
	s.log = nil
	return true
}

// Messages returns a copy of the current log.
func (s *Session) Messages() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Message, len(s.log))
	copy(out, s.log)
	return out
}

// SetDestroyAt records the scheduled destruction deadline.
func (s *Session) SetDestroyAt(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyAt = t
}

// Destroyed reports whether the session has been permanently destroyed.
func (s *Session) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// destroy empties the log and marks the session permanently dead. Taking the
// session lock here sequences destruction after any in-flight Append.
func (s *Session) destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
	s.log = nil
}
