// Package registry is the process-wide source of truth for pairing state,
// chat sessions and their destruction schedules.
package registry

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sudostealth/SecureChatApp/internal/model"
)

// Registry tracks which users are paired and owns the per-pair sessions.
// One instance per process, injected where needed.
type Registry struct {
	// Tick is the countdown update interval. Shortened by tests only.
	Tick time.Duration

	mu         sync.Mutex
	pairs      map[string]string // user -> partner, reciprocal entries
	sessions   map[string]*Session
	countdowns map[string]*countdown // session id -> active schedule
	typing     map[string]*typingState
	closed     bool

	log *zap.Logger
}

// New constructs an empty registry.
func New(log *zap.Logger) *Registry {
	return &Registry{
		Tick:       time.Second,
		pairs:      make(map[string]string),
		sessions:   make(map[string]*Session),
		countdowns: make(map[string]*countdown),
		typing:     make(map[string]*typingState),
		log:        log,
	}
}

// SessionID derives the canonical session id for a user pair. Both orderings
// of the same pair map to the same id.
func SessionID(a, b string) string {
	users := []string{a, b}
	sort.Strings(users)
	return users[0] + "_" + users[1]
}

// IsPaired reports whether user currently has a chat partner.
func (r *Registry) IsPaired(user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pairs[user]
	return ok
}

// PartnerOf returns the user's current partner, if any.
func (r *Registry) PartnerOf(user string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pairs[user]
	return p, ok
}

// Pair installs the reciprocal pairing and creates the session. The check and
// the install happen in one critical section so concurrent attempts against
// the same user cannot both succeed.
func (r *Registry) Pair(a, b string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || a == b {
		return false
	}
	if _, ok := r.pairs[a]; ok {
		return false
	}
	if _, ok := r.pairs[b]; ok {
		return false
	}
	r.pairs[a] = b
	r.pairs[b] = a

	id := SessionID(a, b)
	if _, ok := r.sessions[id]; !ok {
		r.sessions[id] = newSession(id, a, b)
	}
	r.log.Info("paired users", zap.String("session", id))
	return true
}

// Unpair removes both reciprocal entries and destroys the shared session.
// Returns whether anything was removed.
func (r *Registry) Unpair(user string) bool {
	r.mu.Lock()
	partner, ok := r.pairs[user]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.pairs, user)
	delete(r.pairs, partner)
	r.mu.Unlock()

	r.DestroySession(SessionID(user, partner))
	r.log.Info("unpaired users", zap.String("user", user), zap.String("partner", partner))
	return true
}

// GetOrCreateSession returns the session for the pair, creating it lazily.
func (r *Registry) GetOrCreateSession(a, b string) *Session {
	id := SessionID(a, b)
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		s = newSession(id, a, b)
		r.sessions[id] = s
	}
	return s
}

// Session returns the live session with the given id, if present.
func (r *Registry) Session(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// AppendMessage appends to the session log if the session is live.
func (r *Registry) AppendMessage(id string, m *model.Message) bool {
	s, ok := r.Session(id)
	if !ok {
		return false
	}
	return s.Append(m)
}

// ClearSession empties the session log without destroying the session.
func (r *Registry) ClearSession(id string) bool {
	s, ok := r.Session(id)
	if !ok {
		return false
	}
	return s.Clear()
}

// DestroySession removes and permanently destroys a session, cancelling any
// countdown tied to it. The second call for the same id is a no-op returning
// false.
func (r *Registry) DestroySession(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	cd := r.countdowns[id]
	delete(r.countdowns, id)
	r.mu.Unlock()

	if cd != nil {
		cd.stop()
	}
	if !ok {
		return false
	}
	lifetime := time.Since(s.CreatedAt())
	s.destroy()
	r.log.Info("destroyed session", zap.String("session", id), zap.Duration("lifetime", lifetime))
	return true
}

// Shutdown cancels every schedule and destroys all sessions.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	cds := make([]*countdown, 0, len(r.countdowns))
	for _, cd := range r.countdowns {
		cds = append(cds, cd)
	}
	r.countdowns = make(map[string]*countdown)
	for _, ts := range r.typing {
		ts.timer.Stop()
	}
	r.typing = make(map[string]*typingState)
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.pairs = make(map[string]string)
	r.mu.Unlock()

	for _, cd := range cds {
		cd.stop()
	}
	for _, s := range sessions {
		s.destroy()
	}
}
