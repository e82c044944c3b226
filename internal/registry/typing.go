package registry

import "time"

// typingState tracks one user's last typing activity and the armed expiry check.
type typingState struct {
	last  time.Time
	timer *time.Timer
}

// TouchTyping records typing activity for user and arms a one-shot expiry
// check after window. If no refresh arrives before the check fires, expired
// runs once. A refresh re-arms the check; a fire that lost the race against a
// refresh is a no-op.
func (r *Registry) TouchTyping(user string, window time.Duration, expired func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	now := time.Now()
	if ts, ok := r.typing[user]; ok {
		ts.last = now
		ts.timer.Stop()
		ts.timer = r.armTypingCheck(user, window, expired)
		return
	}
	r.typing[user] = &typingState{
		last:  now,
		timer: r.armTypingCheck(user, window, expired),
	}
}

// armTypingCheck must be called with r.mu held.
func (r *Registry) armTypingCheck(user string, window time.Duration, expired func()) *time.Timer {
	return time.AfterFunc(window, func() {
		r.mu.Lock()
		ts, ok := r.typing[user]
		if !ok || time.Since(ts.last) < window {
			// refreshed or already stopped; stale check does nothing
			r.mu.Unlock()
			return
		}
		delete(r.typing, user)
		r.mu.Unlock()
		expired()
	})
}

// StopTyping cancels the user's pending expiry check, if any. Returns whether
// the user was marked as typing.
func (r *Registry) StopTyping(user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.typing[user]
	if !ok {
		return false
	}
	ts.timer.Stop()
	delete(r.typing, user)
	return true
}
