package registry

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// countdown is one in-flight destruction schedule for a session.
type countdown struct {
	stopOnce sync.Once
	done     chan struct{}
}

func (cd *countdown) stop() {
	cd.stopOnce.Do(func() { close(cd.done) })
}

// StartCountdown begins a per-second destruction countdown for the session.
// tick is called once per interval with the remaining seconds and returns
// false to cancel (a participant's handler vanished). expire is called once
// when the countdown reaches zero. A countdown that fires after its session
// is gone is a no-op: DestroySession and Shutdown stop the schedule first.
func (r *Registry) StartCountdown(sessionID string, seconds int64, tick func(remaining int64) bool, expire func()) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if old, ok := r.countdowns[sessionID]; ok {
		old.stop()
	}
	cd := &countdown{done: make(chan struct{})}
	r.countdowns[sessionID] = cd
	interval := r.Tick
	r.mu.Unlock()

	if s, ok := r.Session(sessionID); ok {
		s.SetDestroyAt(time.Now().Add(time.Duration(seconds) * interval))
	}

	r.log.Info("countdown started",
		zap.String("session", sessionID),
		zap.Int64("seconds", seconds),
	)

	go r.runCountdown(sessionID, cd, seconds, interval, tick, expire)
}

// CancelCountdown stops the session's schedule, if any.
func (r *Registry) CancelCountdown(sessionID string) {
	r.mu.Lock()
	cd := r.countdowns[sessionID]
	delete(r.countdowns, sessionID)
	r.mu.Unlock()
	if cd != nil {
		cd.stop()
	}
}

// removeCountdown deregisters cd, but only if it is still the session's
// current schedule. A replaced schedule must not evict its replacement.
func (r *Registry) removeCountdown(sessionID string, cd *countdown) {
	r.mu.Lock()
	if cur, ok := r.countdowns[sessionID]; ok && cur == cd {
		delete(r.countdowns, sessionID)
	}
	r.mu.Unlock()
	cd.stop()
}

func (r *Registry) runCountdown(sessionID string, cd *countdown, seconds int64, interval time.Duration, tick func(int64) bool, expire func()) {
	t := time.NewTicker(interval)
	defer t.Stop()

	remaining := seconds
	for {
		select {
		case <-cd.done:
			return
		default:
		}

		if remaining <= 0 {
			r.removeCountdown(sessionID, cd)
			expire()
			return
		}
		if !tick(remaining) {
			r.log.Info("countdown cancelled", zap.String("session", sessionID))
			r.removeCountdown(sessionID, cd)
			return
		}
		remaining--

		select {
		case <-cd.done:
			return
		case <-t.C:
		}
	}
}
