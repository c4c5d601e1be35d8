package jobs

import (
	"math"
	"sync"
	"time"
)

const defaultPollLimitWindow = 500 * time.Millisecond

// PollLimiter allows one status read per client and job within a window.
type PollLimiter struct {
	mu      sync.Mutex
	lastHit map[string]time.Time
	now     func() time.Time
	window  time.Duration
}

// NewPollLimiter builds a limiter. A nil now uses time.Now.
func NewPollLimiter(window time.Duration, now func() time.Time) *PollLimiter {
	if now == nil {
		now = time.Now
	}
	if window <= 0 {
		window = defaultPollLimitWindow
	}
	return &PollLimiter{
		lastHit: make(map[string]time.Time),
		now:     now,
		window:  window,
	}
}

// Allow records a hit and reports whether it falls outside the window.
func (l *PollLimiter) Allow(clientID, jobID string) bool {
	if l == nil {
		return true
	}
	key := clientID + "|" + jobID
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.lastHit[key]; ok && now.Sub(last) < l.window {
		return false
	}
	l.lastHit[key] = now
	if len(l.lastHit) > 10000 {
		l.evict(now)
	}
	return true
}

func (l *PollLimiter) evict(now time.Time) {
	for k, at := range l.lastHit {
		if now.Sub(at) >= l.window {
			delete(l.lastHit, k)
		}
	}
}

// RetryAfterSeconds is the Retry-After value for a rejected read, at least 1.
func (l *PollLimiter) RetryAfterSeconds() int {
	window := defaultPollLimitWindow
	if l != nil {
		window = l.window
	}
	return int(math.Max(1, math.Ceil(window.Seconds())))
}
