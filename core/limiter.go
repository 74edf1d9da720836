package core

import (
	"sync"
)

// IterationLimiter counts reasoning-loop iterations of a single run against
// max_iteration.
type IterationLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewIterationLimiter creates a limiter allowing max iterations. A max <= 0
// falls back to DefaultMaxIteration.
func NewIterationLimiter(max int) *IterationLimiter {
	if max <= 0 {
		max = DefaultMaxIteration
	}
	return &IterationLimiter{max: max}
}

// Increment records a completed iteration and reports whether the bound has
// been reached.
func (l *IterationLimiter) Increment() (exhausted bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count < l.max {
		l.count++
	}
	return l.count >= l.max
}

// Count returns the number of completed iterations.
func (l *IterationLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}

// Max returns the configured bound.
func (l *IterationLimiter) Max() int { return l.max }

// Remaining returns how many iterations are left.
func (l *IterationLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.max - l.count
}
