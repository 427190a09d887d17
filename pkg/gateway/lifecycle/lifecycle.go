// Package lifecycle tracks whether this process is draining. A draining
// engine stops taking new calls while live streams finish and report.
package lifecycle

import (
	"sync"
	"time"
)

// Lifecycle is shared by the readiness handler and the shutdown path. The
// zero value is ready.
type Lifecycle struct {
	mu       sync.Mutex
	draining bool
	since    time.Time
}

// SetDraining flips the draining flag. The first transition into draining
// records when it began.
func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if draining && !l.draining {
		l.since = time.Now()
	}
	if !draining {
		l.since = time.Time{}
	}
	l.draining = draining
}

// IsDraining reports whether the process has begun shutting down.
func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.draining
}

// DrainingSince returns when draining began, zero while the process is
// still taking calls.
func (l *Lifecycle) DrainingSince() time.Time {
	if l == nil {
		return time.Time{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.since
}
