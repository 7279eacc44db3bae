// ABOUTME: Tracks active dashboard users and in-flight scoring jobs.
// ABOUTME: Users are keyed by remote IP and count as active within a sliding window.

package history

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultActiveWindow is how long a user counts as active after their last request
const DefaultActiveWindow = 15 * time.Minute

// ActivityTracker records user activity and the scoring job queue
type ActivityTracker struct {
	mu     sync.Mutex
	users  map[string]time.Time
	queue  []string
	window time.Duration
	now    func() time.Time
}

// NewActivityTracker creates a tracker. A non-positive window selects
// DefaultActiveWindow.
func NewActivityTracker(window time.Duration) *ActivityTracker {
	if window <= 0 {
		window = DefaultActiveWindow
	}
	return &ActivityTracker{
		users:  make(map[string]time.Time),
		window: window,
		now:    time.Now,
	}
}

// Touch marks the user at addr as seen now
func (a *ActivityTracker) Touch(addr string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users[addr] = a.now()
}

// ActiveUsers counts users seen within the window and forgets the rest
func (a *ActivityTracker) ActiveUsers() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-a.window)
	for addr, seen := range a.users {
		if !seen.After(cutoff) {
			delete(a.users, addr)
		}
	}
	return len(a.users)
}

// Enqueue registers a new job and returns its ID
func (a *ActivityTracker) Enqueue() string {
	id := "job_" + uuid.NewString()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.queue = append(a.queue, id)
	return id
}

// Done removes a job from the queue
func (a *ActivityTracker) Done(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, queued := range a.queue {
		if queued == id {
			a.queue = append(a.queue[:i], a.queue[i+1:]...)
			return
		}
	}
}

// QueueLength returns the number of jobs in flight
func (a *ActivityTracker) QueueLength() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}
