package runner

import "sync"

// WorkQueue hands out units to workers, each at most once. The lock is held
// only for the pop itself.
type WorkQueue struct {
	mu          sync.Mutex
	units       []string
	next        int
	interrupted bool
}

// NewWorkQueue creates a queue over a private copy of units.
func NewWorkQueue(units []string) *WorkQueue {
	return &WorkQueue{units: append([]string(nil), units...)}
}

// Next claims the next unit. ok is false once the queue is exhausted or
// interrupted.
func (q *WorkQueue) Next() (unit string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.interrupted || q.next >= len(q.units) {
		return "", false
	}
	unit = q.units[q.next]
	q.next++
	return unit, true
}

// MarkInterrupted makes every current and future Next call report
// exhaustion, even if units remain.
func (q *WorkQueue) MarkInterrupted() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.interrupted = true
}

func (q *WorkQueue) Interrupted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.interrupted
}

// Len is the number of units the queue was built with.
func (q *WorkQueue) Len() int {
	return len(q.units)
}

// Remaining returns the units that were never claimed.
func (q *WorkQueue) Remaining() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.units[q.next:]...)
}
