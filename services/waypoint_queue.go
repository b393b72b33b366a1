package services

import (
	"sync"

	"homerobot/models"
)

// WaypointQueue - FIFO of pending waypoints plus the "currently driving" flag.
//
// Both are guarded by one mutex so the drive loop can hand over to idle
// atomically: NextOrIdle either pops or clears the flag, and the next
// Enqueue then reports that a wake is needed.
type WaypointQueue struct {
	mu      sync.Mutex
	items   []models.Waypoint
	driving bool
}

func NewWaypointQueue() *WaypointQueue {
	return &WaypointQueue{}
}

// Enqueue appends w. wake is true when the drive loop was idle and the caller
// must start it; the flag is set before returning so only one caller gets it.
func (q *WaypointQueue) Enqueue(w models.Waypoint) (wake bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, w)
	if q.driving {
		return false
	}
	q.driving = true
	return true
}

// PushFront puts w back at the head, e.g. a target interrupted by a fault.
func (q *WaypointQueue) PushFront(w models.Waypoint) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]models.Waypoint{w}, q.items...)
}

// DequeueNext pops the oldest waypoint without touching the driving flag.
func (q *WaypointQueue) DequeueNext() (models.Waypoint, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pop()
}

// NextOrIdle pops the oldest waypoint, or marks the loop idle when empty.
func (q *WaypointQueue) NextOrIdle() (models.Waypoint, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	w, ok := q.pop()
	if !ok {
		q.driving = false
	}
	return w, ok
}

func (q *WaypointQueue) pop() (models.Waypoint, bool) {
	if len(q.items) == 0 {
		return models.Waypoint{}, false
	}
	w := q.items[0]
	q.items[0] = models.Waypoint{}
	q.items = q.items[1:]
	return w, true
}

// Wake claims the driving flag if the loop is idle and work is pending.
func (q *WaypointQueue) Wake() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.driving || len(q.items) == 0 {
		return false
	}
	q.driving = true
	return true
}

// SetIdle releases the driving flag without draining the queue.
func (q *WaypointQueue) SetIdle() {
	q.mu.Lock()
	q.driving = false
	q.mu.Unlock()
}

func (q *WaypointQueue) Driving() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.driving
}

func (q *WaypointQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns a copy of the queued waypoints, oldest first.
func (q *WaypointQueue) Pending() []models.Waypoint {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.Waypoint(nil), q.items...)
}

// Clear drops every pending waypoint and returns how many were removed.
func (q *WaypointQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}
