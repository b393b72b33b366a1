package services

import (
	"sync"

	"homerobot/models"
)

const DefaultMarkerRetention = 256

// MarkerView renders waypoint markers. Show returns an opaque handle which is
// passed back on completion and removal.
type MarkerView interface {
	Show(w models.Waypoint) any
	MarkComplete(handle any)
	Remove(handle any)
}

// MarkerBoard - the visible set of waypoint markers.
//
// Completion is matched by marker id, first match wins and an unknown id is
// ignored. Completed markers beyond the retention limit are pruned oldest
// first; pending ones are never pruned.
type MarkerBoard struct {
	mu        sync.Mutex
	markers   []models.Waypoint
	completed int
	retention int
	view      MarkerView
}

func NewMarkerBoard(view MarkerView, retention int) *MarkerBoard {
	if retention <= 0 {
		retention = DefaultMarkerRetention
	}
	return &MarkerBoard{view: view, retention: retention}
}

// Add shows w and appends it to the visible set.
func (b *MarkerBoard) Add(w models.Waypoint) models.Waypoint {
	if b.view != nil {
		w.Handle = b.view.Show(w)
	}
	w.Completed = false

	b.mu.Lock()
	b.markers = append(b.markers, w)
	b.mu.Unlock()
	return w
}

// Complete flags the first marker with id as done and reports whether one
// matched. Completing an already completed marker changes nothing.
func (b *MarkerBoard) Complete(markerID int) bool {
	b.mu.Lock()
	var handle any
	matched, changed := false, false
	for i := range b.markers {
		m := &b.markers[i]
		if m.MarkerID != markerID {
			continue
		}
		matched = true
		if !m.Completed {
			m.Completed = true
			handle = m.Handle
			changed = true
			b.completed++
		}
		break
	}
	pruned := b.prune()
	b.mu.Unlock()

	if b.view != nil {
		if changed {
			b.view.MarkComplete(handle)
		}
		for _, h := range pruned {
			b.view.Remove(h)
		}
	}
	return matched
}

// prune drops the oldest completed markers over the limit. Callers hold mu.
func (b *MarkerBoard) prune() []any {
	var handles []any
	excess := b.completed - b.retention
	if excess <= 0 {
		return nil
	}
	kept := b.markers[:0]
	for _, m := range b.markers {
		if excess > 0 && m.Completed {
			excess--
			b.completed--
			handles = append(handles, m.Handle)
			continue
		}
		kept = append(kept, m)
	}
	clear(b.markers[len(kept):])
	b.markers = kept
	return handles
}

// Visible returns a copy of the set in insertion order.
func (b *MarkerBoard) Visible() []models.Waypoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Waypoint(nil), b.markers...)
}

// Pending returns the markers not yet completed.
func (b *MarkerBoard) Pending() []models.Waypoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.Waypoint
	for _, m := range b.markers {
		if !m.Completed {
			out = append(out, m)
		}
	}
	return out
}

// Reset removes every marker.
func (b *MarkerBoard) Reset() {
	b.mu.Lock()
	markers := b.markers
	b.markers = nil
	b.completed = 0
	b.mu.Unlock()

	if b.view != nil {
		for _, m := range markers {
			b.view.Remove(m.Handle)
		}
	}
}
