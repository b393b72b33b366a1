package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homerobot/models"
)

// fakeView records marker callbacks; handles are the marker ids.
type fakeView struct {
	mu        sync.Mutex
	shown     []int
	completed []int
	removed   []int
}

func (v *fakeView) Show(w models.Waypoint) any {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.shown = append(v.shown, w.MarkerID)
	return w.MarkerID
}

func (v *fakeView) MarkComplete(h any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.completed = append(v.completed, h.(int))
}

func (v *fakeView) Remove(h any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.removed = append(v.removed, h.(int))
}

func TestMarkerBoardComplete(t *testing.T) {
	view := &fakeView{}
	b := NewMarkerBoard(view, 0)

	got := b.Add(wp(7, 1, 1))
	assert.Equal(t, 7, got.Handle)
	b.Add(wp(8, 2, 2))

	assert.True(t, b.Complete(7))
	assert.True(t, b.Complete(7))
	assert.False(t, b.Complete(42))

	assert.Equal(t, []int{7}, view.completed)
	visible := b.Visible()
	require.Len(t, visible, 2)
	assert.True(t, visible[0].Completed)
	assert.False(t, visible[1].Completed)
	assert.Equal(t, []models.Waypoint{visible[1]}, b.Pending())
}

func TestMarkerBoardFirstMatchWins(t *testing.T) {
	b := NewMarkerBoard(nil, 0)
	b.Add(models.Waypoint{MarkerID: 5, Position: models.Vec3{X: 1}})
	b.Add(models.Waypoint{MarkerID: 5, Position: models.Vec3{X: 2}})

	assert.True(t, b.Complete(5))
	visible := b.Visible()
	assert.True(t, visible[0].Completed)
	assert.False(t, visible[1].Completed)
}

func TestMarkerBoardPrunesCompleted(t *testing.T) {
	view := &fakeView{}
	b := NewMarkerBoard(view, 2)

	b.Add(wp(100, 0, 0)) // stays pending
	for id := 1; id <= 4; id++ {
		b.Add(wp(id, 0, 0))
	}
	for id := 1; id <= 4; id++ {
		b.Complete(id)
	}

	ids := []int{}
	for _, m := range b.Visible() {
		ids = append(ids, m.MarkerID)
	}
	assert.Equal(t, []int{100, 3, 4}, ids)
	assert.Equal(t, []int{1, 2}, view.removed)
	assert.Len(t, b.Pending(), 1)
}

func TestMarkerBoardReset(t *testing.T) {
	view := &fakeView{}
	b := NewMarkerBoard(view, 0)
	b.Add(wp(1, 0, 0))
	b.Add(wp(2, 0, 0))

	b.Reset()
	assert.Empty(t, b.Visible())
	assert.Equal(t, []int{1, 2}, view.removed)
}
