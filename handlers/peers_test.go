package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homerobot/models"
)

func TestPeerRegistryObserve(t *testing.T) {
	r := NewPeerRegistry()
	r.Register("robot", "home")

	frame, err := models.Encode(models.UpdateLocation{
		Position:       models.Vec3{X: 1, Y: 0, Z: 2},
		Transform:      models.Identity(),
		RobotConnected: true,
		HasLocalized:   true,
		CurrentMapID:   models.MapID("kitchen"),
	})
	require.NoError(t, err)
	r.Observe("robot", "home", frame)

	info, ok := r.Get("robot")
	require.True(t, ok)
	require.NotNil(t, info.Position)
	assert.Equal(t, models.Vec3{X: 1, Y: 0, Z: 2}, *info.Position)
	assert.True(t, info.HasLocalized)
	assert.True(t, info.RobotConnected)
	require.NotNil(t, info.CurrentMapID)
	assert.Equal(t, "kitchen", *info.CurrentMapID)

	// other frames only refresh the peer
	r.Observe("robot", "home", []byte("garbage"))
	info, _ = r.Get("robot")
	assert.Equal(t, models.Vec3{X: 1, Y: 0, Z: 2}, *info.Position)
}

func TestPeerRegistryCleanupOffline(t *testing.T) {
	now := time.Unix(1000, 0)
	r := NewPeerRegistry()
	r.now = func() time.Time { return now }

	r.Register("robot", "home")
	r.Register("phone", "home")
	assert.Equal(t, 2, r.Count())

	now = now.Add(20 * time.Second)
	r.Observe("phone", "home", nil)
	assert.True(t, r.IsAlive("phone", 30*time.Second))
	assert.True(t, r.IsAlive("robot", 30*time.Second))

	now = now.Add(15 * time.Second)
	assert.False(t, r.IsAlive("robot", 30*time.Second))
	assert.Equal(t, 1, r.CleanupOffline(30*time.Second))

	all := r.All()
	require.Len(t, all, 1)
	assert.Equal(t, "phone", all[0].ID)

	// a cleaned-up peer that speaks again is registered anew
	r.Observe("robot", "home", nil)
	assert.Equal(t, 2, r.Count())
	assert.Equal(t, []string{"phone", "robot"}, []string{r.All()[0].ID, r.All()[1].ID})
}

func TestPeerRegistryAllOrdersByRoom(t *testing.T) {
	r := NewPeerRegistry()
	r.Register("b", "home")
	r.Register("a", "home")
	r.Register("z", "garage")
	r.Remove("missing")

	var ids []string
	for _, p := range r.All() {
		ids = append(ids, p.Room+"/"+p.ID)
	}
	assert.Equal(t, []string{"garage/z", "home/a", "home/b"}, ids)
}
