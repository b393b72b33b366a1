package services

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homerobot/models"
)

func TestPoseStoreMaxAge(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewPoseStore(WithPoseMaxAge(500 * time.Millisecond))
	s.now = func() time.Time { return now }

	_, ok := s.Pose()
	assert.False(t, ok)

	s.Update(models.Pose{Position: models.Vec3{X: 1}, Transform: models.Identity()}, true, models.MapID("home"))
	pose, ok := s.Pose()
	require.True(t, ok)
	assert.Equal(t, float32(1), pose.Position.X)

	now = now.Add(500 * time.Millisecond)
	_, ok = s.Pose()
	assert.True(t, ok, "exactly max age is still fresh")

	now = now.Add(time.Millisecond)
	_, ok = s.Pose()
	assert.False(t, ok)

	localized, mapID := s.Localization()
	assert.True(t, localized, "staleness does not forget localization")
	require.NotNil(t, mapID)
	assert.Equal(t, "home", *mapID)

	s.Update(models.Pose{Position: models.Vec3{X: 2}, Transform: models.Identity()}, false, nil)
	_, ok = s.Pose()
	assert.True(t, ok)
}

func TestPoseStoreWithoutMaxAgeNeverExpires(t *testing.T) {
	now := time.Now()
	s := NewPoseStore()
	s.now = func() time.Time { return now }
	s.Update(models.Pose{Transform: models.Identity()}, false, nil)

	now = now.Add(time.Hour)
	_, ok := s.Pose()
	assert.True(t, ok)
}

func startPoseFeed(t *testing.T) (*PoseStore, net.Conn) {
	t.Helper()
	store := NewPoseStore()
	feed, err := ListenPoseFeed("127.0.0.1:0", store)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	conn, err := net.Dial("udp", feed.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return store, conn
}

func sendDatagram(t *testing.T, conn net.Conn, m models.Message) {
	t.Helper()
	data, err := models.Encode(m)
	require.NoError(t, err)
	_, err = conn.Write(data)
	require.NoError(t, err)
}

func TestPoseFeedUpdatesStore(t *testing.T) {
	store, conn := startPoseFeed(t)

	sendDatagram(t, conn, models.UpdateLocation{
		Position:     models.Vec3{X: 1.5, Z: -2},
		Transform:    models.Identity(),
		HasLocalized: true,
		CurrentMapID: models.MapID("kitchen"),
	})

	require.Eventually(t, func() bool {
		_, ok := store.Pose()
		return ok
	}, waitFor, poll)

	pose, _ := store.Pose()
	assert.Equal(t, models.Vec3{X: 1.5, Z: -2}, pose.Position)
	localized, mapID := store.Localization()
	assert.True(t, localized)
	require.NotNil(t, mapID)
	assert.Equal(t, "kitchen", *mapID)
}

func TestPoseFeedDropsOtherDatagrams(t *testing.T) {
	store, conn := startPoseFeed(t)

	_, err := conn.Write([]byte(`{"messageType":0,"message":`))
	require.NoError(t, err)
	_, err = conn.Write([]byte("not json"))
	require.NoError(t, err)
	sendDatagram(t, conn, models.DriveMotor{LeftPower: 1, RightPower: 1})
	sendDatagram(t, conn, models.UpdateLocation{Position: models.Vec3{Y: 3}, Transform: models.Identity()})

	require.Eventually(t, func() bool {
		pose, ok := store.Pose()
		return ok && pose.Position.Y == 3
	}, waitFor, poll)

	_, _, seq := store.Snapshot()
	assert.Equal(t, uint64(1), seq, "only the location update reached the store")
}
