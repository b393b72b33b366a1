package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homerobot/models"
	"homerobot/transport"
)

// recordingChannel notes the reliability of every send.
type recordingChannel struct {
	*transport.MemoryChannel

	mu   sync.Mutex
	sent []transport.Reliability
}

func (c *recordingChannel) Send(data []byte, r transport.Reliability) error {
	c.mu.Lock()
	c.sent = append(c.sent, r)
	c.mu.Unlock()
	return c.MemoryChannel.Send(data, r)
}

func (c *recordingChannel) reliabilities() []transport.Reliability {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transport.Reliability(nil), c.sent...)
}

func TestRemoteMotorCommands(t *testing.T) {
	a, b := transport.NewMemoryPair("phone", "robot")
	defer a.Close()
	defer b.Close()
	ch := &recordingChannel{MemoryChannel: a}
	peer := newRawPeer(b)
	m := NewRemoteMotor(ch)

	assert.True(t, m.Connected())
	require.NoError(t, m.Drive(0.25, -0.5))
	require.NoError(t, m.Stop())

	require.Eventually(t, func() bool { return len(peer.received()) == 2 }, waitFor, poll)
	assert.Equal(t, []models.Message{
		models.DriveMotor{LeftPower: 0.25, RightPower: -0.5},
		models.DriveMotor{},
	}, peer.received())
	assert.Equal(t, []transport.Reliability{transport.BestEffort, transport.Reliable}, ch.reliabilities(),
		"drive is best-effort, stop is reliable")

	a.Disconnect()
	assert.False(t, m.Connected())
	assert.NoError(t, m.Drive(1, 1), "no peer is not an error")
}

func TestRemoteMotorClosedChannel(t *testing.T) {
	a, b := transport.NewMemoryPair("phone", "robot")
	defer b.Close()
	m := NewRemoteMotor(a)
	require.NoError(t, a.Close())

	assert.ErrorIs(t, m.Drive(0.1, 0.1), transport.ErrClosed)
	assert.ErrorIs(t, m.Stop(), transport.ErrClosed)
}

func TestSessionDrivesThroughMotorBridge(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{MaxWheelSpeed: 4, TrackWidth: 0.2, MapID: "home", Step: time.Millisecond})
	simCtx, stopSim := context.WithCancel(context.Background())
	defer stopSim()
	go sim.Run(simCtx)

	a, b := transport.NewMemoryPair("robot", "phone")
	defer a.Close()
	defer b.Close()

	// the phone rides on the robot, so both read the simulated pose
	robot := NewSession(a, sim, testSessionOptions(t, WithMotorBridge(sim))...)
	phone := NewSession(b, sim, testSessionOptions(t,
		WithLocalRobot(NewRemoteMotor(b), WithControlInterval(2*time.Millisecond)))...)
	runSession(t, robot)
	runSession(t, phone)
	assert.Nil(t, robot.Controller())

	require.Eventually(t, phone.Synced, waitFor, poll)
	_, err := phone.PlaceWaypoint(models.Vec3{X: 0.3, Z: 0.5})
	require.NoError(t, err)
	_, err = phone.PlaceWaypoint(models.Vec3{Z: 1})
	require.NoError(t, err)
	sent, err := phone.SendPendingWaypoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	require.Eventually(t, func() bool {
		markers := phone.Markers()
		return len(markers) == 2 && markers[0].Completed && markers[1].Completed
	}, waitFor, poll)
	require.Eventually(t, func() bool {
		markers := robot.Markers()
		return len(markers) == 2 && markers[0].Completed && markers[1].Completed
	}, waitFor, poll)
	assert.Equal(t, models.DriveStateIdle, phone.Controller().State())

	pose, ok := sim.Pose()
	require.True(t, ok)
	assert.Greater(t, pose.Position.Z, float32(0.5), "the bridge moved the robot")
}

func TestMotorBridgeStopsWhenPeerLeaves(t *testing.T) {
	motor := newFakeMotor()
	a, b := transport.NewMemoryPair("robot", "phone")
	defer a.Close()
	defer b.Close()

	s := NewSession(a, poseStoreAt(models.Vec3{}), testSessionOptions(t, WithMotorBridge(motor))...)
	peer := newRawPeer(b)
	runSession(t, s)
	require.Eventually(t, func() bool { return peer.count() > 0 }, waitFor, poll)

	peer.send(t, models.WaypointAdd{MarkerID: 7, Position: models.Vec3{Z: 2}})
	peer.send(t, models.DriveMotor{LeftPower: 0.4, RightPower: 0.4})
	require.Eventually(t, func() bool { return motor.driveCount() == 1 }, waitFor, poll)
	assert.Equal(t, [2]float32{0.4, 0.4}, motor.lastDrive(), "waypoints are not driven by a bridge")
	assert.Len(t, s.Markers(), 1)

	b.Disconnect()
	require.Eventually(t, func() bool { return motor.stopCount() >= 1 }, waitFor, poll)
}
