package algorithms

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homerobot/models"
)

func poseAt(pos models.Vec3) models.Pose {
	return models.Pose{Position: pos, Transform: models.Identity()}
}

func TestSteerPivotScenario(t *testing.T) {
	s := Steer(DefaultDriveParams(), poseAt(models.Vec3{}), models.Vec3{X: 2})

	assert.False(t, s.Arrived)
	assert.InDelta(t, 2.0, s.Distance, 1e-9)
	assert.InDelta(t, 90.0, s.AngleDeg, 1e-6)
	assert.False(t, s.TurnRight)
	assert.True(t, s.Pivot)
	assert.InDelta(t, -0.62, s.Left, 1e-9)
	assert.InDelta(t, 0.62, s.Right, 1e-9)
}

func TestSteerPivotRight(t *testing.T) {
	s := Steer(DefaultDriveParams(), poseAt(models.Vec3{}), models.Vec3{X: -2})

	assert.True(t, s.TurnRight)
	assert.True(t, s.Pivot)
	assert.InDelta(t, 0.62, s.Left, 1e-9)
	assert.InDelta(t, -0.62, s.Right, 1e-9)
}

func TestSteerIgnoresHeight(t *testing.T) {
	p := DefaultDriveParams()

	s := Steer(p, poseAt(models.Vec3{X: 1, Y: 5, Z: 1}), models.Vec3{X: 1.1, Y: -3, Z: 1})
	assert.True(t, s.Arrived)
	assert.InDelta(t, 0.1, s.Distance, 1e-6)
	assert.Zero(t, s.Left)
	assert.Zero(t, s.Right)

	s = Steer(p, poseAt(models.Vec3{Y: 1}), models.Vec3{Y: 9, Z: 0.2})
	assert.False(t, s.Arrived)
	assert.InDelta(t, 0.2, s.Distance, 1e-6)
}

func TestSteerStraightAhead(t *testing.T) {
	s := Steer(DefaultDriveParams(), poseAt(models.Vec3{}), models.Vec3{Z: 1})

	assert.False(t, s.Pivot)
	assert.InDelta(t, 0.0, s.AngleDeg, 1e-9)
	assert.InDelta(t, 0.8, s.Left, 1e-9)
	assert.InDelta(t, 0.8, s.Right, 1e-9)
}

func TestPowersSpeedCap(t *testing.T) {
	p := DefaultDriveParams()

	l, r, pivot := p.Powers(10, 0, false)
	assert.False(t, pivot)
	assert.InDelta(t, 1.0, l, 1e-9)
	assert.InDelta(t, 1.0, r, 1e-9)

	l, r, _ = p.Powers(0, 0, true)
	assert.InDelta(t, 0.6, l, 1e-9)
	assert.InDelta(t, 0.6, r, 1e-9)
}

func TestPowersBoundary(t *testing.T) {
	p := DefaultDriveParams()

	tests := []struct {
		angle float64
		pivot bool
	}{
		{0, false},
		{49.999, false},
		{50.0, false},
		{50.001, true},
		{180, true},
	}
	for _, tt := range tests {
		_, _, pivot := p.Powers(1, tt.angle, true)
		assert.Equal(t, tt.pivot, pivot, "angle %v", tt.angle)
	}
}

func TestPowersProportional(t *testing.T) {
	p := DefaultDriveParams()
	speed := 0.6 + 0.2*1.0
	factor := 1 - math.Pow(25.0/50.0, 0.4)
	inner := 0.1 + (speed-0.1)*factor

	l, r, pivot := p.Powers(1, 25, true)
	require.False(t, pivot)
	assert.InDelta(t, speed, l, 1e-9)
	assert.InDelta(t, inner, r, 1e-9)

	l, r, _ = p.Powers(1, 25, false)
	assert.InDelta(t, inner, l, 1e-9)
	assert.InDelta(t, speed, r, 1e-9)

	// at the threshold the inner wheel is down to the floor fraction
	l, _, _ = p.Powers(1, 50, false)
	assert.InDelta(t, 0.1, l, 1e-9)
}

func TestSmootherConvergence(t *testing.T) {
	const target = 0.5
	s := NewSmoother(0.2)

	prev := math.Abs(0 - target)
	for n := 1; n <= 30; n++ {
		s.Step(target, -target)
		l, r := s.Value()

		want := target * math.Pow(0.8, float64(n))
		assert.InDelta(t, want, math.Abs(l-target), 1e-12, "tick %d", n)
		assert.InDelta(t, want, math.Abs(r+target), 1e-12, "tick %d", n)
		assert.Less(t, math.Abs(l-target), prev)
		prev = math.Abs(l - target)
	}
}

func TestSmootherClampAndReset(t *testing.T) {
	s := NewSmoother(1)

	l, r := s.Step(3, -3)
	assert.Equal(t, float32(1), l)
	assert.Equal(t, float32(-1), r)

	s.Reset()
	lv, rv := s.Value()
	assert.Zero(t, lv)
	assert.Zero(t, rv)
}

func TestManualMix(t *testing.T) {
	tests := []struct {
		steering, power float64
		left, right     float32
	}{
		{0, 1, 1, 1},
		{1, 1, 1, -1},
		{-1, 1, -1, 1},
		{-0.5, 0.8, 0, 0.8},
		{0.25, 0.5, 0.5, 0.25},
		{0, -1, -1, -1},
		{0, 2, 1, 1},
	}
	for _, tt := range tests {
		l, r := ManualMix(tt.steering, tt.power)
		assert.InDelta(t, tt.left, l, 1e-6, "steering %v power %v", tt.steering, tt.power)
		assert.InDelta(t, tt.right, r, 1e-6, "steering %v power %v", tt.steering, tt.power)
	}
}
