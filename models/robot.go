package models

import (
	"encoding/json"
	"fmt"
	"math"
)

// ========================================
// Drive controller state constants
// ========================================
const (
	DriveStateIdle    DriveState = "idle"    // no target, waiting for waypoints
	DriveStateDriving DriveState = "driving" // closed loop towards the current target
	DriveStateStopped DriveState = "stopped" // robot link lost, needs a reset
)

// DriveState - drive controller state
type DriveState string

// ========================================
// Vec3 - 3D position / direction (meters)
// ========================================
type Vec3 struct {
	X float32
	Y float32
	Z float32
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Dot returns the scalar product computed in float64.
func (v Vec3) Dot(o Vec3) float64 {
	return float64(v.X)*float64(o.X) + float64(v.Y)*float64(o.Y) + float64(v.Z)*float64(o.Z)
}

// Cross returns v x o.
func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

// Length returns the euclidean norm.
func (v Vec3) Length() float64 {
	return math.Sqrt(v.Dot(v))
}

// WithY returns a copy with Y replaced.
func (v Vec3) WithY(y float32) Vec3 {
	return Vec3{X: v.X, Y: y, Z: v.Z}
}

// AngleTo returns the unsigned angle between v and o in radians, [0, pi].
// A zero-length operand yields 0.
func (v Vec3) AngleTo(o Vec3) float64 {
	lv, lo := v.Length(), o.Length()
	if lv == 0 || lo == 0 {
		return 0
	}
	c := v.Dot(o) / (lv * lo)
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math.Acos(c)
}

// MarshalJSON encodes the vector as [x, y, z].
func (v Vec3) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]float32{v.X, v.Y, v.Z})
}

// UnmarshalJSON accepts exactly three numbers.
func (v *Vec3) UnmarshalJSON(b []byte) error {
	var raw []float32
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 3 {
		return fmt.Errorf("vec3: expected 3 components, got %d", len(raw))
	}
	v.X, v.Y, v.Z = raw[0], raw[1], raw[2]
	return nil
}

// ========================================
// Mat4 - 4x4 world transform, row-major m11..m44
// ========================================
type Mat4 [16]float32

// Identity returns the identity transform.
func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// ZAxis returns the third basis row (m31, m32, m33).
func (m Mat4) ZAxis() Vec3 {
	return Vec3{X: m[8], Y: m[9], Z: m[10]}
}

// Translation returns (m41, m42, m43).
func (m Mat4) Translation() Vec3 {
	return Vec3{X: m[12], Y: m[13], Z: m[14]}
}

// UnmarshalJSON accepts exactly sixteen numbers.
func (m *Mat4) UnmarshalJSON(b []byte) error {
	var raw []float32
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != len(m) {
		return fmt.Errorf("mat4: expected %d components, got %d", len(m), len(raw))
	}
	copy(m[:], raw)
	return nil
}

// ========================================
// Pose - position and orientation of the pose source
// ========================================
type Pose struct {
	Position  Vec3
	Transform Mat4
}

// Heading is the forward direction projected to the horizontal plane.
//
// The phone camera looks along -Z while the robot drives along +Z, so the
// transform's Z basis is the vehicle's forward axis.
func (p Pose) Heading() Vec3 {
	return p.Transform.ZAxis().WithY(0)
}

// ========================================
// Waypoint - target position tagged with a caller-assigned marker id
// ========================================
type Waypoint struct {
	MarkerID  int  `json:"marker_id"`
	Position  Vec3 `json:"position"`
	Completed bool `json:"completed"`

	// Handle is the opaque visual marker reference, nil on devices that don't render.
	Handle any `json:"-"`
}
