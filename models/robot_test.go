package models

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVec3Math(t *testing.T) {
	a := Vec3{0, 0, 1}
	b := Vec3{2, 0, 0}

	assert.Equal(t, Vec3{0, 2, 0}, a.Cross(b))
	assert.Equal(t, Vec3{-2, 0, 1}, a.Sub(b))
	assert.InDelta(t, 2.0, b.Length(), 1e-9)
	assert.InDelta(t, math.Pi/2, a.AngleTo(b), 1e-9)
	assert.InDelta(t, math.Pi, a.AngleTo(Vec3{0, 0, -3}), 1e-9)
	assert.Equal(t, 0.0, a.AngleTo(Vec3{}))
	assert.Equal(t, Vec3{2, 7, 0}, b.WithY(7))
}

func TestMat4Axes(t *testing.T) {
	m := Identity()
	assert.Equal(t, Vec3{0, 0, 1}, m.ZAxis())
	assert.Equal(t, Vec3{}, m.Translation())

	m[8], m[9], m[10] = 0.5, 0.3, 0.8
	p := Pose{Transform: m}
	assert.Equal(t, Vec3{0.5, 0, 0.8}, p.Heading())
}

func TestVec3JSONStrictLength(t *testing.T) {
	var v Vec3
	require.NoError(t, json.Unmarshal([]byte(`[1.5,2,3]`), &v))
	assert.Equal(t, Vec3{1.5, 2, 3}, v)

	assert.Error(t, json.Unmarshal([]byte(`[1,2,3,4]`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"x":1}`), &v))

	var m Mat4
	assert.Error(t, json.Unmarshal([]byte(`[1,2,3]`), &m))
}

func TestParseMission(t *testing.T) {
	doc := []byte(`
name: kitchen run
waypoints:
  - marker_id: 1
    position: [1.0, 0.0, 2.5]
  - marker_id: 2
    position: [0, 0, 0]
`)
	m, err := ParseMission(doc)
	require.NoError(t, err)
	assert.Equal(t, "kitchen run", m.Name)
	require.Len(t, m.Waypoints, 2)
	assert.Equal(t, Waypoint{MarkerID: 1, Position: Vec3{1, 0, 2.5}}, m.Waypoints[0].Waypoint())

	_, err = ParseMission([]byte("name: empty\n"))
	assert.Error(t, err)
}
