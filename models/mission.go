package models

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Mission - list of waypoints loaded from a yaml file
//
//	name: kitchen run
//	waypoints:
//	  - marker_id: 1
//	    position: [1.0, 0.0, 2.5]
type Mission struct {
	Name      string            `yaml:"name"`
	Waypoints []MissionWaypoint `yaml:"waypoints"`
}

// MissionWaypoint - single mission entry
type MissionWaypoint struct {
	MarkerID int        `yaml:"marker_id"`
	Position [3]float32 `yaml:"position"`
}

// Waypoint converts the entry to a queue waypoint.
func (w MissionWaypoint) Waypoint() Waypoint {
	return Waypoint{
		MarkerID: w.MarkerID,
		Position: Vec3{X: w.Position[0], Y: w.Position[1], Z: w.Position[2]},
	}
}

// ParseMission decodes a mission document.
func ParseMission(data []byte) (*Mission, error) {
	var m Mission
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse mission: %w", err)
	}
	if len(m.Waypoints) == 0 {
		return nil, errors.New("parse mission: no waypoints")
	}
	return &m, nil
}

// LoadMission reads and decodes a mission file.
func LoadMission(path string) (*Mission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mission %s: %w", path, err)
	}
	return ParseMission(data)
}
