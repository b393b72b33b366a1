package models

import (
	"time"
)

// DriveLog - journal row for a non-periodic message relayed between peers
type DriveLog struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
	Room        string    `gorm:"size:64;index" json:"room"`
	PeerID      string    `gorm:"size:64;index" json:"peer_id"` // sender
	EventType   string    `gorm:"size:32;index" json:"event_type"`
	MessageType string    `gorm:"size:32" json:"message_type"`

	// waypoint
	MarkerID  *int    `json:"marker_id,omitempty"`
	PositionX float32 `json:"position_x"`
	PositionY float32 `json:"position_y"`
	PositionZ float32 `json:"position_z"`

	Status string `gorm:"size:32" json:"status,omitempty"`

	// map transfers keep only their size
	MapBytes int `json:"map_bytes,omitempty"`

	DataJSON string `gorm:"type:text" json:"data_json"` // raw envelope
}

// Journal event types
const (
	EventWaypointAdded    = "waypoint_added"
	EventWaypointAchieved = "waypoint_achieved"
	EventStatus           = "status"
	EventMapTransfer      = "map_transfer"
)
