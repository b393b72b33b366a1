package models

import "fmt"

// ========================================
// Message type discriminants (wire values, do not renumber)
// ========================================
const (
	MessageTypeUpdateLocation   MessageType = 0 // periodic pose broadcast
	MessageTypeDriveMotor       MessageType = 1 // direct motor command
	MessageTypeWaypointAdd      MessageType = 2 // enqueue a waypoint
	MessageTypeWaypointAchieved MessageType = 3 // waypoint reached
	MessageTypeMapSync          MessageType = 4 // reserved, never sent as an envelope
	MessageTypeStatus           MessageType = 5 // out-of-band control signal
)

// MessageType - envelope discriminant
type MessageType int

func (t MessageType) String() string {
	switch t {
	case MessageTypeUpdateLocation:
		return "update_location"
	case MessageTypeDriveMotor:
		return "drive_motor"
	case MessageTypeWaypointAdd:
		return "waypoint_add"
	case MessageTypeWaypointAchieved:
		return "waypoint_achieved"
	case MessageTypeMapSync:
		return "map_sync"
	case MessageTypeStatus:
		return "status"
	default:
		return fmt.Sprintf("message_type(%d)", int(t))
	}
}

// ========================================
// Status kinds carried by StatusMessage
// ========================================
const (
	StatusEmergencyStop    StatusKind = 0
	StatusResetMission     StatusKind = 1
	StatusMissionCompleted StatusKind = 2
)

// StatusKind - out-of-band control signal
type StatusKind int

func (k StatusKind) String() string {
	switch k {
	case StatusEmergencyStop:
		return "emergency_stop"
	case StatusResetMission:
		return "reset_mission"
	case StatusMissionCompleted:
		return "mission_completed"
	default:
		return fmt.Sprintf("status_kind(%d)", int(k))
	}
}

func (k StatusKind) valid() bool {
	return k >= StatusEmergencyStop && k <= StatusMissionCompleted
}

// Message - one of the protocol payloads below.
//
// The discriminant is a property of the payload type, so an envelope can
// never carry a payload that disagrees with its messageType.
type Message interface {
	Type() MessageType
	isMessage()
}

// ========================================
// Payloads
// ========================================

// UpdateLocation - periodic pose broadcast
type UpdateLocation struct {
	Position       Vec3    `json:"location"`
	Transform      Mat4    `json:"transform"`
	RobotConnected bool    `json:"robotConnected"`
	CurrentMapID   *string `json:"currentMapId,omitempty"`
	HasLocalized   bool    `json:"hasLocalized"`
}

// DriveMotor - direct motor command, powers in [-1, 1]
type DriveMotor struct {
	LeftPower  float32 `json:"leftMotorPower"`
	RightPower float32 `json:"rightMotorPower"`
}

// WaypointAdd - request to enqueue a waypoint
type WaypointAdd struct {
	MarkerID int  `json:"markerId"`
	Position Vec3 `json:"location"`
}

// WaypointAchieved - acknowledgement that a waypoint was reached
type WaypointAchieved struct {
	MarkerID int `json:"markerId"`
}

// StatusMessage - out-of-band control signal
type StatusMessage struct {
	Kind StatusKind `json:"statusMessage"`
}

func (UpdateLocation) Type() MessageType   { return MessageTypeUpdateLocation }
func (DriveMotor) Type() MessageType       { return MessageTypeDriveMotor }
func (WaypointAdd) Type() MessageType      { return MessageTypeWaypointAdd }
func (WaypointAchieved) Type() MessageType { return MessageTypeWaypointAchieved }
func (StatusMessage) Type() MessageType    { return MessageTypeStatus }

func (UpdateLocation) isMessage()   {}
func (DriveMotor) isMessage()       {}
func (WaypointAdd) isMessage()      {}
func (WaypointAchieved) isMessage() {}
func (StatusMessage) isMessage()    {}

// MapID returns a pointer to a copy of id, or nil for an empty id.
func MapID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
