package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Decode errors. Every error returned by Decode wraps exactly one of these.
var (
	ErrMalformed           = errors.New("malformed envelope")
	ErrUnknownDiscriminant = errors.New("unknown message type")
	ErrPayloadMismatch     = errors.New("payload does not match message type")
)

// envelope - wire wrapper {"messageType": int, "message": {...}}
type envelope struct {
	MessageType MessageType `json:"messageType"`
	Message     Message     `json:"message"`
}

type rawEnvelope struct {
	MessageType *int            `json:"messageType"`
	Message     json.RawMessage `json:"message"`
}

// Encode serializes m into its envelope. The discriminant is taken from the
// payload type.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("encode: nil message")
	}
	data, err := json.Marshal(envelope{MessageType: m.Type(), Message: m})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return data, nil
}

// Decode parses an envelope. It returns either a complete message or an error
// wrapping ErrMalformed, ErrUnknownDiscriminant or ErrPayloadMismatch.
func Decode(data []byte) (Message, error) {
	var env rawEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.MessageType == nil {
		return nil, fmt.Errorf("%w: missing messageType", ErrMalformed)
	}

	t := MessageType(*env.MessageType)
	if len(env.Message) == 0 || bytes.Equal(env.Message, []byte("null")) {
		if !known(t) {
			return nil, fmt.Errorf("%w: %d", ErrUnknownDiscriminant, *env.MessageType)
		}
		return nil, fmt.Errorf("%w: %s without payload", ErrPayloadMismatch, t)
	}

	switch t {
	case MessageTypeUpdateLocation:
		return decodeUpdateLocation(env.Message)
	case MessageTypeDriveMotor:
		return decodeDriveMotor(env.Message)
	case MessageTypeWaypointAdd:
		return decodeWaypointAdd(env.Message)
	case MessageTypeWaypointAchieved:
		return decodeWaypointAchieved(env.Message)
	case MessageTypeStatus:
		return decodeStatus(env.Message)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownDiscriminant, *env.MessageType)
	}
}

func known(t MessageType) bool {
	switch t {
	case MessageTypeUpdateLocation, MessageTypeDriveMotor, MessageTypeWaypointAdd,
		MessageTypeWaypointAchieved, MessageTypeStatus:
		return true
	}
	return false
}

func mismatch(t MessageType, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPayloadMismatch, t, err)
}

func missing(t MessageType, field string) error {
	return fmt.Errorf("%w: %s: missing %q", ErrPayloadMismatch, t, field)
}

// ========================================
// Per-variant decoding, pointer fields detect absent keys
// ========================================

func decodeUpdateLocation(raw json.RawMessage) (Message, error) {
	var w struct {
		Location       *Vec3   `json:"location"`
		Transform      *Mat4   `json:"transform"`
		RobotConnected *bool   `json:"robotConnected"`
		CurrentMapID   *string `json:"currentMapId"`
		HasLocalized   *bool   `json:"hasLocalized"`
	}
	t := MessageTypeUpdateLocation
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, mismatch(t, err)
	}
	switch {
	case w.Location == nil:
		return nil, missing(t, "location")
	case w.Transform == nil:
		return nil, missing(t, "transform")
	case w.RobotConnected == nil:
		return nil, missing(t, "robotConnected")
	case w.HasLocalized == nil:
		return nil, missing(t, "hasLocalized")
	}
	return UpdateLocation{
		Position:       *w.Location,
		Transform:      *w.Transform,
		RobotConnected: *w.RobotConnected,
		CurrentMapID:   w.CurrentMapID,
		HasLocalized:   *w.HasLocalized,
	}, nil
}

func decodeDriveMotor(raw json.RawMessage) (Message, error) {
	var w struct {
		Left  *float32 `json:"leftMotorPower"`
		Right *float32 `json:"rightMotorPower"`
	}
	t := MessageTypeDriveMotor
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, mismatch(t, err)
	}
	if w.Left == nil {
		return nil, missing(t, "leftMotorPower")
	}
	if w.Right == nil {
		return nil, missing(t, "rightMotorPower")
	}
	return DriveMotor{LeftPower: *w.Left, RightPower: *w.Right}, nil
}

func decodeWaypointAdd(raw json.RawMessage) (Message, error) {
	var w struct {
		MarkerID *int  `json:"markerId"`
		Location *Vec3 `json:"location"`
	}
	t := MessageTypeWaypointAdd
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, mismatch(t, err)
	}
	if w.MarkerID == nil {
		return nil, missing(t, "markerId")
	}
	if w.Location == nil {
		return nil, missing(t, "location")
	}
	return WaypointAdd{MarkerID: *w.MarkerID, Position: *w.Location}, nil
}

func decodeWaypointAchieved(raw json.RawMessage) (Message, error) {
	var w struct {
		MarkerID *int `json:"markerId"`
	}
	t := MessageTypeWaypointAchieved
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, mismatch(t, err)
	}
	if w.MarkerID == nil {
		return nil, missing(t, "markerId")
	}
	return WaypointAchieved{MarkerID: *w.MarkerID}, nil
}

func decodeStatus(raw json.RawMessage) (Message, error) {
	var w struct {
		Kind *StatusKind `json:"statusMessage"`
	}
	t := MessageTypeStatus
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, mismatch(t, err)
	}
	if w.Kind == nil {
		return nil, missing(t, "statusMessage")
	}
	if !w.Kind.valid() {
		return nil, fmt.Errorf("%w: %s: unknown status %d", ErrPayloadMismatch, t, int(*w.Kind))
	}
	return StatusMessage{Kind: *w.Kind}, nil
}

// ========================================
// Map blobs - opaque binary payloads sent reliably alongside the JSON stream
// ========================================

var mapBlobMagic = []byte("HRMAP\x01")

// EncodeMapBlob prefixes data with the map blob header.
func EncodeMapBlob(data []byte) []byte {
	out := make([]byte, 0, len(mapBlobMagic)+len(data))
	out = append(out, mapBlobMagic...)
	return append(out, data...)
}

// IsMapBlob reports whether data carries the map blob header.
func IsMapBlob(data []byte) bool {
	return bytes.HasPrefix(data, mapBlobMagic)
}

// DecodeMapBlob strips the header. ok is false for anything that is not a map blob.
func DecodeMapBlob(data []byte) (blob []byte, ok bool) {
	if !IsMapBlob(data) {
		return nil, false
	}
	return data[len(mapBlobMagic):], true
}
