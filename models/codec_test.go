package models

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	tr := Identity()
	tr[12], tr[13], tr[14] = 0.1, -0.25, 3.75

	tests := []struct {
		name string
		msg  Message
	}{
		{"location without map", UpdateLocation{
			Position:  Vec3{1, 2, 3},
			Transform: Identity(),
		}},
		{"location with map", UpdateLocation{
			Position:       Vec3{-1.5, 0.000123, 1e-7},
			Transform:      tr,
			RobotConnected: true,
			CurrentMapID:   MapID("living-room"),
			HasLocalized:   true,
		}},
		{"location empty map id", UpdateLocation{
			Transform:    Identity(),
			CurrentMapID: new(string),
		}},
		{"drive", DriveMotor{LeftPower: -0.62, RightPower: 0.62}},
		{"drive odd floats", DriveMotor{LeftPower: math.SmallestNonzeroFloat32, RightPower: -math.MaxFloat32}},
		{"waypoint add", WaypointAdd{MarkerID: 1234, Position: Vec3{2, 3, 4}}},
		{"waypoint add negative id", WaypointAdd{MarkerID: -7, Position: Vec3{0.1, 0.2, 0.3}}},
		{"waypoint achieved", WaypointAchieved{MarkerID: 99999}},
		{"emergency stop", StatusMessage{Kind: StatusEmergencyStop}},
		{"reset mission", StatusMessage{Kind: StatusResetMission}},
		{"mission completed", StatusMessage{Kind: StatusMissionCompleted}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.msg, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeEnvelope(t *testing.T) {
	data, err := Encode(WaypointAdd{MarkerID: 5, Position: Vec3{1, 0, 2}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"messageType":2,"message":{"markerId":5,"location":[1,0,2]}}`, string(data))

	data, err = Encode(UpdateLocation{Transform: Identity()})
	require.NoError(t, err)
	var raw struct {
		MessageType int            `json:"messageType"`
		Message     map[string]any `json:"message"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, 0, raw.MessageType)
	assert.NotContains(t, raw.Message, "currentMapId")
	assert.Len(t, raw.Message["transform"], 16)
}

func TestEncodeRejectsNil(t *testing.T) {
	_, err := Encode(nil)
	assert.Error(t, err)
}

func TestEncodeRejectsNaN(t *testing.T) {
	_, err := Encode(DriveMotor{LeftPower: float32(math.NaN())})
	assert.Error(t, err)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", ``, ErrMalformed},
		{"garbage", `not json`, ErrMalformed},
		{"array envelope", `[1,2]`, ErrMalformed},
		{"missing type", `{"message":{"markerId":1}}`, ErrMalformed},
		{"string type", `{"messageType":"2","message":{}}`, ErrMalformed},
		{"reserved map sync", `{"messageType":4,"message":{}}`, ErrUnknownDiscriminant},
		{"negative type", `{"messageType":-1,"message":{}}`, ErrUnknownDiscriminant},
		{"type 6", `{"messageType":6,"message":{"markerId":1}}`, ErrUnknownDiscriminant},
		{"large type", `{"messageType":1000,"message":{}}`, ErrUnknownDiscriminant},
		{"unknown type without payload", `{"messageType":9}`, ErrUnknownDiscriminant},
		{"missing payload", `{"messageType":3}`, ErrPayloadMismatch},
		{"null payload", `{"messageType":3,"message":null}`, ErrPayloadMismatch},
		{"achieved payload for add", `{"messageType":2,"message":{"markerId":1}}`, ErrPayloadMismatch},
		{"drive payload for achieved", `{"messageType":3,"message":{"leftMotorPower":1,"rightMotorPower":1}}`, ErrPayloadMismatch},
		{"drive missing right", `{"messageType":1,"message":{"leftMotorPower":0.5}}`, ErrPayloadMismatch},
		{"drive string power", `{"messageType":1,"message":{"leftMotorPower":"x","rightMotorPower":1}}`, ErrPayloadMismatch},
		{"fractional marker id", `{"messageType":3,"message":{"markerId":1.5}}`, ErrPayloadMismatch},
		{"short vector", `{"messageType":2,"message":{"markerId":1,"location":[1,2]}}`, ErrPayloadMismatch},
		{"null vector", `{"messageType":2,"message":{"markerId":1,"location":null}}`, ErrPayloadMismatch},
		{"short matrix", `{"messageType":0,"message":{"location":[0,0,0],"transform":[1,0,0],` +
			`"robotConnected":true,"hasLocalized":true}}`, ErrPayloadMismatch},
		{"location missing flag", `{"messageType":0,"message":{"location":[0,0,0],` +
			`"transform":[1,0,0,0,0,1,0,0,0,0,1,0,0,0,0,1],"robotConnected":true}}`, ErrPayloadMismatch},
		{"payload not object", `{"messageType":5,"message":[0]}`, ErrPayloadMismatch},
		{"unknown status", `{"messageType":5,"message":{"statusMessage":3}}`, ErrPayloadMismatch},
		{"missing status", `{"messageType":5,"message":{}}`, ErrPayloadMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.input))
			assert.Nil(t, msg)
			assert.ErrorIs(t, err, tt.want)
			for _, other := range []error{ErrMalformed, ErrUnknownDiscriminant, ErrPayloadMismatch} {
				if !errors.Is(tt.want, other) {
					assert.NotErrorIs(t, err, other)
				}
			}
		})
	}
}

func TestDecodeNullMapID(t *testing.T) {
	msg, err := Decode([]byte(`{"messageType":0,"message":{"location":[1,2,3],` +
		`"transform":[1,0,0,0,0,1,0,0,0,0,1,0,0,0,0,1],"robotConnected":false,` +
		`"currentMapId":null,"hasLocalized":true}}`))
	require.NoError(t, err)
	loc, ok := msg.(UpdateLocation)
	require.True(t, ok)
	assert.Nil(t, loc.CurrentMapID)
	assert.True(t, loc.HasLocalized)
	assert.Equal(t, Vec3{1, 2, 3}, loc.Position)
}

func TestMessageTypeFromPayload(t *testing.T) {
	assert.Equal(t, MessageTypeUpdateLocation, UpdateLocation{}.Type())
	assert.Equal(t, MessageTypeDriveMotor, DriveMotor{}.Type())
	assert.Equal(t, MessageTypeWaypointAdd, WaypointAdd{}.Type())
	assert.Equal(t, MessageTypeWaypointAchieved, WaypointAchieved{}.Type())
	assert.Equal(t, MessageTypeStatus, StatusMessage{}.Type())
}

func TestMapBlob(t *testing.T) {
	payload := []byte{0, 1, 2, 0xff}
	data := EncodeMapBlob(payload)
	assert.True(t, IsMapBlob(data))

	got, ok := DecodeMapBlob(data)
	require.True(t, ok)
	assert.Equal(t, payload, got)

	enc, err := Encode(WaypointAchieved{MarkerID: 1})
	require.NoError(t, err)
	assert.False(t, IsMapBlob(enc))
	_, ok = DecodeMapBlob(enc)
	assert.False(t, ok)
}
