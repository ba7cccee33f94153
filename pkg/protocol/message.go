// Package protocol defines the WebSocket message types exchanged between an
// AR client (the device that tracks images and renders stands) and the kiosk
// service that owns the stand lifecycle.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-arkiosk/pkg/stand"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Device → Kiosk messages
	TypeTracking   MessageType = "tracking"    // Tracking batch
	TypeMediaReady MessageType = "media_ready" // Media preparation finished
	TypeMediaState MessageType = "media_state" // Playback state changed on the device

	// Kiosk → Device messages
	TypeSpawn   MessageType = "spawn"   // Instantiate a stand (hidden)
	TypeStand   MessageType = "stand"   // Pose / visibility / scale update
	TypeMedia   MessageType = "media"   // Media command
	TypeDestroy MessageType = "destroy" // Release a stand

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Device → Kiosk Message Types
// =============================================================================

// TrackingData is one tracking batch. It mirrors stand.Batch on the wire.
type TrackingData = stand.Batch

// MediaReadyData reports that a prepare command finished.
type MediaReadyData struct {
	Stand      stand.ImageIdentity `json:"stand"`
	Modality   stand.Modality      `json:"modality"`
	Generation uint64              `json:"generation"`
}

// Ticket converts the payload to the controller's preparation ticket.
func (d MediaReadyData) Ticket() stand.Ticket {
	return stand.Ticket{Identity: d.Stand, Generation: d.Generation, Modality: d.Modality}
}

// MediaStateData reports the device-side playback state of one channel,
// e.g. after a player stopped on its own.
type MediaStateData struct {
	Stand    stand.ImageIdentity `json:"stand"`
	Modality stand.Modality      `json:"modality"`
	Playing  bool                `json:"playing"`
}

// =============================================================================
// Kiosk → Device Message Types
// =============================================================================

// SpawnData asks the device to instantiate a stand, initially hidden.
type SpawnData struct {
	Stand    stand.ImageIdentity `json:"stand"`
	Template string              `json:"template"`
	Video    string              `json:"video,omitempty"`
	Audio    string              `json:"audio,omitempty"`
	Loop     bool                `json:"loop"`
}

// StandData updates a stand. Nil fields are left unchanged.
type StandData struct {
	Stand   stand.ImageIdentity `json:"stand"`
	Visible *bool               `json:"visible,omitempty"`
	Pose    *stand.Pose         `json:"pose,omitempty"`
	Scale   *stand.Vec3         `json:"scale,omitempty"`
}

// MediaAction is the command carried by a media message.
type MediaAction string

const (
	ActionPrepare MediaAction = "prepare"
	ActionPlay    MediaAction = "play"
	ActionPause   MediaAction = "pause"
	ActionLoop    MediaAction = "loop"
)

// MediaData is a command for one media channel of a stand.
type MediaData struct {
	Stand      stand.ImageIdentity `json:"stand"`
	Modality   stand.Modality      `json:"modality"`
	Action     MediaAction         `json:"action"`
	Loop       bool                `json:"loop,omitempty"`
	Generation uint64              `json:"generation,omitempty"` // Set on prepare
}

// DestroyData releases a stand.
type DestroyData struct {
	Stand stand.ImageIdentity `json:"stand"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
