package protocol

import (
	"fmt"

	"github.com/teslashibe/go-arkiosk/pkg/stand"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewTrackingMessage wraps a tracking batch.
func NewTrackingMessage(b stand.Batch) (*Message, error) {
	return NewMessage(TypeTracking, b)
}

// NewMediaReadyMessage acknowledges a prepare command.
func NewMediaReadyMessage(t stand.Ticket) (*Message, error) {
	return NewMessage(TypeMediaReady, MediaReadyData{
		Stand:      t.Identity,
		Modality:   t.Modality,
		Generation: t.Generation,
	})
}

// NewMediaStateMessage reports device-side playback state.
func NewMediaStateMessage(id stand.ImageIdentity, m stand.Modality, playing bool) (*Message, error) {
	return NewMessage(TypeMediaState, MediaStateData{Stand: id, Modality: m, Playing: playing})
}

// NewSpawnMessage describes a stand to instantiate.
func NewSpawnMessage(id stand.ImageIdentity, tmpl *stand.Template) (*Message, error) {
	data := SpawnData{Stand: id, Template: tmpl.Name, Loop: tmpl.Loop}
	if tmpl.Video != nil {
		data.Video = tmpl.Video.URI
	}
	if tmpl.Audio != nil {
		data.Audio = tmpl.Audio.URI
	}
	return NewMessage(TypeSpawn, data)
}

// NewVisibleMessage shows or hides a stand.
func NewVisibleMessage(id stand.ImageIdentity, visible bool) (*Message, error) {
	return NewMessage(TypeStand, StandData{Stand: id, Visible: &visible})
}

// NewPoseMessage moves a stand.
func NewPoseMessage(id stand.ImageIdentity, pose stand.Pose) (*Message, error) {
	return NewMessage(TypeStand, StandData{Stand: id, Pose: &pose})
}

// NewScaleMessage resizes a stand.
func NewScaleMessage(id stand.ImageIdentity, scale stand.Vec3) (*Message, error) {
	return NewMessage(TypeStand, StandData{Stand: id, Scale: &scale})
}

// NewMediaMessage creates a media command.
func NewMediaMessage(data MediaData) (*Message, error) {
	switch data.Action {
	case ActionPrepare, ActionPlay, ActionPause, ActionLoop:
	default:
		return nil, fmt.Errorf("unknown media action %q", data.Action)
	}
	return NewMessage(TypeMedia, data)
}

// NewDestroyMessage releases a stand.
func NewDestroyMessage(id stand.ImageIdentity) (*Message, error) {
	return NewMessage(TypeDestroy, DestroyData{Stand: id})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string, ts int64) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id, Timestamp: ts})
}

// NewPongMessage creates a pong message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}
