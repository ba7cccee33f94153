// Package stand drives the lifecycle of AR "stands": the audio-visual objects
// anchored to printed reference images.
//
// A Controller consumes tracking batches (image added / updated / removed),
// keeps one entry per image identity, and issues show/hide/pose/play/pause
// commands to the presentation objects it owns. Rendering, decoding and pose
// estimation live behind the Presentation and MediaHandle interfaces.
package stand

import (
	"fmt"
	"math"
	"time"
)

// ImageIdentity is the stable name of a reference image.
type ImageIdentity string

// TrackingStatus is the tracking quality reported for an observed image.
type TrackingStatus int

const (
	// StatusNone means the image is not tracked.
	StatusNone TrackingStatus = iota

	// StatusLimited means the image is known but its pose is unreliable.
	StatusLimited

	// StatusTracking means the image is actively tracked.
	StatusTracking
)

// String returns the wire name of the status.
func (s TrackingStatus) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusLimited:
		return "limited"
	case StatusTracking:
		return "tracking"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s TrackingStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TrackingStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none", "":
		*s = StatusNone
	case "limited":
		*s = StatusLimited
	case "tracking":
		*s = StatusTracking
	default:
		return fmt.Errorf("unknown tracking status %q", text)
	}
	return nil
}

// Tracked reports whether the status counts as currently tracked.
func (s TrackingStatus) Tracked() bool {
	return s == StatusTracking
}

// Vec2 is a 2D vector (image sizes, in metres).
type Vec2 struct {
	X float64 `json:"x" toml:"x"`
	Y float64 `json:"y" toml:"y"`
}

// Magnitude returns the vector length.
func (v Vec2) Magnitude() float64 {
	return math.Hypot(v.X, v.Y)
}

// Vec3 is a 3D vector.
type Vec3 struct {
	X float64 `json:"x" toml:"x"`
	Y float64 `json:"y" toml:"y"`
	Z float64 `json:"z" toml:"z"`
}

// Quat is a rotation quaternion.
type Quat struct {
	X float64 `json:"x" toml:"x"`
	Y float64 `json:"y" toml:"y"`
	Z float64 `json:"z" toml:"z"`
	W float64 `json:"w" toml:"w"`
}

// Pose is a position and orientation in the AR session's world space.
type Pose struct {
	Position Vec3 `json:"position" toml:"position"`
	Rotation Quat `json:"rotation" toml:"rotation"`
}

// Observation is one tracked image as reported by the tracking source.
type Observation struct {
	Identity ImageIdentity  `json:"identity" toml:"identity"`
	Pose     Pose           `json:"pose" toml:"pose"`
	Size     Vec2           `json:"size,omitempty" toml:"size"` // Physical image size, zero if unknown
	Status   TrackingStatus `json:"status" toml:"status"`
}

// Batch is one delivery of tracking changes.
type Batch struct {
	Added   []Observation   `json:"added,omitempty"`
	Updated []Observation   `json:"updated,omitempty"`
	Removed []ImageIdentity `json:"removed,omitempty"`
}

// Empty reports whether the batch carries no changes.
func (b Batch) Empty() bool {
	return len(b.Added) == 0 && len(b.Updated) == 0 && len(b.Removed) == 0
}

// State is the lifecycle state of a stand entry.
type State int

const (
	StateUninitialized State = iota
	StatePreparing
	StateActive
	StateSuspended
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StatePreparing:
		return "preparing"
	case StateActive:
		return "active"
	case StateSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Modality identifies one media channel of a stand.
type Modality string

const (
	ModalityVideo Modality = "video"
	ModalityAudio Modality = "audio"
)

// Ticket identifies one outstanding media preparation.
// Generation distinguishes entries recreated after ClearAll.
type Ticket struct {
	Identity   ImageIdentity `json:"stand"`
	Generation uint64        `json:"generation"`
	Modality   Modality      `json:"modality"`
}

// Snapshot is a read-only view of a stand entry.
type Snapshot struct {
	Identity    ImageIdentity `json:"identity"`
	Template    string        `json:"template"`
	State       State         `json:"state"`
	Tracked     bool          `json:"tracked"`
	MediaReady  bool          `json:"media_ready"`
	Pose        Pose          `json:"pose"`
	Activations int           `json:"activations"`
	CreatedAt   time.Time     `json:"created_at"`
}
