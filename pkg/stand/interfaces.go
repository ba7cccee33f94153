package stand

import "time"

// MediaHandle controls one media channel (video or audio) of a presentation.
type MediaHandle interface {
	// Prepare starts asynchronous preparation. When done, the handle must
	// call n.MediaReady(t) exactly once, from any goroutine.
	Prepare(t Ticket, n ReadyNotifier)

	Play()
	Pause()
	IsPlaying() bool
	SetLoop(loop bool)
}

// ReadyNotifier receives media preparation results.
type ReadyNotifier interface {
	MediaReady(t Ticket) error
}

// Presentation is an instantiated stand.
type Presentation interface {
	SetPose(p Pose)
	SetScale(s Vec3)
	SetVisible(visible bool)

	// Video and Audio return nil (an untyped nil interface) when the
	// template has no such modality.
	Video() MediaHandle
	Audio() MediaHandle

	// Destroy releases the presentation. It is called at most once.
	Destroy()
}

// Factory instantiates presentations from templates.
type Factory interface {
	Create(id ImageIdentity, tmpl *Template) (Presentation, error)
}

// BatchHandler consumes tracking batches.
type BatchHandler interface {
	HandleBatch(b Batch)
}

// Source delivers tracking batches to subscribed handlers.
type Source interface {
	Subscribe(h BatchHandler)
	Unsubscribe(h BatchHandler)
}

// EventKind classifies stand events.
type EventKind string

const (
	EventActivated EventKind = "activated"
	EventSuspended EventKind = "suspended"
	EventCleared   EventKind = "cleared"
)

// Event reports a stand transition to the owning application.
type Event struct {
	Kind     EventKind     `json:"kind"`
	Identity ImageIdentity `json:"identity"`
	At       time.Time     `json:"at"`
}

// Observer is notified of stand events.
type Observer interface {
	StandEvent(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e Event)

// StandEvent calls f(e).
func (f ObserverFunc) StandEvent(e Event) {
	f(e)
}
