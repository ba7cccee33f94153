package stand

import (
	"errors"
	"sync"
)

// MockMedia is an in-memory MediaHandle for tests and dry runs.
// Preparation completes only when Ready is called, unless AutoReady is set.
type MockMedia struct {
	mu sync.Mutex

	AutoReady bool

	ticket   Ticket
	notifier ReadyNotifier
	prepared int
	playing  bool
	loop     bool
	plays    int
	pauses   int
}

// Prepare records the ticket; with AutoReady it reports readiness at once.
func (m *MockMedia) Prepare(t Ticket, n ReadyNotifier) {
	m.mu.Lock()
	m.ticket = t
	m.notifier = n
	m.prepared++
	auto := m.AutoReady
	m.mu.Unlock()

	if auto {
		_ = n.MediaReady(t)
	}
}

// Ready completes the last preparation and returns the notifier's result.
func (m *MockMedia) Ready() error {
	m.mu.Lock()
	t, n := m.ticket, m.notifier
	m.mu.Unlock()

	if n == nil {
		return errors.New("mock media: prepare was never called")
	}
	return n.MediaReady(t)
}

func (m *MockMedia) Play() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = true
	m.plays++
}

func (m *MockMedia) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = false
	m.pauses++
}

func (m *MockMedia) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

func (m *MockMedia) SetLoop(loop bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loop = loop
}

// StopExternally simulates playback ending outside the controller.
func (m *MockMedia) StopExternally() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = false
}

// Ticket returns the last preparation ticket.
func (m *MockMedia) Ticket() Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticket
}

// Counts returns how many times Prepare, Play and Pause were called.
func (m *MockMedia) Counts() (prepared, plays, pauses int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prepared, m.plays, m.pauses
}

// Looping reports the last SetLoop value.
func (m *MockMedia) Looping() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loop
}

// MockPresentation is an in-memory Presentation.
type MockPresentation struct {
	mu sync.Mutex

	VideoMedia *MockMedia
	AudioMedia *MockMedia

	pose      Pose
	scale     Vec3
	visible   bool
	destroyed bool
	poses     int
}

func (p *MockPresentation) SetPose(pose Pose) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pose = pose
	p.poses++
}

func (p *MockPresentation) SetScale(s Vec3) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scale = s
}

func (p *MockPresentation) SetVisible(visible bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible = visible
}

func (p *MockPresentation) Video() MediaHandle {
	if p.VideoMedia == nil {
		return nil
	}
	return p.VideoMedia
}

func (p *MockPresentation) Audio() MediaHandle {
	if p.AudioMedia == nil {
		return nil
	}
	return p.AudioMedia
}

func (p *MockPresentation) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = true
	p.visible = false
}

// Visible reports the last SetVisible value.
func (p *MockPresentation) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

// Destroyed reports whether Destroy was called.
func (p *MockPresentation) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// Pose returns the last pose set.
func (p *MockPresentation) Pose() Pose {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pose
}

// Scale returns the last scale set.
func (p *MockPresentation) Scale() Vec3 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scale
}

// MockFactory creates MockPresentations and remembers every one it made.
type MockFactory struct {
	mu sync.Mutex

	// AutoReady is copied onto every MockMedia created.
	AutoReady bool

	// Fail makes Create return an error for the listed identities.
	Fail map[ImageIdentity]error

	created map[ImageIdentity][]*MockPresentation
}

// NewMockFactory creates an empty mock factory.
func NewMockFactory() *MockFactory {
	return &MockFactory{created: make(map[ImageIdentity][]*MockPresentation)}
}

// Create builds a presentation with mock media for each modality the
// template declares.
func (f *MockFactory) Create(id ImageIdentity, tmpl *Template) (Presentation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.Fail[id]; ok {
		return nil, err
	}

	p := &MockPresentation{}
	if tmpl.Video != nil {
		p.VideoMedia = &MockMedia{AutoReady: f.AutoReady}
	}
	if tmpl.Audio != nil {
		p.AudioMedia = &MockMedia{AutoReady: f.AutoReady}
	}
	f.created[id] = append(f.created[id], p)
	return p, nil
}

// Created returns every presentation made for id, oldest first.
func (f *MockFactory) Created(id ImageIdentity) []*MockPresentation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*MockPresentation(nil), f.created[id]...)
}

// Last returns the newest presentation made for id, or nil.
func (f *MockFactory) Last(id ImageIdentity) *MockPresentation {
	all := f.Created(id)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// MockSource is a Source whose batches are pushed by the test.
type MockSource struct {
	mu       sync.Mutex
	handlers []BatchHandler
	subs     int
	unsubs   int
}

func (s *MockSource) Subscribe(h BatchHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
	s.subs++
}

func (s *MockSource) Unsubscribe(h BatchHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.handlers {
		if existing == h {
			s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
			break
		}
	}
	s.unsubs++
}

// Emit delivers b to every subscribed handler.
func (s *MockSource) Emit(b Batch) {
	s.mu.Lock()
	handlers := append([]BatchHandler(nil), s.handlers...)
	s.mu.Unlock()

	for _, h := range handlers {
		h.HandleBatch(b)
	}
}

// Calls returns how many times Subscribe and Unsubscribe were called.
func (s *MockSource) Calls() (subs, unsubs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs, s.unsubs
}

// EventRecorder is an Observer that keeps every event.
type EventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *EventRecorder) StandEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Kinds returns the recorded event kinds in order.
func (r *EventRecorder) Kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}
