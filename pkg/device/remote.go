package device

import (
	"sync"

	"github.com/teslashibe/go-arkiosk/pkg/protocol"
	"github.com/teslashibe/go-arkiosk/pkg/stand"
)

// remoteFactory spawns stands on the session's device.
type remoteFactory struct {
	s *Session
}

func (f remoteFactory) Create(id stand.ImageIdentity, tmpl *stand.Template) (stand.Presentation, error) {
	msg, err := protocol.NewSpawnMessage(id, tmpl)
	if err != nil {
		return nil, err
	}
	if err := f.s.Send(msg); err != nil {
		return nil, err
	}

	p := &remotePresentation{s: f.s, id: id}
	if tmpl.Video != nil {
		p.video = &remoteMedia{s: f.s, stand: id, modality: stand.ModalityVideo}
		f.s.registerMedia(p.video)
	}
	if tmpl.Audio != nil {
		p.audio = &remoteMedia{s: f.s, stand: id, modality: stand.ModalityAudio}
		f.s.registerMedia(p.audio)
	}
	return p, nil
}

// remotePresentation forwards presentation calls to the device.
type remotePresentation struct {
	s     *Session
	id    stand.ImageIdentity
	video *remoteMedia
	audio *remoteMedia
}

func (p *remotePresentation) SetPose(pose stand.Pose) {
	p.s.command(protocol.NewPoseMessage(p.id, pose))
}

func (p *remotePresentation) SetScale(scale stand.Vec3) {
	p.s.command(protocol.NewScaleMessage(p.id, scale))
}

func (p *remotePresentation) SetVisible(visible bool) {
	p.s.command(protocol.NewVisibleMessage(p.id, visible))
}

func (p *remotePresentation) Video() stand.MediaHandle {
	if p.video == nil {
		return nil
	}
	return p.video
}

func (p *remotePresentation) Audio() stand.MediaHandle {
	if p.audio == nil {
		return nil
	}
	return p.audio
}

func (p *remotePresentation) Destroy() {
	for _, m := range []*remoteMedia{p.video, p.audio} {
		if m != nil {
			m.release()
		}
	}
	p.s.releaseMedia(p.id)
	p.s.command(protocol.NewDestroyMessage(p.id))
}

// remoteMedia mirrors one device-side player. The playing flag follows the
// commands sent and any media_state reports from the device.
type remoteMedia struct {
	s        *Session
	stand    stand.ImageIdentity
	modality stand.Modality

	mu       sync.Mutex
	playing  bool
	released bool
	ticket   stand.Ticket
	notifier stand.ReadyNotifier
}

// Prepare asks the device to load the media. m.mu is held across the send
// so a concurrent Destroy cannot put "destroy" on the wire first.
func (m *remoteMedia) Prepare(t stand.Ticket, n stand.ReadyNotifier) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		m.s.logger.Debug("prepare after destroy dropped", "stand", m.stand, "modality", m.modality)
		return
	}
	m.ticket = t
	m.notifier = n

	m.s.command(protocol.NewMediaMessage(protocol.MediaData{
		Stand:      m.stand,
		Modality:   m.modality,
		Action:     protocol.ActionPrepare,
		Generation: t.Generation,
	}))
}

func (m *remoteMedia) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = true
}

// ready forwards a device acknowledgement to the controller.
func (m *remoteMedia) ready(generation uint64) {
	m.mu.Lock()
	t, n := m.ticket, m.notifier
	m.mu.Unlock()

	if n == nil {
		m.s.logger.Debug("media ready before prepare", "stand", m.stand, "modality", m.modality)
		return
	}
	t.Generation = generation
	if err := n.MediaReady(t); err != nil {
		m.s.logger.Debug("media ready rejected", "stand", m.stand, "error", err)
	}
}

func (m *remoteMedia) Play() {
	m.setPlaying(true)
	m.send(protocol.ActionPlay, false)
}

func (m *remoteMedia) Pause() {
	m.setPlaying(false)
	m.send(protocol.ActionPause, false)
}

func (m *remoteMedia) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

func (m *remoteMedia) SetLoop(loop bool) {
	m.send(protocol.ActionLoop, loop)
}

func (m *remoteMedia) setPlaying(playing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = playing
}

func (m *remoteMedia) send(action protocol.MediaAction, loop bool) {
	m.s.command(protocol.NewMediaMessage(protocol.MediaData{
		Stand:    m.stand,
		Modality: m.modality,
		Action:   action,
		Loop:     loop,
	}))
}
