package media

import (
	"sort"
	"sync"

	"github.com/teslashibe/go-arkiosk/pkg/stand"
)

// Presentation is a stand held in memory. It records what a renderer would
// draw.
type Presentation struct {
	Identity stand.ImageIdentity
	Template string

	video *Player
	audio *Player

	mu        sync.Mutex
	pose      stand.Pose
	scale     stand.Vec3
	visible   bool
	destroyed bool
	onDestroy func()
}

func (p *Presentation) SetPose(pose stand.Pose) {
	p.mu.Lock()
	p.pose = pose
	p.mu.Unlock()
}

func (p *Presentation) SetScale(scale stand.Vec3) {
	p.mu.Lock()
	p.scale = scale
	p.mu.Unlock()
}

func (p *Presentation) SetVisible(visible bool) {
	p.mu.Lock()
	p.visible = visible
	p.mu.Unlock()
}

// Video returns the video player, or nil when the template has none.
func (p *Presentation) Video() stand.MediaHandle {
	if p.video == nil {
		return nil
	}
	return p.video
}

// Audio returns the audio player, or nil when the template has none.
func (p *Presentation) Audio() stand.MediaHandle {
	if p.audio == nil {
		return nil
	}
	return p.audio
}

// VideoPlayer returns the concrete video player.
func (p *Presentation) VideoPlayer() *Player { return p.video }

// AudioPlayer returns the concrete audio player.
func (p *Presentation) AudioPlayer() *Player { return p.audio }

func (p *Presentation) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.visible = false
	onDestroy := p.onDestroy
	p.mu.Unlock()

	for _, pl := range []*Player{p.video, p.audio} {
		if pl != nil {
			pl.Close()
		}
	}
	if onDestroy != nil {
		onDestroy()
	}
}

// View is a point-in-time copy of a presentation.
type View struct {
	Identity stand.ImageIdentity `json:"stand"`
	Template string              `json:"template"`
	Visible  bool                `json:"visible"`
	Pose     stand.Pose          `json:"pose"`
	Scale    stand.Vec3          `json:"scale"`
	Video    string              `json:"video,omitempty"`
	Audio    string              `json:"audio,omitempty"`
}

// View returns the presentation's current state.
func (p *Presentation) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()

	v := View{
		Identity: p.Identity,
		Template: p.Template,
		Visible:  p.visible,
		Pose:     p.pose,
		Scale:    p.scale,
	}
	if p.video != nil {
		v.Video = p.video.State().String()
	}
	if p.audio != nil {
		v.Audio = p.audio.State().String()
	}
	return v
}

// Factory creates in-memory presentations with simulated players.
type Factory struct {
	opts Options

	mu   sync.Mutex
	live map[stand.ImageIdentity]*Presentation
}

// NewFactory creates a factory whose players use opts.
func NewFactory(opts Options) *Factory {
	return &Factory{
		opts: opts,
		live: make(map[stand.ImageIdentity]*Presentation),
	}
}

// Create implements stand.Factory.
func (f *Factory) Create(id stand.ImageIdentity, tmpl *stand.Template) (stand.Presentation, error) {
	p := &Presentation{Identity: id, Template: tmpl.Name}
	if tmpl.Video != nil {
		p.video = NewPlayer(tmpl.Video.URI, stand.ModalityVideo, f.opts)
	}
	if tmpl.Audio != nil {
		p.audio = NewPlayer(tmpl.Audio.URI, stand.ModalityAudio, f.opts)
	}
	p.onDestroy = func() {
		f.mu.Lock()
		if f.live[id] == p {
			delete(f.live, id)
		}
		f.mu.Unlock()
	}

	f.mu.Lock()
	f.live[id] = p
	f.mu.Unlock()
	return p, nil
}

// Get returns the live presentation for id.
func (f *Factory) Get(id stand.ImageIdentity) (*Presentation, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.live[id]
	return p, ok
}

// Views returns every live presentation sorted by identity.
func (f *Factory) Views() []View {
	f.mu.Lock()
	live := make([]*Presentation, 0, len(f.live))
	for _, p := range f.live {
		live = append(live, p)
	}
	f.mu.Unlock()

	sort.Slice(live, func(i, j int) bool { return live[i].Identity < live[j].Identity })
	views := make([]View, 0, len(live))
	for _, p := range live {
		views = append(views, p.View())
	}
	return views
}
