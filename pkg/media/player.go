// Package media provides in-process stand presentations backed by simulated
// players. They stand in for a renderer when replaying scenarios locally and
// in tests.
package media

import (
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-arkiosk/pkg/stand"
)

// PlaybackState represents the current state of a player.
type PlaybackState int

const (
	StateIdle PlaybackState = iota
	StatePreparing
	StateReady
	StatePlaying
	StatePaused
	StateClosed
)

func (s PlaybackState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures simulated players.
type Options struct {
	// PrepareDelay is how long preparation takes before the notifier is called.
	PrepareDelay time.Duration

	// Duration is the clip length. Zero means the clip never ends.
	Duration time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// DefaultOptions returns options for a short, quickly prepared clip.
func DefaultOptions() Options {
	return Options{
		PrepareDelay: 50 * time.Millisecond,
		Duration:     30 * time.Second,
	}
}

// Player is a stand.MediaHandle that advances a position along a simulated
// timeline.
type Player struct {
	URI      string
	Modality stand.Modality

	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    PlaybackState
	loop     bool
	position time.Duration
	startAt  time.Time
	timer    *time.Timer
}

// NewPlayer creates an idle player for uri.
func NewPlayer(uri string, modality stand.Modality, opts Options) *Player {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Player{
		URI:      uri,
		Modality: modality,
		opts:     opts,
		logger:   logger.With("component", "media", "uri", uri),
		now:      now,
		state:    StateIdle,
	}
}

// Prepare starts loading the clip and reports t to n once it is ready.
func (p *Player) Prepare(t stand.Ticket, n stand.ReadyNotifier) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateClosed {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.state = StatePreparing
	p.timer = time.AfterFunc(p.opts.PrepareDelay, func() {
		p.mu.Lock()
		if p.state != StatePreparing {
			p.mu.Unlock()
			return
		}
		p.state = StateReady
		p.mu.Unlock()

		if err := n.MediaReady(t); err != nil {
			p.logger.Debug("ready notification rejected", "ticket", t, "error", err)
		}
	})
}

// Play starts or resumes playback from the current position.
func (p *Player) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateClosed || p.state == StatePlaying {
		return
	}
	if p.opts.Duration > 0 && p.position >= p.opts.Duration {
		p.position = 0
	}
	p.startAt = p.now()
	p.state = StatePlaying
}

// Pause stops playback and keeps the position.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StatePlaying {
		return
	}
	p.position = p.positionLocked()
	p.state = StatePaused
}

// IsPlaying reports whether the clip is playing. A clip that reached its
// end without looping is no longer playing.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StatePlaying {
		return false
	}
	if p.finishedLocked() {
		p.position = p.opts.Duration
		p.state = StateReady
		return false
	}
	return true
}

// SetLoop enables or disables wrapping at the end of the clip.
func (p *Player) SetLoop(loop bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StatePlaying {
		p.position = p.positionLocked()
		p.startAt = p.now()
	}
	p.loop = loop
}

// Stop halts playback and rewinds, as if the platform had stopped the
// player on its own.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StatePlaying || p.state == StatePaused {
		p.state = StateReady
	}
	p.position = 0
}

// Close releases the player. Pending preparation is abandoned.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.state = StateClosed
}

// State returns the current playback state.
func (p *Player) State() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Position returns the playback position.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *Player) positionLocked() time.Duration {
	pos := p.position
	if p.state == StatePlaying {
		pos += p.now().Sub(p.startAt)
	}

	d := p.opts.Duration
	if d <= 0 {
		return pos
	}
	if p.loop {
		return pos % d
	}
	if pos > d {
		return d
	}
	return pos
}

func (p *Player) finishedLocked() bool {
	d := p.opts.Duration
	if d <= 0 || p.loop {
		return false
	}
	return p.position+p.now().Sub(p.startAt) >= d
}
