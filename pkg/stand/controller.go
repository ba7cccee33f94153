package stand

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Options configures a Controller.
type Options struct {
	Logger   *slog.Logger
	Observer Observer         // Optional; receives activated/suspended/cleared events
	Now      func() time.Time // Clock for event timestamps (default time.Now)
}

// entry is the per-identity lifecycle record.
type entry struct {
	identity     ImageIdentity
	template     *Template
	presentation Presentation
	video        MediaHandle
	audio        MediaHandle

	generation uint64
	awaiting   int // Outstanding preparation tickets
	mediaReady bool
	state      State
	tracked    bool
	lastPose   Pose

	activations int
	createdAt   time.Time
}

// handles returns the media handles the template actually has.
func (e *entry) handles() []MediaHandle {
	hs := make([]MediaHandle, 0, 2)
	if e.video != nil {
		hs = append(hs, e.video)
	}
	if e.audio != nil {
		hs = append(hs, e.audio)
	}
	return hs
}

type prepareRequest struct {
	handle MediaHandle
	ticket Ticket
}

// deferred collects work that must run after the controller lock is released.
type deferred struct {
	events   []Event
	prepares []prepareRequest
}

// Controller maps tracking batches onto stand lifecycle transitions.
// All methods are safe for concurrent use; batches and media-ready
// callbacks may interleave in any order and the later one wins.
type Controller struct {
	factory  Factory
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	mu         sync.Mutex
	config     Configuration
	entries    map[ImageIdentity]*entry
	pending    map[Ticket]struct{}
	generation uint64

	srcMu   sync.Mutex
	sources map[Source]struct{}
}

// NewController creates a controller that instantiates stands with factory.
func NewController(factory Factory, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Controller{
		factory:  factory,
		logger:   logger.With("component", "stand"),
		observer: opts.Observer,
		now:      now,
		entries:  make(map[ImageIdentity]*entry),
		pending:  make(map[Ticket]struct{}),
		sources:  make(map[Source]struct{}),
	}
}

// Configure validates and installs the identity → template mapping.
// Stands that already exist keep their presentation; the new mapping is
// consulted the next time an identity is first seen.
func (c *Controller) Configure(cfg Configuration) error {
	if cfg == nil {
		return &ConfigurationError{Reason: "nil configuration"}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	c.config = cfg.Clone()
	c.mu.Unlock()

	c.logger.Info("stand configuration installed", "stands", len(cfg))
	return nil
}

// HandleBatch applies added, then updated, then removed changes, each in
// input order. Unknown identities are logged and skipped.
func (c *Controller) HandleBatch(b Batch) {
	var d deferred

	c.mu.Lock()
	for _, obs := range b.Added {
		c.observe(obs, &d)
	}
	for _, obs := range b.Updated {
		c.observe(obs, &d)
	}
	for _, id := range b.Removed {
		c.lose(id, &d)
	}
	c.mu.Unlock()

	c.flush(&d)
}

// MediaReady resolves a preparation ticket. Tickets from entries that were
// cleared, or that were already resolved, return ErrStaleCallback.
func (c *Controller) MediaReady(t Ticket) error {
	var d deferred

	c.mu.Lock()
	if _, ok := c.pending[t]; !ok {
		c.mu.Unlock()
		c.logger.Debug("media ready ignored",
			"stand", t.Identity, "modality", t.Modality, "generation", t.Generation)
		return fmt.Errorf("%w: %s/%s generation %d", ErrStaleCallback, t.Identity, t.Modality, t.Generation)
	}
	delete(c.pending, t)

	e := c.entries[t.Identity]
	e.awaiting--
	if e.awaiting == 0 {
		e.mediaReady = true
		c.logger.Debug("stand media ready", "stand", e.identity, "tracked", e.tracked)
		c.reconcile(e, &d)
	}
	c.mu.Unlock()

	c.flush(&d)
	return nil
}

// ClearAll destroys every stand and forgets every entry. Preparations still
// in flight become stale.
func (c *Controller) ClearAll() {
	var d deferred

	c.mu.Lock()
	ids := c.sortedIdentities()
	for _, id := range ids {
		e := c.entries[id]
		e.presentation.Destroy()
		d.events = append(d.events, c.event(EventCleared, id))
	}
	c.entries = make(map[ImageIdentity]*entry)
	c.pending = make(map[Ticket]struct{})
	c.mu.Unlock()

	if len(ids) > 0 {
		c.logger.Info("stands cleared", "count", len(ids))
	}
	c.flush(&d)
}

// Attach subscribes the controller to src. Attaching twice is a no-op.
func (c *Controller) Attach(src Source) {
	c.srcMu.Lock()
	defer c.srcMu.Unlock()

	if _, ok := c.sources[src]; ok {
		return
	}
	c.sources[src] = struct{}{}
	src.Subscribe(c)
}

// Detach unsubscribes the controller from src. Detaching an unknown source
// is a no-op.
func (c *Controller) Detach(src Source) {
	c.srcMu.Lock()
	defer c.srcMu.Unlock()

	if _, ok := c.sources[src]; !ok {
		return
	}
	delete(c.sources, src)
	src.Unsubscribe(c)
}

// Snapshot returns the current entries sorted by identity.
func (c *Controller) Snapshot() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Snapshot, 0, len(c.entries))
	for _, id := range c.sortedIdentities() {
		e := c.entries[id]
		out = append(out, Snapshot{
			Identity:    e.identity,
			Template:    e.template.Name,
			State:       e.state,
			Tracked:     e.tracked,
			MediaReady:  e.mediaReady,
			Pose:        e.lastPose,
			Activations: e.activations,
			CreatedAt:   e.createdAt,
		})
	}
	return out
}

// Lookup returns the snapshot of one entry.
func (c *Controller) Lookup(id ImageIdentity) (Snapshot, bool) {
	for _, s := range c.Snapshot() {
		if s.Identity == id {
			return s, true
		}
	}
	return Snapshot{}, false
}

// Pending returns the outstanding preparation tickets.
func (c *Controller) Pending() []Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Ticket, 0, len(c.pending))
	for t := range c.pending {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Identity != out[j].Identity {
			return out[i].Identity < out[j].Identity
		}
		return out[i].Modality < out[j].Modality
	})
	return out
}

// Len returns the number of entries.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// observe handles an added or updated observation. Caller holds c.mu.
func (c *Controller) observe(obs Observation, d *deferred) {
	e, ok := c.entries[obs.Identity]
	if !ok {
		e = c.create(obs, d)
		if e == nil {
			return
		}
	}

	e.tracked = obs.Status.Tracked()
	e.lastPose = obs.Pose
	e.presentation.SetPose(obs.Pose)
	c.applyScale(e, obs.Size)
	c.reconcile(e, d)
}

// create instantiates the stand for a first sighting. Caller holds c.mu.
func (c *Controller) create(obs Observation, d *deferred) *entry {
	if c.config == nil {
		c.logger.Warn("observation skipped", "stand", obs.Identity, "error", ErrNotConfigured)
		return nil
	}
	tmpl, ok := c.config[obs.Identity]
	if !ok {
		c.logger.Warn("observation skipped", "stand", obs.Identity, "error", ErrUnknownIdentity)
		return nil
	}

	p, err := c.factory.Create(obs.Identity, tmpl)
	if err == nil && p == nil {
		err = fmt.Errorf("factory returned no presentation")
	}
	if err != nil {
		c.logger.Error("stand creation failed", "stand", obs.Identity, "template", tmpl.Name, "error", err)
		return nil
	}

	c.generation++
	e := &entry{
		identity:     obs.Identity,
		template:     tmpl,
		presentation: p,
		video:        p.Video(),
		audio:        p.Audio(),
		generation:   c.generation,
		state:        StatePreparing,
		createdAt:    c.now(),
	}
	p.SetVisible(false)

	for _, m := range []struct {
		handle   MediaHandle
		modality Modality
	}{
		{e.video, ModalityVideo},
		{e.audio, ModalityAudio},
	} {
		if m.handle == nil {
			continue
		}
		m.handle.SetLoop(tmpl.Loop)
		t := Ticket{Identity: e.identity, Generation: e.generation, Modality: m.modality}
		c.pending[t] = struct{}{}
		e.awaiting++
		d.prepares = append(d.prepares, prepareRequest{handle: m.handle, ticket: t})
	}
	if e.awaiting == 0 {
		e.mediaReady = true
	}

	c.entries[e.identity] = e
	c.logger.Info("stand created",
		"stand", e.identity, "template", tmpl.Name, "generation", e.generation, "media", e.awaiting)
	return e
}

// lose handles an explicit removal. Caller holds c.mu.
func (c *Controller) lose(id ImageIdentity, d *deferred) {
	e, ok := c.entries[id]
	if !ok {
		c.logger.Debug("removal for unknown stand ignored", "stand", id)
		return
	}
	e.tracked = false
	c.reconcile(e, d)
}

// reconcile moves an entry to the state implied by its tracking and media
// readiness. Caller holds c.mu.
func (c *Controller) reconcile(e *entry, d *deferred) {
	if !e.mediaReady {
		return
	}
	if e.tracked {
		c.activate(e, d)
		return
	}
	c.suspend(e, d)
}

func (c *Controller) activate(e *entry, d *deferred) {
	wasActive := e.state == StateActive
	if !wasActive {
		e.presentation.SetVisible(true)
	}

	// Also resumes playback that stopped outside the controller.
	for _, h := range e.handles() {
		if !h.IsPlaying() {
			h.Play()
		}
	}

	if !wasActive {
		e.state = StateActive
		e.activations++
		d.events = append(d.events, c.event(EventActivated, e.identity))
		c.logger.Debug("stand activated", "stand", e.identity, "activations", e.activations)
	}
}

func (c *Controller) suspend(e *entry, d *deferred) {
	switch e.state {
	case StateActive:
		e.presentation.SetVisible(false)
		for _, h := range e.handles() {
			if h.IsPlaying() {
				h.Pause()
			}
		}
		e.state = StateSuspended
		d.events = append(d.events, c.event(EventSuspended, e.identity))
		c.logger.Debug("stand suspended", "stand", e.identity)

	case StatePreparing:
		// Media finished while the image was out of view; the stand was
		// never shown, so there is nothing to hide or pause.
		e.state = StateSuspended
	}
}

func (c *Controller) applyScale(e *entry, size Vec2) {
	if e.template.Scale == nil {
		return
	}
	if s, ok := e.template.Scale.ContentScale(size); ok {
		e.presentation.SetScale(s)
	}
}

func (c *Controller) event(kind EventKind, id ImageIdentity) Event {
	return Event{Kind: kind, Identity: id, At: c.now()}
}

// flush runs deferred work without holding c.mu, so observers and media
// handles may call back into the controller. A preparation whose ticket was
// dropped in the meantime (an observer or another goroutine ran ClearAll)
// is not started.
func (c *Controller) flush(d *deferred) {
	if c.observer != nil {
		for _, ev := range d.events {
			c.observer.StandEvent(ev)
		}
	}
	for _, p := range d.prepares {
		if !c.isPending(p.ticket) {
			c.logger.Debug("preparation skipped", "stand", p.ticket.Identity, "modality", p.ticket.Modality)
			continue
		}
		p.handle.Prepare(p.ticket, c)
	}
}

func (c *Controller) isPending(t Ticket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[t]
	return ok
}

// sortedIdentities returns entry keys in order. Caller holds c.mu.
func (c *Controller) sortedIdentities() []ImageIdentity {
	ids := make([]ImageIdentity, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
