package stand

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var (
	pose1 = Pose{Position: Vec3{X: 1}, Rotation: Quat{W: 1}}
	pose2 = Pose{Position: Vec3{X: 2, Y: 0.5}, Rotation: Quat{W: 1}}
)

func posterConfig() Configuration {
	return Configuration{
		"posterA": {Name: "templateA", Video: &MediaSpec{URI: "a.mp4"}, Audio: &MediaSpec{URI: "a.ogg"}, Loop: true},
		"posterB": {Name: "templateB", Video: &MediaSpec{URI: "b.mp4"}},
		"silent":  {Name: "static"},
	}
}

func newTestController(t *testing.T) (*Controller, *MockFactory, *EventRecorder) {
	t.Helper()
	f := NewMockFactory()
	rec := &EventRecorder{}
	c := NewController(f, Options{Observer: rec})
	if err := c.Configure(posterConfig()); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	return c, f, rec
}

func tracked(id ImageIdentity, p Pose) Observation {
	return Observation{Identity: id, Pose: p, Status: StatusTracking}
}

func lost(id ImageIdentity, p Pose) Observation {
	return Observation{Identity: id, Pose: p, Status: StatusLimited}
}

func mustState(t *testing.T, c *Controller, id ImageIdentity, want State) {
	t.Helper()
	s, ok := c.Lookup(id)
	if !ok {
		t.Fatalf("no entry for %q", id)
	}
	if s.State != want {
		t.Fatalf("%q: expected state %v, got %v", id, want, s.State)
	}
}

func readyAll(t *testing.T, p *MockPresentation) {
	t.Helper()
	if p.VideoMedia != nil {
		if err := p.VideoMedia.Ready(); err != nil {
			t.Fatalf("video ready: %v", err)
		}
	}
	if p.AudioMedia != nil {
		if err := p.AudioMedia.Ready(); err != nil {
			t.Fatalf("audio ready: %v", err)
		}
	}
}

func TestController_PosterScenario(t *testing.T) {
	c, f, rec := newTestController(t)

	c.HandleBatch(Batch{Added: []Observation{tracked("posterA", pose1)}})
	mustState(t, c, "posterA", StatePreparing)

	p := f.Last("posterA")
	if p == nil {
		t.Fatal("expected a presentation for posterA")
	}
	if p.Visible() {
		t.Error("stand should stay hidden while preparing")
	}
	if !p.VideoMedia.Looping() || !p.AudioMedia.Looping() {
		t.Error("loop should be set from the template")
	}

	readyAll(t, p)
	mustState(t, c, "posterA", StateActive)
	if !p.Visible() || !p.VideoMedia.IsPlaying() || !p.AudioMedia.IsPlaying() {
		t.Fatal("active stand should be visible and playing")
	}

	c.HandleBatch(Batch{Removed: []ImageIdentity{"posterA"}})
	mustState(t, c, "posterA", StateSuspended)
	if p.Visible() || p.Destroyed() {
		t.Error("suspended stand should be hidden but kept")
	}
	if p.VideoMedia.IsPlaying() || p.AudioMedia.IsPlaying() {
		t.Error("suspended stand should be paused")
	}

	c.HandleBatch(Batch{Added: []Observation{tracked("posterA", pose2)}})
	mustState(t, c, "posterA", StateActive)
	if p.Pose() != pose2 {
		t.Errorf("expected pose2, got %+v", p.Pose())
	}
	if !p.VideoMedia.IsPlaying() {
		t.Error("playback should resume")
	}
	if n := len(f.Created("posterA")); n != 1 {
		t.Errorf("expected one presentation, got %d", n)
	}
	if prepared, _, _ := p.VideoMedia.Counts(); prepared != 1 {
		t.Errorf("expected a single preparation, got %d", prepared)
	}

	want := []EventKind{EventActivated, EventSuspended, EventActivated}
	if diff := cmp.Diff(want, rec.Kinds()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestController_RepeatedAddedCreatesOnce(t *testing.T) {
	c, f, _ := newTestController(t)

	for i := 0; i < 5; i++ {
		c.HandleBatch(Batch{
			Added:   []Observation{tracked("posterB", pose1)},
			Updated: []Observation{tracked("posterB", pose2)},
		})
	}

	if n := len(f.Created("posterB")); n != 1 {
		t.Fatalf("expected 1 presentation, got %d", n)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}
	if n := len(c.Pending()); n != 1 {
		t.Errorf("expected 1 pending ticket, got %d", n)
	}
}

func TestController_ReadyWhileNotTrackedSuspends(t *testing.T) {
	c, f, rec := newTestController(t)

	c.HandleBatch(Batch{Added: []Observation{tracked("posterB", pose1)}})
	c.HandleBatch(Batch{Removed: []ImageIdentity{"posterB"}})
	mustState(t, c, "posterB", StatePreparing)

	p := f.Last("posterB")
	readyAll(t, p)

	mustState(t, c, "posterB", StateSuspended)
	if p.Visible() {
		t.Error("stand must stay hidden")
	}
	if _, plays, _ := p.VideoMedia.Counts(); plays != 0 {
		t.Errorf("no playback expected, got %d plays", plays)
	}
	if len(rec.Kinds()) != 0 {
		t.Errorf("no events expected, got %v", rec.Kinds())
	}

	// Coming back into view activates without re-preparing.
	c.HandleBatch(Batch{Updated: []Observation{tracked("posterB", pose2)}})
	mustState(t, c, "posterB", StateActive)
	if prepared, _, _ := p.VideoMedia.Counts(); prepared != 1 {
		t.Errorf("expected one preparation, got %d", prepared)
	}
}

func TestController_LimitedTrackingSuspends(t *testing.T) {
	c, f, _ := newTestController(t)

	c.HandleBatch(Batch{Added: []Observation{tracked("posterB", pose1)}})
	readyAll(t, f.Last("posterB"))
	mustState(t, c, "posterB", StateActive)

	c.HandleBatch(Batch{Updated: []Observation{lost("posterB", pose2)}})
	mustState(t, c, "posterB", StateSuspended)

	p := f.Last("posterB")
	if p.Pose() != pose2 {
		t.Error("pose should still be forwarded while not tracked")
	}
	if p.VideoMedia.IsPlaying() {
		t.Error("video should be paused")
	}
}

func TestController_UpdatedThenRemovedInOneBatch(t *testing.T) {
	c, f, _ := newTestController(t)

	c.HandleBatch(Batch{Added: []Observation{tracked("posterB", pose1)}})
	readyAll(t, f.Last("posterB"))

	c.HandleBatch(Batch{
		Updated: []Observation{tracked("posterB", pose2)},
		Removed: []ImageIdentity{"posterB"},
	})
	mustState(t, c, "posterB", StateSuspended)
}

func TestController_AddedBeforeUpdatedOrder(t *testing.T) {
	c, f, _ := newTestController(t)

	// Updated arrives first in the struct but added is always applied first.
	c.HandleBatch(Batch{
		Updated: []Observation{tracked("silent", pose2)},
		Added:   []Observation{tracked("silent", pose1)},
	})

	if got := f.Last("silent").Pose(); got != pose2 {
		t.Errorf("expected final pose from updated list, got %+v", got)
	}
}

func TestController_UnknownIdentitySkipped(t *testing.T) {
	c, f, _ := newTestController(t)

	c.HandleBatch(Batch{Added: []Observation{
		tracked("ghost", pose1),
		tracked("silent", pose1),
	}, Removed: []ImageIdentity{"phantom"}})

	if _, ok := c.Lookup("ghost"); ok {
		t.Error("unknown identity should not create an entry")
	}
	if f.Last("ghost") != nil {
		t.Error("unknown identity should not reach the factory")
	}
	mustState(t, c, "silent", StateActive)
}

func TestController_FactoryFailureSkipsOnlyThatIdentity(t *testing.T) {
	f := NewMockFactory()
	f.Fail = map[ImageIdentity]error{"posterA": errors.New("prefab missing")}
	c := NewController(f, Options{})
	if err := c.Configure(posterConfig()); err != nil {
		t.Fatal(err)
	}

	c.HandleBatch(Batch{Added: []Observation{tracked("posterA", pose1), tracked("silent", pose1)}})

	if c.Len() != 1 {
		t.Fatalf("expected only the healthy stand, got %d entries", c.Len())
	}
	mustState(t, c, "silent", StateActive)
}

func TestController_NotConfigured(t *testing.T) {
	f := NewMockFactory()
	c := NewController(f, Options{})

	c.HandleBatch(Batch{Added: []Observation{tracked("posterA", pose1)}})
	if c.Len() != 0 {
		t.Errorf("expected no entries before Configure, got %d", c.Len())
	}
}

func TestController_NoMediaActivatesImmediately(t *testing.T) {
	c, f, _ := newTestController(t)

	c.HandleBatch(Batch{Added: []Observation{tracked("silent", pose1)}})
	mustState(t, c, "silent", StateActive)
	if !f.Last("silent").Visible() {
		t.Error("visual-only stand should be visible")
	}
	if len(c.Pending()) != 0 {
		t.Error("no tickets expected for a stand without media")
	}
}

func TestController_VideoOnlyStand(t *testing.T) {
	c, f, _ := newTestController(t)

	c.HandleBatch(Batch{Added: []Observation{tracked("posterB", pose1)}})
	p := f.Last("posterB")
	if p.AudioMedia != nil {
		t.Fatal("template has no audio")
	}
	readyAll(t, p)
	mustState(t, c, "posterB", StateActive)
}

func TestController_WaitsForEveryModality(t *testing.T) {
	c, f, _ := newTestController(t)

	c.HandleBatch(Batch{Added: []Observation{tracked("posterA", pose1)}})
	p := f.Last("posterA")

	if err := p.VideoMedia.Ready(); err != nil {
		t.Fatal(err)
	}
	mustState(t, c, "posterA", StatePreparing)
	if p.VideoMedia.IsPlaying() {
		t.Error("playback must not start before every handle is ready")
	}

	if err := p.AudioMedia.Ready(); err != nil {
		t.Fatal(err)
	}
	mustState(t, c, "posterA", StateActive)
}

func TestController_ExternalStopResumesOnUpdate(t *testing.T) {
	c, f, _ := newTestController(t)

	c.HandleBatch(Batch{Added: []Observation{tracked("posterB", pose1)}})
	p := f.Last("posterB")
	readyAll(t, p)

	p.VideoMedia.StopExternally()
	c.HandleBatch(Batch{Updated: []Observation{tracked("posterB", pose2)}})

	if !p.VideoMedia.IsPlaying() {
		t.Error("tracked update should resume stopped playback")
	}
	if _, plays, _ := p.VideoMedia.Counts(); plays != 2 {
		t.Errorf("expected 2 plays, got %d", plays)
	}
}

func TestController_ActiveUpdateDoesNotRestartPlayback(t *testing.T) {
	c, f, _ := newTestController(t)

	c.HandleBatch(Batch{Added: []Observation{tracked("posterB", pose1)}})
	p := f.Last("posterB")
	readyAll(t, p)

	for i := 0; i < 3; i++ {
		c.HandleBatch(Batch{Updated: []Observation{tracked("posterB", pose2)}})
	}
	if _, plays, pauses := p.VideoMedia.Counts(); plays != 1 || pauses != 0 {
		t.Errorf("expected uninterrupted playback, got plays=%d pauses=%d", plays, pauses)
	}
}

func TestController_ClearAll(t *testing.T) {
	c, f, rec := newTestController(t)

	c.HandleBatch(Batch{Added: []Observation{tracked("posterA", pose1), tracked("silent", pose1)}})
	old := f.Last("posterA")

	c.ClearAll()
	if c.Len() != 0 {
		t.Fatalf("expected empty table, got %d", c.Len())
	}
	if !old.Destroyed() || !f.Last("silent").Destroyed() {
		t.Error("every presentation should be destroyed")
	}
	if len(c.Pending()) != 0 {
		t.Error("pending tickets should be dropped")
	}

	// Idempotent
	c.ClearAll()

	// Stale callback is a no-op.
	if err := old.VideoMedia.Ready(); !errors.Is(err, ErrStaleCallback) {
		t.Errorf("expected ErrStaleCallback, got %v", err)
	}
	if c.Len() != 0 {
		t.Error("stale callback must not recreate the entry")
	}

	// A new sighting behaves like the first one.
	c.HandleBatch(Batch{Added: []Observation{tracked("posterA", pose2)}})
	mustState(t, c, "posterA", StatePreparing)
	fresh := f.Last("posterA")
	if fresh == old {
		t.Fatal("expected a new presentation after ClearAll")
	}
	if fresh.VideoMedia.Ticket().Generation == old.VideoMedia.Ticket().Generation {
		t.Error("recreated entry should get a new generation")
	}

	// The old ticket still must not touch the new entry.
	if err := old.AudioMedia.Ready(); !errors.Is(err, ErrStaleCallback) {
		t.Errorf("expected ErrStaleCallback, got %v", err)
	}
	mustState(t, c, "posterA", StatePreparing)

	kinds := rec.Kinds()
	cleared := 0
	for _, k := range kinds {
		if k == EventCleared {
			cleared++
		}
	}
	if cleared != 2 {
		t.Errorf("expected 2 cleared events, got %d (%v)", cleared, kinds)
	}
}

func TestController_DuplicateReadyIsStale(t *testing.T) {
	c, f, _ := newTestController(t)

	c.HandleBatch(Batch{Added: []Observation{tracked("posterB", pose1)}})
	p := f.Last("posterB")
	readyAll(t, p)

	if err := p.VideoMedia.Ready(); !errors.Is(err, ErrStaleCallback) {
		t.Errorf("second ready should be stale, got %v", err)
	}
}

func TestController_SynchronousReadyDoesNotDeadlock(t *testing.T) {
	f := NewMockFactory()
	f.AutoReady = true
	c := NewController(f, Options{})
	if err := c.Configure(posterConfig()); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		c.HandleBatch(Batch{Added: []Observation{tracked("posterA", pose1)}})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleBatch deadlocked on a synchronous ready callback")
	}
	mustState(t, c, "posterA", StateActive)
}

func TestController_ConcurrentBatchesAndReady(t *testing.T) {
	c, f, _ := newTestController(t)
	c.HandleBatch(Batch{Added: []Observation{tracked("posterB", pose1)}})
	p := f.Last("posterB")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			if i%2 == 0 {
				c.HandleBatch(Batch{Updated: []Observation{tracked("posterB", pose2)}})
			} else {
				c.HandleBatch(Batch{Removed: []ImageIdentity{"posterB"}})
			}
		}
	}()
	go func() {
		defer wg.Done()
		_ = p.VideoMedia.Ready()
	}()
	wg.Wait()

	// The last batch removed the image; whatever the interleaving the stand
	// ends up hidden and paused, or still preparing if ready lost the race.
	s, _ := c.Lookup("posterB")
	if s.State == StateActive {
		t.Fatalf("expected non-active final state, got %v", s.State)
	}
	if p.Visible() || p.VideoMedia.IsPlaying() {
		t.Error("final state must be hidden and paused")
	}
}

func TestController_AttachDetach(t *testing.T) {
	c, f, _ := newTestController(t)
	src := &MockSource{}

	c.Attach(src)
	c.Attach(src)
	if subs, _ := src.Calls(); subs != 1 {
		t.Errorf("expected a single subscription, got %d", subs)
	}

	src.Emit(Batch{Added: []Observation{tracked("silent", pose1)}})
	mustState(t, c, "silent", StateActive)

	c.Detach(src)
	c.Detach(src)
	if _, unsubs := src.Calls(); unsubs != 1 {
		t.Errorf("expected a single unsubscription, got %d", unsubs)
	}

	src.Emit(Batch{Removed: []ImageIdentity{"silent"}})
	mustState(t, c, "silent", StateActive)
	if f.Last("silent") == nil {
		t.Fatal("presentation missing")
	}
}

func TestController_ContentScale(t *testing.T) {
	cfg := Configuration{
		"poster": {Name: "scaled", Scale: &ScaleOptions{Factor: 2}},
	}
	f := NewMockFactory()
	c := NewController(f, Options{})
	if err := c.Configure(cfg); err != nil {
		t.Fatal(err)
	}

	obs := tracked("poster", pose1)
	obs.Size = Vec2{X: 0.3, Y: 0.4}
	c.HandleBatch(Batch{Added: []Observation{obs}})

	got := f.Last("poster").Scale()
	want := Vec3{X: 0.8, Y: 0.8, Z: 0.8}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("scale mismatch (-want +got):\n%s", diff)
	}

	// Unknown size keeps the previous scale.
	c.HandleBatch(Batch{Updated: []Observation{tracked("poster", pose2)}})
	if f.Last("poster").Scale() != want {
		t.Error("scale should not change without a size")
	}
}

func TestController_Reconfigure(t *testing.T) {
	c, f, _ := newTestController(t)
	c.HandleBatch(Batch{Added: []Observation{tracked("silent", pose1)}})

	if err := c.Configure(Configuration{"other": {Name: "other"}}); err != nil {
		t.Fatal(err)
	}

	// Existing stands keep running; new identities follow the new mapping.
	c.HandleBatch(Batch{
		Updated: []Observation{tracked("silent", pose2)},
		Added:   []Observation{tracked("posterA", pose1), tracked("other", pose1)},
	})
	mustState(t, c, "silent", StateActive)
	if f.Last("posterA") != nil {
		t.Error("posterA is no longer configured")
	}
	mustState(t, c, "other", StateActive)
}

func TestController_ConfigureRejectsInvalid(t *testing.T) {
	c := NewController(NewMockFactory(), Options{})

	tests := []struct {
		name string
		cfg  Configuration
	}{
		{"nil", nil},
		{"nil template", Configuration{"a": nil}},
		{"empty identity", Configuration{"": {Name: "x"}}},
		{"unnamed template", Configuration{"a": {}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Configure(tt.cfg)
			if !errors.Is(err, ErrInvalidConfiguration) {
				t.Errorf("expected ErrInvalidConfiguration, got %v", err)
			}
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Errorf("expected *ConfigurationError, got %T", err)
			}
		})
	}
}

func TestController_SnapshotOrderAndFields(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f := NewMockFactory()
	c := NewController(f, Options{Now: func() time.Time { return at }})
	if err := c.Configure(posterConfig()); err != nil {
		t.Fatal(err)
	}

	c.HandleBatch(Batch{Added: []Observation{tracked("silent", pose1), tracked("posterB", pose2)}})

	want := []Snapshot{
		{Identity: "posterB", Template: "templateB", State: StatePreparing, Tracked: true, Pose: pose2, CreatedAt: at},
		{Identity: "silent", Template: "static", State: StateActive, Tracked: true, MediaReady: true, Pose: pose1, Activations: 1, CreatedAt: at},
	}
	if diff := cmp.Diff(want, c.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestController_ClearDuringFlushSkipsPreparation(t *testing.T) {
	f := NewMockFactory()
	var (
		c       *Controller
		cleared bool
	)
	c = NewController(f, Options{Observer: ObserverFunc(func(e Event) {
		if e.Kind == EventActivated && !cleared {
			cleared = true
			c.ClearAll()
		}
	})})
	if err := c.Configure(posterConfig()); err != nil {
		t.Fatal(err)
	}

	// "silent" has no media and activates at once; its event runs before
	// posterB's preparation is started.
	c.HandleBatch(Batch{Added: []Observation{tracked("silent", pose1), tracked("posterB", pose1)}})

	p := f.Last("posterB")
	if p == nil {
		t.Fatal("expected a presentation for posterB")
	}
	if prepared, _, _ := p.VideoMedia.Counts(); prepared != 0 {
		t.Errorf("Prepare called %d times on a cleared stand", prepared)
	}
	if !p.Destroyed() {
		t.Error("posterB should be destroyed by ClearAll")
	}
	if n := len(c.Pending()); n != 0 {
		t.Errorf("expected no pending tickets, got %d", n)
	}
}
