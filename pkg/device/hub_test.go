package device

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-arkiosk/pkg/protocol"
	"github.com/teslashibe/go-arkiosk/pkg/stand"
)

// recordWriter captures everything a session sends.
type recordWriter struct {
	mu   sync.Mutex
	msgs []*protocol.Message
}

func (w *recordWriter) WriteMessage(_ int, data []byte) error {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.msgs = append(w.msgs, msg)
	w.mu.Unlock()
	return nil
}

// take returns and forgets the recorded messages.
func (w *recordWriter) take() []*protocol.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.msgs
	w.msgs = nil
	return out
}

func mediaCommands(t *testing.T, msgs []*protocol.Message, action protocol.MediaAction) []protocol.MediaData {
	t.Helper()
	var out []protocol.MediaData
	for _, m := range msgs {
		if m.Type != protocol.TypeMedia {
			continue
		}
		var data protocol.MediaData
		if err := m.ParseData(&data); err != nil {
			t.Fatalf("bad media payload: %v", err)
		}
		if data.Action == action {
			out = append(out, data)
		}
	}
	return out
}

func countType(msgs []*protocol.Message, typ protocol.MessageType) int {
	n := 0
	for _, m := range msgs {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func testConfig() stand.Configuration {
	return stand.Configuration{
		"posterA": {Name: "intro", Video: &stand.MediaSpec{URI: "a.mp4"}, Audio: &stand.MediaSpec{URI: "a.ogg"}, Loop: true},
	}
}

func encode(t *testing.T, msg *protocol.Message) []byte {
	t.Helper()
	data, err := msg.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func trackingFrame(t *testing.T, b stand.Batch) []byte {
	t.Helper()
	msg, err := protocol.NewTrackingMessage(b)
	if err != nil {
		t.Fatal(err)
	}
	return encode(t, msg)
}

func readyFrame(t *testing.T, ticket stand.Ticket) []byte {
	t.Helper()
	msg, err := protocol.NewMediaReadyMessage(ticket)
	if err != nil {
		t.Fatal(err)
	}
	return encode(t, msg)
}

var seenA = stand.Observation{
	Identity: "posterA",
	Pose:     stand.Pose{Position: stand.Vec3{X: 1}, Rotation: stand.Quat{W: 1}},
	Status:   stand.StatusTracking,
}

// openPrepared opens a session, shows it posterA and returns the prepare
// commands the device received.
func openPrepared(t *testing.T, hub *Hub) (*Session, *recordWriter, []protocol.MediaData) {
	t.Helper()
	w := &recordWriter{}
	s, err := hub.Open("dev1", w)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	s.handleMessage(trackingFrame(t, stand.Batch{Added: []stand.Observation{seenA}}))

	msgs := w.take()
	if countType(msgs, protocol.TypeSpawn) != 1 {
		t.Fatalf("expected one spawn, got %d", countType(msgs, protocol.TypeSpawn))
	}
	prepares := mediaCommands(t, msgs, protocol.ActionPrepare)
	if len(prepares) != 2 {
		t.Fatalf("expected 2 prepare commands, got %d", len(prepares))
	}
	return s, w, prepares
}

func TestNewHub(t *testing.T) {
	hub := NewHub(testConfig(), nil)

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if len(hub.Sessions()) != 0 {
		t.Error("Sessions should be empty initially")
	}
	if got := hub.Stats(); got.SessionCount != 0 || got.MessagesSent != 0 {
		t.Errorf("unexpected initial stats: %+v", got)
	}
}

func TestSessionActivatesAfterDeviceReady(t *testing.T) {
	hub := NewHub(testConfig(), nil)

	var mu sync.Mutex
	var events []stand.EventKind
	hub.OnEvent(func(sessionID string, e stand.Event) {
		if sessionID != "dev1" {
			t.Errorf("event from unexpected session %q", sessionID)
		}
		mu.Lock()
		events = append(events, e.Kind)
		mu.Unlock()
	})

	s, w, prepares := openPrepared(t, hub)

	for _, p := range prepares {
		s.handleMessage(readyFrame(t, stand.Ticket{Identity: p.Stand, Generation: p.Generation, Modality: p.Modality}))
	}

	msgs := w.take()
	if plays := mediaCommands(t, msgs, protocol.ActionPlay); len(plays) != 2 {
		t.Errorf("expected 2 play commands, got %d", len(plays))
	}
	snap, ok := s.Controller().Lookup("posterA")
	if !ok || snap.State != stand.StateActive {
		t.Fatalf("expected active stand, got %+v", snap)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0] != stand.EventActivated {
		t.Errorf("events = %v, want [activated]", events)
	}
}

func TestSessionIgnoresStaleReady(t *testing.T) {
	hub := NewHub(testConfig(), nil)
	s, w, prepares := openPrepared(t, hub)

	for _, p := range prepares {
		s.handleMessage(readyFrame(t, stand.Ticket{Identity: p.Stand, Generation: p.Generation + 10, Modality: p.Modality}))
	}

	if plays := mediaCommands(t, w.take(), protocol.ActionPlay); len(plays) != 0 {
		t.Errorf("stale ready should not start playback, got %d plays", len(plays))
	}
	if snap, _ := s.Controller().Lookup("posterA"); snap.State != stand.StatePreparing {
		t.Errorf("expected preparing, got %v", snap.State)
	}
}

func TestSessionResumesAfterDeviceStop(t *testing.T) {
	hub := NewHub(testConfig(), nil)
	s, w, prepares := openPrepared(t, hub)
	for _, p := range prepares {
		s.handleMessage(readyFrame(t, stand.Ticket{Identity: p.Stand, Generation: p.Generation, Modality: p.Modality}))
	}
	w.take()

	msg, _ := protocol.NewMediaStateMessage("posterA", stand.ModalityVideo, false)
	s.handleMessage(encode(t, msg))
	s.handleMessage(trackingFrame(t, stand.Batch{Updated: []stand.Observation{seenA}}))

	plays := mediaCommands(t, w.take(), protocol.ActionPlay)
	if len(plays) != 1 || plays[0].Modality != stand.ModalityVideo {
		t.Errorf("expected a single video play, got %+v", plays)
	}
}

func TestCloseDestroysStands(t *testing.T) {
	hub := NewHub(testConfig(), nil)
	_, w, _ := openPrepared(t, hub)

	hub.Close("dev1")

	if countType(w.take(), protocol.TypeDestroy) != 1 {
		t.Error("expected a destroy command on close")
	}
	if _, ok := hub.Session("dev1"); ok {
		t.Error("session should be gone after Close")
	}

	// Closing twice is harmless.
	hub.Close("dev1")
}

func TestOpenDuplicateID(t *testing.T) {
	hub := NewHub(testConfig(), nil)
	if _, err := hub.Open("dev1", &recordWriter{}); err != nil {
		t.Fatal(err)
	}
	if _, err := hub.Open("dev1", &recordWriter{}); !errors.Is(err, ErrSessionExists) {
		t.Errorf("expected ErrSessionExists, got %v", err)
	}
}

func TestOpenGeneratesID(t *testing.T) {
	hub := NewHub(testConfig(), nil)
	s, err := hub.Open("", &recordWriter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(s.ID) < 10 {
		t.Errorf("generated ID too short: %q", s.ID)
	}
}

func TestConfigureReachesSessions(t *testing.T) {
	hub := NewHub(stand.Configuration{}, nil)
	w := &recordWriter{}
	s, err := hub.Open("dev1", w)
	if err != nil {
		t.Fatal(err)
	}

	s.handleMessage(trackingFrame(t, stand.Batch{Added: []stand.Observation{seenA}}))
	if countType(w.take(), protocol.TypeSpawn) != 0 {
		t.Fatal("unconfigured image should not spawn")
	}

	if err := hub.Configure(testConfig()); err != nil {
		t.Fatalf("Configure error: %v", err)
	}
	s.handleMessage(trackingFrame(t, stand.Batch{Added: []stand.Observation{seenA}}))
	if countType(w.take(), protocol.TypeSpawn) != 1 {
		t.Error("expected spawn after reconfiguration")
	}

	bad := stand.Configuration{"x": nil}
	if err := hub.Configure(bad); !errors.Is(err, stand.ErrInvalidConfiguration) {
		t.Errorf("expected invalid configuration, got %v", err)
	}
}

func TestPingPong(t *testing.T) {
	hub := NewHub(testConfig(), nil)
	w := &recordWriter{}
	s, err := hub.Open("dev1", w)
	if err != nil {
		t.Fatal(err)
	}

	msg, _ := protocol.NewPingMessage("p1", time.Now().UnixMilli())
	s.handleMessage(encode(t, msg))

	msgs := w.take()
	if len(msgs) != 1 || msgs[0].Type != protocol.TypePong {
		t.Fatalf("expected a pong, got %v", msgs)
	}
	var pong protocol.PongData
	if err := msgs[0].ParseData(&pong); err != nil {
		t.Fatal(err)
	}
	if pong.ID != "p1" {
		t.Errorf("pong id = %q, want p1", pong.ID)
	}
}

func TestMalformedPingIgnored(t *testing.T) {
	hub := NewHub(testConfig(), nil)
	w := &recordWriter{}
	s, err := hub.Open("dev1", w)
	if err != nil {
		t.Fatal(err)
	}

	s.handleMessage([]byte(`{"type":"ping","ts":1,"data":"not an object"}`))

	if msgs := w.take(); len(msgs) != 0 {
		t.Fatalf("expected no reply to a malformed ping, got %v", msgs)
	}
}

func TestPrepareAfterDestroyNotSent(t *testing.T) {
	hub := NewHub(testConfig(), nil)
	w := &recordWriter{}
	s, err := hub.Open("dev1", w)
	if err != nil {
		t.Fatal(err)
	}

	tmpl := testConfig()["posterA"]
	p, err := remoteFactory{s: s}.Create("posterA", tmpl)
	if err != nil {
		t.Fatal(err)
	}
	p.Destroy()
	w.take()

	p.Video().Prepare(stand.Ticket{Identity: "posterA", Generation: 1, Modality: stand.ModalityVideo}, s.Controller())

	if prepares := mediaCommands(t, w.take(), protocol.ActionPrepare); len(prepares) != 0 {
		t.Fatalf("prepare sent after destroy: %v", prepares)
	}
	if s.lookupMedia("posterA", stand.ModalityVideo) != nil {
		t.Error("destroyed stand's media still registered")
	}
}

func TestAPIRoutes(t *testing.T) {
	hub := NewHub(testConfig(), nil)
	openPrepared(t, hub)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterAPIRoutes(app.Group("/api"))

	tests := []struct {
		method string
		path   string
		status int
		body   string
	}{
		{"GET", "/api/sessions/", 200, `"dev1"`},
		{"GET", "/api/sessions/stats", 200, "session_count"},
		{"GET", "/api/sessions/dev1/stands", 200, "posterA"},
		{"GET", "/api/sessions/nope/stands", 404, "not found"},
		{"POST", "/api/sessions/dev1/clear", 200, "cleared"},
		{"POST", "/api/sessions/nope/clear", 404, "not found"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(tt.method, tt.path, nil))
			if err != nil {
				t.Fatalf("Request error: %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Errorf("Status = %d, want %d", resp.StatusCode, tt.status)
			}
			body, _ := io.ReadAll(resp.Body)
			if !strings.Contains(string(body), tt.body) {
				t.Errorf("body %s should contain %s", body, tt.body)
			}
		})
	}

	stands, _ := hub.Stands("dev1")
	if len(stands) != 0 {
		t.Errorf("clear should remove stands, %d left", len(stands))
	}
}

func startServer(t *testing.T, hub *Hub) string {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go app.Listener(ln)
	t.Cleanup(func() { _ = app.Shutdown() })

	return "ws://" + ln.Addr().String()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWebSocketDevice(t *testing.T) {
	hub := NewHub(testConfig(), nil)
	url := startServer(t, hub)

	ws, _, err := websocket.DefaultDialer.Dial(url+"/ws/device/kiosk-1", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	waitFor(t, func() bool { _, ok := hub.Session("kiosk-1"); return ok })

	if err := ws.WriteMessage(websocket.TextMessage, trackingFrame(t, stand.Batch{Added: []stand.Observation{seenA}})); err != nil {
		t.Fatal(err)
	}

	// Answer every prepare like an AR client would, until playback starts.
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	plays := 0
	for plays < 2 {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("Read error: %v", err)
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type != protocol.TypeMedia {
			continue
		}
		var cmd protocol.MediaData
		if err := msg.ParseData(&cmd); err != nil {
			t.Fatal(err)
		}
		switch cmd.Action {
		case protocol.ActionPrepare:
			ticket := stand.Ticket{Identity: cmd.Stand, Generation: cmd.Generation, Modality: cmd.Modality}
			if err := ws.WriteMessage(websocket.TextMessage, readyFrame(t, ticket)); err != nil {
				t.Fatal(err)
			}
		case protocol.ActionPlay:
			plays++
		}
	}

	stands, err := hub.Stands("kiosk-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(stands) != 1 || stands[0].State != stand.StateActive {
		t.Errorf("expected one active stand, got %+v", stands)
	}

	ws.Close()
	waitFor(t, func() bool { return hub.Stats().SessionCount == 0 })

	if hub.Stats().MessagesReceived < 3 {
		t.Errorf("MessagesReceived = %d, want >= 3", hub.Stats().MessagesReceived)
	}
}
