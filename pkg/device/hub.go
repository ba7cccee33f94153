// Package device provides the WebSocket hub AR clients connect to. Each
// connection becomes a Session that feeds its tracking batches into its own
// stand controller and receives the resulting stand and media commands.
package device

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-arkiosk/pkg/stand"
)

var (
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("device: session not found")

	// ErrSessionExists is returned when a device id is already connected.
	ErrSessionExists = errors.New("device: session already connected")
)

// EventFunc receives stand events from every session.
type EventFunc func(sessionID string, e stand.Event)

// Hub manages WebSocket connections from AR clients
type Hub struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	config   stand.Configuration
	onEvent  EventFunc

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	sessionsOpened   atomic.Uint64
}

// NewHub creates a hub that configures every new session with cfg.
func NewHub(cfg stand.Configuration, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:   logger.With("component", "device"),
		sessions: make(map[string]*Session),
		config:   cfg.Clone(),
	}
}

// OnEvent sets the callback for stand events
func (h *Hub) OnEvent(fn EventFunc) {
	h.mu.Lock()
	h.onEvent = fn
	h.mu.Unlock()
}

// Configure installs a new stand configuration on the hub and on every
// connected session.
func (h *Hub) Configure(cfg stand.Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	h.mu.Lock()
	h.config = cfg.Clone()
	sessions := h.list()
	h.mu.Unlock()

	for _, s := range sessions {
		if err := s.controller.Configure(cfg); err != nil {
			return err
		}
	}
	return nil
}

// Config returns a copy of the active configuration.
func (h *Hub) Config() stand.Configuration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config.Clone()
}

// Open registers a session writing to w. An empty id gets a generated one.
func (h *Hub) Open(id string, w Writer) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now()
	s := &Session{
		ID:        id,
		Connected: now,
		lastSeen:  now,
		logger:    h.logger.With("session", id),
		hub:       h,
		w:         w,
		media:     make(map[mediaKey]*remoteMedia),
	}
	s.controller = stand.NewController(remoteFactory{s: s}, stand.Options{
		Logger:   s.logger,
		Observer: stand.ObserverFunc(func(e stand.Event) { h.emit(id, e) }),
	})

	h.mu.Lock()
	if _, ok := h.sessions[id]; ok {
		h.mu.Unlock()
		return nil, ErrSessionExists
	}
	cfg := h.config
	h.sessions[id] = s
	count := len(h.sessions)
	h.mu.Unlock()

	if cfg != nil {
		if err := s.controller.Configure(cfg); err != nil {
			h.Close(id)
			return nil, err
		}
	}
	s.controller.Attach(s)
	h.sessionsOpened.Add(1)

	h.logger.Info("device connected", "session", id, "total", count)
	return s, nil
}

// Close tears down a session's stands and forgets it.
func (h *Hub) Close(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	delete(h.sessions, id)
	count := len(h.sessions)
	h.mu.Unlock()

	if !ok {
		return
	}
	s.controller.ClearAll()
	s.controller.Detach(s)

	h.logger.Info("device disconnected", "session", id, "total", count)
}

func (h *Hub) emit(sessionID string, e stand.Event) {
	h.mu.RLock()
	fn := h.onEvent
	h.mu.RUnlock()

	if fn != nil {
		fn(sessionID, e)
	}
}

// RegisterRoutes registers WebSocket routes on a Fiber app
func (h *Hub) RegisterRoutes(app *fiber.App) {
	app.Use("/ws/device", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/device", websocket.New(h.handleDevice))
	app.Get("/ws/device/:id", websocket.New(h.handleDevice))
}

// handleDevice handles an AR client WebSocket connection
func (h *Hub) handleDevice(c *websocket.Conn) {
	s, err := h.Open(c.Params("id"), c)
	if err != nil {
		h.logger.Warn("device rejected", "error", err)
		return
	}
	defer h.Close(s.ID)

	// Read loop
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			s.logger.Debug("device read ended", "error", err)
			return
		}

		h.messagesReceived.Add(1)
		s.handleMessage(data)
	}
}

// Session returns a session by ID
func (h *Hub) Session(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Sessions returns info about all connected sessions, sorted by ID.
func (h *Hub) Sessions() []SessionInfo {
	h.mu.RLock()
	sessions := h.list()
	h.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// Stands returns the stand snapshots of one session.
func (h *Hub) Stands(id string) ([]stand.Snapshot, error) {
	s, ok := h.Session(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.controller.Snapshot(), nil
}

// Clear destroys every stand of one session. The device stays connected.
func (h *Hub) Clear(id string) error {
	s, ok := h.Session(id)
	if !ok {
		return ErrSessionNotFound
	}
	s.controller.ClearAll()
	return nil
}

// list returns sessions sorted by ID. Caller holds h.mu.
func (h *Hub) list() []*Session {
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions
}

// Stats contains hub statistics
type Stats struct {
	SessionCount     int    `json:"session_count"`
	SessionsOpened   uint64 `json:"sessions_opened"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
}

// Stats returns hub statistics
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	count := len(h.sessions)
	h.mu.RUnlock()

	return Stats{
		SessionCount:     count,
		SessionsOpened:   h.sessionsOpened.Load(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
	}
}

// RegisterAPIRoutes registers API routes for session management
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	sessions := api.Group("/sessions")

	// List connected devices
	sessions.Get("/", func(c *fiber.Ctx) error {
		infos := h.Sessions()
		return c.JSON(fiber.Map{
			"sessions": infos,
			"count":    len(infos),
		})
	})

	// Get hub stats
	sessions.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.Stats())
	})

	sessions.Get("/:id/stands", func(c *fiber.Ctx) error {
		stands, err := h.Stands(c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"stands": stands})
	})

	sessions.Post("/:id/clear", func(c *fiber.Ctx) error {
		if err := h.Clear(c.Params("id")); err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "cleared"})
	})
}
