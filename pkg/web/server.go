// Package web provides the kiosk's HTTP surface: the status and control API,
// the dashboard event stream and the device websocket endpoint.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-arkiosk/pkg/analytics"
	"github.com/teslashibe/go-arkiosk/pkg/device"
	"github.com/teslashibe/go-arkiosk/pkg/hub"
	"github.com/teslashibe/go-arkiosk/pkg/stand"
)

// maxRecentEvents bounds the in-memory event backlog sent to new dashboards.
const maxRecentEvents = 200

// Analytics is the read side of the event store.
type Analytics interface {
	Summary(ctx context.Context) ([]analytics.StandSummary, error)
	Recent(ctx context.Context, limit int) ([]analytics.Entry, error)
}

// EventMessage is a stand event as sent to dashboards.
type EventMessage struct {
	Session string              `json:"session"`
	Kind    stand.EventKind     `json:"kind"`
	Stand   stand.ImageIdentity `json:"stand"`
	At      time.Time           `json:"at"`
}

// Config configures the server.
type Config struct {
	Addr      string
	StaticDir string
	Logger    *slog.Logger
}

// Server is the kiosk HTTP server
type Server struct {
	app       *fiber.App
	addr      string
	logger    *slog.Logger
	started   time.Time
	devices   *device.Hub
	analytics Analytics

	// Hub for dashboard websocket broadcast
	events *hub.Hub

	// Event backlog. seq numbers every published event.
	recentMu sync.RWMutex
	recent   []published
	seq      uint64
}

// published is one backlog entry with its encoded form.
type published struct {
	msg   EventMessage
	frame hub.Message
}

// NewServer creates the server. analytics may be nil when the event store
// is disabled.
func NewServer(cfg Config, devices *device.Hub, store Analytics) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		addr:      cfg.Addr,
		logger:    logger.With("component", "web"),
		started:   time.Now(),
		devices:   devices,
		analytics: store,
		events:    hub.New("events", logger),
		recent:    make([]published, 0, maxRecentEvents),
	}

	app := fiber.New(fiber.Config{
		AppName:               "AR Kiosk",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/stands/config", s.handleStandConfig)
	api.Get("/events", s.handleRecentEvents)
	api.Get("/analytics/summary", s.handleAnalyticsSummary)
	api.Get("/analytics/recent", s.handleAnalyticsRecent)
	devices.RegisterAPIRoutes(api)

	// Dashboard event stream
	app.Use("/ws/events", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	// AR clients
	devices.RegisterRoutes(app)

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// PublishEvent records a stand event and broadcasts it to dashboards.
func (s *Server) PublishEvent(session string, e stand.Event) {
	msg := EventMessage{Session: session, Kind: e.Kind, Stand: e.Identity, At: e.At}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("event encoding failed", "error", err)
		return
	}

	// Held across the broadcast so subscribe sees each event either in the
	// backlog or as a later live message.
	s.recentMu.Lock()
	defer s.recentMu.Unlock()

	s.seq++
	frame := hub.Message{Topic: session, Seq: s.seq, Data: data}
	s.recent = append(s.recent, published{msg: msg, frame: frame})
	if len(s.recent) > maxRecentEvents {
		s.recent = s.recent[1:]
	}
	s.events.Broadcast(frame)
}

// RecentEvents returns the event backlog, oldest first. A non-empty session
// keeps only that device's events.
func (s *Server) RecentEvents(session string) []EventMessage {
	s.recentMu.RLock()
	defer s.recentMu.RUnlock()

	out := make([]EventMessage, 0, len(s.recent))
	for _, p := range s.recent {
		if session == "" || p.msg.Session == session {
			out = append(out, p.msg)
		}
	}
	return out
}

// subscribe registers a dashboard with its backlog. No event can be
// published between taking the backlog and registering.
func (s *Server) subscribe(conn *websocket.Conn, session string) *hub.Client {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()

	backlog := make([]hub.Message, 0, len(s.recent))
	for _, p := range s.recent {
		if session == "" || p.msg.Session == session {
			backlog = append(backlog, p.frame)
		}
	}
	return hub.NewClient(s.events, conn, session, backlog...)
}

// Start runs the event hub and serves until the listener fails or ctx ends.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.events.Run(ctx)
	go func() {
		<-ctx.Done()
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			s.logger.Warn("shutdown", "error", err)
		}
	}()

	s.logger.Info("kiosk listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
