package web

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-arkiosk/pkg/device"
)

// Status is the body of GET /api/status.
type Status struct {
	Uptime            string       `json:"uptime"`
	ConfiguredStands  int          `json:"configured_stands"`
	Devices           device.Stats `json:"devices"`
	Dashboards        int          `json:"dashboards"`
	EventsDropped     uint64       `json:"events_dropped"`
	DashboardsEvicted uint64       `json:"dashboards_evicted"`
	Analytics         bool         `json:"analytics"`
}

// StandConfig describes one configured stand.
type StandConfig struct {
	Image    string `json:"image"`
	Template string `json:"template"`
	Video    string `json:"video,omitempty"`
	Audio    string `json:"audio,omitempty"`
	Loop     bool   `json:"loop"`
	Scaled   bool   `json:"scaled"`
}

// handleStatus returns the kiosk's current state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(Status{
		Uptime:            time.Since(s.started).Round(time.Second).String(),
		ConfiguredStands:  len(s.devices.Config()),
		Devices:           s.devices.Stats(),
		Dashboards:        s.events.ClientCount(),
		EventsDropped:     s.events.Dropped(),
		DashboardsEvicted: s.events.Evicted(),
		Analytics:         s.analytics != nil,
	})
}

// handleStandConfig lists the active image → template bindings
func (s *Server) handleStandConfig(c *fiber.Ctx) error {
	cfg := s.devices.Config()
	out := make([]StandConfig, 0, len(cfg))
	for _, id := range cfg.Identities() {
		tmpl := cfg[id]
		sc := StandConfig{
			Image:    string(id),
			Template: tmpl.Name,
			Loop:     tmpl.Loop,
			Scaled:   tmpl.Scale != nil,
		}
		if tmpl.Video != nil {
			sc.Video = tmpl.Video.URI
		}
		if tmpl.Audio != nil {
			sc.Audio = tmpl.Audio.URI
		}
		out = append(out, sc)
	}
	return c.JSON(fiber.Map{"stands": out})
}

// handleRecentEvents returns the in-memory event backlog, optionally for
// one session.
func (s *Server) handleRecentEvents(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"events": s.RecentEvents(c.Query("session"))})
}

func (s *Server) handleAnalyticsSummary(c *fiber.Ctx) error {
	if s.analytics == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "analytics disabled"})
	}
	summary, err := s.analytics.Summary(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"stands": summary})
}

func (s *Server) handleAnalyticsRecent(c *fiber.Ctx) error {
	if s.analytics == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "analytics disabled"})
	}
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 1000 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "limit must be between 1 and 1000"})
	}
	events, err := s.analytics.Recent(c.UserContext(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"events": events})
}

// handleEventsWS streams stand events to a dashboard, starting with the
// backlog. ?session=<id> follows a single device.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	s.subscribe(c, c.Query("session")).Run()
}
