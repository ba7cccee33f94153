package device

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/teslashibe/go-arkiosk/pkg/protocol"
	"github.com/teslashibe/go-arkiosk/pkg/stand"
)

// Writer is the part of a websocket connection a session writes to.
type Writer interface {
	WriteMessage(messageType int, data []byte) error
}

type mediaKey struct {
	stand    stand.ImageIdentity
	modality stand.Modality
}

// Session is one connected AR client. It is the tracking source for its own
// stand controller and carries the controller's commands back to the device.
type Session struct {
	ID        string
	Connected time.Time

	controller *stand.Controller
	logger     *slog.Logger
	hub        *Hub

	writeMu sync.Mutex
	w       Writer

	mu       sync.Mutex
	lastSeen time.Time
	handlers []stand.BatchHandler
	media    map[mediaKey]*remoteMedia

	batches atomic.Uint64
}

// Subscribe implements stand.Source.
func (s *Session) Subscribe(h stand.BatchHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Unsubscribe implements stand.Source.
func (s *Session) Unsubscribe(h stand.BatchHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.handlers {
		if existing == h {
			s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
			return
		}
	}
}

// Controller returns the session's stand controller.
func (s *Session) Controller() *stand.Controller {
	return s.controller
}

// LastSeen returns when the device last sent a message.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Send writes a message to the device.
func (s *Session) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.w.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	if s.hub != nil {
		s.hub.messagesSent.Add(1)
	}
	return nil
}

// command builds and sends a message, logging failures. Stand commands
// are fire-and-forget from the controller's point of view.
func (s *Session) command(msg *protocol.Message, err error) {
	if err == nil {
		err = s.Send(msg)
	}
	if err != nil {
		s.logger.Warn("device command failed", "error", err)
	}
}

// handleMessage processes one message from the device.
func (s *Session) handleMessage(data []byte) {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()

	msg, err := protocol.ParseMessage(data)
	if err != nil {
		s.logger.Warn("device message dropped", "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypeTracking:
		var batch protocol.TrackingData
		if err := msg.ParseData(&batch); err != nil {
			s.logger.Warn("tracking batch dropped", "error", err)
			return
		}
		s.batches.Add(1)
		s.dispatch(batch)

	case protocol.TypeMediaReady:
		var ready protocol.MediaReadyData
		if err := msg.ParseData(&ready); err != nil {
			s.logger.Warn("media ready dropped", "error", err)
			return
		}
		m := s.lookupMedia(ready.Stand, ready.Modality)
		if m == nil {
			s.logger.Debug("media ready for released stand", "stand", ready.Stand, "modality", ready.Modality)
			return
		}
		m.ready(ready.Generation)

	case protocol.TypeMediaState:
		var state protocol.MediaStateData
		if err := msg.ParseData(&state); err != nil {
			s.logger.Warn("media state dropped", "error", err)
			return
		}
		if m := s.lookupMedia(state.Stand, state.Modality); m != nil {
			m.setPlaying(state.Playing)
		}

	case protocol.TypePing:
		var ping protocol.PingData
		if err := msg.ParseData(&ping); err != nil {
			s.logger.Warn("ping dropped", "error", err)
			return
		}
		s.command(protocol.NewPongMessage(ping.ID, msg.Timestamp, time.Now().UnixMilli()))

	default:
		s.logger.Debug("unhandled device message", "type", msg.Type)
	}
}

func (s *Session) dispatch(b stand.Batch) {
	s.mu.Lock()
	handlers := append([]stand.BatchHandler(nil), s.handlers...)
	s.mu.Unlock()

	for _, h := range handlers {
		h.HandleBatch(b)
	}
}

func (s *Session) registerMedia(m *remoteMedia) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media[mediaKey{m.stand, m.modality}] = m
}

func (s *Session) releaseMedia(id stand.ImageIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.media, mediaKey{id, stand.ModalityVideo})
	delete(s.media, mediaKey{id, stand.ModalityAudio})
}

func (s *Session) lookupMedia(id stand.ImageIdentity, m stand.Modality) *remoteMedia {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.media[mediaKey{id, m}]
}

// SessionInfo contains info about a connected device
type SessionInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
	Stands    int       `json:"stands"`
	Batches   uint64    `json:"batches"`
}

// Info returns a summary of the session.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:        s.ID,
		Connected: s.Connected,
		LastSeen:  s.LastSeen(),
		Stands:    s.controller.Len(),
		Batches:   s.batches.Load(),
	}
}
