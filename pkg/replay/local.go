package replay

import (
	"context"
	"sync"

	"github.com/teslashibe/go-arkiosk/pkg/stand"
)

// LocalSink is an in-process tracking source for a controller.
type LocalSink struct {
	controller *stand.Controller

	mu       sync.Mutex
	handlers []stand.BatchHandler
}

// NewLocalSink attaches c to a new sink.
func NewLocalSink(c *stand.Controller) *LocalSink {
	s := &LocalSink{controller: c}
	c.Attach(s)
	return s
}

// Subscribe implements stand.Source.
func (s *LocalSink) Subscribe(h stand.BatchHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Unsubscribe implements stand.Source.
func (s *LocalSink) Unsubscribe(h stand.BatchHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.handlers {
		if existing == h {
			s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
			return
		}
	}
}

// Send delivers b to every subscriber.
func (s *LocalSink) Send(ctx context.Context, b stand.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	handlers := append([]stand.BatchHandler(nil), s.handlers...)
	s.mu.Unlock()

	for _, h := range handlers {
		h.HandleBatch(b)
	}
	return nil
}

// Clear tears down every stand of the controller.
func (s *LocalSink) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.controller.ClearAll()
	return nil
}

// Close detaches the controller.
func (s *LocalSink) Close() {
	s.controller.Detach(s)
}
