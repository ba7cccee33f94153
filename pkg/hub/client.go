package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	maxMessageSize = 4 * 1024            // dashboards only send pongs
	sendBuffer     = 64
)

// Client is one dashboard websocket connection.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	topic string
	after uint64 // Seq of the last backlog message
	send  chan Message

	// stopped is closed when writePump returns.
	stopped chan struct{}
}

// NewClient registers a dashboard with the hub. A non-empty topic limits
// it to messages for that topic. backlog is queued ahead of live messages,
// and live messages with a Seq it already covers are skipped.
func NewClient(hub *Hub, conn *websocket.Conn, topic string, backlog ...Message) *Client {
	c := &Client{
		hub:     hub,
		conn:    conn,
		topic:   topic,
		send:    make(chan Message, sendBuffer+len(backlog)),
		stopped: make(chan struct{}),
	}
	for _, msg := range backlog {
		c.send <- msg
		if msg.Seq > c.after {
			c.after = msg.Seq
		}
	}

	select {
	case hub.register <- c:
	case <-hub.done:
		close(c.send)
	}
	return c
}

// Topic returns the topic the client follows, empty for all.
func (c *Client) Topic() string {
	return c.topic
}

func (c *Client) wants(msg Message) bool {
	if c.topic != "" && c.topic != msg.Topic {
		return false
	}
	return msg.Seq == 0 || msg.Seq > c.after
}

// Run pumps messages until the connection closes. It returns only after
// both pumps have stopped using the connection, so the caller may hand the
// connection back to its pool.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
	<-c.stopped
}

// readPump only detects disconnection and extends the deadline on pongs.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the connection's only writer.
func (c *Client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
		close(c.stopped)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
				return
			}

		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
