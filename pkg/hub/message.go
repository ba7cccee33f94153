// Package hub provides a websocket broadcast hub using channel fan-out.
// The kiosk uses it to stream stand events to dashboards.
package hub

// Message is one frame for the clients following Topic. An empty topic
// reaches only clients that follow everything. Seq, when set, increases with
// every message and lets a client skip what its backlog already covered.
type Message struct {
	Topic string
	Seq   uint64
	Data  []byte
}

// NewJSONMessage wraps pre-encoded JSON.
func NewJSONMessage(topic string, data []byte) Message {
	return Message{Topic: topic, Data: data}
}
