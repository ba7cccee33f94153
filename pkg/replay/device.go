package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-arkiosk/internal/httpc"
	"github.com/teslashibe/go-arkiosk/pkg/protocol"
	"github.com/teslashibe/go-arkiosk/pkg/stand"
)

// DeviceOptions configures a simulated AR client.
type DeviceOptions struct {
	// ID is the device id; the kiosk generates one when empty.
	ID string

	// ReadyDelay is how long the simulated player takes to prepare.
	ReadyDelay time.Duration

	Logger *slog.Logger
}

// DeviceStand is what the simulated client currently renders for a stand.
type DeviceStand struct {
	Identity stand.ImageIdentity `json:"stand"`
	Template string              `json:"template"`
	Visible  bool                `json:"visible"`
	Pose     stand.Pose          `json:"pose"`
	Scale    *stand.Vec3         `json:"scale,omitempty"`
	Playing  []stand.Modality    `json:"playing,omitempty"`
}

type deviceStand struct {
	DeviceStand
	playing map[stand.Modality]bool
}

// DeviceClient acts as an AR client against a running kiosk: it pushes
// tracking batches, answers prepare commands and mirrors stand commands.
type DeviceClient struct {
	conn    *websocket.Conn
	baseURL string
	id      string
	opts    DeviceOptions
	logger  *slog.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	stands map[stand.ImageIdentity]*deviceStand
	err    error

	done chan struct{}
}

// Dial connects to the kiosk at baseURL (http or https).
func Dial(ctx context.Context, baseURL string, opts DeviceOptions) (*DeviceClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse kiosk url: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path += "/ws/device"
	if opts.ID != "" {
		u.Path += "/" + url.PathEscape(opts.ID)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial kiosk: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &DeviceClient{
		conn:    conn,
		baseURL: strings.TrimRight(baseURL, "/"),
		id:      opts.ID,
		opts:    opts,
		logger:  logger.With("component", "device-sim"),
		stands:  make(map[stand.ImageIdentity]*deviceStand),
		done:    make(chan struct{}),
	}
	go d.readLoop()
	return d, nil
}

// Send pushes a tracking batch.
func (d *DeviceClient) Send(ctx context.Context, b stand.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := protocol.NewTrackingMessage(b)
	if err != nil {
		return err
	}
	return d.write(msg)
}

// Clear asks the kiosk to destroy this device's stands. It needs a device
// id, since that is how the API addresses the session.
func (d *DeviceClient) Clear(ctx context.Context) error {
	if d.id == "" {
		return errors.New("clear needs a device id")
	}
	return httpc.PostJSON(ctx, d.baseURL+"/api/sessions/"+url.PathEscape(d.id)+"/clear", nil, nil)
}

// Ping sends a ping.
func (d *DeviceClient) Ping() error {
	msg, err := protocol.NewPingMessage(d.id, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	return d.write(msg)
}

// Stands returns the stands the kiosk asked this device to render.
func (d *DeviceClient) Stands() []DeviceStand {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]DeviceStand, 0, len(d.stands))
	for _, s := range d.stands {
		ds := s.DeviceStand
		ds.Playing = nil
		for _, m := range []stand.Modality{stand.ModalityVideo, stand.ModalityAudio} {
			if s.playing[m] {
				ds.Playing = append(ds.Playing, m)
			}
		}
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// StopMedia simulates the platform stopping a player on its own and reports
// it to the kiosk.
func (d *DeviceClient) StopMedia(id stand.ImageIdentity, m stand.Modality) error {
	d.mu.Lock()
	if s, ok := d.stands[id]; ok {
		s.playing[m] = false
	}
	d.mu.Unlock()

	msg, err := protocol.NewMediaStateMessage(id, m, false)
	if err != nil {
		return err
	}
	return d.write(msg)
}

// Done is closed when the connection ends.
func (d *DeviceClient) Done() <-chan struct{} {
	return d.done
}

// Err returns the error that ended the connection, if any.
func (d *DeviceClient) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Close closes the connection and waits for the read loop to end.
func (d *DeviceClient) Close() error {
	d.writeMu.Lock()
	_ = d.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	d.writeMu.Unlock()

	err := d.conn.Close()
	<-d.done
	return err
}

func (d *DeviceClient) write(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.conn.WriteMessage(websocket.TextMessage, data)
}

func (d *DeviceClient) readLoop() {
	defer close(d.done)
	for {
		_, data, err := d.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				d.mu.Lock()
				d.err = err
				d.mu.Unlock()
			}
			return
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			d.logger.Warn("kiosk message dropped", "error", err)
			continue
		}
		d.handle(msg)
	}
}

func (d *DeviceClient) handle(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeSpawn:
		var spawn protocol.SpawnData
		if err := msg.ParseData(&spawn); err != nil {
			return
		}
		d.mu.Lock()
		d.stands[spawn.Stand] = &deviceStand{
			DeviceStand: DeviceStand{Identity: spawn.Stand, Template: spawn.Template},
			playing:     make(map[stand.Modality]bool),
		}
		d.mu.Unlock()
		d.logger.Debug("spawned", "stand", spawn.Stand, "template", spawn.Template)

	case protocol.TypeStand:
		var upd protocol.StandData
		if err := msg.ParseData(&upd); err != nil {
			return
		}
		d.mu.Lock()
		if s, ok := d.stands[upd.Stand]; ok {
			if upd.Visible != nil {
				s.Visible = *upd.Visible
			}
			if upd.Pose != nil {
				s.Pose = *upd.Pose
			}
			if upd.Scale != nil {
				scale := *upd.Scale
				s.Scale = &scale
			}
		}
		d.mu.Unlock()

	case protocol.TypeMedia:
		var cmd protocol.MediaData
		if err := msg.ParseData(&cmd); err != nil {
			return
		}
		d.handleMedia(cmd)

	case protocol.TypeDestroy:
		var del protocol.DestroyData
		if err := msg.ParseData(&del); err != nil {
			return
		}
		d.mu.Lock()
		delete(d.stands, del.Stand)
		d.mu.Unlock()

	case protocol.TypePong:
		var pong protocol.PongData
		if err := msg.ParseData(&pong); err == nil {
			d.logger.Debug("pong", "latency_ms", pong.LatencyMs)
		}
	}
}

func (d *DeviceClient) handleMedia(cmd protocol.MediaData) {
	switch cmd.Action {
	case protocol.ActionPrepare:
		ticket := stand.Ticket{Identity: cmd.Stand, Generation: cmd.Generation, Modality: cmd.Modality}
		time.AfterFunc(d.opts.ReadyDelay, func() {
			msg, err := protocol.NewMediaReadyMessage(ticket)
			if err == nil {
				err = d.write(msg)
			}
			if err != nil {
				d.logger.Debug("media ready not sent", "stand", ticket.Identity, "error", err)
			}
		})

	case protocol.ActionPlay, protocol.ActionPause:
		d.mu.Lock()
		if s, ok := d.stands[cmd.Stand]; ok {
			s.playing[cmd.Modality] = cmd.Action == protocol.ActionPlay
		}
		d.mu.Unlock()
	}
}
