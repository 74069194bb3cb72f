// Package gateway maintains the persistent control socket to one node:
// handshake, heartbeat, latency tracking and lifecycle state. It interprets
// only HELLO and HEARTBEAT_ACK; every operation is forwarded to the owner.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// State of a connection. A Conn is single-use: it moves forward through these
// and never back.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

const (
	// CloseCodeLiveness is sent when the node stops acknowledging heartbeats.
	CloseCodeLiveness = 4000

	// minHeartbeatInterval guards against pathological servers asking for a
	// tighter beat than we are willing to run.
	minHeartbeatInterval = 5 * time.Second

	// heartbeatTimeout is how long an acknowledgment may be overdue before
	// the connection is considered dead.
	heartbeatTimeout = 60 * time.Second
)

var ErrAlreadyOpened = errors.New("gateway connection already opened")

// Receiver is the owner-side of a Conn. Calls arrive from the read loop and
// the heartbeat goroutine; implementations guard their own state.
type Receiver interface {
	// HandleConnected fires once the socket is open, before any operation.
	HandleConnected()
	// HandleOperation delivers every decoded frame, HELLO and HEARTBEAT_ACK
	// included.
	HandleOperation(op string, data json.RawMessage)
	// HandleClosed fires exactly once when the connection dies, whatever the
	// cause. No reconnection is attempted here; that is the owner's call.
	HandleClosed(code int, err error)
}

// Conn is one control socket. Created for a single Connect; once closed it is
// discarded, never redialed.
type Conn struct {
	id       string
	url      string
	password string
	receiver Receiver
	clk      clock.Clock

	mu       sync.Mutex
	ws       *websocket.Conn
	state    State
	hbStop   chan struct{}
	lastAck  time.Time
	lastSend time.Time
	latency  time.Duration
}

func New(url, password string, receiver Receiver) *Conn {
	return &Conn{
		id:       uuid.NewString(),
		url:      url,
		password: password,
		receiver: receiver,
		clk:      clock.New(),
	}
}

// Connect dials the node with the credential in the Authorization header and
// starts the read loop. It returns after HandleConnected has run.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return ErrAlreadyOpened
	}
	c.state = Connecting
	c.mu.Unlock()

	header := http.Header{"Authorization": []string{c.password}}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	now := c.clk.Now()
	c.mu.Lock()
	c.ws = ws
	c.state = Connected
	c.lastAck, c.lastSend = now, now
	c.mu.Unlock()

	log.Info().Str("module", "gateway").Str("conn", c.id).Str("url", c.url).Msg("connected")

	go c.readLoop(ws)
	c.receiver.HandleConnected()
	return nil
}

// State reports the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Latency is the most recent heartbeat round trip. Diagnostics only; nothing
// gates on it.
func (c *Conn) Latency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}

// Send writes one frame. If the socket is not open this is a deliberate
// no-op: callers racing a mid-flight disconnect must not blow up.
func (c *Conn) Send(p Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected || c.ws == nil {
		return nil
	}
	if err := c.ws.WriteJSON(p); err != nil {
		log.Error().Err(err).Str("module", "gateway").Str("conn", c.id).Str("op", p.Op).Msg("write failed")
		return err
	}
	return nil
}

// Close stops the heartbeat, sends a close frame with the given code and
// tears the connection down. Idempotent.
func (c *Conn) Close(code int) {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		msg := websocket.FormatCloseMessage(code, "")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	c.teardown(code, nil)
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			}
			c.teardown(code, err)
			return
		}

		var p Payload
		if err := json.Unmarshal(data, &p); err != nil {
			log.Error().Err(err).Str("module", "gateway").Str("conn", c.id).Msg("undecodable frame")
			continue
		}
		c.dispatch(p)
	}
}

func (c *Conn) dispatch(p Payload) {
	switch p.Op {
	case OpHello:
		var d struct {
			HeartbeatInterval float64 `json:"heartbeat_interval"`
		}
		if err := json.Unmarshal(p.D, &d); err != nil {
			log.Error().Err(err).Str("module", "gateway").Str("conn", c.id).Msg("bad HELLO")
			break
		}
		c.startHeartbeat(time.Duration(d.HeartbeatInterval * float64(time.Second)))
	case OpHeartbeatACK:
		c.mu.Lock()
		c.lastAck = c.clk.Now()
		c.latency = c.lastAck.Sub(c.lastSend)
		c.mu.Unlock()
	}
	c.receiver.HandleOperation(p.Op, p.D)
}

func (c *Conn) startHeartbeat(interval time.Duration) {
	if interval < minHeartbeatInterval {
		interval = minHeartbeatInterval
	}

	c.mu.Lock()
	if c.hbStop != nil {
		close(c.hbStop)
	}
	stop := make(chan struct{})
	c.hbStop = stop
	c.mu.Unlock()

	log.Debug().Str("module", "gateway").Str("conn", c.id).Dur("interval", interval).Msg("heartbeat scheduled")

	ticker := c.clk.Ticker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.beat()
			}
		}
	}()
}

func (c *Conn) beat() {
	c.mu.Lock()
	overdue := c.clk.Now().Sub(c.lastAck) > heartbeatTimeout
	c.mu.Unlock()

	if overdue {
		log.Warn().Str("module", "gateway").Str("conn", c.id).Msg("heartbeat ack overdue, closing")
		c.Close(CloseCodeLiveness)
		return
	}

	ts, _ := json.Marshal(c.clk.Now().UnixMilli())
	_ = c.Send(Payload{Op: OpHeartbeat, D: ts})

	c.mu.Lock()
	c.lastSend = c.clk.Now()
	c.mu.Unlock()
}

// teardown converges the close paths: first caller wins, later ones return.
func (c *Conn) teardown(code int, err error) {
	c.mu.Lock()
	if c.state == Disconnected {
		c.mu.Unlock()
		return
	}
	c.state = Disconnected
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		_ = ws.Close()
	}

	evt := log.Info()
	if err != nil {
		evt = log.Warn().Err(err)
	}
	evt.Str("module", "gateway").Str("conn", c.id).Int("code", code).Msg("disconnected")

	c.receiver.HandleClosed(code, err)
}
