package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/discodo/domain"
	"github.com/dkeye/discodo/gateway"
)

// DefaultPassword is the credential discodo nodes ship with.
const DefaultPassword = "hellodiscodo"

// NodeOptions describe one remote node to register.
type NodeOptions struct {
	Host     string
	Port     int
	Password string
	Region   string
}

// Node owns the control socket to one remote node and the set of voice
// clients for guilds currently assigned to it. Inbound frames are routed by
// guild; outbound platform events are bridged through DiscordDispatch.
type Node struct {
	client *Client

	host     string
	port     int
	password string
	region   string

	registry *voiceRegistry
	emitter  *emitter
	clk      clock.Clock

	mu   sync.RWMutex
	conn *gateway.Conn
}

// discordForward is the allow-list of platform event types worth replaying to
// a node; everything else is dropped to keep the control channel quiet.
var discordForward = map[string]bool{
	"READY":               true,
	"RESUME":              true,
	"VOICE_STATE_UPDATE":  true,
	"VOICE_SERVER_UPDATE": true,
}

func newNode(c *Client, opts NodeOptions) *Node {
	password := opts.Password
	if password == "" {
		password = DefaultPassword
	}
	return &Node{
		client:   c,
		host:     opts.Host,
		port:     opts.Port,
		password: password,
		region:   opts.Region,
		registry: newVoiceRegistry(),
		emitter:  newEmitter(),
		clk:      c.clk,
	}
}

// URL is the node's REST base.
func (n *Node) URL() string {
	return fmt.Sprintf("http://%s:%d", n.host, n.port)
}

// WSURL is the node's control channel endpoint.
func (n *Node) WSURL() string {
	return fmt.Sprintf("ws://%s:%d/ws", n.host, n.port)
}

func (n *Node) Region() string { return n.region }

// Connected is true iff the control socket exists and is open. Every routing
// and sending path checks this and fails fast rather than hanging.
func (n *Node) Connected() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.conn != nil && n.conn.State() == gateway.Connected
}

// Latency of the control socket heartbeat, for diagnostics.
func (n *Node) Latency() (time.Duration, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.conn == nil {
		return 0, false
	}
	return n.conn.Latency(), true
}

// Connect opens a fresh control socket. Any voice clients tracked before
// belong to a superseded channel and are discarded once the new socket is up.
func (n *Node) Connect(ctx context.Context) error {
	if n.Connected() {
		return ErrNodeAlreadyConnected
	}

	conn := gateway.New(n.WSURL(), n.password, n)
	n.mu.Lock()
	n.conn = conn
	n.mu.Unlock()

	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("connect node %s: %w", n.host, err)
	}
	return nil
}

// Destroy closes the connection, stops every voice client and removes the
// node from the router's pool.
func (n *Node) Destroy() {
	n.mu.Lock()
	conn := n.conn
	n.conn = nil
	n.mu.Unlock()

	if conn != nil {
		conn.Close(websocketCloseNormal)
	}
	for _, vc := range n.registry.Drain() {
		vc.stopTimers()
	}
	n.client.removeNode(n)
	log.Info().Str("module", "client.node").Str("host", n.host).Msg("node destroyed")
}

const websocketCloseNormal = 1000

// Send marshals one guild- or node-scoped command onto the control socket.
func (n *Node) Send(op string, d any) error {
	n.mu.RLock()
	conn := n.conn
	n.mu.RUnlock()
	if conn == nil || conn.State() != gateway.Connected {
		return ErrNodeNotConnected
	}

	var raw json.RawMessage
	if d != nil {
		var err error
		raw, err = json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encode %s: %w", op, err)
		}
	}
	return conn.Send(gateway.Payload{Op: op, D: raw})
}

// DiscordDispatch replays one raw platform frame to the node, if its type is
// on the allow-list.
func (n *Node) DiscordDispatch(payload DiscordPayload) error {
	if !discordForward[payload.Type] {
		return nil
	}
	return n.Send(gateway.OpDiscordEvent, payload)
}

// Status asks the node for its runtime stats.
func (n *Node) Status(ctx context.Context) (any, error) {
	ch, cancel := n.emitter.waitFor(gateway.OpStatus, nil)
	defer cancel()

	if err := n.Send(gateway.OpGetStatus, nil); err != nil {
		return nil, err
	}

	timer := n.clk.Timer(defaultQueryTimeout)
	defer timer.Stop()
	select {
	case data := <-ch:
		return data, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", ErrQueryTimeout, gateway.OpGetStatus)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetVC returns the voice client for a guild on this node.
func (n *Node) GetVC(guildID string) (*VoiceClient, bool) {
	return n.registry.Get(guildID)
}

// VoiceClients is a snapshot of the sessions this node currently owns.
func (n *Node) VoiceClients() map[string]*VoiceClient {
	return n.registry.Snapshot()
}

// HandleConnected implements gateway.Receiver. Sessions tracked before this
// point belong to the previous control channel and are dropped; then the node
// learns who we are.
func (n *Node) HandleConnected() {
	for _, vc := range n.registry.Drain() {
		vc.stopTimers()
	}
	err := n.Send(gateway.OpIdentify, map[string]any{
		"user_id":  n.client.platform.UserID(),
		"shard_id": n.client.platform.ShardID(),
	})
	if err != nil {
		log.Error().Err(err).Str("module", "client.node").Str("host", n.host).Msg("identify failed")
	}
}

// HandleOperation implements gateway.Receiver: reconstruct domain objects,
// deliver to the owning voice client, handle node-scope ops, then re-emit.
func (n *Node) HandleOperation(op string, raw json.RawMessage) {
	data, err := domain.DecodeValue(raw)
	if err != nil {
		log.Error().Err(err).Str("module", "client.node").Str("host", n.host).Str("op", op).Msg("undecodable payload")
		return
	}

	if gid := guildIDOf(data); gid != "" {
		if vc, ok := n.registry.Get(gid); ok {
			vc.handleEvent(op, data)
		}
	}

	switch op {
	case gateway.OpResumed:
		n.handleResumed(data)
	case gateway.OpVCCreated:
		n.handleVCCreated(data)
	case gateway.OpVCDestroyed:
		if vc, ok := n.registry.Get(guildIDOf(data)); ok {
			vc.stop()
		}
	}

	n.emitter.emit(op, data)
	n.client.handleNodeEvent(n, op, data)
}

// HandleClosed implements gateway.Receiver. The sessions die with the
// channel; whether to redial is the caller's policy, not ours.
func (n *Node) HandleClosed(code int, err error) {
	for _, vc := range n.registry.Drain() {
		vc.stopTimers()
	}
	n.client.handleNodeClosed(n, code, err)
}

func (n *Node) handleVCCreated(data any) {
	m := mapOf(data)
	gid := guildIDOf(data)
	if gid == "" {
		return
	}
	vc := newVoiceClient(n, idString(m["id"]), gid)
	if prev := n.registry.Put(gid, vc); prev != nil {
		prev.stopTimers()
	}
}

// handleResumed is the authoritative reconciliation after the node accepts a
// session resume: the reported set fully replaces the tracked set, and each
// guild's channel membership is replayed through the platform. A guild that
// fails to reconcile is torn down on its own; the rest proceed.
func (n *Node) handleResumed(data any) {
	reported := map[string]map[string]any{}
	if vcs, ok := mapOf(data)["voice_clients"].(map[string]any); ok {
		for gid, v := range vcs {
			if vm, ok := v.(map[string]any); ok {
				reported[gid] = vm
			}
		}
	}

	next := make(map[string]*VoiceClient, len(reported))
	for gid, vm := range reported {
		next[gid] = newVoiceClient(n, idString(vm["id"]), gid)
	}
	for _, vc := range n.registry.ReplaceAll(next) {
		vc.stopTimers()
	}

	for gid, vm := range reported {
		if !n.client.platform.ResolveGuild(gid) {
			log.Warn().Str("module", "client.node").Str("host", n.host).Str("guild", gid).
				Msg("resumed guild unresolvable, closing session")
			vc := next[gid]
			_ = vc.Send(gateway.OpVCDestroy, nil)
			vc.stop()
			continue
		}
		channelID := idString(vm["channel"])
		if err := n.client.platform.UpdateVoiceState(gid, channelID); err != nil {
			log.Error().Err(err).Str("module", "client.node").Str("guild", gid).Msg("voice state replay failed")
		}
	}
	log.Info().Str("module", "client.node").Str("host", n.host).Int("sessions", len(reported)).Msg("resumed")
}
