// Package client implements the routing layer between a chat platform and a
// pool of discodo audio nodes: node registration, best-node selection,
// guild-to-node reservation during connect races, and guild event fan-out.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/discodo/gateway"
)

// registerTimeout bounds how long a node registration may spend connecting.
const registerTimeout = 15 * time.Second

// EventHandler receives one guild-scoped event for a live voice client.
type EventHandler func(vc *VoiceClient, data any)

// AnyEventHandler receives every guild-scoped event with its operation name.
type AnyEventHandler func(vc *VoiceClient, op string, data any)

// Client is the top-level router. It owns the node pool and guarantees that
// guild-scoped traffic always reaches the one node that owns (or is about to
// own) that guild, including during migration and reconnects.
type Client struct {
	platform Platform
	picker   NodePicker
	clk      clock.Clock

	mu           sync.RWMutex
	nodes        []*Node
	reservations map[string]*Node

	hmu         sync.RWMutex
	handlers    map[string][]EventHandler
	anyHandlers []AnyEventHandler
}

func New(platform Platform) *Client {
	return &Client{
		platform:     platform,
		picker:       LeastLoaded{},
		clk:          clock.New(),
		reservations: make(map[string]*Node),
		handlers:     make(map[string][]EventHandler),
	}
}

// On subscribes to one guild-scoped event by operation name.
func (c *Client) On(op string, h EventHandler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers[op] = append(c.handlers[op], h)
}

// OnAny subscribes to every guild-scoped event.
func (c *Client) OnAny(h AnyEventHandler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.anyHandlers = append(c.anyHandlers, h)
}

// RegisterNode connects a new node under a bounded timeout and adds it to the
// pool. A node that cannot connect in time is not registered.
func (c *Client) RegisterNode(ctx context.Context, opts NodeOptions) (*Node, error) {
	node := newNode(c, opts)

	cctx, cancel := context.WithTimeout(ctx, registerTimeout)
	defer cancel()
	if err := node.Connect(cctx); err != nil {
		return nil, fmt.Errorf("register node %s:%d: %w", opts.Host, opts.Port, err)
	}

	c.mu.Lock()
	c.nodes = append(c.nodes, node)
	c.mu.Unlock()

	log.Info().Str("module", "client").Str("host", opts.Host).Int("port", opts.Port).Msg("node registered")
	return node, nil
}

// Nodes is a snapshot of the pool.
func (c *Client) Nodes() []*Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Node(nil), c.nodes...)
}

func (c *Client) connectedNodes() []*Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		if n.Connected() {
			out = append(out, n)
		}
	}
	return out
}

// BestNode returns the connected node with the fewest voice sessions.
func (c *Client) BestNode() (*Node, error) {
	connected := c.connectedNodes()
	if len(connected) == 0 {
		return nil, ErrNoNodesAvailable
	}
	return c.picker.Pick(connected), nil
}

func (c *Client) removeNode(node *Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, n := range c.nodes {
		if n == node {
			c.nodes = append(c.nodes[:i], c.nodes[i+1:]...)
			return
		}
	}
}

// GetVC finds the voice client for a guild anywhere in the pool. At most one
// exists per guild at any instant.
func (c *Client) GetVC(guildID string) (*VoiceClient, bool) {
	for _, n := range c.connectedNodes() {
		if vc, ok := n.registry.Get(guildID); ok {
			return vc, true
		}
	}
	return nil, false
}

// VoiceClients merges the per-node registries into one guild-keyed view.
func (c *Client) VoiceClients() map[string]*VoiceClient {
	out := make(map[string]*VoiceClient)
	for _, n := range c.connectedNodes() {
		for gid, vc := range n.registry.Snapshot() {
			out[gid] = vc
		}
	}
	return out
}

// DiscordSocketResponse bridges the platform's raw event stream. Voice
// credential events must reach exactly the node that is (or will be)
// authoritative for the guild: the reservation first, then the owning
// session's node, then the best node. Everything else is broadcast; nodes
// filter further with their own allow-list.
func (c *Client) DiscordSocketResponse(payload DiscordPayload) {
	var targets []*Node

	switch payload.Type {
	case "VOICE_STATE_UPDATE", "VOICE_SERVER_UPDATE":
		gid := probeGuildID(payload.Data)
		node := c.reservedNode(gid)
		if node == nil {
			if vc, ok := c.GetVC(gid); ok {
				node = vc.node
			}
		}
		if node == nil {
			node, _ = c.BestNode()
		}
		targets = []*Node{node}
	default:
		targets = c.connectedNodes()
	}

	for _, n := range targets {
		if n == nil || !n.Connected() {
			continue
		}
		if err := n.DiscordDispatch(payload); err != nil {
			log.Error().Err(err).Str("module", "client").Str("type", payload.Type).Msg("discord dispatch failed")
		}
	}
}

func (c *Client) reservedNode(guildID string) *Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reservations[guildID]
}

func (c *Client) reserve(guildID string, node *Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reservations[guildID] = node
}

// clearReservation drops the reservation only while it still refers to this
// operation's node, so it cannot mask a concurrent newer request.
func (c *Client) clearReservation(guildID string, node *Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reservations[guildID] == node {
		delete(c.reservations, guildID)
	}
}

// Connect establishes (or relocates) a guild's voice session on a node and
// returns its voice client. The two phases: reserve the guild for the target
// node so in-flight credential events route correctly, then ask the platform
// to join the channel and wait for the node to report VC_CREATED.
func (c *Client) Connect(ctx context.Context, guildID, channelID string, node *Node) (*VoiceClient, error) {
	if node == nil {
		var err error
		node, err = c.BestNode()
		if err != nil {
			return nil, err
		}
	} else if !node.Connected() {
		return nil, ErrNodeNotConnected
	}

	c.reserve(guildID, node)

	existing, _ := c.GetVC(guildID)
	if existing != nil && existing.node != node {
		// No guild may have two live sessions; tear the old one down first.
		if err := existing.Destroy(ctx); err != nil {
			c.clearReservation(guildID, node)
			return nil, fmt.Errorf("destroy session on old node: %w", err)
		}
		existing = nil
	}

	if existing != nil {
		// Already correctly placed; just re-issue the join.
		err := c.platform.UpdateVoiceState(guildID, channelID)
		c.clearReservation(guildID, node)
		if err != nil {
			return nil, err
		}
		return existing, nil
	}

	ch, cancel := node.emitter.waitFor(gateway.OpVCCreated, func(data any) bool {
		return guildIDOf(data) == guildID
	})
	defer cancel()

	if err := c.platform.UpdateVoiceState(guildID, channelID); err != nil {
		c.clearReservation(guildID, node)
		return nil, err
	}

	timer := c.clk.Timer(defaultQueryTimeout)
	defer timer.Stop()
	select {
	case <-ch:
		c.clearReservation(guildID, node)
		vc, ok := node.registry.Get(guildID)
		if !ok {
			return nil, ErrVoiceClientNotFound
		}
		return vc, nil
	case <-timer.C:
		c.clearReservation(guildID, node)
		// The join may still land later; leave so the guild is not stuck.
		_ = c.platform.UpdateVoiceState(guildID, "")
		return nil, fmt.Errorf("%w: awaiting session for guild %s", ErrQueryTimeout, guildID)
	case <-ctx.Done():
		c.clearReservation(guildID, node)
		return nil, ctx.Err()
	}
}

// Disconnect leaves the guild's voice channel without touching the session.
func (c *Client) Disconnect(guildID string) error {
	return c.platform.UpdateVoiceState(guildID, "")
}

// Destroy leaves the channel and destroys the voice session. Both must
// complete; either error propagates.
func (c *Client) Destroy(ctx context.Context, guildID string) error {
	vc, ok := c.GetVC(guildID)
	if !ok {
		return ErrVoiceClientNotFound
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.platform.UpdateVoiceState(guildID, "")
	})
	g.Go(func() error {
		return vc.Destroy(gctx)
	})
	return g.Wait()
}

// handleNodeEvent is the node-to-application fan-out. Guild-scoped events are
// re-emitted with their voice client; a VC_DESTROYED also releases the
// platform-side channel.
func (c *Client) handleNodeEvent(node *Node, op string, data any) {
	gid := guildIDOf(data)
	if gid == "" {
		return
	}

	if op == gateway.OpVCDestroyed {
		if err := c.platform.UpdateVoiceState(gid, ""); err != nil {
			log.Debug().Err(err).Str("module", "client").Str("guild", gid).Msg("leave after teardown failed")
		}
	}

	vc, ok := c.GetVC(gid)
	if !ok {
		return
	}

	c.hmu.RLock()
	handlers := append([]EventHandler(nil), c.handlers[op]...)
	anyHandlers := append([]AnyEventHandler(nil), c.anyHandlers...)
	c.hmu.RUnlock()

	for _, h := range anyHandlers {
		h(vc, op, data)
	}
	for _, h := range handlers {
		h(vc, data)
	}
}

func (c *Client) handleNodeClosed(node *Node, code int, err error) {
	evt := log.Warn()
	if err == nil {
		evt = log.Info()
	}
	evt.Str("module", "client").Str("host", node.host).Int("code", code).
		Msg("node connection lost; sessions dropped, no automatic reconnect")
}
