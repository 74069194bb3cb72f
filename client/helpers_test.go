package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/discodo/gateway"
	"github.com/dkeye/discodo/internal/nodetest"
)

const testWait = 2 * time.Second

type voiceUpdate struct {
	guildID   string
	channelID string
}

// fakePlatform records voice state updates and lets tests script side
// effects, like the node announcing VC_CREATED after a join.
type fakePlatform struct {
	mu          sync.Mutex
	onUpdate    func(guildID, channelID string)
	updateErr   error
	badGuilds   map[string]bool
	badChannels map[string]bool

	updates chan voiceUpdate
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		badGuilds:   map[string]bool{},
		badChannels: map[string]bool{},
		updates:     make(chan voiceUpdate, 32),
	}
}

func (p *fakePlatform) UserID() string { return "900000000000000001" }
func (p *fakePlatform) ShardID() int   { return 0 }

func (p *fakePlatform) UpdateVoiceState(guildID, channelID string) error {
	p.mu.Lock()
	hook, err := p.onUpdate, p.updateErr
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.updates <- voiceUpdate{guildID: guildID, channelID: channelID}
	if hook != nil {
		hook(guildID, channelID)
	}
	return nil
}

func (p *fakePlatform) ResolveGuild(guildID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return guildID != "" && !p.badGuilds[guildID]
}

func (p *fakePlatform) ResolveChannel(channelID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return channelID != "" && !p.badChannels[channelID]
}

func (p *fakePlatform) setOnUpdate(hook func(guildID, channelID string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onUpdate = hook
}

func (p *fakePlatform) expectUpdate(t *testing.T) voiceUpdate {
	t.Helper()
	select {
	case u := <-p.updates:
		return u
	case <-time.After(testWait):
		t.Fatal("timed out waiting for voice state update")
		return voiceUpdate{}
	}
}

// newTestClient stands up a fake node, a client, and one registered node.
func newTestClient(t *testing.T) (*Client, *Node, *nodetest.Server, *fakePlatform) {
	t.Helper()
	srv := nodetest.NewServer(t)
	platform := newFakePlatform()
	cl := New(platform)

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	node, err := cl.RegisterNode(ctx, NodeOptions{Host: srv.Host(), Port: srv.Port()})
	require.NoError(t, err)
	srv.Expect(t, gateway.OpIdentify, testWait)
	return cl, node, srv, platform
}

// connectGuild scripts the join round trip: the voice state update triggers
// the node's VC_CREATED, which resolves the connect.
func connectGuild(t *testing.T, cl *Client, srv *nodetest.Server, platform *fakePlatform, guildID, channelID string) *VoiceClient {
	t.Helper()
	platform.setOnUpdate(func(gid, cid string) {
		if cid != "" {
			srv.Send(t, gateway.OpVCCreated, map[string]any{"id": "vc-" + gid, "guild_id": gid})
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	vc, err := cl.Connect(ctx, guildID, channelID, nil)
	require.NoError(t, err)
	require.Equal(t, guildID, vc.GuildID())
	return vc
}
