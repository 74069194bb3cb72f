package client

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/discodo/gateway"
	"github.com/dkeye/discodo/internal/nodetest"
)

func TestNode_IdentifyOnConnect(t *testing.T) {
	srv := nodetest.NewServer(t)
	cl := New(newFakePlatform())

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	node, err := cl.RegisterNode(ctx, NodeOptions{Host: srv.Host(), Port: srv.Port()})
	require.NoError(t, err)
	assert.True(t, node.Connected())

	p := srv.Expect(t, gateway.OpIdentify, testWait)
	var d struct {
		UserID  string `json:"user_id"`
		ShardID int    `json:"shard_id"`
	}
	require.NoError(t, json.Unmarshal(p.D, &d))
	assert.Equal(t, "900000000000000001", d.UserID)
	assert.Zero(t, d.ShardID)
}

func TestNode_ConnectTwice(t *testing.T) {
	_, node, _, _ := newTestClient(t)
	assert.ErrorIs(t, node.Connect(context.Background()), ErrNodeAlreadyConnected)
}

func TestNode_SendNotConnected(t *testing.T) {
	cl := New(newFakePlatform())
	node := newNode(cl, NodeOptions{Host: "localhost", Port: 1})
	assert.ErrorIs(t, node.Send("getState", nil), ErrNodeNotConnected)
}

func TestNode_DiscordDispatchAllowList(t *testing.T) {
	_, node, srv, _ := newTestClient(t)

	require.NoError(t, node.DiscordDispatch(DiscordPayload{
		Type: "VOICE_SERVER_UPDATE",
		Data: json.RawMessage(`{"guild_id":"g1"}`),
	}))
	p := srv.Expect(t, gateway.OpDiscordEvent, testWait)

	var d DiscordPayload
	require.NoError(t, json.Unmarshal(p.D, &d))
	assert.Equal(t, "VOICE_SERVER_UPDATE", d.Type)

	require.NoError(t, node.DiscordDispatch(DiscordPayload{Type: "MESSAGE_CREATE"}))
	srv.ExpectNone(t, gateway.OpDiscordEvent, 100*time.Millisecond)
}

func TestNode_Status(t *testing.T) {
	_, node, srv, _ := newTestClient(t)
	srv.OnOp = func(op string, d json.RawMessage) {
		if op == gateway.OpGetStatus {
			srv.Send(t, gateway.OpStatus, map[string]any{"players": 3})
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	status, err := node.Status(ctx)
	require.NoError(t, err)

	m, ok := status.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, json.Number("3"), m["players"])
}

func TestNode_VCDestroyedStopsSession(t *testing.T) {
	cl, node, srv, platform := newTestClient(t)
	connectGuild(t, cl, srv, platform, "g1", "c1")
	platform.expectUpdate(t)

	srv.Send(t, gateway.OpVCDestroyed, map[string]any{"guild_id": "g1"})

	require.Eventually(t, func() bool {
		_, ok := node.GetVC("g1")
		return !ok
	}, testWait, 10*time.Millisecond)

	// The router releases the platform-side channel too.
	u := platform.expectUpdate(t)
	assert.Equal(t, voiceUpdate{guildID: "g1", channelID: ""}, u)
}

func TestNode_ResumedReconciliation(t *testing.T) {
	cl, node, srv, platform := newTestClient(t)
	connectGuild(t, cl, srv, platform, "g1", "c1")
	platform.expectUpdate(t)
	platform.setOnUpdate(nil)

	// After the resume the node reports g1 still alive and g2 new; g2's
	// guild is no longer visible to the bot.
	platform.mu.Lock()
	platform.badGuilds["g2"] = true
	platform.mu.Unlock()

	srv.Send(t, gateway.OpResumed, map[string]any{
		"voice_clients": map[string]any{
			"g1": map[string]any{"id": "vc-g1b", "channel": "c1"},
			"g2": map[string]any{"id": "vc-g2", "channel": "c2"},
		},
	})

	// g1's channel membership is replayed.
	u := platform.expectUpdate(t)
	assert.Equal(t, voiceUpdate{guildID: "g1", channelID: "c1"}, u)

	// g2 is torn down on the node instead.
	p := srv.Expect(t, gateway.OpVCDestroy, testWait)
	var d struct {
		GuildID string `json:"guild_id"`
	}
	require.NoError(t, json.Unmarshal(p.D, &d))
	assert.Equal(t, "g2", d.GuildID)

	require.Eventually(t, func() bool {
		_, g1 := node.GetVC("g1")
		_, g2 := node.GetVC("g2")
		return g1 && !g2
	}, testWait, 10*time.Millisecond)
}

func TestNode_ClosedDropsSessions(t *testing.T) {
	cl, node, srv, platform := newTestClient(t)
	connectGuild(t, cl, srv, platform, "g1", "c1")
	platform.expectUpdate(t)

	srv.CloseWS()

	require.Eventually(t, func() bool {
		return !node.Connected() && node.registry.Len() == 0
	}, testWait, 10*time.Millisecond)
}
