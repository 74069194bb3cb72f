// Package discord adapts a discordgo session to the client.Platform contract
// and feeds the session's raw gateway stream into the router.
package discord

import (
	"errors"

	"github.com/bwmarrin/discordgo"

	"github.com/dkeye/discodo/client"
)

var ErrNotReady = errors.New("discord: session has no ready user")

// Bridge wraps an open discordgo session. The session must already be
// connected before the bridge is attached so the bot user is known.
type Bridge struct {
	session *discordgo.Session
}

func NewBridge(session *discordgo.Session) *Bridge {
	return &Bridge{session: session}
}

func (b *Bridge) UserID() string {
	if b.session.State == nil || b.session.State.User == nil {
		return ""
	}
	return b.session.State.User.ID
}

func (b *Bridge) ShardID() int {
	return b.session.ShardID
}

// UpdateVoiceState joins the guild's voice channel, or leaves when channelID
// is empty. Mute and deaf stay off; the node handles audio.
func (b *Bridge) UpdateVoiceState(guildID, channelID string) error {
	return b.session.ChannelVoiceJoinManual(guildID, channelID, false, false)
}

// ResolveGuild reports whether the bot can still see the guild. The state
// cache answers first; a cache miss falls through to the REST API so a stale
// cache does not condemn a live guild.
func (b *Bridge) ResolveGuild(guildID string) bool {
	if guildID == "" {
		return false
	}
	if _, err := b.session.State.Guild(guildID); err == nil {
		return true
	}
	_, err := b.session.Guild(guildID)
	return err == nil
}

func (b *Bridge) ResolveChannel(channelID string) bool {
	if channelID == "" {
		return false
	}
	if _, err := b.session.State.Channel(channelID); err == nil {
		return true
	}
	_, err := b.session.Channel(channelID)
	return err == nil
}

// Attach registers a raw event handler that relays every gateway dispatch to
// the router, which decides per event whether to target one node or all.
// The returned function detaches the handler.
func (b *Bridge) Attach(c *client.Client) (func(), error) {
	if b.UserID() == "" {
		return nil, ErrNotReady
	}
	remove := b.session.AddHandler(func(_ *discordgo.Session, e *discordgo.Event) {
		if e.Type == "" {
			return
		}
		c.DiscordSocketResponse(client.DiscordPayload{
			Type:      e.Type,
			Operation: e.Operation,
			Sequence:  e.Sequence,
			Data:      e.RawData,
		})
	})
	return remove, nil
}
