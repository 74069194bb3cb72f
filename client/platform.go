package client

// Platform is the host-side boundary: everything the router needs from the
// chat platform the bot runs on. The discord package provides the discordgo
// implementation; tests provide fakes.
type Platform interface {
	// UserID is the bot account the nodes identify as.
	UserID() string
	// ShardID of the platform socket, forwarded in IDENTIFY.
	ShardID() int
	// UpdateVoiceState asks the platform to join (non-empty channelID) or
	// leave a guild voice channel. The resulting voice credentials flow back
	// through the raw event stream, not through this call.
	UpdateVoiceState(guildID, channelID string) error
	// ResolveGuild reports whether the guild is known to the platform.
	ResolveGuild(guildID string) bool
	// ResolveChannel reports whether the channel is known to the platform.
	ResolveChannel(channelID string) bool
}
