package gateway

import "encoding/json"

// Payload is one {op, d} frame on the node control channel.
type Payload struct {
	Op string          `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
}

// Operations the connection itself interprets.
const (
	OpHello        = "HELLO"
	OpHeartbeat    = "HEARTBEAT"
	OpHeartbeatACK = "HEARTBEAT_ACK"
)

// Operations handled at node scope.
const (
	OpIdentify     = "IDENTIFY"
	OpResumed      = "RESUMED"
	OpVCCreated    = "VC_CREATED"
	OpVCDestroyed  = "VC_DESTROYED"
	OpDiscordEvent = "DISCORD_EVENT"
	OpGetStatus    = "GET_STATUS"
	OpStatus       = "STATUS"
)

// Guild-scoped commands and events, always stamped with guild_id.
const (
	OpGetState        = "getState"
	OpGetQueue        = "getQueue"
	OpQueueEvent      = "QUEUE_EVENT"
	OpVCChannelEdited = "VC_CHANNEL_EDITED"
	OpVCDestroy       = "VC_DESTROY"
	OpRequestSubtitle = "requestSubtitle"
)
