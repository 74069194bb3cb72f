package client

import (
	"encoding/json"

	"github.com/dkeye/discodo/domain"
)

// DiscordPayload is one raw dispatch frame from the platform socket, in the
// shape the node expects to replay.
type DiscordPayload struct {
	Type      string          `json:"t"`
	Operation int             `json:"op"`
	Sequence  int64           `json:"s,omitempty"`
	Data      json.RawMessage `json:"d"`
}

// guildIDOf extracts the guild id out of a decoded payload. Nodes send ids
// both as strings and as bare snowflake numbers; both normalize to a string.
func guildIDOf(data any) string {
	m, ok := data.(map[string]any)
	if !ok {
		return ""
	}
	return idString(m["guild_id"])
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	}
	return ""
}

func probeGuildID(raw json.RawMessage) string {
	data, err := domain.DecodeValue(raw)
	if err != nil {
		return ""
	}
	return guildIDOf(data)
}

// remoteError promotes a traceback field in a response payload into an error.
func remoteError(data any) error {
	m, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	tb, ok := m["traceback"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(tb))
	for k, v := range tb {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return &RemoteError{Traceback: out}
}

func mapOf(data any) map[string]any {
	m, _ := data.(map[string]any)
	return m
}

func floatOf(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	}
	return 0, false
}

func boolOf(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}
