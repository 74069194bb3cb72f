package client

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// voiceRegistry tracks the voice clients owned by one node, keyed by guild
// id. It is the single place guild membership lives; the router reads it,
// never copies it. At most one voice client per guild exists across the whole
// pool; the router's connect path enforces that by destroying a session on
// another node before creating one here.
type voiceRegistry struct {
	mu     sync.RWMutex
	voices map[string]*VoiceClient
}

func newVoiceRegistry() *voiceRegistry {
	return &voiceRegistry{voices: make(map[string]*VoiceClient)}
}

func (r *voiceRegistry) Get(guildID string) (*VoiceClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vc, ok := r.voices[guildID]
	return vc, ok
}

// Put binds a guild to a voice client and returns whatever it displaced.
func (r *voiceRegistry) Put(guildID string, vc *VoiceClient) *VoiceClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.voices[guildID]
	r.voices[guildID] = vc
	log.Info().Str("module", "client.registry").Str("guild", guildID).Str("vc", vc.id).Msg("bound voice client")
	return prev
}

// Remove unbinds a guild only if it is still held by vc, so a stale teardown
// cannot evict a newer session.
func (r *voiceRegistry) Remove(guildID string, vc *VoiceClient) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.voices[guildID]; !ok || cur != vc {
		return false
	}
	delete(r.voices, guildID)
	log.Info().Str("module", "client.registry").Str("guild", guildID).Msg("unbound voice client")
	return true
}

// ReplaceAll swaps the whole registry in one step and returns the previous
// sessions. Reconciliation after RESUMED must be atomic from the router's
// point of view; no caller may observe a half-replaced set.
func (r *voiceRegistry) ReplaceAll(next map[string]*VoiceClient) []*VoiceClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := make([]*VoiceClient, 0, len(r.voices))
	for _, vc := range r.voices {
		old = append(old, vc)
	}
	r.voices = make(map[string]*VoiceClient, len(next))
	for gid, vc := range next {
		r.voices[gid] = vc
	}
	log.Info().Str("module", "client.registry").Int("sessions", len(next)).Msg("replaced registry")
	return old
}

// Drain empties the registry and returns everything it held.
func (r *voiceRegistry) Drain() []*VoiceClient {
	return r.ReplaceAll(nil)
}

func (r *voiceRegistry) Snapshot() map[string]*VoiceClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*VoiceClient, len(r.voices))
	for gid, vc := range r.voices {
		out[gid] = vc
	}
	return out
}

func (r *voiceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.voices)
}
