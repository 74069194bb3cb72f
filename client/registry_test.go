package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testVC(id string) *VoiceClient {
	return &VoiceClient{id: id, guildID: "g1", stopCh: make(chan struct{})}
}

func TestVoiceRegistry_PutDisplaces(t *testing.T) {
	r := newVoiceRegistry()
	old := testVC("old")
	assert.Nil(t, r.Put("g1", old))

	next := testVC("new")
	assert.Same(t, old, r.Put("g1", next))

	got, ok := r.Get("g1")
	assert.True(t, ok)
	assert.Same(t, next, got)
	assert.Equal(t, 1, r.Len())
}

func TestVoiceRegistry_RemoveIdentityGuard(t *testing.T) {
	r := newVoiceRegistry()
	current := testVC("current")
	r.Put("g1", current)

	// A stale teardown must not evict the session that replaced it.
	stale := testVC("stale")
	assert.False(t, r.Remove("g1", stale))
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Remove("g1", current))
	assert.Zero(t, r.Len())
	assert.False(t, r.Remove("g1", current))
}

func TestVoiceRegistry_ReplaceAll(t *testing.T) {
	r := newVoiceRegistry()
	a, b := testVC("a"), testVC("b")
	r.Put("g1", a)
	r.Put("g2", b)

	c := testVC("c")
	old := r.ReplaceAll(map[string]*VoiceClient{"g3": c})
	assert.ElementsMatch(t, []*VoiceClient{a, b}, old)

	_, ok := r.Get("g1")
	assert.False(t, ok)
	got, ok := r.Get("g3")
	assert.True(t, ok)
	assert.Same(t, c, got)

	drained := r.Drain()
	assert.ElementsMatch(t, []*VoiceClient{c}, drained)
	assert.Zero(t, r.Len())
}
